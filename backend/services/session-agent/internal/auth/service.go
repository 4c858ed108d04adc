package auth

import (
	"crypto/subtle"
	"errors"
	"time"
)

// RoleAdmin is the only role the agent issues.
const RoleAdmin = "admin"

// ErrInvalidCredentials is returned for unknown users and wrong passwords alike.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Service checks the configured operator account and issues tokens.
type Service struct {
	username     string
	passwordHash string
	hasher       *BcryptHasher
	tokens       *TokenService
}

// NewService builds service. An empty password hash disables login.
func NewService(username, passwordHash string, hasher *BcryptHasher, tokens *TokenService) *Service {
	return &Service{
		username:     username,
		passwordHash: passwordHash,
		hasher:       hasher,
		tokens:       tokens,
	}
}

// Login verifies credentials and returns a signed token with its expiry.
func (s *Service) Login(username, password string) (string, time.Time, error) {
	if s.passwordHash == "" {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) != 1 {
		return "", time.Time{}, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(s.passwordHash, password); err != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return s.tokens.GenerateToken(username, RoleAdmin)
}

// Validate returns the claims of a bearer token.
func (s *Service) Validate(token string) (*Claims, error) {
	return s.tokens.ValidateToken(token)
}
