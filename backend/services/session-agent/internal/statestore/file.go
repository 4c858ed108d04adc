package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"chargelog/backend/services/session-agent/internal/models"
)

const stateDirName = ".device_states"

// ErrInvalidDevice is returned for device uids that cannot name a marker file.
var ErrInvalidDevice = errors.New("statestore: invalid device uid")

// FileStore keeps one marker file per device under <dataDir>/.device_states.
type FileStore struct {
	dir string
}

// NewFileStore creates the state directory when missing.
func NewFileStore(dataDir string) (*FileStore, error) {
	dir := filepath.Join(dataDir, stateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Get returns the stored state; a missing file means Unknown.
func (s *FileStore) Get(_ context.Context, deviceUID string) (models.State, error) {
	path, err := s.path(deviceUID)
	if err != nil {
		return models.StateUnknown, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.StateUnknown, nil
		}
		return models.StateUnknown, fmt.Errorf("statestore: read %s: %w", deviceUID, err)
	}
	return models.ParseState(string(data)), nil
}

// Set replaces the marker through a synced temp file so a crash never leaves it half written.
func (s *FileStore) Set(_ context.Context, deviceUID string, state models.State) error {
	path, err := s.path(deviceUID)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("statestore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(state.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("statestore: write %s: %w", deviceUID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("statestore: sync %s: %w", deviceUID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("statestore: close %s: %w", deviceUID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("statestore: rename %s: %w", deviceUID, err)
	}
	return nil
}

func (s *FileStore) path(deviceUID string) (string, error) {
	if deviceUID == "" || deviceUID == "." || deviceUID == ".." || strings.ContainsAny(deviceUID, `/\`+"\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDevice, deviceUID)
	}
	return filepath.Join(s.dir, deviceUID+".state"), nil
}
