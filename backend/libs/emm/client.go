package emm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const publicPrefix = "/api/public"

// ErrUnexpectedStatus is returned when the fleet backend answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("emm: unexpected status")

// Client talks to the public API of the energy management backend.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient returns HTTP client wrapper. An empty baseURL disables every call.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Enabled reports whether a backend host is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// PostChargingSession uploads a session record.
func (c *Client) PostChargingSession(ctx context.Context, record interface{}) error {
	if !c.Enabled() {
		c.logger.Debug("emm client disabled, skip session upload")
		return nil
	}
	return c.do(ctx, http.MethodPost, "/charging-session", record, nil)
}

// PostControllerData uploads a controller snapshot.
func (c *Client) PostControllerData(ctx context.Context, snapshot interface{}) error {
	if !c.Enabled() {
		c.logger.Debug("emm client disabled, skip controller data upload")
		return nil
	}
	return c.do(ctx, http.MethodPost, "/controller-data", snapshot, nil)
}

// ControllerSettings fetches pending settings keyed by controller device uid.
func (c *Client) ControllerSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	if !c.Enabled() {
		return nil, nil
	}
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/controller-settings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AckControllerSettings confirms that settings were applied locally.
func (c *Client) AckControllerSettings(ctx context.Context, applied map[string]interface{}) error {
	if !c.Enabled() {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/controller-settings", applied, nil)
}

// PutControllerSettings pushes the current local configuration of one controller.
func (c *Client) PutControllerSettings(ctx context.Context, deviceUID string, settings map[string]interface{}) error {
	if !c.Enabled() {
		return nil
	}
	return c.do(ctx, http.MethodPut, "/controller-settings/"+url.PathEscape(deviceUID), settings, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+publicPrefix+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("emm request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("emm returned non-success",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("emm: decode %s: %w", path, err)
	}
	return nil
}
