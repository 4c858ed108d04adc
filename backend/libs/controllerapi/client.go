package controllerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	defaultTimeout = 5 * time.Second
	apiPrefix      = "/api/v1.0"
	maxBodyBytes   = 4 << 20
)

var (
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("controllerapi: unexpected status")
	// ErrMalformedBody is returned when a response cannot be decoded into the expected shape.
	ErrMalformedBody = errors.New("controllerapi: malformed body")
	// ErrPointNotFound is returned when no charging point is bound to a controller.
	ErrPointNotFound = errors.New("controllerapi: charging point not found")
)

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the REST API of the local charging controller.
type Client struct {
	baseURL string
	client  HTTPDoer
	timeout time.Duration
}

// NewClient builds a client for http://host:port. Every call is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewClientWithDoer(baseURL, &http.Client{Timeout: timeout}, timeout)
}

// NewClientWithDoer builds client with a custom transport.
func NewClientWithDoer(baseURL string, doer HTTPDoer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  doer,
		timeout: timeout,
	}
}

// Energy returns the current meter reading of a controller.
func (c *Client) Energy(ctx context.Context, deviceUID string) (EnergyReading, error) {
	var resp energyResponse
	if err := c.get(ctx, dataPath(deviceUID, "energy"), &resp); err != nil {
		return EnergyReading{}, err
	}
	return resp.reading()
}

// RFID returns the last badge read of an RFID reader device.
func (c *Client) RFID(ctx context.Context, readerUID string) (RFIDReading, error) {
	var resp rfidResponse
	if err := c.get(ctx, dataPath(readerUID, "rfid"), &resp); err != nil {
		return RFIDReading{}, err
	}
	return resp.reading()
}

// DataParam returns a single raw data parameter (iec_61851_state, connected_time_sec, ...).
func (c *Client) DataParam(ctx context.Context, deviceUID, param string) (json.RawMessage, error) {
	var resp map[string]json.RawMessage
	if err := c.get(ctx, dataPath(deviceUID, param), &resp); err != nil {
		return nil, err
	}
	value, ok := resp[param]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedBody, param)
	}
	return value, nil
}

// ChargingPoints lists charging points ordered by id.
func (c *Client) ChargingPoints(ctx context.Context) ([]ChargingPoint, error) {
	var resp chargingPointsResponse
	if err := c.get(ctx, "/charging-points", &resp); err != nil {
		return nil, err
	}
	if resp.ChargingPoints == nil {
		return nil, fmt.Errorf("%w: missing charging_points", ErrMalformedBody)
	}
	points := make([]ChargingPoint, 0, len(resp.ChargingPoints))
	for _, p := range resp.ChargingPoints {
		points = append(points, ChargingPoint{
			ID:            string(p.ID),
			Name:          p.Name,
			ControllerUID: p.ControllerUID,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })
	return points, nil
}

// FindChargingPoint returns the charging point bound to a controller.
func (c *Client) FindChargingPoint(ctx context.Context, deviceUID string) (ChargingPoint, error) {
	points, err := c.ChargingPoints(ctx)
	if err != nil {
		return ChargingPoint{}, err
	}
	for _, p := range points {
		if p.ControllerUID == deviceUID {
			return p, nil
		}
	}
	return ChargingPoint{}, fmt.Errorf("%w: controller %s", ErrPointNotFound, deviceUID)
}

// PointConfig returns the configuration of a charging point.
func (c *Client) PointConfig(ctx context.Context, pointID string) (PointConfig, error) {
	var raw map[string]any
	if err := c.get(ctx, "/charging-points/"+url.PathEscape(pointID)+"/config", &raw); err != nil {
		return PointConfig{}, err
	}
	if raw == nil {
		return PointConfig{}, fmt.Errorf("%w: empty point config", ErrMalformedBody)
	}
	cfg := PointConfig{Raw: raw}
	if reader, ok := raw["rfid_reader_device_uid"].(string); ok {
		cfg.RFIDReaderDeviceUID = strings.TrimSpace(reader)
	}
	return cfg, nil
}

// UpdatePointConfig writes settings to a charging point.
func (c *Client) UpdatePointConfig(ctx context.Context, pointID string, settings map[string]any) error {
	return c.do(ctx, http.MethodPut, "/charging-points/"+url.PathEscape(pointID)+"/config", settings, nil)
}

// Controllers lists charging controllers keyed by device uid.
func (c *Client) Controllers(ctx context.Context) (map[string]Controller, error) {
	var raw map[string]map[string]any
	if err := c.get(ctx, "/charging-controllers", &raw); err != nil {
		return nil, err
	}
	out := make(map[string]Controller, len(raw))
	for uid, fields := range raw {
		out[uid] = Controller{DeviceUID: uid, Fields: fields}
	}
	return out, nil
}

func dataPath(deviceUID, param string) string {
	return fmt.Sprintf("/charging-controllers/%s/data?param_list=%s", url.PathEscape(deviceUID), url.QueryEscape(param))
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("controllerapi: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedBody, method, path, err)
	}
	return nil
}
