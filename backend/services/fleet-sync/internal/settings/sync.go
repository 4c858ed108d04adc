package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"chargelog/backend/libs/controllerapi"
)

// successKey is returned by the fleet backend when the charger is known but has no pending
// settings.
const successKey = "success"

// ControllerAPI is the subset of the controller REST client used for settings sync.
type ControllerAPI interface {
	Controllers(ctx context.Context) (map[string]controllerapi.Controller, error)
	FindChargingPoint(ctx context.Context, deviceUID string) (controllerapi.ChargingPoint, error)
	PointConfig(ctx context.Context, pointID string) (controllerapi.PointConfig, error)
	UpdatePointConfig(ctx context.Context, pointID string, settings map[string]any) error
}

// Backend is the settings surface of the fleet backend.
type Backend interface {
	ControllerSettings(ctx context.Context) (map[string]json.RawMessage, error)
	AckControllerSettings(ctx context.Context, applied map[string]interface{}) error
	PutControllerSettings(ctx context.Context, deviceUID string, settings map[string]interface{}) error
}

// Pending is the settings document the fleet backend holds for one controller.
type Pending struct {
	ChargingPointID json.RawMessage `json:"chargingPointId"`
	Settings        struct {
		ChargingPointName     *string  `json:"chargingPointName"`
		Location              *string  `json:"location"`
		MinimumChargeCurrent  *float64 `json:"minimumChargeCurrent"`
		MaximumChargeCurrent  *float64 `json:"maximumChargeCurrent"`
		FallbackChargeCurrent *float64 `json:"fallbackChargeCurrent"`
	} `json:"settings"`
}

// PointID returns the charging point id as a string; the backend sends numbers or strings.
func (p Pending) PointID() (string, error) {
	if len(p.ChargingPointID) == 0 || string(p.ChargingPointID) == "null" {
		return "", errors.New("missing chargingPointId")
	}
	var s string
	if err := json.Unmarshal(p.ChargingPointID, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(p.ChargingPointID, &n); err != nil {
		return "", fmt.Errorf("chargingPointId: %w", err)
	}
	return n.String(), nil
}

// ControllerConfig converts the non-null settings to charging point config keys.
func (p Pending) ControllerConfig() map[string]any {
	out := map[string]any{}
	if v := p.Settings.ChargingPointName; v != nil {
		out["charging_point_name"] = *v
	}
	if v := p.Settings.Location; v != nil {
		out["location"] = *v
	}
	if v := p.Settings.MinimumChargeCurrent; v != nil {
		out["minimum_charge_current"] = *v
	}
	if v := p.Settings.MaximumChargeCurrent; v != nil {
		out["maximum_charge_current"] = *v
	}
	if v := p.Settings.FallbackChargeCurrent; v != nil {
		out["fallback_charge_current"] = *v
	}
	return out
}

// Syncer keeps charging point configuration and the fleet backend in step.
type Syncer struct {
	api     ControllerAPI
	backend Backend
	logger  *zap.Logger
}

// NewSyncer builds syncer.
func NewSyncer(api ControllerAPI, backend Backend, logger *zap.Logger) *Syncer {
	return &Syncer{
		api:     api,
		backend: backend,
		logger:  logger.Named("settings"),
	}
}

// Run applies and pushes settings immediately and then on every tick until ctx is done.
func (s *Syncer) Run(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.tick(ctx, timeout)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Syncer) tick(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Apply(ctx); err != nil {
		s.logger.Error("apply settings failed", zap.Error(err))
	}
	if err := s.Push(ctx); err != nil {
		s.logger.Error("push settings failed", zap.Error(err))
	}
}

// Apply writes pending backend settings to the local charging points and acknowledges each
// applied controller.
func (s *Syncer) Apply(ctx context.Context) error {
	controllers, err := s.api.Controllers(ctx)
	if err != nil {
		return fmt.Errorf("list controllers: %w", err)
	}
	pending, err := s.backend.ControllerSettings(ctx)
	if err != nil {
		return fmt.Errorf("fetch settings: %w", err)
	}

	var errs []error
	for _, uid := range sortedKeys(pending) {
		if _, ok := controllers[uid]; !ok {
			if uid != successKey {
				s.logger.Error("controller id from backend not found", zap.String("device_uid", uid))
			}
			continue
		}
		if err := s.applyOne(ctx, uid, pending[uid]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Syncer) applyOne(ctx context.Context, uid string, raw json.RawMessage) error {
	var p Pending
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	cfg := p.ControllerConfig()
	if len(cfg) == 0 {
		s.logger.Debug("no settings to apply", zap.String("device_uid", uid))
		return nil
	}
	pointID, err := p.PointID()
	if err != nil {
		return err
	}
	if err := s.api.UpdatePointConfig(ctx, pointID, cfg); err != nil {
		return fmt.Errorf("update point %s: %w", pointID, err)
	}
	if err := s.backend.AckControllerSettings(ctx, map[string]interface{}{"deviceUid": uid}); err != nil {
		return fmt.Errorf("acknowledge: %w", err)
	}
	s.logger.Info("settings applied",
		zap.String("device_uid", uid),
		zap.String("charging_point_id", pointID),
		zap.Int("keys", len(cfg)),
	)
	return nil
}

// Push uploads the current configuration of every local charging point to the backend.
func (s *Syncer) Push(ctx context.Context) error {
	controllers, err := s.api.Controllers(ctx)
	if err != nil {
		return fmt.Errorf("list controllers: %w", err)
	}

	var errs []error
	for _, uid := range sortedKeys(controllers) {
		point, err := s.api.FindChargingPoint(ctx, uid)
		if err != nil {
			s.logger.Error("charging point not found", zap.String("device_uid", uid), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", uid, err))
			continue
		}
		cfg, err := s.api.PointConfig(ctx, point.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: read config: %w", uid, err))
			continue
		}
		if err := s.backend.PutControllerSettings(ctx, uid, cfg.Raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: upload config: %w", uid, err))
		}
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
