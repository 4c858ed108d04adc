package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargelog/backend/libs/controllerapi"
	"chargelog/backend/services/fleet-sync/internal/models"
)

// ErrNoSnapshot is returned by Latest before the first successful collection.
var ErrNoSnapshot = errors.New("collector: no snapshot yet")

// ControllerAPI is the subset of the controller REST client used for collection.
type ControllerAPI interface {
	Controllers(ctx context.Context) (map[string]controllerapi.Controller, error)
	ChargingPoints(ctx context.Context) ([]controllerapi.ChargingPoint, error)
	DataParam(ctx context.Context, deviceUID, param string) (json.RawMessage, error)
}

// Sink receives every collected snapshot.
type Sink interface {
	Publish(ctx context.Context, collection models.Collection) error
}

// NamedSink labels a sink in logs.
type NamedSink struct {
	Name string
	Sink
}

// Collector polls the controller API and publishes controller snapshots.
type Collector struct {
	api    ControllerAPI
	sinks  []NamedSink
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	latest *models.Collection
}

// New builds collector.
func New(api ControllerAPI, sinks []NamedSink, logger *zap.Logger) *Collector {
	return &Collector{
		api:    api,
		sinks:  sinks,
		logger: logger.Named("collector"),
		now:    time.Now,
	}
}

// Run collects once immediately and then on every tick until ctx is done.
func (c *Collector) Run(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.tick(ctx, timeout)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Collector) tick(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := c.CollectAndPublish(ctx); err != nil {
		c.logger.Error("collection failed", zap.Error(err))
	}
}

// CollectAndPublish takes a snapshot and hands it to every sink. Sink failures are logged
// and do not stop the remaining sinks.
func (c *Collector) CollectAndPublish(ctx context.Context) (models.Collection, error) {
	snapshot, err := c.Collect(ctx)
	if err != nil {
		return models.Collection{}, err
	}
	collection := models.Collection{TakenAt: c.now().UTC(), Snapshot: snapshot}

	c.mu.Lock()
	c.latest = &collection
	c.mu.Unlock()

	for _, sink := range c.sinks {
		if err := sink.Publish(ctx, collection); err != nil {
			c.logger.Warn("snapshot publish failed", zap.String("sink", sink.Name), zap.Error(err))
		}
	}
	return collection, nil
}

// Collect reads every controller. A controller whose data cannot be read is left out.
func (c *Collector) Collect(ctx context.Context) (models.Snapshot, error) {
	controllers, err := c.api.Controllers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list controllers: %w", err)
	}
	points, err := c.api.ChargingPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list charging points: %w", err)
	}
	byController := make(map[string]controllerapi.ChargingPoint, len(points))
	for _, p := range points {
		byController[p.ControllerUID] = p
	}

	uids := make([]string, 0, len(controllers))
	for uid := range controllers {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	snapshot := make(models.Snapshot, len(uids))
	for _, uid := range uids {
		data, err := c.chargingData(ctx, uid)
		if err != nil {
			c.logger.Warn("controller skipped", zap.String("device_uid", uid), zap.Error(err))
			continue
		}
		ctrl := controllers[uid]
		point := byController[uid]
		snapshot[uid] = models.ControllerSnapshot{
			DeviceName:        ctrl.Field("device_name"),
			ControllerUID:     ctrl.Field("device_uid"),
			FirmwareVersion:   ctrl.Field("firmware_version"),
			HardwareVersion:   ctrl.Field("hardware_version"),
			ParentDeviceUID:   ctrl.Field("parent_device_uid"),
			Position:          ctrl.Field("position"),
			ChargingPointID:   point.ID,
			ChargingPointName: point.Name,
			ChargingData:      data,
		}
	}
	return snapshot, nil
}

func (c *Collector) chargingData(ctx context.Context, uid string) (models.ChargingData, error) {
	data := models.ChargingData{}
	if err := c.param(ctx, uid, "energy", &data); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.New("energy is null")
	}

	var state string
	if err := c.param(ctx, uid, models.KeyIECState, &state); err != nil {
		return nil, err
	}
	data[models.KeyIECState] = state
	if controllerapi.VehicleConnected(state) {
		data[models.KeyConnectedState] = models.Connected
	} else {
		data[models.KeyConnectedState] = models.Disconnected
	}

	for _, key := range []string{models.KeyConnectedTimeSec, models.KeyChargeTimeSec} {
		var value interface{}
		if err := c.param(ctx, uid, key, &value); err != nil {
			return nil, err
		}
		data[key] = value
	}
	return data, nil
}

func (c *Collector) param(ctx context.Context, uid, name string, out interface{}) error {
	raw, err := c.api.DataParam(ctx, uid, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// Latest returns the last published collection.
func (c *Collector) Latest() (models.Collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return models.Collection{}, ErrNoSnapshot
	}
	return *c.latest, nil
}
