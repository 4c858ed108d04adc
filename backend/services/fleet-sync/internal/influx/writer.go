package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"chargelog/backend/services/fleet-sync/internal/models"
)

// Measurement holds one point per controller and collection.
const Measurement = "charging_controller"

// PointWriter is satisfied by api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Config selects the bucket written to.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Writer stores controller snapshots as time series.
type Writer struct {
	client influxdb2.Client
	points PointWriter
}

// NewWriter connects and verifies the server is healthy.
func NewWriter(ctx context.Context, cfg Config) (*Writer, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx health status %q", health.Status)
	}
	return &Writer{
		client: client,
		points: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// NewWriterWith wraps an existing point writer.
func NewWriterWith(points PointWriter) *Writer {
	return &Writer{points: points}
}

// Publish writes every controller of the collection.
func (w *Writer) Publish(ctx context.Context, collection models.Collection) error {
	points := Points(collection)
	if len(points) == 0 {
		return nil
	}
	return w.points.WritePoint(ctx, points...)
}

// Close releases the client.
func (w *Writer) Close() {
	if w.client != nil {
		w.client.Close()
	}
}

// Points converts a collection into points tagged by controller and charging point.
func Points(collection models.Collection) []*write.Point {
	points := make([]*write.Point, 0, len(collection.Snapshot))
	for uid, ctrl := range collection.Snapshot {
		fields := map[string]interface{}{
			"connected": ctrl.ChargingData.String(models.KeyConnectedState) == models.Connected,
		}
		if wh, ok := ctrl.ChargingData.RealPowerWh(); ok {
			fields["energy_real_power_wh"] = wh
		}
		if sec, ok := ctrl.ChargingData.Seconds(models.KeyConnectedTimeSec); ok {
			fields[models.KeyConnectedTimeSec] = sec
		}
		if sec, ok := ctrl.ChargingData.Seconds(models.KeyChargeTimeSec); ok {
			fields[models.KeyChargeTimeSec] = sec
		}
		points = append(points, write.NewPoint(Measurement, tags(uid, ctrl), fields, collection.TakenAt))
	}
	return points
}

func tags(uid string, ctrl models.ControllerSnapshot) map[string]string {
	out := map[string]string{"device_uid": uid}
	for key, value := range map[string]string{
		"charging_point_id":   ctrl.ChargingPointID,
		"charging_point_name": ctrl.ChargingPointName,
		models.KeyIECState:    ctrl.ChargingData.String(models.KeyIECState),
	} {
		if value != "" {
			out[key] = value
		}
	}
	return out
}
