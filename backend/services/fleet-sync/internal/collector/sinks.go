package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"chargelog/backend/services/fleet-sync/internal/models"
)

// SnapshotFileName is written inside the data directory.
const SnapshotFileName = "controller_data.json"

// FileSink replaces <dataDir>/controller_data.json with every snapshot.
type FileSink struct {
	path string
}

// NewFileSink creates dataDir when missing.
func NewFileSink(dataDir string) (*FileSink, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileSink{path: filepath.Join(dataDir, SnapshotFileName)}, nil
}

// Path returns the snapshot file location.
func (s *FileSink) Path() string {
	return s.path
}

// Publish implements Sink. Readers never observe a partially written file.
func (s *FileSink) Publish(_ context.Context, collection models.Collection) error {
	data, err := json.Marshal(collection.Snapshot)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".controller_data-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// ControllerDataUploader posts snapshots to the fleet backend.
type ControllerDataUploader interface {
	PostControllerData(ctx context.Context, snapshot interface{}) error
}

// EMMSink uploads every snapshot to /api/public/controller-data.
type EMMSink struct {
	client ControllerDataUploader
}

// NewEMMSink wraps the fleet backend client.
func NewEMMSink(client ControllerDataUploader) *EMMSink {
	return &EMMSink{client: client}
}

// Publish implements Sink.
func (s *EMMSink) Publish(ctx context.Context, collection models.Collection) error {
	return s.client.PostControllerData(ctx, collection.Snapshot)
}
