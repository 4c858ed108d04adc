package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"chargelog/backend/libs/controllerapi"
	"chargelog/backend/libs/emm"
	"chargelog/backend/services/fleet-sync/internal/collector"
	"chargelog/backend/services/fleet-sync/internal/config"
	httpserver "chargelog/backend/services/fleet-sync/internal/http"
	"chargelog/backend/services/fleet-sync/internal/http/handlers"
	"chargelog/backend/services/fleet-sync/internal/influx"
	"chargelog/backend/services/fleet-sync/internal/settings"
)

// App wires fleet-sync dependencies.
type App struct {
	cfg       *config.Config
	collector *collector.Collector
	syncer    *settings.Syncer
	influx    *influx.Writer
	server    *httpserver.Server
	logger    *zap.Logger
}

// New constructs application components.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	api := controllerapi.NewClient(cfg.ControllerAPIURL(), cfg.ControllerAPI.Timeout)
	a := &App{cfg: cfg, logger: logger}

	fileSink, err := collector.NewFileSink(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	sinks := []collector.NamedSink{{Name: "file", Sink: fileSink}}

	if cfg.EMMEnabled() {
		client := emm.NewClient(cfg.EMM.Host, cfg.EMM.APIKey, logger.Named("emm"))
		sinks = append(sinks, collector.NamedSink{Name: "emm", Sink: collector.NewEMMSink(client)})
		a.syncer = settings.NewSyncer(api, client, logger)
	}

	if cfg.InfluxEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ControllerAPI.Timeout)
		writer, err := influx.NewWriter(ctx, influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		cancel()
		if err != nil {
			return nil, err
		}
		a.influx = writer
		sinks = append(sinks, collector.NamedSink{Name: "influx", Sink: writer})
	}

	a.collector = collector.New(api, sinks, logger)

	if addr := cfg.HTTPAddress(); addr != "" {
		routes := httpserver.Routes{
			Snapshot: handlers.NewSnapshotHandler(a.collector, logger),
			Health:   handlers.NewHealthHandler(),
		}
		a.server = httpserver.NewServer(addr, httpserver.NewRouter(routes), logger)
	}

	logger.Info("fleet sync configured",
		zap.String("controller_api", cfg.ControllerAPIURL()),
		zap.String("snapshot_file", fileSink.Path()),
		zap.Bool("emm", cfg.EMMEnabled()),
		zap.Bool("influx", a.influx != nil),
	)
	return a, nil
}

// Run starts the collector, the settings sync and the HTTP server until ctx is done.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if a.cfg.Collector.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.collector.Run(ctx, a.cfg.Collector.Interval, a.cfg.Collector.Timeout)
		}()
	}
	if a.cfg.Settings.Enabled && a.syncer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.syncer.Run(ctx, a.cfg.Settings.Interval, a.cfg.Settings.Timeout)
		}()
	}
	defer wg.Wait()

	if a.server == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := a.server.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

// Close releases resources.
func (a *App) Close() {
	if a.influx != nil {
		a.influx.Close()
	}
}
