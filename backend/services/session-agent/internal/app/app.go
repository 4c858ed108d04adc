package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chargelog/backend/libs/controllerapi"
	"chargelog/backend/libs/db"
	"chargelog/backend/libs/emm"
	libredis "chargelog/backend/libs/redis"
	"chargelog/backend/services/session-agent/internal/auth"
	"chargelog/backend/services/session-agent/internal/config"
	"chargelog/backend/services/session-agent/internal/events"
	"chargelog/backend/services/session-agent/internal/forward"
	httpserver "chargelog/backend/services/session-agent/internal/http"
	"chargelog/backend/services/session-agent/internal/http/handlers"
	"chargelog/backend/services/session-agent/internal/http/middleware"
	"chargelog/backend/services/session-agent/internal/recordstore"
	"chargelog/backend/services/session-agent/internal/service"
	"chargelog/backend/services/session-agent/internal/statestore"
)

// App wires session-agent dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	reconciler *service.Reconciler
	states     service.StateStore
	records    service.RecordStore
	queue      *forward.Queue
	hub        *forward.Hub
	kafka      *forward.Kafka
	server     *httpserver.Server

	db          *sql.DB
	redisClient *redis.Client
}

// New constructs the application graph. Connections to the broker are opened by Run.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	ctx := context.Background()

	if err := a.initStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	api := controllerapi.NewClient(cfg.ControllerAPIURL(), cfg.ControllerAPI.Timeout)

	a.hub = forward.NewHub(0, logger)
	sinks := forward.Fanout{{Name: "stream", Forwarder: a.hub}}

	emmClient := emm.NewClient(cfg.EMM.Host, cfg.EMM.APIKey, logger.Named("emm"))
	if emmClient.Enabled() {
		sinks = append(sinks, forward.Named{Name: "emm", Forwarder: forward.NewEMM(emmClient)})
	}
	if len(cfg.Kafka.Brokers) > 0 {
		a.kafka = forward.NewKafka(forward.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		sinks = append(sinks, forward.Named{Name: "kafka", Forwarder: a.kafka})
	}
	a.queue = forward.NewQueue(sinks, cfg.Agent.ForwardQueueSize, cfg.Agent.ForwardTimeout, logger)

	a.reconciler = service.NewReconciler(api, a.states, a.records, a.queue, logger)

	if addr := cfg.HTTPAddress(); addr != "" {
		a.server = httpserver.NewServer(addr, a.router(), logger)
	}

	logger.Info("session agent configured",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("state", cfg.State.Backend),
		zap.String("controller_api", cfg.ControllerAPIURL()),
		zap.Bool("emm", emmClient.Enabled()),
		zap.Bool("kafka", a.kafka != nil),
	)
	return a, nil
}

func (a *App) initStores(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Storage.Backend {
	case config.BackendPostgres, config.BackendSQLite:
		dialect, err := db.ParseDialect(cfg.Storage.Backend)
		if err != nil {
			return err
		}
		if dialect == db.Postgres {
			a.db, err = db.NewPostgresDB(cfg.Storage.PostgresDSN)
		} else {
			a.db, err = db.NewSQLiteDB(cfg.Storage.SQLitePath)
		}
		if err != nil {
			return fmt.Errorf("open %s: %w", cfg.Storage.Backend, err)
		}
		records, err := recordstore.NewSQLStore(ctx, a.db, dialect)
		if err != nil {
			return err
		}
		a.records = records
		if cfg.State.Backend == config.StateSQL {
			states, err := statestore.NewSQLStore(ctx, a.db, dialect)
			if err != nil {
				return err
			}
			a.states = states
		}
	default:
		records, err := recordstore.NewCSVStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		a.records = records
	}

	switch cfg.State.Backend {
	case config.StateRedis:
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.redisClient = client
		a.states = statestore.NewRedisStore(client)
	case config.StateFile:
		states, err := statestore.NewFileStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		a.states = states
	}
	return nil
}

func (a *App) router() http.Handler {
	cfg := a.cfg
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		a.logger.Warn("jwt secret not set, tokens will not survive a restart")
	}
	authService := auth.NewService(
		cfg.Auth.AdminUser,
		cfg.Auth.AdminPasswordHash,
		auth.NewBcryptHasher(bcrypt.DefaultCost),
		auth.NewTokenService(secret, cfg.Auth.TokenTTL),
	)
	if cfg.Auth.AdminPasswordHash == "" {
		a.logger.Warn("admin password hash not set, status api login disabled")
	}

	routes := httpserver.Routes{
		Health:       handlers.NewHealthHandler(),
		Token:        handlers.NewTokenHandler(authService, a.logger),
		Sessions:     handlers.NewSessionsHandler(a.records, a.logger),
		OpenSessions: handlers.NewOpenSessionsHandler(a.records, a.logger),
		DeviceState:  handlers.NewDeviceStateHandler(a.states, a.logger),
		Stream:       a.hub,
	}
	return httpserver.NewRouter(routes, middleware.AuthMiddleware(authService))
}

// Run restores state, subscribes to the broker and serves the status API until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Agent.RecoverOnStart {
		if err := a.reconciler.Recover(ctx); err != nil {
			return fmt.Errorf("recover: %w", err)
		}
	}

	dispatcher := service.NewDispatcher(ctx, a.reconciler, a.cfg.Agent.DeviceQueueSize, a.logger)
	defer dispatcher.Wait()

	subscriber := events.NewSubscriber(events.Options{
		Broker:   a.cfg.MQTT.Broker,
		ClientID: a.cfg.MQTT.ClientID,
		Username: a.cfg.MQTT.Username,
		Password: a.cfg.MQTT.Password,
		QoS:      a.cfg.MQTTQoS(),
	}, dispatcher, a.logger)
	if err := subscriber.Start(ctx); err != nil {
		return err
	}
	defer subscriber.Close()

	if a.server == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := a.server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// Close releases resources.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
