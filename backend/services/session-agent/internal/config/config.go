package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	libconfig "chargelog/backend/libs/config"
	"chargelog/backend/libs/logging"
)

// Storage backends.
const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// State backends.
const (
	StateFile  = "file"
	StateRedis = "redis"
	StateSQL   = "sql"
)

// Config defines session agent configuration.
type Config struct {
	Log           logging.Options     `yaml:"log"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	ControllerAPI ControllerAPIConfig `yaml:"controllerApi"`
	Storage       StorageConfig       `yaml:"storage"`
	State         StateConfig         `yaml:"state"`
	Redis         RedisConfig         `yaml:"redis"`
	EMM           EMMConfig           `yaml:"emm"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	HTTP          HTTPConfig          `yaml:"http"`
	Auth          AuthConfig          `yaml:"auth"`
	Agent         AgentConfig         `yaml:"agent"`
}

// MQTTConfig describes the broker carrying controller state messages.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"AGENT_MQTT_BROKER"`
	ClientID string `yaml:"clientId" env:"AGENT_MQTT_CLIENT_ID"`
	Username string `yaml:"username" env:"AGENT_MQTT_USERNAME"`
	Password string `yaml:"password" env:"AGENT_MQTT_PASSWORD"`
	QoS      int    `yaml:"qos" env:"AGENT_MQTT_QOS"`
}

// ControllerAPIConfig points at the controller REST API.
type ControllerAPIConfig struct {
	Host    string        `yaml:"host" env:"AGENT_API_HOST"`
	Port    string        `yaml:"port" env:"AGENT_API_PORT"`
	Timeout time.Duration `yaml:"timeout" env:"AGENT_API_TIMEOUT"`
}

// StorageConfig selects where session records live.
type StorageConfig struct {
	Backend     string `yaml:"backend" env:"AGENT_STORAGE_BACKEND"`
	DataDir     string `yaml:"dataDir" env:"AGENT_DATA_DIR"`
	PostgresDSN string `yaml:"postgresDsn" env:"AGENT_POSTGRES_DSN"`
	SQLitePath  string `yaml:"sqlitePath" env:"AGENT_SQLITE_PATH"`
}

// StateConfig selects where device states live.
type StateConfig struct {
	Backend string `yaml:"backend" env:"AGENT_STATE_BACKEND"`
}

// RedisConfig is used by the redis state backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"AGENT_REDIS_ADDR"`
	Password string `yaml:"password" env:"AGENT_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"AGENT_REDIS_DB"`
}

// EMMConfig enables uploads to the fleet backend when Host is set.
type EMMConfig struct {
	Host   string `yaml:"host" env:"AGENT_EMM_HOST"`
	APIKey string `yaml:"apiKey" env:"AGENT_EMM_API_KEY"`
}

// KafkaConfig enables the Kafka forwarder when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"AGENT_KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" env:"AGENT_KAFKA_TOPIC"`
}

// HTTPConfig configures the status API; an empty port disables it.
type HTTPConfig struct {
	Port string `yaml:"port" env:"AGENT_HTTP_PORT"`
}

// AuthConfig protects the status API.
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwtSecret" env:"AGENT_JWT_SECRET"`
	TokenTTL          time.Duration `yaml:"tokenTtl" env:"AGENT_TOKEN_TTL"`
	AdminUser         string        `yaml:"adminUser" env:"AGENT_ADMIN_USER"`
	AdminPasswordHash string        `yaml:"adminPasswordHash" env:"AGENT_ADMIN_PASSWORD_HASH"`
}

// AgentConfig tunes event processing.
type AgentConfig struct {
	RecoverOnStart   bool          `yaml:"recoverOnStart" env:"AGENT_RECOVER_ON_START"`
	DeviceQueueSize  int           `yaml:"deviceQueueSize" env:"AGENT_DEVICE_QUEUE_SIZE"`
	ForwardQueueSize int           `yaml:"forwardQueueSize" env:"AGENT_FORWARD_QUEUE_SIZE"`
	ForwardTimeout   time.Duration `yaml:"forwardTimeout" env:"AGENT_FORWARD_TIMEOUT"`
}

func defaults() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: "tcp://localhost:1883",
			QoS:    1,
		},
		ControllerAPI: ControllerAPIConfig{
			Host:    "localhost",
			Port:    "80",
			Timeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    BackendCSV,
			DataDir:    "data",
			SQLitePath: "data/charging_data.db",
		},
		State: StateConfig{Backend: StateFile},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Kafka: KafkaConfig{Topic: "charging-sessions"},
		HTTP:  HTTPConfig{Port: "8090"},
		Auth: AuthConfig{
			TokenTTL:  12 * time.Hour,
			AdminUser: "admin",
		},
		Agent: AgentConfig{
			RecoverOnStart:   true,
			DeviceQueueSize:  16,
			ForwardQueueSize: 256,
			ForwardTimeout:   10 * time.Second,
		},
	}
}

// Load reads configuration via shared helper.
func Load() (*Config, error) {
	cfg := defaults()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend combinations and required fields.
func (c *Config) Validate() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))

	if strings.TrimSpace(c.MQTT.Broker) == "" {
		return errors.New("config: mqtt broker required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if strings.TrimSpace(c.ControllerAPI.Host) == "" {
		return errors.New("config: controller api host required")
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return errors.New("config: data dir required")
	}

	switch c.Storage.Backend {
	case BackendCSV:
	case BackendPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return errors.New("config: postgres dsn required for postgres storage")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" {
			return errors.New("config: sqlite path required for sqlite storage")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	switch c.State.Backend {
	case StateFile:
	case StateRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis addr required for redis state")
		}
	case StateSQL:
		if !c.UsesSQL() {
			return errors.New("config: sql state requires postgres or sqlite storage")
		}
	default:
		return fmt.Errorf("config: unknown state backend %q", c.State.Backend)
	}
	return nil
}

// UsesSQL reports whether records live in a SQL database.
func (c *Config) UsesSQL() bool {
	return c.Storage.Backend == BackendPostgres || c.Storage.Backend == BackendSQLite
}

// ControllerAPIURL returns http://host:port.
func (c *Config) ControllerAPIURL() string {
	host := strings.TrimSpace(c.ControllerAPI.Host)
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		host = strings.TrimRight(host, "/")
		if c.ControllerAPI.Port == "" {
			return host
		}
		return host + ":" + c.ControllerAPI.Port
	}
	if c.ControllerAPI.Port == "" {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, c.ControllerAPI.Port)
}

// HTTPAddress returns :port style, empty when the status API is disabled.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		return ""
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// MQTTQoS returns the QoS level as paho expects it.
func (c *Config) MQTTQoS() byte {
	return byte(c.MQTT.QoS)
}
