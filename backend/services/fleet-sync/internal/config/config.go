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

// Config defines fleet-sync configuration.
type Config struct {
	Log logging.Options `yaml:"log"`
	HTTP struct {
		Port string `yaml:"port" env:"FLEET_HTTP_PORT"`
	} `yaml:"http"`
	ControllerAPI struct {
		Host    string        `yaml:"host" env:"FLEET_API_HOST"`
		Port    string        `yaml:"port" env:"FLEET_API_PORT"`
		Timeout time.Duration `yaml:"timeout" env:"FLEET_API_TIMEOUT"`
	} `yaml:"controllerApi"`
	DataDir string `yaml:"dataDir" env:"FLEET_DATA_DIR"`
	EMM     struct {
		Host   string `yaml:"host" env:"FLEET_EMM_HOST"`
		APIKey string `yaml:"apiKey" env:"FLEET_EMM_API_KEY"`
	} `yaml:"emm"`
	Influx struct {
		URL    string `yaml:"url" env:"FLEET_INFLUX_URL"`
		Token  string `yaml:"token" env:"FLEET_INFLUX_TOKEN"`
		Org    string `yaml:"org" env:"FLEET_INFLUX_ORG"`
		Bucket string `yaml:"bucket" env:"FLEET_INFLUX_BUCKET"`
	} `yaml:"influx"`
	Collector struct {
		Enabled  bool          `yaml:"enabled" env:"FLEET_COLLECTOR_ENABLED"`
		Interval time.Duration `yaml:"interval" env:"FLEET_COLLECTOR_INTERVAL"`
		Timeout  time.Duration `yaml:"timeout" env:"FLEET_COLLECTOR_TIMEOUT"`
	} `yaml:"collector"`
	Settings struct {
		Enabled  bool          `yaml:"enabled" env:"FLEET_SETTINGS_ENABLED"`
		Interval time.Duration `yaml:"interval" env:"FLEET_SETTINGS_INTERVAL"`
		Timeout  time.Duration `yaml:"timeout" env:"FLEET_SETTINGS_TIMEOUT"`
	} `yaml:"settings"`
}

// Load reads configuration using shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8091"
	cfg.ControllerAPI.Host = "localhost"
	cfg.ControllerAPI.Port = "80"
	cfg.ControllerAPI.Timeout = 5 * time.Second
	cfg.DataDir = "data"
	cfg.Collector.Enabled = true
	cfg.Collector.Interval = 5 * time.Second
	cfg.Collector.Timeout = 30 * time.Second
	cfg.Settings.Enabled = true
	cfg.Settings.Interval = 30 * time.Second
	cfg.Settings.Timeout = 30 * time.Second

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ControllerAPI.Host) == "" {
		return errors.New("config: controller api host required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("config: data dir required")
	}
	if c.Collector.Enabled && c.Collector.Interval <= 0 {
		return errors.New("config: collector interval must be positive")
	}
	if c.Settings.Enabled && c.Settings.Interval <= 0 {
		return errors.New("config: settings interval must be positive")
	}
	if c.InfluxEnabled() && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return errors.New("config: influx org and bucket required")
	}
	return nil
}

// EMMEnabled reports whether a fleet backend is configured. The API key is required too.
func (c *Config) EMMEnabled() bool {
	return strings.TrimSpace(c.EMM.Host) != "" && strings.TrimSpace(c.EMM.APIKey) != ""
}

// InfluxEnabled reports whether snapshots are written to InfluxDB.
func (c *Config) InfluxEnabled() bool {
	return strings.TrimSpace(c.Influx.URL) != ""
}

// ControllerAPIURL returns http://host:port.
func (c *Config) ControllerAPIURL() string {
	host := strings.TrimSpace(c.ControllerAPI.Host)
	if c.ControllerAPI.Port == "" {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, c.ControllerAPI.Port)
}

// HTTPAddress returns :port style, empty when disabled.
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
