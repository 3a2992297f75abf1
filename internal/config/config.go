package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's static configuration.  It is loaded once at start
// and not mutated afterwards.
type Config struct {
	// Bus
	BrokerAddress  string        `yaml:"broker_address"` // e.g. "tcp://192.168.1.15:1883"
	ClientID       string        `yaml:"client_id"`
	RequestTopic   string        `yaml:"request_topic"`
	ResponseBase   string        `yaml:"response_base"`
	QoS            int           `yaml:"qos"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Workers        int           `yaml:"workers"`

	AuthorizedCredentials []string `yaml:"authorized_credentials"`

	// Storage
	DBPath string `yaml:"db_path"`

	// History API; empty HTTPAddr disables it
	HTTPAddr            string `yaml:"http_addr"`
	HistoryDefaultLimit int    `yaml:"history_default_limit"`
	HistoryMaxLimit     int    `yaml:"history_max_limit"`

	// gRPC health service; empty disables it
	GRPCAddr       string        `yaml:"grpc_addr"`
	HealthInterval time.Duration `yaml:"health_interval"`

	Debug   bool `yaml:"debug"`
	LogJSON bool `yaml:"log_json"`
}

// Default returns the configuration used for keys a file and the
// environment leave unset.
func Default() Config {
	return Config{
		RequestTopic:        "access/req",
		ResponseBase:        "access/resp",
		QoS:                 1,
		PublishTimeout:      5 * time.Second,
		Workers:             4,
		DBPath:              "./data/portunus-gateway.db",
		HTTPAddr:            ":3000",
		HistoryDefaultLimit: 50,
		HistoryMaxLimit:     500,
		HealthInterval:      15 * time.Second,
	}
}

// Load reads the YAML file at path (if non-empty) over Default, then applies
// PORTUNUS_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BrokerAddress = getenvDefault("PORTUNUS_BROKER_ADDRESS", c.BrokerAddress)
	c.ClientID = getenvDefault("PORTUNUS_CLIENT_ID", c.ClientID)
	c.RequestTopic = getenvDefault("PORTUNUS_REQUEST_TOPIC", c.RequestTopic)
	c.ResponseBase = getenvDefault("PORTUNUS_RESPONSE_BASE", c.ResponseBase)
	c.QoS = getenvInt("PORTUNUS_QOS", c.QoS)
	c.PublishTimeout = getenvDuration("PORTUNUS_PUBLISH_TIMEOUT", c.PublishTimeout)
	c.Workers = getenvInt("PORTUNUS_WORKERS", c.Workers)
	if creds, ok := os.LookupEnv("PORTUNUS_AUTHORIZED_CREDENTIALS"); ok {
		c.AuthorizedCredentials = splitCSV(creds)
	}
	c.DBPath = getenvDefault("PORTUNUS_DB_PATH", c.DBPath)
	if v, ok := os.LookupEnv("PORTUNUS_HTTP_ADDR"); ok {
		c.HTTPAddr = strings.TrimSpace(v) // empty disables
	}
	if v, ok := os.LookupEnv("PORTUNUS_GRPC_ADDR"); ok {
		c.GRPCAddr = strings.TrimSpace(v)
	}
	c.HistoryDefaultLimit = getenvInt("PORTUNUS_HISTORY_DEFAULT_LIMIT", c.HistoryDefaultLimit)
	c.HistoryMaxLimit = getenvInt("PORTUNUS_HISTORY_MAX_LIMIT", c.HistoryMaxLimit)
	c.HealthInterval = getenvDuration("PORTUNUS_HEALTH_INTERVAL", c.HealthInterval)
	c.Debug = getenvBool("PORTUNUS_DEBUG", c.Debug)
	c.LogJSON = getenvBool("PORTUNUS_LOG_JSON", c.LogJSON)
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BrokerAddress) == "" {
		errs = append(errs, errors.New("broker_address is required"))
	}
	if strings.TrimSpace(c.RequestTopic) == "" {
		errs = append(errs, errors.New("request_topic is required"))
	}
	if strings.TrimSpace(c.ResponseBase) == "" {
		errs = append(errs, errors.New("response_base is required"))
	}
	if c.QoS < 0 || c.QoS > 2 {
		errs = append(errs, fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.HistoryDefaultLimit < 1 || c.HistoryMaxLimit < c.HistoryDefaultLimit {
		errs = append(errs, fmt.Errorf(
			"history limits must satisfy 1 <= default (%d) <= max (%d)",
			c.HistoryDefaultLimit, c.HistoryMaxLimit,
		))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
