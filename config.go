package notifyws

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEndpoint   = "ws://localhost:3001/notifications"
	DefaultAPIBaseURL = "http://localhost:3001"
)

// Config describes how the notification channel reaches its server. It is
// loaded from defaults, then an optional YAML file, then NOTIFYWS_* variables.
type Config struct {
	Endpoint          string        `yaml:"endpoint"`
	APIBaseURL        string        `yaml:"api_base_url"`
	Token             string        `yaml:"token"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectDelayMax time.Duration `yaml:"reconnect_delay_max"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	CatchUpInterval   time.Duration `yaml:"catch_up_interval"`
	LogLevel          string        `yaml:"log_level"`
	MetricsAddr       string        `yaml:"metrics_addr"`
}

func DefaultConfig() *Config {
	return &Config{
		Endpoint:          DefaultEndpoint,
		APIBaseURL:        DefaultAPIBaseURL,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectDelay:    DefaultReconnectDelay,
		ReconnectDelayMax: DefaultReconnectDelayMax,
		ConnectTimeout:    DefaultConnectTimeout,
		PingInterval:      25 * time.Second,
		CatchUpInterval:   10 * time.Second,
		LogLevel:          "info",
	}
}

// LoadConfigFromFile reads a YAML file on top of the defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %s", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%s: %s", path, err)
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides cfg with the NOTIFYWS_* environment variables.
//
// Environment variables supported:
//   - NOTIFYWS_URL (websocket endpoint)
//   - NOTIFYWS_API_URL (REST base url)
//   - NOTIFYWS_TOKEN (bearer token)
//   - NOTIFYWS_RECONNECT_ATTEMPTS (int)
//   - NOTIFYWS_RECONNECT_DELAY, NOTIFYWS_RECONNECT_DELAY_MAX, NOTIFYWS_CONNECT_TIMEOUT,
//     NOTIFYWS_PING_INTERVAL, NOTIFYWS_CATCH_UP_INTERVAL (durations, e.g. "1s")
//   - NOTIFYWS_LOG_LEVEL (debug, info, warn, error)
//   - NOTIFYWS_METRICS_ADDR (e.g. ":9090")
func ApplyEnvOverrides(cfg *Config) error {
	setString("NOTIFYWS_URL", &cfg.Endpoint)
	setString("NOTIFYWS_API_URL", &cfg.APIBaseURL)
	setString("NOTIFYWS_TOKEN", &cfg.Token)
	setString("NOTIFYWS_LOG_LEVEL", &cfg.LogLevel)
	setString("NOTIFYWS_METRICS_ADDR", &cfg.MetricsAddr)

	if v := os.Getenv("NOTIFYWS_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "NOTIFYWS_RECONNECT_ATTEMPTS: %s", err)
		}
		cfg.ReconnectAttempts = n
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"NOTIFYWS_RECONNECT_DELAY", &cfg.ReconnectDelay},
		{"NOTIFYWS_RECONNECT_DELAY_MAX", &cfg.ReconnectDelayMax},
		{"NOTIFYWS_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"NOTIFYWS_PING_INTERVAL", &cfg.PingInterval},
		{"NOTIFYWS_CATCH_UP_INTERVAL", &cfg.CatchUpInterval},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(ErrInvalidConfig, "%s: %s", d.key, err)
		}
		*d.dst = parsed
	}

	return nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the channel cannot run with.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.Wrap(ErrInvalidConfig, "endpoint is required")
	}
	if _, err := NewEndpointParamsGetter(c.Endpoint, nil); err != nil {
		return err
	}
	if c.ReconnectAttempts < 1 {
		return errors.Wrap(ErrInvalidConfig, "reconnect_attempts must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return errors.Wrap(ErrInvalidConfig, "reconnect_delay must be positive")
	}
	if c.ReconnectDelayMax < c.ReconnectDelay {
		return errors.Wrap(ErrInvalidConfig, "reconnect_delay_max must not be lower than reconnect_delay")
	}
	if c.ConnectTimeout <= 0 {
		return errors.Wrap(ErrInvalidConfig, "connect_timeout must be positive")
	}
	if c.PingInterval < 0 || c.CatchUpInterval < 0 {
		return errors.Wrap(ErrInvalidConfig, "intervals must not be negative")
	}
	return nil
}

// Backoff returns the reconnection policy described by c.
func (c *Config) Backoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:     c.ReconnectDelay,
		Max:         c.ReconnectDelayMax,
		MaxAttempts: c.ReconnectAttempts,
	}
}

// NewWebsocketTransportFactory wires the websocket dialer, the endpoint and the
// reconnect policy of c into a TransportFactory for NewChannel.
func (c *Config) NewWebsocketTransportFactory(logger logger) (TransportFactory, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var tokens TokenGetter
	if c.Token != "" {
		tokens = StaticToken(c.Token)
	}
	getter, err := NewEndpointParamsGetter(c.Endpoint, tokens)
	if err != nil {
		return nil, err
	}

	connFactory := NewWebsocketFactory(
		logger,
		NewDialer(c.ConnectTimeout),
		NewOpenConnectionParamsRepo(logger, getter),
		ErrorAdapters{},
	)

	return NewReconnectingTransportFactory(
		logger,
		connFactory,
		c.Backoff(),
		c.PingInterval,
		PingKeepAlive,
	), nil
}
