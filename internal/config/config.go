package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the sync core configuration.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Sync      SyncConfig
	AMQP      AMQPConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Addr string
}

// UpstreamConfig points at the marketplace backend.
type UpstreamConfig struct {
	RESTURL   string `mapstructure:"rest_url"`
	SocketURL string `mapstructure:"socket_url"`
	Token     string
	UserID    string `mapstructure:"user_id"`
}

// SyncConfig tunes the synchronization behavior.
type SyncConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	TypingTimeout     time.Duration `mapstructure:"typing_timeout"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	SendRetries       int           `mapstructure:"send_retries"`
}

type AMQPConfig struct {
	URL      string
	Exchange string
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Environment  string
}

type LogConfig struct {
	Level string
}

// Load reads configuration from an optional config file and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("server.addr", ":8090")
	v.SetDefault("upstream.rest_url", "http://localhost:8080/api")
	v.SetDefault("upstream.socket_url", "ws://localhost:8080/socket")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.user_id", "")
	v.SetDefault("sync.poll_interval", "3s")
	v.SetDefault("sync.typing_timeout", "3s")
	v.SetDefault("sync.reconnect_attempts", 3)
	v.SetDefault("sync.reconnect_delay", "2s")
	v.SetDefault("sync.send_retries", 3)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "sync_events")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("log.level", "info")

	v.BindEnv("server.addr", "SYNC_ADDR")
	v.BindEnv("upstream.rest_url", "UPSTREAM_REST_URL")
	v.BindEnv("upstream.socket_url", "UPSTREAM_SOCKET_URL")
	v.BindEnv("upstream.token", "UPSTREAM_TOKEN")
	v.BindEnv("upstream.user_id", "UPSTREAM_USER_ID")
	v.BindEnv("sync.poll_interval", "SYNC_POLL_INTERVAL")
	v.BindEnv("sync.reconnect_attempts", "SYNC_RECONNECT_ATTEMPTS")
	v.BindEnv("sync.reconnect_delay", "SYNC_RECONNECT_DELAY")
	v.BindEnv("sync.send_retries", "SYNC_SEND_RETRIES")
	v.BindEnv("amqp.url", "AMQP_URL")
	v.BindEnv("amqp.exchange", "AMQP_EXCHANGE")
	v.BindEnv("telemetry.otlp_endpoint", "OTLP_ENDPOINT")
	v.BindEnv("telemetry.environment", "ENVIRONMENT")
	v.BindEnv("log.level", "LOG_LEVEL")

	// The config file is optional; env vars and defaults are enough.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.Sync.PollInterval = parseDuration(v, "sync.poll_interval", 3*time.Second)
	cfg.Sync.TypingTimeout = parseDuration(v, "sync.typing_timeout", 3*time.Second)
	cfg.Sync.ReconnectDelay = parseDuration(v, "sync.reconnect_delay", 2*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
