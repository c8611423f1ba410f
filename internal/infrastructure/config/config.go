package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the devicelink core.
// Values come from defaults, then the YAML file, then DEVICELINK_* environment variables.
type Config struct {
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Security  SecurityConfig  `yaml:"security"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig holds HTTP timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists the origins allowed to call the REST hooks.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig tunes both WebSocket channels.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"` // bytes
	PingInterval   int `yaml:"ping_interval"`    // seconds
	PongTimeout    int `yaml:"pong_timeout"`     // seconds
	SendBuffer     int `yaml:"send_buffer"`      // queued outbound frames per connection
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// MQTTConfig contains broker settings for the event publisher and automation ingress.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains command telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// GatewayConfig groups the device and operator channel settings.
type GatewayConfig struct {
	Device   DeviceGatewayConfig   `yaml:"device"`
	Operator OperatorGatewayConfig `yaml:"operator"`
}

// DeviceGatewayConfig controls the /ws/device handshake.
type DeviceGatewayConfig struct {
	Path string `yaml:"path"`

	// VerifySecret rejects a handshake whose secret does not match the hash
	// stored for an already known device group.
	VerifySecret bool `yaml:"verify_secret"`
}

// OperatorGatewayConfig controls the /ws/app channel.
type OperatorGatewayConfig struct {
	Path         string `yaml:"path"`
	AuthRequired bool   `yaml:"auth_required"`
}

// DispatchConfig tunes command delivery bookkeeping.
type DispatchConfig struct {
	PendingTTL    time.Duration `yaml:"pending_ttl"`
	AckTimeout    time.Duration `yaml:"ack_timeout"` // 0 disables sent→timeout sweeping
	SweepInterval time.Duration `yaml:"sweep_interval"`
	FlushLimit    int           `yaml:"flush_limit"` // pending entries per flush batch
}

// SchedulerConfig controls the schedule trigger engine.
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	DefaultTimezone string        `yaml:"default_timezone"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SecurityConfig contains token settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains the HS256 signing secret used to verify operator tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides (DEVICELINK_SECTION_KEY) and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 64 * 1024,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		Database: DatabaseConfig{
			Path:        "./data/devicelink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "devicelink-core",
			},
			QoS:         1,
			TopicPrefix: "devicelink",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Gateway: GatewayConfig{
			Device: DeviceGatewayConfig{
				Path:         "/ws/device",
				VerifySecret: true,
			},
			Operator: OperatorGatewayConfig{
				Path:         "/ws/app",
				AuthRequired: true,
			},
		},
		Dispatch: DispatchConfig{
			PendingTTL:    10 * time.Minute,
			AckTimeout:    2 * time.Minute,
			SweepInterval: 30 * time.Second,
			FlushLimit:    50,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			PollInterval:    15 * time.Second,
			DefaultTimezone: "UTC",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "devicelink",
			},
		},
	}
}

// applyEnvOverrides applies DEVICELINK_* environment variables. Secrets
// should always arrive this way rather than through the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEVICELINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DEVICELINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DEVICELINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("DEVICELINK_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v, cfg.MQTT.Enabled)
	}
	if v := os.Getenv("DEVICELINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DEVICELINK_INFLUXDB_ENABLED"); v != "" {
		cfg.InfluxDB.Enabled = parseBool(v, cfg.InfluxDB.Enabled)
	}
	if v := os.Getenv("DEVICELINK_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("DEVICELINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("DEVICELINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("DEVICELINK_OPERATOR_AUTH_REQUIRED"); v != "" {
		cfg.Gateway.Operator.AuthRequired = parseBool(v, cfg.Gateway.Operator.AuthRequired)
	}

	if v := os.Getenv("DEVICELINK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// minJWTSecretLength is the shortest HS256 secret accepted.
const minJWTSecretLength = 32

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if !strings.HasPrefix(c.Gateway.Device.Path, "/") {
		errs = append(errs, "gateway.device.path must start with /")
	}
	if !strings.HasPrefix(c.Gateway.Operator.Path, "/") {
		errs = append(errs, "gateway.operator.path must start with /")
	}
	if c.Gateway.Device.Path == c.Gateway.Operator.Path {
		errs = append(errs, "gateway.device.path and gateway.operator.path must differ")
	}

	if c.Dispatch.PendingTTL <= 0 {
		errs = append(errs, "dispatch.pending_ttl must be positive")
	}
	if c.Dispatch.AckTimeout < 0 {
		errs = append(errs, "dispatch.ack_timeout must not be negative")
	}
	if c.Dispatch.SweepInterval <= 0 {
		errs = append(errs, "dispatch.sweep_interval must be positive")
	}
	if c.Dispatch.FlushLimit < 1 {
		errs = append(errs, "dispatch.flush_limit must be at least 1")
	}

	if c.Scheduler.PollInterval < time.Second || c.Scheduler.PollInterval >= time.Minute {
		errs = append(errs, "scheduler.poll_interval must be between 1s and 59s")
	}
	if _, err := time.LoadLocation(c.Scheduler.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler.default_timezone %q is not a known zone", c.Scheduler.DefaultTimezone))
	}

	// The operator channel and REST hooks trust the token subject as the
	// issuing user, so a short secret would let anyone forge commands.
	if c.Gateway.Operator.AuthRequired {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when operator auth is enabled (set DEVICELINK_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// PingInterval returns the WebSocket ping period.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.WebSocket.PingInterval) * time.Second
}

// PongTimeout returns how long a peer may stay silent after a ping.
func (c *Config) PongTimeout() time.Duration {
	return time.Duration(c.WebSocket.PongTimeout) * time.Second
}
