package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Platform connection constants.
const (
	// DefaultDomain is the messaging domain used when device.domain is empty.
	DefaultDomain = "internetofthings.ibmcloud.com"

	// QuickstartOrg is the organisation that selects unauthenticated quickstart mode.
	QuickstartOrg = "quickstart"

	// TokenUsername is the fixed MQTT username for token authentication.
	TokenUsername = "use-token-auth"

	// AuthMethodToken is the only supported device authentication method.
	AuthMethodToken = "token"

	quickstartPort = 1883
	securePort     = 8883

	// minLifetime is the shortest non-zero manage lifetime the platform accepts.
	minLifetime = 3600
)

// envPrefix prefixes every environment override, e.g. IOTDM_DEVICE_AUTH_TOKEN.
const envPrefix = "IOTDM_"

// Config is the root configuration structure for the device-management agent.
type Config struct {
	Device     DeviceConfig     `yaml:"device" envPrefix:"DEVICE_"`
	MQTT       MQTTConfig       `yaml:"mqtt" envPrefix:"MQTT_"`
	Management ManagementConfig `yaml:"management" envPrefix:"MANAGEMENT_"`
	DeviceInfo DeviceInfoConfig `yaml:"device_info"`
	Metadata   map[string]any   `yaml:"metadata"`
	Actions    ActionsConfig    `yaml:"actions" envPrefix:"ACTIONS_"`
	Database   DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	API        APIConfig        `yaml:"api" envPrefix:"API_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
}

// DeviceConfig identifies the device on the platform.
//
// File points at an optional legacy key=value device file whose values are
// layered over this section (see LoadDeviceFile).
type DeviceConfig struct {
	File       string `yaml:"file" env:"FILE"`
	Org        string `yaml:"org" env:"ORG"`
	Domain     string `yaml:"domain" env:"DOMAIN"`
	Type       string `yaml:"type" env:"TYPE"`
	ID         string `yaml:"id" env:"ID"`
	AuthMethod string `yaml:"auth_method" env:"AUTH_METHOD"`
	AuthToken  string `yaml:"auth_token" env:"AUTH_TOKEN"`
}

// MQTTConfig contains broker connection settings.
//
// Broker.TLS, Broker.ClientID and Auth are derived from DeviceConfig. A
// non-empty Broker.Host or Broker.Port overrides the derived platform endpoint.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" envPrefix:"BROKER_"`
	Auth      MQTTAuthConfig      `yaml:"-"`
	TLS       MQTTTLSConfig       `yaml:"tls" envPrefix:"TLS_"`
	QoS       int                 `yaml:"qos"`
	KeepAlive int                 `yaml:"keep_alive"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains resolved broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	TLS      bool   `yaml:"-"`
	ClientID string `yaml:"-"`
}

// MQTTAuthConfig contains MQTT credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTLSConfig contains certificate paths for the secure connection.
type MQTTTLSConfig struct {
	CACert                string `yaml:"ca_cert" env:"CA_CERT"`
	ServerCert            string `yaml:"server_cert" env:"SERVER_CERT"`
	UseClientCertificates bool   `yaml:"use_client_certificates" env:"USE_CLIENT_CERTIFICATES"`
	ClientCert            string `yaml:"client_cert" env:"CLIENT_CERT"`
	ClientKey             string `yaml:"client_key" env:"CLIENT_KEY"`
}

// MQTTReconnectConfig contains reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ManagementConfig controls the manage handshake and request handling.
type ManagementConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Lifetime        int           `yaml:"lifetime" env:"LIFETIME"`
	DeviceActions   bool          `yaml:"device_actions" env:"DEVICE_ACTIONS"`
	FirmwareActions bool          `yaml:"firmware_actions" env:"FIRMWARE_ACTIONS"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	RetryInterval   time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	InboundQueue    int           `yaml:"inbound_queue"`
}

// DeviceInfoConfig is the static device description sent with the manage request.
type DeviceInfoConfig struct {
	SerialNumber        string `yaml:"serial_number"`
	Manufacturer        string `yaml:"manufacturer"`
	Model               string `yaml:"model"`
	DeviceClass         string `yaml:"device_class"`
	Description         string `yaml:"description"`
	FWVersion           string `yaml:"fw_version"`
	HWVersion           string `yaml:"hw_version"`
	DescriptiveLocation string `yaml:"descriptive_location"`
}

// ActionsConfig describes how the agent carries out platform-initiated actions.
// An empty command disables the corresponding action.
type ActionsConfig struct {
	RebootCommand       []string      `yaml:"reboot_command"`
	FactoryResetCommand []string      `yaml:"factory_reset_command"`
	FirmwareDir         string        `yaml:"firmware_dir" env:"FIRMWARE_DIR"`
	InstallCommand      []string      `yaml:"install_command"`
	DownloadTimeout     time.Duration `yaml:"download_timeout"`
}

// DatabaseConfig contains SQLite database settings.
//
// JournalRetention bounds how long request outcomes are kept.
type DatabaseConfig struct {
	Path             string        `yaml:"path" env:"PATH"`
	WALMode          bool          `yaml:"wal_mode"`
	BusyTimeout      int           `yaml:"busy_timeout"`
	JournalRetention time.Duration `yaml:"journal_retention" env:"JOURNAL_RETENTION"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the local status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled" env:"ENABLED"`
	Host     string           `yaml:"host" env:"HOST"`
	Port     int              `yaml:"port" env:"PORT"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Legacy device file, when device.file is set
//  4. Environment variables (IOTDM_SECTION_KEY)
//  5. Derived broker settings
//
// The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies the device file, environment and derived settings, then validates.
func finish(cfg *Config) error {
	// Environment may name the device file, so it is applied once before and
	// once after the file to keep env values authoritative.
	if err := applyEnvOverrides(cfg); err != nil {
		return err
	}
	if cfg.Device.File != "" {
		df, err := LoadDeviceFile(cfg.Device.File)
		if err != nil {
			return err
		}
		df.apply(cfg)
		if err := applyEnvOverrides(cfg); err != nil {
			return err
		}
	}

	cfg.resolveBroker()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Domain:     DefaultDomain,
			AuthMethod: AuthMethodToken,
		},
		MQTT: MQTTConfig{
			QoS:       1,
			KeepAlive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Management: ManagementConfig{
			Enabled:         true,
			Lifetime:        0,
			DeviceActions:   true,
			FirmwareActions: true,
			RequestTimeout:  60 * time.Second,
			RetryInterval:   2 * time.Second,
			InboundQueue:    64,
		},
		Actions: ActionsConfig{
			FirmwareDir:     "./data/firmware",
			DownloadTimeout: 10 * time.Minute,
		},
		Database: DatabaseConfig{
			Path:             "./data/iotdm.db",
			WALMode:          true,
			BusyTimeout:      5,
			JournalRetention: 30 * 24 * time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides reads IOTDM_* variables into cfg. Unset variables leave
// the current value untouched.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}
	return nil
}

// resolveBroker fills the MQTT broker and auth sections from the device identity.
func (c *Config) resolveBroker() {
	if c.Device.Domain == "" {
		c.Device.Domain = DefaultDomain
	}

	if c.MQTT.Broker.Host == "" {
		c.MQTT.Broker.Host = fmt.Sprintf("%s.messaging.%s", c.Device.Org, c.Device.Domain)
	}
	c.MQTT.Broker.ClientID = c.ClientID()

	if c.IsQuickstart() {
		if c.MQTT.Broker.Port == 0 {
			c.MQTT.Broker.Port = quickstartPort
		}
		c.MQTT.Broker.TLS = false
		c.MQTT.Auth = MQTTAuthConfig{}
		return
	}

	if c.MQTT.Broker.Port == 0 {
		c.MQTT.Broker.Port = securePort
	}
	c.MQTT.Broker.TLS = c.MQTT.Broker.Port != quickstartPort
	c.MQTT.Auth = MQTTAuthConfig{
		Username: TokenUsername,
		Password: c.Device.AuthToken,
	}
}

// IsQuickstart reports whether the device connects to the unauthenticated
// quickstart organisation.
func (c *Config) IsQuickstart() bool {
	return c.Device.Org == QuickstartOrg
}

// ClientID returns the MQTT client identifier d:<org>:<type>:<id>.
func (c *Config) ClientID() string {
	return strings.Join([]string{"d", c.Device.Org, c.Device.Type, c.Device.ID}, ":")
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Device.Org == "" {
		errs = append(errs, "device.org is required")
	}
	if c.Device.Type == "" {
		errs = append(errs, "device.type is required")
	}
	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}

	if c.IsQuickstart() {
		if c.Management.Enabled {
			errs = append(errs, "management.enabled must be false in quickstart mode")
		}
	} else {
		if c.Device.AuthMethod != AuthMethodToken {
			errs = append(errs, fmt.Sprintf("device.auth_method %q is not supported (use %q)", c.Device.AuthMethod, AuthMethodToken))
		}
		if c.Device.AuthToken == "" {
			errs = append(errs, "device.auth_token is required (set IOTDM_DEVICE_AUTH_TOKEN environment variable)")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TLS.UseClientCertificates && (c.MQTT.TLS.ClientCert == "" || c.MQTT.TLS.ClientKey == "") {
		errs = append(errs, "mqtt.tls.client_cert and mqtt.tls.client_key are required when use_client_certificates is set")
	}

	if c.Management.Lifetime < 0 || (c.Management.Lifetime > 0 && c.Management.Lifetime < minLifetime) {
		errs = append(errs, fmt.Sprintf("management.lifetime must be 0 or at least %d seconds", minLifetime))
	}
	if c.Management.RequestTimeout <= 0 {
		errs = append(errs, "management.request_timeout must be positive")
	}
	if c.Management.RetryInterval <= 0 {
		errs = append(errs, "management.retry_interval must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.JournalRetention < 0 {
		errs = append(errs, "database.journal_retention must not be negative")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
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
