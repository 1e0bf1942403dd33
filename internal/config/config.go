package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "/etc/gohome/config.yaml"

const (
	defaultGRPCAddr          = ":9000"
	defaultHTTPAddr          = ":8080"
	defaultBaseURL           = "https://api.honeywell.com"
	defaultStateFile         = "/var/lib/gohome/resideo-credentials.json"
	defaultRefreshRate       = 120
	minRefreshRate           = 30
	defaultPushRate          = 0.1
	defaultMaxRetries        = 5
	defaultDelayBetween      = 3
	defaultDiscoveryInterval = 3600
	defaultTopicPrefix       = "gohome/accessories"
)

// Config is the root runtime configuration.
type Config struct {
	Core     CoreConfig     `yaml:"core"`
	Logging  LoggingConfig  `yaml:"logging"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Resideo  *ResideoConfig `yaml:"resideo"`

	path string
}

type CoreConfig struct {
	GRPCAddr  string `yaml:"grpc_addr"`
	HTTPAddr  string `yaml:"http_addr"`
	CacheFile string `yaml:"cache_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OAuthConfig configures the optional object storage mirror for refresh state.
type OAuthConfig struct {
	BlobEndpoint      string `yaml:"blob_endpoint"`
	BlobBucket        string `yaml:"blob_bucket"`
	BlobPrefix        string `yaml:"blob_prefix"`
	BlobAccessKeyFile string `yaml:"blob_access_key_file"`
	BlobSecretKeyFile string `yaml:"blob_secret_key_file"`
	BlobRegion        string `yaml:"blob_region"`
}

// BlobEnabled reports whether any blob setting was provided.
func (o OAuthConfig) BlobEnabled() bool {
	return strings.TrimSpace(o.BlobEndpoint) != "" || strings.TrimSpace(o.BlobBucket) != ""
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// ResideoConfig configures the Resideo cloud platform.
type ResideoConfig struct {
	BaseURL         string      `yaml:"base_url"`
	Credentials     Credentials `yaml:"credentials"`
	StateFile       string      `yaml:"state_file"`
	PersistToConfig bool        `yaml:"persist_to_config"`
	Options         Options     `yaml:"options"`
}

type Credentials struct {
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	RefreshToken   string `yaml:"refresh_token"`
	RedirectURL    string `yaml:"redirect_url"`
}

// Options are the platform-wide sync settings. Rates are in seconds.
type Options struct {
	RefreshRate         float64         `yaml:"refresh_rate"`
	PushRate            float64         `yaml:"push_rate"`
	MaxRetries          int             `yaml:"max_retries"`
	DelayBetweenRetries float64         `yaml:"delay_between_retries"`
	DiscoveryInterval   float64         `yaml:"discovery_interval"`
	LogLevel            string          `yaml:"log_level"`
	Devices             []DeviceOptions `yaml:"devices"`
}

// DeviceOptions overlays the discovered device with per-device settings.
type DeviceOptions struct {
	DeviceID    string  `yaml:"device_id"`
	DeviceClass string  `yaml:"device_class"`
	HideDevice  bool    `yaml:"hide_device"`
	External    bool    `yaml:"external"`
	Retry       bool    `yaml:"retry"`
	RefreshRate float64 `yaml:"refresh_rate"`
	PushRate    float64 `yaml:"push_rate"`
	LogLevel    string  `yaml:"log_level"`

	Thermostat ThermostatOptions `yaml:"thermostat"`
	LeakSensor LeakSensorOptions `yaml:"leak_sensor"`
	RoomSensor RoomSensorOptions `yaml:"room_sensor"`
}

type ThermostatOptions struct {
	ShowAuto                 bool   `yaml:"show_auto"`
	HideFan                  bool   `yaml:"hide_fan"`
	HideHumidity             bool   `yaml:"hide_humidity"`
	ThermostatSetpointStatus string `yaml:"thermostat_setpoint_status"`
	RoomPriority             string `yaml:"room_priority"`
	RoomSensors              bool   `yaml:"room_sensors"`
	RoomSensorThermostats    bool   `yaml:"room_sensor_thermostats"`
}

type LeakSensorOptions struct {
	HideLeak        bool `yaml:"hide_leak"`
	HideTemperature bool `yaml:"hide_temperature"`
	HideHumidity    bool `yaml:"hide_humidity"`
}

type RoomSensorOptions struct {
	HideTemperature bool `yaml:"hide_temperature"`
	HideHumidity    bool `yaml:"hide_humidity"`
	HideMotion      bool `yaml:"hide_motion"`
	HideOccupancy   bool `yaml:"hide_occupancy"`
}

var validSetpointStatus = map[string]bool{
	"":              true,
	"NoHold":        true,
	"TemporaryHold": true,
	"PermanentHold": true,
}

var validPriority = map[string]bool{
	"":           true,
	"PickARoom":  true,
	"FollowMe":   true,
	"WholeHouse": true,
}

// Load reads a YAML config, applies defaults and environment overrides, then validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes config bytes without touching the filesystem.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Path returns the file the config was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = defaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = defaultHTTPAddr
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = defaultTopicPrefix
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "gohome-resideo"
	}
	if cfg.InfluxDB.BatchSize <= 0 {
		cfg.InfluxDB.BatchSize = 100
	}
	if cfg.InfluxDB.FlushInterval <= 0 {
		cfg.InfluxDB.FlushInterval = 10
	}

	r := cfg.Resideo
	if r == nil {
		return
	}
	if r.BaseURL == "" {
		r.BaseURL = defaultBaseURL
	}
	r.BaseURL = strings.TrimRight(r.BaseURL, "/")
	if r.StateFile == "" {
		r.StateFile = defaultStateFile
	}
	o := &r.Options
	if o.RefreshRate == 0 {
		o.RefreshRate = defaultRefreshRate
	}
	if o.RefreshRate < minRefreshRate {
		o.RefreshRate = minRefreshRate
	}
	if o.PushRate == 0 {
		o.PushRate = defaultPushRate
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.DelayBetweenRetries == 0 {
		o.DelayBetweenRetries = defaultDelayBetween
	}
	if o.DiscoveryInterval == 0 {
		o.DiscoveryInterval = defaultDiscoveryInterval
	}
	for i := range o.Devices {
		d := &o.Devices[i]
		if d.RefreshRate != 0 && d.RefreshRate < minRefreshRate {
			d.RefreshRate = minRefreshRate
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOHOME_GRPC_ADDR"); v != "" {
		cfg.Core.GRPCAddr = v
	}
	if v := os.Getenv("GOHOME_HTTP_ADDR"); v != "" {
		cfg.Core.HTTPAddr = v
	}
	if v := os.Getenv("GOHOME_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GOHOME_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("GOHOME_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if cfg.Resideo == nil {
		return
	}
	creds := &cfg.Resideo.Credentials
	if v := os.Getenv("GOHOME_RESIDEO_CONSUMER_KEY"); v != "" {
		creds.ConsumerKey = v
	}
	if v := os.Getenv("GOHOME_RESIDEO_CONSUMER_SECRET"); v != "" {
		creds.ConsumerSecret = v
	}
	if v := os.Getenv("GOHOME_RESIDEO_REFRESH_TOKEN"); v != "" {
		creds.RefreshToken = v
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, fmt.Errorf("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, fmt.Errorf("influxdb.url and influxdb.bucket are required when influxdb is enabled"))
	}

	if r := c.Resideo; r != nil {
		if r.Credentials.ConsumerKey == "" {
			errs = append(errs, fmt.Errorf("resideo.credentials.consumer_key is required"))
		}
		if r.Options.PushRate < 0 {
			errs = append(errs, fmt.Errorf("resideo.options.push_rate must be positive"))
		}
		if r.Options.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("resideo.options.max_retries must not be negative"))
		}
		seen := make(map[string]bool)
		for _, d := range r.Options.Devices {
			if d.DeviceID == "" {
				errs = append(errs, fmt.Errorf("resideo.options.devices: device_id is required"))
				continue
			}
			if seen[d.DeviceID] {
				errs = append(errs, fmt.Errorf("resideo.options.devices: duplicate device_id %q", d.DeviceID))
			}
			seen[d.DeviceID] = true
			if !validSetpointStatus[d.Thermostat.ThermostatSetpointStatus] {
				errs = append(errs, fmt.Errorf("device %s: unknown thermostat_setpoint_status %q", d.DeviceID, d.Thermostat.ThermostatSetpointStatus))
			}
			if !validPriority[d.Thermostat.RoomPriority] {
				errs = append(errs, fmt.Errorf("device %s: unknown room_priority %q", d.DeviceID, d.Thermostat.RoomPriority))
			}
		}
	}

	return errors.Join(errs...)
}

// Device returns the overlay for a device id, falling back to a zero overlay.
func (o Options) Device(deviceID string) DeviceOptions {
	for _, d := range o.Devices {
		if d.DeviceID == deviceID {
			return d
		}
	}
	return DeviceOptions{DeviceID: deviceID}
}

func (o Options) RefreshInterval(d DeviceOptions) time.Duration {
	rate := o.RefreshRate
	if d.RefreshRate > 0 {
		rate = d.RefreshRate
	}
	return seconds(rate)
}

func (o Options) PushInterval(d DeviceOptions) time.Duration {
	rate := o.PushRate
	if d.PushRate > 0 {
		rate = d.PushRate
	}
	return seconds(rate)
}

func (o Options) RetryDelay() time.Duration {
	return seconds(o.DelayBetweenRetries)
}

func (o Options) DiscoveryEvery() time.Duration {
	return seconds(o.DiscoveryInterval)
}

// LogLevelFor resolves the effective log level for a device.
func (o Options) LogLevelFor(d DeviceOptions) string {
	if d.LogLevel != "" {
		return d.LogLevel
	}
	return o.LogLevel
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
