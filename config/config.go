package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Tuya     TuyaConfig     `yaml:"tuya"`
	MQ       MQConfig       `yaml:"mq"`
	Lights   LightsConfig   `yaml:"lights"`
	HomeKit  HomeKitConfig  `yaml:"homekit"`
	HTTP     HTTPConfig     `yaml:"http"`
	Pushover PushoverConfig `yaml:"pushover"`
	Log      LogConfig      `yaml:"log"`
}

type TuyaConfig struct {
	ClientID     string `yaml:"client_id"`
	Secret       string `yaml:"secret"`
	Region       string `yaml:"region"`
	SyncInterval string `yaml:"sync_interval"`
}

// MQConfig controls the push channel for status reports. Without it, state
// only follows the periodic sync.
type MQConfig struct {
	Enabled bool   `yaml:"enabled"`
	LinkID  string `yaml:"link_id"`
}

type LightsConfig struct {
	Debounce     string `yaml:"debounce"`
	FlushTimeout string `yaml:"flush_timeout"`
}

type HomeKitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Name        string `yaml:"name"`
	Pin         string `yaml:"pin"`
	StoragePath string `yaml:"storage_path"`
	Addr        string `yaml:"addr"`
}

type HTTPConfig struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
	RateLimit int    `yaml:"rate_limit"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Tuya.Region == "" {
		c.Tuya.Region = "us"
	}
	if c.Tuya.SyncInterval == "" {
		c.Tuya.SyncInterval = "5m"
	}
	if c.MQ.LinkID == "" {
		c.MQ.LinkID = uuid.NewString()
	}
	if c.Lights.Debounce == "" {
		c.Lights.Debounce = "100ms"
	}
	if c.Lights.FlushTimeout == "" {
		c.Lights.FlushTimeout = "10s"
	}
	if c.HomeKit.Name == "" {
		c.HomeKit.Name = "Tuya Lights"
	}
	if c.HomeKit.Pin == "" {
		c.HomeKit.Pin = "00102003"
	}
	if c.HomeKit.StoragePath == "" {
		c.HomeKit.StoragePath = "./homekit"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RateLimit == 0 {
		c.HTTP.RateLimit = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Tuya.ClientID == "" {
		errs = append(errs, errors.New("tuya.client_id is required"))
	}
	if c.Tuya.Secret == "" {
		errs = append(errs, errors.New("tuya.secret is required"))
	}
	for name, value := range map[string]string{
		"tuya.sync_interval":   c.Tuya.SyncInterval,
		"lights.debounce":      c.Lights.Debounce,
		"lights.flush_timeout": c.Lights.FlushTimeout,
	} {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, value))
		}
	}
	if c.HomeKit.Enabled && len(c.HomeKit.Pin) != 8 {
		errs = append(errs, fmt.Errorf("homekit.pin must have 8 digits"))
	}
	if c.Pushover.Enabled && (c.Pushover.Token == "" || c.Pushover.UserKey == "") {
		errs = append(errs, errors.New("pushover.token and pushover.user_key are required when enabled"))
	}
	return errors.Join(errs...)
}

func (c TuyaConfig) SyncEvery() time.Duration {
	d, _ := time.ParseDuration(c.SyncInterval)
	return d
}

func (c LightsConfig) DebounceDuration() time.Duration {
	d, _ := time.ParseDuration(c.Debounce)
	return d
}

func (c LightsConfig) FlushTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.FlushTimeout)
	return d
}
