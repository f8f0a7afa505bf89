package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func configPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "padctl", "config.yaml")
}

type Config struct {
	Device    DeviceConfig   `yaml:"device"`
	Timing    TimingConfig   `yaml:"timing"`
	Transport string         `yaml:"transport"` // "bluez" | "sim"
	GPIO      GPIOConfig     `yaml:"gpio"`
	Watchdog  WatchdogConfig `yaml:"watchdog"`
	Logger    LoggerConfig   `yaml:"logger"`
}

// DeviceConfig is the identity the adapter advertises.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Class   uint32 `yaml:"class"`
	Adapter string `yaml:"adapter"`
}

type TimingConfig struct {
	SamplePeriod    time.Duration `yaml:"sample_period"`
	BlinkPeriod     time.Duration `yaml:"blink_period"`
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`
}

// GPIOConfig maps the buttons, in A W S D order, and the LED to pins.
type GPIOConfig struct {
	Backend   string   `yaml:"backend"` // "periph" | "virtual"
	Buttons   []string `yaml:"buttons"`
	LED       string   `yaml:"led"`
	ActiveLow bool     `yaml:"active_low"`
}

type WatchdogConfig struct {
	Device string `yaml:"device"` // empty selects the software watchdog
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" | "json"
	Output string `yaml:"output"` // "stderr" | "stdout" | file path
}

func Defaults() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:    "PicoW-HID-AWSD",
			Class:   0x002540,
			Adapter: "hci0",
		},
		Timing: TimingConfig{
			SamplePeriod:    10 * time.Millisecond,
			BlinkPeriod:     500 * time.Millisecond,
			WatchdogTimeout: 3 * time.Second,
		},
		Transport: "bluez",
		GPIO: GPIOConfig{
			Backend:   "periph",
			Buttons:   []string{"GPIO9", "GPIO17", "GPIO14", "GPIO12"},
			LED:       "GPIO11",
			ActiveLow: true,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads path on top of Defaults. A missing file is not an error.
// Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PADCTL_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("PADCTL_GPIO_BACKEND"); v != "" {
		cfg.GPIO.Backend = v
	}
	if v := os.Getenv("PADCTL_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}
	if v := os.Getenv("PADCTL_DEVICE_ADAPTER"); v != "" {
		cfg.Device.Adapter = v
	}
	if v := os.Getenv("PADCTL_WATCHDOG_DEVICE"); v != "" {
		cfg.Watchdog.Device = v
	}
	if v := os.Getenv("PADCTL_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("PADCTL_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("PADCTL_WATCHDOG_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PADCTL_WATCHDOG_TIMEOUT: %w", err)
		}
		cfg.Timing.WatchdogTimeout = d
	}
	if v := os.Getenv("PADCTL_GPIO_ACTIVE_LOW"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PADCTL_GPIO_ACTIVE_LOW: %w", err)
		}
		cfg.GPIO.ActiveLow = b
	}
	return nil
}

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate returns a *ValidationError listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}

	if cfg.Device.Name == "" {
		ve.Add("device.name must not be empty")
	}
	if cfg.Device.Class == 0 || cfg.Device.Class > 0xFFFFFF {
		ve.Add("device.class must be a 24-bit class of device, got %#x", cfg.Device.Class)
	}
	if cfg.Device.Adapter == "" {
		ve.Add("device.adapter must not be empty")
	}

	t := cfg.Timing
	if t.SamplePeriod <= 0 {
		ve.Add("timing.sample_period must be > 0")
	}
	if t.BlinkPeriod <= 0 {
		ve.Add("timing.blink_period must be > 0")
	}
	if t.WatchdogTimeout <= t.SamplePeriod || t.WatchdogTimeout <= t.BlinkPeriod {
		ve.Add("timing.watchdog_timeout (%s) must exceed sample_period and blink_period", t.WatchdogTimeout)
	}

	switch cfg.Transport {
	case "bluez", "sim":
	default:
		ve.Add("transport must be bluez or sim, got %q", cfg.Transport)
	}

	switch cfg.GPIO.Backend {
	case "periph":
		if len(cfg.GPIO.Buttons) != numButtons {
			ve.Add("gpio.buttons must list %d pins (a, w, s, d), got %d", numButtons, len(cfg.GPIO.Buttons))
		}
		for i, b := range cfg.GPIO.Buttons {
			if b == "" {
				ve.Add("gpio.buttons[%d] must not be empty", i)
			}
		}
		if cfg.GPIO.LED == "" {
			ve.Add("gpio.led must not be empty")
		}
	case "virtual":
	default:
		ve.Add("gpio.backend must be periph or virtual, got %q", cfg.GPIO.Backend)
	}

	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
	if _, err := parseLevel(cfg.Logger.Level); err != nil {
		ve.Add("logger.level: %v", err)
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
