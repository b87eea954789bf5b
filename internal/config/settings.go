package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	configName = "config"
	configType = "yaml"
	envPrefix  = "KBDCTL"

	KeyHidRetries    = "hid.retries"
	KeyHidTimeout    = "hid.timeout"
	KeyLpcEnabled    = "lpc.enabled"
	KeyLpcTimeout    = "lpc.timeout"
	KeyHelperCommand = "helper.command"
	KeyPollRefresh   = "poll.refresh"
	KeyPollMatrix    = "poll.matrix"
	KeyNelsonSettle  = "nelson.settle"
	KeyDevicesFile   = "devices.file"
	KeyTesting       = "testing"
)

// Settings are the runtime knobs of the daemon and backend.
type Settings struct {
	HidRetries    int
	HidTimeout    time.Duration
	LpcEnabled    bool
	LpcTimeout    time.Duration
	HelperCommand string
	// RefreshInterval is zero when periodic refresh is off.
	RefreshInterval time.Duration
	// MatrixInterval is zero when matrix polling is off.
	MatrixInterval time.Duration
	NelsonSettle   time.Duration
	DevicesFile    string
	Testing        bool
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		HidRetries:    10,
		HidTimeout:    time.Second,
		LpcEnabled:    true,
		LpcTimeout:    time.Second,
		HelperCommand: "pkexec",
		NelsonSettle:  300 * time.Millisecond,
	}
}

func setDefaults(cfg *viper.Viper) {
	d := Defaults()
	cfg.SetDefault(KeyHidRetries, d.HidRetries)
	cfg.SetDefault(KeyHidTimeout, d.HidTimeout)
	cfg.SetDefault(KeyLpcEnabled, d.LpcEnabled)
	cfg.SetDefault(KeyLpcTimeout, d.LpcTimeout)
	cfg.SetDefault(KeyHelperCommand, d.HelperCommand)
	cfg.SetDefault(KeyPollRefresh, d.RefreshInterval)
	cfg.SetDefault(KeyPollMatrix, d.MatrixInterval)
	cfg.SetDefault(KeyNelsonSettle, d.NelsonSettle)
	cfg.SetDefault(KeyDevicesFile, d.DevicesFile)
	cfg.SetDefault(KeyTesting, d.Testing)
}

// Load reads config.yaml from Dir() when present, then KBDCTL_* environment
// overrides (KBDCTL_HID_RETRIES and so on). A nil cfg gets a fresh viper.
func Load(cfg *viper.Viper) (Settings, error) {
	if cfg == nil {
		cfg = viper.New()
	}
	setDefaults(cfg)

	cfg.SetConfigName(configName)
	cfg.SetConfigType(configType)
	cfg.AddConfigPath(Dir())
	cfg.SetEnvPrefix(envPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	if err := cfg.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Settings{}, fmt.Errorf("read config file: %w", err)
		}
	}

	s := Settings{
		HidRetries:      cfg.GetInt(KeyHidRetries),
		HidTimeout:      cfg.GetDuration(KeyHidTimeout),
		LpcEnabled:      cfg.GetBool(KeyLpcEnabled),
		LpcTimeout:      cfg.GetDuration(KeyLpcTimeout),
		HelperCommand:   cfg.GetString(KeyHelperCommand),
		RefreshInterval: cfg.GetDuration(KeyPollRefresh),
		MatrixInterval:  cfg.GetDuration(KeyPollMatrix),
		NelsonSettle:    cfg.GetDuration(KeyNelsonSettle),
		DevicesFile:     cfg.GetString(KeyDevicesFile),
		Testing:         cfg.GetBool(KeyTesting),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the daemon cannot run with.
func (s Settings) Validate() error {
	if s.HidRetries < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyHidRetries, s.HidRetries)
	}
	if s.HidTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyHidTimeout)
	}
	if s.LpcTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyLpcTimeout)
	}
	if s.RefreshInterval < 0 || s.MatrixInterval < 0 || s.NelsonSettle < 0 {
		return errors.New("intervals must not be negative")
	}
	return nil
}
