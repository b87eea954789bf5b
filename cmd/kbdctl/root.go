package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mil-ad/kbdctl/internal/config"
)

type app struct {
	settings config.Settings
	devices  config.Devices
	logger   *log.Logger

	fake     bool
	pkexec   bool
	s76power bool
}

func newRootCmd() *cobra.Command {
	a := &app{logger: log.New(os.Stderr, "", log.LstdFlags)}
	cfg := viper.New()

	rootCmd := &cobra.Command{
		Use:           "kbdctl",
		Short:         "Talk to System76 keyboard embedded controllers",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cfg)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&a.fake, "fake", false, "Use made-up boards instead of hardware")
	flags.BoolVar(&a.pkexec, "pkexec", false, "Run the daemon as an elevated child process")
	flags.BoolVar(&a.s76power, "s76power", false, "Use system76-power over D-Bus (backlight only)")
	flags.String("devices", "", "Known-device table (YAML)")
	flags.Bool("testing", false, "Hold back boards with outdated firmware")
	cfg.BindPFlag(config.KeyDevicesFile, flags.Lookup("devices"))
	cfg.BindPFlag(config.KeyTesting, flags.Lookup("testing"))

	rootCmd.AddCommand(
		newDaemonCmd(a),
		newRootHelperCmd(),
		newListCmd(a),
		newWatchCmd(a),
		newBenchmarkCmd(a),
		newNelsonCmd(a),
	)
	return rootCmd
}

func (a *app) load(cfg *viper.Viper) error {
	settings, err := config.Load(cfg)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	devices, err := config.LoadDevices(settings.DevicesFile)
	if err != nil {
		return err
	}
	if err := config.Validate(devices); err != nil {
		return fmt.Errorf("invalid device table: %w", err)
	}
	a.settings = settings
	a.devices = devices
	return nil
}
