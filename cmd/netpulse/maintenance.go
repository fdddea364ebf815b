package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/netpulselabs/netpulse/internal/config"
)

var (
	maintenanceEnable  bool
	maintenanceDisable bool
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Show or toggle notification maintenance mode",
	Long: `Without flags, print the current notification gating settings. With
--enable or --disable, rewrite the config file's maintenance_mode flag while
preserving every other key. A running engine picks the change up through its
config watcher.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if maintenanceEnable && maintenanceDisable {
			return errors.New("--enable and --disable are mutually exclusive")
		}

		if maintenanceEnable || maintenanceDisable {
			if err := config.SetMaintenanceMode(configPath, maintenanceEnable); err != nil {
				return err
			}
			fmt.Printf("maintenance mode set to %v\n", maintenanceEnable)
		}

		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		cfg, err := config.Load(quiet, configPath)
		if err != nil {
			return err
		}
		p := cfg.Pushover
		fmt.Printf("maintenance_mode:   %v\n", p.MaintenanceMode)
		fmt.Printf("throttling_enabled: %v\n", p.ThrottlingEnabled)
		fmt.Printf("alert_threshold:    %d\n", p.AlertThreshold)
		fmt.Printf("alert_window:       %ds\n", p.AlertWindow)
		return nil
	},
}

func init() {
	maintenanceCmd.Flags().BoolVar(&maintenanceEnable, "enable", false, "Turn maintenance mode on (suppresses DOWN notifications)")
	maintenanceCmd.Flags().BoolVar(&maintenanceDisable, "disable", false, "Turn maintenance mode off")
}
