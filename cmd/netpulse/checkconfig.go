package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/netpulselabs/netpulse/internal/config"
	"github.com/netpulselabs/netpulse/internal/inventory"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and inventory files",
	Long: `Parse and validate both JSON files, then print the resolved groups,
nodes, and metric bindings along with the storage and notification settings.
Exits non-zero when either file is invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(slog.LevelWarn)

		cfg, err := config.Load(log, configPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		provider, err := inventory.NewFileProvider(&inventory.FileProviderConfig{
			Logger: log,
			Path:   inventoryPath,
		})
		if err != nil {
			return err
		}
		snap, err := provider.Snapshot(cmd.Context())
		if err != nil {
			return fmt.Errorf("inventory: %w", err)
		}

		printGroups(snap)
		printNodes(snap)
		printBindings(snap)
		printSettings(cfg)

		fmt.Printf("\nconfiguration OK: %d groups, %d nodes, %d metric bindings\n",
			len(snap.Groups), len(snap.Nodes), len(snap.NodeMetrics))
		return nil
	},
}

func newTable(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(header)
	return table
}

func printGroups(snap *inventory.Snapshot) {
	fmt.Println("\nGroups:")
	table := newTable([]string{"ID", "Name", "Interval", "Ping", "SNMP", "Max Retries", "Enabled"})
	for i := range snap.Groups {
		g := &snap.Groups[i]
		table.Append([]string{
			strconv.Itoa(g.ID),
			g.Name,
			fmt.Sprintf("%ds", g.Interval),
			strconv.FormatBool(g.MonitorPing),
			strconv.FormatBool(g.MonitorSNMP),
			strconv.Itoa(g.MaxRetries),
			strconv.FormatBool(g.Enabled),
		})
	}
	table.Render()
}

func printNodes(snap *inventory.Snapshot) {
	fmt.Println("\nNodes (effective values after group fallback):")
	table := newTable([]string{"ID", "Name", "IP", "Group", "Interval", "Ping", "SNMP", "Retries", "Enabled"})
	for i := range snap.Nodes {
		n := &snap.Nodes[i]
		group := fmt.Sprintf("missing (%d)", n.GroupID)
		interval, ping, snmp, retries := "-", "-", "-", "-"
		if g := snap.GroupByID(n.GroupID); g != nil {
			group = g.Name
			interval = fmt.Sprintf("%ds", int(n.EffectiveInterval(g).Seconds()))
			ping = strconv.FormatBool(n.PingEnabled(g))
			snmp = strconv.FormatBool(n.SNMPEnabled(g))
			retries = strconv.Itoa(n.EffectiveMaxRetries(g))
		}
		table.Append([]string{
			strconv.Itoa(n.ID),
			n.Name,
			n.IP,
			group,
			interval,
			ping,
			snmp,
			retries,
			strconv.FormatBool(n.Enabled),
		})
	}
	table.Render()
}

func printBindings(snap *inventory.Snapshot) {
	if len(snap.NodeMetrics) == 0 {
		return
	}
	fmt.Println("\nMetric bindings:")
	table := newTable([]string{"ID", "Node", "Metric", "Source", "OID", "Warn", "Crit", "Cond", "Enabled"})
	for i := range snap.NodeMetrics {
		b := &snap.NodeMetrics[i]
		nodeName := strconv.Itoa(b.NodeID)
		if n := snap.NodeByID(b.NodeID); n != nil {
			nodeName = n.Name
		}
		metricName, source, oid := strconv.Itoa(b.MetricID), "-", "-"
		if def := snap.MetricByID(b.MetricID); def != nil {
			metricName = def.Name
			source = string(def.Source)
			if def.Source == inventory.MetricSourceSNMP {
				if resolved, ok := def.ResolveOID(b.InterfaceIndex); ok {
					oid = resolved
				} else {
					oid = def.OIDTemplate + " (no index bound)"
				}
			}
		}
		table.Append([]string{
			strconv.Itoa(b.ID),
			nodeName,
			metricName,
			source,
			oid,
			formatThreshold(b.WarningThreshold),
			formatThreshold(b.CriticalThreshold),
			string(b.Condition()),
			strconv.FormatBool(b.Enabled),
		})
	}
	table.Render()
}

func printSettings(cfg *config.Config) {
	fmt.Println("\nStorage:")
	if cfg.InfluxDB.Configured() {
		fmt.Printf("  influxdb:  %s (org %s, bucket %s)\n", cfg.InfluxDB.URL, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
	} else {
		fmt.Println("  influxdb:  disabled")
	}
	if cfg.Logging.FileEnabled {
		fmt.Printf("  file sink: %s (retention %d lines)\n", cfg.Logging.FilePath, cfg.Logging.RetentionLines)
	} else {
		fmt.Println("  file sink: disabled")
	}

	fmt.Println("\nNotifications:")
	fmt.Printf("  pushover:           %v\n", cfg.Pushover.Enabled)
	fmt.Printf("  priority:           %d\n", cfg.Pushover.Priority)
	fmt.Printf("  maintenance_mode:   %v\n", cfg.Pushover.MaintenanceMode)
	fmt.Printf("  throttling_enabled: %v\n", cfg.Pushover.ThrottlingEnabled)
	fmt.Printf("  alert_threshold:    %d\n", cfg.Pushover.AlertThreshold)
	fmt.Printf("  alert_window:       %ds\n", cfg.Pushover.AlertWindow)
}

func formatThreshold(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
