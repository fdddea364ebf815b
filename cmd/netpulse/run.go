package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/netpulselabs/netpulse/internal/config"
	"github.com/netpulselabs/netpulse/internal/inventory"
	"github.com/netpulselabs/netpulse/internal/metrics"
	"github.com/netpulselabs/netpulse/internal/monitor"
	"github.com/netpulselabs/netpulse/internal/notify"
	"github.com/netpulselabs/netpulse/internal/probe"
	"github.com/netpulselabs/netpulse/internal/processor"
	"github.com/netpulselabs/netpulse/internal/sched"
	"github.com/netpulselabs/netpulse/internal/storage"
)

const (
	defaultMetricsAddr = ":9273"
	defaultStateDir    = "data"
	defaultInfluxWait  = 30 * time.Second
)

var (
	metricsAddr     string
	stateDir        string
	tickInterval    time.Duration
	probeTimeout    time.Duration
	maxConcurrency  int
	collectInterval time.Duration
	collectWorkers  int
	influxWait      time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring engine (service mode)",
	Long: `Run drives the scheduler loop: ICMP and SNMP reachability probes, the
SNMP metric collector, threshold alerting, and persistence. The configuration
file is watched and reloaded without a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runService(); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", defaultMetricsAddr, "Address for the prometheus metrics listener (empty disables it)")
	runCmd.Flags().StringVar(&stateDir, "state-dir", defaultStateDir, "Directory for the persisted alert states")
	runCmd.Flags().DurationVar(&tickInterval, "tick-interval", monitor.DefaultTickInterval, "Scheduler pass cadence")
	runCmd.Flags().DurationVar(&probeTimeout, "probe-timeout", monitor.DefaultProbeTimeout, "Timeout for one reachability probe")
	runCmd.Flags().IntVar(&maxConcurrency, "max-concurrency", sched.DefaultMaxConcurrency, "Maximum concurrent node checks per tick")
	runCmd.Flags().DurationVar(&collectInterval, "collect-interval", monitor.DefaultCollectInterval, "SNMP metric collection cadence")
	runCmd.Flags().IntVar(&collectWorkers, "collect-workers", monitor.DefaultCollectWorkers, "Concurrent SNMP collection workers")
	runCmd.Flags().DurationVar(&influxWait, "influx-wait", defaultInfluxWait, "How long to wait for InfluxDB before falling back to the file sink")
}

func runService() error {
	log := newLogger(serviceLogLevel())
	log.Info("netpulse starting", "version", version, "commit", commit)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := config.NewStore(&config.StoreConfig{
		Logger: log,
		Path:   configPath,
	})
	if err != nil {
		log.Error("failed to load configuration", "path", configPath, "error", err)
		return err
	}
	settings := func() config.Pushover { return store.Current().Pushover }

	provider, err := inventory.NewFileProvider(&inventory.FileProviderConfig{
		Logger: log,
		Path:   inventoryPath,
	})
	if err != nil {
		log.Error("failed to create inventory provider", "error", err)
		return err
	}

	// Prefer InfluxDB, but a database that does not answer within the wait
	// budget must not kill the daemon: start on the file sink and let a
	// config reload bring Influx up later.
	bootCfg := store.Current()
	if bootCfg.InfluxDB.Configured() {
		if err := storage.WaitForInflux(ctx, log, bootCfg.InfluxDB, influxWait); err != nil {
			log.Warn("influxdb not reachable, starting with file sink only",
				"url", bootCfg.InfluxDB.URL, "error", err)
			fileOnly := *bootCfg
			fileOnly.InfluxDB.Enabled = false
			bootCfg = &fileOnly
		}
	}
	recorder, err := storage.NewRecorder(&storage.RecorderConfig{
		Logger: log,
		Config: bootCfg,
	})
	if err != nil {
		log.Error("failed to create recorder", "error", err)
		return err
	}
	defer recorder.Close()
	store.Subscribe(recorder.Reconfigure)

	notifier, err := notify.NewPushover(&notify.PushoverConfig{
		Logger:   log,
		Settings: settings,
	})
	if err != nil {
		log.Error("failed to create pushover notifier", "error", err)
		return err
	}

	proc, err := processor.New(&processor.Config{
		Logger:        log,
		Recorder:      recorder,
		Notifier:      notifier,
		Settings:      settings,
		StateFilePath: filepath.Join(stateDir, "alert_states.json"),
	})
	if err != nil {
		log.Error("failed to create metric processor", "error", err)
		return err
	}

	pinger, err := probe.NewICMPDriver(&probe.ICMPConfig{Logger: log})
	if err != nil {
		log.Error("failed to create icmp prober", "error", err)
		return err
	}
	// Reachability checks fail fast within one timeout; the collector
	// retries once per GET.
	checker, err := probe.NewSNMPDriver(&probe.SNMPConfig{Logger: log})
	if err != nil {
		log.Error("failed to create snmp prober", "error", err)
		return err
	}
	getter, err := probe.NewSNMPDriver(&probe.SNMPConfig{Logger: log, Retries: 1})
	if err != nil {
		log.Error("failed to create snmp collector driver", "error", err)
		return err
	}

	coll, err := monitor.NewCollector(&monitor.CollectorConfig{
		Logger:    log,
		Inventory: provider,
		Pipeline:  proc,
		OIDs:      getter,
		Interval:  collectInterval,
		Workers:   collectWorkers,
	})
	if err != nil {
		log.Error("failed to create snmp collector", "error", err)
		return err
	}

	mgr, err := monitor.NewManager(&monitor.ManagerConfig{
		Logger:         log,
		Inventory:      provider,
		Recorder:       recorder,
		Pipeline:       proc,
		Notifier:       notifier,
		Settings:       settings,
		ICMP:           pinger,
		SNMP:           checker,
		Collector:      coll,
		TickInterval:   tickInterval,
		ProbeTimeout:   probeTimeout,
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		log.Error("failed to create monitor manager", "error", err)
		return err
	}

	// Set up prometheus metrics server if enabled.
	if metricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", metricsAddr)
			if err != nil {
				log.Error("failed to start prometheus metrics listener", "error", err)
				os.Exit(1)
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to serve prometheus metrics", "error", err)
				os.Exit(1)
			}
		}()
	}

	go func() {
		if err := store.Watch(ctx); err != nil {
			log.Error("config watcher failed", "error", err)
		}
	}()

	errCh := mgr.Start(ctx)
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("monitor stopped with error", "error", err)
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping")
		mgr.Stop()
		if err, ok := <-errCh; ok && err != nil {
			log.Error("monitor stopped with error", "error", err)
			return err
		}
	}

	log.Info("shutdown complete")
	return nil
}

// serviceLogLevel resolves the process log level: --verbose wins, otherwise
// the config file's logging.log_level section.
func serviceLogLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg, err := config.Load(quiet, configPath); err == nil {
		return cfg.Level()
	}
	return slog.LevelInfo
}
