// Package storage persists monitoring records behind a single façade. The
// primary sink is InfluxDB when configured; a newline-delimited JSON file is
// the fallback and the default. Writes never fail the caller: persistence
// problems are logged and counted, and the monitoring loop keeps going.
package storage

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	influxdb2api "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/netpulselabs/netpulse/internal/config"
	"github.com/netpulselabs/netpulse/internal/metrics"
)

// ReachabilityRecord is one probe outcome for one node.
type ReachabilityRecord struct {
	Time       time.Time
	Node       string
	IP         string
	Group      string
	Protocol   string
	Status     string
	Success    bool
	LatencyMS  *float64
	PacketLoss float64

	// Responses holds per-packet outcomes for ICMP probes, each entry a
	// round-trip float in ms or a "timeout"/"error" token. Nil for SNMP.
	Responses []any
}

// MetricRecord is one processed metric sample for one node binding.
type MetricRecord struct {
	Time      time.Time
	Node      string
	IP        string
	Group     string
	Metric    string
	Value     any
	Unit      string
	Interface string
	Kind      string
}

// NewInfluxFunc builds a write API for the given settings and returns a
// closer that tears the underlying client down. Swappable for tests.
type NewInfluxFunc func(cfg config.InfluxDB) (influxdb2api.WriteAPI, func(), error)

type RecorderConfig struct {
	Logger *slog.Logger

	// Config is the initial engine configuration snapshot.
	Config *config.Config

	// NewInflux defaults to a real influxdb2 client.
	NewInflux NewInfluxFunc
}

func (c *RecorderConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Config == nil {
		return errors.New("config is required")
	}
	if c.NewInflux == nil {
		c.NewInflux = newInfluxWriteAPI
	}
	return nil
}

// Recorder fans records out to the active sink. One mutex serializes sink
// swaps, file appends and rotation, so a reload never interleaves with an
// in-flight file write.
type Recorder struct {
	log       *slog.Logger
	newInflux NewInfluxFunc

	mu          sync.Mutex
	influx      influxdb2api.WriteAPI
	influxStop  func()
	fileEnabled bool
	filePath    string
	retention   int
}

func NewRecorder(cfg *RecorderConfig) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Recorder{
		log:       cfg.Logger,
		newInflux: cfg.NewInflux,
	}
	r.mu.Lock()
	r.applyLocked(cfg.Config)
	r.mu.Unlock()
	return r, nil
}

// Reconfigure swaps sinks to match a fresh config snapshot. Intended as a
// config.Store subscriber; in-flight file writes finish before the swap.
func (r *Recorder) Reconfigure(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(cfg)
	r.log.Debug("storage: reconfigured",
		"influx", r.influx != nil,
		"file_enabled", r.fileEnabled,
		"file_path", r.filePath,
		"retention_lines", r.retention,
	)
}

func (r *Recorder) applyLocked(cfg *config.Config) {
	if r.influxStop != nil {
		r.influxStop()
		r.influxStop = nil
		r.influx = nil
	}

	r.fileEnabled = cfg.Logging.FileEnabled
	r.filePath = cfg.Logging.FilePath
	r.retention = cfg.Logging.RetentionLines

	if !cfg.InfluxDB.Configured() {
		return
	}
	api, closeClient, err := r.newInflux(cfg.InfluxDB)
	if err != nil {
		r.log.Warn("storage: influxdb client unavailable, falling back to file sink", "error", err)
		return
	}
	stopDrain := r.drainErrors(api)
	r.influx = api
	r.influxStop = func() {
		api.Flush()
		stopDrain()
		closeClient()
	}
}

// WriteReachability persists one probe outcome. Sink errors are logged and
// swallowed so a storage problem never aborts a monitoring tick.
func (r *Recorder) WriteReachability(rec *ReachabilityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.influx != nil {
		r.influx.WritePoint(reachabilityPoint(rec))
		metrics.RecordsWritten.WithLabelValues(metrics.SinkInflux, metrics.RecordKindReachability).Inc()
		return
	}
	r.writeFileLocked(reachabilityLine(rec), metrics.RecordKindReachability)
}

// WriteMetric persists one processed metric sample.
func (r *Recorder) WriteMetric(rec *MetricRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.influx != nil {
		r.influx.WritePoint(metricPoint(rec))
		metrics.RecordsWritten.WithLabelValues(metrics.SinkInflux, metrics.RecordKindMetric).Inc()
		return
	}
	r.writeFileLocked(metricLine(rec), metrics.RecordKindMetric)
}

// Flush pushes any buffered Influx writes out.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.influx != nil {
		r.influx.Flush()
	}
}

// Close flushes and tears down the Influx client. The recorder degrades to
// the file sink afterwards, so late writes during shutdown still land.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.influxStop != nil {
		r.influxStop()
		r.influxStop = nil
		r.influx = nil
	}
}
