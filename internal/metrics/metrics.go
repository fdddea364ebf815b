// Package metrics registers the engine's Prometheus collectors. Names and
// label values are constants so call sites never invent a label on the fly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "netpulse"

	// Metric names.
	MetricNameBuildInfo               = Namespace + "_build_info"
	MetricNameTicks                   = Namespace + "_ticks_total"
	MetricNameTickDuration            = Namespace + "_tick_duration_seconds"
	MetricNameProbes                  = Namespace + "_probes_total"
	MetricNameInflightProbes          = Namespace + "_inflight_probes"
	MetricNameNodesByStatus           = Namespace + "_nodes_by_status"
	MetricNameRecordsWritten          = Namespace + "_records_written_total"
	MetricNameRecordWriteErrors       = Namespace + "_record_write_errors_total"
	MetricNameNotifications           = Namespace + "_notifications_total"
	MetricNameNotificationsSuppressed = Namespace + "_notifications_suppressed_total"
	MetricNameSNMPCollections         = Namespace + "_snmp_collections_total"
	MetricNameInventoryErrors         = Namespace + "_inventory_errors_total"
	MetricNameConfigReloads           = Namespace + "_config_reloads_total"

	// Labels.
	LabelVersion  = "version"
	LabelCommit   = "commit"
	LabelDate     = "date"
	LabelStatus   = "status"
	LabelProtocol = "protocol"
	LabelResult   = "result"
	LabelSink     = "sink"
	LabelKind     = "kind"
	LabelReason   = "reason"

	// Result values.
	ResultOK    = "ok"
	ResultError = "error"

	// Sink values.
	SinkInflux = "influx"
	SinkFile   = "file"

	// Record kinds.
	RecordKindReachability = "reachability"
	RecordKindMetric       = "metric"

	// Notification kinds.
	NotificationKindAlert    = "alert"
	NotificationKindResolved = "resolved"
	NotificationKindDown     = "down"
	NotificationKindStorm    = "storm"

	// Suppression reasons.
	SuppressReasonCooldown    = "cooldown"
	SuppressReasonStorm       = "storm"
	SuppressReasonMaintenance = "maintenance"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameBuildInfo,
			Help: "Build information of the monitoring engine",
		},
		[]string{LabelVersion, LabelCommit, LabelDate},
	)

	Ticks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameTicks,
			Help: "Number of manager ticks by outcome",
		},
		[]string{LabelStatus},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameTickDuration,
			Help:    "Duration of manager ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	Probes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameProbes,
			Help: "Number of probes executed by protocol and result",
		},
		[]string{LabelProtocol, LabelResult},
	)

	InflightProbes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameInflightProbes,
			Help: "Number of probes currently in flight",
		},
	)

	NodesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameNodesByStatus,
			Help: "Number of nodes per combined status",
		},
		[]string{LabelStatus},
	)

	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameRecordsWritten,
			Help: "Number of records written per sink and record kind",
		},
		[]string{LabelSink, LabelKind},
	)

	RecordWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameRecordWriteErrors,
			Help: "Number of failed record writes per sink",
		},
		[]string{LabelSink},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameNotifications,
			Help: "Number of notification attempts by kind and result",
		},
		[]string{LabelKind, LabelResult},
	)

	NotificationsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameNotificationsSuppressed,
			Help: "Number of notifications suppressed by reason",
		},
		[]string{LabelReason},
	)

	SNMPCollections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSNMPCollections,
			Help: "Number of SNMP metric collections by result",
		},
		[]string{LabelResult},
	)

	InventoryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameInventoryErrors,
			Help: "Number of inventory snapshot failures",
		},
	)

	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameConfigReloads,
			Help: "Number of configuration reloads by result",
		},
		[]string{LabelResult},
	)
)
