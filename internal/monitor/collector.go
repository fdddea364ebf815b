package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/netpulselabs/netpulse/internal/inventory"
	"github.com/netpulselabs/netpulse/internal/metrics"
	"github.com/netpulselabs/netpulse/internal/probe"
)

const (
	// DefaultCollectInterval is the global cadence of SNMP metric passes.
	// Per-binding intervals exist in the data model but are not scheduled
	// individually.
	DefaultCollectInterval = 10 * time.Second

	// DefaultCollectWorkers bounds concurrent per-node collection tasks.
	DefaultCollectWorkers = 8

	// defaultCollectTimeout bounds one GET within a collection pass.
	defaultCollectTimeout = 2 * time.Second
)

// OIDReader fetches OID values from an SNMP agent.
type OIDReader interface {
	Collect(ctx context.Context, target probe.Target, oids []string) (map[string]any, error)
}

type CollectorConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Inventory inventory.Provider
	Pipeline  MetricPipeline
	OIDs      OIDReader

	Interval       time.Duration
	Workers        int
	RequestTimeout time.Duration
}

func (c *CollectorConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Inventory == nil {
		return errors.New("inventory provider is required")
	}
	if c.Pipeline == nil {
		return errors.New("metric pipeline is required")
	}
	if c.OIDs == nil {
		return errors.New("oid reader is required")
	}
	if c.Interval == 0 {
		c.Interval = DefaultCollectInterval
	}
	if c.Interval < 0 {
		return errors.New("interval must be greater than 0")
	}
	if c.Workers <= 0 {
		c.Workers = DefaultCollectWorkers
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultCollectTimeout
	}
	if c.RequestTimeout < 0 {
		return errors.New("request timeout must be greater than 0")
	}
	return nil
}

// Collector is the SNMP metric sub-loop: on a fixed cadence it walks the
// enabled SNMP nodes, fetches each enabled binding's OID, and feeds the
// values through the metric pipeline. Per-node work fans out on a bounded
// worker pool; per-binding failures are logged and skipped.
type Collector struct {
	log  *slog.Logger
	cfg  *CollectorConfig
	pool pond.ResultPool[int]
}

func NewCollector(cfg *CollectorConfig) (*Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Collector{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[int](cfg.Workers),
	}, nil
}

// Run drives collection passes until the context is done.
func (c *Collector) Run(ctx context.Context) error {
	c.log.Info("collector: starting",
		"interval", c.cfg.Interval,
		"workers", c.cfg.Workers,
		"requestTimeout", c.cfg.RequestTimeout,
	)

	ticker := c.cfg.Clock.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.collect(ctx)

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("collector: context done, stopping", "reason", ctx.Err())
			c.pool.StopAndWait()
			return nil
		case <-ticker.Chan():
			c.collect(ctx)
		}
	}
}

// collect runs one pass over the enabled SNMP nodes.
func (c *Collector) collect(ctx context.Context) {
	snap, err := c.cfg.Inventory.Snapshot(ctx)
	if err != nil {
		c.log.Error("collector: failed to snapshot inventory, skipping pass", "error", err)
		metrics.InventoryErrors.Inc()
		return
	}

	group := c.pool.NewGroupContext(ctx)
	nodes := 0
	for i := range snap.Nodes {
		node := &snap.Nodes[i]
		grp := snap.GroupByID(node.GroupID)
		if grp == nil || !node.Enabled || !grp.Enabled || !node.SNMPEnabled(grp) {
			continue
		}
		bindings := snap.BindingsForNode(node.ID)
		if len(bindings) == 0 {
			continue
		}
		nodes++
		group.SubmitErr(func() (int, error) {
			return c.collectNode(ctx, snap, node, grp, bindings), nil
		})
	}
	if nodes == 0 {
		return
	}

	results, err := group.Wait()
	if err != nil {
		c.log.Debug("collector: pass interrupted", "error", err)
		return
	}
	collected := 0
	for _, n := range results {
		collected += n
	}
	c.log.Debug("collector: pass complete", "nodes", nodes, "metrics", collected)
}

// collectNode fetches every enabled SNMP binding of one node and returns how
// many values made it into the pipeline.
func (c *Collector) collectNode(ctx context.Context, snap *inventory.Snapshot, node *inventory.Node, group *inventory.Group, bindings []inventory.NodeMetric) int {
	target := probe.Target{
		IP:        node.IP,
		Port:      node.EffectivePort(group),
		Community: node.EffectiveCommunity(group),
	}

	collected := 0
	for i := range bindings {
		binding := &bindings[i]
		if !binding.Enabled {
			continue
		}
		def := snap.MetricByID(binding.MetricID)
		if def == nil || def.Source != inventory.MetricSourceSNMP {
			continue
		}
		oid, ok := def.ResolveOID(binding.InterfaceIndex)
		if !ok {
			c.log.Debug("collector: metric requires an interface index, skipping",
				"node", node.Name, "metric", def.Name)
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		values, err := c.cfg.OIDs.Collect(reqCtx, target, []string{oid})
		cancel()
		if err != nil {
			c.log.Warn("collector: snmp get failed", "node", node.Name, "metric", def.Name, "error", err)
			metrics.SNMPCollections.WithLabelValues(metrics.ResultError).Inc()
			continue
		}
		raw, ok := values[strings.TrimPrefix(oid, ".")]
		if !ok {
			c.log.Debug("collector: oid missing from response", "node", node.Name, "metric", def.Name, "oid", oid)
			metrics.SNMPCollections.WithLabelValues(metrics.ResultError).Inc()
			continue
		}
		metrics.SNMPCollections.WithLabelValues(metrics.ResultOK).Inc()

		if _, err := c.cfg.Pipeline.Process(ctx, node, group, binding, def, raw); err != nil {
			c.log.Warn("collector: metric pipeline failed", "node", node.Name, "metric", def.Name, "error", err)
			continue
		}
		collected++
	}
	return collected
}
