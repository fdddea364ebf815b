// Package monitor drives the probing control loop: inventory-driven
// scheduling, reachability state transitions, persistence of probe results,
// ICMP-sourced metric feeds, DOWN notifications behind a storm gate, and the
// SNMP metric collection sub-loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/netpulselabs/netpulse/internal/config"
	"github.com/netpulselabs/netpulse/internal/inventory"
	"github.com/netpulselabs/netpulse/internal/metrics"
	"github.com/netpulselabs/netpulse/internal/probe"
	"github.com/netpulselabs/netpulse/internal/processor"
	"github.com/netpulselabs/netpulse/internal/sched"
	"github.com/netpulselabs/netpulse/internal/storage"
)

const appName = "NetPulse"

const (
	// DefaultTickInterval is the scheduler pass cadence; per-node heartbeat
	// intervals come from inventory.
	DefaultTickInterval = time.Second

	// DefaultProbeTimeout bounds one protocol check for one node.
	DefaultProbeTimeout = 5 * time.Second
)

// Tick outcome labels for the ticks_total counter.
const (
	tickOK           = "ok"
	tickInventoryErr = "inventory_err"
	tickInvariantErr = "invariant_err"
)

// Notifier is the outbound push contract shared with the metric processor.
type Notifier interface {
	Send(ctx context.Context, title, message string, priority int) bool
}

// ReachabilityWriter is the slice of the storage façade the manager writes
// probe outcomes to.
type ReachabilityWriter interface {
	WriteReachability(rec *storage.ReachabilityRecord)
}

// MetricPipeline is the slice of the metric processor the manager and the
// SNMP collector drive.
type MetricPipeline interface {
	Process(ctx context.Context, node *inventory.Node, group *inventory.Group, binding *inventory.NodeMetric, def *inventory.MetricDefinition, raw any) (*processor.Sample, error)
	ClearNode(nodeID int, bindingIDs []int) error
	NodeAlertStatus(bindingIDs []int) string
}

// ICMPProber runs one ICMP reachability check.
type ICMPProber interface {
	Check(ctx context.Context, ip string, count int) *probe.Result
}

// SNMPProber runs one SNMP reachability check.
type SNMPProber interface {
	Check(ctx context.Context, target probe.Target) *probe.Result
}

type ManagerConfig struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Inventory inventory.Provider
	Recorder  ReachabilityWriter
	Pipeline  MetricPipeline
	Notifier  Notifier
	Settings  func() config.Pushover
	ICMP      ICMPProber
	SNMP      SNMPProber

	// Collector is the optional SNMP metric sub-loop; its lifecycle is tied
	// to Run when set.
	Collector *Collector

	TickInterval   time.Duration
	ProbeTimeout   time.Duration
	MaxConcurrency int
}

func (c *ManagerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Inventory == nil {
		return errors.New("inventory provider is required")
	}
	if c.Recorder == nil {
		return errors.New("recorder is required")
	}
	if c.Pipeline == nil {
		return errors.New("metric pipeline is required")
	}
	if c.Notifier == nil {
		return errors.New("notifier is required")
	}
	if c.Settings == nil {
		return errors.New("settings func is required")
	}
	if c.ICMP == nil {
		return errors.New("icmp prober is required")
	}
	if c.SNMP == nil {
		return errors.New("snmp prober is required")
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.TickInterval < 0 {
		return errors.New("tick interval must be greater than 0")
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ProbeTimeout < 0 {
		return errors.New("probe timeout must be greater than 0")
	}
	return nil
}

// LastResult is the most recent combined outcome for one node, served by
// Status snapshots. Nodes that were never probed have no entry.
type LastResult struct {
	NodeID      int       `json:"node_id"`
	NodeName    string    `json:"node_name"`
	IP          string    `json:"ip"`
	GroupName   string    `json:"group_name"`
	Status      string    `json:"status"`
	LatencyMS   *float64  `json:"latency"`
	PacketLoss  float64   `json:"packet_loss"`
	Timestamp   time.Time `json:"timestamp"`
	MonitorPing bool      `json:"monitor_ping"`
	MonitorSNMP bool      `json:"monitor_snmp"`
}

// Status is the public snapshot of the control loop.
type Status struct {
	Running        bool         `json:"running"`
	MonitoredCount int          `json:"monitored_devices"`
	LatestResults  []LastResult `json:"latest_results"`
}

// Manager owns the per-node reachability runtime: it schedules probes from
// the inventory snapshot, applies the state machine, persists results, feeds
// ICMP metrics to the processor, and raises DOWN notifications.
type Manager struct {
	log     *slog.Logger
	cfg     *ManagerConfig
	clock   clockwork.Clock
	limiter *sched.Limiter
	tracker *sched.Tracker
	storm   *stormGate

	mu     sync.Mutex
	states map[int]nodeState
	latest map[int]LastResult

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewManager(cfg *ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		log:     cfg.Logger,
		cfg:     cfg,
		clock:   cfg.Clock,
		limiter: sched.NewLimiter(cfg.MaxConcurrency),
		tracker: sched.NewTracker(),
		storm:   newStormGate(cfg.Logger, cfg.Clock, cfg.Notifier, cfg.Settings),
		states:  make(map[int]nodeState),
		latest:  make(map[int]LastResult),
		stop:    make(chan struct{}),
	}, nil
}

// Start runs the control loop in the background and returns a channel that
// yields the terminal error, if any, before closing.
func (m *Manager) Start(ctx context.Context) <-chan error {
	errCh := make(chan error)
	go func() {
		err := m.Run(ctx)
		if err != nil {
			select {
			case errCh <- err:
			default:
				m.log.Error("monitor: error channel is full, skipping error", "error", err)
			}
		}
		close(errCh)
	}()
	return errCh
}

// Run blocks driving scheduler ticks until the context is done, Stop is
// called, or an unrecoverable error occurs. The SNMP collector, when
// configured, shares the loop's lifecycle.
func (m *Manager) Run(ctx context.Context) error {
	m.log.Info("monitor: starting",
		"tickInterval", m.cfg.TickInterval,
		"probeTimeout", m.cfg.ProbeTimeout,
		"maxConcurrency", m.limiter.Cap(),
	)
	m.running.Store(true)
	defer m.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	if m.cfg.Collector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.cfg.Collector.Run(runCtx); err != nil {
				errCh <- fmt.Errorf("failed to run snmp collector: %w", err)
			}
		}()
	}

	ticker := m.clock.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	err := m.tick(runCtx)

loop:
	for err == nil {
		select {
		case <-runCtx.Done():
			m.log.Info("monitor: context done, stopping", "reason", runCtx.Err())
			break loop
		case <-m.stop:
			m.log.Info("monitor: stop requested, shutting down")
			break loop
		case e := <-errCh:
			m.log.Error("monitor: shutting down due to error", "error", e)
			err = e
		case <-ticker.Chan():
			err = m.tick(runCtx)
		}
	}
	if err != nil {
		m.log.Error("monitor: control loop failed", "error", err)
	}

	cancel()
	wg.Wait()
	return err
}

// Stop requests a cooperative shutdown. In-flight probes finish up to their
// own timeouts before Run returns.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Remove evicts all runtime state for a node that left the inventory.
func (m *Manager) Remove(nodeID int) {
	m.mu.Lock()
	delete(m.states, nodeID)
	delete(m.latest, nodeID)
	m.mu.Unlock()
	m.tracker.Remove(nodeID)
	m.log.Info("monitor: removed node from runtime state", "node_id", nodeID)
}

// MarkPaused immediately reflects an operator disable in the status snapshot
// and clears failure counters, without waiting for the next tick.
func (m *Manager) MarkPaused(node *inventory.Node) {
	now := m.clock.Now()
	m.mu.Lock()
	m.states[node.ID] = nodeState{State: StatePaused}
	last, ok := m.latest[node.ID]
	if !ok {
		last = LastResult{NodeID: node.ID, NodeName: node.Name, IP: node.IP}
	}
	last.Status = StatePaused.String()
	last.LatencyMS = nil
	last.PacketLoss = 0
	last.Timestamp = now
	last.MonitorPing = false
	last.MonitorSNMP = false
	m.latest[node.ID] = last
	m.mu.Unlock()
	m.log.Info("monitor: node marked paused", "node", node.Name)
}

// TriggerImmediate clears the node's scheduling stamp so the next tick probes
// it regardless of its interval.
func (m *Manager) TriggerImmediate(nodeID int) {
	m.tracker.Reset(nodeID)
	m.log.Info("monitor: triggered immediate check", "node_id", nodeID)
}

// Status reports the control loop state and the latest known result per
// node, ordered by node id.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]LastResult, 0, len(m.latest))
	for _, lr := range m.latest {
		results = append(results, lr)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].NodeID < results[j].NodeID })
	return Status{
		Running:        m.running.Load(),
		MonitoredCount: m.tracker.Len(),
		LatestResults:  results,
	}
}

// tick runs one scheduler pass: snapshot inventory and fan out per-node work
// bounded by the limiter. The returned error is fatal to the control loop;
// inventory failures only skip the pass.
func (m *Manager) tick(ctx context.Context) error {
	start := m.clock.Now()
	defer func() {
		metrics.TickDuration.Observe(m.clock.Since(start).Seconds())
	}()

	snap, err := m.cfg.Inventory.Snapshot(ctx)
	if err != nil {
		m.log.Error("monitor: failed to snapshot inventory, skipping tick", "error", err)
		metrics.InventoryErrors.Inc()
		metrics.Ticks.WithLabelValues(tickInventoryErr).Inc()
		return nil
	}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var firstErr error
	for i := range snap.Nodes {
		node := &snap.Nodes[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.limiter.Acquire(ctx); err != nil {
				return
			}
			defer m.limiter.Release()
			if err := m.processNode(ctx, snap, node); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()

	m.publishGauges()
	if firstErr != nil {
		metrics.Ticks.WithLabelValues(tickInvariantErr).Inc()
		return firstErr
	}
	metrics.Ticks.WithLabelValues(tickOK).Inc()
	return nil
}

// processNode runs one node through the tick algorithm. The returned error
// is an invariant violation; every operational failure is handled in place.
func (m *Manager) processNode(ctx context.Context, snap *inventory.Snapshot, node *inventory.Node) error {
	group := snap.GroupByID(node.GroupID)
	if group == nil {
		m.log.Warn("monitor: node has no group, skipping", "node", node.Name, "node_id", node.ID)
		return nil
	}

	now := m.clock.Now()

	if !node.Enabled || !group.Enabled {
		m.pauseNode(snap, node, group, now)
		return nil
	}

	m.mu.Lock()
	st, known := m.states[node.ID]
	if !known {
		st = nodeState{State: StateUp}
		m.states[node.ID] = st
	}
	if st.State == StatePaused {
		// Operator re-enabled the node: back to UP and due immediately.
		st = nodeState{State: StateUp}
		m.states[node.ID] = st
		m.tracker.Reset(node.ID)
		m.log.Info("monitor: node re-enabled, resuming checks", "node", node.Name)
	}
	cur := st.State
	m.mu.Unlock()

	interval := sched.EffectiveInterval(node.EffectiveInterval(group), cur == StatePending)
	if !m.tracker.Due(node.ID, now, interval) {
		return nil
	}
	if !m.tracker.Begin(node.ID, now) {
		return nil
	}
	defer m.tracker.End(node.ID)

	usePing := node.PingEnabled(group)
	useSNMP := node.SNMPEnabled(group)
	if !usePing && !useSNMP {
		return nil
	}

	results := make([]*probe.Result, 0, 2)
	if usePing {
		results = append(results, m.runProbe(ctx, probe.ProtocolICMP, func(pctx context.Context) *probe.Result {
			return m.cfg.ICMP.Check(pctx, node.IP, node.EffectivePacketCount(group))
		}))
	}
	if useSNMP {
		target := probe.Target{
			IP:        node.IP,
			Port:      node.EffectivePort(group),
			Community: node.EffectiveCommunity(group),
		}
		results = append(results, m.runProbe(ctx, probe.ProtocolSNMP, func(pctx context.Context) *probe.Result {
			return m.cfg.SNMP.Check(pctx, target)
		}))
	}

	success := true
	for _, r := range results {
		success = success && r.Success
	}

	maxRetries := node.EffectiveMaxRetries(group)
	m.mu.Lock()
	prev := m.states[node.ID]
	next, downEntered, err := transition(prev, success, maxRetries, now)
	if err == nil {
		m.states[node.ID] = next
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("node %d: %w", node.ID, err)
	}

	m.logTransition(node, prev, next, maxRetries)

	for _, r := range results {
		status := next.State
		if status != StatePending {
			if r.Success {
				status = StateUp
			} else {
				status = StateDown
			}
		}
		m.cfg.Recorder.WriteReachability(&storage.ReachabilityRecord{
			Time:       now,
			Node:       node.Name,
			IP:         node.IP,
			Group:      group.Name,
			Protocol:   r.Protocol.String(),
			Status:     status.String(),
			Success:    r.Success,
			LatencyMS:  r.LatencyMS,
			PacketLoss: r.PacketLoss(),
			Responses:  r.Responses(),
		})
	}

	m.feedICMPMetrics(ctx, snap, node, group, results)

	avgLatency, packetLoss := summarize(results)
	display := next.State.String()
	if next.State == StateUp {
		display = m.cfg.Pipeline.NodeAlertStatus(bindingIDs(snap, node.ID))
	}
	m.mu.Lock()
	m.latest[node.ID] = LastResult{
		NodeID:      node.ID,
		NodeName:    node.Name,
		IP:          node.IP,
		GroupName:   group.Name,
		Status:      display,
		LatencyMS:   avgLatency,
		PacketLoss:  packetLoss,
		Timestamp:   now,
		MonitorPing: usePing,
		MonitorSNMP: useSNMP,
	}
	m.mu.Unlock()

	if downEntered {
		m.storm.notifyDown(ctx, node, group)
	}
	return nil
}

// pauseNode reflects an operator disable: PAUSED state and snapshot entry on
// every tick, plus a PAUSED reachability record and an alert-state clear on
// the first tick after the disable.
func (m *Manager) pauseNode(snap *inventory.Snapshot, node *inventory.Node, group *inventory.Group, now time.Time) {
	m.mu.Lock()
	prev, known := m.states[node.ID]
	m.states[node.ID] = nodeState{State: StatePaused}
	m.latest[node.ID] = LastResult{
		NodeID:    node.ID,
		NodeName:  node.Name,
		IP:        node.IP,
		GroupName: group.Name,
		Status:    StatePaused.String(),
		Timestamp: now,
	}
	m.mu.Unlock()

	if known && prev.State == StatePaused {
		return
	}

	m.log.Info("monitor: node disabled, pausing", "node", node.Name)
	proto := probe.ProtocolICMP
	if !node.PingEnabled(group) && node.SNMPEnabled(group) {
		proto = probe.ProtocolSNMP
	}
	m.cfg.Recorder.WriteReachability(&storage.ReachabilityRecord{
		Time:     now,
		Node:     node.Name,
		IP:       node.IP,
		Group:    group.Name,
		Protocol: proto.String(),
		Status:   StatePaused.String(),
		Success:  false,
	})
	if err := m.cfg.Pipeline.ClearNode(node.ID, bindingIDs(snap, node.ID)); err != nil {
		m.log.Warn("monitor: failed to clear alert states", "node", node.Name, "error", err)
	}
}

// runProbe executes one protocol check under the probe timeout and counts it.
func (m *Manager) runProbe(ctx context.Context, proto probe.Protocol, check func(context.Context) *probe.Result) *probe.Result {
	metrics.InflightProbes.Inc()
	defer metrics.InflightProbes.Dec()

	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	res := check(pctx)
	metrics.Probes.WithLabelValues(proto.String(), resultLabel(res.Success)).Inc()
	return res
}

// feedICMPMetrics pushes the ICMP probe outcome through the node's
// ICMP-sourced metric bindings: latency when at least one reply arrived,
// packet loss always.
func (m *Manager) feedICMPMetrics(ctx context.Context, snap *inventory.Snapshot, node *inventory.Node, group *inventory.Group, results []*probe.Result) {
	var icmp *probe.Result
	for _, r := range results {
		if r.Protocol == probe.ProtocolICMP {
			icmp = r
			break
		}
	}
	if icmp == nil {
		return
	}

	bindings := snap.BindingsForNode(node.ID)
	for i := range bindings {
		binding := &bindings[i]
		if !binding.Enabled {
			continue
		}
		def := snap.MetricByID(binding.MetricID)
		if def == nil || def.Source != inventory.MetricSourceICMP {
			continue
		}

		var raw any
		switch def.Name {
		case inventory.MetricNameICMPLatency:
			if icmp.LatencyMS == nil {
				continue
			}
			raw = *icmp.LatencyMS
		case inventory.MetricNameICMPPacketLoss:
			raw = icmp.PacketLoss()
		default:
			continue
		}
		if _, err := m.cfg.Pipeline.Process(ctx, node, group, binding, def, raw); err != nil {
			m.log.Warn("monitor: metric pipeline failed", "node", node.Name, "metric", def.Name, "error", err)
		}
	}
}

func (m *Manager) logTransition(node *inventory.Node, prev, next nodeState, maxRetries int) {
	switch {
	case next.State == StateUp && (prev.State == StatePending || prev.State == StateDown):
		m.log.Info("monitor: node recovered", "node", node.Name)
	case next.State == StatePending && prev.State != StatePending:
		m.log.Warn("monitor: node check failed, entering pending", "node", node.Name, "max_retries", maxRetries)
	case next.State == StatePending && prev.State == StatePending:
		m.log.Warn("monitor: node retry failed", "node", node.Name, "retries", next.FailureCount, "max_retries", maxRetries)
	case next.State == StateDown && prev.State != StateDown:
		m.log.Error("monitor: node exceeded max retries, marking down", "node", node.Name)
	}
}

// publishGauges exports the per-state node counts from the reachability map.
func (m *Manager) publishGauges() {
	counts := make(map[State]int, 4)
	m.mu.Lock()
	for _, st := range m.states {
		counts[st.State]++
	}
	m.mu.Unlock()
	for _, s := range []State{StateUp, StatePending, StateDown, StatePaused} {
		metrics.NodesByStatus.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

// summarize folds probe results into the snapshot fields: mean latency over
// successful probes and the ICMP packet loss.
func summarize(results []*probe.Result) (*float64, float64) {
	loss := 0.0
	var latencies []float64
	for _, r := range results {
		if r.Success && r.LatencyMS != nil {
			latencies = append(latencies, *r.LatencyMS)
		}
		if r.Protocol == probe.ProtocolICMP {
			loss = r.PacketLoss()
		}
	}
	if len(latencies) == 0 {
		return nil, loss
	}
	sum := 0.0
	for _, l := range latencies {
		sum += l
	}
	avg := sum / float64(len(latencies))
	return &avg, loss
}

func bindingIDs(snap *inventory.Snapshot, nodeID int) []int {
	bindings := snap.BindingsForNode(nodeID)
	ids := make([]int, 0, len(bindings))
	for _, b := range bindings {
		ids = append(ids, b.ID)
	}
	return ids
}

func resultLabel(ok bool) string {
	if ok {
		return metrics.ResultOK
	}
	return metrics.ResultError
}
