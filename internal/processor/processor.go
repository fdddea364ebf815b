// Package processor turns raw metric samples into rates, alert-state
// transitions, and persisted metric records. It owns the alert-state file
// and the per-binding notification cooldown; reachability alerting lives in
// the monitor package.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/netpulselabs/netpulse/internal/config"
	"github.com/netpulselabs/netpulse/internal/inventory"
	"github.com/netpulselabs/netpulse/internal/metrics"
	"github.com/netpulselabs/netpulse/internal/storage"
)

const (
	appName = "NetPulse"

	DefaultStateFilePath        = "data/alert_states.json"
	DefaultNotificationCooldown = 60 * time.Second

	// Downgrades must clear the threshold by this margin before an alert is
	// released, so a value hovering at the line does not flap.
	hysteresisFactor = 0.05
)

// Level is a persisted alert severity. The empty string means no alert.
type Level string

const (
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Aggregated node alert status tokens, worst alert wins.
const (
	AlertStatusUp      = "UP"
	AlertStatusPending = "PENDING"
	AlertStatusDown    = "DOWN"
)

// Notifier is the outbound push contract. Send reports delivery so the
// cooldown stamp can be withheld on failure.
type Notifier interface {
	Send(ctx context.Context, title, message string, priority int) bool
}

// MetricWriter is the slice of the storage façade the processor writes to.
type MetricWriter interface {
	WriteMetric(rec *storage.MetricRecord)
}

// Sample is the outcome of one pipeline pass: the final value after rate
// derivation and the unit it is expressed in.
type Sample struct {
	Value any
	Unit  string
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Recorder MetricWriter
	Notifier Notifier

	// Settings returns the current pushover section; consulted per sample so
	// reloads take effect immediately.
	Settings func() config.Pushover

	// StateFilePath locates the persisted alert-state JSON.
	StateFilePath string

	// NotificationCooldown suppresses repeat sends per binding; alerts and
	// resolutions share the window.
	NotificationCooldown time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Recorder == nil {
		return errors.New("recorder is required")
	}
	if c.Notifier == nil {
		return errors.New("notifier is required")
	}
	if c.Settings == nil {
		return errors.New("settings func is required")
	}
	if c.StateFilePath == "" {
		c.StateFilePath = DefaultStateFilePath
	}
	if c.NotificationCooldown == 0 {
		c.NotificationCooldown = DefaultNotificationCooldown
	}
	if c.NotificationCooldown < 0 {
		return errors.New("notification cooldown must be greater than 0")
	}
	return nil
}

type previousSample struct {
	value float64
	at    time.Time
}

// Processor runs the metric pipeline. One mutex serializes every
// threshold decision with its state-file write, and the state file is
// re-read before each decision so concurrent writers stay coherent.
type Processor struct {
	log      *slog.Logger
	clock    clockwork.Clock
	recorder MetricWriter
	notifier Notifier
	settings func() config.Pushover

	stateFile string

	mu       sync.Mutex
	prev     map[int]previousSample
	alerts   map[int]Level
	cooldown *ttlcache.Cache[int, time.Time]
}

func New(cfg *Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Processor{
		log:       cfg.Logger,
		clock:     cfg.Clock,
		recorder:  cfg.Recorder,
		notifier:  cfg.Notifier,
		settings:  cfg.Settings,
		stateFile: cfg.StateFilePath,
		prev:      make(map[int]previousSample),
		cooldown: ttlcache.New(
			ttlcache.WithTTL[int, time.Time](cfg.NotificationCooldown),
			ttlcache.WithDisableTouchOnHit[int, time.Time](),
		),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloadAlertsLocked()
	// Write the file back immediately so an unwritable state directory
	// surfaces at startup instead of on the first alert.
	if err := p.saveAlertsLocked(); err != nil {
		return nil, fmt.Errorf("alert state file is not writable: %w", err)
	}
	return p, nil
}

// Process runs one raw sample through coercion, rate derivation, threshold
// evaluation, and persistence. It returns nil without error when a counter
// sample produced no rate (warm-up, reset, or non-numeric input). A non-nil
// error means the alert-state file could not be updated; the sample itself
// was still persisted.
func (p *Processor) Process(ctx context.Context, node *inventory.Node, group *inventory.Group, binding *inventory.NodeMetric, def *inventory.MetricDefinition, raw any) (*Sample, error) {
	now := p.clock.Now()

	value, numeric := coerceFloat(raw)
	final := raw
	unit := def.Unit
	if numeric {
		final = value
	}

	if def.Kind == inventory.MetricKindCounter {
		if !numeric {
			return nil, nil
		}
		rate, rateUnit, ok := p.deriveRate(binding.ID, value, now, unit)
		if !ok {
			return nil, nil
		}
		value, unit = rate, rateUnit
		final = rate
	}

	var alertErr error
	if numeric {
		alertErr = p.checkThresholds(ctx, node, binding, def, value, unit)
	}

	p.recorder.WriteMetric(&storage.MetricRecord{
		Time:      now,
		Node:      node.Name,
		IP:        node.IP,
		Group:     groupName(group),
		Metric:    def.Name,
		Value:     final,
		Unit:      unit,
		Interface: binding.InterfaceName,
		Kind:      string(def.Kind),
	})

	return &Sample{Value: final, Unit: unit}, alertErr
}

// deriveRate converts a counter reading into a per-second rate against the
// previous reading. The previous reading is replaced unconditionally, so a
// reset or wraparound costs exactly one sample.
func (p *Processor) deriveRate(bindingID int, value float64, now time.Time, unit string) (float64, string, bool) {
	p.mu.Lock()
	prev, had := p.prev[bindingID]
	p.prev[bindingID] = previousSample{value: value, at: now}
	p.mu.Unlock()

	if !had {
		return 0, "", false
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, "", false
	}
	dv := value - prev.value
	if dv < 0 {
		return 0, "", false
	}
	rate := dv / dt
	if unit == "bytes" {
		return rate * 8, "bps", true
	}
	return rate, unit, true
}

func (p *Processor) checkThresholds(ctx context.Context, node *inventory.Node, binding *inventory.NodeMetric, def *inventory.MetricDefinition, value float64, unit string) error {
	if !node.Enabled {
		// A paused node must not hold stale alerts.
		return p.ClearNode(node.ID, []int{binding.ID})
	}
	if !p.settings().Enabled {
		return nil
	}

	warn, crit := binding.WarningThreshold, binding.CriticalThreshold
	if warn == nil && crit == nil {
		return nil
	}
	cond := binding.Condition()
	candidate := candidateLevel(cond, value, warn, crit)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloadAlertsLocked()
	prior := p.alerts[binding.ID]

	candidate = applyHysteresis(cond, value, warn, crit, prior, candidate)
	if candidate == prior {
		return nil
	}

	if candidate == "" {
		delete(p.alerts, binding.ID)
	} else {
		p.alerts[binding.ID] = candidate
	}
	if err := p.saveAlertsLocked(); err != nil {
		return err
	}
	p.log.Info("processor: alert state changed",
		"node", node.Name,
		"metric", def.Name,
		"binding_id", binding.ID,
		"from", string(prior),
		"to", string(candidate),
		"value", value,
	)

	switch {
	case candidate != "":
		p.dispatchAlertLocked(ctx, node, def, binding.ID, candidate, cond, value, unit, warn, crit)
	case prior != "":
		p.dispatchResolvedLocked(ctx, node, def, binding.ID, value, unit)
	}
	return nil
}

func (p *Processor) dispatchAlertLocked(ctx context.Context, node *inventory.Node, def *inventory.MetricDefinition, bindingID int, level Level, cond inventory.Comparator, value float64, unit string, warn, crit *float64) {
	if p.onCooldownLocked(bindingID) {
		metrics.NotificationsSuppressed.WithLabelValues(metrics.SuppressReasonCooldown).Inc()
		p.log.Debug("processor: alert notification on cooldown", "node", node.Name, "metric", def.Name)
		return
	}

	trigger := warn
	if level == LevelCritical {
		trigger = crit
	}
	title := fmt.Sprintf("%s %s: %s - %s", appName, level, node.Name, def.Name)
	message := fmt.Sprintf("%s is %.2f %s (%s %s)", def.Name, value, unit, condSymbol(cond), formatThreshold(trigger))

	priority := node.Priority()
	if level == LevelCritical && priority < 1 {
		priority = 1
	}

	if p.notifier.Send(ctx, title, message, priority) {
		p.stampCooldownLocked(bindingID)
		metrics.Notifications.WithLabelValues(metrics.NotificationKindAlert, metrics.ResultOK).Inc()
		return
	}
	metrics.Notifications.WithLabelValues(metrics.NotificationKindAlert, metrics.ResultError).Inc()
}

func (p *Processor) dispatchResolvedLocked(ctx context.Context, node *inventory.Node, def *inventory.MetricDefinition, bindingID int, value float64, unit string) {
	if p.onCooldownLocked(bindingID) {
		metrics.NotificationsSuppressed.WithLabelValues(metrics.SuppressReasonCooldown).Inc()
		p.log.Debug("processor: resolved notification on cooldown", "node", node.Name, "metric", def.Name)
		return
	}

	title := fmt.Sprintf("%s RESOLVED: %s - %s", appName, node.Name, def.Name)
	message := fmt.Sprintf("%s returned to normal (%.2f %s)", def.Name, value, unit)

	if p.notifier.Send(ctx, title, message, 0) {
		p.stampCooldownLocked(bindingID)
		metrics.Notifications.WithLabelValues(metrics.NotificationKindResolved, metrics.ResultOK).Inc()
		return
	}
	metrics.Notifications.WithLabelValues(metrics.NotificationKindResolved, metrics.ResultError).Inc()
}

func (p *Processor) onCooldownLocked(bindingID int) bool {
	return p.cooldown.Get(bindingID) != nil
}

func (p *Processor) stampCooldownLocked(bindingID int) {
	p.cooldown.Set(bindingID, p.clock.Now(), ttlcache.DefaultTTL)
}

func candidateLevel(cond inventory.Comparator, value float64, warn, crit *float64) Level {
	if crit != nil && breaches(cond, value, *crit) {
		return LevelCritical
	}
	if warn != nil && breaches(cond, value, *warn) {
		return LevelWarning
	}
	return ""
}

func breaches(cond inventory.Comparator, value, threshold float64) bool {
	if cond == inventory.ComparatorLess {
		return value <= threshold
	}
	return value >= threshold
}

// applyHysteresis holds the prior level while the value is still within 5%
// of the threshold it is trying to leave.
func applyHysteresis(cond inventory.Comparator, value float64, warn, crit *float64, prior, candidate Level) Level {
	switch {
	case prior == LevelCritical && candidate != LevelCritical && crit != nil:
		if cond == inventory.ComparatorGreater && value > *crit*(1.0-hysteresisFactor) {
			return LevelCritical
		}
		if cond == inventory.ComparatorLess && value < *crit*(1.0+hysteresisFactor) {
			return LevelCritical
		}
	case prior == LevelWarning && candidate == "" && warn != nil:
		if cond == inventory.ComparatorGreater && value > *warn*(1.0-hysteresisFactor) {
			return LevelWarning
		}
		if cond == inventory.ComparatorLess && value < *warn*(1.0+hysteresisFactor) {
			return LevelWarning
		}
	}
	return candidate
}

func condSymbol(cond inventory.Comparator) string {
	if cond == inventory.ComparatorLess {
		return "<="
	}
	return ">="
}

func formatThreshold(threshold *float64) string {
	if threshold == nil {
		return "?"
	}
	return strconv.FormatFloat(*threshold, 'f', -1, 64)
}

func groupName(group *inventory.Group) string {
	if group == nil {
		return "global"
	}
	return group.Name
}

func coerceFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
