package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/netpulselabs/netpulse/internal/config"
	"github.com/netpulselabs/netpulse/internal/inventory"
	"github.com/netpulselabs/netpulse/internal/metrics"
)

// defaultDownTemplate formats DOWN notification bodies when
// pushover.message_template is empty.
const defaultDownTemplate = "Node {node} ({ip}) in group {group} is DOWN"

// stormGate dispatches reachability DOWN notifications, collapsing bursts
// into a single aggregate alert. It keeps a sliding window of DOWN instants;
// once the window holds alert_threshold entries, individual notifications
// are suppressed in favor of one storm notification per window. Maintenance
// mode suppresses every DOWN notification while the window keeps
// accumulating, so leaving maintenance does not instantly read as a storm.
type stormGate struct {
	log      *slog.Logger
	clock    clockwork.Clock
	notifier Notifier
	settings func() config.Pushover

	mu        sync.Mutex
	history   []time.Time
	lastStorm time.Time
}

func newStormGate(log *slog.Logger, clock clockwork.Clock, notifier Notifier, settings func() config.Pushover) *stormGate {
	return &stormGate{
		log:      log,
		clock:    clock,
		notifier: notifier,
		settings: settings,
	}
}

// notifyDown runs one DOWN entry through the maintenance and storm gates and
// dispatches whatever notification survives. A failed send does not roll the
// history entry back.
func (g *stormGate) notifyDown(ctx context.Context, node *inventory.Node, group *inventory.Group) {
	cfg := g.settings()
	if !cfg.Enabled {
		g.log.Debug("monitor: pushover disabled, skipping down notification", "node", node.Name)
		return
	}
	window := time.Duration(cfg.AlertWindow) * time.Second
	now := g.clock.Now()

	g.mu.Lock()
	g.pruneLocked(now, window)

	if cfg.MaintenanceMode {
		g.history = append(g.history, now)
		g.mu.Unlock()
		g.log.Info("monitor: maintenance mode active, suppressing down notification", "node", node.Name)
		metrics.NotificationsSuppressed.WithLabelValues(metrics.SuppressReasonMaintenance).Inc()
		return
	}

	if cfg.ThrottlingEnabled && len(g.history) >= cfg.AlertThreshold {
		count := len(g.history)
		stormDue := now.Sub(g.lastStorm) >= window
		if stormDue {
			g.lastStorm = now
		}
		g.mu.Unlock()

		g.log.Warn("monitor: alert storm detected, suppressing individual notification",
			"node", node.Name, "recent_downs", count, "window", window)
		metrics.NotificationsSuppressed.WithLabelValues(metrics.SuppressReasonStorm).Inc()
		if stormDue {
			title := fmt.Sprintf("%s STORM: multiple nodes down", appName)
			message := fmt.Sprintf("%d nodes went down within the last %d seconds. Individual alerts are suppressed.", count, cfg.AlertWindow)
			ok := g.notifier.Send(ctx, title, message, 1)
			metrics.Notifications.WithLabelValues(metrics.NotificationKindStorm, resultLabel(ok)).Inc()
		}
		return
	}

	g.history = append(g.history, now)
	g.mu.Unlock()

	priority := cfg.Priority
	if node.NotificationPriority != nil {
		priority = *node.NotificationPriority
	}
	title := fmt.Sprintf("%s DOWN: %s", appName, node.Name)
	ok := g.notifier.Send(ctx, title, renderDownMessage(cfg.MessageTemplate, node, group), priority)
	metrics.Notifications.WithLabelValues(metrics.NotificationKindDown, resultLabel(ok)).Inc()
}

// pruneLocked drops history entries older than the window. Caller holds mu.
func (g *stormGate) pruneLocked(now time.Time, window time.Duration) {
	kept := g.history[:0]
	for _, ts := range g.history {
		if now.Sub(ts) <= window {
			kept = append(kept, ts)
		}
	}
	g.history = kept
}

func renderDownMessage(template string, node *inventory.Node, group *inventory.Group) string {
	if template == "" {
		template = defaultDownTemplate
	}
	groupName := ""
	if group != nil {
		groupName = group.Name
	}
	return strings.NewReplacer(
		"{node}", node.Name,
		"{ip}", node.IP,
		"{group}", groupName,
	).Replace(template)
}
