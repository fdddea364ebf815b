package processor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// reloadAlertsLocked replaces the in-memory alert map with the file's
// contents. A missing file means no alerts; an unreadable one is logged and
// treated the same so a corrupt file cannot wedge the pipeline.
func (p *Processor) reloadAlertsLocked() {
	p.alerts = make(map[int]Level)
	data, err := os.ReadFile(p.stateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Error("processor: failed to load alert states", "path", p.stateFile, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &p.alerts); err != nil {
		p.log.Error("processor: failed to parse alert states", "path", p.stateFile, "error", err)
		p.alerts = make(map[int]Level)
	}
}

func (p *Processor) saveAlertsLocked() error {
	if dir := filepath.Dir(p.stateFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	data, err := json.Marshal(p.alerts)
	if err != nil {
		return fmt.Errorf("failed to encode alert states: %w", err)
	}
	if err := os.WriteFile(p.stateFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write alert states: %w", err)
	}
	return nil
}

// ClearNode removes the persisted alert state of the given bindings, used
// when their node goes into PAUSED. No-op when none of them hold an alert.
func (p *Processor) ClearNode(nodeID int, bindingIDs []int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reloadAlertsLocked()
	changed := false
	for _, id := range bindingIDs {
		if _, ok := p.alerts[id]; ok {
			delete(p.alerts, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	p.log.Debug("processor: cleared alert states", "node_id", nodeID, "bindings", len(bindingIDs))
	return p.saveAlertsLocked()
}

// NodeAlertStatus folds a node's binding alert levels into one status:
// any CRITICAL wins as DOWN, else any WARNING yields PENDING, else UP.
func (p *Processor) NodeAlertStatus(bindingIDs []int) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := AlertStatusUp
	for _, id := range bindingIDs {
		switch p.alerts[id] {
		case LevelCritical:
			return AlertStatusDown
		case LevelWarning:
			status = AlertStatusPending
		}
	}
	return status
}
