// Package sched provides the scheduling primitives used by the monitor
// manager: per-node last-checked bookkeeping with due-time arithmetic, and a
// bounded concurrency limiter for in-flight probes.
package sched

import (
	"sync"
	"time"
)

// Tracker records when each node was last checked and which nodes currently
// have a probe in flight. The manager consults it once per tick per node;
// all methods are safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	lastChecked map[int]time.Time
	inFlight    map[int]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		lastChecked: make(map[int]time.Time),
		inFlight:    make(map[int]struct{}),
	}
}

// Due reports whether the node should be probed at now given its effective
// interval. A node that has never been checked is always due.
func (t *Tracker) Due(nodeID int, now time.Time, interval time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastChecked[nodeID]
	if !ok || last.IsZero() {
		return true
	}
	return now.Sub(last) >= interval
}

// Begin stamps the node's last-checked time and claims its in-flight slot.
// It returns false if a probe for the node is already running, so no two
// probes for the same node ever overlap.
func (t *Tracker) Begin(nodeID int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, running := t.inFlight[nodeID]; running {
		return false
	}
	t.inFlight[nodeID] = struct{}{}
	t.lastChecked[nodeID] = now
	return true
}

// End releases the node's in-flight slot.
func (t *Tracker) End(nodeID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, nodeID)
}

// Reset clears the node's last-checked time so the next tick schedules it
// immediately.
func (t *Tracker) Reset(nodeID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.lastChecked[nodeID]; ok {
		t.lastChecked[nodeID] = time.Time{}
	}
}

// Remove evicts all bookkeeping for the node.
func (t *Tracker) Remove(nodeID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastChecked, nodeID)
	delete(t.inFlight, nodeID)
}

// Len returns the number of nodes with scheduling state, which doubles as
// the monitored-device count in status snapshots.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lastChecked)
}

// EffectiveInterval returns the probe interval to apply this tick. A node in
// the PENDING state retries at a third of its heartbeat interval.
func EffectiveInterval(base time.Duration, pending bool) time.Duration {
	if pending {
		return base / 3
	}
	return base
}
