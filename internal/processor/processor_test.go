package processor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/netpulselabs/netpulse/internal/config"
	"github.com/netpulselabs/netpulse/internal/inventory"
	"github.com/netpulselabs/netpulse/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

type sentMessage struct {
	Title    string
	Message  string
	Priority int
}

type mockNotifier struct {
	mu       sync.Mutex
	sends    []sentMessage
	sendFunc func(title, message string, priority int) bool
}

func (m *mockNotifier) Send(_ context.Context, title, message string, priority int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, sentMessage{Title: title, Message: message, Priority: priority})
	if m.sendFunc != nil {
		return m.sendFunc(title, message, priority)
	}
	return true
}

func (m *mockNotifier) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sends))
	copy(out, m.sends)
	return out
}

type mockWriter struct {
	mu      sync.Mutex
	records []*storage.MetricRecord
}

func (m *mockWriter) WriteMetric(rec *storage.MetricRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

func (m *mockWriter) Records() []*storage.MetricRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*storage.MetricRecord, len(m.records))
	copy(out, m.records)
	return out
}

type fixture struct {
	proc      *Processor
	notifier  *mockNotifier
	writer    *mockWriter
	clock     *clockwork.FakeClock
	stateFile string
	settings  config.Pushover
}

type fixtureOption func(*Config)

func withCooldown(d time.Duration) fixtureOption {
	return func(c *Config) { c.NotificationCooldown = d }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		notifier:  &mockNotifier{},
		writer:    &mockWriter{},
		clock:     clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		stateFile: filepath.Join(t.TempDir(), "alert_states.json"),
		settings:  config.Pushover{Enabled: true, Token: "t", UserKey: "u"},
	}
	cfg := &Config{
		Logger:        testLogger(),
		Clock:         f.clock,
		Recorder:      f.writer,
		Notifier:      f.notifier,
		Settings:      func() config.Pushover { return f.settings },
		StateFilePath: f.stateFile,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	proc, err := New(cfg)
	require.NoError(t, err)
	f.proc = proc
	return f
}

func (f *fixture) fileStates(t *testing.T) map[string]string {
	t.Helper()
	data, err := os.ReadFile(f.stateFile)
	require.NoError(t, err)
	var states map[string]string
	require.NoError(t, json.Unmarshal(data, &states))
	return states
}

func testNode() *inventory.Node {
	return &inventory.Node{ID: 1, Name: "core-sw-1", IP: "192.0.2.10", GroupID: 1, Enabled: true}
}

func testGroup() *inventory.Group {
	return &inventory.Group{ID: 1, Name: "Core"}
}

func gaugeDef() *inventory.MetricDefinition {
	return &inventory.MetricDefinition{ID: 5, Name: "CPU Usage", Kind: inventory.MetricKindGauge, Unit: "percent"}
}

func counterDef() *inventory.MetricDefinition {
	return &inventory.MetricDefinition{ID: 3, Name: "Interface Bytes In", Kind: inventory.MetricKindCounter, Unit: "bytes"}
}

func stringDef() *inventory.MetricDefinition {
	return &inventory.MetricDefinition{ID: 7, Name: "System Name", Kind: inventory.MetricKindString}
}

func thresholdBinding(warn, crit *float64, cond inventory.Comparator) *inventory.NodeMetric {
	return &inventory.NodeMetric{
		ID:                42,
		NodeID:            1,
		MetricID:          5,
		Enabled:           true,
		WarningThreshold:  warn,
		CriticalThreshold: crit,
		AlertCondition:    cond,
	}
}

func TestProcessor_ConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{})
	require.Error(t, err)

	cfg := &Config{
		Logger:   testLogger(),
		Recorder: &mockWriter{},
		Notifier: &mockNotifier{},
		Settings: func() config.Pushover { return config.Pushover{} },
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultStateFilePath, cfg.StateFilePath)
	require.Equal(t, DefaultNotificationCooldown, cfg.NotificationCooldown)
	require.NotNil(t, cfg.Clock)
}

func TestProcessor_Process_GaugePersistsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	binding := thresholdBinding(nil, nil, inventory.ComparatorGreater)
	binding.InterfaceName = "eth0"

	sample, err := f.proc.Process(context.Background(), testNode(), testGroup(), binding, gaugeDef(), 42.5)
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Equal(t, 42.5, sample.Value)
	require.Equal(t, "percent", sample.Unit)

	records := f.writer.Records()
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, "core-sw-1", rec.Node)
	require.Equal(t, "192.0.2.10", rec.IP)
	require.Equal(t, "Core", rec.Group)
	require.Equal(t, "CPU Usage", rec.Metric)
	require.Equal(t, 42.5, rec.Value)
	require.Equal(t, "percent", rec.Unit)
	require.Equal(t, "eth0", rec.Interface)
	require.Equal(t, "gauge", rec.Kind)
	require.Empty(t, f.notifier.Sent())
}

func TestProcessor_Process_MissingGroupRecordsGlobal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.proc.Process(context.Background(), testNode(), nil, thresholdBinding(nil, nil, ""), gaugeDef(), 10.0)
	require.NoError(t, err)

	records := f.writer.Records()
	require.Len(t, records, 1)
	require.Equal(t, "global", records[0].Group)
}

func TestProcessor_Process_StringValuePassthrough(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sample, err := f.proc.Process(context.Background(), testNode(), testGroup(), thresholdBinding(nil, nil, ""), stringDef(), "core-sw-1.example.net")
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Equal(t, "core-sw-1.example.net", sample.Value)

	records := f.writer.Records()
	require.Len(t, records, 1)
	require.Equal(t, "core-sw-1.example.net", records[0].Value)
	require.Equal(t, "string", records[0].Kind)
	require.Empty(t, f.notifier.Sent())
}

func TestProcessor_Process_CounterWarmupProducesNoSample(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sample, err := f.proc.Process(context.Background(), testNode(), testGroup(), thresholdBinding(nil, nil, ""), counterDef(), 1000.0)
	require.NoError(t, err)
	require.Nil(t, sample)
	require.Empty(t, f.writer.Records())
}

func TestProcessor_Process_CounterRateConvertsBytesToBits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	binding := thresholdBinding(nil, nil, "")
	node, group, def := testNode(), testGroup(), counterDef()

	sample, err := f.proc.Process(context.Background(), node, group, binding, def, 1000.0)
	require.NoError(t, err)
	require.Nil(t, sample)

	f.clock.Advance(time.Second)
	sample, err = f.proc.Process(context.Background(), node, group, binding, def, "2000")
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Equal(t, 8000.0, sample.Value)
	require.Equal(t, "bps", sample.Unit)

	records := f.writer.Records()
	require.Len(t, records, 1)
	require.Equal(t, 8000.0, records[0].Value)
	require.Equal(t, "bps", records[0].Unit)
	require.Equal(t, "counter", records[0].Kind)
}

func TestProcessor_Process_CounterRatePerSecond(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	binding := thresholdBinding(nil, nil, "")
	def := &inventory.MetricDefinition{ID: 9, Name: "Uptime", Kind: inventory.MetricKindCounter, Unit: "ticks"}
	node, group := testNode(), testGroup()

	_, err := f.proc.Process(context.Background(), node, group, binding, def, 100.0)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	sample, err := f.proc.Process(context.Background(), node, group, binding, def, 250.0)
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Equal(t, 15.0, sample.Value) // (250-100)/10, no bytes conversion
	require.Equal(t, "ticks", sample.Unit)
}

func TestProcessor_Process_CounterResetSkipsOneSample(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	binding := thresholdBinding(nil, nil, "")
	node, group, def := testNode(), testGroup(), counterDef()

	_, err := f.proc.Process(context.Background(), node, group, binding, def, 5000.0)
	require.NoError(t, err)

	f.clock.Advance(10 * time.Second)
	sample, err := f.proc.Process(context.Background(), node, group, binding, def, 100.0)
	require.NoError(t, err)
	require.Nil(t, sample) // counter went backwards

	f.clock.Advance(10 * time.Second)
	sample, err = f.proc.Process(context.Background(), node, group, binding, def, 1100.0)
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Equal(t, 800.0, sample.Value) // (1100-100)/10*8, measured from the reset base
}

func TestProcessor_Process_CounterZeroDeltaTimeNoSample(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	binding := thresholdBinding(nil, nil, "")
	node, group, def := testNode(), testGroup(), counterDef()

	_, err := f.proc.Process(context.Background(), node, group, binding, def, 1000.0)
	require.NoError(t, err)

	sample, err := f.proc.Process(context.Background(), node, group, binding, def, 2000.0)
	require.NoError(t, err)
	require.Nil(t, sample)
}

func TestProcessor_Process_CounterNonNumericNoSample(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sample, err := f.proc.Process(context.Background(), testNode(), testGroup(), thresholdBinding(nil, nil, ""), counterDef(), "n/a")
	require.NoError(t, err)
	require.Nil(t, sample)
	require.Empty(t, f.writer.Records())
}

func TestProcessor_Process_AlertSequenceWithHysteresis(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withCooldown(time.Millisecond))
	binding := thresholdBinding(fptr(80), fptr(90), inventory.ComparatorGreater)
	node, group, def := testNode(), testGroup(), gaugeDef()

	process := func(v float64) {
		t.Helper()
		time.Sleep(5 * time.Millisecond) // let the previous cooldown stamp lapse
		_, err := f.proc.Process(context.Background(), node, group, binding, def, v)
		require.NoError(t, err)
	}

	process(50)
	require.Empty(t, f.notifier.Sent())
	require.Empty(t, f.fileStates(t))

	process(85)
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "NetPulse WARNING: core-sw-1 - CPU Usage", sent[0].Title)
	require.Equal(t, "CPU Usage is 85.00 percent (>= 80)", sent[0].Message)
	require.Equal(t, map[string]string{"42": "WARNING"}, f.fileStates(t))

	process(95)
	sent = f.notifier.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, "NetPulse CRITICAL: core-sw-1 - CPU Usage", sent[1].Title)
	require.Equal(t, "CPU Usage is 95.00 percent (>= 90)", sent[1].Message)
	require.Equal(t, map[string]string{"42": "CRITICAL"}, f.fileStates(t))

	// 86 is still within 5% of the critical threshold (85.5), so the level
	// holds and nothing is sent.
	process(86)
	require.Len(t, f.notifier.Sent(), 2)
	require.Equal(t, map[string]string{"42": "CRITICAL"}, f.fileStates(t))

	process(78)
	sent = f.notifier.Sent()
	require.Len(t, sent, 3)
	require.Equal(t, "NetPulse RESOLVED: core-sw-1 - CPU Usage", sent[2].Title)
	require.Equal(t, "CPU Usage returned to normal (78.00 percent)", sent[2].Message)
	require.Equal(t, 0, sent[2].Priority)
	require.Empty(t, f.fileStates(t))
}

func TestProcessor_Process_LessThanComparator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withCooldown(time.Millisecond))
	binding := thresholdBinding(fptr(30), fptr(10), inventory.ComparatorLess)
	def := &inventory.MetricDefinition{ID: 6, Name: "Free Memory", Kind: inventory.MetricKindGauge, Unit: "percent"}
	node, group := testNode(), testGroup()

	process := func(v float64) {
		t.Helper()
		time.Sleep(5 * time.Millisecond)
		_, err := f.proc.Process(context.Background(), node, group, binding, def, v)
		require.NoError(t, err)
	}

	process(25)
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "Free Memory is 25.00 percent (<= 30)", sent[0].Message)

	process(5)
	require.Len(t, f.notifier.Sent(), 2)
	require.Equal(t, map[string]string{"42": "CRITICAL"}, f.fileStates(t))

	// 10.4 < 10.5 (crit +5%), critical holds.
	process(10.4)
	require.Len(t, f.notifier.Sent(), 2)
	require.Equal(t, map[string]string{"42": "CRITICAL"}, f.fileStates(t))

	process(12)
	require.Equal(t, map[string]string{"42": "WARNING"}, f.fileStates(t))

	// 32 > 31.5 (warn +5%), so warning releases.
	process(32)
	require.Empty(t, f.fileStates(t))
}

func TestProcessor_Process_EqualValueTriggersWarning(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	binding := thresholdBinding(fptr(80), nil, inventory.ComparatorGreater)
	_, err := f.proc.Process(context.Background(), testNode(), testGroup(), binding, gaugeDef(), 80.0)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"42": "WARNING"}, f.fileStates(t))

	f2 := newFixture(t)
	lower := thresholdBinding(fptr(20), nil, inventory.ComparatorLess)
	_, err = f2.proc.Process(context.Background(), testNode(), testGroup(), lower, gaugeDef(), 20.0)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"42": "WARNING"}, f2.fileStates(t))
}

func TestProcessor_Process_UnchangedLevelSendsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withCooldown(time.Millisecond))
	binding := thresholdBinding(fptr(80), fptr(90), inventory.ComparatorGreater)
	node, group, def := testNode(), testGroup(), gaugeDef()

	_, err := f.proc.Process(context.Background(), node, group, binding, def, 95.0)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = f.proc.Process(context.Background(), node, group, binding, def, 97.0)
	require.NoError(t, err)

	require.Len(t, f.notifier.Sent(), 1)
}

func TestProcessor_Process_CooldownSuppressesButStatePersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t) // default 60s cooldown
	binding := thresholdBinding(fptr(80), fptr(90), inventory.ComparatorGreater)
	node, group, def := testNode(), testGroup(), gaugeDef()

	_, err := f.proc.Process(context.Background(), node, group, binding, def, 95.0)
	require.NoError(t, err)
	require.Len(t, f.notifier.Sent(), 1)

	// Drop to normal within the cooldown window: the transition persists but
	// the resolved notification is suppressed.
	_, err = f.proc.Process(context.Background(), node, group, binding, def, 50.0)
	require.NoError(t, err)
	require.Len(t, f.notifier.Sent(), 1)
	require.Empty(t, f.fileStates(t))
}

func TestProcessor_Process_DispatchFailureSkipsCooldownStamp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.notifier.sendFunc = func(string, string, int) bool { return false }
	binding := thresholdBinding(fptr(80), fptr(90), inventory.ComparatorGreater)
	node, group, def := testNode(), testGroup(), gaugeDef()

	_, err := f.proc.Process(context.Background(), node, group, binding, def, 95.0)
	require.NoError(t, err)
	require.Len(t, f.notifier.Sent(), 1)

	// The failed send left no cooldown stamp, so the next transition may
	// dispatch immediately.
	_, err = f.proc.Process(context.Background(), node, group, binding, def, 50.0)
	require.NoError(t, err)
	require.Len(t, f.notifier.Sent(), 2)
}

func TestProcessor_Process_PriorityMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		nodePriority *int
		value        float64
		wantPriority int
	}{
		{"critical floors at one", nil, 95, 1},
		{"critical keeps higher override", iptr(2), 95, 2},
		{"critical raises negative override", iptr(-1), 95, 1},
		{"warning uses override", iptr(2), 85, 2},
		{"warning defaults to zero", nil, 85, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			node := testNode()
			node.NotificationPriority = tc.nodePriority
			binding := thresholdBinding(fptr(80), fptr(90), inventory.ComparatorGreater)

			_, err := f.proc.Process(context.Background(), node, testGroup(), binding, gaugeDef(), tc.value)
			require.NoError(t, err)

			sent := f.notifier.Sent()
			require.Len(t, sent, 1)
			require.Equal(t, tc.wantPriority, sent[0].Priority)
		})
	}
}

func TestProcessor_Process_DisabledNodeClearsAlertState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	binding := thresholdBinding(fptr(80), fptr(90), inventory.ComparatorGreater)
	group, def := testGroup(), gaugeDef()

	node := testNode()
	_, err := f.proc.Process(context.Background(), node, group, binding, def, 95.0)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"42": "CRITICAL"}, f.fileStates(t))

	node.Enabled = false
	sample, err := f.proc.Process(context.Background(), node, group, binding, def, 95.0)
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Empty(t, f.fileStates(t))
	require.Len(t, f.notifier.Sent(), 1) // no new notification for the clear
	require.Len(t, f.writer.Records(), 2)
}

func TestProcessor_Process_PushoverDisabledSkipsThresholds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.settings.Enabled = false
	binding := thresholdBinding(fptr(80), fptr(90), inventory.ComparatorGreater)

	sample, err := f.proc.Process(context.Background(), testNode(), testGroup(), binding, gaugeDef(), 95.0)
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Empty(t, f.notifier.Sent())
	require.Empty(t, f.fileStates(t))
	require.Len(t, f.writer.Records(), 1)
}

func TestProcessor_Process_NoThresholdsNoAlert(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.proc.Process(context.Background(), testNode(), testGroup(), thresholdBinding(nil, nil, ""), gaugeDef(), 9999.0)
	require.NoError(t, err)
	require.Empty(t, f.notifier.Sent())
	require.Empty(t, f.fileStates(t))
}

func TestProcessor_StateFileRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	binding := thresholdBinding(fptr(80), fptr(90), inventory.ComparatorGreater)
	node, group, def := testNode(), testGroup(), gaugeDef()

	_, err := f.proc.Process(context.Background(), node, group, binding, def, 95.0)
	require.NoError(t, err)

	// A second processor over the same state file sees the alert and can
	// resolve it.
	second, err := New(&Config{
		Logger:        testLogger(),
		Clock:         f.clock,
		Recorder:      f.writer,
		Notifier:      f.notifier,
		Settings:      func() config.Pushover { return config.Pushover{Enabled: true, Token: "t", UserKey: "u"} },
		StateFilePath: f.stateFile,
	})
	require.NoError(t, err)
	require.Equal(t, AlertStatusDown, second.NodeAlertStatus([]int{42}))

	_, err = second.Process(context.Background(), node, group, binding, def, 40.0)
	require.NoError(t, err)
	require.Empty(t, f.fileStates(t))

	sent := f.notifier.Sent()
	require.Len(t, sent, 2)
	require.Contains(t, sent[1].Title, "RESOLVED")
}

func TestProcessor_NodeAlertStatus_Aggregation(t *testing.T) {
	t.Parallel()

	stateFile := filepath.Join(t.TempDir(), "alert_states.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"1":"WARNING","2":"CRITICAL"}`), 0o644))

	proc, err := New(&Config{
		Logger:        testLogger(),
		Recorder:      &mockWriter{},
		Notifier:      &mockNotifier{},
		Settings:      func() config.Pushover { return config.Pushover{} },
		StateFilePath: stateFile,
	})
	require.NoError(t, err)

	require.Equal(t, AlertStatusPending, proc.NodeAlertStatus([]int{1}))
	require.Equal(t, AlertStatusDown, proc.NodeAlertStatus([]int{1, 2}))
	require.Equal(t, AlertStatusDown, proc.NodeAlertStatus([]int{2}))
	require.Equal(t, AlertStatusUp, proc.NodeAlertStatus([]int{3}))
	require.Equal(t, AlertStatusUp, proc.NodeAlertStatus(nil))
}

func TestProcessor_ClearNode_RemovesEntries(t *testing.T) {
	t.Parallel()

	stateFile := filepath.Join(t.TempDir(), "alert_states.json")
	require.NoError(t, os.WriteFile(stateFile, []byte(`{"1":"WARNING","2":"CRITICAL","3":"WARNING"}`), 0o644))

	proc, err := New(&Config{
		Logger:        testLogger(),
		Recorder:      &mockWriter{},
		Notifier:      &mockNotifier{},
		Settings:      func() config.Pushover { return config.Pushover{} },
		StateFilePath: stateFile,
	})
	require.NoError(t, err)

	require.NoError(t, proc.ClearNode(1, []int{1, 2}))

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	var states map[string]string
	require.NoError(t, json.Unmarshal(data, &states))
	require.Equal(t, map[string]string{"3": "WARNING"}, states)

	require.Equal(t, AlertStatusUp, proc.NodeAlertStatus([]int{1, 2}))
	require.Equal(t, AlertStatusPending, proc.NodeAlertStatus([]int{3}))
}

func TestProcessor_New_ToleratesCorruptStateFile(t *testing.T) {
	t.Parallel()

	stateFile := filepath.Join(t.TempDir(), "alert_states.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("{not json"), 0o644))

	proc, err := New(&Config{
		Logger:        testLogger(),
		Recorder:      &mockWriter{},
		Notifier:      &mockNotifier{},
		Settings:      func() config.Pushover { return config.Pushover{} },
		StateFilePath: stateFile,
	})
	require.NoError(t, err)
	require.Equal(t, AlertStatusUp, proc.NodeAlertStatus([]int{1}))

	// The rewrite at construction replaced the corrupt content.
	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(data))
}
