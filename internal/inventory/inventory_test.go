package inventory

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func iptr(v int) *int   { return &v }
func bptr(v bool) *bool { return &v }

func validSnapshot() *Snapshot {
	return &Snapshot{
		Groups: []Group{{
			ID:          1,
			Name:        "core",
			Interval:    60,
			PacketCount: 2,
			MaxRetries:  3,
			MonitorPing: true,
			Enabled:     true,
		}},
		Nodes: []Node{{
			ID:      1,
			Name:    "edge-1",
			IP:      "10.0.0.1",
			GroupID: 1,
			Enabled: true,
		}},
	}
}

func TestInventory_Node_FallbackChains(t *testing.T) {
	t.Parallel()

	group := &Group{
		Interval:      60,
		PacketCount:   2,
		MaxRetries:    3,
		MonitorPing:   true,
		MonitorSNMP:   false,
		SNMPCommunity: "public",
		SNMPPort:      161,
	}

	bare := &Node{}
	require.Equal(t, 60*time.Second, bare.EffectiveInterval(group))
	require.Equal(t, 2, bare.EffectivePacketCount(group))
	require.Equal(t, 3, bare.EffectiveMaxRetries(group))
	require.True(t, bare.PingEnabled(group))
	require.False(t, bare.SNMPEnabled(group))
	require.Equal(t, "public", bare.EffectiveCommunity(group))
	require.Equal(t, uint16(161), bare.EffectivePort(group))
	require.Zero(t, bare.Priority())

	overridden := &Node{
		Interval:             iptr(10),
		PacketCount:          iptr(4),
		MaxRetries:           iptr(0),
		MonitorPing:          bptr(false),
		MonitorSNMP:          bptr(true),
		SNMPCommunity:        "sekrit",
		SNMPPort:             1161,
		NotificationPriority: iptr(2),
	}
	require.Equal(t, 10*time.Second, overridden.EffectiveInterval(group))
	require.Equal(t, 4, overridden.EffectivePacketCount(group))
	require.Zero(t, overridden.EffectiveMaxRetries(group), "explicit zero beats the group default")
	require.False(t, overridden.PingEnabled(group))
	require.True(t, overridden.SNMPEnabled(group))
	require.Equal(t, "sekrit", overridden.EffectiveCommunity(group))
	require.Equal(t, uint16(1161), overridden.EffectivePort(group))
	require.Equal(t, 2, overridden.Priority())
}

func TestInventory_Snapshot_ValidateFillsGroupDefaults(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{
		Groups: []Group{{ID: 1, Name: "core", MaxRetries: -1}},
	}
	require.NoError(t, snap.Validate())

	g := snap.GroupByID(1)
	require.NotNil(t, g)
	require.Equal(t, DefaultInterval, g.Interval)
	require.Equal(t, DefaultPacketCount, g.PacketCount)
	require.Equal(t, DefaultMaxRetries, g.MaxRetries)
	require.Equal(t, DefaultSNMPCommunity, g.SNMPCommunity)
	require.Equal(t, uint16(DefaultSNMPPort), g.SNMPPort)
}

func TestInventory_Snapshot_ValidatePreservesZeroRetries(t *testing.T) {
	t.Parallel()

	snap := &Snapshot{
		Groups: []Group{{ID: 1, Name: "core", MaxRetries: 0}},
	}
	require.NoError(t, snap.Validate())
	require.Zero(t, snap.GroupByID(1).MaxRetries, "zero retries is a deliberate setting, not an omission")
}

func TestInventory_Snapshot_ValidateRejectsBadEntities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Snapshot)
		want   string
	}{
		{
			"group without name",
			func(s *Snapshot) { s.Groups[0].Name = "" },
			"name is required",
		},
		{
			"duplicate group id",
			func(s *Snapshot) { s.Groups = append(s.Groups, Group{ID: 1, Name: "dup"}) },
			"duplicate id",
		},
		{
			"node without name",
			func(s *Snapshot) { s.Nodes[0].Name = "" },
			"name is required",
		},
		{
			"node with hostname instead of address",
			func(s *Snapshot) { s.Nodes[0].IP = "router.example.com" },
			"invalid IPv4 address",
		},
		{
			"node with ipv6 address",
			func(s *Snapshot) { s.Nodes[0].IP = "fe80::1" },
			"invalid IPv4 address",
		},
		{
			"duplicate node id",
			func(s *Snapshot) {
				s.Nodes = append(s.Nodes, Node{ID: 1, Name: "dup", IP: "10.0.0.2", GroupID: 1})
			},
			"duplicate id",
		},
		{
			"metric with unknown kind",
			func(s *Snapshot) {
				s.MetricDefinitions = []MetricDefinition{{ID: 1, Name: "Broken", Kind: MetricKind("histogram")}}
			},
			"invalid kind",
		},
		{
			"snmp metric without oid",
			func(s *Snapshot) {
				s.MetricDefinitions = []MetricDefinition{{ID: 1, Name: "Broken", Kind: MetricKindGauge, Source: MetricSourceSNMP}}
			},
			"oid template is required",
		},
		{
			"binding referencing unknown node",
			func(s *Snapshot) {
				s.MetricDefinitions = []MetricDefinition{{ID: 1, Name: "CPU", Kind: MetricKindGauge, OIDTemplate: "1.2.3"}}
				s.NodeMetrics = []NodeMetric{{ID: 100, NodeID: 99, MetricID: 1}}
			},
			"unknown node",
		},
		{
			"binding referencing unknown metric",
			func(s *Snapshot) {
				s.NodeMetrics = []NodeMetric{{ID: 100, NodeID: 1, MetricID: 99}}
			},
			"unknown metric definition",
		},
		{
			"binding with unknown comparator",
			func(s *Snapshot) {
				s.MetricDefinitions = []MetricDefinition{{ID: 1, Name: "CPU", Kind: MetricKindGauge, OIDTemplate: "1.2.3"}}
				s.NodeMetrics = []NodeMetric{{ID: 100, NodeID: 1, MetricID: 1, AlertCondition: Comparator("ge")}}
			},
			"invalid alert condition",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snap := validSnapshot()
			tt.mutate(snap)
			err := snap.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInventory_Snapshot_ValidateDefaultsMetricSource(t *testing.T) {
	t.Parallel()

	snap := validSnapshot()
	snap.MetricDefinitions = []MetricDefinition{{ID: 1, Name: "CPU", Kind: MetricKindGauge, OIDTemplate: "1.2.3"}}
	require.NoError(t, snap.Validate())
	require.Equal(t, MetricSourceSNMP, snap.MetricByID(1).Source)
}

func TestInventory_Snapshot_Lookups(t *testing.T) {
	t.Parallel()

	snap := validSnapshot()
	snap.MetricDefinitions = []MetricDefinition{
		{ID: 1, Name: "CPU", Kind: MetricKindGauge, OIDTemplate: "1.2.3"},
	}
	snap.NodeMetrics = []NodeMetric{
		{ID: 101, NodeID: 1, MetricID: 1, Enabled: true},
		{ID: 100, NodeID: 1, MetricID: 1},
	}
	require.NoError(t, snap.Validate())

	require.Equal(t, "core", snap.GroupByID(1).Name)
	require.Nil(t, snap.GroupByID(99))
	require.Equal(t, "edge-1", snap.NodeByID(1).Name)
	require.Nil(t, snap.NodeByID(99))
	require.Equal(t, "CPU", snap.MetricByID(1).Name)
	require.Nil(t, snap.MetricByID(99))

	bindings := snap.BindingsForNode(1)
	require.Len(t, bindings, 2)
	require.Equal(t, 101, bindings[0].ID, "declaration order preserved")
	require.Equal(t, 100, bindings[1].ID)
	require.Empty(t, snap.BindingsForNode(99))
}

func TestInventory_MetricDefinition_ResolveOID(t *testing.T) {
	t.Parallel()

	scalar := &MetricDefinition{OIDTemplate: "1.3.6.1.4.1.9.9.109.1.1.1.1.8.1"}
	oid, ok := scalar.ResolveOID(nil)
	require.True(t, ok)
	require.Equal(t, "1.3.6.1.4.1.9.9.109.1.1.1.1.8.1", oid)

	indexed := &MetricDefinition{OIDTemplate: "1.3.6.1.2.1.2.2.1.10.{index}", RequiresIndex: true}
	oid, ok = indexed.ResolveOID(iptr(4))
	require.True(t, ok)
	require.Equal(t, "1.3.6.1.2.1.2.2.1.10.4", oid)

	_, ok = indexed.ResolveOID(nil)
	require.False(t, ok, "indexed templates need a bound interface")
}

func TestInventory_NodeMetric_ConditionDefaultsToGreater(t *testing.T) {
	t.Parallel()

	require.Equal(t, ComparatorGreater, (&NodeMetric{}).Condition())
	require.Equal(t, ComparatorGreater, (&NodeMetric{AlertCondition: ComparatorGreater}).Condition())
	require.Equal(t, ComparatorLess, (&NodeMetric{AlertCondition: ComparatorLess}).Condition())
}

func TestInventory_DefaultCatalog(t *testing.T) {
	t.Parallel()

	defs := DefaultMetricDefinitions()
	require.NotEmpty(t, defs)

	byName := map[string]MetricDefinition{}
	seen := map[int]bool{}
	for _, d := range defs {
		require.False(t, seen[d.ID], "catalog id %d reused", d.ID)
		seen[d.ID] = true
		byName[d.Name] = d
	}

	latency, ok := byName[MetricNameICMPLatency]
	require.True(t, ok)
	require.Equal(t, MetricSourceICMP, latency.Source)
	loss, ok := byName[MetricNameICMPPacketLoss]
	require.True(t, ok)
	require.Equal(t, MetricSourceICMP, loss.Source)

	// The catalog itself must survive validation.
	snap := validSnapshot()
	snap.MetricDefinitions = defs
	require.NoError(t, snap.Validate())
}

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const inventoryJSON = `{
	"groups": [
		{"id": 1, "name": "core", "interval": 30, "monitor_ping": true, "enabled": true}
	],
	"nodes": [
		{"id": 1, "name": "edge-1", "ip": "10.0.0.1", "group_id": 1, "enabled": true}
	],
	"node_metrics": [
		{"id": 100, "node_id": 1, "metric_id": 11, "enabled": true}
	]
}`

func TestInventory_FileProvider_LoadsAndInjectsCatalog(t *testing.T) {
	t.Parallel()

	provider, err := NewFileProvider(&FileProviderConfig{
		Logger: testLogger(),
		Path:   writeInventory(t, inventoryJSON),
	})
	require.NoError(t, err)

	snap, err := provider.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Groups, 1)
	require.Equal(t, 30, snap.Groups[0].Interval)

	// No metric_definitions in the file: the built-in catalog backs the
	// binding's metric_id.
	require.NotNil(t, snap.MetricByID(11))
	require.Equal(t, MetricNameICMPLatency, snap.MetricByID(11).Name)
	require.Len(t, snap.BindingsForNode(1), 1)
}

func TestInventory_FileProvider_CachesUntilInvalidated(t *testing.T) {
	t.Parallel()

	path := writeInventory(t, inventoryJSON)
	provider, err := NewFileProvider(&FileProviderConfig{
		Logger:   testLogger(),
		Path:     path,
		CacheTTL: time.Minute,
	})
	require.NoError(t, err)

	snap, err := provider.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, snap.Groups[0].Interval)

	updated := `{
		"groups": [{"id": 1, "name": "core", "interval": 45, "monitor_ping": true, "enabled": true}],
		"nodes": []
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	snap, err = provider.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, snap.Groups[0].Interval, "cached snapshot served within the TTL")

	provider.Invalidate()
	snap, err = provider.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 45, snap.Groups[0].Interval)
}

func TestInventory_FileProvider_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		missing bool
		want    string
	}{
		{"missing file", "", true, "error reading inventory file"},
		{"malformed json", "{", false, "error parsing inventory file"},
		{"invalid entities", `{"groups":[{"id":1,"name":"core"}],"nodes":[{"id":1,"name":"edge-1","ip":"not-an-ip","group_id":1}]}`, false, "invalid inventory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "inventory.json")
			if !tt.missing {
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			}
			provider, err := NewFileProvider(&FileProviderConfig{Logger: testLogger(), Path: path})
			require.NoError(t, err)

			_, err = provider.Snapshot(context.Background())
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInventory_FileProvider_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileProvider(&FileProviderConfig{Logger: testLogger()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "inventory path is required")
}
