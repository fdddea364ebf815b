// Package inventory defines the monitored-fleet entities consumed by the
// engine: groups, nodes, metric definitions, metric bindings, and interfaces.
// The engine only reads inventory; ownership stays with the external
// configuration layer. Entities cross-reference each other by identifier and
// are operated on as an immutable snapshot per tick.
package inventory

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Comparator string

const (
	ComparatorGreater Comparator = "gt"
	ComparatorLess    Comparator = "lt"
)

type MetricKind string

const (
	MetricKindCounter MetricKind = "counter"
	MetricKindGauge   MetricKind = "gauge"
	MetricKindString  MetricKind = "string"
)

type MetricSource string

const (
	MetricSourceSNMP MetricSource = "snmp"
	MetricSourceICMP MetricSource = "icmp"
)

// Names of the built-in ICMP-sourced metric definitions the manager feeds
// from probe results.
const (
	MetricNameICMPLatency    = "ICMP Latency"
	MetricNameICMPPacketLoss = "ICMP Packet Loss"
)

const (
	DefaultInterval      = 60
	DefaultPacketCount   = 1
	DefaultMaxRetries    = 3
	DefaultSNMPCommunity = "public"
	DefaultSNMPPort      = 161
)

// Group is a set of nodes sharing default scheduling and protocol settings.
type Group struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Interval      int    `json:"interval"`     // seconds between probes
	PacketCount   int    `json:"packet_count"` // ICMP echo requests per probe
	MaxRetries    int    `json:"max_retries"`
	MonitorPing   bool   `json:"monitor_ping"`
	MonitorSNMP   bool   `json:"monitor_snmp"`
	SNMPCommunity string `json:"snmp_community"`
	SNMPPort      uint16 `json:"snmp_port"`
	Enabled       bool   `json:"enabled"`
}

// Node is a monitored IPv4 endpoint. Optional fields override the group
// defaults when set.
type Node struct {
	ID                   int    `json:"id"`
	Name                 string `json:"name"`
	IP                   string `json:"ip"`
	GroupID              int    `json:"group_id"`
	Interval             *int   `json:"interval,omitempty"`
	PacketCount          *int   `json:"packet_count,omitempty"`
	MaxRetries           *int   `json:"max_retries,omitempty"`
	MonitorPing          *bool  `json:"monitor_ping,omitempty"`
	MonitorSNMP          *bool  `json:"monitor_snmp,omitempty"`
	SNMPCommunity        string `json:"snmp_community,omitempty"`
	SNMPPort             uint16 `json:"snmp_port,omitempty"`
	NotificationPriority *int   `json:"notification_priority,omitempty"`
	Enabled              bool   `json:"enabled"`
}

// EffectiveInterval resolves the node's heartbeat interval against the group
// default.
func (n *Node) EffectiveInterval(g *Group) time.Duration {
	if n.Interval != nil {
		return time.Duration(*n.Interval) * time.Second
	}
	return time.Duration(g.Interval) * time.Second
}

func (n *Node) EffectivePacketCount(g *Group) int {
	if n.PacketCount != nil {
		return *n.PacketCount
	}
	return g.PacketCount
}

func (n *Node) EffectiveMaxRetries(g *Group) int {
	if n.MaxRetries != nil {
		return *n.MaxRetries
	}
	return g.MaxRetries
}

func (n *Node) PingEnabled(g *Group) bool {
	if n.MonitorPing != nil {
		return *n.MonitorPing
	}
	return g.MonitorPing
}

func (n *Node) SNMPEnabled(g *Group) bool {
	if n.MonitorSNMP != nil {
		return *n.MonitorSNMP
	}
	return g.MonitorSNMP
}

func (n *Node) EffectiveCommunity(g *Group) string {
	if n.SNMPCommunity != "" {
		return n.SNMPCommunity
	}
	return g.SNMPCommunity
}

func (n *Node) EffectivePort(g *Group) uint16 {
	if n.SNMPPort != 0 {
		return n.SNMPPort
	}
	return g.SNMPPort
}

// Priority returns the node's notification priority, defaulting to 0.
func (n *Node) Priority() int {
	if n.NotificationPriority != nil {
		return *n.NotificationPriority
	}
	return 0
}

// MetricDefinition describes one collectable variable: an OID template for
// SNMP sources (optionally carrying an {index} placeholder) or a well-known
// ICMP-derived value.
type MetricDefinition struct {
	ID            int          `json:"id"`
	Name          string       `json:"name"`
	OIDTemplate   string       `json:"oid_template"`
	Kind          MetricKind   `json:"metric_type"`
	Unit          string       `json:"unit"`
	Source        MetricSource `json:"metric_source"`
	RequiresIndex bool         `json:"requires_index"`
	Category      string       `json:"category"`
	DeviceType    string       `json:"device_type"`
}

// ResolveOID substitutes the binding's interface index into the OID
// template. It returns false when the definition requires an index and none
// is bound.
func (d *MetricDefinition) ResolveOID(interfaceIndex *int) (string, bool) {
	if !d.RequiresIndex {
		return d.OIDTemplate, true
	}
	if interfaceIndex == nil {
		return "", false
	}
	return strings.ReplaceAll(d.OIDTemplate, "{index}", strconv.Itoa(*interfaceIndex)), true
}

// NodeMetric binds a metric definition to a node, optionally to one of its
// interfaces, with alerting thresholds.
type NodeMetric struct {
	ID                int        `json:"id"`
	NodeID            int        `json:"node_id"`
	MetricID          int        `json:"metric_id"`
	InterfaceIndex    *int       `json:"interface_index,omitempty"`
	InterfaceName     string     `json:"interface_name,omitempty"`
	Interval          int        `json:"interval"`
	Enabled           bool       `json:"enabled"`
	WarningThreshold  *float64   `json:"warning_threshold,omitempty"`
	CriticalThreshold *float64   `json:"critical_threshold,omitempty"`
	AlertCondition    Comparator `json:"alert_condition,omitempty"`
}

// Condition returns the binding's comparator, defaulting to gt.
func (m *NodeMetric) Condition() Comparator {
	if m.AlertCondition == ComparatorLess {
		return ComparatorLess
	}
	return ComparatorGreater
}

// NodeInterface is a discovered interface row; the walker that populates
// these lives outside the engine.
type NodeInterface struct {
	ID             int    `json:"id"`
	NodeID         int    `json:"node_id"`
	IfIndex        int    `json:"if_index"`
	Name           string `json:"name"`
	Alias          string `json:"alias"`
	IfType         string `json:"if_type"`
	MAC            string `json:"mac"`
	AdminStatus    string `json:"admin_status"`
	OperStatus     string `json:"oper_status"`
	MonitorEnabled bool   `json:"monitor_enabled"`
}

// Provider supplies the inventory snapshot the manager reads once per tick.
// Implementations are responsible for their own caching.
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Snapshot holds the flat inventory tables plus identifier indexes.
type Snapshot struct {
	Groups            []Group            `json:"groups"`
	Nodes             []Node             `json:"nodes"`
	MetricDefinitions []MetricDefinition `json:"metric_definitions"`
	NodeMetrics       []NodeMetric       `json:"node_metrics"`
	NodeInterfaces    []NodeInterface    `json:"node_interfaces"`

	groupsByID     map[int]*Group
	nodesByID      map[int]*Node
	metricsByID    map[int]*MetricDefinition
	bindingsByNode map[int][]NodeMetric
}

// Validate fills defaults, checks cross-references, and builds the lookup
// indexes. It must be called before the snapshot is used.
func (s *Snapshot) Validate() error {
	s.groupsByID = make(map[int]*Group, len(s.Groups))
	for i := range s.Groups {
		g := &s.Groups[i]
		if g.Name == "" {
			return fmt.Errorf("group %d: name is required", g.ID)
		}
		if g.Interval <= 0 {
			g.Interval = DefaultInterval
		}
		if g.PacketCount <= 0 {
			g.PacketCount = DefaultPacketCount
		}
		if g.MaxRetries < 0 {
			g.MaxRetries = DefaultMaxRetries
		}
		if g.SNMPCommunity == "" {
			g.SNMPCommunity = DefaultSNMPCommunity
		}
		if g.SNMPPort == 0 {
			g.SNMPPort = DefaultSNMPPort
		}
		if _, dup := s.groupsByID[g.ID]; dup {
			return fmt.Errorf("group %d: duplicate id", g.ID)
		}
		s.groupsByID[g.ID] = g
	}

	s.nodesByID = make(map[int]*Node, len(s.Nodes))
	for i := range s.Nodes {
		n := &s.Nodes[i]
		if n.Name == "" {
			return fmt.Errorf("node %d: name is required", n.ID)
		}
		if ip := net.ParseIP(n.IP); ip == nil || ip.To4() == nil {
			return fmt.Errorf("node %q: invalid IPv4 address %q", n.Name, n.IP)
		}
		if _, dup := s.nodesByID[n.ID]; dup {
			return fmt.Errorf("node %d: duplicate id", n.ID)
		}
		s.nodesByID[n.ID] = n
	}

	s.metricsByID = make(map[int]*MetricDefinition, len(s.MetricDefinitions))
	for i := range s.MetricDefinitions {
		d := &s.MetricDefinitions[i]
		switch d.Kind {
		case MetricKindCounter, MetricKindGauge, MetricKindString:
		default:
			return fmt.Errorf("metric %q: invalid kind %q", d.Name, d.Kind)
		}
		if d.Source == "" {
			d.Source = MetricSourceSNMP
		}
		if d.Source == MetricSourceSNMP && d.OIDTemplate == "" {
			return fmt.Errorf("metric %q: oid template is required", d.Name)
		}
		s.metricsByID[d.ID] = d
	}

	s.bindingsByNode = make(map[int][]NodeMetric)
	for i := range s.NodeMetrics {
		m := &s.NodeMetrics[i]
		if _, ok := s.nodesByID[m.NodeID]; !ok {
			return fmt.Errorf("node metric %d: unknown node %d", m.ID, m.NodeID)
		}
		if _, ok := s.metricsByID[m.MetricID]; !ok {
			return fmt.Errorf("node metric %d: unknown metric definition %d", m.ID, m.MetricID)
		}
		if m.AlertCondition != "" && m.AlertCondition != ComparatorGreater && m.AlertCondition != ComparatorLess {
			return fmt.Errorf("node metric %d: invalid alert condition %q", m.ID, m.AlertCondition)
		}
		s.bindingsByNode[m.NodeID] = append(s.bindingsByNode[m.NodeID], *m)
	}

	return nil
}

func (s *Snapshot) GroupByID(id int) *Group {
	return s.groupsByID[id]
}

func (s *Snapshot) NodeByID(id int) *Node {
	return s.nodesByID[id]
}

func (s *Snapshot) MetricByID(id int) *MetricDefinition {
	return s.metricsByID[id]
}

// BindingsForNode returns the node's metric bindings in declaration order.
func (s *Snapshot) BindingsForNode(nodeID int) []NodeMetric {
	return s.bindingsByNode[nodeID]
}
