package inventory

// DefaultMetricDefinitions is the built-in catalogue of well-known metric
// definitions, used when the inventory file does not declare its own. IDs are
// stable so bindings can reference them.
func DefaultMetricDefinitions() []MetricDefinition {
	return []MetricDefinition{
		{
			ID:            1,
			Name:          "Interface Bytes In",
			OIDTemplate:   "1.3.6.1.2.1.2.2.1.10.{index}",
			Kind:          MetricKindCounter,
			Unit:          "bytes",
			Source:        MetricSourceSNMP,
			RequiresIndex: true,
			Category:      "interface",
			DeviceType:    "generic",
		},
		{
			ID:            2,
			Name:          "Interface Bytes Out",
			OIDTemplate:   "1.3.6.1.2.1.2.2.1.16.{index}",
			Kind:          MetricKindCounter,
			Unit:          "bytes",
			Source:        MetricSourceSNMP,
			RequiresIndex: true,
			Category:      "interface",
			DeviceType:    "generic",
		},
		{
			ID:            3,
			Name:          "Interface Errors In",
			OIDTemplate:   "1.3.6.1.2.1.2.2.1.14.{index}",
			Kind:          MetricKindCounter,
			Unit:          "errors",
			Source:        MetricSourceSNMP,
			RequiresIndex: true,
			Category:      "interface",
			DeviceType:    "generic",
		},
		{
			ID:            4,
			Name:          "Interface Errors Out",
			OIDTemplate:   "1.3.6.1.2.1.2.2.1.20.{index}",
			Kind:          MetricKindCounter,
			Unit:          "errors",
			Source:        MetricSourceSNMP,
			RequiresIndex: true,
			Category:      "interface",
			DeviceType:    "generic",
		},
		{
			ID:            5,
			Name:          "Interface Status",
			OIDTemplate:   "1.3.6.1.2.1.2.2.1.8.{index}",
			Kind:          MetricKindGauge,
			Unit:          "status",
			Source:        MetricSourceSNMP,
			RequiresIndex: true,
			Category:      "interface",
			DeviceType:    "generic",
		},
		{
			ID:            6,
			Name:          "Traffic In (HC)",
			OIDTemplate:   "1.3.6.1.2.1.31.1.1.1.6.{index}",
			Kind:          MetricKindCounter,
			Unit:          "bytes",
			Source:        MetricSourceSNMP,
			RequiresIndex: true,
			Category:      "interface",
			DeviceType:    "generic",
		},
		{
			ID:            7,
			Name:          "Traffic Out (HC)",
			OIDTemplate:   "1.3.6.1.2.1.31.1.1.1.10.{index}",
			Kind:          MetricKindCounter,
			Unit:          "bytes",
			Source:        MetricSourceSNMP,
			RequiresIndex: true,
			Category:      "interface",
			DeviceType:    "generic",
		},
		{
			ID:            8,
			Name:          "CPU Utilization",
			OIDTemplate:   "1.3.6.1.2.1.25.3.3.1.2.{index}",
			Kind:          MetricKindGauge,
			Unit:          "percent",
			Source:        MetricSourceSNMP,
			RequiresIndex: true,
			Category:      "system",
			DeviceType:    "generic",
		},
		{
			ID:          9,
			Name:        "Temperature",
			OIDTemplate: "1.3.6.1.4.1.4413.1.1.43.1.8.1.5.1.0",
			Kind:        MetricKindGauge,
			Unit:        "celsius",
			Source:      MetricSourceSNMP,
			Category:    "system",
			DeviceType:  "generic",
		},
		{
			ID:          10,
			Name:        "CPU Load (%)",
			OIDTemplate: "1.3.6.1.4.1.4413.1.1.43.1.8.1.4.1.0",
			Kind:        MetricKindGauge,
			Unit:        "percent",
			Source:      MetricSourceSNMP,
			Category:    "system",
			DeviceType:  "generic",
		},
		{
			ID:         11,
			Name:       MetricNameICMPLatency,
			Kind:       MetricKindGauge,
			Unit:       "ms",
			Source:     MetricSourceICMP,
			Category:   "reachability",
			DeviceType: "generic",
		},
		{
			ID:         12,
			Name:       MetricNameICMPPacketLoss,
			Kind:       MetricKindGauge,
			Unit:       "percent",
			Source:     MetricSourceICMP,
			Category:   "reachability",
			DeviceType: "generic",
		},
	}
}
