// Package probe implements the stateless reachability drivers. Each driver
// turns one protocol-specific check into a uniform Result; drivers never
// touch engine state and do all blocking I/O inside the caller's context.
package probe

import "math"

type Protocol string

const (
	ProtocolICMP Protocol = "icmp"
	ProtocolSNMP Protocol = "snmp"
)

func (p Protocol) String() string {
	return string(p)
}

// Extra keys carried by Result.Extra.
const (
	ExtraPacketLoss  = "packet_loss"
	ExtraResponses   = "responses"
	ExtraUptimeTicks = "uptime_ticks"
)

// Result is the uniform outcome of one probe execution.
type Result struct {
	Protocol  Protocol
	Success   bool
	LatencyMS *float64
	Extra     map[string]any
	Err       string
}

// PacketLoss returns the ICMP loss percentage, or 0 when the result carries
// none (SNMP results, malformed extras).
func (r *Result) PacketLoss() float64 {
	if r.Extra == nil {
		return 0
	}
	loss, ok := r.Extra[ExtraPacketLoss].(float64)
	if !ok {
		return 0
	}
	return loss
}

// Responses returns the per-packet outcome list for forensic logging, or nil.
func (r *Result) Responses() []any {
	if r.Extra == nil {
		return nil
	}
	responses, ok := r.Extra[ExtraResponses].([]any)
	if !ok {
		return nil
	}
	return responses
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
