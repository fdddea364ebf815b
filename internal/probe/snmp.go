package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	sysUpTimeOID = "1.3.6.1.2.1.1.3.0"

	defaultSNMPTimeout = 2 * time.Second
)

// snmpConn is the slice of gosnmp used by the driver, kept narrow so tests
// can substitute a fake transport.
type snmpConn interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	Close() error
}

// Target identifies one SNMP agent.
type Target struct {
	IP        string
	Port      uint16
	Community string
}

type SNMPConfig struct {
	Logger *slog.Logger

	// Timeout bounds each SNMP request.
	Timeout time.Duration

	// Retries is the number of retransmissions per request. Reachability
	// checks keep this at 0 so a probe failure surfaces within one timeout;
	// the metric collector runs with 1.
	Retries int

	// DialFunc isolates the UDP session for tests. Defaults to a v2c
	// gosnmp session.
	DialFunc func(ctx context.Context, target Target, timeout time.Duration) (snmpConn, error)
}

func (c *SNMPConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Timeout == 0 {
		c.Timeout = defaultSNMPTimeout
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be greater than 0")
	}
	if c.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	if c.DialFunc == nil {
		retries := c.Retries
		c.DialFunc = func(ctx context.Context, target Target, timeout time.Duration) (snmpConn, error) {
			return dialSNMP(ctx, target, timeout, retries)
		}
	}
	return nil
}

// SNMPDriver checks reachability with a sysUpTime GET and fetches arbitrary
// OID values for metric collection. Reachability sends exactly one request
// with no retries, so probe failures surface within one timeout.
type SNMPDriver struct {
	log *slog.Logger
	cfg *SNMPConfig
}

func NewSNMPDriver(cfg *SNMPConfig) (*SNMPDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SNMPDriver{log: cfg.Logger, cfg: cfg}, nil
}

// Check performs a sysUpTime.0 GET against the target. Success requires a
// well-formed integer response; latency is the wall-clock round trip of the
// request.
func (d *SNMPDriver) Check(ctx context.Context, target Target) *Result {
	conn, err := d.cfg.DialFunc(ctx, target, d.cfg.Timeout)
	if err != nil {
		return &Result{Protocol: ProtocolSNMP, Success: false, Err: err.Error()}
	}
	defer conn.Close()

	start := time.Now()
	pkt, err := conn.Get([]string{sysUpTimeOID})
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		return &Result{Protocol: ProtocolSNMP, Success: false, Err: err.Error()}
	}

	for _, v := range pkt.Variables {
		ticks, ok := integerValue(v)
		if !ok {
			continue
		}
		latency := round2(elapsed)
		return &Result{
			Protocol:  ProtocolSNMP,
			Success:   true,
			LatencyMS: &latency,
			Extra:     map[string]any{ExtraUptimeTicks: ticks},
		}
	}
	return &Result{
		Protocol: ProtocolSNMP,
		Success:  false,
		Err:      "no usable sysUpTime value in response",
	}
}

// Collect fetches the given OIDs in a single GET and returns the values that
// came back, keyed by OID without the leading dot. Numeric variables are
// coerced to float64, octet strings to string; absent or error-typed
// variables are omitted.
func (d *SNMPDriver) Collect(ctx context.Context, target Target, oids []string) (map[string]any, error) {
	if len(oids) == 0 {
		return map[string]any{}, nil
	}

	conn, err := d.cfg.DialFunc(ctx, target, d.cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target.IP, err)
	}
	defer conn.Close()

	pkt, err := conn.Get(oids)
	if err != nil {
		return nil, fmt.Errorf("failed to get oids from %s: %w", target.IP, err)
	}

	values := make(map[string]any, len(pkt.Variables))
	for _, v := range pkt.Variables {
		key := strings.TrimPrefix(v.Name, ".")
		switch v.Type {
		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
			d.log.Debug("snmp: oid unavailable", "ip", target.IP, "oid", key, "type", v.Type.String())
			continue
		case gosnmp.OctetString:
			if b, ok := v.Value.([]byte); ok {
				values[key] = string(b)
			}
		case gosnmp.OpaqueFloat:
			if f, ok := v.Value.(float32); ok {
				values[key] = float64(f)
			}
		case gosnmp.OpaqueDouble:
			if f, ok := v.Value.(float64); ok {
				values[key] = f
			}
		default:
			if n, ok := integerValue(v); ok {
				values[key] = float64(n)
			}
		}
	}
	return values, nil
}

func integerValue(v gosnmp.SnmpPDU) (uint64, bool) {
	switch v.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Counter64, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(v.Value).Uint64(), true
	default:
		return 0, false
	}
}

func dialSNMP(ctx context.Context, target Target, timeout time.Duration, retries int) (snmpConn, error) {
	client := &gosnmp.GoSNMP{
		Target:    target.IP,
		Port:      target.Port,
		Community: target.Community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   retries,
		Context:   ctx,
	}
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return &gosnmpSession{client: client}, nil
}

type gosnmpSession struct {
	client *gosnmp.GoSNMP
}

func (s *gosnmpSession) Get(oids []string) (*gosnmp.SnmpPacket, error) {
	return s.client.Get(oids)
}

func (s *gosnmpSession) Close() error {
	return s.client.Conn.Close()
}
