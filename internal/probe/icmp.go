package probe

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

const (
	defaultPacketTimeout = 1 * time.Second
	defaultPacketSize    = 56 // 64 bytes - 8 byte ICMP header

	// Minimum pacing between echo requests when more than one is sent.
	minPacketInterval = 500 * time.Millisecond
)

// Per-packet outcome tokens used alongside round-trip times in the
// responses list.
const (
	responseTimeout = "timeout"
	responseError   = "error"
)

type ICMPConfig struct {
	Logger *slog.Logger

	// PacketTimeout bounds each echo request's wait for a reply.
	PacketTimeout time.Duration

	// Interval paces consecutive echo requests; clamped up to 500ms when
	// more than one packet is sent.
	Interval time.Duration

	// RunFunc isolates the blocking pinger run for tests. Defaults to
	// pro-bing's RunWithContext.
	RunFunc func(ctx context.Context, pinger *probing.Pinger) error
}

func (c *ICMPConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.PacketTimeout == 0 {
		c.PacketTimeout = defaultPacketTimeout
	}
	if c.PacketTimeout < 0 {
		return errors.New("packet timeout must be greater than 0")
	}
	if c.Interval == 0 {
		c.Interval = minPacketInterval
	}
	if c.Interval < 0 {
		return errors.New("interval must be greater than 0")
	}
	if c.RunFunc == nil {
		c.RunFunc = func(ctx context.Context, pinger *probing.Pinger) error {
			return pinger.RunWithContext(ctx)
		}
	}
	return nil
}

// ICMPDriver sends a burst of echo requests and summarizes them as one
// reachability result. A node is reachable as long as any packet came back.
type ICMPDriver struct {
	log *slog.Logger
	cfg *ICMPConfig
}

func NewICMPDriver(cfg *ICMPConfig) (*ICMPDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ICMPDriver{log: cfg.Logger, cfg: cfg}, nil
}

// Check pings ip with count echo requests and maps the outcome onto a
// Result: success while loss < 100%, mean RTT of the replies, and the
// per-packet outcome list preserved in Extra.
func (d *ICMPDriver) Check(ctx context.Context, ip string, count int) *Result {
	if count <= 0 {
		count = 1
	}

	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return &Result{
			Protocol: ProtocolICMP,
			Success:  false,
			Extra:    erroredExtra(count),
			Err:      err.Error(),
		}
	}
	defer pinger.Stop()
	pinger.SetPrivileged(true)

	interval := d.cfg.Interval
	if count > 1 && interval < minPacketInterval {
		interval = minPacketInterval
	}

	pinger.Count = count
	pinger.Interval = interval
	pinger.Size = defaultPacketSize
	// Per-packet timeout semantics over the whole run: every packet gets its
	// reply window plus the pacing in front of it.
	pinger.Timeout = time.Duration(count)*d.cfg.PacketTimeout + time.Duration(count-1)*interval

	var mu sync.Mutex
	rtts := make(map[int]time.Duration, count)
	pinger.OnRecv = func(pkt *probing.Packet) {
		mu.Lock()
		defer mu.Unlock()
		if _, dup := rtts[pkt.Seq]; !dup {
			rtts[pkt.Seq] = pkt.Rtt
		}
	}

	runErr := d.cfg.RunFunc(ctx, pinger)

	mu.Lock()
	defer mu.Unlock()

	responses := make([]any, 0, count)
	var totalMS float64
	received := 0
	for seq := 0; seq < count; seq++ {
		rtt, ok := rtts[seq]
		switch {
		case ok:
			ms := float64(rtt) / float64(time.Millisecond)
			responses = append(responses, round2(ms))
			totalMS += ms
			received++
		case runErr != nil:
			responses = append(responses, responseError)
		default:
			responses = append(responses, responseTimeout)
		}
	}

	loss := float64(count-received) / float64(count) * 100.0
	res := &Result{
		Protocol: ProtocolICMP,
		Success:  loss < 100,
		Extra: map[string]any{
			ExtraPacketLoss: loss,
			ExtraResponses:  responses,
		},
	}
	if received > 0 {
		mean := totalMS / float64(received)
		res.LatencyMS = &mean
	}
	if runErr != nil {
		res.Err = runErr.Error()
		d.log.Debug("icmp: run failed", "ip", ip, "error", runErr)
	}
	return res
}

func erroredExtra(count int) map[string]any {
	responses := make([]any, count)
	for i := range responses {
		responses[i] = responseError
	}
	return map[string]any{
		ExtraPacketLoss: 100.0,
		ExtraResponses:  responses,
	}
}
