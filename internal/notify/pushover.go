// Package notify delivers push notifications through Pushover. The client is
// deliberately dumb: callers decide what to send and when, the client only
// speaks the wire protocol and reports whether delivery happened.
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/netpulselabs/netpulse/internal/config"
)

const (
	DefaultEndpoint = "https://api.pushover.net/1/messages.json"

	defaultSendTimeout = 10 * time.Second

	// Pushover requires retry/expire on emergency-priority messages.
	emergencyRetrySeconds  = 60
	emergencyExpireSeconds = 3600
)

type PushoverConfig struct {
	Logger *slog.Logger

	// Settings returns the current pushover section. Read on every send so
	// credential changes take effect without rebuilding the client.
	Settings func() config.Pushover

	// Endpoint overrides the API URL in tests.
	Endpoint string

	// Timeout bounds one send end to end.
	Timeout time.Duration

	HTTPClient *http.Client
}

func (c *PushoverConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Settings == nil {
		return errors.New("settings func is required")
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Timeout == 0 {
		c.Timeout = defaultSendTimeout
	}
	if c.Timeout < 0 {
		return errors.New("timeout must be greater than 0")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return nil
}

type Pushover struct {
	log      *slog.Logger
	settings func() config.Pushover
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

func NewPushover(cfg *PushoverConfig) (*Pushover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pushover{
		log:      cfg.Logger,
		settings: cfg.Settings,
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		client:   cfg.HTTPClient,
	}, nil
}

// Send posts one message and reports whether Pushover accepted it. Disabled
// or unconfigured credentials return false without any network traffic, so
// callers can fire and forget.
func (p *Pushover) Send(ctx context.Context, title, message string, priority int) bool {
	s := p.settings()
	if !s.Enabled {
		p.log.Debug("notify: pushover disabled, skipping", "title", title)
		return false
	}
	if s.Token == "" || s.UserKey == "" {
		p.log.Warn("notify: pushover credentials missing, skipping", "title", title)
		return false
	}

	form := url.Values{}
	form.Set("token", s.Token)
	form.Set("user", s.UserKey)
	form.Set("title", title)
	form.Set("message", message)
	form.Set("priority", strconv.Itoa(priority))
	if priority == 2 {
		form.Set("retry", strconv.Itoa(emergencyRetrySeconds))
		form.Set("expire", strconv.Itoa(emergencyExpireSeconds))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		p.log.Warn("notify: failed to build pushover request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("notify: pushover request failed", "title", title, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		p.log.Warn("notify: pushover rejected message", "title", title, "status", resp.StatusCode)
		return false
	}
	p.log.Info("notify: pushover message sent", "title", title, "priority", priority)
	return true
}
