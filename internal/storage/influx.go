package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/netpulselabs/netpulse/internal/config"
	"github.com/netpulselabs/netpulse/internal/metrics"
)

const (
	measurementMonitoring = "monitoring"
	measurementSNMP       = "snmp_metrics"

	statusUpToken = "UP"

	// Keeps a flapping Influx endpoint from flooding the log; every failure
	// still increments the error counter.
	drainWarnInterval = 10 * time.Second
)

func newInfluxWriteAPI(cfg config.InfluxDB) (influxdb2api.WriteAPI, func(), error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	return api, client.Close, nil
}

// WaitForInflux pings the configured InfluxDB with exponential backoff until
// it answers or ctx expires. Used at startup so a slow database does not
// kill the daemon; callers fall back to file-only mode on error.
func WaitForInflux(ctx context.Context, log *slog.Logger, cfg config.InfluxDB, maxWait time.Duration) error {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	defer client.Close()

	attempt := 0
	_, err := backoff.Retry(ctx, func() (bool, error) {
		if attempt > 0 {
			log.Warn("storage: influxdb not answering, retrying", "url", cfg.URL, "attempt", attempt)
		}
		attempt++
		up, err := client.Ping(ctx)
		if err != nil {
			return false, err
		}
		if !up {
			return false, fmt.Errorf("influxdb at %s is not ready", cfg.URL)
		}
		return true, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(maxWait))
	return err
}

// drainErrors consumes the write API's async error channel until the channel
// closes or the returned stop func runs.
func (r *Recorder) drainErrors(api influxdb2api.WriteAPI) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var lastWarn time.Time
		for {
			select {
			case err, ok := <-api.Errors():
				if !ok {
					return
				}
				metrics.RecordWriteErrors.WithLabelValues(metrics.SinkInflux).Inc()
				if time.Since(lastWarn) >= drainWarnInterval {
					lastWarn = time.Now()
					r.log.Warn("storage: influx write failed", "error", err)
				} else {
					r.log.Debug("storage: influx write failed", "error", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func reachabilityPoint(rec *ReachabilityRecord) *write.Point {
	tags := map[string]string{
		"node":     rec.Node,
		"ip":       rec.IP,
		"group":    rec.Group,
		"status":   rec.Status,
		"protocol": rec.Protocol,
	}

	latency := 0.0
	if rec.LatencyMS != nil {
		latency = *rec.LatencyMS
	}
	statusCode := int64(0)
	if rec.Status == statusUpToken {
		statusCode = 1
	}
	success := int64(0)
	if rec.Success {
		success = 1
	}

	fields := map[string]any{
		"latency":     latency,
		"packet_loss": rec.PacketLoss,
		"status_code": statusCode,
		"success":     success,
		"responses":   formatResponses(rec.Responses),
	}
	return write.NewPoint(measurementMonitoring, tags, fields, rec.Time)
}

func metricPoint(rec *MetricRecord) *write.Point {
	tags := map[string]string{
		"node":      rec.Node,
		"ip":        rec.IP,
		"group":     rec.Group,
		"metric":    rec.Metric,
		"unit":      rec.Unit,
		"interface": rec.Interface,
		"type":      rec.Kind,
	}
	fields := map[string]any{
		"value": rec.Value,
	}
	return write.NewPoint(measurementSNMP, tags, fields, rec.Time)
}

// formatResponses renders the per-packet outcomes as a compact tag-safe
// string: "12.34ms,timeout,11.02ms". Empty input becomes "none".
func formatResponses(responses []any) string {
	if len(responses) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(responses))
	for _, resp := range responses {
		switch v := resp.(type) {
		case float64:
			parts = append(parts, strconv.FormatFloat(v, 'f', 2, 64)+"ms")
		case string:
			parts = append(parts, v)
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}
	return strings.Join(parts, ",")
}
