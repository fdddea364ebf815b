package storage

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/netpulselabs/netpulse/internal/metrics"
)

// Timestamps are written in local wall-clock time so the log file reads the
// way operators expect when tailing it next to the system journal.
const fileTimestampLayout = "2006-01-02T15:04:05.000000"

type reachabilityFileLine struct {
	Timestamp     string   `json:"timestamp"`
	Node          string   `json:"node"`
	IP            string   `json:"ip"`
	Group         string   `json:"group"`
	Protocol      string   `json:"protocol"`
	Latency       *float64 `json:"latency"`
	PacketLoss    float64  `json:"packet_loss"`
	Status        string   `json:"status"`
	Success       bool     `json:"success"`
	PingResponses []any    `json:"ping_responses"`
}

type metricFileLine struct {
	Timestamp string `json:"timestamp"`
	Node      string `json:"node"`
	IP        string `json:"ip"`
	Group     string `json:"group"`
	Metric    string `json:"metric"`
	Value     any    `json:"value"`
	Unit      string `json:"unit"`
	Interface string `json:"interface"`
	Type      string `json:"type"`
}

func reachabilityLine(rec *ReachabilityRecord) any {
	line := reachabilityFileLine{
		Timestamp:     rec.Time.Format(fileTimestampLayout),
		Node:          rec.Node,
		IP:            rec.IP,
		Group:         rec.Group,
		Protocol:      rec.Protocol,
		PacketLoss:    rec.PacketLoss,
		Status:        rec.Status,
		Success:       rec.Success,
		PingResponses: rec.Responses,
	}
	if rec.LatencyMS != nil {
		rounded := math.Round(*rec.LatencyMS*100) / 100
		line.Latency = &rounded
	}
	return line
}

func metricLine(rec *MetricRecord) any {
	return metricFileLine{
		Timestamp: rec.Time.Format(fileTimestampLayout),
		Node:      rec.Node,
		IP:        rec.IP,
		Group:     rec.Group,
		Metric:    rec.Metric,
		Value:     rec.Value,
		Unit:      rec.Unit,
		Interface: rec.Interface,
		Type:      rec.Kind,
	}
}

func (r *Recorder) writeFileLocked(line any, kind string) {
	if !r.fileEnabled {
		r.log.Debug("storage: file sink disabled, dropping record", "kind", kind)
		return
	}
	data, err := json.Marshal(line)
	if err != nil {
		r.log.Error("storage: failed to encode record", "kind", kind, "error", err)
		return
	}
	if err := appendLine(r.filePath, data); err != nil {
		metrics.RecordWriteErrors.WithLabelValues(metrics.SinkFile).Inc()
		r.log.Error("storage: file write failed", "path", r.filePath, "error", err)
		return
	}
	metrics.RecordsWritten.WithLabelValues(metrics.SinkFile, kind).Inc()

	if err := truncateToLastLines(r.filePath, r.retention); err != nil {
		r.log.Debug("storage: log rotation skipped", "path", r.filePath, "error", err)
	}
}

func appendLine(path string, line []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(append(line, '\n'))
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// truncateToLastLines rewrites path keeping only its last keep lines. A
// no-op while the file is within bounds.
func truncateToLastLines(path string, keep int) error {
	if keep <= 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) <= keep {
		return nil
	}
	out := strings.Join(lines[len(lines)-keep:], "\n") + "\n"
	return os.WriteFile(path, []byte(out), 0o644)
}
