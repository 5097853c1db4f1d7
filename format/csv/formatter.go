// Package csv implements the CSV row formatter behind the daily usage file.
//
// The column layout is fixed at construction from the configured metric keys
// and interface names, so every row written through one formatter has the
// same shape regardless of which fields an individual record carries. Fields
// whose fetch failed stay empty rather than zero-filled, which keeps the
// files honest when graphed.
package csv

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/vpbank/proxy_monitor/models"
)

// timeLayout is the row timestamp format.
const timeLayout = "2006-01-02 15:04:05"

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config fixes the column layout.
type Config struct {
	// Metrics are the metric keys that become one value column each,
	// sorted at construction.
	Metrics []string

	// Interfaces are the interface names; each contributes an "<name> in"
	// and a "<name> out" column, sorted at construction.
	Interfaces []string
}

// ─────────────────────────────────────────────────────────────────────────────
// CSVFormatter
// ─────────────────────────────────────────────────────────────────────────────

// CSVFormatter renders ResourceRecords as CSV lines. It is safe for
// concurrent use; the column layout is immutable after construction.
type CSVFormatter struct {
	metrics    []string
	interfaces []string
	logger     *slog.Logger
}

// New constructs a CSVFormatter. The metric and interface column order is
// sorted copies of the configured names; a nil logger is replaced with a
// no-op logger.
func New(cfg Config, logger *slog.Logger) *CSVFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	metrics := append([]string(nil), cfg.Metrics...)
	interfaces := append([]string(nil), cfg.Interfaces...)
	sort.Strings(metrics)
	sort.Strings(interfaces)
	return &CSVFormatter{metrics: metrics, interfaces: interfaces, logger: logger}
}

// Header returns the column names:
//
//	timestamp,device_id,host,name,<metrics...>,<iface> in,<iface> out,...,status
func (f *CSVFormatter) Header() []string {
	cols := make([]string, 0, 5+len(f.metrics)+2*len(f.interfaces))
	cols = append(cols, "timestamp", "device_id", "host", "name")
	cols = append(cols, f.metrics...)
	for _, name := range f.interfaces {
		cols = append(cols, name+" in", name+" out")
	}
	return append(cols, "status")
}

// EncodeHeader returns the header as one encoded CSV line.
func (f *CSVFormatter) EncodeHeader() ([]byte, error) {
	return encode(f.Header())
}

// Row renders one record into its column values. Metric and interface
// columns for absent readings are left empty; the status column is "ok" or
// "failed: <message>".
func (f *CSVFormatter) Row(rec *models.ResourceRecord) []string {
	fields := make([]string, 0, 5+len(f.metrics)+2*len(f.interfaces))
	fields = append(fields,
		rec.CollectedAt.Format(timeLayout),
		strconv.FormatUint(uint64(rec.DeviceID), 10),
		rec.Host,
		rec.Name,
	)

	for _, key := range f.metrics {
		if v, ok := rec.Value(key); ok {
			fields = append(fields, formatValue(v))
		} else {
			fields = append(fields, "")
		}
	}

	byName := make(map[string]models.InterfaceTraffic, len(rec.Interfaces))
	for _, tr := range rec.Interfaces {
		byName[tr.Name] = tr
	}
	for _, name := range f.interfaces {
		if tr, ok := byName[name]; ok {
			fields = append(fields, formatValue(tr.InBps), formatValue(tr.OutBps))
		} else {
			fields = append(fields, "", "")
		}
	}

	return append(fields, status(rec))
}

// Format renders one record as an encoded CSV line, newline included.
func (f *CSVFormatter) Format(rec *models.ResourceRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("format/csv: record must not be nil")
	}
	data, err := encode(f.Row(rec))
	if err != nil {
		f.logger.Error("format/csv: encode failed",
			"device_id", rec.DeviceID, "host", rec.Host, "error", err.Error())
		return nil, err
	}
	return data, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func encode(fields []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fields); err != nil {
		return nil, fmt.Errorf("format/csv: write: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("format/csv: flush: %w", err)
	}
	return buf.Bytes(), nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func status(rec *models.ResourceRecord) string {
	if !rec.Failed {
		return "ok"
	}
	if rec.Error == "" {
		return "failed"
	}
	return "failed: " + rec.Error
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
