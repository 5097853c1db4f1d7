// Package json implements the JSON output formatter for collection records.
// It backs the optional JSON sink that runs alongside the daily CSV file.
//
// The schema is defined entirely by the json struct tags on
// models.ResourceRecord, so serialisation is a single json.Marshal call with
// optional indentation.
package json

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vpbank/proxy_monitor/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Formatter interface
// ─────────────────────────────────────────────────────────────────────────────

// Formatter serialises one ResourceRecord into a byte slice. Alternative
// encodings can be added by implementing this interface without touching any
// other package.
type Formatter interface {
	Format(rec *models.ResourceRecord) ([]byte, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls JSONFormatter behaviour.
type Config struct {
	// PrettyPrint emits indented, human-readable JSON when true.
	PrettyPrint bool

	// Indent is the indent string used when PrettyPrint=true.
	// Defaults to two spaces when empty and PrettyPrint=true.
	Indent string
}

// ─────────────────────────────────────────────────────────────────────────────
// JSONFormatter
// ─────────────────────────────────────────────────────────────────────────────

// JSONFormatter implements Formatter using encoding/json. It is safe for
// concurrent use; all fields are immutable after construction.
type JSONFormatter struct {
	cfg    Config
	logger *slog.Logger
}

// New constructs a JSONFormatter. If logger is nil, a no-op logger is
// substituted.
func New(cfg Config, logger *slog.Logger) *JSONFormatter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.PrettyPrint && cfg.Indent == "" {
		cfg.Indent = "  "
	}
	return &JSONFormatter{cfg: cfg, logger: logger}
}

// Format serialises rec to JSON. It returns a non-nil error only when
// json.Marshal itself fails; the returned byte slice is always non-nil on
// success.
func (f *JSONFormatter) Format(rec *models.ResourceRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("format/json: record must not be nil")
	}

	var (
		data []byte
		err  error
	)

	if f.cfg.PrettyPrint {
		data, err = json.MarshalIndent(rec, "", f.cfg.Indent)
	} else {
		data, err = json.Marshal(rec)
	}

	if err != nil {
		f.logger.Error("format/json: marshal failed",
			"device_id", rec.DeviceID,
			"host", rec.Host,
			"error", err.Error(),
		)
		return nil, fmt.Errorf("format/json: marshal: %w", err)
	}

	f.logger.Debug("format/json: formatted record",
		"device_id", rec.DeviceID,
		"host", rec.Host,
		"values", len(rec.Values),
		"bytes", len(data),
	)

	return data, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

// noopWriter discards all log output when no logger is provided.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
