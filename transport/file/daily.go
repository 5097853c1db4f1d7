// Package file — daily.go appends records to a file named after the current
// date, e.g. resource_usage_20260315.csv under the configured data directory.
//
// The file is created lazily on the first Send, so a run that produces no
// records leaves no file behind.  When the local date changes the active file
// is closed and the next day's file is opened.  A header (typically the CSV
// header row) is written once whenever a file that did not exist before is
// created.
//
// DailyFile satisfies both Transport and io.WriteCloser.
package file

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// DailyConfig
// ─────────────────────────────────────────────────────────────────────────────

// DailyConfig controls DailyFile behaviour.
type DailyConfig struct {
	// Dir is the directory holding the daily files (required).
	// It is created if it does not exist.
	Dir string

	// Prefix is the file name prefix.  Default "resource_usage".
	Prefix string

	// Ext is the file name extension.  Default ".csv".
	Ext string

	// Header is written once whenever Send creates a file that did not
	// exist before.  Supply it newline-terminated (EncodeHeader from
	// format/csv already is).  nil writes no header.
	Header []byte

	// Now supplies the clock used to derive the file name.
	// nil defaults to time.Now.
	Now func() time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// DailyFile
// ─────────────────────────────────────────────────────────────────────────────

// DailyFile is a Transport that appends every record to the current day's
// file.  It is safe for concurrent use.
type DailyFile struct {
	mu     sync.Mutex
	cfg    DailyConfig
	file   *os.File
	day    string
	logger *slog.Logger
}

// NewDailyFile validates cfg, creates cfg.Dir if needed and returns a
// DailyFile.  The first file is opened on the first Send, not here.
func NewDailyFile(cfg DailyConfig, logger *slog.Logger) (*DailyFile, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transport/file: daily: Dir is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "resource_usage"
	}
	if cfg.Ext == "" {
		cfg.Ext = ".csv"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("transport/file: daily: mkdir %s: %w", cfg.Dir, err)
	}
	return &DailyFile{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Send appends data to the current day's file.  The payload is written as-is;
// CSV rows from format/csv already carry their trailing newline.
func (df *DailyFile) Send(data []byte) error {
	_, err := df.Write(data)
	return err
}

// Write implements io.Writer.  It reopens the file when the local date has
// changed since the previous write.
func (df *DailyFile) Write(p []byte) (int, error) {
	df.mu.Lock()
	defer df.mu.Unlock()

	if err := df.ensureFile(df.cfg.Now()); err != nil {
		return 0, err
	}
	n, err := df.file.Write(p)
	if err != nil {
		df.logger.Error("transport/file: daily write failed", "error", err.Error(), "bytes", len(p))
		return n, fmt.Errorf("transport/file: daily: write: %w", err)
	}
	return n, nil
}

// Close closes the active file, if any.
func (df *DailyFile) Close() error {
	df.mu.Lock()
	defer df.mu.Unlock()

	if df.file == nil {
		return nil
	}
	err := df.file.Close()
	df.file = nil
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

// ensureFile makes sure the open file matches the given day, opening a new
// one when needed.  The header is written only when the file is created.
func (df *DailyFile) ensureFile(now time.Time) error {
	day := now.Format("20060102")
	if df.file != nil && day == df.day {
		return nil
	}

	path := df.pathFor(day)
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("transport/file: daily: open %s: %w", path, err)
	}
	if created && len(df.cfg.Header) > 0 {
		if _, err := f.Write(df.cfg.Header); err != nil {
			_ = f.Close()
			return fmt.Errorf("transport/file: daily: write header: %w", err)
		}
	}

	// The previous day's handle is closed only after the new one is ready.
	if df.file != nil {
		if err := df.file.Close(); err != nil {
			df.logger.Warn("transport/file: daily: close previous file", "error", err.Error())
		}
	}
	df.file = f
	df.day = day
	df.logger.Info("transport/file: opened daily file", "path", path, "created", created)
	return nil
}

// pathFor builds the file path for a day stamp (YYYYMMDD).
func (df *DailyFile) pathFor(day string) string {
	return filepath.Join(df.cfg.Dir, df.cfg.Prefix+"_"+day+df.cfg.Ext)
}
