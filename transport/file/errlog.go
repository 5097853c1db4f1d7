// Package file — errlog.go keeps an append-only trail of collection errors,
// one timestamped line per message:
//
//	[2026-03-15 10:30:00] device 3 (proxy-a): collection timed out
//
// The log file is created lazily on the first Send so that clean runs leave
// no empty error log behind.
package file

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// errTimeLayout is the timestamp prefix of each error line.
const errTimeLayout = "2006-01-02 15:04:05"

// ─────────────────────────────────────────────────────────────────────────────
// ErrorLogConfig
// ─────────────────────────────────────────────────────────────────────────────

// ErrorLogConfig controls ErrorLog behaviour.
type ErrorLogConfig struct {
	// Path is the log file location (required).
	// Parent directories are created as needed.
	Path string

	// Now supplies the clock used for line timestamps.
	// nil defaults to time.Now.
	Now func() time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// ErrorLog
// ─────────────────────────────────────────────────────────────────────────────

// ErrorLog is a Transport that appends each message as one timestamped line.
// It is safe for concurrent use.
type ErrorLog struct {
	mu     sync.Mutex
	cfg    ErrorLogConfig
	file   *os.File
	logger *slog.Logger
}

// NewErrorLog validates cfg and creates the parent directory of cfg.Path.
// The file itself is opened on the first Send.
func NewErrorLog(cfg ErrorLogConfig, logger *slog.Logger) (*ErrorLog, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("transport/file: errlog: Path is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transport/file: errlog: mkdir %s: %w", dir, err)
	}
	return &ErrorLog{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Send appends one line.  data is the bare message; the timestamp prefix and
// trailing newline are added here.
func (el *ErrorLog) Send(data []byte) error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.file == nil {
		f, err := os.OpenFile(el.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("transport/file: errlog: open %s: %w", el.cfg.Path, err)
		}
		el.file = f
	}

	line := fmt.Sprintf("[%s] %s\n", el.cfg.Now().Format(errTimeLayout), data)
	if _, err := el.file.WriteString(line); err != nil {
		el.logger.Error("transport/file: errlog write failed", "error", err.Error())
		return fmt.Errorf("transport/file: errlog: write: %w", err)
	}
	return nil
}

// Logf formats and appends one line.
func (el *ErrorLog) Logf(format string, args ...any) error {
	return el.Send(fmt.Appendf(nil, format, args...))
}

// Close closes the log file, if one was opened.
func (el *ErrorLog) Close() error {
	el.mu.Lock()
	defer el.mu.Unlock()

	if el.file == nil {
		return nil
	}
	err := el.file.Close()
	el.file = nil
	return err
}
