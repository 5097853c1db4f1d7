// Package scheduler fires collection cycles at fixed intervals. It owns no
// collection logic itself: each due entry is handed to a CycleSubmitter,
// which accepts the cycle or reports that the previous one is still running,
// in which case this cycle is skipped rather than queued up.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/config"
)

const defaultInterval = 60 * time.Second

// ─────────────────────────────────────────────────────────────────────────────
// CycleSubmitter — interface for dependency injection
// ─────────────────────────────────────────────────────────────────────────────

// CycleSubmitter starts one collection cycle for a fleet group. TrySubmit
// must not block: it returns false when the cycle cannot be accepted because
// the previous one for that group has not finished.
type CycleSubmitter interface {
	TrySubmit(group string) bool
}

// ─────────────────────────────────────────────────────────────────────────────
// Entries
// ─────────────────────────────────────────────────────────────────────────────

// Entry is one scheduled target: a fleet group and its cycle period.
type Entry struct {
	// Group restricts the cycle to one group; empty covers the whole fleet.
	Group string

	// Interval is the period between cycle starts (default 60s).
	Interval time.Duration
}

// EntriesFromConfig derives the schedule for a loaded configuration: one
// entry covering the named group (empty for the whole fleet) at the
// configured poll interval.
func EntriesFromConfig(cfg *config.Config, group string) []Entry {
	if cfg == nil {
		return nil
	}
	return []Entry{{Group: group, Interval: cfg.PollInterval}}
}

// entry is the live scheduling state for one Entry.
type entry struct {
	group    string
	interval time.Duration
	nextRun  time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// Scheduler
// ─────────────────────────────────────────────────────────────────────────────

// Scheduler submits collection cycles to a CycleSubmitter whenever an entry
// comes due.
type Scheduler struct {
	submitter CycleSubmitter
	logger    *slog.Logger

	mu      sync.Mutex
	entries []entry

	done chan struct{}
}

// New creates a Scheduler. It does not start automatically — call Start to
// begin dispatching.
func New(specs []Entry, submitter CycleSubmitter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	s := &Scheduler{
		submitter: submitter,
		logger:    logger,
		done:      make(chan struct{}),
	}
	s.entries = buildEntries(specs)
	return s
}

// Start runs the scheduling loop. It blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		if len(s.entries) == 0 {
			s.mu.Unlock()
			// Nothing to schedule — wait for cancellation or a Reload.
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
				continue
			}
		}

		// Sort by next run time.
		sort.Slice(s.entries, func(i, j int) bool {
			return s.entries[i].nextRun.Before(s.entries[j].nextRun)
		})
		next := s.entries[0].nextRun
		s.mu.Unlock()

		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		now := time.Now()
		s.mu.Lock()
		for i := range s.entries {
			if s.entries[i].nextRun.After(now) {
				break
			}
			s.fireEntry(&s.entries[i])
			s.entries[i].nextRun = now.Add(s.entries[i].interval)
		}
		s.mu.Unlock()
	}
}

// Stop waits for the scheduling loop to exit. The caller must cancel the
// context passed to Start before calling Stop.
func (s *Scheduler) Stop() {
	<-s.done
}

// Reload atomically replaces the schedule. New entries fire immediately;
// removed ones stop; changed intervals take effect on the next cycle.
func (s *Scheduler) Reload(specs []Entry) {
	newEntries := buildEntries(specs)
	s.mu.Lock()
	s.entries = newEntries
	s.mu.Unlock()
	s.logger.Info("scheduler: schedule reloaded", "entries", len(newEntries))
}

// Entries returns the number of active entries (for monitoring / tests).
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildEntries(specs []Entry) []entry {
	now := time.Now()
	out := make([]entry, 0, len(specs))
	for _, spec := range specs {
		interval := spec.Interval
		if interval <= 0 {
			interval = defaultInterval
		}
		out = append(out, entry{
			group:    spec.Group,
			interval: interval,
			nextRun:  now, // fire immediately on start / reload
		})
	}
	return out
}

// fireEntry submits one cycle, dropping it when the previous one is still in
// flight.
func (s *Scheduler) fireEntry(e *entry) {
	if !s.submitter.TrySubmit(e.group) {
		s.logger.Warn("scheduler: previous cycle still running, skipping",
			"group", groupLabel(e.group))
		return
	}
	s.logger.Debug("scheduler: cycle submitted", "group", groupLabel(e.group))
}

func groupLabel(group string) string {
	if group == "" {
		return "all"
	}
	return group
}

// ─────────────────────────────────────────────────────────────────────────────
// noopWriter — discard log output when no logger is provided
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
