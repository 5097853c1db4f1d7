package app

import (
	"sort"
	"sync"
	"time"

	"github.com/vpbank/proxy_monitor/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Snapshot
// ─────────────────────────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of the monitor's collection state. Status
// and Progress describe the cycle running now; Records, Warning and LastError
// describe the last settled one. It is safe to read while a cycle runs.
type Snapshot struct {
	Status   models.CollectionStatus
	Progress models.Progress

	// Records holds the most recent per-device results, sorted by device
	// ID. Trap-triggered refreshes replace individual entries in place.
	Records []models.ResourceRecord

	// Warning carries non-fatal cycle conditions: partial success or a
	// sink write failure.
	Warning string

	// LastError is the message kept from the last fully failed cycle.
	LastError string

	// UpdatedAt is when any of the above last changed.
	UpdatedAt time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// Tracker
// ─────────────────────────────────────────────────────────────────────────────

// statusTracker serializes the status transitions behind App.Snapshot.
type statusTracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

func newStatusTracker() *statusTracker {
	return &statusTracker{snap: Snapshot{Status: models.StatusIdle}}
}

// starting marks the beginning of a cycle. The previous cycle's records stay
// visible until the new one settles.
func (t *statusTracker) starting() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = models.StatusStarting
	t.snap.Progress = models.Progress{}
	t.snap.UpdatedAt = time.Now()
}

// collecting transitions into the fan-out phase with zero devices settled.
func (t *statusTracker) collecting(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = models.StatusCollecting
	t.snap.Progress = models.Progress{Total: total}
	t.snap.UpdatedAt = time.Now()
}

// advance records per-device completion. Its signature matches
// collector.ProgressFunc so the method value can be passed directly.
func (t *statusTracker) advance(completed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Progress = models.Progress{Completed: completed, Total: total}
	t.snap.UpdatedAt = time.Now()
}

// succeed settles the cycle with at least one device collected. A previous
// failure's message is cleared.
func (t *statusTracker) succeed(records []models.ResourceRecord, warning string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = models.StatusSuccess
	t.snap.Records = records
	t.snap.Warning = warning
	t.snap.LastError = ""
	t.snap.UpdatedAt = time.Now()
}

// fail settles the cycle with every device failed. The records are kept so
// operators can see which hosts were attempted.
func (t *statusTracker) fail(records []models.ResourceRecord, lastError, warning string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Status = models.StatusFailed
	t.snap.Records = records
	t.snap.Warning = warning
	t.snap.LastError = lastError
	t.snap.UpdatedAt = time.Now()
}

// replaceRecord splices a refreshed single-device result into the last
// results, inserting when the device was not part of the previous cycle.
func (t *statusTracker) replaceRecord(rec models.ResourceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { t.snap.UpdatedAt = time.Now() }()

	for i := range t.snap.Records {
		if t.snap.Records[i].DeviceID == rec.DeviceID {
			t.snap.Records[i] = rec
			return
		}
	}
	t.snap.Records = append(t.snap.Records, rec)
	sort.Slice(t.snap.Records, func(i, j int) bool {
		return t.snap.Records[i].DeviceID < t.snap.Records[j].DeviceID
	})
}

// snapshot returns a copy whose Records slice is detached from future
// replaceRecord writes. Record internals are never mutated after settling,
// so the shallow element copy is sufficient.
func (t *statusTracker) snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := t.snap
	out.Records = append([]models.ResourceRecord(nil), t.snap.Records...)
	return out
}
