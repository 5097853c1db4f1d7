// Package collector runs the resource-collection cycles of the proxy fleet.
//
// For one device it fans out one goroutine per configured metric and one per
// configured interface counter direction, each bounded by the per-task
// timeout. Across the fleet it fans out one goroutine per device under a
// device-level deadline. The policy at both levels is the same: a fetch that
// fails, times out, or panics leaves its field absent and never aborts its
// siblings, and a device that cannot settle becomes a failed record, not a
// failed cycle.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vpbank/proxy_monitor/models"
	"github.com/vpbank/proxy_monitor/producer/rates"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fetch sources
// ─────────────────────────────────────────────────────────────────────────────

// Getter issues one SNMPv2c GET for a scalar numeric OID.
type Getter interface {
	Get(ctx context.Context, host, community, oid string) (float64, error)
}

// MemoryFetcher reads a device's memory usage percentage over SSH. It backs
// metrics whose configured source is the "ssh" sentinel instead of an OID.
type MemoryFetcher interface {
	MemoryPercent(ctx context.Context, device models.Device) (float64, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

const (
	defaultTaskTimeout = 5 * time.Second

	// deviceGrace is added to TaskTimeout for the default device deadline so
	// that on a live run the per-task timeouts always fire first and the
	// device-level timeout only catches a fetch that ignores its context.
	deviceGrace = 2 * time.Second
)

// Config controls collection behaviour. The Metrics and Interfaces maps come
// straight from the resource configuration and must not be mutated after New.
type Config struct {
	// Community is the fallback SNMPv2c community string for devices that
	// carry none of their own.
	Community string

	// Metrics maps metric key to the source it is fetched from.
	Metrics map[string]models.MetricSource

	// Interfaces maps interface name to its per-direction counter OIDs.
	Interfaces map[string]models.InterfaceOIDs

	// TaskTimeout bounds one metric or counter fetch. Default 5s.
	TaskTimeout time.Duration

	// DeviceTimeout bounds one device's whole cycle. Default TaskTimeout+2s.
	DeviceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = c.TaskTimeout + deviceGrace
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Collector
// ─────────────────────────────────────────────────────────────────────────────

// Collector executes collection cycles. It is safe for concurrent use; the
// only mutable state it touches is the injected rate cache.
type Collector struct {
	cfg    Config
	snmp   Getter
	memory MemoryFetcher
	cache  *rates.Cache
	logger *slog.Logger
}

// New constructs a Collector. A nil logger is replaced with a no-op logger
// and a nil cache with a fresh one. memory may be nil when no metric uses
// the SSH source.
func New(cfg Config, snmp Getter, memory MemoryFetcher, cache *rates.Cache, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cache == nil {
		cache = rates.NewCache()
	}
	return &Collector{
		cfg:    cfg.withDefaults(),
		snmp:   snmp,
		memory: memory,
		cache:  cache,
		logger: logger,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Fleet fan-out
// ─────────────────────────────────────────────────────────────────────────────

// ProgressFunc is invoked after each device settles during a fleet cycle,
// in completion order.
type ProgressFunc func(completed, total int)

// CollectFleet collects every listed device concurrently and returns exactly
// one record per device, sorted by device id. The error is non-nil only when
// the list was non-empty and every record failed; the records are returned
// alongside the error so the caller can still persist and display them.
// An empty device list returns an empty result and a nil error.
func (c *Collector) CollectFleet(ctx context.Context, devices []models.Device, onProgress ProgressFunc) ([]models.ResourceRecord, error) {
	if len(devices) == 0 {
		return nil, nil
	}

	results := make(chan models.ResourceRecord, len(devices))
	for _, device := range devices {
		go func(device models.Device) {
			results <- c.CollectDevice(ctx, device)
		}(device)
	}

	records := make([]models.ResourceRecord, 0, len(devices))
	failed := 0
	for range devices {
		rec := <-results
		records = append(records, rec)
		if rec.Failed {
			failed++
		}
		if onProgress != nil {
			onProgress(len(records), len(devices))
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].DeviceID < records[j].DeviceID })

	if failed == len(records) {
		return records, fmt.Errorf("collector: all %d devices failed", len(records))
	}
	return records, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Per-device collection
// ─────────────────────────────────────────────────────────────────────────────

// CollectDevice collects one device under the device-level deadline and
// always returns exactly one record. A cycle that cannot settle in time, or
// that panics, comes back as a failed record with a synthetic message.
func (c *Collector) CollectDevice(ctx context.Context, device models.Device) models.ResourceRecord {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DeviceTimeout)
	defer cancel()

	done := make(chan models.ResourceRecord, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failedRecord(device, fmt.Sprintf("collection panic: %v", r))
			}
		}()
		done <- c.collectDevice(ctx, device)
	}()

	select {
	case rec := <-done:
		return rec
	case <-ctx.Done():
		msg := "collection timed out"
		if errors.Is(ctx.Err(), context.Canceled) {
			msg = "collection cancelled"
		}
		c.logger.Error("collector: device did not settle",
			"device", device.DisplayName(), "id", device.ID, "reason", ctx.Err())
		return failedRecord(device, msg)
	}
}

// collectDevice runs the metric and counter fan-out for one device and
// assembles its record. It blocks until every task settles; the caller is
// responsible for the device-level deadline.
func (c *Collector) collectDevice(ctx context.Context, device models.Device) models.ResourceRecord {
	rec := models.ResourceRecord{
		DeviceID: device.ID,
		Host:     device.Host,
		Name:     device.DisplayName(),
		Values:   make(map[string]float64, len(c.cfg.Metrics)),
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		counters = make(map[string]counterPair, len(c.cfg.Interfaces))
	)

	for key, src := range c.cfg.Metrics {
		wg.Add(1)
		go func(key string, src models.MetricSource) {
			defer wg.Done()
			v, err := c.fetch(ctx, device, src)
			if err != nil {
				c.logger.Warn("collector: metric fetch failed",
					"device", device.DisplayName(), "metric", key, "error", err)
				return
			}
			mu.Lock()
			rec.Values[key] = v
			mu.Unlock()
		}(key, src)
	}

	for name, oids := range c.cfg.Interfaces {
		for _, t := range []counterTask{
			{iface: name, oid: oids.In, inbound: true},
			{iface: name, oid: oids.Out},
		} {
			if t.oid == "" {
				continue
			}
			wg.Add(1)
			go func(t counterTask) {
				defer wg.Done()
				v, err := c.fetch(ctx, device, models.MetricSource{Kind: models.SourceSNMP, OID: t.oid})
				if err != nil {
					c.logger.Warn("collector: counter fetch failed",
						"device", device.DisplayName(), "interface", t.iface, "direction", t.label(), "error", err)
					return
				}
				if v < 0 {
					// An octet counter can never be negative; treat the
					// reading as a failed fetch.
					c.logger.Warn("collector: negative counter reading dropped",
						"device", device.DisplayName(), "interface", t.iface, "direction", t.label(), "value", v)
					return
				}
				mu.Lock()
				pair := counters[t.iface]
				if t.inbound {
					pair.in, pair.hasIn = uint64(v), true
				} else {
					pair.out, pair.hasOut = uint64(v), true
				}
				counters[t.iface] = pair
				mu.Unlock()
			}(t)
		}
	}

	wg.Wait()

	now := time.Now()
	rec.CollectedAt = now

	// Rate step. An interface with no successful direction this cycle has no
	// entry in counters, so its cache baseline is left untouched.
	for name, pair := range counters {
		inBps, outBps, ok := c.cache.Observe(device.ID, name, pair.in, pair.out, now)
		if !ok {
			continue
		}
		// A direction missing this cycle contributes no rate; the baseline
		// still advances with a zero, as the original counter history is
		// broken either way.
		if !pair.hasIn {
			inBps = 0
		}
		if !pair.hasOut {
			outBps = 0
		}
		if inBps <= 0 && outBps <= 0 {
			continue
		}
		rec.Interfaces = append(rec.Interfaces, models.InterfaceTraffic{Name: name, InBps: inBps, OutBps: outBps})
	}
	sort.Slice(rec.Interfaces, func(i, j int) bool { return rec.Interfaces[i].Name < rec.Interfaces[j].Name })

	if len(rec.Values) == 0 {
		rec.Failed = true
		rec.Error = "all metric fetches failed"
	}
	return rec
}

// fetch resolves one reading through its configured source under the
// per-task timeout. A panic inside a source implementation is converted into
// an error so it can never take the device's cycle down.
func (c *Collector) fetch(ctx context.Context, device models.Device, src models.MetricSource) (v float64, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	switch src.Kind {
	case models.SourceSSH:
		if c.memory == nil {
			return 0, errors.New("no ssh fetcher configured")
		}
		return c.memory.MemoryPercent(ctx, device)
	default:
		// The loader resolves a per-device community; the config-level one
		// is the fallback for devices built by hand.
		community := device.Community
		if community == "" {
			community = c.cfg.Community
		}
		return c.snmp.Get(ctx, device.Host, community, src.OID)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// counterTask is one direction of one interface's counter pair.
type counterTask struct {
	iface   string
	oid     string
	inbound bool
}

func (t counterTask) label() string {
	if t.inbound {
		return "in"
	}
	return "out"
}

// counterPair accumulates the successfully read raw counters for one
// interface. An entry exists only once at least one direction has been read.
type counterPair struct {
	in, out       uint64
	hasIn, hasOut bool
}

// failedRecord synthesises the record for a device whose cycle produced
// nothing usable.
func failedRecord(device models.Device, msg string) models.ResourceRecord {
	return models.ResourceRecord{
		DeviceID:    device.ID,
		Host:        device.Host,
		Name:        device.DisplayName(),
		CollectedAt: time.Now(),
		Failed:      true,
		Error:       msg,
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
