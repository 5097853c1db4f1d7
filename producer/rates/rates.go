// Package rates converts raw interface octet counters into bit rates. The
// producer feeds it one (in, out) counter pair per interface per cycle and
// gets back the derived bps values for the interval since the previous
// cycle, with single-wrap rollover handling.
package rates

import (
	"sync"
	"time"
)

// Validity window for the elapsed time between two samples. Below the lower
// bound the quantisation error dominates; above the upper bound the samples
// span more than one missed cycle and a single-wrap assumption is unsafe.
const (
	minElapsed = 1.0   // seconds
	maxElapsed = 300.0 // seconds
)

// key identifies one interface counter pair within the fleet.
type key struct {
	DeviceID uint32
	Iface    string
}

// sample holds the previously observed counter pair and when it was read.
type sample struct {
	In     uint64
	Out    uint64
	SeenAt time.Time
}

// Cache tracks the last observed counter pair for every (device, interface)
// so that consecutive cycles can be turned into rates. It lives for the
// process lifetime and is safe for concurrent use.
//
// Entries are only ever overwritten, never expired: a device that stops
// answering simply ages its entry past the validity window, and the first
// cycle after it recovers re-seeds silently.
type Cache struct {
	mu      sync.Mutex
	samples map[key]sample
}

// NewCache creates a ready-to-use Cache.
func NewCache() *Cache {
	return &Cache{samples: make(map[key]sample)}
}

// Observe records the current counter pair for (deviceID, iface) and, when a
// usable previous sample exists, returns the per-direction bit rates for the
// interval between the two samples.
//
// ok is false on the first observation of a key, when the elapsed time falls
// outside the [1s, 300s] validity window, and when both derived rates are
// zero. The stored sample is replaced unconditionally in every case, so one
// bad interval never poisons the next.
func (c *Cache) Observe(deviceID uint32, iface string, in, out uint64, now time.Time) (inBps, outBps float64, ok bool) {
	k := key{DeviceID: deviceID, Iface: iface}

	c.mu.Lock()
	prev, exists := c.samples[k]
	c.samples[k] = sample{In: in, Out: out, SeenAt: now}
	c.mu.Unlock()

	if !exists {
		return 0, 0, false
	}

	elapsed := now.Sub(prev.SeenAt).Seconds()
	if elapsed < minElapsed || elapsed > maxElapsed {
		return 0, 0, false
	}

	inBps = BitsPerSecond(prev.In, in, elapsed)
	outBps = BitsPerSecond(prev.Out, out, elapsed)
	if inBps <= 0 && outBps <= 0 {
		return 0, 0, false
	}
	return inBps, outBps, true
}

// Remove deletes all stored samples for the given device. Call this when a
// device leaves the inventory so a later re-add with the same id starts from
// a clean seed instead of a stale counter.
func (c *Cache) Remove(deviceID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.samples {
		if k.DeviceID == deviceID {
			delete(c.samples, k)
		}
	}
}

// Len returns the number of tracked interface counter pairs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

// BitsPerSecond converts two successive octet counter readings into a bit
// rate over elapsed seconds.
//
// Wrap detection: when current < prev the counter is assumed to have rolled
// over exactly once past the uint64 boundary, so the delta is the distance
// to the boundary plus the new reading. Multiple wraps within one interval
// are not handled; at any realistic line rate a 64-bit octet counter cannot
// wrap twice inside the 300s validity window.
func BitsPerSecond(prev, current uint64, elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	var diff uint64
	if current >= prev {
		diff = current - prev
	} else {
		diff = (^uint64(0) - prev) + current + 1
	}
	return float64(diff) * 8 / elapsed
}
