package rates_test

import (
	"testing"
	"time"

	"github.com/vpbank/proxy_monitor/producer/rates"
)

// ─────────────────────────────────────────────────────────────────────────────
// Cache.Observe
// ─────────────────────────────────────────────────────────────────────────────

func TestCache_FirstObservationSeedsWithoutEmitting(t *testing.T) {
	c := rates.NewCache()
	_, _, ok := c.Observe(1, "eth0", 1000, 2000, time.Now())
	if ok {
		t.Error("first observation should return ok=false")
	}
	if c.Len() != 1 {
		t.Errorf("cache length = %d, want 1 (first observation must seed)", c.Len())
	}
}

func TestCache_SecondObservationComputesRates(t *testing.T) {
	c := rates.NewCache()
	t0 := time.Now()
	c.Observe(7, "eth0", 1000, 0, t0) // seed

	in, out, ok := c.Observe(7, "eth0", 2500, 600, t0.Add(60*time.Second))
	if !ok {
		t.Fatal("second observation should return ok=true")
	}
	// (2500-1000)*8/60 = 200, (600-0)*8/60 = 80
	if in != 200 {
		t.Errorf("in = %v bps, want 200", in)
	}
	if out != 80 {
		t.Errorf("out = %v bps, want 80", out)
	}
}

func TestCache_WraparoundYieldsPositiveRate(t *testing.T) {
	c := rates.NewCache()
	t0 := time.Now()
	c.Observe(3, "wan", 4294967290, 4294967290, t0)

	in, out, ok := c.Observe(3, "wan", 5, 5, t0.Add(2*time.Second))
	if !ok {
		t.Fatal("expected ok=true after wrap")
	}
	want := float64((^uint64(0)-4294967290)+5+1) * 8 / 2
	if in != want {
		t.Errorf("in = %v bps, want %v", in, want)
	}
	if out != want {
		t.Errorf("out = %v bps, want %v", out, want)
	}
	if in <= 0 {
		t.Errorf("wrap rate must be positive, got %v", in)
	}
}

func TestCache_ElapsedOutsideWindowEmitsNothing(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
	}{
		{"below one second", 500 * time.Millisecond},
		{"above five minutes", 301 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := rates.NewCache()
			t0 := time.Now()
			c.Observe(1, "eth0", 1000, 1000, t0)
			if _, _, ok := c.Observe(1, "eth0", 9000, 9000, t0.Add(tc.elapsed)); ok {
				t.Errorf("elapsed %v should not produce a rate", tc.elapsed)
			}
		})
	}
}

func TestCache_OverwritesEvenWhenWindowInvalid(t *testing.T) {
	c := rates.NewCache()
	t0 := time.Now()
	c.Observe(1, "eth0", 1000, 0, t0)

	// Too soon: no rate, but the sample must replace the seed.
	t1 := t0.Add(200 * time.Millisecond)
	if _, _, ok := c.Observe(1, "eth0", 2000, 0, t1); ok {
		t.Fatal("sub-second interval should not produce a rate")
	}

	// The next valid interval must be measured against the rejected
	// sample's counters, not the original seed.
	in, _, ok := c.Observe(1, "eth0", 2600, 0, t1.Add(60*time.Second))
	if !ok {
		t.Fatal("expected ok=true on the following valid interval")
	}
	if want := float64(2600-2000) * 8 / 60; in != want {
		t.Errorf("in = %v bps, want %v (baseline must be the overwritten sample)", in, want)
	}
}

func TestCache_IdleInterfaceNotEmitted(t *testing.T) {
	c := rates.NewCache()
	t0 := time.Now()
	c.Observe(1, "eth0", 5000, 5000, t0)
	if _, _, ok := c.Observe(1, "eth0", 5000, 5000, t0.Add(60*time.Second)); ok {
		t.Error("unchanged counters should not produce a rate")
	}
}

func TestCache_OneActiveDirectionIsEnough(t *testing.T) {
	c := rates.NewCache()
	t0 := time.Now()
	c.Observe(1, "eth0", 1000, 4000, t0)

	in, out, ok := c.Observe(1, "eth0", 1600, 4000, t0.Add(60*time.Second))
	if !ok {
		t.Fatal("one nonzero direction should produce a rate")
	}
	if in != 80 {
		t.Errorf("in = %v bps, want 80", in)
	}
	if out != 0 {
		t.Errorf("out = %v bps, want 0", out)
	}
}

func TestCache_KeysIsolatedPerDevice(t *testing.T) {
	c := rates.NewCache()
	t0 := time.Now()
	c.Observe(1, "eth0", 1000, 1000, t0)

	// Same interface name on another device has no baseline yet.
	if _, _, ok := c.Observe(2, "eth0", 9000, 9000, t0.Add(60*time.Second)); ok {
		t.Error("device 2 should still be seeding, not emitting")
	}
}

func TestCache_RemoveClearsDeviceSamples(t *testing.T) {
	c := rates.NewCache()
	t0 := time.Now()
	c.Observe(1, "eth0", 1000, 1000, t0)
	c.Observe(1, "eth1", 1000, 1000, t0)
	c.Observe(2, "eth0", 1000, 1000, t0)

	c.Remove(1)
	if c.Len() != 1 {
		t.Fatalf("cache length after remove = %d, want 1", c.Len())
	}
	if _, _, ok := c.Observe(1, "eth0", 2000, 2000, t0.Add(60*time.Second)); ok {
		t.Error("removed device should re-seed, not emit")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// BitsPerSecond
// ─────────────────────────────────────────────────────────────────────────────

func TestBitsPerSecond(t *testing.T) {
	cases := []struct {
		name    string
		prev    uint64
		current uint64
		elapsed float64
		want    float64
	}{
		{"simple", 1000, 2500, 60, float64(1500) * 8 / 60},
		{"no movement", 5000, 5000, 60, 0},
		{"wrap", 4294967290, 5, 2, float64((^uint64(0)-4294967290)+5+1) * 8 / 2},
		{"zero elapsed guard", 0, 1000, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rates.BitsPerSecond(tc.prev, tc.current, tc.elapsed); got != tc.want {
				t.Errorf("BitsPerSecond(%d, %d, %v) = %v, want %v",
					tc.prev, tc.current, tc.elapsed, got, tc.want)
			}
		})
	}
}
