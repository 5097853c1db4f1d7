package config

import (
	"os"
	"sort"
	"time"

	"github.com/vpbank/proxy_monitor/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Paths
// ─────────────────────────────────────────────────────────────────────────────

// Paths holds the locations of the two configuration files.
type Paths struct {
	Devices   string // PROXYMON_DEVICES_PATH
	Resources string // PROXYMON_RESOURCES_PATH
}

// PathsFromEnv reads each path from its environment variable, falling back to
// the documented default when the variable is unset or empty.
func PathsFromEnv() Paths {
	return Paths{
		Devices:   envOr("PROXYMON_DEVICES_PATH", "/etc/proxy_monitor/devices.yaml"),
		Resources: envOr("PROXYMON_RESOURCES_PATH", "/etc/proxy_monitor/resources.yaml"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the fully resolved runtime configuration: the device inventory
// from the devices file joined with the metric and interface maps from the
// resources file, with all defaults applied. It is immutable after Load.
type Config struct {
	// Devices is the inventory in file order, minus skipped entries.
	Devices []models.Device

	// Community is the fleet-wide SNMPv2c community. Devices may carry
	// their own override; Device.Community is always resolved.
	Community string

	// Metrics maps metric key → fetch source. Keys with a blank OID in the
	// file are absent here, not present-and-empty.
	Metrics map[string]models.MetricSource

	// Interfaces maps interface name → per-direction counter OIDs.
	Interfaces map[string]models.InterfaceOIDs

	// MetricTimeout bounds one metric or counter fetch (default 5s).
	MetricTimeout time.Duration

	// SNMPTimeout is the client socket deadline (default 10s).
	SNMPTimeout time.Duration

	// PollInterval is the automatic collection cadence (default 60s).
	PollInterval time.Duration
}

// Group returns the devices belonging to the named group, or every device
// when name is empty. Order follows the inventory.
func (c *Config) Group(name string) []models.Device {
	if name == "" {
		return c.Devices
	}
	var out []models.Device
	for _, d := range c.Devices {
		if d.Group == name {
			out = append(out, d)
		}
	}
	return out
}

// Groups returns the distinct group names in the inventory, sorted.
func (c *Config) Groups() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range c.Devices {
		if d.Group != "" && !seen[d.Group] {
			seen[d.Group] = true
			out = append(out, d.Group)
		}
	}
	sort.Strings(out)
	return out
}

// DeviceByHost returns the device whose Host matches, for trap source
// correlation.
func (c *Config) DeviceByHost(host string) (models.Device, bool) {
	for _, d := range c.Devices {
		if d.Host == host {
			return d, true
		}
	}
	return models.Device{}, false
}

// MetricKeys returns the configured metric keys, sorted. The CSV formatter
// derives its column set from this so that every row of a file has the same
// shape.
func (c *Config) MetricKeys() []string {
	out := make([]string, 0, len(c.Metrics))
	for k := range c.Metrics {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// InterfaceNames returns the configured interface names, sorted.
func (c *Config) InterfaceNames() []string {
	out := make([]string, 0, len(c.Interfaces))
	for k := range c.Interfaces {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
