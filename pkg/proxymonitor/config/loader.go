// Package config provides YAML configuration loading for the proxy monitor.
//
// It reads two files (paths driven by environment variables, overridable by
// flags) and produces a Config value used by the rest of the application:
//
//	PROXYMON_DEVICES_PATH   → the device inventory
//	PROXYMON_RESOURCES_PATH → community, metric OIDs, interface OIDs, timing
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vpbank/proxy_monitor/models"
)

// Hard-coded fallbacks applied during resolution.
const (
	defaultCommunity     = "public"
	defaultSSHPort       = 22
	defaultMetricTimeout = 5 * time.Second
	defaultSNMPTimeout   = 10 * time.Second
	defaultPollInterval  = 60 * time.Second
)

// validIntervals are the supported automatic collection cadences in seconds.
// Anything else in the file is snapped back to the default with a warning.
var validIntervals = map[int]bool{10: true, 30: true, 60: true, 120: true, 300: true, 600: true}

// ─────────────────────────────────────────────────────────────────────────────
// Raw YAML schema
// ─────────────────────────────────────────────────────────────────────────────

// rawDeviceFile is the devices file: a single `devices` list.
type rawDeviceFile struct {
	Devices []rawDeviceEntry `yaml:"devices"`
}

// rawDeviceEntry maps 1-to-1 with one inventory entry. Zero-valued optional
// fields are filled during resolution.
type rawDeviceEntry struct {
	ID        uint32 `yaml:"id"`
	Host      string `yaml:"host"`
	Alias     string `yaml:"alias"`
	Group     string `yaml:"group"`
	SSHPort   int    `yaml:"ssh_port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Community string `yaml:"community"`
}

// rawResourceFile is the resources file.
type rawResourceFile struct {
	Community string `yaml:"community"`

	// OIDs maps metric key → scalar OID, or the sentinel "ssh" for metrics
	// fetched over SSH. Blank values mean "not configured".
	OIDs map[string]string `yaml:"oids"`

	// InterfaceOIDs maps interface name → per-direction counter OIDs.
	InterfaceOIDs map[string]models.InterfaceOIDs `yaml:"interface_oids"`

	MetricTimeoutSeconds int `yaml:"metric_timeout_seconds"`
	SNMPTimeoutSeconds   int `yaml:"snmp_timeout_seconds"`
	PollIntervalSeconds  int `yaml:"poll_interval_seconds"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

// Load reads both configuration files and returns a fully resolved Config.
// Errors from the two files are accumulated and returned together so that
// operators see all problems at once. Entries that are individually broken
// (blank host, duplicate id) are skipped with a warning rather than failing
// the load.
func Load(paths Paths, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	var errs []string

	var rawRes rawResourceFile
	if err := decodeFile(paths.Resources, &rawRes); err != nil {
		errs = append(errs, fmt.Sprintf("resources file %q: %v", paths.Resources, err))
	}

	var rawDev rawDeviceFile
	if err := decodeFile(paths.Devices, &rawDev); err != nil {
		errs = append(errs, fmt.Sprintf("devices file %q: %v", paths.Devices, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %d error(s):\n  %s", len(errs), strings.Join(errs, "\n  "))
	}

	cfg := resolveResources(rawRes, logger)
	cfg.Devices = resolveDevices(rawDev.Devices, cfg.Community, logger)

	if len(cfg.Devices) == 0 {
		logger.Warn("config: device inventory is empty", "file", paths.Devices)
	}
	logger.Debug("config: loaded",
		"devices", len(cfg.Devices),
		"metrics", len(cfg.Metrics),
		"interfaces", len(cfg.Interfaces))
	return cfg, nil
}

// resolveResources applies defaults and converts the metric OID map into
// MetricSource values. The "ssh" sentinel is recognised here, once, so that
// collection code switches on MetricSource.Kind and never compares strings.
func resolveResources(raw rawResourceFile, logger *slog.Logger) *Config {
	cfg := &Config{
		Community:     raw.Community,
		Metrics:       make(map[string]models.MetricSource, len(raw.OIDs)),
		Interfaces:    make(map[string]models.InterfaceOIDs, len(raw.InterfaceOIDs)),
		MetricTimeout: defaultMetricTimeout,
		SNMPTimeout:   defaultSNMPTimeout,
		PollInterval:  defaultPollInterval,
	}
	if cfg.Community == "" {
		cfg.Community = defaultCommunity
	}

	for key, oid := range raw.OIDs {
		oid = strings.TrimSpace(oid)
		switch {
		case oid == "":
			// Not configured; leave the key absent entirely.
		case strings.EqualFold(oid, "ssh"):
			cfg.Metrics[key] = models.MetricSource{Kind: models.SourceSSH}
		default:
			cfg.Metrics[key] = models.MetricSource{Kind: models.SourceSNMP, OID: oid}
		}
	}

	for name, oids := range raw.InterfaceOIDs {
		oids.In = strings.TrimSpace(oids.In)
		oids.Out = strings.TrimSpace(oids.Out)
		if oids.In == "" && oids.Out == "" {
			logger.Warn("config: interface has no counter OIDs, skipping", "interface", name)
			continue
		}
		cfg.Interfaces[name] = oids
	}

	if raw.MetricTimeoutSeconds > 0 {
		cfg.MetricTimeout = time.Duration(raw.MetricTimeoutSeconds) * time.Second
	}
	if raw.SNMPTimeoutSeconds > 0 {
		cfg.SNMPTimeout = time.Duration(raw.SNMPTimeoutSeconds) * time.Second
	}
	if raw.PollIntervalSeconds > 0 {
		if validIntervals[raw.PollIntervalSeconds] {
			cfg.PollInterval = time.Duration(raw.PollIntervalSeconds) * time.Second
		} else {
			logger.Warn("config: unsupported poll interval, using default",
				"requested_seconds", raw.PollIntervalSeconds,
				"default", defaultPollInterval)
		}
	}
	return cfg
}

// resolveDevices validates and resolves the raw inventory. A blank host is
// unusable and the entry is dropped; a duplicate id keeps the first entry so
// that file order decides.
func resolveDevices(raw []rawDeviceEntry, community string, logger *slog.Logger) []models.Device {
	devices := make([]models.Device, 0, len(raw))
	seen := make(map[uint32]bool, len(raw))

	for i, e := range raw {
		if strings.TrimSpace(e.Host) == "" {
			logger.Warn("config: device entry has no host, skipping", "index", i, "id", e.ID)
			continue
		}
		if seen[e.ID] {
			logger.Warn("config: duplicate device id, keeping first", "id", e.ID, "host", e.Host)
			continue
		}
		seen[e.ID] = true

		d := models.Device{
			ID:        e.ID,
			Host:      strings.TrimSpace(e.Host),
			Alias:     e.Alias,
			Group:     e.Group,
			Community: e.Community,
			SSHPort:   e.SSHPort,
			Username:  e.Username,
			Password:  e.Password,
		}
		if d.Community == "" {
			d.Community = community
		}
		if d.SSHPort == 0 {
			d.SSHPort = defaultSSHPort
		}
		devices = append(devices, d)
	}
	return devices
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// decodeFile opens path and unmarshals the YAML content into out.
func decodeFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(false) // be lenient — extra keys are fine
	return dec.Decode(out)
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
