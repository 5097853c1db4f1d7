package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vpbank/proxy_monitor/models"
	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/config"
)

// writePaths drops the two fixture files into a temp dir and returns the
// Paths pointing at them.
func writePaths(t *testing.T, devicesYAML, resourcesYAML string) config.Paths {
	t.Helper()
	dir := t.TempDir()
	p := config.Paths{
		Devices:   filepath.Join(dir, "devices.yaml"),
		Resources: filepath.Join(dir, "resources.yaml"),
	}
	if err := os.WriteFile(p.Devices, []byte(devicesYAML), 0o644); err != nil {
		t.Fatalf("write devices: %v", err)
	}
	if err := os.WriteFile(p.Resources, []byte(resourcesYAML), 0o644); err != nil {
		t.Fatalf("write resources: %v", err)
	}
	return p
}

var devicesYAML = `
devices:
  - id: 1
    host: 10.10.1.1
    alias: proxy-a
    group: dc1
    username: monitor
    password: secret
  - id: 2
    host: 10.10.1.2
    group: dc2
    ssh_port: 2222
    community: special
`

var resourcesYAML = `
community: fleet
oids:
  cpu: 1.3.6.1.4.1.2021.11.9.0
  mem: ssh
  cc: 1.3.6.1.4.1.9999.1.1.0
  http: ""
interface_oids:
  LINE-A:
    in: 1.3.6.1.2.1.2.2.1.10.2
    out: 1.3.6.1.2.1.2.2.1.16.2
  LINE-B:
    in: 1.3.6.1.2.1.2.2.1.10.3
snmp_timeout_seconds: 8
poll_interval_seconds: 120
`

// ── PathsFromEnv ─────────────────────────────────────────────────────────────

func TestPathsFromEnv_Defaults(t *testing.T) {
	t.Setenv("PROXYMON_DEVICES_PATH", "")
	t.Setenv("PROXYMON_RESOURCES_PATH", "")
	p := config.PathsFromEnv()
	if p.Devices != "/etc/proxy_monitor/devices.yaml" {
		t.Errorf("Devices = %q", p.Devices)
	}
	if p.Resources != "/etc/proxy_monitor/resources.yaml" {
		t.Errorf("Resources = %q", p.Resources)
	}
}

func TestPathsFromEnv_Override(t *testing.T) {
	t.Setenv("PROXYMON_DEVICES_PATH", "/custom/devices.yaml")
	p := config.PathsFromEnv()
	if p.Devices != "/custom/devices.yaml" {
		t.Errorf("Devices = %q, want /custom/devices.yaml", p.Devices)
	}
}

// ── Load ─────────────────────────────────────────────────────────────────────

func TestLoad_ResolvesInventory(t *testing.T) {
	cfg, err := config.Load(writePaths(t, devicesYAML, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(cfg.Devices))
	}

	a := cfg.Devices[0]
	if a.ID != 1 || a.Host != "10.10.1.1" || a.Alias != "proxy-a" || a.Group != "dc1" {
		t.Errorf("device 1 = %+v", a)
	}
	if a.Community != "fleet" {
		t.Errorf("device 1 community = %q, want inherited %q", a.Community, "fleet")
	}
	if a.SSHPort != 22 {
		t.Errorf("device 1 ssh port = %d, want default 22", a.SSHPort)
	}
	if a.DisplayName() != "proxy-a" {
		t.Errorf("device 1 display name = %q", a.DisplayName())
	}

	b := cfg.Devices[1]
	if b.Community != "special" {
		t.Errorf("device 2 community = %q, want per-device override", b.Community)
	}
	if b.SSHPort != 2222 {
		t.Errorf("device 2 ssh port = %d, want 2222", b.SSHPort)
	}
	if b.DisplayName() != "10.10.1.2" {
		t.Errorf("device 2 display name = %q, want host fallback", b.DisplayName())
	}
}

func TestLoad_MetricSources(t *testing.T) {
	cfg, err := config.Load(writePaths(t, devicesYAML, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cpu, ok := cfg.Metrics["cpu"]
	if !ok || cpu.Kind != models.SourceSNMP || cpu.OID != "1.3.6.1.4.1.2021.11.9.0" {
		t.Errorf("cpu = %+v, want SNMP source", cpu)
	}
	mem, ok := cfg.Metrics["mem"]
	if !ok || mem.Kind != models.SourceSSH || mem.OID != "" {
		t.Errorf("mem = %+v, want SSH source with no OID", mem)
	}
	if _, ok := cfg.Metrics["http"]; ok {
		t.Error("blank OID must leave the metric key absent")
	}
}

func TestLoad_SSHSentinelIsCaseInsensitive(t *testing.T) {
	res := "oids:\n  mem: SSH\n"
	cfg, err := config.Load(writePaths(t, devicesYAML, res), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Metrics["mem"].Kind != models.SourceSSH {
		t.Errorf("mem = %+v, want SSH source", cfg.Metrics["mem"])
	}
}

func TestLoad_Interfaces(t *testing.T) {
	cfg, err := config.Load(writePaths(t, devicesYAML, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Interfaces) != 2 {
		t.Fatalf("interfaces = %d, want 2", len(cfg.Interfaces))
	}
	la := cfg.Interfaces["LINE-A"]
	if la.In != "1.3.6.1.2.1.2.2.1.10.2" || la.Out != "1.3.6.1.2.1.2.2.1.16.2" {
		t.Errorf("LINE-A = %+v", la)
	}
	lb := cfg.Interfaces["LINE-B"]
	if lb.In == "" || lb.Out != "" {
		t.Errorf("LINE-B = %+v, want in-only", lb)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := config.Load(writePaths(t, devicesYAML, "oids:\n  cpu: 1.3.6.1.2.1.25.3.3.1.2.1\n"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Community != "public" {
		t.Errorf("community = %q, want public", cfg.Community)
	}
	if cfg.MetricTimeout != 5*time.Second {
		t.Errorf("metric timeout = %v, want 5s", cfg.MetricTimeout)
	}
	if cfg.SNMPTimeout != 10*time.Second {
		t.Errorf("snmp timeout = %v, want 10s", cfg.SNMPTimeout)
	}
	if cfg.PollInterval != 60*time.Second {
		t.Errorf("poll interval = %v, want 60s", cfg.PollInterval)
	}
}

func TestLoad_ExplicitTiming(t *testing.T) {
	cfg, err := config.Load(writePaths(t, devicesYAML, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SNMPTimeout != 8*time.Second {
		t.Errorf("snmp timeout = %v, want 8s", cfg.SNMPTimeout)
	}
	if cfg.PollInterval != 120*time.Second {
		t.Errorf("poll interval = %v, want 120s", cfg.PollInterval)
	}
}

func TestLoad_UnsupportedIntervalFallsBack(t *testing.T) {
	res := "poll_interval_seconds: 45\n"
	cfg, err := config.Load(writePaths(t, devicesYAML, res), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 60*time.Second {
		t.Errorf("poll interval = %v, want default 60s for unsupported value", cfg.PollInterval)
	}
}

func TestLoad_SkipsBlankHost(t *testing.T) {
	dev := `
devices:
  - id: 1
    host: ""
  - id: 2
    host: 10.0.0.2
`
	cfg, err := config.Load(writePaths(t, dev, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].ID != 2 {
		t.Errorf("devices = %+v, want only id 2", cfg.Devices)
	}
}

func TestLoad_DuplicateIDKeepsFirst(t *testing.T) {
	dev := `
devices:
  - id: 7
    host: first.example.com
  - id: 7
    host: second.example.com
`
	cfg, err := config.Load(writePaths(t, dev, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].Host != "first.example.com" {
		t.Errorf("devices = %+v, want only the first entry for id 7", cfg.Devices)
	}
}

func TestLoad_MissingFilesAccumulateErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := config.Load(config.Paths{
		Devices:   filepath.Join(dir, "absent-devices.yaml"),
		Resources: filepath.Join(dir, "absent-resources.yaml"),
	}, nil)
	if err == nil {
		t.Fatal("expected an error for missing files")
	}
}

// ── Accessors ────────────────────────────────────────────────────────────────

func TestConfig_GroupFiltering(t *testing.T) {
	cfg, err := config.Load(writePaths(t, devicesYAML, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	dc1 := cfg.Group("dc1")
	if len(dc1) != 1 || dc1[0].ID != 1 {
		t.Errorf("Group(dc1) = %+v", dc1)
	}
	all := cfg.Group("")
	if len(all) != 2 {
		t.Errorf("Group(\"\") = %d devices, want 2", len(all))
	}
	if got := cfg.Group("absent"); len(got) != 0 {
		t.Errorf("Group(absent) = %+v, want none", got)
	}

	groups := cfg.Groups()
	if len(groups) != 2 || groups[0] != "dc1" || groups[1] != "dc2" {
		t.Errorf("Groups() = %v, want [dc1 dc2]", groups)
	}
}

func TestConfig_SortedKeyAccessors(t *testing.T) {
	cfg, err := config.Load(writePaths(t, devicesYAML, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	keys := cfg.MetricKeys()
	want := []string{"cc", "cpu", "mem"}
	if len(keys) != len(want) {
		t.Fatalf("MetricKeys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("MetricKeys() = %v, want %v", keys, want)
		}
	}

	names := cfg.InterfaceNames()
	if len(names) != 2 || names[0] != "LINE-A" || names[1] != "LINE-B" {
		t.Errorf("InterfaceNames() = %v, want [LINE-A LINE-B]", names)
	}
}

func TestConfig_DeviceByHost(t *testing.T) {
	cfg, err := config.Load(writePaths(t, devicesYAML, resourcesYAML), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, ok := cfg.DeviceByHost("10.10.1.2")
	if !ok || d.ID != 2 {
		t.Errorf("DeviceByHost = %+v, %v", d, ok)
	}
	if _, ok := cfg.DeviceByHost("nope"); ok {
		t.Error("unknown host should not resolve")
	}
}
