// Command proxymonitor is the proxy fleet resource monitor binary.
//
// It loads the device inventory and resource map from YAML files located via
// environment variables (or command-line flags), collects resource usage from
// every configured proxy on an interval, appends the results to daily CSV
// files plus an optional JSON stream, and runs until interrupted
// (SIGINT / SIGTERM). With -trap.enabled it also listens for SNMP traps and
// refreshes a device as soon as one of its links changes state.
//
// Usage:
//
//	proxymonitor [flags]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/app"
	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "proxymonitor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ── Flags ────────────────────────────────────────────────────────────
	var (
		logLevel string
		logFmt   string

		cfgDevices   string
		cfgResources string

		group       string
		intervalSec int
		autoCollect bool

		trapOn   bool
		trapAddr string

		outputDir  string
		jsonStream bool
		pretty     bool

		snmpTimeoutSec int
		taskTimeoutSec int
	)

	flag.StringVar(&logLevel, "log.level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFmt, "log.fmt", "json", "Log format: json, text")
	flag.StringVar(&cfgDevices, "config.devices", "", "Override PROXYMON_DEVICES_PATH")
	flag.StringVar(&cfgResources, "config.resources", "", "Override PROXYMON_RESOURCES_PATH")
	flag.StringVar(&group, "group", "", "Restrict collection to one device group (default: whole fleet)")
	flag.IntVar(&intervalSec, "collect.interval", 0, "Collection interval in seconds (0 = value from resources file)")
	flag.BoolVar(&autoCollect, "collect.auto", true, "Collect automatically on the interval")
	flag.BoolVar(&trapOn, "trap.enabled", false, "Enable the SNMP trap listener for event-driven refresh")
	flag.StringVar(&trapAddr, "trap.listen", "0.0.0.0:162", "Trap listener UDP address")
	flag.StringVar(&outputDir, "output.dir", "data", "Directory for daily CSV files")
	flag.BoolVar(&jsonStream, "output.json", false, "Stream one JSON record per device to stdout")
	flag.BoolVar(&pretty, "format.pretty", false, "Pretty-print the JSON stream")
	flag.IntVar(&snmpTimeoutSec, "snmp.timeout", 0, "SNMP socket timeout in seconds (0 = value from resources file)")
	flag.IntVar(&taskTimeoutSec, "task.timeout", 0, "Per-fetch timeout in seconds (0 = value from resources file)")

	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────────
	logger, err := buildLogger(logLevel, logFmt)
	if err != nil {
		return err
	}

	// ── Config paths ─────────────────────────────────────────────────────
	paths := config.PathsFromEnv()
	applyPathOverrides(&paths, cfgDevices, cfgResources)

	// ── Build App ────────────────────────────────────────────────────────
	cfg := app.Config{
		ConfigPaths:    paths,
		Group:          group,
		AutoCollect:    autoCollect,
		PollInterval:   secondsToDuration(intervalSec),
		SNMPTimeout:    secondsToDuration(snmpTimeoutSec),
		TaskTimeout:    secondsToDuration(taskTimeoutSec),
		OutputDir:      outputDir,
		JSONEnabled:    jsonStream,
		PrettyPrint:    pretty,
		TrapEnabled:    trapOn,
		TrapListenAddr: trapAddr,
	}

	monitor := app.New(cfg, logger)

	// ── Start ────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	logger.Info("proxymonitor: running — press Ctrl-C to stop")

	// Block until signal.
	<-ctx.Done()
	logger.Info("proxymonitor: received shutdown signal")

	monitor.Stop()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q (expected debug|info|warn|error)", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (expected json|text)", format)
	}

	return slog.New(handler), nil
}

func applyPathOverrides(p *config.Paths, devices, resources string) {
	if devices != "" {
		p.Devices = devices
	}
	if resources != "" {
		p.Resources = resources
	}
}

func secondsToDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
