// Package app wires the proxy monitor together and manages its lifecycle.
//
// Collection path:
//
//	Scheduler ──┐
//	            ├→ [cycleCh] → cycle runner → Collector → sinks + status
//	CollectNow ─┘
//
// Refresh path (parallel):
//
//	TrapReceiver → [refresh queue] → single-device collect → sinks + status
//
// Exactly one cycle runs at a time. cycleCh is unbuffered, so a trigger that
// arrives while a cycle is in flight is rejected immediately, never queued.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	csvformat "github.com/vpbank/proxy_monitor/format/csv"
	jsonformat "github.com/vpbank/proxy_monitor/format/json"
	"github.com/vpbank/proxy_monitor/models"
	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/collector"
	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/config"
	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/scheduler"
	"github.com/vpbank/proxy_monitor/pkg/proxymonitor/trapreceiver"
	"github.com/vpbank/proxy_monitor/producer/rates"
	snmpclient "github.com/vpbank/proxy_monitor/snmp/client"
	"github.com/vpbank/proxy_monitor/sshclient"
	filetransport "github.com/vpbank/proxy_monitor/transport/file"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the top-level settings for the monitor application.
// Zero-value fields fall back to documented defaults.
type Config struct {
	// ConfigPaths are the YAML inventory locations.
	// Use config.PathsFromEnv() to populate from environment variables.
	ConfigPaths config.Paths

	// Group restricts collection to one device group. Empty means the
	// whole fleet.
	Group string

	// AutoCollect runs cycles on the configured interval. Manual
	// CollectNow triggers work either way.
	AutoCollect bool

	// PollInterval, SNMPTimeout and TaskTimeout override the loaded
	// configuration when positive.
	PollInterval time.Duration
	SNMPTimeout  time.Duration
	TaskTimeout  time.Duration

	// OutputDir is the directory for the daily CSV files. Defaults to
	// "data".
	OutputDir string

	// ErrorLogPath is the collection failure trail. Defaults to
	// "logs/error.log".
	ErrorLogPath string

	// JSONEnabled streams one JSON document per settled record to
	// JSONWriter.
	JSONEnabled bool

	// JSONWriter is the JSON stream destination. Defaults to os.Stdout.
	JSONWriter io.Writer

	// PrettyPrint indents the JSON stream.
	PrettyPrint bool

	// TrapEnabled starts the SNMP trap listener for event-driven refresh.
	TrapEnabled bool

	// TrapListenAddr is the trap listener UDP address.
	// Defaults to "0.0.0.0:162".
	TrapListenAddr string
}

func (c *Config) withDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "data"
	}
	if c.ErrorLogPath == "" {
		c.ErrorLogPath = filepath.Join("logs", "error.log")
	}
	if c.TrapListenAddr == "" {
		c.TrapListenAddr = "0.0.0.0:162"
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// App
// ─────────────────────────────────────────────────────────────────────────────

// cycleRequest is one accepted collection trigger.
type cycleRequest struct {
	group  string
	source string // "interval" or "manual"
}

// App owns every component of the monitor and the goroutines connecting
// them. Construct with New, then call Start and eventually Stop.
type App struct {
	cfg    Config
	logger *slog.Logger

	// Loaded configuration (populated in Start).
	loadedCfg *config.Config

	// Fetch dependencies. Start builds the real SNMP and SSH clients when
	// these are nil.
	getter collector.Getter
	memory collector.MemoryFetcher

	// Components.
	snmp     *snmpclient.Client
	ssh      *sshclient.Client
	cache    *rates.Cache
	coll     *collector.Collector
	sched    *scheduler.Scheduler
	receiver *trapreceiver.TrapReceiver

	// Sinks.
	csv     *csvformat.CSVFormatter
	jsonf   *jsonformat.JSONFormatter
	daily   *filetransport.DailyFile
	jsonOut filetransport.Transport
	errlog  *filetransport.ErrorLog

	tracker *statusTracker

	// cycleCh hands accepted triggers to the runner goroutine. It is
	// unbuffered so a trigger is accepted only while the runner is idle.
	cycleCh chan cycleRequest

	// Lifecycle.
	g      *errgroup.Group
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
}

// New constructs an App. It does not start anything — call Start for that.
func New(cfg Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg.withDefaults()
	return &App{
		cfg:     cfg,
		logger:  logger,
		tracker: newStatusTracker(),
		cycleCh: make(chan cycleRequest),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Start loads configuration, builds the collection stack and output sinks,
// and launches the lifecycle goroutines. It returns an error when
// configuration loading or sink creation fails; a trap listener that cannot
// bind is logged and skipped instead.
//
// The caller must eventually call Stop to release resources.
func (a *App) Start(ctx context.Context) (err error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app: already running")
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		if err == nil {
			return
		}
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		if a.errlog != nil {
			_ = a.errlog.Close()
		}
	}()

	// ── 1. Load configuration ───────────────────────────────────────────
	a.logger.Info("app: loading configuration")
	loaded, err := config.Load(a.cfg.ConfigPaths, a.logger)
	if err != nil {
		return fmt.Errorf("app: load config: %w", err)
	}
	if a.cfg.PollInterval > 0 {
		loaded.PollInterval = a.cfg.PollInterval
	}
	if a.cfg.SNMPTimeout > 0 {
		loaded.SNMPTimeout = a.cfg.SNMPTimeout
	}
	if a.cfg.TaskTimeout > 0 {
		loaded.MetricTimeout = a.cfg.TaskTimeout
	}
	a.loadedCfg = loaded
	a.logger.Info("app: configuration loaded",
		"devices", len(loaded.Devices),
		"metrics", len(loaded.Metrics),
		"interfaces", len(loaded.Interfaces),
	)

	// ── 2. Open sinks (error trail first: it feeds the log tee) ─────────
	base := a.logger
	a.errlog, err = filetransport.NewErrorLog(filetransport.ErrorLogConfig{
		Path: a.cfg.ErrorLogPath,
	}, base)
	if err != nil {
		return fmt.Errorf("app: open error log: %w", err)
	}

	// From here on, warnings and errors anywhere in the collection path
	// are also appended to the error trail. The sinks themselves keep the
	// base logger so a failing sink cannot log back into itself.
	a.logger = slog.New(newTeeHandler(base.Handler(), a.errlog))

	if a.cfg.Group != "" && len(loaded.Group(a.cfg.Group)) == 0 {
		a.logger.Warn("app: group matches no devices", "group", a.cfg.Group)
	}

	a.csv = csvformat.New(csvformat.Config{
		Metrics:    loaded.MetricKeys(),
		Interfaces: loaded.InterfaceNames(),
	}, base)
	header, err := a.csv.EncodeHeader()
	if err != nil {
		return fmt.Errorf("app: encode csv header: %w", err)
	}
	a.daily, err = filetransport.NewDailyFile(filetransport.DailyConfig{
		Dir:    a.cfg.OutputDir,
		Header: header,
	}, base)
	if err != nil {
		return fmt.Errorf("app: open output dir: %w", err)
	}
	if a.cfg.JSONEnabled {
		a.jsonf = jsonformat.New(jsonformat.Config{
			PrettyPrint: a.cfg.PrettyPrint,
		}, base)
		a.jsonOut = filetransport.New(filetransport.Config{
			Writer: a.cfg.JSONWriter,
		}, base)
	}

	// ── 3. Build the collection stack ────────────────────────────────────
	if a.getter == nil {
		a.snmp = snmpclient.New(snmpclient.Config{
			Timeout: loaded.SNMPTimeout,
		}, a.logger)
		a.getter = a.snmp
	}
	if a.memory == nil {
		a.ssh = sshclient.New(sshclient.Options{}, a.logger)
		a.memory = a.ssh
	}
	a.cache = rates.NewCache()
	a.coll = collector.New(collector.Config{
		Community:   loaded.Community,
		Metrics:     loaded.Metrics,
		Interfaces:  loaded.Interfaces,
		TaskTimeout: loaded.MetricTimeout,
	}, a.getter, a.memory, a.cache, a.logger)

	// ── 4. Launch the cycle runner under one errgroup ────────────────────
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	a.g = g

	g.Go(func() error {
		a.runCycles(gctx)
		return nil
	})

	// ── 5. Scheduler drives periodic cycles ──────────────────────────────
	if a.cfg.AutoCollect {
		a.sched = scheduler.New(scheduler.EntriesFromConfig(loaded, a.cfg.Group), a, a.logger)
		g.Go(func() error {
			a.sched.Start(gctx)
			return nil
		})
		a.logger.Info("app: scheduler started", "entries", a.sched.Entries())
	}

	// ── 6. Optionally start the trap receiver ────────────────────────────
	if a.cfg.TrapEnabled {
		a.receiver = trapreceiver.New(trapreceiver.Config{
			ListenAddr: a.cfg.TrapListenAddr,
			Community:  loaded.Community,
		}, loaded, a.logger)
		if trapErr := a.receiver.Start(runCtx); trapErr != nil {
			// Non-fatal: log and continue without traps.
			a.logger.Error("app: trap receiver failed to start — continuing without traps",
				"error", trapErr.Error(),
			)
			a.receiver = nil
		} else {
			g.Go(func() error {
				a.consumeRefreshes(gctx)
				return nil
			})
			a.logger.Info("app: trap receiver started", "addr", a.cfg.TrapListenAddr)
		}
	}

	a.logger.Info("app: running",
		"group", groupLabel(a.cfg.Group),
		"auto_collect", a.cfg.AutoCollect,
		"interval", loaded.PollInterval,
		"trap_enabled", a.cfg.TrapEnabled,
	)
	return nil
}

// Stop performs a graceful shutdown.
//
// Shutdown order:
//  1. Cancel the run context. The scheduler and the refresh consumer exit;
//     an in-flight cycle settles quickly as its per-device contexts collapse.
//  2. Wait for the scheduler loop to return.
//  3. Stop the trap receiver (closes its refresh queue).
//  4. Wait for the cycle runner and refresh consumer to drain.
//  5. Release sinks and pooled SSH connections.
func (a *App) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("app: shutting down")

	// 1. Signal all goroutines to stop.
	if a.cancel != nil {
		a.cancel()
	}

	// 2. Wait for the scheduler to return.
	if a.sched != nil {
		a.sched.Stop()
	}

	// 3. Stop the trap receiver (closes its output channel).
	if a.receiver != nil {
		a.receiver.Stop()
	}

	// 4. Wait for the lifecycle goroutines to drain.
	if a.g != nil {
		if err := a.g.Wait(); err != nil {
			a.logger.Error("app: lifecycle error", "error", err.Error())
		}
	}

	// 5. Release resources. The error trail closes last so the close
	// errors above still reach it.
	if a.jsonOut != nil {
		if err := a.jsonOut.Close(); err != nil {
			a.logger.Error("app: json transport close error", "error", err.Error())
		}
	}
	if a.daily != nil {
		if err := a.daily.Close(); err != nil {
			a.logger.Error("app: daily file close error", "error", err.Error())
		}
	}
	if a.ssh != nil {
		if err := a.ssh.Close(); err != nil {
			a.logger.Error("app: ssh pool close error", "error", err.Error())
		}
	}
	if a.errlog != nil {
		if err := a.errlog.Close(); err != nil {
			a.logger.Error("app: error log close error", "error", err.Error())
		}
	}

	a.logger.Info("app: shutdown complete")
}

// ─────────────────────────────────────────────────────────────────────────────
// Triggers
// ─────────────────────────────────────────────────────────────────────────────

// TrySubmit implements scheduler.CycleSubmitter.
func (a *App) TrySubmit(group string) bool {
	return a.submit(group, "interval")
}

// CollectNow triggers one immediate cycle for the named group (empty means
// the whole fleet). It reports false when a cycle is already in flight.
func (a *App) CollectNow(group string) bool {
	return a.submit(group, "manual")
}

func (a *App) submit(group, source string) bool {
	select {
	case a.cycleCh <- cycleRequest{group: group, source: source}:
		return true
	default:
		return false
	}
}

// Snapshot returns the current collection state for display.
func (a *App) Snapshot() Snapshot {
	return a.tracker.snapshot()
}

// ─────────────────────────────────────────────────────────────────────────────
// Cycle runner
// ─────────────────────────────────────────────────────────────────────────────

// runCycles owns cycle execution. While runCycle is on the stack nothing
// receives from cycleCh, which is what makes submit fail fast mid-cycle.
func (a *App) runCycles(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.cycleCh:
			a.runCycle(ctx, req)
		}
	}
}

// runCycle performs one full collection pass and settles the status tracker.
func (a *App) runCycle(ctx context.Context, req cycleRequest) {
	a.tracker.starting()

	devices := a.loadedCfg.Group(req.group)
	a.logger.Info("app: cycle starting",
		"group", groupLabel(req.group),
		"devices", len(devices),
		"source", req.source,
	)
	a.tracker.collecting(len(devices))

	records, err := a.coll.CollectFleet(ctx, devices, a.tracker.advance)
	warning := a.persistRecords(records)

	ok := 0
	for i := range records {
		if !records[i].Failed {
			ok++
		}
	}
	failed := len(records) - ok

	if err != nil {
		a.tracker.fail(records, lastErrorOf(records, err), warning)
		a.logger.Error("app: cycle failed",
			"group", groupLabel(req.group),
			"devices", len(devices),
			"error", err.Error(),
		)
		return
	}
	if failed > 0 {
		partial := fmt.Sprintf("collected %d ok, %d failed", ok, failed)
		if warning != "" {
			partial += " / " + warning
		}
		warning = partial
	}
	a.tracker.succeed(records, warning)
	a.logger.Info("app: cycle complete",
		"group", groupLabel(req.group),
		"ok", ok,
		"failed", failed,
	)
}

// persistRecords writes every record to the configured sinks. Sink failures
// degrade to a warning on the cycle state, never a cycle failure.
func (a *App) persistRecords(records []models.ResourceRecord) string {
	var warning string
	for i := range records {
		rec := &records[i]

		row, err := a.csv.Format(rec)
		if err == nil {
			err = a.daily.Send(row)
		}
		if err != nil {
			a.logger.Warn("app: csv write failed",
				"device_id", rec.DeviceID,
				"error", err.Error(),
			)
			if warning == "" {
				warning = "csv write failed: " + err.Error()
			}
		}

		if a.jsonOut == nil {
			continue
		}
		doc, err := a.jsonf.Format(rec)
		if err == nil {
			err = a.jsonOut.Send(doc)
		}
		if err != nil {
			a.logger.Warn("app: json write failed",
				"device_id", rec.DeviceID,
				"error", err.Error(),
			)
			if warning == "" {
				warning = "json write failed: " + err.Error()
			}
		}
	}
	return warning
}

// consumeRefreshes re-collects devices queued by the trap receiver and
// splices each fresh record into the status snapshot.
func (a *App) consumeRefreshes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case dev, chOpen := <-a.receiver.Output():
			if !chOpen {
				return
			}
			rec := a.coll.CollectDevice(ctx, dev)
			a.persistRecords([]models.ResourceRecord{rec})
			a.tracker.replaceRecord(rec)
			a.logger.Info("app: trap refresh collected",
				"device", dev.DisplayName(),
				"failed", rec.Failed,
			)
		}
	}
}

// lastErrorOf returns the last per-device error message, falling back to the
// fleet-level error when the records carry none.
func lastErrorOf(records []models.ResourceRecord, err error) string {
	msg := ""
	for i := range records {
		if records[i].Error != "" {
			msg = records[i].Error
		}
	}
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return msg
}

// groupLabel names a group filter for log output.
func groupLabel(group string) string {
	if group == "" {
		return "all"
	}
	return group
}

// noopWriter discards all log output when no logger is supplied.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
