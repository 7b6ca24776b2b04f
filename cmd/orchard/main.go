// Command orchard runs the orchestration daemon: it restores state from
// the event log, arms timers, autostarts workers and crons, and reloads
// runbook definitions when they change on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/basket/orchard/internal/audit"
	"github.com/basket/orchard/internal/bus"
	"github.com/basket/orchard/internal/config"
	"github.com/basket/orchard/internal/defs"
	"github.com/basket/orchard/internal/eventlog"
	"github.com/basket/orchard/internal/notify"
	orchotel "github.com/basket/orchard/internal/otel"
	"github.com/basket/orchard/internal/proc"
	"github.com/basket/orchard/internal/runtime"
	"github.com/basket/orchard/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	home := flag.String("home", "", "orchard home directory (default $ORCHARD_HOME or ~/.orchard)")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	quiet := flag.Bool("quiet", false, "log to file only")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("orchard", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *home, *logLevel, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, "orchard:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, home, logLevel string, quiet bool) error {
	cfg, err := config.Load(home)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if quiet {
		cfg.Quiet = true
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, cfg.Quiet)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("orchard starting", "version", Version, "home", cfg.HomeDir, "config", cfg.Fingerprint())

	otelProvider, err := orchotel.Init(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutCtx); err != nil {
			logger.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := orchotel.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	files, err := defs.LoadDir(cfg.DefsPath())
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	registry := defs.NewRegistry(files)
	logger.Info("definitions loaded", "files", len(files), "dir", cfg.DefsPath())

	log, err := eventlog.Open(cfg.EventLogPath())
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer log.Close()

	msgBus := bus.New()

	trail, err := audit.Open(cfg.HomeDir, logger)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	defer trail.Close()
	auditSub := msgBus.Subscribe("")
	go trail.Watch(ctx, auditSub)
	defer msgBus.Unsubscribe(auditSub)

	rt := runtime.New(runtime.Config{
		Log:      log,
		Defs:     registry,
		Procs:    proc.Tmux{},
		Notifier: buildNotifier(cfg.Notify, logger),
		Sources:  buildSources(registry),
		Bus:      msgBus,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err := rt.Restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	rt.Start(ctx)
	defer rt.Stop()

	autostart(ctx, rt, registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.WatchDefsEnabled() {
		watcher := defs.NewWatcher(cfg.DefsPath(), logger)
		if err := watcher.Start(gctx); err != nil {
			return fmt.Errorf("watch definitions: %w", err)
		}
		g.Go(func() error {
			reloadLoop(gctx, watcher, registry, cfg.DefsPath(), logger)
			return nil
		})
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return g.Wait()
}

// buildNotifier assembles the configured notification fan-out.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) notify.Notifier {
	var out notify.Multi
	if cfg.DesktopEnabled() {
		out = append(out, notify.Desktop{})
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("telegram notifier disabled", "error", err)
		} else {
			out = append(out, tg)
		}
	}
	if len(out) == 0 {
		return notify.Nop{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// buildSources maps every external queue to its list command.
func buildSources(registry *defs.Registry) map[string]proc.Source {
	sources := make(map[string]proc.Source)
	for key, q := range registry.Queues() {
		if q.Type == defs.QueueExternal {
			sources[key] = proc.CommandSource{Command: q.ListCommand}
		}
	}
	return sources
}

// autostart brings up every worker and cron marked autostart. Failures
// are logged, not fatal: a worker already running after restore is fine.
func autostart(ctx context.Context, rt *runtime.Runtime, registry *defs.Registry, logger *slog.Logger) {
	for key, w := range registry.Workers() {
		if !w.AutoStart {
			continue
		}
		ns, name, _ := strings.Cut(key, "/")
		if err := rt.StartWorker(ctx, ns, name); err != nil {
			logger.Warn("worker autostart skipped", "worker", key, "reason", err)
		} else {
			logger.Info("worker autostarted", "worker", key)
		}
	}
	for key, c := range registry.Crons() {
		if !c.AutoStart {
			continue
		}
		ns, name, _ := strings.Cut(key, "/")
		if err := rt.StartCron(ctx, ns, name); err != nil {
			logger.Warn("cron autostart skipped", "cron", key, "reason", err)
		} else {
			logger.Info("cron autostarted", "cron", key)
		}
	}
}

// reloadLoop re-reads the whole definitions directory when files change.
// Changes are coalesced over a short debounce window; a directory that
// fails validation keeps the previous definition set.
func reloadLoop(ctx context.Context, watcher *defs.Watcher, registry *defs.Registry, dir string, logger *slog.Logger) {
	const debounce = 500 * time.Millisecond
	var pending *time.Timer
	var pendingC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events():
			if !ok {
				return
			}
			if pending == nil {
				pending = time.NewTimer(debounce)
				pendingC = pending.C
			} else {
				if !pending.Stop() {
					<-pendingC
				}
				pending.Reset(debounce)
			}
		case <-pendingC:
			pending = nil
			pendingC = nil
			files, err := defs.LoadDir(dir)
			if err != nil {
				logger.Error("definition reload rejected", "error", err)
				continue
			}
			registry.Reload(files)
			logger.Info("definitions reloaded", "files", len(files))
		}
	}
}
