// Package daemon assembles the vigil daemon: display manager, capture
// pipeline, vision backend, task journal, wait scheduler, stuck detector,
// wake sink, and the HTTP surface.
package daemon

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/vigil-run/vigil/internal/capture"
	"github.com/vigil-run/vigil/internal/config"
	"github.com/vigil-run/vigil/internal/display"
	"github.com/vigil-run/vigil/internal/frontend"
	"github.com/vigil-run/vigil/internal/journal"
	"github.com/vigil-run/vigil/internal/logger"
	"github.com/vigil-run/vigil/internal/logger/tag"
	"github.com/vigil-run/vigil/internal/screenshot"
	"github.com/vigil-run/vigil/internal/vision"
	_ "github.com/vigil-run/vigil/internal/vision/backends/all"
	"github.com/vigil-run/vigil/internal/waitengine"
	"github.com/vigil-run/vigil/internal/wake"
)

// Daemon owns every long-lived component and their shutdown order.
type Daemon struct {
	cfg      *config.Config
	displays *display.Manager
	store    *journal.Store
	backend  vision.Backend
	engine   *waitengine.Engine
	detector *journal.StuckDetector
	server   *frontend.Server
}

// New builds a daemon from config. No goroutines are started; Run does that.
func New(cfg *config.Config) (*Daemon, error) {
	displays := display.NewManager(cfg.Display)

	store, err := journal.Open(cfg.Paths.DBFile,
		journal.WithDisplays(displays),
		journal.WithDefaultDisplay(cfg.Display.Default))
	if err != nil {
		return nil, err
	}

	backend, err := vision.New(cfg.Vision.Backend,
		vision.WithBaseURL(cfg.Vision.BaseURL),
		vision.WithModel(cfg.Vision.Model),
		vision.WithAPIKey(cfg.Vision.APIKey),
		vision.WithTimeout(cfg.Vision.Timeout))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create vision backend: %w", err)
	}

	shots, err := screenshot.New(cfg.Paths.ScreenshotsDir)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var sink wake.Sink
	if len(cfg.Wake.Command) > 0 {
		sink, err = wake.NewCommandSink(cfg.Wake.Command, cfg.Wake.Timeout)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	} else {
		sink = logSink{}
	}

	engine := waitengine.New(cfg.Wait, waitengine.Deps{
		Locks:         displays,
		Source:        capture.NewX11Source(displays),
		Resolver:      capture.NewWindowResolver(),
		Backend:       backend,
		Journal:       store,
		Shots:         shots,
		Sink:          sink,
		System:        cfg.Vision.System,
		VisionTimeout: cfg.Vision.Timeout,
	})

	detector := journal.NewStuckDetector(store, sink,
		cfg.Journal.StuckInterval, cfg.Journal.StuckThreshold, cfg.Journal.StuckCooldown)

	api := frontend.NewAPI(engine, store, backend, cfg.Display.Default)
	server := frontend.NewServer(cfg.Server, api, cfg.Global.LogFormat == "json")

	return &Daemon{
		cfg:      cfg,
		displays: displays,
		store:    store,
		backend:  backend,
		engine:   engine,
		detector: detector,
		server:   server,
	}, nil
}

// Run starts every component and blocks until a signal or a server failure,
// then tears down in reverse dependency order: listener first, then the
// loops, then displays and the journal.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Daemon starting",
		tag.Backend(d.backend.Name()),
		tag.String("addr", d.cfg.Server.Addr()),
		tag.Path(d.cfg.Paths.DBFile))

	if err := d.backend.Health(ctx); err != nil {
		logger.Warn(ctx, "Vision backend not reachable at startup", tag.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.engine.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		d.detector.Start(ctx)
	}()

	err := d.server.Serve(ctx)
	stop()
	wg.Wait()

	d.displays.CleanupAll(context.Background())
	if cerr := d.store.Close(); cerr != nil {
		logger.Error(ctx, "Failed to close journal", tag.Error(cerr))
	}
	logger.Info(ctx, "Daemon stopped")
	return err
}

// logSink is the fallback wake sink when no wake command is configured:
// events land in the daemon log only.
type logSink struct{}

func (logSink) Emit(ctx context.Context, message string) error {
	logger.Info(ctx, "Wake event", tag.String("message", message))
	return nil
}
