// Package app wires the capture device, pipeline, controller and command
// channels together and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"firestige.xyz/netcap/internal/adapt"
	"firestige.xyz/netcap/internal/capture"
	"firestige.xyz/netcap/internal/command"
	"firestige.xyz/netcap/internal/config"
	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/dsl"
	"firestige.xyz/netcap/internal/filter"
	"firestige.xyz/netcap/internal/forward"
	"firestige.xyz/netcap/internal/log"
	"firestige.xyz/netcap/internal/metrics"
	"firestige.xyz/netcap/internal/pipeline"
	"firestige.xyz/netcap/internal/stats"
	"firestige.xyz/netcap/internal/transform"
)

// DefaultTransformation is used when neither raw, a DSL expression nor a
// transformation name is configured.
const DefaultTransformation = "hex"

// deviceStatsInterval is how often device counters are copied into the
// stats collector.
const deviceStatsInterval = time.Second

// DeviceOpener opens the capture device.
type DeviceOpener func(opts capture.Options) (capture.Device, error)

// App is one netcap run.
type App struct {
	cfg    *config.Config
	logger log.Logger

	stdin  io.Reader
	stdout io.Writer // records and command output
	stderr io.Writer // stats lines
	open   DeviceOpener

	stats      *stats.Collector
	registry   *prometheus.Registry
	cache      *dsl.Cache
	handle     *pipeline.Handle
	target     *dsl.Expression
	forwarder  forward.Forwarder
	pipeline   *pipeline.Pipeline
	device     *guardedDevice
	filters    *filter.Manager
	controller *adapt.Controller
	dispatcher *command.Dispatcher
	printer    *stats.Printer
	metricsSrv *metrics.Server
	socket     *command.SocketServer
	kafka      *command.KafkaConsumer
	pidWritten bool

	cancelCapture context.CancelFunc
	captureDone   chan error
	cancelBg      context.CancelFunc
	bg            conc.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	stopOnce     sync.Once
	stopErr      error
}

// Option customizes an App.
type Option func(*App)

// WithIO sets the streams used for commands, records and stats.
func WithIO(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(a *App) {
		a.stdin, a.stdout, a.stderr = stdin, stdout, stderr
	}
}

// WithDeviceOpener replaces capture.Open.
func WithDeviceOpener(open DeviceOpener) Option {
	return func(a *App) { a.open = open }
}

// New builds every component described by cfg. Nothing runs until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:          cfg,
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		open:         capture.Open,
		shutdownChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	a.logger = log.GetLogger().WithField("component", "app")

	if err := a.build(); err != nil {
		a.closeEarly()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg
	a.stats = stats.NewCollector()
	a.registry = prometheus.NewRegistry()
	if err := a.registry.Register(a.stats); err != nil {
		return fmt.Errorf("register stats collector: %w", err)
	}
	a.cache = dsl.NewCache(0, dsl.WithSnapLen(cfg.Capture.SnapLen))

	active, err := a.selectTransform()
	if err != nil {
		return err
	}
	a.handle = pipeline.NewHandle(active)

	a.forwarder, err = forward.NewRegistry().New(cfg.Forwarder.Name, forward.Config{
		Output:     a.stdout,
		Path:       cfg.Forwarder.OutputFile,
		ARFFHeader: cfg.Forwarder.ARFFHeader,
		Attributes: forward.AttributesOf(active.Program),
		Options:    cfg.Forwarder.Options,
	})
	if err != nil {
		return fmt.Errorf("failed to create forwarder: %w", err)
	}

	overflow, err := pipeline.ParseOverflow(cfg.Pipeline.Overflow)
	if err != nil {
		return err
	}
	a.pipeline = pipeline.NewBuilder().
		WithHandle(a.handle).
		WithForwarder(a.forwarder).
		WithStats(a.stats).
		WithDebug(cfg.Debug).
		WithWorkers(cfg.Pipeline.Workers).
		WithQueue(cfg.Pipeline.QueueSize, overflow).
		WithBulk(cfg.Pipeline.BulkSize, cfg.Pipeline.BulkTimeoutDuration()).
		Build()

	dev, err := a.open(capture.Options{
		Type:        cfg.Capture.Type,
		Interface:   cfg.Capture.Interface,
		ReadFile:    cfg.Capture.ReadFile,
		SnapLen:     cfg.Capture.SnapLen,
		BufferSize:  cfg.Capture.BufferSize,
		Promiscuous: cfg.Capture.Promiscuous,
	})
	if err != nil {
		return fmt.Errorf("failed to open capture device: %w", err)
	}
	a.device = &guardedDevice{dev: dev}
	a.filters = filter.NewManager(a.device, cfg.Capture.PushTimeoutDuration())

	if interval := cfg.Adaptation.IntervalDuration(); interval > 0 {
		a.controller, err = adapt.New(adapt.Config{
			Target:            a.target,
			Threshold:         cfg.Adaptation.Threshold,
			Interpolation:     cfg.Adaptation.Interpolation,
			Inactivity:        cfg.Adaptation.Inactivity,
			PreferScaleDown:   cfg.Adaptation.PreferScaleDown,
			MaxProcessingTime: cfg.Adaptation.MaxProcessingTimeDuration(),
		}, a.cache, a.handle)
		if err != nil {
			return err
		}
	}

	cmdOpts := command.Options{
		Filters:   a.filters,
		Injector:  a.device,
		Publisher: a.handle,
		Compiler:  a.cache,
		Dynamic:   cfg.Pipeline.DynamicTransformation,
	}
	if a.controller != nil {
		cmdOpts.Targeter = a.controller
	}
	a.dispatcher = command.NewDispatcher(cmdOpts)

	if interval := cfg.Stats.IntervalDuration(); interval > 0 {
		var status stats.StatusFunc
		if a.controller != nil {
			status = func() string { return a.controller.Status().String() }
		}
		a.printer = stats.NewPrinter(a.stats, a.stderr, interval, status)
	}

	if cfg.Metrics.Listen != "" {
		a.metricsSrv = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path,
			prometheus.Gatherers{prometheus.DefaultGatherer, a.registry})
	}
	if cfg.Commands.Socket != "" {
		a.socket = command.NewSocketServer(cfg.Commands.Socket, a.dispatcher, a.TriggerShutdown)
	}
	if len(cfg.Commands.Kafka.Brokers) > 0 {
		hostname, _ := os.Hostname()
		a.kafka, err = command.NewKafkaConsumer(cfg.Commands.Kafka, hostname, a.dispatcher, a.TriggerShutdown)
		if err != nil {
			return fmt.Errorf("failed to create kafka command consumer: %w", err)
		}
	}
	return nil
}

// selectTransform picks the initial transformation: raw, then a DSL
// expression, then a named preset.
func (a *App) selectTransform() (*transform.Transform, error) {
	p := a.cfg.Pipeline
	presets := transform.NewRegistry()

	switch {
	case p.Raw:
		return presets.Get("raw")
	case p.DSL != "":
		if p.Transformation != "" {
			a.logger.WithField("transformation", p.Transformation).Warn("dsl expression given, ignoring transformation")
		}
		expr, err := dsl.Resolve(p.DSL)
		if err != nil {
			return nil, err
		}
		prog, err := a.cache.Compile(expr)
		if err != nil {
			return nil, err
		}
		a.target = expr
		return transform.FromProgram("dsl", prog), nil
	case p.Transformation != "":
		return presets.Get(p.Transformation)
	}
	return presets.Get(DefaultTransformation)
}

// Stats returns the collector shared by all components.
func (a *App) Stats() *stats.Collector { return a.stats }

// Filters returns the filter manager.
func (a *App) Filters() *filter.Manager { return a.filters }

// Handle returns the active transformation slot.
func (a *App) Handle() *pipeline.Handle { return a.handle }

// TriggerShutdown asks Run to stop. It is safe to call more than once.
func (a *App) TriggerShutdown() {
	a.shutdownOnce.Do(func() { close(a.shutdownChan) })
}

// Run starts every component and blocks until ctx is done, a signal
// arrives, quit is requested, the run duration elapses or the capture
// device stops. It then runs the shutdown barrier.
func (a *App) Run(ctx context.Context) error {
	if err := a.start(ctx); err != nil {
		a.Stop()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	var timer <-chan time.Time
	if a.cfg.Duration > 0 {
		t := time.NewTimer(time.Duration(a.cfg.Duration) * time.Second)
		defer t.Stop()
		timer = t.C
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	case sig := <-sigChan:
		a.logger.WithField("signal", sig.String()).Info("received shutdown signal")
	case <-a.shutdownChan:
		a.logger.Info("shutdown requested")
	case <-timer:
		a.logger.WithField("duration", a.cfg.Duration).Info("run duration elapsed")
	case err := <-a.captureDone:
		// put it back for the shutdown barrier
		a.captureDone <- err
		if err != nil {
			a.logger.WithError(err).Error("capture device failed")
			runErr = err
		} else {
			a.logger.Info("capture source exhausted")
		}
	}

	if err := a.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func (a *App) start(ctx context.Context) error {
	cfg := a.cfg
	if err := a.writePIDFile(); err != nil {
		return err
	}
	if cfg.Capture.Filter != "" {
		connector, clause := filter.ParseClause(cfg.Capture.Filter)
		if err := a.filters.AddFilter(connector, clause); err != nil {
			return fmt.Errorf("failed to set initial filter: %w", err)
		}
	}

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Start(ctx); err != nil {
			return err
		}
	}

	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}

	captureCtx, cancel := context.WithCancel(ctx)
	a.cancelCapture = cancel
	a.captureDone = make(chan error, 1)
	go func() {
		a.captureDone <- a.device.dev.Start(captureCtx, a.submit)
	}()

	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	a.cancelBg = cancelBg
	a.bg.Go(func() { a.pollDeviceStats(bgCtx) })
	if a.controller != nil {
		a.bg.Go(func() {
			a.controller.Run(bgCtx, a.stats.Snapshot, cfg.Adaptation.IntervalDuration())
		})
	}
	if a.printer != nil {
		a.bg.Go(func() { a.printer.Run(bgCtx) })
	}

	if a.socket != nil {
		if err := a.socket.Start(bgCtx); err != nil {
			return err
		}
	}
	if a.kafka != nil {
		a.bg.Go(func() {
			if err := a.kafka.Run(bgCtx); err != nil {
				a.logger.WithError(err).Error("kafka command consumer stopped")
			}
		})
	}
	if cfg.REPL {
		// The prompt reader blocks on stdin and is not waited for.
		go func() {
			quit, err := a.dispatcher.Run(bgCtx, a.stdin, a.stdout)
			if err != nil {
				a.logger.WithError(err).Warn("command input failed")
			}
			if quit {
				a.TriggerShutdown()
			}
		}()
	}

	a.logger.WithFields(map[string]interface{}{
		"transformation": a.handle.Load().Name,
		"forwarder":      a.forwarder.Name(),
		"filter":         a.filters.String(),
	}).Info("netcap started")
	return nil
}

func (a *App) submit(pkt core.RawPacket) {
	if err := a.pipeline.Submit(pkt); err != nil && !errors.Is(err, core.ErrPipelineStopped) {
		a.logger.WithError(err).Warn("failed to submit packet")
	}
}

func (a *App) pollDeviceStats(ctx context.Context) {
	ticker := time.NewTicker(deviceStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshDeviceStats()
		}
	}
}

func (a *App) refreshDeviceStats() {
	received, dropped, err := a.device.Stats()
	if err != nil {
		a.logger.WithError(err).Debug("device stats unavailable")
		return
	}
	a.stats.SetDeviceStats(received, dropped)
}
