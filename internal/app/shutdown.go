package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"firestige.xyz/netcap/internal/capture"
	"firestige.xyz/netcap/internal/core"
	"firestige.xyz/netcap/internal/log"
)

var errDeviceClosed = fmt.Errorf("%w: device closed", core.ErrCaptureDevice)

// guardedDevice serializes device access from commands and the stats
// poller against Close. libpcap handles must not be used after close.
type guardedDevice struct {
	mu     sync.RWMutex
	dev    capture.Device
	closed bool
}

func (g *guardedDevice) SetFilter(expr string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return errDeviceClosed
	}
	return g.dev.SetFilter(expr)
}

func (g *guardedDevice) Inject(data []byte) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return errDeviceClosed
	}
	return g.dev.Inject(data)
}

func (g *guardedDevice) Stats() (uint64, uint64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return 0, 0, errDeviceClosed
	}
	return g.dev.Stats()
}

func (g *guardedDevice) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	return g.dev.Close()
}

// Stop runs the shutdown barrier. Each phase is bounded by the configured
// shutdown timeout; a phase that times out is logged and the next one runs.
//
//  1. stop intake: the device stops delivering, command channels close
//  2. drain queued packets and partial batches
//  3. flush and close the forwarder
//  4. close the filter and device handles
//  5. release the rest: background loops, metrics server, log files
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		a.stopErr = a.shutdown()
	})
	return a.stopErr
}

func (a *App) shutdown() error {
	a.logger.Info("initiating graceful shutdown")
	var errs []error
	run := func(name string, fn func(ctx context.Context) error) {
		if err := a.phase(name, fn); err != nil {
			errs = append(errs, err)
		}
	}

	run("stop intake", func(ctx context.Context) error {
		if a.cancelCapture != nil {
			a.cancelCapture()
			select {
			case err := <-a.captureDone:
				if err != nil {
					a.logger.WithError(err).Debug("capture ended with error")
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if a.socket != nil {
			a.socket.Stop()
		}
		if a.kafka != nil {
			if err := a.kafka.Close(); err != nil {
				a.logger.WithError(err).Warn("error closing kafka command consumer")
			}
		}
		return nil
	})

	run("drain pipeline", func(ctx context.Context) error {
		return a.pipeline.Stop(ctx)
	})

	run("close forwarder", func(ctx context.Context) error {
		if err := a.forwarder.Flush(ctx); err != nil {
			a.logger.WithError(err).Warn("forwarder flush failed")
		}
		return a.forwarder.Close(ctx)
	})

	run("close device", func(context.Context) error {
		a.refreshDeviceStats()
		return a.device.Close()
	})

	run("release resources", func(ctx context.Context) error {
		if a.cancelBg != nil {
			a.cancelBg()
			a.bg.Wait()
		}
		var errs []error
		if a.metricsSrv != nil {
			errs = append(errs, a.metricsSrv.Stop(ctx))
		}
		errs = append(errs, a.removePIDFile())
		return errors.Join(errs...)
	})

	a.logger.Info("netcap stopped")
	if err := log.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// phase runs fn with the shutdown timeout. fn keeps running in the
// background if it overruns.
func (a *App) phase(name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeoutDuration())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			a.logger.WithError(err).WithField("phase", name).Warn("shutdown phase failed")
			return fmt.Errorf("%s: %w", name, err)
		}
		a.logger.WithField("phase", name).Debug("shutdown phase done")
		return nil
	case <-ctx.Done():
		a.logger.WithField("phase", name).Warn("shutdown phase timed out")
		return fmt.Errorf("%s: %w", name, ctx.Err())
	}
}

// closeEarly releases what build managed to create before failing.
func (a *App) closeEarly() {
	if a.forwarder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeoutDuration())
		defer cancel()
		a.forwarder.Close(ctx)
	}
	if a.device != nil {
		a.device.Close()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
}
