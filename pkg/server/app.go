package server

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

	"KrakenPulse/internal/service/ratelimit"
	"KrakenPulse/pkg/config"
	pkgkafka "KrakenPulse/pkg/kafka"
	applogger "KrakenPulse/pkg/logger"
)

const (
	sweepInterval = time.Minute
	limiterIdle   = 10 * time.Minute
)

// Runner is a background loop with a graceful stop.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPServer is the public listener.
type HTTPServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Components are the pieces App starts and stops. Consumer, Producer and
// Limiter may be nil.
type Components struct {
	Config     *config.Config
	Logger     *applogger.Logger
	Poller     Runner
	Consumer   *pkgkafka.Consumer
	Handler    pkgkafka.MessageHandler
	HTTPServer HTTPServer
	Hub        io.Closer
	Limiter    *ratelimit.Limiter
	Producer   *pkgkafka.Producer
	Storage    io.Closer
	Cache      io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	c   Components
	log *applogger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new App instance with all dependencies.
func New(c Components) *App {
	l := c.Logger
	if l == nil {
		l = applogger.Nop()
	}
	return &App{c: c, log: l}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))

	timeout := 15 * time.Second
	if a.c.Config != nil && a.c.Config.Server.ShutdownTimeout > 0 {
		timeout = a.c.Config.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Start brings up the consumer, the poller and the HTTP server in that order.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	cfg := a.c.Config
	if cfg != nil && cfg.Log.Collector.Enabled && a.c.Producer != nil {
		a.log.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.Threshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      a.c.Producer,
		})
		a.log.Info("log collector attached", applogger.String("topic", cfg.Log.Collector.Topic))
	}

	if a.c.Consumer != nil && a.c.Handler != nil {
		a.c.Consumer.RegisterHandler(a.c.Handler)
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.log.Info("kafka consumer started", applogger.String("topic", a.c.Handler.Topic()))
	}

	if a.c.Poller != nil {
		if err := a.c.Poller.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}

	if a.c.HTTPServer != nil {
		if err := a.c.HTTPServer.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}

	if a.c.Limiter != nil {
		a.wg.Add(1)
		go a.sweep(ctx, a.c.Limiter)
	}
	return nil
}

func (a *App) sweep(ctx context.Context, l *ratelimit.Limiter) {
	defer a.wg.Done()
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Sweep(limiterIdle); n > 0 {
				a.log.Debug("rate limiter swept", applogger.Int("clients", n))
			}
		}
	}
}

// Shutdown stops everything in reverse start order and closes the
// infrastructure clients. It keeps going past individual failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down")
	var errs []error

	if a.c.Poller != nil {
		if err := a.c.Poller.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("poller: %w", err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if a.c.HTTPServer != nil {
		if err := a.c.HTTPServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.c.Hub != nil {
		if err := a.c.Hub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("websocket hub: %w", err))
		}
	}

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	// flush pending error logs before the producer goes away
	a.log.RemoveCollector()
	if a.c.Producer != nil {
		if err := a.c.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka producer: %w", err))
		}
	}
	if a.c.Storage != nil {
		if err := a.c.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if a.c.Cache != nil {
		if err := a.c.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		a.log.Error("shutdown finished with errors", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
