package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/doridoridoriand/tunnelwatch/internal/action"
	"github.com/doridoridoriand/tunnelwatch/internal/config"
	tlog "github.com/doridoridoriand/tunnelwatch/internal/log"
	"github.com/doridoridoriand/tunnelwatch/internal/metric"
	"github.com/doridoridoriand/tunnelwatch/internal/metrics"
	"github.com/doridoridoriand/tunnelwatch/internal/probe"
	"github.com/doridoridoriand/tunnelwatch/internal/scheduler"
	"github.com/doridoridoriand/tunnelwatch/internal/state"
	"github.com/doridoridoriand/tunnelwatch/internal/status"
	"github.com/doridoridoriand/tunnelwatch/internal/tracker"
	"github.com/doridoridoriand/tunnelwatch/internal/ui"
)

const redisPingTimeout = 5 * time.Second

// app is the wired control loop plus its optional surfaces.
type app struct {
	cfg     *config.Config
	loop    *scheduler.Loop
	store   *state.Store
	logger  *zap.Logger
	closers []func() error
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		store:  state.NewStore(cfg.ServerName, cfg.Threshold),
		logger: logger,
	}

	executor, err := action.NewExecutor(action.Config{
		ServerName: cfg.ServerName,
		APIHost:    cfg.ControlPlane.Host,
		Timeout:    cfg.Actions.Timeout,
		InheritEnv: cfg.Actions.InheritEnv,
		ExtraEnv:   cfg.Actions.Env,
	}, logger.Named("action"),
		action.Startup(cfg.Actions.Up).InDir(cfg.Actions.Dir),
		action.Shutdown(cfg.Actions.Down).InDir(cfg.Actions.Dir),
	)
	if err != nil {
		return nil, fmt.Errorf("build executor: %w", err)
	}

	trk := tracker.New(cfg.Files.TaskRecord, cfg.DebounceWindow, logger.Named("tracker"))
	if rec, err := trk.Load(); err == nil {
		logger.Info("previous task record found",
			zap.String("state", rec.State.String()),
			zap.Time("at", rec.Time()),
			zap.Int("client_count", rec.ClientCount))
	}

	source := metric.NewHTTPSource(metric.HTTPSourceConfig{
		URL:                cfg.Metric.URL,
		APIKey:             cfg.Metric.APIKey,
		Timeout:            cfg.Metric.Timeout,
		InsecureSkipVerify: cfg.Metric.InsecureSkipVerify,
	})

	var mirror metric.Mirror
	if cfg.Webhook.URL != "" {
		mirror = metric.NewWebhookMirror(cfg.Webhook.URL, cfg.Webhook.Timeout)
	}

	var mirrors []status.Publisher
	if cfg.Redis.Addr != "" {
		client := status.NewRedisClient(status.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, mirror stays enabled",
				zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		mirrors = append(mirrors, status.NewRedisMirror(client, cfg.Redis.Key, cfg.Redis.TTL))
		a.closers = append(a.closers, client.Close)
	}
	publisher := status.NewMulti(logger.Named("status"), status.NewFileWriter(cfg.Files.Status), mirrors...)

	opts := scheduler.Options{
		Threshold:     cfg.Threshold,
		Interval:      cfg.CheckInterval,
		ErrorBackoff:  cfg.ErrorBackoff,
		BusinessStart: cfg.BusinessHours.Start,
		BusinessEnd:   cfg.BusinessHours.End,
	}
	var pinger probe.Pinger
	if cfg.Metric.Probe {
		pinger = probe.NewDefault()
		opts.ProbeHost = source.Host()
	}

	a.loop, err = scheduler.New(opts, scheduler.Deps{
		Source:    source,
		Mirror:    mirror,
		Tracker:   trk,
		Executor:  executor,
		Publisher: publisher,
		Store:     a.store,
		Pinger:    pinger,
		Logger:    logger.Named("loop"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build loop: %w", err)
	}
	return a, nil
}

// Serve runs the loop until ctx is cancelled or the dashboard quits.
func (a *app) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if listen := a.cfg.Metrics.Listen; listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := metrics.Serve(ctx, listen, a.store, a.logger.Named("metrics"))
			if err != nil && !errors.Is(err, context.Canceled) {
				tlog.LogError(a.logger, "metrics", err, zap.String("addr", listen))
			}
		}()
	}

	if a.cfg.UI.Enable {
		dashboard := ui.New(ui.Settings{
			ServerName: a.cfg.ServerName,
			Threshold:  a.cfg.Threshold,
			Interval:   a.cfg.CheckInterval,
			Debounce:   a.cfg.DebounceWindow,
		}, a.store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := dashboard.Run(ctx)
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, context.Canceled):
				a.logger.Info("dashboard closed, stopping")
				cancel()
			case err != nil:
				a.logger.Warn("dashboard unavailable, continuing headless", zap.Error(err))
			}
		}()
	}

	err := a.loop.Run(ctx)
	cancel()
	wg.Wait()
	a.logger.Info("shutdown complete", zap.NamedError("cause", err))
}

// Close releases connections opened by newApp.
func (a *app) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
