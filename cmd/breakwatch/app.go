package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rewired-gh/breakwatch/internal/config"
	"github.com/rewired-gh/breakwatch/internal/delta"
	"github.com/rewired-gh/breakwatch/internal/logger"
	"github.com/rewired-gh/breakwatch/internal/metrics"
	"github.com/rewired-gh/breakwatch/internal/monitor"
	"github.com/rewired-gh/breakwatch/internal/server"
	"github.com/rewired-gh/breakwatch/internal/storage"
	"github.com/rewired-gh/breakwatch/internal/telegram"
	"go.uber.org/fx"
)

type options struct {
	Once bool
}

// alertNotifier is satisfied by both the Telegram client and the log fallback.
type alertNotifier interface {
	monitor.Notifier
	monitor.StatusNotifier
}

func newLocation(cfg *config.Config) (*time.Location, error) {
	return cfg.Location()
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func newRecorder(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

func newLedger(lc fx.Lifecycle, cfg *config.Config) (storage.Ledger, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ledger, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	logger.Info("Alert ledger opened (backend: %s)", cfg.Storage.Backend)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if err := ledger.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
			return nil
		},
	})
	return ledger, nil
}

func newExchangeClient(cfg *config.Config) *delta.Client {
	return delta.NewClient(
		cfg.Exchange.BaseURL,
		cfg.Exchange.Timeout,
		delta.ClientConfig{
			APIKey:           cfg.Exchange.APIKey,
			APISecret:        cfg.Exchange.APISecret,
			MaxRetries:       cfg.Exchange.MaxRetries,
			RetryDelayBase:   cfg.Exchange.RetryDelayBase,
			RangeResolution:  cfg.Exchange.RangeResolution,
			VolumeResolution: cfg.Exchange.VolumeResolution,
		},
	)
}

func newNotifier(cfg *config.Config) (alertNotifier, error) {
	if !cfg.Telegram.Enabled {
		logger.Info("Telegram notifications disabled, alerts will be logged")
		return telegram.NewLogNotifier(), nil
	}
	client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, cfg.Telegram.Timeout)
	if err != nil {
		return nil, err
	}
	logger.Info("Telegram client initialized successfully")
	return client, nil
}

func newBoard() *monitor.Board {
	return monitor.NewBoard()
}

func newEngine(cfg *config.Config, loc *time.Location, client *delta.Client, ledger storage.Ledger, notifier alertNotifier, rec *metrics.Recorder) *monitor.Engine {
	var ranges monitor.RangeFetcher = client
	if cfg.Monitor.CacheRanges {
		ranges = monitor.NewRangeCache(client)
	}
	return monitor.New(ranges, client, ledger, notifier, rec, monitor.Config{
		Location:         loc,
		VolumeWindowDays: cfg.Exchange.VolumeWindowDays,
		Workers:          cfg.Monitor.Workers,
	})
}

func newPoller(cfg *config.Config, loc *time.Location, engine *monitor.Engine, board *monitor.Board, ledger storage.Ledger, notifier alertNotifier, rec *metrics.Recorder) *monitor.Poller {
	return monitor.NewPoller(engine, board, notifier, ledger, rec, monitor.PollerConfig{
		Symbols:       cfg.Monitor.Symbols,
		Interval:      cfg.Monitor.PollInterval,
		RetentionDays: cfg.Storage.RetentionDays,
		Location:      loc,
	})
}

func newServer(cfg *config.Config, loc *time.Location, board *monitor.Board, ledger storage.Ledger, reg *prometheus.Registry) *server.Server {
	return server.New(cfg.Server.Addr, board, ledger, reg, loc)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, opts options, poller *monitor.Poller, srv *server.Server, board *monitor.Board, notifier alertNotifier) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	serving := cfg.Server.Enabled && !opts.Once

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if serving {
				if err := srv.Start(); err != nil {
					cancel()
					return err
				}
			}
			if tg, ok := notifier.(*telegram.Client); ok && !opts.Once {
				tg.ListenForCommands(ctx, func() string { return board.Summary().String() })
			}

			go func() {
				defer close(done)
				if opts.Once {
					poller.RunOnce(ctx)
					if err := shutdowner.Shutdown(); err != nil {
						logger.Error("Failed to shut down: %v", err)
					}
					return
				}
				poller.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			logger.Info("Shutdown signal received, cleaning up...")
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
				logger.Warn("Monitoring loop did not stop in time")
			}
			if serving {
				return srv.Stop(stopCtx)
			}
			return nil
		},
	})
}
