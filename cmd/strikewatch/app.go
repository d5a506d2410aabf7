package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rewired-gh/strikewatch/internal/api"
	"github.com/rewired-gh/strikewatch/internal/config"
	"github.com/rewired-gh/strikewatch/internal/indicators"
	"github.com/rewired-gh/strikewatch/internal/logger"
	"github.com/rewired-gh/strikewatch/internal/marketdata"
	"github.com/rewired-gh/strikewatch/internal/metrics"
	"github.com/rewired-gh/strikewatch/internal/performance"
	"github.com/rewired-gh/strikewatch/internal/pipeline"
	"github.com/rewired-gh/strikewatch/internal/reporter"
	"github.com/rewired-gh/strikewatch/internal/simulator"
	"github.com/rewired-gh/strikewatch/internal/storage"
	"github.com/rewired-gh/strikewatch/internal/telegram"
)

// app owns every long-lived component built from the configuration.
type app struct {
	cfg      *config.Config
	store    *storage.Storage
	tracker  *performance.Tracker
	metrics  *metrics.Recorder
	telegram *telegram.Client
	reporter *reporter.Multi
	daily    *reporter.DailyReport
	pipeline *pipeline.Pipeline

	closers []io.Closer
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	loc := cfg.Location()

	store, err := storage.New(cfg.Storage.MaxRecords, cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)
	// max_records may have been lowered since the last run
	if err := store.Rotate(); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to rotate storage: %w", err)
	}

	a.tracker = performance.NewTracker(cfg.Service.TrackerSize)
	if cfg.Storage.WarmLimit > 0 {
		recent, err := store.RecentOutcomes(cfg.Storage.WarmLimit)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to load recent outcomes: %w", err)
		}
		// RecentOutcomes is newest first, Warm wants oldest first
		for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
			recent[i], recent[j] = recent[j], recent[i]
		}
		a.tracker.Warm(recent)
		logger.Info("Restored %d outcomes from storage", len(recent))
	}

	source, err := newSource(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, loc)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	reporters, err := a.newReporters()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.reporter = reporter.NewMulti(reporters...)
	a.closers = append(a.closers, a.reporter)

	if cfg.Reporters.DailyReport.Enabled {
		a.daily = reporter.NewDailyReport(cfg.Reporters.DailyReport.Dir, cfg.Reporters.DailyReport.Prefix, loc, a.tracker)
	}

	strategies := make([]pipeline.Strategy, 0, len(cfg.Instruments))
	lotSizes := make(map[string]int, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		profile, ok := cfg.Profile(inst.Profile)
		if !ok {
			_ = a.Close()
			return nil, fmt.Errorf("instrument %s: unknown profile %q", inst.Name, inst.Profile)
		}
		strategies = append(strategies, pipeline.Strategy{
			Instrument: inst.Name,
			Scorer:     profile.Scorer(inst.StrikeStep),
			Filter:     profile.Filter(),
		})
		lotSizes[inst.Name] = inst.LotSize
	}

	sim := simulator.New(simulator.Config{
		Seed:     cfg.Simulator.Seed,
		Slope:    cfg.Simulator.Slope,
		Base:     cfg.Simulator.Base,
		MinProb:  cfg.Simulator.MinProb,
		MaxProb:  cfg.Simulator.MaxProb,
		Lots:     cfg.Simulator.Lots,
		LotSizes: lotSizes,
	})

	a.pipeline = pipeline.New(pipeline.Config{
		Workers:               cfg.Service.Workers,
		Cooldown:              cfg.Service.Cooldown,
		CooldownOverrideDelta: cfg.Service.CooldownOverrideDelta,
	}, pipeline.Deps{
		Source:     source,
		Strategies: strategies,
		Simulator:  sim,
		Reporter:   a.reporter,
		Tracker:    a.tracker,
		Store:      store,
		Metrics:    a.metrics,
	})

	logger.Info("Pipeline ready: source=%s instruments=%d reporters=%d", source.Name(), len(strategies), a.reporter.Len())
	return a, nil
}

func newSource(cfg *config.Config) (marketdata.Source, error) {
	history := marketdata.NewHistory(cfg.Service.HistorySize)
	params := indicators.DefaultParams()

	switch cfg.Source.Type {
	case "upstox":
		keys := make(map[string]string, len(cfg.Instruments))
		for _, inst := range cfg.Instruments {
			keys[inst.Name] = inst.UpstoxKey
		}
		up := cfg.Source.Upstox
		src, err := marketdata.NewUpstoxSource(marketdata.UpstoxConfig{
			BaseURL:        up.BaseURL,
			AccessToken:    up.AccessToken,
			InstrumentKeys: keys,
			Timeout:        up.Timeout,
			MaxRetries:     up.MaxRetries,
			RetryDelayBase: up.RetryDelayBase,
			RequestsPerSec: up.RequestsPerSec,
			Burst:          up.Burst,
		}, history, params)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize upstox source: %w", err)
		}
		return src, nil
	default:
		prices := make(map[string]float64, len(cfg.Instruments))
		for _, inst := range cfg.Instruments {
			prices[inst.Name] = inst.BasePrice
		}
		sim := cfg.Source.Simulated
		return marketdata.NewSimulatedSource(marketdata.SimulatedConfig{
			BasePrices: prices,
			Seed:       sim.Seed,
			StepPct:    sim.StepPct,
			BaseVolume: sim.BaseVolume,
			WarmUp:     sim.WarmUp,
		}, history, params), nil
	}
}

func (a *app) newReporters() ([]reporter.Reporter, error) {
	rc := a.cfg.Reporters
	var out []reporter.Reporter

	if rc.Console.Enabled {
		out = append(out, reporter.ConsoleReporter{})
	}
	if rc.LogFile.Enabled {
		lr, err := reporter.NewLogReporter(rc.LogFile.Dir, rc.LogFile.CallsFile, rc.LogFile.ResultsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log files: %w", err)
		}
		out = append(out, lr)
	}
	if rc.Telegram.Enabled && a.telegram != nil {
		out = append(out, reporter.NewTelegramReporter(a.telegram, a.cfg.Telegram.NotifyRejected))
	}
	if rc.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Redis.Addr,
			Password: rc.Redis.Password,
			DB:       rc.Redis.DB,
		})
		// RedisReporter.Close closes the client
		out = append(out, reporter.NewRedisReporter(client, rc.Redis.Channel, rc.Redis.ListKey, rc.Redis.ListMax))
	}
	if rc.Kafka.Enabled {
		kr, err := reporter.NewKafkaReporter(rc.Kafka.Brokers, rc.Kafka.Topic)
		if err != nil {
			closeAll(out)
			return nil, fmt.Errorf("failed to initialize kafka reporter: %w", err)
		}
		out = append(out, kr)
	}
	return out, nil
}

func closeAll(reporters []reporter.Reporter) {
	for _, r := range reporters {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// runService blocks until ctx is cancelled.
func (a *app) runService(ctx context.Context) error {
	if a.cfg.API.Enabled {
		srv := api.New(a.cfg.API.Addr, a.tracker, a.store, a.pipeline.Status, a.metrics.Handler())
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("API server stopped: %v", err)
			}
		}()
	}

	var alerter pipeline.Alerter
	if a.telegram != nil {
		alerter = a.telegram
		if a.cfg.Telegram.Commands {
			a.telegram.ListenForCommands(ctx, a.pipeline)
		}
	}

	var daily pipeline.DailyWriter
	if a.daily != nil {
		daily = a.daily
		if a.telegram != nil {
			daily = &statsDigest{
				DailyWriter: a.daily,
				sender:      a.telegram,
				stats:       a.tracker,
				loc:         a.cfg.Location(),
				timeout:     30 * time.Second,
			}
		}
	}

	svc := pipeline.NewService(pipeline.ServiceConfig{
		Interval:         a.cfg.Service.PollInterval,
		FailureThreshold: a.cfg.Telegram.FailureThreshold,
	}, a.pipeline, alerter, daily)
	return svc.Run(ctx)
}

// runOnce executes a single cycle and writes today's report if enabled.
func (a *app) runOnce(ctx context.Context) (pipeline.CycleSummary, error) {
	summary, err := a.pipeline.RunCycle(ctx)
	if a.daily != nil {
		if path, flushErr := a.daily.Flush(time.Now()); flushErr != nil {
			logger.Error("Failed to write daily report: %v", flushErr)
		} else {
			logger.Info("Daily report written to %s", path)
		}
	}
	return summary, err
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
