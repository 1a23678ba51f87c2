// Package app assembles the process: config in, collaborators constructed,
// engine plus HTTP control surface run until a signal or fatal error.
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vela/internal/config"
	"vela/internal/engine"
	"vela/internal/events"
	"vela/internal/executor"
	"vela/internal/gateway/binance"
	"vela/internal/logger"
	"vela/internal/market"
	"vela/internal/sizing"
	"vela/internal/store/eventlog"
	httpapi "vela/internal/transport/http"
	"vela/internal/validator"
)

type App struct {
	cfg    config.Config
	source *binance.Source
	bus    *events.Bus
	store  *eventlog.Store
	engine *engine.Engine
}

func NewApp(cfg config.Config) (*App, error) {
	gwCfg := binance.Config{
		APIKey:      cfg.Market.APIKey,
		APISecret:   cfg.Market.APISecret,
		RESTBaseURL: cfg.Market.RESTBaseURL,
	}
	source := binance.NewSource(gwCfg)
	trading := binance.NewTrading(gwCfg)

	bus := events.NewBus()
	store, err := eventlog.Open(cfg.Store.EventLogPath)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	policy, err := sizing.PolicyFromConfig(cfg.Trading.SizingPolicy, cfg.Trading.NotionalUSD, cfg.Trading.BalanceFraction)
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Deps{
		Config:  cfg,
		Source:  source,
		History: market.NewHistory(cfg.Market.MaxCached),
		Gateway: trading,
		Validator: validator.NewClient(validator.Config{
			APIURL:        cfg.Validator.APIURL,
			APIKey:        cfg.Validator.APIKey,
			Model:         cfg.Validator.Model,
			Timeout:       time.Duration(cfg.Validator.TimeoutSeconds) * time.Second,
			MaxAttempts:   cfg.Validator.MaxAttempts,
			MinConfidence: cfg.Validator.MinConfidence,
		}),
		Sizer:    sizing.NewSizer(policy, cfg.Trading.Leverage),
		Executor: executor.New(trading, 10*time.Second),
		Bus:      bus,
	})

	return &App{
		cfg:    cfg,
		source: source,
		bus:    bus,
		store:  store,
		engine: eng,
	}, nil
}

// Run blocks until SIGINT/SIGTERM or a fatal component error. The engine
// starts immediately; the HTTP surface can stop and restart it.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := eventlog.NewRecorder(a.store, a.bus)
	server, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:   a.cfg.App.HTTPAddr,
		Engine: a.engine,
		Events: a.store,
		RunCtx: ctx,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		recorder.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Infof("http: listening on %s", server.Addr())
		return server.Start(gctx)
	})

	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	<-gctx.Done()
	a.engine.Stop()
	a.bus.Close()
	err = g.Wait()
	if cerr := a.source.Close(); cerr != nil {
		logger.Warnf("app: source close: %v", cerr)
	}
	if cerr := a.store.Close(); cerr != nil {
		logger.Warnf("app: event log close: %v", cerr)
	}
	logger.Infof("app: shutdown complete")
	return err
}
