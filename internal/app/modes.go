package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/polyarb/internal/blob/s3"
	"github.com/alanyoungcy/polyarb/internal/feed"
	"github.com/alanyoungcy/polyarb/internal/paper"
	"github.com/alanyoungcy/polyarb/internal/platform/polymarket"
	"github.com/alanyoungcy/polyarb/internal/scheduler"
	"github.com/alanyoungcy/polyarb/internal/server"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
	"github.com/alanyoungcy/polyarb/internal/server/ws"
	"github.com/alanyoungcy/polyarb/internal/service"
)

const shutdownTimeout = 5 * time.Second

// newPollSource builds the request/response quote source. Without a CLOB
// host the legs are priced from Gamma outcomePrices.
func (a *App) newPollSource() *feed.PollSource {
	sc := a.cfg.Scanner
	gamma := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost)
	var quoter feed.PriceQuoter
	if a.cfg.Polymarket.ClobHost != "" {
		quoter = polymarket.NewClobClient(a.cfg.Polymarket.ClobHost)
	} else {
		a.logger.Info("no clob_host configured, pricing from gamma outcomePrices")
	}
	return feed.NewPollSource(gamma, quoter, feed.PollConfig{
		Keywords:       sc.TargetKeywords,
		DiscoveryLimit: sc.DiscoveryLimit,
		DiscoveryTTL:   sc.DiscoveryTTL.Duration,
	}, a.logger)
}

// ScanMode runs the scan loop. With execute set, detected opportunities are
// traded on the paper engine; otherwise they are only recorded.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies, execute bool) error {
	a.logger.InfoContext(ctx, "starting scan mode", slog.Bool("execute", execute))

	g, ctx := errgroup.WithContext(ctx)
	sc := a.cfg.Scanner

	engine, recorder := a.buildTrader(ctx, deps)

	poll := a.newPollSource()

	adapter := feed.NewAdapter(poll, deps.Mirror, feed.AdapterConfig{
		CacheTTL:         sc.CacheTTL.Duration,
		FetchTimeout:     sc.FetchTimeout.Duration,
		ConcurrencyLimit: sc.FeedConcurrencyLimit,
	}, a.logger)

	var (
		streamStatus handler.StreamReporter
		onMarkets    func(ids []string)
	)
	if a.cfg.Polymarket.StreamEnabled && a.cfg.Polymarket.WsHost != "" {
		stream := feed.NewStreamFeed(a.cfg.Polymarket.WsHost, adapter, a.logger)
		streamStatus = stream
		onMarkets = func(ids []string) { stream.Track(poll.Markets(ids)) }
		g.Go(func() error {
			return stream.Run(ctx)
		})
	}

	schedDeps := scheduler.Deps{
		Feed:      adapter,
		Trader:    engine,
		Locker:    deps.Locker,
		Sink:      recorder,
		OnMarkets: onMarkets,
	}
	if len(sc.Markets) == 0 {
		schedDeps.Discoverer = poll
	}
	sched := scheduler.New(scheduler.Config{
		Interval:            sc.ScanInterval.Duration,
		Threshold:           sc.MinProfitThreshold,
		MinVolume:           sc.MinVolume,
		MinLiquidity:        sc.MinLiquidity,
		MaxOpenPositions:    sc.MaxOpenPositions,
		MinTradeCost:        sc.MinTradeCost,
		DegradedAfterCycles: sc.DegradedAfterCycles,
		Markets:             sc.Markets,
		Execute:             execute,
	}, schedDeps, a.logger)

	g.Go(func() error {
		return sched.Run(ctx)
	})
	g.Go(func() error {
		return recorder.RunArchiver(ctx, a.cfg.S3.ArchiveInterval.Duration)
	})

	if a.cfg.Server.Enabled {
		status := handler.NewStatusHandler(a.cfg.Mode, a.startedAt, sched, adapter, streamStatus)
		a.startHTTPServer(ctx, g, deps, engine, status)
	}

	return g.Wait()
}

// ServerMode serves the query surface over the persisted ledger without
// scanning.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	engine, recorder := a.buildTrader(ctx, deps)
	g.Go(func() error {
		return recorder.RunArchiver(ctx, a.cfg.S3.ArchiveInterval.Duration)
	})

	a.startHTTPServer(ctx, g, deps, engine, handler.NewStatusHandler(a.cfg.Mode, a.startedAt, nil, nil, nil))

	return g.Wait()
}

// buildTrader creates the paper engine, restores the persisted ledger when
// Postgres is enabled, and attaches the recorder as its observer.
func (a *App) buildTrader(ctx context.Context, deps *Dependencies) (*paper.Engine, *service.Recorder) {
	sc := a.cfg.Scanner
	engine := paper.NewEngine(paper.Config{
		InitialBalance:  sc.InitialBalance,
		MaxPositionSize: sc.MaxPositionSize,
		MinTradeCost:    sc.MinTradeCost,
		HistorySize:     sc.HistorySize,
	}, a.logger)

	if deps.Ledger != nil {
		st, ok, err := service.LoadState(ctx, deps.Ledger, sc.HistorySize)
		switch {
		case err != nil:
			a.logger.WarnContext(ctx, "ledger restore failed, starting fresh",
				slog.String("error", err.Error()),
			)
		case ok:
			engine.Restore(st)
			a.logger.InfoContext(ctx, "ledger restored",
				slog.Float64("balance", st.Balance),
				slog.Int("positions", len(st.Positions)),
				slog.Int("trades", len(st.Trades)),
			)
		}
	}

	rdeps := service.RecorderDeps{
		State:    engine.Snapshot,
		Ledger:   deps.Ledger,
		Bus:      deps.Bus,
		Archiver: deps.Archiver,
	}
	if deps.Notifier.Enabled() {
		rdeps.Alerter = deps.Notifier
	}
	recorder := service.NewRecorder(rdeps, a.logger)
	engine.AddObserver(recorder)
	return engine, recorder
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, engine *paper.Engine, status *handler.StatusHandler) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  status,
		Trading: handler.NewTradingHandler(engine, a.logger),
	}
	if deps.Lister != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Lister, s3blob.ArchiveRoot, a.logger)
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		handlers.Events = handler.NewEventsHandler(deps.Bus, a.logger)
		hub = ws.NewHub(deps.Bus, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: a.startedAt,
			Greeting:  func() any { return paper.Stats(engine.Snapshot()) },
		}, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.Limiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
