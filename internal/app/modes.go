package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chainflowlabs/sentinel/internal/adapter/evm"
	"github.com/chainflowlabs/sentinel/internal/agent"
	"github.com/chainflowlabs/sentinel/internal/config"
	"github.com/chainflowlabs/sentinel/internal/crypto"
	"github.com/chainflowlabs/sentinel/internal/domain"
	"github.com/chainflowlabs/sentinel/internal/engine"
	"github.com/chainflowlabs/sentinel/internal/feed"
	"github.com/chainflowlabs/sentinel/internal/ledger"
	"github.com/chainflowlabs/sentinel/internal/perf"
	"github.com/chainflowlabs/sentinel/internal/risk"
	"github.com/chainflowlabs/sentinel/internal/scanner"
	"github.com/chainflowlabs/sentinel/internal/scheduler"
)

// FullMode runs the complete engine: scanning, decision cycles, compounding,
// performance snapshots, trigger sweeps, and on-chain execution.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("full mode: load wallet key: %w", err)
	}

	adapter, err := evm.New(ctx, evm.Config{
		RPCURL:         a.cfg.Evm.RPCURL,
		ChainID:        a.cfg.Evm.ChainID,
		Vaults:         a.cfg.Evm.Vaults,
		NativeAsset:    a.cfg.Evm.NativeAsset,
		GasLimit:       a.cfg.Evm.GasLimit,
		ConfirmTimeout: a.cfg.Evm.ConfirmTimeout.Duration,
	}, key, deps.Provider, deps.LockManager, a.logger)
	if err != nil {
		return fmt.Errorf("full mode: evm adapter: %w", err)
	}

	sc := scanner.New(
		deps.Provider,
		pairsFromConfig(a.cfg.Scanner.Universe),
		a.cfg.Scanner.MinYield,
		a.cfg.Scanner.MaxRisk,
		a.logger,
	)

	book := ledger.New(ledger.Config{
		MinPositionSize:   a.cfg.Ledger.MinPositionSize,
		MinEntryAPY:       a.cfg.Ledger.MinEntryAPY,
		MaxEntryRisk:      a.cfg.Ledger.MaxEntryRisk,
		MaxAllocation:     a.cfg.Ledger.MaxAllocation,
		GasBuffer:         a.cfg.Ledger.GasBuffer,
		CompoundThreshold: a.cfg.Ledger.CompoundThreshold,
	}, adapter, deps.Provider, adapter, deps.PositionStore, deps.AuditStore, deps.Notifier, a.logger)

	if _, err := book.Restore(ctx, a.cfg.Wallet.Address); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	riskEngine := risk.New(risk.Config{
		EmergencyThreshold: a.cfg.Risk.EmergencyThreshold,
		ExitThreshold:      a.cfg.Risk.ExitThreshold,
		MaxDrawdown:        a.cfg.Risk.MaxDrawdown,
		MaxHoldDays:        a.cfg.Risk.MaxHoldDays,
		ReallocAPYGain:     a.cfg.Risk.ReallocAPYGain,
		ReallocRiskSlack:   a.cfg.Risk.ReallocRiskSlack,
		ReallocDelay:       a.cfg.Risk.ReallocDelay.Duration,
	}, book, deps.Provider, a.logger)
	book.SetUnstakeValidator(riskEngine)

	tracker := perf.New(perf.Config{
		BenchmarkAPY:              a.cfg.Perf.BenchmarkAPY,
		UnderperformanceThreshold: a.cfg.Perf.UnderperformanceThreshold,
		OutperformanceThreshold:   a.cfg.Perf.OutperformanceThreshold,
		GasAlertRatio:             a.cfg.Perf.GasAlertRatio,
		DiversificationFloor:      a.cfg.Perf.DiversificationFloor,
		Retention:                 a.cfg.Perf.Retention,
	}, book, deps.Provider, deps.SnapshotStore, deps.Notifier, a.logger)

	registry := agent.NewRegistry()
	for _, ac := range a.cfg.Agents {
		ag, err := agent.NewAgent(agent.Config{
			ID:             ac.ID,
			Type:           domain.AgentType(ac.Type),
			Wallet:         a.cfg.Wallet.Address,
			RiskTolerance:  ac.RiskTolerance,
			MaxPositionUSD: ac.MaxPositionUSD,
			MinProfitUSD:   ac.MinProfitUSD,
			AutoExecute:    ac.AutoExecute,
		})
		if err != nil {
			return fmt.Errorf("full mode: agent %q: %w", ac.ID, err)
		}
		if err := registry.Register(ag); err != nil {
			return fmt.Errorf("full mode: agent %q: %w", ac.ID, err)
		}
	}

	orch := agent.NewOrchestrator(
		registry, book, deps.Provider, riskEngine,
		tracker, deps.ExecutionStore, deps.Notifier, a.logger,
	)

	eng := engine.New(engine.Config{
		ScanInterval:     a.cfg.Engine.ScanInterval.Duration,
		DecisionInterval: a.cfg.Engine.DecisionInterval.Duration,
		CompoundInterval: a.cfg.Engine.CompoundInterval.Duration,
		SnapshotInterval: a.cfg.Engine.SnapshotInterval.Duration,
		SweepInterval:    a.cfg.Engine.SweepInterval.Duration,
	}, sc, book, riskEngine, tracker, orch, deps.Provider, adapter, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})

	a.startPriceFeed(ctx, g, deps)

	if deps.Archiver != nil {
		a.startArchiveLoop(ctx, g, deps)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	// SIGUSR1 is the operator kill switch: disable all agents and unwind
	// every position. The process stays up so the unwind can be observed.
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGUSR1)
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-sig:
				closed, failed := orch.EmergencyStopAll(ctx)
				a.logger.WarnContext(ctx, "emergency stop finished",
					slog.Int("closed", closed),
					slog.Int("failed", len(failed)),
				)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		eng.Stop()
		return ctx.Err()
	})

	return g.Wait()
}

// MonitorMode runs read-only observation: the scanner keeps scoring the
// universe and the performance tracker snapshots whatever positions the
// store says are active. No transactions are signed and no agent runs.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	sc := scanner.New(
		deps.Provider,
		pairsFromConfig(a.cfg.Scanner.Universe),
		a.cfg.Scanner.MinYield,
		a.cfg.Scanner.MaxRisk,
		a.logger,
	)

	tracker := perf.New(perf.Config{
		BenchmarkAPY:              a.cfg.Perf.BenchmarkAPY,
		UnderperformanceThreshold: a.cfg.Perf.UnderperformanceThreshold,
		OutperformanceThreshold:   a.cfg.Perf.OutperformanceThreshold,
		GasAlertRatio:             a.cfg.Perf.GasAlertRatio,
		DiversificationFloor:      a.cfg.Perf.DiversificationFloor,
		Retention:                 a.cfg.Perf.Retention,
	}, &storePositions{
		store:  deps.PositionStore,
		wallet: a.cfg.Wallet.Address,
		logger: a.logger,
	}, deps.Provider, deps.SnapshotStore, deps.Notifier, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})

	a.startPriceFeed(ctx, g, deps)

	sched := scheduler.New(a.logger)
	if err := sched.Register("scan", a.cfg.Engine.ScanInterval.Duration, func(ctx context.Context) {
		a.logScan(ctx, sc)
	}); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	if err := sched.Register("snapshot", a.cfg.Engine.SnapshotInterval.Duration, func(ctx context.Context) {
		if _, err := tracker.TakeSnapshot(ctx); err != nil {
			a.logger.WarnContext(ctx, "snapshot failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		sched.Stop()
		return ctx.Err()
	})

	return g.Wait()
}

// ScanMode runs the opportunity scanner alone and logs what it finds. Useful
// for tuning the universe and thresholds before committing capital.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	sc := scanner.New(
		deps.Provider,
		pairsFromConfig(a.cfg.Scanner.Universe),
		a.cfg.Scanner.MinYield,
		a.cfg.Scanner.MaxRisk,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})

	sched := scheduler.New(a.logger)
	if err := sched.Register("scan", a.cfg.Engine.ScanInterval.Duration, func(ctx context.Context) {
		a.logScan(ctx, sc)
	}); err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		sched.Stop()
		return ctx.Err()
	})

	return g.Wait()
}

// logScan runs one scan cycle and logs the ranked head of the result.
func (a *App) logScan(ctx context.Context, sc *scanner.Scanner) {
	opps := sc.Scan(ctx)
	if len(opps) == 0 {
		a.logger.InfoContext(ctx, "scan found no opportunities")
		return
	}
	best := opps[0]
	a.logger.InfoContext(ctx, "scan complete",
		slog.Int("opportunities", len(opps)),
		slog.String("best_protocol", best.Protocol),
		slog.String("best_asset", best.Asset),
		slog.Float64("best_apy", best.APY),
		slog.Float64("best_score", best.Score),
	)
}

// startPriceFeed attaches the websocket price feed to the errgroup when a
// feed endpoint is configured. Prices land in the Redis cache where the
// cached provider picks them up.
func (a *App) startPriceFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Market.WsURL == "" {
		return
	}
	assets := feedAssets(a.cfg)
	if len(assets) == 0 {
		return
	}
	pf := feed.NewPriceFeed(a.cfg.Market.WsURL, assets, deps.PriceCache, a.logger)
	g.Go(func() error {
		defer pf.Close()
		return pf.Run(ctx)
	})
}

// startArchiveLoop attaches the periodic cold storage archival task.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := a.cfg.Archive.RetentionDays

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -retention)
				a.runArchive(ctx, deps, cutoff)
			}
		}
	})
}

func (a *App) runArchive(ctx context.Context, deps *Dependencies, cutoff time.Time) {
	positions, err := deps.Archiver.ArchiveClosedPositions(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive positions failed", slog.String("error", err.Error()))
	}
	execs, err := deps.Archiver.ArchiveExecutions(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive executions failed", slog.String("error", err.Error()))
	}
	snaps, err := deps.Archiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive snapshots failed", slog.String("error", err.Error()))
	}
	a.logger.InfoContext(ctx, "archive cycle complete",
		slog.Int64("positions", positions),
		slog.Int64("executions", execs),
		slog.Int64("snapshots", snaps),
		slog.Time("cutoff", cutoff),
	)
}

// pairsFromConfig converts the configured universe into domain pairs.
func pairsFromConfig(ps []config.PairConfig) []domain.Pair {
	out := make([]domain.Pair, 0, len(ps))
	for _, p := range ps {
		out = append(out, domain.Pair{
			Protocol: p.Protocol,
			Asset:    p.Asset,
			Network:  p.Network,
		})
	}
	return out
}

// feedAssets returns the distinct assets to subscribe the price feed to: the
// scan universe plus the gas token.
func feedAssets(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var assets []string
	add := func(asset string) {
		if asset == "" || seen[asset] {
			return
		}
		seen[asset] = true
		assets = append(assets, asset)
	}
	for _, p := range cfg.Scanner.Universe {
		add(p.Asset)
	}
	add(cfg.Evm.NativeAsset)
	return assets
}

// storePositions adapts the durable position store to the tracker's position
// source for modes that run without the in-memory ledger.
type storePositions struct {
	store  domain.PositionStore
	wallet string
	logger *slog.Logger
}

func (s *storePositions) Active() []domain.Position {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	positions, err := s.store.ListActive(ctx, s.wallet)
	if err != nil {
		s.logger.Warn("list active positions failed", slog.String("error", err.Error()))
		return nil
	}
	return positions
}
