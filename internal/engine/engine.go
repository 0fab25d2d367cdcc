// Package engine wires the scanner, ledger, risk engine, performance
// tracker, and orchestrator onto the scheduler and runs the full lifecycle
// loop.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chainflowlabs/sentinel/internal/agent"
	"github.com/chainflowlabs/sentinel/internal/domain"
	"github.com/chainflowlabs/sentinel/internal/ledger"
	"github.com/chainflowlabs/sentinel/internal/perf"
	"github.com/chainflowlabs/sentinel/internal/risk"
	"github.com/chainflowlabs/sentinel/internal/scanner"
	"github.com/chainflowlabs/sentinel/internal/scheduler"
)

// Config holds the task cadence.
type Config struct {
	ScanInterval     time.Duration
	DecisionInterval time.Duration
	CompoundInterval time.Duration
	SnapshotInterval time.Duration
	SweepInterval    time.Duration
}

func Defaults() Config {
	return Config{
		ScanInterval:     time.Minute,
		DecisionInterval: 2 * time.Minute,
		CompoundInterval: 30 * time.Minute,
		SnapshotInterval: 5 * time.Minute,
		SweepInterval:    10 * time.Minute,
	}
}

// GasPricer reports the current gas price in native units. Optional; the
// feature is zero when absent.
type GasPricer interface {
	GasPrice(ctx context.Context) (float64, error)
}

// Engine owns the periodic tasks and the latest scan results shared between
// them.
type Engine struct {
	cfg      Config
	scanner  *scanner.Scanner
	book     *ledger.Ledger
	risk     *risk.Engine
	tracker  *perf.Tracker
	orch     *agent.Orchestrator
	provider domain.MarketDataProvider
	gas      GasPricer // optional
	sched    *scheduler.Scheduler
	logger   *slog.Logger

	mu   sync.RWMutex
	opps []domain.Opportunity
}

func New(
	cfg Config,
	sc *scanner.Scanner,
	book *ledger.Ledger,
	riskEngine *risk.Engine,
	tracker *perf.Tracker,
	orch *agent.Orchestrator,
	provider domain.MarketDataProvider,
	gas GasPricer,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		scanner:  sc,
		book:     book,
		risk:     riskEngine,
		tracker:  tracker,
		orch:     orch,
		provider: provider,
		gas:      gas,
		sched:    scheduler.New(logger),
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Start registers all tasks and launches the scheduler. It returns after
// launch; the tasks run until Stop or context cancellation.
func (e *Engine) Start(ctx context.Context) error {
	register := func(name string, interval time.Duration, fn func(context.Context)) error {
		return e.sched.Register(name, interval, fn)
	}
	if err := register("scan", e.cfg.ScanInterval, e.runScan); err != nil {
		return err
	}
	if err := register("decide", e.cfg.DecisionInterval, e.runDecide); err != nil {
		return err
	}
	if err := register("compound", e.cfg.CompoundInterval, e.runCompound); err != nil {
		return err
	}
	if err := register("snapshot", e.cfg.SnapshotInterval, e.runSnapshot); err != nil {
		return err
	}
	if err := register("sweep", e.cfg.SweepInterval, e.runSweep); err != nil {
		return err
	}
	return e.sched.Start(ctx)
}

// Stop halts the scheduler and waits for in-flight tasks.
func (e *Engine) Stop() {
	e.sched.Stop()
	e.logger.Info("clean shutdown")
}

// Opportunities returns the latest scan results.
func (e *Engine) Opportunities() []domain.Opportunity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Opportunity(nil), e.opps...)
}

func (e *Engine) runScan(ctx context.Context) {
	opps := e.scanner.Scan(ctx)
	e.mu.Lock()
	e.opps = opps
	e.mu.Unlock()
	e.risk.SetOpportunities(opps)
	e.logger.Info("scan complete", slog.Int("opportunities", len(opps)))
}

func (e *Engine) runDecide(ctx context.Context) {
	opps := e.Opportunities()
	if len(opps) == 0 {
		return
	}
	e.orch.RunCycle(ctx, e.features(ctx, opps), opps)
}

// features assembles the market feature vector from the top-scored
// opportunity and live market data.
func (e *Engine) features(ctx context.Context, opps []domain.Opportunity) domain.MarketFeatures {
	top := opps[0]
	f := domain.MarketFeatures{
		Asset:        top.Asset,
		LiquidityUSD: top.Liquidity,
		BestAPY:      top.APY,
		BestProtocol: top.Protocol,
	}
	if price, err := e.provider.GetPrice(ctx, top.Asset); err == nil {
		f.Price = price
	}
	if snap, ok := e.tracker.Latest(); ok {
		f.Volatility = snap.VolatilityScore / 100
	}
	if e.gas != nil {
		if gp, err := e.gas.GasPrice(ctx); err == nil {
			f.GasPrice = gp
		}
	}
	return f
}

func (e *Engine) runCompound(ctx context.Context) {
	for _, pos := range e.book.Active() {
		if ctx.Err() != nil {
			return
		}
		res := e.book.Compound(ctx, pos.ID)
		if !res.Success {
			e.logger.Warn("scheduled compound failed",
				slog.String("position_id", pos.ID),
				slog.String("error", res.Error),
			)
		}
	}
}

func (e *Engine) runSnapshot(ctx context.Context) {
	if _, err := e.tracker.TakeSnapshot(ctx); err != nil {
		e.logger.Warn("snapshot failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) runSweep(ctx context.Context) {
	e.risk.RunTriggerSweep(ctx)
}
