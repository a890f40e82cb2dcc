// Package supervisor drives the trading session: a connect/retry state
// machine around a strictly sequential tick loop, with coarser cadences for
// slow-moving reference data and human-facing reporting.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"maker-bot-go/internal/exchange"
	"maker-bot-go/internal/margin"
	"maker-bot-go/internal/models"
	"maker-bot-go/internal/performance"
	"maker-bot-go/internal/quote"
	"maker-bot-go/internal/reconciler"
	"maker-bot-go/internal/reporter"

	"go.uber.org/zap"
)

// State names the supervisor's lifecycle phases. Failure handling is a
// named transition, not an implicit catch-and-continue.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateRunning    State = "RUNNING"
	StateStopped    State = "STOPPED"
)

// ErrMissingCredentials is fatal: the process stops instead of retrying.
var ErrMissingCredentials = errors.New("no apikey or secret")

// Supervisor owns one trading session. All tick-local state lives on the
// stack of runTick; the only fields mutated across ticks are the counters
// and the slow-refresh price cache, and only the single supervising
// goroutine touches them.
type Supervisor struct {
	cfg     *models.Config
	ex      exchange.Exchange
	tracker *performance.Tracker
	margins *margin.Manager
	rec     *reconciler.Reconciler
	rep     *reporter.Reporter
	logger  *zap.SugaredLogger

	state      State
	tick       int
	feePrice   float64 // fee asset valued in quote, refreshed slowly
	indexPrice float64 // reference asset price, display only

	// test seam; time.Sleep in production
	sleep func(ctx context.Context, d time.Duration)
}

// New wires a session together. Margin mode on a spot-only venue is a
// configuration error caught here, before anything touches the network.
func New(cfg *models.Config, ex exchange.Exchange, tracker *performance.Tracker, margins *margin.Manager, rec *reconciler.Reconciler, rep *reporter.Reporter, logger *zap.SugaredLogger) (*Supervisor, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.MarginMode() && !ex.SupportsMargin() {
		return nil, fmt.Errorf("交易所 %s 不支持保证金模式", ex.Name())
	}
	return &Supervisor{
		cfg:     cfg,
		ex:      ex,
		tracker: tracker,
		margins: margins,
		rec:     rec,
		rep:     rep,
		logger:  logger,
		state:   StateConnecting,
		sleep:   sleepCtx,
	}, nil
}

// Run blocks until ctx is cancelled. Connection setup failures retry from
// CONNECTING; tick failures back off and stay in RUNNING on the same
// session. No failure below the credential check ever terminates the loop.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.transition(StateStopped)

	for {
		s.transition(StateConnecting)
		if err := s.ex.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Errorf("连接交易所失败: %v，%s 后重试", err, s.cfg.FailInterval())
			s.sleep(ctx, s.cfg.FailInterval())
			continue
		}

		s.transition(StateRunning)
		if err := s.runLoop(ctx); err != nil {
			return err // only context cancellation exits runLoop
		}
	}
}

func (s *Supervisor) runLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.runTick(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Errorf("tick 失败: %v，%s 后重试", err, s.cfg.FailInterval())
				s.sleep(ctx, s.cfg.FailInterval())
			}
		}
	}
}

// runTick executes one full polling cycle. Connectivity errors abort the
// whole tick; per-order and borrow/repay failures never surface here.
func (s *Supervisor) runTick(ctx context.Context) error {
	s.tick++
	symbol := s.cfg.Symbol()

	bal, err := s.ex.FetchBalance(ctx)
	if err != nil {
		return err
	}
	snap, err := s.ex.FetchTicker(ctx, symbol)
	if err != nil {
		return err
	}
	mid := snap.Mid()
	if mid <= 0 {
		return fmt.Errorf("行情异常: bid=%.8f ask=%.8f", snap.Bid, snap.Ask)
	}
	spread := snap.Spread(s.cfg.SpreadPercent)

	// reference tickers move slowly; refresh on a coarser cadence
	if s.tick == 1 || s.tick%s.cfg.RefreshTicks == 0 {
		s.refreshAuxPrices(ctx)
	}

	baseline, err := s.tracker.EnsureBaseline(symbol, bal.TotalEquity)
	if err != nil {
		return err
	}
	profit := s.tracker.ComputeProfit(baseline, bal.TotalEquity)

	if s.tick%s.cfg.ReportTicks == 0 {
		s.rep.Print(s.tracker.Uptime(baseline), baseline.StartingEquity, bal.TotalEquity, profit)
		if s.indexPrice > 0 {
			s.logger.Infof("%s index: %.2f %s", s.cfg.IndexAsset, s.indexPrice, s.cfg.Base)
		}
	}

	amount := s.ex.ToAmountPrecision(symbol, quote.OrderAmount(bal.TotalEquity, s.cfg.OrderAmountPercent, mid))
	if amount <= 0 {
		return fmt.Errorf("订单数量为0 (净值 %.8f, 中间价 %.8f)", bal.TotalEquity, mid)
	}

	var req models.CollateralRequirement
	if s.cfg.MarginMode() {
		req = s.margins.Requirement(bal, amount, mid, s.feePrice)
		if s.margins.EnsureFeeBuffer(ctx, bal, req, s.feePrice) {
			s.logger.Warn("手续费缓冲不足，本轮跳过报价")
			return nil
		}
		s.margins.RepayInterest(ctx, bal)
		s.margins.RepayPrincipal(ctx, bal)
	}

	open, err := s.ex.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}

	var target models.TargetLadder
	if s.cfg.MarginMode() {
		target = quote.SingleLevel(mid, s.cfg.SpreadPercent, s.cfg.OrderGap, amount)
	} else {
		target = quote.Ladder(mid, s.cfg.SpreadPercent, s.cfg.OrdersMax, amount)
	}

	plan := s.rec.Plan(target, open, spread, s.cfg.OrdersMax)
	if plan.Deferred {
		s.logger.Debugf("挂单数 %d 超过上限 %d，等待结算", len(open), s.cfg.OrdersMax)
		return nil
	}

	// collateral always precedes placement within the tick
	if s.cfg.MarginMode() {
		for _, entry := range plan.Creates {
			s.margins.EnsureOrderCollateral(ctx, bal, req, entry)
		}
	}

	results := s.rec.Execute(ctx, plan)

	if s.rec.Policy() == reconciler.PolicyCoverage {
		postOpen := append(append([]models.OpenOrder(nil), open...), reconciler.Created(results)...)
		if victim := reconciler.TrimExcess(postOpen, s.cfg.OrdersMax); victim != nil {
			if err := s.rec.Cancel(ctx, *victim); err != nil {
				s.logger.Warnf("裁剪多余 %s 单 @ %.8f 失败: %v", victim.Side, victim.Price, err)
			} else {
				s.logger.Infof("裁剪多余 %s 单 @ %.8f", victim.Side, victim.Price)
			}
		}
	}
	return nil
}

// refreshAuxPrices re-fetches the fee-asset and index-asset tickers.
// Failures keep the previous values; both prices degrade gracefully.
func (s *Supervisor) refreshAuxPrices(ctx context.Context) {
	if s.cfg.FeeAsset == s.cfg.Base {
		s.feePrice = 1
	} else if snap, err := s.ex.FetchTicker(ctx, s.cfg.FeeAsset+"/"+s.cfg.Base); err != nil {
		s.logger.Warnf("刷新手续费资产价格失败: %v", err)
	} else {
		s.feePrice = snap.Mid()
	}

	if s.cfg.IndexAsset == "" {
		return
	}
	if snap, err := s.ex.FetchTicker(ctx, s.cfg.IndexAsset+"/"+s.cfg.Base); err != nil {
		s.logger.Warnf("刷新指数资产价格失败: %v", err)
	} else {
		s.indexPrice = snap.Mid()
	}
}

func (s *Supervisor) transition(next State) {
	if s.state == next {
		return
	}
	s.logger.Infof("状态切换: %s -> %s", s.state, next)
	s.state = next
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
