// Package margin manages collateral sufficiency for a margin-mode session:
// fee-asset buffering, interest and principal repayment, and proactive
// borrowing ahead of order placement. Every decision is re-derived from the
// tick's balance snapshot; nothing is carried between ticks.
package margin

import (
	"context"
	"math"

	"maker-bot-go/internal/exchange"
	"maker-bot-go/internal/models"

	"go.uber.org/zap"
)

// Manager evaluates the collateral steps once per tick, in a fixed order.
// Collateral checks always run before order placement; placement never
// triggers a borrow after the fact.
type Manager struct {
	ex     exchange.Exchange
	cfg    *models.Config
	logger *zap.SugaredLogger
}

// New creates a Manager for the configured pair.
func New(ex exchange.Exchange, cfg *models.Config, logger *zap.SugaredLogger) *Manager {
	return &Manager{ex: ex, cfg: cfg, logger: logger}
}

// Requirement derives the tick's collateral targets from the balance
// snapshot and the intended per-order size.
func (m *Manager) Requirement(bal models.BalanceSnapshot, orderAmount, mid, feePrice float64) models.CollateralRequirement {
	req := models.CollateralRequirement{
		BaseBalance:  orderAmount * mid * m.cfg.SafetyMultiplier,
		AssetBalance: orderAmount * m.cfg.SafetyMultiplier,
	}
	if feePrice > 0 {
		req.FeeBalance = math.Max(bal.TotalEquity*m.cfg.FeeReservePercent, m.cfg.FeeReserveFloor) / feePrice
	}
	return req
}

// EnsureFeeBuffer tops up the fee asset when the free balance drops below
// the reserve. The top-up is funded by borrowing the quote currency and
// market-buying the fee asset. A true return means the tick must stop here:
// quoting on an unfunded fee buffer risks unpaid fees accruing as debt.
func (m *Manager) EnsureFeeBuffer(ctx context.Context, bal models.BalanceSnapshot, req models.CollateralRequirement, feePrice float64) (skipTick bool) {
	if req.FeeBalance <= 0 {
		return false
	}
	// fees charged in the quote currency need no conversion trade; that
	// balance is funded by the per-order collateral borrows instead
	if m.cfg.FeeAsset == m.cfg.Base {
		return false
	}
	free := bal.Asset(m.cfg.FeeAsset).Free
	// second-order margin: act before the buffer is fully gone
	if free >= req.FeeBalance*m.cfg.FeeReservePercent {
		return false
	}

	shortfall := req.FeeBalance - free
	m.logger.Warnf("手续费资产 %s 不足: 持有 %.8f, 需要 %.8f, 准备补仓 %.8f",
		m.cfg.FeeAsset, free, req.FeeBalance, shortfall)

	if err := m.ex.BorrowMargin(ctx, m.cfg.Base, shortfall*feePrice); err != nil {
		m.logger.Warnf("借入 %s 失败: %v", m.cfg.Base, err)
	}
	if err := m.ex.CreateMarketBuyOrder(ctx, m.cfg.FeeAsset+"/"+m.cfg.Base, shortfall); err != nil {
		m.logger.Warnf("市价买入 %s 失败: %v", m.cfg.FeeAsset, err)
	}
	// either way the balances are now stale; re-evaluate next tick
	return true
}

// RepayInterest pays down accrued interest on the fee asset with whatever is
// free, capped at the amount owed. Failures are logged and retried on a
// later tick.
func (m *Manager) RepayInterest(ctx context.Context, bal models.BalanceSnapshot) {
	entry := bal.Asset(m.cfg.FeeAsset)
	amount := math.Min(entry.Free, entry.Interest)
	if amount <= 0 {
		return
	}
	if err := m.ex.RepayMargin(ctx, m.cfg.FeeAsset, amount); err != nil {
		m.logger.Warnf("偿还 %s 利息 %.8f 失败: %v", m.cfg.FeeAsset, amount, err)
		return
	}
	m.logger.Infof("偿还 %s 利息 %.8f", m.cfg.FeeAsset, amount)
}

// RepayPrincipal pays down borrowed principal on the traded asset and the
// quote currency wherever free balance allows.
func (m *Manager) RepayPrincipal(ctx context.Context, bal models.BalanceSnapshot) {
	for _, asset := range []string{m.cfg.Asset, m.cfg.Base} {
		entry := bal.Asset(asset)
		if entry.Free <= 0 || entry.Borrowed <= 0 {
			continue
		}
		amount := math.Min(entry.Free, entry.Borrowed)
		if err := m.ex.RepayMargin(ctx, asset, amount); err != nil {
			m.logger.Warnf("偿还 %s 本金 %.8f 失败: %v", asset, amount, err)
			continue
		}
		m.logger.Infof("偿还 %s 本金 %.8f", asset, amount)
	}
}

// EnsureOrderCollateral borrows ahead of a pending order when the free
// balance cannot carry it: quote currency for buys, the traded asset for
// sells. Borrow failures are logged and swallowed; the order attempt
// proceeds regardless and may itself be rejected, which is recoverable.
func (m *Manager) EnsureOrderCollateral(ctx context.Context, bal models.BalanceSnapshot, req models.CollateralRequirement, entry models.TargetEntry) {
	var asset string
	var free, required float64
	if entry.Side == models.Buy {
		asset = m.cfg.Base
		free = bal.Asset(asset).Free
		required = req.BaseBalance
	} else {
		asset = m.cfg.Asset
		free = bal.Asset(asset).Free
		required = req.AssetBalance
	}
	if free >= required {
		return
	}

	shortfall := required - free
	if err := m.ex.BorrowMargin(ctx, asset, shortfall); err != nil {
		m.logger.Warnf("为 %s 单借入 %s %.8f 失败: %v", entry.Side, asset, shortfall, err)
		return
	}
	m.logger.Infof("为 %s 单借入 %s %.8f", entry.Side, asset, shortfall)
}
