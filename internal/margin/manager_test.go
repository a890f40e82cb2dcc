package margin

import (
	"context"
	"sync"
	"testing"

	"maker-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockMarginExchange records borrow/repay/market-buy calls.
type mockMarginExchange struct {
	sync.Mutex
	borrows    map[string]float64
	repays     map[string]float64
	marketBuys map[string]float64
	repayErr   error
}

func newMockMarginExchange() *mockMarginExchange {
	return &mockMarginExchange{
		borrows:    make(map[string]float64),
		repays:     make(map[string]float64),
		marketBuys: make(map[string]float64),
	}
}

func (m *mockMarginExchange) Name() string                                  { return "mock" }
func (m *mockMarginExchange) Connect(context.Context) error                 { return nil }
func (m *mockMarginExchange) Close() error                                  { return nil }
func (m *mockMarginExchange) SupportsMargin() bool                          { return true }
func (m *mockMarginExchange) ToPricePrecision(_ string, p float64) float64  { return p }
func (m *mockMarginExchange) ToAmountPrecision(_ string, a float64) float64 { return a }

func (m *mockMarginExchange) FetchBalance(context.Context) (models.BalanceSnapshot, error) {
	return models.BalanceSnapshot{}, nil
}
func (m *mockMarginExchange) FetchTicker(context.Context, string) (models.MarketSnapshot, error) {
	return models.MarketSnapshot{}, nil
}
func (m *mockMarginExchange) FetchOpenOrders(context.Context, string) ([]models.OpenOrder, error) {
	return nil, nil
}
func (m *mockMarginExchange) CreateLimitOrder(_ context.Context, _ string, side models.Side, amount, price float64) (models.OpenOrder, error) {
	return models.OpenOrder{Side: side, Amount: amount, Price: price}, nil
}
func (m *mockMarginExchange) CancelOrder(context.Context, string, string) error { return nil }
func (m *mockMarginExchange) CancelAllOrders(context.Context, string) error     { return nil }

func (m *mockMarginExchange) CreateMarketBuyOrder(_ context.Context, symbol string, amount float64) error {
	m.Lock()
	defer m.Unlock()
	m.marketBuys[symbol] += amount
	return nil
}

func (m *mockMarginExchange) BorrowMargin(_ context.Context, asset string, amount float64) error {
	m.Lock()
	defer m.Unlock()
	m.borrows[asset] += amount
	return nil
}

func (m *mockMarginExchange) RepayMargin(_ context.Context, asset string, amount float64) error {
	if m.repayErr != nil {
		return m.repayErr
	}
	m.Lock()
	defer m.Unlock()
	m.repays[asset] += amount
	return nil
}

func testConfig() *models.Config {
	return &models.Config{
		Asset:             "PEPE",
		Base:              "USDT",
		FeeAsset:          "BNB",
		Mode:              "margin",
		SafetyMultiplier:  1.5,
		FeeReservePercent: 0.01,
		FeeReserveFloor:   5,
	}
}

func balanceWith(assets map[string]models.AssetBalance, equity float64) models.BalanceSnapshot {
	return models.BalanceSnapshot{Assets: assets, TotalEquity: equity}
}

// TestRequirement derives collateral targets: order notional and amount are
// scaled by the safety multiplier, the fee reserve is the greater of the
// equity percentage and the floor, converted into fee-asset units.
func TestRequirement(t *testing.T) {
	m := New(newMockMarginExchange(), testConfig(), zap.NewNop().Sugar())

	bal := balanceWith(nil, 1000)
	req := m.Requirement(bal, 2, 50, 500) // amount=2, mid=50, BNB at 500 USDT

	assert.InDelta(t, 150, req.BaseBalance, 1e-9)  // 2*50*1.5
	assert.InDelta(t, 3, req.AssetBalance, 1e-9)   // 2*1.5
	assert.InDelta(t, 0.02, req.FeeBalance, 1e-9)  // max(1000*0.01, 5)/500

	// With low equity the floor wins: max(100*0.01, 5)/500 = 0.01
	req = m.Requirement(balanceWith(nil, 100), 2, 50, 500)
	assert.InDelta(t, 0.01, req.FeeBalance, 1e-9)

	// Without a fee price no fee requirement can be computed.
	req = m.Requirement(bal, 2, 50, 0)
	assert.Zero(t, req.FeeBalance)
}

// TestEnsureFeeBufferTopsUp verifies the borrow + market-buy + skip sequence
// when the free fee balance falls below the reserve threshold.
func TestEnsureFeeBufferTopsUp(t *testing.T) {
	ex := newMockMarginExchange()
	m := New(ex, testConfig(), zap.NewNop().Sugar())

	bal := balanceWith(map[string]models.AssetBalance{
		"BNB": {Free: 0},
	}, 1000)
	req := models.CollateralRequirement{FeeBalance: 0.02}

	skip := m.EnsureFeeBuffer(context.Background(), bal, req, 500)
	require.True(t, skip, "the tick must stop after a fee top-up")

	// shortfall 0.02 BNB: borrow its USDT value, market-buy the BNB
	assert.InDelta(t, 10, ex.borrows["USDT"], 1e-9)
	assert.InDelta(t, 0.02, ex.marketBuys["BNB/USDT"], 1e-9)
}

// TestEnsureFeeBufferSufficient verifies no action is taken while the free
// balance stays above the threshold.
func TestEnsureFeeBufferSufficient(t *testing.T) {
	ex := newMockMarginExchange()
	m := New(ex, testConfig(), zap.NewNop().Sugar())

	bal := balanceWith(map[string]models.AssetBalance{
		"BNB": {Free: 0.05},
	}, 1000)
	req := models.CollateralRequirement{FeeBalance: 0.02}

	skip := m.EnsureFeeBuffer(context.Background(), bal, req, 500)
	assert.False(t, skip)
	assert.Empty(t, ex.borrows)
	assert.Empty(t, ex.marketBuys)
}

// TestEnsureFeeBufferQuoteFeeAsset: fees charged in the quote currency need
// no conversion trade, so no degenerate self-pair market buy is attempted.
func TestEnsureFeeBufferQuoteFeeAsset(t *testing.T) {
	ex := newMockMarginExchange()
	cfg := testConfig()
	cfg.FeeAsset = "USDT"
	m := New(ex, cfg, zap.NewNop().Sugar())

	bal := balanceWith(map[string]models.AssetBalance{
		"USDT": {Free: 0},
	}, 1000)
	req := models.CollateralRequirement{FeeBalance: 10}

	skip := m.EnsureFeeBuffer(context.Background(), bal, req, 1)
	assert.False(t, skip)
	assert.Empty(t, ex.borrows)
	assert.Empty(t, ex.marketBuys)
}

// TestRepayInterest pays min(free, interest) on the fee asset.
func TestRepayInterest(t *testing.T) {
	ex := newMockMarginExchange()
	m := New(ex, testConfig(), zap.NewNop().Sugar())

	// Interest exceeds free: pay the free amount.
	bal := balanceWith(map[string]models.AssetBalance{
		"BNB": {Free: 0.01, Interest: 0.03},
	}, 1000)
	m.RepayInterest(context.Background(), bal)
	assert.InDelta(t, 0.01, ex.repays["BNB"], 1e-9)

	// Free exceeds interest: pay exactly the interest.
	ex = newMockMarginExchange()
	m = New(ex, testConfig(), zap.NewNop().Sugar())
	bal = balanceWith(map[string]models.AssetBalance{
		"BNB": {Free: 1, Interest: 0.03},
	}, 1000)
	m.RepayInterest(context.Background(), bal)
	assert.InDelta(t, 0.03, ex.repays["BNB"], 1e-9)

	// Nothing owed: no call.
	ex = newMockMarginExchange()
	m = New(ex, testConfig(), zap.NewNop().Sugar())
	m.RepayInterest(context.Background(), balanceWith(map[string]models.AssetBalance{
		"BNB": {Free: 1},
	}, 1000))
	assert.Empty(t, ex.repays)
}

// TestRepayPrincipal pays down both the traded asset and the quote currency
// where free balance allows.
func TestRepayPrincipal(t *testing.T) {
	ex := newMockMarginExchange()
	m := New(ex, testConfig(), zap.NewNop().Sugar())

	bal := balanceWith(map[string]models.AssetBalance{
		"PEPE": {Free: 100, Borrowed: 40},
		"USDT": {Free: 5, Borrowed: 20},
	}, 1000)
	m.RepayPrincipal(context.Background(), bal)

	assert.InDelta(t, 40, ex.repays["PEPE"], 1e-9)
	assert.InDelta(t, 5, ex.repays["USDT"], 1e-9)
}

// TestEnsureOrderCollateral borrows the shortfall for the side's funding
// asset: quote for buys, the traded asset for sells.
func TestEnsureOrderCollateral(t *testing.T) {
	ex := newMockMarginExchange()
	m := New(ex, testConfig(), zap.NewNop().Sugar())

	bal := balanceWith(map[string]models.AssetBalance{
		"USDT": {Free: 100},
		"PEPE": {Free: 1},
	}, 1000)
	req := models.CollateralRequirement{BaseBalance: 150, AssetBalance: 3}

	m.EnsureOrderCollateral(context.Background(), bal, req, models.TargetEntry{Side: models.Buy, Price: 50, Amount: 2})
	assert.InDelta(t, 50, ex.borrows["USDT"], 1e-9)

	m.EnsureOrderCollateral(context.Background(), bal, req, models.TargetEntry{Side: models.Sell, Price: 50, Amount: 2})
	assert.InDelta(t, 2, ex.borrows["PEPE"], 1e-9)

	// Sufficient balance: nothing borrowed.
	ex = newMockMarginExchange()
	m = New(ex, testConfig(), zap.NewNop().Sugar())
	rich := balanceWith(map[string]models.AssetBalance{
		"USDT": {Free: 1000},
	}, 1000)
	m.EnsureOrderCollateral(context.Background(), rich, req, models.TargetEntry{Side: models.Buy, Price: 50, Amount: 2})
	assert.Empty(t, ex.borrows)
}
