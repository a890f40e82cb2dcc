package exchange

import (
	"context"
	"fmt"
	"sort"

	"maker-bot-go/internal/models"

	"go.uber.org/zap"
)

// Exchange 定义了所有交易所适配器必须提供的通用方法。
// The core only ever talks to this contract; wire protocols, signing and
// rate limiting live behind it.
type Exchange interface {
	Name() string

	// Connect performs session setup (time sync, instrument rules). It is
	// the only call whose failure restarts the session from scratch.
	Connect(ctx context.Context) error

	FetchBalance(ctx context.Context) (models.BalanceSnapshot, error)
	FetchTicker(ctx context.Context, symbol string) (models.MarketSnapshot, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error)

	CreateLimitOrder(ctx context.Context, symbol string, side models.Side, amount, price float64) (models.OpenOrder, error)
	CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) error
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error

	BorrowMargin(ctx context.Context, asset string, amount float64) error
	RepayMargin(ctx context.Context, asset string, amount float64) error
	SupportsMargin() bool

	// Precision mapping happens at the submission boundary; the engine
	// itself works on exact values.
	ToPricePrecision(symbol string, price float64) float64
	ToAmountPrecision(symbol string, amount float64) float64

	Close() error
}

// Credentials are the API key pair passed to adapter factories.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Factory builds a concrete adapter from config. Registered once per venue
// in an init function; resolved exactly once at startup.
type Factory func(cfg *models.Config, creds Credentials, logger *zap.Logger) (Exchange, error)

var registry = map[string]Factory{}

// Register 注册一个交易所适配器工厂。重复注册视为编程错误。
func Register(name string, factory Factory) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("exchange: adapter %q registered twice", name))
	}
	registry[name] = factory
}

// New resolves a configured adapter name to a concrete implementation.
func New(cfg *models.Config, creds Credentials, logger *zap.Logger) (Exchange, error) {
	factory, ok := registry[cfg.Exchange]
	if !ok {
		return nil, fmt.Errorf("未知的交易所 %q, 可用: %v", cfg.Exchange, Names())
	}
	return factory(cfg, creds, logger)
}

// Names returns the registered adapter names, sorted for stable messages.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
