package models

import "time"

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// MarketSnapshot is the top-of-book view for the traded pair, rebuilt every
// tick from the exchange ticker. It is never persisted.
type MarketSnapshot struct {
	Bid float64
	Ask float64
}

// Mid returns the mid-price.
func (m MarketSnapshot) Mid() float64 {
	return (m.Bid + m.Ask) / 2
}

// Spread returns the absolute ladder step for a given spread percent.
func (m MarketSnapshot) Spread(percent float64) float64 {
	return m.Mid() * percent
}

// AssetBalance is the per-asset slice of a BalanceSnapshot. Borrowed and
// Interest stay zero on spot venues.
type AssetBalance struct {
	Free     float64
	Borrowed float64
	Interest float64
}

// BalanceSnapshot is the account state at the start of a tick. Assets the
// account does not hold are simply absent; Asset() returns the zero value
// for them.
type BalanceSnapshot struct {
	Assets      map[string]AssetBalance
	TotalEquity float64 // net equity in the quote/reference unit
}

// Asset returns the balance entry for a symbol, zero-valued when not held.
func (b BalanceSnapshot) Asset(symbol string) AssetBalance {
	return b.Assets[symbol]
}

// Baseline 是唯一跨 tick 持久化的状态：利润统计的起点
// It is created on the first successful tick after a (re)start or symbol
// change and from then on only ever replaced wholesale, never mutated.
type Baseline struct {
	Symbol         string    `json:"symbol"`
	StartTime      time.Time `json:"start_time"`
	StartingEquity float64   `json:"starting_equity"`
}

// TargetEntry is one quote the engine wants resting on the book.
type TargetEntry struct {
	Side   Side
	Price  float64
	Amount float64
}

// TargetLadder is the full set of target quotes for one tick, recomputed
// from the market snapshot every cycle.
type TargetLadder []TargetEntry

// Entries returns the ladder entries for one side.
func (l TargetLadder) Entries(side Side) []TargetEntry {
	var out []TargetEntry
	for _, e := range l {
		if e.Side == side {
			out = append(out, e)
		}
	}
	return out
}

// OpenOrder is the exchange's view of a resting order. The bot never assumes
// any ordering from the exchange and re-derives extremes itself.
type OpenOrder struct {
	ID     string
	Side   Side
	Price  float64
	Amount float64
}

// CollateralRequirement is the per-tick collateral target derived by the
// margin manager. Derived only, never persisted.
type CollateralRequirement struct {
	FeeBalance   float64 // fee asset units
	BaseBalance  float64 // quote currency units
	AssetBalance float64 // traded asset units
}

// ReconcilePlan is the output of one reconciliation pass: what to cancel,
// what to create, and whether placement was deferred because the book is
// still settling.
type ReconcilePlan struct {
	Cancels  []OpenOrder
	Creates  []TargetEntry
	Deferred bool
}

// Empty reports whether the plan carries no work.
func (p ReconcilePlan) Empty() bool {
	return len(p.Cancels) == 0 && len(p.Creates) == 0
}

// ActionResult is the outcome of a single cancel/create call. Results are
// reported to the caller for logging, never escalated to a tick failure.
type ActionResult struct {
	Action  string // "cancel" or "create"
	OrderID string // exchange-assigned ID for successful creates
	Side    Side
	Price   float64
	Amount  float64
	Err     error
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Config 结构体定义了机器人的所有配置参数
// Constructed once at startup and passed by reference; nothing mutates it
// afterwards.
type Config struct {
	Exchange string `json:"exchange"`  // adapter name, e.g. "bybit"
	Asset    string `json:"asset"`     // traded asset, e.g. "PEPE"
	Base     string `json:"base"`      // quote currency, e.g. "USDT"
	FeeAsset string `json:"fee_asset"` // asset trading fees are charged in
	Mode     string `json:"mode"`      // "spot" or "margin"

	// 对账策略："refresh" 或 "coverage"。留空时按交易模式选择：
	// spot -> refresh, margin -> coverage。
	ReconcilePolicy string `json:"reconcile_policy,omitempty"`

	OrdersMax          int     `json:"orders_max"`           // 价格两侧各挂的最大订单数量
	OrderAmountPercent float64 `json:"order_amount_percent"` // 单笔订单占净值的比例
	SpreadPercent      float64 `json:"spread_percent"`
	OrderGap           float64 `json:"order_gap"` // margin mode gap multiplier
	SafetyMultiplier   float64 `json:"safety_multiplier"`
	FeeReservePercent  float64 `json:"fee_reserve_percent"`
	FeeReserveFloor    float64 `json:"fee_reserve_floor"` // in quote units
	IndexAsset         string  `json:"index_asset"`       // reference asset for the slow ticker

	IntervalSec     int `json:"interval_sec"`
	FailIntervalSec int `json:"fail_interval_sec"`
	ReportTicks     int `json:"report_ticks"`
	RefreshTicks    int `json:"refresh_ticks"`

	APIURL string `json:"api_url,omitempty"` // REST 基础地址override，留空使用适配器默认值
	WSURL  string `json:"ws_url,omitempty"`

	DataDir   string    `json:"data_dir"`
	LogConfig LogConfig `json:"log"`

	// 凭证从环境变量读取，不写在配置文件里
	APIKey    string `json:"-"`
	SecretKey string `json:"-"`
}

// Symbol returns the display form of the pair, e.g. "PEPE/USDT". Adapters
// map this to their native notation themselves.
func (c *Config) Symbol() string {
	return c.Asset + "/" + c.Base
}

// MarginMode reports whether the session trades against borrowed collateral.
func (c *Config) MarginMode() bool {
	return c.Mode == "margin"
}

// Interval returns the tick cadence.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// FailInterval returns the backoff applied after a failed tick or session.
func (c *Config) FailInterval() time.Duration {
	return time.Duration(c.FailIntervalSec) * time.Second
}
