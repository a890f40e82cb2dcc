package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"maker-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/zap"
)

// retCode for "Unknown order sent" on cancel
const binanceUnknownOrder = -2011

func init() {
	Register("binance", func(cfg *models.Config, creds Credentials, logger *zap.Logger) (Exchange, error) {
		return NewBinanceExchange(cfg, creds, logger), nil
	})
}

// BinanceExchange is the spot adapter built on the official-SDK wrapper.
// It is spot-only: margin borrow/repay report unsupported capability, so a
// margin-mode session refuses to start on it.
type BinanceExchange struct {
	client *binance.Client
	logger *zap.Logger
	asset  string
	base   string

	mu    sync.RWMutex
	rules map[string]instrumentRule
}

// NewBinanceExchange 创建一个新的 BinanceExchange 实例。
func NewBinanceExchange(cfg *models.Config, creds Credentials, logger *zap.Logger) *BinanceExchange {
	return &BinanceExchange{
		client: binance.NewClient(creds.APIKey, creds.SecretKey),
		logger: logger,
		asset:  cfg.Asset,
		base:   cfg.Base,
		rules:  make(map[string]instrumentRule),
	}
}

func (e *BinanceExchange) Name() string { return "binance" }

func (e *BinanceExchange) SupportsMargin() bool { return false }

// Connect 校验连通性并缓存交易规则。
func (e *BinanceExchange) Connect(ctx context.Context) error {
	if _, err := e.client.NewServerTimeService().Do(ctx); err != nil {
		return &ConnectivityError{Op: "server time", Err: err}
	}
	return e.loadRules(ctx, nativeSymbol(e.asset+"/"+e.base))
}

func (e *BinanceExchange) loadRules(ctx context.Context, native string) error {
	info, err := e.client.NewExchangeInfoService().Symbols(native).Do(ctx)
	if err != nil {
		return &ConnectivityError{Op: "exchange info", Err: err}
	}
	for _, s := range info.Symbols {
		if s.Symbol != native {
			continue
		}
		rule := instrumentRule{}
		if f := s.PriceFilter(); f != nil {
			rule.tickSize = f.TickSize
		}
		if f := s.LotSizeFilter(); f != nil {
			rule.qtyStep = f.StepSize
		}
		e.mu.Lock()
		e.rules[native] = rule
		e.mu.Unlock()
		e.logger.Info("成功缓存交易规则",
			zap.String("symbol", native),
			zap.String("tickSize", rule.tickSize),
			zap.String("qtyStep", rule.qtyStep))
		return nil
	}
	return fmt.Errorf("未找到交易对 %s 的规则", native)
}

// FetchBalance builds the snapshot from the spot account. Net equity is
// valued in the quote currency over the traded pair only; other dust is
// ignored on purpose.
func (e *BinanceExchange) FetchBalance(ctx context.Context) (models.BalanceSnapshot, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return models.BalanceSnapshot{}, classifyBinanceErr("fetch balance", err)
	}

	snap := models.BalanceSnapshot{Assets: make(map[string]models.AssetBalance)}
	totals := make(map[string]float64)
	for _, b := range account.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		snap.Assets[b.Asset] = models.AssetBalance{Free: free}
		totals[b.Asset] = free + locked
	}

	ticker, err := e.FetchTicker(ctx, e.asset+"/"+e.base)
	if err != nil {
		return models.BalanceSnapshot{}, err
	}
	snap.TotalEquity = totals[e.base] + totals[e.asset]*ticker.Mid()
	return snap, nil
}

// FetchTicker 获取买一/卖一。
func (e *BinanceExchange) FetchTicker(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	tickers, err := e.client.NewListBookTickersService().Symbol(nativeSymbol(symbol)).Do(ctx)
	if err != nil {
		return models.MarketSnapshot{}, classifyBinanceErr("fetch ticker", err)
	}
	if len(tickers) == 0 {
		return models.MarketSnapshot{}, &ConnectivityError{Op: "fetch ticker", Err: fmt.Errorf("未返回 %s 的行情", symbol)}
	}

	var snap models.MarketSnapshot
	snap.Bid, _ = strconv.ParseFloat(tickers[0].BidPrice, 64)
	snap.Ask, _ = strconv.ParseFloat(tickers[0].AskPrice, 64)
	return snap, nil
}

// FetchOpenOrders 获取当前挂单。
func (e *BinanceExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	list, err := e.client.NewListOpenOrdersService().Symbol(nativeSymbol(symbol)).Do(ctx)
	if err != nil {
		return nil, classifyBinanceErr("fetch open orders", err)
	}

	orders := make([]models.OpenOrder, 0, len(list))
	for _, o := range list {
		side := models.Buy
		if o.Side == binance.SideTypeSell {
			side = models.Sell
		}
		price, _ := strconv.ParseFloat(o.Price, 64)
		amount, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		orders = append(orders, models.OpenOrder{
			ID:     strconv.FormatInt(o.OrderID, 10),
			Side:   side,
			Price:  price,
			Amount: amount,
		})
	}
	return orders, nil
}

// CreateLimitOrder 下限价单。
func (e *BinanceExchange) CreateLimitOrder(ctx context.Context, symbol string, side models.Side, amount, price float64) (models.OpenOrder, error) {
	native := nativeSymbol(symbol)
	rule := e.rule(native)

	sideType := binance.SideTypeBuy
	if side == models.Sell {
		sideType = binance.SideTypeSell
	}
	resp, err := e.client.NewCreateOrderService().
		Symbol(native).
		Side(sideType).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(formatByStep(amount, rule.qtyStep)).
		Price(formatByStep(price, rule.tickSize)).
		NewClientOrderID(newClientOrderID(side)).
		Do(ctx)
	if err != nil {
		return models.OpenOrder{}, classifyBinanceErr("create order", err)
	}
	return models.OpenOrder{
		ID:     strconv.FormatInt(resp.OrderID, 10),
		Side:   side,
		Price:  adjustValueToStep(price, rule.tickSize),
		Amount: adjustValueToStep(amount, rule.qtyStep),
	}, nil
}

// CreateMarketBuyOrder 市价买入，数量以基础币计。
func (e *BinanceExchange) CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) error {
	native := nativeSymbol(symbol)
	if err := e.ensureRules(ctx, native); err != nil {
		return err
	}
	_, err := e.client.NewCreateOrderService().
		Symbol(native).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		Quantity(formatByStep(amount, e.rule(native).qtyStep)).
		Do(ctx)
	return classifyBinanceErr("market buy", err)
}

// CancelOrder 取消订单。订单已不存在视为成功的一种。
func (e *BinanceExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("非法的订单ID %q: %w", orderID, err)
	}
	_, err = e.client.NewCancelOrderService().Symbol(nativeSymbol(symbol)).OrderID(id).Do(ctx)
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == binanceUnknownOrder {
		return ErrOrderNotFound
	}
	return classifyBinanceErr("cancel order", err)
}

// CancelAllOrders 撤掉该交易对的全部挂单。
func (e *BinanceExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	_, err := e.client.NewCancelOpenOrdersService().Symbol(nativeSymbol(symbol)).Do(ctx)
	// 没有挂单时币安同样返回 -2011
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == binanceUnknownOrder {
		return nil
	}
	return classifyBinanceErr("cancel all", err)
}

// BorrowMargin 现货账户不支持借币。
func (e *BinanceExchange) BorrowMargin(ctx context.Context, asset string, amount float64) error {
	return ErrMarginUnsupported
}

// RepayMargin 现货账户不支持还币。
func (e *BinanceExchange) RepayMargin(ctx context.Context, asset string, amount float64) error {
	return ErrMarginUnsupported
}

// ToPricePrecision 将价格对齐到交易对的tickSize。
func (e *BinanceExchange) ToPricePrecision(symbol string, price float64) float64 {
	return adjustValueToStep(price, e.rule(nativeSymbol(symbol)).tickSize)
}

// ToAmountPrecision 将数量对齐到交易对的数量步长。
func (e *BinanceExchange) ToAmountPrecision(symbol string, amount float64) float64 {
	return adjustValueToStep(amount, e.rule(nativeSymbol(symbol)).qtyStep)
}

func (e *BinanceExchange) Close() error { return nil }

func (e *BinanceExchange) rule(native string) instrumentRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules[native]
}

func (e *BinanceExchange) ensureRules(ctx context.Context, native string) error {
	e.mu.RLock()
	_, ok := e.rules[native]
	e.mu.RUnlock()
	if ok {
		return nil
	}
	return e.loadRules(ctx, native)
}

// classifyBinanceErr 将SDK错误映射到核心的错误分类上。
// -1xxx / -2014 / -2015 属于请求和认证层面，整个 tick 重试。
func classifyBinanceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code > -2000 || apiErr.Code == -2014 || apiErr.Code == -2015 {
			return &ConnectivityError{Op: op, Err: apiErr}
		}
		return &OrderRejectedError{Code: int(apiErr.Code), Message: apiErr.Message}
	}
	return &ConnectivityError{Op: op, Err: err}
}
