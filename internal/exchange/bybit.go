package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"maker-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	bybitAPIURL = "https://api.bybit.com"
	bybitWSURL  = "wss://stream.bybit.com/v5/public/spot"

	bybitRecvWindow = "5000"
	// retCode for "order does not exist" on cancel
	bybitOrderNotExists = 110001

	// ticker cache fresher than this is served without a REST round trip
	bybitTickerMaxAge = 3 * time.Second
)

func init() {
	Register("bybit", func(cfg *models.Config, creds Credentials, logger *zap.Logger) (Exchange, error) {
		return NewBybitExchange(cfg, creds, logger), nil
	})
}

// bybitError 是Bybit API的错误响应信封
type bybitError struct {
	Code    int    `json:"retCode"`
	Message string `json:"retMsg"`
}

func (e *bybitError) Error() string {
	return fmt.Sprintf("bybit API error, code: %d, msg: %s", e.Code, e.Message)
}

// instrumentRule 缓存交易对的精度规则
type instrumentRule struct {
	tickSize string // price step
	qtyStep  string // amount step
}

type tickerCache struct {
	snap models.MarketSnapshot
	at   time.Time
}

// BybitExchange 实现了 Exchange 接口，对接 Bybit v5 统一账户。
// 行情通过公共 WebSocket 流缓存，REST 作为兜底。
type BybitExchange struct {
	apiKey      string
	secretKey   string
	baseURL     string
	wsBaseURL   string
	marginMode  bool
	tradeSymbol string // native form, e.g. "PEPEUSDT"
	httpClient  *http.Client
	logger      *zap.Logger
	timeOffset  int64

	mu      sync.RWMutex
	rules   map[string]instrumentRule
	tickers map[string]tickerCache

	wsStop chan struct{}
	wsOnce sync.Once
}

// NewBybitExchange 创建一个新的 BybitExchange 实例。
func NewBybitExchange(cfg *models.Config, creds Credentials, logger *zap.Logger) *BybitExchange {
	baseURL := cfg.APIURL
	if baseURL == "" {
		baseURL = bybitAPIURL
	}
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = bybitWSURL
	}
	return &BybitExchange{
		apiKey:      creds.APIKey,
		secretKey:   creds.SecretKey,
		baseURL:     baseURL,
		wsBaseURL:   wsURL,
		marginMode:  cfg.MarginMode(),
		tradeSymbol: nativeSymbol(cfg.Symbol()),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		rules:       make(map[string]instrumentRule),
		tickers:     make(map[string]tickerCache),
		wsStop:      make(chan struct{}),
	}
}

func (e *BybitExchange) Name() string { return "bybit" }

func (e *BybitExchange) SupportsMargin() bool { return true }

// Connect 与服务器同步时间并缓存交易规则，然后启动行情流。
func (e *BybitExchange) Connect(ctx context.Context) error {
	if err := e.syncTime(ctx); err != nil {
		return &ConnectivityError{Op: "time sync", Err: err}
	}
	if err := e.loadRules(ctx, e.tradeSymbol); err != nil {
		return &ConnectivityError{Op: "instrument rules", Err: err}
	}
	e.wsOnce.Do(func() { go e.tickerStreamLoop() })
	return nil
}

// syncTime 与服务器同步时间，计算时间偏移。
func (e *BybitExchange) syncTime(ctx context.Context) error {
	data, err := e.doRequest(ctx, "GET", "/v5/market/time", nil, nil, false)
	if err != nil {
		return err
	}
	var result struct {
		TimeSecond string `json:"timeSecond"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	serverSec, err := strconv.ParseInt(result.TimeSecond, 10, 64)
	if err != nil {
		return err
	}
	e.timeOffset = serverSec*1000 - time.Now().UnixMilli()
	e.logger.Info("与Bybit服务器时间同步完成", zap.Int64("timeOffset (ms)", e.timeOffset))
	return nil
}

// loadRules 获取并缓存指定交易对的精度规则。
func (e *BybitExchange) loadRules(ctx context.Context, native string) error {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", native)
	data, err := e.doRequest(ctx, "GET", "/v5/market/instruments-info", params, nil, false)
	if err != nil {
		return err
	}

	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}
	if len(result.List) == 0 {
		return fmt.Errorf("未找到交易对 %s 的规则", native)
	}

	e.mu.Lock()
	e.rules[native] = instrumentRule{
		tickSize: result.List[0].PriceFilter.TickSize,
		qtyStep:  result.List[0].LotSizeFilter.BasePrecision,
	}
	e.mu.Unlock()
	e.logger.Info("成功缓存交易规则",
		zap.String("symbol", native),
		zap.String("tickSize", result.List[0].PriceFilter.TickSize),
		zap.String("qtyStep", result.List[0].LotSizeFilter.BasePrecision))
	return nil
}

// doRequest 是通用的请求处理函数。返回的是信封里的 result 原始JSON。
func (e *BybitExchange) doRequest(ctx context.Context, method, endpoint string, params url.Values, body map[string]interface{}, signed bool) ([]byte, error) {
	fullURL := e.baseURL + endpoint

	var payload string
	var reqBody io.Reader
	if method == http.MethodGet {
		if params != nil {
			payload = params.Encode()
			fullURL = fullURL + "?" + payload
		}
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		payload = string(raw)
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli()+e.timeOffset, 10)
		req.Header.Set("X-BAPI-API-KEY", e.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
		req.Header.Set("X-BAPI-SIGN", e.sign(timestamp+e.apiKey+bybitRecvWindow+payload))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectivityError{Op: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Op: "read " + endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectivityError{
			Op:  method + " " + endpoint,
			Err: fmt.Errorf("状态码 %d: %s", resp.StatusCode, string(raw)),
		}
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if envelope.RetCode != 0 {
		return envelope.Result, &bybitError{Code: envelope.RetCode, Message: envelope.RetMsg}
	}
	return envelope.Result, nil
}

// sign 对请求参数进行签名。
func (e *BybitExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// classify 将Bybit错误映射到核心的错误分类上。
// 10xxx 是认证/请求级错误，整个 tick 重试；其余视为单笔操作被拒。
func classifyBybitErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*bybitError); ok {
		if be.Code >= 10000 && be.Code < 11000 {
			return &ConnectivityError{Op: op, Err: be}
		}
		return &OrderRejectedError{Code: be.Code, Message: be.Message}
	}
	return err
}

// --- Exchange 接口实现 ---

// FetchBalance 获取统一账户余额快照。
func (e *BybitExchange) FetchBalance(ctx context.Context) (models.BalanceSnapshot, error) {
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	data, err := e.doRequest(ctx, "GET", "/v5/account/wallet-balance", params, nil, true)
	if err != nil {
		return models.BalanceSnapshot{}, classifyBybitErr("fetch balance", err)
	}

	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				Locked          string `json:"locked"`
				BorrowAmount    string `json:"borrowAmount"`
				AccruedInterest string `json:"accruedInterest"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return models.BalanceSnapshot{}, fmt.Errorf("解析余额响应失败: %w", err)
	}
	if len(result.List) == 0 {
		return models.BalanceSnapshot{}, &ConnectivityError{Op: "fetch balance", Err: fmt.Errorf("账户列表为空")}
	}

	acct := result.List[0]
	snap := models.BalanceSnapshot{Assets: make(map[string]models.AssetBalance, len(acct.Coin))}
	snap.TotalEquity, _ = strconv.ParseFloat(acct.TotalEquity, 64)
	for _, c := range acct.Coin {
		wallet, _ := strconv.ParseFloat(c.WalletBalance, 64)
		locked, _ := strconv.ParseFloat(c.Locked, 64)
		borrowed, _ := strconv.ParseFloat(c.BorrowAmount, 64)
		interest, _ := strconv.ParseFloat(c.AccruedInterest, 64)
		snap.Assets[c.Coin] = models.AssetBalance{
			Free:     wallet - locked,
			Borrowed: borrowed,
			Interest: interest,
		}
	}
	return snap, nil
}

// FetchTicker 返回买一/卖一。优先使用行情流缓存，过期则回落到REST。
func (e *BybitExchange) FetchTicker(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	native := nativeSymbol(symbol)

	e.mu.RLock()
	cached, ok := e.tickers[native]
	e.mu.RUnlock()
	if ok && time.Since(cached.at) < bybitTickerMaxAge {
		return cached.snap, nil
	}

	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", native)
	data, err := e.doRequest(ctx, "GET", "/v5/market/tickers", params, nil, false)
	if err != nil {
		return models.MarketSnapshot{}, classifyBybitErr("fetch ticker", err)
	}

	var result struct {
		List []struct {
			Bid string `json:"bid1Price"`
			Ask string `json:"ask1Price"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("解析行情响应失败: %w", err)
	}
	if len(result.List) == 0 {
		return models.MarketSnapshot{}, &ConnectivityError{Op: "fetch ticker", Err: fmt.Errorf("未返回 %s 的行情", native)}
	}

	var snap models.MarketSnapshot
	snap.Bid, _ = strconv.ParseFloat(result.List[0].Bid, 64)
	snap.Ask, _ = strconv.ParseFloat(result.List[0].Ask, 64)
	e.storeTicker(native, snap)
	return snap, nil
}

// FetchOpenOrders 获取当前挂单。
func (e *BybitExchange) FetchOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error) {
	params := url.Values{}
	params.Set("category", "spot")
	params.Set("symbol", nativeSymbol(symbol))
	data, err := e.doRequest(ctx, "GET", "/v5/order/realtime", params, nil, true)
	if err != nil {
		return nil, classifyBybitErr("fetch open orders", err)
	}

	var result struct {
		List []struct {
			OrderID string `json:"orderId"`
			Side    string `json:"side"` // "Buy" / "Sell"
			Price   string `json:"price"`
			Qty     string `json:"qty"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析挂单响应失败: %w", err)
	}

	orders := make([]models.OpenOrder, 0, len(result.List))
	for _, o := range result.List {
		side := models.Buy
		if strings.EqualFold(o.Side, "Sell") {
			side = models.Sell
		}
		price, _ := strconv.ParseFloat(o.Price, 64)
		amount, _ := strconv.ParseFloat(o.Qty, 64)
		orders = append(orders, models.OpenOrder{ID: o.OrderID, Side: side, Price: price, Amount: amount})
	}
	return orders, nil
}

// CreateLimitOrder 下限价单。保证金模式下带 isLeverage 参数（统一账户杠杆现货）。
func (e *BybitExchange) CreateLimitOrder(ctx context.Context, symbol string, side models.Side, amount, price float64) (models.OpenOrder, error) {
	native := nativeSymbol(symbol)
	rule := e.rule(native)

	body := map[string]interface{}{
		"category":    "spot",
		"symbol":      native,
		"side":        bybitSide(side),
		"orderType":   "Limit",
		"qty":         formatByStep(amount, rule.qtyStep),
		"price":       formatByStep(price, rule.tickSize),
		"timeInForce": "GTC",
		"orderLinkId": newClientOrderID(side),
	}
	if e.marginMode {
		body["isLeverage"] = 1
	}

	data, err := e.doRequest(ctx, "POST", "/v5/order/create", nil, body, true)
	if err != nil {
		return models.OpenOrder{}, classifyBybitErr("create order", err)
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return models.OpenOrder{}, fmt.Errorf("解析下单响应失败: %w", err)
	}
	return models.OpenOrder{
		ID:     result.OrderID,
		Side:   side,
		Price:  adjustValueToStep(price, rule.tickSize),
		Amount: adjustValueToStep(amount, rule.qtyStep),
	}, nil
}

// CreateMarketBuyOrder 市价买入，数量以基础币计（marketUnit=baseCoin）。
// 用于手续费资产的补仓。
func (e *BybitExchange) CreateMarketBuyOrder(ctx context.Context, symbol string, amount float64) error {
	native := nativeSymbol(symbol)
	if err := e.ensureRules(ctx, native); err != nil {
		return err
	}
	body := map[string]interface{}{
		"category":   "spot",
		"symbol":     native,
		"side":       "Buy",
		"orderType":  "Market",
		"qty":        formatByStep(amount, e.rule(native).qtyStep),
		"marketUnit": "baseCoin",
	}
	if e.marginMode {
		body["isLeverage"] = 1
	}
	_, err := e.doRequest(ctx, "POST", "/v5/order/create", nil, body, true)
	return classifyBybitErr("market buy", err)
}

// CancelOrder 取消订单。订单已不存在视为成功的一种。
func (e *BybitExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{
		"category": "spot",
		"symbol":   nativeSymbol(symbol),
		"orderId":  orderID,
	}
	_, err := e.doRequest(ctx, "POST", "/v5/order/cancel", nil, body, true)
	if be, ok := err.(*bybitError); ok && be.Code == bybitOrderNotExists {
		return ErrOrderNotFound
	}
	return classifyBybitErr("cancel order", err)
}

// CancelAllOrders 撤掉该交易对的全部挂单。
func (e *BybitExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	body := map[string]interface{}{
		"category": "spot",
		"symbol":   nativeSymbol(symbol),
	}
	_, err := e.doRequest(ctx, "POST", "/v5/order/cancel-all", nil, body, true)
	return classifyBybitErr("cancel all", err)
}

// BorrowMargin 全仓借币。
func (e *BybitExchange) BorrowMargin(ctx context.Context, asset string, amount float64) error {
	body := map[string]interface{}{
		"coin": asset,
		"qty":  strconv.FormatFloat(amount, 'f', -1, 64),
	}
	_, err := e.doRequest(ctx, "POST", "/v5/spot-cross-margin-trade/loan", nil, body, true)
	return classifyBybitErr("borrow "+asset, err)
}

// RepayMargin 归还借币（本金或利息，交易所侧先冲抵利息）。
func (e *BybitExchange) RepayMargin(ctx context.Context, asset string, amount float64) error {
	body := map[string]interface{}{
		"coin": asset,
		"qty":  strconv.FormatFloat(amount, 'f', -1, 64),
	}
	_, err := e.doRequest(ctx, "POST", "/v5/spot-cross-margin-trade/repay", nil, body, true)
	return classifyBybitErr("repay "+asset, err)
}

// ToPricePrecision 将价格对齐到交易对的tickSize。
func (e *BybitExchange) ToPricePrecision(symbol string, price float64) float64 {
	return adjustValueToStep(price, e.rule(nativeSymbol(symbol)).tickSize)
}

// ToAmountPrecision 将数量对齐到交易对的数量步长。
func (e *BybitExchange) ToAmountPrecision(symbol string, amount float64) float64 {
	return adjustValueToStep(amount, e.rule(nativeSymbol(symbol)).qtyStep)
}

// Close 停止行情流。
func (e *BybitExchange) Close() error {
	close(e.wsStop)
	return nil
}

func (e *BybitExchange) rule(native string) instrumentRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules[native]
}

func (e *BybitExchange) ensureRules(ctx context.Context, native string) error {
	e.mu.RLock()
	_, ok := e.rules[native]
	e.mu.RUnlock()
	if ok {
		return nil
	}
	return e.loadRules(ctx, native)
}

func (e *BybitExchange) storeTicker(native string, snap models.MarketSnapshot) {
	e.mu.Lock()
	e.tickers[native] = tickerCache{snap: snap, at: time.Now()}
	e.mu.Unlock()
}

// --- 行情 WebSocket ---

// tickerStreamLoop 是一个守护进程，负责维持行情流的连接和重连。
func (e *BybitExchange) tickerStreamLoop() {
	for {
		select {
		case <-e.wsStop:
			e.logger.Info("行情流已停止")
			return
		default:
			conn, _, err := websocket.DefaultDialer.Dial(e.wsBaseURL, nil)
			if err != nil {
				e.logger.Warn("行情流连接失败，5秒后重试", zap.Error(err))
				time.Sleep(5 * time.Second)
				continue
			}
			if err := e.streamTickers(conn); err != nil {
				e.logger.Warn("行情流中断，准备重连", zap.Error(err))
			}
			conn.Close()
			time.Sleep(5 * time.Second)
		}
	}
}

// streamTickers 为一个已建立的连接处理消息，并实现心跳机制。
func (e *BybitExchange) streamTickers(conn *websocket.Conn) error {
	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"tickers." + e.tradeSymbol},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("订阅行情失败: %w", err)
	}

	const pongWait = 60 * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))

	// Bybit v5 的心跳是应用层的 {"op":"ping"}
	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()
	pingStop := make(chan struct{})
	defer close(pingStop)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					return
				}
			case <-pingStop:
				return
			case <-e.wsStop:
				return
			}
		}
	}()

	for {
		select {
		case <-e.wsStop:
			return conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("读取行情消息失败: %w", err)
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))

			var msg struct {
				Topic string `json:"topic"`
				Data  struct {
					Bid json.Number `json:"bid1Price"`
					Ask json.Number `json:"ask1Price"`
				} `json:"data"`
			}
			if err := json.Unmarshal(message, &msg); err != nil || msg.Topic == "" {
				continue // pong或订阅回执
			}

			bid, errB := msg.Data.Bid.Float64()
			ask, errA := msg.Data.Ask.Float64()
			if errB != nil || errA != nil || bid <= 0 || ask <= 0 {
				continue // 快照缺边时等下一条
			}
			e.storeTicker(e.tradeSymbol, models.MarketSnapshot{Bid: bid, Ask: ask})
		}
	}
}

func bybitSide(side models.Side) string {
	if side == models.Sell {
		return "Sell"
	}
	return "Buy"
}

// nativeSymbol 将 "PEPE/USDT" 转成 "PEPEUSDT"。
func nativeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}
