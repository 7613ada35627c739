// exchange/client.go
package exchange

import (
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
	"sync"
	"time"

	"mmfr_bot/logs"
)

// Ensure APIClient implements the Client interface.
var _ Client = (*APIClient)(nil)

// APIClient talks to the Binance USDT-M futures REST API.
type APIClient struct {
	ApiKey       string
	ApiSecret    string
	BaseURL      string
	Http         *http.Client
	timeOffset   int64 // server time minus local time, milliseconds
	recvWindow   int64
	filtersCache map[string]SymbolFilters
	filtersMutex sync.RWMutex
	mu           sync.Mutex // serializes signed requests
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// NewAPIClient creates a new API client instance.
func NewAPIClient(apiKey, apiSecret, baseURL string, timeoutSeconds, recvWindowSeconds int) *APIClient {
	return &APIClient{
		ApiKey:       apiKey,
		ApiSecret:    apiSecret,
		BaseURL:      baseURL,
		Http:         &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		recvWindow:   int64(recvWindowSeconds * 1000),
		filtersCache: make(map[string]SymbolFilters),
	}
}

// SyncTime synchronizes time with the server and refreshes the trading-filter
// cache. Must run before the first signed request.
func (c *APIClient) SyncTime() error {
	resp, err := c.Http.Get(c.BaseURL + "/fapi/v1/time")
	if err != nil {
		return fmt.Errorf("unable to get server time: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read time response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server time API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	var timeResp serverTimeResponse
	if err := json.Unmarshal(body, &timeResp); err != nil {
		return fmt.Errorf("failed to parse server time JSON: %w, body: %s", err, string(body))
	}

	c.timeOffset = timeResp.ServerTime - time.Now().UnixMilli()
	logs.Infof("[API Client] Time sync complete, local vs server offset: %d ms", c.timeOffset)

	if err := c.fetchExchangeFilters(); err != nil {
		// Non-fatal: public endpoints still work without the filter cache.
		logs.Warnf("[API Client] Failed to refresh trading filters: %v", err)
	}
	return nil
}

// sendRequest signs and sends a request, decoding the response into target.
func (c *APIClient) sendRequest(ctx context.Context, method, endpoint string, params url.Values, target interface{}) error {
	// One signed request at a time per client instance; the recvWindow math
	// depends on timeOffset not changing mid-flight.
	c.mu.Lock()
	defer c.mu.Unlock()

	timestamp := time.Now().UnixMilli() + c.timeOffset
	params.Set("timestamp", strconv.FormatInt(timestamp, 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))

	// All parameters live in the query string and the signature covers
	// exactly that string.
	queryString := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.ApiSecret))
	_, _ = mac.Write([]byte(queryString))
	signature := hex.EncodeToString(mac.Sum(nil))

	fullURL := fmt.Sprintf("%s%s?%s&signature=%s", c.BaseURL, endpoint, queryString, signature)

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if method == http.MethodPost || method == http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-MBX-APIKEY", c.ApiKey)

	resp, err := c.Http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp binanceError
		if json.Unmarshal(body, &errResp) == nil {
			return fmt.Errorf("API error: %s (code: %d)", errResp.Msg, errResp.Code)
		}
		return fmt.Errorf("API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}

	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to decode JSON: %w, body: %s", err, string(body))
		}
	}
	return nil
}

// getPublic performs an unsigned GET against a public endpoint.
func (c *APIClient) getPublic(ctx context.Context, endpoint string, params url.Values, target interface{}) error {
	fullURL := c.BaseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.Http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error: HTTP %d, body: %s", resp.StatusCode, string(body))
	}
	if target != nil {
		if err := json.Unmarshal(body, target); err != nil {
			return fmt.Errorf("failed to decode JSON: %w, body: %s", err, string(body))
		}
	}
	return nil
}

// SetLeverage configures leverage for the symbol.
func (c *APIClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.sendRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, nil)
}

// GetBalance returns the total wallet balance.
func (c *APIClient) GetBalance(ctx context.Context) (float64, error) {
	var account struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
	}
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v2/account", url.Values{}, &account); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(account.TotalWalletBalance, 64)
}

// GetKlines returns the most recent one-minute candles, oldest first.
func (c *APIClient) GetKlines(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "1m")
	params.Set("limit", strconv.Itoa(limit))

	// Binance encodes klines as positional arrays.
	var raw [][]interface{}
	if err := c.getPublic(ctx, "/fapi/v1/klines", params, &raw); err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 5 {
			continue
		}
		high, _ := strconv.ParseFloat(fmt.Sprint(k[2]), 64)
		low, _ := strconv.ParseFloat(fmt.Sprint(k[3]), 64)
		closePrice, _ := strconv.ParseFloat(fmt.Sprint(k[4]), 64)
		candles = append(candles, Candle{High: high, Low: low, Close: closePrice})
	}
	return candles, nil
}

// GetOpenInterest returns the current open interest for the symbol.
func (c *APIClient) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var data struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := c.getPublic(ctx, "/fapi/v1/openInterest", params, &data); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(data.OpenInterest, 64)
}

// PlaceOrder submits a new order to the exchange.
func (c *APIClient) PlaceOrder(ctx context.Context, order *Order) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", string(order.Type))
	if order.ClientOrderID != "" {
		params.Set("newClientOrderId", order.ClientOrderID)
	}

	switch order.Type {
	case Market:
		params.Set("quantity", order.OrigQty)
		// Ask for the final state in the response so the fill price is
		// available without a follow-up query.
		params.Set("newOrderRespType", "RESULT")
	case StopMarket, TakeProfitMarket:
		params.Set("stopPrice", order.StopPrice)
		if order.ClosePosition {
			params.Set("closePosition", "true")
		} else {
			params.Set("quantity", order.OrigQty)
			if order.ReduceOnly {
				params.Set("reduceOnly", "true")
			}
		}
		params.Set("workingType", "MARK_PRICE")
		params.Set("priceProtect", "true")
	}

	var newOrder Order
	if err := c.sendRequest(ctx, http.MethodPost, "/fapi/v1/order", params, &newOrder); err != nil {
		return nil, err
	}
	return &newOrder, nil
}

type positionRisk struct {
	Symbol      string `json:"symbol"`
	PositionAmt string `json:"positionAmt"`
}

// GetPositionAmt returns the signed position amount for the symbol.
func (c *APIClient) GetPositionAmt(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var risks []positionRisk
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &risks); err != nil {
		return 0, err
	}
	for _, p := range risks {
		if p.Symbol == symbol {
			return strconv.ParseFloat(p.PositionAmt, 64)
		}
	}
	return 0, nil
}

type userTrade struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	RealizedPnl string `json:"realizedPnl"`
	Time        int64  `json:"time"`
}

// GetRecentTrades returns the latest account trades for the symbol.
func (c *APIClient) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]AccountTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	var raw []userTrade
	if err := c.sendRequest(ctx, http.MethodGet, "/fapi/v1/userTrades", params, &raw); err != nil {
		return nil, err
	}

	trades := make([]AccountTrade, 0, len(raw))
	for _, t := range raw {
		qty, _ := strconv.ParseFloat(t.Qty, 64)
		pnl, _ := strconv.ParseFloat(t.RealizedPnl, 64)
		trades = append(trades, AccountTrade{
			Symbol:      t.Symbol,
			Qty:         qty,
			RealizedPnl: pnl,
			Time:        time.UnixMilli(t.Time),
		})
	}
	return trades, nil
}

// CancelAllOpenOrders cancels all open orders for the symbol.
func (c *APIClient) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	return c.sendRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params, nil)
}

// GetSymbolFilters returns the cached lot-size step and price tick.
func (c *APIClient) GetSymbolFilters(symbol string) (SymbolFilters, bool) {
	c.filtersMutex.RLock()
	defer c.filtersMutex.RUnlock()
	f, ok := c.filtersCache[symbol]
	return f, ok
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// fetchExchangeFilters retrieves and caches the trading filters we care about.
func (c *APIClient) fetchExchangeFilters() error {
	var info exchangeInfo
	if err := c.getPublic(context.Background(), "/fapi/v1/exchangeInfo", url.Values{}, &info); err != nil {
		return fmt.Errorf("unable to get exchange info: %w", err)
	}

	c.filtersMutex.Lock()
	defer c.filtersMutex.Unlock()
	for _, s := range info.Symbols {
		filters := SymbolFilters{Symbol: s.Symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				filters.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			case "PRICE_FILTER":
				filters.TickSize, _ = strconv.ParseFloat(f.TickSize, 64)
			}
		}
		c.filtersCache[s.Symbol] = filters
	}
	logs.Infof("[API Client] Trading filter cache updated, %d symbols cached.", len(c.filtersCache))
	return nil
}
