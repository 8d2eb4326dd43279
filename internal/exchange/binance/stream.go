package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/observability"
	"github.com/petreltrade/petrel/internal/schema"
)

const listenKeyKeepAlive = 15 * time.Minute

// StreamOrderUpdates implements exchange.StreamingClient. The stream survives
// listen key expiry and transport drops by reconnecting with exponential
// backoff; the channel closes only when ctx is cancelled.
func (c *Client) StreamOrderUpdates(ctx context.Context) (<-chan schema.ProviderState, error) {
	// Fail fast when credentials cannot open a listen key at all.
	listenKey, err := c.createListenKey(ctx)
	if err != nil {
		return nil, err
	}
	updates := make(chan schema.ProviderState, 16)
	go c.runUserDataStream(ctx, listenKey, updates)
	return updates, nil
}

func (c *Client) runUserDataStream(ctx context.Context, listenKey string, updates chan<- schema.ProviderState) {
	defer close(updates)
	backoffCfg := backoff.NewExponentialBackOff()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if listenKey == "" {
			key, err := c.createListenKey(ctx)
			if err != nil {
				observability.Log().Error("binance listen key",
					observability.F("error", err.Error()))
				if !sleepCtx(ctx, backoffCfg.NextBackOff()) {
					return
				}
				continue
			}
			listenKey = key
		}
		backoffCfg.Reset()
		err := c.consumeUserDataStream(ctx, listenKey, updates)
		if errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			observability.Log().Error("binance user stream",
				observability.F("error", err.Error()))
		}
		listenKey = ""
		if !sleepCtx(ctx, backoffCfg.NextBackOff()) {
			return
		}
	}
}

func (c *Client) consumeUserDataStream(ctx context.Context, listenKey string, updates chan<- schema.ProviderState) error {
	url := strings.TrimSuffix(c.wsURL, "/") + "/" + strings.TrimSpace(listenKey)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial user stream: %w", err)
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}()

	keepCtx, keepCancel := context.WithCancel(ctx)
	defer keepCancel()
	ticker := time.NewTicker(listenKeyKeepAlive)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-keepCtx.Done():
				return
			case <-ticker.C:
				if err := c.keepAliveListenKey(keepCtx, listenKey); err != nil {
					observability.Log().Error("binance listen key keepalive",
						observability.F("error", err.Error()))
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			return fmt.Errorf("read user stream: %w", err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		state, ok := parseOrderUpdate(data)
		if !ok {
			continue
		}
		select {
		case <-ctx.Done():
			return context.Canceled
		case updates <- state:
		}
	}
}

type orderTradeUpdateEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol        string `json:"s"`
		ClientOrderID string `json:"c"`
		Status        string `json:"X"`
		OrderID       int64  `json:"i"`
		FilledQty     string `json:"z"`
		AvgPrice      string `json:"ap"`
		TradeTime     int64  `json:"T"`
	} `json:"o"`
}

// parseOrderUpdate extracts a ProviderState from an ORDER_TRADE_UPDATE event.
// Other user-data events are ignored.
func parseOrderUpdate(data []byte) (schema.ProviderState, bool) {
	var event orderTradeUpdateEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return schema.ProviderState{}, false
	}
	if !strings.EqualFold(event.EventType, "ORDER_TRADE_UPDATE") {
		return schema.ProviderState{}, false
	}
	state := schema.ProviderState{
		Status:    schema.ParseProviderStatus(event.Order.Status),
		ClientRef: event.Order.ClientOrderID,
	}
	if event.Order.OrderID > 0 {
		state.ExchangeOrderID = strconv.FormatInt(event.Order.OrderID, 10)
	}
	state.ExecutedQty = parseDecimal(event.Order.FilledQty)
	state.AvgPrice = parseDecimal(event.Order.AvgPrice)
	switch {
	case event.Order.TradeTime > 0:
		state.UpdatedAt = time.UnixMilli(event.Order.TradeTime).UTC()
	case event.EventTime > 0:
		state.UpdatedAt = time.UnixMilli(event.EventTime).UTC()
	}
	return state, true
}

// Listen key endpoints authenticate with the API key header only; no
// signature is involved.
func (c *Client) createListenKey(ctx context.Context) (string, error) {
	body, err := c.doKeyed(ctx, http.MethodPost, listenKeyPath)
	if err != nil {
		return "", err
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errs.New(errs.KindProvider,
			errs.WithMessage("decode listen key response"), errs.WithCause(err))
	}
	if strings.TrimSpace(resp.ListenKey) == "" {
		return "", errs.New(errs.KindProvider, errs.WithMessage("listen key missing from response"))
	}
	return resp.ListenKey, nil
}

func (c *Client) keepAliveListenKey(ctx context.Context, listenKey string) error {
	_ = listenKey // futures keepalive refreshes the account's active key
	_, err := c.doKeyed(ctx, http.MethodPut, listenKeyPath)
	return err
}

func (c *Client) doKeyed(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, errs.New(errs.KindInternal, errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey())
	return c.execute(req, path)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
