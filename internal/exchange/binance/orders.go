package binance

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/exchange"
	"github.com/petreltrade/petrel/internal/schema"
)

type orderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	UpdateTime    int64  `json:"updateTime"`
}

// PlaceOrder implements exchange.Client. The client reference travels as
// newClientOrderId, so resubmitting the same intent after an ambiguous outcome
// is rejected by the venue instead of duplicating the order.
func (c *Client) PlaceOrder(ctx context.Context, intent exchange.OrderIntent) (schema.ProviderState, error) {
	req := intent.Request
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	if req.Type == schema.OrderTypeLimit {
		params.Set("price", req.LimitPrice.String())
		params.Set("timeInForce", "GTC")
	}
	if intent.ClientRef != "" {
		params.Set("newClientOrderId", intent.ClientRef)
	}
	params.Set("newOrderRespType", "RESULT")

	body, err := c.doSigned(ctx, http.MethodPost, orderPath, params)
	if err != nil {
		return schema.ProviderState{}, err
	}
	return c.parseOrderResponse(body)
}

// QueryOrder implements exchange.Client. ExchangeOrderID wins when both
// identifiers are present.
func (c *Client) QueryOrder(ctx context.Context, query exchange.OrderQuery) (schema.ProviderState, error) {
	params, err := orderQueryParams(query)
	if err != nil {
		return schema.ProviderState{}, err
	}
	body, err := c.doSigned(ctx, http.MethodGet, orderPath, params)
	if err != nil {
		return schema.ProviderState{}, err
	}
	return c.parseOrderResponse(body)
}

// CancelOrder implements exchange.Client.
func (c *Client) CancelOrder(ctx context.Context, query exchange.OrderQuery) (schema.ProviderState, error) {
	params, err := orderQueryParams(query)
	if err != nil {
		return schema.ProviderState{}, err
	}
	body, err := c.doSigned(ctx, http.MethodDelete, orderPath, params)
	if err != nil {
		return schema.ProviderState{}, err
	}
	return c.parseOrderResponse(body)
}

func orderQueryParams(query exchange.OrderQuery) (url.Values, error) {
	if query.Symbol == "" {
		return nil, errs.New(errs.KindValidation, errs.WithField("symbol"),
			errs.WithMessage("symbol is required"))
	}
	params := url.Values{}
	params.Set("symbol", query.Symbol)
	switch {
	case query.ExchangeOrderID != "":
		params.Set("orderId", query.ExchangeOrderID)
	case query.ClientRef != "":
		params.Set("origClientOrderId", query.ClientRef)
	default:
		return nil, errs.New(errs.KindValidation, errs.WithField("orderId"),
			errs.WithMessage("either an exchange order id or a client reference is required"))
	}
	return params, nil
}

func (c *Client) parseOrderResponse(body []byte) (schema.ProviderState, error) {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return schema.ProviderState{}, errs.New(errs.KindProvider,
			errs.WithMessage("decode order response"), errs.WithCause(err))
	}
	state := schema.ProviderState{
		Status:    schema.ParseProviderStatus(resp.Status),
		ClientRef: resp.ClientOrderID,
	}
	if resp.OrderID > 0 {
		state.ExchangeOrderID = strconv.FormatInt(resp.OrderID, 10)
	}
	state.ExecutedQty = parseDecimal(resp.ExecutedQty)
	state.AvgPrice = parseDecimal(resp.AvgPrice)
	if resp.UpdateTime > 0 {
		state.UpdatedAt = time.UnixMilli(resp.UpdateTime).UTC()
	} else {
		state.UpdatedAt = c.clock().UTC()
	}
	return state, nil
}

func parseDecimal(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}
