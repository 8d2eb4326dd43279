package binance

import (
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/exchange"
	"github.com/petreltrade/petrel/internal/observability"
	"github.com/petreltrade/petrel/internal/schema"
)

// Ping implements exchange.Client. The returned offset is venue time minus
// local time at the moment the response arrived.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	body, err := c.doPublic(ctx, serverTimePath, nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, errs.New(errs.KindProvider,
			errs.WithMessage("decode server time"), errs.WithCause(err))
	}
	if resp.ServerTime <= 0 {
		return 0, errs.New(errs.KindProvider, errs.WithMessage("server time missing from response"))
	}
	return time.UnixMilli(resp.ServerTime).Sub(c.clock().UTC()), nil
}

// Account implements exchange.Client via the signed account endpoint. The
// venue reports canTrade=false for read-only keys, which callers translate
// into the absence of the trade scope.
func (c *Client) Account(ctx context.Context) (exchange.AccountInfo, error) {
	body, err := c.doSigned(ctx, http.MethodGet, accountPath, nil)
	if err != nil {
		return exchange.AccountInfo{}, err
	}
	var resp struct {
		CanTrade   bool  `json:"canTrade"`
		UpdateTime int64 `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return exchange.AccountInfo{}, errs.New(errs.KindProvider,
			errs.WithMessage("decode account response"), errs.WithCause(err))
	}
	info := exchange.AccountInfo{CanTrade: resp.CanTrade, UpdatedAt: c.clock().UTC()}
	if resp.UpdateTime > 0 {
		info.UpdatedAt = time.UnixMilli(resp.UpdateTime).UTC()
	}
	return info, nil
}

// QueryBalances implements exchange.Client. One signed round trip returns
// every asset; assets the venue omits simply have no entry.
func (c *Client) QueryBalances(ctx context.Context) ([]schema.BalanceSnapshot, error) {
	body, err := c.doSigned(ctx, http.MethodGet, balancePath, nil)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
		UpdateTime       int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.New(errs.KindProvider,
			errs.WithMessage("decode balance response"), errs.WithCause(err))
	}
	now := c.clock().UTC()
	out := make([]schema.BalanceSnapshot, 0, len(resp))
	for _, entry := range resp {
		if entry.Asset == "" {
			continue
		}
		snapshot := schema.BalanceSnapshot{
			Asset:     entry.Asset,
			Available: parseDecimal(entry.AvailableBalance),
			Total:     parseDecimal(entry.Balance),
			Timestamp: now,
		}
		if entry.UpdateTime > 0 {
			snapshot.Timestamp = time.UnixMilli(entry.UpdateTime).UTC()
		}
		out = append(out, snapshot)
	}
	return out, nil
}

// LoadFilters implements exchange.Client by caching LOT_SIZE, PRICE_FILTER,
// and MIN_NOTIONAL constraints from exchangeInfo.
func (c *Client) LoadFilters(ctx context.Context) error {
	body, err := c.doPublic(ctx, exchangeInfoPath, nil)
	if err != nil {
		return err
	}
	var resp struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				MinQty     string `json:"minQty"`
				StepSize   string `json:"stepSize"`
				TickSize   string `json:"tickSize"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return errs.New(errs.KindProvider,
			errs.WithMessage("decode exchange info"), errs.WithCause(err))
	}
	loaded := make(map[string]schema.SymbolFilters, len(resp.Symbols))
	for _, sym := range resp.Symbols {
		if sym.Symbol == "" {
			continue
		}
		filters := schema.SymbolFilters{Symbol: sym.Symbol}
		for _, f := range sym.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				filters.MinQuantity = parseDecimal(f.MinQty)
				filters.QuantityStep = parseDecimal(f.StepSize)
			case "PRICE_FILTER":
				filters.PriceTick = parseDecimal(f.TickSize)
			case "MIN_NOTIONAL":
				filters.MinNotional = parseDecimal(f.Notional)
			}
		}
		loaded[sym.Symbol] = filters
	}
	c.filtersMu.Lock()
	c.filters = loaded
	c.filtersMu.Unlock()
	observability.Log().Debug("symbol filters loaded",
		observability.F("symbols", len(loaded)))
	return nil
}

// Filters implements exchange.Client. Purely local.
func (c *Client) Filters(symbol string) (schema.SymbolFilters, bool) {
	c.filtersMu.RLock()
	defer c.filtersMu.RUnlock()
	filters, ok := c.filters[symbol]
	return filters, ok
}
