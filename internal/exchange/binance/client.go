// Package binance implements the exchange.Client contract against the Binance
// USD-M futures REST and user-data stream APIs.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/petreltrade/petrel/errs"
	"github.com/petreltrade/petrel/internal/credential"
	"github.com/petreltrade/petrel/internal/observability"
	"github.com/petreltrade/petrel/internal/schema"
)

const (
	testnetBaseURL    = "https://testnet.binancefuture.com"
	productionBaseURL = "https://fapi.binance.com"

	testnetStreamURL    = "wss://stream.binancefuture.com/ws"
	productionStreamURL = "wss://fstream.binance.com/ws"

	serverTimePath   = "/fapi/v1/time"
	exchangeInfoPath = "/fapi/v1/exchangeInfo"
	orderPath        = "/fapi/v1/order"
	accountPath      = "/fapi/v2/account"
	balancePath      = "/fapi/v2/balance"
	listenKeyPath    = "/fapi/v1/listenKey"

	defaultRecvWindow  = 5 * time.Second
	defaultHTTPTimeout = 10 * time.Second
	defaultRequestRate = 8 // requests per second, well under venue limits
)

// Options configures the futures client. Credentials are required; everything
// else has environment-appropriate defaults.
type Options struct {
	Credentials *credential.Store
	// BaseURL overrides the REST endpoint, used by tests.
	BaseURL string
	// StreamURL overrides the user-data websocket endpoint.
	StreamURL string
	// RecvWindow bounds how stale a signed request may be on arrival.
	RecvWindow time.Duration
	// HTTPClient overrides the transport.
	HTTPClient *http.Client
	// Clock overrides time.Now, used by tests for deterministic signing.
	Clock func() time.Time
	// RequestsPerSecond caps outbound REST calls.
	RequestsPerSecond float64
}

func (o Options) recvWindow() time.Duration {
	if o.RecvWindow > 0 {
		return o.RecvWindow
	}
	return defaultRecvWindow
}

// Client talks to Binance USD-M futures. Safe for concurrent use.
type Client struct {
	creds   *credential.Store
	baseURL string
	wsURL   string
	recvWin time.Duration
	http    *http.Client
	clock   func() time.Time
	limiter *rate.Limiter

	filtersMu sync.RWMutex
	filters   map[string]schema.SymbolFilters
}

// New builds a futures client for the credential's environment.
func New(opts Options) (*Client, error) {
	if opts.Credentials == nil {
		return nil, errs.New(errs.KindValidation, errs.WithField("credentials"),
			errs.WithMessage("credentials are required"))
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	wsURL := strings.TrimSpace(opts.StreamURL)
	switch opts.Credentials.Environment() {
	case schema.EnvProduction:
		if base == "" {
			base = productionBaseURL
		}
		if wsURL == "" {
			wsURL = productionStreamURL
		}
	default:
		if base == "" {
			base = testnetBaseURL
		}
		if wsURL == "" {
			wsURL = testnetStreamURL
		}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestRate
	}
	return &Client{
		creds:   opts.Credentials,
		baseURL: base,
		wsURL:   wsURL,
		recvWin: opts.recvWindow(),
		http:    httpClient,
		clock:   clock,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		filters: make(map[string]schema.SymbolFilters),
	}, nil
}

// Name implements exchange.Client.
func (c *Client) Name() string { return "binance-futures" }

// Environment implements exchange.Client.
func (c *Client) Environment() schema.Environment { return c.creds.Environment() }

func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// signParams appends timestamp, recvWindow, and the HMAC signature. The
// signature covers the encoded form of everything before it.
func (c *Client) signParams(params url.Values) string {
	if c.recvWin > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.recvWin.Milliseconds(), 10))
	}
	params.Set("timestamp", strconv.FormatInt(c.clock().UTC().UnixMilli(), 10))
	payload := params.Encode()
	return payload + "&signature=" + signPayload(payload, c.creds.APISecret())
}

// doPublic issues an unauthenticated GET and returns the response body.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errs.New(errs.KindInternal, errs.WithMessage("build request"), errs.WithCause(err))
	}
	return c.execute(req, path)
}

// doSigned issues an authenticated request. GET and DELETE carry the signed
// payload in the query string; POST and PUT carry it form-encoded in the body.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	signed := c.signParams(params)

	var req *http.Request
	var err error
	switch method {
	case http.MethodPost, http.MethodPut:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(signed))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+signed, nil)
	}
	if err != nil {
		return nil, errs.New(errs.KindInternal, errs.WithMessage("build request"), errs.WithCause(err))
	}
	req.Header.Set("X-MBX-APIKEY", c.creds.APIKey())
	return c.execute(req, path)
}

func (c *Client) execute(req *http.Request, path string) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, errs.New(errs.KindConnection, errs.WithMessage("request throttled"), errs.WithCause(err))
	}
	started := c.clock()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindConnection,
			errs.WithMessage("binance unreachable"), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindConnection,
			errs.WithMessage("read binance response"), errs.WithCause(err))
	}
	observability.Log().Debug("binance request",
		observability.F("path", path),
		observability.F("status", resp.StatusCode),
		observability.F("elapsed", c.clock().Sub(started).String()),
	)
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, classifyHTTPError(resp.StatusCode, body)
	}
	return body, nil
}
