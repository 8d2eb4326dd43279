// Command petrel drives one session operation against Binance USD-M futures:
// connectivity checks, order placement, reconciliation, cancellation, balance
// queries, and a watch mode that follows an order to a terminal state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/petreltrade/petrel/config"
	"github.com/petreltrade/petrel/internal/audit"
	auditpg "github.com/petreltrade/petrel/internal/audit/postgres"
	"github.com/petreltrade/petrel/internal/balance"
	"github.com/petreltrade/petrel/internal/credential"
	"github.com/petreltrade/petrel/internal/exchange"
	"github.com/petreltrade/petrel/internal/exchange/binance"
	"github.com/petreltrade/petrel/internal/exchange/fake"
	"github.com/petreltrade/petrel/internal/lifecycle"
	"github.com/petreltrade/petrel/internal/observability"
	"github.com/petreltrade/petrel/internal/schema"
	"github.com/petreltrade/petrel/internal/session"
	"github.com/petreltrade/petrel/internal/telemetry"
)

const usageText = `usage: petrel [flags] <command>

commands:
  ping      check venue connectivity and report the server time offset
  place     submit an order (-symbol -side -type -quantity [-price])
  status    refresh an order (-symbol and -order-id or -client-ref)
  cancel    cancel an order (-symbol and -order-id or -client-ref)
  balance   query asset balances (-asset, comma separated)
  watch     place an order and follow it to a terminal state
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "petrel:", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	paper      bool
	debug      bool

	symbol    string
	side      string
	orderType string
	quantity  string
	price     string
	orderID   string
	clientRef string
	asset     string
}

func run() error {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", os.Getenv("PETREL_CONFIG"), "path to petrel.yaml (optional)")
	flag.BoolVar(&f.paper, "paper", false, "run against the in-memory fake exchange")
	flag.BoolVar(&f.debug, "debug", false, "enable debug logging")
	flag.StringVar(&f.symbol, "symbol", "", "instrument symbol, e.g. BTCUSDT")
	flag.StringVar(&f.side, "side", "", "BUY or SELL")
	flag.StringVar(&f.orderType, "type", "MARKET", "MARKET or LIMIT")
	flag.StringVar(&f.quantity, "quantity", "", "order quantity (decimal)")
	flag.StringVar(&f.price, "price", "", "limit price (decimal, limit orders only)")
	flag.StringVar(&f.orderID, "order-id", "", "venue order id")
	flag.StringVar(&f.clientRef, "client-ref", "", "client order reference")
	flag.StringVar(&f.asset, "asset", "USDT", "asset symbols, comma separated")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return errors.New("exactly one command is required")
	}
	command := flag.Arg(0)

	logger := log.New(os.Stderr, "petrel ", log.LstdFlags)
	observability.SetLogger(observability.NewStdLogger(logger, f.debug))

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	sink, closeSink, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	client, err := buildClient(cfg, f.paper)
	if err != nil {
		return err
	}

	mgr := session.NewManager(client, sink)
	mgr.AllowProduction = cfg.AllowProduction

	if command == "ping" {
		offset, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("venue %s reachable, server time offset %v\n", client.Name(), offset)
		return nil
	}

	creds, err := credentials(cfg, f.paper)
	if err != nil {
		return err
	}
	sess, err := mgr.Activate(ctx, creds)
	if err != nil {
		return err
	}
	defer sess.Deactivate(context.Background())

	controller := lifecycle.NewController(lifecycle.Options{Sink: sink})

	switch command {
	case "place":
		return runPlace(ctx, &f, controller, sess)
	case "status":
		return runStatus(ctx, &f, controller, sess)
	case "cancel":
		return runCancel(ctx, &f, controller, sess)
	case "balance":
		return runBalance(ctx, &f, sess, sink)
	case "watch":
		return runWatch(ctx, &f, cfg, controller, sess)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// credentials returns the configured key pair, or a placeholder pair for
// paper mode where nothing is signed.
func credentials(cfg config.Settings, paper bool) (*credential.Store, error) {
	if paper {
		return credential.New("paper-trading-key", "paper-trading-secret", cfg.Environment)
	}
	return cfg.Credentials()
}

func buildClient(cfg config.Settings, paper bool) (exchange.Client, error) {
	if paper {
		return fake.New(fake.Options{
			Environment: cfg.Environment,
			CanTrade:    true,
			RestOrders:  true,
		}), nil
	}
	creds, err := cfg.Credentials()
	if err != nil {
		return nil, err
	}
	return binance.New(binance.Options{
		Credentials:       creds,
		BaseURL:           cfg.Binance.BaseURL,
		StreamURL:         cfg.Binance.StreamURL,
		RecvWindow:        cfg.Binance.RecvWindow,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
	})
}

func buildSink(ctx context.Context, cfg config.Settings) (audit.Sink, func(), error) {
	var sinks audit.MultiSink
	var closers []func()

	if path := strings.TrimSpace(cfg.Audit.LogPath); path != "" {
		fileSink, err := audit.NewFileSink(path)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fileSink)
		closers = append(closers, func() { _ = fileSink.Close() })
	}
	if dsn := strings.TrimSpace(cfg.Audit.PostgresDSN); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect audit journal: %w", err)
		}
		sinks = append(sinks, auditpg.NewSink(pool))
		closers = append(closers, pool.Close)
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(sinks) == 0 {
		return audit.Discard, closeAll, nil
	}
	return sinks, closeAll, nil
}

func parseRequest(f *cliFlags) (schema.OrderRequest, error) {
	quantity, err := decimal.NewFromString(strings.TrimSpace(f.quantity))
	if err != nil {
		return schema.OrderRequest{}, fmt.Errorf("invalid -quantity %q: %w", f.quantity, err)
	}
	req := schema.OrderRequest{
		Symbol:   strings.ToUpper(strings.TrimSpace(f.symbol)),
		Side:     schema.Side(strings.ToUpper(strings.TrimSpace(f.side))),
		Type:     schema.OrderType(strings.ToUpper(strings.TrimSpace(f.orderType))),
		Quantity: quantity,
	}
	if strings.TrimSpace(f.price) != "" {
		price, err := decimal.NewFromString(strings.TrimSpace(f.price))
		if err != nil {
			return schema.OrderRequest{}, fmt.Errorf("invalid -price %q: %w", f.price, err)
		}
		req.LimitPrice = price
	}
	return req, nil
}

func runPlace(ctx context.Context, f *cliFlags, controller *lifecycle.Controller, sess *session.Session) error {
	req, err := parseRequest(f)
	if err != nil {
		return err
	}
	record, err := controller.Submit(ctx, sess, req)
	if record != nil {
		printRecord(record)
	}
	return err
}

func runStatus(ctx context.Context, f *cliFlags, controller *lifecycle.Controller, sess *session.Session) error {
	record, err := recallRecord(ctx, f, sess)
	if err != nil {
		return err
	}
	updated, err := controller.Refresh(ctx, sess, record)
	if updated != nil {
		printRecord(updated)
	}
	return err
}

func runCancel(ctx context.Context, f *cliFlags, controller *lifecycle.Controller, sess *session.Session) error {
	record, err := recallRecord(ctx, f, sess)
	if err != nil {
		return err
	}
	updated, err := controller.Cancel(ctx, sess, record)
	if updated != nil {
		printRecord(updated)
	}
	return err
}

// recallRecord reconstructs a record for status/cancel from the venue's view,
// since the CLI holds no local order store.
func recallRecord(ctx context.Context, f *cliFlags, sess *session.Session) (*schema.OrderRecord, error) {
	symbol := strings.ToUpper(strings.TrimSpace(f.symbol))
	if symbol == "" {
		return nil, errors.New("-symbol is required")
	}
	if f.orderID == "" && f.clientRef == "" {
		return nil, errors.New("-order-id or -client-ref is required")
	}
	state, err := sess.Client().QueryOrder(ctx, exchange.OrderQuery{
		Symbol:          symbol,
		ExchangeOrderID: strings.TrimSpace(f.orderID),
		ClientRef:       strings.TrimSpace(f.clientRef),
	})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &schema.OrderRecord{
		ClientRef:       state.ClientRef,
		ExchangeOrderID: state.ExchangeOrderID,
		Request:         schema.OrderRequest{Symbol: symbol},
		State:           state.Status.OrderState(),
		FilledQuantity:  state.ExecutedQty,
		AvgFillPrice:    state.AvgPrice,
		CreatedAt:       now,
		UpdatedAt:       state.UpdatedAt,
	}, nil
}

func runBalance(ctx context.Context, f *cliFlags, sess *session.Session, sink audit.Sink) error {
	assets := strings.Split(f.asset, ",")
	for i := range assets {
		assets[i] = strings.TrimSpace(assets[i])
	}
	svc := balance.NewService(sink)
	snapshots, err := svc.Snapshots(ctx, sess, assets...)
	if err != nil {
		return err
	}
	for _, asset := range assets {
		snapshot := snapshots[strings.ToUpper(asset)]
		fmt.Printf("%-8s available=%s total=%s\n", snapshot.Asset, snapshot.Available, snapshot.Total)
	}
	return nil
}

func runWatch(ctx context.Context, f *cliFlags, cfg config.Settings, controller *lifecycle.Controller, sess *session.Session) error {
	req, err := parseRequest(f)
	if err != nil {
		return err
	}
	record, err := controller.Submit(ctx, sess, req)
	if record == nil {
		return err
	}
	printRecord(record)
	if record.State.Terminal() {
		return err
	}

	done := make(chan *schema.OrderRecord, 1)
	reconciler := lifecycle.NewReconciler(controller, sess, lifecycle.ReconcilerOptions{
		Interval: cfg.Reconcile.Interval,
		OnUpdate: func(r *schema.OrderRecord) {
			printRecord(r)
			if r.State.Terminal() {
				select {
				case done <- r:
				default:
				}
			}
		},
	})
	reconciler.Track(record)
	reconciler.Start(ctx)
	defer reconciler.Stop()

	select {
	case <-ctx.Done():
		fmt.Println("watch interrupted; order may still be live")
		return nil
	case final := <-done:
		printRecord(final)
		return nil
	}
}

func printRecord(record *schema.OrderRecord) {
	fmt.Printf("order clientRef=%s exchangeId=%s state=%s filled=%s avgPrice=%s",
		record.ClientRef, record.ExchangeOrderID, record.State,
		record.FilledQuantity, record.AvgFillPrice)
	if record.LastError != nil {
		fmt.Printf(" lastError[%s]=%q", record.LastError.Kind, record.LastError.Message)
	}
	fmt.Println()
}
