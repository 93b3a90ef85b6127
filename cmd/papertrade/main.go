// Package main provides the paper-trading CLI. One invocation performs one
// action against a portfolio: init, buy, close, portfolio, activate,
// deactivate, trades, snapshot, or report. Results are emitted as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"polymarket-paper-trader/internal/analytics"
	"polymarket-paper-trader/internal/domain"
	"polymarket-paper-trader/internal/engine"
	"polymarket-paper-trader/internal/marketdata"
	"polymarket-paper-trader/internal/storage"
	"polymarket-paper-trader/internal/storage/memory"
	"polymarket-paper-trader/internal/storage/migrations"
	pgstore "polymarket-paper-trader/internal/storage/postgres"
)

const defaultCLOBEndpoint = "https://clob.polymarket.com"

func main() {
	// Parse flags
	action := flag.String("action", "", "Action: init, buy, close, portfolio, activate, deactivate, trades, snapshot, report (required)")
	portfolio := flag.String("portfolio", "default", "Portfolio name")

	// init parameters
	balance := flag.Float64("balance", 1000, "Starting balance for init")
	riskConfigPath := flag.String("risk-config", "", "Path to a JSON risk config file (init only; defaults used if empty)")

	// buy/close parameters
	token := flag.String("token", "", "Token ID (buy, close)")
	side := flag.String("side", "YES", "Outcome side: YES or NO")
	size := flag.Float64("size", 0, "Order size (buy)")
	denom := flag.String("denom", "amount", "Size denomination: amount (USDC) or shares")
	limitPrice := flag.Float64("limit", 0, "Limit price in (0, 1); 0 = market order")
	feeRate := flag.Float64("fee-rate", 0, "Dynamic taker fee base rate; 0 = fee-free market")
	reason := flag.String("reason", "", "Free-form reasoning recorded on the trade")
	force := flag.Bool("force", false, "Bypass position/exposure/drawdown limits (never the balance check)")
	approve := flag.Bool("approve", false, "Mark the trade as human-approved")

	// trades parameters
	count := flag.Int("count", 20, "Number of recent trades to list (0 = all)")

	// Storage and market data
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clobEndpoint := flag.String("clob-endpoint", defaultCLOBEndpoint, "CLOB REST endpoint")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (single invocation only)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[papertrade] ", log.LstdFlags)

	if *action == "" {
		logger.Fatal("--action is required: init, buy, close, portfolio, activate, deactivate, trades, snapshot, report")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for a throwaway run)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Create store
	var store storage.PortfolioStore
	if *useMemory {
		store = memory.NewPortfolioStore()
	} else {
		pool, err := pgstore.NewPool(ctx, *postgresDSN)
		if err != nil {
			logger.Fatalf("Connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("Run migrations: %v", err)
		}
		store = pgstore.NewPortfolioStore(pool)
	}

	clob := marketdata.NewCLOBClient(*clobEndpoint)

	cli := &cli{
		store:  store,
		clob:   clob,
		logger: logger,
	}

	var err error
	switch strings.ToLower(*action) {
	case "init":
		err = cli.runInit(ctx, *portfolio, *balance, *riskConfigPath)
	case "buy":
		err = cli.runTrade(ctx, *portfolio, tradeArgs{
			token:      *token,
			side:       *side,
			action:     domain.ActionOpen,
			size:       *size,
			denom:      *denom,
			limitPrice: *limitPrice,
			feeRate:    *feeRate,
			reason:     *reason,
			force:      *force,
			approve:    *approve,
		})
	case "close":
		err = cli.runTrade(ctx, *portfolio, tradeArgs{
			token:   *token,
			side:    *side,
			action:  domain.ActionClose,
			feeRate: *feeRate,
			reason:  *reason,
		})
	case "portfolio":
		err = cli.runPortfolio(ctx, *portfolio)
	case "activate":
		err = cli.runSetActive(ctx, *portfolio, true)
	case "deactivate":
		err = cli.runSetActive(ctx, *portfolio, false)
	case "trades":
		err = cli.runTrades(ctx, *portfolio, *count)
	case "snapshot":
		err = cli.runSnapshot(ctx, *portfolio)
	case "report":
		err = cli.runReport(ctx, *portfolio)
	default:
		logger.Fatalf("Unknown action: %s", *action)
	}
	if err != nil {
		logger.Fatalf("%s failed: %v", *action, err)
	}
}

type cli struct {
	store  storage.PortfolioStore
	clob   *marketdata.CLOBClient
	logger *log.Logger
}

// runInit creates a new portfolio.
func (c *cli) runInit(ctx context.Context, name string, balance float64, riskConfigPath string) error {
	if balance <= 0 {
		return fmt.Errorf("starting balance must be positive, got %v", balance)
	}

	risk := domain.DefaultRiskConfig()
	if riskConfigPath != "" {
		data, err := os.ReadFile(riskConfigPath)
		if err != nil {
			return fmt.Errorf("read risk config: %w", err)
		}
		if err := json.Unmarshal(data, &risk); err != nil {
			return fmt.Errorf("parse risk config: %w", err)
		}
	}
	if err := risk.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	p := &domain.Portfolio{
		Name:            name,
		StartingBalance: balance,
		CashBalance:     balance,
		PeakValue:       balance,
		Risk:            risk,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.store.Create(ctx, p); err != nil {
		return err
	}

	c.logger.Printf("Created portfolio %s with balance %.2f", name, balance)
	return c.emit(map[string]interface{}{
		"portfolio":   name,
		"balance":     balance,
		"risk_config": risk,
	})
}

type tradeArgs struct {
	token      string
	side       string
	action     domain.TradeAction
	size       float64
	denom      string
	limitPrice float64
	feeRate    float64
	reason     string
	force      bool
	approve    bool
}

// runTrade executes a buy or close through the engine and reports the
// terminal result verbatim.
func (c *cli) runTrade(ctx context.Context, portfolio string, args tradeArgs) error {
	if args.token == "" {
		return fmt.Errorf("--token is required")
	}
	parsedSide, err := domain.ParseSide(args.side)
	if err != nil {
		return err
	}

	req := &domain.TradeRequest{
		Token:         args.token,
		Side:          parsedSide,
		Action:        args.action,
		Size:          args.size,
		Reasoning:     args.reason,
		Force:         args.force,
		HumanApproved: args.approve,
		FeeModel:      domain.FeeFree(),
	}
	if args.feeRate > 0 {
		req.FeeModel = domain.DynamicTaker(args.feeRate)
	}
	if args.limitPrice > 0 {
		lp := args.limitPrice
		req.LimitPrice = &lp
	}
	switch strings.ToLower(args.denom) {
	case "", "amount":
		req.Denom = domain.DenomAmount
	case "shares":
		req.Denom = domain.DenomShares
	default:
		return fmt.Errorf("denom must be amount or shares, got %q", args.denom)
	}
	if args.action != domain.ActionClose && args.size <= 0 {
		return fmt.Errorf("--size must be positive")
	}

	eng := engine.New(engine.Options{Store: c.store, Books: c.clob, Logger: c.logger})
	res, err := eng.Execute(ctx, portfolio, req)
	if err != nil {
		return err
	}

	out := map[string]interface{}{"state": res.State}
	switch res.State {
	case engine.StateCommitted:
		out["trade"] = res.Trade
		if res.Position != nil {
			out["position"] = res.Position
		}
		c.logger.Printf("%s: %s %.4f shares @ %.4f (fee %.4f)",
			res.State, res.Trade.Action, res.Trade.FilledShares, res.Trade.Price, res.Trade.Fee)
	case engine.StateRejected:
		out["reason"] = res.Rejection.Reason
		out["detail"] = res.Rejection.Detail
		c.logger.Printf("%s: %v", res.State, res.Rejection)
	case engine.StateAborted:
		out["cause"] = res.Cause
		out["error"] = res.Err.Error()
		c.logger.Printf("%s: %s: %v", res.State, res.Cause, res.Err)
	}
	return c.emit(out)
}

// runPortfolio prints the portfolio with its open positions.
func (c *cli) runPortfolio(ctx context.Context, name string) error {
	state, err := c.store.Get(ctx, name)
	if err != nil {
		return err
	}

	positionsValue := 0.0
	for _, pos := range state.Positions {
		positionsValue += pos.Value()
	}
	total := state.Portfolio.CashBalance + positionsValue
	return c.emit(map[string]interface{}{
		"portfolio":       state.Portfolio,
		"positions":       state.Positions,
		"positions_value": positionsValue,
		"total_value":     total,
		"drawdown":        state.Portfolio.Drawdown(total),
	})
}

// runSetActive flips whether the portfolio accepts new trades. Portfolios
// are never deleted; deactivation keeps the history queryable.
func (c *cli) runSetActive(ctx context.Context, name string, active bool) error {
	if err := c.store.SetActive(ctx, name, active); err != nil {
		return err
	}
	c.logger.Printf("Portfolio %s active=%v", name, active)
	return c.emit(map[string]interface{}{"portfolio": name, "active": active})
}

// runTrades lists recent trades, newest first.
func (c *cli) runTrades(ctx context.Context, name string, count int) error {
	trades, err := c.store.ListTrades(ctx, name, count)
	if err != nil {
		return err
	}

	return c.emit(map[string]interface{}{"trades": trades})
}

// runSnapshot values the portfolio at live midpoints and records today's
// daily snapshot row.
func (c *cli) runSnapshot(ctx context.Context, name string) error {
	state, err := c.store.Get(ctx, name)
	if err != nil {
		return err
	}

	positionsValue := 0.0
	for _, pos := range state.Positions {
		mid, err := c.clob.GetMidpoint(ctx, pos.Token)
		if err != nil {
			c.logger.Printf("Midpoint for %s unavailable, using last mark %.4f: %v", pos.Token, pos.CurrentPrice, err)
			mid = pos.CurrentPrice
		}
		positionsValue += pos.Shares * mid
	}

	total := state.Portfolio.CashBalance + positionsValue
	dailyPnL := 0.0
	if snaps, err := c.store.ListSnapshots(ctx, name); err == nil && len(snaps) > 0 {
		dailyPnL = total - snaps[len(snaps)-1].TotalValue
	}

	snap := &domain.DailySnapshot{
		Date:           domain.SnapshotDate(time.Now()),
		CashBalance:    state.Portfolio.CashBalance,
		PositionsValue: positionsValue,
		TotalValue:     total,
		DailyPnL:       dailyPnL,
	}
	if err := c.store.Snapshot(ctx, name, snap); err != nil {
		return err
	}

	c.logger.Printf("Snapshot %s: total %.2f", snap.Date, total)
	return c.emit(snap)
}

// runReport builds the analytics report from the full trade and snapshot
// history.
func (c *cli) runReport(ctx context.Context, name string) error {
	trades, err := c.store.ListTrades(ctx, name, 0)
	if err != nil {
		return err
	}
	snaps, err := c.store.ListSnapshots(ctx, name)
	if err != nil {
		return err
	}

	return c.emit(analytics.BuildReport(trades, snaps))
}

// emit writes the action result as indented JSON on stdout. All actions
// emit structured records; formatting is a consumer concern.
func (c *cli) emit(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
