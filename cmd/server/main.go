// Package main provides the unified paper-trading service:
// - Book recorder (continuous): websocket market feed → tick archive
// - Snapshot scheduler (daily): end-of-day portfolio valuations
// - HTTP: health, status, Prometheus metrics
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"polymarket-paper-trader/internal/domain"
	"polymarket-paper-trader/internal/marketdata"
	"polymarket-paper-trader/internal/observability"
	"polymarket-paper-trader/internal/storage"
	chstore "polymarket-paper-trader/internal/storage/clickhouse"
	"polymarket-paper-trader/internal/storage/memory"
	"polymarket-paper-trader/internal/storage/migrations"
	pgstore "polymarket-paper-trader/internal/storage/postgres"
)

// Default Polymarket endpoints.
const (
	defaultCLOBEndpoint = "https://clob.polymarket.com"
	defaultWSEndpoint   = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
)

// Server holds all components of the unified service.
type Server struct {
	// Configuration
	wsEndpoint    string
	tokens        []string
	portfolios    []string
	flushInterval time.Duration
	batchSize     int
	checkInterval time.Duration

	// Stores and clients
	portfolioStore storage.PortfolioStore
	tickStore      storage.BookTickStore
	prices         *marketdata.CLOBClient

	logger *log.Logger

	// State
	mu              sync.Mutex
	started         time.Time
	ticksWritten    int64
	lastFlush       time.Time
	lastSnapshotDay string
	snapshotRuns    int
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	clobEndpoint := flag.String("clob-endpoint", envOr("CLOB_ENDPOINT", defaultCLOBEndpoint), "CLOB REST endpoint")
	wsEndpoint := flag.String("ws-endpoint", envOr("CLOB_WS_ENDPOINT", defaultWSEndpoint), "CLOB market websocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	tokens := flag.String("tokens", os.Getenv("RECORD_TOKENS"), "Comma-separated token IDs to record")
	portfolios := flag.String("portfolios", os.Getenv("PORTFOLIOS"), "Comma-separated portfolio names to snapshot")
	flushInterval := flag.Duration("flush-interval", 5*time.Second, "Tick batch flush interval")
	batchSize := flag.Int("batch-size", 500, "Tick batch size triggering an early flush")
	checkInterval := flag.Duration("snapshot-check-interval", 1*time.Minute, "UTC day rollover check interval")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	tokenList := splitList(*tokens)
	if len(tokenList) == 0 {
		logger.Fatal("--tokens is required: nothing to record without a token list")
	}
	for _, tok := range tokenList {
		if !marketdata.ValidTokenID(tok) {
			logger.Fatalf("invalid token id: %s", tok)
		}
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	portfolioStore, tickStore, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	server := &Server{
		wsEndpoint:     *wsEndpoint,
		tokens:         tokenList,
		portfolios:     splitList(*portfolios),
		flushInterval:  *flushInterval,
		batchSize:      *batchSize,
		checkInterval:  *checkInterval,
		portfolioStore: portfolioStore,
		tickStore:      tickStore,
		prices:         marketdata.NewCLOBClient(*clobEndpoint),
		logger:         logger,
		started:        time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Start HTTP server
	go server.startHTTPServer(*metricsAddr)

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates the portfolio store and the tick archive.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.PortfolioStore, storage.BookTickStore, func(), error) {
	if useMemory {
		return memory.NewPortfolioStore(), memory.NewBookTickStore(), func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	// ClickHouse: migrations create the database and return the connection.
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return pgstore.NewPortfolioStore(pool), chstore.NewBookTickStore(chConn), cleanup, nil
}

// Run starts the recorder and the snapshot scheduler.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting paper-trading server...")

	errCh := make(chan error, 2)

	go func() {
		err := s.runRecorder(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("recorder: %w", err)
		}
	}()

	go func() {
		err := s.runSnapshotScheduler(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("snapshot scheduler: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runRecorder subscribes to the market channel and writes flattened book
// ticks to the archive in batches.
func (s *Server) runRecorder(ctx context.Context) error {
	s.logger.Printf("Starting book recorder for %d tokens...", len(s.tokens))

	sub, err := marketdata.NewBookSubscriber(ctx, s.wsEndpoint, s.tokens, nil)
	if err != nil {
		return fmt.Errorf("subscribe to market channel: %w", err)
	}
	defer sub.Close()

	buffer := make([]*domain.BookTick, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		err := s.tickStore.InsertBulk(ctx, buffer)
		observability.RecordTickFlush(len(buffer), err)
		if err != nil {
			// Ticks are observability data, not the system of record.
			// Drop the batch and keep recording.
			s.logger.Printf("Tick flush failed, dropping %d ticks: %v", len(buffer), err)
		} else {
			s.mu.Lock()
			s.ticksWritten += int64(len(buffer))
			s.lastFlush = time.Now()
			s.mu.Unlock()
		}
		buffer = buffer[:0]
		observability.UpdateTickBuffer(0)
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			flush()
		case book, ok := <-sub.Books():
			if !ok {
				return fmt.Errorf("market channel closed")
			}
			observability.RecordBookReceived()
			buffer = append(buffer, domain.TickFromBook(book))
			observability.UpdateTickBuffer(len(buffer))
			if len(buffer) >= s.batchSize {
				flush()
			}
		}
	}
}

// runSnapshotScheduler records one valuation per portfolio per UTC day.
// The check runs frequently so a restart just after midnight still
// snapshots; re-running within the same day overwrites idempotently.
func (s *Server) runSnapshotScheduler(ctx context.Context) error {
	if len(s.portfolios) == 0 {
		s.logger.Println("No portfolios configured, snapshot scheduler idle")
		<-ctx.Done()
		return ctx.Err()
	}
	s.logger.Printf("Starting snapshot scheduler for %v (check every %v)...", s.portfolios, s.checkInterval)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			day := domain.SnapshotDate(time.Now())
			s.mu.Lock()
			due := day != s.lastSnapshotDay
			s.mu.Unlock()
			if !due {
				continue
			}
			if err := s.snapshotAll(ctx, day); err != nil {
				s.logger.Printf("Snapshot run failed: %v", err)
				continue
			}
			s.mu.Lock()
			s.lastSnapshotDay = day
			s.snapshotRuns++
			s.mu.Unlock()
			observability.RecordSnapshot(time.Now().Unix())
		}
	}
}

// snapshotAll values every configured portfolio at current midpoints and
// records the daily snapshot rows.
func (s *Server) snapshotAll(ctx context.Context, day string) error {
	for _, name := range s.portfolios {
		state, err := s.portfolioStore.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("read portfolio %s: %w", name, err)
		}

		positionsValue := 0.0
		for _, pos := range state.Positions {
			mid, err := s.prices.GetMidpoint(ctx, pos.Token)
			if err != nil {
				// Fall back to the last known mark rather than skip the day.
				s.logger.Printf("Midpoint for %s unavailable, using last mark %.4f: %v", pos.Token, pos.CurrentPrice, err)
				mid = pos.CurrentPrice
			}
			positionsValue += pos.Shares * mid
		}

		total := state.Portfolio.CashBalance + positionsValue
		dailyPnL := 0.0
		if snaps, err := s.portfolioStore.ListSnapshots(ctx, name); err == nil && len(snaps) > 0 {
			dailyPnL = total - snaps[len(snaps)-1].TotalValue
		}

		snap := &domain.DailySnapshot{
			Date:           day,
			CashBalance:    state.Portfolio.CashBalance,
			PositionsValue: positionsValue,
			TotalValue:     total,
			DailyPnL:       dailyPnL,
		}
		if err := s.portfolioStore.Snapshot(ctx, name, snap); err != nil {
			return fmt.Errorf("snapshot %s: %w", name, err)
		}
		s.logger.Printf("Snapshot %s %s: total %.2f (cash %.2f, positions %.2f)", name, day, total, snap.CashBalance, positionsValue)
	}
	return nil
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status          string    `json:"status"`
	Uptime          string    `json:"uptime"`
	Tokens          int       `json:"tokens"`
	TicksWritten    int64     `json:"ticks_written"`
	LastFlush       time.Time `json:"last_flush,omitempty"`
	LastSnapshotDay string    `json:"last_snapshot_day,omitempty"`
	SnapshotRuns    int       `json:"snapshot_runs"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:          "running",
		Uptime:          time.Since(s.started).String(),
		Tokens:          len(s.tokens),
		TicksWritten:    s.ticksWritten,
		LastFlush:       s.lastFlush,
		LastSnapshotDay: s.lastSnapshotDay,
		SnapshotRuns:    s.snapshotRuns,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(v string) []string {
	var list []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			list = append(list, item)
		}
	}
	return list
}

// envOr returns the env var value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
