package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-paper-trader/internal/domain"
)

// WSConfig configures WebSocket subscriber behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// BookSubscriber maintains a WebSocket subscription to the CLOB market
// channel and delivers full book snapshots for the subscribed tokens.
// It reconnects with exponential backoff and resubscribes after a drop.
type BookSubscriber struct {
	endpoint string
	config   WSConfig
	tokens   []string

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	books chan *domain.OrderBook

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewBookSubscriber connects and subscribes to book updates for the
// given tokens. Token IDs are validated up front.
func NewBookSubscriber(ctx context.Context, endpoint string, tokens []string, config *WSConfig) (*BookSubscriber, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens to subscribe")
	}
	for _, t := range tokens {
		if !ValidTokenID(t) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTokenID, t)
		}
	}

	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	s := &BookSubscriber{
		endpoint: endpoint,
		config:   cfg,
		tokens:   tokens,
		// Blocking send ensures no book loss; buffer absorbs bursts.
		books: make(chan *domain.OrderBook, 1024),
		done:  make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Books returns the channel of received book snapshots. Closed on Close.
func (s *BookSubscriber) Books() <-chan *domain.OrderBook {
	return s.books
}

// connect establishes the WebSocket connection.
func (s *BookSubscriber) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// subscribe sends the market-channel subscription for all tokens.
func (s *BookSubscriber) subscribe() error {
	req := wsSubscribeRequest{
		Type:      "market",
		AssetsIDs: s.tokens,
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// Close closes the connection and the books channel.
func (s *BookSubscriber) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.books)
	return nil
}

// readLoop reads messages and dispatches book events.
func (s *BookSubscriber) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			// Connection error, reconnect with exponential backoff
			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (s *BookSubscriber) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	if err := s.subscribe(); err != nil {
		return
	}
}

// handleMessage parses a feed message and forwards full book snapshots.
// The feed interleaves book events with price changes and trade prints;
// only book events carry enough state to simulate against.
func (s *BookSubscriber) handleMessage(message []byte) {
	// The feed may batch events into a JSON array.
	if len(message) > 0 && message[0] == '[' {
		var events []json.RawMessage
		if err := json.Unmarshal(message, &events); err != nil {
			return
		}
		for _, ev := range events {
			s.handleEvent(ev)
		}
		return
	}
	s.handleEvent(message)
}

func (s *BookSubscriber) handleEvent(event []byte) {
	var raw wsBookEvent
	if err := json.Unmarshal(event, &raw); err != nil || raw.EventType != "book" {
		return
	}

	book := &domain.OrderBook{
		Token:     raw.AssetID,
		Timestamp: time.Now().UTC(),
	}
	if raw.Timestamp != "" {
		if ms, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil {
			book.Timestamp = time.UnixMilli(ms).UTC()
		}
	}

	var err error
	if book.Bids, err = parseLevels(raw.Bids); err != nil {
		return
	}
	if book.Asks, err = parseLevels(raw.Asks); err != nil {
		return
	}
	book.Normalize()
	if book.Validate() != nil {
		return
	}

	// Block until we can send, never drop books
	select {
	case s.books <- book:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *BookSubscriber) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsSubscribeRequest struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

type wsBookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
	Timestamp string      `json:"timestamp"`
}
