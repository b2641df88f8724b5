// stream.go implements the venue WebSocket feed: order lifecycle events and
// price ticks on one authenticated connection.
//
// The feed auto-reconnects with exponential backoff (1s up to 30s) and
// re-subscribes every tracked symbol on reconnection. A read deadline
// detects silent server failures within about two missed pings.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"intradesk/internal/auth"
	"intradesk/pkg/types"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	tickBufferSize   = 256
	orderBufferSize  = 64
)

// Stream manages the venue WebSocket connection: lifecycle, subscription
// tracking, message routing, and automatic reconnection.
type Stream struct {
	url    string
	auth   *auth.Manager
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// tracked symbols for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	tickCh  chan types.Tick
	orderCh chan types.OrderUpdate

	logger *slog.Logger
}

// NewStream creates the feed; Run must be called to connect.
func NewStream(wsURL string, authMgr *auth.Manager, logger *slog.Logger) *Stream {
	return &Stream{
		url:        wsURL,
		auth:       authMgr,
		subscribed: make(map[string]bool),
		tickCh:     make(chan types.Tick, tickBufferSize),
		orderCh:    make(chan types.OrderUpdate, orderBufferSize),
		logger:     logger.With("component", "broker_ws"),
	}
}

// Ticks returns a read-only channel of price ticks.
func (s *Stream) Ticks() <-chan types.Tick { return s.tickCh }

// OrderUpdates returns a read-only channel of order lifecycle events.
func (s *Stream) OrderUpdates() <-chan types.OrderUpdate { return s.orderCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds symbols to the tick stream.
func (s *Stream) Subscribe(ctx context.Context, symbols []string) error {
	s.subscribedMu.Lock()
	for _, sym := range symbols {
		s.subscribed[sym] = true
	}
	s.subscribedMu.Unlock()

	return s.writeJSON(map[string]any{"type": "subscribe", "symbols": symbols})
}

// Unsubscribe removes symbols from the tick stream.
func (s *Stream) Unsubscribe(ctx context.Context, symbols []string) error {
	s.subscribedMu.Lock()
	for _, sym := range symbols {
		delete(s.subscribed, sym)
	}
	s.subscribedMu.Unlock()

	return s.writeJSON(map[string]any{"type": "unsubscribe", "symbols": symbols})
}

// Close gracefully closes the connection.
func (s *Stream) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	token, err := s.auth.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("stream auth: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url+"?token="+token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	if err := s.resubscribe(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}

	s.logger.Info("websocket connected")

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		s.dispatch(msg)
	}
}

func (s *Stream) resubscribe() error {
	s.subscribedMu.RLock()
	symbols := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		symbols = append(symbols, sym)
	}
	s.subscribedMu.RUnlock()

	if len(symbols) == 0 {
		return nil
	}
	return s.writeJSON(map[string]any{"type": "subscribe", "symbols": symbols})
}

func (s *Stream) dispatch(data []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		s.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Type {
	case "tick":
		var evt struct {
			Tick types.Tick `json:"data"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal tick", "error", err)
			return
		}
		select {
		case s.tickCh <- evt.Tick:
		default:
			s.logger.Warn("tick channel full, dropping event", "symbol", evt.Tick.Symbol)
		}

	case "order":
		var evt struct {
			Order types.OrderUpdate `json:"data"`
		}
		if err := json.Unmarshal(data, &evt); err != nil {
			s.logger.Error("unmarshal order event", "error", err)
			return
		}
		select {
		case s.orderCh <- evt.Order:
		default:
			s.logger.Warn("order channel full, dropping event", "order_id", evt.Order.OrderID)
		}

	case "pong", "info":
		// keep-alive and informational frames

	default:
		s.logger.Debug("unknown ws event type", "type", envelope.Type)
	}
}

func (s *Stream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
				s.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (s *Stream) writeJSON(v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Stream) writeMessage(msgType int, data []byte) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(msgType, data)
}
