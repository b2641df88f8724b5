// Package broker defines the single gateway to the trading venue.
//
// Everything the orchestrator knows about the outside market flows through
// the Broker interface: quotes, depth, candle history, option chains, order
// placement and management, positions, and margin. Two adapters implement
// it: rest (the live venue over HTTP + WebSocket) and sim (an in-memory
// venue for tests and dry runs).
//
// Failures surface through the pkg/types error taxonomy so callers branch
// with errors.Is / errors.As, never by matching venue payload strings.
package broker

import (
	"context"
	"time"

	"intradesk/pkg/types"
)

// Broker is the venue port. All blocking calls honor ctx cancellation.
type Broker interface {
	// Quote returns snapshots for up to the venue's per-call symbol limit.
	Quote(ctx context.Context, symbols []string) (map[string]types.Quote, error)

	// Depth returns the five-level book for one symbol.
	Depth(ctx context.Context, symbol string) (*types.Depth, error)

	// History returns OHLCV bars for [from, to], oldest first.
	History(ctx context.Context, symbol string, interval types.Interval, from, to time.Time) ([]types.Candle, error)

	// OptionChain returns the chain snapshot for an underlying and expiry.
	OptionChain(ctx context.Context, underlying, expiry string) (*types.OptionChain, error)

	// PlaceOrder submits one order and returns the venue order ID. An
	// intent whose ClientTag matches one accepted within the idempotency
	// window is dropped: the original order ID is returned with no second
	// submission.
	PlaceOrder(ctx context.Context, intent types.OrderIntent) (string, error)

	// ModifyOrder adjusts price, trigger, or quantity of a resting order.
	// Zero values leave the corresponding field unchanged.
	ModifyOrder(ctx context.Context, orderID string, price, trigger float64, qty int) error

	// CancelOrder cancels a resting order.
	CancelOrder(ctx context.Context, orderID string) error

	// Order returns the current state of one order.
	Order(ctx context.Context, orderID string) (*types.OrderUpdate, error)

	// Positions returns the venue's net positions. This is the truth the
	// ledger reconciles against.
	Positions(ctx context.Context) ([]types.BrokerPosition, error)

	// Holdings returns the delivery positions in the demat account.
	Holdings(ctx context.Context) ([]types.Holding, error)

	// Orders lists the currently open (resting) orders.
	Orders(ctx context.Context) ([]types.OrderUpdate, error)

	// Tradebook returns the day's fills, oldest first.
	Tradebook(ctx context.Context) ([]types.Execution, error)

	// Funds reports available, utilized, and total account funds.
	Funds(ctx context.Context) (*types.Funds, error)

	// Margin answers whether the account can carry the batch of intents.
	Margin(ctx context.Context, intents []types.OrderIntent) (*types.MarginResult, error)

	// OrderUpdates streams order lifecycle events. The channel is owned by
	// the adapter and closed on shutdown.
	OrderUpdates() <-chan types.OrderUpdate

	// Ticks streams price updates for subscribed symbols.
	Ticks() <-chan types.Tick

	// SubscribeTicks adds symbols to the tick stream.
	SubscribeTicks(ctx context.Context, symbols []string) error
}

// QuoteBatchLimit is the venue's maximum symbols per quote call. Callers
// with larger universes must chunk.
const QuoteBatchLimit = 50

// ChunkSymbols splits a universe into venue-sized quote batches.
func ChunkSymbols(symbols []string, size int) [][]string {
	if size <= 0 {
		size = QuoteBatchLimit
	}
	var out [][]string
	for len(symbols) > size {
		out = append(out, symbols[:size])
		symbols = symbols[size:]
	}
	if len(symbols) > 0 {
		out = append(out, symbols)
	}
	return out
}
