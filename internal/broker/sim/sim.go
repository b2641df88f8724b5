// Package sim implements an in-memory venue for tests and dry runs.
//
// The simulator keeps a resting order book per symbol and a last price per
// symbol. SetPrice moves the tape: it emits a tick, re-evaluates every
// resting limit and stop order against the new price, fills whatever
// triggered, and fans the resulting order updates out on the same stream
// the live adapter uses. Tests drive full entry/bracket/exit scenarios by
// stepping prices.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"intradesk/internal/broker"
	"intradesk/pkg/types"
)

// Broker is the simulated venue. It implements broker.Broker.
type Broker struct {
	mu     sync.Mutex
	now    func() time.Time
	tags   *broker.TagCache
	nextID int

	prices    map[string]float64
	prevClose map[string]float64
	history   map[string][]types.Candle
	chains    map[string]types.OptionChain

	resting   map[string]*restingOrder // order ID -> resting order
	positions map[string]*types.BrokerPosition
	fills     []types.Execution
	holdings  []types.Holding

	capital  float64
	failNext error // injected fault for the next mutating call

	tickCh  chan types.Tick
	orderCh chan types.OrderUpdate

	subscribed map[string]bool
}

type restingOrder struct {
	id     string
	intent types.OrderIntent
	state  types.OrderState
}

// New creates a simulator with the given starting capital. The clock is
// injectable; nil uses time.Now.
func New(capital float64, now func() time.Time) *Broker {
	if now == nil {
		now = time.Now
	}
	return &Broker{
		now:        now,
		tags:       broker.NewTagCache(broker.DefaultIdempotencyWindow, now),
		prices:     make(map[string]float64),
		prevClose:  make(map[string]float64),
		history:    make(map[string][]types.Candle),
		chains:     make(map[string]types.OptionChain),
		resting:    make(map[string]*restingOrder),
		positions:  make(map[string]*types.BrokerPosition),
		capital:    capital,
		tickCh:     make(chan types.Tick, 256),
		orderCh:    make(chan types.OrderUpdate, 256),
		subscribed: make(map[string]bool),
	}
}

// ————————————————————————————————————————————————————————————————————————
// Test controls
// ————————————————————————————————————————————————————————————————————————

// SetPrice moves the tape for one symbol: emits a tick and evaluates every
// resting order against the new price.
func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	if _, ok := b.prevClose[symbol]; !ok {
		b.prevClose[symbol] = price
	}
	b.prices[symbol] = price
	fills := b.evaluateRestingLocked(symbol, price)
	subscribed := b.subscribed[symbol]
	now := b.now()
	b.mu.Unlock()

	if subscribed {
		b.emitTick(types.Tick{Symbol: symbol, Last: price, Timestamp: now})
	}
	for _, u := range fills {
		b.emitOrder(u)
	}
}

// SetPrevClose seeds the previous close used for change-percent fields.
func (b *Broker) SetPrevClose(symbol string, close float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prevClose[symbol] = close
}

// SetHistory seeds the candle history History will serve.
func (b *Broker) SetHistory(symbol string, candles []types.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history[symbol] = candles
}

// SetOptionChain seeds the chain OptionChain will serve for an underlying.
func (b *Broker) SetOptionChain(underlying string, chain types.OptionChain) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chains[underlying] = chain
}

// SetHoldings seeds the delivery holdings Holdings will serve.
func (b *Broker) SetHoldings(holdings []types.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings = holdings
}

// FailNext makes the next mutating call return err, then clears the fault.
func (b *Broker) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = err
}

func (b *Broker) takeFaultLocked() error {
	err := b.failNext
	b.failNext = nil
	return err
}

// ————————————————————————————————————————————————————————————————————————
// Market data
// ————————————————————————————————————————————————————————————————————————

// Quote synthesizes snapshots from the current tape.
func (b *Broker) Quote(ctx context.Context, symbols []string) (map[string]types.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]types.Quote, len(symbols))
	for _, sym := range symbols {
		last, ok := b.prices[sym]
		if !ok {
			return nil, fmt.Errorf("quote %s: %w", sym, types.ErrInvalidSymbol)
		}
		spread := last * 0.0005
		out[sym] = types.Quote{
			Symbol:    sym,
			Last:      last,
			Bid:       last - spread,
			Ask:       last + spread,
			PrevClose: b.prevClose[sym],
			Timestamp: b.now(),
		}
	}
	return out, nil
}

// Depth synthesizes a five-level book around the current price.
func (b *Broker) Depth(ctx context.Context, symbol string) (*types.Depth, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	last, ok := b.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("depth %s: %w", symbol, types.ErrInvalidSymbol)
	}
	d := &types.Depth{Symbol: symbol, Timestamp: b.now()}
	for i := 1; i <= 5; i++ {
		step := last * 0.0005 * float64(i)
		d.Bids = append(d.Bids, types.DepthLevel{Price: last - step, Qty: int64(1000 * i), Orders: i})
		d.Asks = append(d.Asks, types.DepthLevel{Price: last + step, Qty: int64(1000 * i), Orders: i})
	}
	return d, nil
}

// History serves the seeded candles, filtered to [from, to].
func (b *Broker) History(ctx context.Context, symbol string, interval types.Interval, from, to time.Time) ([]types.Candle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all, ok := b.history[symbol]
	if !ok {
		return nil, fmt.Errorf("history %s: %w", symbol, types.ErrInvalidSymbol)
	}
	var out []types.Candle
	for _, c := range all {
		if c.Timestamp.IsZero() || (!c.Timestamp.Before(from) && !c.Timestamp.After(to)) {
			out = append(out, c)
		}
	}
	return out, nil
}

// OptionChain serves the seeded chain.
func (b *Broker) OptionChain(ctx context.Context, underlying, expiry string) (*types.OptionChain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	chain, ok := b.chains[underlying]
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", underlying, types.ErrInvalidSymbol)
	}
	return &chain, nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// PlaceOrder accepts one order. Market orders fill immediately at the tape;
// limit and stop orders rest until the price crosses them.
func (b *Broker) PlaceOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	if id, dup := b.tags.Check(intent.ClientTag); dup {
		return id, nil
	}

	b.mu.Lock()
	if err := b.takeFaultLocked(); err != nil {
		b.mu.Unlock()
		return "", err
	}
	last, known := b.prices[intent.Symbol]
	if !known {
		b.mu.Unlock()
		return "", fmt.Errorf("place %s: %w", intent.Symbol, types.ErrInvalidSymbol)
	}
	if intent.Quantity < 1 {
		b.mu.Unlock()
		return "", &types.UpstreamError{Status: 400, Code: "bad_qty", Message: "quantity below 1"}
	}

	b.nextID++
	id := fmt.Sprintf("sim-%04d", b.nextID)
	b.tags.Record(intent.ClientTag, id)

	var updates []types.OrderUpdate
	switch intent.Kind {
	case types.OrderMarket:
		updates = append(updates, b.fillLocked(id, intent, last))
	case types.OrderLimit:
		if crossesLimit(intent, last) {
			updates = append(updates, b.fillLocked(id, intent, intent.LimitPrice))
		} else {
			b.resting[id] = &restingOrder{id: id, intent: intent, state: types.OrderStateOpen}
			updates = append(updates, b.updateLocked(id, intent, types.OrderStateOpen, 0, 0, ""))
		}
	case types.OrderStop, types.OrderStopLimit:
		b.resting[id] = &restingOrder{id: id, intent: intent, state: types.OrderStateOpen}
		updates = append(updates, b.updateLocked(id, intent, types.OrderStateOpen, 0, 0, ""))
	default:
		b.mu.Unlock()
		return "", &types.UpstreamError{Status: 400, Code: "bad_kind", Message: string(intent.Kind)}
	}
	b.mu.Unlock()

	for _, u := range updates {
		b.emitOrder(u)
	}
	return id, nil
}

// ModifyOrder adjusts a resting order in place.
func (b *Broker) ModifyOrder(ctx context.Context, orderID string, price, trigger float64, qty int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.takeFaultLocked(); err != nil {
		return err
	}
	ro, ok := b.resting[orderID]
	if !ok {
		return types.ErrOrderNotFound
	}
	if price != 0 {
		ro.intent.LimitPrice = price
	}
	if trigger != 0 {
		ro.intent.TriggerPrice = trigger
	}
	if qty != 0 {
		ro.intent.Quantity = qty
	}
	return nil
}

// CancelOrder removes a resting order.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	if err := b.takeFaultLocked(); err != nil {
		b.mu.Unlock()
		return err
	}
	ro, ok := b.resting[orderID]
	if !ok {
		b.mu.Unlock()
		return types.ErrOrderNotFound
	}
	delete(b.resting, orderID)
	u := b.updateLocked(orderID, ro.intent, types.OrderStateCancelled, 0, 0, "cancelled")
	b.mu.Unlock()

	b.emitOrder(u)
	return nil
}

// Order reports the current state of one order.
func (b *Broker) Order(ctx context.Context, orderID string) (*types.OrderUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ro, ok := b.resting[orderID]; ok {
		u := b.updateLocked(orderID, ro.intent, ro.state, 0, 0, "")
		return &u, nil
	}
	return nil, types.ErrOrderNotFound
}

// Positions returns the venue's net positions, symbol-sorted for stable
// reconciliation.
func (b *Broker) Positions(ctx context.Context) ([]types.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.BrokerPosition, 0, len(b.positions))
	for _, p := range b.positions {
		if p.NetQty != 0 {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Margin approves any batch within remaining capital.
func (b *Broker) Margin(ctx context.Context, intents []types.OrderIntent) (*types.MarginResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var required float64
	for _, intent := range intents {
		price := intent.LimitPrice
		if price == 0 {
			price = b.prices[intent.Symbol]
		}
		required = types.MoneyAdd(required, types.MoneyMul(intent.Quantity, price))
	}
	m := &types.MarginResult{Required: required, Available: b.capital}
	if required > b.capital {
		m.Shortfall = required - b.capital
	}
	return m, nil
}

// Orders lists the resting (open) orders, ID-sorted.
func (b *Broker) Orders(ctx context.Context) ([]types.OrderUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.OrderUpdate, 0, len(b.resting))
	for id, ro := range b.resting {
		out = append(out, b.updateLocked(id, ro.intent, ro.state, 0, 0, ""))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// Tradebook returns every fill of the session, oldest first.
func (b *Broker) Tradebook(ctx context.Context) ([]types.Execution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Execution, len(b.fills))
	copy(out, b.fills)
	return out, nil
}

// Holdings returns the seeded delivery holdings. An intraday account
// usually carries none.
func (b *Broker) Holdings(ctx context.Context) ([]types.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]types.Holding, len(b.holdings))
	copy(out, b.holdings)
	return out, nil
}

// Funds reports capital against the marked value of open positions.
func (b *Broker) Funds(ctx context.Context) (*types.Funds, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var utilized float64
	for _, p := range b.positions {
		utilized = types.MoneyAdd(utilized, types.MoneyMul(abs(p.NetQty), p.AvgPrice))
	}
	return &types.Funds{Total: b.capital, Utilized: utilized, Available: b.capital - utilized}, nil
}

// ————————————————————————————————————————————————————————————————————————
// Streams
// ————————————————————————————————————————————————————————————————————————

// OrderUpdates returns the order event stream.
func (b *Broker) OrderUpdates() <-chan types.OrderUpdate { return b.orderCh }

// Ticks returns the price tick stream.
func (b *Broker) Ticks() <-chan types.Tick { return b.tickCh }

// SubscribeTicks adds symbols to the tick stream.
func (b *Broker) SubscribeTicks(ctx context.Context, symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sym := range symbols {
		b.subscribed[sym] = true
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————————

// crossesLimit reports whether a limit order is immediately marketable.
func crossesLimit(intent types.OrderIntent, last float64) bool {
	if intent.Direction == types.Long {
		return last <= intent.LimitPrice
	}
	return last >= intent.LimitPrice
}

// stopTriggered reports whether a protective stop fires at this price. A
// stop closing a long sells when the price falls to the trigger; a stop
// closing a short buys when it rises to the trigger.
func stopTriggered(intent types.OrderIntent, last float64) bool {
	if intent.Direction == types.Short {
		return last <= intent.TriggerPrice
	}
	return last >= intent.TriggerPrice
}

// evaluateRestingLocked fills every resting order the new price crosses.
func (b *Broker) evaluateRestingLocked(symbol string, price float64) []types.OrderUpdate {
	var updates []types.OrderUpdate
	for id, ro := range b.resting {
		if ro.intent.Symbol != symbol {
			continue
		}
		switch ro.intent.Kind {
		case types.OrderLimit:
			if crossesLimit(ro.intent, price) {
				delete(b.resting, id)
				updates = append(updates, b.fillLocked(id, ro.intent, ro.intent.LimitPrice))
			}
		case types.OrderStop, types.OrderStopLimit:
			if stopTriggered(ro.intent, price) {
				delete(b.resting, id)
				updates = append(updates, b.fillLocked(id, ro.intent, ro.intent.TriggerPrice))
			}
		}
	}
	return updates
}

// fillLocked executes a fill at price: updates positions and capital and
// returns the FILLED event.
func (b *Broker) fillLocked(id string, intent types.OrderIntent, price float64) types.OrderUpdate {
	pos, ok := b.positions[intent.Symbol]
	if !ok {
		pos = &types.BrokerPosition{Symbol: intent.Symbol}
		b.positions[intent.Symbol] = pos
	}

	signed := intent.Quantity
	if intent.Direction == types.Short {
		signed = -signed
	}

	switch {
	case pos.NetQty == 0 || sameSign(pos.NetQty, signed):
		// opening or adding: blend the average
		total := abs(pos.NetQty) + intent.Quantity
		pos.AvgPrice = (pos.AvgPrice*float64(abs(pos.NetQty)) + price*float64(intent.Quantity)) / float64(total)
		pos.NetQty += signed
	default:
		// reducing or flipping: realize against the average
		closed := min(abs(pos.NetQty), intent.Quantity)
		if pos.NetQty > 0 {
			pos.PnL = types.MoneyAdd(pos.PnL, types.MoneyMul(closed, price-pos.AvgPrice))
		} else {
			pos.PnL = types.MoneyAdd(pos.PnL, types.MoneyMul(closed, pos.AvgPrice-price))
		}
		pos.NetQty += signed
		if pos.NetQty == 0 {
			pos.AvgPrice = 0
		} else if !sameSign(pos.NetQty-signed, pos.NetQty) {
			pos.AvgPrice = price
		}
	}

	b.fills = append(b.fills, types.Execution{
		OrderID:   id,
		Symbol:    intent.Symbol,
		Direction: intent.Direction,
		Quantity:  intent.Quantity,
		Price:     price,
		At:        b.now(),
	})
	return b.updateLocked(id, intent, types.OrderStateFilled, intent.Quantity, price, "")
}

func (b *Broker) updateLocked(id string, intent types.OrderIntent, state types.OrderState, filled int, avg float64, reason string) types.OrderUpdate {
	return types.OrderUpdate{
		OrderID:   id,
		ClientTag: intent.ClientTag,
		Symbol:    intent.Symbol,
		State:     state,
		FilledQty: filled,
		AvgPrice:  avg,
		Reason:    reason,
		Timestamp: b.now(),
	}
}

func (b *Broker) emitTick(t types.Tick) {
	select {
	case b.tickCh <- t:
	default:
	}
}

func (b *Broker) emitOrder(u types.OrderUpdate) {
	select {
	case b.orderCh <- u:
	default:
	}
}

func sameSign(a, c int) bool { return (a > 0) == (c > 0) }

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
