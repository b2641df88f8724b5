// Package executor turns approved orders into managed trades.
//
// For each approved order it checks margin and the daily loss floor,
// creates the ledger record, places the entry, waits for the fill (bounded
// by the fill window), and only then arms the protective brackets: a stop
// order at the stop-loss and a limit order at the take-profit. Entries that
// never fill are cancelled and expired; an entry partially filled when the
// window closes keeps the filled quantity and cancels only the remainder;
// venue rejections become REJECTED trades with the reason journaled.
//
// The executor is also the single consumer of broker order events. Fills
// are matched by client tag: entry fills release waiting placements,
// bracket fills settle the trade (stop -> STOPPED_OUT, target -> CLOSED)
// and cancel the surviving sibling so a trade can never be closed twice.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"intradesk/internal/broker"
	"intradesk/internal/ledger"
	"intradesk/pkg/types"
)

// Config tunes the execution engine.
type Config struct {
	FillWait     time.Duration // how long an entry may rest before expiry
	TickSize     float64       // venue price increment
	ProductType  string        // venue product code for intraday
	Capital      float64       // account base capital
	MaxDailyLoss float64       // fraction of capital, e.g. 0.02
}

// ErrDailyLossFloor is returned when realized losses have crossed the
// daily floor and new entries are refused.
var ErrDailyLossFloor = errors.New("executor: daily loss floor reached")

// retryDelay spaces the single retry on a transient placement failure.
const retryDelay = 500 * time.Millisecond

// tagRef resolves a client tag back to its trade.
type tagRef struct {
	date    string
	tradeID string
	purpose string // entry, sl, tp, close, partial
}

// Executor is the execution engine.
type Executor struct {
	broker broker.Broker
	ledger *ledger.Ledger
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	tags        map[string]tagRef                 // client tag -> trade
	waiters     map[string]chan types.OrderUpdate // client tag -> entry waiter
	ownCancels  map[string]bool                   // order IDs the executor cancelled itself
	bracketLoss map[string]int                    // trade ID -> consecutive lost brackets
}

// New creates an executor.
func New(b broker.Broker, l *ledger.Ledger, cfg Config, logger *slog.Logger) *Executor {
	if cfg.FillWait == 0 {
		cfg.FillWait = 2 * time.Minute
	}
	if cfg.TickSize == 0 {
		cfg.TickSize = types.DefaultTickSize
	}
	return &Executor{
		broker:      b,
		ledger:      l,
		cfg:         cfg,
		logger:      logger.With("component", "executor"),
		now:         time.Now,
		tags:        make(map[string]tagRef),
		waiters:     make(map[string]chan types.OrderUpdate),
		ownCancels:  make(map[string]bool),
		bracketLoss: make(map[string]int),
	}
}

// SetClock overrides the clock for tests.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// Rehydrate rebuilds the tag table from the ledger's open trades, so
// bracket fills arriving after a restart still settle correctly.
func (e *Executor) Rehydrate(date string) error {
	open, err := e.ledger.Open(date)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range open {
		e.tags[t.ClientTag("entry")] = tagRef{date: date, tradeID: t.ID, purpose: "entry"}
		e.tags[t.ClientTag("sl")] = tagRef{date: date, tradeID: t.ID, purpose: "sl"}
		e.tags[t.ClientTag("tp")] = tagRef{date: date, tradeID: t.ID, purpose: "tp"}
	}
	return nil
}

// Pump consumes broker order events until ctx is cancelled. The engine
// runs exactly one Pump per process.
func (e *Executor) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-e.broker.OrderUpdates():
			if !ok {
				return
			}
			e.HandleUpdate(ctx, u)
		}
	}
}

// Execute places every order in the set and reports the outcome per order.
// A daily-loss-floor breach stops the whole batch.
func (e *Executor) Execute(ctx context.Context, date string, orders []types.ApprovedOrder) (*types.ExecReport, error) {
	report := &types.ExecReport{}

	realized, err := e.ledger.RealizedPnL(date)
	if err != nil {
		return nil, err
	}
	floor := -e.cfg.MaxDailyLoss * e.cfg.Capital
	if e.cfg.MaxDailyLoss > 0 && realized <= floor {
		e.logger.Warn("daily loss floor reached, refusing batch", "realized", realized, "floor", floor)
		for _, o := range orders {
			report.Skipped = append(report.Skipped, o.Symbol+": daily loss floor")
		}
		return report, nil
	}

	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			report.Skipped = append(report.Skipped, order.Symbol+": cancelled")
			continue
		}
		tradeID, err := e.executeOne(ctx, date, order)
		if err != nil {
			e.logger.Warn("order not executed", "symbol", order.Symbol, "error", err)
			report.Rejected = append(report.Rejected, fmt.Sprintf("%s: %v", order.Symbol, err))
			continue
		}
		report.Placed = append(report.Placed, tradeID)
	}
	return report, nil
}

func (e *Executor) executeOne(ctx context.Context, date string, order types.ApprovedOrder) (string, error) {
	entryKind := types.OrderLimit
	if order.EntryType == types.EntryMarket {
		entryKind = types.OrderMarket
	}

	// a market order bigger than a quarter of the visible far side would
	// walk the book; take the limit route instead
	if entryKind == types.OrderMarket {
		if depth, err := e.broker.Depth(ctx, order.Symbol); err != nil {
			e.logger.Warn("depth unavailable before market entry", "symbol", order.Symbol, "error", err)
		} else if avail := farSideQty(depth, order.Direction); avail > 0 && int64(order.Quantity)*4 > avail {
			e.logger.Warn("thin book for market entry, using limit",
				"symbol", order.Symbol, "qty", order.Quantity, "visible", avail)
			entryKind = types.OrderLimit
		}
	}

	intent := types.OrderIntent{
		Symbol:      order.Symbol,
		Direction:   order.Direction,
		Quantity:    order.Quantity,
		Kind:        entryKind,
		LimitPrice:  types.RoundToTick(order.EntryPrice, e.cfg.TickSize),
		ProductType: e.cfg.ProductType,
	}

	margin, err := e.broker.Margin(ctx, []types.OrderIntent{intent})
	if err != nil {
		return "", fmt.Errorf("margin check: %w", err)
	}
	if !margin.Sufficient() {
		return "", fmt.Errorf("margin shortfall %.2f", margin.Shortfall)
	}

	// the sizer's tag seeds the trade ID so a re-run of the same batch
	// produces the same client tags and dedupes at the venue
	tradeID := order.Tag
	if len(tradeID) < 8 {
		tradeID = uuid.NewString()
	}
	trade := &types.Trade{
		ID:           tradeID,
		Date:         date,
		Symbol:       order.Symbol,
		Sector:       order.Sector,
		Direction:    order.Direction,
		Status:       types.TradePending,
		Quantity:     order.Quantity,
		OpenQty:      order.Quantity,
		EntryPrice:   intent.LimitPrice,
		StopLoss:     types.RoundToTick(order.StopLoss, e.cfg.TickSize),
		TakeProfit:   types.RoundToTick(order.TakeProfit, e.cfg.TickSize),
	}
	trade.InitialStop = trade.StopLoss
	if err := e.ledger.Create(trade); err != nil {
		return "", err
	}

	entryTag := trade.ClientTag("entry")
	intent.ClientTag = entryTag
	e.register(entryTag, tagRef{date: date, tradeID: trade.ID, purpose: "entry"})
	waiter := e.addWaiter(entryTag)
	defer e.removeWaiter(entryTag)

	orderID, err := e.placeOrder(ctx, intent)
	if err != nil {
		e.ledger.Transition(date, trade.ID, types.TradeRejected, fmt.Sprintf("entry refused: %v", err))
		return "", fmt.Errorf("place entry: %w", err)
	}
	if err := e.ledger.Update(date, trade.ID, func(t *types.Trade) error {
		t.EntryOrderID = orderID
		return nil
	}); err != nil {
		return "", err
	}
	if err := e.ledger.Transition(date, trade.ID, types.TradeWorking, "entry order "+orderID); err != nil {
		return "", err
	}

	fill, err := e.awaitFill(ctx, waiter)
	if err != nil {
		// the window elapsed: pull whatever still rests at the venue
		if cerr := e.broker.CancelOrder(ctx, orderID); cerr != nil && !errors.Is(cerr, types.ErrOrderNotFound) {
			e.logger.Error("cancel expired entry", "order_id", orderID, "error", cerr)
		}
		if fill.FilledQty == 0 {
			e.ledger.Transition(date, trade.ID, types.TradeExpired, "entry unfilled in window")
			return "", fmt.Errorf("entry unfilled: %w", err)
		}
		// a partial fill is a real position: keep the filled slice, the
		// cancel above removed only the remainder
		e.logger.Warn("entry partially filled at window expiry",
			"trade", trade.ID, "filled", fill.FilledQty, "of", trade.Quantity)
	}
	if fill.State == types.OrderStateRejected {
		e.ledger.Transition(date, trade.ID, types.TradeRejected, "venue: "+fill.Reason)
		return "", fmt.Errorf("entry rejected: %s", fill.Reason)
	}

	if err := e.ledger.Update(date, trade.ID, func(t *types.Trade) error {
		t.AvgFill = fill.AvgPrice
		t.OpenQty = fill.FilledQty
		return nil
	}); err != nil {
		return "", err
	}
	trade.OpenQty = fill.FilledQty
	if err := e.ledger.Transition(date, trade.ID, types.TradeOpen, fmt.Sprintf("filled %d @ %.2f", fill.FilledQty, fill.AvgPrice)); err != nil {
		return "", err
	}

	if err := e.armBrackets(ctx, date, trade); err != nil {
		// the position exists without protection; close it out immediately
		e.logger.Error("bracket placement failed, flattening", "trade", trade.ID, "error", err)
		e.CloseTrade(ctx, date, trade.ID, "bracket placement failed")
		return "", err
	}

	e.logger.Info("trade live", "trade", trade.ID, "symbol", trade.Symbol, "qty", trade.Quantity, "avg", fill.AvgPrice)
	return trade.ID, nil
}

func (e *Executor) awaitFill(ctx context.Context, waiter <-chan types.OrderUpdate) (types.OrderUpdate, error) {
	timer := time.NewTimer(e.cfg.FillWait)
	defer timer.Stop()

	var partial types.OrderUpdate
	for {
		select {
		case <-ctx.Done():
			return partial, ctx.Err()
		case <-timer.C:
			return partial, fmt.Errorf("fill window %s elapsed", e.cfg.FillWait)
		case u := <-waiter:
			switch u.State {
			case types.OrderStateFilled, types.OrderStateRejected:
				return u, nil
			case types.OrderStatePartial:
				// remember the progress so a window expiry can keep the
				// filled slice
				partial = u
			}
			// OPEN updates keep the wait alive
		}
	}
}

// armBrackets places the protective stop and the target after an entry
// fill. Brackets face the opposite direction of the position.
func (e *Executor) armBrackets(ctx context.Context, date string, trade *types.Trade) error {
	exitDir := types.Short
	if trade.Direction == types.Short {
		exitDir = types.Long
	}

	slTag := trade.ClientTag("sl")
	e.register(slTag, tagRef{date: date, tradeID: trade.ID, purpose: "sl"})
	slID, err := e.placeOrder(ctx, types.OrderIntent{
		Symbol:       trade.Symbol,
		Direction:    exitDir,
		Quantity:     trade.OpenQty,
		Kind:         types.OrderStop,
		TriggerPrice: trade.StopLoss,
		ProductType:  e.cfg.ProductType,
		ClientTag:    slTag,
	})
	if err != nil {
		return fmt.Errorf("place stop: %w", err)
	}

	tpTag := trade.ClientTag("tp")
	e.register(tpTag, tagRef{date: date, tradeID: trade.ID, purpose: "tp"})
	tpID, err := e.placeOrder(ctx, types.OrderIntent{
		Symbol:      trade.Symbol,
		Direction:   exitDir,
		Quantity:    trade.OpenQty,
		Kind:        types.OrderLimit,
		LimitPrice:  trade.TakeProfit,
		ProductType: e.cfg.ProductType,
		ClientTag:   tpTag,
	})
	if err != nil {
		// roll back the lone stop so the venue holds no orphan brackets
		if cerr := e.cancelOwn(ctx, slID); cerr != nil {
			e.logger.Error("cancel orphan stop", "order_id", slID, "error", cerr)
		}
		return fmt.Errorf("place target: %w", err)
	}

	return e.ledger.Update(date, trade.ID, func(t *types.Trade) error {
		t.StopOrderID = slID
		t.TPOrderID = tpID
		return nil
	})
}

// cancelOwn cancels an order the executor itself wants gone, marking the
// ID first so the resulting CANCELLED event is not read as a lost bracket.
func (e *Executor) cancelOwn(ctx context.Context, orderID string) error {
	e.mu.Lock()
	e.ownCancels[orderID] = true
	e.mu.Unlock()
	return e.broker.CancelOrder(ctx, orderID)
}

// repairBracket re-places a protective order the venue dropped while the
// trade is still open. A trade that loses its brackets twice is flattened
// instead of patched a third time.
func (e *Executor) repairBracket(ctx context.Context, ref tagRef, u types.OrderUpdate) {
	e.mu.Lock()
	if e.ownCancels[u.OrderID] {
		delete(e.ownCancels, u.OrderID)
		e.mu.Unlock()
		return
	}
	e.bracketLoss[ref.tradeID]++
	losses := e.bracketLoss[ref.tradeID]
	e.mu.Unlock()

	trade, err := e.ledger.Get(ref.date, ref.tradeID)
	if err != nil {
		e.logger.Error("bracket repair: trade lookup", "trade", ref.tradeID, "error", err)
		return
	}
	if trade.Status != types.TradeOpen {
		return
	}
	if losses >= 2 {
		e.logger.Error("brackets lost twice, flattening", "trade", ref.tradeID)
		if cerr := e.CloseTrade(ctx, ref.date, ref.tradeID, "protective orders lost twice"); cerr != nil {
			e.logger.Error("flatten after bracket loss", "trade", ref.tradeID, "error", cerr)
		}
		return
	}

	exitDir := types.Short
	if trade.Direction == types.Short {
		exitDir = types.Long
	}
	// a fresh tag: the original would be swallowed by the idempotency window
	intent := types.OrderIntent{
		Symbol:      trade.Symbol,
		Direction:   exitDir,
		Quantity:    trade.OpenQty,
		ProductType: e.cfg.ProductType,
		ClientTag:   fmt.Sprintf("%s-r%d", trade.ClientTag(ref.purpose), losses),
	}
	if ref.purpose == "sl" {
		intent.Kind = types.OrderStop
		intent.TriggerPrice = trade.StopLoss
	} else {
		intent.Kind = types.OrderLimit
		intent.LimitPrice = trade.TakeProfit
	}
	e.register(intent.ClientTag, tagRef{date: ref.date, tradeID: ref.tradeID, purpose: ref.purpose})

	id, err := e.placeOrder(ctx, intent)
	if err != nil {
		e.logger.Error("bracket re-place failed, flattening", "trade", ref.tradeID, "error", err)
		if cerr := e.CloseTrade(ctx, ref.date, ref.tradeID, "bracket re-place failed"); cerr != nil {
			e.logger.Error("flatten after re-place failure", "trade", ref.tradeID, "error", cerr)
		}
		return
	}
	if err := e.ledger.Update(ref.date, ref.tradeID, func(t *types.Trade) error {
		if ref.purpose == "sl" {
			t.StopOrderID = id
		} else {
			t.TPOrderID = id
		}
		return nil
	}); err != nil {
		e.logger.Error("bracket repair: update", "trade", ref.tradeID, "error", err)
		return
	}
	e.logger.Warn("bracket re-placed", "trade", ref.tradeID, "purpose", ref.purpose, "order_id", id)
}

// cancelBrackets pulls both protective orders. A bracket already gone
// from the venue is not an error; anything else is logged and tolerated
// since the close that follows flattens the position regardless.
func (e *Executor) cancelBrackets(ctx context.Context, trade *types.Trade) {
	for _, id := range []string{trade.StopOrderID, trade.TPOrderID} {
		if id == "" {
			continue
		}
		if err := e.cancelOwn(ctx, id); err != nil && !errors.Is(err, types.ErrOrderNotFound) {
			e.logger.Error("cancel bracket", "order_id", id, "error", err)
		}
	}
}

// CloseTrade flattens one open trade at market. The CLOSING transition is
// journaled immediately; the fill settles it to CLOSED.
func (e *Executor) CloseTrade(ctx context.Context, date, tradeID, reason string) error {
	trade, err := e.ledger.Get(date, tradeID)
	if err != nil {
		return err
	}
	if trade.Status != types.TradeOpen {
		return fmt.Errorf("trade %s not open (%s)", tradeID, trade.Status)
	}

	e.cancelBrackets(ctx, &trade)

	exitDir := types.Short
	if trade.Direction == types.Short {
		exitDir = types.Long
	}
	closeTag := trade.ClientTag("close")
	e.register(closeTag, tagRef{date: date, tradeID: tradeID, purpose: "close"})

	if err := e.ledger.Transition(date, tradeID, types.TradeClosing, reason); err != nil {
		return err
	}
	if _, err := e.placeOrder(ctx, types.OrderIntent{
		Symbol:      trade.Symbol,
		Direction:   exitDir,
		Quantity:    trade.OpenQty,
		Kind:        types.OrderMarket,
		ProductType: e.cfg.ProductType,
		ClientTag:   closeTag,
	}); err != nil {
		return fmt.Errorf("place close: %w", err)
	}
	return nil
}

// BookPartial sells down part of an open trade at market.
func (e *Executor) BookPartial(ctx context.Context, date, tradeID string, qty int) error {
	trade, err := e.ledger.Get(date, tradeID)
	if err != nil {
		return err
	}
	if trade.Status != types.TradeOpen || qty <= 0 || qty >= trade.OpenQty {
		return fmt.Errorf("trade %s: cannot book partial %d of %d", tradeID, qty, trade.OpenQty)
	}

	exitDir := types.Short
	if trade.Direction == types.Short {
		exitDir = types.Long
	}
	tag := trade.ClientTag("partial")
	e.register(tag, tagRef{date: date, tradeID: tradeID, purpose: "partial"})

	if _, err := e.placeOrder(ctx, types.OrderIntent{
		Symbol:      trade.Symbol,
		Direction:   exitDir,
		Quantity:    qty,
		Kind:        types.OrderMarket,
		ProductType: e.cfg.ProductType,
		ClientTag:   tag,
	}); err != nil {
		return fmt.Errorf("place partial: %w", err)
	}
	return nil
}

// MoveStop modifies the resting stop order to a new trigger.
func (e *Executor) MoveStop(ctx context.Context, date, tradeID string, newStop float64) error {
	trade, err := e.ledger.Get(date, tradeID)
	if err != nil {
		return err
	}
	if trade.StopOrderID == "" {
		return fmt.Errorf("trade %s has no stop order", tradeID)
	}
	newStop = types.RoundToTick(newStop, e.cfg.TickSize)
	if err := e.broker.ModifyOrder(ctx, trade.StopOrderID, 0, newStop, 0); err != nil {
		return fmt.Errorf("modify stop: %w", err)
	}
	return e.ledger.Update(date, tradeID, func(t *types.Trade) error {
		t.StopLoss = newStop
		return nil
	})
}

// HandleUpdate settles trades from broker order events.
func (e *Executor) HandleUpdate(ctx context.Context, u types.OrderUpdate) {
	tag := u.ClientTag
	if tag == "" {
		return
	}

	// entry waiters get the event directly
	e.mu.Lock()
	if w, ok := e.waiters[tag]; ok {
		e.mu.Unlock()
		select {
		case w <- u:
		default:
		}
		return
	}
	ref, ok := e.tags[tag]
	e.mu.Unlock()
	if !ok {
		// not ours; likely a manual order on the same account
		e.logger.Debug("unmatched order event", "tag", tag, "state", u.State)
		return
	}
	if u.State != types.OrderStateFilled {
		// a protective order dying under an open position loses the
		// bracket discipline; repair it
		if (ref.purpose == "sl" || ref.purpose == "tp") &&
			(u.State == types.OrderStateCancelled || u.State == types.OrderStateRejected) {
			e.repairBracket(ctx, ref, u)
		}
		return
	}

	switch ref.purpose {
	case "sl":
		e.settle(ctx, ref, u, types.TradeStoppedOut, "stop loss hit")
	case "tp":
		e.settle(ctx, ref, u, types.TradeClosed, "target hit")
	case "close":
		e.settleClose(ref, u)
	case "partial":
		e.settlePartial(ctx, ref, u)
	}
}

// settle handles a bracket fill: realize, journal the terminal state, and
// cancel the surviving sibling.
func (e *Executor) settle(ctx context.Context, ref tagRef, u types.OrderUpdate, status types.TradeStatus, reason string) {
	trade, err := e.ledger.Get(ref.date, ref.tradeID)
	if err != nil {
		e.logger.Error("settle: trade lookup", "trade", ref.tradeID, "error", err)
		return
	}
	if trade.Status.Terminal() {
		return
	}

	sibling := trade.TPOrderID
	if ref.purpose == "tp" {
		sibling = trade.StopOrderID
	}
	if sibling != "" {
		if err := e.cancelOwn(ctx, sibling); err != nil && !errors.Is(err, types.ErrOrderNotFound) {
			e.logger.Error("cancel sibling bracket", "order_id", sibling, "error", err)
		}
	}

	if err := e.ledger.Update(ref.date, ref.tradeID, func(t *types.Trade) error {
		t.ExitPrice = u.AvgPrice
		t.RealizedPnL = types.MoneyAdd(t.RealizedPnL, realized(t.Direction, t.OpenQty, t.AvgFill, u.AvgPrice))
		t.OpenQty = 0
		return nil
	}); err != nil {
		e.logger.Error("settle: update", "trade", ref.tradeID, "error", err)
		return
	}
	if err := e.ledger.Transition(ref.date, ref.tradeID, status, fmt.Sprintf("%s @ %.2f", reason, u.AvgPrice)); err != nil {
		e.logger.Error("settle: transition", "trade", ref.tradeID, "error", err)
	}
}

func (e *Executor) settleClose(ref tagRef, u types.OrderUpdate) {
	if err := e.ledger.Update(ref.date, ref.tradeID, func(t *types.Trade) error {
		t.ExitPrice = u.AvgPrice
		t.RealizedPnL = types.MoneyAdd(t.RealizedPnL, realized(t.Direction, t.OpenQty, t.AvgFill, u.AvgPrice))
		t.OpenQty = 0
		return nil
	}); err != nil {
		e.logger.Error("close: update", "trade", ref.tradeID, "error", err)
		return
	}
	if err := e.ledger.Transition(ref.date, ref.tradeID, types.TradeClosed, fmt.Sprintf("closed @ %.2f", u.AvgPrice)); err != nil {
		e.logger.Error("close: transition", "trade", ref.tradeID, "error", err)
	}
}

// settlePartial books the harvested slice and resizes the surviving
// brackets to the remaining quantity.
func (e *Executor) settlePartial(ctx context.Context, ref tagRef, u types.OrderUpdate) {
	var remaining int
	var stopID, tpID string
	if err := e.ledger.Update(ref.date, ref.tradeID, func(t *types.Trade) error {
		t.RealizedPnL = types.MoneyAdd(t.RealizedPnL, realized(t.Direction, u.FilledQty, t.AvgFill, u.AvgPrice))
		t.OpenQty -= u.FilledQty
		t.PartialDone = true
		remaining = t.OpenQty
		stopID, tpID = t.StopOrderID, t.TPOrderID
		return nil
	}); err != nil {
		e.logger.Error("partial: update", "trade", ref.tradeID, "error", err)
		return
	}
	if remaining > 0 {
		if stopID != "" {
			if err := e.broker.ModifyOrder(ctx, stopID, 0, 0, remaining); err != nil {
				e.logger.Error("resize stop after partial", "order_id", stopID, "error", err)
			}
		}
		if tpID != "" {
			if err := e.broker.ModifyOrder(ctx, tpID, 0, 0, remaining); err != nil {
				e.logger.Error("resize target after partial", "order_id", tpID, "error", err)
			}
		}
	}
	e.logger.Info("partial booked", "trade", ref.tradeID, "qty", u.FilledQty, "remaining", remaining)
}

// placeOrder submits one intent, retrying once when the failure is
// transient (rate limit or venue 5xx). The client tag makes the retry
// idempotent if the first attempt did reach the venue.
func (e *Executor) placeOrder(ctx context.Context, intent types.OrderIntent) (string, error) {
	id, err := e.broker.PlaceOrder(ctx, intent)
	if err == nil || !types.IsRetryable(err) {
		return id, err
	}
	e.logger.Warn("transient placement failure, retrying", "tag", intent.ClientTag, "error", err)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(retryDelay):
	}
	return e.broker.PlaceOrder(ctx, intent)
}

// farSideQty totals the visible quantity a market order would take out: a
// buy lifts the asks, a sell hits the bids.
func farSideQty(depth *types.Depth, dir types.Direction) int64 {
	levels := depth.Asks
	if dir == types.Short {
		levels = depth.Bids
	}
	var total int64
	for _, l := range levels {
		total += l.Qty
	}
	return total
}

func realized(dir types.Direction, qty int, avgFill, exit float64) float64 {
	if dir == types.Long {
		return types.MoneyMul(qty, exit-avgFill)
	}
	return types.MoneyMul(qty, avgFill-exit)
}

func (e *Executor) register(tag string, ref tagRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tags[tag] = ref
}

func (e *Executor) addWaiter(tag string) chan types.OrderUpdate {
	ch := make(chan types.OrderUpdate, 4)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waiters[tag] = ch
	return ch
}

func (e *Executor) removeWaiter(tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.waiters, tag)
}

// TagPurpose extracts the purpose suffix of a client tag.
func TagPurpose(tag string) string {
	if i := strings.LastIndex(tag, "-"); i >= 0 {
		return tag[i+1:]
	}
	return ""
}
