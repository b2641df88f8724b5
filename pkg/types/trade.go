package types

import (
	"fmt"
	"time"
)

// TradeStatus is the lifecycle state of a managed trade.
type TradeStatus string

const (
	TradePending    TradeStatus = "PENDING"     // approved, not yet sent
	TradeWorking    TradeStatus = "WORKING"     // entry order resting at the broker
	TradeOpen       TradeStatus = "OPEN"        // entry filled, brackets active
	TradeClosing    TradeStatus = "CLOSING"     // close order sent, awaiting fill
	TradeClosed     TradeStatus = "CLOSED"      // flat, realized P&L final
	TradeRejected   TradeStatus = "REJECTED"    // broker refused the entry
	TradeExpired    TradeStatus = "EXPIRED"     // entry never filled, cancelled
	TradeStoppedOut TradeStatus = "STOPPED_OUT" // stop-loss bracket filled
)

// Terminal reports whether no further transitions are possible.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeClosed, TradeRejected, TradeExpired, TradeStoppedOut:
		return true
	}
	return false
}

// tradeTransitions is the allowed state graph. Anything not listed is
// illegal and must leave the trade untouched.
var tradeTransitions = map[TradeStatus][]TradeStatus{
	TradePending: {TradeWorking, TradeRejected},
	TradeWorking: {TradeOpen, TradeExpired, TradeRejected},
	TradeOpen:    {TradeClosing, TradeStoppedOut, TradeClosed},
	TradeClosing: {TradeClosed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to TradeStatus) bool {
	for _, next := range tradeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one journaled state change on a trade.
type Transition struct {
	From   TradeStatus `json:"from"`
	To     TradeStatus `json:"to"`
	At     time.Time   `json:"at"`
	Reason string      `json:"reason"`
}

// Trade is the full record of one position from approval to flat. The ledger
// owns mutation; everything else reads copies.
type Trade struct {
	ID        string      `json:"id"`
	Date      string      `json:"date"` // trading session YYYY-MM-DD
	Symbol    string      `json:"symbol"`
	Sector    string      `json:"sector"`
	Direction Direction   `json:"direction"`
	Status    TradeStatus `json:"status"`

	Quantity    int     `json:"quantity"`     // original size
	OpenQty     int     `json:"open_qty"`     // remaining after partials
	EntryPrice  float64 `json:"entry_price"`  // planned entry
	AvgFill     float64 `json:"avg_fill"`     // actual entry fill
	StopLoss    float64 `json:"stop_loss"`    // current protective stop
	InitialStop float64 `json:"initial_stop"` // stop as placed (defines 1R)
	TakeProfit  float64 `json:"take_profit"`
	ExitPrice   float64 `json:"exit_price,omitempty"`

	RealizedPnL float64 `json:"realized_pnl"`
	PartialDone bool    `json:"partial_done"` // half already harvested

	EntryOrderID string `json:"entry_order_id,omitempty"`
	StopOrderID  string `json:"stop_order_id,omitempty"`
	TPOrderID    string `json:"tp_order_id,omitempty"`

	Contributing []StockSignal `json:"contributing_signals,omitempty"`
	OpenedAt     time.Time     `json:"opened_at,omitempty"`
	ClosedAt     time.Time     `json:"closed_at,omitempty"`
	Journal      []Transition  `json:"journal"`
}

// InitialRisk is the per-share distance between entry and the initial stop,
// the unit ("1R") trailing and partial rules are expressed in.
func (t *Trade) InitialRisk() float64 {
	d := t.EntryPrice - t.InitialStop
	if d < 0 {
		d = -d
	}
	return d
}

// UnrealizedPnL marks the remaining open quantity against last.
func (t *Trade) UnrealizedPnL(last float64) float64 {
	if t.OpenQty == 0 || t.AvgFill == 0 {
		return 0
	}
	if t.Direction == Long {
		return (last - t.AvgFill) * float64(t.OpenQty)
	}
	return (t.AvgFill - last) * float64(t.OpenQty)
}

// RMultiple expresses the open P&L per share in units of initial risk.
func (t *Trade) RMultiple(last float64) float64 {
	r := t.InitialRisk()
	if r == 0 || t.AvgFill == 0 {
		return 0
	}
	if t.Direction == Long {
		return (last - t.AvgFill) / r
	}
	return (t.AvgFill - last) / r
}

// Apply journals a transition after checking it against the state graph.
func (t *Trade) Apply(to TradeStatus, at time.Time, reason string) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("trade %s: illegal transition %s -> %s", t.ID, t.Status, to)
	}
	t.Journal = append(t.Journal, Transition{From: t.Status, To: to, At: at, Reason: reason})
	t.Status = to
	switch to {
	case TradeOpen:
		t.OpenedAt = at
	case TradeClosed, TradeStoppedOut, TradeExpired, TradeRejected:
		t.ClosedAt = at
	}
	return nil
}

// ClientTag builds the idempotency tag for one order purpose (entry, sl,
// tp, close) derived from the trade ID prefix.
func (t *Trade) ClientTag(purpose string) string {
	id := t.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return id + "-" + purpose
}
