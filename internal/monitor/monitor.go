// Package monitor implements the periodic control loop over open trades.
//
// Each run loads the open trades and current prices, computes live R
// multiples and rolling ATR, and applies the decision table: trail winners,
// harvest partials, close trades whose thesis the news digest invalidated,
// tighten everything near the close, and flatten at the cutoff. A final
// guard tightens stops proportionally whenever the worst-case loss at
// current stops would breach the daily loss floor.
//
// The monitor never opens a position. All order changes go through the
// execution engine, so the ledger and the venue stay consistent.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"intradesk/internal/broker"
	"intradesk/internal/indicators"
	"intradesk/internal/ledger"
	"intradesk/pkg/types"
)

// OrderDesk is the slice of the execution engine the monitor drives.
type OrderDesk interface {
	MoveStop(ctx context.Context, date, tradeID string, newStop float64) error
	CloseTrade(ctx context.Context, date, tradeID, reason string) error
	BookPartial(ctx context.Context, date, tradeID string, qty int) error
}

// Config tunes the decision table. Zero values take the defaults below.
type Config struct {
	TrailTriggerR    float64 // R multiple that starts trailing (default 1.0)
	KATR             float64 // trail distance in ATRs (default 2.0)
	PartialTriggerR  float64 // R multiple that books half (default 2.0)
	TightenAfter     string  // HH:MM venue time (default 15:00)
	FlattenAfter     string  // HH:MM venue time (default 15:15)
	TightenFrac      float64 // tightened stop distance in ATRs (default 0.5)
	StopProximityATR float64 // ATR fraction at which a loser's stop counts as imminent (default 0.25)
	ATRPeriod        int     // default 14
	Capital          float64
	MaxDailyLoss     float64 // fraction of capital
}

// Monitor is the position control loop.
type Monitor struct {
	broker  broker.Broker
	ledger  *ledger.Ledger
	desk    OrderDesk
	cfg     Config
	logger  *slog.Logger
	tighten int // minute of day
	flatten int
}

// New creates a monitor. Invalid HH:MM strings are rejected.
func New(b broker.Broker, l *ledger.Ledger, desk OrderDesk, cfg Config, logger *slog.Logger) (*Monitor, error) {
	if cfg.TrailTriggerR == 0 {
		cfg.TrailTriggerR = 1.0
	}
	if cfg.KATR == 0 {
		cfg.KATR = 2.0
	}
	if cfg.PartialTriggerR == 0 {
		cfg.PartialTriggerR = 2.0
	}
	if cfg.TightenAfter == "" {
		cfg.TightenAfter = "15:00"
	}
	if cfg.FlattenAfter == "" {
		cfg.FlattenAfter = "15:15"
	}
	if cfg.TightenFrac == 0 {
		cfg.TightenFrac = 0.5
	}
	if cfg.StopProximityATR == 0 {
		cfg.StopProximityATR = 0.25
	}
	if cfg.ATRPeriod == 0 {
		cfg.ATRPeriod = 14
	}
	tighten, err := minuteOfDay(cfg.TightenAfter)
	if err != nil {
		return nil, fmt.Errorf("monitor tighten time: %w", err)
	}
	flatten, err := minuteOfDay(cfg.FlattenAfter)
	if err != nil {
		return nil, fmt.Errorf("monitor flatten time: %w", err)
	}
	return &Monitor{
		broker:  b,
		ledger:  l,
		desk:    desk,
		cfg:     cfg,
		logger:  logger.With("component", "monitor"),
		tighten: tighten,
		flatten: flatten,
	}, nil
}

func minuteOfDay(hhmm string) (int, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", hhmm)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range: %q", hhmm)
	}
	return h*60 + m, nil
}

// Run executes one monitoring pass. digest may be nil when the news
// workflow has not produced one yet. Trades are visited in ID order so the
// same state always yields the same modifications.
func (m *Monitor) Run(ctx context.Context, date string, now time.Time, digest *types.NewsDigest) (*types.MonitorLog, error) {
	log := &types.MonitorLog{}

	open, err := m.ledger.Open(date)
	if err != nil {
		return nil, err
	}
	var trades []types.Trade
	for _, t := range open {
		if t.Status == types.TradeOpen {
			trades = append(trades, t)
		}
	}
	log.OpenTrades = len(trades)

	realized, err := m.ledger.RealizedPnL(date)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		log.NetPnL = realized
		return log, nil
	}

	symbols := make([]string, 0, len(trades))
	seen := make(map[string]bool)
	for _, t := range trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}
	quotes, err := m.broker.Quote(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("monitor quotes: %w", err)
	}

	minute := now.Hour()*60 + now.Minute()
	var unrealized float64

	for i := range trades {
		t := &trades[i]
		q, ok := quotes[t.Symbol]
		if !ok {
			m.logger.Warn("no quote for open trade", "trade", t.ID, "symbol", t.Symbol)
			continue
		}
		last := q.Last
		unrealized += t.UnrealizedPnL(last)

		if minute >= m.flatten {
			m.close(ctx, log, t, "session flatten")
			continue
		}
		if digest != nil && digest.Sentiment == types.RiskOff && digest.Affects(t.Symbol) {
			m.close(ctx, log, t, "news invalidation")
			continue
		}

		r := t.RMultiple(last)
		if r >= m.cfg.PartialTriggerR && !t.PartialDone && t.OpenQty >= 2 {
			half := t.OpenQty / 2
			if err := m.desk.BookPartial(ctx, date, t.ID, half); err != nil {
				m.logger.Error("book partial", "trade", t.ID, "error", err)
			} else {
				log.Actions = append(log.Actions, types.MonitorAction{
					TradeID: t.ID, Action: "BOOK_PARTIAL", Qty: half,
					Reason: fmt.Sprintf("%.1fR reached", r),
				})
				t.OpenQty -= half
				t.PartialDone = true
			}
		}

		atr, atrOK := m.rollingATR(ctx, t.Symbol, now)
		// a loser trading within a fraction of an ATR of its stop is about
		// to be taken out anyway; close it before the slip
		if atrOK && r < 0 && stopDistance(t, last) <= m.cfg.StopProximityATR*atr {
			m.close(ctx, log, t, "stop imminent")
			continue
		}
		if atrOK && r >= m.cfg.TrailTriggerR {
			m.trail(ctx, log, t, last, m.cfg.KATR*atr, fmt.Sprintf("trail at %.1fR", r))
		}
		if atrOK && minute >= m.tighten {
			m.trail(ctx, log, t, last, m.cfg.TightenFrac*atr, "tighten near close")
		}
	}

	m.guardLossFloor(ctx, log, trades, realized)

	log.NetPnL = types.MoneyAdd(realized, unrealized)
	m.logger.Info("monitor pass complete",
		"open", log.OpenTrades, "actions", len(log.Actions), "net_pnl", log.NetPnL)
	return log, nil
}

func (m *Monitor) close(ctx context.Context, log *types.MonitorLog, t *types.Trade, reason string) {
	if err := m.desk.CloseTrade(ctx, t.Date, t.ID, reason); err != nil {
		m.logger.Error("close trade", "trade", t.ID, "error", err)
		return
	}
	log.Actions = append(log.Actions, types.MonitorAction{TradeID: t.ID, Action: "CLOSE", Reason: reason})
	t.OpenQty = 0
	t.Status = types.TradeClosing
}

// trail moves the stop to distance behind the price, never against the
// trade. The local copy tracks the move so later rules in the same pass see
// the updated stop.
func (m *Monitor) trail(ctx context.Context, log *types.MonitorLog, t *types.Trade, last, distance float64, reason string) {
	var candidate float64
	if t.Direction == types.Long {
		candidate = types.RoundDownToTick(last-distance, types.DefaultTickSize)
		if candidate <= t.StopLoss {
			return
		}
	} else {
		candidate = types.RoundUpToTick(last+distance, types.DefaultTickSize)
		if candidate >= t.StopLoss {
			return
		}
	}
	if err := m.desk.MoveStop(ctx, t.Date, t.ID, candidate); err != nil {
		m.logger.Error("move stop", "trade", t.ID, "error", err)
		return
	}
	log.Actions = append(log.Actions, types.MonitorAction{
		TradeID: t.ID, Action: "MODIFY_SL", NewStop: candidate, Reason: reason,
	})
	t.StopLoss = candidate
}

// guardLossFloor tightens stops proportionally when realized P&L plus the
// worst case at current stops would breach the daily loss floor.
func (m *Monitor) guardLossFloor(ctx context.Context, log *types.MonitorLog, trades []types.Trade, realized float64) {
	if m.cfg.MaxDailyLoss <= 0 || m.cfg.Capital <= 0 {
		return
	}
	floor := -m.cfg.MaxDailyLoss * m.cfg.Capital

	var atRisk, locked float64
	for i := range trades {
		t := &trades[i]
		if t.Status != types.TradeOpen || t.OpenQty == 0 {
			continue
		}
		p := stopPnL(t)
		if p < 0 {
			atRisk += p
		} else {
			locked += p
		}
	}
	worst := types.MoneyAdd(realized, atRisk, locked)
	if worst >= floor || atRisk == 0 {
		return
	}

	// shrink every at-risk stop distance by the same factor
	allowed := floor - realized - locked // most negative total the stops may represent
	scale := allowed / atRisk
	if scale < 0 {
		scale = 0
	}
	for i := range trades {
		t := &trades[i]
		if t.Status != types.TradeOpen || t.OpenQty == 0 || stopPnL(t) >= 0 {
			continue
		}
		var candidate float64
		if t.Direction == types.Long {
			candidate = types.RoundUpToTick(t.AvgFill-scale*(t.AvgFill-t.StopLoss), types.DefaultTickSize)
			if candidate <= t.StopLoss {
				continue
			}
		} else {
			candidate = types.RoundDownToTick(t.AvgFill+scale*(t.StopLoss-t.AvgFill), types.DefaultTickSize)
			if candidate >= t.StopLoss {
				continue
			}
		}
		if err := m.desk.MoveStop(ctx, t.Date, t.ID, candidate); err != nil {
			m.logger.Error("loss floor tighten", "trade", t.ID, "error", err)
			continue
		}
		log.Actions = append(log.Actions, types.MonitorAction{
			TradeID: t.ID, Action: "MODIFY_SL", NewStop: candidate, Reason: "daily loss floor guard",
		})
		t.StopLoss = candidate
	}
}

// stopDistance is how far price has to travel before the stop triggers.
func stopDistance(t *types.Trade, last float64) float64 {
	if t.Direction == types.Long {
		return last - t.StopLoss
	}
	return t.StopLoss - last
}

// stopPnL is the P&L this trade realizes if its current stop fills.
func stopPnL(t *types.Trade) float64 {
	if t.Direction == types.Long {
		return types.MoneyMul(t.OpenQty, t.StopLoss-t.AvgFill)
	}
	return types.MoneyMul(t.OpenQty, t.AvgFill-t.StopLoss)
}

// rollingATR computes the day-session ATR from five-minute candles.
func (m *Monitor) rollingATR(ctx context.Context, symbol string, now time.Time) (float64, bool) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, now.Location())
	candles, err := m.broker.History(ctx, symbol, types.Interval5m, from, now)
	if err != nil {
		m.logger.Warn("history unavailable for trailing", "symbol", symbol, "error", err)
		return 0, false
	}
	return indicators.ATR(candles, m.cfg.ATRPeriod)
}
