// Package ledger owns the trade records. Every trade lives in a per-date
// JSON file; every state change goes through the journal on the trade
// itself and is flushed atomically before the mutation returns, so the
// on-disk ledger is never more than one transition behind reality.
// Broker positions are the reconciliation truth: Reconcile reports every
// divergence between the ledger's open quantities and the venue's, and
// ApplyReconciliation corrects the trades to match the venue.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"intradesk/pkg/types"
)

// Ledger is the persistent trade book, one file per trading date.
type Ledger struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
	now    func() time.Time

	// days are loaded lazily and kept hot; date -> trade ID -> trade
	days map[string]map[string]*types.Trade
}

// New creates a ledger rooted at dir.
func New(dir string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &Ledger{
		dir:    dir,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
		days:   make(map[string]map[string]*types.Trade),
	}, nil
}

// SetClock overrides the ledger's clock for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) path(date string) string {
	return filepath.Join(l.dir, date+".json")
}

func (l *Ledger) dayLocked(date string) (map[string]*types.Trade, error) {
	if day, ok := l.days[date]; ok {
		return day, nil
	}
	day := make(map[string]*types.Trade)
	data, err := os.ReadFile(l.path(date))
	if err == nil {
		var trades []*types.Trade
		if err := json.Unmarshal(data, &trades); err != nil {
			return nil, fmt.Errorf("parse ledger %s: %w", date, err)
		}
		for _, t := range trades {
			day[t.ID] = t
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read ledger %s: %w", date, err)
	}
	l.days[date] = day
	return day, nil
}

// flushLocked writes one date's trades atomically, ID-sorted for stable
// diffs.
func (l *Ledger) flushLocked(date string) error {
	day := l.days[date]
	trades := make([]*types.Trade, 0, len(day))
	for _, t := range day {
		trades = append(trades, t)
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ID < trades[j].ID })

	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger %s: %w", date, err)
	}
	tmp := l.path(date) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger temp: %w", err)
	}
	if err := os.Rename(tmp, l.path(date)); err != nil {
		return fmt.Errorf("rename ledger file: %w", err)
	}
	return nil
}

// Create admits a new trade in PENDING.
func (l *Ledger) Create(trade *types.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day, err := l.dayLocked(trade.Date)
	if err != nil {
		return err
	}
	if _, exists := day[trade.ID]; exists {
		return fmt.Errorf("trade %s already exists", trade.ID)
	}
	if trade.Status == "" {
		trade.Status = types.TradePending
	}
	if trade.InitialStop == 0 {
		trade.InitialStop = trade.StopLoss
	}
	day[trade.ID] = trade
	l.logger.Info("trade created", "trade", trade.ID, "symbol", trade.Symbol, "qty", trade.Quantity)
	return l.flushLocked(trade.Date)
}

// Transition applies a journaled state change. Illegal transitions return
// an error and leave the trade and the file untouched.
func (l *Ledger) Transition(date, id string, to types.TradeStatus, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trade, err := l.getLocked(date, id)
	if err != nil {
		return err
	}
	if err := trade.Apply(to, l.now(), reason); err != nil {
		return err
	}
	l.logger.Info("trade transition", "trade", id, "to", to, "reason", reason)
	return l.flushLocked(date)
}

// Update applies fn to the trade under the lock and flushes. fn returning
// an error aborts without persisting.
func (l *Ledger) Update(date, id string, fn func(*types.Trade) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trade, err := l.getLocked(date, id)
	if err != nil {
		return err
	}
	if err := fn(trade); err != nil {
		return err
	}
	return l.flushLocked(date)
}

func (l *Ledger) getLocked(date, id string) (*types.Trade, error) {
	day, err := l.dayLocked(date)
	if err != nil {
		return nil, err
	}
	trade, ok := day[id]
	if !ok {
		return nil, fmt.Errorf("trade %s not found in %s", id, date)
	}
	return trade, nil
}

// Get returns a copy of one trade.
func (l *Ledger) Get(date, id string) (types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	trade, err := l.getLocked(date, id)
	if err != nil {
		return types.Trade{}, err
	}
	return *trade, nil
}

// Trades returns copies of all trades for a date, ID-sorted.
func (l *Ledger) Trades(date string) ([]types.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	day, err := l.dayLocked(date)
	if err != nil {
		return nil, err
	}
	out := make([]types.Trade, 0, len(day))
	for _, t := range day {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Open returns copies of the date's non-terminal trades.
func (l *Ledger) Open(date string) ([]types.Trade, error) {
	all, err := l.Trades(date)
	if err != nil {
		return nil, err
	}
	var out []types.Trade
	for _, t := range all {
		if !t.Status.Terminal() {
			out = append(out, t)
		}
	}
	return out, nil
}

// RealizedPnL sums the date's realized P&L with exact arithmetic.
func (l *Ledger) RealizedPnL(date string) (float64, error) {
	all, err := l.Trades(date)
	if err != nil {
		return 0, err
	}
	amounts := make([]float64, 0, len(all))
	for _, t := range all {
		amounts = append(amounts, t.RealizedPnL)
	}
	return types.MoneyAdd(amounts...), nil
}

// Discrepancy is one divergence between the ledger and the venue.
type Discrepancy struct {
	Symbol    string
	LedgerQty int
	BrokerQty int
}

// Reconcile compares the ledger's open quantities against the venue's net
// positions. Broker truth wins: callers adjust the ledger from the
// returned list, never the other way around.
func (l *Ledger) Reconcile(date string, positions []types.BrokerPosition) ([]Discrepancy, error) {
	open, err := l.Open(date)
	if err != nil {
		return nil, err
	}

	ledgerQty := make(map[string]int)
	for _, t := range open {
		if t.Status != types.TradeOpen && t.Status != types.TradeClosing {
			continue
		}
		q := t.OpenQty
		if t.Direction == types.Short {
			q = -q
		}
		ledgerQty[t.Symbol] += q
	}
	brokerQty := make(map[string]int)
	for _, p := range positions {
		brokerQty[p.Symbol] = p.NetQty
	}

	seen := make(map[string]bool)
	var out []Discrepancy
	for sym, lq := range ledgerQty {
		seen[sym] = true
		if bq := brokerQty[sym]; bq != lq {
			out = append(out, Discrepancy{Symbol: sym, LedgerQty: lq, BrokerQty: bq})
		}
	}
	for sym, bq := range brokerQty {
		if !seen[sym] && bq != 0 {
			out = append(out, Discrepancy{Symbol: sym, LedgerQty: 0, BrokerQty: bq})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	for _, d := range out {
		l.logger.Warn("reconciliation divergence", "symbol", d.Symbol, "ledger", d.LedgerQty, "broker", d.BrokerQty)
	}
	return out, nil
}

// ApplyReconciliation corrects the ledger from a divergence list. Broker
// truth wins: a symbol the venue reports flat closes its open trades; a
// quantity mismatch resizes the open trade to the venue's number. Every
// correction lands in the trade's journal.
func (l *Ledger) ApplyReconciliation(date string, discrepancies []Discrepancy) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day, err := l.dayLocked(date)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(day))
	for id := range day {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	changed := false
	for _, d := range discrepancies {
		remaining := d.BrokerQty
		for _, id := range ids {
			t := day[id]
			if t.Symbol != d.Symbol {
				continue
			}
			if t.Status != types.TradeOpen && t.Status != types.TradeClosing {
				continue
			}

			venueQty := remaining
			if t.Direction == types.Short {
				venueQty = -venueQty
			}
			if venueQty < 0 {
				venueQty = 0
			}
			if venueQty > t.Quantity {
				venueQty = t.Quantity
			}
			if venueQty == t.OpenQty {
				continue
			}

			reason := fmt.Sprintf("reconciliation: venue reports %d, ledger had %d", venueQty, t.OpenQty)
			t.OpenQty = venueQty
			if venueQty == 0 {
				if err := t.Apply(types.TradeClosed, l.now(), reason); err != nil {
					l.logger.Error("reconciliation close", "trade", t.ID, "error", err)
					continue
				}
			} else {
				// same-state audit entry; Apply rejects self-transitions
				t.Journal = append(t.Journal, types.Transition{
					From: t.Status, To: t.Status, At: l.now(), Reason: reason,
				})
			}
			l.logger.Warn("reconciliation applied", "trade", t.ID, "symbol", t.Symbol, "open_qty", venueQty)
			changed = true

			signed := venueQty
			if t.Direction == types.Short {
				signed = -signed
			}
			remaining -= signed
		}
	}
	if !changed {
		return nil
	}
	return l.flushLocked(date)
}
