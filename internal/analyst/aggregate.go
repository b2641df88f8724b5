package analyst

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"intradesk/internal/broker"
	"intradesk/internal/indicators"
	"intradesk/pkg/types"
)

// AggregateConfig tunes candidate selection.
type AggregateConfig struct {
	MinComposite  float64 // conviction floor on the summed score (default 4)
	MaxPerSector  int     // default 3
	MinRewardRisk float64 // default 1.5
	TargetMovePct float64 // minimum target distance as a fraction of entry (default 0.01)
	MaxDayMovePct float64 // day move past which a candidate is chased, not traded (default 4)
	StopATR       float64 // initial stop distance in ATRs (default 1.0)
	ATRPeriod     int     // default 14
}

// Aggregator folds the analysts' signal sets into the day's candidate list.
type Aggregator struct {
	broker broker.Broker
	cfg    AggregateConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewAggregator creates the aggregator.
func NewAggregator(b broker.Broker, cfg AggregateConfig, logger *slog.Logger) *Aggregator {
	if cfg.MinComposite == 0 {
		cfg.MinComposite = 4
	}
	if cfg.MaxPerSector == 0 {
		cfg.MaxPerSector = 3
	}
	if cfg.MinRewardRisk == 0 {
		cfg.MinRewardRisk = 1.5
	}
	if cfg.TargetMovePct == 0 {
		cfg.TargetMovePct = 0.01
	}
	if cfg.MaxDayMovePct == 0 {
		cfg.MaxDayMovePct = 4
	}
	if cfg.StopATR == 0 {
		cfg.StopATR = 1.0
	}
	if cfg.ATRPeriod == 0 {
		cfg.ATRPeriod = 14
	}
	return &Aggregator{
		broker: b,
		cfg:    cfg,
		logger: logger.With("component", "analyst.aggregator"),
		now:    time.Now,
	}
}

// SetClock overrides the clock for tests.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

type tally struct {
	symbol     string
	sector     string
	composite  float64
	confidence float64
	signals    []types.StockSignal
}

// Aggregate builds the candidate set. A HALT regime yields an empty set;
// a symbol whose quote or history is unavailable is skipped.
func (a *Aggregator) Aggregate(ctx context.Context, regime *types.Regime, sets []*types.SignalSet, universe []types.Instrument) (*types.CandidateSet, error) {
	out := &types.CandidateSet{Regime: regime.State}
	if regime.State == types.RegimeHalt {
		return out, nil
	}

	sectors := make(map[string]string, len(universe))
	for _, inst := range universe {
		sectors[inst.Symbol] = inst.Sector
	}

	bySymbol := make(map[string]*tally)
	for _, set := range sets {
		if set == nil {
			continue
		}
		for _, sig := range set.Signals {
			t, ok := bySymbol[sig.Symbol]
			if !ok {
				t = &tally{symbol: sig.Symbol, sector: sectors[sig.Symbol]}
				bySymbol[t.symbol] = t
			}
			t.composite += float64(sig.Score)
			t.signals = append(t.signals, sig)
		}
	}

	var ranked []*tally
	for _, t := range bySymbol {
		var sum float64
		for _, s := range t.signals {
			sum += s.Confidence
		}
		t.confidence = sum / float64(len(t.signals))
		if abs(t.composite) >= a.cfg.MinComposite && t.confidence >= types.MinCandidateConfidence {
			ranked = append(ranked, t)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if abs(ranked[i].composite) != abs(ranked[j].composite) {
			return abs(ranked[i].composite) > abs(ranked[j].composite)
		}
		return ranked[i].symbol < ranked[j].symbol
	})

	perSector := make(map[string]int)
	for _, t := range ranked {
		if perSector[t.sector] >= a.cfg.MaxPerSector {
			a.logger.Debug("sector full", "symbol", t.symbol, "sector", t.sector)
			continue
		}
		cand, ok := a.build(ctx, t)
		if !ok {
			continue
		}
		out.Candidates = append(out.Candidates, cand)
		perSector[t.sector]++
	}
	return out, nil
}

// build prices the candidate: entry range from the current book, stop one
// configured ATR beyond the near edge, target at the better of the minimum
// reward-to-risk and the minimum move.
func (a *Aggregator) build(ctx context.Context, t *tally) (types.Candidate, bool) {
	quotes, err := a.broker.Quote(ctx, []string{t.symbol})
	if err != nil {
		a.logger.Warn("quote unavailable", "symbol", t.symbol, "error", err)
		return types.Candidate{}, false
	}
	q := quotes[t.symbol]

	// a name that already ran its day move offers no edge, only chase risk
	if move := q.ChangePct(); (t.composite > 0 && move >= a.cfg.MaxDayMovePct) ||
		(t.composite < 0 && move <= -a.cfg.MaxDayMovePct) {
		a.logger.Debug("extended on the day, skipping", "symbol", t.symbol, "move_pct", move)
		return types.Candidate{}, false
	}

	now := a.now()
	candles, err := a.broker.History(ctx, t.symbol, types.Interval1d, now.AddDate(0, 0, -60), now)
	if err != nil {
		a.logger.Warn("history unavailable", "symbol", t.symbol, "error", err)
		return types.Candidate{}, false
	}
	atr, ok := indicators.ATR(candles, a.cfg.ATRPeriod)
	if !ok || atr <= 0 {
		return types.Candidate{}, false
	}

	tick := types.DefaultTickSize
	c := types.Candidate{
		Symbol:       t.symbol,
		Sector:       t.sector,
		Confidence:   t.confidence,
		Contributing: t.signals,
		EntryLow:     types.RoundDownToTick(q.Bid, tick),
		EntryHigh:    types.RoundUpToTick(q.Ask, tick),
	}
	c.CompositeScore = t.composite
	mid := c.EntryMid()

	if t.composite > 0 {
		c.Direction = types.Long
		c.StopLoss = types.RoundDownToTick(c.EntryLow-a.cfg.StopATR*atr, tick)
		risk := mid - c.StopLoss
		move := a.cfg.MinRewardRisk * risk
		if floor := a.cfg.TargetMovePct * mid; move < floor {
			move = floor
		}
		c.TakeProfit = types.RoundUpToTick(mid+move, tick)
	} else {
		c.Direction = types.Short
		c.StopLoss = types.RoundUpToTick(c.EntryHigh+a.cfg.StopATR*atr, tick)
		risk := c.StopLoss - mid
		move := a.cfg.MinRewardRisk * risk
		if floor := a.cfg.TargetMovePct * mid; move < floor {
			move = floor
		}
		c.TakeProfit = types.RoundDownToTick(mid-move, tick)
	}

	cand, err := types.NewCandidate(c, a.cfg.TargetMovePct)
	if err != nil {
		a.logger.Warn("candidate rejected", "symbol", t.symbol, "error", err)
		return types.Candidate{}, false
	}
	return cand, true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
