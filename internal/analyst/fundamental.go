package analyst

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"intradesk/internal/broker"
	"intradesk/internal/indicators"
	"intradesk/internal/marketdata"
	"intradesk/pkg/types"
)

// Fundamental scores longer-horizon strength: quarterly trend, proximity to
// the period high, and participation from daily history, blended with the
// vendor's company figures when it covers the symbol.
type Fundamental struct {
	broker broker.Broker
	source marketdata.Source
	logger *slog.Logger
	now    func() time.Time
}

// NewFundamental creates the fundamentals analyst.
func NewFundamental(b broker.Broker, src marketdata.Source, logger *slog.Logger) *Fundamental {
	return &Fundamental{
		broker: b,
		source: src,
		logger: logger.With("component", "analyst.fundamental"),
		now:    time.Now,
	}
}

// SetClock overrides the clock for tests.
func (f *Fundamental) SetClock(now func() time.Time) { f.now = now }

func (f *Fundamental) ID() string { return "fundamental" }
func (f *Fundamental) Bound() int { return FundamentalBound }

func (f *Fundamental) Analyze(ctx context.Context, universe []types.Instrument) (*types.SignalSet, error) {
	set := &types.SignalSet{}
	now := f.now()
	from := now.AddDate(0, -6, 0)

	for _, inst := range universe {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candles, err := f.broker.History(ctx, inst.Symbol, types.Interval1d, from, now)
		if err != nil {
			f.logger.Warn("history unavailable", "symbol", inst.Symbol, "error", err)
			continue
		}
		score, rationale := f.score(candles, f.figures(ctx, inst.Symbol))
		set.Signals = append(set.Signals, types.StockSignal{
			Symbol:     inst.Symbol,
			AnalystID:  f.ID(),
			Score:      score,
			Bound:      f.Bound(),
			Confidence: scoreConfidence(score, f.Bound()),
			Rationale:  rationale,
			ProducedAt: now,
		})
	}
	return set, nil
}

// figures fetches the vendor's company snapshot; a symbol the vendor does
// not cover, or a feed failure, reads as not covered.
func (f *Fundamental) figures(ctx context.Context, symbol string) *marketdata.Fundamentals {
	if f.source == nil {
		return nil
	}
	fig, ok, err := f.source.Fundamentals(ctx, symbol)
	if err != nil {
		f.logger.Warn("fundamentals unavailable", "symbol", symbol, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &fig
}

func (f *Fundamental) score(candles []types.Candle, fig *marketdata.Fundamentals) (int, string) {
	closes := indicators.Closes(candles)
	n := len(closes)
	if n == 0 {
		return 0, "no data"
	}
	last := closes[n-1]
	score := 0
	var drivers []string

	// quarterly trend
	quarter := 63
	if n > quarter {
		base := closes[n-1-quarter]
		if last > base {
			score++
			drivers = append(drivers, "quarter up")
		} else {
			score--
			drivers = append(drivers, "quarter down")
		}
	}
	// proximity to the period high
	high := closes[0]
	for _, c := range closes {
		if c > high {
			high = c
		}
	}
	switch {
	case last >= high*0.95:
		score++
		drivers = append(drivers, "near period high")
	case last <= high*0.80:
		score--
		drivers = append(drivers, "deep below period high")
	}
	// participation: recent volume vs the longer base
	if n >= 40 {
		var recent, base int64
		for _, c := range candles[len(candles)-20:] {
			recent += c.Volume
		}
		for _, c := range candles[len(candles)-40 : len(candles)-20] {
			base += c.Volume
		}
		if base > 0 && recent > base {
			score++
			drivers = append(drivers, "volume building")
		}
	}
	// vendor figures, when covered
	if fig != nil {
		if fig.EPSGrowthPct >= 15 {
			score++
			drivers = append(drivers, "eps growing")
		} else if fig.EPSGrowthPct < 0 {
			score--
			drivers = append(drivers, "eps shrinking")
		}
		if fig.ROEPct >= 15 {
			score++
			drivers = append(drivers, "strong roe")
		}
		if fig.DebtToEquity > 2 {
			score--
			drivers = append(drivers, "leveraged balance sheet")
		}
	}
	return clampScore(score, f.Bound()), strings.Join(drivers, ", ")
}
