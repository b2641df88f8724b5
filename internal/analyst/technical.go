package analyst

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"intradesk/internal/broker"
	"intradesk/internal/indicators"
	"intradesk/pkg/types"
)

// indexSymbol anchors relative-strength scoring.
const indexSymbol = "NSE:NIFTY50-INDEX"

// Technical scores each symbol from its daily chart: trend, momentum,
// volume confirmation, and strength relative to the index.
type Technical struct {
	broker broker.Broker
	logger *slog.Logger
	now    func() time.Time
}

// NewTechnical creates the technical analyst.
func NewTechnical(b broker.Broker, logger *slog.Logger) *Technical {
	return &Technical{
		broker: b,
		logger: logger.With("component", "analyst.technical"),
		now:    time.Now,
	}
}

// SetClock overrides the clock for tests.
func (t *Technical) SetClock(now func() time.Time) { t.now = now }

func (t *Technical) ID() string { return "technical" }
func (t *Technical) Bound() int { return TechnicalBound }

// Analyze walks the universe; a symbol whose history is unavailable is
// skipped with a warning, never failing the whole stage.
func (t *Technical) Analyze(ctx context.Context, universe []types.Instrument) (*types.SignalSet, error) {
	set := &types.SignalSet{}
	now := t.now()
	from := now.AddDate(0, 0, -120)

	var idxReturns []float64
	if idx, err := t.broker.History(ctx, indexSymbol, types.Interval1d, from, now); err != nil {
		t.logger.Warn("index history unavailable, relative strength off", "error", err)
	} else {
		idxReturns = indicators.Returns(indicators.Closes(idx))
	}

	for _, inst := range universe {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candles, err := t.broker.History(ctx, inst.Symbol, types.Interval1d, from, now)
		if err != nil {
			t.logger.Warn("history unavailable", "symbol", inst.Symbol, "error", err)
			continue
		}
		score, rationale := t.score(candles, idxReturns)
		set.Signals = append(set.Signals, types.StockSignal{
			Symbol:     inst.Symbol,
			AnalystID:  t.ID(),
			Score:      score,
			Bound:      t.Bound(),
			Confidence: scoreConfidence(score, t.Bound()),
			Rationale:  rationale,
			ProducedAt: now,
		})
	}
	return set, nil
}

func (t *Technical) score(candles []types.Candle, idxReturns []float64) (int, string) {
	closes := indicators.Closes(candles)
	if len(closes) == 0 {
		return 0, "no data"
	}
	last := closes[len(closes)-1]
	score := 0
	var drivers []string

	trendUp, haveTrend := false, false
	if sma20, ok := indicators.SMA(closes, 20); ok {
		haveTrend = true
		trendUp = last > sma20
		if trendUp {
			score++
			drivers = append(drivers, "above 20sma")
		} else {
			score--
			drivers = append(drivers, "below 20sma")
		}
	}
	// ADX grades trend strength only; direction comes from the 20sma side
	if haveTrend {
		if adx, ok := indicators.ADX(candles, 14); ok && adx >= 25 {
			if trendUp {
				score++
				drivers = append(drivers, "adx confirms trend")
			} else {
				score--
				drivers = append(drivers, "adx confirms downtrend")
			}
		}
	}
	if sma50, ok := indicators.SMA(closes, 50); ok {
		if last > sma50 {
			score++
			drivers = append(drivers, "above 50sma")
		} else {
			score--
			drivers = append(drivers, "below 50sma")
		}
	}
	if rsi, ok := indicators.RSI(closes, 14); ok {
		switch {
		case rsi < 30:
			score++
			drivers = append(drivers, fmt.Sprintf("rsi %.0f oversold", rsi))
		case rsi > 70:
			score--
			drivers = append(drivers, fmt.Sprintf("rsi %.0f overbought", rsi))
		}
	}
	if macd, ok := indicators.MACD(closes, 12, 26, 9); ok {
		if macd.Histogram > 0 {
			score++
			drivers = append(drivers, "macd rising")
		} else if macd.Histogram < 0 {
			score--
			drivers = append(drivers, "macd falling")
		}
	}
	if bb, ok := indicators.Bollinger(closes, 20, 2); ok {
		if last < bb.Lower {
			score++
			drivers = append(drivers, "below lower band")
		} else if last > bb.Upper {
			score--
			drivers = append(drivers, "above upper band")
		}
	}
	if k, ok := indicators.Stochastic(candles, 14); ok {
		if k < 20 {
			score++
			drivers = append(drivers, "stochastic oversold")
		} else if k > 80 {
			score--
			drivers = append(drivers, "stochastic stretched")
		}
	}
	if vwap, ok := indicators.VWAP(candles[max(0, len(candles)-20):]); ok {
		if last > vwap {
			score++
			drivers = append(drivers, "above vwap")
		} else if last < vwap {
			score--
			drivers = append(drivers, "below vwap")
		}
	}
	if n := len(candles); n > 10 {
		if cur, prior := indicators.OBV(candles), indicators.OBV(candles[:n-10]); cur > prior {
			score++
			drivers = append(drivers, "obv accumulating")
		} else if cur < prior {
			score--
			drivers = append(drivers, "obv distributing")
		}
	}
	if len(candles) > 21 {
		sup, res, ok := indicators.SupportResistance(candles[:len(candles)-1], 20)
		if ok && last > res {
			score++
			drivers = append(drivers, "20-day breakout")
		} else if ok && last < sup {
			score--
			drivers = append(drivers, "20-day breakdown")
		}
	}
	if len(candles) >= 2 {
		c := candles[len(candles)-1]
		prev := candles[len(candles)-2]
		up := c.Close > prev.Close
		heavier := c.Volume > prev.Volume
		if up && heavier {
			score++
			drivers = append(drivers, "volume confirms")
		} else if !up && heavier {
			score--
			drivers = append(drivers, "distribution")
		}
	}
	if driver, pts, ok := relativeStrength(closes, idxReturns); ok {
		score += pts
		drivers = append(drivers, driver)
	}
	return clampScore(score, t.Bound()), strings.Join(drivers, ", ")
}

// relativeStrength compares the stock's recent return to what its beta to
// the index predicts. Only names that actually track the index (correlation
// at least 0.3 over the common window) are judged this way.
func relativeStrength(closes, idxReturns []float64) (string, int, bool) {
	const window = 20

	rets := indicators.Returns(closes)
	n := len(rets)
	if len(idxReturns) < n {
		n = len(idxReturns)
	}
	if n < window+10 {
		return "", 0, false
	}
	sa := rets[len(rets)-n:]
	ia := idxReturns[len(idxReturns)-n:]

	corr, ok := indicators.Correlation(sa, ia)
	if !ok || corr < 0.3 {
		return "", 0, false
	}
	beta, ok := indicators.Beta(sa, ia)
	if !ok {
		return "", 0, false
	}
	excess := sum(sa[n-window:]) - beta*sum(ia[n-window:])
	switch {
	case excess > 0.02:
		return "outpacing index", 1, true
	case excess < -0.02:
		return "lagging index", -1, true
	}
	return "", 0, false
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}
