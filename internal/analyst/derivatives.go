package analyst

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"intradesk/internal/broker"
	"intradesk/internal/indicators"
	"intradesk/pkg/types"
)

const (
	ivHistoryMin = 10 // samples before an IV rank is trusted
	ivHistoryCap = 60
)

// Derivatives reads positioning from the option chain: put/call ratio,
// where the spot sits relative to max pain, and the rank of today's ATM
// implied volatility inside the trailing history this analyst accumulates
// run over run. Symbols without a listed chain are skipped.
type Derivatives struct {
	broker broker.Broker
	logger *slog.Logger
	now    func() time.Time
	expiry string // nearest expiry code, empty = venue default
	ivHist map[string][]float64
}

// NewDerivatives creates the derivatives analyst.
func NewDerivatives(b broker.Broker, expiry string, logger *slog.Logger) *Derivatives {
	return &Derivatives{
		broker: b,
		logger: logger.With("component", "analyst.derivatives"),
		now:    time.Now,
		expiry: expiry,
		ivHist: make(map[string][]float64),
	}
}

// SetClock overrides the clock for tests.
func (d *Derivatives) SetClock(now func() time.Time) { d.now = now }

func (d *Derivatives) ID() string { return "derivatives" }
func (d *Derivatives) Bound() int { return DerivativeBound }

func (d *Derivatives) Analyze(ctx context.Context, universe []types.Instrument) (*types.SignalSet, error) {
	set := &types.SignalSet{}
	now := d.now()

	for _, inst := range universe {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chain, err := d.broker.OptionChain(ctx, inst.Symbol, d.expiry)
		if err != nil {
			// most of the universe has no listed options; that is not noise
			// worth logging per symbol
			continue
		}
		rank, rankOK := d.rankIV(inst.Symbol, chain)
		score, rationale := d.score(chain, rank, rankOK)
		set.Signals = append(set.Signals, types.StockSignal{
			Symbol:     inst.Symbol,
			AnalystID:  d.ID(),
			Score:      score,
			Bound:      d.Bound(),
			Confidence: scoreConfidence(score, d.Bound()),
			Rationale:  rationale,
			ProducedAt: now,
		})
	}
	return set, nil
}

// rankIV folds today's ATM implied volatility into the symbol's trailing
// history and ranks it there. Analyze runs on one goroutine, so the map
// needs no lock.
func (d *Derivatives) rankIV(symbol string, chain *types.OptionChain) (float64, bool) {
	iv, ok := atmIV(chain)
	if !ok {
		return 0, false
	}
	hist := append(d.ivHist[symbol], iv)
	if len(hist) > ivHistoryCap {
		hist = hist[len(hist)-ivHistoryCap:]
	}
	d.ivHist[symbol] = hist
	if len(hist) < ivHistoryMin {
		return 0, false
	}
	return indicators.IVRank(iv, hist)
}

// atmIV averages the implied volatility quoted at the strike nearest spot.
func atmIV(chain *types.OptionChain) (float64, bool) {
	if chain.Spot <= 0 || len(chain.Strikes) == 0 {
		return 0, false
	}
	best := chain.Strikes[0].Strike
	for _, s := range chain.Strikes {
		if math.Abs(s.Strike-chain.Spot) < math.Abs(best-chain.Spot) {
			best = s.Strike
		}
	}
	var sum float64
	var n int
	for _, s := range chain.Strikes {
		if s.Strike == best && s.IV > 0 {
			sum += s.IV
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func (d *Derivatives) score(chain *types.OptionChain, ivRank float64, ivOK bool) (int, string) {
	score := 0
	var drivers []string

	if pcr, ok := indicators.PCR(chain.Strikes); ok {
		switch {
		case pcr >= 1.2:
			score += 2
			drivers = append(drivers, "put writing heavy")
		case pcr <= 0.7:
			score -= 2
			drivers = append(drivers, "call writing heavy")
		}
	}
	if pain, ok := indicators.MaxPain(chain.Strikes); ok && chain.Spot > 0 {
		if chain.Spot < pain*0.99 {
			score++
			drivers = append(drivers, "spot below max pain")
		} else if chain.Spot > pain*1.01 {
			score--
			drivers = append(drivers, "spot above max pain")
		}
	}
	if ivOK && ivRank >= 0.8 {
		score--
		drivers = append(drivers, "iv rank elevated")
	}
	return clampScore(score, d.Bound()), strings.Join(drivers, ", ")
}
