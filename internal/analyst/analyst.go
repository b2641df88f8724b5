// Package analyst houses the research pipeline: the regime gate, the four
// scoring analysts that run as a parallel group, the aggregator that turns
// signals into candidates, the risk sizer, the news summarizer, and the
// post-trade reporter.
//
// Analysts are deliberately simple heuristics over the indicator kernel and
// the market-data feeds. What matters to the orchestrator is the contract:
// each returns a SignalSet whose scores sit inside the analyst's declared
// bound, and a missing data source degrades to fewer signals, never to a
// failed stage.
package analyst

import (
	"context"
	"time"

	"intradesk/pkg/types"
)

// Score bounds per analyst. Technical carries the widest range because it
// is the primary intraday driver.
const (
	TechnicalBound   = 5
	FundamentalBound = 3
	IntelBound       = 3
	DerivativeBound  = 3
)

// Analyst scores the universe from one perspective.
type Analyst interface {
	ID() string
	Bound() int
	Analyze(ctx context.Context, universe []types.Instrument) (*types.SignalSet, error)
}

// Volatility-index ceilings for each regime band.
const (
	vixCalmCeiling     = 12.0
	vixNormalCeiling   = 20.0
	vixElevatedCeiling = 30.0
)

// ClassifyRegime maps the volatility index to a regime and its position
// multiplier. Above the elevated ceiling the day is halted and the
// multiplier pins to zero.
func ClassifyRegime(vix float64, asOf time.Time) *types.Regime {
	r := &types.Regime{VIX: vix, AsOf: asOf}
	switch {
	case vix < vixCalmCeiling:
		r.State = types.RegimeCalm
		r.PositionMultiplier = 1.25
	case vix < vixNormalCeiling:
		r.State = types.RegimeNormal
		r.PositionMultiplier = 1.0
	case vix < vixElevatedCeiling:
		r.State = types.RegimeElevated
		r.PositionMultiplier = 0.5
	default:
		r.State = types.RegimeHalt
		r.PositionMultiplier = 0
	}
	return r
}

// clampScore folds a raw score into [-bound, bound].
func clampScore(score, bound int) int {
	if score > bound {
		return bound
	}
	if score < -bound {
		return -bound
	}
	return score
}

// scoreConfidence maps score magnitude to [0.5, 1.0]: a full-bound score is
// a confident call, a zero score is a coin flip.
func scoreConfidence(score, bound int) float64 {
	if bound == 0 {
		return 0.5
	}
	mag := score
	if mag < 0 {
		mag = -mag
	}
	return 0.5 + 0.5*float64(mag)/float64(bound)
}
