// Package marketdata supplies the non-broker context feeds: the volatility
// index, news headlines, market breadth, institutional flows, company
// fundamentals, and the event calendar. The orchestrator treats these as a
// port so workflows run identically against the HTTP source and the
// static source used in tests. Feeds the vendor lacks read as empty, not
// as errors, so a thin vendor degrades scoring instead of failing runs.
package marketdata

import (
	"context"
	"time"

	"intradesk/pkg/types"
)

// Breadth is the advance/decline read across the universe.
type Breadth struct {
	Advancers int       `json:"advancers"`
	Decliners int       `json:"decliners"`
	Unchanged int       `json:"unchanged"`
	AsOf      time.Time `json:"as_of"`
}

// Ratio is advancers per decliner; a decliner count of zero reads as the
// advancer count to keep the scale finite.
func (b Breadth) Ratio() float64 {
	if b.Decliners == 0 {
		return float64(b.Advancers)
	}
	return float64(b.Advancers) / float64(b.Decliners)
}

// Flows is the day's net institutional buying, in currency units.
type Flows struct {
	FIINet float64   `json:"fii_net"`
	DIINet float64   `json:"dii_net"`
	AsOf   time.Time `json:"as_of"`
}

// Net is the combined institutional tilt.
func (f Flows) Net() float64 { return f.FIINet + f.DIINet }

// Fundamentals is the vendor's snapshot of one company's figures.
type Fundamentals struct {
	Symbol       string  `json:"symbol"`
	PERatio      float64 `json:"pe_ratio"`
	EPSGrowthPct float64 `json:"eps_growth_pct"`
	ROEPct       float64 `json:"roe_pct"`
	DebtToEquity float64 `json:"debt_to_equity"`
}

// CalendarEvent is one scheduled market event: earnings, policy, expiry.
type CalendarEvent struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Title   string    `json:"title"`
	Symbols []string  `json:"symbols"`
}

// Source is the context-feed port.
type Source interface {
	// VIX returns the current volatility index level.
	VIX(ctx context.Context) (float64, error)

	// Headlines returns news events published at or after since.
	Headlines(ctx context.Context, since time.Time) ([]types.NewsEvent, error)

	// Breadth returns the advance/decline snapshot.
	Breadth(ctx context.Context) (Breadth, error)

	// Flows returns the institutional flow snapshot. A vendor without the
	// feed returns the zero value.
	Flows(ctx context.Context) (Flows, error)

	// Fundamentals returns one company's figures; ok is false when the
	// vendor covers nothing for the symbol.
	Fundamentals(ctx context.Context, symbol string) (Fundamentals, bool, error)

	// Events returns scheduled market events inside [from, to].
	Events(ctx context.Context, from, to time.Time) ([]CalendarEvent, error)
}
