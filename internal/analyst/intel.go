package analyst

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"intradesk/internal/marketdata"
	"intradesk/pkg/types"
)

// MarketIntel scores from the context feeds. Market breadth and net
// institutional flows set a common tailwind or headwind, symbol-specific
// headlines move individual scores by their tone, and an imminent
// calendar event docks the symbols it names.
type MarketIntel struct {
	source marketdata.Source
	logger *slog.Logger
	now    func() time.Time
}

// NewMarketIntel creates the market-intelligence analyst.
func NewMarketIntel(src marketdata.Source, logger *slog.Logger) *MarketIntel {
	return &MarketIntel{
		source: src,
		logger: logger.With("component", "analyst.intel"),
		now:    time.Now,
	}
}

// SetClock overrides the clock for tests.
func (m *MarketIntel) SetClock(now func() time.Time) { m.now = now }

func (m *MarketIntel) ID() string { return "market_intel" }
func (m *MarketIntel) Bound() int { return IntelBound }

func (m *MarketIntel) Analyze(ctx context.Context, universe []types.Instrument) (*types.SignalSet, error) {
	set := &types.SignalSet{}
	now := m.now()

	// breadth shifts every score by one point; feed failures read neutral
	tailwind := 0
	if breadth, err := m.source.Breadth(ctx); err != nil {
		m.logger.Warn("breadth unavailable", "error", err)
	} else if ratio := breadth.Ratio(); ratio >= 1.5 {
		tailwind = 1
	} else if ratio <= 0.67 {
		tailwind = -1
	}

	// net institutional buying adds a second market-wide point; an empty
	// feed reads as zero and tilts nothing
	flowTilt := 0
	if flows, err := m.source.Flows(ctx); err != nil {
		m.logger.Warn("flows unavailable", "error", err)
	} else if net := flows.Net(); net >= flowTiltFloor {
		flowTilt = 1
	} else if net <= -flowTiltFloor {
		flowTilt = -1
	}

	tone := make(map[string]int)
	since := now.Add(-24 * time.Hour)
	events, err := m.source.Headlines(ctx, since)
	if err != nil {
		m.logger.Warn("headlines unavailable", "error", err)
	}
	for _, ev := range events {
		t := HeadlineTone(ev.Headline)
		for _, sym := range ev.Symbols {
			tone[sym] += t
		}
	}

	// symbols with a scheduled event in the next two days carry extra risk
	eventRisk := make(map[string]bool)
	if cal, err := m.source.Events(ctx, now, now.Add(48*time.Hour)); err != nil {
		m.logger.Warn("calendar unavailable", "error", err)
	} else {
		for _, ev := range cal {
			for _, sym := range ev.Symbols {
				eventRisk[sym] = true
			}
		}
	}

	for _, inst := range universe {
		score := tailwind + flowTilt + clampScore(tone[inst.Symbol], 2)
		var drivers []string
		if tailwind > 0 {
			drivers = append(drivers, "breadth positive")
		} else if tailwind < 0 {
			drivers = append(drivers, "breadth negative")
		}
		if flowTilt > 0 {
			drivers = append(drivers, "institutional buying")
		} else if flowTilt < 0 {
			drivers = append(drivers, "institutional selling")
		}
		if tone[inst.Symbol] > 0 {
			drivers = append(drivers, "headlines positive")
		} else if tone[inst.Symbol] < 0 {
			drivers = append(drivers, "headlines negative")
		}
		if eventRisk[inst.Symbol] {
			score--
			drivers = append(drivers, "event imminent")
		}
		score = clampScore(score, m.Bound())
		set.Signals = append(set.Signals, types.StockSignal{
			Symbol:     inst.Symbol,
			AnalystID:  m.ID(),
			Score:      score,
			Bound:      m.Bound(),
			Confidence: scoreConfidence(score, m.Bound()),
			Rationale:  strings.Join(drivers, ", "),
			ProducedAt: now,
		})
	}
	return set, nil
}

// flowTiltFloor is the net institutional flow, in the vendor's currency
// units, below which the read counts as noise.
const flowTiltFloor = 500

var (
	negativeWords = []string{
		"probe", "fraud", "downgrade", "miss", "misses", "recall", "strike",
		"penalty", "lawsuit", "default", "resign", "plunge", "ban", "raid",
	}
	positiveWords = []string{
		"beat", "beats", "upgrade", "record", "wins", "approval", "surge",
		"expansion", "buyback", "dividend", "order win", "contract",
	}
)

// HeadlineTone classifies one headline as +1, 0, or -1 by keyword.
func HeadlineTone(headline string) int {
	h := strings.ToLower(headline)
	for _, w := range negativeWords {
		if strings.Contains(h, w) {
			return -1
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(h, w) {
			return 1
		}
	}
	return 0
}
