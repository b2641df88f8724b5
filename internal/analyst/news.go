package analyst

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"intradesk/internal/marketdata"
	"intradesk/pkg/types"
)

// Summarizer builds the hourly news digest from the headline feed.
type Summarizer struct {
	source marketdata.Source
	logger *slog.Logger
	now    func() time.Time
}

// NewSummarizer creates the news summarizer.
func NewSummarizer(src marketdata.Source, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		source: src,
		logger: logger.With("component", "analyst.news"),
		now:    time.Now,
	}
}

// SetClock overrides the clock for tests.
func (s *Summarizer) SetClock(now func() time.Time) { s.now = now }

// Digest summarizes headlines published at or after since. universe, when
// non-empty, filters affected symbols to names the desk actually trades.
// A failing feed yields a neutral empty digest rather than an error: news
// outages must not halt a workflow.
func (s *Summarizer) Digest(ctx context.Context, since time.Time, universe []types.Instrument) (*types.NewsDigest, error) {
	now := s.now()
	digest := &types.NewsDigest{ProducedAt: now, Sentiment: types.Neutral}

	events, err := s.source.Headlines(ctx, since)
	if err != nil {
		s.logger.Warn("headline feed unavailable", "error", err)
		return digest, nil
	}

	tradeable := make(map[string]bool, len(universe))
	for _, inst := range universe {
		tradeable[inst.Symbol] = true
	}

	var pos, neg int
	affected := make(map[string]bool)
	for _, ev := range events {
		switch HeadlineTone(ev.Headline) {
		case 1:
			pos++
		case -1:
			neg++
		}
		digest.KeyEvents = append(digest.KeyEvents, ev)
		for _, sym := range ev.Symbols {
			if len(universe) == 0 || tradeable[sym] {
				affected[sym] = true
			}
		}
	}
	for sym := range affected {
		digest.AffectedSymbols = append(digest.AffectedSymbols, sym)
	}
	sort.Strings(digest.AffectedSymbols)

	switch {
	case neg > pos:
		digest.Sentiment = types.RiskOff
	case pos > neg:
		digest.Sentiment = types.RiskOn
	}
	return digest, nil
}
