package analyst

import (
	"fmt"
	"log/slog"
	"sort"

	"intradesk/pkg/types"
)

// Reporter builds the end-of-day self-evaluation from the trade book.
type Reporter struct {
	logger *slog.Logger
}

// NewReporter creates the post-trade reporter.
func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{logger: logger.With("component", "analyst.posttrade")}
}

// BuildDayReport scores the day. quotes marks any position still open at
// report time (normally none after the session flatten). prior carries
// decided trades from earlier sessions; they feed analyst accuracy so the
// scoreboard spans days, but never the day's own counts or P&L.
func (r *Reporter) BuildDayReport(date string, trades []types.Trade, quotes map[string]types.Quote, prior []types.Trade) *types.DayReport {
	report := &types.DayReport{Date: date}

	var realizedAmounts []float64
	acc := make(map[string]*types.AnalystAccuracy)

	for _, t := range trades {
		realizedAmounts = append(realizedAmounts, t.RealizedPnL)
		if !t.Status.Terminal() {
			if q, ok := quotes[t.Symbol]; ok {
				report.UnrealizedPnL = types.MoneyAdd(report.UnrealizedPnL, t.UnrealizedPnL(q.Last))
			}
			continue
		}
		if t.Status == types.TradeRejected || t.Status == types.TradeExpired {
			continue
		}
		report.TotalTrades++
		won := t.RealizedPnL > 0
		if won {
			report.Winners++
		} else if t.RealizedPnL < 0 {
			report.Losers++
		}
		scoreSignals(acc, t)
	}
	for _, t := range prior {
		if !t.Status.Terminal() || t.Status == types.TradeRejected || t.Status == types.TradeExpired {
			continue
		}
		scoreSignals(acc, t)
	}

	report.RealizedPnL = types.MoneyAdd(realizedAmounts...)
	if decided := report.Winners + report.Losers; decided > 0 {
		report.HitRate = float64(report.Winners) / float64(decided)
	}

	for _, a := range acc {
		if a.Calls > 0 {
			a.HitRate = float64(a.Correct) / float64(a.Calls)
		}
		report.AnalystAccuracy = append(report.AnalystAccuracy, *a)
	}
	sort.Slice(report.AnalystAccuracy, func(i, j int) bool {
		return report.AnalystAccuracy[i].AnalystID < report.AnalystAccuracy[j].AnalystID
	})

	report.Lessons = r.lessons(report, trades)
	return report
}

// scoreSignals credits a decided trade's contributing signals: a signal
// called the move correctly when its sign predicted the direction the
// price actually went.
func scoreSignals(acc map[string]*types.AnalystAccuracy, t types.Trade) {
	if t.RealizedPnL == 0 {
		return
	}
	priceRose := (t.Direction == types.Long) == (t.RealizedPnL > 0)
	for _, sig := range t.Contributing {
		a, ok := acc[sig.AnalystID]
		if !ok {
			a = &types.AnalystAccuracy{AnalystID: sig.AnalystID}
			acc[sig.AnalystID] = a
		}
		if sig.Score == 0 {
			continue
		}
		a.Calls++
		if (sig.Score > 0) == priceRose {
			a.Correct++
		}
	}
}

func (r *Reporter) lessons(report *types.DayReport, trades []types.Trade) []string {
	var lessons []string

	if report.TotalTrades == 0 {
		lessons = append(lessons, "no trades taken; review candidate thresholds against the day's regime")
		return lessons
	}
	if report.HitRate < 0.5 {
		lessons = append(lessons, fmt.Sprintf("hit rate %.0f%% below even; tighten the conviction floor", report.HitRate*100))
	}
	var stopped, expired int
	for _, t := range trades {
		switch t.Status {
		case types.TradeStoppedOut:
			stopped++
		case types.TradeExpired:
			expired++
		}
	}
	if stopped > report.Winners {
		lessons = append(lessons, fmt.Sprintf("%d stop-outs against %d winners; initial stops may be too tight for the regime", stopped, report.Winners))
	}
	if expired > 0 {
		lessons = append(lessons, fmt.Sprintf("%d entries expired unfilled; entry ranges may be too passive", expired))
	}
	if report.RealizedPnL < 0 {
		lessons = append(lessons, "negative day; confirm the daily loss floor engaged before adding risk tomorrow")
	}
	return lessons
}
