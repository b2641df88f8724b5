package analyst

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"intradesk/internal/broker/sim"
	"intradesk/internal/marketdata"
	"intradesk/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyRegime(t *testing.T) {
	t.Parallel()

	now := time.Now()
	for _, tt := range []struct {
		vix   float64
		state types.RegimeState
		mult  float64
	}{
		{11.0, types.RegimeCalm, 1.25},
		{11.99, types.RegimeCalm, 1.25},
		{12.0, types.RegimeNormal, 1.0},
		{19.99, types.RegimeNormal, 1.0},
		{20.0, types.RegimeElevated, 0.5},
		{29.99, types.RegimeElevated, 0.5},
		{30.0, types.RegimeHalt, 0},
		{45.0, types.RegimeHalt, 0},
	} {
		r := ClassifyRegime(tt.vix, now)
		if r.State != tt.state || r.PositionMultiplier != tt.mult {
			t.Errorf("vix %.2f -> %s/%.2f, want %s/%.2f", tt.vix, r.State, r.PositionMultiplier, tt.state, tt.mult)
		}
		if err := r.Validate(); err != nil {
			t.Errorf("vix %.2f: %v", tt.vix, err)
		}
	}
}

// trendCandles produces a steadily rising daily series with growing volume.
func trendCandles(n int, start, step float64) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		c := start + step*float64(i)
		out[i] = types.Candle{Open: c - step/2, High: c + 1, Low: c - 1, Close: c, Volume: int64(1000 + 10*i)}
	}
	return out
}

func TestTechnicalScoresTrend(t *testing.T) {
	t.Parallel()

	b := sim.New(1_000_000, nil)
	b.SetHistory("INFY", trendCandles(80, 100, 0.5))
	universe := []types.Instrument{{Symbol: "INFY", Sector: "IT"}, {Symbol: "MISSING", Sector: "IT"}}

	ta := NewTechnical(b, testLogger())
	set, err := ta.Analyze(context.Background(), universe)
	if err != nil {
		t.Fatal(err)
	}
	if err := set.Validate(); err != nil {
		t.Fatal(err)
	}
	// the symbol without history is skipped, not fatal
	if len(set.Signals) != 1 {
		t.Fatalf("signals = %+v", set.Signals)
	}
	sig := set.Signals[0]
	if sig.Score <= 0 {
		t.Errorf("uptrend scored %d", sig.Score)
	}
	if sig.Score > TechnicalBound {
		t.Errorf("score %d above bound", sig.Score)
	}
	if !strings.Contains(sig.Rationale, "adx confirms trend") {
		t.Errorf("rationale %q missing trend-strength driver", sig.Rationale)
	}
	if sig.Confidence < 0.5 || sig.Confidence > 1 {
		t.Errorf("confidence = %.2f", sig.Confidence)
	}
}

// candlesFromReturns builds a daily series that realizes the given
// one-step returns exactly.
func candlesFromReturns(start float64, rets []float64) []types.Candle {
	out := make([]types.Candle, 0, len(rets)+1)
	price := start
	out = append(out, types.Candle{Open: price, High: price, Low: price, Close: price, Volume: 1000})
	for _, r := range rets {
		price *= 1 + r
		out = append(out, types.Candle{Open: price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 1000})
	}
	return out
}

func TestTechnicalRelativeStrength(t *testing.T) {
	t.Parallel()

	// the stock tracks the index move for move but adds 30bp a day
	idx := make([]float64, 60)
	strong := make([]float64, 60)
	for i := range idx {
		if i%2 == 0 {
			idx[i] = 0.004
		} else {
			idx[i] = -0.002
		}
		strong[i] = idx[i] + 0.003
	}

	b := sim.New(1_000_000, nil)
	b.SetHistory(indexSymbol, candlesFromReturns(20000, idx))
	b.SetHistory("INFY", candlesFromReturns(100, strong))

	ta := NewTechnical(b, testLogger())
	set, err := ta.Analyze(context.Background(), []types.Instrument{{Symbol: "INFY", Sector: "IT"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Signals) != 1 {
		t.Fatalf("signals = %+v", set.Signals)
	}
	if !strings.Contains(set.Signals[0].Rationale, "outpacing index") {
		t.Errorf("rationale %q missing relative-strength driver", set.Signals[0].Rationale)
	}
}

func TestDerivativesIVRankCaution(t *testing.T) {
	t.Parallel()

	b := sim.New(1_000_000, nil)
	universe := []types.Instrument{{Symbol: "RELIANCE", Sector: "ENERGY"}}
	da := NewDerivatives(b, "2026-08-27", testLogger())

	// balanced OI keeps PCR and max pain neutral so only the IV drivers move
	chain := func(iv float64) types.OptionChain {
		return types.OptionChain{
			Underlying: "RELIANCE", Expiry: "2026-08-27", Spot: 100,
			Strikes: []types.OptionQuote{
				{Strike: 100, Type: "CE", OpenInterest: 1000, IV: iv},
				{Strike: 100, Type: "PE", OpenInterest: 1000, IV: iv},
			},
		}
	}

	for i := 0; i < ivHistoryMin; i++ {
		b.SetOptionChain("RELIANCE", chain(0.15))
		if _, err := da.Analyze(context.Background(), universe); err != nil {
			t.Fatal(err)
		}
	}

	// a spike to the top of the trailing range reads as caution
	b.SetOptionChain("RELIANCE", chain(0.45))
	set, err := da.Analyze(context.Background(), universe)
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Signals) != 1 {
		t.Fatalf("signals = %+v", set.Signals)
	}
	sig := set.Signals[0]
	if sig.Score >= 0 {
		t.Errorf("elevated iv rank scored %d, want negative", sig.Score)
	}
	if !strings.Contains(sig.Rationale, "iv rank elevated") {
		t.Errorf("rationale %q missing iv driver", sig.Rationale)
	}
}

func TestFundamentalBlendsVendorFigures(t *testing.T) {
	t.Parallel()

	// a flat series scores zero on price action alone, so any movement
	// comes from the vendor's figures
	flat := candlesFromReturns(100, make([]float64, 70))
	b := sim.New(1_000_000, nil)
	b.SetHistory("INFY", flat)
	b.SetHistory("TCS", flat)

	src := marketdata.NewStaticSource(15)
	src.SetFundamentals(marketdata.Fundamentals{
		Symbol: "INFY", EPSGrowthPct: 22, ROEPct: 19, DebtToEquity: 0.4,
	})

	fa := NewFundamental(b, src, testLogger())
	set, err := fa.Analyze(context.Background(), []types.Instrument{
		{Symbol: "INFY", Sector: "IT"}, {Symbol: "TCS", Sector: "IT"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Signals) != 2 {
		t.Fatalf("signals = %+v", set.Signals)
	}
	covered, uncovered := set.Signals[0], set.Signals[1]
	if covered.Score != uncovered.Score+2 {
		t.Errorf("figures moved score by %d, want 2 (covered %d, uncovered %d)",
			covered.Score-uncovered.Score, covered.Score, uncovered.Score)
	}
	if !strings.Contains(covered.Rationale, "eps growing") || !strings.Contains(covered.Rationale, "strong roe") {
		t.Errorf("rationale %q missing figure drivers", covered.Rationale)
	}
	if strings.Contains(uncovered.Rationale, "eps") {
		t.Errorf("uncovered symbol picked up figure drivers: %q", uncovered.Rationale)
	}
}

func TestIntelFlowsAndEventRisk(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	src := marketdata.NewStaticSource(15)
	src.SetBreadth(marketdata.Breadth{Advancers: 100, Decliners: 100})
	src.SetFlows(marketdata.Flows{FIINet: 800, DIINet: 150, AsOf: now})
	src.AddEvent(marketdata.CalendarEvent{
		At: now.Add(20 * time.Hour), Kind: "earnings", Title: "INFY Q1 results", Symbols: []string{"INFY"},
	})

	mi := NewMarketIntel(src, testLogger())
	mi.SetClock(func() time.Time { return now })
	set, err := mi.Analyze(context.Background(), []types.Instrument{
		{Symbol: "INFY", Sector: "IT"}, {Symbol: "TCS", Sector: "IT"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(set.Signals) != 2 {
		t.Fatalf("signals = %+v", set.Signals)
	}
	infy, tcs := set.Signals[0], set.Signals[1]

	// TCS rides the institutional tailwind; INFY gives the point back to
	// tomorrow's earnings
	if tcs.Score != 1 || !strings.Contains(tcs.Rationale, "institutional buying") {
		t.Errorf("tcs = %d %q", tcs.Score, tcs.Rationale)
	}
	if infy.Score != 0 || !strings.Contains(infy.Rationale, "event imminent") {
		t.Errorf("infy = %d %q", infy.Score, infy.Rationale)
	}

	// heavy selling flips the common tilt
	src.SetFlows(marketdata.Flows{FIINet: -900, DIINet: -200, AsOf: now})
	set, err = mi.Analyze(context.Background(), []types.Instrument{{Symbol: "TCS", Sector: "IT"}})
	if err != nil {
		t.Fatal(err)
	}
	if set.Signals[0].Score != -1 || !strings.Contains(set.Signals[0].Rationale, "institutional selling") {
		t.Errorf("selling day = %d %q", set.Signals[0].Score, set.Signals[0].Rationale)
	}
}

func TestHeadlineTone(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		headline string
		want     int
	}{
		{"Regulator opens probe into lender", -1},
		{"Q1 results beat street estimates", 1},
		{"Board meeting scheduled for Thursday", 0},
		{"Brokerage downgrade follows earnings miss", -1},
	} {
		if got := HeadlineTone(tt.headline); got != tt.want {
			t.Errorf("tone(%q) = %d, want %d", tt.headline, got, tt.want)
		}
	}
}

func signalsFor(symbols []string, analystID string, score, bound int, conf float64) *types.SignalSet {
	set := &types.SignalSet{}
	for _, sym := range symbols {
		set.Signals = append(set.Signals, types.StockSignal{
			Symbol: sym, AnalystID: analystID, Score: score, Bound: bound, Confidence: conf,
		})
	}
	return set
}

func TestAggregateBuildsLongCandidate(t *testing.T) {
	t.Parallel()

	b := sim.New(1_000_000, nil)
	b.SetPrice("INFY", 100)
	b.SetHistory("INFY", trendCandles(30, 98, 0.1))
	universe := []types.Instrument{{Symbol: "INFY", Sector: "IT", LotSize: 1}}

	agg := NewAggregator(b, AggregateConfig{}, testLogger())
	regime := ClassifyRegime(15, time.Now())
	sets := []*types.SignalSet{
		signalsFor([]string{"INFY"}, "technical", 4, 5, 0.9),
		signalsFor([]string{"INFY"}, "fundamental", 2, 3, 0.83),
	}

	cands, err := agg.Aggregate(context.Background(), regime, sets, universe)
	if err != nil {
		t.Fatal(err)
	}
	if err := cands.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(cands.Candidates) != 1 {
		t.Fatalf("candidates = %+v", cands.Candidates)
	}
	c := cands.Candidates[0]
	if c.Direction != types.Long {
		t.Errorf("direction = %s", c.Direction)
	}
	if !(c.StopLoss < c.EntryLow && c.TakeProfit > c.EntryHigh) {
		t.Errorf("geometry violated: sl=%.2f entry=[%.2f,%.2f] tp=%.2f", c.StopLoss, c.EntryLow, c.EntryHigh, c.TakeProfit)
	}
	if c.CompositeScore != 6 {
		t.Errorf("composite = %.1f", c.CompositeScore)
	}
	if len(c.Contributing) != 2 {
		t.Errorf("contributing = %+v", c.Contributing)
	}
}

func TestAggregateSkipsExtendedMover(t *testing.T) {
	t.Parallel()

	b := sim.New(1_000_000, nil)
	b.SetPrice("INFY", 100)
	b.SetPrevClose("INFY", 95) // already +5.3% on the day
	b.SetHistory("INFY", trendCandles(30, 98, 0.1))
	universe := []types.Instrument{{Symbol: "INFY", Sector: "IT", LotSize: 1}}

	agg := NewAggregator(b, AggregateConfig{}, testLogger())
	sets := []*types.SignalSet{signalsFor([]string{"INFY"}, "technical", 5, 5, 0.95)}

	cands, err := agg.Aggregate(context.Background(), ClassifyRegime(15, time.Now()), sets, universe)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands.Candidates) != 0 {
		t.Errorf("extended mover became a candidate: %+v", cands.Candidates)
	}
}

func TestAggregateSectorCapAndHalt(t *testing.T) {
	t.Parallel()

	b := sim.New(1_000_000, nil)
	symbols := []string{"BANKA", "BANKB", "BANKC", "BANKD"}
	var universe []types.Instrument
	for _, sym := range symbols {
		b.SetPrice(sym, 100)
		b.SetHistory(sym, trendCandles(30, 98, 0.1))
		universe = append(universe, types.Instrument{Symbol: sym, Sector: "BANK", LotSize: 1})
	}

	agg := NewAggregator(b, AggregateConfig{}, testLogger())
	sets := []*types.SignalSet{signalsFor(symbols, "technical", 5, 5, 0.95)}

	cands, err := agg.Aggregate(context.Background(), ClassifyRegime(15, time.Now()), sets, universe)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands.Candidates) != 3 {
		t.Errorf("sector cap leaked: %d candidates", len(cands.Candidates))
	}

	halted, err := agg.Aggregate(context.Background(), ClassifyRegime(35, time.Now()), sets, universe)
	if err != nil {
		t.Fatal(err)
	}
	if len(halted.Candidates) != 0 {
		t.Errorf("HALT produced candidates: %+v", halted.Candidates)
	}
	if halted.Regime != types.RegimeHalt {
		t.Errorf("regime = %s", halted.Regime)
	}
}

func TestAggregateLowConvictionFiltered(t *testing.T) {
	t.Parallel()

	b := sim.New(1_000_000, nil)
	b.SetPrice("INFY", 100)
	b.SetHistory("INFY", trendCandles(30, 98, 0.1))
	universe := []types.Instrument{{Symbol: "INFY", Sector: "IT", LotSize: 1}}

	agg := NewAggregator(b, AggregateConfig{}, testLogger())
	sets := []*types.SignalSet{signalsFor([]string{"INFY"}, "technical", 2, 5, 0.9)}

	cands, err := agg.Aggregate(context.Background(), ClassifyRegime(15, time.Now()), sets, universe)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands.Candidates) != 0 {
		t.Errorf("composite 2 cleared the floor: %+v", cands.Candidates)
	}
}

func seedCandidate(symbol, sector string, conf float64) types.Candidate {
	return types.Candidate{
		Symbol: symbol, Sector: sector, Direction: types.Long,
		CompositeScore: 6, Confidence: conf,
		EntryLow: 100.0, EntryHigh: 100.2, StopLoss: 99.0, TakeProfit: 101.2,
	}
}

func TestSizerDerivesQuantityFromRisk(t *testing.T) {
	t.Parallel()

	// per-trade budget = 0.0125 * 40000 * 1.0 = 500; stop distance from the
	// near edge = 100.0 - 99.0 = 1.0 -> quantity 500
	s := NewSizer(SizeConfig{Capital: 40000, PerTradeRisk: 0.0125, MaxDailyLoss: 0.05, ProductType: "INTRADAY"}, testLogger())
	cands := &types.CandidateSet{Candidates: []types.Candidate{seedCandidate("SYMA", "IT", 0.9)}}

	orders, err := s.Size(cands, ClassifyRegime(15, time.Now()), []types.Instrument{{Symbol: "SYMA", Sector: "IT", LotSize: 1}})
	if err != nil {
		t.Fatal(err)
	}
	if len(orders.Orders) != 1 {
		t.Fatalf("orders = %+v", orders)
	}
	o := orders.Orders[0]
	if o.Quantity != 500 {
		t.Errorf("quantity = %d, want 500", o.Quantity)
	}
	if o.EntryType != types.EntryMarket {
		t.Errorf("high-confidence entry type = %s, want MARKET", o.EntryType)
	}
	if o.EntryPrice != 100.0 || o.StopLoss != 99.0 || o.TakeProfit != 101.2 {
		t.Errorf("levels = %+v", o)
	}
	if len(o.Tag) != 8 || o.Tag != o.ID[:8] {
		t.Errorf("tag %q not seeded from order id %q", o.Tag, o.ID)
	}
	if err := orders.Validate(); err != nil {
		t.Error(err)
	}
}

func TestSizerLotAlignmentAndRegimeScale(t *testing.T) {
	t.Parallel()

	s := NewSizer(SizeConfig{Capital: 40000, PerTradeRisk: 0.0125, MaxDailyLoss: 0.05}, testLogger())
	cands := &types.CandidateSet{Candidates: []types.Candidate{seedCandidate("SYMA", "IT", 0.75)}}
	universe := []types.Instrument{{Symbol: "SYMA", Sector: "IT", LotSize: 150}}

	// ELEVATED halves the budget: 250 / 1.0 = 250 -> lot-aligned down to 150
	orders, err := s.Size(cands, ClassifyRegime(25, time.Now()), universe)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders.Orders) != 1 || orders.Orders[0].Quantity != 150 {
		t.Fatalf("orders = %+v", orders)
	}
	if orders.Orders[0].EntryType != types.EntryLimit {
		t.Errorf("moderate confidence should enter on limit")
	}
}

func TestSizerDailyRiskBudget(t *testing.T) {
	t.Parallel()

	// budget 500 per trade, daily cap 800: second candidate must be rejected
	s := NewSizer(SizeConfig{Capital: 40000, PerTradeRisk: 0.0125, MaxDailyLoss: 0.02}, testLogger())
	cands := &types.CandidateSet{Candidates: []types.Candidate{
		seedCandidate("SYMA", "IT", 0.9),
		seedCandidate("SYMB", "AUTO", 0.9),
	}}
	universe := []types.Instrument{
		{Symbol: "SYMA", Sector: "IT", LotSize: 1},
		{Symbol: "SYMB", Sector: "AUTO", LotSize: 1},
	}

	orders, err := s.Size(cands, ClassifyRegime(15, time.Now()), universe)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders.Orders) != 1 || orders.Orders[0].Symbol != "SYMA" {
		t.Fatalf("orders = %+v", orders.Orders)
	}
	if len(orders.Rejected) != 1 {
		t.Fatalf("rejected = %+v", orders.Rejected)
	}
}

func TestSizerHaltRejectsAll(t *testing.T) {
	t.Parallel()

	s := NewSizer(SizeConfig{Capital: 40000}, testLogger())
	cands := &types.CandidateSet{Candidates: []types.Candidate{seedCandidate("SYMA", "IT", 0.9)}}

	orders, err := s.Size(cands, ClassifyRegime(35, time.Now()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders.Orders) != 0 || len(orders.Rejected) != 1 {
		t.Errorf("halt sizing = %+v", orders)
	}
}

func TestSummarizerDigest(t *testing.T) {
	t.Parallel()

	src := marketdata.NewStaticSource(15)
	base := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	src.AddHeadline(types.NewsEvent{At: base, Headline: "Regulator opens probe into SYMB", Symbols: []string{"SYMB"}})
	src.AddHeadline(types.NewsEvent{At: base.Add(5 * time.Minute), Headline: "SYMC wins defence contract", Symbols: []string{"SYMC"}})
	src.AddHeadline(types.NewsEvent{At: base.Add(10 * time.Minute), Headline: "Lender faces fraud lawsuit", Symbols: []string{"SYMD"}})

	universe := []types.Instrument{{Symbol: "SYMB"}, {Symbol: "SYMC"}}
	sum := NewSummarizer(src, testLogger())

	digest, err := sum.Digest(context.Background(), base.Add(-time.Hour), universe)
	if err != nil {
		t.Fatal(err)
	}
	if digest.Sentiment != types.RiskOff {
		t.Errorf("sentiment = %s", digest.Sentiment)
	}
	// SYMD is not tradeable and must be filtered out
	if len(digest.AffectedSymbols) != 2 || digest.AffectedSymbols[0] != "SYMB" || digest.AffectedSymbols[1] != "SYMC" {
		t.Errorf("affected = %+v", digest.AffectedSymbols)
	}
	if len(digest.KeyEvents) != 3 {
		t.Errorf("events = %d", len(digest.KeyEvents))
	}
}

func TestSummarizerFeedFailureIsNeutral(t *testing.T) {
	t.Parallel()

	src := marketdata.NewStaticSource(15)
	src.Fail(io.ErrUnexpectedEOF)
	sum := NewSummarizer(src, testLogger())

	digest, err := sum.Digest(context.Background(), time.Now().Add(-time.Hour), nil)
	if err != nil {
		t.Fatal(err)
	}
	if digest.Sentiment != types.Neutral || len(digest.KeyEvents) != 0 {
		t.Errorf("digest = %+v", digest)
	}
}

func TestDayReportScoresAnalysts(t *testing.T) {
	t.Parallel()

	trades := []types.Trade{
		{
			ID: "t-1", Symbol: "SYMA", Direction: types.Long,
			Status: types.TradeClosed, RealizedPnL: 550,
			Contributing: []types.StockSignal{
				{AnalystID: "technical", Score: 4, Bound: 5, Confidence: 0.9},
				{AnalystID: "fundamental", Score: -1, Bound: 3, Confidence: 0.6},
			},
		},
		{
			ID: "t-2", Symbol: "SYMB", Direction: types.Long,
			Status: types.TradeStoppedOut, RealizedPnL: -300,
			Contributing: []types.StockSignal{
				{AnalystID: "technical", Score: 3, Bound: 5, Confidence: 0.8},
			},
		},
		{ID: "t-3", Symbol: "SYMC", Status: types.TradeExpired},
	}

	report := NewReporter(testLogger()).BuildDayReport("2025-06-02", trades, nil, nil)
	if err := report.Validate(); err != nil {
		t.Fatal(err)
	}
	if report.TotalTrades != 2 || report.Winners != 1 || report.Losers != 1 {
		t.Errorf("counts = %+v", report)
	}
	if report.HitRate != 0.5 {
		t.Errorf("hit rate = %.2f", report.HitRate)
	}
	if report.RealizedPnL != 250 {
		t.Errorf("realized = %.2f", report.RealizedPnL)
	}

	if len(report.AnalystAccuracy) != 2 {
		t.Fatalf("accuracy = %+v", report.AnalystAccuracy)
	}
	// sorted by analyst id: fundamental first
	fund, tech := report.AnalystAccuracy[0], report.AnalystAccuracy[1]
	if fund.AnalystID != "fundamental" || fund.Calls != 1 || fund.Correct != 0 {
		t.Errorf("fundamental accuracy = %+v", fund)
	}
	if tech.AnalystID != "technical" || tech.Calls != 2 || tech.Correct != 1 {
		t.Errorf("technical accuracy = %+v", tech)
	}

	if len(report.Lessons) == 0 {
		t.Error("no lessons on a mixed day")
	}
}

func TestDayReportAccuracySpansPriorDays(t *testing.T) {
	t.Parallel()

	today := []types.Trade{{
		ID: "t-1", Symbol: "SYMA", Direction: types.Long,
		Status: types.TradeClosed, RealizedPnL: 400,
		Contributing: []types.StockSignal{
			{AnalystID: "technical", Score: 4, Bound: 5, Confidence: 0.9},
		},
	}}
	prior := []types.Trade{
		{
			ID: "p-1", Symbol: "SYMB", Direction: types.Long,
			Status: types.TradeStoppedOut, RealizedPnL: -250,
			Contributing: []types.StockSignal{
				{AnalystID: "technical", Score: 3, Bound: 5, Confidence: 0.8},
			},
		},
		// still-open and rejected prior trades carry no verdict
		{
			ID: "p-2", Symbol: "SYMC", Direction: types.Long, Status: types.TradeOpen,
			Contributing: []types.StockSignal{{AnalystID: "technical", Score: 2, Bound: 5}},
		},
		{ID: "p-3", Symbol: "SYMD", Status: types.TradeRejected,
			Contributing: []types.StockSignal{{AnalystID: "technical", Score: 2, Bound: 5}}},
	}

	report := NewReporter(testLogger()).BuildDayReport("2025-06-04", today, nil, prior)

	// the day's own counts stay single-session
	if report.TotalTrades != 1 || report.Winners != 1 || report.RealizedPnL != 400 {
		t.Errorf("counts = %+v", report)
	}
	if len(report.AnalystAccuracy) != 1 {
		t.Fatalf("accuracy = %+v", report.AnalystAccuracy)
	}
	tech := report.AnalystAccuracy[0]
	if tech.Calls != 2 || tech.Correct != 1 {
		t.Errorf("cross-day accuracy = %+v", tech)
	}
}
