// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the orchestrator: the artifacts
// exchanged between workflow stages (Regime, StockSignal, Candidate,
// ApprovedOrder, NewsDigest, DayReport), the trade lifecycle record, and the
// broker-facing market data records. It has no dependencies on internal
// packages, so it can be imported by any layer.
//
// Artifacts validate on construction: a stage can never emit a record that
// violates its invariants, and a persisted artifact round-trips through the
// tagged envelope codec byte-for-byte.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// RegimeState classifies market conditions, derived from the volatility index.
type RegimeState string

const (
	RegimeCalm     RegimeState = "CALM"
	RegimeNormal   RegimeState = "NORMAL"
	RegimeElevated RegimeState = "ELEVATED"
	RegimeHalt     RegimeState = "HALT" // no new positions may be opened
)

// Direction of a trade candidate or order.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// EntryType selects how the entry order is priced.
type EntryType string

const (
	EntryLimit  EntryType = "LIMIT"
	EntryMarket EntryType = "MARKET"
)

// Sentiment is the coarse risk read of a news digest.
type Sentiment string

const (
	RiskOn  Sentiment = "RISK_ON"
	Neutral Sentiment = "NEUTRAL"
	RiskOff Sentiment = "RISK_OFF"
)

// RunStatus is the terminal status of one workflow run.
type RunStatus string

const (
	RunOK      RunStatus = "OK"
	RunFailed  RunStatus = "FAILED"
	RunPartial RunStatus = "PARTIAL" // a tolerant stage failed and was skipped
	RunHalt    RunStatus = "HALT"    // a gating stage short-circuited the run
)

// ————————————————————————————————————————————————————————————————————————
// Artifact envelope
// ————————————————————————————————————————————————————————————————————————

// Kind discriminates artifact variants inside the persisted envelope.
type Kind string

const (
	KindRegime       Kind = "regime"
	KindSignalSet    Kind = "signal_set"
	KindCandidateSet Kind = "candidate_set"
	KindOrderSet     Kind = "order_set"
	KindNewsDigest   Kind = "news_digest"
	KindDayReport    Kind = "day_report"
	KindExecReport   Kind = "exec_report"
	KindMonitorLog   Kind = "monitor_log"
	KindNote         Kind = "note"
)

// Artifact is a typed record produced by a workflow stage. Every variant
// validates its own invariants; the workflow runtime rejects any stage
// output whose Validate fails.
type Artifact interface {
	ArtifactKind() Kind
	Validate() error
}

// Provenance tags an artifact with the stage that produced it, so downstream
// stages and the post-trade analysis can attribute decisions.
type Provenance struct {
	Workflow string `json:"workflow"`
	Stage    string `json:"stage"`
	RunID    string `json:"run_id"`
}

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalArtifact wraps an artifact in its tagged envelope.
func MarshalArtifact(a Artifact) (json.RawMessage, error) {
	if a == nil {
		return nil, fmt.Errorf("marshal artifact: nil")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact %s: %w", a.ArtifactKind(), err)
	}
	return json.Marshal(envelope{Kind: a.ArtifactKind(), Data: data})
}

// UnmarshalArtifact decodes a tagged envelope back into its concrete variant.
func UnmarshalArtifact(raw json.RawMessage) (Artifact, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal artifact envelope: %w", err)
	}

	var a Artifact
	switch env.Kind {
	case KindRegime:
		a = &Regime{}
	case KindSignalSet:
		a = &SignalSet{}
	case KindCandidateSet:
		a = &CandidateSet{}
	case KindOrderSet:
		a = &OrderSet{}
	case KindNewsDigest:
		a = &NewsDigest{}
	case KindDayReport:
		a = &DayReport{}
	case KindExecReport:
		a = &ExecReport{}
	case KindMonitorLog:
		a = &MonitorLog{}
	case KindNote:
		a = &Note{}
	default:
		return nil, fmt.Errorf("unmarshal artifact: unknown kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Data, a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact %s: %w", env.Kind, err)
	}
	return a, nil
}

// ————————————————————————————————————————————————————————————————————————
// Regime
// ————————————————————————————————————————————————————————————————————————

// Regime is the coarse market state used as a gate and weight on analyst
// outputs. HALT forces the position multiplier to zero.
type Regime struct {
	State              RegimeState `json:"state"`
	VIX                float64     `json:"vix"`
	PositionMultiplier float64     `json:"position_multiplier"`
	AsOf               time.Time   `json:"as_of"`
	ProducedBy         Provenance  `json:"produced_by"`
}

func (r *Regime) ArtifactKind() Kind { return KindRegime }

func (r *Regime) Validate() error {
	switch r.State {
	case RegimeCalm, RegimeNormal, RegimeElevated, RegimeHalt:
	default:
		return fmt.Errorf("regime: unknown state %q", r.State)
	}
	if r.PositionMultiplier < 0 || r.PositionMultiplier > 1.5 {
		return fmt.Errorf("regime: position multiplier %.2f outside [0, 1.5]", r.PositionMultiplier)
	}
	if r.State == RegimeHalt && r.PositionMultiplier != 0 {
		return fmt.Errorf("regime: HALT requires multiplier 0, got %.2f", r.PositionMultiplier)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Stock signals
// ————————————————————————————————————————————————————————————————————————

// StockSignal is one analyst's view on one symbol. Score is bounded by the
// analyst-declared range |score| <= Bound, checked on ingest.
type StockSignal struct {
	Symbol     string    `json:"symbol"`
	AnalystID  string    `json:"analyst_id"`
	Score      int       `json:"score"`
	Bound      int       `json:"bound"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	ProducedAt time.Time `json:"produced_at"`
}

func (s StockSignal) validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal: empty symbol")
	}
	if s.AnalystID == "" {
		return fmt.Errorf("signal %s: empty analyst id", s.Symbol)
	}
	if s.Bound <= 0 {
		return fmt.Errorf("signal %s/%s: bound must be positive", s.AnalystID, s.Symbol)
	}
	if s.Score > s.Bound || s.Score < -s.Bound {
		return fmt.Errorf("signal %s/%s: score %d outside declared bound of %d", s.AnalystID, s.Symbol, s.Score, s.Bound)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s/%s: confidence %.2f outside [0,1]", s.AnalystID, s.Symbol, s.Confidence)
	}
	return nil
}

// SignalSet is the output of one analyst stage: its signals over the universe.
type SignalSet struct {
	Signals    []StockSignal `json:"signals"`
	ProducedBy Provenance    `json:"produced_by"`
}

func (s *SignalSet) ArtifactKind() Kind { return KindSignalSet }

func (s *SignalSet) Validate() error {
	for _, sig := range s.Signals {
		if err := sig.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Candidates
// ————————————————————————————————————————————————————————————————————————

// MinCandidateConfidence is the floor a candidate must clear on emit.
const MinCandidateConfidence = 0.70

// Candidate is a stock pick with direction and explicit entry/SL/TP levels,
// eligible for risk sizing.
type Candidate struct {
	Symbol         string        `json:"symbol"`
	Sector         string        `json:"sector"`
	Direction      Direction     `json:"direction"`
	CompositeScore float64       `json:"composite_score"`
	Confidence     float64       `json:"confidence"`
	EntryLow       float64       `json:"entry_low"`
	EntryHigh      float64       `json:"entry_high"`
	StopLoss       float64       `json:"stop_loss"`
	TakeProfit     float64       `json:"take_profit"`
	Contributing   []StockSignal `json:"contributing_signals"`
}

// EntryMid is the midpoint of the candidate's entry range.
func (c Candidate) EntryMid() float64 { return (c.EntryLow + c.EntryHigh) / 2 }

// NewCandidate validates price geometry and the minimum target move
// (a fraction of entry, e.g. 0.01 for 1%) before admitting the candidate.
func NewCandidate(c Candidate, targetMovePct float64) (Candidate, error) {
	if c.EntryLow <= 0 || c.EntryHigh < c.EntryLow {
		return Candidate{}, fmt.Errorf("candidate %s: bad entry range [%.2f, %.2f]", c.Symbol, c.EntryLow, c.EntryHigh)
	}
	if c.Confidence < MinCandidateConfidence {
		return Candidate{}, fmt.Errorf("candidate %s: confidence %.2f below %.2f floor", c.Symbol, c.Confidence, MinCandidateConfidence)
	}
	mid := c.EntryMid()
	switch c.Direction {
	case Long:
		if c.StopLoss >= c.EntryLow {
			return Candidate{}, fmt.Errorf("candidate %s LONG: stop %.2f must be below entry low %.2f", c.Symbol, c.StopLoss, c.EntryLow)
		}
		if c.TakeProfit <= c.EntryHigh {
			return Candidate{}, fmt.Errorf("candidate %s LONG: target %.2f must be above entry high %.2f", c.Symbol, c.TakeProfit, c.EntryHigh)
		}
		if c.TakeProfit-mid < targetMovePct*mid {
			return Candidate{}, fmt.Errorf("candidate %s: target move %.2f below %.1f%% of entry", c.Symbol, c.TakeProfit-mid, targetMovePct*100)
		}
	case Short:
		if c.StopLoss <= c.EntryHigh {
			return Candidate{}, fmt.Errorf("candidate %s SHORT: stop %.2f must be above entry high %.2f", c.Symbol, c.StopLoss, c.EntryHigh)
		}
		if c.TakeProfit >= c.EntryLow {
			return Candidate{}, fmt.Errorf("candidate %s SHORT: target %.2f must be below entry low %.2f", c.Symbol, c.TakeProfit, c.EntryLow)
		}
		if mid-c.TakeProfit < targetMovePct*mid {
			return Candidate{}, fmt.Errorf("candidate %s: target move %.2f below %.1f%% of entry", c.Symbol, mid-c.TakeProfit, targetMovePct*100)
		}
	default:
		return Candidate{}, fmt.Errorf("candidate %s: unknown direction %q", c.Symbol, c.Direction)
	}
	return c, nil
}

// CandidateSet is the aggregator's final pick list for the day.
type CandidateSet struct {
	Candidates []Candidate `json:"candidates"`
	Regime     RegimeState `json:"regime"`
	ProducedBy Provenance  `json:"produced_by"`
}

func (c *CandidateSet) ArtifactKind() Kind { return KindCandidateSet }

func (c *CandidateSet) Validate() error {
	for _, cand := range c.Candidates {
		if cand.Confidence < MinCandidateConfidence {
			return fmt.Errorf("candidate %s: confidence %.2f below floor", cand.Symbol, cand.Confidence)
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Approved orders
// ————————————————————————————————————————————————————————————————————————

// ApprovedOrder is a Candidate that has passed risk sizing and capital
// checks. Quantity is an integer multiple of the symbol's lot size.
type ApprovedOrder struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Sector      string    `json:"sector"`
	Direction   Direction `json:"direction"`
	Quantity    int       `json:"quantity"`
	EntryType   EntryType `json:"entry_type"`
	EntryPrice  float64   `json:"entry_price"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfit  float64   `json:"take_profit"`
	ProductType string    `json:"product_type"`
	Tag         string    `json:"tag"`
}

// RiskPerShare is the stop distance the order risks on each share.
func (o ApprovedOrder) RiskPerShare() float64 {
	d := o.EntryPrice - o.StopLoss
	if d < 0 {
		d = -d
	}
	return d
}

// ValidateSized checks the per-order invariants the sizer must uphold:
// lot alignment and quantity × stop distance within the per-trade cap.
func (o ApprovedOrder) ValidateSized(lotSize int, perTradeRiskCap float64) error {
	if o.Quantity < 1 {
		return fmt.Errorf("order %s: quantity %d < 1", o.Symbol, o.Quantity)
	}
	if lotSize > 0 && o.Quantity%lotSize != 0 {
		return fmt.Errorf("order %s: quantity %d not a multiple of lot %d", o.Symbol, o.Quantity, lotSize)
	}
	if risk := float64(o.Quantity) * o.RiskPerShare(); risk > perTradeRiskCap {
		return fmt.Errorf("order %s: risk %.2f exceeds per-trade cap %.2f", o.Symbol, risk, perTradeRiskCap)
	}
	return nil
}

// OrderSet is the risk stage's output: zero or more sized orders plus an
// explanatory note per rejection. An empty set is a valid outcome, not an
// error.
type OrderSet struct {
	Orders     []ApprovedOrder `json:"orders"`
	Rejected   []string        `json:"rejected,omitempty"`
	ProducedBy Provenance      `json:"produced_by"`
}

func (o *OrderSet) ArtifactKind() Kind { return KindOrderSet }

func (o *OrderSet) Validate() error {
	for _, ord := range o.Orders {
		if ord.Quantity < 1 {
			return fmt.Errorf("order %s: quantity %d < 1", ord.Symbol, ord.Quantity)
		}
		if ord.EntryPrice <= 0 {
			return fmt.Errorf("order %s: entry price %.2f", ord.Symbol, ord.EntryPrice)
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// News digest
// ————————————————————————————————————————————————————————————————————————

// NewsEvent is one fact in a digest.
type NewsEvent struct {
	At       time.Time `json:"at"`
	Headline string    `json:"headline"`
	Symbols  []string  `json:"symbols,omitempty"`
}

// NewsDigest is the hourly news summary. Digests are additive within a
// trading day: Merge unions facts and keeps the newer sentiment.
type NewsDigest struct {
	ProducedAt      time.Time   `json:"produced_at"`
	KeyEvents       []NewsEvent `json:"key_events"`
	Sentiment       Sentiment   `json:"sentiment"`
	AffectedSymbols []string    `json:"affected_symbols"`
	ProducedBy      Provenance  `json:"produced_by"`
}

func (n *NewsDigest) ArtifactKind() Kind { return KindNewsDigest }

func (n *NewsDigest) Validate() error {
	switch n.Sentiment {
	case RiskOn, Neutral, RiskOff:
		return nil
	default:
		return fmt.Errorf("news digest: unknown sentiment %q", n.Sentiment)
	}
}

// Affects reports whether the digest names the symbol.
func (n *NewsDigest) Affects(symbol string) bool {
	for _, s := range n.AffectedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Merge folds an earlier digest into this one. Facts are never dropped:
// events and affected symbols are unioned; this digest's sentiment stands
// because it is the newer read.
func (n *NewsDigest) Merge(prior *NewsDigest) {
	if prior == nil {
		return
	}
	seen := make(map[string]bool, len(n.KeyEvents))
	for _, e := range n.KeyEvents {
		seen[e.Headline] = true
	}
	for _, e := range prior.KeyEvents {
		if !seen[e.Headline] {
			n.KeyEvents = append(n.KeyEvents, e)
			seen[e.Headline] = true
		}
	}
	symbols := make(map[string]bool, len(n.AffectedSymbols))
	for _, s := range n.AffectedSymbols {
		symbols[s] = true
	}
	for _, s := range prior.AffectedSymbols {
		if !symbols[s] {
			n.AffectedSymbols = append(n.AffectedSymbols, s)
			symbols[s] = true
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Day report
// ————————————————————————————————————————————————————————————————————————

// AnalystAccuracy scores one analyst's calls against trade outcomes.
type AnalystAccuracy struct {
	AnalystID string  `json:"analyst_id"`
	Calls     int     `json:"calls"`
	Correct   int     `json:"correct"`
	HitRate   float64 `json:"hit_rate"`
}

// DayReport is the post-trade workflow's self-evaluation for one date.
type DayReport struct {
	Date            string            `json:"date"`
	RealizedPnL     float64           `json:"realized_pnl"`
	UnrealizedPnL   float64           `json:"unrealized_pnl"`
	TotalTrades     int               `json:"total_trades"`
	Winners         int               `json:"winners"`
	Losers          int               `json:"losers"`
	HitRate         float64           `json:"hit_rate"`
	AnalystAccuracy []AnalystAccuracy `json:"analyst_accuracy"`
	Lessons         []string          `json:"lessons"`
	ProducedBy      Provenance        `json:"produced_by"`
}

func (d *DayReport) ArtifactKind() Kind { return KindDayReport }

func (d *DayReport) Validate() error {
	if d.Date == "" {
		return fmt.Errorf("day report: empty date")
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Execution / monitoring reports
// ————————————————————————————————————————————————————————————————————————

// ExecReport summarizes one execution run: which orders became trades.
type ExecReport struct {
	Placed     []string   `json:"placed"`             // trade IDs
	Rejected   []string   `json:"rejected,omitempty"` // "symbol: reason"
	Skipped    []string   `json:"skipped,omitempty"`
	ProducedBy Provenance `json:"produced_by"`
}

func (e *ExecReport) ArtifactKind() Kind { return KindExecReport }
func (e *ExecReport) Validate() error    { return nil }

// MonitorAction records one adjustment the position monitor made.
type MonitorAction struct {
	TradeID string  `json:"trade_id"`
	Action  string  `json:"action"` // MODIFY_SL, BOOK_PARTIAL, CLOSE
	NewStop float64 `json:"new_stop,omitempty"`
	Qty     int     `json:"qty,omitempty"`
	Reason  string  `json:"reason"`
}

// MonitorLog is a monitor run's output: the actions it emitted.
type MonitorLog struct {
	OpenTrades int             `json:"open_trades"`
	Actions    []MonitorAction `json:"actions"`
	NetPnL     float64         `json:"net_pnl"`
	ProducedBy Provenance      `json:"produced_by"`
}

func (m *MonitorLog) ArtifactKind() Kind { return KindMonitorLog }
func (m *MonitorLog) Validate() error    { return nil }

// Note is a plain-text artifact for gating and bookkeeping stages.
type Note struct {
	Text       string     `json:"text"`
	ProducedBy Provenance `json:"produced_by"`
}

func (n *Note) ArtifactKind() Kind { return KindNote }
func (n *Note) Validate() error    { return nil }
