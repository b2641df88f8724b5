package engine

import (
	"context"
	"fmt"
	"time"

	"intradesk/internal/analyst"
	"intradesk/internal/workflow"
	"intradesk/pkg/types"
)

// Session state keys. Cross-workflow reads address these by name, so they
// are part of the on-disk contract.
// recentSessionDays is how many post-trade runs back the day report reaches
// when scoring analyst accuracy.
const recentSessionDays = 5

const (
	keyRegime     = "regime"
	keyCandidates = "candidates"
	keyOrders     = "orders"
	keyExecReport = "exec_report"
	keyDigest     = "digest"
	keyMonitorLog = "last_monitor"
	keyDayReport  = "day_report"
)

// analysisDefinition is the 09:00 workflow: regime gate, the analyst group,
// aggregation, and risk sizing. A HALT regime short-circuits the run before
// any analyst spends a quote call.
func (e *Engine) analysisDefinition() workflow.Definition {
	members := make([]workflow.Stage, 0, len(e.analysts))
	for _, a := range e.analysts {
		a := a
		members = append(members, workflow.Stage{
			Name: a.ID(),
			Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
				set, err := a.Analyze(ctx, e.cfg.Universe)
				if err != nil {
					return workflow.StepOutput{}, err
				}
				set.ProducedBy = provenance(WorkflowAnalysis, a.ID(), in.RunID)
				return workflow.StepOutput{Content: set}, nil
			},
		})
	}

	return workflow.Definition{
		Name: WorkflowAnalysis,
		Stages: []workflow.Stage{
			{
				Name: "regime_gate",
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					vix, err := e.source.VIX(ctx)
					if err != nil {
						return workflow.StepOutput{}, fmt.Errorf("volatility index: %w", err)
					}
					regime := analyst.ClassifyRegime(vix, e.now().In(e.loc))
					regime.ProducedBy = provenance(WorkflowAnalysis, "regime_gate", in.RunID)
					if err := in.Session.Set(keyRegime, regime); err != nil {
						return workflow.StepOutput{}, err
					}
					if regime.State == types.RegimeHalt {
						return workflow.StepOutput{
							Content:    regime,
							Halt:       true,
							HaltReason: fmt.Sprintf("volatility index %.1f, no new positions today", vix),
						}, nil
					}
					return workflow.StepOutput{Content: regime}, nil
				},
			},
			{
				Name:   "analysts",
				Group:  members,
				Quorum: 2, // a single dead feed must not kill the morning run
			},
			{
				Name: "aggregate",
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					regime, err := e.sessionRegime(in)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					var sets []*types.SignalSet
					for _, a := range in.GroupOutputs {
						if set, ok := a.(*types.SignalSet); ok {
							sets = append(sets, set)
						}
					}
					cands, err := e.aggregator.Aggregate(ctx, regime, sets, e.cfg.Universe)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					cands.ProducedBy = provenance(WorkflowAnalysis, "aggregate", in.RunID)
					if err := in.Session.Set(keyCandidates, cands); err != nil {
						return workflow.StepOutput{}, err
					}
					return workflow.StepOutput{Content: cands}, nil
				},
			},
			{
				Name: "size",
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					cands, ok := in.Previous.(*types.CandidateSet)
					if !ok {
						return workflow.StepOutput{}, fmt.Errorf("size: no candidate set from aggregate")
					}
					regime, err := e.sessionRegime(in)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					orders, err := e.sizer.Size(cands, regime, e.cfg.Universe)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					orders.ProducedBy = provenance(WorkflowAnalysis, "size", in.RunID)
					if err := in.Session.Set(keyOrders, orders); err != nil {
						return workflow.StepOutput{}, err
					}
					return workflow.StepOutput{Content: orders}, nil
				},
			},
		},
	}
}

// executionDefinition is the 09:15 workflow: read the morning's approved
// orders, place them, and reconcile the ledger against venue positions. A
// missing order set (halted or failed analysis) is a quiet zero-trade day.
func (e *Engine) executionDefinition() workflow.Definition {
	return workflow.Definition{
		Name: WorkflowExecution,
		Stages: []workflow.Stage{
			{
				Name: "load_orders",
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					rec, err := in.CrossSession(WorkflowAnalysis, in.SessionID)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					raw, ok := rec.State[keyOrders]
					if !ok {
						in.Logger.Info("no approved orders for the session")
						return workflow.StepOutput{Content: &types.OrderSet{}}, nil
					}
					a, err := types.UnmarshalArtifact(raw)
					if err != nil {
						return workflow.StepOutput{}, fmt.Errorf("decode order set: %w", err)
					}
					orders, ok := a.(*types.OrderSet)
					if !ok {
						return workflow.StepOutput{}, fmt.Errorf("session %q key is %s, want order set", keyOrders, a.ArtifactKind())
					}
					return workflow.StepOutput{Content: orders}, nil
				},
			},
			{
				Name:    "execute",
				Timeout: 20 * time.Minute, // each entry may rest for the full fill window
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					orders, ok := in.Previous.(*types.OrderSet)
					if !ok {
						return workflow.StepOutput{}, fmt.Errorf("execute: no order set loaded")
					}
					if err := e.exec.Rehydrate(in.SessionID); err != nil {
						return workflow.StepOutput{}, err
					}
					report, err := e.exec.Execute(ctx, in.SessionID, orders.Orders)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					report.ProducedBy = provenance(WorkflowExecution, "execute", in.RunID)
					if err := in.Session.Set(keyExecReport, report); err != nil {
						return workflow.StepOutput{}, err
					}
					return workflow.StepOutput{Content: report}, nil
				},
			},
			{
				Name:     "reconcile",
				Tolerant: true, // a flaky positions endpoint must not fail the batch that just placed
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					positions, err := e.broker.Positions(ctx)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					disc, err := e.ledger.Reconcile(in.SessionID, positions)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					// broker truth wins: resize or close the diverging trades
					if len(disc) > 0 {
						if err := e.ledger.ApplyReconciliation(in.SessionID, disc); err != nil {
							return workflow.StepOutput{}, err
						}
					}
					text := fmt.Sprintf("reconciled %d venue positions, %d discrepancies corrected", len(positions), len(disc))
					if resting, err := e.broker.Orders(ctx); err == nil {
						text += fmt.Sprintf(", %d orders resting", len(resting))
					}
					if funds, err := e.broker.Funds(ctx); err == nil {
						text += fmt.Sprintf(", %.2f available", funds.Available)
					}
					note := &types.Note{
						Text:       text,
						ProducedBy: provenance(WorkflowExecution, "reconcile", in.RunID),
					}
					return workflow.StepOutput{Content: note}, nil
				},
			},
		},
	}
}

// monitoringDefinition is the 09:30-15:20 workflow: one monitor pass,
// informed by the latest news digest when one exists.
func (e *Engine) monitoringDefinition() workflow.Definition {
	return workflow.Definition{
		Name: WorkflowMonitoring,
		Stages: []workflow.Stage{
			{
				Name: "monitor",
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					var digest *types.NewsDigest
					if rec, err := in.CrossSession(WorkflowNews, in.SessionID); err == nil {
						if raw, ok := rec.State[keyDigest]; ok {
							if a, err := types.UnmarshalArtifact(raw); err == nil {
								digest, _ = a.(*types.NewsDigest)
							}
						}
					}
					log, err := e.monitor.Run(ctx, in.SessionID, e.now().In(e.loc), digest)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					log.ProducedBy = provenance(WorkflowMonitoring, "monitor", in.RunID)
					if err := in.Session.Set(keyMonitorLog, log); err != nil {
						return workflow.StepOutput{}, err
					}
					return workflow.StepOutput{Content: log}, nil
				},
			},
		},
	}
}

// newsDefinition is the hourly workflow: digest the last hour's headlines
// and fold in the session's earlier digests so facts accumulate all day.
func (e *Engine) newsDefinition() workflow.Definition {
	return workflow.Definition{
		Name: WorkflowNews,
		Stages: []workflow.Stage{
			{
				Name: "digest",
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					since := e.now().Add(-time.Hour)
					digest, err := e.summarizer.Digest(ctx, since, e.cfg.Universe)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					if a, ok, _ := in.Session.Get(keyDigest); ok {
						if prior, isDigest := a.(*types.NewsDigest); isDigest {
							digest.Merge(prior)
						}
					}
					digest.ProducedBy = provenance(WorkflowNews, "digest", in.RunID)
					if err := in.Session.Set(keyDigest, digest); err != nil {
						return workflow.StepOutput{}, err
					}
					return workflow.StepOutput{Content: digest}, nil
				},
			},
		},
	}
}

// postTradeDefinition is the 16:00 workflow: review the day's workflow runs
// and score the trade book.
func (e *Engine) postTradeDefinition() workflow.Definition {
	return workflow.Definition{
		Name: WorkflowPostTrade,
		Stages: []workflow.Stage{
			{
				Name:     "run_review",
				Tolerant: true,
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					text := ""
					for _, name := range []string{WorkflowAnalysis, WorkflowExecution, WorkflowMonitoring, WorkflowNews} {
						rec, err := in.CrossSession(name, in.SessionID)
						if err != nil {
							return workflow.StepOutput{}, err
						}
						var failed int
						for _, run := range rec.Runs {
							if run.Status == types.RunFailed {
								failed++
							}
						}
						text += fmt.Sprintf("%s: %d runs, %d failed; ", name, len(rec.Runs), failed)
					}
					if fills, err := e.broker.Tradebook(ctx); err == nil {
						text += fmt.Sprintf("venue fills: %d; ", len(fills))
					}
					if holdings, err := e.broker.Holdings(ctx); err == nil {
						text += fmt.Sprintf("delivery holdings: %d; ", len(holdings))
					}
					note := &types.Note{Text: text, ProducedBy: provenance(WorkflowPostTrade, "run_review", in.RunID)}
					return workflow.StepOutput{Content: note}, nil
				},
			},
			{
				Name: "day_report",
				Run: func(ctx context.Context, in workflow.StepInput) (workflow.StepOutput, error) {
					trades, err := e.ledger.Trades(in.SessionID)
					if err != nil {
						return workflow.StepOutput{}, err
					}
					quotes := make(map[string]types.Quote)
					var openSymbols []string
					for _, t := range trades {
						if !t.Status.Terminal() {
							openSymbols = append(openSymbols, t.Symbol)
						}
					}
					if len(openSymbols) > 0 {
						quotes, err = e.broker.Quote(ctx, openSymbols)
						if err != nil {
							in.Logger.Warn("quotes for open positions unavailable", "error", err)
							quotes = map[string]types.Quote{}
						}
					}
					// prior sessions' decided trades keep the analyst
					// scoreboard honest across days
					var prior []types.Trade
					seen := map[string]bool{in.SessionID: true}
					for _, run := range in.History(recentSessionDays) {
						if seen[run.SessionID] {
							continue
						}
						seen[run.SessionID] = true
						past, err := e.ledger.Trades(run.SessionID)
						if err != nil {
							in.Logger.Warn("prior ledger unavailable", "session", run.SessionID, "error", err)
							continue
						}
						prior = append(prior, past...)
					}
					report := e.reporter.BuildDayReport(in.SessionID, trades, quotes, prior)
					report.ProducedBy = provenance(WorkflowPostTrade, "day_report", in.RunID)
					if err := in.Session.Set(keyDayReport, report); err != nil {
						return workflow.StepOutput{}, err
					}
					return workflow.StepOutput{Content: report}, nil
				},
			},
		},
	}
}

// sessionRegime reads the regime the gate stored earlier in the run.
func (e *Engine) sessionRegime(in workflow.StepInput) (*types.Regime, error) {
	a, ok, err := in.Session.Get(keyRegime)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no regime in session state")
	}
	regime, ok := a.(*types.Regime)
	if !ok {
		return nil, fmt.Errorf("session %q key is %s, want regime", keyRegime, a.ArtifactKind())
	}
	return regime, nil
}
