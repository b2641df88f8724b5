// Package engine is the central orchestrator of the trading desk.
//
// It wires together all subsystems:
//
//  1. The broker adapter (live venue or in-memory sim under dry-run).
//  2. The trade ledger and the execution engine on top of it.
//  3. The analyst pipeline: regime gate, scoring analysts, aggregator, sizer.
//  4. The position monitor driving stop moves through the execution engine.
//  5. The workflow runtime, with one definition per scheduled workflow.
//  6. The scheduler firing those workflows on the intraday timetable.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop(). Individual
// workflows can also be run once via RunWorkflow, which is what the CLI's
// run-workflow command does.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"intradesk/internal/analyst"
	"intradesk/internal/auth"
	"intradesk/internal/broker"
	"intradesk/internal/broker/rest"
	"intradesk/internal/broker/sim"
	"intradesk/internal/config"
	"intradesk/internal/executor"
	"intradesk/internal/ledger"
	"intradesk/internal/marketdata"
	"intradesk/internal/monitor"
	"intradesk/internal/scheduler"
	"intradesk/internal/workflow"
	"intradesk/pkg/types"
)

// Workflow names, also the session directory names on disk.
const (
	WorkflowAnalysis   = "intraday_analysis"
	WorkflowExecution  = "order_execution"
	WorkflowMonitoring = "position_monitoring"
	WorkflowNews       = "news_digest"
	WorkflowPostTrade  = "post_trade"
)

// Engine owns every component and the goroutines that keep them running.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location

	broker     broker.Broker
	stream     *rest.Stream // nil under dry-run
	authMgr    *auth.Manager
	source     marketdata.Source
	ledger     *ledger.Ledger
	exec       *executor.Executor
	monitor    *monitor.Monitor
	store      *workflow.Store
	runner     *workflow.Runner
	sched      *scheduler.Scheduler
	analysts   []analyst.Analyst
	aggregator *analyst.Aggregator
	sizer      *analyst.Sizer
	summarizer *analyst.Summarizer
	reporter   *analyst.Reporter

	defs map[string]workflow.Definition
	now  func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. Under dry-run the broker is
// the in-memory sim and the context feeds are static; otherwise the live
// adapters are built from the config.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Venue.Timezone)
	if err != nil {
		return nil, fmt.Errorf("venue timezone: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger.With("component", "engine"),
		loc:    loc,
		now:    time.Now,
	}

	if cfg.DryRun {
		e.broker = sim.New(cfg.Risk.Capital, nil)
		e.source = marketdata.NewStaticSource(15)
	} else {
		e.authMgr = auth.NewManager(auth.Config{
			BaseURL:   cfg.Broker.BaseURL,
			ClientID:  cfg.Broker.ClientID,
			SecretKey: cfg.Broker.SecretKey,
			TokenPath: cfg.Broker.TokenPath,
		}, logger)
		client := rest.New(rest.Options{
			BaseURL: cfg.Broker.BaseURL,
			WSURL:   cfg.Broker.WSURL,
			Timeout: cfg.Broker.Timeout,
		}, e.authMgr, logger)
		e.broker = client
		e.stream = client.Stream()
		e.source = marketdata.NewHTTPSource(cfg.MarketData.BaseURL, cfg.MarketData.APIKey, logger)
	}

	e.ledger, err = ledger.New(filepath.Join(cfg.Store.DataDir, "trades"), logger)
	if err != nil {
		return nil, err
	}
	e.store, err = workflow.NewStore(filepath.Join(cfg.Store.DataDir, "sessions"))
	if err != nil {
		return nil, err
	}
	e.runner = workflow.NewRunner(e.store, logger)

	e.exec = executor.New(e.broker, e.ledger, executor.Config{
		FillWait:     cfg.Executor.FillWait,
		TickSize:     cfg.Executor.TickSize,
		ProductType:  cfg.Executor.ProductType,
		Capital:      cfg.Risk.Capital,
		MaxDailyLoss: cfg.Risk.MaxDailyLoss,
	}, logger)

	e.monitor, err = monitor.New(e.broker, e.ledger, e.exec, monitor.Config{
		TrailTriggerR:   cfg.Monitor.TrailTriggerR,
		KATR:            cfg.Monitor.KATR,
		PartialTriggerR: cfg.Monitor.PartialTriggerR,
		TightenAfter:    cfg.Monitor.TightenAfter,
		FlattenAfter:    cfg.Monitor.FlattenAfter,
		TightenFrac:     cfg.Monitor.TightenFrac,
		ATRPeriod:       cfg.Monitor.ATRPeriod,
		Capital:         cfg.Risk.Capital,
		MaxDailyLoss:    cfg.Risk.MaxDailyLoss,
	}, logger)
	if err != nil {
		return nil, err
	}

	e.analysts = []analyst.Analyst{
		analyst.NewTechnical(e.broker, logger),
		analyst.NewFundamental(e.broker, e.source, logger),
		analyst.NewMarketIntel(e.source, logger),
		analyst.NewDerivatives(e.broker, monthlyExpiry(time.Now().In(loc)), logger),
	}
	e.aggregator = analyst.NewAggregator(e.broker, analyst.AggregateConfig{
		MinComposite:  cfg.Risk.MinComposite,
		MaxPerSector:  cfg.Risk.MaxPerSector,
		MinRewardRisk: cfg.Risk.MinRewardRisk,
		TargetMovePct: cfg.Risk.TargetMovePct,
	}, logger)
	e.sizer = analyst.NewSizer(analyst.SizeConfig{
		Capital:      cfg.Risk.Capital,
		PerTradeRisk: cfg.Risk.PerTradeRisk,
		MaxDailyLoss: cfg.Risk.MaxDailyLoss,
		MaxPositions: cfg.Risk.MaxPositions,
		ProductType:  cfg.Executor.ProductType,
	}, logger)
	e.summarizer = analyst.NewSummarizer(e.source, logger)
	e.reporter = analyst.NewReporter(logger)

	e.defs = map[string]workflow.Definition{
		WorkflowAnalysis:   e.analysisDefinition(),
		WorkflowExecution:  e.executionDefinition(),
		WorkflowMonitoring: e.monitoringDefinition(),
		WorkflowNews:       e.newsDefinition(),
		WorkflowPostTrade:  e.postTradeDefinition(),
	}

	e.sched = scheduler.New(loc, scheduler.WeekdayCalendar(cfg.Venue.Holidays), logger)
	e.addTimetable()

	return e, nil
}

// addTimetable registers the five workflows on the intraday schedule:
// analysis 09:00, execution 09:15, monitoring every 20 minutes from 09:30
// through 15:20, news hourly 09:00-16:00, post-trade 16:00.
func (e *Engine) addTimetable() {
	job := func(name string) scheduler.Job {
		return func(ctx context.Context, sessionID string) error {
			_, err := e.RunWorkflow(ctx, name, sessionID)
			return err
		}
	}
	e.sched.Add(scheduler.Entry{Workflow: WorkflowAnalysis, When: scheduler.At(9, 0), Run: job(WorkflowAnalysis)})
	e.sched.Add(scheduler.Entry{Workflow: WorkflowExecution, When: scheduler.At(9, 15), Run: job(WorkflowExecution)})
	e.sched.Add(scheduler.Entry{Workflow: WorkflowMonitoring, When: scheduler.EveryBetween(9, 30, 15, 20, 20), Run: job(WorkflowMonitoring)})
	e.sched.Add(scheduler.Entry{Workflow: WorkflowNews, When: scheduler.HourlyBetween(9, 16), Run: job(WorkflowNews)})
	e.sched.Add(scheduler.Entry{Workflow: WorkflowPostTrade, When: scheduler.At(16, 0), Run: job(WorkflowPostTrade)})
}

// RunWorkflow executes one workflow against the given session (the venue
// trading date, YYYY-MM-DD). Unknown names are an error; run-level outcomes
// land in the returned record's status.
func (e *Engine) RunWorkflow(ctx context.Context, name, sessionID string) (*workflow.RunRecord, error) {
	def, ok := e.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
	return e.runner.Execute(ctx, def, sessionID)
}

// Start launches the background goroutines: the broker event pump, the live
// stream (when not dry-run), tick subscriptions, and the scheduler.
func (e *Engine) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if e.stream != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.stream.Run(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("broker stream error", "error", err)
			}
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.exec.Pump(ctx)
	}()

	if err := e.broker.SubscribeTicks(ctx, e.universeSymbols()); err != nil {
		e.logger.Warn("tick subscription failed", "error", err)
	}

	// restart mid-day: bracket fills for already-open trades must still settle
	today := e.now().In(e.loc).Format("2006-01-02")
	if err := e.exec.Rehydrate(today); err != nil {
		e.logger.Warn("executor rehydrate failed", "date", today, "error", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.sched.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("scheduler error", "error", err)
		}
	}()

	e.logger.Info("engine started", "dry_run", e.cfg.DryRun, "universe", len(e.cfg.Universe))
	return nil
}

// Stop cancels all goroutines and waits for in-flight workflow runs.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	if e.cancel != nil {
		e.cancel()
	}
	e.sched.Wait()
	e.wg.Wait()
	e.logger.Info("shutdown complete")
}

// Auth exposes the token manager for the login command. Nil under dry-run.
func (e *Engine) Auth() *auth.Manager { return e.authMgr }

// Sessions exposes the workflow session store for the read-model API.
func (e *Engine) Sessions() *workflow.Store { return e.store }

// Ledger exposes the trade book for the read-model API.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// universeSymbols returns the configured symbols in config order.
func (e *Engine) universeSymbols() []string {
	out := make([]string, 0, len(e.cfg.Universe))
	for _, inst := range e.cfg.Universe {
		out = append(out, inst.Symbol)
	}
	return out
}

// monthlyExpiry returns the last Thursday of t's month formatted YYYY-MM-DD,
// the venue's monthly derivatives expiry.
func monthlyExpiry(t time.Time) string {
	d := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location()).AddDate(0, 0, -1)
	for d.Weekday() != time.Thursday {
		d = d.AddDate(0, 0, -1)
	}
	return d.Format("2006-01-02")
}

// provenance stamps an artifact's origin.
func provenance(workflowName, stage, runID string) types.Provenance {
	return types.Provenance{Workflow: workflowName, Stage: stage, RunID: runID}
}
