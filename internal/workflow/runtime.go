package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"intradesk/pkg/types"
)

// DefaultStageTimeout bounds a stage that declares no timeout of its own.
const DefaultStageTimeout = 5 * time.Minute

// StepInput is everything a stage can see.
type StepInput struct {
	RunID     string
	SessionID string
	Session   *Session
	Previous  types.Artifact // prior stage's output, nil for the first stage

	// GroupOutputs carries the member outputs of the parallel group that
	// ran immediately before this stage, keyed by member name.
	GroupOutputs map[string]types.Artifact

	// History returns the last n runs of this workflow, walking back
	// through earlier sessions when the current one holds fewer than n.
	History func(n int) []RunRecord

	// WorkflowHistory is History for any workflow by name.
	WorkflowHistory func(workflow string, n int) []RunRecord

	// StepContent decodes the output of an earlier named stage of this
	// run. Group member outputs are reachable by member name; a top-level
	// stage shadows a member of the same name.
	StepContent func(name string) (types.Artifact, bool)

	// CrossSession reads another workflow's session read-only.
	CrossSession func(workflow, sessionID string) (*SessionRecord, error)

	Logger *slog.Logger
}

// StepOutput is what a stage hands back. Halt stops the run with status
// HALT: the remaining stages do not execute.
type StepOutput struct {
	Content    types.Artifact
	Halt       bool
	HaltReason string

	// groupOutputs is populated by the runner for group stages only.
	groupOutputs map[string]types.Artifact
}

// StageFunc is the body of a function or agent stage.
type StageFunc func(ctx context.Context, in StepInput) (StepOutput, error)

// Stage is one step of a workflow. Exactly one of Run or Group is set.
type Stage struct {
	Name     string
	Tolerant bool          // failure skips the stage instead of failing the run
	Timeout  time.Duration // zero means DefaultStageTimeout
	Run      StageFunc
	Group    []Stage // parallel members; each needs a Run
	Quorum   int     // min member successes; zero means all must succeed
}

// Definition is a named stage sequence.
type Definition struct {
	Name   string
	Stages []Stage
}

// Runner executes workflow definitions against the session store.
type Runner struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a runner. The clock is injectable for tests.
func NewRunner(store *Store, logger *slog.Logger) *Runner {
	return &Runner{store: store, logger: logger.With("component", "workflow"), now: time.Now}
}

// SetClock overrides the runner's clock.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// Store exposes the session store for read-model consumers.
func (r *Runner) Store() *Store { return r.store }

// Execute runs the definition against the (def.Name, sessionID) session.
// The run record is appended and persisted even when the run fails; the
// returned error is non-nil only for infrastructure failures (store I/O),
// never for stage-level outcomes, which land in the record's status.
func (r *Runner) Execute(ctx context.Context, def Definition, sessionID string) (*RunRecord, error) {
	rec, err := r.store.Load(def.Name, sessionID)
	if err != nil {
		return nil, err
	}
	session := newSession(rec)

	run := &RunRecord{
		RunID:     uuid.NewString(),
		Workflow:  def.Name,
		SessionID: sessionID,
		StartedAt: r.now(),
		Status:    types.RunOK,
	}
	logger := r.logger.With("workflow", def.Name, "session", sessionID, "run", run.RunID[:8])
	logger.Info("run started", "stages", len(def.Stages))

	contents := make(map[string]json.RawMessage)
	in := StepInput{
		RunID:     run.RunID,
		SessionID: sessionID,
		Session:   session,
		History: func(n int) []RunRecord {
			return r.history(def.Name, sessionID, rec.Runs, n)
		},
		WorkflowHistory: func(workflow string, n int) []RunRecord {
			if workflow == def.Name {
				return r.history(def.Name, sessionID, rec.Runs, n)
			}
			cur, err := r.store.Load(workflow, sessionID)
			if err != nil {
				r.logger.Warn("load session for history", "workflow", workflow, "error", err)
				return nil
			}
			return r.history(workflow, sessionID, cur.Runs, n)
		},
		StepContent: func(name string) (types.Artifact, bool) {
			raw, ok := contents[name]
			if !ok {
				return nil, false
			}
			a, err := types.UnmarshalArtifact(raw)
			if err != nil {
				return nil, false
			}
			return a, true
		},
		CrossSession: func(workflow, sid string) (*SessionRecord, error) {
			return r.store.Load(workflow, sid)
		},
	}

	for _, stage := range def.Stages {
		if err := ctx.Err(); err != nil {
			run.Status = types.RunFailed
			run.Stages = append(run.Stages, StageResult{
				Stage: stage.Name, Status: StageFailed, Error: err.Error(), StartedAt: r.now(),
			})
			break
		}

		in.Logger = logger.With("stage", stage.Name)
		var result StageResult
		var out StepOutput
		if len(stage.Group) > 0 {
			out, result = r.runGroup(ctx, stage, in)
		} else {
			out, result = r.runStage(ctx, stage, in)
		}
		run.Stages = append(run.Stages, result)

		switch result.Status {
		case StageFailed:
			run.Status = types.RunFailed
		case StageSkipped:
			if run.Status == types.RunOK {
				run.Status = types.RunPartial
			}
		case StageHalted:
			run.Status = types.RunHalt
			run.HaltReason = out.HaltReason
		case StageOK:
			if out.Content != nil {
				in.Previous = out.Content
				run.Final = result.Output
			}
			in.GroupOutputs = out.groupOutputs
		}

		// accumulate named outputs for StepContent. A top-level stage
		// shadows a group member of the same name.
		if len(result.Output) > 0 {
			contents[stage.Name] = result.Output
		}
		for name, art := range out.groupOutputs {
			if _, taken := contents[name]; taken {
				continue
			}
			if raw, err := types.MarshalArtifact(art); err == nil {
				contents[name] = raw
			}
		}

		if result.Status == StageFailed || result.Status == StageHalted {
			break
		}
	}

	// one atomic commit at run end: session state is replaced wholesale
	// and the run appended, so a cross-session reader never sees mid-run
	// writes. A failed run still snapshots what its stages wrote.
	run.FinishedAt = r.now()
	rec.State = session.snapshot()
	rec.Runs = append(rec.Runs, *run)
	if err := r.store.Save(rec); err != nil {
		return nil, fmt.Errorf("persist run record: %w", err)
	}

	logger.Info("run finished", "status", run.Status, "duration", run.FinishedAt.Sub(run.StartedAt))
	return run, nil
}

// history returns the last n runs of a workflow, newest last. When the
// current session holds fewer than n it walks earlier sessions in reverse
// date order, so a consumer on day three still sees day one and two.
func (r *Runner) history(workflowName, sessionID string, current []RunRecord, n int) []RunRecord {
	out := make([]RunRecord, len(current))
	copy(out, current)
	if n <= 0 {
		return out
	}
	if len(out) < n {
		ids, err := r.store.Sessions(workflowName)
		if err != nil {
			r.logger.Warn("list sessions for history", "workflow", workflowName, "error", err)
			ids = nil
		}
		for i := len(ids) - 1; i >= 0 && len(out) < n; i-- {
			if ids[i] >= sessionID {
				continue
			}
			prior, err := r.store.Load(workflowName, ids[i])
			if err != nil {
				r.logger.Warn("load prior session for history", "workflow", workflowName, "session", ids[i], "error", err)
				continue
			}
			out = append(append([]RunRecord{}, prior.Runs...), out...)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (r *Runner) runStage(ctx context.Context, stage Stage, in StepInput) (StepOutput, StageResult) {
	result := StageResult{Stage: stage.Name, StartedAt: r.now()}

	timeout := stage.Timeout
	if timeout == 0 {
		timeout = DefaultStageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := stage.Run(stageCtx, in)
	result.Duration = r.now().Sub(result.StartedAt)

	if err == nil && out.Content != nil {
		if verr := out.Content.Validate(); verr != nil {
			err = fmt.Errorf("stage output invalid: %w", verr)
		}
	}

	switch {
	case err != nil && stage.Tolerant:
		in.Logger.Warn("tolerant stage failed, skipping", "error", err)
		result.Status = StageSkipped
		result.Error = err.Error()
	case err != nil:
		in.Logger.Error("stage failed", "error", err)
		result.Status = StageFailed
		result.Error = err.Error()
	case out.Halt:
		in.Logger.Warn("stage halted the run", "reason", out.HaltReason)
		result.Status = StageHalted
		if out.Content != nil {
			result.Output, _ = types.MarshalArtifact(out.Content)
		}
	default:
		result.Status = StageOK
		if out.Content != nil {
			result.Output, _ = types.MarshalArtifact(out.Content)
		}
	}
	return out, result
}

// runGroup executes members concurrently against a read-only session view.
// Member outputs are keyed by member name for the merging stage that
// follows. The group fails when successes fall below the quorum.
func (r *Runner) runGroup(ctx context.Context, stage Stage, in StepInput) (StepOutput, StageResult) {
	result := StageResult{Stage: stage.Name, StartedAt: r.now()}

	memberIn := in
	memberIn.Session = in.Session.readOnlyView()

	type memberOut struct {
		name string
		out  StepOutput
		err  error
	}
	results := make([]memberOut, len(stage.Group))

	var wg sync.WaitGroup
	for i, member := range stage.Group {
		wg.Add(1)
		go func(i int, member Stage) {
			defer wg.Done()
			timeout := member.Timeout
			if timeout == 0 {
				timeout = DefaultStageTimeout
			}
			memberCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			mi := memberIn
			mi.Logger = in.Logger.With("member", member.Name)
			out, err := member.Run(memberCtx, mi)
			if err == nil && out.Content != nil {
				if verr := out.Content.Validate(); verr != nil {
					err = fmt.Errorf("member output invalid: %w", verr)
				}
			}
			results[i] = memberOut{name: member.Name, out: out, err: err}
		}(i, member)
	}
	wg.Wait()
	result.Duration = r.now().Sub(result.StartedAt)

	outputs := make(map[string]types.Artifact, len(results))
	var failures []string
	for _, m := range results {
		if m.err != nil {
			in.Logger.Warn("group member failed", "member", m.name, "error", m.err)
			failures = append(failures, fmt.Sprintf("%s: %v", m.name, m.err))
			continue
		}
		if m.out.Content != nil {
			outputs[m.name] = m.out.Content
		}
	}

	quorum := stage.Quorum
	if quorum <= 0 {
		quorum = len(stage.Group)
	}
	if len(outputs) < quorum {
		err := fmt.Errorf("group %s: %d/%d members succeeded, quorum %d: %v",
			stage.Name, len(outputs), len(stage.Group), quorum, failures)
		if stage.Tolerant {
			result.Status = StageSkipped
		} else {
			result.Status = StageFailed
		}
		result.Error = err.Error()
		return StepOutput{}, result
	}

	result.Status = StageOK
	if summary, err := json.Marshal(map[string]int{"members": len(stage.Group), "succeeded": len(outputs)}); err == nil {
		note := &types.Note{Text: string(summary)}
		result.Output, _ = types.MarshalArtifact(note)
	}
	out := StepOutput{}
	out.groupOutputs = outputs
	return out, result
}
