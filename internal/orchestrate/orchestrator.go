// Package orchestrate drives the phonon workflow state machine: structural
// optimization, displacement generation, the per-displacement force-job
// fan-out, aggregation into force constants, and the derived-property
// stages. The orchestrator never blocks and never computes physics itself;
// it is stepped by repeated Advance() calls and treats every external job as
// an asynchronous task identified by an opaque id.
package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"phonoflow/adapters/calc"
	"phonoflow/adapters/store"
	"phonoflow/internal/aggregate"
	"phonoflow/internal/displace"
	"phonoflow/internal/logging"
	"phonoflow/internal/phonon"
	"phonoflow/internal/physics"
	"phonoflow/internal/properties"
)

// AdvanceStatus is the outcome of one Advance call.
type AdvanceStatus string

const (
	// AdvancePending means work is outstanding; call Advance again.
	AdvancePending AdvanceStatus = "pending"
	// AdvanceAdvanced means the workflow moved to a new stage.
	AdvanceAdvanced AdvanceStatus = "advanced"
	// AdvanceFinished means the workflow reached FINISHED.
	AdvanceFinished AdvanceStatus = "finished"
	// AdvanceFailed means the workflow is in ERRORED or CANCELLED.
	AdvanceFailed AdvanceStatus = "failed"
)

// Job keys for the singleton (non-fan-out) jobs.
const (
	keyOptimize    = string(calc.JobOptimize)
	keyBornCharges = string(calc.JobBornCharges)
)

type completion struct {
	jobID  string
	status calc.JobStatus
}

// Orchestrator runs one workflow instance. WorkflowState has a single
// writer: every mutation happens under mu, and job completions delivered
// concurrently are serialized through the completions queue before they
// touch the state.
type Orchestrator struct {
	st      store.Store
	adapter calc.Adapter
	engine  physics.Engine
	metrics *Metrics
	log     *slog.Logger

	mu          sync.Mutex
	ws          *WorkflowState
	completions chan completion
}

// New returns an orchestrator with no workflow attached; call Start or
// Resume. metrics may be nil.
func New(st store.Store, adapter calc.Adapter, engine physics.Engine, metrics *Metrics) *Orchestrator {
	return &Orchestrator{
		st:          st,
		adapter:     adapter,
		engine:      engine,
		metrics:     metrics,
		log:         logging.New("orchestrate"),
		completions: make(chan completion, 4096),
	}
}

// Start validates the configuration and the input structure, persists both,
// and checkpoints the workflow in INITIALIZED. Returns the workflow id.
func (o *Orchestrator) Start(ctx context.Context, cfg Config, s *phonon.Structure) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := s.Validate(); err != nil {
		return "", err
	}
	structureID, err := o.st.PutStructure(s)
	if err != nil {
		return "", fmt.Errorf("persist structure: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ws != nil {
		return "", fmt.Errorf("orchestrator already has workflow %s", o.ws.ID)
	}
	o.ws = newWorkflowState(uuid.NewString(), cfg, structureID)
	if err := o.checkpoint(); err != nil {
		o.ws = nil
		return "", err
	}
	o.log.Info("workflow started",
		"workflow", o.ws.ID, "atoms", s.NumAtoms(),
		"optimize", cfg.RunOptimization, "properties", cfg.RequestedProperties)
	return o.ws.ID, nil
}

// WorkflowID returns the attached workflow's id.
func (o *Orchestrator) WorkflowID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ws == nil {
		return ""
	}
	return o.ws.ID
}

// HandleJobCompletion delivers one job completion. Idempotent: a completion
// for an already-terminal job, or for a superseded job id, is a no-op.
// Safe to call from any goroutine; completions are queued and applied by the
// next Advance, so no two deliveries ever interleave on the state.
func (o *Orchestrator) HandleJobCompletion(jobID string, status calc.JobStatus) {
	select {
	case o.completions <- completion{jobID: jobID, status: status}:
	default:
		// Queue full: apply inline. The mutex still serializes.
		o.mu.Lock()
		if err := o.applyCompletion(jobID, status); err != nil {
			o.log.Error("apply completion", "job", jobID, "error", err)
		}
		o.mu.Unlock()
	}
}

// Advance performs one cooperative, non-blocking step: it applies queued
// completions, then either submits ready work, polls outstanding jobs, or
// transitions to the next stage.
func (o *Orchestrator) Advance(ctx context.Context) (AdvanceStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ws == nil {
		return AdvanceFailed, errors.New("no workflow attached")
	}
	if err := o.drainCompletions(); err != nil {
		return AdvancePending, err
	}

	switch o.ws.Stage {
	case StageFinished:
		return AdvanceFinished, nil
	case StageErrored, StageCancelled:
		return AdvanceFailed, nil
	case StageInitialized:
		next := StageGenerating
		if o.ws.Config.RunOptimization {
			next = StageOptimizing
		}
		return o.advanceTo(next, "workflow initialized")
	case StageResuming:
		// Resume() restores the recorded stage before returning; a
		// persisted RESUMING means the process died mid-resume.
		return AdvancePending, errors.New("workflow stuck in RESUMING; resume it again")
	case StageOptimizing:
		return o.stepOptimizing(ctx)
	case StageGenerating:
		return o.stepGenerating(ctx)
	case StageCalculating:
		return o.stepCalculating(ctx)
	case StageAggregating:
		return o.stepAggregating(ctx)
	case StageDeriving:
		return o.stepDeriving(ctx)
	default:
		return AdvanceFailed, fmt.Errorf("unknown stage %s", o.ws.Stage)
	}
}

// Cancel cancels every outstanding job and moves the workflow to CANCELLED.
// Artifacts already persisted stay valid and inspectable.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ws == nil {
		return errors.New("no workflow attached")
	}
	if o.ws.Stage.Terminal() {
		return fmt.Errorf("%w: %s", ErrWorkflowTerminal, o.ws.Stage)
	}
	for _, rec := range o.sortedJobs() {
		if rec.Status == JobInFlight {
			if err := o.adapter.Cancel(ctx, rec.JobID); err != nil {
				o.log.Warn("cancel job", "job", rec.JobID, "error", err)
			}
		}
	}
	o.ws.transition(StageCancelled, "cancelled by caller")
	o.countTransition(StageCancelled)
	o.log.Info("workflow cancelled", "workflow", o.ws.ID)
	return o.checkpoint()
}

// Resume reconstructs a workflow from its last checkpoint and applies the
// configured lost-job policy before handing back an orchestrator ready for
// Advance.
func Resume(st store.Store, adapter calc.Adapter, engine physics.Engine, metrics *Metrics, workflowID string) (*Orchestrator, error) {
	ws, err := LoadState(st, workflowID)
	if err != nil {
		return nil, err
	}
	o := New(st, adapter, engine, metrics)
	o.ws = ws
	if ws.Stage.Terminal() {
		// Still useful for inspecting results.
		return o, nil
	}

	recorded := ws.Stage
	if recorded == StageResuming {
		// Died mid-resume; the previous real stage is in the history.
		recorded = lastRealStage(ws)
	}
	ws.transition(StageResuming, "process restarted")
	lost := 0
	if ws.Config.ResumePolicy == ResumeResubmit {
		for _, rec := range ws.Jobs {
			if rec.Status == JobInFlight {
				rec.Status = JobWaiting
				rec.JobID = ""
				lost++
			}
		}
	}
	ws.transition(recorded, fmt.Sprintf("state restored (policy=%s, requeued=%d)", ws.Config.ResumePolicy, lost))
	if err := o.checkpoint(); err != nil {
		return nil, err
	}
	o.log.Info("workflow resumed",
		"workflow", ws.ID, "stage", ws.Stage, "policy", ws.Config.ResumePolicy, "requeued", lost)
	return o, nil
}

func lastRealStage(ws *WorkflowState) Stage {
	for i := len(ws.History) - 1; i >= 0; i-- {
		if ws.History[i].From != StageResuming {
			return ws.History[i].From
		}
	}
	return StageInitialized
}

// --- stage steps (all called with mu held) ---

func (o *Orchestrator) stepOptimizing(ctx context.Context) (AdvanceStatus, error) {
	rec, ok := o.ws.Jobs[keyOptimize]
	if !ok {
		rec = &JobRecord{Key: keyOptimize, Kind: calc.JobOptimize, Status: JobWaiting}
		o.ws.Jobs[keyOptimize] = rec
	}
	if err := o.pump(ctx, []*JobRecord{rec}); err != nil {
		return AdvancePending, err
	}
	switch rec.Status {
	case JobDone:
		return o.advanceTo(StageGenerating, "structure optimized")
	case JobDead:
		return o.failWorkflow(fmt.Sprintf("structure optimization failed permanently: %s", rec.Reason))
	default:
		return AdvancePending, o.checkpoint()
	}
}

func (o *Orchestrator) stepGenerating(ctx context.Context) (AdvanceStatus, error) {
	structureID := o.ws.StructureID
	if o.ws.FinalStructureID != 0 {
		structureID = o.ws.FinalStructureID
	}
	sRec, err := o.st.GetStructure(structureID)
	if err != nil {
		return AdvancePending, err
	}
	ds, err := displace.Generate(o.engine, &sRec.Structure, displace.Config{
		Distance:          o.ws.Config.DisplacementDistance,
		SymmetryTolerance: o.ws.Config.SymmetryTolerance,
	})
	if err != nil {
		// Malformed structure or engine rejection: fatal.
		return o.failWorkflow(fmt.Sprintf("displacement generation: %v", err))
	}
	ds.StructureID = structureID
	dsID, err := o.st.PutDisplacementSet(structureID, ds)
	if err != nil {
		return AdvancePending, fmt.Errorf("persist displacement set: %w", err)
	}
	o.ws.DisplacementSetID = dsID

	for _, d := range ds.Displacements {
		o.ws.Jobs[d.ID] = &JobRecord{
			Key:            d.ID,
			Kind:           calc.JobForces,
			DisplacementID: d.ID,
			Status:         JobWaiting,
		}
	}
	if o.ws.Config.UseNac {
		o.ws.Jobs[keyBornCharges] = &JobRecord{Key: keyBornCharges, Kind: calc.JobBornCharges, Status: JobWaiting}
	}
	o.log.Info("displacements generated", "workflow", o.ws.ID, "count", len(ds.Displacements))
	return o.advanceTo(StageCalculating, fmt.Sprintf("%d displacements", len(ds.Displacements)))
}

func (o *Orchestrator) stepCalculating(ctx context.Context) (AdvanceStatus, error) {
	jobs := o.sortedJobs()
	if err := o.pump(ctx, jobs); err != nil {
		return AdvancePending, err
	}
	for _, rec := range jobs {
		if !rec.terminal() {
			return AdvancePending, o.checkpoint()
		}
	}
	// Zero displacements also lands here: nothing to wait for.
	return o.advanceTo(StageAggregating, "all calculation jobs terminal")
}

func (o *Orchestrator) stepAggregating(ctx context.Context) (AdvanceStatus, error) {
	dsRec, err := o.st.GetDisplacementSet(o.ws.DisplacementSetID)
	if err != nil {
		return AdvancePending, err
	}
	ds := &dsRec.Set

	var records []phonon.ForceRecord
	dead := 0
	for _, d := range ds.Displacements {
		if fr := o.ws.ForceResults[d.ID]; fr != nil {
			records = append(records, *fr)
			continue
		}
		if rec := o.ws.Jobs[d.ID]; rec != nil && rec.Status == JobDead {
			dead++
			records = append(records, phonon.ForceRecord{
				DisplacementID: d.ID,
				Status:         phonon.ForceFailed,
				Reason:         rec.Reason,
			})
		}
	}

	if dead > 0 {
		// Keep the partial force sets for diagnostics, then error out.
		partial := aggregate.Partial(ds, records)
		partial.DisplacementSetID = dsRec.ID
		if id, perr := o.st.PutForceSets(partial); perr == nil {
			o.ws.ForceSetsID = id
		} else {
			o.log.Error("persist partial force sets", "workflow", o.ws.ID, "error", perr)
		}
		return o.failWorkflow(fmt.Sprintf("%v: %d of %d force jobs failed permanently",
			aggregate.ErrIncompleteForceSet, dead, len(ds.Displacements)))
	}

	fs, err := aggregate.Aggregate(ds, records)
	if err != nil {
		return o.failWorkflow(fmt.Sprintf("aggregate forces: %v", err))
	}
	fs.DisplacementSetID = dsRec.ID
	fsID, err := o.st.PutForceSets(fs)
	if err != nil {
		return AdvancePending, fmt.Errorf("persist force sets: %w", err)
	}
	o.ws.ForceSetsID = fsID

	sRec, err := o.st.GetStructure(dsRec.StructureID)
	if err != nil {
		return AdvancePending, err
	}
	fc, err := aggregate.DeriveForceConstants(o.engine, &sRec.Structure, ds, fs)
	if err != nil {
		return o.failWorkflow(fmt.Sprintf("derive force constants: %v", err))
	}
	fc.ForceSetsID = fsID
	fcID, err := o.st.PutForceConstants(fc)
	if err != nil {
		return AdvancePending, fmt.Errorf("persist force constants: %w", err)
	}
	o.ws.ForceConstantsID = fcID

	if rec, ok := o.ws.Jobs[keyBornCharges]; ok && rec.Status == JobDead {
		// NAC-sensitive properties degrade rather than block the workflow.
		o.log.Warn("born-charges job failed; deriving without NAC",
			"workflow", o.ws.ID, "reason", rec.Reason)
	}
	return o.advanceTo(StageDeriving, "force constants derived")
}

func (o *Orchestrator) stepDeriving(ctx context.Context) (AdvanceStatus, error) {
	fcRec, err := o.st.GetForceConstants(o.ws.ForceConstantsID)
	if err != nil {
		return AdvancePending, err
	}
	var nac *phonon.Nac
	if o.ws.NacID != 0 {
		nacRec, err := o.st.GetNac(o.ws.NacID)
		if err != nil {
			return AdvancePending, err
		}
		nac = &nacRec.Nac
	}

	kinds := o.ws.Config.Kinds()
	succeeded := 0
	for _, kind := range kinds {
		if o.ws.Properties[string(kind)] != nil {
			if o.ws.Properties[string(kind)].Status == "succeeded" {
				succeeded++
			}
			continue
		}
		outcome := o.runPropertyStage(kind, &fcRec.Constants, nac)
		o.ws.Properties[string(kind)] = outcome
		if outcome.Status == "succeeded" {
			succeeded++
		}
	}
	return o.finishWorkflow(fmt.Sprintf("derived %d/%d properties", succeeded, len(kinds)))
}

// runPropertyStage executes one derived-property stage. Stage failures are
// recorded in the per-property map, never escalated.
func (o *Orchestrator) runPropertyStage(kind properties.Kind, fc *phonon.ForceConstants, nac *phonon.Nac) *PropertyOutcome {
	prRec := &store.PropertyResultRec{
		WorkflowID:       o.ws.ID,
		Kind:             string(kind),
		ForceConstantsID: o.ws.ForceConstantsID,
	}
	if kind.UsesNac() {
		prRec.NacID = o.ws.NacID
	}
	res, err := properties.Compute(o.engine, kind, fc, nac, o.ws.Config.Properties)
	if err != nil {
		o.log.Warn("property stage failed", "workflow", o.ws.ID, "kind", kind, "error", err)
		prRec.Status = "failed"
		prRec.Error = err.Error()
		id, perr := o.st.PutPropertyResult(prRec)
		if perr != nil {
			o.log.Error("persist property result", "workflow", o.ws.ID, "kind", kind, "error", perr)
		}
		return &PropertyOutcome{Status: "failed", Error: err.Error(), ResultID: id}
	}
	payload, merr := json.Marshal(res)
	if merr != nil {
		prRec.Status = "failed"
		prRec.Error = merr.Error()
		id, _ := o.st.PutPropertyResult(prRec)
		return &PropertyOutcome{Status: "failed", Error: merr.Error(), ResultID: id}
	}
	prRec.Status = "succeeded"
	prRec.Payload = payload
	id, perr := o.st.PutPropertyResult(prRec)
	if perr != nil {
		o.log.Error("persist property result", "workflow", o.ws.ID, "kind", kind, "error", perr)
		return &PropertyOutcome{Status: "failed", Error: perr.Error()}
	}
	o.log.Info("property derived", "workflow", o.ws.ID, "kind", kind, "result_id", id)
	return &PropertyOutcome{Status: "succeeded", ResultID: id}
}

// --- job pump (submission window + polling + retries) ---

// pump submits waiting jobs up to the fan-out window and polls in-flight
// ones, applying results through the same path as queued completions.
func (o *Orchestrator) pump(ctx context.Context, jobs []*JobRecord) error {
	inFlight := 0
	for _, rec := range jobs {
		if rec.Status == JobInFlight {
			inFlight++
		}
	}

	for _, rec := range jobs {
		if rec.Status != JobWaiting || inFlight >= o.ws.Config.MaxInFlight {
			continue
		}
		spec, err := o.buildSpec(rec)
		if err != nil {
			return err
		}
		jobID, err := o.adapter.Submit(ctx, *spec)
		if err != nil {
			o.jobFailed(rec, fmt.Sprintf("submit: %v", err))
			continue
		}
		rec.JobID = jobID
		rec.Status = JobInFlight
		rec.SubmittedAt = time.Now().UTC().Format(time.RFC3339Nano)
		inFlight++
		o.countSubmit(rec.Kind)
		o.log.Debug("job submitted", "workflow", o.ws.ID, "key", rec.Key, "job", jobID, "attempt", rec.Retries+1)
	}

	for _, rec := range jobs {
		if rec.Status != JobInFlight {
			continue
		}
		status, err := o.adapter.Poll(ctx, rec.JobID)
		if err != nil {
			// Unknown or unreachable job: a lost job is a failed job,
			// subject to the same retry policy.
			o.jobFailed(rec, fmt.Sprintf("poll: %v", err))
			continue
		}
		if status.State == calc.JobPending {
			if o.timedOut(rec) {
				_ = o.adapter.Cancel(ctx, rec.JobID)
				o.jobFailed(rec, fmt.Sprintf("timed out after %s", o.ws.Config.JobTimeout))
			}
			continue
		}
		if err := o.applyStatus(rec, status); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) timedOut(rec *JobRecord) bool {
	if o.ws.Config.JobTimeout <= 0 || rec.SubmittedAt == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, rec.SubmittedAt)
	if err != nil {
		return false
	}
	return time.Since(t) > o.ws.Config.JobTimeout
}

func (o *Orchestrator) buildSpec(rec *JobRecord) (*calc.JobSpec, error) {
	structureID := o.ws.StructureID
	if rec.Kind != calc.JobOptimize && o.ws.FinalStructureID != 0 {
		structureID = o.ws.FinalStructureID
	}
	sRec, err := o.st.GetStructure(structureID)
	if err != nil {
		return nil, err
	}
	spec := &calc.JobSpec{Kind: rec.Kind, Structure: sRec.Structure}
	if rec.Kind == calc.JobForces {
		dsRec, err := o.st.GetDisplacementSet(o.ws.DisplacementSetID)
		if err != nil {
			return nil, err
		}
		for i := range dsRec.Set.Displacements {
			if dsRec.Set.Displacements[i].ID == rec.DisplacementID {
				spec.Displacement = &dsRec.Set.Displacements[i]
				break
			}
		}
		if spec.Displacement == nil {
			return nil, fmt.Errorf("displacement %s not found in set %d", rec.DisplacementID, o.ws.DisplacementSetID)
		}
	}
	return spec, nil
}

// drainCompletions applies every queued completion. Called with mu held;
// this is the single consumer the concurrency model requires.
func (o *Orchestrator) drainCompletions() error {
	for {
		select {
		case c := <-o.completions:
			if err := o.applyCompletion(c.jobID, c.status); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// applyCompletion routes a delivered completion to its job record. No-op
// for unknown or superseded job ids and for jobs already terminal — this is
// what makes delivery idempotent.
func (o *Orchestrator) applyCompletion(jobID string, status calc.JobStatus) error {
	if o.ws == nil {
		return nil
	}
	var rec *JobRecord
	for _, r := range o.ws.Jobs {
		if r.JobID == jobID {
			rec = r
			break
		}
	}
	if rec == nil || rec.terminal() || rec.Status != JobInFlight {
		return nil
	}
	if status.State == calc.JobPending {
		return nil
	}
	return o.applyStatus(rec, status)
}

// applyStatus records a terminal adapter status on an in-flight job.
func (o *Orchestrator) applyStatus(rec *JobRecord, status calc.JobStatus) error {
	if status.State == calc.JobFailed {
		o.jobFailed(rec, status.Reason)
		return nil
	}

	switch rec.Kind {
	case calc.JobForces:
		o.ws.ForceResults[rec.DisplacementID] = &phonon.ForceRecord{
			DisplacementID: rec.DisplacementID,
			Status:         phonon.ForceSuccess,
			Forces:         status.Forces,
		}
	case calc.JobOptimize:
		if status.Structure == nil {
			o.jobFailed(rec, "optimize job returned no structure")
			return nil
		}
		id, err := o.st.PutStructure(status.Structure)
		if err != nil {
			return fmt.Errorf("persist optimized structure: %w", err)
		}
		o.ws.FinalStructureID = id
	case calc.JobBornCharges:
		if status.Nac == nil {
			o.jobFailed(rec, "born-charges job returned no NAC term")
			return nil
		}
		structureID := o.ws.StructureID
		if o.ws.FinalStructureID != 0 {
			structureID = o.ws.FinalStructureID
		}
		id, err := o.st.PutNac(structureID, status.Nac)
		if err != nil {
			return fmt.Errorf("persist nac: %w", err)
		}
		o.ws.NacID = id
	}
	rec.Status = JobDone
	rec.Reason = ""
	o.countSuccess(rec.Kind)
	return nil
}

// jobFailed applies the retry policy: requeue below the ceiling, otherwise
// mark the job permanently failed. Only this one job is affected; the rest
// of the fan-out keeps flying.
func (o *Orchestrator) jobFailed(rec *JobRecord, reason string) {
	rec.JobID = ""
	rec.Reason = reason
	if rec.Retries < o.ws.Config.MaxJobRetries {
		rec.Retries++
		rec.Status = JobWaiting
		o.countRetry(rec.Kind)
		o.log.Warn("job failed, retrying",
			"workflow", o.ws.ID, "key", rec.Key, "attempt", rec.Retries, "reason", reason)
		return
	}
	rec.Status = JobDead
	o.countPermanentFailure(rec.Kind)
	o.log.Error("job failed permanently",
		"workflow", o.ws.ID, "key", rec.Key, "retries", rec.Retries, "reason", reason)
}

// --- transitions / checkpointing ---

func (o *Orchestrator) advanceTo(next Stage, reason string) (AdvanceStatus, error) {
	o.ws.transition(next, reason)
	o.countTransition(next)
	o.log.Info("stage advanced", "workflow", o.ws.ID, "stage", next, "reason", reason)
	if err := o.checkpoint(); err != nil {
		return AdvancePending, err
	}
	if next == StageFinished {
		return AdvanceFinished, nil
	}
	return AdvanceAdvanced, nil
}

func (o *Orchestrator) finishWorkflow(reason string) (AdvanceStatus, error) {
	return o.advanceTo(StageFinished, reason)
}

func (o *Orchestrator) failWorkflow(reason string) (AdvanceStatus, error) {
	o.ws.Err = reason
	o.ws.transition(StageErrored, reason)
	o.countTransition(StageErrored)
	o.log.Error("workflow errored", "workflow", o.ws.ID, "reason", reason)
	if err := o.checkpoint(); err != nil {
		return AdvanceFailed, err
	}
	return AdvanceFailed, nil
}

// checkpoint persists the full WorkflowState. Called after every transition
// and whenever the job table changed, so a crash loses at most one
// transition's worth of progress.
func (o *Orchestrator) checkpoint() error {
	rec, err := o.ws.marshal()
	if err != nil {
		return err
	}
	if err := o.st.SaveWorkflowState(rec); err != nil {
		return fmt.Errorf("checkpoint workflow %s: %w", o.ws.ID, err)
	}
	return nil
}

// sortedJobs returns the job records in deterministic key order.
func (o *Orchestrator) sortedJobs() []*JobRecord {
	keys := make([]string, 0, len(o.ws.Jobs))
	for k := range o.ws.Jobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*JobRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, o.ws.Jobs[k])
	}
	return out
}

// --- metrics helpers (metrics may be nil) ---

func (o *Orchestrator) countSubmit(kind calc.JobKind) {
	if o.metrics != nil {
		o.metrics.JobsSubmitted.WithLabelValues(string(kind)).Inc()
	}
}

func (o *Orchestrator) countSuccess(kind calc.JobKind) {
	if o.metrics != nil {
		o.metrics.JobsSucceeded.WithLabelValues(string(kind)).Inc()
	}
}

func (o *Orchestrator) countRetry(kind calc.JobKind) {
	if o.metrics != nil {
		o.metrics.JobsRetried.WithLabelValues(string(kind)).Inc()
	}
}

func (o *Orchestrator) countPermanentFailure(kind calc.JobKind) {
	if o.metrics != nil {
		o.metrics.JobsFailed.WithLabelValues(string(kind)).Inc()
	}
}

func (o *Orchestrator) countTransition(to Stage) {
	if o.metrics != nil {
		o.metrics.Transitions.WithLabelValues(string(to)).Inc()
	}
}
