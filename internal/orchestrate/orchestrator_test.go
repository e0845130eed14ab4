package orchestrate

import (
	"context"
	"errors"
	"testing"

	"phonoflow/adapters/calc"
	"phonoflow/adapters/store"
	"phonoflow/internal/phonon"
	"phonoflow/internal/physics"
)

func testStructure() *phonon.Structure {
	return &phonon.Structure{
		Lattice: phonon.Mat3{
			{4.0, 0, 0},
			{0, 4.0, 0},
			{0, 0, 4.0},
		},
		Positions: []phonon.Vec3{
			{0, 0, 0},
			{0.5, 0.5, 0.5},
		},
		Species: []string{"Si", "Si"},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RequestedProperties = []string{"band_structure", "dos", "gruneisen", "qha"}
	cfg.Properties.QPath = []phonon.Vec3{{0, 0, 0}, {0.5, 0, 0}, {0.5, 0.5, 0}}
	cfg.Properties.DosPoints = 101
	cfg.Properties.VolumeScales = []float64{0.98, 1.0, 1.02}
	cfg.Properties.Temperatures = []float64{100, 200, 300}
	return cfg
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *calc.ScriptAdapter, store.Store) {
	t.Helper()
	st := store.NewMemStore()
	adapter := calc.NewScriptAdapter(calc.SpringModel{})
	o := New(st, adapter, physics.NewHarmonicEngine(), NewMetrics())
	return o, adapter, st
}

// runToTerminal drives Advance until the workflow stops moving.
func runToTerminal(t *testing.T, o *Orchestrator) AdvanceStatus {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		status, err := o.Advance(ctx)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if status == AdvanceFinished || status == AdvanceFailed {
			return status
		}
	}
	t.Fatalf("workflow did not reach a terminal state in 200 steps")
	return ""
}

func TestWorkflowHappyPath(t *testing.T) {
	o, adapter, st := newTestOrchestrator(t)
	cfg := testConfig()
	cfg.RunOptimization = true
	cfg.UseNac = true

	id, err := o.Start(context.Background(), cfg, testStructure())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := runToTerminal(t, o); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", status)
	}

	ws, err := o.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if ws.Stage != StageFinished {
		t.Fatalf("stage = %s, want %s", ws.Stage, StageFinished)
	}
	if ws.FinalStructureID == 0 || ws.FinalStructureID == ws.StructureID {
		t.Fatalf("optimization did not produce a distinct structure: initial=%d final=%d",
			ws.StructureID, ws.FinalStructureID)
	}
	if ws.NacID == 0 {
		t.Fatalf("expected a persisted NAC term")
	}
	// 2 atoms x 3 axes force jobs plus optimize and born_charges.
	if got := len(ws.Jobs); got != 8 {
		t.Fatalf("job count = %d, want 8", got)
	}
	for key, rec := range ws.Jobs {
		if rec.Status != JobDone {
			t.Fatalf("job %s status = %s, want %s", key, rec.Status, JobDone)
		}
	}
	for _, kind := range []string{"band_structure", "dos", "gruneisen", "qha"} {
		out := ws.Properties[kind]
		if out == nil || out.Status != "succeeded" {
			t.Fatalf("property %s outcome = %+v, want succeeded", kind, out)
		}
	}
	if n := adapter.SubmitCount("optimize"); n != 1 {
		t.Fatalf("optimize submitted %d times, want 1", n)
	}

	results, err := st.ListPropertyResults(id)
	if err != nil {
		t.Fatalf("ListPropertyResults: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("persisted %d property results, want 4", len(results))
	}
	for _, r := range results {
		if r.Status != "succeeded" || len(r.Payload) == 0 {
			t.Fatalf("result %s: status=%s payload=%d bytes", r.Kind, r.Status, len(r.Payload))
		}
	}
}

func TestRetryThenSuccess(t *testing.T) {
	o, adapter, _ := newTestOrchestrator(t)
	cfg := testConfig()
	cfg.MaxJobRetries = 2
	adapter.FailTimes("d0-x", 2)

	if _, err := o.Start(context.Background(), cfg, testStructure()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := runToTerminal(t, o); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", status)
	}
	if n := adapter.SubmitCount("d0-x"); n != 3 {
		t.Fatalf("d0-x submitted %d times, want 3 (initial + 2 retries)", n)
	}
	ws, _ := o.Snapshot()
	rec := ws.Jobs["d0-x"]
	if rec.Status != JobDone || rec.Retries != 2 {
		t.Fatalf("d0-x record = %+v, want done after 2 retries", rec)
	}
}

func TestRetryCeilingErrorsWorkflow(t *testing.T) {
	o, adapter, st := newTestOrchestrator(t)
	cfg := testConfig()
	cfg.MaxJobRetries = 2
	// One more failure than the ceiling allows.
	adapter.FailTimes("d1-z", 3)

	if _, err := o.Start(context.Background(), cfg, testStructure()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := runToTerminal(t, o); status != AdvanceFailed {
		t.Fatalf("terminal status = %s, want failed", status)
	}

	ws, _ := o.Snapshot()
	if ws.Stage != StageErrored {
		t.Fatalf("stage = %s, want %s", ws.Stage, StageErrored)
	}
	if rec := ws.Jobs["d1-z"]; rec.Status != JobDead {
		t.Fatalf("d1-z status = %s, want %s", rec.Status, JobDead)
	}
	// The exact ceiling: initial attempt plus MaxJobRetries resubmissions.
	if n := adapter.SubmitCount("d1-z"); n != 3 {
		t.Fatalf("d1-z submitted %d times, want 3", n)
	}
	// The other five jobs were unaffected by the failing one.
	for _, key := range []string{"d0-x", "d0-y", "d0-z", "d1-x", "d1-y"} {
		if rec := ws.Jobs[key]; rec.Status != JobDone {
			t.Fatalf("job %s status = %s, want %s", key, rec.Status, JobDone)
		}
	}

	// Partial force sets are retained for diagnostics.
	if ws.ForceSetsID == 0 {
		t.Fatalf("expected a persisted partial force set")
	}
	fsRec, err := st.GetForceSets(ws.ForceSetsID)
	if err != nil {
		t.Fatalf("GetForceSets: %v", err)
	}
	if fsRec.Complete {
		t.Fatalf("partial force set marked complete")
	}
	failed := 0
	for _, r := range fsRec.Sets.Records {
		if r.Status == phonon.ForceFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("partial force set has %d failed records, want 1", failed)
	}

	// No derived stage ran.
	if ws.ForceConstantsID != 0 {
		t.Fatalf("force constants derived despite incomplete force set")
	}
	results, _ := st.ListPropertyResults(ws.ID)
	if len(results) != 0 {
		t.Fatalf("derived %d property results after aggregation error, want 0", len(results))
	}
}

func TestCompletionDeliveryIsIdempotent(t *testing.T) {
	o, adapter, _ := newTestOrchestrator(t)
	cfg := testConfig()
	adapter.Hold("d0-x")

	if _, err := o.Start(context.Background(), cfg, testStructure()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := o.Advance(ctx); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	ws, _ := o.Snapshot()
	if ws.Stage != StageCalculating {
		t.Fatalf("stage = %s, want %s while a job is held", ws.Stage, StageCalculating)
	}
	jobID := ws.Jobs["d0-x"].JobID
	if jobID == "" {
		t.Fatalf("held job has no adapter id")
	}

	adapter.Release("d0-x")
	status, err := adapter.Poll(ctx, jobID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	// Deliver the same completion twice; the second must be a no-op.
	o.HandleJobCompletion(jobID, status)
	o.HandleJobCompletion(jobID, status)

	if got := runToTerminal(t, o); got != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", got)
	}
	ws, _ = o.Snapshot()
	rec := ws.Jobs["d0-x"]
	if rec.Status != JobDone || rec.Retries != 0 {
		t.Fatalf("d0-x record = %+v, want done with zero retries", rec)
	}
	if n := adapter.SubmitCount("d0-x"); n != 1 {
		t.Fatalf("d0-x submitted %d times, want 1", n)
	}
}

// noIrreducibleEngine reports no symmetry-inequivalent atoms, producing an
// empty displacement set.
type noIrreducibleEngine struct {
	*physics.HarmonicEngine
}

func (noIrreducibleEngine) IrreducibleAtoms(*phonon.Structure, float64) ([]int, error) {
	return nil, nil
}

func TestEmptyDisplacementSetPassesThrough(t *testing.T) {
	st := store.NewMemStore()
	adapter := calc.NewScriptAdapter(calc.SpringModel{})
	o := New(st, adapter, noIrreducibleEngine{physics.NewHarmonicEngine()}, nil)

	cfg := DefaultConfig() // no requested properties
	if _, err := o.Start(context.Background(), cfg, testStructure()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := runToTerminal(t, o); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", status)
	}
	ws, _ := o.Snapshot()
	if len(ws.Jobs) != 0 {
		t.Fatalf("created %d jobs for an empty displacement set", len(ws.Jobs))
	}
	fsRec, err := st.GetForceSets(ws.ForceSetsID)
	if err != nil {
		t.Fatalf("GetForceSets: %v", err)
	}
	if !fsRec.Complete || len(fsRec.Sets.Records) != 0 {
		t.Fatalf("empty force set: complete=%v records=%d, want complete and empty",
			fsRec.Complete, len(fsRec.Sets.Records))
	}
	if ws.ForceConstantsID == 0 {
		t.Fatalf("force constants missing for empty displacement set")
	}
}

func TestResumeRepoll(t *testing.T) {
	o, adapter, st := newTestOrchestrator(t)
	cfg := testConfig()
	cfg.ResumePolicy = ResumeRepoll
	adapter.Hold("d1-y")

	id, err := o.Start(context.Background(), cfg, testStructure())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := o.Advance(ctx); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}

	// Simulate a process restart: new orchestrator over the same store and
	// adapter.
	resumed, err := Resume(st, adapter, physics.NewHarmonicEngine(), nil, id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	adapter.Release("d1-y")
	if status := runToTerminal(t, resumed); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", status)
	}
	// Repoll reuses the recorded job id; no resubmission.
	if n := adapter.SubmitCount("d1-y"); n != 1 {
		t.Fatalf("d1-y submitted %d times under repoll, want 1", n)
	}
}

func TestResumeResubmit(t *testing.T) {
	o, adapter, st := newTestOrchestrator(t)
	cfg := testConfig()
	cfg.ResumePolicy = ResumeResubmit
	adapter.Hold("d1-y")

	id, err := o.Start(context.Background(), cfg, testStructure())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := o.Advance(ctx); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}

	resumed, err := Resume(st, adapter, physics.NewHarmonicEngine(), nil, id)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	ws, _ := resumed.Snapshot()
	if rec := ws.Jobs["d1-y"]; rec.Status != JobWaiting || rec.JobID != "" {
		t.Fatalf("d1-y after resubmit resume = %+v, want requeued with no job id", rec)
	}

	// Stop holding so the fresh submission completes.
	adapter.Release("d1-y")
	if status := runToTerminal(t, resumed); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", status)
	}
	if n := adapter.SubmitCount("d1-y"); n != 2 {
		t.Fatalf("d1-y submitted %d times under resubmit, want 2", n)
	}
}

func TestCancelMidFanout(t *testing.T) {
	o, adapter, _ := newTestOrchestrator(t)
	cfg := testConfig()
	adapter.Hold("d0-y")

	if _, err := o.Start(context.Background(), cfg, testStructure()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := o.Advance(ctx); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	if err := o.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	ws, _ := o.Snapshot()
	if ws.Stage != StageCancelled || ws.Status != "cancelled" {
		t.Fatalf("after cancel: stage=%s status=%s", ws.Stage, ws.Status)
	}
	// Artifacts persisted before the cancel stay referenced.
	if ws.DisplacementSetID == 0 {
		t.Fatalf("displacement set reference lost on cancel")
	}
	if status, err := o.Advance(ctx); err != nil || status != AdvanceFailed {
		t.Fatalf("Advance after cancel = %s, %v; want failed, nil", status, err)
	}
	if err := o.Cancel(ctx); !errors.Is(err, ErrWorkflowTerminal) {
		t.Fatalf("second Cancel error = %v, want ErrWorkflowTerminal", err)
	}
}

func TestNacJobFailureDegradesGracefully(t *testing.T) {
	o, adapter, _ := newTestOrchestrator(t)
	cfg := testConfig()
	cfg.UseNac = true
	cfg.MaxJobRetries = 1
	adapter.FailTimes("born_charges", 5)

	if _, err := o.Start(context.Background(), cfg, testStructure()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := runToTerminal(t, o); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", status)
	}
	ws, _ := o.Snapshot()
	if ws.NacID != 0 {
		t.Fatalf("NAC id set although the born-charges job failed")
	}
	if rec := ws.Jobs["born_charges"]; rec.Status != JobDead {
		t.Fatalf("born_charges status = %s, want %s", rec.Status, JobDead)
	}
	// Band structure still derives, just without the correction.
	if out := ws.Properties["band_structure"]; out == nil || out.Status != "succeeded" {
		t.Fatalf("band_structure outcome = %+v, want succeeded without NAC", out)
	}
}

func TestMaxInFlightWindow(t *testing.T) {
	o, adapter, _ := newTestOrchestrator(t)
	cfg := testConfig()
	cfg.MaxInFlight = 2
	for _, key := range []string{"d0-x", "d0-y", "d0-z", "d1-x", "d1-y", "d1-z"} {
		adapter.Hold(key)
	}

	if _, err := o.Start(context.Background(), cfg, testStructure()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := o.Advance(ctx); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	ws, _ := o.Snapshot()
	inFlight := 0
	for _, rec := range ws.Jobs {
		if rec.Status == JobInFlight {
			inFlight++
		}
	}
	if inFlight != 2 {
		t.Fatalf("in-flight jobs = %d, want window of 2", inFlight)
	}

	for _, key := range []string{"d0-x", "d0-y", "d0-z", "d1-x", "d1-y", "d1-z"} {
		adapter.Release(key)
		for i := 0; i < 5; i++ {
			if _, err := o.Advance(ctx); err != nil {
				t.Fatalf("Advance: %v", err)
			}
		}
		adapter.Release(key) // catch jobs submitted after the first release
	}
	if status := runToTerminal(t, o); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", status)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	o, _, st := newTestOrchestrator(t)
	cfg := testConfig()
	id, err := o.Start(context.Background(), cfg, testStructure())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if status := runToTerminal(t, o); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished", status)
	}

	loaded, err := LoadState(st, id)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	ws, _ := o.Snapshot()
	if loaded.Stage != ws.Stage || loaded.ForceConstantsID != ws.ForceConstantsID {
		t.Fatalf("checkpoint mismatch: loaded stage=%s fc=%d, live stage=%s fc=%d",
			loaded.Stage, loaded.ForceConstantsID, ws.Stage, ws.ForceConstantsID)
	}
	if len(loaded.History) == 0 {
		t.Fatalf("history lost across checkpoint")
	}
	if loaded.History[0].From != StageInitialized {
		t.Fatalf("first transition from %s, want %s", loaded.History[0].From, StageInitialized)
	}
}

func TestStartRejectsBadInput(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	bad := testConfig()
	bad.DisplacementDistance = -1
	if _, err := o.Start(context.Background(), bad, testStructure()); !errors.Is(err, ErrConfig) {
		t.Fatalf("Start with bad config error = %v, want ErrConfig", err)
	}

	s := testStructure()
	s.Species = s.Species[:1]
	if _, err := o.Start(context.Background(), testConfig(), s); !errors.Is(err, phonon.ErrInvalidStructure) {
		t.Fatalf("Start with bad structure error = %v, want ErrInvalidStructure", err)
	}
}

func TestPropertyStageFailureIsScoped(t *testing.T) {
	o, _, st := newTestOrchestrator(t)
	cfg := testConfig()
	// dos_points below 2 passes config validation only if dos is not
	// requested; force a runtime stage failure instead by requesting a
	// degenerate q-path through a config mutated after validation.
	cfg.RequestedProperties = []string{"dos", "qha"}
	id, err := o.Start(context.Background(), cfg, testStructure())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Corrupt one stage's input after Start to make exactly that stage fail.
	o.mu.Lock()
	o.ws.Config.Properties.DosPoints = 1
	o.mu.Unlock()

	if status := runToTerminal(t, o); status != AdvanceFinished {
		t.Fatalf("terminal status = %s, want finished despite a failed stage", status)
	}
	ws, _ := o.Snapshot()
	if out := ws.Properties["dos"]; out == nil || out.Status != "failed" || out.Error == "" {
		t.Fatalf("dos outcome = %+v, want recorded failure", out)
	}
	if out := ws.Properties["qha"]; out == nil || out.Status != "succeeded" {
		t.Fatalf("qha outcome = %+v, want succeeded", out)
	}
	results, _ := st.ListPropertyResults(id)
	if len(results) != 2 {
		t.Fatalf("persisted %d property results, want 2 (one failed, one succeeded)", len(results))
	}
}
