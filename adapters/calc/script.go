package calc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ScriptAdapter is a fully deterministic Adapter for orchestrator tests:
// jobs complete synchronously on submit unless held, and failures are
// injected per displacement id. Successful results come from the embedded
// Model.
type ScriptAdapter struct {
	Model Model

	mu        sync.Mutex
	results   map[string]JobStatus
	failures  map[string]int  // displacement id -> failures still to inject
	held      map[string]bool // displacement id -> keep pending
	submitted map[string]int  // displacement id (or job kind) -> submit count
	heldJobs  map[string]JobSpec
}

// NewScriptAdapter returns a scripted adapter over the given model.
func NewScriptAdapter(model Model) *ScriptAdapter {
	return &ScriptAdapter{
		Model:     model,
		results:   make(map[string]JobStatus),
		failures:  make(map[string]int),
		held:      make(map[string]bool),
		submitted: make(map[string]int),
		heldJobs:  make(map[string]JobSpec),
	}
}

// FailTimes makes the next n submissions for the displacement id fail.
func (a *ScriptAdapter) FailTimes(displacementID string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[displacementID] = n
}

// Hold keeps jobs for the displacement id pending until Release.
func (a *ScriptAdapter) Hold(displacementID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held[displacementID] = true
}

// Release completes every held job for the displacement id.
func (a *ScriptAdapter) Release(displacementID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.held[displacementID] = false
	for id, spec := range a.heldJobs {
		if key(spec) != displacementID {
			continue
		}
		delete(a.heldJobs, id)
		a.results[id] = a.finish(spec)
	}
}

// SubmitCount reports how many times a displacement id (or, for non-force
// jobs, the job kind) was submitted.
func (a *ScriptAdapter) SubmitCount(displacementID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submitted[displacementID]
}

func key(spec JobSpec) string {
	if spec.Kind == JobForces && spec.Displacement != nil {
		return spec.Displacement.ID
	}
	return string(spec.Kind)
}

func (a *ScriptAdapter) finish(spec JobSpec) JobStatus {
	k := key(spec)
	if a.failures[k] > 0 {
		a.failures[k]--
		return JobStatus{State: JobFailed, Reason: fmt.Sprintf("scripted failure for %s", k)}
	}
	status, err := run(a.Model, spec)
	if err != nil {
		return JobStatus{State: JobFailed, Reason: err.Error()}
	}
	return status
}

// Submit implements Adapter.
func (a *ScriptAdapter) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.NewString()
	k := key(spec)
	a.submitted[k]++
	if a.held[k] {
		a.heldJobs[id] = spec
		a.results[id] = JobStatus{State: JobPending}
		return id, nil
	}
	a.results[id] = a.finish(spec)
	return id, nil
}

// Poll implements Adapter.
func (a *ScriptAdapter) Poll(ctx context.Context, jobID string) (JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return JobStatus{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	status, ok := a.results[jobID]
	if !ok {
		return JobStatus{}, fmt.Errorf("unknown job %s", jobID)
	}
	return copyStatus(status), nil
}

// Cancel implements Adapter.
func (a *ScriptAdapter) Cancel(ctx context.Context, jobID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if status, ok := a.results[jobID]; ok && status.State == JobPending {
		delete(a.heldJobs, jobID)
		a.results[jobID] = JobStatus{State: JobFailed, Reason: "cancelled"}
	}
	return nil
}
