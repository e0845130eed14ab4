package calc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"phonoflow/internal/phonon"
)

// LocalAdapter runs jobs in-process on a bounded worker pool. It is the
// adapter behind `phonoflow run` when no external simulation code is
// attached, and doubles as a concurrency-realistic test double: jobs really
// are asynchronous, completing on pool goroutines while the orchestrator
// polls.
type LocalAdapter struct {
	model Model

	mu   sync.Mutex
	jobs map[string]*localJob

	g *errgroup.Group
}

type localJob struct {
	spec      JobSpec
	status    JobStatus
	cancelled bool
}

// NewLocalAdapter returns an adapter running specs on at most workers
// concurrent goroutines.
func NewLocalAdapter(model Model, workers int) *LocalAdapter {
	if workers < 1 {
		workers = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(workers)
	return &LocalAdapter{
		model: model,
		jobs:  make(map[string]*localJob),
		g:     g,
	}
}

// Submit implements Adapter.
func (a *LocalAdapter) Submit(ctx context.Context, spec JobSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	job := &localJob{spec: spec, status: JobStatus{State: JobPending}}
	a.mu.Lock()
	a.jobs[id] = job
	a.mu.Unlock()

	a.g.Go(func() error {
		status, err := run(a.model, spec)
		a.mu.Lock()
		defer a.mu.Unlock()
		if job.cancelled {
			return nil
		}
		if err != nil {
			job.status = JobStatus{State: JobFailed, Reason: err.Error()}
			return nil
		}
		job.status = status
		return nil
	})
	return id, nil
}

// Poll implements Adapter.
func (a *LocalAdapter) Poll(ctx context.Context, jobID string) (JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return JobStatus{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[jobID]
	if !ok {
		return JobStatus{}, fmt.Errorf("unknown job %s", jobID)
	}
	return copyStatus(job.status), nil
}

// Cancel implements Adapter. A job already running to completion keeps its
// result discarded: the cancelled state wins.
func (a *LocalAdapter) Cancel(ctx context.Context, jobID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[jobID]
	if !ok {
		return nil
	}
	if job.status.State == JobPending {
		job.cancelled = true
		job.status = JobStatus{State: JobFailed, Reason: "cancelled"}
	}
	return nil
}

// Drain blocks until every submitted job has finished executing. Test and
// shutdown helper; the orchestrator itself never calls it.
func (a *LocalAdapter) Drain() { _ = a.g.Wait() }

func copyStatus(s JobStatus) JobStatus {
	cp := s
	if s.Forces != nil {
		cp.Forces = append([]phonon.Vec3(nil), s.Forces...)
	}
	if s.Structure != nil {
		st := *s.Structure
		st.Positions = append([]phonon.Vec3(nil), s.Structure.Positions...)
		st.Species = append([]string(nil), s.Structure.Species...)
		cp.Structure = &st
	}
	if s.Nac != nil {
		n := *s.Nac
		n.BornCharges = append([]phonon.Mat3(nil), s.Nac.BornCharges...)
		cp.Nac = &n
	}
	return cp
}
