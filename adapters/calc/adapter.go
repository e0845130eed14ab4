// Package calc defines the calculation-adapter contract: the black box the
// orchestrator submits external jobs to. One job per displacement (plus the
// optional Born-charges and optimization jobs), identified by opaque job
// ids. Adapters must tolerate repeated polling and resubmission triggered by
// the orchestrator's retry logic.
package calc

import (
	"context"

	"phonoflow/internal/phonon"
)

// JobKind selects what an external job computes.
type JobKind string

const (
	JobForces      JobKind = "forces"
	JobBornCharges JobKind = "born_charges"
	JobOptimize    JobKind = "optimize"
)

// JobSpec is the input to one external job.
type JobSpec struct {
	Kind      JobKind
	Structure phonon.Structure
	// Displacement is set for JobForces only.
	Displacement *phonon.Displacement
}

// JobState is the adapter-visible lifecycle of a job.
type JobState string

const (
	JobPending   JobState = "pending"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// JobStatus is one poll observation. Exactly one payload field is set on
// success, matching the job kind.
type JobStatus struct {
	State JobState
	// Forces holds per-atom force vectors (JobForces).
	Forces []phonon.Vec3
	// Structure holds the relaxed structure (JobOptimize).
	Structure *phonon.Structure
	// Nac holds dielectric tensor and Born charges (JobBornCharges).
	Nac *phonon.Nac
	// Reason describes the failure (JobFailed).
	Reason string
}

// Adapter is the external calculation contract. Implementations wrap a
// simulation code (VASP, QE, LAMMPS, ...) or an in-process model.
type Adapter interface {
	// Submit starts one job and returns its opaque id.
	Submit(ctx context.Context, spec JobSpec) (string, error)
	// Poll reports the job's current status. Safe to call repeatedly; an
	// unknown id returns an error.
	Poll(ctx context.Context, jobID string) (JobStatus, error)
	// Cancel stops a job if it is still pending. Cancelling a finished or
	// unknown job is a no-op.
	Cancel(ctx context.Context, jobID string) error
}
