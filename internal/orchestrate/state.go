package orchestrate

import (
	"encoding/json"
	"fmt"
	"time"

	"phonoflow/adapters/calc"
	"phonoflow/adapters/store"
	"phonoflow/internal/phonon"
)

// Stage is the workflow state-machine position.
type Stage string

const (
	StageInitialized Stage = "INITIALIZED"
	StageOptimizing  Stage = "OPTIMIZING"
	StageGenerating  Stage = "GENERATING_DISPLACEMENTS"
	StageCalculating Stage = "CALCULATING_FORCES"
	StageAggregating Stage = "AGGREGATING"
	StageDeriving    Stage = "DERIVING_PROPERTIES"
	StageFinished    Stage = "FINISHED"
	StageErrored     Stage = "ERRORED"
	StageCancelled   Stage = "CANCELLED"
	// StageResuming is transient: entered on restart, left for the
	// recorded stage once the lost-job policy has been applied.
	StageResuming Stage = "RESUMING"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageFinished || s == StageErrored || s == StageCancelled
}

// Job bookkeeping status. A job is terminal in JobDone or JobDead.
const (
	JobWaiting  = "waiting"   // not yet submitted (or queued for resubmission)
	JobInFlight = "in_flight" // submitted, completion not yet observed
	JobDone     = "done"      // succeeded
	JobDead     = "dead"      // permanently failed (retry ceiling reached)
)

// JobRecord tracks one external job across submissions. Keyed in
// WorkflowState.Jobs by displacement id for force jobs and by job kind for
// the optimize / born-charges singletons, so the key survives resubmission
// while the adapter job id changes.
type JobRecord struct {
	Key            string       `json:"key"`
	Kind           calc.JobKind `json:"kind"`
	DisplacementID string       `json:"displacement_id,omitempty"`
	JobID          string       `json:"job_id,omitempty"` // current adapter id
	Status         string       `json:"status"`
	Retries        int          `json:"retries"`
	Reason         string       `json:"reason,omitempty"`
	SubmittedAt    string       `json:"submitted_at,omitempty"` // RFC3339Nano
}

func (j *JobRecord) terminal() bool { return j.Status == JobDone || j.Status == JobDead }

// PropertyOutcome records one derived-property stage's fate in the
// per-property success/failure map.
type PropertyOutcome struct {
	Status   string `json:"status"` // succeeded / failed
	Error    string `json:"error,omitempty"`
	ResultID int64  `json:"result_id,omitempty"`
}

// TransitionRecord is one history entry, backing the audit trail shown by
// `phonoflow status`.
type TransitionRecord struct {
	From      Stage  `json:"from"`
	To        Stage  `json:"to"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// WorkflowState is the orchestrator's full persisted progress: stage, job
// table, artifact ids, per-property outcomes. Single writer (the
// orchestrator); reconstructable from its last checkpoint.
type WorkflowState struct {
	ID     string `json:"id"`
	Stage  Stage  `json:"stage"`
	Status string `json:"status"` // running / finished / errored / cancelled
	Config Config `json:"config"`

	// Artifact references (store ids, never object handles).
	StructureID       int64 `json:"structure_id"`
	FinalStructureID  int64 `json:"final_structure_id,omitempty"` // optimized, or StructureID
	DisplacementSetID int64 `json:"displacement_set_id,omitempty"`
	ForceSetsID       int64 `json:"force_sets_id,omitempty"`
	ForceConstantsID  int64 `json:"force_constants_id,omitempty"`
	NacID             int64 `json:"nac_id,omitempty"`

	Jobs map[string]*JobRecord `json:"jobs,omitempty"`
	// ForceResults accumulates successful force records keyed by
	// displacement id, so aggregation (and resume) never re-polls
	// completed work.
	ForceResults map[string]*phonon.ForceRecord `json:"force_results,omitempty"`
	Properties   map[string]*PropertyOutcome    `json:"properties,omitempty"`
	History      []TransitionRecord             `json:"history,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	// Err holds the workflow-level failure that moved the state to
	// ERRORED.
	Err string `json:"error,omitempty"`
}

func newWorkflowState(id string, cfg Config, structureID int64) *WorkflowState {
	now := time.Now().UTC().Format(time.RFC3339)
	return &WorkflowState{
		ID:           id,
		Stage:        StageInitialized,
		Status:       "running",
		Config:       cfg,
		StructureID:  structureID,
		Jobs:         make(map[string]*JobRecord),
		ForceResults: make(map[string]*phonon.ForceRecord),
		Properties:   make(map[string]*PropertyOutcome),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// transition moves the state machine and appends a history record. The
// caller checkpoints afterwards.
func (ws *WorkflowState) transition(to Stage, reason string) {
	now := time.Now().UTC().Format(time.RFC3339)
	ws.History = append(ws.History, TransitionRecord{
		From:      ws.Stage,
		To:        to,
		Reason:    reason,
		Timestamp: now,
	})
	ws.Stage = to
	ws.UpdatedAt = now
	switch to {
	case StageFinished:
		ws.Status = "finished"
	case StageErrored:
		ws.Status = "errored"
	case StageCancelled:
		ws.Status = "cancelled"
	}
}

// marshal converts the state to its checkpoint row.
func (ws *WorkflowState) marshal() (*store.WorkflowStateRec, error) {
	payload, err := json.Marshal(ws)
	if err != nil {
		return nil, fmt.Errorf("marshal workflow state: %w", err)
	}
	return &store.WorkflowStateRec{
		ID:      ws.ID,
		Stage:   string(ws.Stage),
		Status:  ws.Status,
		Payload: payload,
	}, nil
}

// LoadState reconstructs a WorkflowState from its last checkpoint.
func LoadState(st store.Store, workflowID string) (*WorkflowState, error) {
	rec, err := st.GetWorkflowState(workflowID)
	if err != nil {
		return nil, err
	}
	ws := &WorkflowState{}
	if err := json.Unmarshal(rec.Payload, ws); err != nil {
		return nil, fmt.Errorf("unmarshal workflow state %s: %w", workflowID, err)
	}
	if ws.Jobs == nil {
		ws.Jobs = make(map[string]*JobRecord)
	}
	if ws.ForceResults == nil {
		ws.ForceResults = make(map[string]*phonon.ForceRecord)
	}
	if ws.Properties == nil {
		ws.Properties = make(map[string]*PropertyOutcome)
	}
	return ws, nil
}
