package orchestrate

import (
	"encoding/json"
	"fmt"
)

// Result is the externally consumable view of a workflow: terminal (or
// current) status plus the ids of every persisted artifact. Values are
// store ids; callers fetch the artifacts they care about.
type Result struct {
	WorkflowID string                     `json:"workflow_id"`
	Stage      Stage                      `json:"stage"`
	Status     string                     `json:"status"`
	Error      string                     `json:"error,omitempty"`
	Artifacts  map[string]int64           `json:"artifacts"`
	Properties map[string]PropertyOutcome `json:"properties,omitempty"`
}

// Result builds the current result view. Valid at any stage; before
// FINISHED it simply reports fewer artifacts.
func (o *Orchestrator) Result() (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ws == nil {
		return nil, fmt.Errorf("no workflow attached")
	}
	r := &Result{
		WorkflowID: o.ws.ID,
		Stage:      o.ws.Stage,
		Status:     o.ws.Status,
		Error:      o.ws.Err,
		Artifacts:  make(map[string]int64),
		Properties: make(map[string]PropertyOutcome),
	}
	putID := func(name string, id int64) {
		if id != 0 {
			r.Artifacts[name] = id
		}
	}
	putID("structure", o.ws.StructureID)
	putID("final_structure", o.ws.FinalStructureID)
	putID("displacement_set", o.ws.DisplacementSetID)
	putID("force_sets", o.ws.ForceSetsID)
	putID("force_constants", o.ws.ForceConstantsID)
	putID("nac", o.ws.NacID)
	for kind, outcome := range o.ws.Properties {
		r.Properties[kind] = *outcome
	}
	return r, nil
}

// Snapshot returns a deep copy of the workflow state for inspection.
// Mutating the copy has no effect on the running workflow.
func (o *Orchestrator) Snapshot() (*WorkflowState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ws == nil {
		return nil, fmt.Errorf("no workflow attached")
	}
	data, err := json.Marshal(o.ws)
	if err != nil {
		return nil, err
	}
	out := &WorkflowState{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
