package orchestrate

import (
	"context"
	"fmt"
	"sync"

	"phonoflow/adapters/calc"
	"phonoflow/adapters/store"
	"phonoflow/internal/phonon"
	"phonoflow/internal/physics"
)

// Runtime owns the shared dependencies (store, calculation adapter, physics
// engine, metrics) and tracks the orchestrators it hands out. One Runtime
// per process; workflows come and go underneath it.
type Runtime struct {
	st      store.Store
	adapter calc.Adapter
	engine  physics.Engine
	metrics *Metrics

	mu    sync.Mutex
	flows map[string]*Orchestrator
}

// NewRuntime wires a runtime over the given dependencies.
func NewRuntime(st store.Store, adapter calc.Adapter, engine physics.Engine) *Runtime {
	return &Runtime{
		st:      st,
		adapter: adapter,
		engine:  engine,
		metrics: NewMetrics(),
		flows:   make(map[string]*Orchestrator),
	}
}

// Metrics exposes the runtime's collectors.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

// StartWorkflow creates, persists, and registers a new workflow.
func (r *Runtime) StartWorkflow(ctx context.Context, cfg Config, s *phonon.Structure) (*Orchestrator, error) {
	o := New(r.st, r.adapter, r.engine, r.metrics)
	id, err := o.Start(ctx, cfg, s)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.flows[id] = o
	r.mu.Unlock()
	r.metrics.WorkflowsActive.Inc()
	return o, nil
}

// ResumeWorkflow loads a checkpointed workflow and registers it.
func (r *Runtime) ResumeWorkflow(workflowID string) (*Orchestrator, error) {
	r.mu.Lock()
	if o, ok := r.flows[workflowID]; ok {
		r.mu.Unlock()
		return o, nil
	}
	r.mu.Unlock()

	o, err := Resume(r.st, r.adapter, r.engine, r.metrics, workflowID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.flows[workflowID] = o
	r.mu.Unlock()
	r.metrics.WorkflowsActive.Inc()
	return o, nil
}

// Get returns a registered orchestrator.
func (r *Runtime) Get(workflowID string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.flows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s not registered with this runtime", workflowID)
	}
	return o, nil
}

// Release drops a workflow from the registry. Its checkpoints stay in the
// store; it can be resumed later.
func (r *Runtime) Release(workflowID string) {
	r.mu.Lock()
	_, ok := r.flows[workflowID]
	delete(r.flows, workflowID)
	r.mu.Unlock()
	if ok {
		r.metrics.WorkflowsActive.Dec()
	}
}

// Close releases every workflow and closes the store.
func (r *Runtime) Close() error {
	r.mu.Lock()
	for id := range r.flows {
		delete(r.flows, id)
		r.metrics.WorkflowsActive.Dec()
	}
	r.mu.Unlock()
	return r.st.Close()
}
