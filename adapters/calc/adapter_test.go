package calc

import (
	"context"
	"testing"
	"time"

	"phonoflow/internal/phonon"
)

func jobStructure() phonon.Structure {
	return phonon.Structure{
		Lattice:   phonon.Mat3{{4, 0, 0}, {0, 4, 0}, {0, 0, 4}},
		Positions: []phonon.Vec3{{0, 0, 0}, {0.5, 0, 0}},
		Species:   []string{"Mg", "O"},
	}
}

func forcesSpec(atom int) JobSpec {
	return JobSpec{
		Kind:      JobForces,
		Structure: jobStructure(),
		Displacement: &phonon.Displacement{
			ID:        "d0-x",
			AtomIndex: atom,
			Vector:    phonon.Vec3{0.01, 0, 0},
		},
	}
}

func TestSpringModelForces(t *testing.T) {
	m := SpringModel{K: 2.0}
	s := jobStructure()
	d := &phonon.Displacement{AtomIndex: 0, Vector: phonon.Vec3{0.01, 0, 0}}

	forces, err := m.Forces(&s, d)
	if err != nil {
		t.Fatalf("Forces: %v", err)
	}
	if len(forces) != 2 {
		t.Fatalf("force vectors = %d, want one per atom", len(forces))
	}
	if forces[0][0] != -2.0*0.01 {
		t.Fatalf("restoring force = %g, want %g", forces[0][0], -2.0*0.01)
	}
	if forces[1][0] == 0 {
		t.Fatalf("coupled atom felt no force")
	}

	if _, err := m.Forces(&s, nil); err == nil {
		t.Fatalf("nil displacement accepted")
	}
	if _, err := m.Forces(&s, &phonon.Displacement{AtomIndex: 9}); err == nil {
		t.Fatalf("out-of-range atom accepted")
	}
}

func TestLocalAdapterLifecycle(t *testing.T) {
	a := NewLocalAdapter(SpringModel{}, 4)
	ctx := context.Background()

	id, err := a.Submit(ctx, forcesSpec(0))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	a.Drain()

	status, err := a.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status.State != JobSucceeded || len(status.Forces) != 2 {
		t.Fatalf("status = %+v, want success with 2 force vectors", status)
	}

	// Polling is repeatable and returns copies.
	again, _ := a.Poll(ctx, id)
	again.Forces[0][0] = 42
	fresh, _ := a.Poll(ctx, id)
	if fresh.Forces[0][0] == 42 {
		t.Fatalf("poll returned shared force slice")
	}

	if _, err := a.Poll(ctx, "no-such-job"); err == nil {
		t.Fatalf("unknown job id accepted")
	}
}

func TestLocalAdapterKinds(t *testing.T) {
	a := NewLocalAdapter(SpringModel{}, 2)
	ctx := context.Background()

	optID, err := a.Submit(ctx, JobSpec{Kind: JobOptimize, Structure: jobStructure()})
	if err != nil {
		t.Fatalf("Submit optimize: %v", err)
	}
	nacID, err := a.Submit(ctx, JobSpec{Kind: JobBornCharges, Structure: jobStructure()})
	if err != nil {
		t.Fatalf("Submit born charges: %v", err)
	}
	a.Drain()

	opt, _ := a.Poll(ctx, optID)
	if opt.State != JobSucceeded || opt.Structure == nil || opt.Structure.NumAtoms() != 2 {
		t.Fatalf("optimize status = %+v", opt)
	}
	nac, _ := a.Poll(ctx, nacID)
	if nac.State != JobSucceeded || nac.Nac == nil || len(nac.Nac.BornCharges) != 2 {
		t.Fatalf("born charges status = %+v", nac)
	}
}

func TestLocalAdapterCancelWins(t *testing.T) {
	a := NewLocalAdapter(slowModel{SpringModel{}}, 1)
	ctx := context.Background()

	id, err := a.Submit(ctx, forcesSpec(0))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := a.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	a.Drain()

	status, err := a.Poll(ctx, id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if status.State != JobFailed || status.Reason != "cancelled" {
		t.Fatalf("status after cancel = %+v, want cancelled failure", status)
	}

	if err := a.Cancel(ctx, "no-such-job"); err != nil {
		t.Fatalf("Cancel on unknown id: %v", err)
	}
}

// slowModel delays force evaluation so Cancel can land first.
type slowModel struct{ SpringModel }

func (m slowModel) Forces(s *phonon.Structure, d *phonon.Displacement) ([]phonon.Vec3, error) {
	time.Sleep(50 * time.Millisecond)
	return m.SpringModel.Forces(s, d)
}

func TestScriptAdapterFailureInjection(t *testing.T) {
	a := NewScriptAdapter(SpringModel{})
	ctx := context.Background()
	a.FailTimes("d0-x", 1)

	first, err := a.Submit(ctx, forcesSpec(0))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	status, _ := a.Poll(ctx, first)
	if status.State != JobFailed {
		t.Fatalf("first submission state = %s, want failed", status.State)
	}

	second, _ := a.Submit(ctx, forcesSpec(0))
	status, _ = a.Poll(ctx, second)
	if status.State != JobSucceeded {
		t.Fatalf("second submission state = %s, want succeeded", status.State)
	}
	if n := a.SubmitCount("d0-x"); n != 2 {
		t.Fatalf("submit count = %d, want 2", n)
	}
}

func TestScriptAdapterHoldRelease(t *testing.T) {
	a := NewScriptAdapter(SpringModel{})
	ctx := context.Background()
	a.Hold("d0-x")

	id, err := a.Submit(ctx, forcesSpec(0))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	status, _ := a.Poll(ctx, id)
	if status.State != JobPending {
		t.Fatalf("held job state = %s, want pending", status.State)
	}

	a.Release("d0-x")
	status, _ = a.Poll(ctx, id)
	if status.State != JobSucceeded {
		t.Fatalf("released job state = %s, want succeeded", status.State)
	}
}
