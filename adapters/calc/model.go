package calc

import (
	"fmt"
	"math"

	"phonoflow/internal/phonon"
)

// Model computes job payloads for in-process adapters. Pure and
// deterministic.
type Model interface {
	Forces(s *phonon.Structure, d *phonon.Displacement) ([]phonon.Vec3, error)
	Optimize(s *phonon.Structure) (*phonon.Structure, error)
	BornCharges(s *phonon.Structure) (*phonon.Nac, error)
}

// SpringModel is the reference Model: each atom sits in a harmonic well of
// stiffness K, with a weak coupling to every other atom that decays with
// index distance. Enough texture to give the force-constant tensor
// off-diagonal blocks.
type SpringModel struct {
	K        float64 // on-site stiffness; 1.0 if zero
	Coupling float64 // inter-site coupling scale; K/10 if zero
}

func (m SpringModel) k() float64 {
	if m.K == 0 {
		return 1.0
	}
	return m.K
}

func (m SpringModel) coupling() float64 {
	if m.Coupling == 0 {
		return m.k() / 10
	}
	return m.Coupling
}

// Forces implements Model. The displaced atom feels -K*u; every other atom
// feels a coupling force along u.
func (m SpringModel) Forces(s *phonon.Structure, d *phonon.Displacement) ([]phonon.Vec3, error) {
	if d == nil {
		return nil, fmt.Errorf("forces job without displacement")
	}
	if d.AtomIndex < 0 || d.AtomIndex >= s.NumAtoms() {
		return nil, fmt.Errorf("displacement atom index %d out of range", d.AtomIndex)
	}
	out := make([]phonon.Vec3, s.NumAtoms())
	for j := range out {
		if j == d.AtomIndex {
			for a := 0; a < 3; a++ {
				out[j][a] = -m.k() * d.Vector[a]
			}
			continue
		}
		c := m.coupling() / float64(absInt(j-d.AtomIndex)+1)
		for a := 0; a < 3; a++ {
			out[j][a] = c * d.Vector[a]
		}
	}
	return out, nil
}

// Optimize implements Model: the spring model's equilibrium is the input
// structure, returned as a copy.
func (m SpringModel) Optimize(s *phonon.Structure) (*phonon.Structure, error) {
	cp := *s
	cp.Positions = append([]phonon.Vec3(nil), s.Positions...)
	cp.Species = append([]string(nil), s.Species...)
	return &cp, nil
}

// BornCharges implements Model: unit dielectric with a species-dependent
// diagonal charge per atom.
func (m SpringModel) BornCharges(s *phonon.Structure) (*phonon.Nac, error) {
	nac := &phonon.Nac{
		Dielectric:  phonon.Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		BornCharges: make([]phonon.Mat3, s.NumAtoms()),
	}
	for i, sp := range s.Species {
		z := 1.0 + math.Mod(float64(len(sp)), 3)
		nac.BornCharges[i] = phonon.Mat3{{z, 0, 0}, {0, z, 0}, {0, 0, z}}
	}
	return nac, nil
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// run dispatches a spec to the model. Shared by LocalAdapter and
// ScriptAdapter.
func run(m Model, spec JobSpec) (JobStatus, error) {
	switch spec.Kind {
	case JobForces:
		forces, err := m.Forces(&spec.Structure, spec.Displacement)
		if err != nil {
			return JobStatus{}, err
		}
		return JobStatus{State: JobSucceeded, Forces: forces}, nil
	case JobOptimize:
		s, err := m.Optimize(&spec.Structure)
		if err != nil {
			return JobStatus{}, err
		}
		return JobStatus{State: JobSucceeded, Structure: s}, nil
	case JobBornCharges:
		nac, err := m.BornCharges(&spec.Structure)
		if err != nil {
			return JobStatus{}, err
		}
		return JobStatus{State: JobSucceeded, Nac: nac}, nil
	default:
		return JobStatus{}, fmt.Errorf("unknown job kind %q", spec.Kind)
	}
}
