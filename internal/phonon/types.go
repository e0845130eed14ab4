// Package phonon defines the domain artifacts exchanged between workflow
// stages: crystal structures, finite-displacement schemes, per-job force
// records, aggregated force sets, force constants, and derived properties.
//
// Every type here is a value object. An artifact is created by exactly one
// stage, persisted through the store, and referenced by later stages via its
// store id — never mutated after it is finalized.
package phonon

import (
	"errors"
	"fmt"
)

// ErrInvalidStructure is returned when a structure fails validation.
var ErrInvalidStructure = errors.New("invalid structure")

// Mat3 is a 3x3 matrix (row-major).
type Mat3 [3][3]float64

// Vec3 is a Cartesian vector.
type Vec3 [3]float64

// Structure is an atomic configuration: lattice vectors, fractional atomic
// positions, and the species at each site.
type Structure struct {
	Lattice   Mat3     `json:"lattice" yaml:"lattice"`
	Positions []Vec3   `json:"positions" yaml:"positions"`
	Species   []string `json:"species" yaml:"species"`
}

// NumAtoms returns the number of atomic sites.
func (s *Structure) NumAtoms() int { return len(s.Positions) }

// Validate checks the structural invariants: at least one atom, one species
// per position, and a non-degenerate lattice.
func (s *Structure) Validate() error {
	if len(s.Positions) < 1 {
		return fmt.Errorf("%w: structure has no atoms", ErrInvalidStructure)
	}
	if len(s.Species) != len(s.Positions) {
		return fmt.Errorf("%w: %d species for %d positions",
			ErrInvalidStructure, len(s.Species), len(s.Positions))
	}
	if vol := s.Lattice.det(); vol == 0 {
		return fmt.Errorf("%w: lattice vectors are linearly dependent", ErrInvalidStructure)
	}
	return nil
}

func (m Mat3) det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Displacement is one finite perturbation of one atom's position.
type Displacement struct {
	ID        string `json:"id"` // stable within the owning set, e.g. "d3-y"
	AtomIndex int    `json:"atom_index"`
	Vector    Vec3   `json:"vector"`
}

// DisplacementSet is the full finite-displacement scheme for one structure.
type DisplacementSet struct {
	StructureID   int64          `json:"structure_id"`
	Displacements []Displacement `json:"displacements"`
}

// ForceStatus is the terminal outcome of one force calculation.
type ForceStatus string

const (
	ForceSuccess ForceStatus = "success"
	ForceFailed  ForceStatus = "failed"
)

// ForceRecord is the result of one calculation job: the forces on every atom
// for one displacement, or the failure that replaced them.
type ForceRecord struct {
	DisplacementID string      `json:"displacement_id"`
	Status         ForceStatus `json:"status"`
	Forces         []Vec3      `json:"forces,omitempty"` // one vector per atom
	Reason         string      `json:"reason,omitempty"` // set when Status == ForceFailed
}

// ForceSets is the aggregation of all force records for a displacement set.
// Complete is true only when every displacement has a successful record;
// a partial ForceSets is retained for diagnostics when jobs failed terminally.
type ForceSets struct {
	StructureID       int64         `json:"structure_id"`
	DisplacementSetID int64         `json:"displacement_set_id"`
	Records           []ForceRecord `json:"records"` // ordered as the displacement set orders them
	Complete          bool          `json:"complete"`
}

// ForceConstants is the second-order force-constant tensor, shape
// NumAtoms x NumAtoms with one 3x3 block per atom pair.
type ForceConstants struct {
	ForceSetsID int64    `json:"force_sets_id"`
	NumAtoms    int      `json:"num_atoms"`
	Blocks      [][]Mat3 `json:"blocks"`
}

// Nac is the non-analytical correction term for polar materials.
type Nac struct {
	Dielectric  Mat3   `json:"dielectric"`
	BornCharges []Mat3 `json:"born_charges"` // one tensor per atom
}

// BandStructure is the phonon dispersion along a q-point path.
type BandStructure struct {
	QPath       []Vec3      `json:"q_path"`
	Frequencies [][]float64 `json:"frequencies"` // per q-point, 3*NumAtoms branches
}

// Dos is the phonon density of states on a frequency grid.
type Dos struct {
	Frequencies []float64 `json:"frequencies"`
	Density     []float64 `json:"density"`
}

// Gruneisen holds mode Grüneisen parameters on the sampling mesh.
type Gruneisen struct {
	Frequencies []float64 `json:"frequencies"`
	Parameters  []float64 `json:"parameters"`
}

// QHA holds quasi-harmonic thermodynamic functions over a temperature grid.
type QHA struct {
	Temperatures []float64 `json:"temperatures"`
	FreeEnergy   []float64 `json:"free_energy"`
	Entropy      []float64 `json:"entropy"`
	HeatCapacity []float64 `json:"heat_capacity"`
}
