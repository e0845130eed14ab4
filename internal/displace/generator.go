// Package displace turns a relaxed structure into the finite-displacement
// scheme a force-constant calculation needs. Generation is a pure function:
// identical structure, tolerance, and distance always produce the identical
// displacement set, in a fixed order (atom index, then x/y/z).
package displace

import (
	"fmt"
	"sort"

	"phonoflow/internal/phonon"
	"phonoflow/internal/physics"
)

// Config holds the generation knobs.
type Config struct {
	// Distance is the displacement magnitude in lattice units. Must be
	// positive.
	Distance float64
	// SymmetryTolerance is handed to the physics engine's symmetry
	// reduction.
	SymmetryTolerance float64
}

var axisName = [3]string{"x", "y", "z"}

// Generate produces one displacement per Cartesian axis for every
// symmetry-inequivalent atom the engine reports. The structure is validated
// first; a malformed structure yields an error wrapping
// phonon.ErrInvalidStructure.
func Generate(engine physics.Engine, s *phonon.Structure, cfg Config) (*phonon.DisplacementSet, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if cfg.Distance <= 0 {
		return nil, fmt.Errorf("displacement distance must be positive, got %g", cfg.Distance)
	}

	atoms, err := engine.IrreducibleAtoms(s, cfg.SymmetryTolerance)
	if err != nil {
		return nil, fmt.Errorf("symmetry reduction: %w", err)
	}
	for _, i := range atoms {
		if i < 0 || i >= s.NumAtoms() {
			return nil, fmt.Errorf("%w: engine returned atom index %d out of range",
				phonon.ErrInvalidStructure, i)
		}
	}
	sort.Ints(atoms)

	ds := &phonon.DisplacementSet{
		Displacements: make([]phonon.Displacement, 0, 3*len(atoms)),
	}
	for _, i := range atoms {
		for a := 0; a < 3; a++ {
			var v phonon.Vec3
			v[a] = cfg.Distance
			ds.Displacements = append(ds.Displacements, phonon.Displacement{
				ID:        fmt.Sprintf("d%d-%s", i, axisName[a]),
				AtomIndex: i,
				Vector:    v,
			})
		}
	}
	return ds, nil
}
