// Package physics declares the contract the orchestrator expects from a
// phonon physics library, and ships a deterministic reference engine used by
// tests and local runs. All engine operations are pure: identical inputs
// produce identical outputs, and nothing here touches the store or the
// network.
package physics

import (
	"errors"

	"phonoflow/internal/phonon"
)

// ErrBadInput is wrapped by engines when an input artifact is malformed
// (wrong shape, empty path, non-positive mesh).
var ErrBadInput = errors.New("physics: bad input")

// Engine is the physics library contract. Concrete engines (phonopy bridges,
// in-house solvers) are external collaborators; the orchestrator only ever
// calls through this interface.
type Engine interface {
	// IrreducibleAtoms returns the indices of symmetry-inequivalent atoms
	// for the given tolerance. The displacement generator displaces only
	// these.
	IrreducibleAtoms(s *phonon.Structure, tolerance float64) ([]int, error)

	// BuildForceConstants derives the second-order force-constant tensor
	// from a complete force set by finite differences.
	BuildForceConstants(s *phonon.Structure, ds *phonon.DisplacementSet, fs *phonon.ForceSets) (*phonon.ForceConstants, error)

	// ComputeBandStructure evaluates phonon frequencies along a q-point
	// path. nac may be nil; when present it corrects the long-wavelength
	// limit.
	ComputeBandStructure(fc *phonon.ForceConstants, nac *phonon.Nac, qPath []phonon.Vec3) (*phonon.BandStructure, error)

	// ComputeDos evaluates the density of states on a frequency grid of
	// the given number of points.
	ComputeDos(fc *phonon.ForceConstants, points int) (*phonon.Dos, error)

	// ComputeGruneisen evaluates mode Grüneisen parameters.
	ComputeGruneisen(fc *phonon.ForceConstants, volumeScales []float64) (*phonon.Gruneisen, error)

	// ComputeQHA evaluates quasi-harmonic thermodynamics over a
	// temperature grid.
	ComputeQHA(fc *phonon.ForceConstants, temperatures []float64) (*phonon.QHA, error)
}
