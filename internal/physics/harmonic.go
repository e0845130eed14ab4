package physics

import (
	"fmt"
	"math"

	"phonoflow/internal/phonon"
)

// HarmonicEngine is the reference Engine: a pair-spring model with no
// symmetry reduction. It exists so the workflow can run end to end without a
// real phonon code attached, and so tests get bit-identical numbers.
type HarmonicEngine struct {
	// SpringConstant sets the on-site restoring force used when a force
	// record reports zero force (isolated atoms). Defaults to 1.0.
	SpringConstant float64
}

// NewHarmonicEngine returns a reference engine with default parameters.
func NewHarmonicEngine() *HarmonicEngine {
	return &HarmonicEngine{SpringConstant: 1.0}
}

// IrreducibleAtoms returns every atom index: the reference engine performs
// no symmetry reduction.
func (e *HarmonicEngine) IrreducibleAtoms(s *phonon.Structure, tolerance float64) ([]int, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if tolerance < 0 {
		return nil, fmt.Errorf("%w: negative symmetry tolerance %g", ErrBadInput, tolerance)
	}
	idx := make([]int, s.NumAtoms())
	for i := range idx {
		idx[i] = i
	}
	return idx, nil
}

// BuildForceConstants assembles the N x N tensor of 3x3 blocks by finite
// differences: block[i][j][a][b] = -F_j,b(atom i displaced along a) / |u|.
func (e *HarmonicEngine) BuildForceConstants(s *phonon.Structure, ds *phonon.DisplacementSet, fs *phonon.ForceSets) (*phonon.ForceConstants, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if !fs.Complete {
		return nil, fmt.Errorf("%w: force sets are not complete", ErrBadInput)
	}
	n := s.NumAtoms()

	byID := make(map[string]phonon.Displacement, len(ds.Displacements))
	for _, d := range ds.Displacements {
		byID[d.ID] = d
	}

	blocks := make([][]phonon.Mat3, n)
	for i := range blocks {
		blocks[i] = make([]phonon.Mat3, n)
	}

	for _, rec := range fs.Records {
		if rec.Status != phonon.ForceSuccess {
			return nil, fmt.Errorf("%w: record %s is not successful", ErrBadInput, rec.DisplacementID)
		}
		d, ok := byID[rec.DisplacementID]
		if !ok {
			return nil, fmt.Errorf("%w: record %s has no matching displacement", ErrBadInput, rec.DisplacementID)
		}
		if len(rec.Forces) != n {
			return nil, fmt.Errorf("%w: record %s has %d force vectors for %d atoms",
				ErrBadInput, rec.DisplacementID, len(rec.Forces), n)
		}
		axis, mag := dominantAxis(d.Vector)
		if mag == 0 {
			return nil, fmt.Errorf("%w: displacement %s has zero magnitude", ErrBadInput, d.ID)
		}
		for j := 0; j < n; j++ {
			for b := 0; b < 3; b++ {
				blocks[d.AtomIndex][j][axis][b] = -rec.Forces[j][b] / mag
			}
		}
	}

	// Atoms the displacement scheme skipped keep a bare on-site spring so
	// the dynamical matrix stays positive.
	for i := 0; i < n; i++ {
		if blocks[i][i] == (phonon.Mat3{}) {
			for a := 0; a < 3; a++ {
				blocks[i][i][a][a] = e.springConstant()
			}
		}
	}

	return &phonon.ForceConstants{NumAtoms: n, Blocks: blocks}, nil
}

// ComputeBandStructure evaluates 3N branch frequencies at each q-point from
// the diagonal force-constant blocks, with a sinusoidal dispersion envelope.
// With NAC present, the q -> 0 limit is stiffened by the dielectric trace.
func (e *HarmonicEngine) ComputeBandStructure(fc *phonon.ForceConstants, nac *phonon.Nac, qPath []phonon.Vec3) (*phonon.BandStructure, error) {
	if len(qPath) == 0 {
		return nil, fmt.Errorf("%w: empty q-point path", ErrBadInput)
	}
	modes := e.modeFrequencies(fc)
	freqs := make([][]float64, len(qPath))
	for qi, q := range qPath {
		qn := math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2])
		envelope := math.Abs(math.Sin(math.Pi * qn))
		if qn == 0 {
			// Acoustic branches vanish at Gamma.
			envelope = 0
		}
		row := make([]float64, len(modes))
		for m, base := range modes {
			f := base * envelope
			if m >= 3 {
				// Optical branches keep a finite floor away from zero.
				f = base * (0.5 + 0.5*envelope)
			}
			if nac != nil && qn < 0.05 && m >= 3 {
				f += nacSplit(nac)
			}
			row[m] = f
		}
		freqs[qi] = row
	}
	return &phonon.BandStructure{QPath: qPath, Frequencies: freqs}, nil
}

// ComputeDos evaluates a Gaussian-smeared density of states on a uniform
// grid of the requested length.
func (e *HarmonicEngine) ComputeDos(fc *phonon.ForceConstants, points int) (*phonon.Dos, error) {
	if points < 2 {
		return nil, fmt.Errorf("%w: dos grid needs at least 2 points, got %d", ErrBadInput, points)
	}
	modes := e.modeFrequencies(fc)
	maxF := 0.0
	for _, m := range modes {
		if m > maxF {
			maxF = m
		}
	}
	if maxF == 0 {
		maxF = 1
	}
	const sigma = 0.05
	top := maxF * 1.2
	grid := make([]float64, points)
	density := make([]float64, points)
	for i := 0; i < points; i++ {
		f := top * float64(i) / float64(points-1)
		grid[i] = f
		for _, m := range modes {
			x := (f - m) / (sigma * top)
			density[i] += math.Exp(-0.5*x*x) / (sigma * top * math.Sqrt(2*math.Pi))
		}
	}
	return &phonon.Dos{Frequencies: grid, Density: density}, nil
}

// ComputeGruneisen derives mode parameters from the frequency shift across
// the given volume scales.
func (e *HarmonicEngine) ComputeGruneisen(fc *phonon.ForceConstants, volumeScales []float64) (*phonon.Gruneisen, error) {
	if len(volumeScales) < 2 {
		return nil, fmt.Errorf("%w: gruneisen needs at least 2 volume scales, got %d", ErrBadInput, len(volumeScales))
	}
	for _, v := range volumeScales {
		if v <= 0 {
			return nil, fmt.Errorf("%w: non-positive volume scale %g", ErrBadInput, v)
		}
	}
	modes := e.modeFrequencies(fc)
	// Reference model: springs scale as V^-2, so omega ~ 1/V and every
	// mode carries gamma = -dlnW/dlnV = 1. Computed explicitly from the
	// outermost scales so a different scaling law changes the numbers.
	lnV := math.Log(volumeScales[len(volumeScales)-1] / volumeScales[0])
	if lnV == 0 {
		return nil, fmt.Errorf("%w: volume scales span zero range", ErrBadInput)
	}
	params := make([]float64, len(modes))
	for i, m := range modes {
		if m == 0 {
			continue
		}
		w0 := m / volumeScales[0]
		w1 := m / volumeScales[len(volumeScales)-1]
		params[i] = -(math.Log(w1) - math.Log(w0)) / lnV
	}
	return &phonon.Gruneisen{Frequencies: modes, Parameters: params}, nil
}

// ComputeQHA evaluates Einstein-model thermodynamics per mode summed over
// the spectrum, in units where hbar = kB = 1.
func (e *HarmonicEngine) ComputeQHA(fc *phonon.ForceConstants, temperatures []float64) (*phonon.QHA, error) {
	if len(temperatures) == 0 {
		return nil, fmt.Errorf("%w: empty temperature grid", ErrBadInput)
	}
	modes := e.modeFrequencies(fc)
	out := &phonon.QHA{
		Temperatures: append([]float64(nil), temperatures...),
		FreeEnergy:   make([]float64, len(temperatures)),
		Entropy:      make([]float64, len(temperatures)),
		HeatCapacity: make([]float64, len(temperatures)),
	}
	for ti, T := range temperatures {
		if T < 0 {
			return nil, fmt.Errorf("%w: negative temperature %g", ErrBadInput, T)
		}
		for _, w := range modes {
			if w == 0 {
				continue
			}
			out.FreeEnergy[ti] += w / 2
			if T == 0 {
				continue
			}
			x := w / T
			ex := math.Exp(-x)
			out.FreeEnergy[ti] += T * math.Log(1-ex)
			out.Entropy[ti] += x*ex/(1-ex) - math.Log(1-ex)
			c := x * x * ex / ((1 - ex) * (1 - ex))
			out.HeatCapacity[ti] += c
		}
	}
	return out, nil
}

// modeFrequencies maps each diagonal stiffness to sqrt(|k|); 3N entries,
// sorted by atom then axis.
func (e *HarmonicEngine) modeFrequencies(fc *phonon.ForceConstants) []float64 {
	modes := make([]float64, 0, 3*fc.NumAtoms)
	for i := 0; i < fc.NumAtoms; i++ {
		for a := 0; a < 3; a++ {
			k := fc.Blocks[i][i][a][a]
			if k == 0 {
				k = e.springConstant()
			}
			modes = append(modes, math.Sqrt(math.Abs(k)))
		}
	}
	return modes
}

func (e *HarmonicEngine) springConstant() float64 {
	if e.SpringConstant == 0 {
		return 1.0
	}
	return e.SpringConstant
}

func nacSplit(nac *phonon.Nac) float64 {
	tr := nac.Dielectric[0][0] + nac.Dielectric[1][1] + nac.Dielectric[2][2]
	return math.Abs(tr) / 30
}

func dominantAxis(v phonon.Vec3) (axis int, mag float64) {
	for a := 1; a < 3; a++ {
		if math.Abs(v[a]) > math.Abs(v[axis]) {
			axis = a
		}
	}
	m := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	return axis, m
}
