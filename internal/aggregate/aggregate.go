// Package aggregate collects per-displacement force records into a ForceSets
// artifact and derives force constants from it through the physics engine.
package aggregate

import (
	"errors"
	"fmt"

	"phonoflow/internal/phonon"
	"phonoflow/internal/physics"
)

// ErrIncompleteForceSet is returned when aggregation is attempted while any
// displacement lacks a successful force record.
var ErrIncompleteForceSet = errors.New("incomplete force set")

// Aggregate matches force records to displacements by displacement id and
// returns a complete ForceSets ordered like the displacement set. Input
// record order is insignificant; only the output order is fixed.
//
// A missing or failed record for any displacement yields an error wrapping
// ErrIncompleteForceSet. Use Partial to build the diagnostic artifact in
// that case.
func Aggregate(ds *phonon.DisplacementSet, records []phonon.ForceRecord) (*phonon.ForceSets, error) {
	byID := make(map[string]phonon.ForceRecord, len(records))
	for _, r := range records {
		if _, dup := byID[r.DisplacementID]; dup {
			return nil, fmt.Errorf("duplicate force record for displacement %s", r.DisplacementID)
		}
		byID[r.DisplacementID] = r
	}

	out := &phonon.ForceSets{
		StructureID:       ds.StructureID,
		DisplacementSetID: 0, // filled in by the caller once the set is persisted
		Records:           make([]phonon.ForceRecord, 0, len(ds.Displacements)),
		Complete:          true,
	}
	var missing []string
	for _, d := range ds.Displacements {
		rec, ok := byID[d.ID]
		if !ok || rec.Status != phonon.ForceSuccess {
			missing = append(missing, d.ID)
			continue
		}
		out.Records = append(out.Records, rec)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d of %d displacements unresolved (first: %s)",
			ErrIncompleteForceSet, len(missing), len(ds.Displacements), missing[0])
	}
	return out, nil
}

// Partial builds the diagnostic ForceSets retained when the fan-out ended
// with permanent failures: every displacement appears, failed or missing
// ones flagged, Complete false.
func Partial(ds *phonon.DisplacementSet, records []phonon.ForceRecord) *phonon.ForceSets {
	byID := make(map[string]phonon.ForceRecord, len(records))
	for _, r := range records {
		byID[r.DisplacementID] = r
	}
	out := &phonon.ForceSets{
		StructureID: ds.StructureID,
		Records:     make([]phonon.ForceRecord, 0, len(ds.Displacements)),
	}
	for _, d := range ds.Displacements {
		rec, ok := byID[d.ID]
		if !ok {
			rec = phonon.ForceRecord{
				DisplacementID: d.ID,
				Status:         phonon.ForceFailed,
				Reason:         "no record delivered",
			}
		}
		out.Records = append(out.Records, rec)
	}
	return out
}

// DeriveForceConstants delegates tensor construction to the physics engine.
// Deterministic for a given complete force set.
func DeriveForceConstants(engine physics.Engine, s *phonon.Structure, ds *phonon.DisplacementSet, fs *phonon.ForceSets) (*phonon.ForceConstants, error) {
	if !fs.Complete {
		return nil, fmt.Errorf("%w: cannot derive force constants", ErrIncompleteForceSet)
	}
	fc, err := engine.BuildForceConstants(s, ds, fs)
	if err != nil {
		return nil, fmt.Errorf("build force constants: %w", err)
	}
	return fc, nil
}
