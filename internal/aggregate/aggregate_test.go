package aggregate

import (
	"errors"
	"strings"
	"testing"

	"phonoflow/internal/phonon"
	"phonoflow/internal/physics"
)

func displacementSet(n int) *phonon.DisplacementSet {
	ds := &phonon.DisplacementSet{StructureID: 1}
	axes := []string{"x", "y", "z"}
	for i := 0; i < n; i++ {
		var v phonon.Vec3
		v[i%3] = 0.01
		ds.Displacements = append(ds.Displacements, phonon.Displacement{
			ID:        "d" + string(rune('0'+i/3)) + "-" + axes[i%3],
			AtomIndex: i / 3,
			Vector:    v,
		})
	}
	return ds
}

func successRecord(id string, atoms int) phonon.ForceRecord {
	return phonon.ForceRecord{
		DisplacementID: id,
		Status:         phonon.ForceSuccess,
		Forces:         make([]phonon.Vec3, atoms),
	}
}

func TestAggregateOrdersByDisplacementSet(t *testing.T) {
	ds := displacementSet(6)
	// Deliver records in reverse order; output must follow the set order.
	var records []phonon.ForceRecord
	for i := len(ds.Displacements) - 1; i >= 0; i-- {
		records = append(records, successRecord(ds.Displacements[i].ID, 2))
	}

	fs, err := Aggregate(ds, records)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !fs.Complete {
		t.Fatalf("complete aggregation not marked complete")
	}
	if fs.StructureID != ds.StructureID {
		t.Fatalf("structure id = %d, want %d", fs.StructureID, ds.StructureID)
	}
	for i, rec := range fs.Records {
		if rec.DisplacementID != ds.Displacements[i].ID {
			t.Fatalf("record %d is %s, want %s", i, rec.DisplacementID, ds.Displacements[i].ID)
		}
	}
}

func TestAggregateMissingRecord(t *testing.T) {
	ds := displacementSet(6)
	var records []phonon.ForceRecord
	// N-1 of N records delivered.
	for _, d := range ds.Displacements[:5] {
		records = append(records, successRecord(d.ID, 2))
	}
	if _, err := Aggregate(ds, records); !errors.Is(err, ErrIncompleteForceSet) {
		t.Fatalf("missing record error = %v, want ErrIncompleteForceSet", err)
	}
}

func TestAggregateFailedRecord(t *testing.T) {
	ds := displacementSet(3)
	records := []phonon.ForceRecord{
		successRecord("d0-x", 1),
		successRecord("d0-y", 1),
		{DisplacementID: "d0-z", Status: phonon.ForceFailed, Reason: "scf divergence"},
	}
	if _, err := Aggregate(ds, records); !errors.Is(err, ErrIncompleteForceSet) {
		t.Fatalf("failed record error = %v, want ErrIncompleteForceSet", err)
	}
}

func TestAggregateDuplicateRecord(t *testing.T) {
	ds := displacementSet(3)
	records := []phonon.ForceRecord{
		successRecord("d0-x", 1),
		successRecord("d0-x", 1),
	}
	_, err := Aggregate(ds, records)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("duplicate record error = %v, want duplicate complaint", err)
	}
}

func TestAggregateEmptySet(t *testing.T) {
	ds := &phonon.DisplacementSet{StructureID: 1}
	fs, err := Aggregate(ds, nil)
	if err != nil {
		t.Fatalf("Aggregate on empty set: %v", err)
	}
	if !fs.Complete || len(fs.Records) != 0 {
		t.Fatalf("empty set: complete=%v records=%d, want complete and empty", fs.Complete, len(fs.Records))
	}
}

func TestPartialFlagsEveryDisplacement(t *testing.T) {
	ds := displacementSet(3)
	records := []phonon.ForceRecord{
		successRecord("d0-x", 1),
		{DisplacementID: "d0-y", Status: phonon.ForceFailed, Reason: "node crash"},
	}
	fs := Partial(ds, records)
	if fs.Complete {
		t.Fatalf("partial aggregation marked complete")
	}
	if len(fs.Records) != 3 {
		t.Fatalf("partial has %d records, want one per displacement (3)", len(fs.Records))
	}
	if fs.Records[0].Status != phonon.ForceSuccess {
		t.Fatalf("d0-x status = %s, want success", fs.Records[0].Status)
	}
	if fs.Records[1].Reason != "node crash" {
		t.Fatalf("d0-y reason = %q, want original failure reason", fs.Records[1].Reason)
	}
	if fs.Records[2].Status != phonon.ForceFailed || fs.Records[2].Reason == "" {
		t.Fatalf("undelivered d0-z record = %+v, want flagged failure", fs.Records[2])
	}
}

func TestDeriveForceConstantsRequiresComplete(t *testing.T) {
	engine := physics.NewHarmonicEngine()
	s := &phonon.Structure{
		Lattice:   phonon.Mat3{{4, 0, 0}, {0, 4, 0}, {0, 0, 4}},
		Positions: []phonon.Vec3{{0, 0, 0}},
		Species:   []string{"C"},
	}
	ds := displacementSet(3)
	fs := &phonon.ForceSets{Complete: false}
	if _, err := DeriveForceConstants(engine, s, ds, fs); !errors.Is(err, ErrIncompleteForceSet) {
		t.Fatalf("incomplete derive error = %v, want ErrIncompleteForceSet", err)
	}

	var records []phonon.ForceRecord
	for _, d := range ds.Displacements {
		records = append(records, successRecord(d.ID, 1))
	}
	complete, err := Aggregate(ds, records)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	fc, err := DeriveForceConstants(engine, s, ds, complete)
	if err != nil {
		t.Fatalf("DeriveForceConstants: %v", err)
	}
	if fc.NumAtoms != 1 || len(fc.Blocks) != 1 {
		t.Fatalf("force constants shape: atoms=%d blocks=%d, want 1x1", fc.NumAtoms, len(fc.Blocks))
	}
}
