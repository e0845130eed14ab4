// Package store is the persistence facade for workflow artifacts and
// orchestrator state. Artifacts are write-once typed records referenced by
// id, never by object handle, so later stages can be resumed without
// re-materializing upstream objects. WorkflowStateRec is the single mutable
// row, written only by the orchestrator's checkpoint.
// Implementations: SqlStore (SQLite) for real runs, MemStore for tests.
package store

import (
	"errors"

	"phonoflow/internal/phonon"
)

// DefaultDBPath is the default relative path for the SQLite DB.
// Open() creates the parent directory.
const DefaultDBPath = ".phonoflow/phonoflow.db"

// ErrNotFound is returned by Get* methods when no row has the given id.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract. Domain and CLI code use only this
// interface; the implementation is SQLite or in-memory.
type Store interface {
	// --- artifacts (write-once) ---

	PutStructure(s *phonon.Structure) (int64, error)
	GetStructure(id int64) (*StructureRec, error)

	PutDisplacementSet(structureID int64, ds *phonon.DisplacementSet) (int64, error)
	GetDisplacementSet(id int64) (*DisplacementSetRec, error)

	PutForceSets(fs *phonon.ForceSets) (int64, error)
	GetForceSets(id int64) (*ForceSetsRec, error)

	PutForceConstants(fc *phonon.ForceConstants) (int64, error)
	GetForceConstants(id int64) (*ForceConstantsRec, error)

	PutNac(structureID int64, nac *phonon.Nac) (int64, error)
	GetNac(id int64) (*NacRec, error)

	PutPropertyResult(rec *PropertyResultRec) (int64, error)
	ListPropertyResults(workflowID string) ([]*PropertyResultRec, error)

	// --- provenance ---

	// Consumers rebuilds the reverse provenance index for one artifact:
	// every artifact that lists it as an input.
	Consumers(kind ArtifactKind, id int64) ([]ArtifactRef, error)

	// --- workflow state (single mutable row per workflow) ---

	SaveWorkflowState(rec *WorkflowStateRec) error
	GetWorkflowState(id string) (*WorkflowStateRec, error)
	ListWorkflowStates() ([]*WorkflowStateRec, error)

	Close() error
}
