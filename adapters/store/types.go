package store

import (
	"encoding/json"

	"phonoflow/internal/phonon"
)

// ArtifactKind names each artifact table for provenance queries.
type ArtifactKind string

const (
	KindStructure       ArtifactKind = "structure"
	KindDisplacementSet ArtifactKind = "displacement_set"
	KindForceSets       ArtifactKind = "force_sets"
	KindForceConstants  ArtifactKind = "force_constants"
	KindNac             ArtifactKind = "nac"
	KindPropertyResult  ArtifactKind = "property_result"
)

// ArtifactRef is an identifier-based edge to an artifact. Provenance is
// stored as one-directional input edges on each row; the reverse
// ("what consumed me") index is rebuilt by Consumers, never stored.
type ArtifactRef struct {
	Kind ArtifactKind `json:"kind"`
	ID   int64        `json:"id"`
}

// StructureRec is a persisted, immutable structure artifact.
type StructureRec struct {
	ID        int64
	Revision  int64 // monotonic per kind; rows are write-once
	Structure phonon.Structure
	CreatedAt string // ISO 8601
}

// DisplacementSetRec is a persisted displacement scheme. StructureID is the
// provenance edge to the structure it was generated from.
type DisplacementSetRec struct {
	ID          int64
	Revision    int64
	StructureID int64
	Set         phonon.DisplacementSet
	CreatedAt   string
}

// ForceSetsRec is a persisted force aggregation, complete or partial.
type ForceSetsRec struct {
	ID                int64
	Revision          int64
	StructureID       int64
	DisplacementSetID int64
	Complete          bool
	Sets              phonon.ForceSets
	CreatedAt         string
}

// ForceConstantsRec is a persisted force-constant tensor.
type ForceConstantsRec struct {
	ID          int64
	Revision    int64
	ForceSetsID int64
	Constants   phonon.ForceConstants
	CreatedAt   string
}

// NacRec is a persisted non-analytical correction term.
type NacRec struct {
	ID          int64
	Revision    int64
	StructureID int64
	Nac         phonon.Nac
	CreatedAt   string
}

// PropertyResultRec records the outcome of one derived-property stage for
// one workflow, success or failure. Payload holds the typed stage result as
// JSON; empty on failure.
type PropertyResultRec struct {
	ID               int64
	WorkflowID       string
	Kind             string // properties.Kind value
	Status           string // succeeded / failed
	Error            string // stage-scoped error message; empty on success
	ForceConstantsID int64
	NacID            int64 // 0 when the stage ran without NAC
	Payload          json.RawMessage
	CreatedAt        string
}

// WorkflowStateRec is the orchestrator's checkpoint row: the only mutable
// row type in the store, updated solely by the orchestrator's checkpoint.
// Payload is the serialized WorkflowState; Stage and Status are denormalized
// for listing without unmarshalling.
type WorkflowStateRec struct {
	ID        string // workflow id
	Stage     string
	Status    string
	Payload   []byte
	CreatedAt string
	UpdatedAt string
}
