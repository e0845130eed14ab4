package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"phonoflow/internal/phonon"
)

// MemStore is an in-memory Store for tests. Rows are kept as marshalled
// JSON, so callers get fresh copies and cannot mutate a stored artifact.
type MemStore struct {
	mu sync.Mutex

	structures map[int64]memRow
	dispSets   map[int64]memRow
	forceSets  map[int64]memRow
	forceConst map[int64]memRow
	nacs       map[int64]memRow
	props      map[int64]*PropertyResultRec
	states     map[string]*WorkflowStateRec

	nextID map[string]int64
}

type memRow struct {
	revision  int64
	payload   []byte
	createdAt string
	refs      map[string]int64 // fk column -> id
	complete  bool
}

// NewMemStore returns a new in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		structures: make(map[int64]memRow),
		dispSets:   make(map[int64]memRow),
		forceSets:  make(map[int64]memRow),
		forceConst: make(map[int64]memRow),
		nacs:       make(map[int64]memRow),
		props:      make(map[int64]*PropertyResultRec),
		states:     make(map[string]*WorkflowStateRec),
		nextID:     make(map[string]int64),
	}
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

func (s *MemStore) put(table string, rows map[int64]memRow, payload any, refs map[string]int64, complete bool) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", table, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID[table]++
	id := s.nextID[table]
	rows[id] = memRow{
		revision:  id,
		payload:   data,
		createdAt: nowUTC(),
		refs:      refs,
		complete:  complete,
	}
	return id, nil
}

func (s *MemStore) get(table string, rows map[int64]memRow, id int64, out any) (memRow, error) {
	s.mu.Lock()
	row, ok := rows[id]
	s.mu.Unlock()
	if !ok {
		return memRow{}, fmt.Errorf("%w: %s id %d", ErrNotFound, table, id)
	}
	if err := json.Unmarshal(row.payload, out); err != nil {
		return memRow{}, fmt.Errorf("unmarshal %s %d: %w", table, id, err)
	}
	return row, nil
}

// PutStructure implements Store.
func (s *MemStore) PutStructure(st *phonon.Structure) (int64, error) {
	return s.put("structures", s.structures, st, nil, false)
}

// GetStructure implements Store.
func (s *MemStore) GetStructure(id int64) (*StructureRec, error) {
	rec := &StructureRec{ID: id}
	row, err := s.get("structures", s.structures, id, &rec.Structure)
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt = row.revision, row.createdAt
	return rec, nil
}

// PutDisplacementSet implements Store.
func (s *MemStore) PutDisplacementSet(structureID int64, ds *phonon.DisplacementSet) (int64, error) {
	return s.put("displacement_sets", s.dispSets, ds, map[string]int64{"structure_id": structureID}, false)
}

// GetDisplacementSet implements Store.
func (s *MemStore) GetDisplacementSet(id int64) (*DisplacementSetRec, error) {
	rec := &DisplacementSetRec{ID: id}
	row, err := s.get("displacement_sets", s.dispSets, id, &rec.Set)
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt = row.revision, row.createdAt
	rec.StructureID = row.refs["structure_id"]
	return rec, nil
}

// PutForceSets implements Store.
func (s *MemStore) PutForceSets(fs *phonon.ForceSets) (int64, error) {
	refs := map[string]int64{
		"structure_id":        fs.StructureID,
		"displacement_set_id": fs.DisplacementSetID,
	}
	return s.put("force_sets", s.forceSets, fs, refs, fs.Complete)
}

// GetForceSets implements Store.
func (s *MemStore) GetForceSets(id int64) (*ForceSetsRec, error) {
	rec := &ForceSetsRec{ID: id}
	row, err := s.get("force_sets", s.forceSets, id, &rec.Sets)
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt, rec.Complete = row.revision, row.createdAt, row.complete
	rec.StructureID = row.refs["structure_id"]
	rec.DisplacementSetID = row.refs["displacement_set_id"]
	return rec, nil
}

// PutForceConstants implements Store.
func (s *MemStore) PutForceConstants(fc *phonon.ForceConstants) (int64, error) {
	return s.put("force_constants", s.forceConst, fc, map[string]int64{"force_sets_id": fc.ForceSetsID}, false)
}

// GetForceConstants implements Store.
func (s *MemStore) GetForceConstants(id int64) (*ForceConstantsRec, error) {
	rec := &ForceConstantsRec{ID: id}
	row, err := s.get("force_constants", s.forceConst, id, &rec.Constants)
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt = row.revision, row.createdAt
	rec.ForceSetsID = row.refs["force_sets_id"]
	return rec, nil
}

// PutNac implements Store.
func (s *MemStore) PutNac(structureID int64, nac *phonon.Nac) (int64, error) {
	return s.put("nac_terms", s.nacs, nac, map[string]int64{"structure_id": structureID}, false)
}

// GetNac implements Store.
func (s *MemStore) GetNac(id int64) (*NacRec, error) {
	rec := &NacRec{ID: id}
	row, err := s.get("nac_terms", s.nacs, id, &rec.Nac)
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt = row.revision, row.createdAt
	rec.StructureID = row.refs["structure_id"]
	return rec, nil
}

// PutPropertyResult implements Store.
func (s *MemStore) PutPropertyResult(rec *PropertyResultRec) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID["property_results"]++
	cp := *rec
	cp.ID = s.nextID["property_results"]
	cp.CreatedAt = nowUTC()
	cp.Payload = append([]byte(nil), rec.Payload...)
	s.props[cp.ID] = &cp
	return cp.ID, nil
}

// ListPropertyResults implements Store.
func (s *MemStore) ListPropertyResults(workflowID string) ([]*PropertyResultRec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PropertyResultRec
	for _, p := range s.props {
		if p.WorkflowID != workflowID {
			continue
		}
		cp := *p
		cp.Payload = append([]byte(nil), p.Payload...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Consumers implements Store: the reverse provenance index, rebuilt by
// scanning the forward edges.
func (s *MemStore) Consumers(kind ArtifactKind, id int64) ([]ArtifactRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ArtifactRef
	scan := func(rows map[int64]memRow, col string, rkind ArtifactKind) {
		for rid, row := range rows {
			if row.refs[col] == id {
				out = append(out, ArtifactRef{Kind: rkind, ID: rid})
			}
		}
	}
	switch kind {
	case KindStructure:
		scan(s.dispSets, "structure_id", KindDisplacementSet)
		scan(s.forceSets, "structure_id", KindForceSets)
		scan(s.nacs, "structure_id", KindNac)
	case KindDisplacementSet:
		scan(s.forceSets, "displacement_set_id", KindForceSets)
	case KindForceSets:
		scan(s.forceConst, "force_sets_id", KindForceConstants)
	case KindForceConstants:
		for pid, p := range s.props {
			if p.ForceConstantsID == id {
				out = append(out, ArtifactRef{Kind: KindPropertyResult, ID: pid})
			}
		}
	case KindNac:
		for pid, p := range s.props {
			if p.NacID == id {
				out = append(out, ArtifactRef{Kind: KindPropertyResult, ID: pid})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SaveWorkflowState implements Store.
func (s *MemStore) SaveWorkflowState(rec *WorkflowStateRec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := nowUTC()
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	cp.UpdatedAt = now
	if prev, ok := s.states[rec.ID]; ok {
		cp.CreatedAt = prev.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	s.states[rec.ID] = &cp
	return nil
}

// GetWorkflowState implements Store.
func (s *MemStore) GetWorkflowState(id string) (*WorkflowStateRec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return &cp, nil
}

// ListWorkflowStates implements Store.
func (s *MemStore) ListWorkflowStates() ([]*WorkflowStateRec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WorkflowStateRec
	for _, rec := range s.states {
		cp := *rec
		cp.Payload = append([]byte(nil), rec.Payload...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
