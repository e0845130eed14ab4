package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"phonoflow/internal/phonon"
)

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// SqlStore implements Store with SQLite (modernc.org/sqlite, pure Go).
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and applies the schema and any
// pending migrations. The parent directory is created if needed.
func Open(path string) (*SqlStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	return openDSN(path)
}

// OpenMemory opens an in-memory SQLite DB for testing.
func OpenMemory() (*SqlStore, error) {
	return openDSN(":memory:")
}

func openDSN(dsn string) (*SqlStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes through one connection; more would race on
	// the schema_version bootstrap.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SqlStore{db: db}, nil
}

// Close closes the underlying DB.
func (s *SqlStore) Close() error { return s.db.Close() }

// putRow inserts a write-once artifact row with the next per-table revision.
func (s *SqlStore) putRow(table string, cols []string, vals []any, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal %s payload: %w", table, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var rev int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(revision), 0) + 1 FROM ` + table).Scan(&rev); err != nil {
		return 0, fmt.Errorf("next %s revision: %w", table, err)
	}

	colSQL := "revision, payload, created_at"
	argSQL := "?, ?, ?"
	args := []any{rev, string(data), nowUTC()}
	for i, c := range cols {
		colSQL += ", " + c
		argSQL += ", ?"
		args = append(args, vals[i])
	}
	res, err := tx.Exec(`INSERT INTO `+table+` (`+colSQL+`) VALUES (`+argSQL+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s id: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s: %w", table, err)
	}
	return id, nil
}

func (s *SqlStore) getRow(table string, id int64, extraCols []string, extraDst []any) (rev int64, payload []byte, createdAt string, err error) {
	colSQL := "revision, payload, created_at"
	for _, c := range extraCols {
		colSQL += ", " + c
	}
	var raw string
	dst := append([]any{&rev, &raw, &createdAt}, extraDst...)
	err = s.db.QueryRow(`SELECT `+colSQL+` FROM `+table+` WHERE id = ?`, id).Scan(dst...)
	if err == sql.ErrNoRows {
		return 0, nil, "", fmt.Errorf("%w: %s id %d", ErrNotFound, table, id)
	}
	if err != nil {
		return 0, nil, "", fmt.Errorf("get %s %d: %w", table, id, err)
	}
	return rev, []byte(raw), createdAt, nil
}

// PutStructure implements Store.
func (s *SqlStore) PutStructure(st *phonon.Structure) (int64, error) {
	return s.putRow("structures", nil, nil, st)
}

// GetStructure implements Store.
func (s *SqlStore) GetStructure(id int64) (*StructureRec, error) {
	rev, payload, createdAt, err := s.getRow("structures", id, nil, nil)
	if err != nil {
		return nil, err
	}
	rec := &StructureRec{ID: id, Revision: rev, CreatedAt: createdAt}
	if err := json.Unmarshal(payload, &rec.Structure); err != nil {
		return nil, fmt.Errorf("unmarshal structure %d: %w", id, err)
	}
	return rec, nil
}

// PutDisplacementSet implements Store.
func (s *SqlStore) PutDisplacementSet(structureID int64, ds *phonon.DisplacementSet) (int64, error) {
	return s.putRow("displacement_sets", []string{"structure_id"}, []any{structureID}, ds)
}

// GetDisplacementSet implements Store.
func (s *SqlStore) GetDisplacementSet(id int64) (*DisplacementSetRec, error) {
	rec := &DisplacementSetRec{ID: id}
	rev, payload, createdAt, err := s.getRow("displacement_sets", id,
		[]string{"structure_id"}, []any{&rec.StructureID})
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt = rev, createdAt
	if err := json.Unmarshal(payload, &rec.Set); err != nil {
		return nil, fmt.Errorf("unmarshal displacement set %d: %w", id, err)
	}
	return rec, nil
}

// PutForceSets implements Store.
func (s *SqlStore) PutForceSets(fs *phonon.ForceSets) (int64, error) {
	complete := 0
	if fs.Complete {
		complete = 1
	}
	return s.putRow("force_sets",
		[]string{"structure_id", "displacement_set_id", "complete"},
		[]any{fs.StructureID, fs.DisplacementSetID, complete}, fs)
}

// GetForceSets implements Store.
func (s *SqlStore) GetForceSets(id int64) (*ForceSetsRec, error) {
	rec := &ForceSetsRec{ID: id}
	var complete int
	rev, payload, createdAt, err := s.getRow("force_sets", id,
		[]string{"structure_id", "displacement_set_id", "complete"},
		[]any{&rec.StructureID, &rec.DisplacementSetID, &complete})
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt, rec.Complete = rev, createdAt, complete != 0
	if err := json.Unmarshal(payload, &rec.Sets); err != nil {
		return nil, fmt.Errorf("unmarshal force sets %d: %w", id, err)
	}
	return rec, nil
}

// PutForceConstants implements Store.
func (s *SqlStore) PutForceConstants(fc *phonon.ForceConstants) (int64, error) {
	return s.putRow("force_constants", []string{"force_sets_id"}, []any{fc.ForceSetsID}, fc)
}

// GetForceConstants implements Store.
func (s *SqlStore) GetForceConstants(id int64) (*ForceConstantsRec, error) {
	rec := &ForceConstantsRec{ID: id}
	rev, payload, createdAt, err := s.getRow("force_constants", id,
		[]string{"force_sets_id"}, []any{&rec.ForceSetsID})
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt = rev, createdAt
	if err := json.Unmarshal(payload, &rec.Constants); err != nil {
		return nil, fmt.Errorf("unmarshal force constants %d: %w", id, err)
	}
	return rec, nil
}

// PutNac implements Store.
func (s *SqlStore) PutNac(structureID int64, nac *phonon.Nac) (int64, error) {
	return s.putRow("nac_terms", []string{"structure_id"}, []any{structureID}, nac)
}

// GetNac implements Store.
func (s *SqlStore) GetNac(id int64) (*NacRec, error) {
	rec := &NacRec{ID: id}
	rev, payload, createdAt, err := s.getRow("nac_terms", id,
		[]string{"structure_id"}, []any{&rec.StructureID})
	if err != nil {
		return nil, err
	}
	rec.Revision, rec.CreatedAt = rev, createdAt
	if err := json.Unmarshal(payload, &rec.Nac); err != nil {
		return nil, fmt.Errorf("unmarshal nac %d: %w", id, err)
	}
	return rec, nil
}

// PutPropertyResult implements Store.
func (s *SqlStore) PutPropertyResult(rec *PropertyResultRec) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO property_results
		(workflow_id, kind, status, error, force_constants_id, nac_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.WorkflowID, rec.Kind, rec.Status, rec.Error,
		rec.ForceConstantsID, rec.NacID, string(rec.Payload), nowUTC())
	if err != nil {
		return 0, fmt.Errorf("insert property result: %w", err)
	}
	return res.LastInsertId()
}

// ListPropertyResults implements Store.
func (s *SqlStore) ListPropertyResults(workflowID string) ([]*PropertyResultRec, error) {
	rows, err := s.db.Query(`SELECT id, workflow_id, kind, status, error,
		force_constants_id, nac_id, payload, created_at
		FROM property_results WHERE workflow_id = ? ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list property results: %w", err)
	}
	defer rows.Close()
	var out []*PropertyResultRec
	for rows.Next() {
		rec := &PropertyResultRec{}
		var payload string
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &rec.Kind, &rec.Status, &rec.Error,
			&rec.ForceConstantsID, &rec.NacID, &payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan property result: %w", err)
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// consumerQueries maps an artifact kind to the tables that reference it.
var consumerQueries = map[ArtifactKind][]struct {
	kind  ArtifactKind
	query string
}{
	KindStructure: {
		{KindDisplacementSet, `SELECT id FROM displacement_sets WHERE structure_id = ? ORDER BY id`},
		{KindForceSets, `SELECT id FROM force_sets WHERE structure_id = ? ORDER BY id`},
		{KindNac, `SELECT id FROM nac_terms WHERE structure_id = ? ORDER BY id`},
	},
	KindDisplacementSet: {
		{KindForceSets, `SELECT id FROM force_sets WHERE displacement_set_id = ? ORDER BY id`},
	},
	KindForceSets: {
		{KindForceConstants, `SELECT id FROM force_constants WHERE force_sets_id = ? ORDER BY id`},
	},
	KindForceConstants: {
		{KindPropertyResult, `SELECT id FROM property_results WHERE force_constants_id = ? ORDER BY id`},
	},
	KindNac: {
		{KindPropertyResult, `SELECT id FROM property_results WHERE nac_id = ? ORDER BY id`},
	},
}

// Consumers implements Store: the reverse provenance index, rebuilt from the
// forward edges on demand.
func (s *SqlStore) Consumers(kind ArtifactKind, id int64) ([]ArtifactRef, error) {
	var out []ArtifactRef
	for _, q := range consumerQueries[kind] {
		rows, err := s.db.Query(q.query, id)
		if err != nil {
			return nil, fmt.Errorf("consumers of %s %d: %w", kind, id, err)
		}
		for rows.Next() {
			var cid int64
			if err := rows.Scan(&cid); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan consumer id: %w", err)
			}
			out = append(out, ArtifactRef{Kind: q.kind, ID: cid})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// SaveWorkflowState implements Store: upsert keyed by workflow id.
func (s *SqlStore) SaveWorkflowState(rec *WorkflowStateRec) error {
	now := nowUTC()
	_, err := s.db.Exec(`INSERT INTO workflow_states (id, stage, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Stage, rec.Status, string(rec.Payload), now, now)
	if err != nil {
		return fmt.Errorf("save workflow state %s: %w", rec.ID, err)
	}
	return nil
}

// GetWorkflowState implements Store.
func (s *SqlStore) GetWorkflowState(id string) (*WorkflowStateRec, error) {
	rec := &WorkflowStateRec{}
	var payload string
	err := s.db.QueryRow(`SELECT id, stage, status, payload, created_at, updated_at
		FROM workflow_states WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Stage, &rec.Status, &payload, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: workflow %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow state %s: %w", id, err)
	}
	rec.Payload = []byte(payload)
	return rec, nil
}

// ListWorkflowStates implements Store.
func (s *SqlStore) ListWorkflowStates() ([]*WorkflowStateRec, error) {
	rows, err := s.db.Query(`SELECT id, stage, status, payload, created_at, updated_at
		FROM workflow_states ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list workflow states: %w", err)
	}
	defer rows.Close()
	var out []*WorkflowStateRec
	for rows.Next() {
		rec := &WorkflowStateRec{}
		var payload string
		if err := rows.Scan(&rec.ID, &rec.Stage, &rec.Status, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow state: %w", err)
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}
