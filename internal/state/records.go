package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// Artifact operations

const artifactColumns = `id, owner_kind, owner_id, state, type, content, created_at, agent_id,
	confidence, needs_human_input, human_input_reason`

// CreateArtifact appends an artifact.
func (db *DB) CreateArtifact(a *models.Artifact) error {
	_, err := db.Exec(`INSERT INTO artifacts (`+artifactColumns+`) VALUES (`+placeholders(11)+`)`,
		a.ID, string(a.Owner.Kind), a.Owner.ID, string(a.State), string(a.Type), a.Content,
		formatTime(a.CreatedAt), a.AgentID, nullableFloat(a.Confidence), a.NeedsHumanInput, a.HumanInputReason)
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	return nil
}

// GetArtifact retrieves an artifact by ID. It returns nil, nil when none matches.
func (db *DB) GetArtifact(id string) (*models.Artifact, error) {
	row := db.QueryRow(`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// ListArtifacts returns the owner's artifacts oldest first. Ties keep insertion order.
func (db *DB) ListArtifacts(owner models.ItemRef) ([]models.Artifact, error) {
	rows, err := db.Query(`SELECT `+artifactColumns+` FROM artifacts
		WHERE owner_kind = ? AND owner_id = ? ORDER BY created_at ASC, seq ASC`,
		string(owner.Kind), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, *a)
	}
	return artifacts, rows.Err()
}

func scanArtifact(row scanner) (*models.Artifact, error) {
	var a models.Artifact
	var kind, state, typ, createdAt string
	var confidence sql.NullFloat64
	if err := row.Scan(&a.ID, &kind, &a.Owner.ID, &state, &typ, &a.Content, &createdAt, &a.AgentID,
		&confidence, &a.NeedsHumanInput, &a.HumanInputReason); err != nil {
		return nil, err
	}
	a.Owner.Kind = models.ItemKind(kind)
	a.State = models.Stage(state)
	a.Type = models.ArtifactType(typ)
	a.CreatedAt, _ = parseTime(createdAt)
	a.Confidence = floatPtr(confidence)
	return &a, nil
}

// Gate operations

const gateColumns = `id, owner_kind, owner_id, subject_id, gate_type, status, confidence, reason,
	requested_at, resolved_at, resolved_by, resolution_note, context_snapshot`

// CreateGate creates a gate.
func (db *DB) CreateGate(g *models.HumanGate) error {
	_, err := db.Exec(`INSERT INTO gates (`+gateColumns+`) VALUES (`+placeholders(13)+`)`,
		g.ID, string(g.Owner.Kind), g.Owner.ID, g.SubjectID, string(g.GateType), string(g.Status),
		nullableFloat(g.Confidence), g.Reason, formatTime(g.RequestedAt), nullableTime(g.ResolvedAt),
		g.ResolvedBy, g.ResolutionNote, nullableJSON(g.ContextSnapshot))
	if err != nil {
		return fmt.Errorf("create gate: %w", err)
	}
	return nil
}

// GetGate retrieves a gate by ID. It returns nil, nil when none matches.
func (db *DB) GetGate(id string) (*models.HumanGate, error) {
	row := db.QueryRow(`SELECT `+gateColumns+` FROM gates WHERE id = ?`, id)
	g, err := scanGate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gate: %w", err)
	}
	return g, nil
}

// ResolveGate records a resolution if the gate is still pending.
func (db *DB) ResolveGate(g *models.HumanGate) (bool, error) {
	res, err := db.Exec(`
		UPDATE gates SET status = ?, resolved_at = ?, resolved_by = ?, resolution_note = ?
		WHERE id = ? AND status = ?
	`, string(g.Status), nullableTime(g.ResolvedAt), g.ResolvedBy, g.ResolutionNote, g.ID, string(models.GatePending))
	if err != nil {
		return false, fmt.Errorf("resolve gate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListGates lists gates, optionally filtered by status, oldest first.
func (db *DB) ListGates(status models.GateStatus) ([]models.HumanGate, error) {
	query := `SELECT ` + gateColumns + ` FROM gates`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY requested_at ASC, id ASC"
	return db.queryGates(query, args...)
}

// PendingGatesFor lists the owner's pending gates, oldest first.
func (db *DB) PendingGatesFor(owner models.ItemRef) ([]models.HumanGate, error) {
	return db.queryGates(`SELECT `+gateColumns+` FROM gates
		WHERE owner_kind = ? AND owner_id = ? AND status = ? ORDER BY requested_at ASC, id ASC`,
		string(owner.Kind), owner.ID, string(models.GatePending))
}

func (db *DB) queryGates(query string, args ...any) ([]models.HumanGate, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list gates: %w", err)
	}
	defer rows.Close()

	var gates []models.HumanGate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gate: %w", err)
		}
		gates = append(gates, *g)
	}
	return gates, rows.Err()
}

func scanGate(row scanner) (*models.HumanGate, error) {
	var g models.HumanGate
	var kind, gateType, status, requestedAt string
	var confidence sql.NullFloat64
	var resolvedAt, snapshot sql.NullString
	if err := row.Scan(&g.ID, &kind, &g.Owner.ID, &g.SubjectID, &gateType, &status, &confidence, &g.Reason,
		&requestedAt, &resolvedAt, &g.ResolvedBy, &g.ResolutionNote, &snapshot); err != nil {
		return nil, err
	}
	g.Owner.Kind = models.ItemKind(kind)
	g.GateType = models.GateType(gateType)
	g.Status = models.GateStatus(status)
	g.Confidence = floatPtr(confidence)
	g.RequestedAt, _ = parseTime(requestedAt)
	g.ResolvedAt = parseNullableTime(resolvedAt)
	if snapshot.Valid {
		g.ContextSnapshot = json.RawMessage(snapshot.String)
	}
	return &g, nil
}

// Rollback operations

const rollbackColumns = `id, owner_kind, owner_id, trigger_kind, created_at, state_before, action_taken,
	preserved_artifacts, recovery_options, notes`

// CreateRollback appends a rollback record.
func (db *DB) CreateRollback(r *models.RollbackRecord) error {
	_, err := db.Exec(`INSERT INTO rollbacks (`+rollbackColumns+`) VALUES (`+placeholders(10)+`)`,
		r.ID, string(r.Owner.Kind), r.Owner.ID, string(r.Trigger), formatTime(r.CreatedAt),
		jsonOrEmpty(r.StateBefore), jsonOrEmpty(r.ActionTaken), jsonOrEmpty(r.PreservedArtifacts),
		jsonOrEmpty(r.RecoveryOptions), r.Notes)
	if err != nil {
		return fmt.Errorf("create rollback: %w", err)
	}
	return nil
}

// ListRollbacks returns the owner's rollback records oldest first.
func (db *DB) ListRollbacks(owner models.ItemRef) ([]models.RollbackRecord, error) {
	rows, err := db.Query(`SELECT `+rollbackColumns+` FROM rollbacks
		WHERE owner_kind = ? AND owner_id = ? ORDER BY created_at ASC, seq ASC`,
		string(owner.Kind), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list rollbacks: %w", err)
	}
	defer rows.Close()

	var records []models.RollbackRecord
	for rows.Next() {
		var r models.RollbackRecord
		var kind, trigger, createdAt, before, action, preserved, options string
		if err := rows.Scan(&r.ID, &kind, &r.Owner.ID, &trigger, &createdAt, &before, &action,
			&preserved, &options, &r.Notes); err != nil {
			return nil, fmt.Errorf("scan rollback: %w", err)
		}
		r.Owner.Kind = models.ItemKind(kind)
		r.Trigger = models.RollbackTrigger(trigger)
		r.CreatedAt, _ = parseTime(createdAt)
		r.StateBefore = json.RawMessage(before)
		r.ActionTaken = json.RawMessage(action)
		r.PreservedArtifacts = json.RawMessage(preserved)
		r.RecoveryOptions = json.RawMessage(options)
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func jsonOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
