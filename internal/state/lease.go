package state

import (
	"database/sql"
	"fmt"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// AcquireLease claims the single-flight slot. The conditional update makes
// the check and the claim one atomic statement, across processes too.
func (db *DB) AcquireLease(l models.AgentLease) (bool, error) {
	res, err := db.Exec(`
		UPDATE agent_lease SET holder_kind = ?, owner_kind = ?, owner_id = ?, holder_id = ?, acquired_at = ?, pid = ?
		WHERE id = 1 AND holder_id IS NULL
	`, string(l.HolderKind), string(l.Owner.Kind), l.Owner.ID, l.HolderID, nullableTime(l.AcquiredAt), l.PID)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease frees the slot if holderID holds it.
func (db *DB) ReleaseLease(holderID string) (bool, error) {
	res, err := db.Exec(`
		UPDATE agent_lease SET holder_kind = NULL, owner_kind = NULL, owner_id = NULL,
			holder_id = NULL, acquired_at = NULL, pid = NULL
		WHERE id = 1 AND holder_id = ?
	`, holderID)
	if err != nil {
		return false, fmt.Errorf("release lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// GetLease returns the current slot state. A free slot has an empty HolderID.
func (db *DB) GetLease() (models.AgentLease, error) {
	var l models.AgentLease
	var holderKind, ownerKind, ownerID, holderID, acquiredAt sql.NullString
	var pid sql.NullInt64
	err := db.QueryRow(`
		SELECT holder_kind, owner_kind, owner_id, holder_id, acquired_at, pid FROM agent_lease WHERE id = 1
	`).Scan(&holderKind, &ownerKind, &ownerID, &holderID, &acquiredAt, &pid)
	if err == sql.ErrNoRows {
		return l, nil
	}
	if err != nil {
		return l, fmt.Errorf("get lease: %w", err)
	}
	if !holderID.Valid {
		return l, nil
	}
	l.HolderKind = models.LeaseHolderKind(holderKind.String)
	l.Owner = models.ItemRef{Kind: models.ItemKind(ownerKind.String), ID: ownerID.String}
	l.HolderID = holderID.String
	l.AcquiredAt = parseNullableTime(acquiredAt)
	l.PID = int(pid.Int64)
	return l, nil
}
