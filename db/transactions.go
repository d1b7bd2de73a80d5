package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
)

func SetFollowMaster(db *sql.DB, systemID int, enabled bool) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO follow_master (system_id, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(system_id) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		systemID, enabled, time.Now().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("update follow-master for system %d: %w", systemID, err)
	}
	return tx.Commit()
}

func SaveEndpoint(db *sql.DB, ep airzone.Endpoint) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT OR REPLACE INTO endpoint (id, scheme, api_prefix, detected_at) VALUES (1, ?, ?, ?)`,
		ep.Scheme, ep.Prefix, time.Now().Format(time.RFC3339))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("save endpoint: %w", err)
	}
	return tx.Commit()
}

// ClearEndpoint forgets the detected endpoint so the next start probes again.
func ClearEndpoint(db *sql.DB) error {
	if _, err := db.Exec(`DELETE FROM endpoint`); err != nil {
		return fmt.Errorf("clear endpoint: %w", err)
	}
	return nil
}
