package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
)

// GetFollowMasterSystems returns the systems with follow-master enabled, ascending.
func GetFollowMasterSystems(db *sql.DB) ([]int, error) {
	rows, err := db.Query(`SELECT system_id FROM follow_master WHERE enabled = TRUE ORDER BY system_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow-master systems: %w", err)
	}
	defer rows.Close()

	var systems []int
	for rows.Next() {
		var sid int
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("failed to scan follow-master system: %w", err)
		}
		systems = append(systems, sid)
	}
	return systems, rows.Err()
}

// GetFollowMasterSettings returns every stored follow-master row, including
// systems explicitly disabled.
func GetFollowMasterSettings(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query(`SELECT system_id, enabled FROM follow_master`)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow-master settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[int]bool)
	for rows.Next() {
		var sid int
		var enabled bool
		if err := rows.Scan(&sid, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan follow-master setting: %w", err)
		}
		settings[sid] = enabled
	}
	return settings, rows.Err()
}

// GetEndpoint returns the last endpoint the prober detected, if any.
func GetEndpoint(db *sql.DB) (airzone.Endpoint, bool, error) {
	var ep airzone.Endpoint
	err := db.QueryRow(`SELECT scheme, api_prefix FROM endpoint WHERE id = 1`).Scan(&ep.Scheme, &ep.Prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return airzone.Endpoint{}, false, nil
	}
	if err != nil {
		return airzone.Endpoint{}, false, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return ep, true, nil
}
