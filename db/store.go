package db

import (
	"database/sql"

	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
)

// Store persists coordinator state in sqlite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) LoadFollowMaster() (map[int]bool, error) {
	return GetFollowMasterSettings(s.db)
}

func (s *Store) SaveFollowMaster(systemID int, enabled bool) error {
	return SetFollowMaster(s.db, systemID, enabled)
}

func (s *Store) LoadEndpoint() (airzone.Endpoint, bool, error) {
	return GetEndpoint(s.db)
}

func (s *Store) SaveEndpoint(ep airzone.Endpoint) error {
	return SaveEndpoint(s.db, ep)
}
