package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/airzone-controller/internal/airzone"
	"github.com/thatsimonsguy/airzone-controller/internal/coordinator"
)

var _ coordinator.Store = (*Store)(nil)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestApplySchemaIsIdempotent(t *testing.T) {
	conn := openTestDB(t)
	require.NoError(t, ApplySchema(conn))

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('follow_master', 'endpoint')`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestFollowMasterRoundTrip(t *testing.T) {
	conn := openTestDB(t)

	systems, err := GetFollowMasterSystems(conn)
	require.NoError(t, err)
	assert.Empty(t, systems)

	require.NoError(t, SetFollowMaster(conn, 2, true))
	require.NoError(t, SetFollowMaster(conn, 1, true))
	require.NoError(t, SetFollowMaster(conn, 3, true))
	require.NoError(t, SetFollowMaster(conn, 3, false))

	systems, err = GetFollowMasterSystems(conn)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, systems)

	settings, err := GetFollowMasterSettings(conn)
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: false}, settings)
}

func TestEndpointRoundTrip(t *testing.T) {
	conn := openTestDB(t)

	_, ok, err := GetEndpoint(conn)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SaveEndpoint(conn, airzone.Endpoint{Scheme: "http", Prefix: "/api/v1"}))
	require.NoError(t, SaveEndpoint(conn, airzone.Endpoint{Scheme: "https", Prefix: ""}))

	ep, ok, err := GetEndpoint(conn)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, airzone.Endpoint{Scheme: "https", Prefix: ""}, ep)

	require.NoError(t, ClearEndpoint(conn))
	_, ok, err = GetEndpoint(conn)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore(t *testing.T) {
	s := NewStore(openTestDB(t))

	require.NoError(t, s.SaveFollowMaster(4, true))
	require.NoError(t, s.SaveFollowMaster(5, false))
	settings, err := s.LoadFollowMaster()
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{4: true, 5: false}, settings)

	require.NoError(t, s.SaveEndpoint(airzone.Endpoint{Scheme: "http", Prefix: "/lapi/v1"}))
	ep, ok, err := s.LoadEndpoint()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/lapi/v1", ep.Prefix)
}

func TestCLIHelpersPersistToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airzone.db")

	require.NoError(t, SetFollowMasterCLI(path, "1", true))
	assert.Error(t, SetFollowMasterCLI(path, "one", true))
	systems, err := ListFollowMasterCLI(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, systems)

	conn, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, SaveEndpoint(conn, airzone.Endpoint{Scheme: "http"}))
	conn.Close()

	require.NoError(t, ClearEndpointCLI(path))

	conn, err = Open(path)
	require.NoError(t, err)
	defer conn.Close()
	systems, err = GetFollowMasterSystems(conn)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, systems)
	_, ok, err := GetEndpoint(conn)
	require.NoError(t, err)
	assert.False(t, ok)
}
