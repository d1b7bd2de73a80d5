package db

import "strconv"

// SetFollowMasterCLI toggles follow-master for a system directly in the database.
// The running service picks the change up on its next start.
func SetFollowMasterCLI(dbPath, systemID string, enabled bool) error {
	sid, err := strconv.Atoi(systemID)
	if err != nil {
		return err
	}
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return SetFollowMaster(conn, sid, enabled)
}

func ClearEndpointCLI(dbPath string) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return ClearEndpoint(conn)
}

func ListFollowMasterCLI(dbPath string) ([]int, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return GetFollowMasterSystems(conn)
}
