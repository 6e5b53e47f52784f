// Package state registers the statebridge operations as MCP tools so agent
// clients can load, save, and back up the application state directly.
package state

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/statebridge/internal/session"
)

// InstructionsText is shown to MCP clients on connect.
func InstructionsText() string {
	return `statebridge persists a single JSON application state against a hosted backend.
Use load_state/save_state for the current state, create_backup/list_backups/restore_backup
for snapshots. Backups are advisory: create_backup reports success or failure but never
blocks, and restore_backup overwrites the current state with the chosen snapshot.`
}

// Register registers the state tools with the mcp-go server.
func Register(s *server.MCPServer, sess *session.Session, logger *log.Logger) {
	registerLoadState(s, sess, logger)
	registerSaveState(s, sess, logger)
	registerCreateBackup(s, sess, logger)
	registerListBackups(s, sess, logger)
	registerRestoreBackup(s, sess, logger)
}
