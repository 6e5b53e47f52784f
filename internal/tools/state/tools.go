package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/statebridge/internal/session"
)

// registerLoadState registers the load_state tool.
func registerLoadState(s *server.MCPServer, sess *session.Session, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("load_state",
			mcp.WithDescription("Load the current application state from the backend. Returns null when no state has been saved yet."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			state, err := sess.Load(ctx)
			if err != nil {
				return nil, err
			}
			if state == nil {
				return mcp.NewToolResultText("null"), nil
			}
			return mcp.NewToolResultText(string(state)), nil
		},
	)
}

// registerSaveState registers the save_state tool.
func registerSaveState(s *server.MCPServer, sess *session.Session, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("save_state",
			mcp.WithDescription("Save the application state to the backend. A best-effort backup snapshot is taken first."),
			mcp.WithString("state", mcp.Required(), mcp.Description("The full application state as a JSON document")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			raw, _ := args["state"].(string)
			if raw == "" {
				return nil, fmt.Errorf("state is required")
			}
			if !json.Valid([]byte(raw)) {
				return nil, fmt.Errorf("state is not valid JSON")
			}
			if err := sess.Save(ctx, json.RawMessage(raw)); err != nil {
				return nil, err
			}
			logger.Println("State saved via MCP")
			return mcp.NewToolResultText("State saved"), nil
		},
	)
}

// registerCreateBackup registers the create_backup tool.
func registerCreateBackup(s *server.MCPServer, sess *session.Session, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("create_backup",
			mcp.WithDescription("Snapshot a state into the backup table. Advisory: reports success or failure, never blocks other operations."),
			mcp.WithString("state", mcp.Description("State to snapshot as JSON (default: the last-known state)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			raw, _ := args["state"].(string)

			state := json.RawMessage(raw)
			if raw == "" {
				state = sess.Cached()
			} else if !json.Valid([]byte(raw)) {
				return nil, fmt.Errorf("state is not valid JSON")
			}
			if len(state) == 0 {
				return nil, fmt.Errorf("no state to back up: pass one or save first")
			}
			if ok := sess.CreateBackup(ctx, state); !ok {
				return mcp.NewToolResultText("Backup failed (see server log)"), nil
			}
			return mcp.NewToolResultText("Backup created"), nil
		},
	)
}

// registerListBackups registers the list_backups tool.
func registerListBackups(s *server.MCPServer, sess *session.Session, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("list_backups",
			mcp.WithDescription("List backup snapshots, newest first. Returns an empty list when the backend is unreachable."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of backups to return (default: 20)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			limit := 20
			if v, ok := args["limit"].(float64); ok && v > 0 {
				limit = int(v)
			}

			rows := sess.ListBackups(ctx)
			if len(rows) > limit {
				rows = rows[:limit]
			}
			out, err := json.Marshal(rows)
			if err != nil {
				return nil, fmt.Errorf("encode backups: %w", err)
			}
			return mcp.NewToolResultText(string(out)), nil
		},
	)
}

// registerRestoreBackup registers the restore_backup tool.
func registerRestoreBackup(s *server.MCPServer, sess *session.Session, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("restore_backup",
			mcp.WithDescription("Overwrite the current application state with a backup snapshot."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Backup id from list_backups")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			id, _ := args["id"].(string)
			if id == "" {
				return nil, fmt.Errorf("id is required")
			}

			ok, err := sess.RestoreBackup(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok {
				return mcp.NewToolResultText(fmt.Sprintf("No backup with id %s", id)), nil
			}
			logger.Printf("State restored from backup %s via MCP", id)
			return mcp.NewToolResultText(fmt.Sprintf("State restored from backup %s", id)), nil
		},
	)
}
