package main

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/statebridge/internal/session"
	statetools "github.com/jaakkos/statebridge/internal/tools/state"
)

// runServe runs the MCP stdio server until the client disconnects.
func runServe(ctx context.Context, sess *session.Session, logger *log.Logger) error {
	mcpServer := server.NewMCPServer(
		"statebridge",
		Version,
		server.WithInstructions(statetools.InstructionsText()),
	)
	statetools.Register(mcpServer, sess, logger)

	logger.Println("Stdio ready")
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Printf("Stdio server stopped: %v", err)
	}
	logger.Println("Server stopped")
	return nil
}
