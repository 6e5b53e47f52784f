// statebridge CLI
// One-shot commands for state and backups, a file-sync watch mode, and an
// MCP stdio server exposing the same operations to agent clients.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaakkos/statebridge/internal/domain"
	"github.com/jaakkos/statebridge/internal/localstore"
	"github.com/jaakkos/statebridge/internal/policy"
	"github.com/jaakkos/statebridge/internal/session"
)

// Version is set by -ldflags at build time.
var Version = "dev"

func usage() {
	fmt.Fprintln(os.Stderr, `usage: statebridge <command> [args]

commands:
  connect [url api-key]   resolve, validate, and store backend credentials
  load                    print the current state (or null)
  save [json]             save state from the argument or stdin
  backup [json]           snapshot a state (default: last-known state)
  backups                 list backup snapshots, newest first
  restore <id>            overwrite the current state with a snapshot
  watch <file>            two-way sync between a JSON file and the backend
  serve                   run the MCP stdio server
  version                 print the version`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "--version", "-v", "version":
		fmt.Println("statebridge " + Version)
		return
	case "connect", "load", "save", "backup", "backups", "restore", "watch", "serve":
	default:
		usage()
	}

	cfg := loadConfig()
	logger := setupLogger(cfg.LogFilePath())

	store, err := localstore.Open(cfg.StorePath())
	if err != nil {
		logger.Fatalf("Local store: %v", err)
	}
	defer store.Close()

	sess := session.New(store, cfg, logger)
	defer sess.Close()

	ctx := context.Background()
	if err := runCommand(ctx, cmd, args, cfg, sess, logger); err != nil {
		fmt.Fprintf(os.Stderr, "statebridge: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, cmd string, args []string, cfg *policy.Config, sess *session.Session, logger *log.Logger) error {
	switch cmd {
	case "connect":
		explicit, err := connectCreds(args)
		if err != nil {
			return err
		}
		if err := sess.Connect(ctx, explicit); err != nil {
			return err
		}
		fmt.Printf("Connected to %s\n", sess.Credentials().Endpoint)
		return nil
	case "serve":
		if err := sess.Connect(ctx, nil); err != nil {
			return err
		}
		return runServe(ctx, sess, logger)
	}

	// Everything below needs a connection from stored/env credentials.
	if err := sess.Connect(ctx, nil); err != nil {
		return err
	}

	switch cmd {
	case "load":
		state, err := sess.Load(ctx)
		if err != nil {
			return err
		}
		if state == nil {
			fmt.Println("null")
			return nil
		}
		fmt.Println(string(state))
	case "save":
		state, err := stateArg(args)
		if err != nil {
			return err
		}
		if err := sess.Save(ctx, state); err != nil {
			return err
		}
		fmt.Println("State saved")
	case "backup":
		var state json.RawMessage
		if len(args) > 0 {
			var err error
			if state, err = stateArg(args); err != nil {
				return err
			}
		} else {
			state = sess.Cached()
		}
		if len(state) == 0 {
			return fmt.Errorf("no state to back up: pass one or save first")
		}
		if !sess.CreateBackup(ctx, state) {
			return fmt.Errorf("backup failed (see log)")
		}
		fmt.Println("Backup created")
	case "backups":
		rows := sess.ListBackups(ctx)
		if len(rows) == 0 {
			fmt.Println("No backups")
			return nil
		}
		for _, b := range rows {
			fmt.Printf("%s  %s  %d bytes\n", b.ID, b.CreatedAt.Format(time.RFC3339), len(b.Data))
		}
	case "restore":
		if len(args) != 1 {
			return fmt.Errorf("usage: statebridge restore <id>")
		}
		ok, err := sess.RestoreBackup(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no backup with id %s", args[0])
		}
		fmt.Println("State restored")
	case "watch":
		if len(args) != 1 {
			return fmt.Errorf("usage: statebridge watch <file>")
		}
		return runWatch(ctx, sess, cfg, args[0], logger)
	}
	return nil
}

// connectCreds parses the connect arguments: either none (resolve from the
// local store or env) or both url and api-key. One argument alone would be
// silently misleading, so it is rejected.
func connectCreds(args []string) (*domain.Credentials, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 2:
		return &domain.Credentials{Endpoint: args[0], APIKey: args[1]}, nil
	default:
		return nil, fmt.Errorf("usage: statebridge connect [url api-key]")
	}
}

// stateArg reads the state JSON from the first argument, or stdin when no
// argument is given.
func stateArg(args []string) (json.RawMessage, error) {
	var data []byte
	if len(args) > 0 {
		data = []byte(args[0])
	} else {
		var err error
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, fmt.Errorf("no state given")
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("state is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func loadConfig() *policy.Config {
	path := os.Getenv("STATEBRIDGE_CONFIG")
	if path == "" {
		path = policy.GlobalConfigFile()
	}
	cfg, err := policy.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[statebridge] Warning: %v, using defaults\n", err)
		return policy.DefaultConfig()
	}
	return cfg
}

func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	// Only include stderr when it's an interactive terminal (not redirected).
	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[statebridge] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[statebridge] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}

	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[statebridge] ", log.LstdFlags)
}
