package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jaakkos/statebridge/internal/policy"
	"github.com/jaakkos/statebridge/internal/realtime"
	"github.com/jaakkos/statebridge/internal/session"
	"github.com/jaakkos/statebridge/internal/statefile"
)

// runWatch wires the three moving parts together: local file edits are saved
// to the backend, remote changes are written back to the file, and the
// auto-backup timer snapshots the file's state periodically. Runs until
// SIGINT/SIGTERM.
func runWatch(ctx context.Context, sess *session.Session, cfg *policy.Config, path string, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := statefile.New(path, logger, statefile.WithOnChange(func(state json.RawMessage) {
		saveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := sess.Save(saveCtx, state); err != nil {
			logger.Printf("Warning: save of %s failed: %v", path, err)
			return
		}
		logger.Printf("Saved %s (%d bytes)", path, len(state))
	}))

	sub, err := realtime.Subscribe(ctx, sess.Credentials(), sess, func(state json.RawMessage) {
		if state == nil {
			return
		}
		if err := provider.WriteState(state); err != nil {
			logger.Printf("Warning: write remote state to %s failed: %v", path, err)
			return
		}
		logger.Printf("Applied remote change to %s (%d bytes)", path, len(state))
	}, logger)
	if err != nil {
		return err
	}
	defer sub.Close()

	sess.StartAutoBackup(time.Duration(cfg.AutoBackupIntervalMin)*time.Minute, provider.State)
	defer sess.StopAutoBackup()

	// Seed the file from the backend when it doesn't exist yet.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if state, err := sess.Load(ctx); err == nil && state != nil {
			if err := provider.WriteState(state); err != nil {
				logger.Printf("Warning: seed %s failed: %v", path, err)
			} else {
				logger.Printf("Seeded %s from backend", path)
			}
		}
	}

	logger.Printf("Watching %s", path)
	go provider.Start(ctx)

	<-ctx.Done()
	provider.Stop()
	logger.Println("Watch stopped")
	return nil
}
