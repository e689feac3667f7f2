package main

import (
	"fmt"

	"github.com/claude-flow/claude-flow/internal/config"
	"github.com/claude-flow/claude-flow/internal/store"
)

// openStore builds the state store from the persistence config. The
// returned KV is the primary backend's key-value surface, used by the
// memory substrate.
func openStore(cfg *config.Config) (*store.Store, store.KV, error) {
	dbPath := cfg.Persistence.DBPath
	if dbPath == "" {
		dbPath = store.DefaultDBPath()
	}

	switch cfg.Persistence.Backend {
	case "sqlite":
		sb, err := store.OpenSQLite(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return store.NewWithBackends(sb), sb, nil
	case "fs":
		fb, err := store.NewFSBackend(cfg.Persistence.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open fs backend: %w", err)
		}
		return store.NewWithBackends(fb), fb, nil
	case "both":
		sb, err := store.OpenSQLite(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		fb, err := store.NewFSBackend(cfg.Persistence.DataDir)
		if err != nil {
			sb.Close()
			return nil, nil, fmt.Errorf("open fs backend: %w", err)
		}
		return store.NewWithBackends(sb, fb), sb, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q (want sqlite, fs, or both)", cfg.Persistence.Backend)
	}
}
