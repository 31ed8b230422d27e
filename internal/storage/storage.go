// Package storage picks the conversation store backend.
package storage

import (
	"context"

	"github.com/samber/oops"

	"github.com/comigor/floatchat-go/internal/config"
	"github.com/comigor/floatchat-go/internal/history"
	"github.com/comigor/floatchat-go/internal/logger"
	"github.com/comigor/floatchat-go/internal/storage/firestore"
	"github.com/comigor/floatchat-go/internal/storage/memory"
	"github.com/comigor/floatchat-go/internal/storage/sqlite"
)

// Open returns the store named by cfg.Backend. A SQLite database that cannot
// be opened degrades to the in-memory store so the client stays usable.
func Open(ctx context.Context, cfg config.StoreConfig) (history.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewStore(), nil
	case "firestore":
		return firestore.NewStore(ctx, cfg.ProjectID)
	case "sqlite", "":
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			logger.L.Warn("sqlite store unavailable, falling back to in-memory history", "path", cfg.Path, "error", err)
			return memory.NewStore(), nil
		}
		return s, nil
	default:
		return nil, oops.In("storage").Code("unknown_backend").Errorf("unknown store backend %q", cfg.Backend)
	}
}
