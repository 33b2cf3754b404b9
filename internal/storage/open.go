package storage

import (
	"strings"

	"pubmatrix/internal/errors"
	logx "pubmatrix/pkg/logx"
)

// Open initializes the configured repository.
func Open(cfg Config, log logx.Logger) (Repository, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
