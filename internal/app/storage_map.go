package app

import (
	"strings"
	"time"

	"pubmatrix/internal/config"
	"pubmatrix/internal/errors"
	"pubmatrix/internal/storage"
)

const defaultDBPath = "data/pubmatrix.db"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	switch driver := strings.ToLower(strings.TrimSpace(sc.Driver)); driver {
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			path = defaultDBPath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, errors.Newf("unknown storage.driver: %s", sc.Driver)
	}
}
