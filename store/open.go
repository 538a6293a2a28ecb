package store

import (
	"fmt"

	"fetchbot/config"
	"fetchbot/task"
)

// Backend is a task.Store that holds resources until closed.
type Backend interface {
	task.Store
	Close() error
}

// Open returns the backend selected by STORE_DRIVER.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		return OpenSQLite(cfg.DBPath)
	case config.StoreMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
