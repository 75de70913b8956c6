package core

import (
	"fmt"
	"os"

	"provenancecore/internal/infra/persistence/memory"
	"provenancecore/internal/infra/persistence/postgres"
	"provenancecore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	PROVENANCE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	PROVENANCE_SQLITE_PATH: path to sqlite file (default ./provenancecore.db)
//	PROVENANCE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("PROVENANCE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("PROVENANCE_SQLITE_PATH"), engine)
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("PROVENANCE_POSTGRES_DSN"), engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// NewInMemoryService creates a service over an in-memory store loaded with
// the default guard rules.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(DefaultRulesEngine()), opts...)
}
