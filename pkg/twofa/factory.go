package twofa

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryConfig contains configuration for creating an account store
type RepositoryConfig struct {
	// Pool is required for PostgreSQL stores
	Pool *pgxpool.Pool
	// DataDir is required for file-based stores
	DataDir string
}

// NewAccountStore creates a new account store based on the persistence type
func NewAccountStore(persistenceType string, config RepositoryConfig) (AccountStore, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, fmt.Errorf("pool required for postgres store")
		}
		return NewPostgresAccountStore(config.Pool), nil
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file store")
		}
		return NewFileAccountStore(config.DataDir)
	case "memory", "inmem":
		return NewInMemoryAccountStore(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file, memory)", persistenceType)
	}
}
