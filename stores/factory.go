package stores

import (
	"fmt"
	"strings"
)

// Supported StoreConfig types.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// DefaultSQLitePath is the database file used by NewSQLiteStoreDefault.
const DefaultSQLitePath = "crm_chat.sqlite"

// NewStore opens the conversation store named by config.Type, matched
// case-insensitively. "postgresql" is accepted as an alias.
func NewStore(config *StoreConfig) (MessageStore, error) {
	switch strings.ToLower(config.Type) {
	case StoreSQLite:
		config.Type = StoreSQLite
		store, err := NewSQLiteStore(config)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorePostgres, "postgresql":
		config.Type = StorePostgres
		store, err := NewPostgresStore(config)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unsupported store type: %s (want %s or %s)", config.Type, StoreSQLite, StorePostgres)
}

// NewSQLiteStoreDefault opens DefaultSQLitePath in the working directory.
func NewSQLiteStoreDefault() (MessageStore, error) {
	return NewSQLiteStoreSimple(DefaultSQLitePath)
}

// PostgresDSN formats discrete connection settings as a libpq DSN.
func PostgresDSN(host, user, password, dbname string, port int) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
}

// NewPostgresStoreDefault opens PostgreSQL from discrete connection settings.
func NewPostgresStoreDefault(host, user, password, dbname string, port int) (MessageStore, error) {
	return NewPostgresStoreSimple(PostgresDSN(host, user, password, dbname, port))
}
