package crmstream

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Desarso/crmstream/server"
	"github.com/Desarso/crmstream/sessions"
	"github.com/Desarso/crmstream/stores"
	"github.com/Desarso/crmstream/stream"
)

// Defaults used by NewConfig.
const (
	DefaultBackendURL    = "http://localhost:8000"
	DefaultListenAddr    = ":8080"
	DefaultStoreType     = stores.StoreSQLite
	DefaultStoreDSN      = stores.DefaultSQLitePath
	DefaultRetentionDays = 30
)

// Config holds everything needed to wire a relay: backend location, the
// conversation store and the retention job.
type Config struct {
	BackendURL    string
	StreamPath    string
	Model         string
	ListenAddr    string
	StoreType     string
	StoreDSN      string
	RetentionCron string
	RetentionDays int
}

// NewConfig creates a configuration with default values
func NewConfig() *Config {
	return &Config{
		BackendURL:    DefaultBackendURL,
		StreamPath:    sessions.DefaultEndpoint,
		ListenAddr:    DefaultListenAddr,
		StoreType:     DefaultStoreType,
		StoreDSN:      DefaultStoreDSN,
		RetentionCron: stores.DefaultRetentionSchedule,
		RetentionDays: DefaultRetentionDays,
	}
}

// ConfigFromEnv loads .env when present and overrides the defaults with the
// CRM_* environment variables.
func ConfigFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	c := NewConfig()
	setString(&c.BackendURL, "CRM_BACKEND_URL")
	setString(&c.StreamPath, "CRM_STREAM_PATH")
	setString(&c.Model, "CRM_MODEL")
	setString(&c.ListenAddr, "CRM_LISTEN_ADDR")
	setString(&c.StoreType, "CRM_STORE_TYPE")
	setString(&c.StoreDSN, "CRM_STORE_DSN")
	setString(&c.RetentionCron, "CRM_RETENTION_CRON")

	if raw := os.Getenv("CRM_RETENTION_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CRM_RETENTION_DAYS %q: %w", raw, err)
		}
		c.RetentionDays = days
	}
	return c, nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// WithBackendURL sets the chat backend base URL
func (c *Config) WithBackendURL(url string) *Config {
	c.BackendURL = url
	return c
}

// WithStreamPath sets the global chat stream route
func (c *Config) WithStreamPath(path string) *Config {
	c.StreamPath = path
	return c
}

// WithModel sets the model name forwarded with each request
func (c *Config) WithModel(model string) *Config {
	c.Model = model
	return c
}

// WithListenAddr sets the relay listen address
func (c *Config) WithListenAddr(addr string) *Config {
	c.ListenAddr = addr
	return c
}

// WithSQLiteStore stores conversations in the SQLite file at path.
func (c *Config) WithSQLiteStore(path string) *Config {
	c.StoreType = stores.StoreSQLite
	c.StoreDSN = path
	return c
}

// WithPostgresStore stores conversations in PostgreSQL.
func (c *Config) WithPostgresStore(dsn string) *Config {
	c.StoreType = stores.StorePostgres
	c.StoreDSN = dsn
	return c
}

// WithoutStore disables persistence.
func (c *Config) WithoutStore() *Config {
	c.StoreType = ""
	c.StoreDSN = ""
	return c
}

// WithRetention sets the pruning schedule and age. days <= 0 keeps
// conversations forever.
func (c *Config) WithRetention(schedule string, days int) *Config {
	c.RetentionCron = schedule
	c.RetentionDays = days
	return c
}

// Retention is the configured retention as a duration.
func (c *Config) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Validate reports configuration that cannot be wired.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend URL is required")
	}
	switch strings.ToLower(c.StoreType) {
	case "", stores.StoreSQLite, stores.StorePostgres, "postgresql":
	default:
		return fmt.Errorf("unsupported store type: %s", c.StoreType)
	}
	if c.StoreType != "" && c.StoreDSN == "" {
		return fmt.Errorf("store %s needs a DSN", c.StoreType)
	}
	return nil
}

// OpenStore connects the configured store. It returns nil, nil when
// persistence is disabled.
func (c *Config) OpenStore() (stores.MessageStore, error) {
	if c.StoreType == "" {
		return nil, nil
	}
	store, err := stores.NewStore(stores.NewStoreConfig(c.StoreType, c.StoreDSN))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", c.StoreType, err)
	}
	return store, nil
}

// Client builds the backend stream client.
func (c *Config) Client() *stream.Client {
	return stream.NewClient(c.BackendURL)
}

// Manager builds a session manager for the backend. When store is not nil
// finished messages are persisted to it and named stream events are recorded
// on the same connection.
func (c *Config) Manager(client sessions.Streamer, store stores.MessageStore) (*sessions.Manager, error) {
	m := sessions.NewManager(client)
	if c.StreamPath != "" {
		m.Endpoint = c.StreamPath
	}
	m.Model = c.Model
	if store == nil {
		return m, nil
	}
	events, err := stores.EventStoreFor(store)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	m.Store = store
	m.Events = events
	return m, nil
}

// Pruner builds the retention job for store.
func (c *Config) Pruner(store stores.MessageStore) *stores.Pruner {
	return stores.NewPruner(store, c.RetentionCron, c.Retention())
}

// Server builds the relay around manager.
func (c *Config) Server(manager *sessions.Manager) *server.Server {
	return server.NewServer(manager).WithBackendURL(c.BackendURL)
}
