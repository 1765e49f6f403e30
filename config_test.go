package crmstream

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Desarso/crmstream/sessions"
	"github.com/Desarso/crmstream/stores"
)

func TestNewConfigDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, DefaultBackendURL, c.BackendURL)
	assert.Equal(t, sessions.DefaultEndpoint, c.StreamPath)
	assert.Equal(t, stores.DefaultRetentionSchedule, c.RetentionCron)
	assert.Equal(t, 30*24*time.Hour, c.Retention())
	assert.NoError(t, c.Validate())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("CRM_BACKEND_URL", "http://crm.internal:9000")
	t.Setenv("CRM_MODEL", "qwen-plus")
	t.Setenv("CRM_STORE_TYPE", "postgres")
	t.Setenv("CRM_STORE_DSN", "host=db user=crm dbname=crm")
	t.Setenv("CRM_RETENTION_DAYS", "7")

	c, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://crm.internal:9000", c.BackendURL)
	assert.Equal(t, "qwen-plus", c.Model)
	assert.Equal(t, "postgres", c.StoreType)
	assert.Equal(t, "host=db user=crm dbname=crm", c.StoreDSN)
	assert.Equal(t, 7, c.RetentionDays)
	assert.Equal(t, DefaultListenAddr, c.ListenAddr)
}

func TestConfigFromEnv_BadRetention(t *testing.T) {
	t.Setenv("CRM_RETENTION_DAYS", "a week")
	_, err := ConfigFromEnv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.Error(t, NewConfig().WithBackendURL("").Validate())
	assert.Error(t, NewConfig().WithPostgresStore("").Validate())

	c := NewConfig()
	c.StoreType = "mongo"
	assert.EqualError(t, c.Validate(), "unsupported store type: mongo")

	assert.NoError(t, NewConfig().WithoutStore().Validate())

	c.StoreType = "SQLite"
	assert.NoError(t, c.Validate())
}

func TestRetentionDisabled(t *testing.T) {
	c := NewConfig().WithRetention("0 0 4 * * *", 0)
	assert.Equal(t, time.Duration(0), c.Retention())
}

func TestNewRelay(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	cfg := NewConfig().
		WithBackendURL("http://127.0.0.1:1").
		WithModel("m1").
		WithSQLiteStore(filepath.Join(t.TempDir(), "relay.sqlite"))

	r, err := NewRelay(cfg, quiet)
	require.NoError(t, err)

	require.NotNil(t, r.Store)
	assert.Same(t, r.Store, r.Manager.Store)
	assert.NotNil(t, r.Manager.Events)
	assert.Equal(t, "m1", r.Manager.Model)
	assert.Equal(t, cfg.BackendURL, r.Server.BackendURL)
	require.NotNil(t, r.Pruner)

	require.NoError(t, r.Start())
	assert.False(t, r.Pruner.Next().IsZero())
	assert.NoError(t, r.Close())
}

func TestNewRelay_WithoutStore(t *testing.T) {
	r, err := NewRelay(NewConfig().WithoutStore(), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	assert.Nil(t, r.Store)
	assert.Nil(t, r.Manager.Store)
	assert.Nil(t, r.Pruner)
	assert.NoError(t, r.Start())
	assert.NoError(t, r.Close())
}

func TestParse(t *testing.T) {
	info := Parse("【基本信息】\n姓名：王五")
	require.NotNil(t, info)
	assert.Equal(t, map[string]string{"姓名": "王五"}, info.Basic.Map())
	assert.Nil(t, Parse("你好"))
}
