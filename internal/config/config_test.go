package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load("testdata/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "agency_session", cfg.Server.CookieName)
	assert.Equal(t, "order_events", cfg.Kafka.Topic.OrderEvents)
	assert.Equal(t, 3, cfg.Business.CASRetryCount)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout())
	assert.Equal(t, time.Hour, cfg.SessionTTL())
	assert.EqualValues(t, 1, cfg.Server.NodeID)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AGENCY_SERVER_PORT", "7070")
	t.Setenv("AGENCY_SESSION_SECRET", "from-env")
	t.Setenv("AGENCY_SERVER_NODE_ID", "7")

	cfg, err := Load("testdata/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Session.Secret)
	assert.EqualValues(t, 7, cfg.Server.NodeID)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("AGENCY_SESSION_SECRET", "s")

	cfg, err := Load("testdata/does-not-exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "mysql"},
		Business: BusinessConfig{StoreTimeoutSeconds: 5},
		Log:      LogConfig{Env: "production"},
	}
	assert.Error(t, cfg.Validate(), "生产环境必须配置 session secret")

	cfg.Session.Secret = "x"
	assert.NoError(t, cfg.Validate())

	cfg.Server.NodeID = 1024
	assert.Error(t, cfg.Validate(), "雪花节点号超出范围")
	cfg.Server.NodeID = 3

	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())
}
