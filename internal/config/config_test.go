package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	c, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), c)
	assert.Equal(t, 500, c.DedupCapacity)
	assert.Equal(t, 2*time.Second, c.ReconcileInterval)
}

func TestFromEnv_Overrides(t *testing.T) {
	c, err := FromEnv(env(map[string]string{
		"KH_ROOM":                "abc123",
		"KH_PLAYER_ID":           "alice",
		"KH_TRANSPORT":           "redis",
		"KH_STORE":               "bolt",
		"KH_DEDUP_CAPACITY":      "64",
		"KH_RECONCILE_INTERVAL":  "500ms",
		"KH_REQUEST_STATE_AFTER": "3s",
		"KH_LOG_FORMAT":          "json",
		"KH_LOG_LEVEL":           "debug",
	}))
	require.NoError(t, err)
	assert.Equal(t, "abc123", c.Room)
	assert.Equal(t, "alice", c.PlayerID)
	assert.Equal(t, "redis", c.Transport)
	assert.Equal(t, 64, c.DedupCapacity)
	assert.Equal(t, 500*time.Millisecond, c.ReconcileInterval)
	assert.Equal(t, 3*time.Second, c.RequestStateAfter)

	log, err := c.Logger()
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"transport":       {"KH_TRANSPORT": "carrier-pigeon"},
		"store":           {"KH_STORE": "floppy"},
		"postgres no url": {"KH_STORE": "postgres"},
		"duration":        {"KH_PRESENCE_TTL": "soon"},
		"negative dedup":  {"KH_DEDUP_CAPACITY": "-1"},
		"log level":       {"KH_LOG_LEVEL": "loud"},
		"log format":      {"KH_LOG_FORMAT": "xml"},
		"zero reconcile":  {"KH_RECONCILE_INTERVAL": "0s"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(env(vars))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("KH_ROOM=fromfile\nKH_PLAYER_NAME=Dot\n"), 0o600))
	t.Setenv("KH_PLAYER_NAME", "Shell")
	t.Cleanup(func() { os.Unsetenv("KH_ROOM") })

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", c.Room)
	assert.Equal(t, "Shell", c.PlayerName)
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
