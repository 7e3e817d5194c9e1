package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 100*time.Millisecond, cfg.Bus.BackoffBase)
	assert.Equal(t, 10*time.Second, cfg.Bus.BackoffMax)
	assert.Equal(t, 60*time.Second, cfg.Poll.IdleTimeout)
	assert.Equal(t, "redis", cfg.Bus.Driver)
	assert.Greater(t, cfg.Worker.Count, 0)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker:
  id: w3
  count: 2
bus:
  driver: kafka
  kafka:
    group_id: gw
poll:
  idle_timeout: 5s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Worker.Count)
	assert.Equal(t, 5*time.Second, cfg.Poll.IdleTimeout)

	ps := cfg.PubSub()
	assert.Equal(t, "kafka", ps.Driver)
	assert.Equal(t, "gw-w3", ps.Kafka.GroupID)
}

// chdir changes the working directory for the duration of the test,
// restoring it on cleanup (equivalent of testing.T.Chdir, Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
