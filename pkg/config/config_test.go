package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Batch.Workers)
	assert.Equal(t, 30*time.Second, cfg.Batch.ItemTimeout)
	assert.False(t, cfg.Database.UsesPostgres())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datasync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
batch:
  workers: 8
  item_timeout: 5s
`), 0o600))

	t.Setenv("DATASYNC_BATCH_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Batch.Workers)
	assert.Equal(t, 5*time.Second, cfg.Batch.ItemTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("DATASYNC_BATCH_WORKERS", "0")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.workers")
}

func TestLoadYAML_SubstitutesEnv(t *testing.T) {
	t.Setenv("DS_PASSWORD", "s3cret")
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("password: ${DS_PASSWORD}\nuser: app\n"), 0o600))

	var out struct {
		Password string `yaml:"password"`
		User     string `yaml:"user"`
	}
	require.NoError(t, LoadYAML(path, &out))
	assert.Equal(t, "s3cret", out.Password)
	assert.Equal(t, "app", out.User)
}

func TestSubstituteEnvVars_Unset(t *testing.T) {
	assert.Equal(t, "a--b", substituteEnvVars("a-${DATASYNC_SURELY_UNSET}-b"))
	assert.Equal(t, "a ${open", substituteEnvVars("a ${open"))
}
