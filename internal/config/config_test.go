package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "America/Los_Angeles", cfg.Location().String())
	assert.Equal(t, 2, cfg.Service.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.JobTimeout)
}

func TestEnvOverridesNestedKeys(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LABCORE_STORAGE_DRIVER", "postgres")
	t.Setenv("LABCORE_STORAGE_POSTGRES_DSN", "postgres://lab@db/lab")
	t.Setenv("LABCORE_BLOB_S3_PATH_STYLE", "true")
	t.Setenv("LABCORE_INTAKE_TIMEOUT", "3s")
	t.Setenv("LABCORE_SERVICE_MAX_RETRIES", "5")

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://lab@db/lab", cfg.Storage.PostgresDSN)
	assert.True(t, cfg.Blob.S3.PathStyle)
	assert.Equal(t, 3*time.Second, cfg.Intake.Timeout)
	assert.Equal(t, 5, cfg.Service.MaxRetries)
}

func TestConfigFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := "lab:\n  timezone: Europe/Madrid\nscheduler:\n  backfill: \"\"\nredis:\n  addr: localhost:6379\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labcore.yaml"), []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LABCORE_HTTP_ADDR=:9090\n"), 0o644))
	t.Setenv("LABCORE_HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("LABCORE_HTTP_ADDR"))

	require.NoError(t, LoadDotEnv())
	require.NoError(t, LoadDotEnv("missing.env"))
	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "Europe/Madrid", cfg.Lab.Timezone)
	assert.Equal(t, "", cfg.Scheduler.Backfill)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)

	_, err = New(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Lab.Timezone = "Mars/Olympus"
	cfg.Storage.Driver = "oracle"
	cfg.Blob.Driver = "s3"
	cfg.Service.MaxRetries = -1
	cfg.Service.SystemActor = " "
	cfg.Scheduler.OverdueScan = "every now and then"

	err := cfg.Validate()
	require.Error(t, err)
	for _, key := range []string{"lab.timezone", "storage.driver", "blob.s3.bucket", "service.max_retries", "service.system_actor", "scheduler.overdue_scan"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.Equal(t, time.UTC, cfg.Location())
}
