package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKind(t *testing.T) {
	tests := []struct {
		raw     string
		want    Kind
		wantErr bool
	}{
		{"", KindFilesystem, false},
		{"fs", KindFilesystem, false},
		{"filesystem", KindFilesystem, false},
		{"db", KindDatabase, false},
		{"database", KindDatabase, false},
		{"  Database  ", KindDatabase, false},
		{"FS", KindFilesystem, false},
		{"redis", "", true},
		{"postgres", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := resolveKind(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromEnv_DefaultFilesystem(t *testing.T) {
	t.Setenv(EnvDatastore, "")
	t.Setenv(EnvDBURL, "")
	t.Setenv(EnvStateDir, "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, KindFilesystem, cfg.Kind)
	assert.Equal(t, filepath.Join(cfg.Home, ".openclaw"), cfg.StateDir)
}

func TestFromEnv_DBURLAloneDoesNotSwitchBackend(t *testing.T) {
	t.Setenv(EnvDatastore, "")
	t.Setenv(EnvDBURL, "postgres://localhost/openclaw")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, KindFilesystem, cfg.Kind, "a configured URL alone must not switch the backend")
}

func TestFromEnv_DatabaseRequiresURL(t *testing.T) {
	t.Setenv(EnvDatastore, "database")
	t.Setenv(EnvDBURL, "")

	_, err := FromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFromEnv_Database(t *testing.T) {
	t.Setenv(EnvDatastore, "db")
	t.Setenv(EnvDBURL, "postgres://localhost/openclaw")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, KindDatabase, cfg.Kind)
	assert.Equal(t, "postgres://localhost/openclaw", cfg.DBURL)
}

func TestFromEnv_UnknownValueFatal(t *testing.T) {
	t.Setenv(EnvDatastore, "cassandra")

	_, err := FromEnv()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFromEnv_StateDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDatastore, "fs")
	t.Setenv(EnvStateDir, dir)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.StateDir)
}
