package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{"ENVAULT_VAULT_FILE", "ENVAULT_ENV_FILE", "ENVAULT_LOCAL_ENV_FILE", "ENVAULT_ACTOR"} {
		t.Setenv(v, "")
		require.NoError(t, os.Unsetenv(v))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ".env", cfg.EnvFile)
	assert.Equal(t, ".env.local", cfg.LocalEnvFile)
	assert.Empty(t, cfg.VaultFile)
	assert.Empty(t, cfg.Actor)
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yaml := "vaultFile: secrets.vault\nactor: alice\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "secrets.vault", cfg.VaultFile)
	assert.Equal(t, "alice", cfg.Actor)
	assert.Equal(t, ".env", cfg.EnvFile, "file layer must not clobber defaults it does not set")
}

func TestEnvBeatsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yaml := "actor: alice\nenvFile: custom.env\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0o600))
	t.Setenv("ENVAULT_ACTOR", "bob")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "bob", cfg.Actor)
	assert.Equal(t, "custom.env", cfg.EnvFile)
}

func TestLoadMalformedFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not yaml"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}
