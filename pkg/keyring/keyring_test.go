package keyring

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSatisfiesValidate(t *testing.T) {
	for i := 0; i < 50; i++ {
		key, err := Generate()
		require.NoError(t, err)
		assert.True(t, Validate(string(key)), "generated key %q should validate", key)
	}
}

func TestGenerateIsUnique(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValidateRejectsMalformedTokens(t *testing.T) {
	valid, err := Generate()
	require.NoError(t, err)

	tests := []struct {
		name      string
		candidate string
	}{
		{"empty", ""},
		{"prefix only", TokenPrefix},
		{"wrong prefix", "vault_" + strings.TrimPrefix(string(valid), TokenPrefix)},
		{"too short", string(valid)[:len(valid)-1]},
		{"too long", string(valid) + "A"},
		{"invalid charset", TokenPrefix + strings.Repeat("!", 43)},
		{"standard base64 charset", TokenPrefix + strings.Repeat("+", 43)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Validate(tt.candidate))
		})
	}
}

func writeEnvFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDiscoverPriorityOrder(t *testing.T) {
	dir := t.TempDir()
	overrideKey, _ := Generate()
	localKey, _ := Generate()
	sharedKey, _ := Generate()
	envKey, _ := Generate()

	local := writeEnvFile(t, dir, ".env.local", KeyVariable+"="+string(localKey)+"\n")
	shared := writeEnvFile(t, dir, ".env", KeyVariable+"="+string(sharedKey)+"\n")
	environ := func(string) string { return string(envKey) }

	sources := Sources{
		Override:   string(overrideKey),
		LocalFile:  local,
		SharedFile: shared,
		EnvVar:     KeyVariable,
		Environ:    environ,
	}

	key, source, err := Discover(sources)
	require.NoError(t, err)
	assert.Equal(t, overrideKey, key)
	assert.Equal(t, "explicit override", source)

	sources.Override = ""
	key, source, err = Discover(sources)
	require.NoError(t, err)
	assert.Equal(t, localKey, key)
	assert.Equal(t, local, source)

	sources.LocalFile = ""
	key, source, err = Discover(sources)
	require.NoError(t, err)
	assert.Equal(t, sharedKey, key)
	assert.Equal(t, shared, source)

	sources.SharedFile = ""
	key, source, err = Discover(sources)
	require.NoError(t, err)
	assert.Equal(t, envKey, key)
	assert.Equal(t, "environment variable "+KeyVariable, source)
}

func TestDiscoverSkipsInvalidCandidates(t *testing.T) {
	dir := t.TempDir()
	goodKey, _ := Generate()

	// The local file carries a truncated token; discovery must fall
	// through to the shared file rather than fail on the bad candidate.
	local := writeEnvFile(t, dir, ".env.local", KeyVariable+"=envault_tooshort\n")
	shared := writeEnvFile(t, dir, ".env", KeyVariable+"="+string(goodKey)+"\n")

	key, source, err := Discover(Sources{LocalFile: local, SharedFile: shared})
	require.NoError(t, err)
	assert.Equal(t, goodKey, key)
	assert.Equal(t, shared, source)
}

func TestDiscoverNotFoundReportsAllSources(t *testing.T) {
	dir := t.TempDir()
	local := writeEnvFile(t, dir, ".env.local", "OTHER=1\n")

	_, _, err := Discover(Sources{
		Override:   "envault_invalid",
		LocalFile:  local,
		SharedFile: filepath.Join(dir, ".env"), // does not exist
		EnvVar:     KeyVariable,
		Environ:    func(string) string { return "" },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Len(t, nf.Checked, 4)
	assert.Contains(t, err.Error(), "explicit override")
	assert.Contains(t, err.Error(), local)
}
