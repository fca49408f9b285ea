// Package keyring generates, validates, and discovers the shared vault key.
//
// A key is 32 bytes of cryptographically secure randomness, represented
// externally as the fixed prefix "envault_" followed by 43 characters of
// unpadded URL-safe base64. The key token is the password fed to the
// envelope cipher; it is never stored inside an envelope.
package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/envault/envault/pkg/envfile"
)

const (
	// TokenPrefix is the fixed ASCII prefix of every key token.
	TokenPrefix = "envault_"

	// KeyVariable is the key-carrier variable name searched during
	// discovery. It is always excluded from the encrypted payload.
	KeyVariable = "ENVAULT_KEY"

	// RawKeyLength is the decoded key length in bytes.
	RawKeyLength = 32

	// encodedLength is the base64 length of a 32-byte key without padding.
	encodedLength = 43
)

// ErrNotFound indicates no valid key could be discovered from any source.
var ErrNotFound = errors.New("keyring: vault key not found")

// Key is a validated key token.
type Key string

// String returns the token form. Callers printing keys should treat the
// output as a secret.
func (k Key) String() string { return string(k) }

// NotFoundError reports a failed discovery and every source that was
// checked, in priority order.
type NotFoundError struct {
	Checked []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("keyring: vault key not found (checked %s)", strings.Join(e.Checked, ", "))
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Generate draws 32 bytes from crypto/rand and encodes them as a key token.
func Generate() (Key, error) {
	raw := make([]byte, RawKeyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("keyring: failed to generate key: %w", err)
	}
	return Key(TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)), nil
}

// Validate reports whether candidate is a well-formed key token: correct
// prefix, URL-safe base64 charset, and exactly 32 decoded bytes. It does
// not verify that the key opens any envelope.
func Validate(candidate string) bool {
	encoded, ok := strings.CutPrefix(candidate, TokenPrefix)
	if !ok || len(encoded) != encodedLength {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return false
	}
	return len(raw) == RawKeyLength
}

// Sources lists where Discover looks for the key-carrier variable, in
// priority order: explicit override, local-only env file, shared env file,
// ambient environment variable. Zero-valued entries are skipped. Environ
// defaults to os.Getenv so tests can substitute a fake environment.
type Sources struct {
	Override   string
	LocalFile  string
	SharedFile string
	EnvVar     string
	Environ    func(string) string
}

// Discover returns the first valid key found in priority order, together
// with a label naming the source that supplied it. An invalid-looking
// candidate is treated as not found and the search continues; the final
// failure reports every source checked.
func Discover(sources Sources) (Key, string, error) {
	environ := sources.Environ
	if environ == nil {
		environ = os.Getenv
	}

	var checked []string

	if sources.Override != "" {
		checked = append(checked, "explicit override")
		if Validate(sources.Override) {
			return Key(sources.Override), "explicit override", nil
		}
	}

	for _, file := range []string{sources.LocalFile, sources.SharedFile} {
		if file == "" {
			continue
		}
		checked = append(checked, file)
		if key, ok := keyFromFile(file); ok {
			return key, file, nil
		}
	}

	if sources.EnvVar != "" {
		label := "environment variable " + sources.EnvVar
		checked = append(checked, label)
		if candidate := environ(sources.EnvVar); Validate(candidate) {
			return Key(candidate), label, nil
		}
	}

	return "", "", &NotFoundError{Checked: checked}
}

// keyFromFile reads the key-carrier variable out of a dotenv-style file.
// A missing or unreadable file is not found.
func keyFromFile(path string) (Key, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	candidate, ok := envfile.Parse(string(data)).Get(KeyVariable)
	if !ok || !Validate(candidate) {
		return "", false
	}
	return Key(candidate), true
}
