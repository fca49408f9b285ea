// Package envelope serializes and deserializes the on-disk vault envelope.
//
// The envelope is the persisted structure combining ciphertext,
// cryptographic parameters, and integrity tags. It carries no key
// material. Serialization is indented JSON with a fixed field order so
// envelopes diff cleanly in version control.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the only envelope version this codec reads or writes.
const Version = 1

// Expected byte lengths of the binary envelope fields.
const (
	SaltLength    = 32
	IVLength      = 16
	AuthTagLength = 16
	HMACLength    = 32
)

// ErrFormat indicates a malformed envelope: wrong version, missing fields,
// or binary fields of unexpected length. The envelope is likely corrupted
// or produced by a foreign tool.
var ErrFormat = errors.New("envelope: malformed vault envelope")

// Metadata is the non-secret envelope bookkeeping. CreatedAt is immutable
// once set; only UpdatedAt and the ciphertext fields change on
// re-encryption. Variables counts the protected entries and never includes
// the key-carrier variable.
type Metadata struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Variables int       `json:"variables"`
}

// Envelope is the persisted vault structure. Binary fields are base64
// (standard encoding) in the JSON form.
type Envelope struct {
	Version   int      `json:"version"`
	Salt      []byte   `json:"salt"`
	IV        []byte   `json:"iv"`
	AuthTag   []byte   `json:"authTag"`
	Encrypted []byte   `json:"encrypted"`
	HMAC      []byte   `json:"hmac"`
	Metadata  Metadata `json:"metadata"`
}

// Serialize encodes the envelope as indented JSON with a trailing newline.
// Field order follows the struct declaration, so output is deterministic.
func Serialize(env *Envelope) ([]byte, error) {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to marshal: %w", err)
	}
	return append(data, '\n'), nil
}

// Deserialize decodes and validates an envelope. Any violation yields an
// error wrapping ErrFormat and no partially-decoded envelope is returned.
func Deserialize(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrFormat, e.Version)
	}
	for _, f := range []struct {
		name string
		got  int
		want int
	}{
		{"salt", len(e.Salt), SaltLength},
		{"iv", len(e.IV), IVLength},
		{"authTag", len(e.AuthTag), AuthTagLength},
		{"hmac", len(e.HMAC), HMACLength},
	} {
		if f.got != f.want {
			return fmt.Errorf("%w: %s is %d bytes, want %d", ErrFormat, f.name, f.got, f.want)
		}
	}
	if e.Encrypted == nil {
		return fmt.Errorf("%w: missing ciphertext", ErrFormat)
	}
	if e.Metadata.Variables < 0 {
		return fmt.Errorf("%w: negative variable count", ErrFormat)
	}
	if e.Metadata.CreatedAt.IsZero() || e.Metadata.UpdatedAt.IsZero() {
		return fmt.Errorf("%w: missing metadata timestamps", ErrFormat)
	}
	return nil
}
