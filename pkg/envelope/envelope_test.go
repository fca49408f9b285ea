package envelope

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func sample() *Envelope {
	return &Envelope{
		Version:   Version,
		Salt:      bytes.Repeat([]byte{0x01}, SaltLength),
		IV:        bytes.Repeat([]byte{0x02}, IVLength),
		AuthTag:   bytes.Repeat([]byte{0x03}, AuthTagLength),
		Encrypted: []byte("ciphertext"),
		HMAC:      bytes.Repeat([]byte{0x04}, HMACLength),
		Metadata: Metadata{
			CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			UpdatedAt: time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC),
			CreatedBy: "alice",
			Variables: 2,
		},
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	env := sample()

	data, err := Serialize(env)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	decoded, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize() error = %v", err)
	}

	if !bytes.Equal(decoded.Salt, env.Salt) || !bytes.Equal(decoded.Encrypted, env.Encrypted) {
		t.Error("round trip altered binary fields")
	}
	if !decoded.Metadata.CreatedAt.Equal(env.Metadata.CreatedAt) {
		t.Errorf("createdAt = %v, want %v", decoded.Metadata.CreatedAt, env.Metadata.CreatedAt)
	}
	if decoded.Metadata.Variables != 2 {
		t.Errorf("variables = %d, want 2", decoded.Metadata.Variables)
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	env := sample()

	a, err := Serialize(env)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	b, err := Serialize(env)
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("Serialize() output should be byte-identical across calls")
	}

	// version must come first so envelopes diff cleanly.
	text := string(a)
	if !strings.HasPrefix(text, "{\n  \"version\": 1,") {
		t.Errorf("unexpected leading field order:\n%s", text[:40])
	}
}

func TestDeserializeRejectsMalformedEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"wrong version", func(e *Envelope) { e.Version = 2 }},
		{"short salt", func(e *Envelope) { e.Salt = e.Salt[:16] }},
		{"short iv", func(e *Envelope) { e.IV = e.IV[:12] }},
		{"long authTag", func(e *Envelope) { e.AuthTag = append(e.AuthTag, 0xff) }},
		{"short hmac", func(e *Envelope) { e.HMAC = e.HMAC[:31] }},
		{"missing ciphertext", func(e *Envelope) { e.Encrypted = nil }},
		{"negative variables", func(e *Envelope) { e.Metadata.Variables = -1 }},
		{"zero timestamps", func(e *Envelope) { e.Metadata.CreatedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := sample()
			tt.mutate(env)
			data, err := Serialize(env)
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}
			if _, err := Deserialize(data); err == nil {
				t.Error("Deserialize() should have failed")
			} else if !errors.Is(err, ErrFormat) {
				t.Errorf("error %v should wrap ErrFormat", err)
			}
		})
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	if _, err := Deserialize([]byte("not json at all")); err == nil {
		t.Error("Deserialize() should reject non-JSON input")
	}
}
