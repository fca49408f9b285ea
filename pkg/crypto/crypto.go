// Package crypto turns a vault key token into envelope ciphertext and back.
//
// This package implements password-based authenticated encryption with an
// external keyed integrity tag.
//
// # Security Features
//
//   - PBKDF2-SHA512 key derivation (600,000 iterations)
//   - Independent AEAD and integrity keys via HKDF with distinct contexts
//   - AES-256-GCM authenticated encryption with a fresh 16-byte IV
//   - HMAC-SHA256 over version, salt, IV, auth tag, and ciphertext
//   - Constant-time integrity comparison, checked before the AEAD so that
//     ciphertext tampering cannot be distinguished from a wrong key
//   - Secure memory wiping for derived key material
//
// Key derivation dominates the latency of every call, so Encrypt and
// Decrypt are dispatched to a bounded worker pool and honor context
// cancellation. A cancelled call never hands back partial output.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/envault/envault/pkg/envelope"
)

const (
	// Iterations is the PBKDF2 iteration count.
	Iterations = 600_000

	// KeyLength is the length of each derived key in bytes (256 bits).
	KeyLength = 32

	// masterKeyLength is the PBKDF2 output length before the HKDF split.
	masterKeyLength = 64
)

// HKDF info strings. The AEAD key and the integrity key are derived under
// distinct contexts so no key is shared across two primitives.
const (
	infoEncryption = "envault-envelope-encryption"
	infoIntegrity  = "envault-envelope-integrity"
)

// Sentinel errors. Both carry the same generic message: callers may tell
// them apart with errors.Is, but the end user must not be able to
// distinguish a tampered envelope from a wrong key.
var (
	// ErrIntegrity indicates the envelope's keyed integrity tag did not
	// match. The AEAD tag is not consulted on this path.
	ErrIntegrity = errors.New("crypto: wrong key or tampered vault")

	// ErrDecryption indicates AEAD tag verification failed after the
	// integrity check passed.
	ErrDecryption = errors.New("crypto: wrong key or tampered vault")
)

// Engine performs envelope encryption and decryption on a bounded worker
// pool. The zero value is not usable; construct with NewEngine.
type Engine struct {
	iterations int
	sem        chan struct{}
	now        func() time.Time
}

// NewEngine returns an Engine with production parameters and one worker
// slot per CPU.
func NewEngine() *Engine {
	return NewEngineWithParams(Iterations, runtime.NumCPU())
}

// NewEngineWithParams returns an Engine with an explicit iteration count
// and worker pool size. Non-positive values fall back to the defaults.
// Lowering the iteration count is intended for tests only.
func NewEngineWithParams(iterations, workers int) *Engine {
	if iterations <= 0 {
		iterations = Iterations
	}
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		iterations: iterations,
		sem:        make(chan struct{}, workers),
		now:        time.Now,
	}
}

// EncryptInfo carries the non-secret bookkeeping for an encryption.
type EncryptInfo struct {
	// Variables is the number of protected entries in the plaintext.
	Variables int

	// CreatedBy is an optional actor label for a fresh envelope.
	CreatedBy string

	// Existing, when re-encrypting over a previous envelope, preserves
	// its createdAt and createdBy so the envelope's identity survives.
	Existing *envelope.Metadata
}

// Encrypt derives fresh keys from password and a new random salt, seals
// plaintext with AES-256-GCM under a new random IV, and tags the envelope
// with HMAC-SHA256. The salt and IV are never reused across envelopes.
//
// The call blocks until a worker slot is free, and returns ctx.Err() if
// the context is cancelled first or while derivation is running.
func (e *Engine) Encrypt(ctx context.Context, plaintext []byte, password string, info EncryptInfo) (*envelope.Envelope, error) {
	return dispatch(ctx, e.sem, func() (*envelope.Envelope, error) {
		return e.encrypt(plaintext, password, info)
	})
}

// Decrypt re-derives both keys from the envelope's salt, verifies the
// external integrity tag in constant time, and only then opens the AEAD.
// An integrity mismatch fails with ErrIntegrity before the AEAD is
// touched; an AEAD failure yields ErrDecryption.
func (e *Engine) Decrypt(ctx context.Context, env *envelope.Envelope, password string) ([]byte, error) {
	return dispatch(ctx, e.sem, func() ([]byte, error) {
		return e.decrypt(env, password)
	})
}

// dispatch runs work on the engine's pool, honoring cancellation both
// while waiting for a slot and while the work is in flight.
func dispatch[T any](ctx context.Context, sem chan struct{}, work func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	type result struct {
		value T
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() { <-sem }()
		value, err := work()
		ch <- result{value, err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (e *Engine) encrypt(plaintext []byte, password string, info EncryptInfo) (*envelope.Envelope, error) {
	salt, err := randomBytes(envelope.SaltLength)
	if err != nil {
		return nil, err
	}
	iv, err := randomBytes(envelope.IVLength)
	if err != nil {
		return nil, err
	}

	encKey, macKey, err := deriveKeys(password, salt, e.iterations)
	if err != nil {
		return nil, err
	}
	defer SecureWipe(encKey)
	defer SecureWipe(macKey)

	gcm, err := newGCM(encKey)
	if err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - gcm.Overhead()

	now := e.now().UTC()
	meta := envelope.Metadata{
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: info.CreatedBy,
		Variables: info.Variables,
	}
	if info.Existing != nil {
		meta.CreatedAt = info.Existing.CreatedAt
		if meta.CreatedBy == "" {
			meta.CreatedBy = info.Existing.CreatedBy
		}
	}

	env := &envelope.Envelope{
		Version:   envelope.Version,
		Salt:      salt,
		IV:        iv,
		AuthTag:   sealed[split:],
		Encrypted: sealed[:split],
		Metadata:  meta,
	}
	env.HMAC = integrityTag(macKey, env)
	return env, nil
}

func (e *Engine) decrypt(env *envelope.Envelope, password string) ([]byte, error) {
	encKey, macKey, err := deriveKeys(password, env.Salt, e.iterations)
	if err != nil {
		return nil, err
	}
	defer SecureWipe(encKey)
	defer SecureWipe(macKey)

	if !hmac.Equal(integrityTag(macKey, env), env.HMAC) {
		return nil, ErrIntegrity
	}

	gcm, err := newGCM(encKey)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(env.Encrypted)+len(env.AuthTag))
	sealed = append(sealed, env.Encrypted...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := gcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// deriveKeys stretches the password with PBKDF2-SHA512 and splits the
// result into independent AEAD and integrity keys via HKDF-SHA256.
func deriveKeys(password string, salt []byte, iterations int) (encKey, macKey []byte, err error) {
	master := pbkdf2.Key([]byte(password), salt, iterations, masterKeyLength, sha512.New)
	defer SecureWipe(master)

	encKey, err = expandKey(master, infoEncryption)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to derive encryption key: %w", err)
	}
	macKey, err = expandKey(master, infoIntegrity)
	if err != nil {
		SecureWipe(encKey)
		return nil, nil, fmt.Errorf("crypto: failed to derive integrity key: %w", err)
	}
	return encKey, macKey, nil
}

func expandKey(master []byte, info string) ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, envelope.IVLength)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// integrityTag computes HMAC-SHA256 over version, salt, iv, authTag, and
// ciphertext, in that order. The version is encoded as 4 big-endian bytes.
func integrityTag(macKey []byte, env *envelope.Envelope) []byte {
	var version [4]byte
	binary.BigEndian.PutUint32(version[:], uint32(env.Version))

	mac := hmac.New(sha256.New, macKey)
	mac.Write(version[:])
	mac.Write(env.Salt)
	mac.Write(env.IV)
	mac.Write(env.AuthTag)
	mac.Write(env.Encrypted)
	return mac.Sum(nil)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: failed to read randomness: %w", err)
	}
	return b, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the writes are not optimized away since b
	// is still "in use" after the loop.
	runtime.KeepAlive(b)
}
