// Package vault orchestrates the push, pull, status, and keygen flows.
//
// The orchestrator ties the lower layers together: plaintext env files are
// parsed and merged, the key is discovered, the crypto engine seals or
// opens the envelope, and every completed operation lands in the audit
// ledger colocated with the vault file. Within a vault directory, writers
// are excluded both in-process and across processes via an advisory file
// lock.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/envault/envault/pkg/audit"
	"github.com/envault/envault/pkg/crypto"
	"github.com/envault/envault/pkg/envelope"
	"github.com/envault/envault/pkg/envfile"
	"github.com/envault/envault/pkg/keyring"
)

// Options configures an Orchestrator. Zero-valued fields take defaults:
// the vault file is named after the directory, the env files are ".env"
// and ".env.local", and logging is discarded.
type Options struct {
	// VaultFile overrides the envelope path. Relative paths are resolved
	// against the working directory passed to each operation.
	VaultFile string

	// EnvFile is the shared plaintext env file name.
	EnvFile string

	// LocalEnvFile is the local-only env file name. It overlays EnvFile on
	// push and usually carries the key.
	LocalEnvFile string

	// Actor is an optional identity recorded in envelope metadata and
	// audit entries.
	Actor string

	// KeyOverride, when set, is tried before any file or environment
	// source during key discovery.
	KeyOverride string

	// Logger receives structured operation logs.
	Logger zerolog.Logger
}

// Receipt summarizes a completed mutating operation.
type Receipt struct {
	Operation     string
	VaultPath     string
	PlaintextPath string
	Variables     int
	KeySource     string
	AuditSequence int64
}

// Status describes a vault directory without requiring a key.
type Status struct {
	VaultPath     string
	EnvelopeFound bool
	Metadata      *envelope.Metadata
	KeySource     string
	RecentEntries []audit.Entry
}

// Orchestrator runs vault operations against a directory.
type Orchestrator struct {
	engine  *crypto.Engine
	opts    Options
	log     zerolog.Logger
	locks   *pathLocks
	ledgers *ledgerCache
}

// ledgerCache hands out one Ledger per path, so the ledger's append mutex
// serializes concurrent operations against the same log file.
type ledgerCache struct {
	mu sync.Mutex
	m  map[string]*audit.Ledger
}

func (c *ledgerCache) get(path string) *audit.Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.m[path]
	if !ok {
		l = audit.NewLedger(path)
		c.m[path] = l
	}
	return l
}

// New returns an Orchestrator driving the given engine. Missing option
// fields are filled with defaults.
func New(engine *crypto.Engine, opts Options) *Orchestrator {
	if opts.EnvFile == "" {
		opts.EnvFile = ".env"
	}
	if opts.LocalEnvFile == "" {
		opts.LocalEnvFile = ".env.local"
	}
	return &Orchestrator{
		engine:  engine,
		opts:    opts,
		log:     opts.Logger,
		locks:   newPathLocks(),
		ledgers: &ledgerCache{m: make(map[string]*audit.Ledger)},
	}
}

// WithKey returns a copy of the orchestrator whose key discovery tries key
// first. The copy shares the engine, lock registry, and ledger cache with
// the original.
func (o *Orchestrator) WithKey(key string) *Orchestrator {
	clone := *o
	clone.opts.KeyOverride = key
	return &clone
}

// Push encrypts the merged plaintext env files into the vault envelope and
// records the operation. Re-pushing over an existing envelope preserves
// its creation identity. An envelope that fails to deserialize does not
// block the push; it is replaced.
func (o *Orchestrator) Push(ctx context.Context, dir string) (*Receipt, error) {
	vaultPath, err := o.vaultPath(dir)
	if err != nil {
		return nil, err
	}
	unlock, err := o.acquire(vaultPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	key, source, err := keyring.Discover(o.sources(dir))
	if err != nil {
		return nil, err
	}

	vars, err := o.readPlaintext(dir)
	if err != nil {
		return nil, err
	}
	vars.Delete(keyring.KeyVariable)
	if vars.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToProtect, filepath.Join(dir, o.opts.EnvFile))
	}

	// Carry forward the existing envelope's identity when re-encrypting.
	var existing *envelope.Metadata
	if data, err := os.ReadFile(vaultPath); err == nil {
		if env, err := envelope.Deserialize(data); err == nil {
			existing = &env.Metadata
		}
	}

	env, err := o.engine.Encrypt(ctx, []byte(vars.String()), key.String(), crypto.EncryptInfo{
		Variables: vars.Len(),
		CreatedBy: o.opts.Actor,
		Existing:  existing,
	})
	if err != nil {
		return nil, err
	}

	data, err := envelope.Serialize(env)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(vaultPath, data, 0o600); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("vault", vaultPath).
		Str("key_source", source).
		Int("variables", vars.Len()).
		Msg("envelope written")

	entry, err := o.record(vaultPath, audit.OpPush, digest(data))
	if err != nil {
		return nil, err
	}

	return &Receipt{
		Operation:     audit.OpPush,
		VaultPath:     vaultPath,
		PlaintextPath: filepath.Join(dir, o.opts.EnvFile),
		Variables:     vars.Len(),
		KeySource:     source,
		AuditSequence: entry.Sequence,
	}, nil
}

// Pull decrypts the vault envelope into the shared env file and records
// the operation. A key-carrier variable already present in the destination
// file survives the pull; the key is never inside the envelope, so it
// would otherwise be lost on overwrite.
func (o *Orchestrator) Pull(ctx context.Context, dir string) (*Receipt, error) {
	vaultPath, err := o.vaultPath(dir)
	if err != nil {
		return nil, err
	}
	unlock, err := o.acquire(vaultPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(vaultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, vaultPath)
		}
		return nil, fmt.Errorf("vault: failed to read envelope: %w", err)
	}
	env, err := envelope.Deserialize(data)
	if err != nil {
		return nil, err
	}

	key, source, err := keyring.Discover(o.sources(dir))
	if err != nil {
		return nil, err
	}

	plaintext, err := o.engine.Decrypt(ctx, env, key.String())
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(plaintext)

	vars := envfile.Parse(string(plaintext))

	envPath := filepath.Join(dir, o.opts.EnvFile)
	if prior, err := os.ReadFile(envPath); err == nil {
		if carrier, ok := envfile.Parse(string(prior)).Get(keyring.KeyVariable); ok {
			overlay := envfile.New()
			overlay.Set(keyring.KeyVariable, carrier)
			vars = envfile.Merge(vars, overlay)
		}
	}

	if err := writeFileAtomic(envPath, []byte(vars.String()), 0o600); err != nil {
		return nil, err
	}

	o.log.Info().
		Str("vault", vaultPath).
		Str("key_source", source).
		Int("variables", env.Metadata.Variables).
		Msg("envelope restored")

	entry, err := o.record(vaultPath, audit.OpPull, digest(data))
	if err != nil {
		return nil, err
	}

	return &Receipt{
		Operation:     audit.OpPull,
		VaultPath:     vaultPath,
		PlaintextPath: envPath,
		Variables:     env.Metadata.Variables,
		KeySource:     source,
		AuditSequence: entry.Sequence,
	}, nil
}

// Inspect reports the envelope state of a directory without a key. The
// inspection itself is recorded in the ledger when an envelope exists.
func (o *Orchestrator) Inspect(dir string) (*Status, error) {
	vaultPath, err := o.vaultPath(dir)
	if err != nil {
		return nil, err
	}

	status := &Status{VaultPath: vaultPath}

	if _, keySource, err := keyring.Discover(o.sources(dir)); err == nil {
		status.KeySource = keySource
	}

	data, err := os.ReadFile(vaultPath)
	if err != nil {
		if os.IsNotExist(err) {
			return status, nil
		}
		return nil, fmt.Errorf("vault: failed to read envelope: %w", err)
	}
	status.EnvelopeFound = true

	env, err := envelope.Deserialize(data)
	if err != nil {
		return nil, err
	}
	status.Metadata = &env.Metadata

	if _, err := o.record(vaultPath, audit.OpStatus, digest(data)); err != nil {
		return nil, err
	}
	recent, err := o.ledger(vaultPath).Recent(5)
	if err != nil {
		return nil, err
	}
	status.RecentEntries = recent
	return status, nil
}

// Keygen generates a fresh key and installs it as the key-carrier variable
// in the local env file, preserving any other variables there.
func (o *Orchestrator) Keygen(dir string) (keyring.Key, *Receipt, error) {
	vaultPath, err := o.vaultPath(dir)
	if err != nil {
		return "", nil, err
	}
	unlock, err := o.acquire(vaultPath)
	if err != nil {
		return "", nil, err
	}
	defer unlock()

	key, err := keyring.Generate()
	if err != nil {
		return "", nil, err
	}

	localPath := filepath.Join(dir, o.opts.LocalEnvFile)
	local := envfile.New()
	if data, err := os.ReadFile(localPath); err == nil {
		local = envfile.Parse(string(data))
	}
	local.Set(keyring.KeyVariable, key.String())
	if err := writeFileAtomic(localPath, []byte(local.String()), 0o600); err != nil {
		return "", nil, err
	}

	o.log.Info().Str("file", localPath).Msg("key installed")

	// The ledger must never learn anything about the key, so the keygen
	// digest is fixed.
	entry, err := o.record(vaultPath, audit.OpKeygen, digest(nil))
	if err != nil {
		return "", nil, err
	}

	return key, &Receipt{
		Operation:     audit.OpKeygen,
		VaultPath:     vaultPath,
		PlaintextPath: localPath,
		KeySource:     localPath,
		AuditSequence: entry.Sequence,
	}, nil
}

// Ledger returns the audit ledger colocated with the directory's vault
// file, for callers that list, verify, or rotate it directly.
func (o *Orchestrator) Ledger(dir string) (*audit.Ledger, error) {
	vaultPath, err := o.vaultPath(dir)
	if err != nil {
		return nil, err
	}
	return o.ledger(vaultPath), nil
}

// vaultPath resolves the envelope path for dir: the override when set,
// otherwise "<base>.vault" inside dir, where base is the directory name.
func (o *Orchestrator) vaultPath(dir string) (string, error) {
	if o.opts.VaultFile != "" {
		if filepath.IsAbs(o.opts.VaultFile) {
			return o.opts.VaultFile, nil
		}
		return filepath.Join(dir, o.opts.VaultFile), nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("vault: failed to resolve directory: %w", err)
	}
	return filepath.Join(dir, filepath.Base(abs)+".vault"), nil
}

func (o *Orchestrator) sources(dir string) keyring.Sources {
	return keyring.Sources{
		Override:   o.opts.KeyOverride,
		LocalFile:  filepath.Join(dir, o.opts.LocalEnvFile),
		SharedFile: filepath.Join(dir, o.opts.EnvFile),
		EnvVar:     keyring.KeyVariable,
	}
}

func (o *Orchestrator) ledger(vaultPath string) *audit.Ledger {
	return o.ledgers.get(vaultPath + ".audit")
}

// acquire takes the in-process mutex for vaultPath, then the advisory file
// lock next to it. The returned function releases both.
func (o *Orchestrator) acquire(vaultPath string) (func(), error) {
	release := o.locks.lock(vaultPath)
	releaseFile, err := acquireFileLock(vaultPath + ".lock")
	if err != nil {
		release()
		return nil, err
	}
	return func() {
		releaseFile()
		release()
	}, nil
}

// readPlaintext merges the shared and local env files, local values
// winning. A missing shared file is an error; a missing local file is not.
func (o *Orchestrator) readPlaintext(dir string) (*envfile.Map, error) {
	sharedPath := filepath.Join(dir, o.opts.EnvFile)
	shared, err := os.ReadFile(sharedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, sharedPath)
		}
		return nil, fmt.Errorf("vault: failed to read env file: %w", err)
	}
	vars := envfile.Parse(string(shared))

	if local, err := os.ReadFile(filepath.Join(dir, o.opts.LocalEnvFile)); err == nil {
		vars = envfile.Merge(vars, envfile.Parse(string(local)))
	}
	return vars, nil
}

// record appends an audit entry after the envelope write has already
// landed. A failed append does not roll the envelope back; the two files
// are independent failure domains, so the error is surfaced distinctly.
func (o *Orchestrator) record(vaultPath, op, payloadDigest string) (*audit.Entry, error) {
	entry, err := o.ledger(vaultPath).Append(op, o.opts.Actor, payloadDigest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditAppend, err)
	}
	return entry, nil
}

// digest is the hex SHA-256 of the envelope bytes an operation acted on.
func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes data to a same-directory temporary file, syncs
// it, and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("vault: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, perm)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("vault: failed to write %s: %w", path, err)
	}
	return nil
}
