// Package audit maintains a hash-chained, append-only ledger of vault
// operations.
//
// Each entry's hash covers the previous entry's hash, so a retroactive
// edit anywhere in the ledger breaks every later link. The chain needs no
// key to verify: anyone holding the ledger file can recompute it. Entry
// digests cover envelope state, never plaintext.
//
// The ledger is a JSON Lines file colocated with the vault file it
// describes. Every write goes through a write-temp-then-rename replace so
// a crash mid-write cannot leave a half-written chain.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Genesis is the fixed previous-hash value anchoring a fresh chain.
const Genesis = "genesis"

// Operation names recorded in the ledger.
const (
	OpPush   = "push"
	OpPull   = "pull"
	OpStatus = "status"
	OpKeygen = "keygen"
	OpRotate = "rotate"
)

// Entry is a single ledger record. Hash covers PrevHash, Sequence,
// Operation, Timestamp, and PayloadDigest, in that order.
type Entry struct {
	Sequence      int64  `json:"seq"`
	Timestamp     string `json:"ts"` // RFC 3339, nanosecond precision, UTC
	Operation     string `json:"op"`
	Actor         string `json:"actor,omitempty"`
	PayloadDigest string `json:"payload_digest"`
	PrevHash      string `json:"prev"`
	Hash          string `json:"hash"`
}

// TamperError localizes the first broken link found during verification.
type TamperError struct {
	Sequence int64
}

func (e *TamperError) Error() string {
	return fmt.Sprintf("audit: chain broken at sequence %d", e.Sequence)
}

// Ledger is a hash-chained audit log backed by a single file. Appends are
// serialized per Ledger and atomic on disk.
type Ledger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewLedger returns a Ledger stored at path. The file is created on the
// first append.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Entries reads the full chain. A missing ledger file yields an empty
// chain, not an error.
func (l *Ledger) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// Recent returns the last n entries in chain order.
func (l *Ledger) Recent(n int) ([]Entry, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Append records a completed operation, chaining its hash from the last
// entry (or Genesis for an empty ledger). The whole chain is rewritten to
// a temporary file and renamed into place.
func (l *Ledger) Append(op, actor, payloadDigest string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return nil, err
	}

	prev := Genesis
	var seq int64 = 1
	if n := len(entries); n > 0 {
		prev = entries[n-1].Hash
		seq = entries[n-1].Sequence + 1
	}

	entry := Entry{
		Sequence:      seq,
		Timestamp:     l.now().UTC().Format(time.RFC3339Nano),
		Operation:     op,
		Actor:         actor,
		PayloadDigest: payloadDigest,
		PrevHash:      prev,
	}
	entry.Hash = entryHash(&entry)

	if err := l.store(l.path, append(entries, entry), 0o600); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Verify recomputes every hash in the ledger and checks sequence and
// linkage. The first mismatch is reported as a *TamperError carrying the
// offending sequence number.
func (l *Ledger) Verify() error {
	entries, err := l.Entries()
	if err != nil {
		return err
	}
	return Verify(entries)
}

// Verify checks an in-memory chain. See Ledger.Verify.
func Verify(entries []Entry) error {
	for i := range entries {
		e := &entries[i]
		if i == 0 {
			if e.Sequence != 1 {
				return &TamperError{Sequence: e.Sequence}
			}
		} else {
			if e.Sequence != entries[i-1].Sequence+1 || e.PrevHash != entries[i-1].Hash {
				return &TamperError{Sequence: e.Sequence}
			}
		}
		if entryHash(e) != e.Hash {
			return &TamperError{Sequence: e.Sequence}
		}
	}
	return nil
}

// Rotate archives entries older than cutoff into a separate immutable
// file and restarts the chain. The new chain opens with a "rotate" entry
// whose previous hash is the hash of the last archived entry and whose
// payload digest covers the archive file's bytes, preserving end-to-end
// verifiability across the rotation. Surviving entries are re-chained
// behind it. Returns the archive path and the number of archived entries;
// a cutoff that archives nothing is a no-op.
func (l *Ledger) Rotate(cutoff time.Time, actor string) (string, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return "", 0, err
	}

	split := 0
	for split < len(entries) {
		ts, err := time.Parse(time.RFC3339Nano, entries[split].Timestamp)
		if err != nil {
			return "", 0, fmt.Errorf("audit: bad timestamp at sequence %d: %w", entries[split].Sequence, err)
		}
		if !ts.Before(cutoff) {
			break
		}
		split++
	}
	if split == 0 {
		return "", 0, nil
	}

	archived := entries[:split]
	anchor := archived[len(archived)-1].Hash

	archiveData, err := marshalChain(archived)
	if err != nil {
		return "", 0, err
	}
	archiveDigest := sha256.Sum256(archiveData)

	rotation := Entry{
		Sequence:      1,
		Timestamp:     l.now().UTC().Format(time.RFC3339Nano),
		Operation:     OpRotate,
		Actor:         actor,
		PayloadDigest: hex.EncodeToString(archiveDigest[:]),
		PrevHash:      anchor,
	}
	rotation.Hash = entryHash(&rotation)

	// Re-chain the surviving entries behind the rotation entry.
	remaining := append(make([]Entry, 0, len(entries)-split+1), rotation)
	prev := rotation.Hash
	for i, e := range entries[split:] {
		e.Sequence = int64(i + 2)
		e.PrevHash = prev
		e.Hash = entryHash(&e)
		prev = e.Hash
		remaining = append(remaining, e)
	}

	archivePath := fmt.Sprintf("%s.archive-%s", l.path, l.now().UTC().Format("20060102T150405Z"))
	if err := l.storeBytes(archivePath, archiveData, 0o400); err != nil {
		return "", 0, err
	}
	if err := l.store(l.path, remaining, 0o600); err != nil {
		return "", 0, err
	}
	return archivePath, len(archived), nil
}

func (l *Ledger) load() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: failed to read ledger: %w", err)
	}

	var entries []Entry
	start := 0
	for i := 0; i <= len(data); i++ {
		if i != len(data) && data[i] != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("audit: failed to parse ledger line: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func marshalChain(entries []Entry) ([]byte, error) {
	var buf []byte
	for i := range entries {
		data, err := json.Marshal(&entries[i])
		if err != nil {
			return nil, fmt.Errorf("audit: failed to marshal entry: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	return buf, nil
}

// store writes the chain to a temporary file in the target directory and
// renames it into place.
func (l *Ledger) store(path string, entries []Entry, perm os.FileMode) error {
	data, err := marshalChain(entries)
	if err != nil {
		return err
	}
	return l.storeBytes(path, data, perm)
}

func (l *Ledger) storeBytes(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("audit: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("audit: failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("audit: failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("audit: failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("audit: failed to set ledger mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("audit: failed to replace ledger: %w", err)
	}
	return nil
}

// entryHash computes the chain hash: SHA-256 over prev, seq, op, ts, and
// payload digest, field-separated.
func entryHash(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s", e.PrevHash, e.Sequence, e.Operation, e.Timestamp, e.PayloadDigest)
	return hex.EncodeToString(h.Sum(nil))
}
