package journal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one tamper-evident record in the run journal. Entries are
// hash-chained: each hash covers the entry's canonical fields plus the
// previous entry's hash.
type Entry struct {
	Index     int               `json:"index"`
	Timestamp string            `json:"timestamp"`
	RunID     string            `json:"run_id"`
	Kind      string            `json:"kind"`
	Fields    map[string]string `json:"fields,omitempty"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
}

// Entry kinds appended by the engine and server.
const (
	KindRunStarted    = "run-started"
	KindStageFinished = "stage-finished"
	KindGateDecided   = "gate-decided"
	KindMergeFired    = "merge-fired"
	KindRunFinished   = "run-finished"
)

// canonicalData returns the JSON bytes hashed for the entry. It excludes
// the Hash field itself.
func (e *Entry) canonicalData() ([]byte, error) {
	view := struct {
		Index     int               `json:"index"`
		Timestamp string            `json:"timestamp"`
		RunID     string            `json:"run_id"`
		Kind      string            `json:"kind"`
		Fields    map[string]string `json:"fields,omitempty"`
		PrevHash  string            `json:"prev_hash"`
	}{
		Index:     e.Index,
		Timestamp: e.Timestamp,
		RunID:     e.RunID,
		Kind:      e.Kind,
		Fields:    e.Fields,
		PrevHash:  e.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA-256 over the entry's canonical data.
func (e *Entry) ComputeHash() (string, error) {
	data, err := e.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Journal is an append-only JSONL file of run records.
type Journal struct {
	mu      sync.Mutex
	path    string
	entries []Entry
	now     func() time.Time
}

// Open loads an existing journal file or creates an empty one.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path, now: time.Now}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, fmt.Errorf("read journal %q: %w", path, err)
	}
	if len(data) == 0 {
		return j, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var entry Entry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		j.entries = append(j.entries, entry)
	}
	return j, nil
}

// SetClock injects a deterministic clock, primarily for tests.
func (j *Journal) SetClock(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// Append records one event at the end of the chain and persists it.
func (j *Journal) Append(kind, runID string, fields map[string]string) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := Entry{
		Index:     len(j.entries),
		Timestamp: j.now().UTC().Format(time.RFC3339),
		RunID:     runID,
		Kind:      kind,
		Fields:    fields,
	}
	if len(j.entries) > 0 {
		entry.PrevHash = j.entries[len(j.entries)-1].Hash
	}

	hash, err := entry.ComputeHash()
	if err != nil {
		return Entry{}, fmt.Errorf("compute entry hash: %w", err)
	}
	entry.Hash = hash

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return Entry{}, fmt.Errorf("open journal %q: %w", j.path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(entry); err != nil {
		return Entry{}, fmt.Errorf("write journal entry: %w", err)
	}

	j.entries = append(j.entries, entry)
	return entry, nil
}

// Entries returns a copy of the in-memory chain.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry{}, j.entries...)
}

// Verify recomputes every hash and link in the chain to detect tampering.
func (j *Journal) Verify() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev := ""
	for i := range j.entries {
		entry := j.entries[i]
		hash, err := entry.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for entry %d: %w", entry.Index, err)
		}
		if hash != entry.Hash {
			return fmt.Errorf("entry %d hash mismatch", entry.Index)
		}
		if entry.PrevHash != prev {
			return fmt.Errorf("entry %d chain break: prev_hash %q does not match %q", entry.Index, entry.PrevHash, prev)
		}
		prev = entry.Hash
	}
	return nil
}
