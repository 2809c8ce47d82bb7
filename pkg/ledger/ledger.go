package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Ledger appends hash-chained entries to a single ledger.jsonl file,
// serializing writers so the chain stays totally ordered (§4.11
// "Trust Ledger appends are totally ordered per-ledger, one writer at a
// time").
type Ledger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *bufio.Writer
	lastHash string
}

// Open opens (creating if absent) the ledger file at path and replays it
// to recover the last hash in the chain, so appends after a restart keep
// linking correctly.
func Open(path string) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening ledger file %s: %w", path, err)
	}

	last, err := lastHashOf(path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if last == "" {
		last = GenesisHash
	}

	return &Ledger{path: path, file: f, writer: bufio.NewWriter(f), lastHash: last}, nil
}

func lastHashOf(path string) (string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading ledger file %s: %w", path, err)
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return "", fmt.Errorf("corrupt ledger entry in %s: %w", path, err)
		}
		last = e.Hash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scanning ledger file %s: %w", path, err)
	}
	return last, nil
}

// Append builds and writes the next entry in the chain, returning the
// fully populated Entry (ID, timestamp, hash, previous_hash filled in).
func (l *Ledger) Append(entryType EntryType, actor, action, resourceID string, data map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		ID:           newID(),
		EntryType:    entryType,
		Timestamp:    time.Now(),
		Actor:        actor,
		Action:       action,
		ResourceID:   resourceID,
		Data:         data,
		PreviousHash: l.lastHash,
	}

	hash, err := computeHash(e)
	if err != nil {
		return Entry{}, fmt.Errorf("hashing ledger entry: %w", err)
	}
	e.Hash = hash

	line, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("marshaling ledger entry: %w", err)
	}
	if _, err := l.writer.Write(line); err != nil {
		return Entry{}, fmt.Errorf("writing ledger entry: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return Entry{}, fmt.Errorf("writing ledger entry: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return Entry{}, fmt.Errorf("flushing ledger entry: %w", err)
	}

	l.lastHash = e.Hash
	return e, nil
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// ReadAll loads every entry from the ledger file in order, for
// VerifyChain and export tooling.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger file %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("corrupt ledger entry in %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning ledger file %s: %w", path, err)
	}
	return entries, nil
}

// VerifyChain walks entries and checks hash integrity and linkage,
// mirroring the teacher's own hash-chain verification shape.
func VerifyChain(entries []Entry) (valid bool, brokenAtIndex int) {
	prev := GenesisHash
	for i, e := range entries {
		expected, err := computeHash(Entry{
			ID: e.ID, EntryType: e.EntryType, Timestamp: e.Timestamp, Actor: e.Actor,
			Action: e.Action, ResourceID: e.ResourceID, Data: e.Data, PreviousHash: e.PreviousHash,
		})
		if err != nil || e.Hash != expected {
			return false, i
		}
		if e.PreviousHash != prev {
			return false, i
		}
		prev = e.Hash
	}
	return true, -1
}
