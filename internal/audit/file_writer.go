package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"
)

const (
	// GenesisHash is the HashPrev of the first record of a signing log.
	GenesisHash = "sha256:genesis"

	// HashPrefix is prepended to all hash values.
	HashPrefix = "sha256:"
)

// Tally summarizes the key and signature activity recorded in a log.
type Tally struct {
	Records   int
	KeyEvents int // KEY_* records
	Signs     int
	Verifies  int
	Rejected  int // verifications that completed and returned false
	Failures  int

	// SignsByKey counts successful signatures per key or container name.
	SignsByKey map[string]int
}

func (t *Tally) add(e *Event) {
	t.Records++
	if e.Result == ResultFailure {
		t.Failures++
	}
	switch e.EventType {
	case EventSign:
		t.Signs++
		if e.Result == ResultSuccess {
			if t.SignsByKey == nil {
				t.SignsByKey = make(map[string]int)
			}
			t.SignsByKey[keyLabel(e.Object)]++
		}
	case EventVerify:
		t.Verifies++
		if e.Result == ResultSuccess && !e.Context.Verified {
			t.Rejected++
		}
	case EventKeyAccessed, EventKeyImported, EventKeyGenerated, EventKeyTranslated:
		t.KeyEvents++
	}
}

func keyLabel(o Object) string {
	switch {
	case o.Name != "" && o.Provider != "":
		return o.Provider + "/" + o.Name
	case o.Name != "":
		return o.Name
	case o.Path != "":
		return o.Path
	case o.Provider != "":
		return o.Provider
	}
	return "-"
}

// FileWriter appends key access and signature records to a JSONL signing
// log. Each record is fsynced before Write returns.
type FileWriter struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	head  string // hash of the newest record
	tally Tally
}

var _ Writer = (*FileWriter)(nil)

// NewFileWriter opens the signing log at path for appending. An existing
// log must verify; its chain and tally are carried forward.
func NewFileWriter(path string) (*FileWriter, error) {
	w := &FileWriter{path: path, head: GenesisHash}

	if f, err := os.Open(path); err == nil {
		head, werr := walkChain(f, w.tally.add)
		_ = f.Close()
		if werr != nil {
			return nil, fmt.Errorf("refusing to extend signing log %s: %w", path, werr)
		}
		w.head = head
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read signing log: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	w.file = f
	return w, nil
}

// Write chains event to the newest record, appends and fsyncs it.
func (w *FileWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("signing log %s is closed", w.path)
	}

	hash, err := chain(event, w.head)
	if err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write %s record: %w", event.EventType, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	w.head = hash
	w.tally.add(event)
	return nil
}

// Close syncs and closes the log. Further writes fail.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LastHash returns the hash of the newest record.
func (w *FileWriter) LastHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.head
}

// Tally returns the activity recorded so far, including records found in
// the log when it was opened.
func (w *FileWriter) Tally() Tally {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := w.tally
	t.SignsByKey = maps.Clone(w.tally.SignsByKey)
	return t
}

// Path returns the log file path.
func (w *FileWriter) Path() string { return w.path }

// chain validates event, links it to prev and sets its hash.
func chain(event *Event, prev string) (string, error) {
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("invalid event: %w", err)
	}
	event.HashPrev = prev
	canonical, err := event.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("failed to serialize event: %w", err)
	}
	event.Hash = calculateHash(canonical, prev)
	return event.Hash, nil
}

// calculateHash computes SHA256(data || prevHash).
func calculateHash(data []byte, prevHash string) string {
	h := sha256.New()
	_, _ = h.Write(data)
	_, _ = h.Write([]byte(prevHash))
	return HashPrefix + hex.EncodeToString(h.Sum(nil))
}

// walkChain checks every record read from r against the chain and passes
// it to fn. It returns the hash of the last valid record.
func walkChain(r io.Reader, fn func(*Event)) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	prev := GenesisHash
	lineNum := 0

	for sc.Scan() {
		lineNum++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return prev, fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}
		if e.HashPrev != prev {
			return prev, fmt.Errorf("line %d: %s record breaks the chain: expected prev=%s, got prev=%s",
				lineNum, e.EventType, prev, e.HashPrev)
		}
		canonical, err := e.CanonicalJSON()
		if err != nil {
			return prev, fmt.Errorf("line %d: failed to serialize: %w", lineNum, err)
		}
		if want := calculateHash(canonical, e.HashPrev); e.Hash != want {
			return prev, fmt.Errorf("line %d: %s record hash mismatch: expected=%s, got=%s",
				lineNum, e.EventType, want, e.Hash)
		}

		fn(&e)
		prev = e.Hash
	}
	if err := sc.Err(); err != nil {
		return prev, fmt.Errorf("scan error: %w", err)
	}
	return prev, nil
}

// VerifyChain checks the hash chain of the signing log at path. The tally
// covers the records read before the first error.
func VerifyChain(path string) (Tally, error) {
	var t Tally
	f, err := os.Open(path)
	if err != nil {
		return t, fmt.Errorf("failed to read audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	_, err = walkChain(f, t.add)
	return t, err
}
