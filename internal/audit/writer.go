package audit

import "sync"

// Writer persists audit events.
//
// Implementations must validate the event, set HashPrev and Hash, make the
// record durable before returning, and return an error on any failure.
type Writer interface {
	Write(event *Event) error
	Close() error
	// LastHash returns the hash of the last written event, or GenesisHash.
	LastHash() string
}

// NopWriter discards all events. Used when auditing is disabled.
type NopWriter struct{}

var _ Writer = NopWriter{}

func (NopWriter) Write(*Event) error { return nil }
func (NopWriter) Close() error { return nil }
func (NopWriter) LastHash() string { return GenesisHash }

// MemoryWriter keeps a hash-chained event list in memory.
type MemoryWriter struct {
	mu       sync.Mutex
	events   []Event
	lastHash string
}

var _ Writer = (*MemoryWriter)(nil)

// NewMemoryWriter returns an empty in-memory writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{lastHash: GenesisHash}
}

// Write chains and stores a copy of event.
func (m *MemoryWriter) Write(event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash, err := chain(event, m.lastHash)
	if err != nil {
		return err
	}
	m.events = append(m.events, *event)
	m.lastHash = hash
	return nil
}

// Events returns a copy of the stored events.
func (m *MemoryWriter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Filter returns the stored events of the given type.
func (m *MemoryWriter) Filter(t EventType) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryWriter) Close() error { return nil }

func (m *MemoryWriter) LastHash() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHash
}

// MultiWriter writes to several writers. If any writer fails, the write fails.
type MultiWriter struct {
	writers []Writer
}

var _ Writer = (*MultiWriter)(nil)

// NewMultiWriter creates a writer that writes to all provided writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) Write(event *Event) error {
	for _, w := range m.writers {
		// Each writer chains independently.
		e := *event
		if err := w.Write(&e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiWriter) Close() error {
	var firstErr error
	for _, w := range m.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiWriter) LastHash() string {
	if len(m.writers) > 0 {
		return m.writers[0].LastHash()
	}
	return GenesisHash
}
