package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Store. Documents are kept JSON-encoded so loads
// never alias caller state. It backs the "memory" driver and tests.
type Memory struct {
	mu     sync.Mutex
	docs   map[string][]byte
	audit  []AuditEntry
	closed bool
}

func NewMemory() *Memory { return &Memory{docs: map[string][]byte{}} }

func (m *Memory) LoadDoc(ctx context.Context, name string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	b, ok := m.docs[name]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return false, ErrClosed
	}
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *Memory) SaveDoc(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidDocName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs[name] = b
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

// Raw returns the stored JSON body of a document.
func (m *Memory) Raw(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.docs[name]
	return b, ok
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
