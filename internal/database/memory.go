package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/forgo/docrepo/pkg/docrepo"
)

// Memory is an in-process document store. Documents are kept as JSON so
// that reads never alias the caller's values.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string][]byte)}
}

// Connect is a no-op.
func (m *Memory) Connect(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Collection returns the collection addressed by path.
func (m *Memory) Collection(path string) docrepo.Collection {
	return &memoryCollection{store: m, path: path}
}

// Count returns the number of documents in the collection at path.
func (m *Memory) Count(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[path])
}

// BeginTx starts a batch transaction.
func (m *Memory) BeginTx(ctx context.Context) (Tx, error) {
	return &MemoryTransaction{store: m}, nil
}

// RunTransaction runs fn in a batch transaction and commits it.
func (m *Memory) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docrepo.Transaction) error) error {
	return WithTransaction(ctx, func(ctx context.Context) (Tx, error) { return m.BeginTx(ctx) }, fn)
}

// state operations; callers hold m.mu.

func (m *Memory) set(collections map[string]map[string][]byte, path, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", ErrQuery, err)
	}
	docs := collections[path]
	if docs == nil {
		docs = make(map[string][]byte)
		collections[path] = docs
	}
	docs[id] = raw
	return nil
}

func (m *Memory) update(collections map[string]map[string][]byte, path, id string, data any) error {
	existing, ok := collections[path][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, path, id)
	}

	// Merge encoded fields so untouched values are stored byte for byte.
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(existing, &merged); err != nil {
		return fmt.Errorf("%w: decode stored document: %v", ErrQuery, err)
	}
	if merged == nil {
		merged = make(map[string]json.RawMessage)
	}

	patch, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", ErrQuery, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return fmt.Errorf("%w: document must encode to an object: %v", ErrQuery, err)
	}
	for k, v := range fields {
		merged[k] = v
	}
	return m.set(collections, path, id, merged)
}

func (m *Memory) remove(collections map[string]map[string][]byte, path, id string) {
	docs := collections[path]
	delete(docs, id)
	if len(docs) == 0 {
		delete(collections, path)
	}
}

func (m *Memory) get(path, id string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.collections[path][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, path, id)
	}
	return memorySnapshot(append([]byte(nil), raw...)), nil
}

type memorySnapshot []byte

func (s memorySnapshot) DataTo(v any) error {
	return decodeJSON(s, v)
}

type memoryCollection struct {
	store *Memory
	path  string
}

func (c *memoryCollection) Path() string { return c.path }

func (c *memoryCollection) Doc(id string) docrepo.Document {
	return &memoryDocument{store: c.store, path: c.path, id: id}
}

type memoryDocument struct {
	store *Memory
	path  string
	id    string
}

func (d *memoryDocument) ID() string   { return d.id }
func (d *memoryDocument) Path() string { return d.path }

func (d *memoryDocument) Set(ctx context.Context, data any) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	return d.store.set(d.store.collections, d.path, d.id, data)
}

func (d *memoryDocument) Update(ctx context.Context, data any) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	return d.store.update(d.store.collections, d.path, d.id, data)
}

// Delete removes the document. Deleting a missing document succeeds.
func (d *memoryDocument) Delete(ctx context.Context) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	d.store.remove(d.store.collections, d.path, d.id)
	return nil
}

func (d *memoryDocument) Get(ctx context.Context) (any, error) {
	return d.store.get(d.path, d.id)
}

type memoryOp func(collections map[string]map[string][]byte) error

// MemoryTransaction implements Tx for Memory. Queued writes are applied
// together on Commit; if one fails none of them is kept.
type MemoryTransaction struct {
	mu     sync.Mutex
	store  *Memory
	ops    []memoryOp
	closed bool
}

func (t *MemoryTransaction) add(doc docrepo.Document, op func(d *memoryDocument) memoryOp) error {
	d, ok := doc.(*memoryDocument)
	if !ok || d.store != t.store {
		return fmt.Errorf("%w: %T", ErrForeignDocument, doc)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	t.ops = append(t.ops, op(d))
	return nil
}

// Set queues a full overwrite. The value is encoded immediately so later
// changes by the caller do not leak into the commit.
func (t *MemoryTransaction) Set(doc docrepo.Document, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", ErrQuery, err)
	}
	return t.add(doc, func(d *memoryDocument) memoryOp {
		return func(c map[string]map[string][]byte) error {
			return t.store.set(c, d.path, d.id, json.RawMessage(raw))
		}
	})
}

// Update queues a merge into an existing document.
func (t *MemoryTransaction) Update(doc docrepo.Document, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode document: %v", ErrQuery, err)
	}
	return t.add(doc, func(d *memoryDocument) memoryOp {
		return func(c map[string]map[string][]byte) error {
			return t.store.update(c, d.path, d.id, json.RawMessage(raw))
		}
	})
}

// Delete queues removal of the document.
func (t *MemoryTransaction) Delete(doc docrepo.Document) error {
	return t.add(doc, func(d *memoryDocument) memoryOp {
		return func(c map[string]map[string][]byte) error {
			t.store.remove(c, d.path, d.id)
			return nil
		}
	})
}

// Get reads committed state; pending writes are not visible.
func (t *MemoryTransaction) Get(ctx context.Context, doc docrepo.Document) (any, error) {
	return doc.Get(ctx)
}

// Len returns the number of queued writes.
func (t *MemoryTransaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Commit applies all queued writes atomically.
func (t *MemoryTransaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	staged := make(map[string]map[string][]byte, len(t.store.collections))
	for path, docs := range t.store.collections {
		copied := make(map[string][]byte, len(docs))
		for id, raw := range docs {
			copied[id] = raw
		}
		staged[path] = copied
	}

	for _, op := range t.ops {
		if err := op(staged); err != nil {
			return fmt.Errorf("commit failed: %w", err)
		}
	}

	t.store.collections = staged
	return nil
}

// Rollback discards the queued writes.
func (t *MemoryTransaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = nil
	t.closed = true
	return nil
}
