package docrepo

import "context"

// Entity is a record stored as one document. The id selects the document
// inside its collection.
type Entity interface {
	GetID() string
}

// Client is a handle to a document database.
type Client interface {
	Collection(path string) Collection
}

// Collection addresses one collection of a document database.
type Collection interface {
	Path() string
	Doc(id string) Document
}

// Document addresses one document and performs direct operations on it.
type Document interface {
	ID() string
	Path() string

	// Set overwrites the whole document.
	Set(ctx context.Context, data any) error

	// Update merges the given fields into an existing document.
	Update(ctx context.Context, data any) error

	// Delete removes the document.
	Delete(ctx context.Context) error

	// Get reads the document. The returned value is either a Snapshot or
	// the raw record (a map, a struct value, or JSON bytes).
	Get(ctx context.Context) (any, error)
}

// Snapshot is a read result that needs an explicit decoding step.
type Snapshot interface {
	DataTo(v any) error
}

// Transaction records operations for an atomic commit owned by the caller.
// Writes are queued and must not wait on the database; Get may read.
type Transaction interface {
	Set(doc Document, data any) error
	Update(doc Document, data any) error
	Delete(doc Document) error
	Get(ctx context.Context, doc Document) (any, error)
}

// Writer is the strategy a repository uses to talk to the database: either
// directly through the documents or through an attached transaction.
type Writer interface {
	// Queues reports whether writes are only recorded, not executed.
	Queues() bool

	Set(ctx context.Context, doc Document, data any) error
	Update(ctx context.Context, doc Document, data any) error
	Delete(ctx context.Context, doc Document) error
	Get(ctx context.Context, doc Document) (any, error)
}

// Direct returns the Writer that executes operations on the documents.
func Direct() Writer { return directWriter{} }

// Queued returns the Writer that records operations in tx.
func Queued(tx Transaction) Writer { return txWriter{tx: tx} }

type directWriter struct{}

func (directWriter) Queues() bool { return false }

func (directWriter) Set(ctx context.Context, doc Document, data any) error {
	return doc.Set(ctx, data)
}

func (directWriter) Update(ctx context.Context, doc Document, data any) error {
	return doc.Update(ctx, data)
}

func (directWriter) Delete(ctx context.Context, doc Document) error {
	return doc.Delete(ctx)
}

func (directWriter) Get(ctx context.Context, doc Document) (any, error) {
	return doc.Get(ctx)
}

type txWriter struct {
	tx Transaction
}

func (txWriter) Queues() bool { return true }

func (w txWriter) Set(_ context.Context, doc Document, data any) error {
	return w.tx.Set(doc, data)
}

func (w txWriter) Update(_ context.Context, doc Document, data any) error {
	return w.tx.Update(doc, data)
}

func (w txWriter) Delete(_ context.Context, doc Document) error {
	return w.tx.Delete(doc)
}

func (w txWriter) Get(ctx context.Context, doc Document) (any, error) {
	return w.tx.Get(ctx, doc)
}
