// Package database provides the document store adapters for docrepo.
//
// Every adapter implements docrepo.Client, so a docrepo.Repository can run
// against SurrealDB, Cloud Firestore, MongoDB or the in-memory store without
// knowing which one it talks to.
//
// # Transaction Support
//
// SurrealDB, MongoDB and the memory store use BATCH-BASED transactions:
// writes recorded through a Tx are held in memory until Commit() and then
// executed together. Reads issued through a batch Tx go straight to the
// database and do not see the pending writes. Rollback() discards the
// batch; there is nothing to undo.
//
// Firestore uses its native transactions through RunTransaction.
//
// # Error Handling
//
// Standard errors are defined for common failure cases:
//   - ErrNotFound: Document does not exist
//   - ErrConnection: Database connection issues
//   - ErrQuery: Query or command failures
//   - ErrTxClosed: Operation on a committed or rolled back transaction
//
// Use errors.Is() to check error types:
//
//	if errors.Is(err, database.ErrNotFound) {
//	    // Handle missing document
//	}
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forgo/docrepo/pkg/docrepo"
)

// Standard errors for database operations.
// Use errors.Is() to check these error types in calling code.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrConnection indicates a failure to connect to or communicate with the database.
	ErrConnection = errors.New("database connection error")

	// ErrQuery indicates a query or command failure.
	ErrQuery = errors.New("query error")

	// ErrTxClosed indicates use of a transaction after Commit or Rollback.
	ErrTxClosed = errors.New("transaction already closed")

	// ErrInvalidPath indicates a collection path or document id the store cannot address.
	ErrInvalidPath = errors.New("invalid document path")

	// ErrForeignDocument indicates a document handle created by a different store.
	ErrForeignDocument = errors.New("document belongs to another store")
)

// Store is a connected document database.
type Store interface {
	docrepo.Client

	// Connection management
	Connect(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error

	// RunTransaction calls fn with a transaction and commits it when fn
	// returns nil. Any error from fn discards the transaction.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docrepo.Transaction) error) error
}

// Tx is a batch transaction with explicit commit.
type Tx interface {
	docrepo.Transaction
	Commit() error
	Rollback() error
	Len() int
}

// Config holds database configuration
type Config struct {
	Host      string
	Port      string
	User      string
	Password  string
	Namespace string
	Database  string

	// URI is the MongoDB connection string.
	URI string

	// ProjectID and DatabaseID select the Firestore database.
	ProjectID  string
	DatabaseID string
}

// WithTransaction begins a batch transaction, calls fn and commits it.
// If fn returns an error, the transaction is rolled back.
func WithTransaction(ctx context.Context, begin func(ctx context.Context) (Tx, error), fn func(ctx context.Context, tx docrepo.Transaction) error) error {
	tx, err := begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// toFields converts an entity into a field map through its JSON form.
// Integers keep their exact value as int64; other numbers become float64.
func toFields(data any) (map[string]interface{}, error) {
	if m, ok := data.(map[string]interface{}); ok {
		return m, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode document: %v", ErrQuery, err)
	}

	var fields map[string]interface{}
	if err := decodeJSON(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: document must encode to an object: %v", ErrQuery, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: document must encode to an object", ErrQuery)
	}
	normalizeNumbers(fields)
	return fields, nil
}

// decodeJSON unmarshals raw into v without rounding numbers held in
// interface values; they arrive as json.Number.
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// normalizeNumbers replaces json.Number values in place with int64 when
// the number is an integer that fits, float64 otherwise.
func normalizeNumbers(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]interface{}:
		for k, e := range x {
			x[k] = normalizeNumbers(e)
		}
	case []interface{}:
		for i, e := range x {
			x[i] = normalizeNumbers(e)
		}
	}
	return v
}

// mapSnapshot is a read result holding a decoded field map.
type mapSnapshot map[string]interface{}

// DataTo decodes the fields into v through their JSON form.
func (s mapSnapshot) DataTo(v any) error {
	raw, err := json.Marshal(map[string]interface{}(s))
	if err != nil {
		return err
	}
	return decodeJSON(raw, v)
}
