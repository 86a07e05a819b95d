package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/forgo/docrepo/pkg/docrepo"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// Statements addressing one record. A collection path is used verbatim as
// the table name.
const (
	surrealUpsert = `UPSERT type::thing($tb, $id) CONTENT $data`
	surrealMerge  = `UPDATE type::thing($tb, $id) MERGE $data RETURN AFTER`
	surrealDelete = `DELETE type::thing($tb, $id)`
	surrealSelect = `SELECT * FROM type::thing($tb, $id)`

	// surrealMissing is thrown by a queued merge whose record does not exist,
	// so the batch fails instead of merging into nothing.
	surrealMissing      = "docrepo: record not found"
	surrealGuardedMerge = `IF !record::exists(type::thing($tb, $id)) { THROW "` + surrealMissing + `" };
` + surrealMerge
)

// SurrealDB implements Store for SurrealDB
type SurrealDB struct {
	db     *surrealdb.DB
	config Config
}

// NewSurrealDB creates a new SurrealDB instance
func NewSurrealDB(cfg Config) *SurrealDB {
	return &SurrealDB{
		config: cfg,
	}
}

// Connect establishes a connection to SurrealDB
func (s *SurrealDB) Connect(ctx context.Context) error {
	endpoint := fmt.Sprintf("ws://%s:%s", s.config.Host, s.config.Port)

	db, err := surrealdb.FromEndpointURLString(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	// Sign in as root user
	_, err = db.SignIn(ctx, &surrealdb.Auth{
		Username: s.config.User,
		Password: s.config.Password,
	})
	if err != nil {
		_ = db.Close(ctx)
		return fmt.Errorf("%w: signin failed: %v", ErrConnection, err)
	}

	// Use namespace and database
	if err := db.Use(ctx, s.config.Namespace, s.config.Database); err != nil {
		_ = db.Close(ctx)
		return fmt.Errorf("%w: use failed: %v", ErrConnection, err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SurrealDB) Close() error {
	if s.db != nil {
		return s.db.Close(context.Background())
	}
	return nil
}

// Ping checks the database connection
func (s *SurrealDB) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrConnection
	}
	// Execute a simple query to verify connection
	_, err := s.db.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Query executes a query and returns results
func (s *SurrealDB) Query(ctx context.Context, query string, vars map[string]interface{}) ([]interface{}, error) {
	if s.db == nil {
		return nil, ErrConnection
	}

	results, err := surrealdb.Query[interface{}](ctx, s.db, query, vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	// Convert QueryResult to []interface{}
	if results == nil {
		return nil, nil
	}

	output := make([]interface{}, 0, len(*results))
	var failures []string
	for _, r := range *results {
		if r.Status != "OK" {
			if r.Error != nil {
				failures = append(failures, r.Error.Message)
			} else {
				failures = append(failures, r.Status)
			}
			continue
		}
		output = append(output, map[string]interface{}{
			"status": r.Status,
			"result": r.Result,
		})
	}

	// Inside a transaction every statement fails once one does; keep all
	// messages so the one that caused it is not lost.
	if len(failures) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrQuery, strings.Join(failures, "; "))
	}
	return output, nil
}

// QueryOne executes a query and returns a single result
func (s *SurrealDB) QueryOne(ctx context.Context, query string, vars map[string]interface{}) (interface{}, error) {
	results, err := s.Query(ctx, query, vars)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, ErrNotFound
	}

	// Unwrap the response wrapper {status: "OK", result: [...]}
	first := results[0]
	if resp, ok := first.(map[string]interface{}); ok {
		if status, ok := resp["status"].(string); ok && status == "OK" {
			if resultData, ok := resp["result"].([]interface{}); ok {
				if len(resultData) == 0 {
					return nil, ErrNotFound
				}
				// Return the first record from the result array
				return resultData[0], nil
			}
			if resp["result"] == nil {
				return nil, ErrNotFound
			}
			// Result is not an array, return as-is (e.g., scalar values)
			return resp["result"], nil
		}
	}

	return first, nil
}

// Execute runs a query without returning results
func (s *SurrealDB) Execute(ctx context.Context, query string, vars map[string]interface{}) error {
	_, err := s.Query(ctx, query, vars)
	return err
}

// Collection returns the table addressed by path.
func (s *SurrealDB) Collection(path string) docrepo.Collection {
	return &surrealCollection{db: s, table: path}
}

// BeginTx starts a new batch transaction
func (s *SurrealDB) BeginTx(ctx context.Context) (Tx, error) {
	if s.db == nil {
		return nil, ErrConnection
	}

	// SurrealDB transactions are handled via BEGIN TRANSACTION / COMMIT.
	// Statements are collected here and sent in one request on Commit.
	return &SurrealTransaction{
		db:    s,
		ctx:   ctx,
		batch: NewAtomicBatch(),
	}, nil
}

// RunTransaction runs fn in a batch transaction and commits it.
func (s *SurrealDB) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docrepo.Transaction) error) error {
	return WithTransaction(ctx, func(ctx context.Context) (Tx, error) { return s.BeginTx(ctx) }, fn)
}

type surrealCollection struct {
	db    *SurrealDB
	table string
}

func (c *surrealCollection) Path() string { return c.table }

func (c *surrealCollection) Doc(id string) docrepo.Document {
	return &surrealDocument{db: c.db, table: c.table, id: id}
}

type surrealDocument struct {
	db    *SurrealDB
	table string
	id    string
}

func (d *surrealDocument) ID() string   { return d.id }
func (d *surrealDocument) Path() string { return d.table }

func (d *surrealDocument) vars(data any) (map[string]interface{}, error) {
	vars := map[string]interface{}{"tb": d.table, "id": d.id}
	if data == nil {
		return vars, nil
	}

	fields, err := toFields(data)
	if err != nil {
		return nil, err
	}
	// The record id is the key; a content id would conflict with it.
	content := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k != "id" {
			content[k] = v
		}
	}
	vars["data"] = content
	return vars, nil
}

// Set replaces the record content, creating the record if needed.
func (d *surrealDocument) Set(ctx context.Context, data any) error {
	vars, err := d.vars(data)
	if err != nil {
		return err
	}
	return d.db.Execute(ctx, surrealUpsert, vars)
}

// Update merges fields into an existing record.
func (d *surrealDocument) Update(ctx context.Context, data any) error {
	vars, err := d.vars(data)
	if err != nil {
		return err
	}
	if _, err := d.db.QueryOne(ctx, surrealMerge, vars); err != nil {
		return fmt.Errorf("update %s:%s: %w", d.table, d.id, err)
	}
	return nil
}

// Delete removes the record. Deleting a missing record succeeds.
func (d *surrealDocument) Delete(ctx context.Context) error {
	vars, _ := d.vars(nil)
	return d.db.Execute(ctx, surrealDelete, vars)
}

// Get reads the record and returns it as a plain field map with the
// document id under "id".
func (d *surrealDocument) Get(ctx context.Context) (any, error) {
	vars, _ := d.vars(nil)
	result, err := d.db.QueryOne(ctx, surrealSelect, vars)
	if err != nil {
		return nil, fmt.Errorf("get %s:%s: %w", d.table, d.id, err)
	}

	record, ok := result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: unexpected record type %T", ErrQuery, result)
	}
	record["id"] = recordKey(record["id"], d.id)
	return record, nil
}

// recordKey extracts the key part of a SurrealDB record id.
func recordKey(id interface{}, fallback string) string {
	switch v := id.(type) {
	case models.RecordID:
		if s, ok := v.ID.(string); ok {
			return s
		}
	case *models.RecordID:
		if v != nil {
			if s, ok := v.ID.(string); ok {
				return s
			}
		}
	}
	return fallback
}

// SurrealTransaction implements Tx for SurrealDB
type SurrealTransaction struct {
	mu     sync.Mutex
	db     *SurrealDB
	ctx    context.Context
	batch  *AtomicBatch
	closed bool
}

func (t *SurrealTransaction) add(doc docrepo.Document, query string, data any) error {
	d, ok := doc.(*surrealDocument)
	if !ok {
		return fmt.Errorf("%w: %T", ErrForeignDocument, doc)
	}
	vars, err := d.vars(data)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	t.batch.Add(query, vars)
	return nil
}

// Set queues an upsert of the document.
func (t *SurrealTransaction) Set(doc docrepo.Document, data any) error {
	return t.add(doc, surrealUpsert, data)
}

// Update queues a merge into the document. The commit fails with
// ErrNotFound when the record does not exist.
func (t *SurrealTransaction) Update(doc docrepo.Document, data any) error {
	return t.add(doc, surrealGuardedMerge, data)
}

// Delete queues removal of the document.
func (t *SurrealTransaction) Delete(doc docrepo.Document) error {
	return t.add(doc, surrealDelete, nil)
}

// Get reads the document directly; pending writes are not visible.
func (t *SurrealTransaction) Get(ctx context.Context, doc docrepo.Document) (any, error) {
	return doc.Get(ctx)
}

// Len returns the number of queued statements.
func (t *SurrealTransaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.batch.Len()
}

// Commit runs the queued statements in one transaction.
func (t *SurrealTransaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true

	return commitError(t.batch.Execute(t.ctx, t.db))
}

// commitError classifies a failed batch. A guarded merge on a missing
// record surfaces as ErrNotFound.
func commitError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), surrealMissing) {
		return fmt.Errorf("%w: commit failed: %v", ErrNotFound, err)
	}
	if errors.Is(err, ErrQuery) || errors.Is(err, ErrConnection) {
		return fmt.Errorf("commit failed: %w", err)
	}
	return fmt.Errorf("%w: commit failed: %v", ErrQuery, err)
}

func (t *SurrealTransaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Clear pending statements
	t.batch = NewAtomicBatch()
	t.closed = true
	return nil
}
