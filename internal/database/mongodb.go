package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/forgo/docrepo/pkg/docrepo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB implements Store for MongoDB. A collection path is used as the
// collection name and the document id as _id.
type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
	config Config
}

// NewMongoDB creates a new MongoDB instance
func NewMongoDB(cfg Config) *MongoDB {
	return &MongoDB{config: cfg}
}

// Connect establishes a connection to MongoDB
func (m *MongoDB) Connect(ctx context.Context) error {
	if m.config.URI == "" {
		return fmt.Errorf("%w: URI cannot be empty", ErrConnection)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.config.URI))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("%w: ping failed: %v", ErrConnection, err)
	}

	m.client = client
	m.db = client.Database(m.config.Database)
	return nil
}

// Close disconnects the client
func (m *MongoDB) Close() error {
	if m.client != nil {
		return m.client.Disconnect(context.Background())
	}
	return nil
}

// Ping checks the database connection
func (m *MongoDB) Ping(ctx context.Context) error {
	if m.client == nil {
		return ErrConnection
	}
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Collection returns the collection addressed by path.
func (m *MongoDB) Collection(path string) docrepo.Collection {
	return &mongoCollection{store: m, path: path}
}

// BeginTx starts a batch transaction. The queued writes run inside a
// MongoDB session transaction on Commit, which needs a replica set.
func (m *MongoDB) BeginTx(ctx context.Context) (Tx, error) {
	if m.client == nil {
		return nil, ErrConnection
	}
	return &MongoTransaction{store: m, ctx: ctx}, nil
}

// RunTransaction runs fn in a batch transaction and commits it.
func (m *MongoDB) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docrepo.Transaction) error) error {
	return WithTransaction(ctx, func(ctx context.Context) (Tx, error) { return m.BeginTx(ctx) }, fn)
}

func (m *MongoDB) collection(path string) (*mongo.Collection, error) {
	if m.db == nil {
		return nil, ErrConnection
	}
	return m.db.Collection(path), nil
}

type mongoCollection struct {
	store *MongoDB
	path  string
}

func (c *mongoCollection) Path() string { return c.path }

func (c *mongoCollection) Doc(id string) docrepo.Document {
	return &mongoDocument{store: c.store, path: c.path, id: id}
}

type mongoDocument struct {
	store *MongoDB
	path  string
	id    string
}

func (d *mongoDocument) ID() string   { return d.id }
func (d *mongoDocument) Path() string { return d.path }

func (d *mongoDocument) filter() bson.M {
	return bson.M{"_id": d.id}
}

// body converts the entity into a bson document keyed by the document id.
func (d *mongoDocument) body(data any) (bson.M, error) {
	fields, err := toFields(data)
	if err != nil {
		return nil, err
	}
	doc := make(bson.M, len(fields)+1)
	for k, v := range fields {
		if k != "id" {
			doc[k] = v
		}
	}
	doc["_id"] = d.id
	return doc, nil
}

func (d *mongoDocument) Set(ctx context.Context, data any) error {
	coll, err := d.store.collection(d.path)
	if err != nil {
		return err
	}
	body, err := d.body(data)
	if err != nil {
		return err
	}
	if _, err := coll.ReplaceOne(ctx, d.filter(), body, options.Replace().SetUpsert(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return nil
}

func (d *mongoDocument) Update(ctx context.Context, data any) error {
	coll, err := d.store.collection(d.path)
	if err != nil {
		return err
	}
	body, err := d.body(data)
	if err != nil {
		return err
	}

	update := mongoUpdate(body)
	if update == nil {
		// Nothing to set; MongoDB rejects an empty $set.
		n, err := coll.CountDocuments(ctx, d.filter(), options.Count().SetLimit(1))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrQuery, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, d.path, d.id)
		}
		return nil
	}

	result, err := coll.UpdateOne(ctx, d.filter(), update)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, d.path, d.id)
	}
	return nil
}

// Delete removes the document. Deleting a missing document succeeds.
func (d *mongoDocument) Delete(ctx context.Context) error {
	coll, err := d.store.collection(d.path)
	if err != nil {
		return err
	}
	if _, err := coll.DeleteOne(ctx, d.filter()); err != nil {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return nil
}

// Get returns the raw record with _id renamed to id.
func (d *mongoDocument) Get(ctx context.Context) (any, error) {
	coll, err := d.store.collection(d.path)
	if err != nil {
		return nil, err
	}

	var record bson.M
	if err := coll.FindOne(ctx, d.filter()).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, d.path, d.id)
		}
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	record["id"] = d.id
	delete(record, "_id")
	return map[string]interface{}(record), nil
}

// mongoUpdate builds the $set document for a body, or nil when the body
// carries no fields besides _id.
func mongoUpdate(body bson.M) bson.M {
	fields := make(bson.M, len(body))
	for k, v := range body {
		if k != "_id" {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return bson.M{"$set": fields}
}

type mongoOp func(ctx context.Context) error

// MongoTransaction implements Tx for MongoDB.
type MongoTransaction struct {
	mu     sync.Mutex
	store  *MongoDB
	ctx    context.Context
	ops    []mongoOp
	closed bool
}

func (t *MongoTransaction) add(doc docrepo.Document, op func(d *mongoDocument) (mongoOp, error)) error {
	d, ok := doc.(*mongoDocument)
	if !ok {
		return fmt.Errorf("%w: %T", ErrForeignDocument, doc)
	}
	queued, err := op(d)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	t.ops = append(t.ops, queued)
	return nil
}

// Set queues a full overwrite.
func (t *MongoTransaction) Set(doc docrepo.Document, data any) error {
	return t.add(doc, func(d *mongoDocument) (mongoOp, error) {
		fields, err := toFields(data)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return d.Set(ctx, fields) }, nil
	})
}

// Update queues a merge into an existing document.
func (t *MongoTransaction) Update(doc docrepo.Document, data any) error {
	return t.add(doc, func(d *mongoDocument) (mongoOp, error) {
		fields, err := toFields(data)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return d.Update(ctx, fields) }, nil
	})
}

// Delete queues removal of the document.
func (t *MongoTransaction) Delete(doc docrepo.Document) error {
	return t.add(doc, func(d *mongoDocument) (mongoOp, error) {
		return d.Delete, nil
	})
}

// Get reads committed state; pending writes are not visible.
func (t *MongoTransaction) Get(ctx context.Context, doc docrepo.Document) (any, error) {
	return doc.Get(ctx)
}

// Len returns the number of queued writes.
func (t *MongoTransaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.ops)
}

// Commit runs the queued writes in one session transaction.
func (t *MongoTransaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTxClosed
	}
	t.closed = true
	if len(t.ops) == 0 {
		return nil
	}

	session, err := t.store.client.StartSession()
	if err != nil {
		return fmt.Errorf("%w: start session: %v", ErrConnection, err)
	}
	defer session.EndSession(t.ctx)

	_, err = session.WithTransaction(t.ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		for _, op := range t.ops {
			if err := op(sessCtx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// Rollback discards the queued writes.
func (t *MongoTransaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops = nil
	t.closed = true
	return nil
}
