package database

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/forgo/docrepo/pkg/docrepo"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore implements Store for Cloud Firestore.
//
// Documents are written as field maps derived from the entity's JSON form,
// so json struct tags name the Firestore fields on write and on read.
type Firestore struct {
	client *firestore.Client
	config Config
}

// NewFirestore creates a new Firestore instance
func NewFirestore(cfg Config) *Firestore {
	return &Firestore{config: cfg}
}

// NewFirestoreFromClient wraps an existing client.
func NewFirestoreFromClient(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

// Connect creates the Firestore client. Credentials come from the
// environment (GOOGLE_APPLICATION_CREDENTIALS or FIRESTORE_EMULATOR_HOST).
func (f *Firestore) Connect(ctx context.Context) error {
	projectID := f.config.ProjectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	databaseID := f.config.DatabaseID
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	f.client = client
	return nil
}

// Close closes the client
func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Ping lists one collection to verify the connection
func (f *Firestore) Ping(ctx context.Context) error {
	if f.client == nil {
		return ErrConnection
	}
	if _, err := f.client.Collections(ctx).Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

// Collection returns the collection addressed by path.
func (f *Firestore) Collection(path string) docrepo.Collection {
	c := &firestoreCollection{path: path}
	if f.client != nil {
		c.ref = f.client.Collection(path)
	}
	return c
}

// RunTransaction runs fn in a native Firestore transaction. Firestore may
// call fn more than once when the transaction contends.
func (f *Firestore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docrepo.Transaction) error) error {
	if f.client == nil {
		return ErrConnection
	}
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &FirestoreTransaction{tx: tx})
	})
}

type firestoreCollection struct {
	path string
	ref  *firestore.CollectionRef
}

func (c *firestoreCollection) Path() string { return c.path }

func (c *firestoreCollection) Doc(id string) docrepo.Document {
	d := &firestoreDocument{path: c.path, id: id}
	if c.ref != nil && id != "" {
		d.ref = c.ref.Doc(id)
	}
	return d
}

type firestoreDocument struct {
	path string
	id   string
	ref  *firestore.DocumentRef
}

func (d *firestoreDocument) ID() string   { return d.id }
func (d *firestoreDocument) Path() string { return d.path }

func (d *firestoreDocument) docRef() (*firestore.DocumentRef, error) {
	if d.ref == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidPath, d.path, d.id)
	}
	return d.ref, nil
}

func (d *firestoreDocument) Set(ctx context.Context, data any) error {
	ref, err := d.docRef()
	if err != nil {
		return err
	}
	fields, err := toFields(data)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, fields)
	return mapFirestoreError(err)
}

func (d *firestoreDocument) Update(ctx context.Context, data any) error {
	ref, err := d.docRef()
	if err != nil {
		return err
	}
	updates, err := firestoreUpdates(data)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, updates)
	return mapFirestoreError(err)
}

func (d *firestoreDocument) Delete(ctx context.Context) error {
	ref, err := d.docRef()
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return mapFirestoreError(err)
}

func (d *firestoreDocument) Get(ctx context.Context) (any, error) {
	ref, err := d.docRef()
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, mapFirestoreError(err)
	}
	return mapSnapshot(snap.Data()), nil
}

// FirestoreTransaction adapts *firestore.Transaction to docrepo.Transaction.
// Writes are buffered by Firestore and sent when the transaction commits.
type FirestoreTransaction struct {
	tx *firestore.Transaction
}

func (t *FirestoreTransaction) ref(doc docrepo.Document) (*firestore.DocumentRef, error) {
	d, ok := doc.(*firestoreDocument)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrForeignDocument, doc)
	}
	return d.docRef()
}

func (t *FirestoreTransaction) Set(doc docrepo.Document, data any) error {
	ref, err := t.ref(doc)
	if err != nil {
		return err
	}
	fields, err := toFields(data)
	if err != nil {
		return err
	}
	return t.tx.Set(ref, fields)
}

func (t *FirestoreTransaction) Update(doc docrepo.Document, data any) error {
	ref, err := t.ref(doc)
	if err != nil {
		return err
	}
	updates, err := firestoreUpdates(data)
	if err != nil {
		return err
	}
	return t.tx.Update(ref, updates)
}

func (t *FirestoreTransaction) Delete(doc docrepo.Document) error {
	ref, err := t.ref(doc)
	if err != nil {
		return err
	}
	return t.tx.Delete(ref)
}

func (t *FirestoreTransaction) Get(ctx context.Context, doc docrepo.Document) (any, error) {
	ref, err := t.ref(doc)
	if err != nil {
		return nil, err
	}
	snap, err := t.tx.Get(ref)
	if err != nil {
		return nil, mapFirestoreError(err)
	}
	return mapSnapshot(snap.Data()), nil
}

// firestoreUpdates turns an entity into top-level field updates.
func firestoreUpdates(data any) ([]firestore.Update, error) {
	fields, err := toFields(data)
	if err != nil {
		return nil, err
	}
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	return updates, nil
}

// mapFirestoreError maps gRPC status codes onto the package errors.
func mapFirestoreError(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.Unavailable, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return err
}
