package docrepo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

type widget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (w widget) GetID() string { return w.ID }

type call struct {
	op   string
	path string
	id   string
	data any
}

// fakeClient records direct document calls. Get returns getResult.
type fakeClient struct {
	mu        sync.Mutex
	calls     []call
	err       error
	getResult any
	block     chan struct{}
}

func (c *fakeClient) Collection(path string) Collection {
	return &fakeCollection{client: c, path: path}
}

func (c *fakeClient) record(op, path, id string, data any) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{op: op, path: path, id: id, data: data})
	return c.err
}

func (c *fakeClient) recorded() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

type fakeCollection struct {
	client *fakeClient
	path   string
}

func (c *fakeCollection) Path() string { return c.path }

func (c *fakeCollection) Doc(id string) Document {
	return &fakeDocument{client: c.client, path: c.path, id: id}
}

type fakeDocument struct {
	client *fakeClient
	path   string
	id     string
}

func (d *fakeDocument) ID() string   { return d.id }
func (d *fakeDocument) Path() string { return d.path }

func (d *fakeDocument) Set(_ context.Context, data any) error {
	return d.client.record("set", d.path, d.id, data)
}

func (d *fakeDocument) Update(_ context.Context, data any) error {
	return d.client.record("update", d.path, d.id, data)
}

func (d *fakeDocument) Delete(_ context.Context) error {
	return d.client.record("delete", d.path, d.id, nil)
}

func (d *fakeDocument) Get(_ context.Context) (any, error) {
	if err := d.client.record("get", d.path, d.id, nil); err != nil {
		return nil, err
	}
	return d.client.getResult, nil
}

// fakeTx records queued operations without touching the client.
type fakeTx struct {
	ops       []call
	err       error
	getResult any
}

func (tx *fakeTx) Set(doc Document, data any) error {
	tx.ops = append(tx.ops, call{op: "set", path: doc.Path(), id: doc.ID(), data: data})
	return tx.err
}

func (tx *fakeTx) Update(doc Document, data any) error {
	tx.ops = append(tx.ops, call{op: "update", path: doc.Path(), id: doc.ID(), data: data})
	return tx.err
}

func (tx *fakeTx) Delete(doc Document) error {
	tx.ops = append(tx.ops, call{op: "delete", path: doc.Path(), id: doc.ID()})
	return tx.err
}

func (tx *fakeTx) Get(_ context.Context, doc Document) (any, error) {
	tx.ops = append(tx.ops, call{op: "get", path: doc.Path(), id: doc.ID()})
	return tx.getResult, tx.err
}

type jsonSnapshot []byte

func (s jsonSnapshot) DataTo(v any) error { return json.Unmarshal(s, v) }

const template = "{0}/items/{1}/entities"

func newTestRepo(client Client, opts ...Option) *Repository[widget] {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New[widget](client, template, opts...)
}

func TestRepository_CollectionPath(t *testing.T) {
	repo := newTestRepo(&fakeClient{})

	assert.Equal(t, "{0}/items/{1}/entities", repo.Template())
	assert.Equal(t, "tenantId/items/itemId/entities", repo.CollectionPath("tenantId", "itemId"))
	assert.Equal(t, repo.CollectionPath("tenantId", "itemId"), repo.CollectionPath("tenantId", "itemId"))
}

func TestRepository_Insert_Direct(t *testing.T) {
	client := &fakeClient{}
	repo := newTestRepo(client)
	ctx := context.Background()

	res := repo.Insert(ctx, widget{ID: "w1", Name: "gear"}, "t1", "i1")
	_, err := res.Await(ctx)

	require.NoError(t, err)
	assert.False(t, res.Queued())
	require.Len(t, client.recorded(), 1)
	assert.Equal(t, call{op: "set", path: "t1/items/i1/entities", id: "w1", data: widget{ID: "w1", Name: "gear"}}, client.recorded()[0])
}

func TestRepository_Insert_DirectError(t *testing.T) {
	clientErr := errors.New("permission denied")
	client := &fakeClient{err: clientErr}
	repo := newTestRepo(client)
	ctx := context.Background()

	_, err := repo.Insert(ctx, widget{ID: "w1"}, "t1", "i1").Await(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, clientErr)
}

func TestRepository_Update_Direct(t *testing.T) {
	client := &fakeClient{}
	repo := newTestRepo(client)
	ctx := context.Background()

	_, err := repo.Update(ctx, widget{ID: "w1", Name: "cog"}, "t1", "i1").Await(ctx)

	require.NoError(t, err)
	require.Len(t, client.recorded(), 1)
	assert.Equal(t, "update", client.recorded()[0].op)
	assert.Equal(t, widget{ID: "w1", Name: "cog"}, client.recorded()[0].data)
}

func TestRepository_Delete_Direct(t *testing.T) {
	client := &fakeClient{}
	repo := newTestRepo(client)
	ctx := context.Background()

	_, err := repo.Delete(ctx, "w1", "t1", "i1").Await(ctx)

	require.NoError(t, err)
	require.Len(t, client.recorded(), 1)
	assert.Equal(t, call{op: "delete", path: "t1/items/i1/entities", id: "w1"}, client.recorded()[0])
}

func TestRepository_Delete_DirectError(t *testing.T) {
	clientErr := errors.New("not found")
	repo := newTestRepo(&fakeClient{err: clientErr})
	ctx := context.Background()

	_, err := repo.Delete(ctx, "w1", "t1", "i1").Await(ctx)

	assert.ErrorIs(t, err, clientErr)
}

func TestRepository_DirectIsAsync(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	repo := newTestRepo(client)
	ctx := context.Background()

	res := repo.Insert(ctx, widget{ID: "w1"}, "t1", "i1")

	select {
	case <-res.Done():
		t.Fatal("result settled before the client call returned")
	default:
	}

	close(client.block)
	_, err := res.Await(ctx)
	require.NoError(t, err)
}

func TestRepository_AwaitHonorsContext(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	defer close(client.block)
	repo := newTestRepo(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := repo.Delete(context.Background(), "w1", "t1", "i1").Await(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRepository_Transaction_QueuesWrites(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	defer close(client.block)
	tx := &fakeTx{}
	repo := newTestRepo(client).WithTx(tx)
	ctx := context.Background()

	results := []*Result[Unit]{
		repo.Insert(ctx, widget{ID: "w1"}, "t1", "i1"),
		repo.Update(ctx, widget{ID: "w2"}, "t1", "i1"),
		repo.Delete(ctx, "w3", "t1", "i1"),
	}

	for _, res := range results {
		select {
		case <-res.Done():
		default:
			t.Fatal("queued result not settled on return")
		}
		assert.True(t, res.Queued())
		_, err := res.Await(ctx)
		require.NoError(t, err)
	}

	require.Len(t, tx.ops, 3)
	assert.Equal(t, "set", tx.ops[0].op)
	assert.Equal(t, "w1", tx.ops[0].id)
	assert.Equal(t, "update", tx.ops[1].op)
	assert.Equal(t, "delete", tx.ops[2].op)
	assert.Equal(t, "t1/items/i1/entities", tx.ops[2].path)
	assert.Empty(t, client.recorded())
}

func TestRepository_Transaction_RegistrationError(t *testing.T) {
	txErr := errors.New("invalid data")
	repo := newTestRepo(&fakeClient{}).WithTx(&fakeTx{err: txErr})
	ctx := context.Background()

	res := repo.Insert(ctx, widget{ID: "w1"}, "t1", "i1")
	_, err := res.Await(ctx)

	assert.True(t, res.Queued())
	assert.ErrorIs(t, err, txErr)
}

func TestRepository_WithTx_LeavesOriginalDirect(t *testing.T) {
	client := &fakeClient{}
	tx := &fakeTx{}
	repo := newTestRepo(client)
	inTx := repo.WithTx(tx)
	ctx := context.Background()

	assert.False(t, repo.InTransaction())
	assert.Nil(t, repo.Transaction())
	assert.True(t, inTx.InTransaction())
	assert.Same(t, tx, inTx.Transaction())

	_, err := repo.Insert(ctx, widget{ID: "w1"}, "t1", "i1").Await(ctx)
	require.NoError(t, err)

	assert.Len(t, client.recorded(), 1)
	assert.Empty(t, tx.ops)
}

func TestRepository_FindByID_Snapshot(t *testing.T) {
	client := &fakeClient{getResult: jsonSnapshot(`{"id":"w1","name":"gear"}`)}
	repo := newTestRepo(client)
	ctx := context.Background()

	got, err := repo.FindByID(ctx, "w1", "t1", "i1").Await(ctx)

	require.NoError(t, err)
	assert.Equal(t, widget{ID: "w1", Name: "gear"}, got)
}

func TestRepository_FindByID_PlainRecord(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"struct value", widget{ID: "w1", Name: "gear"}},
		{"struct pointer", &widget{ID: "w1", Name: "gear"}},
		{"map", map[string]any{"id": "w1", "name": "gear"}},
		{"json bytes", []byte(`{"id":"w1","name":"gear"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepo(&fakeClient{getResult: tt.raw})
			ctx := context.Background()

			got, err := repo.FindByID(ctx, "w1", "t1", "i1").Await(ctx)

			require.NoError(t, err)
			assert.Equal(t, widget{ID: "w1", Name: "gear"}, got)
		})
	}
}

func TestRepository_FindByID_ClientError(t *testing.T) {
	clientErr := errors.New("unavailable")
	repo := newTestRepo(&fakeClient{err: clientErr})
	ctx := context.Background()

	got, err := repo.FindByID(ctx, "w1", "t1", "i1").Await(ctx)

	assert.ErrorIs(t, err, clientErr)
	assert.Equal(t, widget{}, got)
}

func TestRepository_FindByID_DecodeError(t *testing.T) {
	repo := newTestRepo(&fakeClient{getResult: jsonSnapshot(`not json`)})
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "w1", "t1", "i1").Await(ctx)

	assert.ErrorIs(t, err, ErrDecode)
}

func TestRepository_FindByID_ThroughTransaction(t *testing.T) {
	client := &fakeClient{}
	tx := &fakeTx{getResult: map[string]any{"id": "w1", "name": "tx"}}
	repo := newTestRepo(client).WithTx(tx)
	ctx := context.Background()

	got, err := repo.FindByID(ctx, "w1", "t1", "i1").Await(ctx)

	require.NoError(t, err)
	assert.Equal(t, widget{ID: "w1", Name: "tx"}, got)
	require.Len(t, tx.ops, 1)
	assert.Equal(t, "get", tx.ops[0].op)
	assert.Empty(t, client.recorded())
}

func TestRepository_StrictPaths(t *testing.T) {
	client := &fakeClient{}
	repo := newTestRepo(client, WithStrictPaths())
	ctx := context.Background()

	res := repo.Insert(ctx, widget{ID: "w1"}, "t1")
	_, err := res.Await(ctx)
	assert.ErrorIs(t, err, ErrUnresolvedPath)

	_, err = repo.FindByID(ctx, "w1").Await(ctx)
	assert.ErrorIs(t, err, ErrUnresolvedPath)

	assert.Empty(t, client.recorded())

	_, err = repo.Insert(ctx, widget{ID: "w1"}, "t1", "i1").Await(ctx)
	assert.NoError(t, err)
}

func TestRepository_PermissivePathsByDefault(t *testing.T) {
	client := &fakeClient{}
	repo := newTestRepo(client)
	ctx := context.Background()

	_, err := repo.Insert(ctx, widget{ID: "w1"}, "t1").Await(ctx)

	require.NoError(t, err)
	assert.Equal(t, "t1/items/{1}/entities", client.recorded()[0].path)
}

func TestRepository_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	clientErr := errors.New("boom")
	repo := newTestRepo(&fakeClient{err: clientErr}, WithTracer(provider.Tracer("test")))
	ctx := context.Background()

	_, err := repo.Update(ctx, widget{ID: "w1"}, "t1", "i1").Await(ctx)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "docrepo.update", spans[0].Name())
	assert.Equal(t, "boom", spans[0].Status().Description)
	assert.Contains(t, spans[0].Attributes(), attribute.String("db.collection.name", "t1/items/i1/entities"))
}

func TestRepository_StrictPathsInTransaction(t *testing.T) {
	tx := &fakeTx{}
	repo := newTestRepo(&fakeClient{}, WithStrictPaths()).WithTx(tx)
	ctx := context.Background()

	res := repo.Delete(ctx, "w1", "t1")
	_, err := res.Await(ctx)

	assert.ErrorIs(t, err, ErrUnresolvedPath)
	assert.True(t, res.Queued())
	assert.Empty(t, tx.ops)
}

// warnSpans records, for each warning, whether its context carried a span.
type warnSpans struct {
	mu    sync.Mutex
	valid []bool
}

func (h *warnSpans) Enabled(context.Context, slog.Level) bool { return true }

func (h *warnSpans) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < slog.LevelWarn {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.valid = append(h.valid, trace.SpanContextFromContext(ctx).IsValid())
	return nil
}

func (h *warnSpans) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *warnSpans) WithGroup(string) slog.Handler      { return h }

func TestRepository_FailureLogCarriesSpan(t *testing.T) {
	handler := &warnSpans{}
	provider := sdktrace.NewTracerProvider()
	repo := newTestRepo(&fakeClient{err: errors.New("boom")},
		WithLogger(slog.New(handler)),
		WithTracer(provider.Tracer("test")),
	)
	ctx := context.Background()

	_, err := repo.Insert(ctx, widget{ID: "w1"}, "t1", "i1").Await(ctx)
	require.Error(t, err)
	_, err = repo.FindByID(ctx, "w1", "t1", "i1").Await(ctx)
	require.Error(t, err)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []bool{true, true}, handler.valid)
}

type account struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
	Extra   any    `json:"extra"`
}

func (a account) GetID() string { return a.ID }

func TestDecode_KeepsLargeIntegers(t *testing.T) {
	got, err := decode[account](map[string]any{"id": "a1", "balance": int64(1<<53 + 1), "extra": int64(1<<53 + 1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1<<53+1), got.Balance)
	assert.Equal(t, json.Number("9007199254740993"), got.Extra)

	m, err := decode[map[string]any]([]byte(`{"balance":9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), m["balance"])
}
