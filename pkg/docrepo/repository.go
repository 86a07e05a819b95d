package docrepo

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/forgo/docrepo/pkg/docrepo"

// Unit is the value of a successful write.
type Unit = struct{}

// Repository performs CRUD operations for one kind of entity against a
// collection addressed by a path template.
//
// A Repository holds no per-call state and is safe for concurrent use.
// Attaching a transaction with WithTx yields a new Repository; the
// transaction's own concurrency rules then apply to that copy.
type Repository[T Entity] struct {
	client   Client
	template string
	writer   Writer
	tx       Transaction
	logger   *slog.Logger
	tracer   trace.Tracer
	strict   bool
}

// Option configures a Repository.
type Option func(*options)

type options struct {
	logger *slog.Logger
	tracer trace.Tracer
	strict bool
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTracer sets the tracer used for operation spans. The default comes
// from the global OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithStrictPaths makes operations fail with ErrUnresolvedPath instead of
// addressing a collection whose path still contains placeholders.
func WithStrictPaths() Option {
	return func(o *options) { o.strict = true }
}

// New creates a repository bound to client and the collection path
// template, e.g. "{0}/items/{1}/entities".
func New[T Entity](client Client, template string, opts ...Option) *Repository[T] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	return &Repository[T]{
		client:   client,
		template: template,
		writer:   Direct(),
		logger:   o.logger,
		tracer:   o.tracer,
		strict:   o.strict,
	}
}

// WithTx returns a copy of the repository that records every operation in
// tx. The receiver is left unchanged. Commit and rollback stay with the
// caller that owns tx.
func (r *Repository[T]) WithTx(tx Transaction) *Repository[T] {
	c := *r
	c.tx = tx
	c.writer = Queued(tx)
	return &c
}

// Transaction returns the attached transaction, or nil.
func (r *Repository[T]) Transaction() Transaction {
	return r.tx
}

// InTransaction reports whether a transaction is attached.
func (r *Repository[T]) InTransaction() bool {
	return r.tx != nil
}

// Template returns the collection path template.
func (r *Repository[T]) Template() string {
	return r.template
}

// CollectionPath resolves the template with the given values.
func (r *Repository[T]) CollectionPath(pathValues ...string) string {
	return ResolvePath(r.template, pathValues...)
}

// Insert overwrites the document keyed by the entity's id.
func (r *Repository[T]) Insert(ctx context.Context, entity T, pathValues ...string) *Result[Unit] {
	return r.write(ctx, "insert", entity.GetID(), pathValues, func(ctx context.Context, doc Document) error {
		return r.writer.Set(ctx, doc, entity)
	})
}

// Update merges the entity into the existing document keyed by its id.
func (r *Repository[T]) Update(ctx context.Context, entity T, pathValues ...string) *Result[Unit] {
	return r.write(ctx, "update", entity.GetID(), pathValues, func(ctx context.Context, doc Document) error {
		return r.writer.Update(ctx, doc, entity)
	})
}

// Delete removes the document with the given id.
func (r *Repository[T]) Delete(ctx context.Context, id string, pathValues ...string) *Result[Unit] {
	return r.write(ctx, "delete", id, pathValues, func(ctx context.Context, doc Document) error {
		return r.writer.Delete(ctx, doc)
	})
}

// FindByID reads the document with the given id and decodes it into T.
func (r *Repository[T]) FindByID(ctx context.Context, id string, pathValues ...string) *Result[T] {
	doc, err := r.document(id, pathValues)
	if err != nil {
		// Reads are never queued, even through a transaction.
		var zero T
		return resolved(zero, err, false)
	}

	return async(func() (T, error) {
		ctx, span := r.startSpan(ctx, "find_by_id", doc)
		defer span.End()

		var zero T
		raw, err := r.writer.Get(ctx, doc)
		if err != nil {
			r.fail(ctx, span, "find_by_id", doc, err)
			return zero, fmt.Errorf("find %s in %s: %w", doc.ID(), doc.Path(), err)
		}

		entity, err := decode[T](raw)
		if err != nil {
			r.fail(ctx, span, "find_by_id", doc, err)
			return zero, fmt.Errorf("find %s in %s: %w", doc.ID(), doc.Path(), err)
		}

		r.logger.DebugContext(ctx, "document read",
			slog.String("op", "find_by_id"),
			slog.String("collection", doc.Path()),
			slog.String("id", doc.ID()),
			slog.Bool("transaction", r.writer.Queues()),
		)
		return entity, nil
	})
}

func (r *Repository[T]) write(ctx context.Context, op, id string, pathValues []string, fn func(context.Context, Document) error) *Result[Unit] {
	doc, err := r.document(id, pathValues)
	if err != nil {
		return resolved(Unit{}, err, r.writer.Queues())
	}

	run := func() (Unit, error) {
		ctx, span := r.startSpan(ctx, op, doc)
		defer span.End()

		if err := fn(ctx, doc); err != nil {
			r.fail(ctx, span, op, doc, err)
			return Unit{}, fmt.Errorf("%s %s in %s: %w", op, doc.ID(), doc.Path(), err)
		}

		r.logger.DebugContext(ctx, "document written",
			slog.String("op", op),
			slog.String("collection", doc.Path()),
			slog.String("id", doc.ID()),
			slog.Bool("queued", r.writer.Queues()),
		)
		return Unit{}, nil
	}

	if r.writer.Queues() {
		value, err := run()
		return resolved(value, err, true)
	}
	return async(run)
}

func (r *Repository[T]) document(id string, pathValues []string) (Document, error) {
	path := r.CollectionPath(pathValues...)
	if r.strict {
		if left := UnresolvedPlaceholders(path); len(left) > 0 {
			return nil, fmt.Errorf("%w: %q has no value for %v", ErrUnresolvedPath, path, left)
		}
	}
	return r.client.Collection(path).Doc(id), nil
}

func (r *Repository[T]) startSpan(ctx context.Context, op string, doc Document) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "docrepo."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.collection.name", doc.Path()),
			attribute.String("db.document.id", doc.ID()),
			attribute.Bool("db.transaction", r.writer.Queues()),
		),
	)
}

func (r *Repository[T]) fail(ctx context.Context, span trace.Span, op string, doc Document, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.WarnContext(ctx, "document operation failed",
		slog.String("op", op),
		slog.String("collection", doc.Path()),
		slog.String("id", doc.ID()),
		slog.String("error", err.Error()),
	)
}
