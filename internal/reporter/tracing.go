package reporter

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aqasim81/migration-runner/internal/migerr"
	"github.com/aqasim81/migration-runner/internal/migration"
)

const tracerName = "github.com/aqasim81/migration-runner/internal/reporter"

// Tracing records a span per command and a child span per executed
// migration, then forwards every callback to the wrapped reporter.
type Tracing struct {
	next    Reporter
	tracer  trace.Tracer
	rootCtx context.Context //nolint:containedctx // spans outlive single callbacks
	root    trace.Span
	spans   map[string]trace.Span
}

var _ Reporter = (*Tracing)(nil)

// NewTracing wraps next. A nil provider uses the global one.
func NewTracing(next Reporter, tp trace.TracerProvider) *Tracing {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	if next == nil {
		next = Base{}
	}

	return &Tracing{
		next:   next,
		tracer: tp.Tracer(tracerName),
		spans:  make(map[string]trace.Span),
	}
}

func (t *Tracing) OnInit(ctx context.Context, info Info) {
	t.rootCtx, t.root = t.tracer.Start(ctx, "migrate "+info.Command, trace.WithAttributes(
		attribute.String("migrate.command", info.Command),
		attribute.String("migrate.directory", info.Directory),
		attribute.String("migrate.run_id", info.RunID),
		attribute.Bool("migrate.dry", info.Dry),
	))

	t.next.OnInit(ctx, info)
}

func (t *Tracing) OnAbort(ctx context.Context, reason error) {
	if t.root != nil {
		t.root.AddEvent("abort", trace.WithAttributes(attribute.String("reason", reason.Error())))
	}

	t.next.OnAbort(ctx, reason)
}

func (t *Tracing) OnCollectedMigrations(ctx context.Context, collected []migration.Outcome) {
	if t.root != nil {
		t.root.SetAttributes(attribute.Int("migrate.collected", len(collected)))
	}

	t.next.OnCollectedMigrations(ctx, collected)
}

func (t *Tracing) OnLockedMigrations(ctx context.Context, locked []migration.Migration) {
	if t.root != nil {
		t.root.SetAttributes(attribute.Int("migrate.locked", len(locked)))
	}

	t.next.OnLockedMigrations(ctx, locked)
}

func (t *Tracing) OnNewMigration(ctx context.Context, m migration.Migration, content []byte) {
	t.next.OnNewMigration(ctx, m, content)
}

func (t *Tracing) OnMigrationRemoveStart(ctx context.Context, m migration.Migration) {
	t.startSpan("remove "+m.Name, m)
	t.next.OnMigrationRemoveStart(ctx, m)
}

func (t *Tracing) OnMigrationRemoveSuccess(ctx context.Context, m migration.Migration) {
	t.endSpan(m.Name, nil)
	t.next.OnMigrationRemoveSuccess(ctx, m)
}

func (t *Tracing) OnMigrationRemoveError(ctx context.Context, m migration.Migration, err error) {
	t.endSpan(m.Name, err)
	t.next.OnMigrationRemoveError(ctx, m, err)
}

func (t *Tracing) OnMigrationStart(ctx context.Context, o migration.Outcome) {
	t.startSpan("migration "+o.Name, o.Migration)
	t.next.OnMigrationStart(ctx, o)
}

func (t *Tracing) OnMigrationSuccess(ctx context.Context, o migration.Outcome) {
	t.endSpan(o.Name, nil)
	t.next.OnMigrationSuccess(ctx, o)
}

func (t *Tracing) OnMigrationError(ctx context.Context, o migration.Outcome, err error) {
	t.endSpan(o.Name, err)
	t.next.OnMigrationError(ctx, o, err)
}

func (t *Tracing) OnMigrationSkip(ctx context.Context, o migration.Outcome) {
	if t.root != nil {
		t.root.AddEvent("skip", trace.WithAttributes(
			attribute.String("migration.name", o.Name),
			attribute.String("migration.status", string(o.Status)),
		))
	}

	t.next.OnMigrationSkip(ctx, o)
}

func (t *Tracing) OnFinished(ctx context.Context, outcomes []migration.Outcome, err error) {
	for name, span := range t.spans {
		span.End()
		delete(t.spans, name)
	}

	if t.root != nil {
		t.root.SetAttributes(attribute.Int("migrate.outcomes", len(outcomes)))
		setStatus(t.root, err)
		t.root.End()
	}

	t.next.OnFinished(ctx, outcomes, err)
}

func (t *Tracing) startSpan(spanName string, m migration.Migration) {
	parent := t.rootCtx
	if parent == nil {
		parent = context.Background()
	}

	_, span := t.tracer.Start(parent, spanName, trace.WithAttributes(
		attribute.String("migration.name", m.Name),
		attribute.String("migration.path", m.RelativeFilePath),
	))

	t.spans[m.Name] = span
}

func (t *Tracing) endSpan(name string, err error) {
	span, ok := t.spans[name]
	if !ok {
		return
	}

	delete(t.spans, name)
	setStatus(span, err)
	span.End()
}

func setStatus(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")

		return
	}

	span.RecordError(err, trace.WithAttributes(attribute.String("error.code", migerr.KindOf(err).Code())))
	span.SetStatus(codes.Error, err.Error())
}
