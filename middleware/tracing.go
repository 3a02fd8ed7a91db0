package middleware

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shrek82/oql/core"
	"github.com/shrek82/oql/query"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	userIPKey    ctxKey = "user_ip"
)

// WithRequestID stores a request id that Tracing attaches to the span and
// to the SQL log line.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithUserIP stores the caller's address for Tracing.
func WithUserIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, userIPKey, ip)
}

// TracingMiddleware opens an OpenTelemetry span per statement and adds
// request_id, user_ip and trace_id to the statement's log fields.
type TracingMiddleware struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
	system   string
}

// TracingOption configures TracingMiddleware.
type TracingOption func(*TracingMiddleware)

// WithTracerProvider uses tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) TracingOption {
	return func(m *TracingMiddleware) { m.provider = tp }
}

func NewTracing(opts ...TracingOption) *TracingMiddleware {
	m := &TracingMiddleware{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *TracingMiddleware) Name() string {
	return "Tracing"
}

func (m *TracingMiddleware) Init(db *core.DB) error {
	if m.provider == nil {
		m.provider = otel.GetTracerProvider()
	}
	m.tracer = m.provider.Tracer("github.com/shrek82/oql")
	m.system = db.Dialect().Name()
	return nil
}

func (m *TracingMiddleware) Shutdown() error {
	return nil
}

func (m *TracingMiddleware) Process(ctx context.Context, q *core.Query, next core.QueryFunc) (*core.Result, error) {
	op := "raw"
	if q.Op != query.OpNone {
		op = strings.ToLower(q.Op.String())
	}
	name := "oql." + op
	if q.Table != "" {
		name += " " + q.Table
	}

	ctx, span := m.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", m.system),
			attribute.String("db.operation", op),
			attribute.String("db.sql.table", q.Table),
			attribute.String("db.statement", q.SQL),
		),
	)
	defer span.End()

	fields := make(map[string]any)
	if reqID, ok := ctx.Value(requestIDKey).(string); ok {
		fields["request_id"] = reqID
		span.SetAttributes(attribute.String("request_id", reqID))
	}
	if userIP, ok := ctx.Value(userIPKey).(string); ok {
		fields["user_ip"] = userIP
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if len(fields) > 0 {
		q.WithFields(fields)
	}

	res, err := next(ctx, q)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	if res != nil {
		span.SetAttributes(
			attribute.Int64("db.rows_affected", res.RowsAffected),
			attribute.Int("db.rows", res.Rows),
			attribute.Bool("db.cached", res.Cached),
		)
		if res.Conflict {
			span.AddEvent("version conflict")
		}
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}
