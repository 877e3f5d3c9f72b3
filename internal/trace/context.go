package trace

import "context"

// runKey carries the run scope through a context.
type runKey struct{}

// runScope is what a run hands down to the code it calls: the tracer and
// the span that new events nest under.
type runScope struct {
	tracer Tracer
	parent uint64
}

func scopeOf(ctx context.Context) runScope {
	if ctx != nil {
		if s, ok := ctx.Value(runKey{}).(runScope); ok {
			return s
		}
	}
	return runScope{tracer: Nop}
}

// FromContext returns the tracer attached to ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	return scopeOf(ctx).tracer
}

// WithTracer attaches t to ctx. The parent span, if any, is kept.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	s := scopeOf(ctx)
	s.tracer = OrNop(t)
	return context.WithValue(ctx, runKey{}, s)
}

// ParentOf returns the id of the span events started under ctx nest under.
// Zero means top level.
func ParentOf(ctx context.Context) uint64 {
	return scopeOf(ctx).parent
}

// BeginIn starts a span on ctx's tracer under ctx's parent span and returns
// a context in which the new span is the parent.
func BeginIn(ctx context.Context, scope Scope, name string) (*Span, context.Context) {
	s := scopeOf(ctx)
	span := Begin(s.tracer, scope, name, s.parent)
	if span.ID() == 0 {
		return span, ctx
	}
	s.parent = span.ID()
	return span, context.WithValue(ctx, runKey{}, s)
}
