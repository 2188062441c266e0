package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Setup describes the agent process to the tracer provider.
type Setup struct {
	ServiceName string
	Version     string
	// Model backend and model the orchestrator talks to.
	Provider string
	Model    string
	// SampleRatio is the fraction of turns traced. Zero traces every turn.
	SampleRatio float64
}

func (s Setup) attributes() []attribute.KeyValue {
	name := s.ServiceName
	if name == "" {
		name = "winagent"
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if s.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(s.Version))
	}
	if s.Provider != "" {
		attrs = append(attrs, attribute.String("llm.provider", s.Provider))
	}
	if s.Model != "" {
		attrs = append(attrs, attribute.String("llm.model", s.Model))
	}
	return attrs
}

func (s Setup) sampler() sdktrace.Sampler {
	ratio := s.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

var (
	providerOnce sync.Once
	providerMu   sync.RWMutex
	provider     *sdktrace.TracerProvider
	providerErr  error
)

// InitOpenTelemetry installs the process-wide tracer provider. Only the first
// call takes effect.
func InitOpenTelemetry(s Setup) error {
	providerOnce.Do(func() {
		res, err := resource.New(context.Background(), resource.WithAttributes(s.attributes()...))
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(s.sampler()),
			sdktrace.WithResource(res),
		)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()

		otel.SetTracerProvider(tp)
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span tagged with the session, turn and tool call carried
// by ctx. The span's trace ID becomes the context trace ID when none is set.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	attrs = append(contextAttributes(ctx), attrs...)
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// contextAttributes lists the orchestration IDs in ctx. Explicit span
// attributes with the same key are applied later and win.
func contextAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := GetSessionID(ctx); id != "" {
		attrs = append(attrs, attribute.String("session.id", id))
	}
	if id := GetTurnID(ctx); id != "" {
		attrs = append(attrs, attribute.String("turn.id", id))
	}
	if id := GetCallID(ctx); id != "" {
		attrs = append(attrs, attribute.String("tool.call_id", id))
	}
	return attrs
}
