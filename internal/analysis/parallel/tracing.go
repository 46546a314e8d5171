// Filename: parallel/tracing.go
package parallel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mlsec.parallel")

func startAnalysisSpan(ctx context.Context, filename string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Coordinator.AnalyzeParallel",
		trace.WithAttributes(attribute.String("ml.filename", filename)),
	)
}

func setAnalysisSpanResult(span trace.Span, r *Result) {
	span.SetAttributes(
		attribute.Int("ml.threats", r.ThreatCount),
		attribute.Bool("ml.secure", r.IsSecure),
	)
	if len(r.TaskErrors) > 0 {
		span.SetStatus(codes.Error, "task failure")
	}
}
