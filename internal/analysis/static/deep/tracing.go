// Filename: deep/tracing.go
package deep

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mlsec.deep")

func startAnalysisSpan(ctx context.Context, filename string, nodes int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "DeepAnalyzer.AnalyzeDeep",
		trace.WithAttributes(
			attribute.String("ml.filename", filename),
			attribute.Int("ml.nodes", nodes),
		),
	)
}

func startPassSpan(ctx context.Context, pass string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "DeepAnalyzer."+pass,
		trace.WithAttributes(attribute.String("deep.pass", pass)),
	)
}

func setPassSpanResult(span trace.Span, stats PassStats) {
	span.SetAttributes(
		attribute.Int("deep.candidates", stats.Candidates),
		attribute.Int("deep.emitted", stats.Emitted),
		attribute.Int("deep.suppressed", stats.Suppressed),
	)
	if len(stats.Failures) > 0 {
		span.SetStatus(codes.Error, "rule failure")
	}
}

func setAnalysisSpanResult(span trace.Span, r *Result) {
	span.SetAttributes(
		attribute.Int("ml.threats", len(r.Threats)),
		attribute.Bool("ml.secure", r.IsSecure),
		attribute.Float64("ml.false_positive_rate", r.FalsePositiveRate),
	)
}
