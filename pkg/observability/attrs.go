package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for solve telemetry.
var (
	AttrRequestID       = attribute.Key("verifiquant.request.id")
	AttrClientRequestID = attribute.Key("verifiquant.request.client_id")
	AttrCardID          = attribute.Key("verifiquant.card.id")
	AttrStage           = attribute.Key("verifiquant.stage")
	AttrStatus          = attribute.Key("verifiquant.status")
	AttrFallback        = attribute.Key("verifiquant.selection.fallback")
	AttrConfidence      = attribute.Key("verifiquant.confidence")
	AttrCheck           = attribute.Key("verifiquant.check")
	AttrOperation       = attribute.Key("verifiquant.operation")
	AttrErrorCode       = attribute.Key("verifiquant.error.code")
)

// StageOperation labels one pipeline stage of a request.
func StageOperation(requestID, stage string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRequestID.String(requestID),
		AttrStage.String(stage),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes annotates the current span.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// SetSpanStatus marks the current span failed when err is non-nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// Operation names passed to TrackOperation.
const (
	OperationSolve     = "solve"
	OperationInterpret = "solve.interpret"
	OperationResolve   = "solve.resolve"
	OperationCompute   = "solve.compute"
	OperationVerify    = "solve.verify"
)
