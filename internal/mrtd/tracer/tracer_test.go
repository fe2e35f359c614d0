package tracer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"mrtdreader/internal/mrtd/tracer"
)

func TestNoopTracer_Start(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanReadFile, tracer.String(tracer.AttrFileID, "EF.COM"))
	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Int64(tracer.AttrFileLength, 22))
	span.AddEvent(tracer.EventPACEFallback)
	span.End(errors.New("boom"))
}

func TestOTelTracer_WithInjectedTracer(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	ctx, span := tr.Start(context.Background(), tracer.SpanScan,
		tracer.String(tracer.AttrScanID, "abc"),
		tracer.Bool("flag", true),
		tracer.Float64("ratio", 0.5),
	)
	require.NotNil(t, ctx)
	span.SetAttributes(tracer.Duration("elapsed", 1500000))
	span.AddEvent(tracer.EventCancelled, tracer.String(tracer.AttrOutcome, "cancelled"))
	span.End(nil)
}

func TestHashDocumentNumber(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantLen int
	}{
		{name: "empty", input: "", wantLen: 0},
		{name: "only fill", input: "<<<", wantLen: 0},
		{name: "short", input: "L898902C", wantLen: 16},
		{name: "nine", input: "123456789", wantLen: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tracer.HashDocumentNumber(tt.input), tt.wantLen)
		})
	}
}

func TestHashDocumentNumber_IgnoresFillAndCase(t *testing.T) {
	assert.Equal(t, tracer.HashDocumentNumber("L898902C"), tracer.HashDocumentNumber("l898902c<"))
	assert.NotEqual(t, tracer.HashDocumentNumber("L898902C"), tracer.HashDocumentNumber("L898902D"))
}

func TestDuration(t *testing.T) {
	attr := tracer.Duration("latency", 150*1e6)
	assert.Equal(t, int64(150), attr.Value)
}
