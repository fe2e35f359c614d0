// Package tracer is the tracing abstraction used by the scan engine. Stages of
// a scan open spans through the Tracer interface so that the engine does not
// depend on OpenTelemetry directly.
//
// Implementations:
//   - NoopTracer: for tests and when tracing is disabled
//   - OTelTracer: OpenTelemetry adapter
package tracer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Span is an active trace span.
type Span interface {
	// End completes the span. A non-nil err marks it failed.
	// End must be called exactly once.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	// Start creates a span; the returned context carries it to child stages.
	//
	// Example:
	//   ctx, span := t.Start(ctx, tracer.SpanReadFile,
	//       tracer.String(tracer.AttrFileID, id.String()),
	//   )
	//   defer span.End(err)
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int64(key string, value int64) Attribute {
	return Attribute{Key: key, Value: value}
}

func Float64(key string, value float64) Attribute {
	return Attribute{Key: key, Value: value}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// HashDocumentNumber returns a short SHA-256 digest of a document number so
// scans can be correlated without the number itself reaching logs or traces.
// Fill characters are ignored.
func HashDocumentNumber(documentNumber string) string {
	n := strings.TrimRight(strings.ToUpper(documentNumber), "<")
	if n == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(n))
	return hex.EncodeToString(hash[:8])
}

// Span names.
const (
	SpanScan        = "mrtd.scan"
	SpanNegotiate   = "mrtd.negotiate"
	SpanReadFile    = "mrtd.read_file"
	SpanExtractFace = "mrtd.extract_face"
)

// Attribute keys.
const (
	AttrScanID        = "scan_id"
	AttrDocumentHash  = "document_hash"
	AttrFileID        = "file_id"
	AttrFileLength    = "file_length"
	AttrAccessControl = "access_control"
	AttrPACEOutcome   = "pace_outcome"
	AttrImageType     = "image_type"
	AttrImageLength   = "image_length"
	AttrDecoder       = "decoder"
	AttrOutcome       = "outcome"
)

// Event names.
const (
	EventPACEFallback   = "pace.fallback"
	EventCancelled      = "scan.cancelled"
	EventImageUndecoded = "face.undecoded"
)
