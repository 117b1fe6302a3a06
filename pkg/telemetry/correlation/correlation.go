// Package correlation ties together the log lines and spans produced for one
// reading as it moves from a device, through the broker or the HTTP API, to
// storage.
package correlation

import (
	"context"
	"strings"
	"unicode"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

// HeaderName carries the correlation ID across HTTP hops.
const HeaderName = "X-Correlation-Id"

// maxIDLength bounds IDs accepted from devices and clients.
const maxIDLength = 128

type idKey struct{}

// ID returns the correlation ID on ctx, or "".
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(idKey{}).(string)
	return id
}

// WithID stores id on ctx. Empty or unusable ids leave ctx unchanged.
func WithID(ctx context.Context, id string) context.Context {
	id = sanitize(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, idKey{}, id)
}

// Ensure returns ctx carrying a correlation ID. An ID already on ctx wins,
// then the caller supplied candidate, then a fresh ULID.
func Ensure(ctx context.Context, candidate string) (context.Context, string) {
	if id := ID(ctx); id != "" {
		return ctx, id
	}
	id := sanitize(candidate)
	if id == "" {
		id = ulid.Make().String()
	}
	return context.WithValue(ctx, idKey{}, id), id
}

// WithRemoteParent makes the span a device published with its reading the
// parent of work done on ctx. Malformed identifiers are ignored.
func WithRemoteParent(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	traceID, err := trace.TraceIDFromHex(strings.TrimSpace(traceIDHex))
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(strings.TrimSpace(spanIDHex))
	if err != nil {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
}

// sanitize drops ids that are too long or contain control characters, so a
// header or message body cannot inject line breaks into logs.
func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > maxIDLength {
		return ""
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return ""
		}
	}
	return id
}
