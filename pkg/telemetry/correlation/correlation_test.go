package correlation

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestEnsureGenerates(t *testing.T) {
	ctx, cid := Ensure(context.Background(), "")
	if len(cid) != 26 {
		t.Fatalf("expected ulid, got %q", cid)
	}
	if got := ID(ctx); got != cid {
		t.Fatalf("expected %q on context, got %q", cid, got)
	}
}

func TestEnsurePrefersContext(t *testing.T) {
	ctx := WithID(context.Background(), "existing")
	_, cid := Ensure(ctx, "header")
	if cid != "existing" {
		t.Fatalf("expected existing, got %q", cid)
	}

	_, cid = Ensure(context.Background(), " header ")
	if cid != "header" {
		t.Fatalf("expected header, got %q", cid)
	}
}

func TestUnusableIDsAreReplaced(t *testing.T) {
	for _, candidate := range []string{"gh-1\nforged=1", strings.Repeat("a", maxIDLength+1)} {
		_, cid := Ensure(context.Background(), candidate)
		if cid == candidate || len(cid) != 26 {
			t.Fatalf("expected %q to be replaced by a ulid, got %q", candidate, cid)
		}
	}
	if ctx := WithID(context.Background(), "bad\tid"); ID(ctx) != "" {
		t.Fatalf("expected control characters to be rejected")
	}
}

func TestWithRemoteParent(t *testing.T) {
	ctx := WithRemoteParent(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736", "00f067aa0ba902b7")
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsRemote() || !sc.IsSampled() {
		t.Fatalf("expected sampled remote span context, got %+v", sc)
	}
	if sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}

	for _, ids := range [][2]string{{"zz", "00f067aa0ba902b7"}, {"", ""}, {"4bf92f3577b34da6a3ce929d0e0e4736", ""}} {
		if ctx := WithRemoteParent(context.Background(), ids[0], ids[1]); trace.SpanContextFromContext(ctx).IsValid() {
			t.Fatalf("expected %v to be ignored", ids)
		}
	}
}
