package filesession

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"pkt.systems/filesession/internal/uuidv7"
)

func TestScopeHooksRunOnceInReverseOrder(t *testing.T) {
	t.Parallel()

	scope := NewScope(context.Background())
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		if !scope.OnClose(func(context.Context) { order = append(order, i) }) {
			t.Fatalf("register hook %d refused", i)
		}
	}
	if err := scope.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := scope.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !reflect.DeepEqual(order, []int{3, 2, 1}) {
		t.Fatalf("hook order = %v", order)
	}
	if !scope.Closed() {
		t.Fatalf("expected scope to report closed")
	}
	if scope.OnClose(func(context.Context) {}) {
		t.Fatalf("expected registration after close to be refused")
	}
}

func TestScopeCloseRecoversPanics(t *testing.T) {
	t.Parallel()

	scope := NewScope(context.Background())
	ran := false
	scope.OnClose(func(context.Context) { ran = true })
	scope.OnClose(func(context.Context) { panic("boom") })
	err := scope.Close()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected panic surfaced as error, got %v", err)
	}
	if !ran {
		t.Fatalf("remaining hooks must still run")
	}
}

func TestScopeHooksSeeLiveContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	scope := NewScope(ctx)
	var hookErr error = context.Canceled
	scope.OnClose(func(ctx context.Context) { hookErr = ctx.Err() })
	cancel()
	if scope.Context().Err() == nil {
		t.Fatalf("scope context should follow the request context")
	}
	if err := scope.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if hookErr != nil {
		t.Fatalf("hook context err = %v want nil", hookErr)
	}
}

func TestScopeIdentity(t *testing.T) {
	t.Parallel()

	a, b := NewScope(nil), NewScope(context.Background())
	if a.ID() == b.ID() {
		t.Fatalf("expected unique scope ids")
	}
	if _, err := uuidv7.Timestamp(a.ID()); err != nil {
		t.Fatalf("scope id is not a UUIDv7: %v", err)
	}
	if a.Context() == nil {
		t.Fatalf("nil ctx must be replaced")
	}

	var nilScope *Scope
	if nilScope.ID() != "" || nilScope.Context() == nil || !nilScope.Closed() || nilScope.Close() != nil {
		t.Fatalf("nil scope accessors must be safe")
	}
}

func TestScopeContextRoundTrip(t *testing.T) {
	t.Parallel()

	scope := NewScope(context.Background())
	ctx := ContextWithScope(context.Background(), scope)
	if got := ScopeFromContext(ctx); got != scope {
		t.Fatalf("ScopeFromContext = %p want %p", got, scope)
	}
	if ScopeFromContext(context.Background()) != nil {
		t.Fatalf("expected nil scope on bare context")
	}
	if ScopeFromContext(nil) != nil {
		t.Fatalf("expected nil scope on nil context")
	}
}
