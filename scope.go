package filesession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/filesession/internal/uuidv7"
)

// Scope is the lifetime of one request. It carries the context for lock
// waits and logging, caches session mappings loaded during the request and
// runs registered close hooks when the request ends.
type Scope struct {
	ctx context.Context
	id  string

	mu      sync.Mutex
	closed  bool
	hooks   []func(context.Context)
	entries map[entryKey]*entry
}

type scopeContextKey struct{}

// NewScope starts a scope bound to ctx. A nil ctx is replaced by
// context.Background.
func NewScope(ctx context.Context) *Scope {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Scope{
		ctx:     ctx,
		id:      uuidv7.NewString(),
		entries: make(map[entryKey]*entry),
	}
}

// Context returns the context the scope was created with.
func (s *Scope) Context() context.Context {
	if s == nil || s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// ID returns the scope identifier (UUIDv7).
func (s *Scope) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// OnClose registers fn to run when the scope closes. Hooks run once, most
// recently registered first. It reports false when the scope is already
// closed, in which case fn is dropped.
func (s *Scope) OnClose(fn func(context.Context)) bool {
	if s == nil || fn == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.hooks = append(s.hooks, fn)
	return true
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close runs the registered hooks with a context that is no longer cancelled
// by the request. Later calls are no-ops. Panicking hooks are recovered and
// reported in the returned error; remaining hooks still run.
func (s *Scope) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	ctx := context.WithoutCancel(s.Context())
	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := runHook(ctx, hooks[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runHook(ctx context.Context, fn func(context.Context)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("filesession: scope hook panicked: %v", r)
		}
	}()
	fn(ctx)
	return nil
}

// entryFor returns the cached entry for key, creating it with mk when absent.
func (s *Scope) entryFor(key entryKey, mk func() *entry) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e := mk()
	s.entries[key] = e
	return e
}

// ContextWithScope attaches scope to ctx.
func ContextWithScope(ctx context.Context, scope *Scope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext returns the scope attached by ContextWithScope, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(scopeContextKey{}).(*Scope)
	return scope
}
