package filesession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"

	"pkt.systems/filesession/internal/clock"
	"pkt.systems/filesession/internal/codec"
	"pkt.systems/filesession/internal/filelock"
	"pkt.systems/filesession/internal/loggingutil"
	"pkt.systems/filesession/internal/pathutil"
	"pkt.systems/filesession/internal/sessioncrypto"
)

// ErrInvalidSessionID is reported for ids that cannot name a session file.
var ErrInvalidSessionID = errors.New("filesession: invalid session id")

// Data is the attribute mapping of one session.
type Data map[string]any

// SessionStore is the contract the session layer depends on.
type SessionStore interface {
	Get(scope *Scope, sid, key string, def any) any
	Set(scope *Scope, sid, key string, value any) error
	Delete(scope *Scope, sid, key string) error
	DeleteExpiredSessions(scope *Scope, expires time.Time) error
}

var _ SessionStore = (*Store)(nil)

// Store keeps one file per session under Config.Root.
type Store struct {
	cfg        Config
	codec      codec.Codec
	crypto     *sessioncrypto.Crypto
	ownsCrypto bool
	logger     pslog.Logger
	clock      clock.Clock
	open       OpenFunc
	metrics    *storeMetrics
	tracer     trace.Tracer
}

type entryKey struct {
	store *Store
	sid   string
}

// entry is the per-(scope, sid) cache slot. path stays empty when the
// mapping must never be written back.
type entry struct {
	once sync.Once

	mu    sync.Mutex
	sid   string
	path  string
	data  Data
	dirty bool
}

// New validates cfg and builds a Store. When cfg.KeyFile is set and no
// WithCrypto option is given, the key file is loaded here.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	cd, err := codec.Lookup(cfg.Codec)
	if err != nil {
		return nil, err
	}
	open := o.Open
	if open == nil {
		open = os.OpenFile
	}
	s := &Store{
		cfg:     cfg,
		codec:   cd,
		logger:  o.Logger,
		clock:   clock.Ensure(o.Clock),
		open:    open,
		metrics: newStoreMetrics(loggingutil.EnsureLogger(o.Logger)),
		tracer:  otel.Tracer(instrumentationName),
	}
	switch {
	case o.Crypto != nil:
		s.crypto = o.Crypto
	case cfg.KeyFile != "":
		c, err := sessioncrypto.Load(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("filesession: %w", err)
		}
		s.crypto = c
		s.ownsCrypto = true
	}
	return s, nil
}

// Close releases key material loaded by New.
func (s *Store) Close() error {
	if s != nil && s.ownsCrypto {
		s.crypto.Close()
		s.crypto = nil
		s.ownsCrypto = false
	}
	return nil
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Root returns the directory holding session files.
func (s *Store) Root() string {
	return s.cfg.Root
}

// Path resolves the session file for sid.
func (s *Store) Path(sid string) (string, error) {
	if err := pathutil.ValidateName(sid); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSessionID, err)
	}
	return filepath.Join(s.cfg.Root, sid), nil
}

// NewSessionID returns a fresh, file-name-safe session id.
func NewSessionID() string {
	return xid.New().String()
}

// Get returns the value stored under key, or def when the key is absent or
// the session could not be loaded.
func (s *Store) Get(scope *Scope, sid, key string, def any) any {
	e := s.load(scope, sid)
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.data[key]; ok {
		return v
	}
	return def
}

// Set stores value under key. The change is written when the scope closes.
func (s *Store) Set(scope *Scope, sid, key string, value any) error {
	e := s.load(scope, sid)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data[key] = value
	e.dirty = true
	return nil
}

// Delete removes key. A session left without keys is removed from disk when
// the scope closes.
func (s *Store) Delete(scope *Scope, sid, key string) error {
	e := s.load(scope, sid)
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.data, key)
	e.dirty = true
	return nil
}

// DeleteExpiredSessions does nothing; expiry sweeping is left to the host.
func (s *Store) DeleteExpiredSessions(scope *Scope, expires time.Time) error {
	s.loggerFor(scope.Context()).Trace("filesession.expire.skipped", "expires", expires)
	return nil
}

// Keys returns the sorted keys of the session without marking it modified.
func (s *Store) Keys(scope *Scope, sid string) []string {
	e := s.load(scope, sid)
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Sorted(maps.Keys(e.data))
}

// Snapshot returns a shallow copy of the session mapping.
func (s *Store) Snapshot(scope *Scope, sid string) Data {
	e := s.load(scope, sid)
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.data)
}

func (s *Store) loggerFor(ctx context.Context) pslog.Logger {
	return loggingutil.WithSubsystem(loggingutil.FromContext(ctx, s.logger), "filesession", "store")
}

func (s *Store) load(scope *Scope, sid string) *entry {
	if scope == nil {
		s.loggerFor(context.Background()).Warn("filesession.scope.missing", "sid", sid)
		return &entry{sid: sid, data: Data{}}
	}
	e := scope.entryFor(entryKey{store: s, sid: sid}, func() *entry {
		return &entry{sid: sid}
	})
	e.once.Do(func() {
		s.loadEntry(scope, e)
	})
	return e
}

func (s *Store) loadEntry(scope *Scope, e *entry) {
	ctx, span := s.tracer.Start(scope.Context(), "filesession.load", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("filesession.scope_id", scope.ID()),
		attribute.String("filesession.codec", s.codec.Name()),
	)
	logger := s.loggerFor(ctx).With("sid", e.sid, "scope", scope.ID())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = Data{}
	result, err := s.fill(ctx, scope, e, logger)
	s.metrics.recordLoad(ctx, result)
	finishSpan(span, result, err)
}

func (s *Store) fill(ctx context.Context, scope *Scope, e *entry, logger pslog.Logger) (string, error) {
	path, err := s.Path(e.sid)
	if err != nil {
		logger.Warn("filesession.load.invalid_sid", "error", err)
		return resultInvalidSID, err
	}
	logger.Trace("filesession.load.begin", "path", path)
	f, err := s.openSession(path)
	if err != nil {
		logger.Warn("filesession.load.open_failed", "path", path, "error", err)
		return resultOpenFailed, err
	}
	defer f.Close()

	e.path = path
	if !scope.OnClose(func(ctx context.Context) { s.commit(ctx, scope, e) }) {
		logger.Debug("filesession.load.scope_closed", "path", path)
	}

	lk, err := s.acquire(ctx, path)
	if err != nil {
		s.metrics.recordLockFailure(ctx, "load")
		logger.Debug("filesession.load.lock_failed", "path", path, "error", err)
		return resultLockFailed, err
	}
	defer lk.Unlock()

	raw, err := io.ReadAll(f)
	if err != nil {
		logger.Debug("filesession.load.read_failed", "path", path, "error", err)
		return resultDecodeError, err
	}
	data, err := s.decode(raw)
	if err != nil {
		logger.Debug("filesession.load.decode_failed", "path", path, "bytes", len(raw), "error", err)
		return resultDecodeError, err
	}
	e.data = data
	logger.Trace("filesession.load.success", "path", path, "keys", len(data), "bytes", len(raw))
	return resultOK, nil
}

func (s *Store) commit(ctx context.Context, scope *Scope, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty || e.path == "" {
		return
	}
	ctx, span := s.tracer.Start(context.WithoutCancel(ctx), "filesession.commit", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("filesession.scope_id", scope.ID()),
		attribute.Int("filesession.keys", len(e.data)),
	)
	logger := s.loggerFor(ctx).With("sid", e.sid, "scope", scope.ID(), "path", e.path)

	result, size, err := s.write(ctx, e, logger)
	if err == nil {
		e.dirty = false
	}
	s.metrics.recordCommit(ctx, result, size)
	finishSpan(span, result, err)
}

func (s *Store) write(ctx context.Context, e *entry, logger pslog.Logger) (string, int, error) {
	if len(e.data) == 0 {
		if err := removeIfExists(e.path); err != nil {
			logger.Warn("filesession.commit.remove_failed", "error", err)
			return resultWriteFailed, 0, err
		}
		logger.Trace("filesession.commit.removed")
		return resultRemoved, 0, nil
	}

	payload, err := s.encode(e.data)
	if err != nil {
		logger.Warn("filesession.commit.encode_failed", "error", err)
		return resultEncodeError, 0, err
	}

	lk, err := s.acquire(ctx, e.path)
	if err != nil {
		s.metrics.recordLockFailure(ctx, "commit")
		logger.Debug("filesession.commit.lock_failed", "error", err)
		return resultLockFailed, 0, err
	}
	defer lk.Unlock()

	if err := s.overwrite(e.path, payload); err != nil {
		logger.Warn("filesession.commit.write_failed", "error", err)
		return resultWriteFailed, 0, err
	}
	logger.Trace("filesession.commit.success", "keys", len(e.data), "bytes", len(payload))
	return resultOK, len(payload), nil
}

// overwrite replaces the contents of path in place: write from offset zero,
// drop stale trailing bytes, then sync.
func (s *Store) overwrite(path string, payload []byte) error {
	f, err := s.openSession(path)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(payload, 0); err != nil {
		f.Close()
		return fmt.Errorf("filesession: write %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("filesession: stat %q: %w", path, err)
	}
	if info.Size() > int64(len(payload)) {
		if err := f.Truncate(int64(len(payload))); err != nil {
			f.Close()
			return fmt.Errorf("filesession: truncate %q: %w", path, err)
		}
	}
	if err := syncFile(f); err != nil {
		f.Close()
		return fmt.Errorf("filesession: sync %q: %w", path, err)
	}
	return f.Close()
}

// openSession opens path read-write, creating the file and, when missing, its
// parent directories.
func (s *Store) openSession(path string) (*os.File, error) {
	f, err := s.open(path, os.O_RDWR|os.O_CREATE, s.cfg.FileMode)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("filesession: open %q: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.cfg.DirMode); err != nil {
		return nil, fmt.Errorf("filesession: create dir %q: %w", dir, err)
	}
	f, err = s.open(path, os.O_RDWR|os.O_CREATE, s.cfg.FileMode)
	if err != nil {
		return nil, fmt.Errorf("filesession: open %q: %w", path, err)
	}
	return f, nil
}

func (s *Store) acquire(ctx context.Context, path string) (*filelock.Lock, error) {
	return filelock.Acquire(ctx, filelock.PathFor(path), filelock.Options{
		Timeout:      s.cfg.LockTimeout,
		PollInterval: s.cfg.LockPollInterval,
		Clock:        s.clock,
		FileMode:     s.cfg.FileMode,
	})
}

func (s *Store) encode(data Data) ([]byte, error) {
	payload, err := s.codec.Marshal(data)
	if err != nil {
		return nil, err
	}
	return s.crypto.Encrypt(payload)
}

// decode turns file contents into a mapping. Empty input is an empty mapping.
func (s *Store) decode(raw []byte) (Data, error) {
	if len(raw) == 0 {
		return Data{}, nil
	}
	plaintext, err := s.crypto.Decrypt(raw)
	if err != nil {
		return nil, err
	}
	m, err := s.codec.Unmarshal(plaintext)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return Data{}, nil
	}
	return Data(m), nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func finishSpan(span trace.Span, result string, err error) {
	span.SetAttributes(attribute.String("filesession.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return
	}
	span.SetStatus(codes.Ok, "")
}
