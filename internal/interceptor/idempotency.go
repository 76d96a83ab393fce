package interceptor

import (
	"context"
	"fmt"
	"sync"

	"github.com/stageflow/stageflow/internal/runctx"
	"github.com/stageflow/stageflow/internal/stage"
)

// IdempotencyStore caches stage outputs by fingerprint. Implementations
// must be safe for concurrent use.
type IdempotencyStore interface {
	Get(fingerprint string) (*stage.Output, bool)
	Set(fingerprint string, out *stage.Output)
}

// MemoryIdempotencyStore is an in-process IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*stage.Output
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*stage.Output)}
}

// Get returns the cached output for the fingerprint.
func (s *MemoryIdempotencyStore) Get(fingerprint string) (*stage.Output, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.entries[fingerprint]
	return out, ok
}

// Set stores the output under the fingerprint.
func (s *MemoryIdempotencyStore) Set(fingerprint string, out *stage.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = out
}

// IdempotencyKeyFunc supplies a caller-defined key mixed into the
// fingerprint. Nil or empty results disable the user component.
type IdempotencyKeyFunc func(sc *runctx.StageContext) string

// IdempotencyInterceptor returns cached outputs for previously computed
// fingerprints and guarantees at most one concurrent build per fingerprint.
// By default only WORK stages participate.
type IdempotencyInterceptor struct {
	store    IdempotencyStore
	keyFunc  IdempotencyKeyFunc
	allKinds bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// IdempotencyOption customizes the interceptor.
type IdempotencyOption func(*IdempotencyInterceptor)

// WithIdempotencyKey installs a user key function.
func WithIdempotencyKey(fn IdempotencyKeyFunc) IdempotencyOption {
	return func(i *IdempotencyInterceptor) { i.keyFunc = fn }
}

// WithAllKinds applies idempotency to every stage kind, not just WORK.
func WithAllKinds() IdempotencyOption {
	return func(i *IdempotencyInterceptor) { i.allKinds = true }
}

// NewIdempotencyInterceptor creates the interceptor over the given store.
func NewIdempotencyInterceptor(store IdempotencyStore, opts ...IdempotencyOption) *IdempotencyInterceptor {
	i := &IdempotencyInterceptor{store: store, locks: make(map[string]*sync.Mutex)}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Priority places idempotency inside retry: a cached hit short-circuits
// before any attempt, and a retried success is cached once.
func (i *IdempotencyInterceptor) Priority() int { return 20 }

// Around checks the store before invoking the stage.
func (i *IdempotencyInterceptor) Around(ctx context.Context, sc *runctx.StageContext, next Next) (*stage.Output, error) {
	if i.store == nil || (!i.allKinds && sc.Kind != stage.KindWork) {
		return next()
	}

	fingerprint := i.Fingerprint(sc)
	if out, ok := i.store.Get(fingerprint); ok {
		return out, nil
	}

	lock := i.lockFor(fingerprint)
	lock.Lock()
	defer lock.Unlock()

	// Another build may have completed while we waited on the lock.
	if out, ok := i.store.Get(fingerprint); ok {
		return out, nil
	}

	out, err := next()
	if err == nil && out != nil && out.Status == stage.StatusOK {
		i.store.Set(fingerprint, out)
	}
	return out, err
}

// Fingerprint derives the cache key: stage name, canonical hash of the
// declared inputs, and the optional user key.
func (i *IdempotencyInterceptor) Fingerprint(sc *runctx.StageContext) string {
	inputsHash := stage.PayloadHash(nil)
	if sc.Inputs != nil {
		inputsHash = stage.PayloadHash(sc.Inputs.Merged())
	}
	userKey := ""
	if i.keyFunc != nil {
		userKey = i.keyFunc(sc)
	}
	return fmt.Sprintf("%s|%s|%s", sc.Name, inputsHash, userKey)
}

func (i *IdempotencyInterceptor) lockFor(fingerprint string) *sync.Mutex {
	i.mu.Lock()
	defer i.mu.Unlock()
	lock, ok := i.locks[fingerprint]
	if !ok {
		lock = &sync.Mutex{}
		i.locks[fingerprint] = lock
	}
	return lock
}
