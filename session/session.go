package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	flowpilot "github.com/goliatone/go-flowpilot"
)

// DefaultTTL is how long a viewer session stays resolvable.
const DefaultTTL = 24 * time.Hour

// Reference names the stored workflow a session points at.
type Reference struct {
	OwnerID  string `json:"owner_id"`
	Workflow string `json:"workflow"`
}

// Registry maps opaque session tokens to workflow references.
type Registry interface {
	// Create stores a reference and returns a fresh session token.
	Create(ctx context.Context, ref Reference) (string, error)
	// Resolve returns the reference behind a token, or MissingSession.
	Resolve(ctx context.Context, token string) (Reference, error)
	// Delete forgets the token. Unknown tokens are not an error.
	Delete(ctx context.Context, token string) error
}

type memoryEntry struct {
	ref       Reference
	expiresAt time.Time
}

// MemoryRegistry keeps sessions in process memory.
type MemoryRegistry struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
}

type MemoryOption func(*MemoryRegistry)

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(r *MemoryRegistry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTokenGenerator overrides token minting.
func WithTokenGenerator(newID func() string) MemoryOption {
	return func(r *MemoryRegistry) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// NewMemoryRegistry builds an in-memory registry.
func NewMemoryRegistry(opts ...MemoryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		entries: make(map[string]memoryEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *MemoryRegistry) Create(_ context.Context, ref Reference) (string, error) {
	token := r.newID()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked()
	r.entries[token] = memoryEntry{
		ref:       ref,
		expiresAt: r.now().Add(r.ttl),
	}
	return token, nil
}

func (r *MemoryRegistry) Resolve(_ context.Context, token string) (Reference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[token]
	if !ok || r.now().After(entry.expiresAt) {
		delete(r.entries, token)
		return Reference{}, flowpilot.NewMissingSession(token)
	}
	return entry.ref, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, token)
	return nil
}

// Sweep drops expired entries and reports how many remain. Create
// sweeps opportunistically; this lets a maintenance job reclaim memory
// on idle registries too.
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked()
	return len(r.entries)
}

// sweepLocked drops expired entries. Callers hold the mutex.
func (r *MemoryRegistry) sweepLocked() {
	now := r.now()
	for token, entry := range r.entries {
		if now.After(entry.expiresAt) {
			delete(r.entries, token)
		}
	}
}
