package coordinator

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/daangn/websites-integration/store"
)

// Registry hands out coordinators and guarantees at most one per identity
// within the process. Identities are opaque UUID strings; the identity is
// the deployment's address, so a fresh deployment always means a fresh
// identity.
type Registry struct {
	store   store.Store
	baseURL *url.URL

	mu     sync.Mutex
	coords map[string]*Coordinator
}

// NewRegistry creates a registry over the given durable store. baseURL is
// the public base URL of the service, used to build check/artifact URLs.
func NewRegistry(s store.Store, baseURL string) (*Registry, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}

	return &Registry{
		store:   s,
		baseURL: u,
		coords:  make(map[string]*Coordinator),
	}, nil
}

// ParseID validates an identity string.
func ParseID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("malformed deployment id %q: %w", id, err)
	}
	return parsed.String(), nil
}

// Create mints a new identity and returns its coordinator. The record does
// not exist durably until the first mutation is persisted.
func (r *Registry) Create() *Coordinator {
	return r.GetOrCreate(uuid.NewString())
}

// GetOrCreate returns the coordinator for an identity, creating it on
// first access. Concurrent calls for the same identity observe the same
// instance.
func (r *Registry) GetOrCreate(id string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.coords[id]; ok {
		return c
	}
	c := &Coordinator{id: id, base: r.baseURL, store: r.store}
	r.coords[id] = c
	return c
}

// Get resolves an identity that is expected to exist. It returns
// store.ErrNotFound when the identity has no durable record, which the
// boundary maps to 404.
func (r *Registry) Get(ctx context.Context, id string) (*Coordinator, error) {
	if _, err := r.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.GetOrCreate(id), nil
}
