// Package mapper implements the Name Mapper component (spec §4.4): a
// persistent public-name <-> internal-name translation table with an
// in-memory read cache, refreshed atomically on every mutation. Grounded
// on the teacher's repository-backed cache pattern (load-then-serve from
// memory, invalidate on write) used across arkeep's settings lookups.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arkeep-io/llmgateway/internal/db"
	"github.com/arkeep-io/llmgateway/internal/repository"
)

// ErrNotFound is returned by Remove when the public name has no mapping,
// and by lookups when the Strict() option is set and no mapping exists.
var ErrNotFound = errors.New("mapper: mapping not found")

// Mapper translates between externally-visible public model names and the
// on-disk internal names agents understand.
type Mapper struct {
	repo repository.ModelMappingRepository

	mu            sync.RWMutex
	publicToIntl  map[string]string
	intlToPublic  map[string]string

	// strict disables the identity fallback described in spec §4.4 and §9
	// ("design decision enabling ad-hoc testing"). Production gateways
	// leave this false; it exists so tests can assert a real
	// model_not_found path without needing a populated mapping table.
	strict bool
}

// Option configures a Mapper at construction time.
type Option func(*Mapper)

// Strict disables the identity fallback on lookups: an unmapped name
// yields ErrNotFound instead of being echoed back unchanged.
func Strict() Option {
	return func(m *Mapper) { m.strict = true }
}

// New constructs a Mapper and loads its initial cache from repo. ctx
// bounds the initial load only.
func New(ctx context.Context, repo repository.ModelMappingRepository, opts ...Option) (*Mapper, error) {
	m := &Mapper{
		repo:         repo,
		publicToIntl: make(map[string]string),
		intlToPublic: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.refresh(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mapper) refresh(ctx context.Context) error {
	mappings, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("mapper: refresh: %w", err)
	}

	publicToIntl := make(map[string]string, len(mappings))
	intlToPublic := make(map[string]string, len(mappings))
	for _, mm := range mappings {
		publicToIntl[mm.PublicName] = mm.InternalName
		intlToPublic[mm.InternalName] = mm.PublicName
	}

	m.mu.Lock()
	m.publicToIntl = publicToIntl
	m.intlToPublic = intlToPublic
	m.mu.Unlock()
	return nil
}

// PublicToInternal translates a public name to its internal name. With
// the identity fallback enabled (the default), an unmapped name is
// returned unchanged rather than failing — per spec §4.4/§9.
func (m *Mapper) PublicToInternal(name string) (string, error) {
	m.mu.RLock()
	internal, ok := m.publicToIntl[name]
	m.mu.RUnlock()

	if ok {
		return internal, nil
	}
	if m.strict {
		return "", ErrNotFound
	}
	return name, nil
}

// InternalToPublic is the symmetric lookup, used when rendering a model
// name back to a client (e.g. GET /v1/models).
func (m *Mapper) InternalToPublic(name string) (string, error) {
	m.mu.RLock()
	public, ok := m.intlToPublic[name]
	m.mu.RUnlock()

	if ok {
		return public, nil
	}
	if m.strict {
		return "", ErrNotFound
	}
	return name, nil
}

// Add persists a new mapping and refreshes the cache.
func (m *Mapper) Add(ctx context.Context, internalName, publicName string) (*db.ModelMapping, error) {
	mm, err := m.repo.Create(ctx, internalName, publicName)
	if err != nil {
		return nil, err
	}
	if err := m.refresh(ctx); err != nil {
		return nil, err
	}
	return mm, nil
}

// Remove deletes the mapping for publicName and refreshes the cache.
func (m *Mapper) Remove(ctx context.Context, publicName string) error {
	if err := m.repo.DeleteByPublicName(ctx, publicName); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return m.refresh(ctx)
}

// List returns every persisted mapping, ordered by creation time.
func (m *Mapper) List(ctx context.Context) ([]db.ModelMapping, error) {
	return m.repo.List(ctx)
}
