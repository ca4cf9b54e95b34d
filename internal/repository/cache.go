package repository

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// CachedStore wraps a Store with an expiring LRU cache in front of state
// definition lookups. Definitions are read on every successor resolution and
// change rarely; any write through the store purges the cache.
type CachedStore struct {
	domain.Store
	definitions *CachedDefinitions
}

// NewCachedStore wraps store with a definition cache of the given size and TTL
func NewCachedStore(store domain.Store, size int, ttl time.Duration, logger *logrus.Logger) *CachedStore {
	if size <= 0 {
		size = 256
	}
	return &CachedStore{
		Store: store,
		definitions: &CachedDefinitions{
			next:  store.Definitions(),
			cache: expirable.NewLRU[string, *domain.StateDefinition](size, nil, ttl),
			log:   logger,
		},
	}
}

// Definitions returns the caching definition repository
func (s *CachedStore) Definitions() domain.DefinitionRepository {
	return s.definitions
}

// CachedDefinitions caches GetBySlug results
type CachedDefinitions struct {
	next  domain.DefinitionRepository
	cache *expirable.LRU[string, *domain.StateDefinition]
	log   *logrus.Logger
}

// GetBySlug serves from the cache when possible. Callers receive a copy.
func (c *CachedDefinitions) GetBySlug(ctx context.Context, slug string) (*domain.StateDefinition, error) {
	if def, ok := c.cache.Get(slug); ok {
		return copyDefinition(def), nil
	}
	def, err := c.next.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	c.cache.Add(slug, copyDefinition(def))
	return def, nil
}

func (c *CachedDefinitions) List(ctx context.Context, filter domain.DefinitionFilter) ([]*domain.StateDefinition, error) {
	return c.next.List(ctx, filter)
}

func (c *CachedDefinitions) Create(ctx context.Context, def *domain.StateDefinition) error {
	defer c.invalidate(def.Slug)
	return c.next.Create(ctx, def)
}

func (c *CachedDefinitions) Update(ctx context.Context, def *domain.StateDefinition) error {
	defer c.invalidate(def.Slug)
	return c.next.Update(ctx, def)
}

func (c *CachedDefinitions) Delete(ctx context.Context, slug string) error {
	defer c.invalidate(slug)
	return c.next.Delete(ctx, slug)
}

// Len reports the number of cached definitions
func (c *CachedDefinitions) Len() int {
	return c.cache.Len()
}

func (c *CachedDefinitions) invalidate(slug string) {
	if c.cache.Remove(slug) {
		c.log.WithField("slug", slug).Debug("Definition cache entry invalidated")
	}
}
