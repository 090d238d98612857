package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/hogarapp/finsync/core"
)

const connectionCacheKeyPrefix = "finsync::connection::v1"

// CachedConnectionStore serves connection reads through a cache service and
// invalidates on every write. List queries always hit the base store; only
// Get is cached because the sync loop reads the same connection repeatedly.
type CachedConnectionStore struct {
	base  core.ConnectionStore
	cache repositorycache.CacheService
}

func NewCachedConnectionStore(
	base core.ConnectionStore,
	cacheService repositorycache.CacheService,
) (*CachedConnectionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionStore{base: base, cache: cacheService}, nil
}

// ConnectionCacheKey returns the deterministic cache key for connection
// reads: finsync::connection::v1::<connection_id> with the id URL-path
// escaped after trimming.
func ConnectionCacheKey(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: connection id is required")
	}
	return connectionCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedConnectionStore) Create(ctx context.Context, in core.CreateConnectionInput) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.Create(ctx, in)
}

func (s *CachedConnectionStore) Get(ctx context.Context, id string) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	cacheKey, err := ConnectionCacheKey(id)
	if err != nil {
		return core.Connection{}, err
	}
	connection, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Connection, error) {
		fetched, fetchErr := s.base.Get(ctx, id)
		if fetchErr != nil {
			return core.Connection{}, fetchErr
		}
		return cloneConnection(fetched), nil
	})
	if err != nil {
		return core.Connection{}, err
	}
	return cloneConnection(connection), nil
}

func (s *CachedConnectionStore) ListEligible(ctx context.Context, frequencies ...core.SyncFrequency) ([]core.Connection, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.ListEligible(ctx, frequencies...)
}

func (s *CachedConnectionStore) ListByOwner(ctx context.Context, ownerID string) ([]core.Connection, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	return s.base.ListByOwner(ctx, ownerID)
}

func (s *CachedConnectionStore) UpdateSyncStatus(ctx context.Context, id string, update core.SyncStatusUpdate) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.UpdateSyncStatus(ctx, id, update); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedConnectionStore) SaveCredentials(ctx context.Context, id string, credentials map[string]string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.SaveCredentials(ctx, id, credentials); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedConnectionStore) ClearCredentials(ctx context.Context, id string, reason string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.ClearCredentials(ctx, id, reason); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedConnectionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached connection store is not configured")
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx, id)
}

func (s *CachedConnectionStore) invalidate(ctx context.Context, id string) error {
	cacheKey, err := ConnectionCacheKey(id)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneConnection(connection core.Connection) core.Connection {
	cloned := connection
	cloned.Credentials = copyStringMap(connection.Credentials)
	if connection.LastSyncAt != nil {
		value := *connection.LastSyncAt
		cloned.LastSyncAt = &value
	}
	return cloned
}

var _ core.ConnectionStore = (*CachedConnectionStore)(nil)
