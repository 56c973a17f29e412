package substitution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"merenda/internal/platform/redis"
	id "merenda/pkg/domain"
)

// CachedCatalog decorates a Catalog with a Redis cache. Catalog data moves
// slowly (products are curated, not transactional), so a short TTL removes
// most round trips without a separate invalidation path. Cache failures
// degrade to a direct catalog call, never to a request failure.
type CachedCatalog struct {
	next   Catalog
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedCatalog(next Catalog, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedCatalog {
	return &CachedCatalog{next: next, redis: client, ttl: ttl, logger: logger}
}

func cacheKey(originProductID id.ProductID) string {
	return fmt.Sprintf("catalog:candidates:%s", originProductID)
}

func (c *CachedCatalog) ListCandidates(ctx context.Context, originProductID id.ProductID) ([]Candidate, error) {
	key := cacheKey(originProductID)

	payload, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var candidates []Candidate
		if err := json.Unmarshal(payload, &candidates); err == nil {
			return candidates, nil
		}
		// Corrupt entry: fall through to a fresh fetch and overwrite.
	} else if err != goredis.Nil {
		c.logger.WarnContext(ctx, "catalog cache read failed",
			"product_id", originProductID,
			"error", err,
		)
	}

	candidates, err := c.next.ListCandidates(ctx, originProductID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(candidates); err == nil {
		if err := c.redis.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "catalog cache write failed",
				"product_id", originProductID,
				"error", err,
			)
		}
	}
	return candidates, nil
}

// Invalidate drops the cached candidates for one product.
func (c *CachedCatalog) Invalidate(ctx context.Context, originProductID id.ProductID) error {
	return c.redis.Del(ctx, cacheKey(originProductID)).Err()
}
