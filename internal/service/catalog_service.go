package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/metrics"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// CatalogService serves test definitions from Redis, falling back to PostgreSQL.
type CatalogService struct {
	testRepo *repository.TestRepository
	rdb      *redis.Client
	ttl      time.Duration
	log      zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(testRepo *repository.TestRepository, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		testRepo: testRepo,
		rdb:      rdb,
		ttl:      ttl,
		log:      log.With().Str("component", "catalog_service").Logger(),
	}
}

// GetTest returns the test with its sections and questions.
func (s *CatalogService) GetTest(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	key := config.CacheKey.TestCatalogKey(testID.String())

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t model.Test
		if jsonErr := json.Unmarshal(raw, &t); jsonErr == nil {
			metrics.CatalogCacheHits.Inc()
			return &t, nil
		}
		s.log.Warn().Str("test_id", testID.String()).Msg("Corrupt catalog cache entry, reloading")
	case errors.Is(err, redis.Nil):
	default:
		// Redis is down; PostgreSQL is still the source of truth.
		s.log.Warn().Err(err).Msg("Catalog cache read failed")
	}

	metrics.CatalogCacheMisses.Inc()
	return s.load(ctx, testID)
}

// Prewarm loads every test starting at or after since into the cache.
func (s *CatalogService) Prewarm(ctx context.Context, since time.Time) (int, error) {
	ids, err := s.testRepo.ListUpcomingIDs(ctx, since)
	if err != nil {
		return 0, err
	}
	warmed := 0
	for _, id := range ids {
		if _, err := s.load(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("test_id", id.String()).Msg("Prewarm failed")
			continue
		}
		warmed++
	}
	return warmed, nil
}

// Invalidate drops a cached test so the next read goes to PostgreSQL.
func (s *CatalogService) Invalidate(ctx context.Context, testID uuid.UUID) error {
	return s.rdb.Del(ctx, config.CacheKey.TestCatalogKey(testID.String())).Err()
}

func (s *CatalogService) load(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	t, err := s.testRepo.GetByID(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}

	// Self-heal: put it back in Redis so the next request is fast.
	if raw, err := json.Marshal(t); err == nil {
		if err := s.rdb.Set(ctx, config.CacheKey.TestCatalogKey(testID.String()), raw, s.ttl).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Catalog cache write failed")
		}
	}
	return t, nil
}
