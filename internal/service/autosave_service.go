package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

const autosaveTTL = 24 * time.Hour

// AutosaveService keeps in-progress answers hot in Redis and queues them for
// the autosave worker to persist.
type AutosaveService struct {
	rdb  *redis.Client
	repo *repository.AutosaveRepository
	log  zerolog.Logger
}

// NewAutosaveService creates a new AutosaveService.
func NewAutosaveService(rdb *redis.Client, repo *repository.AutosaveRepository, log zerolog.Logger) *AutosaveService {
	return &AutosaveService{
		rdb:  rdb,
		repo: repo,
		log:  log.With().Str("component", "autosave_service").Logger(),
	}
}

// Save records one answer in Redis and enqueues it for PostgreSQL.
func (s *AutosaveService) Save(ctx context.Context, sessionID uuid.UUID, sectionIndex int, questionID uuid.UUID, answer string) error {
	answer = model.NormalizeOption(answer)
	key := config.CacheKey.SectionAnswersKey(sessionID.String(), sectionIndex)

	payload, err := json.Marshal(model.AutosaveRecord{
		SessionID:    sessionID,
		SectionIndex: sectionIndex,
		QuestionID:   questionID,
		Answer:       answer,
	})
	if err != nil {
		return fmt.Errorf("marshal autosave record: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, questionID.String(), answer)
	pipe.Expire(ctx, key, autosaveTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("autosave answer: %w", err)
	}
	return nil
}

// Load returns question id → answer for a section, from Redis when present
// and from PostgreSQL otherwise.
func (s *AutosaveService) Load(ctx context.Context, sessionID uuid.UUID, sectionIndex int) (map[string]string, error) {
	key := config.CacheKey.SectionAnswersKey(sessionID.String(), sectionIndex)

	answers, err := s.rdb.HGetAll(ctx, key).Result()
	if err == nil && len(answers) > 0 {
		return answers, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Autosave cache read failed, using database")
	}

	return s.repo.ListBySection(ctx, sessionID, sectionIndex)
}
