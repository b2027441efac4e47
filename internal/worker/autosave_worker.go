package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

const (
	AutosaveBatchSize    = 50
	AutosaveBatchTimeout = 2 * time.Second
	AutosavePollTimeout  = 1 * time.Second
)

// AnswerWriter persists queued autosave records.
type AnswerWriter interface {
	Upsert(ctx context.Context, sessionID uuid.UUID, sectionIndex int, questionID uuid.UUID, answer string) error
	UpsertBatch(ctx context.Context, records []model.AutosaveRecord) error
}

// AutosaveWorker drains persist_answers_queue into PostgreSQL in batches.
type AutosaveWorker struct {
	rdb    *redis.Client
	writer AnswerWriter
	log    zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(rdb *redis.Client, writer AnswerWriter, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		rdb:    rdb,
		writer: writer,
		log:    log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]model.AutosaveRecord, 0, AutosaveBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AutosaveBatchSize || time.Since(lastFlush) >= AutosaveBatchTimeout) {
			w.flush(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Flush and drain remaining items before exit.
			w.flush(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			item, err := w.rdb.BLPop(ctx, AutosavePollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var rec model.AutosaveRecord
			if err := json.Unmarshal([]byte(item[1]), &rec); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, rec)
		}
	}
}

// flush writes the batch in one statement, falling back to single upserts
// and requeueing whatever still fails.
func (w *AutosaveWorker) flush(ctx context.Context, batch []model.AutosaveRecord) {
	records := dedupe(batch)
	if len(records) == 0 {
		return
	}

	err := w.writer.UpsertBatch(ctx, records)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(records)).Msg("Bulk autosave failed, using fallback")

	for _, rec := range records {
		if err := w.writer.Upsert(ctx, rec.SessionID, rec.SectionIndex, rec.QuestionID, rec.Answer); err != nil {
			w.log.Error().Err(err).
				Str("session_id", rec.SessionID.String()).
				Msg("Persist error, requeueing")
			raw, _ := json.Marshal(rec)
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw)
		}
	}
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	var pending []model.AutosaveRecord
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}
		var rec model.AutosaveRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		pending = append(pending, rec)
	}

	if len(pending) > 0 {
		w.flush(ctx, pending)
		w.log.Info().Int("count", len(pending)).Msg("Drained remaining items")
	}
}

type answerKey struct {
	sessionID    uuid.UUID
	sectionIndex int
	questionID   uuid.UUID
}

// dedupe keeps the last answer per question; a single upsert statement
// cannot touch the same row twice.
func dedupe(batch []model.AutosaveRecord) []model.AutosaveRecord {
	pos := make(map[answerKey]int, len(batch))
	out := make([]model.AutosaveRecord, 0, len(batch))
	for _, rec := range batch {
		k := answerKey{rec.SessionID, rec.SectionIndex, rec.QuestionID}
		if i, ok := pos[k]; ok {
			out[i] = rec
			continue
		}
		pos[k] = len(out)
		out = append(out, rec)
	}
	return out
}
