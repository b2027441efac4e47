package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/database"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/repository"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// seed-demo creates a two-section test starting now plus a handful of
// standard and licensed students to try the session flow against.
func main() {
	var standard, licensed int
	var startIn time.Duration
	flag.IntVar(&standard, "standard", 10, "Number of standard students")
	flag.IntVar(&licensed, "licensed", 5, "Number of licensed students")
	flag.DurationVar(&startIn, "start-in", 0, "Delay before the test's scheduled start")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.ServiceName+"-seed", cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	testID := uuid.New()
	start := time.Now().Add(startIn)
	sec0, sec1 := uuid.New(), uuid.New()

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO tests (id, title, scheduled_start) VALUES ($1, $2, $3)`,
		testID, "Demo Assessment", start)
	batch.Queue(`INSERT INTO test_sections (id, test_id, section_index, title, kind, duration_minutes, correct_marks)
		VALUES ($1, $2, 0, 'Fundamentals', 'MCQ', 1, 1), ($3, $2, 1, 'Programming', 'CODING', 2, 0)`,
		sec0, testID, sec1)
	batch.Queue(`INSERT INTO mcq_questions (id, section_id, question_text, options, correct_option, order_num)
		VALUES ($1, $3, 'What is 2 + 2?', '["3","4","5","6"]', 'B', 1),
		       ($2, $3, 'Which keyword starts a goroutine?', '["go","async","spawn","thread"]', 'A', 2)`,
		uuid.New(), uuid.New(), sec0)
	batch.Queue(`INSERT INTO coding_questions (id, section_id, title, prompt, marks, order_num)
		VALUES ($1, $2, 'Reverse a string', 'Write a function that reverses its input.', 5, 1)`,
		uuid.New(), sec1)

	for i := 1; i <= standard; i++ {
		batch.Queue(`INSERT INTO students (id, name, department) VALUES ($1, $2, 'CS') ON CONFLICT (id) DO NOTHING`,
			fmt.Sprintf("std-%03d", i), fmt.Sprintf("Standard Student %d", i))
	}
	for i := 1; i <= licensed; i++ {
		batch.Queue(`INSERT INTO licensed_students (id, name, department, license_key) VALUES ($1, $2, 'CS', $3)
			ON CONFLICT (id) DO NOTHING`,
			fmt.Sprintf("lic-%03d", i), fmt.Sprintf("Licensed Student %d", i), uuid.NewString())
	}

	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		log.Fatal().Err(err).Msg("Seed failed")
	}

	// Drop any stale cache entry so the new test is read from PostgreSQL.
	if rdb, err := database.NewRedisClient(ctx, cfg, log); err == nil {
		catalog := service.NewCatalogService(repository.NewTestRepository(pool), rdb, cfg.CatalogCacheTTL, log)
		if err := catalog.Invalidate(ctx, testID); err != nil {
			log.Warn().Err(err).Msg("Cache invalidation failed")
		}
		rdb.Close()
	}

	log.Info().
		Str("test_id", testID.String()).
		Time("scheduled_start", start).
		Int("standard", standard).
		Int("licensed", licensed).
		Msg("Seed completed")

	if cfg.JWTSecret != "" {
		for _, id := range []string{"std-001", "lic-001"} {
			token, err := middleware.IssueStudentToken(cfg.JWTSecret, id, 4*time.Hour)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to issue token")
			}
			fmt.Printf("%s\t%s\n", id, token)
		}
	}
}
