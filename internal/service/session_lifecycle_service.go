package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/metrics"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// LifecycleOptions tunes the session lifecycle.
type LifecycleOptions struct {
	// StartGrace is how long after the scheduled start a new session may be created.
	StartGrace    time.Duration
	NotifyTimeout time.Duration
}

// SessionLifecycleService owns the session state machine: start, resume,
// section advancement and completion.
type SessionLifecycleService struct {
	sessions SessionStore
	catalog  SectionCatalog
	identity IdentityResolver
	scorer   *ScoringEngine
	autosave AutosaveStore
	timeouts Timeouts
	notifier CompletionNotifier
	opts     LifecycleOptions
	log      zerolog.Logger

	now      func() time.Time
	notifyWG sync.WaitGroup
}

// NewSessionLifecycleService creates a new SessionLifecycleService.
func NewSessionLifecycleService(
	sessions SessionStore,
	catalog SectionCatalog,
	identity IdentityResolver,
	scorer *ScoringEngine,
	autosave AutosaveStore,
	timeouts Timeouts,
	notifier CompletionNotifier,
	opts LifecycleOptions,
	log zerolog.Logger,
) *SessionLifecycleService {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 5 * time.Second
	}
	return &SessionLifecycleService{
		sessions: sessions,
		catalog:  catalog,
		identity: identity,
		scorer:   scorer,
		autosave: autosave,
		timeouts: timeouts,
		notifier: notifier,
		opts:     opts,
		log:      log.With().Str("component", "session_lifecycle").Logger(),
		now:      time.Now,
	}
}

// CheckEligibility mirrors the StartSession preconditions without writing anything.
func (s *SessionLifecycleService) CheckEligibility(ctx context.Context, testID uuid.UUID, studentID string) (*model.EligibilityDecision, error) {
	_, _, _, d, err := s.evaluate(ctx, testID, studentID)
	return d, err
}

// StartSession creates a session or resumes the student's unfinished one.
// A rejected start returns *EligibilityError.
func (s *SessionLifecycleService) StartSession(ctx context.Context, testID uuid.UUID, studentID string) (*StartResult, error) {
	test, acct, existing, d, err := s.evaluate(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if !d.CanTakeTest {
		metrics.EligibilityRejections.WithLabelValues(string(*d.Reason)).Inc()
		return nil, newEligibilityError(d)
	}
	if existing != nil {
		return s.resume(acct, existing), nil
	}

	first, ok := test.Section(0)
	if !ok {
		return nil, ErrSectionNotFound
	}

	now := s.now()
	sectionEnd := now.Add(first.Duration())
	sess := &model.Session{
		ID:                      uuid.New(),
		TestID:                  test.ID,
		StudentID:               studentID,
		Status:                  model.SessionStatusInProgress,
		CurrentSectionIndex:     0,
		CompletedSectionIndices: []int{},
		StartedAt:               now,
		SectionStartTime:        &now,
		SectionEndTime:          &sectionEnd,
		ExpiresAt:               now.Add(test.TotalDuration()),
		MaxScore:                test.MaxScore(),
	}
	firstScore := &model.SectionScore{
		SessionID:    sess.ID,
		SectionIndex: 0,
		Status:       model.SectionScoreInProgress,
		MaxScore:     first.MaxScore(),
		UpdatedAt:    now,
	}

	if err := s.sessions.Create(ctx, sess, firstScore); err != nil {
		if !errors.Is(err, repository.ErrSessionExists) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		// A concurrent start won; apply the same rules to the row it wrote.
		existing, err := s.sessions.GetByTestAndStudent(ctx, testID, studentID)
		if err != nil {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
		}
		d := decide(test, acct, existing, s.now(), s.opts.StartGrace)
		if !d.CanTakeTest {
			metrics.EligibilityRejections.WithLabelValues(string(*d.Reason)).Inc()
			return nil, newEligibilityError(d)
		}
		return s.resume(acct, existing), nil
	}

	s.timeouts.Schedule(sess)
	metrics.SessionsStarted.WithLabelValues(string(acct.Kind()), "created").Inc()
	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("test_id", testID.String()).
		Str("student_id", studentID).
		Str("account_kind", string(acct.Kind())).
		Msg("Session started")

	return &StartResult{Session: sess}, nil
}

func (s *SessionLifecycleService) resume(acct model.Account, sess *model.Session) *StartResult {
	s.timeouts.Schedule(sess)
	metrics.SessionsStarted.WithLabelValues(string(acct.Kind()), "resumed").Inc()
	return &StartResult{Session: sess, Resumed: true}
}

// FindSession returns the session of a (test, student) pair.
func (s *SessionLifecycleService) FindSession(ctx context.Context, testID uuid.UUID, studentID string) (*model.Session, error) {
	sess, err := s.sessions.GetByTestAndStudent(ctx, testID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return sess, nil
}

// GetCurrentSection reports the active section, a running break, an expired
// section or a finished test. An elapsed break is ended as a side effect.
func (s *SessionLifecycleService) GetCurrentSection(ctx context.Context, sessionID uuid.UUID) (*CurrentSectionView, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	test, err := s.catalog.GetTest(ctx, sess.TestID)
	if err != nil {
		return nil, err
	}

	view := &CurrentSectionView{
		SectionIndex: sess.CurrentSectionIndex,
		SectionCount: test.SectionCount(),
	}
	if sess.IsCompleted() {
		view.State = CurrentStateTestCompleted
		view.TestCompleted = true
		return view, nil
	}

	section, ok := test.Section(sess.CurrentSectionIndex)
	if !ok {
		return nil, ErrSectionNotFound
	}

	now := s.now()
	if sess.Status == model.SessionStatusOnBreak {
		if sess.BreakEndTime != nil && now.Before(*sess.BreakEndTime) {
			view.State = CurrentStateOnBreak
			view.OnBreak = true
			view.RemainingSeconds = remainingSeconds(*sess.BreakEndTime, now)
			return view, nil
		}
		sess, err = s.sessions.EndBreak(ctx, sess.ID, now, now.Add(section.Duration()))
		if err != nil {
			return nil, fmt.Errorf("end break: %w", err)
		}
		s.timeouts.Schedule(sess)
	}

	view.SectionEndTime = sess.SectionEndTime
	if sess.SectionExpired(now) {
		// Arms an immediate fire if the timer was lost.
		s.timeouts.Schedule(sess)
		view.State = CurrentStateExpired
		view.SectionExpired = true
		return view, nil
	}

	view.State = CurrentStateSection
	view.Section = section.ForStudent()
	if sess.SectionEndTime != nil {
		view.RemainingSeconds = remainingSeconds(*sess.SectionEndTime, now)
	}
	saved, err := s.autosave.Load(ctx, sess.ID, sess.CurrentSectionIndex)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Could not load autosaved answers")
	}
	view.SavedAnswers = saved
	return view, nil
}

// SubmitSection scores and records the current section for the client.
func (s *SessionLifecycleService) SubmitSection(ctx context.Context, sessionID uuid.UUID, req *model.SubmitSectionRequest) (*SubmitResult, error) {
	answers, err := model.NewAnswerPayload(req.MCQAnswers, req.CodingSubmissions)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, sessionID, req.SectionIndex, answers, req.TimeSpent, model.SubmissionSourceClient)
}

// AutoSubmit closes sectionIndex with the last autosaved answers. It is a
// no-op when the section was already closed by someone else.
func (s *SessionLifecycleService) AutoSubmit(ctx context.Context, sessionID uuid.UUID, sectionIndex int) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.log.Warn().Str("session_id", sessionID.String()).Msg("Timeout fired for unknown session")
			return nil
		}
		return err
	}
	if sess.Status != model.SessionStatusInProgress || sess.CurrentSectionIndex != sectionIndex {
		return nil
	}

	saved, err := s.autosave.Load(ctx, sessionID, sectionIndex)
	if err != nil {
		return fmt.Errorf("load autosaved answers: %w", err)
	}
	answers := model.EmptyAnswerPayload()
	for k, v := range saved {
		qid, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		answers.MCQAnswers[qid] = model.NormalizeOption(v)
	}

	timeSpent := 0
	if sess.SectionStartTime != nil {
		timeSpent = int(s.now().Sub(*sess.SectionStartTime).Seconds())
	}

	_, err = s.submit(ctx, sessionID, &sectionIndex, answers, timeSpent, model.SubmissionSourceTimeout)
	if errors.Is(err, ErrSectionAlreadySubmitted) || errors.Is(err, ErrSessionNotActive) {
		return nil
	}
	return err
}

// AutoComplete closes every remaining section once the whole-test deadline passed.
func (s *SessionLifecycleService) AutoComplete(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	test, err := s.catalog.GetTest(ctx, sess.TestID)
	if err != nil {
		return err
	}

	for range test.SectionCount() {
		if sess.Status != model.SessionStatusInProgress {
			return nil
		}
		if err := s.AutoSubmit(ctx, sessionID, sess.CurrentSectionIndex); err != nil {
			return err
		}
		if sess, err = s.getSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// Autosave stores one in-progress MCQ answer of the current section.
func (s *SessionLifecycleService) Autosave(ctx context.Context, sessionID, questionID uuid.UUID, answer string) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != model.SessionStatusInProgress {
		return ErrSessionNotActive
	}
	if sess.SectionExpired(s.now()) {
		return ErrSectionExpired
	}
	test, err := s.catalog.GetTest(ctx, sess.TestID)
	if err != nil {
		return err
	}
	section, ok := test.Section(sess.CurrentSectionIndex)
	if !ok {
		return ErrSectionNotFound
	}
	if !section.HasMCQ(questionID) {
		return ErrQuestionNotInSection
	}
	return s.autosave.Save(ctx, sessionID, sess.CurrentSectionIndex, questionID, answer)
}

// GetResults returns the per-section breakdown of a completed session.
func (s *SessionLifecycleService) GetResults(ctx context.Context, sessionID uuid.UUID) (*ResultsView, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsCompleted() {
		return nil, ErrSessionNotCompleted
	}
	test, err := s.catalog.GetTest(ctx, sess.TestID)
	if err != nil {
		return nil, err
	}
	subs, err := s.sessions.ListSubmissions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	view := &ResultsView{
		SessionID:   sess.ID,
		TestID:      sess.TestID,
		StudentID:   sess.StudentID,
		TestTitle:   test.Title,
		TotalScore:  sess.TotalScore,
		MaxScore:    sess.MaxScore,
		CompletedAt: sess.CompletedAt,
		Sections:    make([]SectionResultView, 0, len(subs)),
	}
	for _, sub := range subs {
		row := SectionResultView{
			SectionIndex:     sub.SectionIndex,
			Score:            sub.Score,
			MaxScore:         sub.MaxScore,
			TimeSpentSeconds: sub.TimeSpentSeconds,
			Source:           sub.Source,
			SubmittedAt:      sub.SubmittedAt,
			CodingResults:    sub.CodingResults,
		}
		if sec, ok := test.Section(sub.SectionIndex); ok {
			row.Title = sec.Title
		}
		view.Sections = append(view.Sections, row)
	}
	return view, nil
}

// WaitNotifications blocks until in-flight completion notifications return.
func (s *SessionLifecycleService) WaitNotifications() {
	s.notifyWG.Wait()
}

// submit is the single write path shared by client submits and timeouts.
// The row lock plus the (session, section) unique key make a racing second
// writer fail with ErrSectionAlreadySubmitted.
func (s *SessionLifecycleService) submit(
	ctx context.Context,
	sessionID uuid.UUID,
	expectedIndex *int,
	answers *model.AnswerPayload,
	timeSpent int,
	source model.SubmissionSource,
) (*SubmitResult, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsCompleted() {
		return nil, s.conflict()
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}

	index := sess.CurrentSectionIndex
	if expectedIndex != nil {
		if *expectedIndex < index {
			return nil, s.conflict()
		}
		if *expectedIndex > index {
			return nil, ErrSectionOutOfRange
		}
	}

	test, err := s.catalog.GetTest(ctx, sess.TestID)
	if err != nil {
		return nil, err
	}
	section, ok := test.Section(index)
	if !ok {
		return nil, ErrSectionNotFound
	}

	// Scoring may call the judge; keep it outside the row lock.
	scored := s.scorer.ScoreSection(ctx, sess.TestID, sess.StudentID, section, answers)
	now := s.now()

	var completed, advanced *model.Session
	err = s.sessions.WithTx(ctx, func(tx repository.SessionTx) error {
		locked, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if locked.IsCompleted() || locked.CurrentSectionIndex != index {
			return ErrSectionAlreadySubmitted
		}
		if locked.Status != model.SessionStatusInProgress {
			return ErrSessionNotActive
		}

		if err := tx.InsertSubmission(ctx, &model.SectionSubmission{
			ID:               uuid.New(),
			SessionID:        sessionID,
			SectionIndex:     index,
			Score:            scored.Score,
			MaxScore:         scored.MaxScore,
			TimeSpentSeconds: max(timeSpent, 0),
			Source:           source,
			Answers:          *answers,
			CodingResults:    scored.CodingResults,
			SubmittedAt:      now,
		}); err != nil {
			if errors.Is(err, repository.ErrSubmissionExists) {
				return ErrSectionAlreadySubmitted
			}
			return err
		}
		if err := tx.UpsertSectionScore(ctx, &model.SectionScore{
			SessionID:    sessionID,
			SectionIndex: index,
			Status:       model.SectionScoreCompleted,
			Score:        scored.Score,
			MaxScore:     scored.MaxScore,
			UpdatedAt:    now,
		}); err != nil {
			return err
		}

		next := locked.Clone()
		next.CompletedSectionIndices = appendIndex(next.CompletedSectionIndices, index)

		if test.IsLastSection(index) {
			total, maxScore, err := tx.SumSubmissions(ctx, sessionID)
			if err != nil {
				return err
			}
			next.Status = model.SessionStatusCompleted
			next.CompletedAt = &now
			next.TotalScore = total
			next.MaxScore = maxScore
			next.SectionStartTime, next.SectionEndTime = nil, nil
			next.BreakStartTime, next.BreakEndTime = nil, nil
			if err := tx.CompleteSession(ctx, next); err != nil {
				if errors.Is(err, repository.ErrSessionImmutable) {
					return ErrSectionAlreadySubmitted
				}
				return err
			}

			persisted, err := tx.GetSession(ctx, sessionID)
			if err != nil {
				return err
			}
			if persisted.Status != model.SessionStatusCompleted ||
				persisted.TotalScore != total ||
				persisted.MaxScore != maxScore {
				return ErrSaveVerificationFailed
			}
			completed = persisted
			return nil
		}

		nextSection, _ := test.Section(index + 1)
		start := now
		end := now.Add(nextSection.Duration())
		next.CurrentSectionIndex = index + 1
		next.SectionStartTime = &start
		next.SectionEndTime = &end
		next.Status = model.SessionStatusInProgress
		if err := tx.AdvanceSection(ctx, next); err != nil {
			if errors.Is(err, repository.ErrSessionImmutable) {
				return ErrSectionAlreadySubmitted
			}
			return err
		}
		if err := tx.UpsertSectionScore(ctx, &model.SectionScore{
			SessionID:    sessionID,
			SectionIndex: index + 1,
			Status:       model.SectionScoreInProgress,
			MaxScore:     nextSection.MaxScore(),
			UpdatedAt:    now,
		}); err != nil {
			return err
		}
		advanced = next
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSectionAlreadySubmitted):
			return nil, s.conflict()
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrSessionNotFound
		case errors.Is(err, ErrSaveVerificationFailed):
			metrics.SaveVerificationFailures.Inc()
			s.log.Error().Str("session_id", sessionID.String()).Msg("Completed session did not read back as written")
			return nil, err
		case errors.Is(err, ErrSessionNotActive):
			return nil, err
		}
		return nil, fmt.Errorf("submit section: %w", err)
	}

	metrics.SectionsSubmitted.WithLabelValues(string(source)).Inc()
	result := &SubmitResult{
		SectionCompleted: true,
		SectionIndex:     index,
		SectionScore:     scored.Score,
		SectionMaxScore:  scored.MaxScore,
	}

	if completed != nil {
		s.timeouts.Cancel(sessionID)
		metrics.SessionsCompleted.WithLabelValues(string(source)).Inc()
		s.log.Info().
			Str("session_id", sessionID.String()).
			Str("source", string(source)).
			Float64("total_score", completed.TotalScore).
			Float64("max_score", completed.MaxScore).
			Msg("Session completed")
		s.notifyCompleted(completed, source)

		result.TestCompleted = true
		result.TotalScore = &completed.TotalScore
		result.MaxScore = &completed.MaxScore
		return result, nil
	}

	s.timeouts.Schedule(advanced)
	nextIndex := advanced.CurrentSectionIndex
	result.NextSectionIndex = &nextIndex
	return result, nil
}

func (s *SessionLifecycleService) notifyCompleted(sess *model.Session, source model.SubmissionSource) {
	if s.notifier == nil {
		return
	}
	ev := model.CompletionEvent{
		SessionID:   sess.ID,
		TestID:      sess.TestID,
		StudentID:   sess.StudentID,
		TotalScore:  sess.TotalScore,
		MaxScore:    sess.MaxScore,
		CompletedAt: *sess.CompletedAt,
		Source:      source,
	}

	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.NotifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyCompleted(ctx, ev); err != nil {
			metrics.NotifyFailures.Inc()
			s.log.Warn().Err(err).Str("session_id", ev.SessionID.String()).Msg("Completion notification failed")
		}
	}()
}

func (s *SessionLifecycleService) conflict() error {
	metrics.SubmitConflicts.Inc()
	return ErrSectionAlreadySubmitted
}

func (s *SessionLifecycleService) getSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// evaluate loads everything the eligibility rules need and applies them.
func (s *SessionLifecycleService) evaluate(ctx context.Context, testID uuid.UUID, studentID string) (*model.Test, model.Account, *model.Session, *model.EligibilityDecision, error) {
	test, err := s.catalog.GetTest(ctx, testID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	now := s.now()
	if now.Before(test.ScheduledStart) {
		return test, nil, nil, notStarted(test), nil
	}

	acct, err := s.identity.Resolve(ctx, studentID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	existing, err := s.sessions.GetByTestAndStudent(ctx, testID, studentID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, nil, nil, fmt.Errorf("check existing session: %w", err)
		}
		existing = nil
	}

	d := decide(test, acct, existing, now, s.opts.StartGrace)
	return test, acct, existing, d, nil
}

// decide applies the start rules in order: schedule, one-attempt policy,
// completion, then the new-session window.
func decide(test *model.Test, acct model.Account, existing *model.Session, now time.Time, grace time.Duration) *model.EligibilityDecision {
	if now.Before(test.ScheduledStart) {
		return notStarted(test)
	}

	if existing != nil {
		status := existing.Status
		if acct.OneAttemptOnly() {
			return deny(acct, model.ReasonAlreadyAttempted,
				"This licensed account has already used its single attempt at this test. "+
					"The restriction is permanent and one-time; a new attempt can never be started.",
				nil, &status)
		}
		if existing.IsCompleted() {
			return deny(acct, model.ReasonAlreadyCompleted,
				"You have already completed this test.", nil, &status)
		}
		return &model.EligibilityDecision{
			CanTakeTest:   true,
			Resume:        true,
			SessionStatus: &status,
			AccountKind:   acct.Kind(),
		}
	}

	if test.ScheduledEnd != nil && !now.Before(*test.ScheduledEnd) {
		end := *test.ScheduledEnd
		return deny(acct, model.ReasonTestExpired,
			fmt.Sprintf("This test ended at %s.", end.Format(time.RFC3339)), &end, nil)
	}

	windowEnd := test.ScheduledStart.Add(grace)
	if now.After(windowEnd) {
		return deny(acct, model.ReasonStartWindowExpired,
			fmt.Sprintf("The start window for this test closed at %s. New attempts can no longer be started.",
				windowEnd.Format(time.RFC3339)), &windowEnd, nil)
	}

	return &model.EligibilityDecision{CanTakeTest: true, AccountKind: acct.Kind()}
}

func notStarted(test *model.Test) *model.EligibilityDecision {
	start := test.ScheduledStart
	reason := model.ReasonTestNotStarted
	return &model.EligibilityDecision{
		Reason:   &reason,
		Message:  fmt.Sprintf("This test has not started yet. It opens at %s.", start.Format(time.RFC3339)),
		Boundary: &start,
	}
}

func deny(acct model.Account, reason model.EligibilityReason, msg string, boundary *time.Time, status *model.SessionStatus) *model.EligibilityDecision {
	return &model.EligibilityDecision{
		Reason:        &reason,
		Message:       msg,
		Boundary:      boundary,
		SessionStatus: status,
		AccountKind:   acct.Kind(),
	}
}

func appendIndex(indices []int, index int) []int {
	for _, i := range indices {
		if i == index {
			return indices
		}
	}
	return append(indices, index)
}

func remainingSeconds(deadline, now time.Time) int {
	if !now.Before(deadline) {
		return 0
	}
	return int(deadline.Sub(now).Seconds())
}
