package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
)

type call struct {
	kind  Kind
	id    uuid.UUID
	index int
}

type fakeSubmitter struct {
	calls chan call

	mu       sync.Mutex
	failures int
	onSubmit func(ctx context.Context, id uuid.UUID, index int)
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{calls: make(chan call, 64)}
}

func (f *fakeSubmitter) result() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("database unavailable")
	}
	return nil
}

func (f *fakeSubmitter) AutoSubmit(ctx context.Context, id uuid.UUID, index int) error {
	f.calls <- call{kind: KindSection, id: id, index: index}
	if f.onSubmit != nil {
		f.onSubmit(ctx, id, index)
	}
	return f.result()
}

func (f *fakeSubmitter) AutoComplete(_ context.Context, id uuid.UUID) error {
	f.calls <- call{kind: KindSession, id: id}
	return f.result()
}

type staticSource []model.Session

func (s staticSource) ListInProgress(context.Context) ([]model.Session, error) {
	return s, nil
}

func inProgress(index int, sectionEnd time.Time, expires time.Time) model.Session {
	return model.Session{
		ID:                  uuid.New(),
		TestID:              uuid.New(),
		StudentID:           "std-1",
		Status:              model.SessionStatusInProgress,
		CurrentSectionIndex: index,
		SectionEndTime:      &sectionEnd,
		ExpiresAt:           expires,
	}
}

func waitCall(t *testing.T, calls <-chan call) call {
	t.Helper()
	select {
	case c := <-calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
		return call{}
	}
}

func expectNoCall(t *testing.T, calls <-chan call, within time.Duration) {
	t.Helper()
	select {
	case c := <-calls:
		t.Fatalf("unexpected fire: %+v", c)
	case <-time.After(within):
	}
}

func waitLen(t *testing.T, s *Scheduler, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Len() = %d, want %d", s.Len(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitEntry(t *testing.T, s *Scheduler, id uuid.UUID, cond func(Entry) bool) Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		e, ok := s.Lookup(id)
		if ok && cond(e) {
			return e
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry = %+v, %v; condition not met", e, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newStarted(t *testing.T, opts Options, sub Submitter, sessions ...model.Session) *Scheduler {
	t.Helper()
	s := New(opts, zerolog.Nop())
	if _, err := s.Start(context.Background(), sub, staticSource(sessions)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestRecover_RecomputesRemaining(t *testing.T) {
	now := time.Now()
	a := inProgress(0, now.Add(10*time.Minute), now.Add(time.Hour))
	b := inProgress(2, now.Add(20*time.Minute), now.Add(time.Hour))

	s := New(Options{}, zerolog.Nop())
	s.now = func() time.Time { return now }
	t.Cleanup(s.Stop)

	n, err := s.Start(context.Background(), newFakeSubmitter(), staticSource{a, b})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n != 2 || s.Len() != 2 {
		t.Fatalf("recovered %d, Len %d, want 2", n, s.Len())
	}

	want := map[uuid.UUID]struct {
		index     int
		remaining time.Duration
	}{
		a.ID: {0, 10 * time.Minute},
		b.ID: {2, 20 * time.Minute},
	}
	for _, e := range s.Entries() {
		w := want[e.SessionID]
		if e.State != StateArmed || e.SectionIndex != w.index || e.Remaining != w.remaining {
			t.Errorf("entry %s = %+v, want index %d remaining %v", e.SessionID, e, w.index, w.remaining)
		}
	}
}

func TestSchedule_PastDeadlineFiresImmediately(t *testing.T) {
	sub := newFakeSubmitter()
	sess := inProgress(1, time.Now().Add(-time.Minute), time.Now().Add(time.Hour))
	s := newStarted(t, Options{}, sub, sess)

	c := waitCall(t, sub.calls)
	if c.kind != KindSection || c.id != sess.ID || c.index != 1 {
		t.Errorf("fired %+v, want section 1 of %s", c, sess.ID)
	}
	// The session deadline is still ahead, so the entry stays.
	waitEntry(t, s, sess.ID, func(e Entry) bool {
		return !e.SectionArmed && e.SessionArmed && e.State == StateArmed
	})
}

func TestSchedule_SessionDeadlineCompletes(t *testing.T) {
	sub := newFakeSubmitter()
	sess := inProgress(0, time.Now().Add(time.Hour), time.Now().Add(-time.Second))
	newStarted(t, Options{}, sub, sess)

	if c := waitCall(t, sub.calls); c.kind != KindSession || c.id != sess.ID {
		t.Errorf("fired %+v, want the session deadline", c)
	}
}

func TestCancel_PreventsFire(t *testing.T) {
	sub := newFakeSubmitter()
	sess := inProgress(0, time.Now().Add(50*time.Millisecond), time.Time{})
	s := newStarted(t, Options{}, sub, sess)

	s.Cancel(sess.ID)
	expectNoCall(t, sub.calls, 200*time.Millisecond)

	e, ok := s.Lookup(sess.ID)
	if ok || e.State != StateCleared {
		t.Errorf("Lookup = %+v, %v; want cleared", e, ok)
	}
}

func TestSchedule_SameDeadlinesIsNoop(t *testing.T) {
	sub := newFakeSubmitter()
	sess := inProgress(0, time.Now().Add(100*time.Millisecond), time.Time{})
	s := newStarted(t, Options{}, sub)

	s.Schedule(&sess)
	s.Schedule(&sess)
	s.Schedule(&sess)

	waitCall(t, sub.calls)
	expectNoCall(t, sub.calls, 200*time.Millisecond)
}

func TestSchedule_IgnoresInactiveSessions(t *testing.T) {
	sub := newFakeSubmitter()
	s := newStarted(t, Options{}, sub)

	onBreak := inProgress(0, time.Now().Add(time.Hour), time.Time{})
	onBreak.Status = model.SessionStatusOnBreak
	s.Schedule(&onBreak)
	if s.Len() != 0 {
		t.Fatalf("on_break session was armed")
	}

	sess := inProgress(0, time.Now().Add(time.Hour), time.Time{})
	s.Schedule(&sess)
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	sess.Status = model.SessionStatusCompleted
	s.Schedule(&sess)
	if s.Len() != 0 {
		t.Errorf("completed session still armed")
	}
}

func TestFire_RetriesUntilSuccess(t *testing.T) {
	sub := newFakeSubmitter()
	sub.failures = 2
	sess := inProgress(0, time.Now().Add(-time.Second), time.Time{})
	s := newStarted(t, Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 3}, sub, sess)

	for range 3 {
		waitCall(t, sub.calls)
	}
	waitLen(t, s, 0)
	expectNoCall(t, sub.calls, 50*time.Millisecond)
}

func TestFire_GivesUpAfterMaxRetries(t *testing.T) {
	sub := newFakeSubmitter()
	sub.failures = 100
	sess := inProgress(0, time.Now().Add(-time.Second), time.Time{})
	s := newStarted(t, Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2}, sub, sess)

	for range 3 {
		waitCall(t, sub.calls)
	}
	waitLen(t, s, 0)
	expectNoCall(t, sub.calls, 100*time.Millisecond)
}

func TestFire_RescheduleDuringSubmitKeepsEntry(t *testing.T) {
	sub := newFakeSubmitter()
	sess := inProgress(0, time.Now().Add(-time.Second), time.Time{})
	s := New(Options{}, zerolog.Nop())
	t.Cleanup(s.Stop)

	next := sess
	nextEnd := time.Now().Add(time.Hour)
	next.CurrentSectionIndex = 1
	next.SectionEndTime = &nextEnd
	sub.onSubmit = func(_ context.Context, _ uuid.UUID, _ int) {
		s.Schedule(&next)
	}

	if _, err := s.Start(context.Background(), sub, staticSource{sess}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCall(t, sub.calls)

	deadline := time.Now().Add(2 * time.Second)
	for {
		e, ok := s.Lookup(sess.ID)
		if ok && e.SectionIndex == 1 && e.State == StateArmed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("entry = %+v, %v; want section 1 armed", e, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStop_WaitsForInFlightSubmit(t *testing.T) {
	sub := newFakeSubmitter()
	sub.onSubmit = func(ctx context.Context, _ uuid.UUID, _ int) {
		<-ctx.Done()
	}
	sess := inProgress(0, time.Now().Add(-time.Second), time.Time{})
	s := New(Options{FireBudget: time.Minute}, zerolog.Nop())
	if _, err := s.Start(context.Background(), sub, staticSource{sess}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitCall(t, sub.calls)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	again := inProgress(0, time.Now().Add(time.Hour), time.Time{})
	s.Schedule(&again)
	if s.Len() != 0 {
		t.Error("stopped scheduler accepted a new entry")
	}
}

func TestFire_SessionDeadlineOutlivesSectionGiveUp(t *testing.T) {
	sub := newFakeSubmitter()
	sub.failures = 2
	sess := inProgress(0, time.Now().Add(-time.Second), time.Now().Add(300*time.Millisecond))
	s := newStarted(t, Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 1}, sub, sess)

	for range 2 {
		if c := waitCall(t, sub.calls); c.kind != KindSection {
			t.Fatalf("fired %+v, want the section timer", c)
		}
	}

	e := waitEntry(t, s, sess.ID, func(e Entry) bool { return !e.SectionArmed })
	if !e.SessionArmed || e.SectionAttempts != 2 || e.SessionAttempts != 0 {
		t.Errorf("entry after section give-up = %+v, want session timer armed with its own budget", e)
	}

	if c := waitCall(t, sub.calls); c.kind != KindSession || c.id != sess.ID {
		t.Fatalf("fired %+v, want the session deadline", c)
	}
	waitLen(t, s, 0)
}

func TestFire_SessionTimerKeepsItsRetryBudget(t *testing.T) {
	sub := newFakeSubmitter()
	sub.failures = 3
	sess := inProgress(0, time.Now().Add(-time.Second), time.Now().Add(200*time.Millisecond))
	s := newStarted(t, Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 1}, sub, sess)

	// Two failed section fires exhaust only the section budget; the session
	// timer then fails once and succeeds on its single retry.
	want := []Kind{KindSection, KindSection, KindSession, KindSession}
	for i, kind := range want {
		if c := waitCall(t, sub.calls); c.kind != kind {
			t.Fatalf("fire %d = %s, want %s", i, c.kind, kind)
		}
	}
	waitLen(t, s, 0)
	expectNoCall(t, sub.calls, 50*time.Millisecond)
}

func TestSchedule_RearmsSettledSectionTimer(t *testing.T) {
	sub := newFakeSubmitter()
	sub.failures = 1
	sess := inProgress(0, time.Now().Add(-time.Second), time.Now().Add(time.Hour))
	s := newStarted(t, Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 0}, sub, sess)

	waitCall(t, sub.calls)
	waitEntry(t, s, sess.ID, func(e Entry) bool { return !e.SectionArmed })

	s.Schedule(&sess)
	if c := waitCall(t, sub.calls); c.kind != KindSection || c.id != sess.ID {
		t.Errorf("fired %+v, want the section timer again", c)
	}
}
