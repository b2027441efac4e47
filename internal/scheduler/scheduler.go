// Package scheduler keeps in-memory deadline timers for in-progress sessions
// and fires the auto-submit path when one elapses.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/metrics"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// Submitter is the auto-submit path the timers drive.
type Submitter interface {
	// AutoSubmit closes one section with the last autosaved answers.
	AutoSubmit(ctx context.Context, sessionID uuid.UUID, sectionIndex int) error
	// AutoComplete closes every remaining section of the session.
	AutoComplete(ctx context.Context, sessionID uuid.UUID) error
}

// SessionSource lists the sessions whose timers must survive a restart.
type SessionSource interface {
	ListInProgress(ctx context.Context) ([]model.Session, error)
}

// State is the lifecycle of one session's entry. An unscheduled or cleared
// session has no entry at all.
type State string

const (
	StateArmed   State = "armed"
	StateFired   State = "fired"
	StateCleared State = "cleared"
)

// Kind tells the two timers of an entry apart.
type Kind string

const (
	// KindSection fires at the current section's end.
	KindSection Kind = "section"
	// KindSession fires at startedAt plus every section's duration.
	KindSession Kind = "session"
)

// Options tunes firing and retry behavior.
type Options struct {
	RetryDelay time.Duration
	MaxRetries int
	// FireBudget bounds a single submit invocation.
	FireBudget time.Duration
}

// Entry is a point-in-time snapshot of one session's timers.
type Entry struct {
	SessionID       uuid.UUID
	SectionIndex    int
	SectionDeadline *time.Time
	SessionDeadline time.Time
	Remaining       time.Duration
	State           State
	SectionArmed    bool
	SessionArmed    bool
	SectionAttempts int
	SessionAttempts int
}

type entry struct {
	sectionIndex    int
	sectionDeadline *time.Time
	sessionDeadline time.Time
	state           State
	sectionAttempts int
	sessionAttempts int
	gen             uint64
	section         *time.Timer
	session         *time.Timer
}

// attempts returns the retry counter of one timer kind.
func (e *entry) attempts(kind Kind) *int {
	if kind == KindSection {
		return &e.sectionAttempts
	}
	return &e.sessionAttempts
}

// settle stops and forgets the timer of one kind. It reports whether the
// other timer is still armed.
func (e *entry) settle(kind Kind) bool {
	switch kind {
	case KindSection:
		if e.section != nil {
			e.section.Stop()
			e.section = nil
		}
		return e.session != nil
	default:
		if e.session != nil {
			e.session.Stop()
			e.session = nil
		}
		return e.section != nil
	}
}

func (e *entry) stop() {
	if e.section != nil {
		e.section.Stop()
	}
	if e.session != nil {
		e.session.Stop()
	}
}

// Scheduler owns one entry per in-progress session id.
type Scheduler struct {
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	mu        sync.Mutex
	entries   map[uuid.UUID]*entry
	gen       uint64
	submitter Submitter
	stopped   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler. No timer fires until Start has set the submitter.
func New(opts Options, log zerolog.Logger) *Scheduler {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.FireBudget <= 0 {
		opts.FireBudget = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:    opts,
		log:     log.With().Str("component", "timeout_scheduler").Logger(),
		now:     time.Now,
		entries: make(map[uuid.UUID]*entry),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Start wires the submitter and re-arms every in-progress session from
// durable storage. It returns how many sessions were recovered.
func (s *Scheduler) Start(ctx context.Context, submitter Submitter, source SessionSource) (int, error) {
	s.mu.Lock()
	s.submitter = submitter
	s.mu.Unlock()
	return s.Recover(ctx, source)
}

// Recover schedules every in-progress session. Remaining time is derived
// from the stored deadlines, so sessions whose deadline passed while the
// process was down fire immediately.
func (s *Scheduler) Recover(ctx context.Context, source SessionSource) (int, error) {
	sessions, err := source.ListInProgress(ctx)
	if err != nil {
		return 0, err
	}
	for i := range sessions {
		s.Schedule(&sessions[i])
	}
	s.log.Info().Int("count", len(sessions)).Msg("Recovered session timers")
	return len(sessions), nil
}

// Schedule arms the section and session timers for sess. Scheduling the
// same deadlines twice is a no-op; a completed session is cancelled.
func (s *Scheduler) Schedule(sess *model.Session) {
	if sess == nil {
		return
	}
	if sess.IsCompleted() {
		s.Cancel(sess.ID)
		return
	}
	if sess.Status != model.SessionStatusInProgress {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	e, ok := s.entries[sess.ID]
	if ok {
		// A timer that already settled is re-armed even for equal deadlines.
		if e.sectionIndex == sess.CurrentSectionIndex &&
			sameTime(e.sectionDeadline, sess.SectionEndTime) &&
			e.sessionDeadline.Equal(sess.ExpiresAt) &&
			(sess.SectionEndTime == nil || e.section != nil) &&
			(sess.ExpiresAt.IsZero() || e.session != nil) {
			return
		}
		e.stop()
	} else {
		e = &entry{}
		s.entries[sess.ID] = e
		metrics.ArmedTimers.Inc()
	}

	s.gen++
	e.gen = s.gen
	e.state = StateArmed
	e.sectionAttempts = 0
	e.sessionAttempts = 0
	e.sectionIndex = sess.CurrentSectionIndex
	e.sectionDeadline = nil
	e.section = nil
	e.session = nil
	e.sessionDeadline = sess.ExpiresAt

	now := s.now()
	if sess.SectionEndTime != nil {
		deadline := *sess.SectionEndTime
		e.sectionDeadline = &deadline
		e.section = s.arm(sess.ID, e.gen, KindSection, deadline.Sub(now))
	}
	if !sess.ExpiresAt.IsZero() {
		e.session = s.arm(sess.ID, e.gen, KindSession, sess.ExpiresAt.Sub(now))
	}
}

// Cancel clears a session's entry without firing.
func (s *Scheduler) Cancel(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(sessionID)
}

// Lookup returns the state of a session's entry; ok is false when the
// session is unscheduled or its entry was cleared.
func (s *Scheduler) Lookup(sessionID uuid.UUID) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sessionID]
	if !ok {
		return Entry{SessionID: sessionID, State: StateCleared}, false
	}
	return s.snapshot(sessionID, e), true
}

// Entries returns a snapshot of every live entry ordered by session id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, s.snapshot(id, e))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionID.String() < out[j].SessionID.String()
	})
	return out
}

// Len returns the number of live entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop disarms every timer and waits for in-flight submits to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id := range s.entries {
		s.clearLocked(id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) arm(id uuid.UUID, gen uint64, kind Kind, after time.Duration) *time.Timer {
	return time.AfterFunc(max(after, 0), func() {
		s.fire(id, gen, kind)
	})
}

func (s *Scheduler) fire(id uuid.UUID, gen uint64, kind Kind) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	submitter := s.submitter
	if submitter == nil {
		// Not started yet; try again once the submitter is wired.
		s.rearmLocked(id, e, kind)
		s.mu.Unlock()
		return
	}
	e.state = StateFired
	sectionIndex := e.sectionIndex
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.FireBudget)
	var err error
	switch kind {
	case KindSection:
		err = submitter.AutoSubmit(ctx, id, sectionIndex)
	case KindSession:
		err = submitter.AutoComplete(ctx, id)
	}
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok = s.entries[id]
	if !ok || e.gen != gen {
		// Cancelled or rescheduled by the submit itself.
		metrics.TimerFires.WithLabelValues(string(kind), "ok").Inc()
		return
	}

	if err == nil {
		metrics.TimerFires.WithLabelValues(string(kind), "ok").Inc()
		s.settleLocked(id, e, kind)
		return
	}

	attempts := e.attempts(kind)
	*attempts++
	if *attempts > s.opts.MaxRetries {
		metrics.TimerFires.WithLabelValues(string(kind), "gave_up").Inc()
		s.log.Error().Err(err).
			Str("session_id", id.String()).
			Str("kind", string(kind)).
			Int("attempts", *attempts).
			Msg("Auto-submit failed, giving up")
		s.settleLocked(id, e, kind)
		return
	}

	metrics.TimerFires.WithLabelValues(string(kind), "retry").Inc()
	s.log.Warn().Err(err).
		Str("session_id", id.String()).
		Str("kind", string(kind)).
		Int("attempt", *attempts).
		Dur("retry_in", s.opts.RetryDelay).
		Msg("Auto-submit failed, retrying")
	s.rearmLocked(id, e, kind)
}

// settleLocked retires the timer that fired. The entry survives while the
// other timer is armed, so the session deadline still backs up a section
// timer that gave up.
func (s *Scheduler) settleLocked(id uuid.UUID, e *entry, kind Kind) {
	if e.settle(kind) {
		e.state = StateArmed
		return
	}
	s.clearLocked(id)
}

func (s *Scheduler) rearmLocked(id uuid.UUID, e *entry, kind Kind) {
	e.state = StateArmed
	t := s.arm(id, e.gen, kind, s.opts.RetryDelay)
	switch kind {
	case KindSection:
		e.section = t
	case KindSession:
		e.session = t
	}
}

func (s *Scheduler) clearLocked(id uuid.UUID) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	e.stop()
	e.state = StateCleared
	delete(s.entries, id)
	metrics.ArmedTimers.Dec()
}

func (s *Scheduler) snapshot(id uuid.UUID, e *entry) Entry {
	out := Entry{
		SessionID:       id,
		SectionIndex:    e.sectionIndex,
		SessionDeadline: e.sessionDeadline,
		State:           e.state,
		SectionArmed:    e.section != nil,
		SessionArmed:    e.session != nil,
		SectionAttempts: e.sectionAttempts,
		SessionAttempts: e.sessionAttempts,
	}
	if e.sectionDeadline != nil {
		d := *e.sectionDeadline
		out.SectionDeadline = &d
		out.Remaining = max(d.Sub(s.now()), 0)
	}
	return out
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
