package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/repository"
)

// ─── Session store ──────────────────────────────────────────────────

type memStore struct {
	txMu sync.Mutex // one transaction at a time, standing in for the row lock
	mu   sync.Mutex

	sessions map[uuid.UUID]*model.Session
	subs     map[uuid.UUID]map[int]model.SectionSubmission
	scores   map[uuid.UUID]map[int]model.SectionScore
	history  map[uuid.UUID][]int

	// beforeCreate runs ahead of Create; a concurrent start is simulated here.
	beforeCreate func(s *model.Session)
	// tamper rewrites the read-back inside a transaction.
	tamper func(s *model.Session)
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[uuid.UUID]*model.Session),
		subs:     make(map[uuid.UUID]map[int]model.SectionSubmission),
		scores:   make(map[uuid.UUID]map[int]model.SectionScore),
		history:  make(map[uuid.UUID][]int),
	}
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memStore) GetByTestAndStudent(_ context.Context, testID uuid.UUID, studentID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TestID == testID && s.StudentID == studentID {
			return s.Clone(), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) Create(_ context.Context, s *model.Session, first *model.SectionScore) error {
	if m.beforeCreate != nil {
		m.beforeCreate(s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.TestID == s.TestID && existing.StudentID == s.StudentID {
			return repository.ErrSessionExists
		}
	}
	m.sessions[s.ID] = s.Clone()
	m.history[s.ID] = []int{s.CurrentSectionIndex}
	if first != nil {
		m.upsertScore(*first)
	}
	return nil
}

// put stores a session directly, bypassing the rules.
func (m *memStore) put(s *model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
}

func (m *memStore) EndBreak(_ context.Context, id uuid.UUID, start, end time.Time) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.Status == model.SessionStatusOnBreak {
		s.Status = model.SessionStatusInProgress
		s.BreakStartTime, s.BreakEndTime = nil, nil
		s.SectionStartTime, s.SectionEndTime = &start, &end
	}
	return s.Clone(), nil
}

func (m *memStore) ListSubmissions(_ context.Context, sessionID uuid.UUID) ([]model.SectionSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SectionSubmission, 0, len(m.subs[sessionID]))
	for _, sub := range m.subs[sessionID] {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionIndex < out[j].SectionIndex })
	return out, nil
}

func (m *memStore) ListInProgress(_ context.Context) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Session
	for _, s := range m.sessions {
		if s.Status == model.SessionStatusInProgress {
			out = append(out, *s.Clone())
		}
	}
	return out, nil
}

func (m *memStore) WithTx(_ context.Context, fn func(tx repository.SessionTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := m.snapshot()
	m.mu.Unlock()

	if err := fn(&memTx{m: m}); err != nil {
		m.mu.Lock()
		m.restore(snap)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) submissionCount(sessionID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[sessionID])
}

func (m *memStore) score(sessionID uuid.UUID, index int) (model.SectionScore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scores[sessionID][index]
	return sc, ok
}

func (m *memStore) indexHistory(sessionID uuid.UUID) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.history[sessionID]...)
}

func (m *memStore) upsertScore(sc model.SectionScore) {
	if m.scores[sc.SessionID] == nil {
		m.scores[sc.SessionID] = make(map[int]model.SectionScore)
	}
	m.scores[sc.SessionID][sc.SectionIndex] = sc
}

type storeSnapshot struct {
	sessions map[uuid.UUID]*model.Session
	subs     map[uuid.UUID]map[int]model.SectionSubmission
	scores   map[uuid.UUID]map[int]model.SectionScore
	history  map[uuid.UUID][]int
}

func (m *memStore) snapshot() storeSnapshot {
	snap := storeSnapshot{
		sessions: make(map[uuid.UUID]*model.Session, len(m.sessions)),
		subs:     make(map[uuid.UUID]map[int]model.SectionSubmission, len(m.subs)),
		scores:   make(map[uuid.UUID]map[int]model.SectionScore, len(m.scores)),
		history:  make(map[uuid.UUID][]int, len(m.history)),
	}
	for id, s := range m.sessions {
		snap.sessions[id] = s.Clone()
	}
	for id, byIndex := range m.subs {
		snap.subs[id] = make(map[int]model.SectionSubmission, len(byIndex))
		for i, sub := range byIndex {
			snap.subs[id][i] = sub
		}
	}
	for id, byIndex := range m.scores {
		snap.scores[id] = make(map[int]model.SectionScore, len(byIndex))
		for i, sc := range byIndex {
			snap.scores[id][i] = sc
		}
	}
	for id, h := range m.history {
		snap.history[id] = append([]int(nil), h...)
	}
	return snap
}

func (m *memStore) restore(snap storeSnapshot) {
	m.sessions = snap.sessions
	m.subs = snap.subs
	m.scores = snap.scores
	m.history = snap.history
}

type memTx struct {
	m *memStore
}

func (t *memTx) LockSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	return t.m.GetByID(ctx, id)
}

func (t *memTx) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s, err := t.m.GetByID(ctx, id)
	if err == nil && t.m.tamper != nil {
		t.m.tamper(s)
	}
	return s, err
}

func (t *memTx) InsertSubmission(_ context.Context, sub *model.SectionSubmission) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.m.subs[sub.SessionID] == nil {
		t.m.subs[sub.SessionID] = make(map[int]model.SectionSubmission)
	}
	if _, ok := t.m.subs[sub.SessionID][sub.SectionIndex]; ok {
		return repository.ErrSubmissionExists
	}
	t.m.subs[sub.SessionID][sub.SectionIndex] = *sub
	return nil
}

func (t *memTx) UpsertSectionScore(_ context.Context, sc *model.SectionScore) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.m.upsertScore(*sc)
	return nil
}

func (t *memTx) SumSubmissions(_ context.Context, sessionID uuid.UUID) (float64, float64, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	var score, maxScore float64
	for _, sub := range t.m.subs[sessionID] {
		score += sub.Score
		maxScore += sub.MaxScore
	}
	return score, maxScore, nil
}

func (t *memTx) AdvanceSection(_ context.Context, s *model.Session) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	cur, ok := t.m.sessions[s.ID]
	if !ok || cur.IsCompleted() || cur.CurrentSectionIndex >= s.CurrentSectionIndex {
		return repository.ErrSessionImmutable
	}
	t.m.sessions[s.ID] = s.Clone()
	t.m.history[s.ID] = append(t.m.history[s.ID], s.CurrentSectionIndex)
	return nil
}

func (t *memTx) CompleteSession(_ context.Context, s *model.Session) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	cur, ok := t.m.sessions[s.ID]
	if !ok || cur.IsCompleted() {
		return repository.ErrSessionImmutable
	}
	t.m.sessions[s.ID] = s.Clone()
	return nil
}

// ─── Collaborators ──────────────────────────────────────────────────

type fakeCatalog struct {
	tests map[uuid.UUID]*model.Test
}

func (f *fakeCatalog) GetTest(_ context.Context, id uuid.UUID) (*model.Test, error) {
	t, ok := f.tests[id]
	if !ok {
		return nil, ErrTestNotFound
	}
	return t, nil
}

type fakeIdentity struct {
	accounts map[string]model.Account
}

func (f *fakeIdentity) Resolve(_ context.Context, studentID string) (model.Account, error) {
	a, ok := f.accounts[studentID]
	if !ok {
		return nil, ErrStudentNotFound
	}
	return a, nil
}

type fakeJudge struct {
	results map[uuid.UUID]*model.JudgeResult
	err     error
}

func (f *fakeJudge) LatestResult(_ context.Context, _ string, _, questionID uuid.UUID) (*model.JudgeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results[questionID], nil
}

type autosaveKey struct {
	sessionID uuid.UUID
	index     int
}

type fakeAutosave struct {
	mu      sync.Mutex
	data    map[autosaveKey]map[string]string
	loadErr error
}

func newFakeAutosave() *fakeAutosave {
	return &fakeAutosave{data: make(map[autosaveKey]map[string]string)}
}

func (f *fakeAutosave) Load(_ context.Context, sessionID uuid.UUID, index int) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(map[string]string)
	for k, v := range f.data[autosaveKey{sessionID, index}] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAutosave) Save(_ context.Context, sessionID uuid.UUID, index int, questionID uuid.UUID, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := autosaveKey{sessionID, index}
	if f.data[k] == nil {
		f.data[k] = make(map[string]string)
	}
	f.data[k][questionID.String()] = model.NormalizeOption(answer)
	return nil
}

type fakeTimeouts struct {
	mu        sync.Mutex
	scheduled []*model.Session
	cancelled []uuid.UUID
}

func (f *fakeTimeouts) Schedule(s *model.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, s.Clone())
}

func (f *fakeTimeouts) Cancel(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeTimeouts) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled), len(f.cancelled)
}

func (f *fakeTimeouts) last() *model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scheduled) == 0 {
		return nil
	}
	return f.scheduled[len(f.scheduled)-1]
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []model.CompletionEvent
	err    error
}

func (f *fakeNotifier) NotifyCompleted(_ context.Context, ev model.CompletionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeNotifier) all() []model.CompletionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CompletionEvent(nil), f.events...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// ─── Fixture ────────────────────────────────────────────────────────

var errBoom = errors.New("boom")

type fixture struct {
	svc      *SessionLifecycleService
	store    *memStore
	catalog  *fakeCatalog
	judge    *fakeJudge
	autosave *fakeAutosave
	timeouts *fakeTimeouts
	notifier *fakeNotifier
	clock    *clock

	test    *model.Test
	mcq1    uuid.UUID
	mcq2    uuid.UUID
	coding1 uuid.UUID
}

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// twoSectionTest is a 1-minute MCQ section with two 1-mark questions
// followed by a 2-minute coding section with one 5-mark question.
func twoSectionTest() (*model.Test, uuid.UUID, uuid.UUID, uuid.UUID) {
	mcq1, mcq2, coding1 := uuid.New(), uuid.New(), uuid.New()
	t := &model.Test{
		ID:             uuid.New(),
		Title:          "Entrance Assessment",
		ScheduledStart: testStart,
		Sections: []model.Section{
			{
				ID:              uuid.New(),
				Index:           0,
				Title:           "Fundamentals",
				Kind:            model.SectionKindMCQ,
				DurationMinutes: 1,
				CorrectMarks:    1,
				WrongMarks:      0.25,
				MCQQuestions: []model.MCQQuestion{
					{ID: mcq1, QuestionText: "2 + 2", Options: []byte(`["3","4"]`), CorrectOption: "B", OrderNum: 1},
					{ID: mcq2, QuestionText: "go keyword", Options: []byte(`["go","async"]`), CorrectOption: "a", OrderNum: 2},
				},
			},
			{
				ID:              uuid.New(),
				Index:           1,
				Title:           "Programming",
				Kind:            model.SectionKindCoding,
				DurationMinutes: 2,
				CodingQuestions: []model.CodingQuestion{
					{ID: coding1, Title: "Reverse", Prompt: "Reverse a string", Marks: 5, OrderNum: 1},
				},
			},
		},
	}
	return t, mcq1, mcq2, coding1
}

func newFixture() *fixture {
	test, mcq1, mcq2, coding1 := twoSectionTest()
	f := &fixture{
		store:    newMemStore(),
		catalog:  &fakeCatalog{tests: map[uuid.UUID]*model.Test{test.ID: test}},
		judge:    &fakeJudge{results: map[uuid.UUID]*model.JudgeResult{}},
		autosave: newFakeAutosave(),
		timeouts: &fakeTimeouts{},
		notifier: &fakeNotifier{},
		clock:    &clock{t: testStart.Add(time.Minute)},
		test:     test,
		mcq1:     mcq1,
		mcq2:     mcq2,
		coding1:  coding1,
	}
	identity := &fakeIdentity{accounts: map[string]model.Account{
		"std-1": model.StandardAccount{ID: "std-1", Name: "Ana", Dept: "CS"},
		"std-2": model.StandardAccount{ID: "std-2", Name: "Ben", Dept: "CS"},
		"lic-1": model.LicensedAccount{ID: "lic-1", Name: "Cy", Dept: "EE", LicenseKey: "K-1"},
	}}
	log := zerolog.Nop()
	f.svc = NewSessionLifecycleService(
		f.store,
		f.catalog,
		identity,
		NewScoringEngine(f.judge, log),
		f.autosave,
		f.timeouts,
		f.notifier,
		LifecycleOptions{StartGrace: 15 * time.Minute, NotifyTimeout: time.Second},
		log,
	)
	f.svc.now = f.clock.Now
	return f
}

func (f *fixture) start(t testing.TB, studentID string) *model.Session {
	t.Helper()
	res, err := f.svc.StartSession(context.Background(), f.test.ID, studentID)
	if err != nil {
		t.Fatalf("StartSession(%s): %v", studentID, err)
	}
	return res.Session
}

func intPtr(v int) *int { return &v }
