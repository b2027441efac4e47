package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// SessionService is the lifecycle surface the HTTP and WebSocket handlers use.
type SessionService interface {
	StartSession(ctx context.Context, testID uuid.UUID, studentID string) (*service.StartResult, error)
	CheckEligibility(ctx context.Context, testID uuid.UUID, studentID string) (*model.EligibilityDecision, error)
	FindSession(ctx context.Context, testID uuid.UUID, studentID string) (*model.Session, error)
	GetCurrentSection(ctx context.Context, sessionID uuid.UUID) (*service.CurrentSectionView, error)
	SubmitSection(ctx context.Context, sessionID uuid.UUID, req *model.SubmitSectionRequest) (*service.SubmitResult, error)
	Autosave(ctx context.Context, sessionID, questionID uuid.UUID, answer string) error
	GetResults(ctx context.Context, sessionID uuid.UUID) (*service.ResultsView, error)
}

// TestSessionHandler handles the student-facing test session endpoints.
type TestSessionHandler struct {
	sessions SessionService
	log      zerolog.Logger
}

// NewTestSessionHandler creates a new TestSessionHandler.
func NewTestSessionHandler(sessions SessionService, log zerolog.Logger) *TestSessionHandler {
	return &TestSessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "test_session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/test-session/start
// Creates a new session or resumes the student's unfinished one.
func (h *TestSessionHandler) StartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if !middleware.OwnsStudent(c, req.StudentID) {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	testID := uuid.MustParse(req.TestID) // validated by the uuid binding tag
	result, err := h.sessions.StartSession(c.Request.Context(), testID, req.StudentID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, result)
}

// CheckEligibility godoc
// GET /api/v1/test-session/:testId/:studentId/eligibility
// Reports whether a start would succeed, without creating anything.
func (h *TestSessionHandler) CheckEligibility(c *gin.Context) {
	params, ok := h.bindPath(c)
	if !ok {
		return
	}

	decision, err := h.sessions.CheckEligibility(c.Request.Context(), params.testID, params.studentID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, decision)
}

// GetCurrentSection godoc
// GET /api/v1/test-session/:testId/:studentId/current
// Returns the current section, a break countdown or an expiry marker.
func (h *TestSessionHandler) GetCurrentSection(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	view, err := h.sessions.GetCurrentSection(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// SubmitSection godoc
// POST /api/v1/test-session/:testId/:studentId/submit
// Scores and records the current section.
func (h *TestSessionHandler) SubmitSection(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.SubmitSectionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessions.SubmitSection(c.Request.Context(), sess.ID, &req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Autosave godoc
// PUT /api/v1/test-session/:testId/:studentId/autosave
// Saves one in-progress MCQ answer for the timeout path to use.
func (h *TestSessionHandler) Autosave(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req model.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessions.Autosave(c.Request.Context(), sess.ID, uuid.MustParse(req.QuestionID), req.Answer); err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// GetResults godoc
// GET /api/v1/test-session/:testId/:studentId/results
// Returns the final score breakdown of a completed session.
func (h *TestSessionHandler) GetResults(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	results, err := h.sessions.GetResults(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, results)
}

type pathParams struct {
	testID    uuid.UUID
	studentID string
}

func (h *TestSessionHandler) bindPath(c *gin.Context) (pathParams, bool) {
	var p model.SessionPathParams
	if fields := validator.BindURI(c, &p); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return pathParams{}, false
	}
	return pathParams{testID: uuid.MustParse(p.TestID), studentID: p.StudentID}, true
}

// session resolves the route's (test, student) pair to its session.
func (h *TestSessionHandler) session(c *gin.Context) (*model.Session, bool) {
	params, ok := h.bindPath(c)
	if !ok {
		return nil, false
	}
	sess, err := h.sessions.FindSession(c.Request.Context(), params.testID, params.studentID)
	if err != nil {
		writeError(c, h.log, err)
		return nil, false
	}
	return sess, true
}
