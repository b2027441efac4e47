package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
	ws "github.com/stemsi/exstem-assessment/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a test session over WebSocket: autosave, submit and
// push notification when a timeout completes the test.
type WSHandler struct {
	sessions SessionService
	rdb      *redis.Client
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. rdb may be nil, which disables
// completion push.
func NewWSHandler(sessions SessionService, rdb *redis.Client, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		rdb:      rdb,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/test-session/:testId/:studentId/stream
func (h *WSHandler) SessionStream(c *gin.Context) {
	var p model.SessionPathParams
	if fields := validator.BindURI(c, &p); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	testID := uuid.MustParse(p.TestID)

	// Resolve before upgrading so a missing session is a plain HTTP error.
	sess, err := h.sessions.FindSession(c.Request.Context(), testID, p.StudentID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Str("session_id", sess.ID.String()).
		Str("student_id", p.StudentID).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if h.rdb != nil {
		go h.forwardCompletion(ctx, conn, sess, wsLog)
	}

	for {
		var env ws.RequestEnvelope
		if err := conn.ReadEnvelope(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch env.Action {
		case ws.ActionPing:
			_ = conn.Send(ws.EventPong, nil)
		case ws.ActionCurrent:
			h.handleCurrent(ctx, conn, sess.ID)
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, sess.ID, env.Data)
		case ws.ActionSubmit:
			h.handleSubmit(ctx, conn, sess.ID, env.Data)
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			_ = conn.SendError(string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		}
	}
}

func (h *WSHandler) handleCurrent(ctx context.Context, conn *ws.Conn, sessionID uuid.UUID) {
	view, err := h.sessions.GetCurrentSection(ctx, sessionID)
	if err != nil {
		h.sendError(conn, err)
		return
	}
	_ = conn.Send(ws.EventCurrent, view)
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *ws.Conn, sessionID uuid.UUID, data json.RawMessage) {
	var req ws.AutosaveRequest
	if err := decodeAndValidate(data, &req); err != nil {
		_ = conn.SendError(string(response.ErrValidation), err.Error())
		return
	}
	if err := h.sessions.Autosave(ctx, sessionID, uuid.MustParse(req.QuestionID), req.Answer); err != nil {
		h.sendError(conn, err)
		return
	}
	_ = conn.Send(ws.EventSaved, gin.H{"questionId": req.QuestionID})
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, sessionID uuid.UUID, data json.RawMessage) {
	var req ws.SubmitRequest
	if err := decodeAndValidate(data, &req); err != nil {
		_ = conn.SendError(string(response.ErrValidation), err.Error())
		return
	}
	result, err := h.sessions.SubmitSection(ctx, sessionID, &req)
	if err != nil {
		h.sendError(conn, err)
		return
	}
	if result.TestCompleted {
		_ = conn.Send(ws.EventTestCompleted, result)
		return
	}
	_ = conn.Send(ws.EventSubmitted, result)
}

// forwardCompletion pushes the completion event when a timeout finishes
// the test while the student is connected.
func (h *WSHandler) forwardCompletion(ctx context.Context, conn *ws.Conn, sess *model.Session, log zerolog.Logger) {
	sub := h.rdb.Subscribe(ctx, config.CacheKey.TestMonitorChannel(sess.TestID.String()))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.CompletionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("Invalid monitor payload")
				continue
			}
			if ev.SessionID != sess.ID || ev.Source != model.SubmissionSourceTimeout {
				continue
			}
			_ = conn.Send(ws.EventTestCompleted, ev)
		}
	}
}

func (h *WSHandler) sendError(conn *ws.Conn, err error) {
	status, code := classify(err)
	msg := response.GetMessage(code)
	var elig *service.EligibilityError
	if errors.As(err, &elig) {
		msg = elig.Message
	}
	if errors.Is(err, service.ErrSectionOutOfRange) {
		msg = sectionAheadMessage
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("WebSocket action failed")
	}
	_ = conn.SendError(string(code), msg)
}

// decodeAndValidate applies the same binding rules as the HTTP endpoints.
func decodeAndValidate(data json.RawMessage, dst interface{}) error {
	if len(data) == 0 {
		return errors.New("data is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return err
	}
	if err := validator.Struct(dst); err != nil {
		for field, msg := range validator.TranslateErrors(err) {
			return errors.New(field + ": " + msg)
		}
	}
	return nil
}
