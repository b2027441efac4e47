package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// eligibilityDetails is the structured part of an eligibility error.
type eligibilityDetails struct {
	Reason        model.EligibilityReason `json:"reason"`
	Boundary      *time.Time              `json:"boundary,omitempty"`
	SessionStatus *model.SessionStatus    `json:"sessionStatus,omitempty"`
}

const sectionAheadMessage = "sectionIndex must not be ahead of the current section"

// classify maps a service error to an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	var elig *service.EligibilityError
	switch {
	case errors.As(err, &elig):
		return http.StatusForbidden, response.ErrCode(elig.Reason)
	case errors.Is(err, service.ErrTestNotFound):
		return http.StatusNotFound, response.ErrTestNotFound
	case errors.Is(err, service.ErrStudentNotFound):
		return http.StatusNotFound, response.ErrStudentNotFound
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrSectionNotFound):
		return http.StatusNotFound, response.ErrSectionNotFound
	case errors.Is(err, service.ErrSectionAlreadySubmitted):
		return http.StatusConflict, response.ErrSectionAlreadySubmitted
	case errors.Is(err, service.ErrSectionOutOfRange):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, service.ErrSessionNotActive):
		return http.StatusConflict, response.ErrSessionNotActive
	case errors.Is(err, service.ErrSessionNotCompleted):
		return http.StatusConflict, response.ErrSessionNotCompleted
	case errors.Is(err, service.ErrSectionExpired):
		return http.StatusConflict, response.ErrSectionExpired
	case errors.Is(err, service.ErrQuestionNotInSection):
		return http.StatusBadRequest, response.ErrQuestionNotInSection
	case errors.Is(err, service.ErrSaveVerificationFailed):
		return http.StatusInternalServerError, response.ErrSaveVerificationFailed
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// writeError sends the response for a service error, logging unexpected ones.
func writeError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)

	var elig *service.EligibilityError
	if errors.As(err, &elig) {
		response.FailWithDetails(c, status, code, elig.Message, eligibilityDetails{
			Reason:        elig.Reason,
			Boundary:      elig.Boundary,
			SessionStatus: elig.SessionStatus,
		})
		return
	}

	if errors.Is(err, service.ErrSectionOutOfRange) {
		response.FailWithFields(c, status, code, map[string]string{
			"sectionIndex": sectionAheadMessage,
		})
		return
	}

	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("route", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}
