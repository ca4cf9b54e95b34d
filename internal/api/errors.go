package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// errorBody is the JSON error envelope of every failed request
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message       string `json:"message"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// statusFor maps a tracking error to an HTTP status code
func statusFor(err error) int {
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindInvalidTaskDefinition,
		domain.KindInvalidStateDefinition,
		domain.KindInvalidStateStatus,
		domain.KindInvalidCheckInTarget,
		domain.KindInvalidHook:
		return http.StatusBadRequest
	case domain.KindTooManyCheckIns, domain.KindInvalidTaskOperation:
		return http.StatusConflict
	case domain.KindUserNotFound, domain.KindGroupNotFound:
		return http.StatusNotFound
	}
	if kind != "" {
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	detail := errorDetail{
		Message:       err.Error(),
		Code:          string(domain.KindOf(err)),
		CorrelationID: c.GetString(correlationIDKey),
	}

	fields := logrus.Fields{
		"method":         c.Request.Method,
		"path":           c.FullPath(),
		"status":         status,
		"correlation_id": detail.CorrelationID,
		"error":          err,
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithFields(fields).Error("Request failed")
		detail.Message = "internal server error"
	} else {
		s.logger.WithFields(fields).Debug("Request rejected")
	}

	c.AbortWithStatusJSON(status, errorBody{Error: detail})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: errorDetail{
		Message:       message,
		CorrelationID: c.GetString(correlationIDKey),
	}})
}
