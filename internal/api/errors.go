package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/middleware"
)

const (
	errStoreMissing     = "数据库未初始化"
	errToolsMissing     = "医疗工具未初始化"
	errServiceMissing   = "服务未初始化"
	errInvalidBody      = "请求体格式错误"
	errFeedbackDisabled = "反馈存储未初始化"
)

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing message for err.
func messageFor(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, domain.ErrEmptyQuestion):
		return "问题不能为空"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return errStoreMissing
	default:
		return err.Error()
	}
}

// writeError logs err and writes {"error": msg} with the mapped status.
func (s *Server) writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	entry := s.logger.WithFields(logrus.Fields{
		"correlation_id": c.GetString(middleware.CorrelationIDKey),
		"operation":      op,
		"status":         status,
	}).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	c.JSON(status, gin.H{"error": messageFor(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func unavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
