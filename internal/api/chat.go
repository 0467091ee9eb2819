package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/middleware"
	"github.com/medical-decision-assistant/internal/rag"
)

// ChatRequest is the body of POST /api/chat and of each websocket message.
type ChatRequest struct {
	Question          string `json:"question"`
	PatientID         string `json:"patient_id,omitempty"`
	EnableSafetyCheck *bool  `json:"enable_safety_check,omitempty"`
}

func (r ChatRequest) safetyEnabled() bool {
	return r.EnableSafetyCheck == nil || *r.EnableSafetyCheck
}

// chunkWriter receives streamed answer text.
type chunkWriter func(chunk string) error

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS middleware
	},
}

// handleChat streams an answer as text/plain, followed by the safety footer.
func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, errInvalidBody)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		badRequest(c, "问题不能为空")
		return
	}
	if s.deps.Engine == nil {
		unavailable(c, domain.ErrEngineUnavailable.Error())
		return
	}

	ctx := c.Request.Context()
	stream, err := s.deps.Engine.QueryStream(ctx, s.chatQuestion(ctx, req))
	if err != nil {
		s.writeError(c, "chat", err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)

	write := func(chunk string) error {
		if _, err := io.WriteString(c.Writer, chunk); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	s.streamAnswer(ctx, c.GetString(middleware.CorrelationIDKey), stream, req.safetyEnabled(), write)
}

// handleChatWebSocket serves one ChatRequest per text message. Each answer is
// sent as text frames and terminated by {"done":true}.
func (s *Server) handleChatWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	correlationID := c.GetString(middleware.CorrelationIDKey)
	ctx := c.Request.Context()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).WithField("correlation_id", correlationID).Warn("WebSocket closed unexpectedly")
			}
			return
		}

		var req ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if err := conn.WriteJSON(gin.H{"error": errInvalidBody, "done": true}); err != nil {
				return
			}
			continue
		}
		if strings.TrimSpace(req.Question) == "" {
			if err := conn.WriteJSON(gin.H{"error": "问题不能为空", "done": true}); err != nil {
				return
			}
			continue
		}
		if s.deps.Engine == nil {
			if err := conn.WriteJSON(gin.H{"error": domain.ErrEngineUnavailable.Error(), "done": true}); err != nil {
				return
			}
			continue
		}

		stream, err := s.deps.Engine.QueryStream(ctx, s.chatQuestion(ctx, req))
		if err != nil {
			if err := conn.WriteJSON(gin.H{"error": messageFor(err), "done": true}); err != nil {
				return
			}
			continue
		}

		write := func(chunk string) error {
			return conn.WriteMessage(websocket.TextMessage, []byte(chunk))
		}
		ok := s.streamAnswer(ctx, correlationID, stream, req.safetyEnabled(), write)
		stream.Close()
		if !ok {
			return
		}
		if err := conn.WriteJSON(gin.H{"done": true}); err != nil {
			return
		}
	}
}

// chatQuestion prefixes the question with the patient summary when one is known.
func (s *Server) chatQuestion(ctx context.Context, req ChatRequest) string {
	if req.PatientID == "" || s.deps.Tools == nil {
		return req.Question
	}
	summary := s.deps.Tools.PatientContext(ctx, req.PatientID)
	if summary == "" {
		return req.Question
	}
	return rag.WithContext(req.Question, []rag.KV{{Key: "患者信息", Value: summary}})
}

// streamAnswer drains stream into write. Stream failures become an inline
// "错误:" chunk. It reports false when the client went away.
func (s *Server) streamAnswer(ctx context.Context, correlationID string, stream *rag.Stream, withSafety bool, write chunkWriter) bool {
	logger := s.logger.WithField("correlation_id", correlationID)

	var full strings.Builder
	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("Client disconnected during chat stream")
				return false
			}
			logger.WithError(err).Error("Chat stream failed")
			return write("\n\n错误: "+err.Error()) == nil
		}
		full.WriteString(chunk)
		if err := write(chunk); err != nil {
			logger.WithError(err).Debug("Failed to write chat chunk")
			return false
		}
	}

	if withSafety && s.deps.Safety != nil {
		for _, chunk := range s.deps.Safety.StreamFooter(full.String()) {
			if err := write(chunk); err != nil {
				return false
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"answer_length": len([]rune(full.String())),
		"sources":       len(stream.Sources()),
	}).Info("Chat answer streamed")
	return true
}
