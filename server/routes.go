package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/orchestrator"
)

type sessionRequest struct {
	UserID string `json:"user_id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	SessionID   string           `json:"session_id"`
	Text        string           `json:"text"`
	PayloadType core.PayloadType `json:"payload_type,omitempty"`
	Payload     core.Payload     `json:"payload,omitempty"`
	Warning     string           `json:"warning,omitempty"`
	Agent       core.AgentKind   `json:"agent,omitempty"`
	Suspended   bool             `json:"suspended,omitempty"`
	Exhausted   bool             `json:"exhausted,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toResponse(msg orchestrator.OutgoingMessage) chatResponse {
	return chatResponse{
		SessionID:   msg.SessionID,
		Text:        msg.Text,
		PayloadType: msg.PayloadType,
		Payload:     msg.Payload,
		Warning:     msg.Warning,
		Agent:       msg.Agent,
		Suspended:   msg.Suspended,
		Exhausted:   msg.Exhausted,
	}
}

// registerRoutes sets up all chat routes on the Gin router.
func (s *Server) registerRoutes() {
	s.router.GET("/health", handleHealth)

	v1 := s.router.Group("/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.POST("/chat", s.handleChat)
	v1.POST("/chat/stream", s.handleChatStream)
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	sess, err := s.chat.CreateSession(c.Request.Context(), req.UserID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{SessionID: sess.ID, UserID: sess.UserID})
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	// A disconnecting client must not abort a booking half way.
	msg, err := s.chat.Handle(context.WithoutCancel(c.Request.Context()), req.UserID, req.Message)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(msg))
}

func (s *Server) handleChatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	stream := s.chat.HandleStream(c.Request.Context(), req.UserID, req.Message)
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	for {
		f, ok := stream.Next(ctx)
		if !ok {
			return
		}
		switch {
		case f.Err != nil:
			writeSSE(c.Writer, "error", errorResponse{Error: f.Err.Error()})
		case f.End:
			writeSSE(c.Writer, "done", toResponse(*f.Message))
		default:
			writeSSE(c.Writer, "fragment", gin.H{"text": f.Text})
		}
		c.Writer.Flush()
		if f.End {
			return
		}
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	if errors.Is(err, orchestrator.ErrEmptyUser) || errors.Is(err, orchestrator.ErrEmptyMessage) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if errors.Is(err, core.ErrStorageUnavailable) {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "session storage unavailable"})
		return
	}
	s.logger.Error("server.request.failed", "path", c.FullPath(), "error", err.Error())
	c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
