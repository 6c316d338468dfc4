package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deepseek-chat/internal/domain"
	"deepseek-chat/internal/render"
	"deepseek-chat/internal/repository"
	"deepseek-chat/internal/service"
)

// SessionAPI son las intenciones que la API puede emitir sobre la sesión.
type SessionAPI interface {
	Submit(text string) error
	Retry() error
	Acknowledge() error
	NewChat() error
	ForceNewChat()
	Save(ctx context.Context, name string) (string, error)
	Load(ctx context.Context, name string) error
	Conversations(ctx context.Context) ([]domain.ConversationInfo, error)
	Snapshot() service.Snapshot
	Subscribe(o service.Observer) func()
}

// ChatHandler expone el controlador de sesión por HTTP.
type ChatHandler struct {
	logger  *zap.Logger
	session SessionAPI
	md      *render.Markdown
}

func NewChatHandler(logger *zap.Logger, session SessionAPI, md *render.Markdown) *ChatHandler {
	if md == nil {
		md = render.NewMarkdown()
	}
	return &ChatHandler{
		logger:  logger,
		session: session,
		md:      md,
	}
}

// GetTranscript maneja GET /transcript.
func (h *ChatHandler) GetTranscript(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session": h.session.Snapshot()})
}

// GetTranscriptHTML maneja GET /transcript.html.
func (h *ChatHandler) GetTranscriptHTML(c *gin.Context) {
	snap := h.session.Snapshot()
	title := "Conversación"
	if snap.Path != "" {
		title = repository.DisplayName(snap.Path)
	}
	doc, err := h.md.Document(title, snap.Messages)
	if err != nil {
		h.logger.Error("render transcript failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "could not render transcript")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", doc)
}

// Submit maneja POST /submit. La respuesta llega por /events o /transcript.
func (h *ChatHandler) Submit(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid submit request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.session.Submit(req.Text); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session": h.session.Snapshot()})
}

// Retry maneja POST /retry.
func (h *ChatHandler) Retry(c *gin.Context) {
	if err := h.session.Retry(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session": h.session.Snapshot()})
}

// Acknowledge maneja POST /ack.
func (h *ChatHandler) Acknowledge(c *gin.Context) {
	if err := h.session.Acknowledge(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.session.Snapshot()})
}

// NewChat maneja POST /new; con ?force=true abandona la petición en curso.
func (h *ChatHandler) NewChat(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	if force {
		h.session.ForceNewChat()
	} else if err := h.session.NewChat(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.session.Snapshot()})
}

// Save maneja POST /save. El cuerpo es opcional.
func (h *ChatHandler) Save(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("invalid save request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	location, err := h.session.Save(c.Request.Context(), req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": location, "session": h.session.Snapshot()})
}

// Load maneja POST /load.
func (h *ChatHandler) Load(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid load request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.session.Load(c.Request.Context(), req.Name); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": h.session.Snapshot()})
}

// ListConversations maneja GET /conversations.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	list, err := h.session.Conversations(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// StreamEvents maneja GET /events: primero la instantánea actual y luego cada evento
// del controlador como server-sent event.
func (h *ChatHandler) StreamEvents(c *gin.Context) {
	inbox := service.NewEventInbox()
	unsubscribe := h.session.Subscribe(inbox.Push)
	defer unsubscribe()

	ctx := c.Request.Context()
	c.SSEvent("snapshot", h.session.Snapshot())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-inbox.Ready():
			for _, e := range inbox.Drain() {
				c.SSEvent(string(e.Type), e)
			}
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (h *ChatHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidContent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionBusy),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrPendingMessage):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMalformedTranscript):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
