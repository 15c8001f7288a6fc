package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"

	"realtime-chat/backend/internal/models"
	"realtime-chat/backend/internal/orchestrator"
	"realtime-chat/backend/internal/responder"
	"realtime-chat/backend/internal/store"
	"realtime-chat/backend/pkg/errors"
	"realtime-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxLimit = 1000

// MessageStore is the store surface used by the REST API
type MessageStore interface {
	FetchRecent(ctx context.Context, limit int) ([]models.Message, error)
	Insert(ctx context.Context, msg models.NewMessage) (*models.Message, error)
	DeleteAll(ctx context.Context) error
}

// Responder runs the orchestration step of a send
type Responder interface {
	Respond(ctx context.Context, source models.Source, history []models.Message) (*models.Message, error)
	Sources() []models.Source
}

// MessageController handles message-related API endpoints
type MessageController struct {
	store       MessageStore
	orch        Responder
	recentLimit int
}

// NewMessageController creates a new message controller
func NewMessageController(s MessageStore, orch Responder, recentLimit int) *MessageController {
	if recentLimit <= 0 {
		recentLimit = store.DefaultRecentLimit
	}
	return &MessageController{store: s, orch: orch, recentLimit: recentLimit}
}

// RegisterRoutesV1 registers the message routes under the v1 group
func (mc *MessageController) RegisterRoutesV1(v1 *gin.RouterGroup) {
	v1.GET("/messages", mc.ListMessages)
	v1.POST("/messages", mc.CreateMessage)
	v1.DELETE("/messages", mc.ClearMessages)
	v1.POST("/chat", mc.Chat)
	v1.GET("/sources", mc.ListSources)
}

// ListMessages returns the recent window, oldest first
func (mc *MessageController) ListMessages(c *gin.Context) {
	limit := mc.recentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLimit {
			c.Error(errors.NewBadRequestError(errors.CodeBadRequest, "limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	messages, err := mc.store.FetchRecent(c.Request.Context(), limit)
	if err != nil {
		c.Error(storeError("Failed to load messages", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

// CreateMessage inserts a message as-is, without orchestration
func (mc *MessageController) CreateMessage(c *gin.Context) {
	var req models.NewMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeBadRequest, "Invalid request format").Wrap(err))
		return
	}
	if req.Text == "" {
		c.Error(errors.NewBadRequestError(errors.CodeBadRequest, "text must not be empty"))
		return
	}
	if _, err := models.ParseSource(string(req.Source)); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeBadRequest, err.Error()))
		return
	}

	msg, err := mc.store.Insert(c.Request.Context(), req)
	if err != nil {
		c.Error(storeError("Failed to save message", err))
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// ClearMessages deletes the whole log
func (mc *MessageController) ClearMessages(c *gin.Context) {
	if err := mc.store.DeleteAll(c.Request.Context()); err != nil {
		c.Error(storeError("Failed to clear messages", err))
		return
	}
	logger.FromContext(c).Info("Message log cleared")
	c.Status(http.StatusNoContent)
}

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Text           string `json:"text" binding:"required"`
	InputSource    string `json:"input_source"`
	ResponseSource string `json:"response_source" binding:"required"`
}

// Chat sends a message and runs the response step in one request
func (mc *MessageController) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeBadRequest, "Invalid request format").Wrap(err))
		return
	}
	if req.Text == "" {
		c.Error(errors.NewBadRequestError(errors.CodeBadRequest, "text must not be empty"))
		return
	}
	if req.InputSource == "" {
		req.InputSource = string(models.SourceCustomer)
	}
	input, err := models.ParseSource(req.InputSource)
	if err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeBadRequest, err.Error()))
		return
	}
	// an unservable response source is reported by the orchestrator once
	// the user message is stored
	response := models.Source(req.ResponseSource)

	ctx := c.Request.Context()
	userMsg, err := mc.store.Insert(ctx, models.NewMessage{Text: req.Text, Source: input})
	if err != nil {
		c.Error(storeError("Failed to save message", err))
		return
	}

	history, err := mc.store.FetchRecent(ctx, mc.recentLimit)
	if err != nil {
		c.Error(storeError("Failed to load history", err))
		return
	}
	if !containsID(history, userMsg.ID) {
		history = append(history, *userMsg)
	}

	reply, err := mc.orch.Respond(ctx, response, history)
	if err != nil {
		c.Error(respondError(err).WithDetails(gin.H{"message": userMsg}))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": userMsg,
		"reply":   reply,
	})
}

// ListSources returns the response sources that can be selected
func (mc *MessageController) ListSources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": mc.orch.Sources()})
}

func containsID(messages []models.Message, id uint) bool {
	for _, m := range messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

func storeError(message string, err error) *errors.AppError {
	return errors.NewInternalServerError(errors.CodeStoreError, message).Wrap(err)
}

func respondError(err error) *errors.AppError {
	var cerr *orchestrator.ConfigurationError
	if stderrors.As(err, &cerr) {
		return errors.NewBadRequestError(errors.CodeUnsupportedSource, cerr.Error()).Wrap(err)
	}
	var perr *responder.ProviderError
	if stderrors.As(err, &perr) {
		return errors.NewBadGatewayError(errors.CodeProviderError, "The assistant failed to respond").Wrap(err)
	}
	var serr *store.StoreError
	if stderrors.As(err, &serr) {
		return storeError("Failed to save reply", err)
	}
	return errors.FromError(err)
}
