package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"personarelay/internal/logger"
	"personarelay/internal/models"
	"personarelay/internal/prompt"
	"personarelay/internal/relay"
	"personarelay/internal/service/ai"
	"personarelay/internal/session"
	"personarelay/internal/storage"
	"personarelay/internal/worker"
)

const (
	defaultClient     = "default"
	defaultPlayerName = "Unknown"
)

// Pipeline is the part of the relay the HTTP and socket surfaces drive.
type Pipeline interface {
	RequestReply(ctx context.Context, req ai.ReplyRequest) (models.ReplyResult, error)
	Interpret(ctx context.Context, owner, character, text string) (models.Interpretation, error)
	Activate(ctx context.Context, owner, name string) (string, error)
	History(ctx context.Context, owner, character string) ([]models.HistoryEntry, error)
	Characters(ctx context.Context, owner string) (string, []string, error)
}

// BatchSubmitter queues log batches per client.
type BatchSubmitter interface {
	Submit(ctx context.Context, b relay.Batch) (<-chan worker.BatchResult, error)
}

// ReplyScheduler runs reply requests in the background.
type ReplyScheduler interface {
	ScheduleReply(req ai.ReplyRequest) error
}

// Handler wires HTTP routes and socket commands to the relay pipeline.
type Handler struct {
	relay   Pipeline
	batches BatchSubmitter
	replies ReplyScheduler
	sockets http.Handler
	log     *slog.Logger
}

// NewHandler constructs a Handler instance. sockets serves the websocket
// endpoint and may be nil.
func NewHandler(pipeline Pipeline, batches BatchSubmitter, replies ReplyScheduler, sockets http.Handler) *Handler {
	return &Handler{
		relay:   pipeline,
		batches: batches,
		replies: replies,
		sockets: sockets,
		log:     logger.For("api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	if h.sockets != nil {
		router.GET("/ws", gin.WrapH(h.sockets))
	}

	api := router.Group("/api")
	api.POST("/log_update", h.logUpdate)
	api.POST("/respond", h.respond)
	api.POST("/translate", h.translate)
	api.GET("/history/:owner/:character", h.history)
	api.GET("/characters", h.characters)
	api.POST("/character/:name/activate", h.activate)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type logUpdateRequest struct {
	Lines    []string `json:"lines"`
	Client   string   `json:"client"`
	Override string   `json:"override_character"`
}

func (h *Handler) logUpdate(c *gin.Context) {
	var req logUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	batch := relay.Batch{
		Client:   clientOrDefault(req.Client),
		Lines:    req.Lines,
		Override: strings.TrimSpace(req.Override),
	}

	// the batch outlives the request if the uploader hangs up
	results, err := h.batches.Submit(context.WithoutCancel(c.Request.Context()), batch)
	if err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			c.JSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "server is busy, please retry"})
		} else {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": err.Error()})
		}
		return
	}

	select {
	case res := <-results:
		if res.Err != nil {
			h.log.Error("log update failed", "client", batch.Client, "err", res.Err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": res.Err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "events": len(res.Events)})
	case <-c.Request.Context().Done():
		c.Status(http.StatusRequestTimeout)
	}
}

type respondRequest struct {
	Client     string               `json:"client"`
	Character  string               `json:"character"`
	Message    string               `json:"message"`
	PlayerName string               `json:"player_name"`
	Context    *prompt.Conversation `json:"context"`
}

func (r respondRequest) toReply(manual bool) ai.ReplyRequest {
	player := strings.TrimSpace(r.PlayerName)
	if player == "" {
		player = defaultPlayerName
	}
	return ai.ReplyRequest{
		Owner:      clientOrDefault(r.Client),
		Character:  strings.TrimSpace(r.Character),
		Message:    r.Message,
		PlayerName: player,
		Context:    r.Context,
		Manual:     manual,
	}
}

func (h *Handler) respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing character or message"})
		return
	}
	result, err := h.relay.RequestReply(c.Request.Context(), req.toReply(true))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if result.Character == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing character or message"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type translateRequest struct {
	Client    string `json:"client"`
	Character string `json:"character"`
	Text      string `json:"text"`
}

func (h *Handler) translate(c *gin.Context) {
	var req translateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	out, err := h.relay.Interpret(c.Request.Context(), clientOrDefault(req.Client), strings.TrimSpace(req.Character), req.Text)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": interpretError(err)})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) history(c *gin.Context) {
	owner := c.Param("owner")
	character := c.Param("character")
	entries, err := h.relay.History(c.Request.Context(), owner, character)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = make([]models.HistoryEntry, 0)
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) characters(c *gin.Context) {
	owner := clientOrDefault(c.Query("owner"))
	active, names, err := h.relay.Characters(c.Request.Context(), owner)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if names == nil {
		names = make([]string, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"active_character": active,
		"characters":       names,
	})
}

func (h *Handler) activate(c *gin.Context) {
	var req struct {
		Client string `json:"client"`
	}
	// the body is optional
	_ = c.ShouldBindJSON(&req)

	active, err := h.relay.Activate(c.Request.Context(), clientOrDefault(req.Client), c.Param("name"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"success": false, "error": activateError(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "active_character": active})
}

func clientOrDefault(client string) string {
	client = strings.TrimSpace(client)
	if client == "" {
		return defaultClient
	}
	return client
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrEmptyText), errors.Is(err, ai.ErrNoActiveCharacter):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrUnknownCharacter), errors.Is(err, ai.ErrMissingProfile):
		return http.StatusNotFound
	case errors.Is(err, ai.ErrNoCompleter):
		return http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func interpretError(err error) string {
	switch {
	case errors.Is(err, relay.ErrEmptyText):
		return "No text provided"
	case errors.Is(err, ai.ErrNoActiveCharacter):
		return "No active character selected"
	default:
		return err.Error()
	}
}

func activateError(err error) string {
	if errors.Is(err, session.ErrUnknownCharacter) {
		return "Character not found"
	}
	return err.Error()
}
