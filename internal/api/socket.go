package api

import (
	"context"
	"encoding/json"
	"strings"

	"personarelay/internal/gateway"
	"personarelay/internal/models"
)

// HandleCommand serves commands sent over a client's websocket. The client's
// room is its account; payload fields naming another client are ignored.
func (h *Handler) HandleCommand(ctx context.Context, c *gateway.Client, cmd gateway.Command) {
	switch cmd.Name {
	case "request_ai_reply":
		h.requestReply(c, cmd.Data)
	case "activate_character":
		h.activateCharacter(ctx, c, cmd.Data)
	case "translate_message":
		// completions are slow; keep reading the socket meanwhile
		go h.translateMessage(ctx, c, cmd.Data)
	default:
		c.Send(models.Event{Name: models.EventError, Data: map[string]string{"error": "unknown command: " + cmd.Name}})
	}
}

func (h *Handler) requestReply(c *gateway.Client, data json.RawMessage) {
	var req respondRequest
	if err := decodeCommand(data, &req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.Send(models.Event{Name: models.EventAIReply, Data: models.ReplyResult{Error: "Missing character or message"}})
		return
	}
	req.Client = c.Room()
	reply := req.toReply(false)
	if err := h.replies.ScheduleReply(reply); err != nil {
		h.log.Warn("socket reply not scheduled", "client", reply.Owner, "err", err)
		c.Send(models.Event{Name: models.EventAIReply, Data: models.ReplyResult{
			Character:       reply.Character,
			Responses:       []string{},
			OriginalMessage: reply.Message,
			PlayerName:      reply.PlayerName,
			Error:           err.Error(),
		}})
	}
}

func (h *Handler) activateCharacter(ctx context.Context, c *gateway.Client, data json.RawMessage) {
	var req struct {
		Character string `json:"character"`
	}
	if err := decodeCommand(data, &req); err != nil || strings.TrimSpace(req.Character) == "" {
		c.Send(models.Event{Name: models.EventActivationResult, Data: map[string]string{"error": "No character specified"}})
		return
	}
	active, err := h.relay.Activate(ctx, c.Room(), strings.TrimSpace(req.Character))
	if err != nil {
		c.Send(models.Event{Name: models.EventActivationResult, Data: map[string]string{"error": activateError(err)}})
		return
	}
	c.Send(models.Event{Name: models.EventActivationResult, Data: map[string]any{"success": true, "active_character": active}})
}

func (h *Handler) translateMessage(ctx context.Context, c *gateway.Client, data json.RawMessage) {
	var req translateRequest
	if err := decodeCommand(data, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.Send(models.Event{Name: models.EventTranslationResult, Data: models.Interpretation{Error: "Missing character or text"}})
		return
	}
	out, err := h.relay.Interpret(ctx, c.Room(), strings.TrimSpace(req.Character), req.Text)
	if err != nil {
		out.Original = req.Text
		out.Error = interpretError(err)
	}
	c.Send(models.Event{Name: models.EventTranslationResult, Data: out})
}

func decodeCommand(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
