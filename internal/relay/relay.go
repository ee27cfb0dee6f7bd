// Package relay runs classified log lines through attribution, history and
// reply generation, and announces the results to front ends.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"personarelay/internal/classifier"
	"personarelay/internal/logger"
	"personarelay/internal/models"
	"personarelay/internal/service/ai"
	"personarelay/internal/session"
	"personarelay/internal/storage"
)

var ErrEmptyText = errors.New("no text provided")

// Broadcaster delivers events to connected front ends.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev models.Event) error
}

// Profiles exposes the character profiles known to the relay.
type Profiles interface {
	Get(name string) (*models.CharacterProfile, bool)
	Names(owner string) []string
}

// Replier produces reply options and interpretations.
type Replier interface {
	Generate(ctx context.Context, req ai.ReplyRequest) (ai.Result, error)
	Interpret(ctx context.Context, owner, character, text string) (string, error)
}

// Scheduler runs reply requests in the background.
type Scheduler interface {
	ScheduleReply(req ai.ReplyRequest) error
}

// Batch is one upload of log lines from a game client.
type Batch struct {
	Client string
	Lines  []string
	// Override forces the active character before the lines are processed.
	Override string
}

type Options struct {
	AutoReply bool
}

type Relay struct {
	resolver *session.Resolver
	profiles Profiles
	history  storage.HistoryStore
	replier  Replier
	events   Broadcaster
	opts     Options
	log      *slog.Logger

	scheduler Scheduler
}

func New(resolver *session.Resolver, profiles Profiles, history storage.HistoryStore, replier Replier, events Broadcaster, opts Options) *Relay {
	return &Relay{
		resolver: resolver,
		profiles: profiles,
		history:  history,
		replier:  replier,
		events:   events,
		opts:     opts,
		log:      logger.For("relay"),
	}
}

// SetScheduler installs the background runner used for automatic replies.
func (r *Relay) SetScheduler(s Scheduler) {
	r.scheduler = s
}

// ProcessBatch classifies lines in order and returns the events it emitted.
// A history failure aborts the batch; events emitted before it stand.
func (r *Relay) ProcessBatch(ctx context.Context, b Batch) ([]models.Event, error) {
	if len(b.Lines) == 0 {
		return nil, nil
	}
	known := session.NewCharacterSet(r.profiles.Names(b.Client)...)

	var events []models.Event
	emit := func(name string, data any) {
		ev := models.Event{Room: b.Client, Name: name, Data: data}
		events = append(events, ev)
		r.broadcast(ctx, ev)
	}

	if b.Override != "" {
		res, err := r.resolver.Activate(ctx, b.Client, b.Override, known)
		switch {
		case errors.Is(err, session.ErrUnknownCharacter):
			r.log.Warn("ignoring unknown override character", "client", b.Client, "character", b.Override)
		case err != nil:
			return events, err
		case res.Switched:
			emit(models.EventCharacterChange, models.CharacterChange{Character: res.Character})
		}
	}

	for _, line := range b.Lines {
		msg := classifier.Classify(line, b.Client)
		if msg.Kind == models.KindNoise {
			continue
		}

		res, err := r.resolver.Resolve(ctx, msg, known, b.Client)
		if err != nil {
			return events, err
		}
		if res.Switched {
			emit(models.EventCharacterChange, models.CharacterChange{Character: res.Character})
		}

		var original *string
		if msg.IsSpeech() {
			text := msg.Text
			original = &text
			if res.OK() {
				sender := models.SenderOther
				if msg.Kind == models.KindOwnSpeech {
					sender = models.SenderSelf
				}
				entry := models.NewHistoryEntry(sender, strings.TrimSpace(msg.Raw), time.Now())
				if err := r.history.Append(ctx, b.Client, res.Character, entry); err != nil {
					return events, fmt.Errorf("persist line: %w", err)
				}
			}
		}

		emit(models.EventNewMessage, models.NewMessage{
			Character:       res.Character,
			Message:         classifier.FormatDisplay(msg),
			RawMessage:      msg.Raw,
			IsOwn:           msg.IsOwn,
			OriginalMessage: original,
			Client:          b.Client,
		})

		if msg.Kind != models.KindOtherSpeech {
			continue
		}
		emit(models.EventPlayerMessage, models.PlayerMessage{
			Character:  res.Character,
			PlayerName: msg.Speaker,
			Message:    msg.Text,
			Client:     b.Client,
		})
		if r.opts.AutoReply && res.OK() && r.scheduler != nil {
			req := ai.ReplyRequest{Owner: b.Client, Character: res.Character, Message: msg.Text, PlayerName: msg.Speaker}
			if err := r.scheduler.ScheduleReply(req); err != nil {
				r.log.Warn("auto reply not scheduled", "client", b.Client, "character", res.Character, "err", err)
			}
		}
	}
	return events, nil
}

// RequestReply generates reply options for the requested (or active)
// character. Generation failures yield an empty response list; only history
// failures are returned as errors.
func (r *Relay) RequestReply(ctx context.Context, req ai.ReplyRequest) (models.ReplyResult, error) {
	if req.Character == "" {
		name, err := r.activeCharacter(ctx, req.Owner)
		if err != nil {
			return models.ReplyResult{}, err
		}
		req.Character = name
	}
	result := models.ReplyResult{
		Character:       req.Character,
		Responses:       []string{},
		OriginalMessage: req.Message,
		PlayerName:      req.PlayerName,
	}
	if req.Character == "" {
		return result, nil
	}

	res, err := r.replier.Generate(ctx, req)
	if len(res.Options) > 0 {
		result.Responses = res.Options
	}
	if res.Err != nil {
		result.Error = res.Err.Error()
	}
	return result, err
}

// RunReply generates a reply and announces it as an ai_reply event.
func (r *Relay) RunReply(ctx context.Context, req ai.ReplyRequest) {
	result, err := r.RequestReply(ctx, req)
	if err != nil {
		r.log.Error("reply generation failed", "client", req.Owner, "character", req.Character, "err", err)
		return
	}
	// A reply that ran out of time is still announced.
	r.broadcast(context.WithoutCancel(ctx), models.Event{Room: req.Owner, Name: models.EventAIReply, Data: result})
}

// Interpret voices operator text as the requested (or active) character.
func (r *Relay) Interpret(ctx context.Context, owner, character, text string) (models.Interpretation, error) {
	if strings.TrimSpace(text) == "" {
		return models.Interpretation{}, ErrEmptyText
	}
	if character == "" {
		name, err := r.activeCharacter(ctx, owner)
		if err != nil {
			return models.Interpretation{}, err
		}
		if name == "" {
			return models.Interpretation{}, ai.ErrNoActiveCharacter
		}
		character = name
	}
	out := models.Interpretation{Original: text, Character: character}
	translated, err := r.replier.Interpret(ctx, owner, character, text)
	if err != nil {
		return out, err
	}
	out.Translated = translated
	return out, nil
}

// Activate switches the active character of owner on operator request.
func (r *Relay) Activate(ctx context.Context, owner, name string) (string, error) {
	known := session.NewCharacterSet(r.profiles.Names(owner)...)
	res, err := r.resolver.Activate(ctx, owner, name, known)
	if err != nil {
		return "", err
	}
	if res.Switched {
		r.broadcast(ctx, models.Event{Room: owner, Name: models.EventCharacterChange, Data: models.CharacterChange{Character: res.Character}})
	}
	return res.Character, nil
}

// History returns the transcript of one character.
func (r *Relay) History(ctx context.Context, owner, character string) ([]models.HistoryEntry, error) {
	return r.history.ReadAll(ctx, owner, character)
}

// Characters lists the characters available to owner and the active one.
func (r *Relay) Characters(ctx context.Context, owner string) (string, []string, error) {
	active, err := r.activeCharacter(ctx, owner)
	if err != nil {
		return "", nil, err
	}
	return active, r.profiles.Names(owner), nil
}

func (r *Relay) activeCharacter(ctx context.Context, owner string) (string, error) {
	name, ok, err := r.resolver.Active(ctx, owner)
	if err != nil {
		return "", err
	}
	if ok && name != "" {
		return name, nil
	}
	if names := r.profiles.Names(owner); len(names) > 0 {
		return names[0], nil
	}
	return "", nil
}

func (r *Relay) broadcast(ctx context.Context, ev models.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Broadcast(ctx, ev); err != nil {
		r.log.Warn("broadcast failed", "event", ev.Name, "room", ev.Room, "err", err)
	}
}
