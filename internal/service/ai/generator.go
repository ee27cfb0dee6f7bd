package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"personarelay/internal/id"
	"personarelay/internal/logger"
	"personarelay/internal/models"
	"personarelay/internal/prompt"
)

const maxOptions = 3

var (
	ErrNoActiveCharacter = errors.New("no active character")
	ErrMissingProfile    = errors.New("character profile not found")
	ErrNoCompleter       = errors.New("completion backend not configured")
)

var optionLabel = regexp.MustCompile(`\n?\s*\d\.\s*`)

// ProfileSource looks up character profiles by name.
type ProfileSource interface {
	Get(name string) (*models.CharacterProfile, bool)
}

// HistoryAppender persists audit entries.
type HistoryAppender interface {
	Append(ctx context.Context, owner, character string, entry models.HistoryEntry) error
}

// ReplyRequest asks the active character to answer one player message.
type ReplyRequest struct {
	Owner      string
	Character  string
	Message    string
	PlayerName string
	Context    *prompt.Conversation
	// Manual marks requests made explicitly by the operator.
	Manual bool
}

// Result is the outcome of one generation. Options may be empty; Err
// explains why when generation did not succeed.
type Result struct {
	Options   []string
	RequestID string
	Err       error
}

type Generator struct {
	profiles  ProfileSource
	history   HistoryAppender
	composer  *prompt.Composer
	completer Completer
	now       func() time.Time
	log       *slog.Logger
}

func NewGenerator(profiles ProfileSource, history HistoryAppender, composer *prompt.Composer, completer Completer) *Generator {
	if composer == nil {
		composer = prompt.NewComposer("")
	}
	return &Generator{
		profiles:  profiles,
		history:   history,
		composer:  composer,
		completer: completer,
		now:       time.Now,
		log:       logger.For("generator"),
	}
}

// Generate produces up to three reply options for a player message.
// Completion failures are reported through Result.Err; the returned error is
// reserved for history persistence failures.
func (g *Generator) Generate(ctx context.Context, req ReplyRequest) (Result, error) {
	if req.Character == "" {
		return Result{Err: ErrNoActiveCharacter}, nil
	}
	profile, ok := g.profiles.Get(req.Character)
	if !ok {
		g.log.Warn("reply requested for unknown character", "character", req.Character)
		return Result{Err: fmt.Errorf("%w: %s", ErrMissingProfile, req.Character)}, nil
	}

	res := Result{RequestID: id.New()}
	if g.completer == nil {
		res.Err = ErrNoCompleter
	} else {
		text, err := g.completer.Complete(ctx, g.composer.Compose(profile, req.Message, req.Context))
		if err != nil {
			res.Err = err
		} else {
			res.Options = ParseOptions(text)
		}
	}
	if res.Err != nil {
		g.log.Error("generate reply failed", "character", req.Character, "request_id", res.RequestID, "err", res.Err)
	}

	// The completion may have hit its deadline; the audit trail is still owed.
	persistCtx := context.WithoutCancel(ctx)
	ts := g.now().Format(models.TimestampLayout)
	for i, option := range res.Options {
		entry := models.HistoryEntry{
			Timestamp: ts,
			Sender:    models.SenderAI,
			Message:   fmt.Sprintf("[AI Option %d] %s", i+1, option),
			RequestID: res.RequestID,
		}
		if err := g.history.Append(persistCtx, req.Owner, req.Character, entry); err != nil {
			return res, fmt.Errorf("append reply option: %w", err)
		}
	}

	verb := "Request"
	if req.Manual {
		verb = "Manual request"
	}
	audit := fmt.Sprintf("%s to respond to %s: %s", verb, req.PlayerName, req.Message)
	entry := models.HistoryEntry{Timestamp: ts, Sender: models.SenderSystem, Message: audit, RequestID: res.RequestID}
	if err := g.history.Append(persistCtx, req.Owner, req.Character, entry); err != nil {
		return res, fmt.Errorf("append reply audit: %w", err)
	}
	return res, nil
}

// Interpret rewrites operator text in the character's own voice.
func (g *Generator) Interpret(ctx context.Context, owner, character, text string) (string, error) {
	if character == "" {
		return "", ErrNoActiveCharacter
	}
	profile, ok := g.profiles.Get(character)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingProfile, character)
	}
	if g.completer == nil {
		return "", ErrNoCompleter
	}
	out, err := g.completer.Complete(ctx, g.composer.ComposeInterpretation(profile, text))
	if err != nil {
		g.log.Error("interpret message failed", "character", character, "err", err)
		return "", err
	}
	translated := StripEmDashes(strings.TrimSpace(out))

	entry := models.NewHistoryEntry(models.SenderSystem,
		fmt.Sprintf("Custom message interpretation - Original: %q -> As character: %q", text, translated), g.now())
	if err := g.history.Append(ctx, owner, character, entry); err != nil {
		return translated, fmt.Errorf("append interpretation: %w", err)
	}
	return translated, nil
}

// ParseOptions splits a completion into at most three labelled options.
// Text before the first label is discarded.
func ParseOptions(text string) []string {
	parts := optionLabel.Split(StripEmDashes(strings.TrimSpace(text)), -1)
	if len(parts) < 2 {
		return nil
	}
	options := make([]string, 0, maxOptions)
	for _, part := range parts[1:] {
		if len(options) == maxOptions {
			break
		}
		if p := strings.TrimSpace(part); p != "" {
			options = append(options, p)
		}
	}
	return options
}

// StripEmDashes replaces every em dash with a plain hyphen.
func StripEmDashes(s string) string {
	return strings.ReplaceAll(s, "—", "-")
}
