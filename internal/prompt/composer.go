// Package prompt builds the role-tagged completion requests sent to chat models.
package prompt

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"personarelay/internal/models"
)

const (
	DefaultTemperature = 0.7
	MinTemperature     = 0.1
	ReplyMaxTokens     = 400
	InterpretMaxTokens = 250

	DefaultProtected = "Elvith"
	DefaultSetting   = "Neverwinter Nights EE"

	contextSeparator = "The above messages provide context for the conversation. Now respond to the following message:"
	emDashDirective  = "Important formatting notes: Never use em dashes (—) in your responses. Use regular hyphens (-) or just avoid them entirely."
	replyDirective   = "Generate three distinct in-character replies to the player message, each with a different style:" +
		"\n1. Fast, dry, and pointed (1 line)." +
		"\n2. Elegant but not long (2 lines)." +
		"\n3. Creative and elegant, with some flair (3 lines)." +
		"\nLabel each reply as '1.', '2.', and '3.' respectively."
	interpretDirective = "You will receive a message written by the player. Your task is NOT to translate it literally, but to " +
		"understand the meaning and intent behind it, then express that intent as your character would naturally say it. " +
		"Always include one action between asterisks (*) that reflects your character's mannerisms and personality. " +
		"Then include your character's speech in quotes (\"\"). Use the character's unique vocabulary, " +
		"speech patterns, and mannerisms.\n" +
		"\nDo NOT attempt to preserve the exact wording or structure of the original message. " +
		"Instead, understand what the user wants to express, and then create a NEW message that conveys " +
		"that same meaning but in your character's distinct voice and style."
)

// Turn is one prior utterance supplied as conversation context.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Conversation is caller-supplied context, oldest turn first.
type Conversation struct {
	Messages []Turn `json:"messages"`
}

func (c *Conversation) empty() bool {
	return c == nil || len(c.Messages) == 0
}

// Request is a fully composed completion call.
type Request struct {
	Messages    []*schema.Message
	Temperature float32
	MaxTokens   int
}

// Composer renders character profiles into chat model requests.
type Composer struct {
	// Protected marks low-creativity characters by name substring.
	Protected string
	Setting   string
}

func NewComposer(protected string) *Composer {
	if protected == "" {
		protected = DefaultProtected
	}
	return &Composer{Protected: protected, Setting: DefaultSetting}
}

// Temperature returns the effective sampling temperature for a profile.
func (c *Composer) Temperature(profile *models.CharacterProfile) float64 {
	t := DefaultTemperature
	if profile.Temperature != nil {
		t = *profile.Temperature
	}
	if c.isProtected(profile.Name) {
		t = max(MinTemperature, t*0.9)
	}
	return t
}

// Compose builds the reply-generation request for one player message.
func (c *Composer) Compose(profile *models.CharacterProfile, playerMessage string, conv *Conversation) Request {
	var b strings.Builder
	c.writePersona(&b, profile)
	b.WriteString(c.restraint(profile.Name, "conversations", "following the conversation directly"))
	b.WriteString("\n\nNever break character. Respond to the following as your character would.\n")
	b.WriteString("\n" + emDashDirective + "\n")
	b.WriteString("\n" + replyDirective)

	messages := []*schema.Message{schema.SystemMessage(b.String())}
	if !conv.empty() {
		added := 0
		for _, turn := range conv.Messages {
			if turn.Speaker == "" || turn.Text == "" {
				continue
			}
			content := turn.Speaker + ": " + turn.Text
			if turn.Speaker == profile.Name {
				messages = append(messages, schema.AssistantMessage(content, nil))
			} else {
				messages = append(messages, schema.UserMessage(content))
			}
			added++
		}
		if added > 0 {
			messages = append(messages, schema.SystemMessage(contextSeparator))
		}
	}
	messages = append(messages, schema.UserMessage("Player says: "+playerMessage+"\nYour replies:"))

	return Request{
		Messages:    messages,
		Temperature: float32(c.Temperature(profile)),
		MaxTokens:   ReplyMaxTokens,
	}
}

// ComposeInterpretation builds a request that rewrites operator text in the
// character's own voice.
func (c *Composer) ComposeInterpretation(profile *models.CharacterProfile, text string) Request {
	var b strings.Builder
	c.writePersona(&b, profile)
	b.WriteString(c.restraint(profile.Name, "translations", "direct communication"))
	b.WriteString("\n\n" + interpretDirective + "\n")
	b.WriteString("\n" + emDashDirective)

	user := fmt.Sprintf("I want to roleplay as your character and say something. "+
		"Please understand what I mean and express it as your character would: %q\n\n"+
		"Respond with an appropriate character action and speech that conveys this meaning.", text)

	return Request{
		Messages: []*schema.Message{
			schema.SystemMessage(b.String()),
			schema.UserMessage(user),
		},
		Temperature: float32(c.Temperature(profile)),
		MaxTokens:   InterpretMaxTokens,
	}
}

func (c *Composer) writePersona(b *strings.Builder, p *models.CharacterProfile) {
	setting := c.Setting
	if setting == "" {
		setting = DefaultSetting
	}
	fmt.Fprintf(b, "You are roleplaying as the following character in %s. ", setting)
	b.WriteString("Stay strictly in character, using the persona, background, and style below.\n\n")
	fmt.Fprintf(b, "Persona: %s\n", p.PersonaText())
	fmt.Fprintf(b, "Background: %s\n", p.Background)
	fmt.Fprintf(b, "Appearance: %s\n", p.Appearance)
	fmt.Fprintf(b, "Traits: %s\n", strings.Join(p.Traits, ", "))
	fmt.Fprintf(b, "Roleplay Prompt: %s\n", p.RoleplayPrompt)
	fmt.Fprintf(b, "Interaction Constraints: %s\n", strings.Join(p.InteractionConstraints, ", "))
	fmt.Fprintf(b, "Mannerisms: %s\n", strings.Join(p.Mannerisms, ", "))
	fmt.Fprintf(b, "Example Dialogue: %s\n", p.DialogueText())
}

// restraint returns the flowery-language directive for protected characters.
func (c *Composer) restraint(name, activity, focus string) string {
	if !c.isProtected(name) {
		return ""
	}
	return fmt.Sprintf("\nIMPORTANT NOTE FOR %s: Reduce poetic and flowery language by 30%%. "+
		"Be more direct and straightforward in %s. "+
		"Focus on clear communication rather than excessive metaphors or philosophical tangents. "+
		"While still maintaining your elegant and aristocratic tone, prioritize %s "+
		"rather than being overly poetic or abstract.", strings.ToUpper(name), activity, focus)
}

func (c *Composer) isProtected(name string) bool {
	return c.Protected != "" && strings.Contains(name, c.Protected)
}
