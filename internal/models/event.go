package models

// Event names delivered to front ends. They match the names the browser
// client already listens for.
const (
	EventNewMessage        = "new_message"
	EventPlayerMessage     = "player_message"
	EventCharacterChange   = "character_change"
	EventAIReply           = "ai_reply"
	EventTranslationResult = "translation_result"
	EventActivationResult  = "activation_result"
	EventConnectionStatus  = "connection_status"
	EventPong              = "pong"
	EventError             = "error"
)

// Event is one outbound notification. Room scopes delivery to a single
// account; an empty room reaches every connection.
type Event struct {
	Room string `json:"room,omitempty"`
	Name string `json:"event"`
	Data any    `json:"data"`
}

type NewMessage struct {
	Character       string  `json:"character"`
	Message         string  `json:"message"`
	RawMessage      string  `json:"raw_message"`
	IsOwn           bool    `json:"is_own"`
	OriginalMessage *string `json:"original_message"`
	Client          string  `json:"client"`
}

type PlayerMessage struct {
	Character  string `json:"character"`
	PlayerName string `json:"player_name"`
	Message    string `json:"message"`
	Client     string `json:"client"`
}

type CharacterChange struct {
	Character string `json:"character"`
}

// ReplyResult carries zero to three reply options for one request.
type ReplyResult struct {
	Character       string   `json:"character"`
	Responses       []string `json:"responses"`
	OriginalMessage string   `json:"original_message"`
	PlayerName      string   `json:"player_name"`
	Error           string   `json:"error,omitempty"`
}

type Interpretation struct {
	Original   string `json:"original"`
	Translated string `json:"translated,omitempty"`
	Character  string `json:"character"`
	Error      string `json:"error,omitempty"`
}
