package models

// Kind tags the outcome of classifying one log line.
type Kind string

const (
	KindNoise       Kind = "noise"
	KindOwnSpeech   Kind = "own_speech"
	KindOtherSpeech Kind = "other_speech"
	KindUnparsed    Kind = "unparsed"
)

// ClassifiedMessage is the structural record extracted from a raw log line.
type ClassifiedMessage struct {
	Raw      string `json:"raw"`
	Speaker  string `json:"speaker,omitempty"`
	Account  string `json:"account,omitempty"`
	Text     string `json:"text"`
	IsOwn    bool   `json:"is_own"`
	IsSystem bool   `json:"is_system"`
	Kind     Kind   `json:"kind"`
}

// IsSpeech reports whether the line carried a "[Talk]" utterance.
func (m ClassifiedMessage) IsSpeech() bool {
	return m.Kind == KindOwnSpeech || m.Kind == KindOtherSpeech
}
