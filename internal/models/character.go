package models

import (
	"bytes"
	"encoding/json"
)

// CharacterProfile is the persona definition of an operator's character.
// Profiles are maintained outside the relay; the relay only reads them.
type CharacterProfile struct {
	Name                   string          `json:"name"`
	Title                  string          `json:"title,omitempty"`
	Race                   string          `json:"race,omitempty"`
	Class                  string          `json:"class,omitempty"`
	Alignment              string          `json:"alignment,omitempty"`
	Description            string          `json:"description,omitempty"`
	Persona                string          `json:"persona,omitempty"`
	Background             string          `json:"background,omitempty"`
	Appearance             string          `json:"appearance,omitempty"`
	Traits                 []string        `json:"traits,omitempty"`
	Mannerisms             []string        `json:"mannerisms,omitempty"`
	InteractionConstraints []string        `json:"interaction_constraints,omitempty"`
	DialogueExamples       json.RawMessage `json:"dialogue_examples,omitempty"`
	RoleplayPrompt         string          `json:"roleplay_prompt,omitempty"`
	Notes                  string          `json:"notes,omitempty"`
	Temperature            *float64        `json:"temperature,omitempty"`
	Owner                  string          `json:"owner,omitempty"`
}

// DialogueText renders the dialogue examples exactly as stored, compacted
// onto one line. Missing examples render as an empty list.
func (p CharacterProfile) DialogueText() string {
	raw := bytes.TrimSpace(p.DialogueExamples)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "[]"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// PersonaText returns the persona, falling back to the free-form description
// used by profiles created through the character manager.
func (p CharacterProfile) PersonaText() string {
	if p.Persona != "" {
		return p.Persona
	}
	return p.Description
}
