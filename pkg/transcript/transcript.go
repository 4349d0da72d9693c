// Package transcript normalises interview transcripts delivered by the voice
// platform. Three shapes are accepted and anything else is rejected.
package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnrecognizedTranscript is returned for payloads that match none of the known shapes.
var ErrUnrecognizedTranscript = errors.New("unrecognized transcript shape")

// Kind identifies which input shape a transcript arrived in.
type Kind string

const (
	KindText   Kind = "text"
	KindObject Kind = "object"
	KindTurns  Kind = "turns"
)

const maxAnswerRunes = 4000

// Turn is one utterance in a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Transcript is the normalised form.
type Transcript struct {
	Kind  Kind
	Text  string
	Turns []Turn
}

// Parse decodes raw JSON into one of the known transcript shapes:
// a JSON string, an object with a "text" field, or an array of role/message turns.
func Parse(raw json.RawMessage) (Transcript, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Transcript{}, fmt.Errorf("%w: empty payload", ErrUnrecognizedTranscript)
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return Transcript{}, fmt.Errorf("%w: %v", ErrUnrecognizedTranscript, err)
		}
		return Transcript{Kind: KindText, Text: strings.TrimSpace(text)}, nil
	case '{':
		var object struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal(trimmed, &object); err != nil {
			return Transcript{}, fmt.Errorf("%w: %v", ErrUnrecognizedTranscript, err)
		}
		if object.Text == nil {
			return Transcript{}, fmt.Errorf("%w: object without text field", ErrUnrecognizedTranscript)
		}
		return Transcript{Kind: KindObject, Text: strings.TrimSpace(*object.Text)}, nil
	case '[':
		var turns []Turn
		decoder := json.NewDecoder(bytes.NewReader(trimmed))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&turns); err != nil {
			return Transcript{}, fmt.Errorf("%w: %v", ErrUnrecognizedTranscript, err)
		}
		for i, turn := range turns {
			if strings.TrimSpace(turn.Role) == "" {
				return Transcript{}, fmt.Errorf("%w: turn %d has no role", ErrUnrecognizedTranscript, i)
			}
		}
		return Transcript{Kind: KindTurns, Turns: turns}, nil
	default:
		return Transcript{}, fmt.Errorf("%w: unexpected %q", ErrUnrecognizedTranscript, trimmed[0])
	}
}

// CandidateAnswer returns what the candidate said. For turn transcripts only
// user/candidate turns after the last interviewer turn are used.
func (t Transcript) CandidateAnswer() string {
	if t.Kind != KindTurns {
		return truncate(t.Text)
	}

	start := 0
	for i, turn := range t.Turns {
		if !isCandidate(turn.Role) {
			start = i + 1
		}
	}
	parts := make([]string, 0, len(t.Turns)-start)
	for _, turn := range t.Turns[start:] {
		if message := strings.TrimSpace(turn.Message); message != "" {
			parts = append(parts, message)
		}
	}
	// candidate never spoke after the last question; fall back to all candidate turns
	if len(parts) == 0 {
		for _, turn := range t.Turns {
			if isCandidate(turn.Role) && strings.TrimSpace(turn.Message) != "" {
				parts = append(parts, strings.TrimSpace(turn.Message))
			}
		}
	}
	return truncate(strings.Join(parts, "\n"))
}

// Normalize parses raw and returns the candidate answer.
func Normalize(raw json.RawMessage) (string, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return "", err
	}
	return parsed.CandidateAnswer(), nil
}

func isCandidate(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "candidate":
		return true
	default:
		return false
	}
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxAnswerRunes {
		return text
	}
	return string(runes[:maxAnswerRunes])
}
