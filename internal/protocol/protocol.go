// Package protocol defines the duplex session wire protocol: small typed
// JSON messages exchanged over a persistent websocket connection between the
// dialogue runtime and the remote orchestrator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> server message types.
const (
	TypeText      = "text"
	TypeInterrupt = "interrupt"
	TypeClear     = "clear"
	TypePing      = "ping"
)

// Server -> client message types.
const (
	TypeTextStart   = "text_start"
	TypeTextDelta   = "text_delta"
	TypeSentenceEnd = "sentence_end"
	TypeTextDone    = "text_done"
	TypeInterrupted = "interrupted"
	TypeError       = "error"
	TypePong        = "pong"
	TypeCleared     = "cleared"
)

// Message is the wire-level union; which fields are populated depends on Type.
type Message struct {
	Type string `json:"type"`
	// text / text_delta
	Content string `json:"content,omitempty"`
	// sentence_end
	Sentence      string `json:"sentence,omitempty"`
	SentenceIndex int    `json:"sentence_index,omitempty"`
	// text_done
	FullText string `json:"full_text,omitempty"`
	// interrupted
	Message string `json:"message,omitempty"`
	// error
	Error       string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
	// text / clear / cleared
	SessionID string `json:"session_id,omitempty"`
	// pong
	Timestamp string `json:"timestamp,omitempty"`
}

// Text builds a finalized-utterance submission for the given session.
func Text(content, sessionID string) Message {
	return Message{Type: TypeText, Content: content, SessionID: sessionID}
}

// Interrupt builds an abandon-current-generation request.
func Interrupt() Message { return Message{Type: TypeInterrupt} }

// Clear builds a server-side history reset for the given session.
func Clear(sessionID string) Message {
	return Message{Type: TypeClear, SessionID: sessionID}
}

// Ping builds a liveness probe.
func Ping() Message { return Message{Type: TypePing} }

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("protocol: encode: missing type")
	}
	return json.Marshal(m)
}

// Decode parses a wire frame. Unknown types are returned as-is so callers can
// ignore them; a frame without a type field is a protocol violation.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: decode: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("protocol: decode: missing type field")
	}
	return m, nil
}
