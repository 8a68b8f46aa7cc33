// Package llm abstracts the text generators behind the conversation gateway.
package llm

import "context"

// Message is one turn of a conversation sent to a generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator streams a reply token by token. onDelta is invoked for each text
// fragment as it arrives; returning an error from onDelta aborts the stream.
// The full reply text is returned once generation completes. Cancelling ctx
// stops generation mid-reply; the partial text produced so far is returned
// alongside ctx.Err().
type Generator interface {
	Stream(ctx context.Context, messages []Message, onDelta func(delta string) error) (string, error)
}
