// Package recognizer streams audio to a realtime transcription engine and
// delivers partial and final transcripts. Endpointing is not decided here;
// the caller forces a final via Stop when its endpointer fires, and the
// engine may also end a turn on its own.
package recognizer

import "context"

// Recognizer is the capability interface the dialogue session depends on.
// Implementations deliver partials continuously while a session is open and
// exactly one final per utterance, either on Stop or on engine-detected
// end of turn. A final may be empty: silence is an empty turn, not an error.
type Recognizer interface {
	// Start opens a recognition session. Idempotent while open.
	Start(ctx context.Context) error
	// WritePCM16 feeds 16kHz mono little-endian PCM. Callers must only feed
	// audio while the conversation is listening or interrupted.
	WritePCM16(pcm []byte) error
	// Partials delivers interim transcripts, newest overwriting prior text.
	Partials() <-chan string
	// Finals delivers the finalized utterance text.
	Finals() <-chan string
	// Errors surfaces engine failures. Cancellation during a deliberate Stop
	// or Close is swallowed, never reported.
	Errors() <-chan error
	// Stop forces end-of-utterance for the current turn.
	Stop() error
	// Close tears the session down.
	Close() error
}
