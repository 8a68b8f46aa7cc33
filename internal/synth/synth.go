// Package synth turns generated text into audible speech. A Synthesizer
// streams PCM for one piece of text; the Player owns sentence queueing,
// fragment coalescing and barge-in cancellation on top of it.
package synth

import "context"

// Synthesizer streams 48kHz PCM16LE mono audio for the given text. The
// channels close when synthesis completes or the context is cancelled.
type Synthesizer interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Sink consumes 48kHz PCM bytes and performs delivery to the output device.
// Implementations buffer internally and pace delivery.
type Sink interface {
	WritePCM(pcm []byte)
	// FlushTail pads and drains whatever is buffered at end of an utterance.
	FlushTail()
	// Reset drops any queued audio immediately (used for barge-in).
	Reset()
}

// NopSink discards audio. Useful for tests and headless runs.
type NopSink struct{}

func (NopSink) WritePCM([]byte) {}
func (NopSink) FlushTail()      {}
func (NopSink) Reset()          {}
