package dialogue

import (
	"time"

	"github.com/katipally/Jarvis-sub002/internal/protocol"
)

// Event is an atomic transition trigger consumed from the session queue.
type Event interface{ isEvent() }

// SpeechStart is the VAD detecting sustained voice energy.
type SpeechStart struct{}

// SpeechEnd is the VAD endpointer firing after the silence timeout.
type SpeechEnd struct{ Speech time.Duration }

// PartialTranscript carries interim recognizer text.
type PartialTranscript struct{ Text string }

// FinalTranscript carries the finalized utterance; empty text is an empty
// turn, not an error.
type FinalTranscript struct{ Text string }

// PressTalk / ReleaseTalk are the explicit push-to-talk signals.
type PressTalk struct{}
type ReleaseTalk struct{}

// ServerMessage wraps an inbound transport frame.
type ServerMessage struct{ Msg protocol.Message }

// TransportDown signals the reconnect budget is exhausted.
type TransportDown struct{ Err error }

// RecognitionFailed surfaces a terminal recognizer failure.
type RecognitionFailed struct{ Err error }

// PlaybackStarted / PlaybackFinished are the synthesis player callbacks.
type PlaybackStarted struct{}
type PlaybackFinished struct{}

// ClearRequested resets history and rotates the session identifier.
type ClearRequested struct{}

// Restart leaves the error state after an explicit user action.
type Restart struct{}

func (SpeechStart) isEvent()       {}
func (SpeechEnd) isEvent()         {}
func (PartialTranscript) isEvent() {}
func (FinalTranscript) isEvent()   {}
func (PressTalk) isEvent()         {}
func (ReleaseTalk) isEvent()       {}
func (ServerMessage) isEvent()     {}
func (TransportDown) isEvent()     {}
func (RecognitionFailed) isEvent() {}
func (PlaybackStarted) isEvent()   {}
func (PlaybackFinished) isEvent()  {}
func (ClearRequested) isEvent()    {}
func (Restart) isEvent()           {}

// Effect is a side-effect command the session executes after a transition.
type Effect interface{ isEffect() }

// StartRecognition opens (or reuses) the recognition session.
type StartRecognition struct{}

// StopRecognition forces end-of-utterance for the current turn.
type StopRecognition struct{}

// SendText submits a finalized user utterance over the transport.
type SendText struct{ Text string }

// SendInterrupt tells the remote side to abandon in-flight generation.
type SendInterrupt struct{}

// SendClear resets history server-side under the new session id.
type SendClear struct{}

// EnqueueSentence queues one complete sentence on the synthesis player.
type EnqueueSentence struct{ Text string }

// FlushSpeech forces buffered partial text out of the player.
type FlushSpeech struct{}

// StopPlayback cancels current and queued synthesis immediately.
type StopPlayback struct{}

// AppendUser / AppendAssistant record messages in the session history.
type AppendUser struct{ Text string }
type AppendAssistant struct {
	Text        string
	Interrupted bool
}

// ResetSession clears history and generates a fresh session identifier.
type ResetSession struct{}

// ResumeListening re-arms the endpointer after a short quiet period.
type ResumeListening struct{ After time.Duration }

// ReportOrderingViolation logs a protocol-ordering error without failing.
type ReportOrderingViolation struct{ Type string }

// HaltAudio stops capture feeding and playback on the error path.
type HaltAudio struct{}

// Reinitialize rebuilds the audio paths after an explicit restart.
type Reinitialize struct{}

func (StartRecognition) isEffect()        {}
func (StopRecognition) isEffect()         {}
func (SendText) isEffect()                {}
func (SendInterrupt) isEffect()           {}
func (SendClear) isEffect()               {}
func (EnqueueSentence) isEffect()         {}
func (FlushSpeech) isEffect()             {}
func (StopPlayback) isEffect()            {}
func (AppendUser) isEffect()              {}
func (AppendAssistant) isEffect()         {}
func (ResetSession) isEffect()            {}
func (ResumeListening) isEffect()         {}
func (ReportOrderingViolation) isEffect() {}
func (HaltAudio) isEffect()               {}
func (Reinitialize) isEffect()            {}
