// Package dialogue implements the conversation state machine and the session
// orchestrator that owns it. The machine itself is a pure function of
// (state, event) -> (state, effects); all side effects are executed by the
// session, which consumes a single event queue fed by the VAD, the
// recognizer, the transport and the synthesis player.
package dialogue

import (
	"strings"
	"time"

	"github.com/katipally/Jarvis-sub002/internal/protocol"
)

// State is the authoritative conversation state. Exactly one copy exists per
// session, mutated only by the session loop.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	// StateInterrupted is a transient variant of listening that preserves the
	// fact a prior turn was cut off.
	StateInterrupted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Mode governs who triggers the idle->listening edge. All other transitions
// are mode-independent.
type Mode int

const (
	HandsFree Mode = iota
	PushToTalk
)

// minInterruptedLen is the shortest cut-off assistant text worth remembering.
const minInterruptedLen = 10

// resumeListenDelay keeps the endpointer quiet briefly after a turn so the
// tail of synthesized audio cannot immediately re-trigger it.
const resumeListenDelay = 300 * time.Millisecond

// Machine is the value-type state of one conversation. Step never mutates
// its receiver; it returns the successor.
type Machine struct {
	State State
	Mode  Mode

	// assistant-turn tracking
	turnOpen          bool   // text_start seen for the in-flight generation
	response          string // accumulated assistant text
	textDone          bool   // text_done seen; no more sentences will arrive
	speechActive      bool   // enqueued speech has not finished playing yet
	appendedAssistant bool   // assistant text already recorded this turn
	ErrReason         string
}

// NewMachine returns an idle machine in the given input mode.
func NewMachine(mode Mode) Machine {
	return Machine{State: StateIdle, Mode: mode}
}

// Step applies one event. Every event has a defined effect in every state;
// unhandled combinations are no-ops, never undefined behavior.
func Step(m Machine, ev Event) (Machine, []Effect) {
	switch ev := ev.(type) {
	case SpeechStart:
		return stepSpeechStart(m)
	case SpeechEnd:
		if m.State == StateListening || m.State == StateInterrupted {
			if m.Mode == PushToTalk && m.State == StateListening {
				// Push-to-talk turns end on release, not on silence.
				return m, nil
			}
			return m, []Effect{StopRecognition{}}
		}
		return m, nil
	case PressTalk:
		if m.State == StateIdle && m.Mode == PushToTalk {
			m.State = StateListening
			return m, []Effect{StartRecognition{}}
		}
		return m, nil
	case ReleaseTalk:
		if m.State == StateListening && m.Mode == PushToTalk {
			return m, []Effect{StopRecognition{}}
		}
		return m, nil
	case PartialTranscript:
		return m, nil
	case FinalTranscript:
		return stepFinalTranscript(m, ev)
	case ServerMessage:
		return stepServerMessage(m, ev.Msg)
	case PlaybackStarted:
		return m, nil
	case PlaybackFinished:
		m.speechActive = false
		if m.State == StateSpeaking && m.textDone {
			m = m.closeTurn()
			m.State = StateIdle
			if m.Mode == HandsFree {
				return m, []Effect{ResumeListening{After: resumeListenDelay}}
			}
			return m, nil
		}
		return m, nil
	case TransportDown:
		m.State = StateError
		m.ErrReason = ev.Err.Error()
		return m, []Effect{HaltAudio{}}
	case RecognitionFailed:
		m.State = StateError
		m.ErrReason = ev.Err.Error()
		return m, []Effect{HaltAudio{}}
	case ClearRequested:
		m = m.closeTurn()
		if m.State == StateError {
			// History and id reset, but leaving error still takes an
			// explicit restart: the transport and recognizer are gone, and
			// there is nothing live to send a clear frame to.
			return m, []Effect{ResetSession{}}
		}
		prior := m.State
		m.State = StateIdle
		effects := []Effect{ResetSession{}, SendClear{}}
		if prior == StateSpeaking || prior == StateInterrupted {
			effects = append([]Effect{StopPlayback{}}, effects...)
		}
		if prior == StateListening || prior == StateInterrupted {
			effects = append(effects, StopRecognition{})
		}
		return m, effects
	case Restart:
		if m.State == StateError {
			m = Machine{State: StateIdle, Mode: m.Mode}
			return m, []Effect{Reinitialize{}}
		}
		return m, nil
	}
	return m, nil
}

func stepSpeechStart(m Machine) (Machine, []Effect) {
	switch m.State {
	case StateIdle:
		if m.Mode != HandsFree {
			return m, nil
		}
		m.State = StateListening
		return m, []Effect{StartRecognition{}}
	case StateSpeaking:
		// Barge-in: stop playback before any new recognition begins, tell the
		// remote side to abandon generation, and keep what was already said
		// if it amounts to anything.
		var effects []Effect
		effects = append(effects, StopPlayback{}, SendInterrupt{})
		if !m.appendedAssistant {
			if text := strings.TrimSpace(m.response); len(text) >= minInterruptedLen {
				effects = append(effects, AppendAssistant{Text: text, Interrupted: true})
				m.appendedAssistant = true
			}
		}
		m.State = StateInterrupted
		effects = append(effects, StartRecognition{})
		return m, effects
	case StateInterrupted:
		// Recognition is already active; a second start is ignored.
		return m, nil
	default:
		return m, nil
	}
}

func stepFinalTranscript(m Machine, ev FinalTranscript) (Machine, []Effect) {
	if m.State != StateListening && m.State != StateInterrupted {
		return m, nil
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		// Silence is an empty turn: no message, resume listening.
		m.State = StateIdle
		if m.Mode == HandsFree {
			return m, []Effect{ResumeListening{After: resumeListenDelay}}
		}
		return m, nil
	}
	m = m.closeTurn()
	m.State = StateProcessing
	return m, []Effect{AppendUser{Text: text}, SendText{Text: text}}
}

func stepServerMessage(m Machine, msg protocol.Message) (Machine, []Effect) {
	switch msg.Type {
	case protocol.TypeTextStart:
		if m.State == StateProcessing {
			m.turnOpen = true
			m.response = ""
			m.textDone = false
			m.appendedAssistant = false
		}
		return m, nil
	case protocol.TypeTextDelta:
		if m.turnOpen && (m.State == StateProcessing || m.State == StateSpeaking) {
			m.response += msg.Content
		}
		return m, nil
	case protocol.TypeSentenceEnd:
		if !m.turnOpen {
			// A sentence before text_start is a protocol ordering violation:
			// ignore it, never start playback.
			return m, []Effect{ReportOrderingViolation{Type: msg.Type}}
		}
		if m.State != StateProcessing && m.State != StateSpeaking {
			// Stale frame from a generation we already abandoned.
			return m, nil
		}
		m.State = StateSpeaking
		m.speechActive = true
		return m, []Effect{EnqueueSentence{Text: msg.Sentence}}
	case protocol.TypeTextDone:
		if !m.turnOpen || (m.State != StateProcessing && m.State != StateSpeaking) {
			// Either never started, or the turn was abandoned by a barge-in.
			return m, nil
		}
		m.textDone = true
		if msg.FullText != "" {
			m.response = msg.FullText
		}
		var effects []Effect
		if !m.appendedAssistant && strings.TrimSpace(m.response) != "" {
			effects = append(effects, AppendAssistant{Text: strings.TrimSpace(m.response)})
			m.appendedAssistant = true
		}
		if m.State == StateSpeaking && m.speechActive {
			// Force out any fragment still coalescing in the player.
			effects = append(effects, FlushSpeech{})
			return m, effects
		}
		// Either generation produced no sentences, or the player already
		// drained them all; the turn is over.
		m = m.closeTurn()
		m.State = StateIdle
		if m.Mode == HandsFree {
			effects = append(effects, ResumeListening{After: resumeListenDelay})
		}
		return m, effects
	case protocol.TypeInterrupted:
		return m, nil
	case protocol.TypeError:
		m.State = StateError
		m.ErrReason = msg.Error
		if m.ErrReason == "" {
			m.ErrReason = msg.Message
		}
		return m, []Effect{HaltAudio{}}
	default:
		return m, nil
	}
}

// closeTurn clears assistant-turn bookkeeping.
func (m Machine) closeTurn() Machine {
	m.turnOpen = false
	m.response = ""
	m.textDone = false
	m.speechActive = false
	m.appendedAssistant = false
	return m
}
