package dialogue

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/katipally/Jarvis-sub002/internal/protocol"
)

func srv(msg protocol.Message) Event { return ServerMessage{Msg: msg} }

func TestStep_HandsFreeHappyPath(t *testing.T) {
	m := NewMachine(HandsFree)

	m, effs := Step(m, SpeechStart{})
	if m.State != StateListening {
		t.Fatalf("after speechStart: %v", m.State)
	}
	if !reflect.DeepEqual(effs, []Effect{StartRecognition{}}) {
		t.Fatalf("effects: %v", effs)
	}

	m, effs = Step(m, SpeechEnd{})
	if !reflect.DeepEqual(effs, []Effect{StopRecognition{}}) {
		t.Fatalf("effects: %v", effs)
	}

	m, effs = Step(m, FinalTranscript{Text: " What time is it? "})
	if m.State != StateProcessing {
		t.Fatalf("after final: %v", m.State)
	}
	want := []Effect{AppendUser{Text: "What time is it?"}, SendText{Text: "What time is it?"}}
	if !reflect.DeepEqual(effs, want) {
		t.Fatalf("effects: %v", effs)
	}

	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextStart}))
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextDelta, Content: "It's 3:30."}))
	m, effs = Step(m, srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "It's 3:30."}))
	if m.State != StateSpeaking {
		t.Fatalf("after sentence_end: %v", m.State)
	}
	if !reflect.DeepEqual(effs, []Effect{EnqueueSentence{Text: "It's 3:30."}}) {
		t.Fatalf("effects: %v", effs)
	}

	m, effs = Step(m, srv(protocol.Message{Type: protocol.TypeTextDone, FullText: "It's 3:30."}))
	if m.State != StateSpeaking {
		t.Fatalf("text_done while speaking must stay speaking: %v", m.State)
	}
	want = []Effect{AppendAssistant{Text: "It's 3:30."}, FlushSpeech{}}
	if !reflect.DeepEqual(effs, want) {
		t.Fatalf("effects: %v", effs)
	}

	m, effs = Step(m, PlaybackFinished{})
	if m.State != StateIdle {
		t.Fatalf("after playback finished: %v", m.State)
	}
	if len(effs) != 1 {
		t.Fatalf("expected resume listening, got %v", effs)
	}
	if _, ok := effs[0].(ResumeListening); !ok {
		t.Fatalf("expected ResumeListening, got %T", effs[0])
	}
}

func TestStep_BargeInPreservesLongPartial(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, SpeechStart{})
	m, _ = Step(m, FinalTranscript{Text: "tell me about whales"})
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextStart}))
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextDelta, Content: "It's a great d"}))
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "It's a great d"}))

	m, effs := Step(m, SpeechStart{})
	if m.State != StateInterrupted {
		t.Fatalf("barge-in state: %v", m.State)
	}
	want := []Effect{
		StopPlayback{},
		SendInterrupt{},
		AppendAssistant{Text: "It's a great d", Interrupted: true},
		StartRecognition{},
	}
	if !reflect.DeepEqual(effs, want) {
		t.Fatalf("effects:\n got %v\nwant %v", effs, want)
	}

	// A second start while interrupted is a no-op.
	m2, effs := Step(m, SpeechStart{})
	if m2 != m || effs != nil {
		t.Fatalf("second speechStart must be ignored: %v %v", m2, effs)
	}

	// A stale text_done from the abandoned generation must not append again.
	_, effs = Step(m, srv(protocol.Message{Type: protocol.TypeTextDone, FullText: "It's a great day outside."}))
	if len(effs) != 0 {
		t.Fatalf("stale text_done after barge-in must be dropped, got %v", effs)
	}
}

func TestStep_BargeInDropsShortPartial(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, SpeechStart{})
	m, _ = Step(m, FinalTranscript{Text: "hi"})
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextStart}))
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextDelta, Content: "Yeah."}))
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "Yeah."}))

	_, effs := Step(m, SpeechStart{})
	for _, e := range effs {
		if _, ok := e.(AppendAssistant); ok {
			t.Fatalf("short partial must not be recorded: %v", effs)
		}
	}
}

func TestStep_SentenceBeforeTextStartIsViolation(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, SpeechStart{})
	m, _ = Step(m, FinalTranscript{Text: "hello"})

	m, effs := Step(m, srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "Hi."}))
	if m.State != StateProcessing {
		t.Fatalf("violation must not change state: %v", m.State)
	}
	if len(effs) != 1 {
		t.Fatalf("expected only a report, got %v", effs)
	}
	if _, ok := effs[0].(ReportOrderingViolation); !ok {
		t.Fatalf("expected ReportOrderingViolation, got %T", effs[0])
	}
}

func TestStep_EmptyFinalIsEmptyTurn(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, SpeechStart{})
	m, effs := Step(m, FinalTranscript{Text: "   "})
	if m.State != StateIdle {
		t.Fatalf("empty final: %v", m.State)
	}
	for _, e := range effs {
		switch e.(type) {
		case AppendUser, SendText:
			t.Fatalf("empty turn must not send or record, got %v", effs)
		}
	}
}

func TestStep_TextDoneWithoutSentencesClosesTurn(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, SpeechStart{})
	m, _ = Step(m, FinalTranscript{Text: "noted"})
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextStart}))
	m, effs := Step(m, srv(protocol.Message{Type: protocol.TypeTextDone, FullText: "Got it."}))
	if m.State != StateIdle {
		t.Fatalf("sentence-less turn must return to idle: %v", m.State)
	}
	if !reflect.DeepEqual(effs[0], AppendAssistant{Text: "Got it."}) {
		t.Fatalf("effects: %v", effs)
	}
}

func TestStep_PushToTalk(t *testing.T) {
	m := NewMachine(PushToTalk)

	// Hands-free trigger does nothing in push-to-talk.
	m, effs := Step(m, SpeechStart{})
	if m.State != StateIdle || len(effs) != 0 {
		t.Fatalf("speechStart in PTT idle: %v %v", m.State, effs)
	}

	m, effs = Step(m, PressTalk{})
	if m.State != StateListening || !reflect.DeepEqual(effs, []Effect{StartRecognition{}}) {
		t.Fatalf("press: %v %v", m.State, effs)
	}

	// Silence does not end a push-to-talk turn.
	m, effs = Step(m, SpeechEnd{})
	if m.State != StateListening || len(effs) != 0 {
		t.Fatalf("speechEnd during PTT: %v %v", m.State, effs)
	}

	m, effs = Step(m, ReleaseTalk{})
	if !reflect.DeepEqual(effs, []Effect{StopRecognition{}}) {
		t.Fatalf("release: %v", effs)
	}
}

func TestStep_ErrorsAndRestart(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
	}{
		{"transport", TransportDown{Err: errors.New("reconnect attempts exhausted")}},
		{"recognition", RecognitionFailed{Err: errors.New("permission denied")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine(HandsFree)
			m, _ = Step(m, SpeechStart{})
			m, effs := Step(m, tc.ev)
			if m.State != StateError || m.ErrReason == "" {
				t.Fatalf("state=%v reason=%q", m.State, m.ErrReason)
			}
			if !reflect.DeepEqual(effs, []Effect{HaltAudio{}}) {
				t.Fatalf("effects: %v", effs)
			}

			// Events are ignored while in error, except restart and clear.
			m2, _ := Step(m, SpeechStart{})
			if m2.State != StateError {
				t.Fatalf("speechStart in error: %v", m2.State)
			}

			m, effs = Step(m, Restart{})
			if m.State != StateIdle || m.ErrReason != "" {
				t.Fatalf("restart: %v %q", m.State, m.ErrReason)
			}
			if !reflect.DeepEqual(effs, []Effect{Reinitialize{}}) {
				t.Fatalf("effects: %v", effs)
			}
		})
	}
}

func TestStep_ServerErrorEntersError(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, SpeechStart{})
	m, _ = Step(m, FinalTranscript{Text: "hello"})
	m, effs := Step(m, srv(protocol.Message{Type: protocol.TypeError, Error: "model overloaded"}))
	if m.State != StateError || m.ErrReason != "model overloaded" {
		t.Fatalf("state=%v reason=%q", m.State, m.ErrReason)
	}
	if !reflect.DeepEqual(effs, []Effect{HaltAudio{}}) {
		t.Fatalf("effects: %v", effs)
	}
}

func TestStep_ClearFromEveryState(t *testing.T) {
	build := map[string]func() Machine{
		"idle": func() Machine { return NewMachine(HandsFree) },
		"listening": func() Machine {
			m := NewMachine(HandsFree)
			m, _ = Step(m, SpeechStart{})
			return m
		},
		"processing": func() Machine {
			m := NewMachine(HandsFree)
			m, _ = Step(m, SpeechStart{})
			m, _ = Step(m, FinalTranscript{Text: "hi"})
			return m
		},
		"speaking": func() Machine {
			m := NewMachine(HandsFree)
			m, _ = Step(m, SpeechStart{})
			m, _ = Step(m, FinalTranscript{Text: "hi"})
			m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextStart}))
			m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "Hey."}))
			return m
		},
	}
	for name, f := range build {
		t.Run(name, func(t *testing.T) {
			m, effs := Step(f(), ClearRequested{})
			if m.State != StateIdle || m.ErrReason != "" {
				t.Fatalf("clear from %s: %v %q", name, m.State, m.ErrReason)
			}
			var reset, sent bool
			for _, e := range effs {
				switch e.(type) {
				case ResetSession:
					reset = true
				case SendClear:
					sent = true
				}
			}
			if !reset || !sent {
				t.Fatalf("clear must reset and notify, got %v", effs)
			}
			// Clearing twice is idempotent.
			m2, _ := Step(m, ClearRequested{})
			if m2.State != StateIdle {
				t.Fatalf("second clear: %v", m2.State)
			}
		})
	}
}

func TestStep_ClearInErrorStaysInError(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, TransportDown{Err: errors.New("reconnect attempts exhausted")})

	m, effs := Step(m, ClearRequested{})
	if m.State != StateError || m.ErrReason == "" {
		t.Fatalf("clear must not revive a dead session: %v %q", m.State, m.ErrReason)
	}
	if !reflect.DeepEqual(effs, []Effect{ResetSession{}}) {
		t.Fatalf("clear in error resets locally, nothing else: %v", effs)
	}

	// Input is still refused until an explicit restart.
	m2, effs := Step(m, SpeechStart{})
	if m2.State != StateError || len(effs) != 0 {
		t.Fatalf("speechStart after clear-in-error: %v %v", m2.State, effs)
	}

	m, effs = Step(m, Restart{})
	if m.State != StateIdle || m.ErrReason != "" {
		t.Fatalf("restart: %v %q", m.State, m.ErrReason)
	}
	if !reflect.DeepEqual(effs, []Effect{Reinitialize{}}) {
		t.Fatalf("effects: %v", effs)
	}
}

func TestStep_PlaybackDrainsBeforeTextDone(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, SpeechStart{})
	m, _ = Step(m, FinalTranscript{Text: "hi"})
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextStart}))
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "Hey."}))

	// A fast player can drain the only sentence before generation finishes.
	m, effs := Step(m, PlaybackFinished{})
	if m.State != StateSpeaking || len(effs) != 0 {
		t.Fatalf("early drain must wait for text_done: %v %v", m.State, effs)
	}

	m, effs = Step(m, srv(protocol.Message{Type: protocol.TypeTextDone, FullText: "Hey there."}))
	if m.State != StateIdle {
		t.Fatalf("text_done after drained playback must close the turn: %v", m.State)
	}
	want := []Effect{
		AppendAssistant{Text: "Hey there."},
		ResumeListening{After: resumeListenDelay},
	}
	if !reflect.DeepEqual(effs, want) {
		t.Fatalf("effects:\n got %v\nwant %v", effs, want)
	}
}

func TestStep_LateSentenceAfterDrainStillPlays(t *testing.T) {
	m := NewMachine(HandsFree)
	m, _ = Step(m, SpeechStart{})
	m, _ = Step(m, FinalTranscript{Text: "hi"})
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeTextStart}))
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "One."}))
	m, _ = Step(m, PlaybackFinished{})

	// A second sentence after the drain re-arms the playback wait.
	m, _ = Step(m, srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "Two."}))
	m, effs := Step(m, srv(protocol.Message{Type: protocol.TypeTextDone, FullText: "One. Two."}))
	if m.State != StateSpeaking {
		t.Fatalf("pending sentence must keep speaking: %v", m.State)
	}
	var flushed bool
	for _, e := range effs {
		if _, ok := e.(FlushSpeech); ok {
			flushed = true
		}
	}
	if !flushed {
		t.Fatalf("expected FlushSpeech, got %v", effs)
	}

	m, _ = Step(m, PlaybackFinished{})
	if m.State != StateIdle {
		t.Fatalf("after final drain: %v", m.State)
	}
}

func TestStep_DeterministicReplay(t *testing.T) {
	script := []Event{
		SpeechStart{},
		PartialTranscript{Text: "what"},
		SpeechEnd{},
		FinalTranscript{Text: "what time is it"},
		srv(protocol.Message{Type: protocol.TypeTextStart}),
		srv(protocol.Message{Type: protocol.TypeTextDelta, Content: "It's "}),
		srv(protocol.Message{Type: protocol.TypeTextDelta, Content: "3:30."}),
		srv(protocol.Message{Type: protocol.TypeSentenceEnd, Sentence: "It's 3:30."}),
		srv(protocol.Message{Type: protocol.TypeTextDone, FullText: "It's 3:30."}),
		PlaybackFinished{},
	}
	run := func() string {
		m := NewMachine(HandsFree)
		var trace string
		for _, ev := range script {
			var effs []Effect
			m, effs = Step(m, ev)
			trace += fmt.Sprintf("%v|%v;", m.State, effs)
		}
		return trace
	}
	if a, b := run(), run(); a != b {
		t.Fatalf("replay diverged:\n%s\n%s", a, b)
	}
}
