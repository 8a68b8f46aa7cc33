package dialogue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/katipally/Jarvis-sub002/internal/protocol"
	"github.com/katipally/Jarvis-sub002/internal/recognizer"
	"github.com/katipally/Jarvis-sub002/internal/vad"
)

// Transport is the duplex connection the session drives. Implementations
// must deliver server messages on Events and the terminal reconnect failure
// on Down.
type Transport interface {
	Send(protocol.Message) error
	TrySend(protocol.Message)
	WaitConnected(ctx context.Context) error
	Events() <-chan protocol.Message
	Down() <-chan error
	Close() error
}

// Speech is the synthesis player surface the session drives.
type Speech interface {
	SpeakSentence(text string)
	Flush()
	Stop()
}

// Message is one entry of the append-only session history.
type Message struct {
	Role      string // "user" or "assistant"
	Content   string
	Timestamp time.Time
}

// Factories construct the session's replaceable collaborators. The transport
// factory must return a started client; the recognizer factory a fresh,
// unstarted one. Both are invoked again on restart after an error.
type Factories struct {
	Transport  func() Transport
	Recognizer func() recognizer.Recognizer
}

// Session owns one conversation: the authoritative state, the message
// history and the event queue that serializes every producer. Nothing else
// mutates conversation state.
type Session struct {
	factories Factories
	speech    Speech
	det       *vad.Detector
	mode      Mode

	// OnStateChange and OnPartial are optional UI observers; set before Start.
	OnStateChange func(State)
	OnPartial     func(string)

	events chan Event
	stopCh chan struct{}
	done   sync.WaitGroup

	stateVal      atomic.Int32
	sessionID     atomic.Value // string
	suppressUntil atomic.Int64 // unix nanos; VAD events before this are dropped

	histMu  sync.Mutex
	history []Message

	mu        sync.Mutex
	transport Transport
	trStop    chan struct{}
	rec       recognizer.Recognizer
	recStop   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession constructs a session. Lifecycle (Start/Close) is owned by the
// caller; no shared singletons.
func NewSession(f Factories, speech Speech, det *vad.Detector, mode Mode) *Session {
	s := &Session{
		factories: f,
		speech:    speech,
		det:       det,
		mode:      mode,
		events:    make(chan Event, 256),
		stopCh:    make(chan struct{}),
	}
	s.sessionID.Store(uuid.NewString())
	s.stateVal.Store(int32(StateIdle))
	return s
}

// Start connects the collaborators and launches the event loop.
func (s *Session) Start(ctx context.Context) error {
	if s.factories.Transport == nil || s.factories.Recognizer == nil {
		return fmt.Errorf("dialogue: missing factories")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.attachTransport(s.factories.Transport())
	s.attachRecognizer(s.factories.Recognizer())
	s.done.Add(1)
	go s.loop()
	return nil
}

// Close stops the session and all audio paths.
func (s *Session) Close() {
	select {
	case <-s.stopCh:
		return
	default:
	}
	close(s.stopCh)
	if s.cancel != nil {
		s.cancel()
	}
	s.detachRecognizer()
	s.detachTransport()
	s.speech.Stop()
	s.done.Wait()
}

// State returns the authoritative conversation state.
func (s *Session) State() State { return State(s.stateVal.Load()) }

// ID returns the current session identifier.
func (s *Session) ID() string { return s.sessionID.Load().(string) }

// Level reports the smoothed audio level in [0,1] for UI feedback only.
func (s *Session) Level() float64 { return s.det.Level() }

// Messages returns a snapshot of the session history.
func (s *Session) Messages() []Message {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// FeedAudio routes captured PCM16LE into the VAD always, and into the
// recognizer only while listening or interrupted. The microphone is an
// exclusive resource: this is the single entry point for its buffers.
func (s *Session) FeedAudio(pcm []byte) {
	events := s.det.ProcessPCM16(pcm)
	state := s.State()
	if state == StateListening || state == StateInterrupted {
		s.mu.Lock()
		rec := s.rec
		s.mu.Unlock()
		if rec != nil {
			_ = rec.WritePCM16(pcm)
		}
	}
	if time.Now().UnixNano() < s.suppressUntil.Load() {
		return
	}
	for _, ev := range events {
		switch ev.Kind {
		case vad.SpeechStart:
			s.push(SpeechStart{})
		case vad.SpeechEnd:
			s.push(SpeechEnd{Speech: ev.Speech})
		}
	}
}

// PressTalk / ReleaseTalk are the explicit push-to-talk edges.
func (s *Session) PressTalk()   { s.push(PressTalk{}) }
func (s *Session) ReleaseTalk() { s.push(ReleaseTalk{}) }

// Clear resets local and remote history and rotates the session id. Safe to
// call repeatedly.
func (s *Session) Clear() { s.push(ClearRequested{}) }

// Restart leaves the error state and re-initializes the audio paths.
func (s *Session) Restart() { s.push(Restart{}) }

// NotifySpeakingStart / NotifySpeakingEnd are wired to the player callbacks.
func (s *Session) NotifySpeakingStart() { s.push(PlaybackStarted{}) }
func (s *Session) NotifySpeakingEnd()   { s.push(PlaybackFinished{}) }

func (s *Session) push(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stopCh:
	}
}

func (s *Session) loop() {
	defer s.done.Done()
	m := NewMachine(s.mode)
	for {
		select {
		case <-s.stopCh:
			return
		case ev := <-s.events:
			if p, ok := ev.(PartialTranscript); ok {
				s.det.NotifyPartial(p.Text)
				if s.OnPartial != nil {
					s.OnPartial(p.Text)
				}
			}
			prev := m.State
			var effects []Effect
			m, effects = Step(m, ev)
			for _, eff := range effects {
				s.apply(eff)
			}
			if m.State != prev {
				s.stateVal.Store(int32(m.State))
				s.det.SetPlaybackActive(m.State == StateSpeaking)
				log.Printf("dialogue: %s -> %s", prev, m.State)
				if s.OnStateChange != nil {
					s.OnStateChange(m.State)
				}
			}
		}
	}
}

func (s *Session) apply(eff Effect) {
	switch eff := eff.(type) {
	case StartRecognition:
		s.mu.Lock()
		rec := s.rec
		s.mu.Unlock()
		if rec == nil {
			return
		}
		go func() {
			if err := rec.Start(s.ctx); err != nil {
				log.Printf("dialogue: recognizer start: %v", err)
				s.push(RecognitionFailed{Err: err})
			}
		}()
	case StopRecognition:
		s.mu.Lock()
		rec := s.rec
		s.mu.Unlock()
		if rec != nil {
			if err := rec.Stop(); err != nil {
				log.Printf("dialogue: recognizer stop: %v", err)
			}
		}
	case SendText:
		s.sendText(eff.Text)
	case SendInterrupt:
		s.mu.Lock()
		tr := s.transport
		s.mu.Unlock()
		if tr != nil {
			tr.TrySend(protocol.Interrupt())
		}
	case SendClear:
		s.mu.Lock()
		tr := s.transport
		s.mu.Unlock()
		if tr != nil {
			tr.TrySend(protocol.Clear(s.ID()))
		}
	case EnqueueSentence:
		s.speech.SpeakSentence(eff.Text)
	case FlushSpeech:
		s.speech.Flush()
	case StopPlayback:
		s.speech.Stop()
	case AppendUser:
		s.append(Message{Role: "user", Content: eff.Text, Timestamp: time.Now()})
	case AppendAssistant:
		content := eff.Text
		if eff.Interrupted {
			content += "... [interrupted]"
		}
		s.append(Message{Role: "assistant", Content: content, Timestamp: time.Now()})
	case ResetSession:
		s.sessionID.Store(uuid.NewString())
		s.histMu.Lock()
		s.history = nil
		s.histMu.Unlock()
	case ResumeListening:
		s.det.Reset()
		s.suppressUntil.Store(time.Now().Add(eff.After).UnixNano())
	case ReportOrderingViolation:
		log.Printf("dialogue: protocol ordering violation: %s before text_start", eff.Type)
	case HaltAudio:
		s.speech.Stop()
		s.det.Reset()
		s.detachRecognizer()
	case Reinitialize:
		s.detachRecognizer()
		s.detachTransport()
		s.attachTransport(s.factories.Transport())
		s.attachRecognizer(s.factories.Recognizer())
	}
}

// sendText awaits the connection briefly; a turn that cannot be delivered is
// logged, and the transport's own retry budget decides when to give up.
func (s *Session) sendText(text string) {
	s.mu.Lock()
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return
	}
	sid := s.ID()
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		if err := tr.WaitConnected(ctx); err != nil {
			log.Printf("dialogue: send text: not connected: %v", err)
			return
		}
		if err := tr.Send(protocol.Text(text, sid)); err != nil {
			log.Printf("dialogue: send text: %v", err)
		}
	}()
}

func (s *Session) append(m Message) {
	s.histMu.Lock()
	s.history = append(s.history, m)
	s.histMu.Unlock()
}

func (s *Session) attachTransport(t Transport) {
	stop := make(chan struct{})
	s.mu.Lock()
	s.transport = t
	s.trStop = stop
	s.mu.Unlock()
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		for {
			select {
			case <-stop:
				return
			case <-s.stopCh:
				return
			case m := <-t.Events():
				s.push(ServerMessage{Msg: m})
			case err := <-t.Down():
				s.push(TransportDown{Err: err})
				return
			}
		}
	}()
}

func (s *Session) detachTransport() {
	s.mu.Lock()
	t := s.transport
	stop := s.trStop
	s.transport = nil
	s.trStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if t != nil {
		_ = t.Close()
	}
}

func (s *Session) attachRecognizer(r recognizer.Recognizer) {
	stop := make(chan struct{})
	s.mu.Lock()
	s.rec = r
	s.recStop = stop
	s.mu.Unlock()
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		for {
			select {
			case <-stop:
				return
			case <-s.stopCh:
				return
			case text, ok := <-r.Partials():
				if !ok {
					return
				}
				s.push(PartialTranscript{Text: text})
			case text, ok := <-r.Finals():
				if !ok {
					return
				}
				s.push(FinalTranscript{Text: text})
			case err := <-r.Errors():
				if err != nil {
					s.push(RecognitionFailed{Err: err})
				}
			}
		}
	}()
}

func (s *Session) detachRecognizer() {
	s.mu.Lock()
	r := s.rec
	stop := s.recStop
	s.rec = nil
	s.recStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if r != nil {
		_ = r.Close()
	}
}
