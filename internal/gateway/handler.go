package gateway

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/katipally/Jarvis-sub002/internal/llm"
	"github.com/katipally/Jarvis-sub002/internal/protocol"
)

// voicePersona keeps generator replies short and speakable; the output goes
// straight to a speech synthesizer.
const voicePersona = `You are Jarvis, a friendly voice assistant.

PERSONALITY:
- Casual, like talking to a smart friend
- Keep it SHORT - 1-2 sentences max (this will be spoken aloud)
- Use natural speech: "Yeah", "Got it", "Sure thing", "No problem"
- No formal language - avoid "sir", "certainly", "indeed"

SPEECH RULES (CRITICAL):
- No formatting, lists, bullets, markdown - plain spoken text only
- Use contractions: "I'll", "you're", "that's", "can't"
- Never say "As an AI" or similar meta-commentary`

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// Handler serves the /ws/conversation endpoint.
type Handler struct {
	store *Store
	gen   llm.Generator
}

func NewHandler(store *Store, gen llm.Generator) *Handler {
	return &Handler{store: store, gen: gen}
}

// wsWriter serializes writes to a single websocket connection. Generation
// runs on its own goroutine, so deltas and control replies would otherwise
// interleave on the wire.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// ServeConversation upgrades to a websocket and runs the conversation loop.
// One generation task runs at a time; a new text or an interrupt cancels the
// previous one and waits for it to wind down before proceeding.
func (h *Handler) ServeConversation(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("gateway: ws upgrade error: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	w := &wsWriter{conn: conn}
	var (
		sessionID string
		cancel    context.CancelFunc
		done      chan struct{}
	)
	cancelInflight := func() {
		if cancel != nil {
			cancel()
			<-done
			cancel = nil
		}
	}
	defer cancelInflight()

	log.Println("gateway: conversation connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("gateway: conversation closed: session=%s err=%v", sessionID, err)
			return nil
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("gateway: bad frame: %v", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeInterrupt:
			if cancel != nil {
				log.Println("gateway: interrupting current generation")
				cancelInflight()
				_ = w.send(protocol.Message{Type: protocol.TypeInterrupted, Message: "Response cancelled"})
			}

		case protocol.TypePing:
			_ = w.send(protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().Format(time.RFC3339Nano)})

		case protocol.TypeText:
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				continue
			}
			if msg.SessionID != "" {
				sessionID = msg.SessionID
			}
			session := h.store.GetOrCreate(sessionID, "")
			sessionID = session.SessionID
			session.AddMessage("user", content)
			log.Printf("gateway: received: %.50s", content)

			cancelInflight()
			ctx, taskCancel := context.WithCancel(c.Request().Context())
			cancel = taskCancel
			done = make(chan struct{})
			go func() {
				defer close(done)
				h.streamReply(ctx, w, session)
			}()

		case protocol.TypeClear:
			if s, ok := h.store.Get(sessionID); ok {
				s.ClearMessages()
			}
			_ = w.send(protocol.Message{Type: protocol.TypeCleared, SessionID: sessionID})

		case "end":
			log.Printf("gateway: client requested session end: %s", sessionID)
			return nil

		default:
			log.Printf("gateway: ignoring message type %q", msg.Type)
		}
	}
}

// streamReply runs one generation and streams it back as
// text_start / text_delta* / sentence_end* / text_done.
func (h *Handler) streamReply(ctx context.Context, w *wsWriter, session *Session) {
	if err := w.send(protocol.Message{Type: protocol.TypeTextStart, SessionID: session.SessionID}); err != nil {
		return
	}

	messages := append([]llm.Message{{Role: "system", Content: voicePersona}}, session.Messages()...)

	var splitter SentenceSplitter
	sentenceIndex := 0
	full, err := h.gen.Stream(ctx, messages, func(delta string) error {
		if err := w.send(protocol.Message{Type: protocol.TypeTextDelta, Content: delta}); err != nil {
			return err
		}
		for _, sentence := range splitter.Feed(delta) {
			if err := w.send(protocol.Message{
				Type:          protocol.TypeSentenceEnd,
				Sentence:      sentence,
				SentenceIndex: sentenceIndex,
			}); err != nil {
				return err
			}
			sentenceIndex++
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Println("gateway: generation cancelled")
			return
		}
		log.Printf("gateway: generation error: %v", err)
		_ = w.send(protocol.Message{Type: protocol.TypeError, Error: err.Error(), Recoverable: true})
		return
	}

	if tail := splitter.Flush(); tail != "" {
		_ = w.send(protocol.Message{
			Type:          protocol.TypeSentenceEnd,
			Sentence:      tail,
			SentenceIndex: sentenceIndex,
		})
	}

	if full != "" {
		session.AddMessage("assistant", full)
		log.Printf("gateway: reply complete: %.100s", full)
	} else {
		full = "I'm listening."
	}
	_ = w.send(protocol.Message{Type: protocol.TypeTextDone, FullText: full, SessionID: session.SessionID})
}
