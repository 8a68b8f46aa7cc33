package recognizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrPermissionDenied indicates the engine rejected our credentials. This is
// terminal: no retry can help.
var ErrPermissionDenied = fmt.Errorf("recognizer: permission denied")

// StreamClient speaks a realtime transcription protocol over a websocket:
// binary frames carry PCM uplink, JSON text frames carry Begin/Turn/
// Termination/Error downlink. A Turn with end_of_turn=false is a partial;
// end_of_turn=true finalizes the utterance.
type StreamClient struct {
	endpoint string
	apiKey   string
	language string
	model    string
	encoding string

	conn      *websocket.Conn
	audioData chan []byte
	partials  chan string
	finals    chan string
	errs      chan error
	stopCh    chan struct{}

	mu        sync.RWMutex
	connected bool
	closing   bool
}

type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewStreamClient builds a client for the given engine endpoint (ws/wss URL).
// encoding selects the uplink codec ("pcm_s16le" or "opus").
func NewStreamClient(endpoint, apiKey, language, model, encoding string) *StreamClient {
	if encoding == "" {
		encoding = "pcm_s16le"
	}
	return &StreamClient{
		endpoint:  endpoint,
		apiKey:    apiKey,
		language:  language,
		model:     model,
		encoding:  encoding,
		audioData: make(chan []byte, 1000),
		partials:  make(chan string, 100),
		finals:    make(chan string, 10),
		errs:      make(chan error, 4),
		stopCh:    make(chan struct{}),
	}
}

func (s *StreamClient) Partials() <-chan string { return s.partials }
func (s *StreamClient) Finals() <-chan string   { return s.finals }
func (s *StreamClient) Errors() <-chan error    { return s.errs }

// Start establishes the websocket connection and begins the recognition
// session.
func (s *StreamClient) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if s.apiKey == "" {
		return fmt.Errorf("recognizer: API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", s.encoding)
	params.Set("language", s.language)
	if s.model != "" {
		params.Set("model", s.model)
	}
	wsURL := fmt.Sprintf("%s?%s", s.endpoint, params.Encode())

	headers := http.Header{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: status=%d", ErrPermissionDenied, resp.StatusCode)
		}
		return fmt.Errorf("recognizer: connect: %w", err)
	}

	s.conn = conn
	s.connected = true

	go s.handleMessages()
	go s.sendAudioData()

	log.Println("recognizer: streaming session connected")
	return nil
}

// WritePCM16 queues audio for the uplink. A full buffer drops the packet
// rather than blocking the capture path.
func (s *StreamClient) WritePCM16(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("recognizer: not connected")
	}
	select {
	case s.audioData <- pcm:
	default:
		log.Println("recognizer: audio buffer full, dropping packet")
	}
	return nil
}

// Stop forces an end of turn; the engine replies with a final Turn.
func (s *StreamClient) Stop() error {
	s.mu.RLock()
	conn := s.conn
	connected := s.connected
	s.mu.RUnlock()
	if !connected || conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]string{"type": "ForceEndpoint"})
}

// Close terminates the session. Read errors caused by the teardown are
// swallowed; a deliberate close is not a recognition failure.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.closing = true
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
	close(s.audioData)
	close(s.partials)
	close(s.finals)
	log.Println("recognizer: session closed")
	return nil
}

func (s *StreamClient) handleMessages() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recognizer: recovered in handleMessages: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.RLock()
			closing := s.closing
			s.mu.RUnlock()
			if !closing {
				s.reportErr(fmt.Errorf("recognizer: read: %w", err))
			}
			return
		}
		s.processMessage(message)
	}
}

func (s *StreamClient) processMessage(message []byte) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Printf("recognizer: bad frame: %v", err)
		return
	}
	switch base.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		log.Printf("recognizer: session began: ID=%s", msg.ID)
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		if msg.EndOfTurn {
			// Finals must never be dropped; every turn boundary matters.
			select {
			case s.finals <- msg.Transcript:
			case <-s.stopCh:
			}
			return
		}
		if msg.Transcript != "" {
			select {
			case s.partials <- msg.Transcript:
			default:
			}
		}
	case "Termination":
		log.Println("recognizer: session terminated by engine")
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return
		}
		s.reportErr(fmt.Errorf("recognizer: engine error: %s", msg.Error))
	default:
		log.Printf("recognizer: unknown message type: %s", base.Type)
	}
}

func (s *StreamClient) sendAudioData() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("recognizer: recovered in sendAudioData: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case pcm, ok := <-s.audioData:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				s.mu.RLock()
				closing := s.closing
				s.mu.RUnlock()
				if !closing {
					s.reportErr(fmt.Errorf("recognizer: send audio: %w", err))
				}
				return
			}
		}
	}
}

func (s *StreamClient) reportErr(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
