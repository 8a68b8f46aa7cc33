package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeEngine mimics the streaming transcription protocol: it emits Begin on
// connect, a partial per binary frame, and a final Turn on ForceEndpoint.
func fakeEngine(t *testing.T, audioBytes *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"type": "Begin", "id": "sess-1", "expires_at": time.Now().Unix() + 60})
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				if audioBytes != nil {
					audioBytes.Add(int64(len(data)))
				}
				_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "hello", "end_of_turn": false})
				continue
			}
			var msg struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			switch msg.Type {
			case "ForceEndpoint":
				_ = conn.WriteJSON(map[string]any{"type": "Turn", "transcript": "hello world", "end_of_turn": true})
			case "Terminate":
				_ = conn.WriteJSON(map[string]any{"type": "Termination"})
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestStreamClient_PartialsAndFinal(t *testing.T) {
	var audio atomic.Int64
	srv := fakeEngine(t, &audio)
	defer srv.Close()

	c := NewStreamClient(wsURL(srv), "key", "en", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	if err := c.WritePCM16(make([]byte, 640)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case p := <-c.Partials():
		if p != "hello" {
			t.Fatalf("partial: %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no partial")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case f := <-c.Finals():
		if f != "hello world" {
			t.Fatalf("final: %q", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no final")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && audio.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if audio.Load() != 640 {
		t.Fatalf("engine received %d audio bytes", audio.Load())
	}
}

func TestStreamClient_PermissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewStreamClient(wsURL(srv), "bad-key", "en", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.Start(ctx)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestStreamClient_EmptyKey(t *testing.T) {
	c := NewStreamClient("ws://127.0.0.1:1", "", "en", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Start(ctx); err == nil {
		t.Fatalf("expected error with empty key")
	}
}

func TestStreamClient_EngineErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(map[string]any{"type": "Error", "error": "quota exceeded"})
		// keep the connection open until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewStreamClient(wsURL(srv), "key", "en", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Close()

	select {
	case err := <-c.Errors():
		if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
			t.Fatalf("error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("engine error never surfaced")
	}
}

func TestStreamClient_CloseIsQuiet(t *testing.T) {
	srv := fakeEngine(t, nil)
	defer srv.Close()

	c := NewStreamClient(wsURL(srv), "key", "en", "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Closing twice is safe.
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case err := <-c.Errors():
		if err != nil {
			t.Fatalf("teardown surfaced an error: %v", err)
		}
	case <-time.After(100 * time.Millisecond):
	}
}
