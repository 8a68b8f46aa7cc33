package synth

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// Deepgram synthesizes speech via the Deepgram realtime speak websocket.
type Deepgram struct {
	apiKey     string
	voice      string
	sampleRate int
}

// NewDeepgram builds a synthesizer for the given voice identifier.
func NewDeepgram(apiKey, voice string) *Deepgram {
	if voice == "" {
		voice = "aura-2-thalia-en"
	}
	return &Deepgram{apiKey: apiKey, voice: voice, sampleRate: 48000}
}

// StreamPCM48k streams linear16 audio for text. The returned channels close
// when the utterance is fully received, the stream goes idle, or ctx ends.
func (d *Deepgram) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- fmt.Errorf("synth: deepgram API key missing")
			return
		}
		if text == "" {
			return
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.voice,
			Encoding:   "linear16",
			SampleRate: d.sampleRate,
		}

		var lastRecvUnix int64
		var seenAudio int32

		cb := &speakHandler{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
			atomic.StoreInt32(&seenAudio, 1)
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case pcmCh <- b:
			default:
			}
			return nil
		}}

		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("synth: create deepgram client: %w", err)
			return
		}

		stopped := false
		stopClient := func() {
			if !stopped {
				stopped = true
				dg.Stop()
			}
		}
		defer stopClient()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("synth: deepgram connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("synth: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			log.Printf("synth: deepgram flush error: %v", err)
		}

		// The speak websocket has no explicit done frame for linear16, so the
		// stream is considered complete after a short receive-idle window.
		const idleWindow = 400 * time.Millisecond
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(12 * time.Second)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt32(&seenAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
					if time.Since(last) > idleWindow {
						return
					}
				}
				if time.Now().After(deadline) {
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type speakHandler struct{ onBinary func([]byte) error }

func (h *speakHandler) Open(*msginterfaces.OpenResponse) error         { return nil }
func (h *speakHandler) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (h *speakHandler) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (h *speakHandler) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (h *speakHandler) Close(*msginterfaces.CloseResponse) error       { return nil }
func (h *speakHandler) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (h *speakHandler) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (h *speakHandler) UnhandledEvent([]byte) error                    { return nil }
func (h *speakHandler) Binary(data []byte) error {
	if h.onBinary != nil {
		return h.onBinary(data)
	}
	return nil
}
