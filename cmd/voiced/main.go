package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/katipally/Jarvis-sub002/internal/audio"
	"github.com/katipally/Jarvis-sub002/internal/config"
	"github.com/katipally/Jarvis-sub002/internal/dialogue"
	"github.com/katipally/Jarvis-sub002/internal/recognizer"
	"github.com/katipally/Jarvis-sub002/internal/synth"
	"github.com/katipally/Jarvis-sub002/internal/transport"
	"github.com/katipally/Jarvis-sub002/internal/vad"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	det := vad.New(vad.Config{
		SampleRate:     cfg.MicSampleRate,
		SilenceTimeout: cfg.SilenceTimeout,
		MinSpeech:      cfg.MinSpeech,
		Threshold:      cfg.VADThreshold,
	})

	// Output path: Deepgram speak websocket -> local speaker. Without an
	// audio device (CI, containers) replies are still generated, just silent.
	var sink synth.Sink
	speaker, err := audio.NewSpeaker()
	if err != nil {
		log.Printf("no playback device, running silent: %v", err)
		sink = synth.NopSink{}
	} else {
		sink = speaker
		defer speaker.Close()
	}

	// The session is created after the player, so playback callbacks go
	// through a notifier bound once the session exists. The player goroutine
	// reads it concurrently, hence the atomic pointer.
	var notify playbackNotifier
	dg := synth.NewDeepgram(cfg.DeepgramKey, cfg.SynthVoice)
	player := synth.NewPlayer(dg, sink, notify.start, notify.end)
	defer player.Close()

	factories := dialogue.Factories{
		Transport: func() dialogue.Transport {
			client := transport.NewClient(cfg.GatewayURL, transport.Options{
				HeartbeatInterval:    cfg.HeartbeatInterval,
				MaxReconnectAttempts: cfg.MaxReconnectAttempts,
				ReconnectBase:        cfg.ReconnectBase,
			})
			client.Start()
			return client
		},
		Recognizer: func() recognizer.Recognizer {
			encoding := "pcm_s16le"
			if cfg.AudioUplink == "opus" {
				encoding = "opus"
			}
			rec := recognizer.NewStreamClient(cfg.RecognizerURL, cfg.RecognizerKey, cfg.Language, cfg.RecognizerModel, encoding)
			if encoding == "opus" {
				wrapped, err := audio.NewUplinkRecognizer(rec, cfg.MicSampleRate)
				if err != nil {
					log.Printf("opus uplink unavailable, sending PCM: %v", err)
					return rec
				}
				return wrapped
			}
			return rec
		},
	}

	mode := dialogue.HandsFree
	if cfg.InputMode == config.ModePushToTalk {
		mode = dialogue.PushToTalk
	}
	session := dialogue.NewSession(factories, player, det, mode)
	notify.Bind(session)
	session.OnStateChange = func(st dialogue.State) {
		log.Printf("state: %s", st)
	}
	session.OnPartial = func(text string) {
		log.Printf("partial: %s", text)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := session.Start(ctx); err != nil {
		log.Fatalf("session start: %v", err)
	}
	defer session.Close()

	// Learn the room's noise floor before opening the floor to speech.
	det.StartCalibration(2*time.Second, func(p float64) {
		if p >= 1 {
			log.Printf("calibration done: threshold=%.4f", det.Threshold())
		}
	})

	capture, err := audio.NewCapturer(cfg.MicSampleRate, session.FeedAudio)
	if err != nil {
		log.Fatalf("capture device: %v", err)
	}
	if err := capture.Start(); err != nil {
		log.Fatalf("capture start: %v", err)
	}
	defer capture.Close()

	log.Printf("voice runtime up: mode=%s uplink=%s", cfg.InputMode, cfg.AudioUplink)

	go console(session, mode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("shutdown signal received: %v", sig)
}

// playbackNotifier forwards player start/end callbacks to a session that is
// wired up after the player is constructed. Unbound calls are dropped.
type playbackNotifier struct {
	session atomic.Pointer[dialogue.Session]
}

func (n *playbackNotifier) Bind(s *dialogue.Session) { n.session.Store(s) }

func (n *playbackNotifier) start() {
	if s := n.session.Load(); s != nil {
		s.NotifySpeakingStart()
	}
}

func (n *playbackNotifier) end() {
	if s := n.session.Load(); s != nil {
		s.NotifySpeakingEnd()
	}
}

// console reads control commands from stdin. In push-to-talk mode a bare
// newline toggles the talk key.
func console(session *dialogue.Session, mode dialogue.Mode) {
	talking := false
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "":
			if mode != dialogue.PushToTalk {
				continue
			}
			if talking {
				session.ReleaseTalk()
			} else {
				session.PressTalk()
			}
			talking = !talking
		case "clear":
			session.Clear()
		case "restart":
			session.Restart()
		case "state":
			log.Printf("state: %s level=%.4f", session.State(), session.Level())
		case "quit", "exit":
			_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
			return
		}
	}
}
