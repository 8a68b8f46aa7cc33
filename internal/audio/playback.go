package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Speaker plays 48kHz mono 16-bit PCM on the default output device. It
// implements the synthesizer sink: WritePCM enqueues, Reset drops everything
// queued (barge-in), FlushTail blocks until the queue has drained so the
// caller's playback-finished signal lines up with the audible end.
type Speaker struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu    sync.Mutex
	queue []byte
}

const speakerSampleRate = 48000

// flushPollInterval is how often FlushTail re-checks the queue.
const flushPollInterval = 20 * time.Millisecond

func NewSpeaker() (*Speaker, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}
	s := &Speaker{ctx: ctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = speakerSampleRate
	cfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			s.fill(output)
		},
	}
	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("audio: init playback device: %w", err)
	}
	s.device = device
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("audio: start playback device: %w", err)
	}
	return s, nil
}

// fill copies queued PCM into the device buffer, zero-padding any shortfall.
func (s *Speaker) fill(output []byte) {
	s.mu.Lock()
	n := copy(output, s.queue)
	s.queue = s.queue[n:]
	s.mu.Unlock()
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
}

// WritePCM enqueues 48kHz mono s16le samples.
func (s *Speaker) WritePCM(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, pcm...)
	s.mu.Unlock()
}

// FlushTail blocks until everything written so far has been consumed by the
// device, capped at the queued duration plus a small margin.
func (s *Speaker) FlushTail() {
	s.mu.Lock()
	queued := len(s.queue)
	s.mu.Unlock()
	// bytes -> ms at 48kHz mono s16le (96 bytes per ms)
	deadline := time.Now().Add(time.Duration(queued/96+250) * time.Millisecond)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		remaining := len(s.queue)
		s.mu.Unlock()
		if remaining == 0 {
			return
		}
		time.Sleep(flushPollInterval)
	}
}

// Reset drops all queued audio immediately.
func (s *Speaker) Reset() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

func (s *Speaker) Close() {
	if s.device != nil {
		s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
}
