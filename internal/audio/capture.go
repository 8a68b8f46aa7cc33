// Package audio provides microphone capture, speaker playback and the opus
// uplink encoder. Only device plumbing lives here; all conversation logic
// stays in the dialogue session.
package audio

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// captureQueueLen bounds buffered capture chunks (~32ms each) so a stalled
// consumer drops audio instead of blocking the device callback.
const captureQueueLen = 128

// Capturer reads mono 16-bit PCM from the default microphone and hands each
// chunk to the consumer callback on a dedicated goroutine.
type Capturer struct {
	ctx        *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate uint32
	onPCM      func(pcm []byte)

	running   atomic.Bool
	chunks    chan []byte
	dropCount atomic.Uint64
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewCapturer prepares a capturer at the given sample rate (16kHz for STT).
func NewCapturer(sampleRate int, onPCM func(pcm []byte)) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init context: %w", err)
	}
	return &Capturer{
		ctx:        ctx,
		sampleRate: uint32(sampleRate),
		onPCM:      onPCM,
		chunks:     make(chan []byte, captureQueueLen),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start opens the default capture device. The malgo callback must stay fast:
// it only copies the buffer and enqueues it.
func (c *Capturer) Start() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = c.sampleRate
	cfg.PeriodSizeInMilliseconds = 32

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if !c.running.Load() || len(input) == 0 {
				return
			}
			buf := make([]byte, len(input))
			copy(buf, input)
			select {
			case c.chunks <- buf:
			default:
				if n := c.dropCount.Add(1); n%100 == 0 {
					log.Printf("audio: capture queue full, dropped %d chunks", n)
				}
			}
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("audio: init capture device: %w", err)
	}
	c.device = device
	c.running.Store(true)

	c.wg.Add(1)
	go c.drain()

	if err := device.Start(); err != nil {
		return fmt.Errorf("audio: start capture device: %w", err)
	}
	return nil
}

func (c *Capturer) drain() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case pcm := <-c.chunks:
			if c.onPCM != nil && c.running.Load() {
				c.onPCM(pcm)
			}
		}
	}
}

// Pause / Resume gate delivery without tearing the device down.
func (c *Capturer) Pause()  { c.running.Store(false) }
func (c *Capturer) Resume() { c.running.Store(true) }

// Close stops capture and releases the device and context.
func (c *Capturer) Close() {
	c.running.Store(false)
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.wg.Wait()
	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}
