package audio

import (
	"sync"
	"time"

	"github.com/hraban/opus"
)

// OpusUplink encodes 16kHz mono PCM to 20ms Opus frames and hands each frame
// to the send function on a paced ticker. Remote recognizers accept Opus at a
// fraction of the PCM bandwidth, which matters on constrained uplinks.
type OpusUplink struct {
	enc          *opus.Encoder
	send         func(frame []byte)
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

// NewOpusUplink constructs an uplink encoder with 20ms frames at the given
// rate (16kHz mono for speech recognition).
func NewOpusUplink(sampleRate int, send func(frame []byte)) (*OpusUplink, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	u := &OpusUplink{
		enc:          enc,
		send:         send,
		frameSamples: sampleRate / 50, // 20ms
		frames:       make(chan []byte, 256),
		stopCh:       make(chan struct{}),
	}
	go u.pacer()
	return u, nil
}

// WritePCM buffers s16le mono samples and emits encoded frames as full 20ms
// windows accumulate.
func (u *OpusUplink) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	need := len(pcmBytes) / 2
	startLen := len(u.pcmBuf)
	if cap(u.pcmBuf)-startLen < need {
		tmp := make([]int16, startLen, startLen+need+2048)
		copy(tmp, u.pcmBuf)
		u.pcmBuf = tmp
	}
	u.pcmBuf = u.pcmBuf[:startLen+need]
	for i := 0; i < need; i++ {
		u.pcmBuf[startLen+i] = int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
	}

	opusBuf := make([]byte, 4000)
	for len(u.pcmBuf) >= u.frameSamples {
		frame := u.pcmBuf[:u.frameSamples]
		n, _ := u.enc.Encode(frame, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			u.pushFrame(pkt)
		}
		copy(u.pcmBuf, u.pcmBuf[u.frameSamples:])
		u.pcmBuf = u.pcmBuf[:len(u.pcmBuf)-u.frameSamples]
	}
}

// Flush zero-pads any partial frame so the recognizer sees the trailing
// samples of an utterance.
func (u *OpusUplink) Flush() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.pcmBuf) == 0 {
		return
	}
	pad := make([]int16, u.frameSamples)
	copy(pad, u.pcmBuf)
	opusBuf := make([]byte, 4000)
	n, _ := u.enc.Encode(pad, opusBuf)
	if n > 0 {
		pkt := make([]byte, n)
		copy(pkt, opusBuf[:n])
		u.pushFrame(pkt)
	}
	u.pcmBuf = u.pcmBuf[:0]
}

// Close stops the pacer.
func (u *OpusUplink) Close() {
	u.mu.Lock()
	if !u.stopped {
		u.stopped = true
		close(u.stopCh)
	}
	u.mu.Unlock()
}

func (u *OpusUplink) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-u.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-u.frames:
				u.send(frame)
			default:
			}
		}
	}
}

func (u *OpusUplink) pushFrame(pkt []byte) {
	for {
		select {
		case <-u.stopCh:
			return
		case u.frames <- pkt:
			return
		}
	}
}
