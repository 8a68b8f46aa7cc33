package audio

import (
	"context"

	"github.com/katipally/Jarvis-sub002/internal/recognizer"
)

// UplinkRecognizer wraps a recognizer so the PCM uplink is Opus-encoded
// before hitting the wire. Everything else passes through.
type UplinkRecognizer struct {
	recognizer.Recognizer
	uplink *OpusUplink
}

// NewUplinkRecognizer builds the wrapper. sampleRate must match the PCM fed
// to WritePCM16.
func NewUplinkRecognizer(r recognizer.Recognizer, sampleRate int) (*UplinkRecognizer, error) {
	w := &UplinkRecognizer{Recognizer: r}
	uplink, err := NewOpusUplink(sampleRate, func(frame []byte) {
		_ = r.WritePCM16(frame)
	})
	if err != nil {
		return nil, err
	}
	w.uplink = uplink
	return w, nil
}

func (w *UplinkRecognizer) Start(ctx context.Context) error {
	return w.Recognizer.Start(ctx)
}

// WritePCM16 encodes and forwards; frames reach the engine paced at 20ms.
func (w *UplinkRecognizer) WritePCM16(pcm []byte) error {
	w.uplink.WritePCM(pcm)
	return nil
}

// Stop flushes the partial tail frame before forcing the endpoint.
func (w *UplinkRecognizer) Stop() error {
	w.uplink.Flush()
	return w.Recognizer.Stop()
}

func (w *UplinkRecognizer) Close() error {
	w.uplink.Close()
	return w.Recognizer.Close()
}
