package synth

import (
	"context"
	"log"
	"strings"
	"sync"
	"unicode/utf8"
)

// coalesceCap forces a cut when streamed fragments accumulate this many
// bytes without reaching a sentence boundary, so long clauses still speak.
const coalesceCap = 100

// Player queues sentences and plays them through a Synthesizer into a Sink.
// Stop cancels current and queued audio deterministically and is safe to
// call from the interruption path at any time.
type Player struct {
	synth   Synthesizer
	sink    Sink
	onStart func()
	onEnd   func()

	mu       sync.Mutex
	queue    []string
	buf      strings.Builder // coalescing buffer for streamed fragments
	speaking bool
	cancel   context.CancelFunc
	gen      uint64 // bumped by Stop; stale audio is never written
	closed   bool

	wake   chan struct{}
	stopCh chan struct{}
	done   sync.WaitGroup
}

// NewPlayer builds a player. onStart fires when an utterance run begins
// producing audio, onEnd when the queue drains normally; Stop never fires
// onEnd because the caller initiated it.
func NewPlayer(s Synthesizer, sink Sink, onStart, onEnd func()) *Player {
	if sink == nil {
		sink = NopSink{}
	}
	p := &Player{
		synth:   s,
		sink:    sink,
		onStart: onStart,
		onEnd:   onEnd,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	p.done.Add(1)
	go p.run()
	return p
}

// Speak cancels anything in flight and speaks text immediately.
func (p *Player) Speak(text string) {
	p.Stop()
	p.SpeakSentence(text)
}

// SpeakSentence enqueues a complete sentence without cancelling queued audio.
func (p *Player) SpeakSentence(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, text)
	p.mu.Unlock()
	p.signal()
}

// SpeakStreaming coalesces small text fragments, enqueueing a chunk whenever
// a sentence boundary is reached or the buffer exceeds the length cap.
func (p *Player) SpeakStreaming(fragment string) {
	if fragment == "" {
		return
	}
	var ready []string
	p.mu.Lock()
	p.buf.WriteString(fragment)
	for {
		chunk, rest, ok := cutSentence(p.buf.String())
		if !ok {
			break
		}
		if chunk != "" {
			ready = append(ready, chunk)
		}
		p.buf.Reset()
		p.buf.WriteString(rest)
	}
	p.queue = append(p.queue, ready...)
	p.mu.Unlock()
	if len(ready) > 0 {
		p.signal()
	}
}

// Flush forces any buffered partial text to be spoken rather than dropped,
// for when the remote stream ends without a trailing boundary.
func (p *Player) Flush() {
	p.mu.Lock()
	tail := strings.TrimSpace(p.buf.String())
	p.buf.Reset()
	if tail != "" {
		p.queue = append(p.queue, tail)
	}
	p.mu.Unlock()
	if tail != "" {
		p.signal()
	}
}

// Stop cancels the current utterance and drops all queued text and audio.
func (p *Player) Stop() {
	p.mu.Lock()
	p.gen++
	p.queue = nil
	p.buf.Reset()
	cancel := p.cancel
	p.cancel = nil
	p.speaking = false
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.sink.Reset()
}

// Speaking reports whether audio is currently being produced.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Close stops playback and releases the worker.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.Stop()
	close(p.stopCh)
	p.done.Wait()
}

func (p *Player) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Player) run() {
	defer p.done.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if len(p.queue) == 0 {
				wasSpeaking := p.speaking
				p.speaking = false
				p.mu.Unlock()
				if wasSpeaking {
					p.sink.FlushTail()
					if p.onEnd != nil {
						p.onEnd()
					}
				}
				break
			}
			sentence := p.queue[0]
			p.queue = p.queue[1:]
			gen := p.gen
			ctx, cancel := context.WithCancel(context.Background())
			p.cancel = cancel
			starting := !p.speaking
			p.speaking = true
			p.mu.Unlock()

			if starting && p.onStart != nil {
				p.onStart()
			}
			p.playOne(ctx, gen, sentence)
			cancel()
		}
	}
}

// playOne streams one sentence into the sink. Writes are gated on the
// generation captured at dequeue so audio cancelled by Stop never reaches
// the device.
func (p *Player) playOne(ctx context.Context, gen uint64, sentence string) {
	pcmCh, errCh := p.synth.StreamPCM48k(ctx, sentence)
	openPCM, openErr := true, true
	for openPCM || openErr {
		select {
		case b, ok := <-pcmCh:
			if !ok {
				openPCM = false
				continue
			}
			if len(b) == 0 {
				continue
			}
			p.mu.Lock()
			stale := gen != p.gen
			p.mu.Unlock()
			if !stale {
				p.sink.WritePCM(b)
			}
		case e, ok := <-errCh:
			if ok && e != nil && ctx.Err() == nil {
				log.Printf("synth: stream error: %v", e)
			}
			openErr = false
		case <-ctx.Done():
			return
		}
	}
}

// cutSentence splits text at the first sentence boundary, or at the length
// cap when no boundary has appeared yet. Returns ok=false when more input is
// needed; an empty chunk with ok=true means the boundary carried no
// speakable text and was consumed.
func cutSentence(text string) (chunk, rest string, ok bool) {
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		end := i + utf8.RuneLen(r)
		// A period inside "3.45" is not a boundary.
		if r == '.' && end < len(text) && isDigit(text[end]) && i > 0 && isDigit(text[i-1]) {
			continue
		}
		// A boundary with nothing speakable before it (a leading newline,
		// a bare "?") still consumes its runes so the scan can progress.
		return strings.TrimSpace(text[:end]), text[end:], true
	}
	if len(text) >= coalesceCap {
		cut := strings.LastIndexByte(text[:coalesceCap], ' ')
		if cut <= 0 {
			cut = coalesceCap
		}
		return strings.TrimSpace(text[:cut]), text[cut:], true
	}
	return "", text, false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
