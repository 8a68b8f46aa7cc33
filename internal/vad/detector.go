// Package vad implements energy-based voice activity detection and utterance
// endpointing over a stream of PCM buffers. The detector is purely
// sample-driven: time advances by the number of samples fed, never by wall
// clock, so a replayed stream always yields the same events.
package vad

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
)

// DefaultThreshold is the conservative normalized-RMS threshold used when
// calibration has never run.
const DefaultThreshold = 0.015

// defaultSpeakingMargin raises the effective threshold while synthesis is
// audible, to resist the speaker re-triggering the microphone path.
const defaultSpeakingMargin = 0.010

// ContinuationExtension extends the silence timeout when the latest partial
// transcript ends in a word that implies the speaker will continue.
const ContinuationExtension = 1200 * time.Millisecond

// EventKind labels detector output events.
type EventKind int

const (
	// SpeechStart fires once energy stays above threshold for the start hold.
	SpeechStart EventKind = iota
	// SpeechEnd fires after the silence timeout, provided accumulated speech
	// exceeded the minimum duration (coughs and clicks never end a turn).
	SpeechEnd
)

func (k EventKind) String() string {
	if k == SpeechStart {
		return "speechStart"
	}
	return "speechEnd"
}

// Event is a detector output. Speech carries the accumulated speech duration.
type Event struct {
	Kind   EventKind
	Speech time.Duration
}

// Config holds detector tuning. Zero values select the defaults.
type Config struct {
	SampleRate     int           // default 16000
	SilenceTimeout time.Duration // default 800ms
	MinSpeech      time.Duration // default 200ms
	StartHold      time.Duration // sustained energy required before speechStart; default 60ms
	Threshold      float64       // 0 means DefaultThreshold until calibrated
	SpeakingMargin float64       // threshold bias while playback is active
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 800 * time.Millisecond
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = 200 * time.Millisecond
	}
	if c.StartHold <= 0 {
		c.StartHold = 60 * time.Millisecond
	}
	if c.SpeakingMargin <= 0 {
		c.SpeakingMargin = defaultSpeakingMargin
	}
	return c
}

// Detector consumes audio buffers and emits speechStart/speechEnd events.
// It never starts or stops the microphone itself.
type Detector struct {
	cfg Config

	mu             sync.Mutex
	threshold      float64
	calibrated     bool
	inSpeech       bool
	aboveSamples   int // consecutive above-threshold samples before speechStart
	speechSamples  int // accumulated speech samples in the current utterance
	silenceSamples int // consecutive below-threshold samples
	level          float64
	playing        bool
	lastPartial    string

	cal *calibration
}

// New creates a detector. A non-zero cfg.Threshold is treated as an external
// override; otherwise the conservative default applies until Calibrate runs.
func New(cfg Config) *Detector {
	cfg = cfg.withDefaults()
	d := &Detector{cfg: cfg, threshold: cfg.Threshold}
	if d.threshold <= 0 {
		d.threshold = DefaultThreshold
	}
	return d
}

// ProcessPCM16 feeds 16-bit little-endian mono PCM.
func (d *Detector) ProcessPCM16(pcm []byte) []Event {
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return d.Process(samples)
}

// Process feeds mono int16 samples and returns any boundary events they
// produced, in order.
func (d *Detector) Process(samples []int16) []Event {
	if len(samples) == 0 {
		return nil
	}
	inst := rms(samples)

	d.mu.Lock()
	defer d.mu.Unlock()

	// EMA for the UI level monitor. Derived, best-effort; never drives a
	// transition.
	d.level = 0.3*inst + 0.7*d.level

	if d.cal != nil {
		if done := d.cal.feed(inst, len(samples)); done {
			d.threshold = d.cal.threshold()
			d.calibrated = true
			d.cal = nil
		}
		return nil
	}

	speech := inst >= d.activeThresholdLocked()
	var events []Event

	if speech {
		d.silenceSamples = 0
		if !d.inSpeech {
			d.aboveSamples += len(samples)
			if d.durLocked(d.aboveSamples) >= d.cfg.StartHold {
				d.inSpeech = true
				d.speechSamples = d.aboveSamples
				d.aboveSamples = 0
				events = append(events, Event{Kind: SpeechStart})
			}
		} else {
			d.speechSamples += len(samples)
		}
		return events
	}

	d.aboveSamples = 0
	if !d.inSpeech {
		return nil
	}
	d.silenceSamples += len(samples)
	if d.durLocked(d.silenceSamples) >= d.silenceTimeoutLocked() {
		spoke := d.durLocked(d.speechSamples)
		d.inSpeech = false
		d.speechSamples = 0
		d.silenceSamples = 0
		if spoke >= d.cfg.MinSpeech {
			events = append(events, Event{Kind: SpeechEnd, Speech: spoke})
		}
	}
	return events
}

// Level reports the smoothed normalized energy in [0,1] for visualization.
func (d *Detector) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.level > 1 {
		return 1
	}
	return d.level
}

// SetPlaybackActive biases the threshold upward while synthesis is audible.
func (d *Detector) SetPlaybackActive(on bool) {
	d.mu.Lock()
	d.playing = on
	d.mu.Unlock()
}

// NotifyPartial supplies the latest running transcript so the endpointer can
// extend the silence window when the user is mid-clause.
func (d *Detector) NotifyPartial(text string) {
	d.mu.Lock()
	d.lastPartial = text
	d.mu.Unlock()
}

// Calibrated reports whether a calibration pass has completed.
func (d *Detector) Calibrated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calibrated
}

// Threshold returns the active energy threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// Reset clears utterance state without touching calibration.
func (d *Detector) Reset() {
	d.mu.Lock()
	d.inSpeech = false
	d.aboveSamples = 0
	d.speechSamples = 0
	d.silenceSamples = 0
	d.lastPartial = ""
	d.mu.Unlock()
}

func (d *Detector) activeThresholdLocked() float64 {
	t := d.threshold
	if d.playing {
		t += d.cfg.SpeakingMargin
	}
	return t
}

func (d *Detector) silenceTimeoutLocked() time.Duration {
	t := d.cfg.SilenceTimeout
	if isContinuationLikely(d.lastPartial) {
		t += ContinuationExtension
	}
	return t
}

func (d *Detector) durLocked(samples int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(d.cfg.SampleRate)
}

// rms computes normalized root-mean-square energy of int16 samples in [0,1].
func rms(samples []int16) float64 {
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum/float64(len(samples))) / 32768.0
}

// isContinuationLikely returns true if the last meaningful word indicates the
// speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// Coordinating conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	// Subordinating conjunctions / conditionals
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	// Discourse markers / fillers
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	// Prepositions that are awkward sentence endings
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
