package vad

import (
	"math"
	"time"
)

// calibration accumulates ambient-noise energy statistics over a fixed
// sample window and derives the active threshold from them.
type calibration struct {
	targetSamples int
	seenSamples   int
	chunks        []float64
	progress      func(float64)
}

// StartCalibration switches the detector into calibration mode for the given
// window. Progress is reported in [0,1] as audio is fed through Process.
// Re-running overwrites any prior calibration; a run in progress is replaced.
// No events are emitted while calibrating.
func (d *Detector) StartCalibration(window time.Duration, progress func(float64)) {
	if window <= 0 {
		window = 2 * time.Second
	}
	d.mu.Lock()
	d.cal = &calibration{
		targetSamples: int(window.Seconds() * float64(d.cfg.SampleRate)),
		progress:      progress,
	}
	d.inSpeech = false
	d.aboveSamples = 0
	d.speechSamples = 0
	d.silenceSamples = 0
	d.mu.Unlock()
	if progress != nil {
		progress(0)
	}
}

// CancelCalibration abandons a calibration in progress. The previously active
// threshold (calibrated or default) stays in effect. Safe to call when no
// calibration is running.
func (d *Detector) CancelCalibration() {
	d.mu.Lock()
	d.cal = nil
	d.mu.Unlock()
}

// Calibrating reports whether a calibration pass is consuming audio.
func (d *Detector) Calibrating() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal != nil
}

// feed records one chunk's energy. Returns true once the window is complete.
// Called with the detector lock held.
func (c *calibration) feed(inst float64, samples int) bool {
	c.chunks = append(c.chunks, inst)
	c.seenSamples += samples
	if c.progress != nil {
		p := float64(c.seenSamples) / float64(c.targetSamples)
		if p > 1 {
			p = 1
		}
		c.progress(p)
	}
	return c.seenSamples >= c.targetSamples
}

// threshold derives the noise floor as mean + 3*stddev of chunk energies,
// clamped so a dead-silent room still requires audible speech.
func (c *calibration) threshold() float64 {
	if len(c.chunks) == 0 {
		return DefaultThreshold
	}
	var sum float64
	for _, v := range c.chunks {
		sum += v
	}
	mean := sum / float64(len(c.chunks))
	var varSum float64
	for _, v := range c.chunks {
		varSum += (v - mean) * (v - mean)
	}
	std := math.Sqrt(varSum / float64(len(c.chunks)))
	t := mean + 3*std
	if t < 0.005 {
		t = 0.005
	}
	if t > 0.5 {
		t = 0.5
	}
	return t
}
