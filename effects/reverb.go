// Package effects implements the output chain of the synth engine: a
// Schroeder reverb for room ambience and a feed-forward peak limiter
// guarding the final level. Both process mono float32 samples and are
// allocation-free after construction.
package effects

import (
	"math"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/cwbudde/algo-synth/dsp"
)

// Classic Schroeder tunings.
var (
	reverbCombDelaysMs    = [4]float32{29.7, 37.1, 41.1, 43.7}
	reverbAllpassDelaysMs = [2]float32{5.0, 1.7}
)

const (
	reverbCombFeedback    = 0.84
	reverbCombDamping     = 0.2
	reverbAllpassFeedback = 0.5

	defaultReverbRoomSize = 0.5
	defaultReverbDamping  = 0.5
	defaultReverbWet      = 0.33
	defaultReverbDry      = 0.4
	defaultReverbWidth    = 1.0

	// Comb feedback derived from the room size knob.
	roomSizeFactor = 0.6
	roomSizeOffset = 0.4
)

// Reverb is a mono Schroeder reverb: four damped comb filters in parallel
// followed by two allpass diffusers in series. Delay lengths are fixed at
// construction for a given sample rate; knob setters retune coefficients
// but never resize the delay lines.
type Reverb struct {
	roomSize float32
	damping  float32
	wet      float32
	dry      float32
	width    float32

	combs     [4]reverbComb
	allpasses [2]reverbAllpass
}

type reverbComb struct {
	delay     *dsp.DelayLine
	feedback  float32
	damping   float32
	dampState float32
}

func newReverbComb(size int, feedback, damping float32) reverbComb {
	if size < 1 {
		size = 1
	}
	return reverbComb{
		delay:    dsp.NewDelayLine(size),
		feedback: feedback,
		damping:  damping,
	}
}

// process reads the delayed sample, refreshes the one-pole damped feedback
// state, and writes the new feedback value into the freed slot.
func (c *reverbComb) process(input float32) float32 {
	output := c.delay.Read(c.delay.Size())
	c.dampState = output*(1.0-c.damping) + c.dampState*c.damping
	c.dampState = float32(dspcore.FlushDenormals(float64(c.dampState)))
	c.delay.Write(input + c.dampState*c.feedback)
	return output
}

func (c *reverbComb) reset() {
	c.delay.Reset()
	c.dampState = 0
}

type reverbAllpass struct {
	delay    *dsp.DelayLine
	feedback float32
}

func newReverbAllpass(size int, feedback float32) reverbAllpass {
	if size < 1 {
		size = 1
	}
	return reverbAllpass{
		delay:    dsp.NewDelayLine(size),
		feedback: feedback,
	}
}

func (a *reverbAllpass) process(input float32) float32 {
	delayed := a.delay.Read(a.delay.Size())
	output := -input*a.feedback + delayed
	a.delay.Write(input + delayed*a.feedback)
	return output
}

func (a *reverbAllpass) reset() {
	a.delay.Reset()
}

// NewReverb creates a reverb tuned for the given sample rate. Delay lengths
// scale with the rate so the room character stays put across rates. The
// filters start at the fixed Schroeder tunings; the room size and damping
// knobs reach them on the first setter call.
func NewReverb(sampleRate int) *Reverb {
	r := &Reverb{
		roomSize: defaultReverbRoomSize,
		damping:  defaultReverbDamping,
		wet:      defaultReverbWet,
		dry:      defaultReverbDry,
		width:    defaultReverbWidth,
	}
	for i, ms := range reverbCombDelaysMs {
		r.combs[i] = newReverbComb(delaySamples(ms, sampleRate), reverbCombFeedback, reverbCombDamping)
	}
	for i, ms := range reverbAllpassDelaysMs {
		r.allpasses[i] = newReverbAllpass(delaySamples(ms, sampleRate), reverbAllpassFeedback)
	}
	return r
}

func delaySamples(ms float32, sampleRate int) int {
	return int(math.Round(float64(ms) * 0.001 * float64(sampleRate)))
}

// ProcessSample runs one mono sample through the reverb.
func (r *Reverb) ProcessSample(input float32) float32 {
	var diffused float32
	for i := range r.combs {
		diffused += r.combs[i].process(input)
	}
	diffused /= float32(len(r.combs))

	for i := range r.allpasses {
		diffused = r.allpasses[i].process(diffused)
	}

	return r.dry*input + r.wet*diffused
}

// ProcessInPlace applies the reverb to buf in place.
func (r *Reverb) ProcessInPlace(buf []float32) {
	for i := range buf {
		buf[i] = r.ProcessSample(buf[i])
	}
}

// Reset clears all delay and damping state.
func (r *Reverb) Reset() {
	for i := range r.combs {
		r.combs[i].reset()
	}
	for i := range r.allpasses {
		r.allpasses[i].reset()
	}
}

// SetRoomSize sets the room size knob, clamped to [0,1], and retunes the
// comb feedback to roomSize*0.6 + 0.4.
func (r *Reverb) SetRoomSize(size float32) {
	r.roomSize = clampf(size, 0.0, 1.0)
	r.updateCombs()
}

// SetDamping sets the high-frequency damping knob, clamped to [0,1].
func (r *Reverb) SetDamping(damping float32) {
	r.damping = clampf(damping, 0.0, 1.0)
	r.updateCombs()
}

// SetWetLevel sets the reverberated signal level, clamped to [0,1].
func (r *Reverb) SetWetLevel(level float32) {
	r.wet = clampf(level, 0.0, 1.0)
}

// SetDryLevel sets the untouched signal level, clamped to [0,1].
func (r *Reverb) SetDryLevel(level float32) {
	r.dry = clampf(level, 0.0, 1.0)
}

// SetWidth stores the stereo width, clamped to [0,1]. The mono chain does
// not consult it; it is kept for a stereo output path.
func (r *Reverb) SetWidth(width float32) {
	r.width = clampf(width, 0.0, 1.0)
}

// RoomSize returns the room size knob.
func (r *Reverb) RoomSize() float32 { return r.roomSize }

// Damping returns the damping knob.
func (r *Reverb) Damping() float32 { return r.damping }

// WetLevel returns the wet level.
func (r *Reverb) WetLevel() float32 { return r.wet }

// DryLevel returns the dry level.
func (r *Reverb) DryLevel() float32 { return r.dry }

// Width returns the stored stereo width.
func (r *Reverb) Width() float32 { return r.width }

func (r *Reverb) updateCombs() {
	feedback := r.roomSize*roomSizeFactor + roomSizeOffset
	for i := range r.combs {
		r.combs[i].feedback = feedback
		r.combs[i].damping = r.damping
	}
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
