// Package synth implements a polyphonic piano synthesizer built for
// real-time audio callbacks: additive voices with stiffness-sharpened
// partials, ADSR envelopes with piano-like sustain decay, voice stealing,
// and a lock-free note event queue. All rendering happens synchronously
// inside Play; the engine never allocates on the steady-state path and
// never returns errors.
package synth

// Synth renders interleaved audio on demand. Implementations must tolerate
// sample-rate changes between calls and must not block: the caller is
// typically a real-time audio callback.
type Synth interface {
	Play(sampleRate int, channels int, out []float32)
}

// SilentSynth renders silence. It stands in for the piano engine in audio
// driver tests and as a mute placeholder.
type SilentSynth struct{}

// Play zeroes the buffer.
func (SilentSynth) Play(sampleRate int, channels int, out []float32) {
	for i := range out {
		out[i] = 0
	}
}
