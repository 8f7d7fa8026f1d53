package synth

// Params holds the voice personality shared by every voice of an engine.
type Params struct {
	// Detuning is the frequency ratio of the chorus oscillator relative
	// to the fundamental.
	Detuning float32

	// Brightness scales the upper harmonic content (0..1).
	Brightness float32

	// Envelope segment times in seconds and sustain level in [0,1].
	Attack  float32
	Decay   float32
	Sustain float32
	Release float32
}

// NewDefaultParams creates default parameters.
func NewDefaultParams() *Params {
	return &Params{
		Detuning:   1.003,
		Brightness: 0.8,
		Attack:     0.01,
		Decay:      0.1,
		Sustain:    0.7,
		Release:    0.3,
	}
}
