package synth

import "math"

// numPartials is the size of the per-voice oscillator bank: the fundamental
// plus seven overtones.
const numPartials = 8

// PianoKey pairs a MIDI note with its equal-tempered frequency.
type PianoKey struct {
	Frequency float32
	MidiNote  int
}

// NewPianoKey computes the key for a MIDI note (A4 = 440 Hz at note 69).
func NewPianoKey(note int) PianoKey {
	return PianoKey{
		Frequency: midiNoteToFreq(note),
		MidiNote:  note,
	}
}

// Voice is one polyphonic slot: an additive bank of stiffness-sharpened
// partials plus hammer transients, shaped by an envelope. Voices are
// constructed once per sample rate and retuned on every note on.
type Voice struct {
	// Per-partial phase accumulators in [0,1). Each partial advances at its
	// own inharmonic rate, so phases wrap independently.
	partialPhase [numPartials]float32
	partialDelta [numPartials]float32
	// Gate weight per partial: 0 for partials at or above Nyquist.
	partialGate [numPartials]float32

	detunedPhase float32
	notePhase    float32
	phaseDelta   float32

	envelope   *EnvelopeGenerator
	sampleRate float32

	active bool
	hasKey bool
	key    PianoKey

	detuning    float32
	brightness  float32
	velocity    float32
	attackPhase float32
}

// NewVoice creates an idle voice for the given sample rate.
func NewVoice(sampleRate int, params *Params) *Voice {
	return &Voice{
		envelope:   NewEnvelopeGenerator(params.Attack, params.Decay, params.Sustain, params.Release, sampleRate),
		sampleRate: float32(sampleRate),
		detuning:   params.Detuning,
		brightness: params.Brightness,
	}
}

// NoteOn starts the voice for key at a normalized velocity in [0,1].
func (v *Voice) NoteOn(key PianoKey, velocity float32) {
	v.key = key
	v.hasKey = true
	v.phaseDelta = key.Frequency / v.sampleRate

	// Power curve gives a more natural dynamic response than linear.
	v.velocity = float32(math.Pow(float64(velocity), 0.8))
	v.envelope.SetVelocity(v.velocity)
	v.attackPhase = 0.0
	v.notePhase = 0.0

	v.tunePartials()

	// Higher strings carry less energy and dissipate it faster; louder
	// notes ring slightly longer. Anchored at 44.1 kHz so behavior does
	// not drift with sample rate.
	baseRate := 0.00001 * (44100.0 / v.sampleRate)
	freqFactor := float32(math.Sqrt(float64(key.Frequency / 110.0)))
	velocityFactor := 1.0 - v.velocity*0.3
	v.envelope.SetSustainDecayRate(baseRate * freqFactor * velocityFactor)

	v.envelope.Trigger()
	v.active = true
}

// NoteOff releases the envelope; the tail keeps sounding until it decays.
func (v *Voice) NoteOff() {
	v.envelope.Release()
}

// tunePartials derives the oscillator bank rates from the per-note
// stiffness model. The fundamental always sounds; higher partials landing
// at or above Nyquist are gated silent but keep their phase slot.
func (v *Voice) tunePartials() {
	model := InharmonicityForNote(v.key.MidiNote)
	nyquist := 0.5 * v.sampleRate
	for i := range v.partialDelta {
		freq := model.PartialFrequency(v.key.Frequency, i+1)
		v.partialDelta[i] = freq / v.sampleRate
		if i == 0 || freq < nyquist {
			v.partialGate[i] = 1.0
		} else {
			v.partialGate[i] = 0.0
		}
	}
}

// ProcessSample renders one sample of the voice.
func (v *Voice) ProcessSample() float32 {
	if !v.active && !v.envelope.IsActive() {
		return 0.0
	}

	envValue := v.envelope.ProcessSample()
	if !v.envelope.IsActive() {
		v.active = false
		return 0.0
	}

	// Attack transient tracker, ~20 ms regardless of sample rate.
	// Non-linear: fast at the start, slower near the end.
	if v.envelope.state == envAttack || v.attackPhase < 1.0 {
		attackRate := 50.0 / v.sampleRate
		v.attackPhase += attackRate * (1.0 - v.attackPhase)
		if v.attackPhase > 1.0 {
			v.attackPhase = 1.0
		}
	}

	for i := range v.partialPhase {
		if v.partialGate[i] != 0 {
			v.partialPhase[i] = wrapPhase(v.partialPhase[i] + v.partialDelta[i])
		}
	}
	v.detunedPhase = wrapPhase(v.detunedPhase + v.phaseDelta*v.detuning)
	v.notePhase += v.phaseDelta

	// Strongest right after the strike, fading as the attack completes.
	attackIntensity := (1.0 - v.attackPhase) * v.velocity

	var sample float32

	// Fundamental
	sample += 0.6 * sin2pi(v.partialPhase[0])

	// Second partial, quite strong in pianos
	sample += 0.4 * v.partialGate[1] * sin2pi(v.partialPhase[1])

	// Third partial
	sample += 0.15 * v.partialGate[2] * sin2pi(v.partialPhase[2])

	// Upper partials scale with brightness and are boosted while the
	// hammer transient rings.
	dynamicBrightness := v.brightness * (0.7 + 0.3*v.velocity)
	attackBoost := 1.0 + attackIntensity*2.0
	sample += dynamicBrightness * 0.2 * attackBoost * v.partialGate[3] * sin2pi(v.partialPhase[3])
	sample += dynamicBrightness * 0.14 * attackBoost * v.partialGate[4] * sin2pi(v.partialPhase[4])

	if attackIntensity > 0.01 {
		// Hammer "ping": the 6th..8th partials only while the strike rings.
		sample += dynamicBrightness * 0.05 * attackIntensity * v.partialGate[5] * sin2pi(v.partialPhase[5])
		sample += dynamicBrightness * 0.03 * attackIntensity * v.partialGate[6] * sin2pi(v.partialPhase[6])
		sample += dynamicBrightness * 0.02 * attackIntensity * v.partialGate[7] * sin2pi(v.partialPhase[7])
	}

	// Detuned oscillator for chorus richness.
	sample += 0.1 * sin2pi(v.detunedPhase)

	if attackIntensity > 0.01 {
		// Hammer noise keyed to attack intensity rather than the waveform
		// cycle, so the strike evolves instead of repeating every period.
		noise1 := sin2pi(attackIntensity * 3.71)
		noise2 := cos2pi(attackIntensity * 5.83)
		noise3 := sin2pi((v.notePhase*0.5 + attackIntensity*0.5) * 8.91)
		sample += noise1 * noise2 * noise3 * attackIntensity * v.velocity * 0.2

		// Low-frequency thump of the hammer hitting the string.
		sample += attackIntensity * v.velocity * 0.5 * sin2pi(attackIntensity*5.0)
	}

	// Headroom so full chords do not clip before the limiter.
	sample *= 0.3
	sample *= envValue

	return sample
}

// Process fills out with consecutive samples from the voice.
func (v *Voice) Process(out []float32) {
	for i := range out {
		out[i] = v.ProcessSample()
	}
}

// IsActive reports whether the voice currently holds a sounding note.
func (v *Voice) IsActive() bool {
	return v.active
}

// CurrentLevel returns the envelope level consulted by voice stealing.
func (v *Voice) CurrentLevel() float32 {
	return v.envelope.CurrentLevel()
}

func wrapPhase(p float32) float32 {
	return p - float32(int(p))
}

func sin2pi(phase float32) float32 {
	return float32(math.Sin(2.0 * math.Pi * float64(phase)))
}

func cos2pi(phase float32) float32 {
	return float32(math.Cos(2.0 * math.Pi * float64(phase)))
}
