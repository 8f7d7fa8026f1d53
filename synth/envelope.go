package synth

// envelopeState identifies the active segment of the amplitude contour.
type envelopeState int

const (
	envIdle envelopeState = iota
	envAttack
	envDecay
	envSustain
	envRelease
)

const (
	// Level at which a releasing voice is considered silent (-80 dB).
	releaseFloor = 0.0001
	// Release decays faster above this level, then settles into a long tail.
	releaseKneeLevel     = 0.1
	releaseInitialFactor = 2.5
)

// EnvelopeGenerator shapes voice amplitude as an ADSR contour with a
// piano-like twist: the sustain segment is not flat but decays slowly at a
// per-note rate, and the release follows a two-slope curve (fast first,
// long tail) instead of a plain exponential.
type EnvelopeGenerator struct {
	state            envelopeState
	currentLevel     float32
	sustainLevel     float32
	sustainDecayRate float32
	velocityLevel    float32

	// Per-sample segment rates. A zero rate means the segment completes
	// instantly.
	attackRate  float32
	decayRate   float32
	releaseRate float32
}

// NewEnvelopeGenerator precalculates segment rates from ADSR times in
// seconds and the sustain level in [0,1]. Times below one microsecond
// give instantaneous segments.
func NewEnvelopeGenerator(attack, decay, sustain, release float32, sampleRate int) *EnvelopeGenerator {
	const epsilon = 0.000001
	sr := float32(sampleRate)

	e := &EnvelopeGenerator{
		state:         envIdle,
		sustainLevel:  sustain,
		velocityLevel: 1.0,
	}
	if attack > epsilon {
		e.attackRate = 1.0 / (sr * attack)
	}
	if decay > epsilon {
		e.decayRate = (1.0 - sustain) / (sr * decay)
	}
	if release > epsilon {
		e.releaseRate = 1.0 / (sr * release)
	}
	return e
}

// Trigger starts the attack segment. The current level is kept so that
// retriggering a sounding voice plays legato instead of clicking.
func (e *EnvelopeGenerator) Trigger() {
	e.state = envAttack
}

// Release moves the envelope into its release segment.
func (e *EnvelopeGenerator) Release() {
	e.state = envRelease
}

// SetSustainDecayRate sets the per-sample decay applied during sustain.
func (e *EnvelopeGenerator) SetSustainDecayRate(rate float32) {
	e.sustainDecayRate = rate
}

// SetVelocity sets the velocity scaling factor applied to the output.
func (e *EnvelopeGenerator) SetVelocity(velocity float32) {
	e.velocityLevel = velocity
}

// ProcessSample advances the envelope by one sample and returns the
// velocity-scaled level.
func (e *EnvelopeGenerator) ProcessSample() float32 {
	switch e.state {
	case envIdle:
		e.currentLevel = 0.0
	case envAttack:
		if e.attackRate > 0 {
			e.currentLevel += e.attackRate
			if e.currentLevel >= 1.0 {
				e.currentLevel = 1.0
				e.state = envDecay
			}
		} else {
			e.currentLevel = 1.0
			e.state = envDecay
		}
	case envDecay:
		if e.decayRate > 0 {
			e.currentLevel -= e.decayRate
			if e.currentLevel <= e.sustainLevel {
				e.currentLevel = e.sustainLevel
				e.state = envSustain
			}
		} else {
			e.currentLevel = e.sustainLevel
			e.state = envSustain
		}
	case envSustain:
		e.currentLevel -= e.sustainDecayRate
		if e.currentLevel <= 0.0 {
			e.currentLevel = 0.0
			e.state = envIdle
		}
	case envRelease:
		if e.releaseRate > 0 {
			factor := float32(1.0)
			if e.currentLevel > releaseKneeLevel {
				factor = releaseInitialFactor
			}
			e.currentLevel -= e.releaseRate * e.currentLevel * factor
			if e.currentLevel <= releaseFloor {
				e.currentLevel = 0.0
				e.state = envIdle
			}
		} else {
			e.currentLevel = 0.0
			e.state = envIdle
		}
	}

	return e.currentLevel * e.velocityLevel
}

// Process fills out with consecutive envelope samples.
func (e *EnvelopeGenerator) Process(out []float32) {
	for i := range out {
		out[i] = e.ProcessSample()
	}
}

// IsActive reports whether the envelope is in any non-idle segment.
func (e *EnvelopeGenerator) IsActive() bool {
	return e.state != envIdle
}

// CurrentLevel returns the raw envelope level before velocity scaling.
func (e *EnvelopeGenerator) CurrentLevel() float32 {
	return e.currentLevel
}
