package effects

import (
	"math"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
)

const (
	defaultLimiterThresholdDB = -3.0
	defaultLimiterAttackS     = 0.005
	defaultLimiterReleaseS    = 0.050
	defaultLimiterMakeupDB    = 0.0
)

// Limiter is a feed-forward peak limiter. An attack/release envelope
// follower tracks the input peak and gain is pulled down just enough to
// hold the envelope at the threshold. There is no look-ahead, so
// transients can overshoot for up to one attack time constant.
type Limiter struct {
	thresholdDB float32
	attackS     float32
	releaseS    float32
	makeupDB    float32

	sampleRate  float32
	attackCoef  float32
	releaseCoef float32

	envelope      float32
	gainReduction float32
}

// NewLimiter creates a limiter with a -3 dB threshold, 5 ms attack, 50 ms
// release and no makeup gain.
func NewLimiter(sampleRate int) *Limiter {
	l := &Limiter{
		thresholdDB:   defaultLimiterThresholdDB,
		attackS:       defaultLimiterAttackS,
		releaseS:      defaultLimiterReleaseS,
		makeupDB:      defaultLimiterMakeupDB,
		sampleRate:    float32(sampleRate),
		gainReduction: 1.0,
	}
	l.updateCoefficients()
	return l
}

// SetThreshold sets the limiting threshold in dB, clamped to [-60, 0].
func (l *Limiter) SetThreshold(db float32) {
	l.thresholdDB = clampf(db, -60.0, 0.0)
}

// SetAttack sets the attack time in seconds, clamped to [0.001, 1.0].
func (l *Limiter) SetAttack(seconds float32) {
	l.attackS = clampf(seconds, 0.001, 1.0)
	l.updateCoefficients()
}

// SetRelease sets the release time in seconds, clamped to [0.001, 3.0].
func (l *Limiter) SetRelease(seconds float32) {
	l.releaseS = clampf(seconds, 0.001, 3.0)
	l.updateCoefficients()
}

// SetMakeupGain sets the output makeup gain in dB, clamped to [0, 30].
func (l *Limiter) SetMakeupGain(db float32) {
	l.makeupDB = clampf(db, 0.0, 30.0)
}

func (l *Limiter) updateCoefficients() {
	l.attackCoef = float32(math.Exp(-1.0 / float64(l.sampleRate*l.attackS)))
	l.releaseCoef = float32(math.Exp(-1.0 / float64(l.sampleRate*l.releaseS)))
}

// ProcessSample runs one sample through the limiter.
func (l *Limiter) ProcessSample(input float32) float32 {
	thresholdLinear := dbToLinear(l.thresholdDB)

	inputAbs := input
	if inputAbs < 0 {
		inputAbs = -inputAbs
	}

	// Peak follower: snaps up at the attack rate, falls at the release rate.
	if inputAbs > l.envelope {
		l.envelope = l.attackCoef*(l.envelope-inputAbs) + inputAbs
	} else {
		l.envelope = l.releaseCoef*(l.envelope-inputAbs) + inputAbs
	}
	l.envelope = float32(dspcore.FlushDenormals(float64(l.envelope)))

	if l.envelope > thresholdLinear {
		l.gainReduction = thresholdLinear / l.envelope
	} else {
		l.gainReduction = 1.0
	}

	return input * l.gainReduction * dbToLinear(l.makeupDB)
}

// ProcessInPlace applies the limiter to buf in place.
func (l *Limiter) ProcessInPlace(buf []float32) {
	for i := range buf {
		buf[i] = l.ProcessSample(buf[i])
	}
}

// Reset clears the follower state.
func (l *Limiter) Reset() {
	l.envelope = 0
	l.gainReduction = 1.0
}

// GainReductionDB returns the current gain reduction in dB for metering.
func (l *Limiter) GainReductionDB() float32 {
	return 20.0 * float32(math.Log10(float64(l.gainReduction)))
}

func dbToLinear(db float32) float32 {
	return float32(math.Pow(10.0, float64(db)/20.0))
}
