package effects

import (
	"math"
	"testing"
)

func TestLimiterBelowThresholdIsTransparent(t *testing.T) {
	l := NewLimiter(48000)
	for i := 0; i < 4800; i++ {
		in := float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/48000))
		if out := l.ProcessSample(in); out != in {
			t.Fatalf("sample %d altered: in=%v out=%v", i, in, out)
		}
	}
}

func TestLimiterCapsSustainedLoudInput(t *testing.T) {
	const sampleRate = 48000
	l := NewLimiter(sampleRate)
	l.SetThreshold(-6)
	threshold := dbToLinear(-6)

	var out float32
	for i := 0; i < sampleRate; i++ {
		out = l.ProcessSample(1.0)
	}
	if math.Abs(float64(out-threshold)) > 0.01 {
		t.Fatalf("expected the tone held at the threshold: got=%f want=%f", out, threshold)
	}
	if db := l.GainReductionDB(); db > -5.9 || db < -6.1 {
		t.Fatalf("expected about -6 dB of gain reduction, got %.2f dB", db)
	}
}

func TestLimiterAttackFasterThanRelease(t *testing.T) {
	const sampleRate = 48000
	l := NewLimiter(sampleRate)
	l.SetThreshold(-6)

	attackSamples := 0
	for l.GainReductionDB() > -3 {
		l.ProcessSample(1.0)
		attackSamples++
		if attackSamples > sampleRate {
			t.Fatalf("limiter never reached -3 dB of reduction")
		}
	}

	// Park the follower at full reduction, then feed silence-adjacent
	// material and watch it let go.
	for i := 0; i < sampleRate/4; i++ {
		l.ProcessSample(1.0)
	}
	releaseSamples := 0
	for l.GainReductionDB() < -3 {
		l.ProcessSample(0.05)
		releaseSamples++
		if releaseSamples > sampleRate {
			t.Fatalf("limiter never recovered")
		}
	}

	if releaseSamples < attackSamples*2 {
		t.Fatalf("expected release slower than attack: attack=%d release=%d", attackSamples, releaseSamples)
	}
}

func TestLimiterMakeupGainScalesOutput(t *testing.T) {
	l := NewLimiter(48000)
	l.SetMakeupGain(6)

	in := float32(0.1)
	want := in * dbToLinear(6)
	if got := l.ProcessSample(in); got != want {
		t.Fatalf("expected makeup gain applied: got=%f want=%f", got, want)
	}
}

func TestLimiterClampsParameters(t *testing.T) {
	l := NewLimiter(48000)

	l.SetThreshold(-100)
	if l.thresholdDB != -60 {
		t.Fatalf("threshold not clamped low: %f", l.thresholdDB)
	}
	l.SetThreshold(10)
	if l.thresholdDB != 0 {
		t.Fatalf("threshold not clamped high: %f", l.thresholdDB)
	}
	l.SetAttack(0)
	if l.attackS != 0.001 {
		t.Fatalf("attack not clamped low: %f", l.attackS)
	}
	l.SetAttack(5)
	if l.attackS != 1.0 {
		t.Fatalf("attack not clamped high: %f", l.attackS)
	}
	l.SetRelease(0)
	if l.releaseS != 0.001 {
		t.Fatalf("release not clamped low: %f", l.releaseS)
	}
	l.SetRelease(10)
	if l.releaseS != 3.0 {
		t.Fatalf("release not clamped high: %f", l.releaseS)
	}
	l.SetMakeupGain(-5)
	if l.makeupDB != 0 {
		t.Fatalf("makeup not clamped low: %f", l.makeupDB)
	}
	l.SetMakeupGain(99)
	if l.makeupDB != 30 {
		t.Fatalf("makeup not clamped high: %f", l.makeupDB)
	}
}

func TestLimiterResetClearsFollower(t *testing.T) {
	l := NewLimiter(48000)
	for i := 0; i < 4800; i++ {
		l.ProcessSample(1.0)
	}
	if l.GainReductionDB() >= -2 {
		t.Fatalf("expected gain reduction while driven hot, got %.2f dB", l.GainReductionDB())
	}

	l.Reset()
	if db := l.GainReductionDB(); db != 0 {
		t.Fatalf("expected unity gain after reset, got %f dB", db)
	}
	if l.envelope != 0 {
		t.Fatalf("follower state not cleared: %f", l.envelope)
	}
}

func TestLimiterProcessInPlaceMatchesPerSample(t *testing.T) {
	a := NewLimiter(48000)
	b := NewLimiter(48000)

	buf := make([]float32, 4096)
	in := make([]float32, len(buf))
	for i := range in {
		in[i] = 0.9 * float32(math.Sin(2*math.Pi*110*float64(i)/48000))
		buf[i] = in[i]
	}

	a.ProcessInPlace(buf)
	for i := range buf {
		if want := b.ProcessSample(in[i]); buf[i] != want {
			t.Fatalf("sample %d: got=%f want=%f", i, buf[i], want)
		}
	}
}
