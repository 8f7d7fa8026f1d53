package synth

import (
	"math"
	"testing"
)

func TestEnvelopeWalksThroughSegments(t *testing.T) {
	const sampleRate = 48000
	e := NewEnvelopeGenerator(0.01, 0.1, 0.7, 0.3, sampleRate)
	e.Trigger()
	if e.state != envAttack {
		t.Fatalf("expected attack after trigger, got state %d", e.state)
	}

	var peak float32
	var prev float32
	for i := 0; i < sampleRate/2; i++ {
		stateBefore := e.state
		v := e.ProcessSample()
		if stateBefore == envAttack && v < prev {
			t.Fatalf("attack fell at sample %d: %f -> %f", i, prev, v)
		}
		if stateBefore == envDecay && v > prev {
			t.Fatalf("decay rose at sample %d: %f -> %f", i, prev, v)
		}
		prev = v
		if v > peak {
			peak = v
		}
		if e.state == envSustain {
			break
		}
	}
	if peak < 0.99 {
		t.Fatalf("expected attack to reach full level: peak=%f", peak)
	}
	if e.state != envSustain {
		t.Fatalf("expected sustain after attack and decay, got state %d", e.state)
	}
	if math.Abs(float64(e.currentLevel-0.7)) > 1e-6 {
		t.Fatalf("expected decay to land on the sustain level: got=%f want=0.7", e.currentLevel)
	}
}

func TestEnvelopeInstantSegments(t *testing.T) {
	e := NewEnvelopeGenerator(0, 0, 0.5, 0, 48000)
	e.Trigger()

	if v := e.ProcessSample(); v != 1.0 {
		t.Fatalf("expected instant attack to hit full level on the first sample: got=%f", v)
	}
	if v := e.ProcessSample(); v != 0.5 {
		t.Fatalf("expected instant decay to land on the sustain level: got=%f", v)
	}

	e.Release()
	if v := e.ProcessSample(); v != 0 {
		t.Fatalf("expected instant release to silence the envelope: got=%f", v)
	}
	if e.IsActive() {
		t.Fatalf("expected idle envelope after instant release")
	}
}

func TestEnvelopeRetriggerKeepsLevel(t *testing.T) {
	const sampleRate = 48000
	e := NewEnvelopeGenerator(0.01, 0.1, 0.7, 0.3, sampleRate)
	e.Trigger()
	for i := 0; i < sampleRate && e.state != envSustain; i++ {
		e.ProcessSample()
	}
	if e.state != envSustain {
		t.Fatalf("envelope never reached sustain")
	}

	before := e.CurrentLevel()
	e.Trigger()
	if e.state != envAttack {
		t.Fatalf("expected retrigger to restart the attack")
	}
	if e.CurrentLevel() < before {
		t.Fatalf("retrigger must not reset the level: got=%f had=%f", e.CurrentLevel(), before)
	}
	if v := e.ProcessSample(); v < before {
		t.Fatalf("expected legato attack to continue upward from %f, got %f", before, v)
	}
}

func TestEnvelopeSustainDecaysToIdle(t *testing.T) {
	e := NewEnvelopeGenerator(0, 0, 1.0, 0.3, 48000)
	e.Trigger()
	e.ProcessSample()
	e.ProcessSample()
	if e.state != envSustain {
		t.Fatalf("expected sustain after instant attack and decay, got state %d", e.state)
	}

	e.SetSustainDecayRate(0.001)
	for i := 0; i < 1100 && e.IsActive(); i++ {
		e.ProcessSample()
	}
	if e.IsActive() {
		t.Fatalf("expected sustain decay to drain the envelope")
	}
	if v := e.ProcessSample(); v != 0 {
		t.Fatalf("expected silence after the sustain drained: got=%f", v)
	}
}

func TestEnvelopeReleaseHasTwoSlopes(t *testing.T) {
	const sampleRate = 48000
	e := NewEnvelopeGenerator(0, 0, 1.0, 0.5, sampleRate)
	e.Trigger()
	e.ProcessSample()
	e.ProcessSample()
	e.Release()

	// The relative per-sample decrement is releaseRate*factor, so the
	// high-level slope must come out exactly 2.5x the tail slope.
	var aboveFrac, belowFrac float64
	for i := 0; i < sampleRate*5; i++ {
		before := e.currentLevel
		e.ProcessSample()
		if !e.IsActive() {
			break
		}
		frac := float64(before-e.currentLevel) / float64(before)
		if aboveFrac == 0 && before > 0.2 {
			aboveFrac = frac
		}
		if belowFrac == 0 && before < 0.08 {
			belowFrac = frac
		}
		if aboveFrac != 0 && belowFrac != 0 {
			break
		}
	}
	if aboveFrac == 0 || belowFrac == 0 {
		t.Fatalf("release never sampled both slopes: above=%g below=%g", aboveFrac, belowFrac)
	}
	ratio := aboveFrac / belowFrac
	if math.Abs(ratio-2.5) > 0.05 {
		t.Fatalf("expected fast slope 2.5x the tail slope: got ratio=%f", ratio)
	}
}

func TestEnvelopeReleaseSnapsToIdleAtFloor(t *testing.T) {
	e := NewEnvelopeGenerator(0, 0, 1.0, 0.01, 48000)
	e.Trigger()
	e.ProcessSample()
	e.ProcessSample()
	e.Release()

	last := float32(1.0)
	for i := 0; i < 48000; i++ {
		v := e.ProcessSample()
		if !e.IsActive() {
			if v != 0 {
				t.Fatalf("expected exact zero when the release floor is crossed: got=%g", v)
			}
			if last > 0.01 {
				t.Fatalf("release should have decayed close to the floor before going idle: last=%g", last)
			}
			return
		}
		last = v
	}
	t.Fatalf("release never reached the floor")
}

func TestEnvelopeVelocityScalesOutput(t *testing.T) {
	full := NewEnvelopeGenerator(0, 0, 0.5, 0.3, 48000)
	half := NewEnvelopeGenerator(0, 0, 0.5, 0.3, 48000)
	half.SetVelocity(0.5)

	full.Trigger()
	half.Trigger()
	if f, h := full.ProcessSample(), half.ProcessSample(); h != f*0.5 {
		t.Fatalf("expected velocity to scale the output: full=%f half=%f", f, h)
	}
}

func TestEnvelopeIdleIsSilent(t *testing.T) {
	e := NewEnvelopeGenerator(0.01, 0.1, 0.7, 0.3, 48000)
	if e.IsActive() {
		t.Fatalf("fresh envelope must be idle")
	}
	if v := e.ProcessSample(); v != 0 {
		t.Fatalf("idle envelope must output zero: got=%f", v)
	}
}

func TestEnvelopeProcessMatchesPerSample(t *testing.T) {
	a := NewEnvelopeGenerator(0.01, 0.1, 0.7, 0.3, 48000)
	b := NewEnvelopeGenerator(0.01, 0.1, 0.7, 0.3, 48000)
	a.Trigger()
	b.Trigger()

	buf := make([]float32, 2048)
	a.Process(buf)
	for i := range buf {
		if want := b.ProcessSample(); buf[i] != want {
			t.Fatalf("sample %d: got=%f want=%f", i, buf[i], want)
		}
	}
}
