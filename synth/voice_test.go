package synth

import (
	"fmt"
	"math"
	"testing"
)

// TestPianoKeyTuning verifies equal-tempered tuning across the compass.
func TestPianoKeyTuning(t *testing.T) {
	tests := []struct {
		note         int
		expectedFreq float32
		tolerance    float32 // Hz
	}{
		{69, 440.0, 1.0},
		{60, 261.63, 1.0},
		{57, 220.0, 1.0},
		{21, 27.5, 0.5},
		{108, 4186.01, 17.0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Note%d", tt.note), func(t *testing.T) {
			key := NewPianoKey(tt.note)
			diff := math.Abs(float64(key.Frequency - tt.expectedFreq))
			if diff > float64(tt.tolerance) {
				t.Errorf("Note %d: expected %.2f Hz, got %.2f Hz (diff: %.2f Hz, tolerance: %.2f Hz)",
					tt.note, tt.expectedFreq, key.Frequency, diff, tt.tolerance)
			}
		})
	}
}

// TestVoicePitchAccuracy renders real voices and checks that the strongest
// spectral peak near the nominal pitch lands on it.
func TestVoicePitchAccuracy(t *testing.T) {
	const sampleRate = 48000
	const skip = 5760
	const window = 16384

	tests := []struct {
		note      int
		tolerance float64 // Hz
	}{
		{48, 4.0},
		{60, 4.0},
		{69, 4.0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Note%d", tt.note), func(t *testing.T) {
			v := NewVoice(sampleRate, NewDefaultParams())
			v.NoteOn(NewPianoKey(tt.note), 0.8)

			samples := make([]float32, skip+window)
			v.Process(samples)

			want := float64(v.key.Frequency)
			got := findPeakNear(samples[skip:], sampleRate, want, 30.0)
			if got == 0 {
				t.Fatalf("no spectral peak near %.1f Hz", want)
			}
			if diff := math.Abs(got - want); diff > tt.tolerance {
				t.Errorf("Note %d: expected %.2f Hz, got %.2f Hz (diff: %.2f Hz)", tt.note, want, got, diff)
			}
		})
	}
}

func TestVoiceVelocityControlsLoudness(t *testing.T) {
	const sampleRate = 48000

	soft := NewVoice(sampleRate, NewDefaultParams())
	soft.NoteOn(NewPianoKey(60), 0.2)
	loud := NewVoice(sampleRate, NewDefaultParams())
	loud.NoteOn(NewPianoKey(60), 1.0)

	s := make([]float32, 9600)
	l := make([]float32, 9600)
	soft.Process(s)
	loud.Process(l)

	softRMS := windowRMS(s)
	loudRMS := windowRMS(l)
	if loudRMS <= softRMS*1.5 {
		t.Fatalf("expected velocity to scale loudness: soft=%g loud=%g", softRMS, loudRMS)
	}
}

func TestVoiceBrightnessRaisesSpectralCentroid(t *testing.T) {
	const sampleRate = 48000

	darkParams := NewDefaultParams()
	darkParams.Brightness = 0.1
	brightParams := NewDefaultParams()
	brightParams.Brightness = 1.0

	dark := NewVoice(sampleRate, darkParams)
	bright := NewVoice(sampleRate, brightParams)
	dark.NoteOn(NewPianoKey(60), 0.9)
	bright.NoteOn(NewPianoKey(60), 0.9)

	d := make([]float32, 12288)
	b := make([]float32, 12288)
	dark.Process(d)
	bright.Process(b)

	darkCentroid := spectralCentroid(d[4096:], sampleRate, 2048)
	brightCentroid := spectralCentroid(b[4096:], sampleRate, 2048)
	if brightCentroid <= darkCentroid {
		t.Fatalf("expected brighter voice to carry more treble: bright=%.1f Hz dark=%.1f Hz", brightCentroid, darkCentroid)
	}
}

// TestVoiceGatesPartialsAboveNyquist plays a high note at a low sample rate
// so the upper half of the oscillator bank folds past Nyquist.
func TestVoiceGatesPartialsAboveNyquist(t *testing.T) {
	const sampleRate = 16000

	v := NewVoice(sampleRate, NewDefaultParams())
	v.NoteOn(NewPianoKey(96), 0.9)

	wantGates := [numPartials]float32{1, 1, 1, 0, 0, 0, 0, 0}
	if v.partialGate != wantGates {
		t.Fatalf("expected gates %v for note 96 at %d Hz, got %v", wantGates, sampleRate, v.partialGate)
	}

	model := InharmonicityForNote(96)
	nyquist := float32(0.5 * sampleRate)
	for i := 0; i < numPartials; i++ {
		freq := model.PartialFrequency(v.key.Frequency, i+1)
		audible := i == 0 || freq < nyquist
		if audible && v.partialGate[i] != 1 {
			t.Fatalf("partial %d at %.0f Hz should sound", i+1, freq)
		}
		if !audible && v.partialGate[i] != 0 {
			t.Fatalf("partial %d at %.0f Hz should be gated", i+1, freq)
		}
	}

	out := make([]float32, 4096)
	v.Process(out)
	for i, s := range out {
		if !isFinite(s) {
			t.Fatalf("non-finite sample at %d: %v", i, s)
		}
	}
}

func TestVoiceSustainDecayScalesWithPitchAndVelocity(t *testing.T) {
	const sampleRate = 48000

	low := NewVoice(sampleRate, NewDefaultParams())
	low.NoteOn(NewPianoKey(33), 0.8)
	high := NewVoice(sampleRate, NewDefaultParams())
	high.NoteOn(NewPianoKey(69), 0.8)
	if high.envelope.sustainDecayRate <= low.envelope.sustainDecayRate {
		t.Fatalf("expected high notes to decay faster: high=%g low=%g",
			high.envelope.sustainDecayRate, low.envelope.sustainDecayRate)
	}

	soft := NewVoice(sampleRate, NewDefaultParams())
	soft.NoteOn(NewPianoKey(60), 0.2)
	hard := NewVoice(sampleRate, NewDefaultParams())
	hard.NoteOn(NewPianoKey(60), 1.0)
	if hard.envelope.sustainDecayRate >= soft.envelope.sustainDecayRate {
		t.Fatalf("expected hard strikes to ring longer: hard=%g soft=%g",
			hard.envelope.sustainDecayRate, soft.envelope.sustainDecayRate)
	}
}

func TestVoiceRetriggerIsLegato(t *testing.T) {
	const sampleRate = 48000

	v := NewVoice(sampleRate, NewDefaultParams())
	v.NoteOn(NewPianoKey(60), 0.9)
	buf := make([]float32, 9600)
	v.Process(buf)

	before := v.envelope.CurrentLevel()
	if before <= 0 {
		t.Fatalf("voice should still be sounding")
	}

	v.NoteOn(NewPianoKey(64), 0.9)
	if v.envelope.CurrentLevel() < before {
		t.Fatalf("retrigger must not reset the envelope: got=%f had=%f", v.envelope.CurrentLevel(), before)
	}
	if v.key.MidiNote != 64 {
		t.Fatalf("expected the voice to adopt the new key, got note %d", v.key.MidiNote)
	}
	if v.attackPhase != 0 {
		t.Fatalf("expected a fresh hammer transient on retrigger")
	}
}

func TestVoiceFallsSilentAfterRelease(t *testing.T) {
	const sampleRate = 48000

	v := NewVoice(sampleRate, NewDefaultParams())
	if v.ProcessSample() != 0 {
		t.Fatalf("idle voice must be silent")
	}

	v.NoteOn(NewPianoKey(60), 0.9)
	buf := make([]float32, 4800)
	v.Process(buf)
	if windowRMS(buf) == 0 {
		t.Fatalf("voice produced no sound")
	}

	v.NoteOff()
	for i := 0; i < sampleRate*10 && v.IsActive(); i++ {
		v.ProcessSample()
	}
	if v.IsActive() {
		t.Fatalf("voice still active 10 s after release")
	}
	if v.ProcessSample() != 0 {
		t.Fatalf("released voice must output zero")
	}
}
