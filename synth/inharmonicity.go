package synth

import "math"

// Piano compass spanned by the string scaling model (A0..C8).
const (
	midiNoteMin = 21
	midiNoteMax = 108
)

// Inharmonicity models the stiffness-induced sharpening of piano string
// partials. Real strings produce overtones slightly above integer multiples
// of the fundamental; the deviation grows with the square of the partial
// number and is strongest for short, thick, slack strings.
type Inharmonicity struct {
	coefficient float32
}

// NewInharmonicity derives the coefficient B = pi^3 d^4 E / (64 T L^2) from
// physical string parameters: core diameter and speaking length in meters,
// tension in newtons. E is the Young's modulus of steel wire (200 GPa).
func NewInharmonicity(diameter, length, tension float32) Inharmonicity {
	const youngsModulusSteel = 2e11

	d := float64(diameter)
	l := float64(length)
	t := float64(tension)
	num := math.Pi * math.Pi * math.Pi * d * d * d * d * youngsModulusSteel
	den := 64.0 * t * l * l
	return Inharmonicity{coefficient: float32(num / den)}
}

// InharmonicityFromCoefficient wraps a precomputed coefficient B.
func InharmonicityFromCoefficient(b float32) Inharmonicity {
	return Inharmonicity{coefficient: b}
}

// Coefficient returns the inharmonicity coefficient B.
func (m Inharmonicity) Coefficient() float32 {
	return m.coefficient
}

// PartialFrequency returns the frequency of partial n for a string with the
// given fundamental, following f_n = n f0 sqrt(1 + B n^2). The first partial
// is always exactly the fundamental.
func (m Inharmonicity) PartialFrequency(fundamental float32, n int) float32 {
	if n <= 1 {
		return fundamental
	}
	nf := float32(n)
	factor := float32(math.Sqrt(float64(1.0 + m.coefficient*nf*nf)))
	return nf * fundamental * factor
}

// StringParams holds the physical parameters of a piano string.
type StringParams struct {
	Diameter float32 // meters
	Length   float32 // meters
	Tension  float32 // newtons
}

// StringParamsForNote approximates grand piano string scaling for a MIDI
// note. Length and diameter shrink from bass to treble while tension rises;
// wound bass strings get an effective stiffness boost from the copper
// winding mass.
func StringParamsForNote(note int) StringParams {
	if note < midiNoteMin {
		note = midiNoteMin
	}
	if note > midiNoteMax {
		note = midiNoteMax
	}
	ratio := float32(note-midiNoteMin) / float32(midiNoteMax-midiNoteMin)

	length := 2.0 * (1.0 - 0.95*ratio)
	diameter := (1.0 - 0.47*ratio) * 0.001
	if ratio < 0.3 {
		diameter *= 1.5
	}
	tension := 100.0 + 100.0*ratio

	return StringParams{
		Diameter: diameter,
		Length:   length,
		Tension:  tension,
	}
}

// InharmonicityForNote builds the per-note partial model used at note on.
func InharmonicityForNote(note int) Inharmonicity {
	p := StringParamsForNote(note)
	return NewInharmonicity(p.Diameter, p.Length, p.Tension)
}
