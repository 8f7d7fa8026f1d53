// Package roomir synthesizes stereo room impulse responses offline. The
// low-frequency foundation is a set of axial room modes derived from the
// eigenspectrum of the 1D Laplacian along each room dimension; on top sit
// a randomized early reflection cluster and a filtered-noise diffuse tail
// with frequency-dependent decay.
package roomir

import (
	"fmt"
	"math"
	"math/rand"

	pdefd "github.com/cwbudde/algo-pde/fd"
	pdepoisson "github.com/cwbudde/algo-pde/poisson"
)

// Speed of sound in air at room temperature, m/s.
const speedOfSound = 343.0

// Config controls room IR generation.
type Config struct {
	SampleRate int
	DurationS  float64 // Typically 0.3-2.0s
	Seed       int64

	// Room geometry in meters. The axial mode series of each dimension is
	// computed from the discrete Laplacian eigenvalues on that interval.
	RoomDims     [3]float64
	ModesPerAxis int // Lowest modes kept per dimension (typically 8-24)
	GridPoints   int // Eigensolve resolution per dimension

	ModeLevel   float64
	EarlyCount  int
	LateLevel   float64
	StereoWidth float64
	Brightness  float64
	LowDecayS   float64
	HighDecayS  float64
	FadeOutS    float64 // Cosine fade-out at the end; 0 = no fade

	NormalizePeak float64
}

// DefaultConfig returns sensible defaults for a medium listening room.
func DefaultConfig() Config {
	return Config{
		SampleRate:    96000,
		DurationS:     1.0,
		Seed:          1,
		RoomDims:      [3]float64{7.2, 5.4, 3.1},
		ModesPerAxis:  12,
		GridPoints:    256,
		ModeLevel:     0.5,
		EarlyCount:    24,
		LateLevel:     0.06,
		StereoWidth:   0.6,
		Brightness:    0.8,
		LowDecayS:     1.2,
		HighDecayS:    0.2,
		FadeOutS:      0.01,
		NormalizePeak: 0.9,
	}
}

func (c *Config) Validate() error {
	if c.SampleRate < 8000 {
		return fmt.Errorf("sample rate too low: %d", c.SampleRate)
	}
	if c.DurationS <= 0 {
		return fmt.Errorf("duration must be > 0")
	}
	for i, d := range c.RoomDims {
		if d <= 0 {
			return fmt.Errorf("room dimension %d must be > 0", i)
		}
	}
	if c.ModesPerAxis < 1 {
		return fmt.Errorf("modes per axis must be >= 1")
	}
	if c.GridPoints < c.ModesPerAxis {
		return fmt.Errorf("grid points must be >= modes per axis")
	}
	if c.ModeLevel < 0 {
		return fmt.Errorf("mode level must be >= 0")
	}
	if c.EarlyCount < 0 {
		return fmt.Errorf("early count must be >= 0")
	}
	if c.LateLevel < 0 {
		return fmt.Errorf("late level must be >= 0")
	}
	if c.StereoWidth < 0 {
		return fmt.Errorf("stereo width must be >= 0")
	}
	if c.Brightness <= 0 {
		return fmt.Errorf("brightness must be > 0")
	}
	if c.LowDecayS <= 0 || c.HighDecayS <= 0 {
		return fmt.Errorf("decay seconds must be > 0")
	}
	if c.NormalizePeak <= 0 {
		return fmt.Errorf("normalize peak must be > 0")
	}
	return nil
}

// AxialModeFreqs returns the lowest modal frequencies of a room dimension,
// derived from the Dirichlet eigenvalues of the 1D Laplacian discretized
// with gridPoints interior points: f = c*sqrt(lambda)/(2*pi). For small
// mode numbers this reproduces the textbook series f_k = c*k/(2L); the
// discretization slightly flattens the upper end of the series.
func AxialModeFreqs(lengthM float64, modes, gridPoints int) []float64 {
	if lengthM <= 0 || modes < 1 || gridPoints < modes {
		return nil
	}
	h := lengthM / float64(gridPoints+1)
	lambda := pdefd.Eigenvalues(gridPoints, h, pdepoisson.Dirichlet)

	freqs := make([]float64, 0, modes)
	for _, l := range lambda {
		if len(freqs) == modes {
			break
		}
		if l <= 0 {
			continue
		}
		freqs = append(freqs, speedOfSound*math.Sqrt(l)/(2.0*math.Pi))
	}
	return freqs
}

// Generate synthesizes a stereo room IR according to cfg.
func Generate(cfg Config) ([]float32, []float32, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	n := int(math.Round(cfg.DurationS * float64(cfg.SampleRate)))
	if n < 1 {
		n = 1
	}
	left := make([]float64, n)
	right := make([]float64, n)

	rng := rand.New(rand.NewSource(cfg.Seed))

	maxF := 0.47 * float64(cfg.SampleRate)
	if maxF < 500.0 {
		maxF = 500.0
	}
	minF := 35.0
	if minF >= maxF {
		minF = maxF * 0.5
	}

	// Axial room modes. Frequencies are physical (eigensolve per
	// dimension); RNG only jitters amplitude, phase, and pan.
	if cfg.ModeLevel > 0 {
		brightnessExp := 0.7 + 0.9*cfg.Brightness
		for _, dim := range cfg.RoomDims {
			for _, f := range AxialModeFreqs(dim, cfg.ModesPerAxis, cfg.GridPoints) {
				if f < minF || f > maxF {
					continue
				}
				amp := cfg.ModeLevel * 0.9 / math.Pow(1.0+f/120.0, brightnessExp)
				amp *= 0.7 + 0.6*rng.Float64()

				tau := lerp(cfg.LowDecayS, cfg.HighDecayS, math.Sqrt(f/maxF))
				decay := math.Exp(-1.0 / (tau * float64(cfg.SampleRate)))

				pan := (rng.Float64()*2.0 - 1.0) * cfg.StereoWidth
				lGain := 1.0 - 0.45*pan
				rGain := 1.0 + 0.45*pan
				fSkew := 0.004 * pan
				phi := rng.Float64() * 2.0 * math.Pi
				addModeRec(left, amp*lGain, f*(1.0-fSkew), phi, decay, cfg.SampleRate)
				addModeRec(right, amp*rGain, f*(1.0+fSkew), phi+0.01*pan, decay, cfg.SampleRate)
			}
		}
	}

	// Early reflections (stereo, 1-50ms range).
	for i := 0; i < cfg.EarlyCount; i++ {
		t := 0.001 + 0.049*rng.Float64()
		idx := int(t * float64(cfg.SampleRate))
		if idx <= 0 || idx >= n {
			continue
		}
		amp := (0.10 + 0.35*rng.Float64()) * math.Exp(-t*20.0)
		// Brightness rolloff: dampen high-frequency reflections via simple attenuation.
		amp *= math.Pow(0.5+0.5*rng.Float64(), 1.0/cfg.Brightness)
		pan := (rng.Float64()*2.0 - 1.0) * cfg.StereoWidth
		left[idx] += amp * (1.0 - 0.5*pan)
		right[idx] += amp * (1.0 + 0.5*pan)
	}

	// Diffuse late tail (stereo, frequency-dependent decay).
	if cfg.LateLevel > 0 {
		lpL, lpR := 0.0, 0.0
		hpL, hpR := 0.0, 0.0
		for i := 0; i < n; i++ {
			t := float64(i) / float64(cfg.SampleRate)
			lowEnv := math.Exp(-t / (0.75 * cfg.LowDecayS))
			highEnv := math.Exp(-t / (0.75 * cfg.HighDecayS))

			nL := rng.NormFloat64()
			nR := rng.NormFloat64()

			// Low-pass filtered noise.
			lpL = 0.985*lpL + 0.015*nL
			lpR = 0.985*lpR + 0.015*nR

			// High-pass filtered noise (for air/brightness).
			hpL = 0.15*nL - 0.15*hpL
			hpR = 0.15*nR - 0.15*hpR

			brightnessScale := 0.3 * (cfg.Brightness - 0.3)
			if brightnessScale < 0 {
				brightnessScale = 0
			}
			left[i] += cfg.LateLevel * (lowEnv*lpL + brightnessScale*highEnv*hpL)
			right[i] += cfg.LateLevel * (lowEnv*lpR + brightnessScale*highEnv*hpR)
		}
	}

	// Remove tiny DC drift.
	highpassDC(left, 0.995)
	highpassDC(right, 0.995)
	applyFadeOut(left, cfg.FadeOutS, cfg.SampleRate)
	applyFadeOut(right, cfg.FadeOutS, cfg.SampleRate)

	// Normalize.
	peak := maxAbs(left)
	if rp := maxAbs(right); rp > peak {
		peak = rp
	}
	if peak < 1e-12 {
		peak = 1e-12
	}
	s := cfg.NormalizePeak / peak
	outL := make([]float32, n)
	outR := make([]float32, n)
	for i := 0; i < n; i++ {
		outL[i] = float32(left[i] * s)
		outR[i] = float32(right[i] * s)
	}
	return outL, outR, nil
}

// addModeRec accumulates a decaying cosine mode into out using the 2-pole
// resonator recurrence, avoiding per-sample trig.
func addModeRec(out []float64, amp float64, freq float64, phase float64, decay float64, sampleRate int) {
	if len(out) == 0 {
		return
	}
	w := 2.0 * math.Pi * freq / float64(sampleRate)
	cw := math.Cos(w)
	x0 := math.Cos(phase)
	x1 := math.Cos(phase + w)
	env := 1.0

	out[0] += amp * env * x0
	env *= decay
	if len(out) == 1 {
		return
	}
	out[1] += amp * env * x1
	env *= decay
	for i := 2; i < len(out); i++ {
		x2 := 2.0*cw*x1 - x0
		x0 = x1
		x1 = x2
		out[i] += amp * env * x2
		env *= decay
	}
}

func highpassDC(x []float64, r float64) {
	if len(x) == 0 {
		return
	}
	prevIn := 0.0
	prevOut := 0.0
	for i := range x {
		y := x[i] - prevIn + r*prevOut
		prevIn = x[i]
		prevOut = y
		x[i] = y
	}
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		a := math.Abs(v)
		if a > m {
			m = a
		}
	}
	return m
}

// applyFadeOut applies a cosine fade-out to the last fadeS seconds of buf.
func applyFadeOut(buf []float64, fadeS float64, sampleRate int) {
	if fadeS <= 0 || len(buf) == 0 {
		return
	}
	fadeSamples := int(math.Round(fadeS * float64(sampleRate)))
	if fadeSamples > len(buf) {
		fadeSamples = len(buf)
	}
	start := len(buf) - fadeSamples
	for i := 0; i < fadeSamples; i++ {
		t := float64(i) / float64(fadeSamples) // 0..1
		gain := 0.5 * (1.0 + math.Cos(t*math.Pi))
		buf[start+i] *= gain
	}
}

func lerp(a, b, t float64) float64 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return a + (b-a)*t
}
