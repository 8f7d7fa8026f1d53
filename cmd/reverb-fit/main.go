package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dspconv "github.com/cwbudde/algo-dsp/dsp/conv"
	"github.com/cwbudde/algo-synth/analysis"
	"github.com/cwbudde/algo-synth/internal/wavio"
	"github.com/cwbudde/algo-synth/roomir"
	"github.com/cwbudde/algo-synth/synth"
	"github.com/cwbudde/mayfly"
)

type knobDef struct {
	Name string
	Min  float64
	Max  float64
}

type candidate struct {
	Vals []float64
}

type topCandidate struct {
	Eval       int                `json:"eval"`
	Score      float64            `json:"score"`
	Similarity float64            `json:"similarity"`
	Knobs      map[string]float64 `json:"knobs"`
}

type runReport struct {
	ReferencePath   string             `json:"reference_path"`
	OutputWAV       string             `json:"output_wav"`
	OutputKnobs     string             `json:"output_knobs"`
	SampleRate      int                `json:"sample_rate"`
	Note            int                `json:"note"`
	Velocity        int                `json:"velocity"`
	ReleaseAfterSec float64            `json:"release_after_seconds"`
	DurationSec     float64            `json:"elapsed_seconds"`
	Evaluations     int                `json:"evaluations"`
	MayflyVariant   string             `json:"mayfly_variant"`
	BestScore       float64            `json:"best_score"`
	BestSimilarity  float64            `json:"best_similarity"`
	BestMetrics     analysis.Metrics   `json:"best_metrics"`
	BestKnobs       map[string]float64 `json:"best_knobs"`
	CheckpointCount int                `json:"checkpoint_count"`
	TopCandidates   []topCandidate     `json:"top_candidates,omitempty"`
}

func main() {
	referencePath := flag.String("reference", "", "Reference WAV path (empty = synthesize one from a generated room IR)")
	outputWAV := flag.String("output", "out/reverb-fit/fitted.wav", "Path to write the best candidate render")
	outputKnobs := flag.String("output-knobs", "out/reverb-fit/fitted-knobs.json", "Path to write best knob values JSON")
	reportPath := flag.String("report", "", "Optional report JSON path (default: <output-knobs>.report.json)")
	workDir := flag.String("work-dir", "out/reverb-fit", "Directory for intermediate files")
	note := flag.Int("note", 60, "MIDI note to fit")
	velocity := flag.Int("velocity", 110, "MIDI velocity for rendering during fit")
	releaseAfter := flag.Float64("release-after", 0.5, "Seconds before NoteOff for each evaluation render")
	sampleRate := flag.Int("sample-rate", 48000, "Render/analysis sample rate")
	seed := flag.Int64("seed", 1, "Random seed")
	timeBudget := flag.Float64("time-budget", 60.0, "Optimization time budget in seconds")
	maxEvals := flag.Int("max-evals", 4000, "Maximum objective evaluations")
	reportEvery := flag.Int("report-every", 20, "Print progress every N evaluations")
	checkpointEvery := flag.Int("checkpoint-every", 1, "Write checkpoint every N best-score improvements")
	decayDBFS := flag.Float64("decay-dbfs", -90.0, "Auto-stop threshold in dBFS")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks for stop")
	minDuration := flag.Float64("min-duration", 1.0, "Minimum render duration in seconds")
	maxDuration := flag.Float64("max-duration", 12.0, "Maximum render duration in seconds")
	irDuration := flag.Float64("ir-duration", 1.2, "Synthesized room IR length in seconds")
	refWet := flag.Float64("ref-wet", 0.8, "Convolved level in the synthesized reference")
	refDry := flag.Float64("ref-dry", 0.5, "Direct level in the synthesized reference")
	topK := flag.Int("top-k", 5, "How many top candidates to keep in report")
	resume := flag.Bool("resume", true, "Resume from previous best_knobs report when available")
	resumeReport := flag.String("resume-report", "", "Optional report JSON path to resume from (default: current report path)")

	mayflyVariant := flag.String("mayfly-variant", "desma", "Mayfly variant: ma|desma|olce|eobbma|gsasma|mpma|aoblmoa")
	mayflyPop := flag.Int("mayfly-pop", 10, "Male and female population size per Mayfly run")
	mayflyRoundEvals := flag.Int("mayfly-round-evals", 240, "Target eval budget per Mayfly round")
	flag.Parse()

	if *outputWAV == "" {
		die("output must not be empty")
	}
	if *outputKnobs == "" {
		die("output-knobs must not be empty")
	}
	if *maxEvals < 1 {
		die("max-evals must be >= 1")
	}
	if *timeBudget <= 0 {
		die("time-budget must be > 0")
	}
	if *releaseAfter < 0.05 {
		*releaseAfter = 0.05
	}
	if *reportEvery < 1 {
		*reportEvery = 1
	}
	if *checkpointEvery < 1 {
		*checkpointEvery = 1
	}
	if *mayflyPop < 2 {
		*mayflyPop = 2
	}
	if *mayflyRoundEvals < *mayflyPop*2 {
		*mayflyRoundEvals = *mayflyPop * 2
	}
	if *topK < 1 {
		*topK = 1
	}

	if err := os.MkdirAll(*workDir, 0o755); err != nil {
		die("failed to create work-dir: %v", err)
	}

	defs, initCand := initCandidate()

	var ref []float64
	referenceLabel := *referencePath
	if *referencePath != "" {
		mono, refSR, err := wavio.ReadWAVMono(*referencePath)
		if err != nil {
			die("failed to read reference: %v", err)
		}
		ref, err = wavio.ResampleIfNeeded(mono, refSR, *sampleRate)
		if err != nil {
			die("failed to resample reference: %v", err)
		}
	} else {
		var err error
		ref, err = synthesizeReference(
			defs,
			*note,
			*velocity,
			*sampleRate,
			*seed,
			*irDuration,
			*refWet,
			*refDry,
			*decayDBFS,
			*decayHoldBlocks,
			*minDuration,
			*maxDuration,
			*releaseAfter,
			*workDir,
		)
		if err != nil {
			die("failed to synthesize reference: %v", err)
		}
		referenceLabel = filepath.Join(*workDir, "reference_synthesized.wav")
		fmt.Printf("Synthesized reference (%d frames) written to %s\n", len(ref), referenceLabel)
	}

	if *resume {
		resumePath := *resumeReport
		if resumePath == "" {
			if *reportPath != "" {
				resumePath = *reportPath
			} else {
				resumePath = *outputKnobs + ".report.json"
			}
		}
		if resumed, ok, err := loadCandidateFromReport(resumePath, defs, initCand); err != nil {
			fmt.Fprintf(os.Stderr, "resume skipped (%s): %v\n", resumePath, err)
		} else if ok {
			initCand = resumed
			fmt.Printf("Resumed candidate from %s\n", resumePath)
		}
	}

	evaluate := func(c candidate) (analysis.Metrics, []float32, error) {
		mono, err := renderMono(
			defs,
			c,
			*note,
			*velocity,
			*sampleRate,
			*decayDBFS,
			*decayHoldBlocks,
			*minDuration,
			*maxDuration,
			*releaseAfter,
		)
		if err != nil {
			return analysis.Metrics{}, nil, err
		}
		return analysis.Compare(ref, monoTo64(mono), *sampleRate), mono, nil
	}

	start := time.Now()
	deadline := start.Add(time.Duration(*timeBudget * float64(time.Second)))
	evals := 0
	bestImproves := 0
	checkpoints := 0
	top := make([]topCandidate, 0, *topK)

	best := initCand
	bestM, bestRender, err := evaluate(best)
	if err != nil {
		die("initial evaluation failed: %v", err)
	}
	evals++
	top = updateTopCandidates(top, *topK, evals, bestM, defs, best)
	fmt.Printf("Start score=%.4f similarity=%.2f%%\n", bestM.Score, bestM.Similarity*100.0)

	if _, err := os.Stat(*outputWAV); err != nil && errors.Is(err, os.ErrNotExist) {
		if err := writeOutputs(
			*outputWAV,
			*outputKnobs,
			*reportPath,
			referenceLabel,
			*sampleRate,
			*note,
			*velocity,
			*releaseAfter,
			time.Since(start).Seconds(),
			evals,
			strings.ToLower(*mayflyVariant),
			defs,
			best,
			bestM,
			bestRender,
			checkpoints,
			top,
		); err != nil {
			fmt.Fprintf(os.Stderr, "initial write failed: %v\n", err)
		}
	}

	round := 0
	for evals < *maxEvals && time.Now().Before(deadline) {
		round++
		remaining := *maxEvals - evals
		budget := minInt(*mayflyRoundEvals, remaining)
		iters := maxInt(1, budget/(2*(*mayflyPop)))

		cfg, err := newMayflyConfig(strings.ToLower(*mayflyVariant), *mayflyPop, len(defs), iters)
		if err != nil {
			die("invalid mayfly variant: %v", err)
		}
		cfg.Rand = rand.New(rand.NewSource(*seed + int64(round)*7919))

		cfg.ObjectiveFunc = func(pos []float64) float64 {
			if evals >= *maxEvals || time.Now().After(deadline) {
				return bestM.Score + 1.0
			}
			cand := fromNormalized(pos, defs)
			m, render, err := evaluate(cand)
			evals++
			if err != nil {
				return bestM.Score + 0.8
			}

			top = updateTopCandidates(top, *topK, evals, m, defs, cand)

			if m.Score < bestM.Score {
				best = cand
				bestM = m
				bestRender = append(bestRender[:0], render...)
				bestImproves++
				fmt.Printf("Improved #%d eval=%d score=%.4f sim=%.2f%%\n", bestImproves, evals, bestM.Score, bestM.Similarity*100.0)
				if bestImproves%*checkpointEvery == 0 {
					if err := writeOutputs(
						*outputWAV,
						*outputKnobs,
						*reportPath,
						referenceLabel,
						*sampleRate,
						*note,
						*velocity,
						*releaseAfter,
						time.Since(start).Seconds(),
						evals,
						strings.ToLower(*mayflyVariant),
						defs,
						best,
						bestM,
						bestRender,
						checkpoints+1,
						top,
					); err != nil {
						fmt.Fprintf(os.Stderr, "checkpoint write failed: %v\n", err)
					} else {
						checkpoints++
					}
				}
			}

			if evals%*reportEvery == 0 {
				fmt.Printf("Progress round=%d eval=%d elapsed=%.1fs best=%.4f\n", round, evals, time.Since(start).Seconds(), bestM.Score)
			}
			return m.Score
		}

		if _, err := runMayfly(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "mayfly round %d failed: %v\n", round, err)
			continue
		}
	}

	elapsed := time.Since(start).Seconds()
	if err := writeOutputs(
		*outputWAV,
		*outputKnobs,
		*reportPath,
		referenceLabel,
		*sampleRate,
		*note,
		*velocity,
		*releaseAfter,
		elapsed,
		evals,
		strings.ToLower(*mayflyVariant),
		defs,
		best,
		bestM,
		bestRender,
		checkpoints,
		top,
	); err != nil {
		die("failed to write outputs: %v", err)
	}

	fmt.Printf("Done evals=%d elapsed=%.1fs best_score=%.4f best_similarity=%.2f%% variant=%s\n", evals, elapsed, bestM.Score, bestM.Similarity*100.0, strings.ToLower(*mayflyVariant))
}

func initCandidate() ([]knobDef, candidate) {
	defs := []knobDef{
		{Name: "room_size", Min: 0.0, Max: 1.0},
		{Name: "damping", Min: 0.0, Max: 1.0},
		{Name: "wet_level", Min: 0.0, Max: 1.0},
		{Name: "dry_level", Min: 0.0, Max: 1.0},
		{Name: "limiter_threshold_db", Min: -24.0, Max: 0.0},
		{Name: "limiter_makeup_db", Min: 0.0, Max: 12.0},
	}
	vals := []float64{0.5, 0.5, 0.33, 0.4, -3.0, 0.0}
	for i := range vals {
		vals[i] = clamp(vals[i], defs[i].Min, defs[i].Max)
	}
	return defs, candidate{Vals: vals}
}

func applyKnobs(s *synth.PianoSynth, defs []knobDef, c candidate) {
	for i, def := range defs {
		v := float32(c.Vals[i])
		switch def.Name {
		case "room_size":
			s.Reverb().SetRoomSize(v)
		case "damping":
			s.Reverb().SetDamping(v)
		case "wet_level":
			s.Reverb().SetWetLevel(v)
		case "dry_level":
			s.Reverb().SetDryLevel(v)
		case "limiter_threshold_db":
			s.Limiter().SetThreshold(v)
		case "limiter_makeup_db":
			s.Limiter().SetMakeupGain(v)
		}
	}
}

// renderMono renders one note through the full chain at the candidate's knob
// settings and returns a mono auto-stopped take.
func renderMono(
	defs []knobDef,
	c candidate,
	note int,
	velocity int,
	sampleRate int,
	decayDBFS float64,
	decayHoldBlocks int,
	minDuration float64,
	maxDuration float64,
	releaseAfter float64,
) ([]float32, error) {
	s := synth.NewPianoSynth(nil, synth.NewDefaultParams())
	// Empty render constructs the voice pool and effect chain so the knobs
	// can be applied before the note starts.
	s.Play(sampleRate, 1, nil)
	applyKnobs(s, defs, c)
	s.NoteOn(note, velocity)

	if decayHoldBlocks < 1 {
		decayHoldBlocks = 1
	}
	if minDuration < 0 {
		minDuration = 0
	}
	if maxDuration < minDuration {
		maxDuration = minDuration
	}

	minFrames := int(float64(sampleRate) * minDuration)
	maxFrames := int(float64(sampleRate) * maxDuration)
	releaseAtFrame := int(float64(sampleRate) * releaseAfter)
	if releaseAtFrame < 0 {
		releaseAtFrame = 0
	}
	if maxFrames < 1 {
		return nil, errors.New("max duration too small")
	}

	threshold := math.Pow(10.0, decayDBFS/20.0)
	blockSize := 128
	framesRendered := 0
	belowCount := 0
	noteReleased := false
	mono := make([]float32, 0, maxFrames)
	block := make([]float32, blockSize)

	for framesRendered < maxFrames {
		framesToRender := blockSize
		if framesRendered+framesToRender > maxFrames {
			framesToRender = maxFrames - framesRendered
		}
		if !noteReleased && framesRendered >= releaseAtFrame {
			s.NoteOff(note)
			noteReleased = true
		}
		out := block[:framesToRender]
		s.Play(sampleRate, 1, out)
		mono = append(mono, out...)
		framesRendered += framesToRender

		if framesRendered >= minFrames {
			if wavio.BlockRMS(out) < threshold {
				belowCount++
				if belowCount >= decayHoldBlocks {
					break
				}
			} else {
				belowCount = 0
			}
		}
	}

	return mono, nil
}

// synthesizeReference builds a fitting target when no recording is given: a
// dry render of the note convolved with a physically derived room IR, mixed
// with the direct signal, standing in for a close-miked take in a real room.
func synthesizeReference(
	defs []knobDef,
	note int,
	velocity int,
	sampleRate int,
	seed int64,
	irDuration float64,
	refWet float64,
	refDry float64,
	decayDBFS float64,
	decayHoldBlocks int,
	minDuration float64,
	maxDuration float64,
	releaseAfter float64,
	workDir string,
) ([]float64, error) {
	cfg := roomir.DefaultConfig()
	cfg.SampleRate = sampleRate
	cfg.DurationS = irDuration
	cfg.Seed = seed
	left, right, err := roomir.Generate(cfg)
	if err != nil {
		return nil, err
	}
	ir := make([]float32, len(left))
	for i := range ir {
		ir[i] = 0.5 * (left[i] + right[i])
	}

	// Dry take: reverb fully bypassed, limiter at unity.
	dryCand := candidate{Vals: []float64{0.5, 0.5, 0.0, 1.0, 0.0, 0.0}}
	dry, err := renderMono(
		defs,
		dryCand,
		note,
		velocity,
		sampleRate,
		decayDBFS,
		decayHoldBlocks,
		minDuration,
		maxDuration,
		releaseAfter,
	)
	if err != nil {
		return nil, err
	}

	convolved, err := convolveMono(dry, ir, 256)
	if err != nil {
		return nil, err
	}

	refF32 := make([]float32, len(convolved))
	for i := range refF32 {
		v := convolved[i] * float32(refWet)
		if i < len(dry) {
			v += dry[i] * float32(refDry)
		}
		refF32[i] = v
	}

	refPath := filepath.Join(workDir, "reference_synthesized.wav")
	if err := wavio.WriteMonoWAV(refPath, refF32, sampleRate); err != nil {
		return nil, err
	}

	return monoTo64(refF32), nil
}

// convolveMono runs a full-tail partitioned convolution: zero blocks are fed
// after the signal until the whole signal+IR-1 output has been flushed.
func convolveMono(signal []float32, ir []float32, partSize int) ([]float32, error) {
	if len(signal) == 0 || len(ir) == 0 {
		return nil, errors.New("empty convolution input")
	}
	ola, err := dspconv.NewStreamingOverlapAdd32(ir, partSize)
	if err != nil {
		return nil, err
	}
	total := len(signal) + len(ir) - 1
	out := make([]float32, 0, total+partSize)
	block := make([]float32, partSize)
	scratch := make([]float32, partSize)
	for pos := 0; pos < total; pos += partSize {
		for i := range block {
			if pos+i < len(signal) {
				block[i] = signal[pos+i]
			} else {
				block[i] = 0
			}
		}
		if err := ola.ProcessBlockTo(scratch, block); err != nil {
			return nil, err
		}
		out = append(out, scratch...)
	}
	return out[:total], nil
}

func updateTopCandidates(top []topCandidate, topK int, eval int, metrics analysis.Metrics, defs []knobDef, cand candidate) []topCandidate {
	entry := topCandidate{
		Eval:       eval,
		Score:      metrics.Score,
		Similarity: metrics.Similarity,
		Knobs:      make(map[string]float64, len(defs)),
	}
	for i, d := range defs {
		entry.Knobs[d.Name] = cand.Vals[i]
	}
	top = append(top, entry)
	sort.Slice(top, func(i, j int) bool {
		if top[i].Score == top[j].Score {
			return top[i].Eval < top[j].Eval
		}
		return top[i].Score < top[j].Score
	})
	if len(top) > topK {
		top = top[:topK]
	}
	return top
}

func writeOutputs(
	outputWAV string,
	outputKnobs string,
	reportPath string,
	referencePath string,
	sampleRate int,
	note int,
	velocity int,
	releaseAfter float64,
	elapsed float64,
	evals int,
	variant string,
	defs []knobDef,
	best candidate,
	bestM analysis.Metrics,
	bestRender []float32,
	checkpoints int,
	top []topCandidate,
) error {
	if err := wavio.WriteMonoWAV(outputWAV, bestRender, sampleRate); err != nil {
		return err
	}

	knobs := make(map[string]float64, len(defs))
	for i, d := range defs {
		knobs[d.Name] = best.Vals[i]
	}
	if err := writeJSON(outputKnobs, knobs); err != nil {
		return err
	}

	rep := runReport{
		ReferencePath:   referencePath,
		OutputWAV:       outputWAV,
		OutputKnobs:     outputKnobs,
		SampleRate:      sampleRate,
		Note:            note,
		Velocity:        velocity,
		ReleaseAfterSec: releaseAfter,
		DurationSec:     elapsed,
		Evaluations:     evals,
		MayflyVariant:   variant,
		BestScore:       bestM.Score,
		BestSimilarity:  bestM.Similarity,
		BestMetrics:     bestM,
		BestKnobs:       knobs,
		CheckpointCount: checkpoints,
		TopCandidates:   top,
	}

	if reportPath == "" {
		reportPath = outputKnobs + ".report.json"
	}
	return writeJSON(reportPath, rep)
}

func loadCandidateFromReport(path string, defs []knobDef, fallback candidate) (candidate, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fallback, false, nil
		}
		return fallback, false, err
	}
	var rep runReport
	if err := json.Unmarshal(b, &rep); err != nil {
		return fallback, false, err
	}
	if len(rep.BestKnobs) == 0 {
		return fallback, false, nil
	}

	vals := make([]float64, len(fallback.Vals))
	copy(vals, fallback.Vals)
	updated := false
	for i, d := range defs {
		if v, ok := rep.BestKnobs[d.Name]; ok {
			vals[i] = clamp(v, d.Min, d.Max)
			updated = true
		}
	}
	if !updated {
		return fallback, false, nil
	}
	return candidate{Vals: vals}, true, nil
}

func fromNormalized(pos []float64, defs []knobDef) candidate {
	vals := make([]float64, len(defs))
	for i := range defs {
		x := 0.0
		if i < len(pos) {
			x = clamp(pos[i], 0, 1)
		}
		vals[i] = defs[i].Min + x*(defs[i].Max-defs[i].Min)
	}
	return candidate{Vals: vals}
}

func newMayflyConfig(variant string, pop int, dims int, iters int) (*mayfly.Config, error) {
	var cfg *mayfly.Config
	switch variant {
	case "ma":
		cfg = mayfly.NewDefaultConfig()
	case "desma":
		cfg = mayfly.NewDESMAConfig()
	case "olce":
		cfg = mayfly.NewOLCEConfig()
	case "eobbma":
		cfg = mayfly.NewEOBBMAConfig()
	case "gsasma":
		cfg = mayfly.NewGSASMAConfig()
	case "mpma":
		cfg = mayfly.NewMPMAConfig()
	case "aoblmoa":
		cfg = mayfly.NewAOBLMOAConfig()
	default:
		return nil, fmt.Errorf("unsupported variant %q", variant)
	}
	cfg.ProblemSize = dims
	cfg.LowerBound = 0.0
	cfg.UpperBound = 1.0
	cfg.MaxIterations = iters
	cfg.NPop = pop
	cfg.NPopF = pop
	cfg.NC = 2 * pop
	cfg.NM = maxInt(1, int(math.Round(0.05*float64(pop))))
	return cfg, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}

func monoTo64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
