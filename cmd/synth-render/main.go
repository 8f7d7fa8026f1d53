package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/cwbudde/algo-synth/internal/wavio"
	"github.com/cwbudde/algo-synth/synth"
)

func main() {
	// Command-line flags
	notes := flag.String("notes", "69", "Comma-separated MIDI note numbers (69 = A4 = 440 Hz)")
	velocity := flag.Int("velocity", 100, "MIDI velocity (0-127)")
	duration := flag.Float64("duration", 2.0, "Duration in seconds")
	decayDBFS := flag.Float64("decay-dbfs", math.Inf(1), "Auto-stop when block RMS falls below this dBFS (e.g. -90). Disabled by default")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks required to stop in auto-decay mode")
	minDuration := flag.Float64("min-duration", 0.5, "Minimum render duration in seconds when using -decay-dbfs")
	maxDuration := flag.Float64("max-duration", 20.0, "Maximum render duration in seconds when using -decay-dbfs")
	releaseAfter := flag.Float64("release-after", 0.12, "Send NoteOff after this many seconds in auto-decay mode")
	sampleRate := flag.Int("sample-rate", 48000, "Render sample rate in Hz")
	channels := flag.Int("channels", 2, "Output channel count")
	roomSize := flag.Float64("room-size", -1, "Reverb room size 0-1 (negative = keep default)")
	damping := flag.Float64("damping", -1, "Reverb damping 0-1 (negative = keep default)")
	wet := flag.Float64("wet", -1, "Reverb wet level 0-1 (negative = keep default)")
	dry := flag.Float64("dry", -1, "Reverb dry level 0-1 (negative = keep default)")
	output := flag.String("output", "output.wav", "Output WAV file path")
	flag.Parse()

	noteList, err := parseNotes(*notes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -notes: %v\n", err)
		os.Exit(1)
	}
	if *sampleRate < 8000 {
		fmt.Fprintf(os.Stderr, "Sample rate too low: %d\n", *sampleRate)
		os.Exit(1)
	}
	if *channels < 1 {
		fmt.Fprintf(os.Stderr, "Channels must be >= 1\n")
		os.Exit(1)
	}

	queue := synth.NewMessageQueue(0)
	s := synth.NewPianoSynth(queue, synth.NewDefaultParams())

	// Warm-up call constructs the voice pool and effect chain so the
	// reverb knobs can be set before any audio is rendered.
	s.Play(*sampleRate, *channels, nil)
	if *roomSize >= 0 {
		s.Reverb().SetRoomSize(float32(*roomSize))
	}
	if *damping >= 0 {
		s.Reverb().SetDamping(float32(*damping))
	}
	if *wet >= 0 {
		s.Reverb().SetWetLevel(float32(*wet))
	}
	if *dry >= 0 {
		s.Reverb().SetDryLevel(float32(*dry))
	}

	fmt.Printf("Rendering notes %v, velocity %d, for %.2f seconds at %d Hz...\n", noteList, *velocity, *duration, *sampleRate)

	for _, n := range noteList {
		queue.TrySend(synth.Message{Kind: synth.NoteOn, Note: uint8(n), Velocity: uint8(*velocity)})
	}

	const blockFrames = 128
	autoStop := !math.IsInf(*decayDBFS, 1)

	var totalFrames int
	if !autoStop {
		totalFrames = int(float64(*sampleRate) * (*duration))
		if totalFrames < 1 {
			totalFrames = 1
		}
	}

	// Allocate output buffer.
	initialFrames := totalFrames
	if autoStop {
		initialFrames = int(float64(*sampleRate) * (*minDuration))
		if initialFrames < blockFrames {
			initialFrames = blockFrames
		}
	}
	samples := make([]float32, 0, initialFrames*(*channels))
	block := make([]float32, blockFrames*(*channels))

	framesRendered := 0
	if autoStop {
		minFrames := int(float64(*sampleRate) * (*minDuration))
		maxFrames := int(float64(*sampleRate) * (*maxDuration))
		releaseAtFrame := int(float64(*sampleRate) * (*releaseAfter))
		if releaseAtFrame < 0 {
			releaseAtFrame = 0
		}
		if maxFrames < minFrames {
			maxFrames = minFrames
		}
		if maxFrames < 1 {
			maxFrames = blockFrames
		}

		thresholdLin := math.Pow(10.0, *decayDBFS/20.0)
		notesReleased := false
		belowCount := 0
		if *decayHoldBlocks < 1 {
			*decayHoldBlocks = 1
		}
		for framesRendered < maxFrames {
			framesToRender := blockFrames
			if framesRendered+framesToRender > maxFrames {
				framesToRender = maxFrames - framesRendered
			}

			if !notesReleased && framesRendered >= releaseAtFrame {
				for _, n := range noteList {
					queue.TrySend(synth.Message{Kind: synth.NoteOff, Note: uint8(n)})
				}
				notesReleased = true
			}

			out := block[:framesToRender*(*channels)]
			s.Play(*sampleRate, *channels, out)
			samples = append(samples, out...)
			framesRendered += framesToRender

			if framesRendered >= minFrames {
				if wavio.BlockRMS(out) < thresholdLin {
					belowCount++
					if belowCount >= *decayHoldBlocks {
						break
					}
				} else {
					belowCount = 0
				}
			}
		}
		totalFrames = framesRendered
		fmt.Printf("Auto-stop at %d frames (%.3fs), threshold %.1f dBFS\n", totalFrames, float64(totalFrames)/float64(*sampleRate), *decayDBFS)
	} else {
		for framesRendered < totalFrames {
			framesToRender := blockFrames
			if framesRendered+framesToRender > totalFrames {
				framesToRender = totalFrames - framesRendered
			}

			out := block[:framesToRender*(*channels)]
			s.Play(*sampleRate, *channels, out)
			samples = append(samples, out...)
			framesRendered += framesToRender
		}
	}

	if err := wavio.WriteInterleavedWAV(*output, samples, *sampleRate, *channels); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing WAV file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully wrote %s (%d frames)\n", *output, totalFrames)
}

func parseNotes(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	notes := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad note %q: %v", p, err)
		}
		if n < 0 || n > 127 {
			return nil, fmt.Errorf("note %d out of MIDI range 0-127", n)
		}
		notes = append(notes, n)
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("no notes given")
	}
	return notes, nil
}
