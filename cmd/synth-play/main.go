package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cwbudde/algo-synth/synth"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// synthStreamer adapts a Synth to the beep streaming interface. The speaker
// pulls stereo float64 frames; the engine renders interleaved float32, so a
// scratch buffer sits in between.
type synthStreamer struct {
	synth      synth.Synth
	sampleRate int
	buf        []float32
}

func (s *synthStreamer) Stream(samples [][2]float64) (int, bool) {
	need := len(samples) * 2
	if cap(s.buf) < need {
		s.buf = make([]float32, need)
	}
	buf := s.buf[:need]
	s.synth.Play(s.sampleRate, 2, buf)
	for i := range samples {
		samples[i][0] = float64(buf[2*i])
		samples[i][1] = float64(buf[2*i+1])
	}
	return len(samples), true
}

func (s *synthStreamer) Err() error {
	return nil
}

func main() {
	sampleRate := flag.Int("sample-rate", 44100, "Playback sample rate in Hz")
	velocity := flag.Int("velocity", 96, "MIDI velocity (0-127)")
	hold := flag.Float64("hold", 0.8, "Seconds each chord is held")
	tail := flag.Float64("tail", 2.5, "Seconds to let the reverb tail ring before exit")
	flag.Parse()

	if *sampleRate < 8000 {
		fmt.Fprintf(os.Stderr, "Sample rate too low: %d\n", *sampleRate)
		os.Exit(1)
	}

	queue := synth.NewMessageQueue(0)
	piano := synth.NewPianoSynth(queue, synth.NewDefaultParams())

	sr := beep.SampleRate(*sampleRate)
	if err := speaker.Init(sr, sr.N(time.Millisecond*100)); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing speaker: %v\n", err)
		os.Exit(1)
	}
	defer speaker.Close()

	speaker.Play(&synthStreamer{synth: piano, sampleRate: *sampleRate})

	chords := [][]int{
		{60, 64, 67},
		{57, 60, 64},
		{53, 57, 60},
		{55, 59, 62},
		{48, 60, 64, 67, 72},
	}
	names := []string{"C", "Am", "F", "G", "C"}

	holdDur := time.Duration(*hold * float64(time.Second))
	fmt.Printf("Playing a %d-chord progression at %d Hz...\n", len(chords), *sampleRate)
	for i, chord := range chords {
		fmt.Printf("  %s\n", names[i])
		for _, n := range chord {
			queue.TrySend(synth.Message{Kind: synth.NoteOn, Note: uint8(n), Velocity: uint8(*velocity)})
		}
		time.Sleep(holdDur)
		for _, n := range chord {
			queue.TrySend(synth.Message{Kind: synth.NoteOff, Note: uint8(n)})
		}
		time.Sleep(holdDur / 4)
	}

	fmt.Printf("Letting the tail ring for %.1fs...\n", *tail)
	time.Sleep(time.Duration(*tail * float64(time.Second)))
}
