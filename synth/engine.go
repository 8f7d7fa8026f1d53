package synth

import "github.com/cwbudde/algo-synth/effects"

// NumVoices is the fixed polyphony of the engine.
const NumVoices = 8

// PianoSynth is the polyphonic engine: a fixed pool of voices fed by a
// non-blocking message queue and rendered through a reverb and limiter
// chain. Everything runs inside Play on the audio callback thread; the
// queue is the only cross-thread surface.
type PianoSynth struct {
	voices  []*Voice
	params  *Params
	queue   *MessageQueue
	reverb  *effects.Reverb
	limiter *effects.Limiter

	sampleRate int // 0 until the first Play call
}

// NewPianoSynth creates an engine reading note events from queue. A nil
// queue is allowed; the engine is then driven by direct NoteOn/NoteOff
// calls between Play invocations. A nil params uses defaults.
func NewPianoSynth(queue *MessageQueue, params *Params) *PianoSynth {
	if params == nil {
		params = NewDefaultParams()
	}
	return &PianoSynth{
		params: params,
		queue:  queue,
	}
}

// NoteOn starts a note, reusing the first idle voice or stealing the one
// contributing least to the mix. Note and velocity are clamped to 0..127.
// Before the first Play call no voices exist yet and the event is dropped.
func (p *PianoSynth) NoteOn(note int, velocity int) {
	if len(p.voices) == 0 {
		return
	}
	if note < 0 {
		note = 0
	} else if note > 127 {
		note = 127
	}
	if velocity < 0 {
		velocity = 0
	} else if velocity > 127 {
		velocity = 127
	}

	voice := p.findFreeVoice()
	voice.NoteOn(NewPianoKey(note), float32(velocity)/127.0)
}

// NoteOff releases every voice holding note. Notes with no matching voice
// are a silent no-op.
func (p *PianoSynth) NoteOff(note int) {
	for _, v := range p.voices {
		if v.hasKey && v.key.MidiNote == note {
			v.NoteOff()
		}
	}
}

func (p *PianoSynth) findFreeVoice() *Voice {
	for _, v := range p.voices {
		if !v.active {
			return v
		}
	}
	return p.findVoiceToSteal()
}

// findVoiceToSteal picks the voice furthest along its envelope cycle:
// the quietest releasing voice first, then the quietest sustaining one,
// then the globally quietest. Ties keep the first voice found.
func (p *PianoSynth) findVoiceToSteal() *Voice {
	best := -1
	for i, v := range p.voices {
		if v.envelope.state != envRelease {
			continue
		}
		if best < 0 || v.envelope.currentLevel < p.voices[best].envelope.currentLevel {
			best = i
		}
	}
	if best >= 0 {
		return p.voices[best]
	}

	for i, v := range p.voices {
		if v.envelope.state != envSustain {
			continue
		}
		if best < 0 || v.envelope.currentLevel < p.voices[best].envelope.currentLevel {
			best = i
		}
	}
	if best >= 0 {
		return p.voices[best]
	}

	best = 0
	for i, v := range p.voices {
		if v.envelope.currentLevel < p.voices[best].envelope.currentLevel {
			best = i
		}
	}
	return p.voices[best]
}

// drainQueue dispatches every pending note event. Called once per Play, so
// events enqueued before the call are all visible to it; events arriving
// mid-drain may slip to the next callback.
func (p *PianoSynth) drainQueue() {
	if p.queue == nil {
		return
	}
	for {
		msg, ok := p.queue.TryRecv()
		if !ok {
			return
		}
		switch msg.Kind {
		case NoteOn:
			p.NoteOn(int(msg.Note), int(msg.Velocity))
		case NoteOff:
			p.NoteOff(int(msg.Note))
		}
	}
}

func (p *PianoSynth) processSample() float32 {
	var sum float32
	for _, v := range p.voices {
		sum += v.ProcessSample()
	}
	return sum
}

// Play implements Synth. A sample-rate change discards all per-sample
// state; the voice pool and effects are then rebuilt lazily for the new
// rate. Pending note events are drained once, before any sample is
// rendered. Each frame is the voice sum passed through the reverb and
// limiter, with the same value written to every channel. Out frames
// beyond the last complete channel group are left untouched.
func (p *PianoSynth) Play(sampleRate int, channels int, out []float32) {
	if sampleRate <= 0 || channels <= 0 {
		return
	}

	if p.sampleRate != sampleRate {
		p.voices = p.voices[:0]
		p.reverb = nil
		p.limiter = nil
		p.sampleRate = sampleRate
	}
	if len(p.voices) == 0 {
		if cap(p.voices) < NumVoices {
			p.voices = make([]*Voice, 0, NumVoices)
		}
		for i := 0; i < NumVoices; i++ {
			p.voices = append(p.voices, NewVoice(sampleRate, p.params))
		}
	}
	if p.reverb == nil {
		p.reverb = effects.NewReverb(sampleRate)
	}
	if p.limiter == nil {
		p.limiter = effects.NewLimiter(sampleRate)
	}

	p.drainQueue()

	for frame := 0; frame+channels <= len(out); frame += channels {
		s := p.processSample()
		s = p.reverb.ProcessSample(s)
		s = p.limiter.ProcessSample(s)
		for c := 0; c < channels; c++ {
			out[frame+c] = s
		}
	}
}

// Reverb exposes the output reverb for parameter control. It is nil until
// the first Play call constructs the chain.
func (p *PianoSynth) Reverb() *effects.Reverb {
	return p.reverb
}

// Limiter exposes the output limiter for parameter control. It is nil
// until the first Play call constructs the chain.
func (p *PianoSynth) Limiter() *effects.Limiter {
	return p.limiter
}
