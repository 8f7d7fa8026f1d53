package synth

// MessageKind discriminates note events.
type MessageKind uint8

const (
	NoteOn MessageKind = iota
	NoteOff
)

// Message is a single note event as delivered by a keyboard or sequencer.
type Message struct {
	Kind     MessageKind
	Channel  uint8 // 0-15
	Note     uint8 // 0-127
	Velocity uint8 // 0-127
}

// DefaultQueueCapacity bounds the event backlog between two audio callbacks.
// Human playing produces tens of events per callback at most; 256 leaves
// room for dense sequencer bursts.
const DefaultQueueCapacity = 256

// MessageQueue carries note events from producer goroutines (MIDI input,
// UI, sequencers) to the audio callback. Both sides are non-blocking: a
// full queue drops new events rather than stalling the producer, and the
// consumer drains only what is already there.
type MessageQueue struct {
	ch chan Message
}

// NewMessageQueue creates a queue holding up to capacity pending events.
// Capacities below 1 fall back to DefaultQueueCapacity.
func NewMessageQueue(capacity int) *MessageQueue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &MessageQueue{ch: make(chan Message, capacity)}
}

// TrySend enqueues msg without blocking. It reports false when the queue
// is full and the message was dropped.
func (q *MessageQueue) TrySend(msg Message) bool {
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// TryRecv dequeues one message without blocking. It reports false when the
// queue is empty.
func (q *MessageQueue) TryRecv() (Message, bool) {
	select {
	case msg := <-q.ch:
		return msg, true
	default:
		return Message{}, false
	}
}

// Len returns the number of currently queued events.
func (q *MessageQueue) Len() int {
	return len(q.ch)
}
