package job

import (
	"log"
	"sync"
)

// Event is one externally observable progress transition. Exactly one event
// per job is terminal, carrying either the full result or the classified
// failure.
type Event struct {
	Stage   Stage    `json:"stage"`
	Detail  string   `json:"detail,omitempty"`
	Attempt int      `json:"attempt,omitempty"`
	Result  *Result  `json:"result,omitempty"`
	Failure *Failure `json:"error,omitempty"`
}

func (e Event) Terminal() bool {
	return e.Stage.Terminal()
}

// subscriberBuffer bounds how far a consumer may fall behind before it is
// detached. Events are never reordered or selectively dropped.
const subscriberBuffer = 64

// Broker fans out a single job's ordered event sequence to any number of
// consumers. Consumers attaching after the stream started receive only
// subsequent events; the terminal result stays durable in the result store.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan Event)}
}

// Subscribe attaches a consumer. The returned cancel func detaches it without
// affecting the job. Subscribing to a finished broker yields a closed channel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers in emission order. A terminal
// event closes the stream for everyone. Publishing never blocks the pipeline:
// a subscriber whose buffer is full is detached instead of stalling the job.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			log.Printf("[job] detaching stalled event subscriber %d", id)
			delete(b.subs, id)
			close(ch)
		}
	}

	if e.Terminal() {
		b.closed = true
		for id, ch := range b.subs {
			delete(b.subs, id)
			close(ch)
		}
	}
}
