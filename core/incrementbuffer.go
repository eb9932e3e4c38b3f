package orchestration

import (
	"strings"
	"sync"

	"github.com/robinglory/lingo-core/core/llms"
)

// incrementBuffer hands text increments from the dispatch worker to the
// synthesis worker. Increments arrive already restamped in forwarding order;
// the buffer preserves that order and blocks the consumer until more text or
// completion arrives.
type incrementBuffer struct {
	mu           sync.Mutex
	increments   []llms.TextIncrement
	consumed     int
	complete     bool
	cleared      bool
	updateSignal chan struct{}
}

func newIncrementBuffer() *incrementBuffer {
	return &incrementBuffer{
		updateSignal: make(chan struct{}, 1),
	}
}

func (b *incrementBuffer) Add(increment llms.TextIncrement) {
	b.mu.Lock()
	b.increments = append(b.increments, increment)
	b.mu.Unlock()
	b.signalUpdate()
}

// Complete marks the end of the stream. Consumers drain what is buffered and
// stop.
func (b *incrementBuffer) Complete() {
	b.mu.Lock()
	b.complete = true
	b.mu.Unlock()
	b.signalUpdate()
}

// Increments yields buffered increments in order, waiting for new ones until
// the buffer is completed or cleared.
func (b *incrementBuffer) Increments(yield func(llms.TextIncrement) bool) {
	for {
		b.mu.Lock()
		if b.cleared {
			b.mu.Unlock()
			return
		}

		if b.consumed < len(b.increments) {
			increment := b.increments[b.consumed]
			b.consumed++
			b.mu.Unlock()
			if !yield(increment) {
				return
			}
			continue
		}

		if b.complete {
			b.mu.Unlock()
			return
		}

		b.mu.Unlock()
		<-b.updateSignal
	}
}

func (b *incrementBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var text strings.Builder
	for _, increment := range b.increments {
		text.WriteString(increment.Content)
	}
	return text.String()
}

// Clear unblocks any consumer and drops the remaining increments.
func (b *incrementBuffer) Clear() {
	b.mu.Lock()
	b.cleared = true
	b.mu.Unlock()
	b.signalUpdate()
}

func (b *incrementBuffer) signalUpdate() {
	select {
	case b.updateSignal <- struct{}{}:
	default:
	}
}
