package orchestration

import (
	"fmt"
	"sync"
)

// playbackQueueBound is the number of undelivered chunks at which the
// synthesis feeder stops pulling text. It bounds memory when the audio sink
// drains slower than the engine produces.
const playbackQueueBound = 64

// audioChunk is one ordered piece of synthesized speech.
type audioChunk struct {
	Seq int
	PCM []byte
}

// playbackBuffer hands synthesized audio to the playback worker in strict
// order. Chunks carry the sequence assigned at synthesis; a gap means a bug
// upstream and fails the turn rather than playing corrupted audio.
type playbackBuffer struct {
	mu           sync.Mutex
	chunks       []audioChunk
	consumed     int
	nextSeq      int
	complete     bool
	flushed      bool
	updateSignal chan struct{}
	drainSignal  chan struct{}
}

func newPlaybackBuffer() *playbackBuffer {
	return &playbackBuffer{
		updateSignal: make(chan struct{}, 1),
		drainSignal:  make(chan struct{}, 1),
	}
}

func (b *playbackBuffer) Add(chunk audioChunk) error {
	b.mu.Lock()
	if b.flushed {
		b.mu.Unlock()
		return nil
	}
	if chunk.Seq != b.nextSeq {
		b.mu.Unlock()
		return fmt.Errorf("audio chunk out of order: got seq %d, expected %d", chunk.Seq, b.nextSeq)
	}
	b.nextSeq++
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	b.signal(b.updateSignal)
	return nil
}

// Complete marks that no further chunks will be added.
func (b *playbackBuffer) Complete() {
	b.mu.Lock()
	b.complete = true
	b.mu.Unlock()
	b.signal(b.updateSignal)
}

// Flush drops all undelivered audio and unblocks producer and consumer. Used
// on barge-in and turn cancellation.
func (b *playbackBuffer) Flush() {
	b.mu.Lock()
	b.flushed = true
	b.chunks = nil
	b.consumed = 0
	b.mu.Unlock()
	b.signal(b.updateSignal)
	b.signal(b.drainSignal)
}

// Pending reports chunks buffered but not yet handed to the consumer.
func (b *playbackBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks) - b.consumed
}

// AwaitDrain blocks until the backlog falls below the queue bound or the
// buffer is flushed.
func (b *playbackBuffer) AwaitDrain() {
	for {
		b.mu.Lock()
		belowBound := len(b.chunks)-b.consumed < playbackQueueBound
		flushed := b.flushed
		b.mu.Unlock()

		if belowBound || flushed {
			return
		}
		<-b.drainSignal
	}
}

// Chunks yields audio in order, waiting for more until completion or flush.
func (b *playbackBuffer) Chunks(yield func(audioChunk) bool) {
	for {
		b.mu.Lock()
		if b.flushed {
			b.mu.Unlock()
			return
		}

		if b.consumed < len(b.chunks) {
			chunk := b.chunks[b.consumed]
			b.consumed++
			b.mu.Unlock()
			b.signal(b.drainSignal)
			if !yield(chunk) {
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

func (b *playbackBuffer) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
