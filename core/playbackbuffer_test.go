package orchestration

import (
	"testing"
	"time"
)

func TestPlaybackBufferPreservesOrder(t *testing.T) {
	buffer := newPlaybackBuffer()

	for i := range 5 {
		if err := buffer.Add(audioChunk{Seq: i, PCM: []byte{byte(i)}}); err != nil {
			t.Fatalf("unexpected error adding chunk %d: %v", i, err)
		}
	}
	buffer.Complete()

	var got []int
	for chunk := range buffer.Chunks {
		got = append(got, chunk.Seq)
	}

	if len(got) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(got))
	}
	for i, seq := range got {
		if seq != i {
			t.Errorf("expected chunk %d at position %d, got %d", i, i, seq)
		}
	}
}

func TestPlaybackBufferRejectsSequenceGap(t *testing.T) {
	buffer := newPlaybackBuffer()

	if err := buffer.Add(audioChunk{Seq: 0}); err != nil {
		t.Fatalf("unexpected error on first chunk: %v", err)
	}
	if err := buffer.Add(audioChunk{Seq: 2}); err == nil {
		t.Fatal("expected an error on a sequence gap")
	}
}

func TestPlaybackBufferFlushUnblocksConsumer(t *testing.T) {
	buffer := newPlaybackBuffer()
	_ = buffer.Add(audioChunk{Seq: 0})

	consumed := make(chan int, 1)
	go func() {
		count := 0
		for range buffer.Chunks {
			count++
		}
		consumed <- count
	}()

	// Give the consumer time to drain the one chunk and block.
	time.Sleep(20 * time.Millisecond)
	buffer.Flush()

	select {
	case count := <-consumed:
		if count != 1 {
			t.Errorf("expected 1 chunk before flush, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not unblock after flush")
	}

	if err := buffer.Add(audioChunk{Seq: 1}); err != nil {
		t.Errorf("expected adds after flush to be dropped silently, got %v", err)
	}
	if buffer.Pending() != 0 {
		t.Errorf("expected no pending chunks after flush, got %d", buffer.Pending())
	}
}

func TestPlaybackBufferAwaitDrainRespectsBound(t *testing.T) {
	buffer := newPlaybackBuffer()
	for i := range playbackQueueBound {
		if err := buffer.Add(audioChunk{Seq: i}); err != nil {
			t.Fatalf("unexpected error adding chunk %d: %v", i, err)
		}
	}

	drained := make(chan struct{})
	go func() {
		buffer.AwaitDrain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("expected AwaitDrain to block at the queue bound")
	case <-time.After(20 * time.Millisecond):
	}

	buffer.Complete()
	go func() {
		for range buffer.Chunks {
		}
	}()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("expected AwaitDrain to unblock once the backlog drained")
	}
}
