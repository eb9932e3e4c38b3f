package orchestration

import (
	"sync"

	"github.com/robinglory/lingo-core/core/gestures"
)

// gestureCommandQueueCapacity bounds queued gesture commands. The rig only
// ever needs the most recent cue, so overflow drops the oldest.
const gestureCommandQueueCapacity = 4

// gestureBridge decouples gesture delivery from the conversation loop. All
// sends go through one goroutine so at most one command is in flight on the
// link; callers never block on a slow or wedged rig.
type gestureBridge struct {
	link gestures.Link

	commands chan gestures.Command
	done     chan struct{}

	// mu orders enqueues against close; a Set that raced past the closed
	// check must never send on a closed channel.
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newGestureBridge(link gestures.Link) *gestureBridge {
	if link == nil {
		logger.Info("no gesture link configured, gesture commands will be dropped")
		link = gestures.NopLink{}
	}

	bridge := &gestureBridge{
		link:     link,
		commands: make(chan gestures.Command, gestureCommandQueueCapacity),
		done:     make(chan struct{}),
	}
	go bridge.run()
	return bridge
}

func (b *gestureBridge) run() {
	defer close(b.done)
	for command := range b.commands {
		if err := b.link.Send(command); err != nil {
			logger.Warn("failed to send gesture command",
				"command", string(command), "error", err)
		}
	}
}

// Set enqueues a gesture cue. Delivery is best effort: when the queue is full
// the oldest queued cue is dropped in favor of the new one.
func (b *gestureBridge) Set(command gestures.Command) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for {
		select {
		case b.commands <- command:
			return
		default:
		}
		select {
		case <-b.commands:
		default:
		}
	}
}

// Interrupt halts the rig's current motion and returns it to rest. Used on
// barge-in before the next listening cue.
func (b *gestureBridge) Interrupt() {
	if b == nil {
		return
	}
	b.Set(gestures.CommandStop)
	b.Set(gestures.CommandIdle)
}

// Close parks the rig and releases the link. Exactly one idle cue goes out
// per session shutdown, regardless of how the session ended.
func (b *gestureBridge) Close() {
	if b == nil {
		return
	}

	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.commands <- gestures.CommandIdle
		close(b.commands)
		b.mu.Unlock()
		<-b.done

		if err := b.link.Close(); err != nil {
			logger.Warn("failed to close gesture link", "error", err)
		}
	})
}
