package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const sessionEventQueueCapacity = 10

// sessionEvent is one unit of work for the turn loop: either a finalized
// utterance or a typed prompt.
type sessionEvent struct {
	utterance *Utterance
	prompt    string
	queuedAt  time.Time
}

// sessionRuntime serializes turn processing. Exactly one goroutine consumes
// the queue, so turns never overlap; barge-in reaches into the active turn
// through the cancellation handle instead of the queue.
type sessionRuntime struct {
	baseContext context.Context

	queue   chan sessionEvent
	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once
	started   atomic.Bool

	activeMu       sync.Mutex
	activeCancel   context.CancelFunc
	activePlayback *playbackBuffer
}

func newSessionRuntime() *sessionRuntime {
	return &sessionRuntime{
		baseContext: context.Background(),
		queue:       make(chan sessionEvent, sessionEventQueueCapacity),
		closeCh:     make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (r *sessionRuntime) start(ctx context.Context, process func(context.Context, sessionEvent)) (started bool) {
	if r == nil || r.isClosed() {
		return false
	}

	r.startOnce.Do(func() {
		started = true
		r.started.Store(true)
		r.baseContext = ctx

		go func() {
			defer close(r.done)

			for {
				select {
				case <-r.closeCh:
					return
				case event := <-r.queue:
					if r.isClosed() {
						return
					}
					r.processEvent(event, process)
				}
			}
		}()
	})

	return started
}

func (r *sessionRuntime) processEvent(event sessionEvent, process func(context.Context, sessionEvent)) {
	turnCtx, turnCancel := context.WithCancel(r.baseContext)
	defer turnCancel()

	go func() {
		select {
		case <-r.closeCh:
			turnCancel()
		case <-turnCtx.Done():
		}
	}()

	process(turnCtx, event)
}

func (r *sessionRuntime) enqueue(event sessionEvent) bool {
	if r == nil || r.isClosed() {
		return false
	}

	event.queuedAt = time.Now()
	select {
	case <-r.closeCh:
		return false
	case r.queue <- event:
		return true
	default:
		// A full queue means turns are piling up faster than they resolve;
		// dropping the newest keeps the loop responsive.
		logger.Warn("session event queue full, dropping event")
		return false
	}
}

// setActiveTurn registers the cancellation handle for the turn in flight.
func (r *sessionRuntime) setActiveTurn(cancel context.CancelFunc, playback *playbackBuffer) {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	r.activeCancel = cancel
	r.activePlayback = playback
}

func (r *sessionRuntime) clearActiveTurn() {
	r.activeMu.Lock()
	defer r.activeMu.Unlock()
	r.activeCancel = nil
	r.activePlayback = nil
}

// cancelActiveTurn aborts the turn in flight, if any, and flushes its queued
// audio. Safe to call from any goroutine.
func (r *sessionRuntime) cancelActiveTurn() (cancelled bool) {
	r.activeMu.Lock()
	cancel := r.activeCancel
	playback := r.activePlayback
	r.activeCancel = nil
	r.activePlayback = nil
	r.activeMu.Unlock()

	if playback != nil {
		playback.Flush()
	}
	if cancel != nil {
		cancel()
		return true
	}
	return false
}

func (r *sessionRuntime) end() {
	if r == nil {
		return
	}

	r.endOnce.Do(func() {
		close(r.closeCh)
		r.cancelActiveTurn()
	})
}

func (r *sessionRuntime) awaitCompletion() {
	if r == nil {
		return
	}
	if r.started.Load() {
		<-r.done
	}
}

func (r *sessionRuntime) isClosed() bool {
	if r == nil {
		return false
	}

	select {
	case <-r.closeCh:
		return true
	default:
		return false
	}
}

func (r *sessionRuntime) queuedEventCount() int {
	if r == nil {
		return 0
	}
	return len(r.queue)
}
