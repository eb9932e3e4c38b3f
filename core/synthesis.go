package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/robinglory/lingo-core/core/audio"
	"github.com/robinglory/lingo-core/core/texttospeech"
)

// ErrSynthesisRestartFailed means the speech engine failed twice in a row for
// one turn. The reply still reaches the consumer as text; only audio is lost.
var ErrSynthesisRestartFailed = errors.New("speech synthesis failed after restart")

// synthesisController feeds reply text to a speech engine and routes the
// produced audio into the turn's playback buffer. The engine factory is the
// expensive part and lives for the whole session; workers are per turn.
//
// A nil controller degrades every turn to text-only delivery.
type synthesisController struct {
	factory  texttospeech.WorkerFactory
	encoding audio.EncodingInfo
}

func newSynthesisController(factory texttospeech.WorkerFactory, encoding audio.EncodingInfo) *synthesisController {
	if factory == nil {
		return nil
	}
	return &synthesisController{factory: factory, encoding: encoding}
}

func (c *synthesisController) enabled() bool { return c != nil }

// speakTurn synthesizes one turn's increments into the playback buffer. On a
// worker failure it restarts the worker once and replays the text already
// sent; a second failure returns [ErrSynthesisRestartFailed].
func (c *synthesisController) speakTurn(ctx context.Context, increments *incrementBuffer, playback *playbackBuffer) error {
	if c == nil {
		playback.Complete()
		return nil
	}

	ctx, span := tracer.Start(ctx, "synthesize turn")
	defer span.End()

	// Chunk sequencing spans worker restarts; the playback buffer sees one
	// contiguous stream per turn no matter which worker produced it.
	seq := &chunkSequencer{}

	err := c.runWorker(ctx, increments, playback, seq, nil)

	if failure := (*workerFailure)(nil); errors.As(err, &failure) {
		logger.Warn("speech worker failed, restarting", "error", failure.err)
		err = c.runWorker(ctx, increments, playback, seq, failure.sent)
		if failure := (*workerFailure)(nil); errors.As(err, &failure) {
			err = fmt.Errorf("%w: %w", ErrSynthesisRestartFailed, failure.err)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		playback.Flush()
		return err
	}
	return nil
}

// workerFailure wraps a recoverable engine failure together with the text
// already handed to the failed worker, so a replacement can replay it.
type workerFailure struct {
	err  error
	sent []string
}

func (f *workerFailure) Error() string { return f.err.Error() }
func (f *workerFailure) Unwrap() error { return f.err }

// chunkSequencer stamps audio chunks with their turn-wide order.
type chunkSequencer struct {
	mu   sync.Mutex
	next int
}

func (s *chunkSequencer) stamp(pcm []byte) audioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk := audioChunk{Seq: s.next, PCM: pcm}
	s.next++
	return chunk
}

func (c *synthesisController) runWorker(ctx context.Context, increments *incrementBuffer, playback *playbackBuffer, seq *chunkSequencer, replay []string) error {
	var (
		ended   = make(chan struct{})
		failed  = make(chan error, 1)
		endOnce sync.Once
		sent    []string

		// The audio callback runs on the engine's goroutine; the first chunk
		// error is kept under the lock and read after the worker ends.
		chunkErrMu sync.Mutex
		chunkErr   error
	)

	worker, err := c.factory.NewSpeechWorker(ctx,
		texttospeech.WithEncodingInfo(c.encoding),
		texttospeech.WithSpeechAudioCallback(func(pcm []byte) {
			if err := playback.Add(seq.stamp(pcm)); err != nil {
				chunkErrMu.Lock()
				if chunkErr == nil {
					chunkErr = err
				}
				chunkErrMu.Unlock()
			}
		}),
		texttospeech.WithSpeechEndedCallback(func() {
			endOnce.Do(func() { close(ended) })
		}),
		texttospeech.WithErrorCallback(func(err error) {
			select {
			case failed <- err:
			default:
			}
		}),
	)
	if err != nil {
		return &workerFailure{err: fmt.Errorf("failed to start speech worker: %w", err)}
	}
	defer worker.Close()

	fail := func(err error) error {
		_ = worker.Cancel()
		return &workerFailure{err: err, sent: sent}
	}

	for _, text := range replay {
		sent = append(sent, text)
		if err := worker.SendText(text); err != nil {
			return fail(fmt.Errorf("failed to replay text: %w", err))
		}
	}

	for increment := range increments.Increments {
		select {
		case <-ctx.Done():
			_ = worker.Cancel()
			return ctx.Err()
		case err := <-failed:
			return fail(err)
		default:
		}

		// Keep the engine from racing far ahead of a slow audio sink.
		playback.AwaitDrain()

		sent = append(sent, increment.Content)
		if err := worker.SendText(increment.Content); err != nil {
			return fail(fmt.Errorf("failed to send text to speech worker: %w", err))
		}
		if endsSentence(increment.Content) {
			if err := worker.Mark(); err != nil {
				return fail(fmt.Errorf("failed to mark sentence boundary: %w", err))
			}
		}
	}

	if err := worker.EndOfText(); err != nil {
		return fail(fmt.Errorf("failed to finish speech request: %w", err))
	}

	select {
	case <-ctx.Done():
		_ = worker.Cancel()
		return ctx.Err()
	case err := <-failed:
		return fail(err)
	case <-ended:
	}

	playback.Complete()

	chunkErrMu.Lock()
	defer chunkErrMu.Unlock()
	return chunkErr
}

// endsSentence reports whether the increment closes a sentence. Synthesis
// marks at these boundaries so playback progress tracks whole sentences.
func endsSentence(text string) bool {
	trimmed := strings.TrimRight(text, " \t\n\"')")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
