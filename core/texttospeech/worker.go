// Package texttospeech defines the boundary to external speech-synthesis
// engines. Engines run as long-lived workers kept warm across conversation
// turns; text is fed incrementally and audio comes back as an ordered stream
// of chunks.
package texttospeech

import (
	"context"

	"github.com/robinglory/lingo-core/core/audio"
)

// SpeechWorker is one live synthesis session against a persistent engine.
type SpeechWorker interface {
	// SendText appends text to the active request. Speech is generated in
	// the order text is sent.
	//
	// SendText errors if EndOfText, Cancel or Close has been called.
	SendText(text string) error
	// Mark marks the current point in the text. The mark callback fires after
	// speech covering the preceding text has been produced.
	Mark() error
	// EndOfText signals that no more text will be sent for this turn. The
	// ended callback fires once the remaining speech has been produced.
	//
	// Repeated calls are ignored.
	EndOfText() error
	// Cancel drops any queued text and audio immediately.
	//
	// Repeated calls are ignored.
	Cancel() error
	// Close releases the worker. No audio is produced after Close returns.
	//
	// Repeated calls are ignored.
	Close() error

	// EncodingInfo reports the sample rate and format negotiated when the
	// worker started. It is stable for the worker's lifetime; a downstream
	// mismatch is a configuration error, not a per-chunk condition.
	EncodingInfo() audio.EncodingInfo
}

// WorkerFactory starts speech workers. The orchestration core uses it to pay
// engine cold-start once, and again only when a worker has to be replaced
// after a failure.
type WorkerFactory interface {
	NewSpeechWorker(ctx context.Context, opts ...SpeechWorkerOption) (SpeechWorker, error)
}
