// Package speechtotext defines the boundary to external transcription
// engines. The core hands over finalized utterance audio and receives plain
// text; everything about how the engine works stays behind this contract.
package speechtotext

import "context"

// Transcriber converts one finalized utterance's audio into text.
type Transcriber interface {
	TranscribeUtterance(ctx context.Context, pcm []byte, opts ...TranscriptionOption) (string, error)
}
