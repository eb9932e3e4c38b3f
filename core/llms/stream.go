package llms

import (
	"context"
	"iter"
)

// Stream is an ordered sequence of text increments from a single provider
// attempt. Iteration ends on the first error or when the provider signals
// completion.
type Stream interface {
	Increments(ctx context.Context) iter.Seq2[TextIncrement, error]
}

// TextIncrement is one fragment of model output. Seq reflects emission order
// within a single provider stream, starting at zero.
type TextIncrement struct {
	Seq      int
	Content  string
	Provider string
}

// StreamFunc adapts an iterator function into a Stream.
type StreamFunc func(ctx context.Context) iter.Seq2[TextIncrement, error]

func (f StreamFunc) Increments(ctx context.Context) iter.Seq2[TextIncrement, error] {
	return f(ctx)
}
