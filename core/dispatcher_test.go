package orchestration

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robinglory/lingo-core/core/llms"
)

// fakeProvider streams a scripted reply after an optional delay before the
// first increment.
type fakeProvider struct {
	name       string
	chunks     []string
	firstDelay time.Duration
	chunkDelay time.Duration // pause before each increment after the first
	err        error
	errAfter   int // increments to emit before err; 0 means fail immediately

	calls atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Stream(_ context.Context, _ llms.Request) llms.Stream {
	p.calls.Add(1)
	return llms.StreamFunc(func(ctx context.Context) iter.Seq2[llms.TextIncrement, error] {
		return func(yield func(llms.TextIncrement, error) bool) {
			if p.firstDelay > 0 {
				select {
				case <-ctx.Done():
					yield(llms.TextIncrement{}, ctx.Err())
					return
				case <-time.After(p.firstDelay):
				}
			}

			if p.err != nil && p.errAfter == 0 {
				yield(llms.TextIncrement{}, p.err)
				return
			}

			for i, chunk := range p.chunks {
				if i > 0 && p.chunkDelay > 0 {
					select {
					case <-ctx.Done():
						yield(llms.TextIncrement{}, ctx.Err())
						return
					case <-time.After(p.chunkDelay):
					}
				}

				select {
				case <-ctx.Done():
					yield(llms.TextIncrement{}, ctx.Err())
					return
				default:
				}

				if !yield(llms.TextIncrement{Seq: i, Content: chunk, Provider: p.name}, nil) {
					return
				}
				if p.err != nil && i+1 == p.errAfter {
					yield(llms.TextIncrement{}, p.err)
					return
				}
			}
		}
	})
}

func providerConfig(name string, priority int) llms.ProviderConfig {
	return llms.ProviderConfig{Name: name, Priority: priority, RequestTimeout: time.Second}
}

func collectForwarded() (func(llms.TextIncrement), *[]llms.TextIncrement) {
	var forwarded []llms.TextIncrement
	return func(increment llms.TextIncrement) { forwarded = append(forwarded, increment) }, &forwarded
}

func TestDispatchForwardsWinnerIncrementsInOrder(t *testing.T) {
	provider := &fakeProvider{name: "alpha", chunks: []string{"Hello", " there", "."}}
	d := newDispatcher([]ConfiguredProvider{
		{Config: providerConfig("alpha", 0), Client: provider},
	}, 50*time.Millisecond)

	forward, forwarded := collectForwarded()
	text, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, forward)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if text != "Hello there." {
		t.Errorf("expected full reply text, got %q", text)
	}
	if len(*forwarded) != 3 {
		t.Fatalf("expected 3 forwarded increments, got %d", len(*forwarded))
	}
	for i, increment := range *forwarded {
		if increment.Seq != i {
			t.Errorf("expected contiguous seq %d, got %d", i, increment.Seq)
		}
		if increment.Provider != "alpha" {
			t.Errorf("expected provider tag alpha, got %q", increment.Provider)
		}
	}
}

func TestDispatchFailsOverOnImmediateError(t *testing.T) {
	failing := &fakeProvider{name: "alpha", err: errors.New("connection refused")}
	healthy := &fakeProvider{name: "beta", chunks: []string{"ok"}}

	d := newDispatcher([]ConfiguredProvider{
		{Config: providerConfig("alpha", 0), Client: failing},
		{Config: providerConfig("beta", 1), Client: healthy},
	}, 50*time.Millisecond)

	text, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if text != "ok" {
		t.Errorf("expected failover reply, got %q", text)
	}
}

func TestDispatchDisablesProviderOnAuthError(t *testing.T) {
	authErr := &llms.ProviderError{Provider: "alpha", Kind: llms.ErrKindAuth, Status: 401, Err: errors.New("unauthorized")}
	failing := &fakeProvider{name: "alpha", err: authErr}
	healthy := &fakeProvider{name: "beta", chunks: []string{"ok"}}

	d := newDispatcher([]ConfiguredProvider{
		{Config: providerConfig("alpha", 0), Client: failing},
		{Config: providerConfig("beta", 1), Client: healthy},
	}, 50*time.Millisecond)

	for range 2 {
		if _, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, nil); err != nil {
			t.Fatalf("unexpected dispatch error: %v", err)
		}
	}

	if calls := failing.calls.Load(); calls != 1 {
		t.Errorf("expected disabled provider to be tried once, got %d calls", calls)
	}
	if calls := healthy.calls.Load(); calls != 2 {
		t.Errorf("expected healthy provider to serve both requests, got %d calls", calls)
	}
}

func TestDispatchExhaustsAllProviders(t *testing.T) {
	a := &fakeProvider{name: "alpha", err: errors.New("down")}
	b := &fakeProvider{name: "beta", err: errors.New("also down")}

	d := newDispatcher([]ConfiguredProvider{
		{Config: providerConfig("alpha", 0), Client: a},
		{Config: providerConfig("beta", 1), Client: b},
	}, 50*time.Millisecond)

	_, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, nil)
	if !errors.Is(err, llms.ErrAllProvidersExhausted) {
		t.Fatalf("expected ErrAllProvidersExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "down") {
		t.Errorf("expected joined attempt errors in %q", err.Error())
	}
}

func TestDispatchHedgesSlowProvider(t *testing.T) {
	slow := &fakeProvider{name: "alpha", chunks: []string{"slow"}, firstDelay: 300 * time.Millisecond}
	fast := &fakeProvider{name: "beta", chunks: []string{"fast"}}

	d := newDispatcher([]ConfiguredProvider{
		{Config: providerConfig("alpha", 0), Client: slow},
		{Config: providerConfig("beta", 1), Client: fast},
	}, 20*time.Millisecond)

	forward, forwarded := collectForwarded()
	text, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, forward)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	if text != "fast" {
		t.Errorf("expected hedged provider to win, got %q", text)
	}
	for _, increment := range *forwarded {
		if increment.Provider != "beta" {
			t.Errorf("expected only winner increments, got one from %q", increment.Provider)
		}
	}
	if slow.calls.Load() != 1 {
		t.Errorf("expected slow provider to have been started, got %d calls", slow.calls.Load())
	}
}

func TestDispatchInterruptedStreamIsTerminal(t *testing.T) {
	flaky := &fakeProvider{name: "alpha", chunks: []string{"partial", " reply"}, err: errors.New("reset"), errAfter: 2}
	backup := &fakeProvider{name: "beta", chunks: []string{"never used"}}

	d := newDispatcher([]ConfiguredProvider{
		{Config: providerConfig("alpha", 0), Client: flaky},
		{Config: providerConfig("beta", 1), Client: backup},
	}, time.Second)

	forward, forwarded := collectForwarded()
	_, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, forward)
	if !errors.Is(err, llms.ErrStreamInterrupted) {
		t.Fatalf("expected ErrStreamInterrupted, got %v", err)
	}

	if len(*forwarded) != 2 {
		t.Errorf("expected the partial increments to have been forwarded, got %d", len(*forwarded))
	}
	if backup.calls.Load() != 0 {
		t.Errorf("expected no failover after partial delivery, backup got %d calls", backup.calls.Load())
	}
}

func TestDispatchSkipsThrottledProvider(t *testing.T) {
	limited := &fakeProvider{name: "alpha", chunks: []string{"a"}}
	backup := &fakeProvider{name: "beta", chunks: []string{"b"}}

	config := providerConfig("alpha", 0)
	config.RequestsPerWindow = 1
	config.RateWindow = time.Hour

	d := newDispatcher([]ConfiguredProvider{
		{Config: config, Client: limited},
		{Config: providerConfig("beta", 1), Client: backup},
	}, 50*time.Millisecond)

	text, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if text != "a" {
		t.Errorf("expected budgeted provider to serve the first request, got %q", text)
	}

	text, err = d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if text != "b" {
		t.Errorf("expected throttled provider to be skipped, got %q", text)
	}
	if limited.calls.Load() != 1 {
		t.Errorf("expected the limited provider to be called once, got %d", limited.calls.Load())
	}
}

func TestDispatchPreservesBackupRateBudget(t *testing.T) {
	primary := &fakeProvider{name: "alpha", chunks: []string{"a"}}
	backup := &fakeProvider{name: "beta", chunks: []string{"b"}}

	config := providerConfig("beta", 1)
	config.RequestsPerWindow = 1
	config.RateWindow = time.Hour

	d := newDispatcher([]ConfiguredProvider{
		{Config: providerConfig("alpha", 0), Client: primary},
		{Config: config, Client: backup},
	}, 50*time.Millisecond)

	// The primary serves the first request; being an unused candidate must
	// not cost the backup its only token.
	text, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if text != "a" {
		t.Errorf("expected the primary to serve the first request, got %q", text)
	}
	if backup.calls.Load() != 0 {
		t.Fatalf("expected the backup to stay idle, got %d calls", backup.calls.Load())
	}

	primary.err = errors.New("down")

	text, err = d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("expected the backup to serve after the primary failed: %v", err)
	}
	if text != "b" {
		t.Errorf("expected the backup's reply, got %q", text)
	}
}

func TestDispatchHedgeLoserIsNotDemoted(t *testing.T) {
	slow := &fakeProvider{name: "alpha", chunks: []string{"slow"}, firstDelay: 300 * time.Millisecond}
	// The winner stalls between increments so the loser's cancellation is
	// observed while the race is still open on the dispatcher side.
	fast := &fakeProvider{name: "beta", chunks: []string{"fast", " reply"}, chunkDelay: 100 * time.Millisecond}

	d := newDispatcher([]ConfiguredProvider{
		{Config: providerConfig("alpha", 0), Client: slow},
		{Config: providerConfig("beta", 1), Client: fast},
	}, 20*time.Millisecond)

	text, err := d.Dispatch(context.Background(), llms.Request{Prompt: "hi"}, nil)
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if text != "fast reply" {
		t.Errorf("expected the hedged provider's reply, got %q", text)
	}

	if demotions := d.providers[0].demotions.Load(); demotions != 0 {
		t.Errorf("expected losing the race to leave priority untouched, got %d demotions", demotions)
	}
	if disabled := d.providers[0].disabled.Load(); disabled {
		t.Error("expected the losing provider to stay enabled")
	}
}
