package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robinglory/lingo-core/core/llms"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const (
	defaultHedgeDelay     = 300 * time.Millisecond
	defaultRequestTimeout = 20 * time.Second
)

// ConfiguredProvider pairs a provider implementation with its static config.
type ConfiguredProvider struct {
	Config llms.ProviderConfig
	Client llms.Provider
}

// providerState is the dispatcher's mutable view of one provider.
type providerState struct {
	config  llms.ProviderConfig
	client  llms.Provider
	limiter *rate.Limiter

	// disabled is set permanently on an auth failure.
	disabled atomic.Bool
	// demotions counts transient failures; it sinks a flaky provider behind
	// healthier ones of the same priority tier on later requests.
	demotions atomic.Int32
}

func (s *providerState) effectivePriority() int {
	return s.config.Priority + int(s.demotions.Load())
}

type dispatcher struct {
	providers  []*providerState
	hedgeDelay time.Duration
}

func newDispatcher(providers []ConfiguredProvider, hedgeDelay time.Duration) *dispatcher {
	if hedgeDelay <= 0 {
		hedgeDelay = defaultHedgeDelay
	}

	d := &dispatcher{hedgeDelay: hedgeDelay}
	for _, provider := range providers {
		config := provider.Config
		if config.RequestTimeout <= 0 {
			config.RequestTimeout = defaultRequestTimeout
		}

		state := &providerState{config: config, client: provider.Client}
		if config.RequestsPerWindow > 0 && config.RateWindow > 0 {
			state.limiter = rate.NewLimiter(
				rate.Every(config.RateWindow/time.Duration(config.RequestsPerWindow)),
				config.RequestsPerWindow,
			)
		}
		d.providers = append(d.providers, state)
	}
	return d
}

// candidates returns providers eligible for one request, best first. The rate
// budget is only inspected here; a token is consumed when an attempt is
// actually issued. A throttled provider is treated the same as a disabled one
// for this request.
func (d *dispatcher) candidates() []*providerState {
	eligible := make([]*providerState, 0, len(d.providers))
	for _, state := range d.providers {
		if state.disabled.Load() {
			continue
		}
		if state.limiter != nil && state.limiter.Tokens() < 1 {
			logger.Warn("provider skipped: rate budget exhausted", "provider", state.config.Name)
			continue
		}
		eligible = append(eligible, state)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].effectivePriority() < eligible[j].effectivePriority()
	})
	return eligible
}

// winnerGate is the one-shot claim on increment forwarding. The first attempt
// to produce text claims it; everyone else stands down.
type winnerGate struct {
	mu     sync.Mutex
	winner *providerState
}

func (g *winnerGate) claim(state *providerState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.winner == nil {
		g.winner = state
		return true
	}
	return g.winner == state
}

func (g *winnerGate) claimed() *providerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.winner
}

type attemptOutcome struct {
	state     *providerState
	text      string
	forwarded int
	err       error
}

// Dispatch races the configured providers for one reply and forwards the
// winner's increments, restamped into a single contiguous sequence. It
// returns the full reply text.
//
// A provider that produces no text within the hedge delay gets raced by the
// next candidate; the first increment anywhere decides the winner and every
// other attempt is cancelled. Once increments have been forwarded a winner
// failure is terminal for the turn ([llms.ErrStreamInterrupted]); partial
// replies from different providers are never spliced.
func (d *dispatcher) Dispatch(ctx context.Context, req llms.Request, forward func(llms.TextIncrement)) (string, error) {
	ctx, span := tracer.Start(ctx, "dispatch prompt")
	defer span.End()

	if forward == nil {
		forward = func(llms.TextIncrement) {}
	}

	candidates := d.candidates()
	span.SetAttributes(attribute.Int("dispatch.candidates", len(candidates)))
	if len(candidates) == 0 {
		span.RecordError(llms.ErrAllProvidersExhausted)
		span.SetStatus(codes.Error, llms.ErrAllProvidersExhausted.Error())
		return "", llms.ErrAllProvidersExhausted
	}

	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	gate := &winnerGate{}
	claimedSignal := make(chan struct{}, 1)
	outcomes := make(chan attemptOutcome, len(candidates))

	var cancelsMu sync.Mutex
	cancels := make(map[*providerState]context.CancelFunc, len(candidates))

	cancelLosers := func(winner *providerState) {
		cancelsMu.Lock()
		defer cancelsMu.Unlock()
		for state, cancel := range cancels {
			if state != winner {
				cancel()
			}
		}
	}

	started := 0
	start := func() {
		state := candidates[started]
		started++

		if state.limiter != nil {
			state.limiter.Allow()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, state.config.RequestTimeout)
		cancelsMu.Lock()
		cancels[state] = cancel
		cancelsMu.Unlock()

		attempt := req
		attempt.Attempt = started - 1

		go func() {
			defer cancel()
			outcomes <- d.runAttempt(attemptCtx, state, attempt, gate, claimedSignal, cancelLosers, forward)
		}()
	}
	start()

	hedgeTimer := time.NewTimer(d.hedgeDelayFor(candidates[0]))
	defer hedgeTimer.Stop()

	var attemptErrs error
	finished := 0
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case <-claimedSignal:
			hedgeTimer.Stop()

		case <-hedgeTimer.C:
			if gate.claimed() == nil && started < len(candidates) {
				logger.Info("hedging with next provider",
					"provider", candidates[started].config.Name,
					"attempt", started)
				start()
				hedgeTimer.Reset(d.hedgeDelayFor(candidates[started-1]))
			}

		case outcome := <-outcomes:
			finished++

			if outcome.forwarded > 0 {
				// The winner finished, for better or worse.
				span.SetAttributes(
					attribute.String("dispatch.winner", outcome.state.config.Name),
					attribute.Int("dispatch.attempts", started),
				)
				if outcome.err != nil {
					span.RecordError(outcome.err)
					span.SetStatus(codes.Error, outcome.err.Error())
				}
				return outcome.text, outcome.err
			}

			winner := gate.claimed()
			lostRace := winner != nil && winner != outcome.state
			if outcome.err != nil && !lostRace && !errors.Is(outcome.err, context.Canceled) {
				// Losing a hedge race, or being cancelled with it, is not a
				// provider failure; only genuine attempt errors count.
				attemptErrs = errors.Join(attemptErrs, outcome.err)
				d.recordFailure(outcome.state, outcome.err)
			}

			if winner != nil {
				// A loser stood down; the winner's outcome is still pending.
				continue
			}

			if started < len(candidates) {
				if finished == started {
					start()
					hedgeTimer.Reset(d.hedgeDelayFor(candidates[started-1]))
				}
				continue
			}
			if finished == started {
				err := fmt.Errorf("%w: %w", llms.ErrAllProvidersExhausted, attemptErrs)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return "", err
			}
		}
	}
}

func (d *dispatcher) hedgeDelayFor(state *providerState) time.Duration {
	if state.config.HedgeDelay > 0 {
		return state.config.HedgeDelay
	}
	return d.hedgeDelay
}

// runAttempt streams one provider and forwards increments if and only if it
// wins the claim. Forwarded increments are restamped with a contiguous
// sequence starting at zero.
func (d *dispatcher) runAttempt(
	ctx context.Context,
	state *providerState,
	req llms.Request,
	gate *winnerGate,
	claimedSignal chan struct{},
	cancelLosers func(*providerState),
	forward func(llms.TextIncrement),
) (outcome attemptOutcome) {
	outcome.state = state

	defer func() {
		if recovered := recover(); recovered != nil {
			outcome.err = errors.Join(outcome.err,
				fmt.Errorf("provider %s attempt panicked: %v", state.config.Name, recovered))
		}
	}()

	var text []byte
	stream := state.client.Stream(ctx, req)
	for increment, err := range stream.Increments(ctx) {
		if err != nil {
			if outcome.forwarded > 0 {
				outcome.err = fmt.Errorf("provider %s failed after %d increments: %w: %w",
					state.config.Name, outcome.forwarded, llms.ErrStreamInterrupted, err)
				return outcome
			}
			outcome.err = err
			return outcome
		}

		if outcome.forwarded == 0 {
			if !gate.claim(state) {
				return outcome
			}
			select {
			case claimedSignal <- struct{}{}:
			default:
			}
			cancelLosers(state)
		}

		increment.Seq = outcome.forwarded
		increment.Provider = state.config.Name
		outcome.forwarded++
		text = append(text, increment.Content...)
		forward(increment)
	}

	if outcome.forwarded == 0 {
		outcome.err = fmt.Errorf("provider %s produced no output", state.config.Name)
		return outcome
	}

	outcome.text = string(text)
	return outcome
}

func (d *dispatcher) recordFailure(state *providerState, err error) {
	switch llms.Classify(err) {
	case llms.ErrKindAuth:
		if !state.disabled.Swap(true) {
			logger.Error("provider disabled: authentication failed",
				"provider", state.config.Name, "error", err)
		}
	case llms.ErrKindRateLimited:
		logger.Warn("provider throttled upstream", "provider", state.config.Name)
		state.demotions.Add(1)
	default:
		state.demotions.Add(1)
	}
}
