package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robinglory/lingo-core/core/audio"
	"github.com/robinglory/lingo-core/core/gestures"
	"github.com/robinglory/lingo-core/core/llms"
	"github.com/robinglory/lingo-core/core/speechtotext"
	"github.com/robinglory/lingo-core/core/texttospeech"
	"github.com/robinglory/lingo-core/core/vad"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultInstructions = "You are Lingo, a friendly spoken conversation partner on a small desk robot. " +
	"Keep replies short, natural and easy to say out loud."

const defaultFallbackReply = "Sorry, I'm having trouble thinking right now. Could you say that again in a moment?"

// Orchestrator runs one voice conversation session end to end: capture,
// segmentation, transcription, model dispatch, synthesis, playback and
// gesture cues.
type Orchestrator struct {
	session *Session
	runtime *sessionRuntime

	providers     []ConfiguredProvider
	transcriber   speechtotext.Transcriber
	speechFactory texttospeech.WorkerFactory
	audioInput    AudioInput
	audioOutput   AudioOutput
	gestureLink   gestures.Link
	classifier    vad.Classifier

	instructions     string
	hedgeDelay       time.Duration
	silenceTimeout   time.Duration
	maxUtterance     time.Duration
	activationFrames int
	fallbackReply    string
	fallbackAudio    []byte

	dispatcher *dispatcher
	synthesis  *synthesisController
	gesture    *gestureBridge
	segmenter  *utteranceSegmenter

	converseOptions ConverseOptions
	baseContext     context.Context

	stageMu sync.Mutex
	stage   Stage

	closeOnce sync.Once
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		session:       newSession(),
		runtime:       newSessionRuntime(),
		instructions:  defaultInstructions,
		fallbackReply: defaultFallbackReply,
		baseContext:   context.Background(),
		stage:         StageIdle,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.dispatcher = newDispatcher(o.providers, o.hedgeDelay)
	o.synthesis = newSynthesisController(o.speechFactory, o.outputEncoding())
	o.gesture = newGestureBridge(o.gestureLink)

	return o
}

func (o *Orchestrator) outputEncoding() audio.EncodingInfo {
	if o.audioOutput != nil {
		return o.audioOutput.EncodingInfo()
	}
	return audio.GetDefaultEncodingInfo()
}

func (o *Orchestrator) inputEncoding() audio.EncodingInfo {
	if o.audioInput != nil {
		return o.audioInput.EncodingInfo()
	}
	return audio.GetDefaultEncodingInfo()
}

// Session returns the session state, including the accumulated transcript.
func (o *Orchestrator) Session() *Session { return o.session }

// Stage returns the current conversation stage.
func (o *Orchestrator) Stage() Stage {
	o.stageMu.Lock()
	defer o.stageMu.Unlock()
	return o.stage
}

func (o *Orchestrator) setStage(stage Stage) {
	o.stageMu.Lock()
	if o.stage == stage {
		o.stageMu.Unlock()
		return
	}
	o.stage = stage
	o.stageMu.Unlock()

	switch stage {
	case StageListening:
		o.gesture.Set(gestures.CommandListen)
	case StageThinking:
		o.gesture.Set(gestures.CommandThink)
	case StageTalking:
		o.gesture.Set(gestures.CommandTalk)
	case StageIdle:
		o.gesture.Set(gestures.CommandIdle)
	case StageError:
		o.gesture.Set(gestures.CommandStop)
	}

	if o.converseOptions.onStageChange != nil {
		o.converseOptions.onStageChange(stage)
	}
}

// Converse starts the session: the turn loop begins consuming events and, if
// an audio input is configured, capture starts feeding the segmenter. It
// returns immediately; the session runs until ctx is done or Close is called.
//
// Contract: call Converse at most once per orchestrator instance.
func (o *Orchestrator) Converse(ctx context.Context, opts ...ConverseOption) error {
	if o.runtime.isClosed() {
		return fmt.Errorf("orchestrator already closed")
	}

	o.converseOptions = ConverseOptions{}
	for _, opt := range opts {
		opt(&o.converseOptions)
	}

	o.baseContext = ctx
	o.segmenter = newUtteranceSegmenter(o.classifier, o.inputEncoding(), o.handleSpeechStarted)
	if o.activationFrames > 0 {
		o.segmenter.activationFrames = o.activationFrames
	}
	if o.silenceTimeout > 0 {
		o.segmenter.silenceTimeout = o.silenceTimeout
	}
	if o.maxUtterance > 0 {
		o.segmenter.maxUtterance = o.maxUtterance
	}

	if started := o.runtime.start(ctx, o.processTurn); started {
		go func() {
			<-ctx.Done()
			o.Close()
		}()
	}

	if o.audioInput != nil {
		if err := o.audioInput.StartCapture(ctx, o.handleInputAudio); err != nil {
			return fmt.Errorf("failed to start audio capture: %w", err)
		}
		o.setStage(StageListening)
	}

	return nil
}

// SendPrompt submits a typed prompt, bypassing capture and transcription.
func (o *Orchestrator) SendPrompt(prompt string) {
	if prompt == "" {
		return
	}
	o.runtime.enqueue(sessionEvent{prompt: prompt})
}

// CancelTurn aborts the turn in flight, if any.
func (o *Orchestrator) CancelTurn() {
	if o.runtime.cancelActiveTurn() {
		if o.audioOutput != nil {
			o.audioOutput.ClearBuffer()
		}
		o.gesture.Interrupt()
	}
}

// Close ends the session. The active turn is cancelled, capture stops, the
// rig is parked and the turn loop drains.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.runtime.end()

		if o.audioInput != nil {
			if err := o.audioInput.StopCapture(); err != nil {
				recordedErr := fmt.Errorf("failed to stop audio capture: %w", err)
				span := trace.SpanFromContext(o.baseContext)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
			}
		}

		o.runtime.awaitCompletion()
		o.setStage(StageIdle)
		o.gesture.Close()
	})
}

// handleInputAudio runs on the capture path. It must stay non-blocking: it
// classifies, maybe finalizes an utterance, and hands it to the queue.
func (o *Orchestrator) handleInputAudio(pcm []byte) {
	// The capture backend reuses its buffer between callbacks.
	frame := audio.Frame{PCM: append([]byte(nil), pcm...), Timestamp: time.Now()}

	utterance := o.segmenter.Push(frame)
	if utterance == nil {
		return
	}

	if o.converseOptions.onUtteranceAudio != nil {
		o.converseOptions.onUtteranceAudio(utterance)
	}
	o.runtime.enqueue(sessionEvent{utterance: utterance})
}

// handleSpeechStarted fires on utterance activation. Speech over active
// playback is a barge-in: the reply in flight is abandoned and the session
// goes back to listening.
func (o *Orchestrator) handleSpeechStarted() {
	if o.Stage() != StageTalking {
		return
	}

	logger.Info("barge-in detected, cancelling active turn")
	o.runtime.cancelActiveTurn()
	if o.audioOutput != nil {
		o.audioOutput.ClearBuffer()
	}
	o.gesture.Interrupt()
	o.setStage(StageListening)
}

func (o *Orchestrator) processTurn(ctx context.Context, event sessionEvent) {
	ctx, span := tracer.Start(ctx, "process turn")
	defer span.End()

	queuedTime := time.Since(event.queuedAt).Seconds()
	span.SetAttributes(attribute.Float64("turn.queued_time", queuedTime))

	prompt, ok := o.resolvePrompt(ctx, event)
	if !ok {
		o.settleStage()
		return
	}

	o.setStage(StageThinking)
	o.session.appendTurn(llms.RoleUser, prompt)

	reply, err := o.runTurnPipeline(ctx, prompt)

	switch {
	case err == nil:
		o.session.appendTurn(llms.RoleAssistant, reply)
		if o.converseOptions.onResponseEnd != nil {
			o.converseOptions.onResponseEnd(reply)
		}

	case errors.Is(err, context.Canceled):
		// Barge-in or shutdown. Keep whatever was actually delivered.
		if reply != "" {
			o.session.appendTurn(llms.RoleAssistant, reply)
		}

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.deliverFallback(err)
	}

	span.SetAttributes(attribute.Int("turn.queued_events", o.runtime.queuedEventCount()))
	o.settleStage()
}

// resolvePrompt turns the event into prompt text, transcribing when the event
// carries audio.
func (o *Orchestrator) resolvePrompt(ctx context.Context, event sessionEvent) (string, bool) {
	if event.utterance == nil {
		return event.prompt, event.prompt != ""
	}

	if o.transcriber == nil {
		logger.Warn("utterance dropped: no transcriber configured")
		return "", false
	}

	o.setStage(StageThinking)
	transcript, err := o.transcriber.TranscribeUtterance(ctx, event.utterance.PCM,
		speechtotext.WithEncodingInfo(o.inputEncoding()))
	if err != nil {
		if o.converseOptions.onError != nil {
			o.converseOptions.onError(ErrorKindTranscription, err)
		}
		return "", false
	}
	if transcript == "" {
		return "", false
	}

	if o.converseOptions.onTranscript != nil {
		o.converseOptions.onTranscript(transcript)
	}
	return transcript, true
}

// runTurnPipeline runs the three turn workers: dispatch, synthesis and
// playback. It returns the reply text that was generated, even when the turn
// failed partway.
func (o *Orchestrator) runTurnPipeline(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	increments := newIncrementBuffer()
	playback := newPlaybackBuffer()

	o.runtime.setActiveTurn(cancel, playback)
	defer o.runtime.clearActiveTurn()

	request := llms.Request{
		Prompt:       prompt,
		Instructions: o.instructions,
		History:      o.session.History(),
	}

	var (
		workerErr   error
		workerErrMu sync.Mutex
	)
	addWorkerErr := func(err error) {
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		workerErrMu.Lock()
		workerErr = errors.Join(workerErr, err)
		workerErrMu.Unlock()
		// One failed worker ends the turn; the others must not keep waiting
		// on it.
		cancel()
	}

	run := func(name string, f func(context.Context) error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				addWorkerErr(fmt.Errorf("%s worker panicked: %v", name, recovered))
			}
		}()

		if err := f(ctx); err != nil {
			addWorkerErr(fmt.Errorf("%s worker failed: %w", name, err))
		}
	}

	var (
		reply       string
		dispatchErr error
	)

	wg := &sync.WaitGroup{}
	wg.Add(3)
	go func() {
		defer wg.Done()
		run("dispatch", func(ctx context.Context) error {
			text, err := o.dispatcher.Dispatch(ctx, request, func(increment llms.TextIncrement) {
				increments.Add(increment)
				if o.converseOptions.onResponse != nil {
					o.converseOptions.onResponse(increment.Content)
				}
			})
			reply = text
			if err != nil {
				dispatchErr = err
				// Unblock downstream workers; there is nothing left to speak.
				increments.Clear()
				playback.Flush()
				return err
			}
			increments.Complete()
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		run("synthesis", func(ctx context.Context) error {
			err := o.synthesis.speakTurn(ctx, increments, playback)
			if errors.Is(err, ErrSynthesisRestartFailed) {
				// Degraded turn: text was already delivered through the
				// response callback, only audio is lost.
				if o.converseOptions.onError != nil {
					o.converseOptions.onError(ErrorKindSynthesis, err)
				}
				return nil
			}
			return err
		})
	}()
	go func() {
		defer wg.Done()
		run("playback", func(ctx context.Context) error {
			err := o.playTurnAudio(ctx, playback)
			if err != nil {
				// The sink is gone; unblock the synthesis feeder waiting on
				// the backlog to drain.
				playback.Flush()
			}
			return err
		})
	}()

	wg.Wait()

	if dispatchErr != nil && !errors.Is(dispatchErr, context.Canceled) {
		return reply, dispatchErr
	}
	if workerErr != nil {
		return reply, workerErr
	}
	if ctx.Err() != nil {
		return reply, context.Canceled
	}
	return reply, nil
}

// playTurnAudio drains the playback buffer into the audio output and the
// audio callback. The first chunk flips the session into talking.
func (o *Orchestrator) playTurnAudio(_ context.Context, playback *playbackBuffer) error {
	talking := false
	for chunk := range playback.Chunks {
		if !talking {
			talking = true
			o.setStage(StageTalking)
		}

		if o.audioOutput != nil {
			if err := o.audioOutput.SendAudio(chunk.PCM); err != nil {
				return fmt.Errorf("failed to play audio chunk: %w", err)
			}
		}
		if o.converseOptions.onAudio != nil {
			o.converseOptions.onAudio(chunk.PCM)
		}
	}

	if talking && o.audioOutput != nil {
		// Chunks are handed off ahead of the speaker; wait for the sink to
		// actually finish before leaving the talking stage.
		if err := o.audioOutput.AwaitMark(); err != nil {
			return fmt.Errorf("failed to await playback completion: %w", err)
		}
	}
	return nil
}

// deliverFallback reports a terminal turn failure and plays the apology.
func (o *Orchestrator) deliverFallback(err error) {
	o.setStage(StageError)

	kind := ErrorKindDispatch
	if errors.Is(err, ErrSynthesisRestartFailed) {
		kind = ErrorKindSynthesis
	}
	if o.converseOptions.onError != nil {
		o.converseOptions.onError(kind, err)
	}

	if o.fallbackReply != "" && o.converseOptions.onResponse != nil {
		o.converseOptions.onResponse(o.fallbackReply)
	}
	if len(o.fallbackAudio) > 0 && o.audioOutput != nil {
		if sendErr := o.audioOutput.SendAudio(o.fallbackAudio); sendErr != nil {
			logger.Warn("failed to play fallback audio", "error", sendErr)
		} else if awaitErr := o.audioOutput.AwaitMark(); awaitErr != nil {
			logger.Warn("failed to await fallback audio", "error", awaitErr)
		}
	}
}

// settleStage returns the session to its resting stage between turns.
func (o *Orchestrator) settleStage() {
	if o.runtime.isClosed() {
		return
	}
	if o.audioInput != nil {
		o.setStage(StageListening)
		return
	}
	o.setStage(StageIdle)
}
