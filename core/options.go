package orchestration

import (
	"context"
	"time"

	"github.com/robinglory/lingo-core/core/audio"
	"github.com/robinglory/lingo-core/core/gestures"
	"github.com/robinglory/lingo-core/core/llms"
	"github.com/robinglory/lingo-core/core/speechtotext"
	"github.com/robinglory/lingo-core/core/texttospeech"
	"github.com/robinglory/lingo-core/core/vad"
)

type OrchestratorOption func(*Orchestrator)

// AudioInput produces raw capture audio. The orchestrator slices it into
// frames for segmentation.
type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// AudioOutput plays synthesized audio. ClearBuffer drops anything queued but
// not yet played; AwaitMark blocks until everything queued before the call
// has been played.
type AudioOutput interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
	AwaitMark() error
}

// WithProviders configures the language-model backends, tried in priority
// order with hedged failover.
func WithProviders(providers ...ConfiguredProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.providers = providers }
}

// NewProvider pairs a provider client with its dispatch configuration.
func NewProvider(config llms.ProviderConfig, client llms.Provider) ConfiguredProvider {
	return ConfiguredProvider{Config: config, Client: client}
}

func WithTranscriber(transcriber speechtotext.Transcriber) OrchestratorOption {
	return func(o *Orchestrator) { o.transcriber = transcriber }
}

func WithSpeechWorkerFactory(factory texttospeech.WorkerFactory) OrchestratorOption {
	return func(o *Orchestrator) { o.speechFactory = factory }
}

func WithAudioInput(input AudioInput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioInput = input }
}

func WithAudioOutput(output AudioOutput) OrchestratorOption {
	return func(o *Orchestrator) { o.audioOutput = output }
}

func WithGestureLink(link gestures.Link) OrchestratorOption {
	return func(o *Orchestrator) { o.gestureLink = link }
}

// WithClassifier swaps the speech/silence detector used for segmentation.
func WithClassifier(classifier vad.Classifier) OrchestratorOption {
	return func(o *Orchestrator) { o.classifier = classifier }
}

// WithInstructions sets the system instructions sent with every dispatch.
func WithInstructions(instructions string) OrchestratorOption {
	return func(o *Orchestrator) { o.instructions = instructions }
}

// WithHedgeDelay sets how long the dispatcher waits for a first increment
// before racing the next provider.
func WithHedgeDelay(delay time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.hedgeDelay = delay }
}

// WithSilenceTimeout sets the trailing silence that finalizes an utterance.
func WithSilenceTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.silenceTimeout = timeout }
}

// WithMaxUtteranceDuration caps utterance length; longer speech is finalized
// forcibly.
func WithMaxUtteranceDuration(max time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.maxUtterance = max }
}

// WithActivationFrames sets how many consecutive speech frames open an
// utterance.
func WithActivationFrames(frames int) OrchestratorOption {
	return func(o *Orchestrator) { o.activationFrames = frames }
}

// WithFallbackReply sets the text delivered when every provider fails.
func WithFallbackReply(reply string) OrchestratorOption {
	return func(o *Orchestrator) { o.fallbackReply = reply }
}

// WithFallbackAudio sets pre-recorded audio played when every provider
// fails. Without it the fallback is text-only.
func WithFallbackAudio(pcm []byte) OrchestratorOption {
	return func(o *Orchestrator) { o.fallbackAudio = pcm }
}

type ConverseOptions struct {
	onStageChange    func(stage Stage)
	onTranscript     func(transcript string)
	onResponse       func(response string)
	onResponseEnd    func(response string)
	onAudio          func(audio []byte)
	onError          func(kind ErrorKind, err error)
	onUtteranceAudio func(utterance *Utterance)
}

type ConverseOption func(*ConverseOptions)

// WithStageChangeCallback registers a callback for conversation stage
// transitions. It runs inline on the turn loop and should not block.
func WithStageChangeCallback(callback func(stage Stage)) ConverseOption {
	return func(o *ConverseOptions) { o.onStageChange = callback }
}

// WithTranscriptCallback registers a callback for final utterance
// transcripts.
func WithTranscriptCallback(callback func(transcript string)) ConverseOption {
	return func(o *ConverseOptions) { o.onTranscript = callback }
}

// WithResponseCallback registers a callback for reply text increments, in
// forwarding order.
func WithResponseCallback(callback func(response string)) ConverseOption {
	return func(o *ConverseOptions) { o.onResponse = callback }
}

// WithResponseEndCallback registers a callback fired once per turn with the
// full reply text.
func WithResponseEndCallback(callback func(response string)) ConverseOption {
	return func(o *ConverseOptions) { o.onResponseEnd = callback }
}

// WithAudioCallback registers a callback for reply audio chunks in playback
// order. The slice is passed through without a defensive copy.
func WithAudioCallback(callback func(audio []byte)) ConverseOption {
	return func(o *ConverseOptions) { o.onAudio = callback }
}

// WithErrorCallback registers a callback for terminal turn failures.
func WithErrorCallback(callback func(kind ErrorKind, err error)) ConverseOption {
	return func(o *ConverseOptions) { o.onError = callback }
}

// WithUtteranceAudioCallback registers a callback for finalized utterances
// before transcription, useful for debugging segmentation.
func WithUtteranceAudioCallback(callback func(utterance *Utterance)) ConverseOption {
	return func(o *ConverseOptions) { o.onUtteranceAudio = callback }
}
