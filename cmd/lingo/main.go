// Command lingo runs a voice conversation session in the terminal. It wires
// the microphone, the OpenRouter providers, transcription, speech synthesis
// and the optional gesture rig into one orchestrator and renders the session
// through a small TUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/robinglory/lingo-core/core"
	"github.com/robinglory/lingo-core/core/audio/miniaudio"
	serialgestures "github.com/robinglory/lingo-core/core/gestures/serial"
	"github.com/robinglory/lingo-core/core/llms"
	"github.com/robinglory/lingo-core/core/llms/openrouter"
	sttdeepgram "github.com/robinglory/lingo-core/core/speechtotext/deepgram"
	"github.com/robinglory/lingo-core/core/texttospeech"
	ttsdeepgram "github.com/robinglory/lingo-core/core/texttospeech/deepgram"
	"github.com/robinglory/lingo-core/core/texttospeech/piper"
	"github.com/robinglory/lingo-core/internal/logging"
)

const defaultModels = "qwen/qwen3-32b,mistralai/mistral-small-3.2-24b-instruct,openai/gpt-oss-120b"

type options struct {
	logPath     string
	models      string
	hedgeDelay  time.Duration
	textOnly    bool
	ttsBackend  string
	piperVoice  string
	gesturePort string
}

func main() {
	os.Exit(run())
}

func run() int {
	var opt options
	flag.StringVar(&opt.logPath, "log", "", "log file path (empty discards logs)")
	flag.StringVar(&opt.models, "models", defaultModels, "comma-separated OpenRouter models in failover priority order")
	flag.DurationVar(&opt.hedgeDelay, "hedge", 0, "first-token hedge delay before racing the next provider (0 uses the default)")
	flag.BoolVar(&opt.textOnly, "text-only", false, "disable microphone and speaker; converse by typing")
	flag.StringVar(&opt.ttsBackend, "tts", "deepgram", "speech synthesis backend: deepgram, piper or off")
	flag.StringVar(&opt.piperVoice, "piper-voice", "", "path to a piper .onnx voice (required with -tts piper)")
	flag.StringVar(&opt.gesturePort, "gesture-port", "", "serial port of the gesture rig (empty disables gestures)")
	flag.Parse()

	cleanup, err := logging.Setup(opt.logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logging:", err)
		return 1
	}
	defer cleanup()

	providers, err := buildProviders(opt.models)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	orchestratorOpts := []orchestration.OrchestratorOption{
		orchestration.WithProviders(providers...),
	}
	if opt.hedgeDelay > 0 {
		orchestratorOpts = append(orchestratorOpts, orchestration.WithHedgeDelay(opt.hedgeDelay))
	}

	if !opt.textOnly {
		audioClient, err := miniaudio.NewClient()
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to open audio devices:", err)
			return 1
		}
		defer audioClient.Close()

		transcriber, err := sttdeepgram.NewTranscriptionClient()
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to create transcriber:", err)
			return 1
		}

		orchestratorOpts = append(orchestratorOpts,
			orchestration.WithAudioInput(audioClient),
			orchestration.WithAudioOutput(audioClient),
			orchestration.WithTranscriber(transcriber),
		)
	}

	speechFactory, err := buildSpeechFactory(opt)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if speechFactory != nil {
		orchestratorOpts = append(orchestratorOpts, orchestration.WithSpeechWorkerFactory(speechFactory))
	}

	if opt.gesturePort != "" {
		link, err := serialgestures.NewLink(opt.gesturePort)
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to open gesture link:", err)
			return 1
		}
		orchestratorOpts = append(orchestratorOpts, orchestration.WithGestureLink(link))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := orchestration.NewOrchestrator(orchestratorOpts...)
	defer orch.Close()

	program := tea.NewProgram(newSessionModel(orch, opt.textOnly), tea.WithAltScreen(), tea.WithContext(ctx))

	// Converse fires hooks synchronously while starting capture, and Send
	// only delivers once the program loop is running, so the session starts
	// from its own goroutine.
	go func() {
		err := orch.Converse(ctx,
			orchestration.WithStageChangeCallback(func(stage orchestration.Stage) {
				program.Send(stageChangedMsg{stage: stage})
			}),
			orchestration.WithTranscriptCallback(func(transcript string) {
				program.Send(transcriptMsg{text: transcript})
			}),
			orchestration.WithResponseCallback(func(response string) {
				program.Send(responseDeltaMsg{text: response})
			}),
			orchestration.WithResponseEndCallback(func(response string) {
				program.Send(responseEndMsg{text: response})
			}),
			orchestration.WithErrorCallback(func(kind orchestration.ErrorKind, err error) {
				program.Send(turnErrorMsg{kind: kind, err: err})
			}),
		)
		if err != nil {
			program.Send(sessionStartFailedMsg{err: err})
		}
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "session ended with error:", err)
		return 1
	}
	return 0
}

// buildProviders turns the model list into prioritized OpenRouter clients.
// All models share the OPENROUTER_API_KEY credential.
func buildProviders(models string) ([]orchestration.ConfiguredProvider, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENROUTER_API_KEY")
	}

	var providers []orchestration.ConfiguredProvider
	for i, model := range strings.Split(models, ",") {
		model = strings.TrimSpace(model)
		if model == "" {
			continue
		}

		config := llms.ProviderConfig{
			Name:              providerName(model),
			Priority:          i,
			Model:             model,
			APIKey:            apiKey,
			RequestsPerWindow: 20,
			RateWindow:        time.Minute,
			RequestTimeout:    30 * time.Second,
		}
		client := openrouter.NewClient(config,
			openrouter.WithMaxTokens(300),
			openrouter.WithHeader("X-Title", "lingo"),
		)
		providers = append(providers, orchestration.NewProvider(config, client))
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	return providers, nil
}

// providerName derives a short log-friendly name from the model slug, e.g.
// "qwen/qwen3-32b" becomes "qwen".
func providerName(model string) string {
	if idx := strings.Index(model, "/"); idx > 0 {
		return model[:idx]
	}
	return model
}

func buildSpeechFactory(opt options) (texttospeech.WorkerFactory, error) {
	switch opt.ttsBackend {
	case "deepgram":
		client, err := ttsdeepgram.NewTextToSpeechClient(ttsdeepgram.VoiceAuraThalia)
		if err != nil {
			return nil, fmt.Errorf("failed to create speech client: %w", err)
		}
		return client, nil
	case "piper":
		if opt.piperVoice == "" {
			return nil, fmt.Errorf("-tts piper requires -piper-voice")
		}
		engine, err := piper.NewEngine(opt.piperVoice)
		if err != nil {
			return nil, fmt.Errorf("failed to start piper: %w", err)
		}
		return engine, nil
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("-tts must be deepgram, piper or off")
	}
}
