package deepgram

import (
	"context"
	"fmt"
	"slices"

	"github.com/robinglory/lingo-core/core/texttospeech"
)

type deepgramVoice string

const (
	VoiceAuraAsteria deepgramVoice = "aura-2-asteria-en"
	VoiceAuraLuna    deepgramVoice = "aura-2-luna-en"
	VoiceAuraOrion   deepgramVoice = "aura-2-orion-en"
	VoiceAuraThalia  deepgramVoice = "aura-2-thalia-en"

	defaultVoice = VoiceAuraThalia
)

func GetAvailableVoices() []deepgramVoice {
	return []deepgramVoice{VoiceAuraAsteria, VoiceAuraLuna, VoiceAuraOrion, VoiceAuraThalia}
}

// TextToSpeechClient starts websocket speak workers against Deepgram. It
// implements [texttospeech.WorkerFactory].
type TextToSpeechClient struct {
	voice  deepgramVoice
	apiKey string
}

type TextToSpeechClientOption func(*TextToSpeechClient)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment lookup.
func WithAPIKey(apiKey string) TextToSpeechClientOption {
	return func(c *TextToSpeechClient) { c.apiKey = apiKey }
}

func NewTextToSpeechClient(voice deepgramVoice, opts ...TextToSpeechClientOption) (*TextToSpeechClient, error) {
	client := &TextToSpeechClient{voice: defaultVoice}

	if !slices.Contains(GetAvailableVoices(), voice) {
		return nil, fmt.Errorf("invalid voice")
	}

	client.voice = voice
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

func (c *TextToSpeechClient) SetVoice(voice deepgramVoice) {
	c.voice = voice
}

var _ texttospeech.WorkerFactory = (*TextToSpeechClient)(nil)

func (c *TextToSpeechClient) NewSpeechWorker(ctx context.Context, opts ...texttospeech.SpeechWorkerOption) (texttospeech.SpeechWorker, error) {
	return newStreamingWorker(ctx, c, opts...)
}
