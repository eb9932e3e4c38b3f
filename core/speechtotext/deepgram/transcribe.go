package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest/interfaces"
	"github.com/robinglory/lingo-core/core/audio"
	"github.com/robinglory/lingo-core/core/speechtotext"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	listenEndpoint = "https://api.deepgram.com/v1/listen"

	defaultModel    = "nova-3"
	defaultLanguage = "en-US"
)

// TranscriptionClient transcribes finalized utterance audio through the
// Deepgram prerecorded API. The segmentation core already decided the
// utterance bounds, so each request carries one complete speech span.
type TranscriptionClient struct {
	apiKey     string
	httpClient *http.Client
}

type TranscriptionClientOption func(*TranscriptionClient)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment lookup.
func WithAPIKey(apiKey string) TranscriptionClientOption {
	return func(c *TranscriptionClient) { c.apiKey = apiKey }
}

func NewTranscriptionClient(opts ...TranscriptionClientOption) (*TranscriptionClient, error) {
	client := &TranscriptionClient{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		client.apiKey = apiKey
	}

	return client, nil
}

func (c *TranscriptionClient) TranscribeUtterance(ctx context.Context, pcm []byte, opts ...speechtotext.TranscriptionOption) (string, error) {
	options := &speechtotext.TranscriptionOptions{
		EncodingInfo: audio.GetDefaultEncodingInfo(),
		Language:     defaultLanguage,
		Model:        defaultModel,
	}
	for _, opt := range opts {
		opt(options)
	}

	ctx, span := tracer.Start(ctx, "transcribe utterance")
	defer span.End()
	span.SetAttributes(
		attribute.Int("request.audio_bytes", len(pcm)),
		attribute.String("request.model", options.Model),
	)

	encoding, err := convertEncoding(options.EncodingInfo)
	if err != nil {
		return "", fmt.Errorf("invalid encoding: %w", err)
	}

	listenUrl, _ := url.Parse(listenEndpoint)
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", options.Model)
	queryParams.Set("language", options.Language)
	queryParams.Set("smart_format", "true")
	listenUrl.RawQuery = queryParams.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", listenUrl.String(), bytes.NewReader(pcm))
	if err != nil {
		return "", fmt.Errorf("failed to create transcription request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "audio/raw")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordedErr := fmt.Errorf("failed to send transcription request: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return "", recordedErr
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("non-OK HTTP status: %s: %s", resp.Status, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var parsedResp api.PreRecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsedResp); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}

	transcript := extractTranscript(&parsedResp)
	span.SetAttributes(attribute.Int("response.transcript_length", len(transcript)))
	return transcript, nil
}

func extractTranscript(resp *api.PreRecordedResponse) string {
	if resp == nil || len(resp.Results.Channels) == 0 {
		return ""
	}

	channel := resp.Results.Channels[0]
	if len(channel.Alternatives) == 0 {
		return ""
	}

	return strings.TrimSpace(channel.Alternatives[0].Transcript)
}
