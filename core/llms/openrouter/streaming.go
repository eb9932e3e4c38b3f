package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/jinzhu/copier"
	"github.com/robinglory/lingo-core/core/llms"
	"github.com/robinglory/lingo-core/internal/utils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"

	chunkPrefix = "data:"
	endMessage  = "[DONE]"
)

// Client is a streaming chat-completions client for OpenRouter-compatible
// endpoints. One Client serves one configured provider.
type Client struct {
	config llms.ProviderConfig

	maxTokens   int
	temperature *float64
	stop        []string
	headers     http.Header

	httpClient *http.Client
}

type ClientOption func(*Client)

// WithMaxTokens caps the response length per request.
func WithMaxTokens(maxTokens int) ClientOption {
	return func(c *Client) { c.maxTokens = maxTokens }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) ClientOption {
	return func(c *Client) { c.temperature = utils.Ptr(temperature) }
}

// WithStopSequences sets stop sequences to keep replies short and snappy.
func WithStopSequences(stop ...string) ClientOption {
	return func(c *Client) { c.stop = append([]string(nil), stop...) }
}

// WithHeader adds a header to every request, e.g. the HTTP-Referer and
// X-Title attribution headers OpenRouter expects.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers.Set(key, value) }
}

func NewClient(config llms.ProviderConfig, opts ...ClientOption) *Client {
	if config.Endpoint == "" {
		config.Endpoint = defaultEndpoint
	}

	client := &Client{
		config:  config,
		headers: http.Header{},
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
					return operationName + " " + request.URL.Path
				}),
			),
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) Name() string { return c.config.Name }

// Config returns a copy of the provider configuration the client was built
// with.
func (c *Client) Config() llms.ProviderConfig { return c.config }

func (c *Client) Stream(_ context.Context, req llms.Request) llms.Stream {
	messages := toMessages(req.Instructions, req.History)
	messages = append(messages, message{Role: messageRoleUser, Content: req.Prompt})

	return &stream{client: c, messages: messages, attempt: req.Attempt}
}

type stream struct {
	client   *Client
	messages []message
	attempt  int
}

func (s *stream) Increments(ctx context.Context) iter.Seq2[llms.TextIncrement, error] {
	requestStartedAt := time.Time{}
	recordFirstToken := func(span trace.Span) {
		if requestStartedAt.IsZero() {
			return
		}
		span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestStartedAt).Seconds()))
		span.AddEvent("received first chunk")
		requestStartedAt = time.Time{}
	}

	return func(yield func(llms.TextIncrement, error) bool) {
		config := s.client.config
		ctx, span := tracer.Start(ctx, "prompt llm stream")
		defer span.End()
		span.SetAttributes(
			attribute.String("request.provider", config.Name),
			attribute.String("request.model", config.Model),
			attribute.Int("request.attempt", s.attempt),
		)

		// The request owns its own copy of the message history; the caller may
		// retry against another provider while this stream is still draining.
		var messages []message
		if err := copier.Copy(&messages, s.messages); err != nil {
			yield(llms.TextIncrement{}, llms.NewProviderError(config.Name, 0, fmt.Errorf("error copying messages: %w", err)))
			return
		}

		reqBody := requestBody{
			Model:       config.Model,
			Messages:    messages,
			Stream:      true,
			MaxTokens:   s.client.maxTokens,
			Temperature: s.client.temperature,
			Stop:        s.client.stop,
		}

		requestBodyBytes, err := json.Marshal(reqBody)
		if err != nil {
			err = fmt.Errorf("error marshalling JSON: %w", err)
			span.RecordError(err)
			yield(llms.TextIncrement{}, llms.NewProviderError(config.Name, 0, err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", config.Endpoint, bytes.NewBuffer(requestBodyBytes))
		if err != nil {
			err = fmt.Errorf("error creating HTTP request: %w", err)
			span.RecordError(err)
			yield(llms.TextIncrement{}, llms.NewProviderError(config.Name, 0, err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+config.APIKey)
		for key, values := range s.client.headers {
			for _, value := range values {
				req.Header.Set(key, value)
			}
		}

		span.SetAttributes(attribute.String("request.url", req.URL.String()))
		requestStartedAt = time.Now()
		span.AddEvent("request started")
		resp, err := s.client.httpClient.Do(req)
		if err != nil {
			err = fmt.Errorf("error sending request: %w", err)
			span.RecordError(err)
			yield(llms.TextIncrement{}, llms.NewProviderError(config.Name, 0, err))
			return
		}
		defer resp.Body.Close()

		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
		if resp.StatusCode != http.StatusOK {
			if errorBody, err := io.ReadAll(resp.Body); err != nil {
				span.RecordError(fmt.Errorf("error reading error body: %w", err))
			} else {
				span.SetAttributes(attribute.String("response.error", string(errorBody)))
			}

			err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
			span.RecordError(err)
			yield(llms.TextIncrement{}, llms.NewProviderError(config.Name, resp.StatusCode, err))
			return
		}

		seq := 0
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
			recordFirstToken(span)

			if len(chunk) == 0 {
				continue
			}

			if chunk == endMessage {
				break
			}

			var responseBody streamingResponseBody
			if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
				err = fmt.Errorf("error unmarshalling JSON: %w", err)
				span.RecordError(err)
				if !yield(llms.TextIncrement{}, llms.NewProviderError(config.Name, 0, err)) {
					return
				}
				continue
			}

			if len(responseBody.Choices) == 0 {
				continue
			}

			if content := responseBody.Choices[0].Delta.Content; content != "" {
				increment := llms.TextIncrement{
					Seq:      seq,
					Content:  content,
					Provider: config.Name,
				}
				seq++
				if !yield(increment, nil) {
					return
				}
			}

			if responseBody.Usage != nil {
				span.SetAttributes(
					attribute.Int("usage.prompt", responseBody.Usage.PromptTokens),
					attribute.Int("usage.completion", responseBody.Usage.CompletionTokens),
					attribute.Int("usage.total", responseBody.Usage.TotalTokens),
				)
			}
		}

		if err := scanner.Err(); err != nil {
			err = fmt.Errorf("error reading stream: %w", err)
			span.RecordError(err)
			yield(llms.TextIncrement{}, llms.NewProviderError(config.Name, 0, err))
			return
		}

		span.SetAttributes(attribute.Int("response.increments", seq))
	}
}
