// Package miniaudio provides microphone capture and speaker playback through
// the miniaudio library. It is the default audio backend.
package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/robinglory/lingo-core/core/audio"
)

// Client owns one miniaudio context with a capture and a playback device on
// it. Both devices run at the same sample rate; resampling between engines
// is not this layer's job.
type Client struct {
	// audioContext is only held for teardown, the devices carry their own
	// reference.
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo

	playbackClient
	captureClient
}

type ClientOption func(*Client)

// WithSampleRate overrides the default capture and playback sample rate.
func WithSampleRate(sampleRate int) ClientOption {
	return func(c *Client) { c.encoding.SampleRate = sampleRate }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encoding:     audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(&client)
	}

	if err := client.playbackClient.Init(audioCtx, client.encoding.SampleRate); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.captureClient.Init(audioCtx, client.encoding.SampleRate); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return &client, nil
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) StartPlayback(_ context.Context) error {
	return c.playbackClient.Start()
}

func (c *Client) StopPlayback() error {
	return c.playbackClient.Stop()
}

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playbackClient.SendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playbackClient.ClearBuffer()
}

func (c *Client) AwaitMark() error {
	return c.playbackClient.AwaitMark()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}
