// Package portaudio provides an alternative audio backend over PortAudio,
// mostly useful on hosts where miniaudio device init misbehaves.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/gordonklaus/portaudio"
	"github.com/robinglory/lingo-core/core/audio"
)

type Client struct {
	bufferSize   int
	stream       *portaudio.Stream
	pendingAudio []byte

	in  []int16
	out []int16
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := c.stream.Read(); err != nil {
					log.Printf("Failed to read from portaudio stream: %v", err)
					continue
				}

				audioBuffer := bytes.Buffer{}
				_ = binary.Write(&audioBuffer, binary.LittleEndian, c.in)
				onAudio(audioBuffer.Bytes())
			}
		}
	}()
	return nil
}

func (c *Client) StopCapture() error {
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop portaudio stream: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

func (c *Client) SendAudio(audio []byte) error {
	chunkSize := c.bufferSize * 2

	audio = append(c.pendingAudio, audio...)
	for i := 0; ; i++ {
		if (i+1)*chunkSize > len(audio) {
			c.pendingAudio = make([]byte, len(audio)-i*chunkSize)
			copy(c.pendingAudio, audio[i*chunkSize:])
			break
		}

		_ = binary.Read(bytes.NewBuffer(audio[i*chunkSize:(i+1)*chunkSize]), binary.LittleEndian, c.out)
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
	}

	return nil
}

func (c *Client) ClearBuffer() {
	c.pendingAudio = nil
}

// AwaitMark drains whatever audio is still pending. The blocking stream
// writes make this synchronous with actual playback.
func (c *Client) AwaitMark() error {
	chunkSize := c.bufferSize * 2

	audio := c.pendingAudio
	c.pendingAudio = nil
	for i := 0; (i+1)*chunkSize <= len(audio); i++ {
		_ = binary.Read(bytes.NewBuffer(audio[i*chunkSize:(i+1)*chunkSize]), binary.LittleEndian, c.out)
		if err := c.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
	}
	return nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
