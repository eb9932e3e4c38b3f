// Package serial sends gesture commands to a microcontroller rig over a
// serial port.
package serial

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/robinglory/lingo-core/core/gestures"
)

const (
	defaultBaudRate = 115200
	// writeTimeout bounds a single command write. Gesture delivery must never
	// stall the conversation loop behind a wedged port.
	writeTimeout = 250 * time.Millisecond

	// settleDelay gives the microcontroller time to finish its reset after
	// the port opens; commands sent during reset are lost.
	settleDelay = 2 * time.Second
)

// Link is a gesture link over a serial port. It implements [gestures.Link].
type Link struct {
	port serial.Port

	mu     sync.Mutex
	closed bool
}

type LinkOption func(*linkConfig)

type linkConfig struct {
	baudRate int
	settle   time.Duration
}

// WithBaudRate overrides the default 115200 baud.
func WithBaudRate(baudRate int) LinkOption {
	return func(c *linkConfig) { c.baudRate = baudRate }
}

// WithSettleDelay overrides the post-open settle wait.
func WithSettleDelay(d time.Duration) LinkOption {
	return func(c *linkConfig) { c.settle = d }
}

func NewLink(portName string, opts ...LinkOption) (*Link, error) {
	config := linkConfig{baudRate: defaultBaudRate, settle: settleDelay}
	for _, opt := range opts {
		opt(&config)
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: config.baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open gesture port %s: %w", portName, err)
	}
	if err := port.SetWriteTimeout(writeTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set write timeout on gesture port: %w", err)
	}

	time.Sleep(config.settle)

	return &Link{port: port}, nil
}

var _ gestures.Link = (*Link)(nil)

func (l *Link) Send(cmd gestures.Command) error {
	token, err := cmd.WireToken()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("gesture link closed")
	}

	if _, err := l.port.Write([]byte(token + "\n")); err != nil {
		return fmt.Errorf("failed to write gesture command: %w", err)
	}
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.port.Close(); err != nil {
		return fmt.Errorf("failed to close gesture port: %w", err)
	}
	return nil
}
