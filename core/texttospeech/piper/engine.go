// Package piper drives a local piper text-to-speech process as a persistent
// synthesis engine. The process is spawned once (model load is the expensive
// part) and kept warm across conversation turns; each turn opens a session
// that appends text to the process stdin and receives raw PCM chunks read
// from its stdout.
package piper

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/robinglory/lingo-core/core/audio"
	"github.com/robinglory/lingo-core/core/texttospeech"
)

const (
	defaultSampleRate = 22050
	// chunkBytes is the PCM slice size handed to the audio callback; ~1/8s
	// of 16-bit mono audio at the default sample rate.
	chunkBytes = 5512

	// quiesceDelay is how long stdout has to stay silent after end-of-text
	// before the turn counts as fully synthesized. Piper exposes no explicit
	// completion signal on its raw stream.
	quiesceDelay = 600 * time.Millisecond
)

// Engine is a persistent piper process. It implements
// [texttospeech.WorkerFactory]; sessions share the one process.
type Engine struct {
	binary    string
	voicePath string
	encoding  audio.EncodingInfo

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	restarted bool

	sessionMu sync.Mutex
	session   *session
}

type EngineOption func(*Engine)

// WithBinary overrides the piper executable path.
func WithBinary(path string) EngineOption {
	return func(e *Engine) { e.binary = path }
}

func NewEngine(voicePath string, opts ...EngineOption) (*Engine, error) {
	if _, err := os.Stat(voicePath); err != nil {
		return nil, fmt.Errorf("voice model not found: %w", err)
	}

	engine := &Engine{
		binary:    "piper",
		voicePath: voicePath,
	}
	for _, opt := range opts {
		opt(engine)
	}

	engine.encoding = audio.EncodingInfo{
		SampleRate: inferSampleRate(voicePath),
		Format:     audio.EncodingLinear16,
	}

	if err := engine.start(); err != nil {
		return nil, err
	}

	return engine, nil
}

// inferSampleRate reads the voice's sidecar JSON for its sample rate. Using
// the wrong rate produces static, so the sidecar is authoritative; the
// default only covers voices shipped without one.
func inferSampleRate(voicePath string) int {
	sidecarPath := strings.TrimSuffix(voicePath, ".onnx") + ".json"
	sidecar, err := os.ReadFile(sidecarPath)
	if err != nil {
		return defaultSampleRate
	}

	var meta struct {
		SampleRate int `json:"sample_rate"`
		Audio      struct {
			SampleRate int `json:"sample_rate"`
		} `json:"audio"`
	}
	if err := json.Unmarshal(sidecar, &meta); err != nil {
		return defaultSampleRate
	}

	if meta.SampleRate > 0 {
		return meta.SampleRate
	}
	if meta.Audio.SampleRate > 0 {
		return meta.Audio.SampleRate
	}
	return defaultSampleRate
}

func (e *Engine) EncodingInfo() audio.EncodingInfo { return e.encoding }

func (e *Engine) start() error {
	cmd := exec.Command(e.binary, "--model", e.voicePath, "--output-raw", "--sentence_silence", "0.25")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open piper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open piper stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start piper: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = stdout

	go e.readAudio(stdout)

	return nil
}

// readAudio pumps raw PCM from the shared process into whichever session is
// currently active. Audio produced with no active session is discarded.
func (e *Engine) readAudio(stdout io.ReadCloser) {
	reader := bufio.NewReader(stdout)
	buf := make([]byte, chunkBytes)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			e.sessionMu.Lock()
			session := e.session
			e.sessionMu.Unlock()
			if session != nil {
				session.deliver(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

func (e *Engine) say(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := io.WriteString(e.stdin, text+"\n"); err != nil {
		// One restart attempt on a broken pipe; a second failure surfaces.
		if e.restarted {
			return fmt.Errorf("failed to write to piper after restart: %w", err)
		}
		e.restarted = true
		e.stopLocked()
		if err := e.start(); err != nil {
			return fmt.Errorf("failed to restart piper: %w", err)
		}
		if _, err := io.WriteString(e.stdin, text+"\n"); err != nil {
			return fmt.Errorf("failed to write to restarted piper: %w", err)
		}
		return nil
	}

	e.restarted = false
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *Engine) stopLocked() {
	if e.stdin != nil {
		_ = e.stdin.Close()
	}
	if e.stdout != nil {
		_ = e.stdout.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
		_ = e.cmd.Wait()
	}
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil
}

var _ texttospeech.WorkerFactory = (*Engine)(nil)

func (e *Engine) NewSpeechWorker(_ context.Context, opts ...texttospeech.SpeechWorkerOption) (texttospeech.SpeechWorker, error) {
	options := texttospeech.DefaultOptions()
	options.EncodingInfo = e.encoding
	for _, opt := range opts {
		opt(&options)
	}
	if options.EncodingInfo.SampleRate != e.encoding.SampleRate {
		return nil, fmt.Errorf("requested sample rate %d does not match voice sample rate %d",
			options.EncodingInfo.SampleRate, e.encoding.SampleRate)
	}

	session := &session{engine: e, options: options}

	e.sessionMu.Lock()
	e.session = session
	e.sessionMu.Unlock()

	return session, nil
}

// session is one turn against the shared engine. Marks are approximate:
// piper's raw stream has no flush protocol, so marks and end-of-text resolve
// once stdout goes quiet.
type session struct {
	engine  *Engine
	options texttospeech.SpeechWorkerOptions

	mu           sync.Mutex
	pendingText  []string
	pendingMarks []string
	textComplete bool
	cancelled    bool
	closed       bool

	quiesce *time.Timer
}

func (s *session) EncodingInfo() audio.EncodingInfo { return s.options.EncodingInfo }

func (s *session) deliver(chunk []byte) {
	s.mu.Lock()
	if s.cancelled || s.closed {
		s.mu.Unlock()
		return
	}
	s.armQuiesceLocked()
	s.mu.Unlock()

	s.options.SpeechAudioCallback(chunk)
}

func (s *session) armQuiesceLocked() {
	if !s.textComplete {
		return
	}
	if s.quiesce != nil {
		s.quiesce.Reset(quiesceDelay)
		return
	}
	s.quiesce = time.AfterFunc(quiesceDelay, s.finishTurn)
}

func (s *session) finishTurn() {
	s.mu.Lock()
	if s.cancelled || s.closed {
		s.mu.Unlock()
		return
	}
	marks := s.pendingMarks
	s.pendingMarks = nil
	s.closed = true
	s.mu.Unlock()

	for _, mark := range marks {
		s.options.SpeechMarkCallback(mark)
	}
	s.options.SpeechEndedCallback()
	s.detach()
}

func (s *session) SendText(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("speech worker closed")
	} else if s.cancelled {
		s.mu.Unlock()
		return fmt.Errorf("speech worker cancelled")
	} else if s.textComplete {
		s.mu.Unlock()
		return fmt.Errorf("speech worker text already completed")
	}
	s.pendingText = append(s.pendingText, text)
	s.mu.Unlock()
	return nil
}

func (s *session) Mark() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cancelled {
		return fmt.Errorf("speech worker unavailable")
	}

	segment := strings.Join(s.pendingText, "")
	s.pendingText = nil
	s.pendingMarks = append(s.pendingMarks, segment)
	if segment != "" {
		if err := s.engine.say(segment); err != nil {
			s.options.ErrorCallback(err)
			return err
		}
	}
	return nil
}

func (s *session) EndOfText() error {
	s.mu.Lock()
	if s.closed || s.cancelled {
		s.mu.Unlock()
		return fmt.Errorf("speech worker unavailable")
	}
	if s.textComplete {
		s.mu.Unlock()
		return nil
	}

	segment := strings.Join(s.pendingText, "")
	s.pendingText = nil
	s.textComplete = true
	s.armQuiesceLocked()
	s.mu.Unlock()

	if segment != "" {
		if err := s.engine.say(segment); err != nil {
			s.options.ErrorCallback(err)
			return err
		}
	}
	return nil
}

func (s *session) Cancel() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("speech worker closed")
	}
	if s.cancelled {
		s.mu.Unlock()
		return nil
	}
	s.cancelled = true
	s.pendingText = nil
	s.pendingMarks = nil
	if s.quiesce != nil {
		s.quiesce.Stop()
	}
	s.mu.Unlock()

	s.detach()
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.quiesce != nil {
		s.quiesce.Stop()
	}
	s.mu.Unlock()

	s.detach()
	return nil
}

func (s *session) detach() {
	s.engine.sessionMu.Lock()
	if s.engine.session == s {
		s.engine.session = nil
	}
	s.engine.sessionMu.Unlock()
}
