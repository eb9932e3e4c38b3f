// Package orchestration ties voice capture, utterance segmentation, language
// model dispatch, speech synthesis and gesture control into one conversation
// session.
package orchestration

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robinglory/lingo-core/core/llms"
)

// Stage is the externally visible conversation state. Every transition is
// reported through the stage-change callback; consumers can mirror it on a
// display or a gesture rig without tracking pipeline internals.
type Stage string

const (
	// StageIdle means no capture or playback is in progress.
	StageIdle Stage = "idle"
	// StageListening means the microphone is live and the segmenter is
	// waiting for, or accumulating, an utterance.
	StageListening Stage = "listening"
	// StageThinking means an utterance is being transcribed or a reply is
	// being generated.
	StageThinking Stage = "thinking"
	// StageTalking means reply audio is being played.
	StageTalking Stage = "talking"
	// StageError means the last turn failed terminally; the session recovers
	// to listening or idle after the fallback reply.
	StageError Stage = "error"
)

// ErrorKind classifies terminal turn failures for the error callback.
type ErrorKind string

const (
	// ErrorKindDispatch means every language-model provider failed or was
	// unavailable for the turn.
	ErrorKindDispatch ErrorKind = "dispatch"
	// ErrorKindSynthesis means the speech engine failed and could not be
	// restarted; the reply was delivered as text only.
	ErrorKindSynthesis ErrorKind = "synthesis"
	// ErrorKindTranscription means the utterance could not be transcribed.
	ErrorKindTranscription ErrorKind = "transcription"
)

// Session is the accumulated state of one conversation: its identity and the
// ordered transcript of finalized turns.
type Session struct {
	ID string

	mu    sync.RWMutex
	turns []llms.Turn
}

func newSession() *Session {
	return &Session{ID: uuid.NewString()}
}

func (s *Session) appendTurn(role llms.Role, content string) {
	if s == nil || content == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, llms.Turn{Role: role, Content: content, Timestamp: time.Now()})
}

// History returns a copy of the finalized turns, oldest first.
func (s *Session) History() []llms.Turn {
	if s == nil {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]llms.Turn, len(s.turns))
	copy(history, s.turns)
	return history
}
