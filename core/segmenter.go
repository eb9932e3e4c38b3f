package orchestration

import (
	"time"

	"github.com/google/uuid"
	"github.com/robinglory/lingo-core/core/audio"
	"github.com/robinglory/lingo-core/core/vad"
)

const (
	defaultActivationFrames = 3
	defaultSilenceTimeout   = 2000 * time.Millisecond
	defaultMaxUtterance     = 10 * time.Second
)

// Utterance is one contiguous block of speech cut out of the input stream.
type Utterance struct {
	ID  string
	PCM []byte

	Start time.Time
	End   time.Time

	// Forced marks an utterance finalized by the length cap rather than
	// trailing silence.
	Forced bool
}

// Duration returns the utterance length under the given encoding.
func (u *Utterance) Duration(encoding audio.EncodingInfo) time.Duration {
	return encoding.Duration(len(u.PCM))
}

// utteranceSegmenter turns a stream of fixed-duration audio frames into
// discrete utterances. It is push-driven and never blocks: each frame either
// extends internal state or finalizes at most one utterance.
type utteranceSegmenter struct {
	classifier vad.Classifier
	encoding   audio.EncodingInfo

	activationFrames int
	silenceTimeout   time.Duration
	maxUtterance     time.Duration

	// onSpeechStarted fires on the frame that activates an utterance. It runs
	// inline on the capture path and must not block.
	onSpeechStarted func()

	active        bool
	pendingSpeech []audio.Frame
	utterance     []byte
	startedAt     time.Time
	silenceSince  time.Duration
	accumulated   time.Duration
}

func newUtteranceSegmenter(classifier vad.Classifier, encoding audio.EncodingInfo, onSpeechStarted func()) *utteranceSegmenter {
	if classifier == nil {
		classifier = vad.NewEnergyGate()
	}
	if onSpeechStarted == nil {
		onSpeechStarted = func() {}
	}

	return &utteranceSegmenter{
		classifier:       classifier,
		encoding:         encoding,
		activationFrames: defaultActivationFrames,
		silenceTimeout:   defaultSilenceTimeout,
		maxUtterance:     defaultMaxUtterance,
		onSpeechStarted:  onSpeechStarted,
	}
}

// Push classifies one frame and returns a finalized utterance or nil.
func (s *utteranceSegmenter) Push(frame audio.Frame) *Utterance {
	isSpeech := s.classifier.IsSpeech(frame.PCM)

	if !s.active {
		return s.pushIdle(frame, isSpeech)
	}
	return s.pushActive(frame, isSpeech)
}

// pushIdle waits for enough consecutive speech frames to rule out a transient
// spike. A single silence frame resets the run.
func (s *utteranceSegmenter) pushIdle(frame audio.Frame, isSpeech bool) *Utterance {
	if !isSpeech {
		s.pendingSpeech = nil
		return nil
	}

	s.pendingSpeech = append(s.pendingSpeech, frame)
	if len(s.pendingSpeech) < s.activationFrames {
		return nil
	}

	s.active = true
	s.startedAt = s.pendingSpeech[0].Timestamp
	s.utterance = nil
	s.accumulated = 0
	s.silenceSince = 0
	for _, pending := range s.pendingSpeech {
		s.utterance = append(s.utterance, pending.PCM...)
		s.accumulated += pending.Duration(s.encoding)
	}
	s.pendingSpeech = nil

	s.onSpeechStarted()
	return nil
}

func (s *utteranceSegmenter) pushActive(frame audio.Frame, isSpeech bool) *Utterance {
	s.utterance = append(s.utterance, frame.PCM...)
	frameDuration := frame.Duration(s.encoding)
	s.accumulated += frameDuration

	if isSpeech {
		s.silenceSince = 0
	} else {
		s.silenceSince += frameDuration
	}

	if s.silenceSince >= s.silenceTimeout {
		return s.finalize(frame.Timestamp, false)
	}
	if s.accumulated >= s.maxUtterance {
		return s.finalize(frame.Timestamp, true)
	}
	return nil
}

func (s *utteranceSegmenter) finalize(end time.Time, forced bool) *Utterance {
	utterance := &Utterance{
		ID:     uuid.NewString(),
		PCM:    s.utterance,
		Start:  s.startedAt,
		End:    end,
		Forced: forced,
	}

	s.active = false
	s.utterance = nil
	s.silenceSince = 0
	s.accumulated = 0

	return utterance
}

// Reset drops any partial utterance and pending activation frames.
func (s *utteranceSegmenter) Reset() {
	s.active = false
	s.pendingSpeech = nil
	s.utterance = nil
	s.silenceSince = 0
	s.accumulated = 0
}
