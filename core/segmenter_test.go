package orchestration

import (
	"testing"
	"time"

	"github.com/robinglory/lingo-core/core/audio"
)

// scriptedClassifier returns a fixed verdict per frame, in push order.
type scriptedClassifier struct {
	verdicts []bool
	calls    int
}

func (c *scriptedClassifier) IsSpeech([]byte) bool {
	verdict := false
	if c.calls < len(c.verdicts) {
		verdict = c.verdicts[c.calls]
	}
	c.calls++
	return verdict
}

func testFrame(encoding audio.EncodingInfo, duration time.Duration) audio.Frame {
	return audio.Frame{PCM: make([]byte, encoding.BytesFor(duration)), Timestamp: time.Now()}
}

func repeat(verdict bool, n int) []bool {
	verdicts := make([]bool, n)
	for i := range verdicts {
		verdicts[i] = verdict
	}
	return verdicts
}

func TestSegmenterRequiresConsecutiveSpeechFrames(t *testing.T) {
	encoding := audio.GetDefaultEncodingInfo()
	classifier := &scriptedClassifier{verdicts: []bool{true, true, false, true, true}}

	started := 0
	segmenter := newUtteranceSegmenter(classifier, encoding, func() { started++ })

	for range 5 {
		if utterance := segmenter.Push(testFrame(encoding, 30*time.Millisecond)); utterance != nil {
			t.Fatal("expected no utterance while activation is pending")
		}
	}

	if started != 0 {
		t.Errorf("expected no activation after interrupted speech run, got %d", started)
	}
}

func TestSegmenterFinalizesOnTrailingSilence(t *testing.T) {
	encoding := audio.GetDefaultEncodingInfo()

	speechFrames := 10
	silenceFrames := 4
	classifier := &scriptedClassifier{
		verdicts: append(repeat(true, speechFrames), repeat(false, silenceFrames)...),
	}

	started := 0
	segmenter := newUtteranceSegmenter(classifier, encoding, func() { started++ })
	segmenter.silenceTimeout = 120 * time.Millisecond

	var utterance *Utterance
	for range speechFrames + silenceFrames {
		if u := segmenter.Push(testFrame(encoding, 30*time.Millisecond)); u != nil {
			utterance = u
		}
	}

	if utterance == nil {
		t.Fatal("expected an utterance after trailing silence")
	}
	if utterance.Forced {
		t.Error("expected silence finalization, not a forced one")
	}
	if started != 1 {
		t.Errorf("expected exactly one speech-started signal, got %d", started)
	}

	wantBytes := encoding.BytesFor(time.Duration(speechFrames+silenceFrames) * 30 * time.Millisecond)
	if len(utterance.PCM) != wantBytes {
		t.Errorf("expected utterance of %d bytes (activation frames included), got %d", wantBytes, len(utterance.PCM))
	}
}

func TestSegmenterForcesFinalizationAtLengthCap(t *testing.T) {
	encoding := audio.GetDefaultEncodingInfo()
	classifier := &scriptedClassifier{verdicts: repeat(true, 100)}

	segmenter := newUtteranceSegmenter(classifier, encoding, nil)
	segmenter.maxUtterance = 300 * time.Millisecond

	var utterance *Utterance
	frames := 0
	for range 100 {
		frames++
		if u := segmenter.Push(testFrame(encoding, 30*time.Millisecond)); u != nil {
			utterance = u
			break
		}
	}

	if utterance == nil {
		t.Fatal("expected a forced utterance at the length cap")
	}
	if !utterance.Forced {
		t.Error("expected utterance to be marked as forced")
	}
	if frames != 10 {
		t.Errorf("expected finalization on frame 10, got frame %d", frames)
	}
}

func TestSegmenterEmitsSeparateUtterances(t *testing.T) {
	encoding := audio.GetDefaultEncodingInfo()
	verdicts := append(repeat(true, 5), repeat(false, 2)...)
	verdicts = append(verdicts, repeat(true, 5)...)
	verdicts = append(verdicts, repeat(false, 2)...)
	classifier := &scriptedClassifier{verdicts: verdicts}

	segmenter := newUtteranceSegmenter(classifier, encoding, nil)
	segmenter.silenceTimeout = 60 * time.Millisecond

	utterances := 0
	for range len(verdicts) {
		if u := segmenter.Push(testFrame(encoding, 30*time.Millisecond)); u != nil {
			utterances++
		}
	}

	if utterances != 2 {
		t.Errorf("expected 2 utterances, got %d", utterances)
	}
}

// TestSegmenterBridgesShortSilenceGap plays speech with an intra-utterance
// pause shorter than the silence timeout. The pause must not split the
// utterance in two.
func TestSegmenterBridgesShortSilenceGap(t *testing.T) {
	encoding := audio.GetDefaultEncodingInfo()
	verdicts := append(repeat(true, 5), repeat(false, 2)...) // 60ms pause, under the timeout
	verdicts = append(verdicts, repeat(true, 5)...)
	verdicts = append(verdicts, repeat(false, 4)...)
	classifier := &scriptedClassifier{verdicts: verdicts}

	segmenter := newUtteranceSegmenter(classifier, encoding, nil)
	segmenter.silenceTimeout = 120 * time.Millisecond

	var utterances []*Utterance
	for range len(verdicts) {
		if u := segmenter.Push(testFrame(encoding, 30*time.Millisecond)); u != nil {
			utterances = append(utterances, u)
		}
	}

	if len(utterances) != 1 {
		t.Fatalf("expected the pause to be bridged into one utterance, got %d", len(utterances))
	}
	if utterances[0].Forced {
		t.Error("expected silence finalization, not a forced one")
	}

	wantBytes := encoding.BytesFor(time.Duration(len(verdicts)) * 30 * time.Millisecond)
	if len(utterances[0].PCM) != wantBytes {
		t.Errorf("expected the pause audio kept in the utterance, got %d bytes, want %d", len(utterances[0].PCM), wantBytes)
	}
}

func TestSegmenterResetDropsPartialUtterance(t *testing.T) {
	encoding := audio.GetDefaultEncodingInfo()
	classifier := &scriptedClassifier{verdicts: repeat(true, 20)}

	segmenter := newUtteranceSegmenter(classifier, encoding, nil)
	for range 5 {
		segmenter.Push(testFrame(encoding, 30*time.Millisecond))
	}
	segmenter.Reset()

	if segmenter.active {
		t.Error("expected segmenter to be inactive after reset")
	}
	if len(segmenter.utterance) != 0 {
		t.Error("expected buffered audio to be dropped on reset")
	}
}
