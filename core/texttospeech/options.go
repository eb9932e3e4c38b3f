package texttospeech

import "github.com/robinglory/lingo-core/core/audio"

type SpeechWorkerOptions struct {
	// SpeechAudioCallback is called for every audio chunk the worker
	// produces, in synthesis order.
	SpeechAudioCallback func(audio []byte)
	// SpeechMarkCallback is called when speech has been produced up to a
	// marked point in the text. Each mark is reported once.
	SpeechMarkCallback func(string)
	// SpeechEndedCallback is called once all speech for the request has been
	// produced.
	SpeechEndedCallback func()
	// ErrorCallback is called when the worker fails. The worker is unusable
	// afterwards; recovery is a restart.
	ErrorCallback func(error)

	EncodingInfo audio.EncodingInfo
}

type SpeechWorkerOption func(*SpeechWorkerOptions)

func WithSpeechAudioCallback(callback func([]byte)) SpeechWorkerOption {
	return func(o *SpeechWorkerOptions) {
		o.SpeechAudioCallback = callback
	}
}

func WithSpeechMarkCallback(callback func(string)) SpeechWorkerOption {
	return func(o *SpeechWorkerOptions) {
		o.SpeechMarkCallback = callback
	}
}

func WithSpeechEndedCallback(callback func()) SpeechWorkerOption {
	return func(o *SpeechWorkerOptions) {
		o.SpeechEndedCallback = callback
	}
}

func WithErrorCallback(callback func(error)) SpeechWorkerOption {
	return func(o *SpeechWorkerOptions) {
		o.ErrorCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SpeechWorkerOption {
	return func(o *SpeechWorkerOptions) {
		if encodingInfo.IsZero() {
			return
		}

		o.EncodingInfo = encodingInfo
	}
}

// DefaultOptions returns options with no-op callbacks so workers never have
// to nil-check before invoking them.
func DefaultOptions() SpeechWorkerOptions {
	return SpeechWorkerOptions{
		SpeechAudioCallback: func([]byte) {},
		SpeechMarkCallback:  func(string) {},
		SpeechEndedCallback: func() {},
		ErrorCallback:       func(error) {},
		EncodingInfo:        audio.GetDefaultEncodingInfo(),
	}
}
