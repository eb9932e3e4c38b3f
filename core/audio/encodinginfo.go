package audio

import "time"

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// BytesFor returns the number of PCM bytes covering the given duration.
func (e EncodingInfo) BytesFor(d time.Duration) int {
	if e.IsZero() || e.Format.ByteSize() <= 0 {
		return 0
	}
	samples := int(float64(e.SampleRate) * d.Seconds())
	return samples * e.Format.ByteSize()
}

// Duration returns the playback duration of n PCM bytes.
func (e EncodingInfo) Duration(n int) time.Duration {
	if e.IsZero() || e.Format.ByteSize() <= 0 {
		return 0
	}
	samples := n / e.Format.ByteSize()
	return time.Duration(float64(samples) / float64(e.SampleRate) * float64(time.Second))
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
