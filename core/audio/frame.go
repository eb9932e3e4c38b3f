package audio

import "time"

// Frame is one fixed-duration block of PCM samples as delivered by an input
// source. Frames are transient: consumers classify and either buffer or
// discard them, they are never retained past segmentation.
type Frame struct {
	PCM       []byte
	Timestamp time.Time
}

// Duration returns the playback duration of the frame under the given
// encoding.
func (f Frame) Duration(encoding EncodingInfo) time.Duration {
	return encoding.Duration(len(f.PCM))
}
