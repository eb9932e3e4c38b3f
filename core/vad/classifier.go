// Package vad classifies audio frames as speech or silence.
//
// The segmentation core only consumes the [Classifier] contract; the default
// implementation is a calibrating RMS energy gate. Anything smarter (WebRTC
// VAD bindings, model-based detectors) plugs in behind the same interface.
package vad

import (
	"encoding/binary"
	"math"
	"sort"
)

// Classifier reports whether a block of PCM samples contains speech.
type Classifier interface {
	IsSpeech(pcm []byte) bool
}

const (
	defaultCalibrationFrames = 16 // ~500ms of 30ms frames
	defaultEnergyMargin      = 2.0
	defaultEnergyMin         = 2200
	defaultEnergyMax         = 6000
)

// EnergyGate is an RMS-based speech gate over 16-bit little-endian mono PCM.
//
// The first calibration window is treated as ambient noise: the median RMS of
// those frames, scaled by Margin and clamped to [Min, Max], becomes the
// speech threshold. Frames observed during calibration are classified as
// silence.
type EnergyGate struct {
	// Margin scales the calibrated noise floor into the speech threshold.
	Margin float64
	// Min and Max clamp the calibrated threshold.
	Min float64
	Max float64
	// CalibrationFrames is the number of leading frames used to estimate the
	// noise floor.
	CalibrationFrames int

	calibration []float64
	threshold   float64
	calibrated  bool
}

func NewEnergyGate() *EnergyGate {
	return &EnergyGate{
		Margin:            defaultEnergyMargin,
		Min:               defaultEnergyMin,
		Max:               defaultEnergyMax,
		CalibrationFrames: defaultCalibrationFrames,
	}
}

func (g *EnergyGate) IsSpeech(pcm []byte) bool {
	rms := RMS(pcm)

	if !g.calibrated {
		g.calibration = append(g.calibration, rms)
		if len(g.calibration) >= g.CalibrationFrames {
			g.calibrate()
		}
		return false
	}

	return rms >= g.threshold
}

// Threshold returns the calibrated speech threshold, or 0 before calibration
// completes.
func (g *EnergyGate) Threshold() float64 {
	if !g.calibrated {
		return 0
	}
	return g.threshold
}

func (g *EnergyGate) calibrate() {
	values := append([]float64(nil), g.calibration...)
	sort.Float64s(values)
	floor := values[len(values)/2]

	g.threshold = math.Max(g.Min, math.Min(g.Max, floor*g.Margin))
	g.calibrated = true
	g.calibration = nil
}

// RMS computes the root mean square amplitude of 16-bit little-endian mono
// PCM samples.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var acc float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		acc += float64(sample) * float64(sample)
	}
	return math.Sqrt(acc / float64(n))
}
