package vad

import (
	"encoding/binary"
	"testing"
)

func pcmFrame(amplitude int16, samples int) []byte {
	frame := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		value := amplitude
		if i%2 == 1 {
			value = -amplitude
		}
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(value))
	}
	return frame
}

func TestEnergyGateCalibratesBeforeClassifying(t *testing.T) {
	gate := NewEnergyGate()

	for i := 0; i < gate.CalibrationFrames; i++ {
		if gate.IsSpeech(pcmFrame(200, 480)) {
			t.Fatalf("expected calibration frame %d to be classified as silence", i)
		}
	}

	if gate.Threshold() == 0 {
		t.Fatal("expected a calibrated threshold after the calibration window")
	}
}

func TestEnergyGateClampsThresholdToMinimum(t *testing.T) {
	gate := NewEnergyGate()

	for i := 0; i < gate.CalibrationFrames; i++ {
		gate.IsSpeech(pcmFrame(10, 480))
	}

	if got := gate.Threshold(); got != gate.Min {
		t.Fatalf("expected threshold clamped to %f, got %f", gate.Min, got)
	}
}

func TestEnergyGatePassesLoudFramesAfterCalibration(t *testing.T) {
	gate := NewEnergyGate()

	for i := 0; i < gate.CalibrationFrames; i++ {
		gate.IsSpeech(pcmFrame(100, 480))
	}

	if !gate.IsSpeech(pcmFrame(8000, 480)) {
		t.Fatal("expected loud frame to be classified as speech")
	}
	if gate.IsSpeech(pcmFrame(100, 480)) {
		t.Fatal("expected quiet frame to be classified as silence")
	}
}

func TestRMSOfSilenceIsZero(t *testing.T) {
	if got := RMS(make([]byte, 960)); got != 0 {
		t.Fatalf("expected zero RMS for silence, got %f", got)
	}
	if got := RMS(nil); got != 0 {
		t.Fatalf("expected zero RMS for empty input, got %f", got)
	}
}
