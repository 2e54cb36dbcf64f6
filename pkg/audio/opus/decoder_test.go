package opus

import (
	"bytes"
	"testing"
)

func TestDecode_ShortPacketsAreSilenceMarkers(t *testing.T) {
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}

	for _, packet := range [][]byte{nil, {}, {0x01}, {0x01, 0x02}, {0x01, 0x02, 0x03}} {
		pcm, err := d.Decode(packet)
		if err != nil {
			t.Errorf("Decode(%d bytes) error: %v", len(packet), err)
		}
		if pcm != nil {
			t.Errorf("Decode(%d bytes) = %d PCM bytes, want none", len(packet), len(pcm))
		}
	}
}

func TestNewDecoderFormat_RejectsBadRate(t *testing.T) {
	// libopus only accepts 8/12/16/24/48 kHz.
	if _, err := NewDecoderFormat(44100, 1); err == nil {
		t.Error("expected an error for an unsupported sample rate")
	}
}

func TestDecoderFormatAccessors(t *testing.T) {
	d, err := NewDecoderFormat(16000, 1)
	if err != nil {
		t.Fatalf("NewDecoderFormat: %v", err)
	}
	if d.SampleRate() != 16000 {
		t.Errorf("SampleRate() = %d, want 16000", d.SampleRate())
	}
	if d.Channels() != 1 {
		t.Errorf("Channels() = %d, want 1", d.Channels())
	}
}

func TestSilenceFrame(t *testing.T) {
	frame := SilenceFrame(16000, 1, 20)
	if len(frame) != 640 {
		t.Errorf("20ms 16kHz mono frame = %d bytes, want 640", len(frame))
	}
	if !bytes.Equal(frame, make([]byte, len(frame))) {
		t.Error("expected all-zero samples")
	}

	if got := len(SilenceFrame(48000, 2, 10)); got != 1920 {
		t.Errorf("10ms 48kHz stereo frame = %d bytes, want 1920", got)
	}
}

func TestInt16sToBytes(t *testing.T) {
	got := int16sToBytes([]int16{0, 1, -1, 0x1234})
	want := []byte{0x00, 0x00, 0x01, 0x00, 0xFF, 0xFF, 0x34, 0x12}
	if !bytes.Equal(got, want) {
		t.Errorf("int16sToBytes = %x, want %x", got, want)
	}
	if len(int16sToBytes(nil)) != 0 {
		t.Error("expected empty output for empty input")
	}
}
