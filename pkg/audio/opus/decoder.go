// Package opus decodes the compressed audio packets emitted by wearable
// capture devices into linear PCM.
//
// Device packets are Opus frames prefixed with a 3-byte transport header
// (sequence counter + flags) that must be stripped before decode. The Opus
// codec is stream-oriented: one Decoder must be used per session so that
// codec state carries across packets. A decode failure for one packet never
// corrupts the stream — the packet is dropped and the codec self-heals on
// the next valid frame. After a burst of consecutive failures the underlying
// decoder is recreated to clear any wedged codec state.
package opus

import (
	"fmt"
	"log/slog"

	"layeh.com/gopus"
)

// Device audio is 16 kHz mono Opus at 60 ms frame size.
const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	// frameSize is the maximum number of samples per channel the decoder
	// will produce for one packet (60 ms at 16 kHz).
	frameSize = 960

	// headerLen is the device transport header preceding every Opus frame.
	headerLen = 3

	// maxConsecutiveErrors is the failure-burst length after which the
	// underlying codec is recreated.
	maxConsecutiveErrors = 5
)

// Decoder converts device audio packets into 16-bit little-endian PCM.
// It maintains codec state across packets and is therefore not safe for
// concurrent use; each session owns exactly one Decoder.
type Decoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int

	consecutiveErrors int
}

// NewDecoder creates a Decoder for the default device format (16 kHz mono).
func NewDecoder() (*Decoder, error) {
	return NewDecoderFormat(defaultSampleRate, defaultChannels)
}

// NewDecoderFormat creates a Decoder for the given sample rate and channel
// count.
func NewDecoderFormat(sampleRate, channels int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, sampleRate: sampleRate, channels: channels}, nil
}

// Decode strips the device header from packet and decodes the remaining
// Opus frame into interleaved little-endian int16 PCM bytes.
//
// Packets too short to carry a frame return (nil, nil) — they are silence
// markers from the device, not errors. A codec error returns (nil, err);
// the caller should log and drop the packet and keep feeding the stream.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) <= headerLen {
		return nil, nil
	}

	pcm, err := d.dec.Decode(packet[headerLen:], frameSize, false)
	if err != nil {
		d.consecutiveErrors++
		if d.consecutiveErrors >= maxConsecutiveErrors {
			d.recreate()
		}
		return nil, fmt.Errorf("opus: decode: %w", err)
	}

	d.consecutiveErrors = 0
	return int16sToBytes(pcm), nil
}

// SampleRate returns the decoder's output sample rate in Hz.
func (d *Decoder) SampleRate() int { return d.sampleRate }

// Channels returns the decoder's output channel count.
func (d *Decoder) Channels() int { return d.channels }

// recreate replaces the underlying codec after an error burst. If creation
// fails the old (possibly wedged) codec is kept; the next valid packet may
// still recover it.
func (d *Decoder) recreate() {
	dec, err := gopus.NewDecoder(d.sampleRate, d.channels)
	if err != nil {
		slog.Error("opus: failed to recreate decoder after error burst", "err", err)
		return
	}
	slog.Warn("opus: recreated decoder after consecutive errors",
		"consecutive_errors", d.consecutiveErrors,
	)
	d.dec = dec
	d.consecutiveErrors = 0
}

// int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// SilenceFrame returns a PCM frame of silence with the given duration in
// milliseconds for the decoder's format. Used as a synthetic keep-alive
// payload upstream.
func SilenceFrame(sampleRate, channels, ms int) []byte {
	return make([]byte, sampleRate*ms/1000*channels*2)
}
