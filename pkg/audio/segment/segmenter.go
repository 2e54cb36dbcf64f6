// Package segment accumulates decoded PCM into fixed-duration segments for
// local archival.
//
// Segment boundaries are a pacing device only: the provider-bound audio
// stream is sent continuously and is never gated or split by the segmenter.
package segment

import "time"

// Segment is one fixed-duration block of PCM audio ready for archival.
type Segment struct {
	// Index is the monotonically increasing segment number within the
	// session, starting at 0.
	Index int

	// PCM is the interleaved little-endian int16 audio data.
	PCM []byte

	// Start marks when the first byte of this segment was received.
	Start time.Time
}

// Segmenter accumulates PCM bytes and cuts a Segment every time the target
// duration's worth of samples has been collected. It is not safe for
// concurrent use; each session owns exactly one Segmenter.
type Segmenter struct {
	targetBytes int
	buf         []byte
	start       time.Time
	next        int
}

// New creates a Segmenter that emits segments of the given duration for
// 16-bit PCM at the given sample rate and channel count.
func New(sampleRate, channels int, d time.Duration) *Segmenter {
	target := int(d.Seconds()*float64(sampleRate)) * channels * 2
	if target <= 0 {
		target = sampleRate * channels * 2 * 5
	}
	return &Segmenter{
		targetBytes: target,
		buf:         make([]byte, 0, target),
	}
}

// Write appends pcm to the running segment and returns a completed Segment
// once the target duration has accumulated, or nil otherwise. The returned
// segment owns its PCM slice.
func (s *Segmenter) Write(pcm []byte) *Segment {
	if len(pcm) == 0 {
		return nil
	}
	if len(s.buf) == 0 {
		s.start = time.Now()
	}
	s.buf = append(s.buf, pcm...)
	if len(s.buf) < s.targetBytes {
		return nil
	}
	return s.cut()
}

// Flush returns the partial segment accumulated so far, or nil when empty.
// Called at session teardown so trailing audio is not lost.
func (s *Segmenter) Flush() *Segment {
	if len(s.buf) == 0 {
		return nil
	}
	return s.cut()
}

// Pending returns the number of buffered bytes not yet emitted.
func (s *Segmenter) Pending() int { return len(s.buf) }

func (s *Segmenter) cut() *Segment {
	seg := &Segment{
		Index: s.next,
		PCM:   s.buf,
		Start: s.start,
	}
	s.next++
	s.buf = make([]byte, 0, s.targetBytes)
	return seg
}
