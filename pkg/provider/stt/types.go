package stt

import "time"

// SpeakerUnknown is the Transcript.Speaker value used when the provider did
// not attribute the fragment to a diarized speaker.
const SpeakerUnknown = -1

// Transcript represents a speech-to-text result from an STT provider.
// Both interim and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or interim
	// transcript. Interim transcripts are superseded by later results and
	// must not be written to durable transcript state.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Speaker is the diarized speaker index for this fragment, or
	// [SpeakerUnknown] when diarization is off or the provider did not
	// attribute the fragment.
	Speaker int

	// Words contains per-word detail when available. May be nil.
	Words []WordDetail

	// Received marks when this transcript arrived from the provider.
	Received time.Time
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
	Speaker    int
}
