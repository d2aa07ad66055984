// Package stt defines the transcription contract the pipeline feeds audio
// into, and its whisper.cpp implementation. The engine is a black box to
// the rest of the pipeline: fixed-length mono float audio in, ordered
// confidence-scored segments out.
package stt

import "context"

// Segment is a contiguous span of transcribed text with the engine's
// confidence estimates.
type Segment struct {
	Text string

	// AvgLogProb is the mean token log-probability: 0 means certain, more
	// negative means less certain.
	AvgLogProb float64

	// NoSpeechProb is the probability that the span is not speech at all.
	NoSpeechProb float64
}

// Engine is the external transcription contract.
type Engine interface {
	// Transcribe converts one canonical-rate mono frame into ordered
	// segments. language is a hint ("auto" or empty lets the engine
	// detect). The call is blocking and compute-bound; callers must keep
	// it off the capture path.
	Transcribe(ctx context.Context, samples []float32, language string) ([]Segment, error)

	Close() error
}
