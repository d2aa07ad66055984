// Package correct implements the confidence-gated correction pass applied
// to transcript segments before they become final text.
//
// Segments flow through a speech filter (non-speech spans are discarded),
// a confidence gate (uncertain spans are flagged), and a selective
// correction stage that asks a text-completion service for a terse
// best-guess replacement of each flagged span. The pass is stateless
// across frames and degrades to the original text on any service failure.
package correct

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/meetcaplabs/meetcap/internal/observe"
	"github.com/meetcaplabs/meetcap/internal/stt"
)

const (
	// DefaultNoSpeechThreshold drops segments whose speech-presence
	// complement exceeds it.
	DefaultNoSpeechThreshold = 0.6

	// DefaultConfidenceThreshold flags segments whose mean log-probability
	// falls below it.
	DefaultConfidenceThreshold = -0.8

	// maxGrowth rejects corrections longer than this multiple of the
	// original phrase, guarding against verbose or explanatory replies.
	maxGrowth = 3

	defaultRequestTimeout = 10 * time.Second
)

// Completer is the external text-completion contract: one prompt in, one
// corrected phrase out, no metadata.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Option is a functional option for configuring a Refiner.
type Option func(*Refiner)

// WithNoSpeechThreshold overrides the speech filter threshold.
func WithNoSpeechThreshold(v float64) Option {
	return func(r *Refiner) { r.noSpeech = v }
}

// WithConfidenceThreshold overrides the confidence gate threshold.
func WithConfidenceThreshold(v float64) Option {
	return func(r *Refiner) { r.confidence = v }
}

// WithRequestTimeout bounds each correction round-trip.
func WithRequestTimeout(d time.Duration) Option {
	return func(r *Refiner) { r.timeout = d }
}

// WithMetrics records correction outcomes on m instead of the default.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Refiner) { r.metrics = m }
}

// Refiner applies the speech filter, confidence gate and selective
// correction to one frame's segments. A nil completer disables the
// correction stage; gating and filtering still apply.
type Refiner struct {
	completer  Completer
	noSpeech   float64
	confidence float64
	timeout    time.Duration
	log        zerolog.Logger
	metrics    *observe.Metrics
}

// New creates a Refiner over the given completer.
func New(completer Completer, log zerolog.Logger, opts ...Option) *Refiner {
	r := &Refiner{
		completer:  completer,
		noSpeech:   DefaultNoSpeechThreshold,
		confidence: DefaultConfidenceThreshold,
		timeout:    defaultRequestTimeout,
		log:        log,
		metrics:    observe.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Refine processes one frame's ordered segments and returns the final text:
// surviving segments joined with single spaces, uncertain ones replaced by
// accepted corrections.
func (r *Refiner) Refine(ctx context.Context, segments []stt.Segment) string {
	// Speech filter: non-speech spans never reach output.
	kept := segments[:0:0]
	for _, seg := range segments {
		if seg.NoSpeechProb > r.noSpeech {
			r.metrics.SegmentsDropped.Add(ctx, 1)
			r.log.Debug().Str("text", seg.Text).Float64("no_speech", seg.NoSpeechProb).Msg("Dropped non-speech segment")
			continue
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return ""
	}

	// Confidence gate.
	flagged := make([]bool, len(kept))
	anyFlagged := false
	for i, seg := range kept {
		if seg.AvgLogProb < r.confidence {
			flagged[i] = true
			anyFlagged = true
		}
	}

	texts := make([]string, len(kept))
	for i, seg := range kept {
		texts[i] = seg.Text
	}

	if anyFlagged && r.completer != nil {
		// Context for every correction is the provisional transcript built
		// from original texts only, so corrections never feed each other.
		provisional := strings.Join(texts, " ")
		for i, seg := range kept {
			if !flagged[i] {
				continue
			}
			if corrected, ok := r.correctPhrase(ctx, seg.Text, provisional); ok {
				texts[i] = corrected
			}
		}
	}

	return strings.Join(texts, " ")
}

// correctPhrase asks the completion service for a replacement of phrase
// and applies the acceptance policy. Any failure keeps the original text.
func (r *Refiner) correctPhrase(ctx context.Context, phrase, transcript string) (string, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	reply, err := r.completer.Complete(reqCtx, buildPrompt(phrase, transcript))
	r.metrics.CorrectionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.metrics.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
		r.log.Warn().Err(err).Str("phrase", phrase).Msg("Correction service error, keeping original text")
		return "", false
	}

	reply = strings.TrimSpace(reply)
	if reply == "" || len(reply) > maxGrowth*len(phrase) {
		r.metrics.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rejected")))
		r.log.Debug().Str("phrase", phrase).Str("reply", reply).Msg("Correction rejected by acceptance policy")
		return "", false
	}

	r.metrics.Corrections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "accepted")))
	return reply, true
}

// buildPrompt assembles the correction request: the uncertain phrase plus
// the full provisional transcript as context.
func buildPrompt(phrase, transcript string) string {
	return fmt.Sprintf(
		"A speech-to-text engine transcribed the phrase %q with low confidence.\n"+
			"Full transcript for context:\n%s\n\n"+
			"Reply with only your best guess for the intended phrase, nothing else.",
		phrase, transcript,
	)
}
