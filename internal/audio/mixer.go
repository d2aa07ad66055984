package audio

import (
	"context"

	"github.com/rs/zerolog"
)

// Mixer pairs frames from two capture workers and emits their average.
//
// Pairing is opportunistic FIFO: a frame from one source waits queued until
// a partner from the other source arrives; nothing is emitted while either
// queue is empty. There is no timestamp alignment, so a sustained rate
// mismatch between sources accumulates skew — accepted as a limitation of
// best-effort pairing.
//
// When one source's channel closes (its worker died), remaining queued
// pairs are still mixed and the surviving source passes through unmixed so
// the session continues in degraded mode.
type Mixer struct {
	mic      <-chan Frame
	loopback <-chan Frame
	out      chan Frame
	log      zerolog.Logger
}

// NewMixer creates a mixer over the two worker channels.
func NewMixer(mic, loopback <-chan Frame, log zerolog.Logger) *Mixer {
	return &Mixer{
		mic:      mic,
		loopback: loopback,
		out:      make(chan Frame, frameQueueDepth),
		log:      log,
	}
}

// Frames returns the mixed output channel, closed when both inputs close or
// the context is cancelled.
func (m *Mixer) Frames() <-chan Frame {
	return m.out
}

// Run pairs and mixes until ctx is cancelled or both inputs close.
func (m *Mixer) Run(ctx context.Context) {
	defer close(m.out)

	var micQ, loopQ []Frame
	mic, loop := m.mic, m.loopback

	for mic != nil || loop != nil {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-mic:
			if !ok {
				mic = nil
				m.log.Warn().Msg("Microphone stream ended, passing loopback through")
				break
			}
			micQ = append(micQ, f)
		case f, ok := <-loop:
			if !ok {
				loop = nil
				m.log.Warn().Msg("Loopback stream ended, passing microphone through")
				break
			}
			loopQ = append(loopQ, f)
		}

		for len(micQ) > 0 && len(loopQ) > 0 {
			a, b := micQ[0], loopQ[0]
			micQ, loopQ = micQ[1:], loopQ[1:]
			mixed := Frame{
				Source:   SourceMix,
				Samples:  Mix(a.Samples, b.Samples),
				Captured: a.Captured,
			}
			if !m.emit(ctx, mixed) {
				return
			}
		}

		// Degraded mode: a closed side with an empty queue cannot pair
		// anymore, so the surviving side's frames go straight through.
		if mic == nil && len(micQ) == 0 {
			if !m.flush(ctx, &loopQ) {
				return
			}
		}
		if loop == nil && len(loopQ) == 0 {
			if !m.flush(ctx, &micQ) {
				return
			}
		}
	}
}

func (m *Mixer) flush(ctx context.Context, q *[]Frame) bool {
	for len(*q) > 0 {
		f := (*q)[0]
		*q = (*q)[1:]
		if !m.emit(ctx, f) {
			return false
		}
	}
	return true
}

func (m *Mixer) emit(ctx context.Context, f Frame) bool {
	select {
	case m.out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
