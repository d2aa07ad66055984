package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// frameQueueDepth bounds a worker's output channel. Frames arriving while
// the queue is full are dropped so device reads are never delayed by a slow
// consumer.
const frameQueueDepth = 16

// WorkerConfig configures one capture worker.
type WorkerConfig struct {
	Device        Device
	Source        Source
	ChunkDuration time.Duration
	CanonicalRate int
}

// Worker owns one open device stream and converts its audio into uniform
// frames: one blocking read of native_rate x chunk_duration samples per
// iteration, then float conversion, peak normalization, noise gate, stereo
// downmix and resampling to the canonical rate.
//
// A worker runs until its context is cancelled or a read fails. The
// blocking read cannot be preempted, so cancellation may take up to one
// chunk duration to take effect.
type Worker struct {
	backend Backend
	cfg     WorkerConfig
	log     zerolog.Logger
	out     chan Frame
}

// NewWorker creates a worker for one device. Run must be called exactly once.
func NewWorker(b Backend, cfg WorkerConfig, log zerolog.Logger) *Worker {
	if cfg.CanonicalRate == 0 {
		cfg.CanonicalRate = CanonicalRate
	}
	return &Worker{
		backend: b,
		cfg:     cfg,
		log:     log.With().Str("source", string(cfg.Source)).Str("device", cfg.Device.Name).Logger(),
		out:     make(chan Frame, frameQueueDepth),
	}
}

// Frames returns the worker's output channel. It is closed when the worker
// stops, whatever the reason.
func (w *Worker) Frames() <-chan Frame {
	return w.out
}

// Run opens the device stream and captures until ctx is cancelled or a read
// fails. The stream is closed on every exit path. An open failure or a
// mid-loop read failure terminates only this worker; the returned error is
// reported by the session as a warning, never as a session failure.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.out)

	dev := w.cfg.Device
	channels := dev.InputChannels
	if channels > 2 {
		channels = 2
	}
	rate := dev.SampleRate
	if rate <= 0 {
		rate = w.cfg.CanonicalRate
	}
	chunkSamples := int(float64(rate) * w.cfg.ChunkDuration.Seconds())
	if chunkSamples <= 0 {
		return fmt.Errorf("audio: invalid chunk duration %s", w.cfg.ChunkDuration)
	}

	stream, err := w.backend.Open(dev, channels, rate, chunkSamples)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStreamOpen, dev.Name, err)
	}
	defer stream.Close()

	w.log.Info().Int("rate", rate).Int("channels", channels).Msg("Capture stream started")

	buf := make([]int16, chunkSamples*channels)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := stream.Read(buf); err != nil {
			return fmt.Errorf("audio: read %s: %w", dev.Name, err)
		}
		captured := time.Now()

		samples := PCMToFloat(buf)
		Normalize(samples)
		Gate(samples)
		if channels == 2 {
			samples = DownmixStereo(samples)
		}
		if rate != w.cfg.CanonicalRate {
			samples = Resample(samples, rate, w.cfg.CanonicalRate)
		}

		select {
		case w.out <- Frame{Source: w.cfg.Source, Samples: samples, Captured: captured}:
		case <-ctx.Done():
			return nil
		default:
			w.log.Warn().Msg("Frame queue full, dropping chunk")
		}
	}
}
