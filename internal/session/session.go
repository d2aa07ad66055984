// Package session owns the capture lifecycle: device selection, worker and
// mixer startup, the dispatcher that feeds frames to transcription and
// correction, and bounded-timeout shutdown.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/meetcaplabs/meetcap/internal/audio"
	"github.com/meetcaplabs/meetcap/internal/correct"
	"github.com/meetcaplabs/meetcap/internal/observe"
	"github.com/meetcaplabs/meetcap/internal/stt"
)

// Mode selects which sources a session captures.
type Mode string

const (
	ModeMic      Mode = "mic"
	ModeLoopback Mode = "loopback"
	ModeDual     Mode = "dual"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("session: already running")

// Result is one finished line of transcript text.
type Result struct {
	Time time.Time
	Text string
}

// Config configures a capture session.
type Config struct {
	Mode          Mode
	ChunkDuration time.Duration // default 5s
	CanonicalRate int           // default 16000
	Language      string        // transcription language hint

	// Explicit device-name overrides; empty selects defaults per role.
	MicDevice      string
	LoopbackDevice string

	QueueTimeout time.Duration // dispatcher bounded wait, default 500ms
	StopTimeout  time.Duration // worker join bound, default 2s
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeMic
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 5 * time.Second
	}
	if c.CanonicalRate <= 0 {
		c.CanonicalRate = audio.CanonicalRate
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = 500 * time.Millisecond
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 2 * time.Second
	}
}

// Session is one capture run over one or two devices. Callers Start it,
// consume Results, and Stop it; a stopped session can be started again.
type Session struct {
	id      string
	backend audio.Backend
	catalog *audio.Catalog
	engine  stt.Engine
	refiner *correct.Refiner
	cfg     Config
	log     zerolog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	active   bool
	cancel   context.CancelFunc
	workers  *errgroup.Group
	frames   <-chan audio.Frame
	results  chan Result
	dispDone chan struct{}
}

// New creates a session. engine must be non-nil; refiner may be nil to
// disable correction entirely.
func New(backend audio.Backend, engine stt.Engine, refiner *correct.Refiner, cfg Config, log zerolog.Logger) *Session {
	cfg.applyDefaults()
	return &Session{
		id:      uuid.NewString(),
		backend: backend,
		catalog: audio.NewCatalog(backend, log),
		engine:  engine,
		refiner: refiner,
		cfg:     cfg,
		log:     log.With().Str("component", "session").Logger(),
		metrics: observe.Default(),
	}
}

// SetMetrics overrides the metrics sink. Call before Start.
func (s *Session) SetMetrics(m *observe.Metrics) { s.metrics = m }

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// Active reports whether the session is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Results returns the channel of finished transcript lines for the current
// run. It is closed when the dispatcher exits after Stop.
func (s *Session) Results() <-chan Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// Start selects devices for the configured mode, spawns capture workers
// (and the mixer in dual mode) plus the dispatcher, and marks the session
// active. Fails fast with ErrAlreadyRunning while active. Device selection
// failure aborts the start; every other failure later on only degrades the
// session.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g := &errgroup.Group{}

	workers, err := s.spawnWorkers(runCtx, g)
	if err != nil {
		cancel()
		return err
	}

	switch len(workers) {
	case 1:
		s.frames = workers[0].Frames()
	case 2:
		mixer := audio.NewMixer(workers[0].Frames(), workers[1].Frames(), s.log)
		g.Go(func() error {
			mixer.Run(runCtx)
			return nil
		})
		s.frames = mixer.Frames()
	}

	s.cancel = cancel
	s.workers = g
	s.results = make(chan Result, 32)
	s.dispDone = make(chan struct{})
	s.active = true
	s.metrics.ActiveSessions.Add(ctx, 1)

	go s.dispatch(runCtx, s.frames, s.results, s.dispDone)

	s.log.Info().Str("id", s.id).Str("mode", string(s.cfg.Mode)).Msg("Session started")
	return nil
}

// spawnWorkers selects devices and launches one worker per source. Worker
// errors terminate only that worker and surface as session warnings.
func (s *Session) spawnWorkers(ctx context.Context, g *errgroup.Group) ([]*audio.Worker, error) {
	type source struct {
		role     audio.Role
		tag      audio.Source
		override string
	}

	var sources []source
	switch s.cfg.Mode {
	case ModeMic:
		sources = []source{{audio.RoleMicrophone, audio.SourceMic, s.cfg.MicDevice}}
	case ModeLoopback:
		sources = []source{{audio.RoleLoopback, audio.SourceLoopback, s.cfg.LoopbackDevice}}
	case ModeDual:
		sources = []source{
			{audio.RoleMicrophone, audio.SourceMic, s.cfg.MicDevice},
			{audio.RoleLoopback, audio.SourceLoopback, s.cfg.LoopbackDevice},
		}
	default:
		return nil, errors.New("session: unknown capture mode " + string(s.cfg.Mode))
	}

	workers := make([]*audio.Worker, 0, len(sources))
	for _, src := range sources {
		var dev audio.Device
		var err error
		if src.override != "" {
			dev, err = s.catalog.FindByName(src.override)
		} else {
			dev, err = s.catalog.SelectDefault(src.role)
		}
		if err != nil {
			return nil, err
		}
		s.log.Info().Str("role", src.role.String()).Str("device", dev.Name).
			Int("rate", dev.SampleRate).Msg("Selected capture device")

		w := audio.NewWorker(s.backend, audio.WorkerConfig{
			Device:        dev,
			Source:        src.tag,
			ChunkDuration: s.cfg.ChunkDuration,
			CanonicalRate: s.cfg.CanonicalRate,
		}, s.log)
		workers = append(workers, w)

		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				// Worker-local failure: the sibling keeps capturing.
				s.log.Warn().Err(err).Msg("Capture worker terminated")
			}
			return nil
		})
	}
	return workers, nil
}

// Stop flips the shared cancellation, joins workers and the dispatcher
// within the configured bound (abandoning and logging whatever fails to
// join), drains leftover frames, and marks the session inactive. An
// abandoned dispatcher may be mid-transcription; it closes the results
// channel itself once that call returns, so results closure can trail Stop
// by one inference. Safe to call when not running.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	workers := s.workers
	frames := s.frames
	dispDone := s.dispDone
	s.active = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	joined := make(chan struct{})
	go func() {
		workers.Wait()
		close(joined)
	}()

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-joined:
	case <-timer.C:
		// A worker stuck in a device read is abandoned, not fatal.
		s.log.Warn().Dur("timeout", s.cfg.StopTimeout).Msg("Worker join timed out, abandoning")
	}

	dispTimer := time.NewTimer(s.cfg.StopTimeout)
	defer dispTimer.Stop()
	select {
	case <-dispDone:
	case <-dispTimer.C:
		// Transcription is compute-bound and cannot be preempted; the
		// dispatcher finishes its in-flight call and then exits on its own.
		s.log.Warn().Dur("timeout", s.cfg.StopTimeout).Msg("Dispatcher join timed out, abandoning in-flight transcription")
	}

	// Discard anything still queued; frames are produced once and never
	// replayed.
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				frames = nil
			}
		default:
			frames = nil
		}
		if frames == nil {
			break
		}
	}

	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.log.Info().Str("id", s.id).Msg("Session stopped")
	return nil
}

// dispatch drains the shared frame stream with a bounded wait, runs
// transcription off the capture goroutines, applies the correction pass and
// delivers finished text. A wait timeout means "nothing available", never
// an error; a transcription failure drops only that frame. The dispatcher
// owns the results channel and closes it on exit.
func (s *Session) dispatch(ctx context.Context, frames <-chan audio.Frame, results chan Result, done chan<- struct{}) {
	defer close(done)
	defer close(results)

	timer := time.NewTimer(s.cfg.QueueTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.QueueTimeout)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.metrics.DispatcherTimeouts.Add(ctx, 1)
			continue
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.countFrame(ctx, frame)
			s.handleFrame(ctx, frame, results)
		}
	}
}

func (s *Session) countFrame(ctx context.Context, frame audio.Frame) {
	if frame.Source == audio.SourceMix {
		s.metrics.FramesMixed.Add(ctx, 1)
		return
	}
	s.metrics.FramesCaptured.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", string(frame.Source))))
}

func (s *Session) handleFrame(ctx context.Context, frame audio.Frame, results chan<- Result) {
	start := time.Now()
	segments, err := s.engine.Transcribe(ctx, frame.Samples, s.cfg.Language)
	s.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Transcription failed, dropping frame")
		}
		return
	}

	var text string
	if s.refiner != nil {
		text = s.refiner.Refine(ctx, segments)
	} else {
		text = joinSegments(segments)
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	select {
	case results <- Result{Time: frame.Captured, Text: text}:
	case <-ctx.Done():
	default:
		s.log.Warn().Msg("Result queue full, dropping transcript line")
	}
}

func joinSegments(segments []stt.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}
