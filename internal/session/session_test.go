package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/meetcaplabs/meetcap/internal/audio"
	"github.com/meetcaplabs/meetcap/internal/observe"
	"github.com/meetcaplabs/meetcap/internal/stt"
)

// fakeStream fills reads with a constant value after an optional delay.
type fakeStream struct {
	value     int16
	readDelay time.Duration

	mu     sync.Mutex
	closed bool
}

func (s *fakeStream) Read(buf []int16) error {
	if s.readDelay > 0 {
		time.Sleep(s.readDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	for i := range buf {
		buf[i] = s.value
	}
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeBackend struct {
	devices   []audio.Device
	value     int16
	readDelay time.Duration
}

func (b *fakeBackend) Devices() ([]audio.Device, error) { return b.devices, nil }

func (b *fakeBackend) DefaultInput() (audio.Device, error) {
	if len(b.devices) == 0 {
		return audio.Device{}, errors.New("no default input")
	}
	return b.devices[0], nil
}

func (b *fakeBackend) Open(dev audio.Device, channels, rate, framesPerBuffer int) (audio.Stream, error) {
	return &fakeStream{value: b.value, readDelay: b.readDelay}, nil
}

// fakeEngine returns a scripted result for every frame, after an optional
// delay simulating compute-bound inference.
type fakeEngine struct {
	segments []stt.Segment
	err      error
	delay    time.Duration
}

func (e *fakeEngine) Transcribe(ctx context.Context, samples []float32, language string) ([]stt.Segment, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return e.segments, e.err
}

func (e *fakeEngine) Close() error { return nil }

func micBackend() *fakeBackend {
	return &fakeBackend{
		devices: []audio.Device{
			{Index: 0, Name: "Test Microphone", InputChannels: 1, SampleRate: 16000},
		},
		value:     1000,
		readDelay: time.Millisecond,
	}
}

func newTestSession(t *testing.T, backend audio.Backend, engine stt.Engine, cfg Config) *Session {
	t.Helper()
	if cfg.ChunkDuration == 0 {
		cfg.ChunkDuration = 10 * time.Millisecond
	}
	if cfg.QueueTimeout == 0 {
		cfg.QueueTimeout = 20 * time.Millisecond
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 200 * time.Millisecond
	}
	s := New(backend, engine, nil, cfg, zerolog.Nop())
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	s.SetMetrics(m)
	return s
}

func TestStartWhileActiveFails(t *testing.T) {
	s := newTestSession(t, micBackend(), &fakeEngine{}, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStartWithoutDeviceFails(t *testing.T) {
	s := newTestSession(t, &fakeBackend{}, &fakeEngine{}, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); !errors.Is(err, audio.ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
	if s.Active() {
		t.Fatal("session must stay inactive after a failed start")
	}
}

func TestSilenceProducesNoOutput(t *testing.T) {
	// The engine reports no segments for every frame, as it would for
	// silence. The session must stay up and emit nothing.
	s := newTestSession(t, micBackend(), &fakeEngine{segments: nil}, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	select {
	case r, ok := <-s.Results():
		if ok {
			t.Fatalf("expected no output for silence, got %q", r.Text)
		}
		t.Fatal("results closed while session active")
	case <-time.After(150 * time.Millisecond):
	}
	if !s.Active() {
		t.Fatal("session must remain active through silence")
	}
}

func TestTranscriptDelivered(t *testing.T) {
	engine := &fakeEngine{segments: []stt.Segment{
		{Text: "hello world", AvgLogProb: -0.1, NoSpeechProb: 0.1},
	}}
	s := newTestSession(t, micBackend(), engine, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	select {
	case r := <-s.Results():
		if r.Text != "hello world" {
			t.Fatalf("expected transcript text, got %q", r.Text)
		}
		if r.Time.IsZero() {
			t.Fatal("result must carry the capture time")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transcript")
	}
}

func TestTranscriptionErrorDropsFrameOnly(t *testing.T) {
	engine := &fakeEngine{err: errors.New("model busy")}
	s := newTestSession(t, micBackend(), engine, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if !s.Active() {
		t.Fatal("transcription failure must not stop the session")
	}
}

func TestIdleDispatcherKeepsSessionAlive(t *testing.T) {
	// Reads block far longer than the dispatcher's wait, so every wait
	// times out with nothing available.
	backend := micBackend()
	backend.readDelay = 5 * time.Second
	s := newTestSession(t, backend, &fakeEngine{}, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	time.Sleep(150 * time.Millisecond)
	if !s.Active() {
		t.Fatal("dispatcher timeouts must not stop the session")
	}
	select {
	case r := <-s.Results():
		t.Fatalf("expected no output while idle, got %q", r.Text)
	default:
	}
}

func TestStopWithStuckReadIsBounded(t *testing.T) {
	backend := micBackend()
	backend.readDelay = 5 * time.Second
	s := newTestSession(t, backend, &fakeEngine{}, Config{
		Mode:        ModeMic,
		StopTimeout: 100 * time.Millisecond,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stop must abandon a stuck worker within the bound, took %s", elapsed)
	}
	if s.Active() {
		t.Fatal("session must be inactive after stop")
	}
}

func TestWhitespaceTranscriptDiscarded(t *testing.T) {
	engine := &fakeEngine{segments: []stt.Segment{
		{Text: "   ", AvgLogProb: -0.1, NoSpeechProb: 0.1},
	}}
	s := newTestSession(t, micBackend(), engine, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer s.Stop()

	select {
	case r, ok := <-s.Results():
		if ok {
			t.Fatalf("whitespace-only transcript must be discarded, got %q", r.Text)
		}
		t.Fatal("results closed while session active")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestStopBoundedDuringTranscription(t *testing.T) {
	// Inference cannot be preempted; Stop must still return within its
	// bound and leave results closure to the dispatcher.
	engine := &fakeEngine{delay: time.Second}
	s := newTestSession(t, micBackend(), engine, Config{
		Mode:        ModeMic,
		StopTimeout: 100 * time.Millisecond,
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	results := s.Results()
	time.Sleep(30 * time.Millisecond) // let the dispatcher enter the inference

	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("stop must not wait out an in-flight transcription, took %s", elapsed)
	}
	if s.Active() {
		t.Fatal("session must be inactive after stop")
	}

	// The dispatcher closes results once the in-flight call returns.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("results channel not closed after in-flight transcription finished")
		}
	}
}

func TestStopClosesResults(t *testing.T) {
	s := newTestSession(t, micBackend(), &fakeEngine{}, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	results := s.Results()
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-results:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("results channel not closed after stop")
		}
	}
}

func TestStopWhenNotRunning(t *testing.T) {
	s := newTestSession(t, micBackend(), &fakeEngine{}, Config{Mode: ModeMic})
	if err := s.Stop(); err != nil {
		t.Fatalf("stop on idle session must be a no-op, got %v", err)
	}
}

func TestRestartAfterStop(t *testing.T) {
	s := newTestSession(t, micBackend(), &fakeEngine{}, Config{Mode: ModeMic})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	s.Stop()
}
