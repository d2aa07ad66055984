package audio

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func frameOf(src Source, samples ...float32) Frame {
	return Frame{Source: src, Samples: samples, Captured: time.Now()}
}

func TestMixerPairsAndAverages(t *testing.T) {
	mic := make(chan Frame, 4)
	loop := make(chan Frame, 4)
	m := NewMixer(mic, loop, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	mic <- frameOf(SourceMic, 1, 1, 1)
	loop <- frameOf(SourceLoopback, 0, 0)

	select {
	case f := <-m.Frames():
		if f.Source != SourceMix {
			t.Fatalf("expected mix source tag, got %s", f.Source)
		}
		if len(f.Samples) != 2 {
			t.Fatalf("expected truncation to min length 2, got %d", len(f.Samples))
		}
		if f.Samples[0] != 0.5 || f.Samples[1] != 0.5 {
			t.Fatalf("expected averaged samples, got %v", f.Samples)
		}
	case <-time.After(time.Second):
		t.Fatal("mixer emitted nothing for a complete pair")
	}
}

func TestMixerHoldsUnpairedFrames(t *testing.T) {
	mic := make(chan Frame, 4)
	loop := make(chan Frame, 4)
	m := NewMixer(mic, loop, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Only the mic produces; the loopback partner never arrives.
	mic <- frameOf(SourceMic, 1, 2, 3)
	mic <- frameOf(SourceMic, 4, 5, 6)

	select {
	case f := <-m.Frames():
		t.Fatalf("mixer must not emit without a partner, got %v", f.Samples)
	case <-time.After(200 * time.Millisecond):
	}

	// A late partner releases exactly one queued frame, FIFO.
	loop <- frameOf(SourceLoopback, 1, 2, 3)
	select {
	case f := <-m.Frames():
		if f.Samples[0] != 1 {
			t.Fatalf("expected FIFO pairing with the first queued frame, got %v", f.Samples)
		}
	case <-time.After(time.Second):
		t.Fatal("mixer did not emit after partner arrived")
	}
}

func TestMixerPassthroughAfterSourceDeath(t *testing.T) {
	mic := make(chan Frame, 4)
	loop := make(chan Frame, 4)
	m := NewMixer(mic, loop, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	close(loop) // loopback worker died

	mic <- frameOf(SourceMic, 0.25, 0.25)
	select {
	case f := <-m.Frames():
		if f.Source != SourceMic {
			t.Fatalf("passthrough should keep the original source tag, got %s", f.Source)
		}
		if f.Samples[0] != 0.25 {
			t.Fatalf("passthrough must not alter samples, got %v", f.Samples)
		}
	case <-time.After(time.Second):
		t.Fatal("mixer did not pass surviving source through")
	}
}

func TestMixerClosesOutputWhenInputsClose(t *testing.T) {
	mic := make(chan Frame)
	loop := make(chan Frame)
	m := NewMixer(mic, loop, zerolog.Nop())

	go m.Run(context.Background())
	close(mic)
	close(loop)

	select {
	case _, ok := <-m.Frames():
		if ok {
			t.Fatal("expected closed output channel")
		}
	case <-time.After(time.Second):
		t.Fatal("output channel not closed after both inputs closed")
	}
}
