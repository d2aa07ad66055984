package audio

import (
	"errors"
	"time"
)

// CanonicalRate is the sample rate all frames are normalized to before
// transcription.
const CanonicalRate = 16000

// Source identifies which capture endpoint produced a frame.
type Source string

const (
	SourceMic      Source = "mic"
	SourceLoopback Source = "loopback"
	SourceMix      Source = "mix"
)

// DeviceKind classifies an audio endpoint by what it captures.
type DeviceKind int

const (
	KindUnknown DeviceKind = iota
	KindMicrophone
	KindLoopback
)

func (k DeviceKind) String() string {
	switch k {
	case KindMicrophone:
		return "microphone"
	case KindLoopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// Device describes an input-capable audio endpoint.
type Device struct {
	Index         int
	Name          string
	InputChannels int
	SampleRate    int

	// Loopback is set when the backend explicitly marks the endpoint as a
	// loopback of system output. It takes precedence over name heuristics.
	Loopback bool

	Kind      DeviceKind
	Validated bool
}

// Frame is a fixed-duration unit of mono float samples at the canonical
// rate, tagged with the source that produced it. A frame is produced once
// and consumed once; ownership transfers on channel send.
type Frame struct {
	Source   Source
	Samples  []float32
	Captured time.Time
}

// Backend is the device-layer contract. The production implementation is
// PortAudio; tests substitute mocks.
type Backend interface {
	// Devices enumerates every endpoint known to the backend, including
	// output-only ones. Callers filter on InputChannels.
	Devices() ([]Device, error)

	// DefaultInput returns the OS default input endpoint.
	DefaultInput() (Device, error)

	// Open opens a capture stream on dev. framesPerBuffer is the number of
	// sample frames delivered per Read.
	Open(dev Device, channels, rate, framesPerBuffer int) (Stream, error)
}

// Stream is one open capture stream. Read blocks until the buffer is full
// and must tolerate buffer overrun without returning an error.
type Stream interface {
	Read(buf []int16) error
	Close() error
}

var (
	// ErrDeviceNotFound is returned when no candidate device for a
	// requested role validates.
	ErrDeviceNotFound = errors.New("audio: no usable device for role")

	// ErrStreamOpen wraps failures to open a device stream.
	ErrStreamOpen = errors.New("audio: stream open failed")
)
