package audio

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// portAudioBackend implements Backend on top of PortAudio. PortAudio has no
// explicit loopback flag, so Device.Loopback is always false here and
// loopback classification relies on name heuristics (e.g. PulseAudio
// "Monitor of ..." sources, Windows "Stereo Mix").
type portAudioBackend struct{}

// NewPortAudio initializes PortAudio and returns a Backend over it. Call
// Terminate when the backend is no longer needed.
func NewPortAudio() (Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioBackend{}, nil
}

// Terminate releases the PortAudio runtime.
func Terminate() error {
	return portaudio.Terminate()
}

func (p *portAudioBackend) Devices() ([]Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, fromInfo(i, info))
	}
	return devices, nil
}

func (p *portAudioBackend) DefaultInput() (Device, error) {
	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		return Device{}, fmt.Errorf("failed to get default input device: %w", err)
	}
	// PortAudio caches DeviceInfo values, so the default device is the same
	// pointer returned by Devices() and its slice position is its index.
	infos, err := portaudio.Devices()
	if err != nil {
		return Device{}, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for i, d := range infos {
		if d == info {
			return fromInfo(i, info), nil
		}
	}
	return Device{}, errors.New("default input device not found in device list")
}

func (p *portAudioBackend) Open(dev Device, channels, rate, framesPerBuffer int) (Stream, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	var info *portaudio.DeviceInfo
	for i, d := range infos {
		if i == dev.Index {
			info = d
			break
		}
	}
	if info == nil {
		return nil, fmt.Errorf("device not found: %s", dev.Name)
	}

	buf := make([]int16, framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultHighInputLatency,
		},
		SampleRate:      float64(rate),
		FramesPerBuffer: framesPerBuffer,
	}, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

func fromInfo(index int, info *portaudio.DeviceInfo) Device {
	return Device{
		Index:         index,
		Name:          info.Name,
		InputChannels: info.MaxInputChannels,
		SampleRate:    int(info.DefaultSampleRate),
	}
}

// portAudioStream wraps a PortAudio stream whose read buffer was bound at
// open time. Read fills dst from that buffer after each blocking read.
type portAudioStream struct {
	stream *portaudio.Stream
	buf    []int16
}

func (s *portAudioStream) Read(dst []int16) error {
	if err := s.stream.Read(); err != nil {
		// Buffer overrun loses samples but must never kill the worker.
		if errors.Is(err, portaudio.InputOverflowed) {
			copy(dst, s.buf)
			return nil
		}
		return err
	}
	copy(dst, s.buf)
	return nil
}

func (s *portAudioStream) Close() error {
	s.stream.Stop()
	return s.stream.Close()
}
