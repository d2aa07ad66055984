package audio

import (
	"strings"

	"github.com/rs/zerolog"
)

// Role is the capture role a device is selected for.
type Role int

const (
	RoleMicrophone Role = iota
	RoleLoopback
)

func (r Role) String() string {
	if r == RoleLoopback {
		return "loopback"
	}
	return "microphone"
}

// probeFrames is the buffer size used for short-lived validation streams.
const probeFrames = 1024

// Catalog enumerates, classifies and validates audio endpoints on top of a
// Backend. Devices are enumerated once per session at selection time; the
// catalog keeps no state across hot-plug events.
type Catalog struct {
	backend Backend
	log     zerolog.Logger
}

// NewCatalog creates a catalog over the given backend.
func NewCatalog(b Backend, log zerolog.Logger) *Catalog {
	return &Catalog{backend: b, log: log}
}

// Classify determines a device's kind. An explicit backend loopback flag
// wins over name heuristics.
func Classify(d Device) DeviceKind {
	if d.Loopback {
		return KindLoopback
	}
	name := strings.ToLower(d.Name)
	switch {
	case strings.Contains(name, "stereo mix"),
		strings.Contains(name, "what you hear"),
		strings.Contains(name, "loopback"),
		strings.Contains(name, "monitor of"):
		return KindLoopback
	case strings.Contains(name, "microphone"), strings.Contains(name, "mic"):
		return KindMicrophone
	}
	return KindUnknown
}

// Enumerate returns every input-capable endpoint, classified.
func (c *Catalog) Enumerate() ([]Device, error) {
	all, err := c.backend.Devices()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(all))
	for _, d := range all {
		if d.InputChannels <= 0 {
			continue
		}
		d.Kind = Classify(d)
		devices = append(devices, d)
	}
	return devices, nil
}

// Validate opens a short probe stream on dev at its natural settings and
// reports whether the open succeeded. It never returns an error.
func (c *Catalog) Validate(dev Device) bool {
	channels := dev.InputChannels
	if channels > 2 {
		channels = 2
	}
	if channels < 1 {
		return false
	}
	stream, err := c.backend.Open(dev, channels, dev.SampleRate, probeFrames)
	if err != nil {
		c.log.Debug().Str("device", dev.Name).Err(err).Msg("Probe open failed")
		return false
	}
	stream.Close()
	return true
}

// SelectDefault picks the best validated device for role.
//
// Microphone: the first validated name-matched microphone, falling back to
// the OS default input if it validates. Loopback: an explicitly flagged
// loopback device, then a name-matched stereo-mix equivalent, then any
// output-labeled input-capable device. Returns ErrDeviceNotFound when no
// candidate validates.
func (c *Catalog) SelectDefault(role Role) (Device, error) {
	devices, err := c.Enumerate()
	if err != nil {
		return Device{}, err
	}

	if role == RoleMicrophone {
		for _, d := range devices {
			if d.Kind == KindMicrophone && c.Validate(d) {
				d.Validated = true
				return d, nil
			}
		}
		if def, err := c.backend.DefaultInput(); err == nil && def.InputChannels > 0 {
			def.Kind = Classify(def)
			if c.Validate(def) {
				def.Validated = true
				return def, nil
			}
		}
		return Device{}, ErrDeviceNotFound
	}

	// Loopback: explicit flag beats name heuristics.
	for _, d := range devices {
		if d.Loopback && c.Validate(d) {
			d.Validated = true
			return d, nil
		}
	}
	for _, d := range devices {
		if d.Kind == KindLoopback && c.Validate(d) {
			d.Validated = true
			return d, nil
		}
	}
	for _, d := range devices {
		name := strings.ToLower(d.Name)
		if strings.Contains(name, "output") || strings.Contains(name, "speaker") {
			if c.Validate(d) {
				d.Validated = true
				return d, nil
			}
		}
	}
	return Device{}, ErrDeviceNotFound
}

// FindByName returns the first input-capable device whose name contains the
// given substring (case-insensitive) and validates. Used for explicit
// device overrides from config.
func (c *Catalog) FindByName(name string) (Device, error) {
	devices, err := c.Enumerate()
	if err != nil {
		return Device{}, err
	}
	want := strings.ToLower(name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), want) && c.Validate(d) {
			d.Validated = true
			return d, nil
		}
	}
	return Device{}, ErrDeviceNotFound
}
