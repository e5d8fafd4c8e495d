package h265transport

// TransportFormat is the fixed format tag attached to every wire message.
const TransportFormat = "h265"

// Preset selects the encoder speed/quality trade-off.
// Faster presets lower CPU usage at the cost of compression efficiency;
// PresetUltrafast is required for realtime encoding.
type Preset int

const (
	PresetUltrafast Preset = iota
	PresetSuperfast
	PresetVeryfast
	PresetFaster
	PresetFast
	PresetMedium
	PresetSlow
	PresetSlower
	PresetVeryslow
)

func (p Preset) String() string {
	switch p {
	case PresetUltrafast:
		return "ultrafast"
	case PresetSuperfast:
		return "superfast"
	case PresetVeryfast:
		return "veryfast"
	case PresetFaster:
		return "faster"
	case PresetFast:
		return "fast"
	case PresetMedium:
		return "medium"
	case PresetSlow:
		return "slow"
	case PresetSlower:
		return "slower"
	case PresetVeryslow:
		return "veryslow"
	default:
		return "unknown"
	}
}

// ParsePreset maps a preset name to its Preset value.
// Returns PresetUltrafast, false for unrecognized names.
func ParsePreset(name string) (Preset, bool) {
	for p := PresetUltrafast; p <= PresetVeryslow; p++ {
		if p.String() == name {
			return p, true
		}
	}
	return PresetUltrafast, false
}

// Provider identifies an encoder backend implementation.
type Provider uint8

const (
	ProviderAuto Provider = iota // Let library choose best available
	ProviderX265                 // libx265 via the libmedia_h265 wrapper
	providerCount
)

func (p Provider) String() string {
	switch p {
	case ProviderAuto:
		return "auto"
	case ProviderX265:
		return "x265"
	default:
		return "unknown"
	}
}

// ClockRate returns the RTP clock rate used for H.265 video.
func ClockRate() uint32 {
	// All video codecs use 90kHz clock
	return 90000
}

// DefaultPayloadType returns a typical RTP payload type for H.265.
// The actual payload type is negotiated out of band.
func DefaultPayloadType() uint8 {
	return 104
}
