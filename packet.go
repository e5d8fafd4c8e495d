package h265transport

// PacketFlags is a bitmask describing properties of an encoded packet.
type PacketFlags uint32

const (
	// FlagKey marks a packet containing a self-contained (key) frame.
	FlagKey PacketFlags = 1 << iota
	// FlagCorrupt marks a packet the encoder flagged as damaged.
	FlagCorrupt
	// FlagDiscard marks a packet that can be dropped after decoding.
	FlagDiscard
)

// SideDataType tags an auxiliary metadata entry attached to a packet.
type SideDataType int32

const (
	SideDataUnknown SideDataType = iota
	SideDataNewExtradata
	SideDataParamChange
	SideDataSkipSamples
)

func (t SideDataType) String() string {
	switch t {
	case SideDataNewExtradata:
		return "NewExtradata"
	case SideDataParamChange:
		return "ParamChange"
	case SideDataSkipSamples:
		return "SkipSamples"
	default:
		return "Unknown"
	}
}

// SideData is a typed, variable-length auxiliary value attached to a packet.
type SideData struct {
	Type SideDataType
	Data []byte
}

// Packet holds one compressed output unit from the encoder.
// The Payload slice is owned by the packet and remains valid after
// subsequent Encode calls.
type Packet struct {
	Payload     []byte      // Compressed bitstream data
	PTS         int64       // Presentation timestamp
	DTS         int64       // Decode timestamp (may trail PTS with B-frames)
	StreamIndex int32       // Origin stream index
	Flags       PacketFlags // Packet property bitmask
	SideData    []SideData  // Ordered auxiliary metadata entries
	Duration    int64       // Packet duration in time-base units
	Pos         int64       // Byte position marker (-1 if unknown)
}

// IsKeyframe returns true if the packet carries a key frame.
func (p *Packet) IsKeyframe() bool {
	return p.Flags&FlagKey != 0
}

// Clone creates a deep copy of the packet.
func (p *Packet) Clone() *Packet {
	clone := &Packet{
		PTS:         p.PTS,
		DTS:         p.DTS,
		StreamIndex: p.StreamIndex,
		Flags:       p.Flags,
		Duration:    p.Duration,
		Pos:         p.Pos,
	}
	if p.Payload != nil {
		clone.Payload = make([]byte, len(p.Payload))
		copy(clone.Payload, p.Payload)
	}
	if p.SideData != nil {
		clone.SideData = make([]SideData, len(p.SideData))
		for i, sd := range p.SideData {
			clone.SideData[i].Type = sd.Type
			if sd.Data != nil {
				clone.SideData[i].Data = make([]byte, len(sd.Data))
				copy(clone.SideData[i].Data, sd.Data)
			}
		}
	}
	return clone
}
