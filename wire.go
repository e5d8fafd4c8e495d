package h265transport

import (
	"encoding/binary"
	"fmt"
)

// Wire layout of a serialized packet, in order:
//
//	[4B payload buffer length][payload]
//	[4B declared payload length][payload]
//	[8B pts][8B dts][4B stream index][4B flags]
//	[4B side data count]([4B size][4B type][data])*
//	[8B duration][8B pos]
//
// All integers are little-endian, matching the architecture the format
// was deployed on. The payload appears twice: historical consumers read
// the buffer region and the declared region as separate fields, so both
// are kept for wire compatibility. This codec writes the same bytes to
// both regions and rejects input whose region lengths disagree.

// WireMessage is the self-describing unit handed to the publish sink.
type WireMessage struct {
	Header Header // Copied verbatim from the source frame
	Format string // Always TransportFormat ("h265")
	Data   []byte // Serialized packet, optionally enveloped
}

const packetFixedOverhead = 4 + 4 + 8 + 8 + 4 + 4 + 4 + 8 + 8

// MarshalSize returns the exact number of bytes Marshal will produce.
func (p *Packet) MarshalSize() int {
	size := packetFixedOverhead + 2*len(p.Payload)
	for _, sd := range p.SideData {
		size += 4 + 4 + len(sd.Data)
	}
	return size
}

// MarshalTo serializes the packet into buf, which must hold at least
// MarshalSize bytes. Returns the number of bytes written.
func (p *Packet) MarshalTo(buf []byte) (int, error) {
	size := p.MarshalSize()
	if len(buf) < size {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrBufferTooSmall, size, len(buf))
	}

	n := 0
	binary.LittleEndian.PutUint32(buf[n:], uint32(len(p.Payload)))
	n += 4
	n += copy(buf[n:], p.Payload)

	binary.LittleEndian.PutUint32(buf[n:], uint32(len(p.Payload)))
	n += 4
	n += copy(buf[n:], p.Payload)

	binary.LittleEndian.PutUint64(buf[n:], uint64(p.PTS))
	n += 8
	binary.LittleEndian.PutUint64(buf[n:], uint64(p.DTS))
	n += 8
	binary.LittleEndian.PutUint32(buf[n:], uint32(p.StreamIndex))
	n += 4
	binary.LittleEndian.PutUint32(buf[n:], uint32(p.Flags))
	n += 4

	binary.LittleEndian.PutUint32(buf[n:], uint32(len(p.SideData)))
	n += 4
	for _, sd := range p.SideData {
		binary.LittleEndian.PutUint32(buf[n:], uint32(len(sd.Data)))
		n += 4
		binary.LittleEndian.PutUint32(buf[n:], uint32(sd.Type))
		n += 4
		n += copy(buf[n:], sd.Data)
	}

	binary.LittleEndian.PutUint64(buf[n:], uint64(p.Duration))
	n += 8
	binary.LittleEndian.PutUint64(buf[n:], uint64(p.Pos))
	n += 8

	return n, nil
}

// Marshal serializes the packet into a single exactly-sized buffer.
func (p *Packet) Marshal() ([]byte, error) {
	buf := make([]byte, p.MarshalSize())
	if _, err := p.MarshalTo(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal parses a serialized packet. The packet takes ownership of
// freshly copied payload and side data; buf may be reused afterwards.
func (p *Packet) Unmarshal(buf []byte) error {
	n := 0
	next := func(need int, field string) ([]byte, error) {
		if len(buf)-n < need {
			return nil, fmt.Errorf("truncated packet: %s needs %d bytes, %d left", field, need, len(buf)-n)
		}
		b := buf[n : n+need]
		n += need
		return b, nil
	}

	b, err := next(4, "buffer length")
	if err != nil {
		return err
	}
	bufLen := int(binary.LittleEndian.Uint32(b))
	region, err := next(bufLen, "payload buffer")
	if err != nil {
		return err
	}
	payload := make([]byte, bufLen)
	copy(payload, region)

	b, err = next(4, "declared length")
	if err != nil {
		return err
	}
	declLen := int(binary.LittleEndian.Uint32(b))
	if declLen != bufLen {
		return fmt.Errorf("corrupt packet: buffer length %d != declared length %d", bufLen, declLen)
	}
	if _, err = next(declLen, "declared payload"); err != nil {
		return err
	}

	b, err = next(8+8+4+4+4, "timestamps")
	if err != nil {
		return err
	}
	p.PTS = int64(binary.LittleEndian.Uint64(b[0:]))
	p.DTS = int64(binary.LittleEndian.Uint64(b[8:]))
	p.StreamIndex = int32(binary.LittleEndian.Uint32(b[16:]))
	p.Flags = PacketFlags(binary.LittleEndian.Uint32(b[20:]))
	sideCount := int(binary.LittleEndian.Uint32(b[24:]))

	if sideCount > len(buf) {
		return fmt.Errorf("corrupt packet: side data count %d exceeds input", sideCount)
	}
	p.SideData = nil
	if sideCount > 0 {
		p.SideData = make([]SideData, 0, sideCount)
	}
	for i := 0; i < sideCount; i++ {
		b, err = next(8, "side data header")
		if err != nil {
			return err
		}
		sdLen := int(binary.LittleEndian.Uint32(b[0:]))
		sdType := SideDataType(binary.LittleEndian.Uint32(b[4:]))
		region, err = next(sdLen, "side data payload")
		if err != nil {
			return err
		}
		data := make([]byte, sdLen)
		copy(data, region)
		p.SideData = append(p.SideData, SideData{Type: sdType, Data: data})
	}

	b, err = next(16, "duration")
	if err != nil {
		return err
	}
	p.Duration = int64(binary.LittleEndian.Uint64(b[0:]))
	p.Pos = int64(binary.LittleEndian.Uint64(b[8:]))

	if n != len(buf) {
		return fmt.Errorf("corrupt packet: %d trailing bytes", len(buf)-n)
	}

	p.Payload = payload
	return nil
}

// --- Versioned envelope ---

// The flat packet layout carries no magic or version. New consumers use
// an envelope so future fields can be added without breaking old ones:
//
//	[4B magic "H265"][2B version][4B body length][body]

var wireMagic = [4]byte{'H', '2', '6', '5'}

// WireVersion is the current envelope version.
const WireVersion uint16 = 1

// EnvelopeOverhead is the byte cost of wrapping a body in an envelope.
const EnvelopeOverhead = 4 + 2 + 4

// WrapEnvelope prefixes body with the versioned envelope header.
func WrapEnvelope(body []byte) []byte {
	out := make([]byte, EnvelopeOverhead+len(body))
	copy(out, wireMagic[:])
	binary.LittleEndian.PutUint16(out[4:], WireVersion)
	binary.LittleEndian.PutUint32(out[6:], uint32(len(body)))
	copy(out[EnvelopeOverhead:], body)
	return out
}

// UnwrapEnvelope validates the envelope header and returns the body.
func UnwrapEnvelope(data []byte) ([]byte, error) {
	if len(data) < EnvelopeOverhead {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(data))
	}
	if data[0] != wireMagic[0] || data[1] != wireMagic[1] || data[2] != wireMagic[2] || data[3] != wireMagic[3] {
		return nil, fmt.Errorf("bad envelope magic %q", data[:4])
	}
	version := binary.LittleEndian.Uint16(data[4:])
	if version != WireVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", version)
	}
	bodyLen := int(binary.LittleEndian.Uint32(data[6:]))
	if bodyLen != len(data)-EnvelopeOverhead {
		return nil, fmt.Errorf("envelope length %d does not match body %d", bodyLen, len(data)-EnvelopeOverhead)
	}
	return data[EnvelopeOverhead:], nil
}
