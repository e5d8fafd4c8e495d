package h265transport

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

// H265 NAL unit types (payload header, 6 bits)
const (
	nalTypeIDRWRadl = 19
	nalTypeIDRNLP   = 20
	nalTypeCRA      = 21
	nalTypeVPS      = 32
	nalTypeSPS      = 33
	nalTypePPS      = 34
	nalTypeAP       = 48 // Aggregation packet
	nalTypeFU       = 49 // Fragmentation unit
)

// hevcNALType extracts the type from the first byte of a 2-byte HEVC
// NAL unit header.
func hevcNALType(b byte) byte {
	return (b >> 1) & 0x3F
}

// isIRAP reports whether a NAL type starts an intra random access point.
func isIRAP(nalType byte) bool {
	return nalType >= 16 && nalType <= nalTypeCRA
}

// H265Packetizer converts encoded H.265 frames into RTP packets
// following RFC 7798 (single NAL unit and FU packets).
type H265Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	mu          sync.Mutex
}

// NewH265Packetizer creates a new H.265 RTP packetizer.
func NewH265Packetizer(ssrc uint32, payloadType uint8, mtu int) *H265Packetizer {
	if mtu <= 0 {
		mtu = 1200
	}
	return &H265Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
	}
}

// Packetize converts one encoded packet into RTP packets.
// The payload must be Annex B format (with start codes). The RTP
// timestamp is derived from the packet's pts at the 90kHz video clock.
func (p *H265Packetizer) Packetize(pkt *Packet) ([]*rtp.Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(pkt.Payload) == 0 {
		return nil, nil
	}

	nalUnits := parseAnnexBNALUnits(pkt.Payload)
	if len(nalUnits) == 0 {
		return nil, fmt.Errorf("no NAL units found in packet")
	}

	timestamp := uint32(pkt.PTS * int64(ClockRate()) / int64(DefaultFPS))

	var packets []*rtp.Packet
	for i, nalu := range nalUnits {
		if len(nalu) < 2 {
			continue
		}
		isLast := i == len(nalUnits)-1

		if len(nalu) <= p.mtu-12 { // RTP header is 12 bytes
			// Single NAL unit packet
			packets = append(packets, &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         isLast,
					PayloadType:    p.payloadType,
					SequenceNumber: p.sequencer.NextSequenceNumber(),
					Timestamp:      timestamp,
					SSRC:           p.ssrc,
				},
				Payload: nalu,
			})
		} else {
			packets = append(packets, p.fragmentNALUnit(nalu, timestamp, isLast)...)
		}
	}

	return packets, nil
}

// fragmentNALUnit splits a large NAL unit into FU packets.
func (p *H265Packetizer) fragmentNALUnit(nalu []byte, timestamp uint32, isLastNALU bool) []*rtp.Packet {
	nalType := hevcNALType(nalu[0])

	// FU payload header keeps the original layer ID and TID but
	// carries type 49.
	fuPayloadHdr := [2]byte{
		(nalu[0] & 0x81) | (nalTypeFU << 1),
		nalu[1],
	}

	// Skip the 2-byte NAL header; it is reconstructed from the FU header.
	payload := nalu[2:]
	maxPayload := p.mtu - 12 - 3 // RTP header (12) + payload header (2) + FU header (1)

	var packets []*rtp.Packet
	offset := 0

	for offset < len(payload) {
		end := offset + maxPayload
		if end > len(payload) {
			end = len(payload)
		}

		// FU header: S | E | FuType
		fuHeader := nalType
		if offset == 0 {
			fuHeader |= 0x80 // Start bit
		}
		isEnd := end == len(payload)
		if isEnd {
			fuHeader |= 0x40 // End bit
		}

		pktPayload := make([]byte, 3+end-offset)
		pktPayload[0] = fuPayloadHdr[0]
		pktPayload[1] = fuPayloadHdr[1]
		pktPayload[2] = fuHeader
		copy(pktPayload[3:], payload[offset:end])

		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         isEnd && isLastNALU,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: pktPayload,
		})

		offset = end
	}

	return packets
}

// PacketizeToBytes converts one encoded packet to raw RTP packet bytes.
func (p *H265Packetizer) PacketizeToBytes(pkt *Packet) ([][]byte, error) {
	packets, err := p.Packetize(pkt)
	if err != nil {
		return nil, err
	}
	result := make([][]byte, len(packets))
	for i, rp := range packets {
		result[i], _ = rp.Marshal()
	}
	return result, nil
}

func (p *H265Packetizer) SSRC() uint32       { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *H265Packetizer) PayloadType() uint8 { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *H265Packetizer) MTU() int           { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }
func (p *H265Packetizer) SetMTU(mtu int)     { p.mu.Lock(); p.mtu = mtu; p.mu.Unlock() }

// parseAnnexBNALUnits parses Annex B format into individual NAL units.
// Annex B uses start codes: 0x00000001 or 0x000001
func parseAnnexBNALUnits(data []byte) [][]byte {
	var nalUnits [][]byte
	var start int = -1

	for i := 0; i < len(data); i++ {
		// Look for start code
		if i+3 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			// 4-byte start code
			if start >= 0 {
				// End of previous NAL unit
				nalu := data[start:i]
				if len(nalu) > 0 {
					nalUnits = append(nalUnits, nalu)
				}
			}
			start = i + 4
			i += 3
		} else if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			// 3-byte start code
			if start >= 0 {
				nalu := data[start:i]
				if len(nalu) > 0 {
					nalUnits = append(nalUnits, nalu)
				}
			}
			start = i + 3
			i += 2
		}
	}

	// Handle last NAL unit
	if start >= 0 && start < len(data) {
		nalu := data[start:]
		if len(nalu) > 0 {
			nalUnits = append(nalUnits, nalu)
		}
	}

	return nalUnits
}

// H265Depacketizer reassembles H.265 NAL units from RTP packets.
// It only reassembles the bitstream; it never decodes.
type H265Depacketizer struct {
	frameData   []byte // Accumulated NAL data for current frame (Annex-B format)
	fuBuffer    []byte // Buffer for the NAL currently being reassembled
	fragmenting bool   // True while inside an FU sequence
	timestamp   uint32 // Current frame timestamp
	key         bool   // Current frame contains an IRAP NAL
	mu          sync.Mutex
}

// NewH265Depacketizer creates a new H.265 RTP depacketizer.
func NewH265Depacketizer() *H265Depacketizer {
	return &H265Depacketizer{}
}

// Depacketize processes an RTP packet and returns a complete packet if
// available. The returned packet contains Annex-B formatted NAL units.
func (d *H265Depacketizer) Depacketize(pkt *rtp.Packet) (*Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pkt.Payload) < 2 {
		return nil, nil
	}

	// New timestamp means a new frame started
	if d.timestamp != 0 && d.timestamp != pkt.Header.Timestamp {
		d.reset()
	}
	d.timestamp = pkt.Header.Timestamp

	nalType := hevcNALType(pkt.Payload[0])
	switch {
	case nalType < nalTypeAP:
		// Single NAL unit packet
		if isIRAP(nalType) {
			d.key = true
		}
		d.frameData = append(d.frameData, 0, 0, 0, 1)
		d.frameData = append(d.frameData, pkt.Payload...)

	case nalType == nalTypeAP:
		if err := d.depacketizeAP(pkt.Payload); err != nil {
			return nil, err
		}

	case nalType == nalTypeFU:
		if err := d.depacketizeFU(pkt.Payload); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported NAL type: %d", nalType)
	}

	// Marker bit closes the frame
	if pkt.Header.Marker && len(d.frameData) > 0 {
		out := &Packet{
			Payload: make([]byte, len(d.frameData)),
			PTS:     int64(d.timestamp) * int64(DefaultFPS) / int64(ClockRate()),
		}
		if d.key {
			out.Flags |= FlagKey
		}
		copy(out.Payload, d.frameData)
		out.DTS = out.PTS
		out.Pos = -1

		d.frameData = d.frameData[:0]
		d.key = false
		return out, nil
	}

	return nil, nil
}

func (d *H265Depacketizer) depacketizeAP(payload []byte) error {
	// Skip the 2-byte aggregation payload header
	offset := 2

	for offset < len(payload) {
		if offset+2 > len(payload) {
			break
		}
		naluSize := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2

		if offset+naluSize > len(payload) {
			break
		}

		if naluSize >= 2 && isIRAP(hevcNALType(payload[offset])) {
			d.key = true
		}

		d.frameData = append(d.frameData, 0, 0, 0, 1)
		d.frameData = append(d.frameData, payload[offset:offset+naluSize]...)
		offset += naluSize
	}

	return nil
}

func (d *H265Depacketizer) depacketizeFU(payload []byte) error {
	if len(payload) < 3 {
		return fmt.Errorf("FU packet too short")
	}

	fuHeader := payload[2]
	isStart := (fuHeader & 0x80) != 0
	isEnd := (fuHeader & 0x40) != 0
	nalType := fuHeader & 0x3F

	if isStart {
		if isIRAP(nalType) {
			d.key = true
		}

		// Reconstruct the original 2-byte NAL header
		d.fuBuffer = d.fuBuffer[:0]
		d.fuBuffer = append(d.fuBuffer,
			(payload[0]&0x81)|(nalType<<1),
			payload[1],
		)
		d.fragmenting = true
	}

	if !d.fragmenting {
		return nil
	}

	// Append fragment data (skip payload header and FU header)
	d.fuBuffer = append(d.fuBuffer, payload[3:]...)

	if isEnd {
		d.frameData = append(d.frameData, 0, 0, 0, 1)
		d.frameData = append(d.frameData, d.fuBuffer...)
		d.fuBuffer = d.fuBuffer[:0]
		d.fragmenting = false
	}

	return nil
}

func (d *H265Depacketizer) reset() {
	d.frameData = d.frameData[:0]
	d.fuBuffer = d.fuBuffer[:0]
	d.fragmenting = false
	d.key = false
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *H265Depacketizer) DepacketizeBytes(data []byte) (*Packet, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial frames.
func (d *H265Depacketizer) Reset() {
	d.mu.Lock()
	d.reset()
	d.timestamp = 0
	d.mu.Unlock()
}
