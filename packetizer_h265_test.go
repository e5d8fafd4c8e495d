package h265transport

import (
	"bytes"
	"testing"
)

// annexBNAL builds a NAL unit with a 4-byte start code, a 2-byte HEVC
// header for nalType, and size bytes of deterministic payload.
func annexBNAL(nalType byte, size int) []byte {
	out := []byte{0, 0, 0, 1, nalType << 1, 0x01}
	for i := 0; i < size; i++ {
		out = append(out, byte(i))
	}
	return out
}

func TestHEVCNALType(t *testing.T) {
	tests := []struct {
		header byte
		want   byte
	}{
		{0x26, 19}, // IDR_W_RADL
		{0x40, 32}, // VPS
		{0x42, 33}, // SPS
		{0x02, 1},  // TRAIL_R
	}
	for _, tt := range tests {
		if got := hevcNALType(tt.header); got != tt.want {
			t.Errorf("hevcNALType(%#x) = %d, want %d", tt.header, got, tt.want)
		}
	}
}

func TestIsIRAP(t *testing.T) {
	for nalType := byte(0); nalType < 64; nalType++ {
		want := nalType >= 16 && nalType <= 21
		if got := isIRAP(nalType); got != want {
			t.Errorf("isIRAP(%d) = %v, want %v", nalType, got, want)
		}
	}
}

func TestParseAnnexBNALUnits(t *testing.T) {
	var data []byte
	data = append(data, annexBNAL(nalTypeVPS, 10)...)
	// Mix in a 3-byte start code
	data = append(data, 0, 0, 1, nalTypeSPS<<1, 0x01, 0xAA)
	data = append(data, annexBNAL(nalTypeIDRWRadl, 50)...)

	nalUnits := parseAnnexBNALUnits(data)
	if len(nalUnits) != 3 {
		t.Fatalf("parsed %d NAL units, want 3", len(nalUnits))
	}
	if got := hevcNALType(nalUnits[0][0]); got != nalTypeVPS {
		t.Errorf("NAL 0 type = %d, want VPS", got)
	}
	if got := hevcNALType(nalUnits[1][0]); got != nalTypeSPS {
		t.Errorf("NAL 1 type = %d, want SPS", got)
	}
	if got := hevcNALType(nalUnits[2][0]); got != nalTypeIDRWRadl {
		t.Errorf("NAL 2 type = %d, want IDR", got)
	}
}

func TestH265Packetizer_SingleNAL(t *testing.T) {
	p := NewH265Packetizer(0x11223344, 104, 1200)

	pkt := &Packet{Payload: annexBNAL(nalTypeIDRWRadl, 100), PTS: 2}
	packets, err := p.Packetize(pkt)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("got %d RTP packets, want 1", len(packets))
	}

	rp := packets[0]
	if !rp.Header.Marker {
		t.Error("last packet of frame missing marker bit")
	}
	if rp.Header.PayloadType != 104 {
		t.Errorf("payload type = %d, want 104", rp.Header.PayloadType)
	}
	if rp.Header.SSRC != 0x11223344 {
		t.Errorf("ssrc = %#x, want 0x11223344", rp.Header.SSRC)
	}
	// pts 2 at 30fps on the 90kHz clock
	if rp.Header.Timestamp != 6000 {
		t.Errorf("timestamp = %d, want 6000", rp.Header.Timestamp)
	}
	if got := hevcNALType(rp.Payload[0]); got != nalTypeIDRWRadl {
		t.Errorf("payload NAL type = %d, want IDR", got)
	}
}

func TestH265Packetizer_Fragmentation(t *testing.T) {
	const mtu = 1200
	p := NewH265Packetizer(1, 104, mtu)

	pkt := &Packet{Payload: annexBNAL(nalTypeIDRWRadl, 3000), PTS: 0}
	packets, err := p.Packetize(pkt)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) < 2 {
		t.Fatalf("got %d RTP packets, want a fragmented sequence", len(packets))
	}

	for i, rp := range packets {
		if len(rp.Payload) > mtu-12 {
			t.Errorf("packet %d payload %d bytes exceeds mtu budget", i, len(rp.Payload))
		}
		if got := hevcNALType(rp.Payload[0]); got != nalTypeFU {
			t.Errorf("packet %d payload type = %d, want FU (49)", i, got)
		}

		fuHeader := rp.Payload[2]
		start := fuHeader&0x80 != 0
		end := fuHeader&0x40 != 0
		if start != (i == 0) {
			t.Errorf("packet %d start bit = %v", i, start)
		}
		if end != (i == len(packets)-1) {
			t.Errorf("packet %d end bit = %v", i, end)
		}
		if rp.Header.Marker != (i == len(packets)-1) {
			t.Errorf("packet %d marker = %v", i, rp.Header.Marker)
		}
		if got := fuHeader & 0x3F; got != nalTypeIDRWRadl {
			t.Errorf("packet %d FU type = %d, want IDR", i, got)
		}
	}

	// Sequence numbers must be consecutive.
	for i := 1; i < len(packets); i++ {
		if packets[i].Header.SequenceNumber != packets[i-1].Header.SequenceNumber+1 {
			t.Fatalf("sequence numbers not consecutive at packet %d", i)
		}
	}
}

func TestH265Packetizer_MarkerOnLastNALOnly(t *testing.T) {
	p := NewH265Packetizer(1, 104, 1200)

	var payload []byte
	payload = append(payload, annexBNAL(nalTypeVPS, 20)...)
	payload = append(payload, annexBNAL(nalTypeSPS, 30)...)
	payload = append(payload, annexBNAL(nalTypePPS, 10)...)
	payload = append(payload, annexBNAL(nalTypeIDRWRadl, 200)...)

	packets, err := p.Packetize(&Packet{Payload: payload})
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) != 4 {
		t.Fatalf("got %d RTP packets, want 4", len(packets))
	}
	for i, rp := range packets {
		want := i == len(packets)-1
		if rp.Header.Marker != want {
			t.Errorf("packet %d marker = %v, want %v", i, rp.Header.Marker, want)
		}
	}
}

func TestH265Packetizer_EmptyPayload(t *testing.T) {
	p := NewH265Packetizer(1, 104, 1200)

	packets, err := p.Packetize(&Packet{})
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	if len(packets) != 0 {
		t.Errorf("got %d packets from an empty payload", len(packets))
	}

	if _, err := p.Packetize(&Packet{Payload: []byte{0xFF, 0xFF}}); err == nil {
		t.Error("Packetize accepted payload with no start codes")
	}
}

func TestH265RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		nalType byte
		size    int
		key     bool
	}{
		{"SmallTrail", 1, 100, false},
		{"SmallIDR", nalTypeIDRWRadl, 100, true},
		{"FragmentedIDR", nalTypeIDRWRadl, 5000, true},
		{"FragmentedCRA", nalTypeCRA, 40000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewH265Packetizer(7, 104, 1200)
			d := NewH265Depacketizer()

			original := &Packet{Payload: annexBNAL(tt.nalType, tt.size), PTS: 4}
			packets, err := p.Packetize(original)
			if err != nil {
				t.Fatalf("Packetize failed: %v", err)
			}

			var out *Packet
			for _, rp := range packets {
				got, err := d.Depacketize(rp)
				if err != nil {
					t.Fatalf("Depacketize failed: %v", err)
				}
				if got != nil {
					out = got
				}
			}
			if out == nil {
				t.Fatal("no packet reassembled")
			}
			if !bytes.Equal(out.Payload, original.Payload) {
				t.Error("reassembled bitstream differs from original")
			}
			if out.IsKeyframe() != tt.key {
				t.Errorf("IsKeyframe = %v, want %v", out.IsKeyframe(), tt.key)
			}
			if out.PTS != original.PTS {
				t.Errorf("PTS = %d, want %d", out.PTS, original.PTS)
			}
		})
	}
}

func TestH265Depacketizer_Reset(t *testing.T) {
	p := NewH265Packetizer(7, 104, 1200)
	d := NewH265Depacketizer()

	packets, err := p.Packetize(&Packet{Payload: annexBNAL(nalTypeIDRWRadl, 5000), PTS: 1})
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}

	// Feed only the first fragment, then reset mid-frame.
	if _, err := d.Depacketize(packets[0]); err != nil {
		t.Fatalf("Depacketize failed: %v", err)
	}
	d.Reset()

	// A fresh complete frame must still reassemble cleanly.
	original := &Packet{Payload: annexBNAL(nalTypeCRA, 100), PTS: 2}
	single, err := p.Packetize(original)
	if err != nil {
		t.Fatalf("Packetize failed: %v", err)
	}
	out, err := d.Depacketize(single[0])
	if err != nil {
		t.Fatalf("Depacketize failed: %v", err)
	}
	if out == nil {
		t.Fatal("no packet after reset")
	}
	if !bytes.Equal(out.Payload, original.Payload) {
		t.Error("reassembled bitstream differs from original")
	}
}

func TestH265Packetizer_ToBytes(t *testing.T) {
	p := NewH265Packetizer(9, 104, 1200)
	d := NewH265Depacketizer()

	original := &Packet{Payload: annexBNAL(nalTypeIDRWRadl, 3000), PTS: 1}
	raw, err := p.PacketizeToBytes(original)
	if err != nil {
		t.Fatalf("PacketizeToBytes failed: %v", err)
	}

	var out *Packet
	for _, data := range raw {
		got, err := d.DepacketizeBytes(data)
		if err != nil {
			t.Fatalf("DepacketizeBytes failed: %v", err)
		}
		if got != nil {
			out = got
		}
	}
	if out == nil {
		t.Fatal("no packet reassembled")
	}
	if !bytes.Equal(out.Payload, original.Payload) {
		t.Error("reassembled bitstream differs from original")
	}
}
