//go:build (darwin || linux) && !noh265

package h265transport

import (
	"errors"
	"testing"
)

// These tests exercise the real libmedia_h265 backend and skip when the
// native library is not installed.

func requireH265(t *testing.T) {
	t.Helper()
	if !IsH265EncoderAvailable() {
		t.Skip("libmedia_h265 not available")
	}
}

func TestX265Backend_EncodeColorBars(t *testing.T) {
	requireH265(t)

	session, err := NewEncoderSession(SessionConfig{Provider: ProviderX265})
	if err != nil {
		t.Fatalf("NewEncoderSession failed: %v", err)
	}
	defer session.Close()

	conv, err := NewConverter(PixelFormatRGB24, 320, 240)
	if err != nil {
		t.Fatalf("NewConverter failed: %v", err)
	}

	source := NewTestPatternSource(TestPatternConfig{
		Width:   320,
		Height:  240,
		Pattern: PatternMovingBox,
	})

	var packets []*Packet
	for i := 0; i < 30; i++ {
		frame, err := conv.Convert(source.NextFrame())
		if err != nil {
			t.Fatalf("Convert failed: %v", err)
		}
		pkts, err := session.Encode(frame)
		if err != nil {
			t.Fatalf("Encode frame %d failed: %v", i, err)
		}
		packets = append(packets, pkts...)
	}

	flushed, err := session.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	packets = append(packets, flushed...)

	if len(packets) == 0 {
		t.Fatal("no packets produced from 30 frames")
	}
	if !packets[0].IsKeyframe() {
		t.Error("first packet is not a keyframe")
	}
	for i, pkt := range packets {
		if len(pkt.Payload) == 0 {
			t.Errorf("packet %d has empty payload", i)
		}
	}

	stats := session.Stats()
	if stats.FramesSubmitted != 30 {
		t.Errorf("FramesSubmitted = %d, want 30", stats.FramesSubmitted)
	}
	if stats.KeyPackets == 0 {
		t.Error("no key packets counted")
	}
}

func TestX265Backend_EncodeAfterDrain(t *testing.T) {
	requireH265(t)

	backend, err := NewX265Backend()
	if err != nil {
		t.Fatalf("NewX265Backend failed: %v", err)
	}
	defer backend.Close()

	cfg := EncoderConfig{
		Width: 64, Height: 64, FPS: 30,
		GOPSize: 60, RefFrames: 1,
		Preset: PresetUltrafast, CRF: 35, Threads: 1,
		Format: PixelFormatI420,
	}
	if err := backend.Open(cfg); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	frame := NewI420Frame(64, 64)
	if err := backend.SendFrame(frame); err != nil {
		t.Fatalf("SendFrame failed: %v", err)
	}
	if err := backend.Drain(); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	got := 0
	for attempts := 0; attempts < 1000; attempts++ {
		pkt, err := backend.ReceivePacket()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if errors.Is(err, ErrNoPacket) {
			continue
		}
		if err != nil {
			t.Fatalf("ReceivePacket failed: %v", err)
		}
		if len(pkt.Payload) == 0 {
			t.Error("empty payload")
		}
		got++
	}
	if got != 1 {
		t.Errorf("recovered %d packets, want 1", got)
	}
}

func TestH265Availability(t *testing.T) {
	// Must not panic regardless of library presence.
	t.Logf("library available: %v, encoder available: %v",
		IsH265Available(), IsH265EncoderAvailable())
}
