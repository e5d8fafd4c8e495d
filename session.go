package h265transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultFPS is the fixed frame rate assumed for all sessions.
const DefaultFPS = 30

// Feed retry policy. A busy encoder is drained and retried with backoff;
// a backend that stays busy past the limit drops the frame instead of
// blocking the caller forever.
const (
	sendRetryLimit   = 5
	sendRetryBackoff = 2 * time.Millisecond
)

// SessionState represents the lifecycle state of an encoder session.
type SessionState int

const (
	StateUnconfigured SessionState = iota // Waiting for the first frame
	StateReady                            // Configured and open
	StateFailed                           // Permanently unusable
	StateClosed                           // Flushed and closed
)

func (s SessionState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig configures an encoder session.
type SessionConfig struct {
	Provider Provider        // Encoder backend provider (ProviderAuto = first registered)
	Params   EncoderParams   // Encoder knobs; zero value means defaults
	Logger   *zerolog.Logger // Optional; nil disables logging
}

// EncoderSession owns the mutable state of one encoder instance.
//
// A session is constructed once and configured lazily from the first
// frame's dimensions. Configuration happens at most once; all frames
// submitted afterwards must match the configured resolution. The
// session follows a feed/drain protocol against the backend: each
// Encode call feeds one frame and drains every packet available, so a
// single call may yield zero, one, or several packets.
type EncoderSession struct {
	mu      sync.Mutex
	backend EncoderBackend
	params  EncoderParams
	state   SessionState
	config  EncoderConfig
	stats   EncoderStats
	log     zerolog.Logger
}

// NewEncoderSession creates a session with a backend from the registry.
// Parameters are validated here, once; an invalid set fails construction.
func NewEncoderSession(cfg SessionConfig) (*EncoderSession, error) {
	params := cfg.Params
	if params == (EncoderParams{}) {
		params = DefaultEncoderParams()
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	backend, err := NewEncoderBackend(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &EncoderSession{
		backend: backend,
		params:  params,
		state:   StateUnconfigured,
		log:     logger,
	}, nil
}

// State returns the current session state.
func (s *EncoderSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns the encoder configuration. Zero value until configured.
func (s *EncoderSession) Config() EncoderConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Stats returns encoding statistics.
func (s *EncoderSession) Stats() EncoderStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Configure performs the one-time encoder setup for the given resolution.
// It executes only while the session is still unconfigured; calling it
// again is a no-op on a ready session. A failure to open the encoder
// leaves the session permanently unusable.
func (s *EncoderSession) Configure(width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configureLocked(width, height)
}

func (s *EncoderSession) configureLocked(width, height int) error {
	switch s.state {
	case StateReady:
		return nil
	case StateFailed:
		return ErrSessionFailed
	case StateClosed:
		return ErrSessionClosed
	}

	// 4:2:0 chroma subsampling needs even dimensions.
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		s.state = StateFailed
		return fmt.Errorf("%w: resolution %dx%d not encodable", ErrConfiguration, width, height)
	}

	cfg := EncoderConfig{
		Width:      width,
		Height:     height,
		FPS:        DefaultFPS,
		GOPSize:    s.params.GOPSize,
		MaxBFrames: s.params.MaxBFrames,
		RefFrames:  s.params.RefFrames,
		Preset:     s.params.Preset,
		CRF:        s.params.CRF,
		Threads:    s.params.Threads,
		Format:     PixelFormatI420,
	}
	if cfg.GOPSize == 0 {
		// Key(intra) frame every two seconds.
		cfg.GOPSize = 2 * cfg.FPS
	}

	if err := s.backend.Open(cfg); err != nil {
		s.state = StateFailed
		s.log.Error().Err(err).Int("width", width).Int("height", height).
			Msg("could not open encoder")
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	s.config = cfg
	s.state = StateReady
	s.log.Info().Int("width", width).Int("height", height).
		Int("gop", cfg.GOPSize).Int("bframes", cfg.MaxBFrames).
		Stringer("preset", cfg.Preset).Msg("encoder configured")
	return nil
}

// Encode feeds one frame and drains every packet the encoder has ready.
//
// The encoder buffers frames internally for reordering, so the returned
// slice may be empty for the first few calls, and packet order follows
// the encoder's emission order rather than submission order. The frame
// must be in the configured pixel format and resolution.
func (s *EncoderSession) Encode(frame *Frame) ([]*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnconfigured:
		if err := s.configureLocked(frame.Width, frame.Height); err != nil {
			return nil, err
		}
	case StateFailed:
		return nil, ErrSessionFailed
	case StateClosed:
		return nil, ErrSessionClosed
	}

	if frame.Width != s.config.Width || frame.Height != s.config.Height {
		return nil, fmt.Errorf("%w: got %dx%d, configured %dx%d",
			ErrResolutionChanged, frame.Width, frame.Height, s.config.Width, s.config.Height)
	}

	var out []*Packet

	// Feed step. A busy backend means its output queue needs draining
	// before it can take more input; drain, back off, and retry a
	// bounded number of times. Fatal signals are never retried.
	fed := false
	backoff := sendRetryBackoff
	for attempt := 0; attempt < sendRetryLimit; attempt++ {
		err := s.backend.SendFrame(frame)
		if err == nil {
			fed = true
			break
		}
		if !IsTransient(err) {
			s.state = StateFailed
			s.log.Error().Err(err).Uint64("seq", frame.Seq).Msg("fatal encode error")
			return out, fmt.Errorf("send frame %d: %w", frame.Seq, err)
		}
		s.stats.TransientWaits++
		pkts, derr := s.drainLocked()
		out = append(out, pkts...)
		if derr != nil {
			return out, derr
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	if !fed {
		// Frame dropped rather than blocking the caller indefinitely.
		s.log.Warn().Uint64("seq", frame.Seq).Msg("encoder still busy, dropping frame")
		return out, fmt.Errorf("send frame %d: %w", frame.Seq, ErrEncoderBusy)
	}
	s.stats.FramesSubmitted++

	// Drain step: request output until nothing more is available.
	pkts, err := s.drainLocked()
	out = append(out, pkts...)
	return out, err
}

// drainLocked receives packets until the backend reports none available.
func (s *EncoderSession) drainLocked() ([]*Packet, error) {
	var out []*Packet
	for {
		pkt, err := s.backend.ReceivePacket()
		if err != nil {
			if IsTransient(err) || err == ErrNoPacket || err == ErrEndOfStream {
				return out, nil
			}
			s.state = StateFailed
			s.log.Error().Err(err).Msg("fatal drain error")
			return out, fmt.Errorf("receive packet: %w", err)
		}
		s.recordPacket(pkt)
		out = append(out, pkt)
	}
}

func (s *EncoderSession) recordPacket(pkt *Packet) {
	s.stats.PacketsEmitted++
	s.stats.BytesEmitted += uint64(len(pkt.Payload))
	if pkt.IsKeyframe() {
		s.stats.KeyPackets++
	}
}

// Flush signals end of stream and recovers every frame still buffered
// for reordering. The session transitions to StateClosed and accepts no
// further frames. Flushing an unconfigured session is a no-op.
func (s *EncoderSession) Flush() ([]*Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUnconfigured:
		s.state = StateClosed
		return nil, nil
	case StateFailed:
		return nil, ErrSessionFailed
	case StateClosed:
		return nil, ErrSessionClosed
	}

	if err := s.backend.Drain(); err != nil && IsFatal(err) {
		s.state = StateFailed
		return nil, fmt.Errorf("drain: %w", err)
	}

	var out []*Packet
	for {
		pkt, err := s.backend.ReceivePacket()
		if err != nil {
			if err == ErrEndOfStream || err == ErrNoPacket {
				break
			}
			if IsTransient(err) {
				continue
			}
			s.state = StateFailed
			return out, fmt.Errorf("receive packet: %w", err)
		}
		s.recordPacket(pkt)
		out = append(out, pkt)
	}

	s.state = StateClosed
	s.log.Debug().Int("recovered", len(out)).Msg("session flushed")
	return out, nil
}

// Close releases the backend. Buffered packets are discarded; call
// Flush first to recover them.
func (s *EncoderSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		s.state = StateClosed
	}
	return s.backend.Close()
}
