package h265transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PublishFunc delivers one wire message to the downstream consumer.
type PublishFunc func(msg *WireMessage) error

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Publish receives every serialized packet. Required.
	Publish PublishFunc

	// Provider selects the encoder backend (ProviderAuto by default).
	Provider Provider

	// Params are the encoder knobs. Zero value selects defaults.
	// Ignored when Store is set.
	Params EncoderParams

	// Store, when set, declares the full parameter schema under
	// BaseName and uses the effective values instead of Params.
	Store    ParameterStore
	BaseName string

	// Envelope wraps every serialized packet in the versioned
	// envelope. Leave false for byte compatibility with consumers of
	// the legacy flat layout.
	Envelope bool

	// Logger for diagnostics; nil disables logging.
	Logger *zerolog.Logger
}

// PublisherStats provides publish pipeline metrics.
type PublisherStats struct {
	FramesIn      uint64 // Frames accepted by Publish
	MessagesOut   uint64 // Wire messages handed to the sink
	BytesOut      uint64 // Serialized bytes handed to the sink
	FramesDropped uint64 // Frames lost to a persistently busy encoder
	PublishErrors uint64 // Errors returned by the sink
}

// Publisher drives the per-frame pipeline: convert, feed and drain the
// encoder, serialize each emitted packet, and hand it to the publish
// sink. One mutex serializes the entire sequence, so concurrent Publish
// calls against one Publisher execute one at a time.
//
// The published message order equals the encoder's emission order,
// which may differ from frame submission order while backward-reference
// frames are enabled; consumers must not assume submission order.
type Publisher struct {
	mu       sync.Mutex
	publish  PublishFunc
	session  *EncoderSession
	conv     *Converter
	envelope bool
	closed   bool
	last     Header
	stats    PublisherStats
	log      zerolog.Logger
}

// NewPublisher creates a publisher. The encoder session is created now
// but configured lazily from the first published frame's dimensions.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Publish == nil {
		return nil, fmt.Errorf("%w: publish callback is required", ErrConfiguration)
	}

	params := cfg.Params
	if cfg.Store != nil {
		declared, err := DeclareParameters(cfg.Store, cfg.BaseName)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		params = declared
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("transport", TransportFormat).
		Str("stream", uuid.NewString()).Logger()

	session, err := NewEncoderSession(SessionConfig{
		Provider: cfg.Provider,
		Params:   params,
		Logger:   &logger,
	})
	if err != nil {
		return nil, err
	}

	return &Publisher{
		publish:  cfg.Publish,
		session:  session,
		envelope: cfg.Envelope,
		log:      logger,
	}, nil
}

// TransportName returns the transport identifier.
func (p *Publisher) TransportName() string {
	return TransportFormat
}

// Stats returns publish pipeline statistics.
func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Session exposes the underlying encoder session, mainly for
// inspecting its state and configuration.
func (p *Publisher) Session() *EncoderSession {
	return p.session
}

// Publish runs one frame through the pipeline. The first frame fixes
// the session's resolution; later frames must match it. Configuration
// and fatal encoder errors are returned to the caller; the session is
// unusable after either.
func (p *Publisher) Publish(frame *Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrSessionClosed
	}

	if p.conv == nil {
		if err := p.session.Configure(frame.Width, frame.Height); err != nil {
			return err
		}
		cfg := p.session.Config()
		conv, err := NewConverter(frame.Format, cfg.Width, cfg.Height)
		if err != nil {
			p.log.Error().Err(err).Stringer("format", frame.Format).Msg("converter setup failed")
			return err
		}
		p.conv = conv
	}

	p.stats.FramesIn++
	p.last = frame.Header

	converted, err := p.conv.Convert(frame)
	if err != nil {
		return fmt.Errorf("convert frame %d: %w", frame.Seq, err)
	}

	packets, err := p.session.Encode(converted)
	if perr := p.publishPackets(frame.Header, packets); perr != nil && err == nil {
		err = perr
	}
	if err != nil {
		if IsTransient(err) {
			p.stats.FramesDropped++
		}
		return err
	}
	return nil
}

// Close flushes the session, publishes every recovered packet under the
// last seen header, and releases the encoder.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	packets, err := p.session.Flush()
	if perr := p.publishPackets(p.last, packets); perr != nil && err == nil {
		err = perr
	}
	if cerr := p.session.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (p *Publisher) publishPackets(header Header, packets []*Packet) error {
	var firstErr error
	for _, pkt := range packets {
		data, err := pkt.Marshal()
		if err != nil {
			// MarshalSize and MarshalTo disagree only on a bug;
			// surface it instead of dropping silently.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if p.envelope {
			data = WrapEnvelope(data)
		}

		msg := &WireMessage{Header: header, Format: TransportFormat, Data: data}
		if err := p.publish(msg); err != nil {
			p.stats.PublishErrors++
			p.log.Warn().Err(err).Int64("pts", pkt.PTS).Msg("publish failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.stats.MessagesOut++
		p.stats.BytesOut += uint64(len(data))
	}
	return firstErr
}
