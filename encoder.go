package h265transport

import (
	"fmt"
	"io"
	"sync"
)

// EncoderConfig holds the one-time configuration of an encoder session.
// It is derived from the first frame's dimensions and never changes for
// the lifetime of the session.
type EncoderConfig struct {
	Width  int // Frame width
	Height int // Frame height
	FPS    int // Fixed frame rate

	GOPSize    int    // Key(intra) frame interval
	MaxBFrames int    // Backward-reference frame depth
	RefFrames  int    // Reference frames usable by P-frames
	Preset     Preset // Speed/quality preset
	CRF        int    // Compression rate factor, 0-51 (lower = larger/cleaner)
	Threads    int    // Encoder worker threads

	Format PixelFormat // Pixel format consumed by the encoder
}

// EncoderStats provides encoding metrics.
type EncoderStats struct {
	FramesSubmitted uint64 // Frames fed to the encoder
	PacketsEmitted  uint64 // Packets drained from the encoder
	KeyPackets      uint64 // Packets flagged as key frames
	BytesEmitted    uint64 // Total payload bytes drained
	TransientWaits  uint64 // Times the feed step saw a busy encoder
}

// EncoderBackend is the low-level feed/drain surface of an H.265 encoder.
//
// The backend may hold frames internally for reordering, so SendFrame
// and ReceivePacket are decoupled: a frame fed now may surface packets
// only after later frames arrive, and one fed frame may surface several
// packets at once.
//
// SendFrame returns ErrEncoderBusy when the backend's input queue is
// full; the caller drains pending output and retries. Any other error
// is fatal. ReceivePacket returns ErrNoPacket when nothing more is
// available right now, and ErrEndOfStream after a Drain once the last
// buffered packet has been emitted.
type EncoderBackend interface {
	io.Closer

	// Open configures and opens the encoder. Called exactly once.
	Open(config EncoderConfig) error

	// SendFrame feeds one raw frame in the configured pixel format.
	SendFrame(frame *Frame) error

	// ReceivePacket retrieves the next available compressed packet.
	// The returned packet owns its payload.
	ReceivePacket() (*Packet, error)

	// Drain signals end of stream so remaining buffered frames are
	// emitted by subsequent ReceivePacket calls.
	Drain() error

	// Provider returns which provider created this backend.
	Provider() Provider
}

// --- Registry ---

type backendFactory func() (EncoderBackend, error)

type backendRegistry struct {
	mu        sync.RWMutex
	factories map[Provider]backendFactory
	def       Provider
}

var globalBackendRegistry = &backendRegistry{
	factories: make(map[Provider]backendFactory),
}

// RegisterEncoderBackend registers an encoder backend factory for a provider.
// The first registered provider becomes the default for ProviderAuto.
func RegisterEncoderBackend(provider Provider, factory backendFactory) {
	globalBackendRegistry.mu.Lock()
	defer globalBackendRegistry.mu.Unlock()

	if len(globalBackendRegistry.factories) == 0 {
		globalBackendRegistry.def = provider
	}
	globalBackendRegistry.factories[provider] = factory
}

// NewEncoderBackend creates an encoder backend for the given provider.
func NewEncoderBackend(provider Provider) (EncoderBackend, error) {
	globalBackendRegistry.mu.RLock()
	defer globalBackendRegistry.mu.RUnlock()

	p := provider
	if p == ProviderAuto {
		p = globalBackendRegistry.def
	}

	factory, ok := globalBackendRegistry.factories[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, p)
	}
	return factory()
}

// EncoderProviders returns the providers with a registered backend.
func EncoderProviders() []Provider {
	globalBackendRegistry.mu.RLock()
	defer globalBackendRegistry.mu.RUnlock()

	result := make([]Provider, 0, len(globalBackendRegistry.factories))
	for p := range globalBackendRegistry.factories {
		result = append(result, p)
	}
	return result
}
