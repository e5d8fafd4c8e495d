//go:build (darwin || linux) && !noh265

// H.265 encoder backend via libmedia_h265 using purego.

package h265transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mediaH265Once    sync.Once
	mediaH265Handle  uintptr
	mediaH265InitErr error
	mediaH265Loaded  bool
)

// libmedia_h265 function pointers
var (
	mediaH265EncoderCreate        func(width, height, fps, gop, bframes, refs, crf, preset, threads int32) uint64
	mediaH265EncoderSendFrame     func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride int32, pts int64) int32
	mediaH265EncoderReceivePacket func(encoder uint64, outData uintptr, outCapacity int32, outSize, outPts, outDts, outFlags, outDuration uintptr) int32
	mediaH265EncoderDrain         func(encoder uint64) int32
	mediaH265EncoderMaxOutputSize func(encoder uint64) int32
	mediaH265EncoderDestroy       func(encoder uint64)

	mediaH265GetError         func() uintptr
	mediaH265EncoderAvailable func() int32
)

// Status codes from media_h265.h
const (
	mediaH265OK           = 0
	mediaH265Error        = -1
	mediaH265ErrorNoMem   = -2
	mediaH265ErrorInvalid = -3
	mediaH265ErrorAgain   = -4
	mediaH265ErrorEOF     = -5
)

// Packet flag bits from media_h265.h
const (
	mediaH265FlagKey     = 1
	mediaH265FlagCorrupt = 2
)

func loadMediaH265() error {
	mediaH265Once.Do(func() {
		mediaH265InitErr = loadMediaH265Lib()
		if mediaH265InitErr == nil {
			mediaH265Loaded = true
		}
	})
	return mediaH265InitErr
}

func loadMediaH265Lib() error {
	paths := getMediaH265LibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			mediaH265Handle = handle
			if err := loadMediaH265Symbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_h265: %w", lastErr)
	}
	return errors.New("libmedia_h265 not found in any standard location")
}

func getMediaH265LibPaths() []string {
	var paths []string

	libName := "libmedia_h265.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_h265.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("MEDIA_H265_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
			filepath.Join(exeDir, "..", "..", "build", libName),
		)
	}

	// Search relative to working directory (with parent traversal)
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "..", "build", libName),
			filepath.Join(wd, "..", "..", "build", libName),
		)
	}

	// Search relative to module root (find go.mod from cwd)
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths, filepath.Join(moduleRoot, "build", libName))
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"libmedia_h265.dylib",
			"/usr/local/lib/libmedia_h265.dylib",
			"/opt/homebrew/lib/libmedia_h265.dylib",
		)
	case "linux":
		paths = append(paths,
			"libmedia_h265.so",
			"/usr/local/lib/libmedia_h265.so",
			"/usr/lib/libmedia_h265.so",
		)
	}

	return paths
}

func loadMediaH265Symbols() error {
	purego.RegisterLibFunc(&mediaH265EncoderCreate, mediaH265Handle, "media_h265_encoder_create")
	purego.RegisterLibFunc(&mediaH265EncoderSendFrame, mediaH265Handle, "media_h265_encoder_send_frame")
	purego.RegisterLibFunc(&mediaH265EncoderReceivePacket, mediaH265Handle, "media_h265_encoder_receive_packet")
	purego.RegisterLibFunc(&mediaH265EncoderDrain, mediaH265Handle, "media_h265_encoder_drain")
	purego.RegisterLibFunc(&mediaH265EncoderMaxOutputSize, mediaH265Handle, "media_h265_encoder_max_output_size")
	purego.RegisterLibFunc(&mediaH265EncoderDestroy, mediaH265Handle, "media_h265_encoder_destroy")

	purego.RegisterLibFunc(&mediaH265GetError, mediaH265Handle, "media_h265_get_error")
	purego.RegisterLibFunc(&mediaH265EncoderAvailable, mediaH265Handle, "media_h265_encoder_available")

	return nil
}

// IsH265Available checks if libmedia_h265 is available.
func IsH265Available() bool {
	if err := loadMediaH265(); err != nil {
		return false
	}
	return mediaH265Loaded
}

// IsH265EncoderAvailable checks if the H.265 encoder is available.
func IsH265EncoderAvailable() bool {
	if !IsH265Available() {
		return false
	}
	return mediaH265EncoderAvailable() != 0
}

func getH265Error() string {
	ptr := mediaH265GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// statusToError maps a media_h265 status code onto the package's error
// classes. Transient and fatal conditions map to distinct sentinels so
// callers never retry a fatal signal.
func statusToError(status int32, op string) error {
	switch status {
	case mediaH265ErrorAgain:
		return ErrEncoderBusy
	case mediaH265ErrorEOF:
		return ErrEndOfStream
	case mediaH265ErrorInvalid:
		return fmt.Errorf("%s: %w", op, ErrInvalidState)
	case mediaH265ErrorNoMem:
		return fmt.Errorf("%s: %w", op, ErrNoMemory)
	default:
		return fmt.Errorf("%s: %s", op, getH265Error())
	}
}

// X265Backend implements EncoderBackend on libx265 through the
// libmedia_h265 wrapper.
type X265Backend struct {
	config EncoderConfig

	handle       uint64
	outputBuf    []byte
	maxOutputLen int

	mu sync.Mutex
}

// NewX265Backend creates an unopened x265 backend.
func NewX265Backend() (*X265Backend, error) {
	if err := loadMediaH265(); err != nil {
		return nil, fmt.Errorf("H.265 encoder not available: %w", err)
	}
	if mediaH265EncoderAvailable() == 0 {
		return nil, errors.New("H.265 encoder not available (x265 not compiled)")
	}
	return &X265Backend{}, nil
}

// Open implements EncoderBackend.
func (e *X265Backend) Open(config EncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		return fmt.Errorf("open: %w", ErrInvalidState)
	}

	handle := mediaH265EncoderCreate(
		int32(config.Width),
		int32(config.Height),
		int32(config.FPS),
		int32(config.GOPSize),
		int32(config.MaxBFrames),
		int32(config.RefFrames),
		int32(config.CRF),
		int32(config.Preset),
		int32(config.Threads),
	)
	if handle == 0 {
		return fmt.Errorf("failed to create H.265 encoder: %s", getH265Error())
	}

	maxOutput := mediaH265EncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}

	e.config = config
	e.handle = handle
	e.outputBuf = make([]byte, maxOutput)
	e.maxOutputLen = int(maxOutput)
	return nil
}

// SendFrame implements EncoderBackend. The frame must be I420 at the
// configured resolution; its sequence index becomes the pts.
func (e *X265Backend) SendFrame(frame *Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return fmt.Errorf("send frame: %w", ErrInvalidState)
	}
	if frame.Format != PixelFormatI420 || len(frame.Data) < 3 {
		return fmt.Errorf("send frame: expected I420, got %s", frame.Format)
	}

	status := mediaH265EncoderSendFrame(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])),
		uintptr(unsafe.Pointer(&frame.Data[1][0])),
		uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]),
		int32(frame.Stride[1]),
		int64(frame.Seq),
	)
	if status != mediaH265OK {
		return statusToError(status, "send frame")
	}
	return nil
}

// ReceivePacket implements EncoderBackend.
func (e *X265Backend) ReceivePacket() (*Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return nil, fmt.Errorf("receive packet: %w", ErrInvalidState)
	}

	var size, flags int32
	var pts, dts, duration int64

	status := mediaH265EncoderReceivePacket(
		e.handle,
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
		uintptr(unsafe.Pointer(&size)),
		uintptr(unsafe.Pointer(&pts)),
		uintptr(unsafe.Pointer(&dts)),
		uintptr(unsafe.Pointer(&flags)),
		uintptr(unsafe.Pointer(&duration)),
	)
	if status != mediaH265OK {
		if status == mediaH265ErrorAgain {
			return nil, ErrNoPacket
		}
		return nil, statusToError(status, "receive packet")
	}

	payload := make([]byte, size)
	copy(payload, e.outputBuf[:size])

	var pktFlags PacketFlags
	if flags&mediaH265FlagKey != 0 {
		pktFlags |= FlagKey
	}
	if flags&mediaH265FlagCorrupt != 0 {
		pktFlags |= FlagCorrupt
	}

	return &Packet{
		Payload:  payload,
		PTS:      pts,
		DTS:      dts,
		Flags:    pktFlags,
		Duration: duration,
		Pos:      -1,
	}, nil
}

// Drain implements EncoderBackend.
func (e *X265Backend) Drain() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return fmt.Errorf("drain: %w", ErrInvalidState)
	}
	if status := mediaH265EncoderDrain(e.handle); status != mediaH265OK {
		return statusToError(status, "drain")
	}
	return nil
}

// Provider implements EncoderBackend.
func (e *X265Backend) Provider() Provider {
	return ProviderX265
}

// Close implements EncoderBackend.
func (e *X265Backend) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != 0 {
		mediaH265EncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

func init() {
	RegisterEncoderBackend(ProviderX265, func() (EncoderBackend, error) {
		return NewX265Backend()
	})
}
