// Core frame and packet types used across the h265transport package.
package h265transport

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420  PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                     // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGB24                    // Packed RGB, 3 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGB24:
		return "RGB24"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420:
		return 3 // Y, U, V
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatRGB24:
		return 1 // Packed
	default:
		return 0
	}
}

// BitsPerPixel returns the total number of bits per pixel.
func (p PixelFormat) BitsPerPixel() int {
	switch p {
	case PixelFormatI420, PixelFormatNV12:
		return 12
	case PixelFormatRGB24:
		return 24
	default:
		return 0
	}
}

// BytesPerPixel returns bytes per pixel for packed formats, 0 for planar ones.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelFormatRGB24:
		return 3
	default:
		return 0
	}
}

// Header carries opaque source metadata for a frame. It is copied verbatim
// onto every wire message produced from the frame, so downstream consumers
// can correlate compressed output with its source without a side channel.
type Header struct {
	Stamp   int64  // Source capture time in nanoseconds
	FrameID string // Source/coordinate frame identifier
}

// Frame represents a raw video frame.
// The Data slices may point to external memory (e.g., a capture ring buffer).
// Callers must ensure the data remains valid for the duration of the call
// that consumes the frame.
type Frame struct {
	Data   [][]byte    // Plane data (1-3 planes depending on format)
	Stride []int       // Stride for each plane in bytes (may exceed row width)
	Width  int         // Frame width in pixels
	Height int         // Frame height in pixels
	Format PixelFormat // Pixel format
	Seq    uint64      // Monotonic sequence index, used as presentation value
	Header Header      // Opaque source metadata
}

// Clone creates a deep copy of the frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *Frame) Clone() *Frame {
	clone := &Frame{
		Data:   make([][]byte, len(f.Data)),
		Stride: make([]int, len(f.Stride)),
		Width:  f.Width,
		Height: f.Height,
		Format: f.Format,
		Seq:    f.Seq,
		Header: f.Header,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	// Y plane: width * height
	// U plane: (width/2) * (height/2)
	// V plane: (width/2) * (height/2)
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// NewI420Frame allocates an I420 frame with tightly packed planes.
func NewI420Frame(width, height int) *Frame {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return &Frame{
		Data: [][]byte{
			make([]byte, ySize),
			make([]byte, uvSize),
			make([]byte, uvSize),
		},
		Stride: []int{width, width / 2, width / 2},
		Width:  width,
		Height: height,
		Format: PixelFormatI420,
	}
}

// NewRGB24Frame allocates a packed RGB24 frame with no row padding.
func NewRGB24Frame(width, height int) *Frame {
	return &Frame{
		Data:   [][]byte{make([]byte, width*height*3)},
		Stride: []int{width * 3},
		Width:  width,
		Height: height,
		Format: PixelFormatRGB24,
	}
}
