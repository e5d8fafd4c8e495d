package h265transport

import "time"

// PatternType defines the type of test pattern to generate.
type PatternType int

const (
	PatternColorBars PatternType = iota // SMPTE-style color bars
	PatternGradient                     // Horizontal gradient
	PatternMovingBox                    // Moving box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// TestPatternConfig configures a test pattern source.
type TestPatternConfig struct {
	Width   int         // Frame width (default: 640)
	Height  int         // Frame height (default: 480)
	Pattern PatternType // Pattern type (default: ColorBars)
	FrameID string      // Header frame identifier (default: "test_pattern")
}

// TestPatternSource generates synthetic RGB24 frames. It is a pull
// source: each NextFrame call produces the next frame in sequence,
// reusing one pre-allocated buffer.
type TestPatternSource struct {
	config TestPatternConfig
	frame  *Frame
	count  uint64
}

// NewTestPatternSource creates a new test pattern source.
func NewTestPatternSource(config TestPatternConfig) *TestPatternSource {
	if config.Width <= 0 {
		config.Width = 640
	}
	if config.Height <= 0 {
		config.Height = 480
	}
	if config.FrameID == "" {
		config.FrameID = "test_pattern"
	}
	return &TestPatternSource{
		config: config,
		frame:  NewRGB24Frame(config.Width, config.Height),
	}
}

// NextFrame renders and returns the next frame. The returned frame's
// buffer is reused by the following call.
func (s *TestPatternSource) NextFrame() *Frame {
	switch s.config.Pattern {
	case PatternGradient:
		s.renderGradient()
	case PatternMovingBox:
		s.renderMovingBox()
	default:
		s.renderColorBars()
	}

	s.frame.Seq = s.count
	s.frame.Header = Header{
		Stamp:   time.Now().UnixNano(),
		FrameID: s.config.FrameID,
	}
	s.count++
	return s.frame
}

// Standard color bar colors (white, yellow, cyan, green, magenta, red, blue)
var barColors = [7][3]byte{
	{235, 235, 235},
	{235, 235, 16},
	{16, 235, 235},
	{16, 235, 16},
	{235, 16, 235},
	{235, 16, 16},
	{16, 16, 235},
}

func (s *TestPatternSource) renderColorBars() {
	w, h := s.config.Width, s.config.Height
	pix, stride := s.frame.Data[0], s.frame.Stride[0]

	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			c := barColors[x*7/w]
			row[x*3+0] = c[0]
			row[x*3+1] = c[1]
			row[x*3+2] = c[2]
		}
	}
}

func (s *TestPatternSource) renderGradient() {
	w, h := s.config.Width, s.config.Height
	pix, stride := s.frame.Data[0], s.frame.Stride[0]

	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			v := byte(x * 255 / w)
			row[x*3+0] = v
			row[x*3+1] = v
			row[x*3+2] = v
		}
	}
}

func (s *TestPatternSource) renderMovingBox() {
	w, h := s.config.Width, s.config.Height
	pix, stride := s.frame.Data[0], s.frame.Stride[0]

	// Gray background
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w*3; x++ {
			row[x] = 64
		}
	}

	// White box cycling across the frame
	boxSize := h / 4
	maxX := w - boxSize
	boxX := int(s.count*4) % (2 * maxX)
	if boxX > maxX {
		boxX = 2*maxX - boxX
	}
	boxY := (h - boxSize) / 2

	for y := boxY; y < boxY+boxSize; y++ {
		row := pix[y*stride:]
		for x := boxX; x < boxX+boxSize; x++ {
			row[x*3+0] = 255
			row[x*3+1] = 255
			row[x*3+2] = 255
		}
	}
}
