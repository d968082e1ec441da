package leddriver

import (
	"fmt"
	"sync"

	colorful "github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"
)

// Color is an 8-bit RGB pixel value.
type Color struct {
	R, G, B uint8
}

// HSV converts hue in degrees [0, 360] with saturation and value in [0, 1].
func HSV(h, s, v float64) Color {
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return Color{R: r, G: g, B: b}
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Strip is an addressable LED strip.
type Strip interface {
	Len() int
	Fill(c Color) error
	Set(i int, c Color) error
}

// MemoryStrip keeps pixels in memory. It stands in for the hardware strip.
type MemoryStrip struct {
	mu     sync.Mutex
	pixels []Color
	logger *zap.Logger
}

func NewMemoryStrip(length int) *MemoryStrip {
	return &MemoryStrip{
		pixels: make([]Color, length),
		logger: zap.L(),
	}
}

func (s *MemoryStrip) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pixels)
}

func (s *MemoryStrip) Fill(c Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.pixels {
		s.pixels[i] = c
	}
	s.logger.Debug("strip filled", zap.Stringer("color", c), zap.Int("length", len(s.pixels)))
	return nil
}

func (s *MemoryStrip) Set(i int, c Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.pixels) {
		return fmt.Errorf("pixel %d out of range 0 - %d", i, len(s.pixels)-1)
	}
	s.pixels[i] = c
	return nil
}

// Pixels returns a copy of the current pixel values.
func (s *MemoryStrip) Pixels() []Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Color(nil), s.pixels...)
}
