package leddriver

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	ErrUnknownPattern = errors.New("unknown pattern")
	ErrPatternParams  = errors.New("invalid pattern parameters")
)

// Pattern drives a strip over time. Step is called with the time elapsed
// since the pattern started and returns how long to wait before the next
// step; zero means the pattern is finished.
type Pattern interface {
	Step(elapsed time.Duration) time.Duration
}

// PatternFunc adapts a plain function to a Pattern.
type PatternFunc func(elapsed time.Duration) time.Duration

func (f PatternFunc) Step(elapsed time.Duration) time.Duration {
	return f(elapsed)
}

// PatternFactory builds a pattern from its JSON parameters.
type PatternFactory func(strip Strip, params json.RawMessage) (Pattern, error)

var (
	patternsMu sync.RWMutex
	patterns   = map[string]PatternFactory{
		"ConstColorPattern": NewConstColorPattern,
	}
)

// RegisterPattern makes a pattern available by name, replacing any pattern
// already registered under it.
func RegisterPattern(name string, f PatternFactory) {
	patternsMu.Lock()
	defer patternsMu.Unlock()
	patterns[name] = f
}

func LookupPattern(name string) (PatternFactory, error) {
	patternsMu.RLock()
	defer patternsMu.RUnlock()
	f, ok := patterns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, name)
	}
	return f, nil
}

// PatternNames lists the registered patterns in sorted order.
func PatternNames() []string {
	patternsMu.RLock()
	defer patternsMu.RUnlock()
	names := lo.Keys(patterns)
	slices.Sort(names)
	return names
}

// ConstColorPattern fills the whole strip with one color and finishes.
type ConstColorPattern struct {
	// Color is hue in degrees, saturation and value.
	Color [3]float64 `json:"color"`

	strip  Strip
	logger *zap.Logger
}

func NewConstColorPattern(strip Strip, params json.RawMessage) (Pattern, error) {
	p := &ConstColorPattern{strip: strip, logger: zap.L()}
	if err := json.Unmarshal(params, p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPatternParams, err)
	}
	h, s, v := p.Color[0], p.Color[1], p.Color[2]
	if h < 0 || h > 360 || s < 0 || s > 1 || v < 0 || v > 1 {
		return nil, fmt.Errorf("%w: color %v out of range", ErrPatternParams, p.Color)
	}
	return p, nil
}

func (p *ConstColorPattern) Step(time.Duration) time.Duration {
	c := HSV(p.Color[0], p.Color[1], p.Color[2])
	if err := p.strip.Fill(c); err != nil {
		p.logger.Error("failed to fill strip", zap.Error(err), zap.Stringer("color", c))
	}
	return 0
}
