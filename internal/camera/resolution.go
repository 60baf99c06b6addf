package camera

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Size is an image size in pixels.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// IsZero reports whether no size was set.
func (s Size) IsZero() bool {
	return s.Width == 0 && s.Height == 0
}

// MarshalJSON encodes the size as a [width, height] pair.
func (s Size) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.Width, s.Height})
}

// UnmarshalJSON decodes a [width, height] pair.
func (s *Size) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode size: %w", err)
	}
	s.Width, s.Height = pair[0], pair[1]
	return nil
}

// Resolution preset names.
const (
	ResolutionLow    = "low"
	ResolutionMedium = "medium"
	ResolutionHigh   = "high"
)

var presets = map[string]Size{
	ResolutionLow:    {Width: 2312, Height: 1736},
	ResolutionMedium: {Width: 3840, Height: 2160},
	ResolutionHigh:   {Width: 4624, Height: 3472},
}

// ResolutionFor maps a preset name to its pixel size.
func ResolutionFor(name string) (Size, error) {
	size, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Size{}, fmt.Errorf("unknown resolution preset %q (want one of %s)", name, strings.Join(ResolutionNames(), ", "))
	}
	return size, nil
}

// ResolutionNames lists the preset names ordered from smallest to largest.
func ResolutionNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := presets[names[i]], presets[names[j]]
		return a.Width*a.Height < b.Width*b.Height
	})
	return names
}
