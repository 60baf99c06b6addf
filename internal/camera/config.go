package camera

import (
	"errors"
	"fmt"
)

// Defaults applied by Default.
const (
	DefaultTimeoutMillis = 50
	DefaultBufferCount   = 2
	DefaultQuality       = 93
	DefaultAWB           = AWBIndoor
	DefaultEncoding      = EncodingJPG
)

// Config holds every capture parameter for one camera. It is a value type;
// the With* methods return modified copies and never mutate the receiver.
//
// LensPosition and AutofocusOnCapture are not mutually exclusive. When both
// are set the backend receives both and the camera stack decides which wins.
type Config struct {
	Index              int      `json:"camera_index"`
	Size               Size     `json:"img_size"`
	VFlip              bool     `json:"vflip"`
	HFlip              bool     `json:"hflip"`
	AWB                AWBMode  `json:"awb"`
	TimeoutMillis      int      `json:"timeout"`
	AutofocusOnCapture bool     `json:"autofocus_on_capture"`
	LensPosition       *float64 `json:"lens_position"`
	BufferCount        int      `json:"buffer_count"`
	Thumbnail          bool     `json:"thumbnail"`
	NoPreview          bool     `json:"nopreview"`
	Quality            int      `json:"quality"`
	ZSL                bool     `json:"zsl"`
	Encoding           Encoding `json:"encoding"`
	Raw                bool     `json:"raw"`
	// DenoiseFrames is the number of warmup frames discarded before the
	// captured frame so temporal denoise can settle.
	DenoiseFrames int `json:"denoise_frames"`
}

// Default returns the stock configuration for a camera index at the high preset.
func Default(index int) Config {
	return Config{
		Index:              index,
		Size:               presets[ResolutionHigh],
		AWB:                DefaultAWB,
		TimeoutMillis:      DefaultTimeoutMillis,
		AutofocusOnCapture: true,
		BufferCount:        DefaultBufferCount,
		NoPreview:          true,
		Quality:            DefaultQuality,
		Encoding:           DefaultEncoding,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Index < 0 {
		return fmt.Errorf("camera index must be >= 0, got %d", c.Index)
	}
	if c.Size.Width <= 0 || c.Size.Height <= 0 {
		return fmt.Errorf("image size must be positive, got %s", c.Size)
	}
	if !c.AWB.Valid() {
		return fmt.Errorf("unknown awb mode %q", c.AWB)
	}
	if !c.Encoding.Valid() {
		return fmt.Errorf("unknown encoding %q", c.Encoding)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("quality must be between 1 and 100, got %d", c.Quality)
	}
	if c.TimeoutMillis < 0 {
		return errors.New("timeout must be >= 0")
	}
	if c.BufferCount < 1 {
		return fmt.Errorf("buffer count must be >= 1, got %d", c.BufferCount)
	}
	if c.DenoiseFrames < 0 {
		return fmt.Errorf("denoise frames must be >= 0, got %d", c.DenoiseFrames)
	}
	return nil
}

// ManualFocus reports whether a fixed lens position is configured.
func (c Config) ManualFocus() bool {
	return c.LensPosition != nil
}

// WithIndex returns a copy targeting another camera.
func (c Config) WithIndex(index int) Config {
	c.Index = index
	return c
}

// WithSize returns a copy with a different image size.
func (c Config) WithSize(size Size) Config {
	c.Size = size
	return c
}

// WithLensPosition returns a copy using manual focus at the given dioptres
// with autofocus-on-capture disabled.
func (c Config) WithLensPosition(dioptres float64) Config {
	c.LensPosition = &dioptres
	c.AutofocusOnCapture = false
	return c
}

// WithAutofocus returns a copy with autofocus-on-capture toggled. The lens
// position is left untouched.
func (c Config) WithAutofocus(enabled bool) Config {
	c.AutofocusOnCapture = enabled
	c.LensPosition = clonePosition(c.LensPosition)
	return c
}

// WithAWB returns a copy with another white balance mode.
func (c Config) WithAWB(mode AWBMode) Config {
	c.AWB = mode
	c.LensPosition = clonePosition(c.LensPosition)
	return c
}

// WithEncoding returns a copy with another output encoding.
func (c Config) WithEncoding(enc Encoding) Config {
	c.Encoding = enc
	c.LensPosition = clonePosition(c.LensPosition)
	return c
}

// WithFlip returns a copy with the orientation flags set.
func (c Config) WithFlip(vflip, hflip bool) Config {
	c.VFlip = vflip
	c.HFlip = hflip
	c.LensPosition = clonePosition(c.LensPosition)
	return c
}

// Clone returns a deep copy. Config is otherwise a plain value; only the
// lens position pointer needs copying.
func (c Config) Clone() Config {
	c.LensPosition = clonePosition(c.LensPosition)
	return c
}

func (c Config) String() string {
	return fmt.Sprintf("CameraConfig(cam%d, %s, awb=%s)", c.Index, c.Size, c.AWB)
}

func clonePosition(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
