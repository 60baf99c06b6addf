package rpicam

import (
	"strconv"

	"folio/internal/camera"
)

// thumbnailSpec is the embedded EXIF thumbnail geometry and quality.
const thumbnailSpec = "320:240:70"

// BuildArgs translates cfg into rpicam-still arguments writing to outputPath.
// The binary name is not included.
func BuildArgs(outputPath string, cfg camera.Config) []string {
	args := []string{
		"-o", outputPath,
		"--width", strconv.Itoa(cfg.Size.Width),
		"--height", strconv.Itoa(cfg.Size.Height),
		"--quality", strconv.Itoa(cfg.Quality),
		"--awb", string(cfg.AWB),
		"--buffer-count", strconv.Itoa(cfg.BufferCount),
		"--camera", strconv.Itoa(cfg.Index),
	}

	if cfg.TimeoutMillis == 0 {
		args = append(args, "--immediate")
	} else {
		args = append(args, "-t", strconv.Itoa(cfg.TimeoutMillis))
	}
	if cfg.NoPreview {
		args = append(args, "-n")
	}
	if cfg.VFlip {
		args = append(args, "--vflip")
	}
	if cfg.HFlip {
		args = append(args, "--hflip")
	}
	if cfg.AutofocusOnCapture {
		args = append(args, "--autofocus-on-capture")
	}
	if cfg.Thumbnail {
		args = append(args, "--thumb", thumbnailSpec)
	}
	if cfg.ZSL {
		args = append(args, "--zsl")
	}
	if cfg.LensPosition != nil {
		args = append(args, "--lens-position", strconv.FormatFloat(*cfg.LensPosition, 'f', -1, 64))
	}
	if cfg.Encoding != "" && cfg.Encoding != camera.EncodingJPG {
		args = append(args, "--encoding", string(cfg.Encoding))
	}
	if cfg.Raw {
		args = append(args, "--raw")
	}
	return args
}
