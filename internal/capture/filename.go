package capture

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"folio/internal/camera"
	"folio/internal/services"
)

// PairID formats t as the UTC timestamp stem shared by every file of one
// capture: YYYYMMDD_HHMMSS_mmm.
func PairID(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Millisecond))
}

// Filename builds "<stem>_c<index>[_<w>x<h>].<ext>".
func Filename(stem string, cfg camera.Config, includeResolution bool) string {
	var b strings.Builder
	b.WriteString(stem)
	fmt.Fprintf(&b, "_c%d", cfg.Index)
	if includeResolution {
		fmt.Fprintf(&b, "_%s", cfg.Size)
	}
	b.WriteByte('.')
	b.WriteString(cfg.Encoding.Extension())
	return b.String()
}

// validateName rejects a caller-supplied filename or sequence that would
// leave the images directory. field names the value in the error.
func validateName(field, name string) error {
	var reason string
	switch {
	case name == "." || name == "..":
		reason = field + " cannot be . or .."
	case strings.ContainsAny(name, `/\`):
		reason = field + " cannot contain path separators"
	case strings.HasPrefix(name, "."):
		reason = field + " cannot start with a dot"
	}
	if reason == "" {
		return nil
	}
	return services.Wrap(services.ErrValidation, "capture", field, fmt.Sprintf("%q", name), errors.New(reason))
}

// withExtension appends the encoding extension to name unless name already
// ends in it. A name ending in another encoding's extension is refused, so
// the recorded mimetype always matches the file.
func withExtension(name string, enc camera.Encoding) (string, error) {
	ext := filepath.Ext(name)
	if ext == "" || ext == "." {
		return strings.TrimSuffix(name, ".") + "." + enc.Extension(), nil
	}
	parsed, err := camera.ParseEncoding(ext[1:])
	if err != nil {
		return name + "." + enc.Extension(), nil
	}
	if parsed.Extension() != enc.Extension() {
		return "", services.Wrap(services.ErrValidation, "capture", "filename", fmt.Sprintf("%q", name),
			fmt.Errorf("extension %s does not match encoding %s", ext, enc.Extension()))
	}
	return name, nil
}
