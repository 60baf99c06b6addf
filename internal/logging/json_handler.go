package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// jsonTimeLayout keeps millisecond precision so log lines can be lined up
// with the stagger and launch offsets recorded in capture manifests.
const jsonTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// newJSONHandler writes one object per record with short keys (ts, level,
// msg). Times are UTC and durations are reported in seconds, matching the
// manifest's timing fields.
func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) == 0 {
				switch attr.Key {
				case slog.TimeKey:
					attr.Key = "ts"
				case slog.LevelKey:
					attr.Key = "level"
					attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
					return attr
				case slog.MessageKey:
					attr.Key = "msg"
					return attr
				case slog.SourceKey:
					if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
						attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
					}
					return attr
				}
			}
			switch attr.Value.Kind() {
			case slog.KindTime:
				attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(jsonTimeLayout))
			case slog.KindDuration:
				attr.Value = slog.Float64Value(roundMillis(attr.Value.Duration()).Seconds())
			}
			return attr
		},
	}
	return slog.NewJSONHandler(w, &opts)
}

func roundMillis(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
