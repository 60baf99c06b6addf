package manifest

import (
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ToolName is recorded as the software tool in every record.
const ToolName = "folio"

var (
	hostOnce sync.Once
	hostInfo Host
)

// CurrentHost returns hostname and kernel provenance for this machine. The
// value is computed once per process.
func CurrentHost() Host {
	hostOnce.Do(func() {
		hostInfo = probeHost()
	})
	return hostInfo
}

func probeHost() Host {
	host := Host{Platform: runtime.GOOS, Machine: runtime.GOARCH}
	if name, err := os.Hostname(); err == nil {
		host.Hostname = name
	}
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		sys := unix.ByteSliceToString(uts.Sysname[:])
		release := unix.ByteSliceToString(uts.Release[:])
		host.Platform = strings.TrimSpace(sys + "-" + release)
		if machine := unix.ByteSliceToString(uts.Machine[:]); machine != "" {
			host.Machine = machine
		}
	}
	return host
}

// CurrentSoftware describes this binary and the active backend.
func CurrentSoftware(backendName string) Software {
	return Software{
		Tool:      ToolName,
		Version:   buildVersion(),
		GoVersion: runtime.Version(),
		Backend:   backendName,
	}
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" {
		return "devel"
	}
	return info.Main.Version
}
