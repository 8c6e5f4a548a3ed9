// Package version reports the shellkeep build from linker flags or the Go
// build info embedded in the binary.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/shellkeep"

// buildVersion is set via -ldflags "-X pkt.systems/shellkeep/internal/version.buildVersion=...".
var buildVersion = ""

// Build describes the running binary.
type Build struct {
	Module    string
	Version   string
	Revision  string
	Time      time.Time
	Dirty     bool
	GoVersion string
}

// Current returns the version string without a dirty suffix.
func Current() string {
	return Read().Version
}

// Read collects build details from the embedded build info.
func Read() Build {
	info, _ := debug.ReadBuildInfo()
	return fromBuildInfo(info, buildVersion)
}

// String formats b for "shellkeep version".
func (b Build) String() string {
	var sb strings.Builder
	sb.WriteString(b.Version)
	if b.Dirty {
		sb.WriteString("+dirty")
	}
	if b.Revision != "" {
		sb.WriteString(" (")
		sb.WriteString(shortRevision(b.Revision))
		if !b.Time.IsZero() {
			sb.WriteString(" ")
			sb.WriteString(b.Time.UTC().Format(time.RFC3339))
		}
		sb.WriteString(")")
	}
	sb.WriteString(" ")
	sb.WriteString(b.GoVersion)
	return sb.String()
}

func fromBuildInfo(info *debug.BuildInfo, override string) Build {
	b := Build{Module: defaultModule, GoVersion: runtime.Version()}
	if info != nil {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			b.Module = path
		}
		if info.GoVersion != "" {
			b.GoVersion = info.GoVersion
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				b.Revision = setting.Value
			case "vcs.time":
				if parsed, err := time.Parse(time.RFC3339, setting.Value); err == nil {
					b.Time = parsed
				}
			case "vcs.modified":
				b.Dirty = setting.Value == "true"
			}
		}
	}
	switch {
	case strings.TrimSpace(override) != "":
		b.Version = strings.TrimSuffix(strings.TrimSpace(override), "+dirty")
	case info != nil && info.Main.Version != "" && info.Main.Version != "(devel)":
		b.Version = strings.TrimSuffix(info.Main.Version, "+dirty")
	case b.Revision != "" && !b.Time.IsZero():
		b.Version = "v0.0.0-" + b.Time.UTC().Format("20060102150405") + "-" + shortRevision(b.Revision)
	default:
		b.Version = "v0.0.0-unknown"
	}
	return b
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
