// Package version reports how an entitykit binary was built.
//
// Release builds set the variables below with -ldflags "-X ...". Plain
// `go build` and `go install` binaries fall back to the VCS stamp the Go
// toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Build is a resolved snapshot of the build metadata.
type Build struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	resolveOnce sync.Once
	resolved    Build
)

// Get returns the build metadata, filling unset ldflags values from the
// embedded VCS settings.
func Get() Build {
	resolveOnce.Do(func() {
		resolved = resolve(Version, GitCommit, BuildDate, debug.ReadBuildInfo)
	})
	return resolved
}

func resolve(ver, commit, date string, read func() (*debug.BuildInfo, bool)) Build {
	b := Build{
		Version:   ver,
		GitCommit: commit,
		BuildDate: date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	info, ok := read()
	if !ok {
		return b
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.GitCommit == "unknown" && s.Value != "" {
				b.GitCommit = shortRev(s.Value)
			}
		case "vcs.time":
			if b.BuildDate == "unknown" && s.Value != "" {
				b.BuildDate = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	return b
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// Info is the one-line banner printed by the version command.
func Info(component string) string {
	b := Get()
	commit := b.GitCommit
	if b.Modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s/%s)",
		component, b.Version, commit, b.BuildDate, b.GoVersion, b.OS, b.Arch)
}

// Short returns the version alone, e.g. "v0.3.1" or "dev".
func Short() string { return Get().Version }

// Map returns the metadata keyed the way the health endpoint reports it.
func Map() map[string]string {
	b := Get()
	return map[string]string{
		"version":    b.Version,
		"git_commit": b.GitCommit,
		"build_date": b.BuildDate,
		"go_version": b.GoVersion,
		"os":         b.OS,
		"arch":       b.Arch,
	}
}

// UserAgent returns a User-Agent value such as "entityctl/dev (linux; amd64)".
func UserAgent(component string) string {
	b := Get()
	return fmt.Sprintf("%s/%s (%s; %s)", component, b.Version, b.OS, b.Arch)
}
