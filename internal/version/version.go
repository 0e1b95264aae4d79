// Package version reports the build version of the dropgallery binary.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/dropgallery"

// buildVersion is set via -ldflags "-X pkt.systems/dropgallery/internal/version.buildVersion=...".
var buildVersion = ""

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Info describes the running build.
type Info struct {
	Module    string `json:"module"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

// Current returns the best available version string without the dirty suffix.
func Current() string {
	return resolve(false)
}

// CurrentWithDirty returns the version including a +dirty suffix for
// builds from a modified tree.
func CurrentWithDirty() string {
	return resolve(true)
}

// Module returns the module path from build info when available.
func Module() string {
	if info, ok := readBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

// Describe collects module, version and toolchain.
func Describe() Info {
	return Info{
		Module:    Module(),
		Version:   CurrentWithDirty(),
		GoVersion: runtime.Version(),
	}
}

func resolve(includeDirty bool) string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return normalizeVersion(v, includeDirty)
	}
	if info, ok := readBuildInfo(); ok {
		if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
			return normalizeVersion(v, includeDirty)
		}
		if v := pseudoFromBuildInfo(info); v != "" {
			return normalizeVersion(v, includeDirty)
		}
	}
	return "v0.0.0-unknown"
}

func normalizeVersion(v string, includeDirty bool) string {
	value := strings.TrimSpace(v)
	if includeDirty {
		return value
	}
	return strings.TrimSuffix(value, "+dirty")
}

// pseudoFromBuildInfo derives a Go-style pseudo version from VCS stamps.
func pseudoFromBuildInfo(info *debug.BuildInfo) string {
	if info == nil {
		return ""
	}
	var revision, vcsTime string
	var modified bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.time":
			vcsTime = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision == "" || vcsTime == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, vcsTime)
	if err != nil {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	ver := "v0.0.0-" + parsed.UTC().Format("20060102150405") + "-" + revision
	if modified {
		ver += "+dirty"
	}
	return ver
}
