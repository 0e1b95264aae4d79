package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo) {
	t.Helper()
	old := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, info != nil }
	t.Cleanup(func() { readBuildInfo = old })
}

func TestCurrentPrefersBuildVersion(t *testing.T) {
	old := buildVersion
	buildVersion = "v1.2.3+dirty"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v1.2.3" {
		t.Fatalf("expected build version without dirty suffix, got %q", got)
	}
	if got := CurrentWithDirty(); got != "v1.2.3+dirty" {
		t.Fatalf("expected dirty build version, got %q", got)
	}
}

func TestPseudoFromBuildInfo(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	got := pseudoFromBuildInfo(info)
	if want := "v0.0.0-20250102030405-1234567890ab+dirty"; got != want {
		t.Fatalf("pseudoFromBuildInfo = %q, want %q", got, want)
	}
	if pseudoFromBuildInfo(nil) != "" {
		t.Fatalf("expected empty version for nil build info")
	}
	if pseudoFromBuildInfo(&debug.BuildInfo{}) != "" {
		t.Fatalf("expected empty version without vcs settings")
	}
}

func TestModuleFallsBackToDefault(t *testing.T) {
	stubBuildInfo(t, nil)
	if got := Module(); got != defaultModule {
		t.Fatalf("Module() = %q, want %q", got, defaultModule)
	}
	if got := Current(); got != "v0.0.0-unknown" {
		t.Fatalf("Current() = %q", got)
	}
}

func TestDescribeUsesBuildInfo(t *testing.T) {
	stubBuildInfo(t, &debug.BuildInfo{
		Main: debug.Module{Path: "example.com/gallery", Version: "v0.4.0"},
	})
	info := Describe()
	if info.Module != "example.com/gallery" || info.Version != "v0.4.0" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if strings.TrimSpace(info.GoVersion) == "" {
		t.Fatalf("expected go version")
	}
}
