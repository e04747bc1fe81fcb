package version

import (
	"runtime/debug"
	"strings"
	"testing"
	"time"
)

func TestCurrentPrefersBuildVersion(t *testing.T) {
	old := buildVersion
	buildVersion = "v1.2.3+dirty"
	t.Cleanup(func() { buildVersion = old })

	if got := Current(); got != "v1.2.3" {
		t.Fatalf("expected build version, got %q", got)
	}
	if got := CurrentWithDirty(); got != "v1.2.3+dirty" {
		t.Fatalf("expected dirty build version, got %q", got)
	}
}

func TestPseudoVersion(t *testing.T) {
	ts := time.Date(2026, time.January, 2, 3, 4, 5, 0, time.UTC)
	info := &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "1234567890abcdef"},
			{Key: "vcs.time", Value: ts.Format(time.RFC3339)},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	want := "v0.0.0-20260102030405-1234567890ab"
	if got := pseudoVersion(info, false); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := pseudoVersion(info, true); got != want+"+dirty" {
		t.Fatalf("expected dirty suffix, got %q", got)
	}
	if pseudoVersion(nil, true) != "" {
		t.Fatalf("expected empty version for nil build info")
	}
}

func TestModuleFallsBackWithoutBuildInfo(t *testing.T) {
	old := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	t.Cleanup(func() { readBuildInfo = old })

	if got := Module(); got != defaultModule {
		t.Fatalf("expected %q, got %q", defaultModule, got)
	}
	if got := Current(); got != unknown {
		t.Fatalf("expected unknown version, got %q", got)
	}
	if ua := UserAgent(); !strings.HasPrefix(ua, "printwatch/"+unknown) {
		t.Fatalf("unexpected user agent %q", ua)
	}
}
