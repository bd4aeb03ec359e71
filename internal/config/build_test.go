package config

import "testing"

func TestNewBuildInfoDefaults(t *testing.T) {
	info := NewBuildInfo()

	if info.Version != "dev" {
		t.Errorf("Version = %q, want %q", info.Version, "dev")
	}
	if info.Commit != "none" {
		t.Errorf("Commit = %q, want %q", info.Commit, "none")
	}
	if info.BuildTime != "unknown" {
		t.Errorf("BuildTime = %q, want %q", info.BuildTime, "unknown")
	}
}

func TestBuildInfoUserAgent(t *testing.T) {
	info := BuildInfo{Version: "1.4.0", Commit: "abc123"}
	want := "llcstack-payments/1.4.0 (abc123)"
	if got := info.UserAgent("llcstack-payments"); got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
