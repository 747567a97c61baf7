package log

import (
	"path/filepath"
	"testing"
)

func TestDefaultDirXDGState(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/var/tmp/state")
	got, err := getDefaultDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != "/var/tmp/state/hush/logs" {
		t.Errorf("got %q", got)
	}
}

func TestDefaultDirRelativeXDGIgnored(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_STATE_HOME", "relative/state")
	got, err := getDefaultDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".local", "state", "hush", "logs"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
