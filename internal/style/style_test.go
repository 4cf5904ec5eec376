package style

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestPlainPaletteHasNoEscapes(t *testing.T) {
	p := New(true)
	lines := []string{
		p.Pass("lint passed"),
		p.Warn("environmental failure"),
		p.Fail("test failed"),
		p.Step("running %s", "build"),
		p.Field("commit", "abc123"),
		p.Bold("x"),
	}
	for _, l := range lines {
		if strings.Contains(l, "\x1b[") {
			t.Errorf("plain output contains escape sequence: %q", l)
		}
	}
	if lines[0] != "✓ lint passed" {
		t.Errorf("Pass = %q", lines[0])
	}
	if lines[1] != "⚠ Warning: environmental failure" {
		t.Errorf("Warn = %q", lines[1])
	}
	if lines[3] != "  → running build" {
		t.Errorf("Step = %q", lines[3])
	}
	if lines[4] != "  commit:    abc123" {
		t.Errorf("Field = %q", lines[4])
	}
}

func TestForNonTerminalIsPlain(t *testing.T) {
	if _, ok := os.LookupEnv("CLICOLOR_FORCE"); ok {
		t.Skip("CLICOLOR_FORCE set in environment")
	}
	if p := For(&bytes.Buffer{}); !p.Plain() {
		t.Error("a buffer is not a terminal; expected plain output")
	}
}

func TestShouldUseColorEnv(t *testing.T) {
	t.Setenv("CLICOLOR_FORCE", "1")
	if !ShouldUseColor(&bytes.Buffer{}) {
		t.Error("CLICOLOR_FORCE should enable color")
	}
	t.Setenv("NO_COLOR", "1")
	if ShouldUseColor(&bytes.Buffer{}) {
		t.Error("NO_COLOR should win over CLICOLOR_FORCE")
	}
}
