package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_LevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(New(Options{Writer: &buf}))

	log.Debug("hidden at info level")
	log.Info("visible", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden at info level") {
		t.Error("debug output leaked at info level")
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "key=value") {
		t.Errorf("missing info record, got %q", out)
	}
}

func TestNew_Verbose(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(New(Options{Verbose: true, Writer: &buf}))

	log.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("expected debug output in verbose mode")
	}
}

func TestWith_AttachesAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewSlogAdapter(New(Options{Writer: &buf})).With("component", "store")

	log.Info("hello")
	if !strings.Contains(buf.String(), "component=store") {
		t.Errorf("missing attached attribute, got %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	log.Debug("a")
	log.Info("b")
	log.Warn("c")
	log.Error("d")
	log.With("k", "v").Info("e") // must not panic
}
