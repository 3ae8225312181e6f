package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/poscache"
)

func TestFieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug})))
	l.Warn("storage get failed", poscache.Fields{"key": "ns/c/fp", "err": "timeout"})

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Fatalf("level missing: %s", out)
	}
	if strings.Index(out, "err=") > strings.Index(out, "key=") {
		t.Fatalf("fields not sorted: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})))
	l.Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Fatalf("debug line written: %s", buf.String())
	}
}
