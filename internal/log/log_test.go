package log

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"not-a-level", logrus.InfoLevel},
	}

	for _, tt := range tests {
		l := newLogger(Options{Level: tt.level})
		if l.GetLevel() != tt.want {
			t.Errorf("level %q: got %v, want %v", tt.level, l.GetLevel(), tt.want)
		}
		if l.ReportCaller {
			t.Errorf("level %q: ReportCaller would name the wrapper, not the call site", tt.level)
		}
	}
}

func TestSetup_OnlyOnce(t *testing.T) {
	first := Setup(Options{Level: "error", File: filepath.Join(t.TempDir(), "facelabel.log")})
	second := Setup(Options{Level: "debug"})
	if first != second {
		t.Error("Setup must return the same logger on every call")
	}
}

func TestEntry_CallerIsCallSite(t *testing.T) {
	l := newLogger(Options{Level: "debug"})

	e := entry(l, Fields{"image": "a.jpg"}, 0)
	caller, _ := e.Data["caller"].(string)
	if !strings.HasPrefix(caller, "log_test.go:") || !strings.Contains(caller, "TestEntry_CallerIsCallSite()") {
		t.Errorf("caller = %q, want this test's file and function", caller)
	}
	if e.Data["image"] != "a.jpg" {
		t.Errorf("fields lost: %v", e.Data)
	}
}

func TestEntry_NoCallerAboveDebug(t *testing.T) {
	l := newLogger(Options{Level: "info"})
	if _, ok := entry(l, nil, 0).Data["caller"]; ok {
		t.Error("caller must only be attached at debug level")
	}
}
