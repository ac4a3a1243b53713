package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitLevel(t *testing.T) {
	var buf bytes.Buffer
	Init("debug", &buf)
	if Logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level, got %s", Logger.GetLevel())
	}

	Init("nonsense", &buf)
	if Logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("expected fallback to info, got %s", Logger.GetLevel())
	}
}

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	Init("info", &buf)
	Component("capture").Info("hello")

	out := buf.String()
	if !strings.Contains(out, "component=capture") {
		t.Errorf("expected component field in output, got %q", out)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("expected message in output, got %q", out)
	}
}
