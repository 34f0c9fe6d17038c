package switchlog_test

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/jwolter-go/vnetswitch/switchlog"
)

func newTestLogger() (*switchlog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := switchlog.New(log.New(buf, "", 0))

	return l, buf
}

func TestDefaultVerbosityIsWarnOnly(t *testing.T) {
	t.Parallel()

	l, buf := newTestLogger()

	l.Infof(switchlog.Port, "hello")
	if buf.Len() != 0 {
		t.Fatalf("expected no output at default verbosity, got %q", buf.String())
	}

	l.Warnf(switchlog.Port, "uh oh")
	if !strings.Contains(buf.String(), "uh oh") {
		t.Fatalf("expected warn output, got %q", buf.String())
	}
}

func TestApplySpecGlobal(t *testing.T) {
	t.Parallel()

	l, buf := newTestLogger()

	if err := l.ApplySpec("trace"); err != nil {
		t.Fatalf("ApplySpec: %v", err)
	}

	l.Tracef(switchlog.Queue, "ring state")
	if !strings.Contains(buf.String(), "ring state") {
		t.Fatalf("expected trace output, got %q", buf.String())
	}
}

func TestApplySpecPerComponent(t *testing.T) {
	t.Parallel()

	l, buf := newTestLogger()

	if err := l.ApplySpec("port=trace"); err != nil {
		t.Fatalf("ApplySpec: %v", err)
	}

	l.Tracef(switchlog.Port, "port trace")
	l.Tracef(switchlog.Queue, "queue trace")

	out := buf.String()
	if !strings.Contains(out, "port trace") {
		t.Fatalf("expected port trace output, got %q", out)
	}

	if strings.Contains(out, "queue trace") {
		t.Fatalf("queue component should remain at default verbosity, got %q", out)
	}
}

func TestApplySpecInvalid(t *testing.T) {
	t.Parallel()

	l, _ := newTestLogger()

	if err := l.ApplySpec("bogus=level"); err == nil {
		t.Fatal("expected error for unknown component")
	}

	if err := l.ApplySpec("port=bogus"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
