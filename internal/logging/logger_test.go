package logging

import (
	"bytes"
	"testing"

	ovio "github.com/openvocs/ovio"
)

func TestNewLoggerDefaultsToStderrAndInfo(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
	if logger.s.level != LevelInfo {
		t.Errorf("expected default level %v, got %v", LevelInfo, logger.s.level)
	}
}

func TestLoggerFiltersBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("expected nothing logged below Warn, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if !bytes.Contains(buf.Bytes(), []byte("warn message")) {
		t.Errorf("expected warn message in output, got: %s", buf.String())
	}
}

func TestLoggerIncludesLevelPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Error("boom")
	if !bytes.Contains(buf.Bytes(), []byte("[ERROR]")) {
		t.Errorf("expected [ERROR] prefix, got: %s", buf.String())
	}
}

func TestLoggerFormatsKeyValueArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("connected", "fd", 7, "remote", "10.0.0.1:5000")
	output := buf.String()
	if !bytes.Contains([]byte(output), []byte("fd=7")) {
		t.Errorf("expected fd=7 in output, got: %s", output)
	}
	if !bytes.Contains([]byte(output), []byte("remote=10.0.0.1:5000")) {
		t.Errorf("expected remote=10.0.0.1:5000 in output, got: %s", output)
	}
}

func TestLoggerPrintfStyleFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("acquire failed for %s: %v", "u42", "timeout")
	output := buf.String()
	if !bytes.Contains([]byte(output), []byte("acquire failed for u42: timeout")) {
		t.Errorf("expected formatted message, got: %s", output)
	}
}

func TestWithComponentTagsEveryLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	bridgeLog := logger.WithComponent("bridge")
	bridgeLog.Info("connection accepted")
	if !bytes.Contains(buf.Bytes(), []byte("component=bridge")) {
		t.Errorf("expected component=bridge in output, got: %s", buf.String())
	}

	buf.Reset()
	logger.Info("untagged message")
	if bytes.Contains(buf.Bytes(), []byte("component=")) {
		t.Errorf("parent logger should not carry the child's tag, got: %s", buf.String())
	}
}

func TestWithErrorKindTagsMatchOvioErrorKind(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.WithErrorKind(ovio.ErrTimeout).Warn("acquire did not complete")
	if !bytes.Contains(buf.Bytes(), []byte("kind=timeout")) {
		t.Errorf("expected kind=timeout in output, got: %s", buf.String())
	}
}

func TestWithComponentAndWithErrorKindCompose(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.WithComponent("rtp").WithErrorKind(ovio.ErrPeerDisconnect).Error("socket closed")
	output := buf.String()
	if !bytes.Contains([]byte(output), []byte("component=rtp")) {
		t.Errorf("expected component=rtp in output, got: %s", output)
	}
	if !bytes.Contains([]byte(output), []byte("kind=peer disconnected")) {
		t.Errorf("expected kind=peer disconnected in output, got: %s", output)
	}
}

func TestDefaultReturnsSameInstance(t *testing.T) {
	a := Default()
	b := Default()
	if a != b {
		t.Error("Default() returned different instances across calls")
	}
}

func TestSetDefaultReplacesGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	SetDefault(custom)
	Info("routed through package-level helper")

	if !bytes.Contains(buf.Bytes(), []byte("routed through package-level helper")) {
		t.Errorf("expected message in custom logger's buffer, got: %s", buf.String())
	}
}

func TestGlobalConvenienceFunctionsCoverAllLevels(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	output := buf.String()
	for _, want := range []string{"[DEBUG] d", "[INFO] i", "[WARN] w", "[ERROR] e"} {
		if !bytes.Contains([]byte(output), []byte(want)) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}
