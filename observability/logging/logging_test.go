package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMaskField(t *testing.T) {
	if got := MaskField("jwtSecret", "s3cret"); got.Value.String() != RedactedValue {
		t.Fatalf("expected secret to be masked, got %q", got.Value.String())
	}
	if got := MaskField("address", "sd1xyz"); got.Value.String() != "sd1xyz" {
		t.Fatalf("allowlisted key must pass through, got %q", got.Value.String())
	}
	if got := MaskField("passphrase", ""); got.Value.String() != "" {
		t.Fatalf("empty values stay empty")
	}
}

func TestMaskDSN(t *testing.T) {
	if got := MaskDSN("postgres://user:pw@db:5432/deals"); got != "postgres://"+RedactedValue {
		t.Fatalf("unexpected masked dsn %q", got)
	}
	if got := MaskDSN("file:deals.db"); got != RedactedValue {
		t.Fatalf("unexpected masked dsn %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWithOptionsWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	logger, closer := SetupWithOptions(Options{Service: "safedeald", Env: "test", File: path})
	logger.Info("slot advanced", slog.Uint64("period", 7))
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(raw)
	for _, want := range []string{`"message":"slot advanced"`, `"severity":"INFO"`, `"service":"safedeald"`, `"env":"test"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %s", line, want)
		}
	}
}
