package passphrase

import (
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("SAFEDEAL_TEST_PASS", "from-env")
	src := NewSource("SAFEDEAL_TEST_PASS", "client keystore")
	src.prompt = func(string) (string, error) {
		t.Fatalf("prompt must not be used when env is set")
		return "", nil
	}
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("unexpected result %q, %v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("SAFEDEAL_TEST_PASS", "  ")
	if _, err := NewSource("SAFEDEAL_TEST_PASS", "").Get(); err == nil {
		t.Fatalf("expected error for blank env passphrase")
	}
}

func TestSourceCachesPrompt(t *testing.T) {
	calls := 0
	src := NewSource("", "operator keystore")
	src.prompt = func(label string) (string, error) {
		calls++
		if label != "operator keystore" {
			t.Fatalf("unexpected label %q", label)
		}
		return "secret", nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "secret" {
			t.Fatalf("unexpected result %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("SAFEDEAL_UNSET_PASS", "operator keystore")
	src.prompt = func(string) (string, error) { return "", errNoTerminal }
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "SAFEDEAL_UNSET_PASS") {
		t.Fatalf("expected env var hint, got %v", err)
	}
}
