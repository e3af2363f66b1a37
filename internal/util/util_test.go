package util

import (
	"testing"
	"time"
)

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID("fake_", 16)
	if len(id) != len("fake_")+16 {
		t.Errorf("unexpected length: %q", id)
	}
	if id[:5] != "fake_" {
		t.Errorf("missing prefix: %q", id)
	}
	for _, c := range id[5:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("non-hex character %q in %q", c, id)
		}
	}
}

func TestGenerateRandomHexZeroLength(t *testing.T) {
	if got := GenerateRandomHex(0); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := GenerateRandomHex(-3); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("PB_TEST_BOOL", "yes")
	if !ParseBoolEnv("PB_TEST_BOOL", false) {
		t.Error("yes should parse as true")
	}
	t.Setenv("PB_TEST_BOOL", "garbage")
	if !ParseBoolEnv("PB_TEST_BOOL", true) {
		t.Error("invalid value should fall back to default")
	}
	if ParseBoolEnv("PB_TEST_BOOL_UNSET", false) {
		t.Error("unset value should fall back to default")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("PB_TEST_INT", "42")
	if got := ParseIntEnv("PB_TEST_INT", 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv("PB_TEST_INT", "x")
	if got := ParseIntEnv("PB_TEST_INT", 7); got != 7 {
		t.Errorf("got %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("PB_TEST_DUR", "30s")
	if got := ParseDurationEnv("PB_TEST_DUR", time.Minute); got != 30*time.Second {
		t.Errorf("got %v, want 30s", got)
	}
	if got := ParseDurationEnv("PB_TEST_DUR_UNSET", time.Minute); got != time.Minute {
		t.Errorf("got %v, want default 1m", got)
	}
}
