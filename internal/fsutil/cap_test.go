package fsutil

import (
	"bytes"
	"strings"
	"testing"
)

func TestCapOutputUnderLimit(t *testing.T) {
	data := []byte("hello")
	if got := CapOutput(data, 100); !bytes.Equal(got, data) {
		t.Fatalf("expected unchanged, got %q", got)
	}
}

func TestCapOutputOverLimitPreservesPrefix(t *testing.T) {
	data := []byte(strings.Repeat("a", 2000))
	got := CapOutput(data, 100)
	if len(got) > 100 {
		t.Fatalf("expected capped output <= 100 bytes, got %d", len(got))
	}
	if !bytes.HasPrefix(got, []byte(strings.Repeat("a", 10))) {
		t.Fatalf("expected prefix preserved, got %q", got[:20])
	}
	if !bytes.Contains(got, []byte("truncated")) {
		t.Fatalf("expected truncation marker, got %q", got)
	}
}
