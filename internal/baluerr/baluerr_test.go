package baluerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapNilIsNil(t *testing.T) {
	if err := Wrap(KindIO, "op", nil); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestKindOfWalksChain(t *testing.T) {
	base := New(KindNotFound, "raid.list", "array missing")
	wrapped := fmt.Errorf("outer context: %w", base)

	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf = %v, want %v", got, KindNotFound)
	}
	if !Is(wrapped, KindNotFound) {
		t.Errorf("Is(wrapped, KindNotFound) = false, want true")
	}
	if Is(wrapped, KindParse) {
		t.Errorf("Is(wrapped, KindParse) = true, want false")
	}
}

func TestKindOfNoMatchReturnsUnknown(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want KindUnknown", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %v, want KindUnknown", got)
	}
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := New(KindQuotaExceeded, "files.write", "limit reached")
	msg := err.Error()
	if msg == "" {
		t.Fatal("empty error string")
	}
	for _, want := range []string{"files.write", "quota_exceeded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error string %q does not contain %q", msg, want)
		}
	}
}
