package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("timeout")
	err := fmt.Errorf("cycle: %w", New(Protocol, "read holding registers", 32, base))

	if got := KindOf(err); got != Protocol {
		t.Fatalf("KindOf: got %v, want %v", got, Protocol)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected chain to unwrap to base error")
	}
	if !Is(err, Protocol) {
		t.Fatalf("Is(Protocol) = false")
	}
}

func TestKindOfUnclassifiedIsTransport(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Transport {
		t.Fatalf("got %v, want transport", got)
	}
	if got := KindOf(nil); got != 0 {
		t.Fatalf("nil error: got %v, want 0", got)
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(Write, "write coil", 31, nil)
	want := "write coil unit=31: write failure"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		Transport:           "transport",
		Protocol:            "protocol",
		SensorInconsistency: "sensor_inconsistency",
		Write:               "write",
		Kind(99):            "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
