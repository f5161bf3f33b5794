package ids

import (
	"testing"
	"time"
)

func TestNewULID_SortsByTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := NewULID(base)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(base.Add(time.Second))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(a) != 26 || len(b) != 26 {
		t.Fatalf("unexpected lengths %d %d", len(a), len(b))
	}
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if !Valid(New()) {
		t.Fatalf("fresh ULID should be valid")
	}
	for _, s := range []string{"", "abc", "not-a-ulid-at-all-xxxxxxxxx"} {
		if Valid(s) {
			t.Fatalf("Valid(%q)=true", s)
		}
	}
}

// Not parallel: interleaved calls at other timestamps reset the monotonic run.
func TestNewULID_SameMillisecondOrdered(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	prev := ""
	for i := 0; i < 100; i++ {
		id, err := NewULID(now)
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if prev != "" && !(prev < id) {
			t.Fatalf("ids out of order: %q then %q", prev, id)
		}
		prev = id
	}
}
