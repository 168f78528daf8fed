package spam

import (
	"fmt"
	"testing"
	"time"
)

func newFilter(t *testing.T) *Filter {
	t.Helper()
	f, err := New(100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestSingleMessageRules(t *testing.T) {
	base := time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		content string
		want    Reason
	}{
		{"", ReasonEmpty},
		{"   \t ", ReasonEmpty},
		{"[emote:37226:KEKW]", ReasonEmote},
		{"  [emote:1:x]  ", ReasonEmote},
		{"hi", ReasonShort},
		{" ok ", ReasonShort},
		{"HELLO THERE", ReasonCaps},
		{"WOW!!! 123", ReasonNone}, // only three letters
		{"Hello There Friend", ReasonNone},
		{"good morning everyone", ReasonNone},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.content), func(t *testing.T) {
			f := newFilter(t)
			if got := f.Check("u1", tt.content, base); got != tt.want {
				t.Errorf("Check(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestSequenceTable(t *testing.T) {
	base := time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)

	f := newFilter(t)
	if f.IsSpam("u1", "", base) != true {
		t.Error("empty should be spam")
	}
	if f.IsSpam("u1", "hi", base) != true {
		t.Error("short should be spam")
	}
	if f.IsSpam("u1", "HELLO THERE", base) != true {
		t.Error("caps should be spam")
	}

	f = newFilter(t)
	if f.IsSpam("u1", "good morning everyone", base) {
		t.Fatal("first message should pass")
	}
	if !f.IsSpam("u1", "good morning everyone", base.Add(500*time.Millisecond)) {
		t.Error("repeat within rate window should be spam")
	}

	f = newFilter(t)
	if f.IsSpam("u1", "good morning everyone", base) {
		t.Fatal("first message should pass")
	}
	if f.IsSpam("u1", "completely different message", base.Add(5*time.Second)) {
		t.Error("distinct message after 5s should pass")
	}
}

func TestHistoryRules(t *testing.T) {
	base := time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		first  string
		second string
		gap    time.Duration
		want   Reason
	}{
		{"exact duplicate much later", "nice play there", "nice play there", time.Hour, ReasonDuplicate},
		{"duplicate after trimming", "nice play there", "  nice play there ", time.Hour, ReasonDuplicate},
		{"reordered words", "one two three four", "four three two one", time.Hour, ReasonSimilar},
		{"case only change", "nice play there", "Nice Play There", time.Hour, ReasonSimilar},
		{"too fast", "first message here", "another thing entirely", 999 * time.Millisecond, ReasonRateLimit},
		{"exactly one second", "first message here", "another thing entirely", time.Second, ReasonNone},
		{"partial overlap", "one two three four", "one two three five", time.Minute, ReasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFilter(t)
			if r := f.Check("u", tt.first, base); r != ReasonNone {
				t.Fatalf("first message rejected: %q", r)
			}
			if got := f.Check("u", tt.second, base.Add(tt.gap)); got != tt.want {
				t.Errorf("second = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRejectedMessageDoesNotUpdateHistory(t *testing.T) {
	base := time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)
	f := newFilter(t)
	f.Check("u", "first message here", base)
	// rejected by rate limit; must not become the new "previous"
	if r := f.Check("u", "second message here now", base.Add(100*time.Millisecond)); r != ReasonRateLimit {
		t.Fatalf("got %q", r)
	}
	if r := f.Check("u", "second message here now", base.Add(2*time.Second)); r != ReasonNone {
		t.Fatalf("message should pass once spacing allows, got %q", r)
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	base := time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)
	f := newFilter(t)
	f.Check("a", "same words here", base)
	if f.IsSpam("b", "same words here", base) {
		t.Fatal("other identity must not be affected")
	}
}

func TestResetAndBound(t *testing.T) {
	base := time.Date(2025, 7, 3, 12, 0, 0, 0, time.UTC)
	f, err := New(3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		f.Check(fmt.Sprintf("user%d", i), "message number one", base)
	}
	if f.Len() != 3 {
		t.Fatalf("Len = %d, want 3", f.Len())
	}
	f.Reset()
	if f.Len() != 0 {
		t.Fatalf("Len after reset = %d", f.Len())
	}
	if f.IsSpam("user9", "message number one", base) {
		t.Fatal("history should be gone after reset")
	}
}

func TestSimilarity(t *testing.T) {
	if s := Similarity("a b c", "a b c"); s != 1 {
		t.Errorf("identical = %v", s)
	}
	if s := Similarity("a b", "c d"); s != 0 {
		t.Errorf("disjoint = %v", s)
	}
	if s := Similarity("a b c d", "a b"); s != 0.5 {
		t.Errorf("half = %v", s)
	}
}
