package analytics

import "testing"

func TestExitDetectorCompletionSignals(t *testing.T) {
	d := NewExitDetector()
	d.Observe("working on it")
	if got := d.Observe("all tasks completed"); got != SignalNone {
		t.Fatalf("expected no signal on first done match, got %v", got)
	}
	if got := d.Observe("all tasks completed"); got != SignalCompletionSignals {
		t.Fatalf("expected CompletionSignals on second done match, got %v", got)
	}
}

func TestExitDetectorStrongCompletionIsImmediate(t *testing.T) {
	d := NewExitDetector()
	if got := d.Observe("Implementation complete. Ready for review!"); got != SignalStrongCompletion {
		t.Fatalf("expected immediate StrongCompletion, got %v", got)
	}
}

func TestExitDetectorTestSaturation(t *testing.T) {
	d := NewExitDetector()
	d.Observe("running cargo test")
	d.Observe("running cargo test")
	if got := d.Observe("running cargo test"); got != SignalTestSaturation {
		t.Fatalf("expected TestSaturation on third test-only event, got %v", got)
	}
}

func TestExitDetectorProgressWordResetsTestOnlyCounter(t *testing.T) {
	d := NewExitDetector()
	d.Observe("running cargo test")
	d.Observe("running cargo test")
	d.Observe("let's implement the next feature")
	if got := d.Observe("running cargo test"); got == SignalTestSaturation {
		t.Fatal("progress word between test-only events should have reset the counter")
	}
}

func TestExitDetectorScenarioStrongCompletionOnThirdEvent(t *testing.T) {
	d := NewExitDetector()
	d.Observe("Running cargo test...")
	d.Observe("Running cargo test...")
	got := d.Observe("Implementation complete. Ready for review!")
	if got != SignalStrongCompletion {
		t.Fatalf("expected StrongCompletion, got %v", got)
	}
}

func TestIsTaskListComplete(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"- [x] a\n- [ ] b", false},
		{"- [x] a\n- [X] b", true},
		{"plain text", false},
		{"* [x] done\n* [X] also done", true},
	}
	for _, c := range cases {
		if got := IsTaskListComplete(c.text); got != c.want {
			t.Errorf("IsTaskListComplete(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
