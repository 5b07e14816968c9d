package analytics

import "strings"

// ExitSignal is emitted by the ExitDetector when an observed pattern crosses
// a completion threshold.
type ExitSignal string

const (
	SignalNone             ExitSignal = ""
	SignalCompletionSignals ExitSignal = "completion_signals"
	SignalStrongCompletion  ExitSignal = "strong_completion"
	SignalProjectComplete   ExitSignal = "project_complete"
	SignalTestSaturation    ExitSignal = "test_saturation"
)

var donePatterns = []string{
	"all tasks completed",
	"implementation complete",
	"all done",
	"no more tasks",
	"task list complete",
	"everything is done",
}

var strongPatterns = []string{
	"ready for review",
	"ready to merge",
	"tests are passing",
	"all tests pass",
	"pr is ready",
}

var testOnlyPatterns = []string{
	"running tests",
	"pytest",
	"cargo test",
	"go test",
	"npm test",
	"running the test suite",
}

var progressWords = []string{"implement", "fix", "add", "create"}

const contentHistorySize = 20

// ExitDetector tracks completion-signal heuristics for a single session.
type ExitDetector struct {
	DoneSignalCount          int
	TestOnlyCount            int
	CompletionIndicatorCount int
	history                  []string
}

// NewExitDetector returns a zeroed detector ready to observe content.
func NewExitDetector() *ExitDetector {
	return &ExitDetector{}
}

// Observe feeds one piece of event content through the detector and
// returns the strongest signal raised by this observation, if any.
// Non-positive (empty) content is a no-op.
func (d *ExitDetector) Observe(content string) ExitSignal {
	if content == "" {
		return SignalNone
	}

	lower := strings.ToLower(content)
	d.pushHistory(lower)

	signal := SignalNone

	if containsAny(lower, donePatterns) {
		d.DoneSignalCount++
	} else {
		d.DoneSignalCount = 0
	}

	if containsAny(lower, strongPatterns) {
		d.CompletionIndicatorCount++
		signal = SignalStrongCompletion
	}

	if containsAny(lower, testOnlyPatterns) && !containsAny(lower, progressWords) {
		d.TestOnlyCount++
	} else {
		d.TestOnlyCount = 0
	}

	if signal == SignalNone {
		switch {
		case d.DoneSignalCount >= 2:
			signal = SignalCompletionSignals
		case d.CompletionIndicatorCount >= 2:
			signal = SignalProjectComplete
		case d.TestOnlyCount >= 3:
			signal = SignalTestSaturation
		}
	}

	return signal
}

func (d *ExitDetector) pushHistory(lower string) {
	d.history = append(d.history, lower)
	if len(d.history) > contentHistorySize {
		d.history = d.history[len(d.history)-contentHistorySize:]
	}
}

func containsAny(haystack string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(haystack, p) {
			return true
		}
	}
	return false
}

// IsTaskListComplete returns true iff text contains at least one Markdown
// checkbox line and every checkbox line is checked.
func IsTaskListComplete(text string) bool {
	found := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		checked, isCheckbox := checkboxState(trimmed)
		if !isCheckbox {
			continue
		}
		found = true
		if !checked {
			return false
		}
	}
	return found
}

func checkboxState(line string) (checked bool, isCheckbox bool) {
	for _, prefix := range []string{"- [ ]", "* [ ]"} {
		if strings.HasPrefix(line, prefix) {
			return false, true
		}
	}
	for _, prefix := range []string{"- [x]", "- [X]", "* [x]", "* [X]"} {
		if strings.HasPrefix(line, prefix) {
			return true, true
		}
	}
	return false, false
}
