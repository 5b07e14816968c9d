package analytics

import "strings"

// CircuitState is the state of a per-session circuit breaker.
type CircuitState string

const (
	CircuitClosed CircuitState = "closed"
	CircuitOpen   CircuitState = "open"
	// CircuitHalfOpen is reserved in the taxonomy but never entered by the
	// algorithm below.
	CircuitHalfOpen CircuitState = "half_open"
)

var errorPatterns = []string{"error:", "exception:", "panic:", "traceback"}

// LoopResult is one observation recorded into the circuit breaker's ring
// buffer.
type LoopResult struct {
	Content       string
	FilesChanged  int
	TokensUsed    int64
	ErrorSignature string
	HadProgress   bool
}

const loopRingSize = 10

// CircuitBreaker tracks no-progress and repeated-error streaks for a single
// session.
type CircuitBreaker struct {
	State             CircuitState
	OpenReason        string
	noProgressCount   int
	repeatedErrorCount int
	lastErrorSignature string
	ring              []LoopResult
}

// NewCircuitBreaker returns a Closed circuit breaker.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{State: CircuitClosed}
}

// RecordResult observes one loop iteration's outcome and applies the
// no-progress / repeated-error transition rules.
func (c *CircuitBreaker) RecordResult(content string, filesChanged int, tokensUsed int64) {
	lower := strings.ToLower(content)
	errSig := firstErrorLine(lower)
	hadProgress := filesChanged > 0 || tokensUsed > 1000

	result := LoopResult{
		Content:        content,
		FilesChanged:   filesChanged,
		TokensUsed:     tokensUsed,
		ErrorSignature: errSig,
		HadProgress:    hadProgress,
	}
	c.ring = append(c.ring, result)
	if len(c.ring) > loopRingSize {
		c.ring = c.ring[len(c.ring)-loopRingSize:]
	}

	if !hadProgress {
		c.noProgressCount++
	} else {
		c.noProgressCount = 0
	}
	if c.noProgressCount >= 3 && c.State == CircuitClosed {
		c.trip("no progress")
	}

	if errSig != "" && errSig == c.lastErrorSignature {
		c.repeatedErrorCount++
	} else if errSig != "" {
		c.repeatedErrorCount = 1
	} else {
		c.repeatedErrorCount = 0
	}
	c.lastErrorSignature = errSig
	if c.repeatedErrorCount >= 5 && c.State == CircuitClosed {
		c.trip("repeated error")
	}
}

func (c *CircuitBreaker) trip(reason string) {
	c.State = CircuitOpen
	c.OpenReason = reason
}

// Reset returns the breaker to Closed and zeroes all counters.
func (c *CircuitBreaker) Reset() {
	c.State = CircuitClosed
	c.OpenReason = ""
	c.noProgressCount = 0
	c.repeatedErrorCount = 0
	c.lastErrorSignature = ""
	c.ring = nil
}

func firstErrorLine(lowerContent string) string {
	for _, line := range strings.Split(lowerContent, "\n") {
		if containsAny(line, errorPatterns) {
			return line
		}
	}
	return ""
}
