package capture

import (
	"strings"
	"sync"
)

// Accumulator builds a single answer out of streaming transcript
// fragments. Final segments from a live recognizer overlap: a later
// final often re-covers and extends an earlier one, so segments are
// reconciled rather than blindly concatenated.
type Accumulator struct {
	minConfidence float64
	minFinalLen   int
	minInterimLen int

	mu          sync.Mutex
	accumulated string
	lastFinal   string
	lowConf     string
	interim     string
}

// NewAccumulator returns an accumulator that ignores final segments at
// or below minConfidence (keeping one as a last resort) and treats
// segments shorter than the length floors as noise.
func NewAccumulator(minConfidence float64, minFinalLen, minInterimLen int) *Accumulator {
	return &Accumulator{
		minConfidence: minConfidence,
		minFinalLen:   minFinalLen,
		minInterimLen: minInterimLen,
	}
}

// ApplyFinal reconciles a final segment into the answer. It reports
// whether the segment carried meaningful speech, which callers use to
// push back the quiet-period timer.
func (a *Accumulator) ApplyFinal(text string, confidence float64) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if confidence <= a.minConfidence {
		// Keep the first low-confidence final around in case it is
		// all we ever get.
		if a.lowConf == "" {
			a.lowConf = text
		}
		return false
	}

	switch {
	case a.accumulated == "":
		a.accumulated = text
	default:
		lower := strings.ToLower(text)
		lastLower := strings.ToLower(a.lastFinal)
		switch {
		case a.lastFinal != "" && strings.Contains(lower, lastLower) && len(text) > len(a.lastFinal):
			// Extension of the previous segment: replace its tail in
			// the accumulated answer instead of duplicating it.
			if idx := strings.LastIndex(strings.ToLower(a.accumulated), lastLower); idx >= 0 {
				a.accumulated = a.accumulated[:idx] + text
			} else {
				a.accumulated += " " + text
			}
		case a.lastFinal != "" && strings.Contains(lastLower, lower):
			// Shorter duplicate of what we already have.
		case text != a.lastFinal:
			a.accumulated += " " + text
		}
	}
	a.lastFinal = text

	return len(text) > a.minFinalLen
}

// ApplyInterim records an interim hypothesis. Interims never join the
// accumulated answer; the latest one is kept only as a fallback for
// Best. The return value reports meaningful speech, same as ApplyFinal.
func (a *Accumulator) ApplyInterim(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	a.mu.Lock()
	a.interim = text
	a.mu.Unlock()

	return len(text) > a.minInterimLen
}

// Best returns the best available answer: the accumulated finals,
// falling back to a low-confidence final, then to the last interim if
// it clears the noise floor.
func (a *Accumulator) Best() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accumulated != "" {
		return a.accumulated
	}
	if a.lowConf != "" {
		return a.lowConf
	}
	if len(a.interim) > a.minInterimLen {
		return a.interim
	}
	return ""
}

// Reset clears all state for a fresh answer.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	a.accumulated = ""
	a.lastFinal = ""
	a.lowConf = ""
	a.interim = ""
	a.mu.Unlock()
}
