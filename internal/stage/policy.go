package stage

import "time"

// GuardRetryPolicy controls the guard-retry runtime for a stage: the stage
// is reattempted while its output payload keeps changing, up to MaxAttempts
// or until StagnationWindow consecutive attempts hash identically.
type GuardRetryPolicy struct {
	MaxAttempts      int
	StagnationWindow int
	Timeout          time.Duration
}

// Normalize fills unset fields with workable defaults.
func (p GuardRetryPolicy) Normalize() GuardRetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.StagnationWindow <= 0 {
		p.StagnationWindow = 2
	}
	return p
}
