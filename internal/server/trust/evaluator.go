package trust

// Score constants for the evaluator. The numbers mirror how operators
// reason about devices: a brand-new fingerprint starts in the middle-low
// band and earns its way up through consistent successful redemptions.
const (
	ScoreNewDevice     = 30
	ScoreTrustedDevice = 90
	ScoreMax           = 100
	ScoreMin           = 0

	bonusSuccess     = 2
	penaltyFailure   = 10
	penaltyIPChanged = 5
)

// Policy holds the externally configured thresholds. The evaluator itself
// hardcodes no cut-offs; "higher is safer" is the only built-in rule.
type Policy struct {
	// BlockBelowScore denies redemption when the computed score falls
	// under this floor. Zero disables the floor.
	BlockBelowScore int
}

// Decision is the evaluator's verdict on one redemption attempt.
type Decision struct {
	Allow   bool
	Blocked bool
	Score   int
	Reason  string
}

/// Evaluate scores a redemption attempt. Pure: it reads the prior record
// and the current attempt and returns the decision plus the mutated copy
// of the record for the caller to persist. Flags always outrank the
// computed score, and a blocked flag wins regardless of everything else.
func Evaluate(rec Record, requesterIP string, policy Policy) (Decision, Record) {

	if rec.Blocked {
		rec.FailedAttempts++
		return Decision{Allow: false, Blocked: true, Score: rec.Score, Reason: "device is blocked"}, rec
	}

	score := rec.Score

	// Geographic/IP consistency: a fingerprint that keeps its address is
	// a stronger signal than one hopping around.
	if rec.LastIP != "" && requesterIP != "" && rec.LastIP != requesterIP {
		score -= penaltyIPChanged
	}

	if rec.Trusted {
		// Admin override pins the score into the trusted band.
		if score < ScoreTrustedDevice {
			score = ScoreTrustedDevice
		}
	}

	score = clamp(score)

	if policy.BlockBelowScore > 0 && score < policy.BlockBelowScore && !rec.Trusted {
		rec.Score = clamp(score - penaltyFailure)
		rec.FailedAttempts++
		return Decision{Allow: false, Score: score, Reason: "trust score below policy floor"}, rec
	}

	// Successful attempt: fingerprint stability over time slowly raises
	// the score, bounded at the maximum.
	rec.Score = clamp(score + bonusSuccess)
	rec.FailedAttempts = 0
	rec.AccessCount++
	if requesterIP != "" {
		rec.LastIP = requesterIP
	}

	return Decision{Allow: true, Score: rec.Score}, rec
}

func clamp(score int) int {
	if score > ScoreMax {
		return ScoreMax
	}
	if score < ScoreMin {
		return ScoreMin
	}
	return score
}
