// Package budget provides token estimation for embedding inputs. Because
// incidentkb supports several embedding backends with different tokenizers,
// this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose and code).
package budget

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Exceeds reports whether s is estimated to be over limit tokens.
// A limit of zero or less disables the check.
func Exceeds(s string, limit int) bool {
	if limit <= 0 {
		return false
	}
	return len(s) > limit*charsPerToken
}
