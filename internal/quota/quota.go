// Package quota holds the allowance arithmetic shared by the gateway
// and the usage ledger. It is pure: decisions are derived from the three
// inputs alone so both callers agree on what "exhausted" means.
package quota

// Remaining reports how many prediction calls a key has left, never
// negative.
func Remaining(baseAllowance, paidAllowance, used int) int {
	r := baseAllowance + paidAllowance - used
	if r < 0 {
		return 0
	}
	return r
}

// Allowed reports whether one more call may be charged against the key.
func Allowed(baseAllowance, paidAllowance, used int) bool {
	return used < baseAllowance+paidAllowance
}
