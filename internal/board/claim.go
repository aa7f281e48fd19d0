package board

// ToggleClaim flips the development claim on an activity for the given
// user. Unclaimed activities become claimed by the user; a claim held by
// the same user is released; a claim held by anyone else fails with
// ErrClaimHeld and the activity is left untouched.
//
// This is the board's only mutual-exclusion primitive. It must run inside
// a single version-guarded read-modify-write: of two racing toggles on an
// unclaimed activity exactly one commit wins, and the loser re-reads the
// claimed record and lands here in the conflict branch.
func ToggleClaim(a *Activity, userID string) error {
	switch a.ClaimedBy {
	case "":
		a.ClaimedBy = userID
		return nil
	case userID:
		a.ClaimedBy = ""
		return nil
	default:
		return ErrClaimHeld
	}
}
