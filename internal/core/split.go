package core

// SplitEqually derives the sharedWith list for an expense: the total is
// divided equally among all participants including the owner, so each of
// the selected participants owes amount/(selected+1), rounded half-up to
// the minor unit. The owner's implicit share is the remainder and is not
// stored.
//
// Duplicate participant ids are collapsed before dividing; order of first
// appearance is preserved. Zero selected participants yields an empty
// (non-nil) list.
func SplitEqually(amount Money, participants []string) []Share {
	ids := dedupe(participants)
	if len(ids) == 0 {
		return []Share{}
	}
	per := divideHalfUp(amount.Cents, int64(len(ids)+1))
	shares := make([]Share, len(ids))
	for i, id := range ids {
		shares[i] = Share{UserID: id, Share: Money{Cents: per}}
	}
	return shares
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// divideHalfUp computes cents/n with half-up rounding. Callers pass
// non-negative cents and n >= 1.
func divideHalfUp(cents, n int64) int64 {
	return (cents*2 + n) / (2 * n)
}
