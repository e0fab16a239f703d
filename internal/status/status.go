// Package status derives unit and workstream statuses from proof evidence.
// Resolution is a pure function of the unit and its proof set; time never
// enters into it (deadlines drive escalation, not red/green).
package status

import "trackline/internal/domain"

// Resolve computes a unit's status from its proof set.
//
// Blocked dominates unconditionally. Otherwise only approved, valid,
// non-superseded proofs are considered: the unit is green when they meet
// the required count and cover every required type. A unit requiring zero
// proofs and no types is vacuously green.
func Resolve(u domain.Unit, proofs []domain.Proof) domain.Status {
	if u.Blocked {
		return domain.StatusBlocked
	}
	count := 0
	present := map[string]bool{}
	for _, p := range proofs {
		if !p.Counts() {
			continue
		}
		count++
		present[p.Type] = true
	}
	if count < u.RequiredProofCount {
		return domain.StatusRed
	}
	for _, t := range u.RequiredProofTypes {
		if !present[t] {
			return domain.StatusRed
		}
	}
	return domain.StatusGreen
}

// Aggregate rolls unit statuses up to a workstream status. Blocked
// dominates red, red dominates green. An empty input yields StatusEmpty,
// never a false green.
func Aggregate(statuses []domain.Status) domain.Status {
	if len(statuses) == 0 {
		return domain.StatusEmpty
	}
	anyRed := false
	for _, s := range statuses {
		switch s {
		case domain.StatusBlocked:
			return domain.StatusBlocked
		case domain.StatusRed:
			anyRed = true
		}
	}
	if anyRed {
		return domain.StatusRed
	}
	return domain.StatusGreen
}
