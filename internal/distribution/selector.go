package distribution

import (
	"time"

	"github.com/google/uuid"
)

// Selection is the outcome of picking the next assignee. State is the
// rotation state to persist; the selector itself never writes anything.
type Selection struct {
	AssigneeID uuid.UUID
	Index      int
	State      RotationState
}

// SelectNext decides which active eligible user receives the next lead.
// It is pure: given the same policy state and eligible set it returns the
// same result for every algorithm except random, whose draw comes from the
// injected intn. The caller persists the returned state; a read-only preview
// simply discards it.
//
// Returns ok=false when no active eligible users exist. That is a normal
// unassigned outcome, not an error.
func SelectNext(policy AssignmentPolicy, now time.Time, intn func(int) int) (Selection, bool) {
	eligible := policy.ActiveUsers()
	if len(eligible) == 0 {
		return Selection{}, false
	}

	var idx int
	state := cloneState(policy.Rotation)

	switch policy.Algorithm {
	case AlgorithmWeightedRoundRobin:
		idx = selectWeighted(eligible, &state)
	case AlgorithmLeastAssigned:
		idx = selectLeastAssigned(eligible, state)
	case AlgorithmRandom:
		idx = intn(len(eligible))
	default: // round robin
		if state.LastAssignedAt == nil {
			// Fresh or reset state starts at the head of the list.
			idx = 0
		} else {
			// The previous index is taken modulo the current count, so a
			// shrunken eligible set keeps rotating instead of failing.
			idx = (state.LastAssignedIndex + 1) % len(eligible)
		}
	}

	assignee := eligible[idx].UserID
	state.LastAssignedIndex = idx
	state.LastAssignedUserID = &assignee
	state.LastAssignedAt = &now
	if state.AssignedCounts == nil {
		state.AssignedCounts = make(map[uuid.UUID]int64)
	}
	state.AssignedCounts[assignee]++

	return Selection{AssigneeID: assignee, Index: idx, State: state}, true
}

// selectWeighted implements smooth weighted round-robin: every round each
// user gains its weight in credit, the highest credit wins and pays the
// total weight back. Long-run shares converge to weight/Σweights without
// the burstiness of naive weight expansion.
func selectWeighted(eligible []EligibleUser, state *RotationState) int {
	if state.Credits == nil {
		state.Credits = make(map[uuid.UUID]int, len(eligible))
	}

	total := 0
	for _, u := range eligible {
		state.Credits[u.UserID] += u.Weight
		total += u.Weight
	}

	best := 0
	for i, u := range eligible {
		if state.Credits[u.UserID] > state.Credits[eligible[best].UserID] {
			best = i
		}
	}

	state.Credits[eligible[best].UserID] -= total
	return best
}

// selectLeastAssigned picks the user with the fewest recorded assignments,
// ties broken by list order.
func selectLeastAssigned(eligible []EligibleUser, state RotationState) int {
	best := 0
	for i, u := range eligible {
		if state.AssignedCounts[u.UserID] < state.AssignedCounts[eligible[best].UserID] {
			best = i
		}
	}
	return best
}

func cloneState(s RotationState) RotationState {
	out := s
	if s.Credits != nil {
		out.Credits = make(map[uuid.UUID]int, len(s.Credits))
		for k, v := range s.Credits {
			out.Credits[k] = v
		}
	}
	if s.AssignedCounts != nil {
		out.AssignedCounts = make(map[uuid.UUID]int64, len(s.AssignedCounts))
		for k, v := range s.AssignedCounts {
			out.AssignedCounts[k] = v
		}
	}
	return out
}
