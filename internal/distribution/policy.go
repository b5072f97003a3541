// Package distribution provides the lead distribution bounded context: per-unit
// assignment policies, rotation state, and the selection algorithms that decide
// which agent receives a newly captured lead.
package distribution

import (
	"time"

	"leadhub_backend/platform/apperr"

	"github.com/google/uuid"
)

// Mode controls whether a unit assigns leads automatically.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeManual   Mode = "manual"
	ModeSpecific Mode = "specific"
)

// Algorithm selects how the next assignee is chosen.
type Algorithm string

const (
	AlgorithmRoundRobin         Algorithm = "round_robin"
	AlgorithmWeightedRoundRobin Algorithm = "weighted_round_robin"
	AlgorithmLeastAssigned      Algorithm = "least_assigned"
	AlgorithmRandom             Algorithm = "random"
)

const (
	minWeight = 1
	maxWeight = 10
)

// EligibleUser is one entry in a policy's ordered assignee list.
// List order is significant: round-robin walks it in stored order and
// ties break toward the earlier entry.
type EligibleUser struct {
	UserID   uuid.UUID `json:"userId"`
	Weight   int       `json:"weight"`
	IsActive bool      `json:"isActive"`
}

// RotationState is the per-unit mutable assignment state. It is only ever
// mutated under the unit's row lock (see Repository.WithUnitLock).
type RotationState struct {
	LastAssignedIndex  int        `json:"lastAssignedIndex"`
	LastAssignedUserID *uuid.UUID `json:"lastAssignedUserId,omitempty"`
	LastAssignedAt     *time.Time `json:"lastAssignedAt,omitempty"`
	// Credits holds the weighted-round-robin deficit counter per user.
	Credits map[uuid.UUID]int `json:"credits,omitempty"`
	// AssignedCounts tracks total assignments per user within this policy.
	AssignedCounts map[uuid.UUID]int64 `json:"assignedCounts,omitempty"`
}

// AssignmentPolicy is the configuration owned by a DistributionUnit.
type AssignmentPolicy struct {
	Enabled        bool           `json:"enabled"`
	Mode           Mode           `json:"mode"`
	Algorithm      Algorithm      `json:"algorithm"`
	SpecificUserID *uuid.UUID     `json:"specificUserId,omitempty"`
	EligibleUsers  []EligibleUser `json:"eligibleUsers"`
	Rotation       RotationState  `json:"rotationState"`
}

// DistributionUnit identifies a place leads originate from: an organization
// plus a channel-specific key (form id, page+form pair, store domain).
type DistributionUnit struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Channel        string
	UnitKey        string
	Policy         AssignmentPolicy
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ActiveUsers returns the eligible users with isActive=true, preserving
// stored order.
func (p AssignmentPolicy) ActiveUsers() []EligibleUser {
	active := make([]EligibleUser, 0, len(p.EligibleUsers))
	for _, u := range p.EligibleUsers {
		if u.IsActive {
			active = append(active, u)
		}
	}
	return active
}

// Validate checks a policy at configuration time. Invalid algorithms and
// weights are rejected here so ingestion never sees them.
func (p AssignmentPolicy) Validate() error {
	switch p.Mode {
	case ModeAuto, ModeManual, ModeSpecific:
	default:
		return apperr.Validation("invalid assignment mode: " + string(p.Mode))
	}

	switch p.Algorithm {
	case AlgorithmRoundRobin, AlgorithmWeightedRoundRobin, AlgorithmLeastAssigned, AlgorithmRandom:
	default:
		return apperr.Validation("invalid assignment algorithm: " + string(p.Algorithm))
	}

	if p.Mode == ModeSpecific && (p.SpecificUserID == nil || *p.SpecificUserID == uuid.Nil) {
		return apperr.Validation("specific mode requires a target user")
	}

	seen := make(map[uuid.UUID]struct{}, len(p.EligibleUsers))
	for _, u := range p.EligibleUsers {
		if u.UserID == uuid.Nil {
			return apperr.Validation("eligible user id must not be empty")
		}
		if u.Weight < minWeight || u.Weight > maxWeight {
			return apperr.Validation("eligible user weight must be between 1 and 10")
		}
		if _, dup := seen[u.UserID]; dup {
			return apperr.Validation("eligible user list contains duplicates")
		}
		seen[u.UserID] = struct{}{}
	}

	return nil
}
