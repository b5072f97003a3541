package distribution

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"leadhub_backend/internal/events"
	"leadhub_backend/platform/apperr"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
)

// Assignment outcome reasons. These are surfaced as strings, not errors:
// an unassigned lead is a normal state of the pipeline.
const (
	ReasonNoEligibleUsers = "no_eligible_users"
	ReasonPolicyNotFound  = "policy_not_found"
	ReasonPolicyDisabled  = "policy_disabled"
	ReasonManualMode      = "manual_mode"
)

// Store is the persistence surface the service needs. Satisfied by *Repository.
type Store interface {
	GetByKey(ctx context.Context, orgID uuid.UUID, unitKey string) (DistributionUnit, error)
	Upsert(ctx context.Context, unit DistributionUnit) (DistributionUnit, error)
	WithUnitLock(ctx context.Context, orgID uuid.UUID, unitKey string, fn func(unit *DistributionUnit) error) error
	ResetRotation(ctx context.Context, orgID uuid.UUID, unitKey string) error
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]DistributionUnit, error)
}

// AssignmentResult is what the ingestion coordinator receives.
type AssignmentResult struct {
	Assigned   bool
	AssigneeID *uuid.UUID
	Algorithm  Algorithm
	Reason     string // set when Assigned is false
}

// Service owns assignment decisions and policy administration.
type Service struct {
	store Store
	bus   events.Bus
	log   *logger.Logger
	intn  func(int) int // injectable randomness for the random algorithm
	now   func() time.Time
}

// NewService creates a new distribution service.
func NewService(store Store, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		store: store,
		bus:   bus,
		log:   log,
		intn:  rand.Intn,
		now:   time.Now,
	}
}

// Assign picks the next assignee for a lead arriving at the given unit and
// persists the advanced rotation state. An unassignable unit (missing,
// disabled, manual) is reported through Reason, never as an error.
func (s *Service) Assign(ctx context.Context, orgID uuid.UUID, unitKey string) (AssignmentResult, error) {
	unit, err := s.store.GetByKey(ctx, orgID, unitKey)
	if errors.Is(err, ErrUnitNotFound) {
		return AssignmentResult{Reason: ReasonPolicyNotFound}, nil
	}
	if err != nil {
		return AssignmentResult{}, err
	}

	if result, done := s.constantPathResult(unit); done {
		return result, nil
	}

	// Selector path: re-evaluate under the unit's row lock so concurrent
	// ingestions never advance rotation from the same snapshot.
	var result AssignmentResult
	err = s.store.WithUnitLock(ctx, orgID, unitKey, func(locked *DistributionUnit) error {
		if r, done := s.constantPathResult(*locked); done {
			result = r
			return errSkipRotationWrite
		}

		sel, ok := SelectNext(locked.Policy, s.now(), s.intn)
		if !ok {
			result = AssignmentResult{Reason: ReasonNoEligibleUsers, Algorithm: locked.Policy.Algorithm}
			return errSkipRotationWrite
		}

		locked.Policy.Rotation = sel.State
		assignee := sel.AssigneeID
		result = AssignmentResult{Assigned: true, AssigneeID: &assignee, Algorithm: locked.Policy.Algorithm}
		return nil
	})
	if err != nil && !errors.Is(err, errSkipRotationWrite) {
		return AssignmentResult{}, err
	}
	return result, nil
}

// errSkipRotationWrite aborts the locked transaction when no state change is
// needed; it is mapped back to a non-error outcome by Assign.
var errSkipRotationWrite = errors.New("no rotation state change")

// constantPathResult handles every outcome that does not consult the selector.
// mode=specific assigns the configured user without touching rotation state.
func (s *Service) constantPathResult(unit DistributionUnit) (AssignmentResult, bool) {
	policy := unit.Policy
	switch {
	case !policy.Enabled:
		return AssignmentResult{Reason: ReasonPolicyDisabled, Algorithm: policy.Algorithm}, true
	case policy.Mode == ModeManual:
		return AssignmentResult{Reason: ReasonManualMode, Algorithm: policy.Algorithm}, true
	case policy.Mode == ModeSpecific:
		assignee := *policy.SpecificUserID
		return AssignmentResult{Assigned: true, AssigneeID: &assignee, Algorithm: policy.Algorithm}, true
	}
	return AssignmentResult{}, false
}

// Preview reports which user would receive the next lead without mutating
// any rotation state.
func (s *Service) Preview(ctx context.Context, orgID uuid.UUID, unitKey string) (AssignmentResult, error) {
	unit, err := s.store.GetByKey(ctx, orgID, unitKey)
	if errors.Is(err, ErrUnitNotFound) {
		return AssignmentResult{}, apperr.NotFound("distribution unit not found")
	}
	if err != nil {
		return AssignmentResult{}, err
	}

	if result, done := s.constantPathResult(unit); done {
		return result, nil
	}

	sel, ok := SelectNext(unit.Policy, s.now(), s.intn)
	if !ok {
		return AssignmentResult{Reason: ReasonNoEligibleUsers, Algorithm: unit.Policy.Algorithm}, nil
	}
	assignee := sel.AssigneeID
	return AssignmentResult{Assigned: true, AssigneeID: &assignee, Algorithm: unit.Policy.Algorithm}, nil
}

// GetUnit returns a unit's configuration.
func (s *Service) GetUnit(ctx context.Context, orgID uuid.UUID, unitKey string) (DistributionUnit, error) {
	unit, err := s.store.GetByKey(ctx, orgID, unitKey)
	if errors.Is(err, ErrUnitNotFound) {
		return DistributionUnit{}, apperr.NotFound("distribution unit not found")
	}
	return unit, err
}

// ListUnits returns all units for an organization.
func (s *Service) ListUnits(ctx context.Context, orgID uuid.UUID) ([]DistributionUnit, error) {
	return s.store.ListByOrganization(ctx, orgID)
}

// UpdatePolicy validates and stores a unit's policy. Rotation state is
// preserved; only configuration changes.
func (s *Service) UpdatePolicy(ctx context.Context, unit DistributionUnit) (DistributionUnit, error) {
	if err := unit.Policy.Validate(); err != nil {
		return DistributionUnit{}, err
	}
	return s.store.Upsert(ctx, unit)
}

// ResetRotation zeroes a unit's rotation state, leaving eligible users intact.
func (s *Service) ResetRotation(ctx context.Context, orgID uuid.UUID, unitKey string, resetBy uuid.UUID) error {
	err := s.store.ResetRotation(ctx, orgID, unitKey)
	if errors.Is(err, ErrUnitNotFound) {
		return apperr.NotFound("distribution unit not found")
	}
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.RotationReset{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: orgID,
		UnitKey:        unitKey,
		ResetBy:        resetBy,
	})
	return nil
}
