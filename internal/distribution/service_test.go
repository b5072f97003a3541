package distribution

import (
	"context"
	"sync"
	"testing"

	"leadhub_backend/internal/events"
	"leadhub_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore keeps units in memory and serializes WithUnitLock with a mutex,
// mirroring the row lock the real repository takes.
type fakeStore struct {
	mu    sync.Mutex
	units map[string]DistributionUnit
}

func newFakeStore(units ...DistributionUnit) *fakeStore {
	s := &fakeStore{units: make(map[string]DistributionUnit)}
	for _, u := range units {
		s.units[u.OrganizationID.String()+"/"+u.UnitKey] = u
	}
	return s
}

func (s *fakeStore) key(orgID uuid.UUID, unitKey string) string {
	return orgID.String() + "/" + unitKey
}

func (s *fakeStore) GetByKey(_ context.Context, orgID uuid.UUID, unitKey string) (DistributionUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.units[s.key(orgID, unitKey)]
	if !ok {
		return DistributionUnit{}, ErrUnitNotFound
	}
	return unit, nil
}

func (s *fakeStore) Upsert(_ context.Context, unit DistributionUnit) (DistributionUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.units[s.key(unit.OrganizationID, unit.UnitKey)]
	if ok {
		unit.Policy.Rotation = existing.Policy.Rotation
	}
	s.units[s.key(unit.OrganizationID, unit.UnitKey)] = unit
	return unit, nil
}

func (s *fakeStore) WithUnitLock(_ context.Context, orgID uuid.UUID, unitKey string, fn func(unit *DistributionUnit) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.units[s.key(orgID, unitKey)]
	if !ok {
		return ErrUnitNotFound
	}
	if err := fn(&unit); err != nil {
		return err
	}
	s.units[s.key(orgID, unitKey)] = unit
	return nil
}

func (s *fakeStore) ResetRotation(_ context.Context, orgID uuid.UUID, unitKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	unit, ok := s.units[s.key(orgID, unitKey)]
	if !ok {
		return ErrUnitNotFound
	}
	unit.Policy.Rotation = RotationState{}
	s.units[s.key(orgID, unitKey)] = unit
	return nil
}

func (s *fakeStore) ListByOrganization(_ context.Context, orgID uuid.UUID) ([]DistributionUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DistributionUnit
	for _, u := range s.units {
		if u.OrganizationID == orgID {
			out = append(out, u)
		}
	}
	return out, nil
}

func newTestService(store Store) *Service {
	log := logger.New("development")
	return NewService(store, events.NewInMemoryBus(log), log)
}

func autoUnit(orgID uuid.UUID, unitKey string, alg Algorithm, users ...EligibleUser) DistributionUnit {
	return DistributionUnit{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Channel:        "webform",
		UnitKey:        unitKey,
		Policy: AssignmentPolicy{
			Enabled:       true,
			Mode:          ModeAuto,
			Algorithm:     alg,
			EligibleUsers: users,
		},
	}
}

func TestAssign_PolicyNotFound_IsNonFatal(t *testing.T) {
	svc := newTestService(newFakeStore())

	result, err := svc.Assign(context.Background(), uuid.New(), "missing-unit")
	if err != nil {
		t.Fatalf("missing policy must not be an error, got %v", err)
	}
	if result.Assigned {
		t.Fatal("missing policy must not assign")
	}
	if result.Reason != ReasonPolicyNotFound {
		t.Fatalf("expected reason %q, got %q", ReasonPolicyNotFound, result.Reason)
	}
}

func TestAssign_DisabledAndManual_SkipAssignment(t *testing.T) {
	orgID := uuid.New()
	disabled := autoUnit(orgID, "disabled", AlgorithmRoundRobin, activeUser(uuid.New(), 1))
	disabled.Policy.Enabled = false
	manual := autoUnit(orgID, "manual", AlgorithmRoundRobin, activeUser(uuid.New(), 1))
	manual.Policy.Mode = ModeManual

	svc := newTestService(newFakeStore(disabled, manual))

	result, err := svc.Assign(context.Background(), orgID, "disabled")
	if err != nil || result.Assigned || result.Reason != ReasonPolicyDisabled {
		t.Fatalf("disabled unit: got assigned=%v reason=%q err=%v", result.Assigned, result.Reason, err)
	}

	result, err = svc.Assign(context.Background(), orgID, "manual")
	if err != nil || result.Assigned || result.Reason != ReasonManualMode {
		t.Fatalf("manual unit: got assigned=%v reason=%q err=%v", result.Assigned, result.Reason, err)
	}
}

func TestAssign_NoEligibleUsers_IsNonFatal(t *testing.T) {
	orgID := uuid.New()
	unit := autoUnit(orgID, "empty", AlgorithmRoundRobin)
	svc := newTestService(newFakeStore(unit))

	result, err := svc.Assign(context.Background(), orgID, "empty")
	if err != nil {
		t.Fatalf("empty eligible set must not be an error, got %v", err)
	}
	if result.Assigned || result.Reason != ReasonNoEligibleUsers {
		t.Fatalf("expected unassigned with reason %q, got assigned=%v reason=%q",
			ReasonNoEligibleUsers, result.Assigned, result.Reason)
	}
}

func TestAssign_SpecificMode_BypassesSelectorAndRotation(t *testing.T) {
	orgID := uuid.New()
	target := uuid.New()
	unit := autoUnit(orgID, "specific", AlgorithmRoundRobin,
		activeUser(uuid.New(), 1), activeUser(uuid.New(), 1))
	unit.Policy.Mode = ModeSpecific
	unit.Policy.SpecificUserID = &target

	store := newFakeStore(unit)
	svc := newTestService(store)

	for i := 0; i < 4; i++ {
		result, err := svc.Assign(context.Background(), orgID, "specific")
		if err != nil {
			t.Fatalf("assign failed: %v", err)
		}
		if !result.Assigned || *result.AssigneeID != target {
			t.Fatalf("specific mode must always pick the configured user")
		}
	}

	stored, _ := store.GetByKey(context.Background(), orgID, "specific")
	if stored.Policy.Rotation.LastAssignedAt != nil {
		t.Fatal("specific mode must not touch rotation state")
	}
}

func TestAssign_AdvancesRotationState(t *testing.T) {
	orgID := uuid.New()
	a, b := uuid.New(), uuid.New()
	unit := autoUnit(orgID, "form-1", AlgorithmRoundRobin, activeUser(a, 1), activeUser(b, 1))
	store := newFakeStore(unit)
	svc := newTestService(store)

	first, err := svc.Assign(context.Background(), orgID, "form-1")
	if err != nil || !first.Assigned {
		t.Fatalf("expected assignment, got %+v err=%v", first, err)
	}
	second, err := svc.Assign(context.Background(), orgID, "form-1")
	if err != nil || !second.Assigned {
		t.Fatalf("expected assignment, got %+v err=%v", second, err)
	}

	if *first.AssigneeID == *second.AssigneeID {
		t.Fatal("round robin must alternate between the two users")
	}

	stored, _ := store.GetByKey(context.Background(), orgID, "form-1")
	if stored.Policy.Rotation.LastAssignedUserID == nil {
		t.Fatal("rotation state must be persisted")
	}
}

func TestAssign_ConcurrentBurst_RemainsFair(t *testing.T) {
	orgID := uuid.New()
	users := []EligibleUser{
		activeUser(uuid.New(), 1),
		activeUser(uuid.New(), 1),
		activeUser(uuid.New(), 1),
	}
	unit := autoUnit(orgID, "burst", AlgorithmRoundRobin, users...)
	store := newFakeStore(unit)
	svc := newTestService(store)

	const leads = 90
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = make(map[uuid.UUID]int)
	)
	for i := 0; i < leads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Assign(context.Background(), orgID, "burst")
			if err != nil || !result.Assigned {
				t.Errorf("assign failed: %+v err=%v", result, err)
				return
			}
			mu.Lock()
			counts[*result.AssigneeID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// With per-unit serialization, a burst of 90 over 3 users is exactly fair.
	for _, u := range users {
		if counts[u.UserID] != leads/len(users) {
			t.Fatalf("expected %d assignments per user, got %v", leads/len(users), counts)
		}
	}
}

func TestPreview_DoesNotMutateState(t *testing.T) {
	orgID := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	unit := autoUnit(orgID, "form-1", AlgorithmRoundRobin,
		activeUser(a, 1), activeUser(b, 1), activeUser(c, 1))
	store := newFakeStore(unit)
	svc := newTestService(store)

	preview1, err := svc.Preview(context.Background(), orgID, "form-1")
	if err != nil || !preview1.Assigned {
		t.Fatalf("preview failed: %+v err=%v", preview1, err)
	}
	preview2, _ := svc.Preview(context.Background(), orgID, "form-1")
	if *preview1.AssigneeID != *preview2.AssigneeID {
		t.Fatal("repeated preview must return the same assignee")
	}

	// The real assignment must match what preview promised.
	assigned, _ := svc.Assign(context.Background(), orgID, "form-1")
	if *assigned.AssigneeID != *preview1.AssigneeID {
		t.Fatal("assignment must match the preview")
	}
}

func TestUpdatePolicy_RejectsInvalidConfiguration(t *testing.T) {
	svc := newTestService(newFakeStore())
	orgID := uuid.New()

	badAlg := autoUnit(orgID, "u", AlgorithmRoundRobin, activeUser(uuid.New(), 1))
	badAlg.Policy.Algorithm = Algorithm("fibonacci")
	if _, err := svc.UpdatePolicy(context.Background(), badAlg); err == nil {
		t.Fatal("invalid algorithm must be rejected at configuration time")
	}

	badWeight := autoUnit(orgID, "u", AlgorithmWeightedRoundRobin, EligibleUser{UserID: uuid.New(), Weight: 11, IsActive: true})
	if _, err := svc.UpdatePolicy(context.Background(), badWeight); err == nil {
		t.Fatal("out-of-range weight must be rejected at configuration time")
	}

	noTarget := autoUnit(orgID, "u", AlgorithmRoundRobin, activeUser(uuid.New(), 1))
	noTarget.Policy.Mode = ModeSpecific
	if _, err := svc.UpdatePolicy(context.Background(), noTarget); err == nil {
		t.Fatal("specific mode without a target user must be rejected")
	}
}

func TestResetRotation_ZeroesStateKeepsUsers(t *testing.T) {
	orgID := uuid.New()
	a, b := uuid.New(), uuid.New()
	unit := autoUnit(orgID, "form-1", AlgorithmRoundRobin, activeUser(a, 1), activeUser(b, 1))
	store := newFakeStore(unit)
	svc := newTestService(store)

	if _, err := svc.Assign(context.Background(), orgID, "form-1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := svc.ResetRotation(context.Background(), orgID, "form-1", uuid.New()); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	stored, _ := store.GetByKey(context.Background(), orgID, "form-1")
	if stored.Policy.Rotation.LastAssignedAt != nil || stored.Policy.Rotation.LastAssignedIndex != 0 {
		t.Fatal("rotation state must be zeroed")
	}
	if len(stored.Policy.EligibleUsers) != 2 {
		t.Fatal("eligible users must survive a rotation reset")
	}

	// After reset the rotation starts from the head again.
	next, _ := svc.Assign(context.Background(), orgID, "form-1")
	if *next.AssigneeID != a {
		t.Fatal("post-reset assignment must start at the first eligible user")
	}
}
