// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"leadhub_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Capture Domain Events
// =============================================================================

// LeadCaptured is published after a lead has been durably persisted.
type LeadCaptured struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	SourceRecordID uuid.UUID `json:"sourceRecordId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	UnitKey        string    `json:"unitKey"`
	Source         string    `json:"source"`
	Name           string    `json:"name,omitempty"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	IsDuplicate    bool      `json:"isDuplicate"`
}

func (e LeadCaptured) EventName() string { return "capture.lead.captured" }

// DuplicateLinked is published when a new record was linked into an
// existing duplicate cluster.
type DuplicateLinked struct {
	BaseEvent
	SourceRecordID uuid.UUID   `json:"sourceRecordId"`
	OrganizationID uuid.UUID   `json:"organizationId"`
	DuplicateOf    uuid.UUID   `json:"duplicateOf"`
	LinkedRecords  []uuid.UUID `json:"linkedRecords"`
}

func (e DuplicateLinked) EventName() string { return "sources.duplicate.linked" }

// =============================================================================
// Distribution Domain Events
// =============================================================================

// LeadAssigned is published when a lead is routed to a sales agent.
type LeadAssigned struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	UnitKey        string    `json:"unitKey"`
	AssigneeID     uuid.UUID `json:"assigneeId"`
	Algorithm      string    `json:"algorithm"`
	LeadSummary    string    `json:"leadSummary"`
}

func (e LeadAssigned) EventName() string { return "distribution.lead.assigned" }

// RotationReset is published when an administrator zeroes a unit's
// rotation state.
type RotationReset struct {
	BaseEvent
	OrganizationID uuid.UUID `json:"organizationId"`
	UnitKey        string    `json:"unitKey"`
	ResetBy        uuid.UUID `json:"resetBy"`
}

func (e RotationReset) EventName() string { return "distribution.rotation.reset" }
