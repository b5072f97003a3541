// Package sources provides the lead source bounded context: one record per
// ingested lead, and the duplicate-link graph connecting records that share
// an identity within an organization.
package sources

import (
	"time"

	"github.com/google/uuid"
)

// LeadSourceRecord is created once per ingested lead, after the external lead
// exists. It is immutable except for the duplicate-linking fields and the
// processed flag.
type LeadSourceRecord struct {
	ID             uuid.UUID
	LeadID         uuid.UUID
	OrganizationID uuid.UUID
	Source         string
	UnitKey        string
	SourceDetails  map[string]any
	Name           string
	Email          string
	Phone          string
	CustomFields   map[string]any

	// IsDuplicate is true for every record in a cluster of two or more,
	// including the first record once a later match arrives.
	IsDuplicate bool
	// DuplicateOf points at the earliest record of the cluster; nil on the
	// first record even after its DuplicateIDs becomes non-empty.
	DuplicateOf *uuid.UUID
	// DuplicateIDs holds every other record in the same cluster. The graph
	// invariant is symmetry: B ∈ A.DuplicateIDs iff A ∈ B.DuplicateIDs.
	DuplicateIDs []uuid.UUID

	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

// HasIdentity reports whether the record carries at least one matchable
// identity field.
func (r LeadSourceRecord) HasIdentity() bool {
	return r.Email != "" || r.Phone != ""
}

// ClusterRoot returns the record id that anchors this record's cluster:
// its DuplicateOf when linked, otherwise itself.
func (r LeadSourceRecord) ClusterRoot() uuid.UUID {
	if r.DuplicateOf != nil {
		return *r.DuplicateOf
	}
	return r.ID
}
