package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PayloadArchive stores raw capture payloads for audit and replay. Objects
// are keyed by organization and source record so a payload can be located
// from either side.
type PayloadArchive struct {
	store  ObjectStore
	bucket string
}

// NewPayloadArchive creates a payload archive over the given bucket.
func NewPayloadArchive(store ObjectStore, bucket string) *PayloadArchive {
	return &PayloadArchive{store: store, bucket: bucket}
}

// ArchivePayload writes one raw payload. Keys are stable per record, so a
// redelivered payload overwrites rather than duplicates.
func (a *PayloadArchive) ArchivePayload(ctx context.Context, orgID, recordID uuid.UUID, payload []byte) error {
	key := fmt.Sprintf("%s/%s.json", orgID, recordID)
	return a.store.Upload(ctx, a.bucket, key, "application/json",
		bytes.NewReader(payload), int64(len(payload)))
}
