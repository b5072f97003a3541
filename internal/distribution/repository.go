package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUnitNotFound = errors.New("distribution unit not found")

// Repository provides data access for distribution units and their policies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new distribution repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const unitColumns = `id, organization_id, channel, unit_key, enabled, mode, algorithm,
	specific_user_id, eligible_users, rotation_state, created_at, updated_at`

func scanUnit(row pgx.Row) (DistributionUnit, error) {
	var (
		unit         DistributionUnit
		eligibleJSON []byte
		rotationJSON []byte
	)
	err := row.Scan(
		&unit.ID, &unit.OrganizationID, &unit.Channel, &unit.UnitKey,
		&unit.Policy.Enabled, &unit.Policy.Mode, &unit.Policy.Algorithm,
		&unit.Policy.SpecificUserID, &eligibleJSON, &rotationJSON,
		&unit.CreatedAt, &unit.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DistributionUnit{}, ErrUnitNotFound
	}
	if err != nil {
		return DistributionUnit{}, err
	}

	if len(eligibleJSON) > 0 {
		if err := json.Unmarshal(eligibleJSON, &unit.Policy.EligibleUsers); err != nil {
			return DistributionUnit{}, fmt.Errorf("decode eligible users: %w", err)
		}
	}
	if len(rotationJSON) > 0 {
		if err := json.Unmarshal(rotationJSON, &unit.Policy.Rotation); err != nil {
			return DistributionUnit{}, fmt.Errorf("decode rotation state: %w", err)
		}
	}
	return unit, nil
}

// GetByKey returns the unit for an organization and unit key.
func (r *Repository) GetByKey(ctx context.Context, orgID uuid.UUID, unitKey string) (DistributionUnit, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+unitColumns+`
		FROM distribution_units
		WHERE organization_id = $1 AND unit_key = $2
	`, orgID, unitKey)
	return scanUnit(row)
}

// Upsert creates or replaces a unit's policy configuration. Rotation state is
// preserved on update so reconfiguring eligible users does not restart rotation.
func (r *Repository) Upsert(ctx context.Context, unit DistributionUnit) (DistributionUnit, error) {
	eligibleJSON, err := json.Marshal(unit.Policy.EligibleUsers)
	if err != nil {
		return DistributionUnit{}, fmt.Errorf("encode eligible users: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO distribution_units
			(organization_id, channel, unit_key, enabled, mode, algorithm, specific_user_id, eligible_users, rotation_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '{}')
		ON CONFLICT (organization_id, unit_key) DO UPDATE SET
			channel = EXCLUDED.channel,
			enabled = EXCLUDED.enabled,
			mode = EXCLUDED.mode,
			algorithm = EXCLUDED.algorithm,
			specific_user_id = EXCLUDED.specific_user_id,
			eligible_users = EXCLUDED.eligible_users,
			updated_at = now()
		RETURNING `+unitColumns+`
	`, unit.OrganizationID, unit.Channel, unit.UnitKey,
		unit.Policy.Enabled, unit.Policy.Mode, unit.Policy.Algorithm,
		unit.Policy.SpecificUserID, eligibleJSON)
	return scanUnit(row)
}

// WithUnitLock runs fn against the unit row locked FOR UPDATE and persists the
// rotation state fn leaves on the unit. This serializes every read-modify-write
// of rotation state per unit: two concurrent ingestions against the same unit
// cannot both select from the same stale snapshot.
func (r *Repository) WithUnitLock(ctx context.Context, orgID uuid.UUID, unitKey string, fn func(unit *DistributionUnit) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+unitColumns+`
		FROM distribution_units
		WHERE organization_id = $1 AND unit_key = $2
		FOR UPDATE
	`, orgID, unitKey)
	unit, err := scanUnit(row)
	if err != nil {
		return err
	}

	if err := fn(&unit); err != nil {
		return err
	}

	rotationJSON, err := json.Marshal(unit.Policy.Rotation)
	if err != nil {
		return fmt.Errorf("encode rotation state: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE distribution_units
		SET rotation_state = $3, updated_at = now()
		WHERE organization_id = $1 AND unit_key = $2
	`, orgID, unitKey, rotationJSON); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ResetRotation zeroes the rotation state without touching eligible users.
func (r *Repository) ResetRotation(ctx context.Context, orgID uuid.UUID, unitKey string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE distribution_units
		SET rotation_state = '{}', updated_at = now()
		WHERE organization_id = $1 AND unit_key = $2
	`, orgID, unitKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

// ListByOrganization returns all units configured for an organization.
func (r *Repository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]DistributionUnit, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+unitColumns+`
		FROM distribution_units
		WHERE organization_id = $1
		ORDER BY unit_key
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []DistributionUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}
