package capture

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

var ErrAPIKeyNotFound = errors.New("capture API key not found")

// APIKey authenticates a channel adapter posting leads for an organization.
// The plaintext secret is shown once at creation; only a bcrypt hash is kept.
type APIKey struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	KeyID          string
	SecretHash     string
	AllowedDomains []string
	IsActive       bool
	LastUsedAt     *time.Time
	CreatedAt      time.Time
}

// GenerateAPIKey creates a new key pair. The plaintext has the form
// "cap_<keyId>.<secret>"; the key id is public and used for lookup, the
// secret is verified against its bcrypt hash.
func GenerateAPIKey() (plaintext, keyID, secretHash string, err error) {
	idBytes := make([]byte, 8)
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", "", err
	}
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", "", err
	}

	keyID = "cap_" + hex.EncodeToString(idBytes)
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return keyID + "." + secret, keyID, string(hash), nil
}

// SplitAPIKey separates a presented plaintext key into its public key id and
// secret parts.
func SplitAPIKey(plaintext string) (keyID, secret string, ok bool) {
	keyID, secret, ok = strings.Cut(plaintext, ".")
	if !ok || !strings.HasPrefix(keyID, "cap_") || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}

// VerifySecret compares a presented secret against the stored hash.
func (k APIKey) VerifySecret(secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(secret)) == nil
}

// APIKeyRepository provides data access for capture API keys.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

const apiKeyColumns = `id, organization_id, name, key_id, secret_hash, allowed_domains,
	is_active, last_used_at, created_at`

func scanAPIKey(row pgx.Row) (APIKey, error) {
	var key APIKey
	err := row.Scan(
		&key.ID, &key.OrganizationID, &key.Name, &key.KeyID, &key.SecretHash,
		&key.AllowedDomains, &key.IsActive, &key.LastUsedAt, &key.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("scan api key: %w", err)
	}
	return key, nil
}

// normalizeDomains coalesces a nil domain list to an empty one. The field is
// optional on the admin request, and pgx binds a nil slice as SQL NULL, which
// the NOT NULL allowed_domains column rejects.
func normalizeDomains(domains []string) []string {
	if domains == nil {
		return []string{}
	}
	return domains
}

// Create stores a new API key record.
func (r *APIKeyRepository) Create(ctx context.Context, orgID uuid.UUID, name, keyID, secretHash string, allowedDomains []string) (APIKey, error) {
	allowedDomains = normalizeDomains(allowedDomains)
	row := r.pool.QueryRow(ctx, `
		INSERT INTO capture_api_keys (organization_id, name, key_id, secret_hash, allowed_domains)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+apiKeyColumns+`
	`, orgID, name, keyID, secretHash, allowedDomains)
	return scanAPIKey(row)
}

// GetByKeyID retrieves an active key by its public key id.
func (r *APIKeyRepository) GetByKeyID(ctx context.Context, keyID string) (APIKey, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+apiKeyColumns+`
		FROM capture_api_keys
		WHERE key_id = $1 AND is_active = true
	`, keyID)
	return scanAPIKey(row)
}

// ListByOrganization returns all keys for an organization, newest first.
func (r *APIKeyRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apiKeyColumns+`
		FROM capture_api_keys
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Revoke deactivates a key within its organization.
func (r *APIKeyRepository) Revoke(ctx context.Context, orgID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE capture_api_keys SET is_active = false
		WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// TouchLastUsed records key usage. Best-effort; callers ignore the error.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE capture_api_keys SET last_used_at = now() WHERE id = $1
	`, id)
	return err
}
