package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/types"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("postgres: not found")

// ApiKeyRepository is the pgx-backed ports.ApiKeyRepository.
type ApiKeyRepository struct {
	pool *pgxpool.Pool
}

// NewApiKeyRepository constructs an ApiKeyRepository over pool.
func NewApiKeyRepository(pool *pgxpool.Pool) *ApiKeyRepository {
	return &ApiKeyRepository{pool: pool}
}

const apiKeyColumns = `id, name, user_id, key_hash, key_identifier, key_preview,
	scopes, permissions, is_active, expires_at, last_used_at, usage_count,
	created_at, updated_at, revoked_at, revoked_by, metadata`

func scanApiKey(row pgx.Row) (*types.ApiKey, error) {
	var k types.ApiKey
	var metadata []byte
	err := row.Scan(
		&k.ID, &k.Name, &k.UserID, &k.KeyHash, &k.KeyIdentifier, &k.KeyPreview,
		&k.Scopes, &k.Permissions, &k.IsActive, &k.ExpiresAt, &k.LastUsedAt, &k.UsageCount,
		&k.CreatedAt, &k.UpdatedAt, &k.RevokedAt, &k.RevokedBy, &metadata,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &k.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal metadata: %w", err)
		}
	}
	return &k, nil
}

// Create implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) Create(ctx context.Context, key *types.ApiKey) error {
	metadata, err := json.Marshal(key.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal metadata: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (name, user_id, key_hash, key_identifier, key_preview,
			scopes, permissions, is_active, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, $9)
		RETURNING id, created_at, updated_at`,
		key.Name, key.UserID, key.KeyHash, key.KeyIdentifier, key.KeyPreview,
		key.Scopes, key.Permissions, key.ExpiresAt, metadata,
	)
	if err := row.Scan(&key.ID, &key.CreatedAt, &key.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: create api key: %w", err)
	}
	key.IsActive = true
	return nil
}

// GetByID implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) GetByID(ctx context.Context, id string) (*types.ApiKey, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, id)
	key, err := scanApiKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get api key by id: %w", err)
	}
	return key, nil
}

// FindByKeyIdentifier implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) FindByKeyIdentifier(ctx context.Context, identifier string) (*types.ApiKey, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_identifier = $1`, identifier)
	key, err := scanApiKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find by key identifier: %w", err)
	}
	return key, nil
}

func (r *ApiKeyRepository) findByUser(ctx context.Context, userID string, activeOnly bool) ([]*types.ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1`
	if activeOnly {
		query += ` AND is_active = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: find by user: %w", err)
	}
	defer rows.Close()

	var keys []*types.ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// FindByUser implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) FindByUser(ctx context.Context, userID string) ([]*types.ApiKey, error) {
	return r.findByUser(ctx, userID, false)
}

// FindActiveByUser implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) FindActiveByUser(ctx context.Context, userID string) ([]*types.ApiKey, error) {
	return r.findByUser(ctx, userID, true)
}

// IncrementUsageCount implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) IncrementUsageCount(ctx context.Context, id string, by int64, lastUsedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET usage_count = usage_count + $2, last_used_at = $3, updated_at = now()
		WHERE id = $1`, id, by, lastUsedAt)
	if err != nil {
		return fmt.Errorf("postgres: increment usage count: %w", err)
	}
	return nil
}

// BatchIncrementUsageCount implements ports.ApiKeyRepository, applying
// all deltas inside one transaction so a partial flush never leaves
// counts self-inconsistent.
func (r *ApiKeyRepository) BatchIncrementUsageCount(ctx context.Context, deltas map[string]int64, lastUsedAt time.Time) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: batch increment: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for id, by := range deltas {
		batch.Queue(`UPDATE api_keys SET usage_count = usage_count + $2, last_used_at = $3, updated_at = now() WHERE id = $1`,
			id, by, lastUsedAt)
	}

	br := tx.SendBatch(ctx, batch)
	for range deltas {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("postgres: batch increment: exec: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: batch increment: close: %w", err)
	}

	return tx.Commit(ctx)
}

// RevokeByID implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) RevokeByID(ctx context.Context, id, revokedBy string, metadata map[string]any) error {
	blob, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal revoke metadata: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET is_active = false, revoked_at = now(), revoked_by = $2,
			metadata = metadata || $3::jsonb, updated_at = now()
		WHERE id = $1 AND is_active = true`, id, revokedBy, blob)
	if err != nil {
		return fmt.Errorf("postgres: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastUsed implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: update last used: %w", err)
	}
	return nil
}

// GetApiKeyStats implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) GetApiKeyStats(ctx context.Context, userID string) (map[string]any, error) {
	var total, active int64
	var usage int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE is_active), coalesce(sum(usage_count), 0)
		FROM api_keys WHERE user_id = $1`, userID).Scan(&total, &active, &usage)
	if err != nil {
		return nil, fmt.Errorf("postgres: api key stats: %w", err)
	}
	return map[string]any{"total": total, "active": active, "usage_count": usage}, nil
}

// GetUsageAnalyticsSummary implements ports.ApiKeyRepository, reading
// the same rolled-up counters the monitoring subsystem's batched
// flush writes (see Open Question 3 in DESIGN.md: this value is never
// independently re-derived).
func (r *ApiKeyRepository) GetUsageAnalyticsSummary(ctx context.Context) (map[string]any, error) {
	var total, active int64
	var usage int64
	err := r.pool.QueryRow(ctx, `
		SELECT count(*), count(*) FILTER (WHERE is_active), coalesce(sum(usage_count), 0)
		FROM api_keys`).Scan(&total, &active, &usage)
	if err != nil {
		return nil, fmt.Errorf("postgres: usage analytics summary: %w", err)
	}
	return map[string]any{"total_keys": total, "active_keys": active, "total_usage": usage}, nil
}

func (r *ApiKeyRepository) topByUsage(ctx context.Context, limit int, ascending bool) ([]*types.ApiKey, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY usage_count `+order+` LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top by usage: %w", err)
	}
	defer rows.Close()

	var keys []*types.ApiKey
	for rows.Next() {
		key, err := scanApiKey(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetMostUsedKeys implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) GetMostUsedKeys(ctx context.Context, limit int) ([]*types.ApiKey, error) {
	return r.topByUsage(ctx, limit, false)
}

// GetLeastUsedKeys implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) GetLeastUsedKeys(ctx context.Context, limit int) ([]*types.ApiKey, error) {
	return r.topByUsage(ctx, limit, true)
}

// Count implements ports.ApiKeyRepository.
func (r *ApiKeyRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM api_keys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

var _ ports.ApiKeyRepository = (*ApiKeyRepository)(nil)
