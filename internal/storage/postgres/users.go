package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User is a local cache row mirroring an identity-provider account,
// keyed by the IdP subject. The admin API client does not read or
// write this table.
type User struct {
	ID        string
	Subject   string // IdP "sub" claim
	Username  string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRepository is the pgx-backed local user cache.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository constructs a UserRepository over pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id, subject, username, email, name, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Subject, &u.Username, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetBySubject retrieves a cached user by IdP subject.
func (r *UserRepository) GetBySubject(ctx context.Context, subject string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM idp_users WHERE subject = $1`, subject)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user by subject: %w", err)
	}
	return u, nil
}

// Upsert inserts or refreshes the cached row for an IdP account.
func (r *UserRepository) Upsert(ctx context.Context, u *User) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO idp_users (subject, username, email, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject) DO UPDATE SET
			username = excluded.username,
			email = excluded.email,
			name = excluded.name,
			updated_at = now()
		RETURNING id, created_at, updated_at`,
		u.Subject, u.Username, u.Email, u.Name,
	)
	if err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: upsert user: %w", err)
	}
	return nil
}

// Delete removes a cached user row, e.g. after an admin-API deletion.
func (r *UserRepository) Delete(ctx context.Context, subject string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM idp_users WHERE subject = $1`, subject)
	if err != nil {
		return fmt.Errorf("postgres: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
