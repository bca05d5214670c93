package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `id, external_identity_id, email, created_at`

func scanUser(scanner interface{ Scan(dest ...any) error }) (domain.User, error) {
	var u domain.User
	err := scanner.Scan(&u.ID, &u.ExternalIdentityID, &u.Email, &u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Create inserts a new user and returns it with its assigned ID and
// created_at timestamp.
func (s *UserStore) Create(ctx context.Context, u domain.User) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO users (external_identity_id, email) VALUES ($1, $2)
		 RETURNING `+userSelectCols,
		u.ExternalIdentityID, u.Email)

	out, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: create user: %w", err)
	}
	return out, nil
}

// GetByID retrieves a user by ID.
func (s *UserStore) GetByID(ctx context.Context, id int64) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userSelectCols+` FROM users WHERE id = $1`, id)
	out, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %d: %w", id, err)
	}
	return out, nil
}

// GetByExternalIdentityID retrieves a user by its external identity provider ID.
func (s *UserStore) GetByExternalIdentityID(ctx context.Context, externalID string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE external_identity_id = $1`, externalID)
	out, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user by external identity %s: %w", externalID, err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.UserStore = (*UserStore)(nil)
