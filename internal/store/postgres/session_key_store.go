package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/chainstrategy/internal/domain"
)

// SessionKeyStore implements domain.SessionKeyStore using PostgreSQL.
type SessionKeyStore struct {
	pool *pgxpool.Pool
}

// NewSessionKeyStore creates a new SessionKeyStore backed by the given pool.
func NewSessionKeyStore(pool *pgxpool.Pool) *SessionKeyStore {
	return &SessionKeyStore{pool: pool}
}

const sessionKeySelectCols = `id, user_id, public_key, permissions, expires_at, is_active, created_at`

func scanSessionKey(scanner interface{ Scan(dest ...any) error }) (domain.SessionKey, error) {
	var sk domain.SessionKey
	var permsRaw []byte

	err := scanner.Scan(&sk.ID, &sk.UserID, &sk.PublicKey, &permsRaw, &sk.ExpiresAt, &sk.IsActive, &sk.CreatedAt)
	if err != nil {
		return domain.SessionKey{}, err
	}

	if len(permsRaw) > 0 {
		if err := json.Unmarshal(permsRaw, &sk.Permissions); err != nil {
			return domain.SessionKey{}, fmt.Errorf("unmarshal permissions: %w", err)
		}
	}
	return sk, nil
}

// Create inserts a new session key.
func (s *SessionKeyStore) Create(ctx context.Context, sk domain.SessionKey) (domain.SessionKey, error) {
	permsRaw, err := json.Marshal(sk.Permissions)
	if err != nil {
		return domain.SessionKey{}, fmt.Errorf("marshal permissions: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO session_keys (user_id, public_key, permissions, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+sessionKeySelectCols,
		sk.UserID, sk.PublicKey, permsRaw, sk.ExpiresAt, sk.IsActive)

	out, err := scanSessionKey(row)
	if err != nil {
		return domain.SessionKey{}, fmt.Errorf("postgres: create session key: %w", err)
	}
	return out, nil
}

// GetByID retrieves a session key by ID.
func (s *SessionKeyStore) GetByID(ctx context.Context, id int64) (domain.SessionKey, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sessionKeySelectCols+` FROM session_keys WHERE id = $1`, id)
	out, err := scanSessionKey(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SessionKey{}, domain.ErrNotFound
		}
		return domain.SessionKey{}, fmt.Errorf("postgres: get session key %d: %w", id, err)
	}
	return out, nil
}

// Invalidate marks a session key inactive. Revocation is irreversible
// through this store (spec.md §3).
func (s *SessionKeyStore) Invalidate(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE session_keys SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: invalidate session key %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActiveByUser returns all active, unexpired session keys for a user.
func (s *SessionKeyStore) ListActiveByUser(ctx context.Context, userID int64) ([]domain.SessionKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionKeySelectCols+` FROM session_keys
		 WHERE user_id = $1 AND is_active = true
		   AND (expires_at IS NULL OR expires_at > NOW())
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active session keys for user %d: %w", userID, err)
	}
	defer rows.Close()

	var keys []domain.SessionKey
	for rows.Next() {
		sk, err := scanSessionKey(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan session key: %w", err)
		}
		keys = append(keys, sk)
	}
	return keys, rows.Err()
}

// Compile-time interface check.
var _ domain.SessionKeyStore = (*SessionKeyStore)(nil)
