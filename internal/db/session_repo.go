package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/jackc/pgx/v5"

	"brokerdesk/internal/types"
)

// SessionRepository resolves opaque session tokens to Actors. Tokens are
// stored hashed; the raw token never touches the database. The role is read
// live from the users row on every request so a role change takes effect
// immediately.
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a session repository backed by the given
// database connection.
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

// ResolveToken validates the bearer token and returns the Actor it
// represents. Implements the core.Authenticator contract.
func (r *SessionRepository) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "empty session token", nil)
	}

	hash := hashSessionToken(token)

	var (
		actor     types.Actor
		isExpired bool
	)
	err := r.db.QueryRow(ctx,
		`SELECT u.id, u.email, u.role, s.expires_at < NOW()
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.token_hash = $1`,
		hash,
	).Scan(&actor.UserID, &actor.Email, &actor.Role, &isExpired)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session token not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve session token", err)
	}

	if isExpired {
		return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "session has expired", nil)
	}

	return &actor, nil
}

// hashSessionToken returns the hex SHA-256 digest used as the storage key.
func hashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
