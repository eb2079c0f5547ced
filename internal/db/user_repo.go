package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"brokerdesk/internal/types"
)

// UserRepository provides data access for the users table. Billing treats
// users as immutable input except for the webhook bootstrap path, which
// creates an account when a paid checkout arrives for an unknown e-mail.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// userColumns defines the standard set of columns selected for user queries.
// Used consistently across all query methods to avoid column drift.
const userColumns = `u.id, u.email, u.name, u.password_hash, u.role, u.created_at`

// scanUser scans a single user row into a types.User struct.
// The columns must match the order defined in userColumns.
func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	var (
		name         *string
		passwordHash *string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&name,
		&passwordHash,
		&u.Role,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if name != nil {
		u.Name = *name
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	return &u, nil
}

// GetByID retrieves a user by their internal id.
// Returns ErrCodeNotFoundUser if no user exists.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.id = $1`,
		id,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by their e-mail address.
// Returns ErrCodeNotFoundUser if no user exists; the webhook reconciler uses
// that signal to decide whether account bootstrap applies.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 WHERE u.email = $1`,
		email,
	)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return u, nil
}

// Create inserts a new user row. Used only by the webhook bootstrap path;
// interactive signup is owned by the auth collaborator.
func (r *UserRepository) Create(ctx context.Context, user *types.User) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (email) DO NOTHING`,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.Role,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}

	if tag.RowsAffected() == 0 {
		// Concurrent webhook delivery created the same account first. Adopt
		// the persisted row so the caller continues with the real id rather
		// than the generated one that never landed.
		existing, err := r.GetByEmail(ctx, user.Email)
		if err != nil {
			return err
		}
		*user = *existing
	}

	return nil
}
