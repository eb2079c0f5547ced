package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/types"
)

// Note: mockDBTX and mockRow are defined in session_repo_test.go.

func userRow(id, email string, role types.UserRole, createdAt time.Time) *mockRow {
	name := "Jamie Broker"
	hash := "$2a$10$hashedvaluehere"
	return &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = id
			*dest[1].(*string) = email
			*dest[2].(**string) = &name
			*dest[3].(**string) = &hash
			*dest[4].(*types.UserRole) = role
			*dest[5].(*time.Time) = createdAt
			return nil
		},
	}
}

// ============================================================
// GetByEmail Tests
// ============================================================

func TestUserRepository_GetByEmail_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(userRow("user_1", "broker@example.com", types.RoleMember, now))

	user, err := repo.GetByEmail(ctx, "broker@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user_1", user.ID)
	assert.Equal(t, "broker@example.com", user.Email)
	assert.Equal(t, "Jamie Broker", user.Name)
	assert.Equal(t, types.RoleMember, user.Role)
	assert.Equal(t, now, user.CreatedAt)
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByEmail(ctx, "nobody@example.com")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

func TestUserRepository_GetByEmail_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.GetByEmail(ctx, "broker@example.com")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

// ============================================================
// GetByID Tests
// ============================================================

func TestUserRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(userRow("user_42", "agent@example.com", types.RoleAdmin, time.Now().UTC()))

	user, err := repo.GetByID(ctx, "user_42")
	require.NoError(t, err)
	assert.Equal(t, "user_42", user.ID)
	assert.Equal(t, types.RoleAdmin, user.Role)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(ctx, "user_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundUser, appErr.Code)
}

// ============================================================
// Create Tests
// ============================================================

func TestUserRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Create(ctx, &types.User{
		ID:           "user_new",
		Email:        "new@example.com",
		PasswordHash: "$2a$10$hash",
		Role:         types.RoleMember,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestUserRepository_Create_ConflictAdoptsExistingRow(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	// Concurrent webhook delivery already created the row; the insert loses
	// and Create re-reads so the caller ends up with the persisted account.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(userRow("user_existing", "dup@example.com", types.RoleMember, time.Now().UTC()))

	user := &types.User{
		ID:    "user_dup",
		Email: "dup@example.com",
		Role:  types.RoleMember,
	}
	err := repo.Create(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "user_existing", user.ID)
	db.AssertExpectations(t)
}

func TestUserRepository_Create_ConflictReReadFailure(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	err := repo.Create(ctx, &types.User{
		ID:    "user_dup",
		Email: "dup@example.com",
		Role:  types.RoleMember,
	})
	require.Error(t, err)
}

func TestUserRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewUserRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	err := repo.Create(ctx, &types.User{
		ID:    "user_new",
		Email: "new@example.com",
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
