package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- SessionRepository Tests ---

func TestSessionRepository_ResolveToken_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_1"
			*dest[1].(*string) = "broker@example.com"
			*dest[2].(*types.UserRole) = types.RoleAdmin
			*dest[3].(*bool) = false
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	actor, err := repo.ResolveToken(ctx, "raw_token_value")
	require.NoError(t, err)
	assert.Equal(t, "user_1", actor.UserID)
	assert.Equal(t, "broker@example.com", actor.Email)
	assert.Equal(t, types.RoleAdmin, actor.Role)
}

func TestSessionRepository_ResolveToken_HashesToken(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	sum := sha256.Sum256([]byte("raw_token_value"))
	wantHash := hex.EncodeToString(sum[:])

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_1"
			*dest[1].(*string) = "broker@example.com"
			*dest[2].(*types.UserRole) = types.RoleMember
			*dest[3].(*bool) = false
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{wantHash}).Return(row)

	_, err := repo.ResolveToken(ctx, "raw_token_value")
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestSessionRepository_ResolveToken_EmptyToken(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)

	_, err := repo.ResolveToken(context.Background(), "")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenMissing, appErr.Code)
}

func TestSessionRepository_ResolveToken_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.ResolveToken(ctx, "unknown_token")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestSessionRepository_ResolveToken_Expired(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "user_1"
			*dest[1].(*string) = "broker@example.com"
			*dest[2].(*types.UserRole) = types.RoleMember
			*dest[3].(*bool) = true
			return nil
		},
	}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.ResolveToken(ctx, "stale_token")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenExpired, appErr.Code)
}

func TestSessionRepository_ResolveToken_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection refused")})

	_, err := repo.ResolveToken(ctx, "some_token")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
