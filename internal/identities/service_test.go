package identities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/birzha-dev/birzha/pkg/models"
)

func newTestService(t *testing.T) IdentityService {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	svc, err := NewService(zap.NewNop(), db, "test-secret", 1)
	require.NoError(t, err)
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.NotEqual(t, user.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.NotEqual(t, "correct-horse", user.PasswordHash)

	// Duplicate username is rejected
	_, err = svc.Register(ctx, &models.RegisterRequest{
		Username: "alice",
		Email:    "other@example.com",
		Password: "whatever1",
	})
	assert.Error(t, err)

	// Login works by username and by email
	for _, login := range []string{"alice", "alice@example.com"} {
		resp, err := svc.Login(ctx, &models.LoginRequest{Login: login, Password: "correct-horse"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Token)
		assert.Equal(t, user.ID, resp.User.ID)
	}

	_, err = svc.Login(ctx, &models.LoginRequest{Login: "alice", Password: "wrong"})
	assert.Error(t, err)
}

func TestTokenRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "hunter22hunter22",
	})
	require.NoError(t, err)

	resp, err := svc.Login(ctx, &models.LoginRequest{Login: "bob", Password: "hunter22hunter22"})
	require.NoError(t, err)

	got, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got)

	_, err = svc.ValidateToken("not-a-jwt")
	assert.Error(t, err)

	// Tokens signed with a different secret do not validate
	other, err := NewService(zap.NewNop(), nil, "other-secret", 1)
	require.NoError(t, err)
	_, err = other.ValidateToken(resp.Token)
	assert.Error(t, err)
}

func TestUpdateUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "dave",
		Email:    "dave@example.com",
		Password: "first-password",
	})
	require.NoError(t, err)
	_, err = svc.Register(ctx, &models.RegisterRequest{
		Username: "erin",
		Email:    "erin@example.com",
		Password: "erin-password",
	})
	require.NoError(t, err)

	// Taking another user's name is rejected
	taken := "erin"
	_, err = svc.UpdateUser(ctx, user.ID, &models.UpdateUserRequest{Username: &taken})
	assert.Error(t, err)

	// Username and password change together; the password is re-hashed
	name := "david"
	password := "second-password"
	updated, err := svc.UpdateUser(ctx, user.ID, &models.UpdateUserRequest{
		Username: &name,
		Password: &password,
	})
	require.NoError(t, err)
	assert.Equal(t, "david", updated.Username)
	assert.Equal(t, "dave@example.com", updated.Email)
	assert.NotEqual(t, password, updated.PasswordHash)

	_, err = svc.Login(ctx, &models.LoginRequest{Login: "david", Password: "second-password"})
	require.NoError(t, err)
	_, err = svc.Login(ctx, &models.LoginRequest{Login: "david", Password: "first-password"})
	assert.Error(t, err)
}

func TestDeleteUser(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "frank",
		Email:    "frank@example.com",
		Password: "frank-password",
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, user.ID))
	_, err = svc.GetUser(ctx, user.ID)
	assert.Error(t, err)
	assert.Error(t, svc.DeleteUser(ctx, user.ID))
}

func TestIsAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "carol",
		Email:    "carol@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	isAdmin, err := svc.IsAdmin(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin)
}
