package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pixelbase/pixelbase-backend/internal/repos"
)

func newAuthService(t *testing.T) AuthService {
	t.Helper()
	gdb, log := newTestDB(t)
	return NewAuthService(
		repos.NewUserRepo(gdb, log),
		repos.NewAPIKeyRepo(gdb, log),
		AuthConfig{JWTSecret: "test-secret", AccessTTL: time.Hour},
		log,
	)
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	auth := newAuthService(t)
	ctx := context.Background()

	email := "annotator-" + t.Name() + "@example.com"
	user, err := auth.Register(ctx, email, "hunter2hunter2", "Ada Annotator")
	require.NoError(t, err)
	require.Equal(t, strings.ToLower(email), user.Email)

	token, loggedIn, err := auth.Login(ctx, email, "hunter2hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, user.ID, loggedIn.ID)

	parsed, err := auth.ParseToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, user.ID, parsed.ID)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	auth := newAuthService(t)
	ctx := context.Background()

	email := "wrongpw-" + t.Name() + "@example.com"
	_, err := auth.Register(ctx, email, "hunter2hunter2", "")
	require.NoError(t, err)

	_, _, err = auth.Login(ctx, email, "not-the-password")
	require.Error(t, err)
}

func TestRegisterValidation(t *testing.T) {
	auth := newAuthService(t)
	ctx := context.Background()

	_, err := auth.Register(ctx, "not-an-email", "hunter2hunter2", "")
	require.Error(t, err)

	_, err = auth.Register(ctx, "short-pw@example.com", "short", "")
	require.Error(t, err)
}

func TestAPIKeyLifecycle(t *testing.T) {
	auth := newAuthService(t)
	ctx := context.Background()

	user, err := auth.Register(ctx, "keys-"+t.Name()+"@example.com", "hunter2hunter2", "")
	require.NoError(t, err)

	created, err := auth.CreateAPIKey(ctx, user.ID, "ci")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(created.Secret, "if_"))
	require.Equal(t, created.Secret[:10], created.Key.KeyPrefix)

	authed, err := auth.AuthenticateAPIKey(ctx, created.Secret)
	require.NoError(t, err)
	require.Equal(t, user.ID, authed.ID)

	_, err = auth.AuthenticateAPIKey(ctx, "if_definitely_not_a_real_key")
	require.Error(t, err)

	keys, err := auth.ListAPIKeys(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, auth.DeleteAPIKey(ctx, user.ID, created.Key.ID))
	_, err = auth.AuthenticateAPIKey(ctx, created.Secret)
	require.Error(t, err)
}
