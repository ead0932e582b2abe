package service

import (
	"context"
	"testing"

	"github.com/Mupaky/topreach-sub001/internal/auth"
	"github.com/Mupaky/topreach-sub001/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.auth.Signup(ctx, &SignupRequest{Email: " Ana@Example.com ", FullName: "Ana", Password: "long-enough"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, model.RoleUser, user.Role)
	assert.NotEqual(t, "long-enough", user.PasswordHash)

	env.grantPoints(t, user.ID, model.CategoryEditing, 42)

	result, err := env.auth.Login(ctx, "ana@example.com", "long-enough")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, int64(42), result.Identity.Points[model.CategoryEditing])

	identity, err := env.auth.Verify(result.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, model.RoleUser, identity.Role)
}

func TestSignup_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Signup(ctx, &SignupRequest{Email: "a@example.com", FullName: "A", Password: "short"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.auth.Signup(ctx, &SignupRequest{Email: "", FullName: "A", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.auth.Signup(ctx, &SignupRequest{Email: "a@example.com", FullName: "A", Password: "long-enough"})
	require.NoError(t, err)
	_, err = env.auth.Signup(ctx, &SignupRequest{Email: "A@example.com", FullName: "B", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestLogin_WrongCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.Signup(ctx, &SignupRequest{Email: "b@example.com", FullName: "B", Password: "long-enough"})
	require.NoError(t, err)

	_, err = env.auth.Login(ctx, "b@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.auth.Login(ctx, "nobody@example.com", "long-enough")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerify_WrapsSessionErrors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.Verify("garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, auth.ErrSessionInvalid)
}
