package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/relay/src/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestIssueAndValidateToken(t *testing.T) {
	token, err := auth.IssueToken(secret, "alice", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestValidateTokenFailures(t *testing.T) {
	expired, err := auth.IssueToken(secret, "alice", auth.RoleAdmin, -time.Second)
	require.NoError(t, err)
	_, err = auth.ValidateToken(secret, expired)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	other, err := auth.IssueToken("secret-b", "alice", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateToken(secret, other)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = auth.ValidateToken(secret, "not-a-jwt")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = auth.ValidateToken(secret, "")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestIssueTokenNeedsSecret(t *testing.T) {
	_, err := auth.IssueToken("", "alice", auth.RoleAdmin, time.Hour)
	assert.Error(t, err)
}

func TestRequireRole(t *testing.T) {
	viewer, err := auth.IssueToken(secret, "bob", "viewer", time.Hour)
	require.NoError(t, err)

	claims, err := auth.RequireRole(secret, viewer, auth.RoleAdmin)
	assert.ErrorIs(t, err, auth.ErrForbidden)
	require.NotNil(t, claims)
	assert.Equal(t, "bob", claims.Subject)
}

func TestPassword(t *testing.T) {
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, auth.CheckPassword(hash, "hunter2"))
	assert.False(t, auth.CheckPassword(hash, "hunter3"))
	assert.False(t, auth.CheckPassword("", "hunter2"))
}

func newApp() *fiber.App {
	app := fiber.New()
	app.Get("/admin/ping", auth.Middleware(secret, auth.RoleAdmin), func(c fiber.Ctx) error {
		return c.SendString(auth.Username(c))
	})
	return app
}

func doGet(t *testing.T, app *fiber.App, header string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestMiddleware(t *testing.T) {
	app := newApp()

	resp := doGet(t, app, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doGet(t, app, "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	viewer, _ := auth.IssueToken(secret, "bob", "viewer", time.Hour)
	resp = doGet(t, app, "Bearer "+viewer)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin, _ := auth.IssueToken(secret, "alice", auth.RoleAdmin, time.Hour)
	resp = doGet(t, app, "Bearer "+admin)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
