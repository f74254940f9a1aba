package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelProPortal/internal/pkg/usercontext"
)

const testSecret = "test-secret"

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(UserContextMiddleware(testSecret))
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(usercontext.GetUserContext(c))
	})
	app.Get("/user", RequireAuth, func(c *fiber.Ctx) error { return c.SendString(usercontext.GetUserID(c)) })
	app.Get("/admin", RequireAdmin, func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func request(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestParseAccessToken(t *testing.T) {
	token, err := CreateAccessToken(testSecret, "user-1", "admin", "a@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := ParseAccessToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Sub)
	assert.Equal(t, "admin", claims.Role)

	_, err = ParseAccessToken("other", token)
	assert.Error(t, err)

	expired, err := CreateAccessToken(testSecret, "user-1", "user", "", -time.Minute)
	require.NoError(t, err)
	_, err = ParseAccessToken(testSecret, expired)
	assert.Error(t, err)
}

func TestRouteGuards(t *testing.T) {
	app := newTestApp()
	user, err := CreateAccessToken(testSecret, "user-1", "", "u@example.com", time.Hour)
	require.NoError(t, err)
	admin, err := CreateAccessToken(testSecret, "admin-1", "admin", "a@example.com", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"anonymous whoami", "/whoami", "", fiber.StatusOK},
		{"garbage token", "/whoami", "not-a-jwt", fiber.StatusUnauthorized},
		{"anonymous user route", "/user", "", fiber.StatusUnauthorized},
		{"user route", "/user", user, fiber.StatusOK},
		{"user on admin route", "/admin", user, fiber.StatusForbidden},
		{"admin route", "/admin", admin, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, request(t, app, tt.path, tt.token))
		})
	}
}
