package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/ManuelReschke/PixelProPortal/app/models"
	"github.com/ManuelReschke/PixelProPortal/internal/pkg/usercontext"
)

// Claims is the access token issued by the auth service.
type Claims struct {
	Sub   string `json:"sub"`
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// CreateAccessToken signs an HS256 token. The portal only verifies tokens;
// this exists for local tooling and tests.
func CreateAccessToken(secret, sub, role, email string, ttl time.Duration) (string, error) {
	claims := Claims{Sub: sub, Role: role, Email: email, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken validates signature and expiry.
func ParseAccessToken(secret, tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	if c.Sub == "" {
		c.Sub = c.Subject
	}
	if c.Sub == "" {
		return nil, errors.New("token has no subject")
	}
	return c, nil
}

// UserContextMiddleware resolves the bearer token, if any, into the request's
// user context. Requests without a token continue anonymously; an invalid
// token is rejected.
func UserContextMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := extractBearerToken(c)
		if raw == "" {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		claims, err := ParseAccessToken(secret, raw)
		if err != nil {
			log.Warnf("[Auth] Rejected bearer token: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid access token"})
		}

		role := claims.Role
		if role == "" {
			role = models.ROLE_USER
		}
		usercontext.Set(c, usercontext.UserContext{
			UserID:     claims.Sub,
			Email:      claims.Email,
			Role:       role,
			IsLoggedIn: true,
			IsAdmin:    role == models.ROLE_ADMIN,
		})
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
