package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RoleKey   contextKey = "role"
)

// RoleAdmin is the only role allowed to control collection jobs.
// Operator accounts are provisioned out of band with their role.
const RoleAdmin = "admin"

// Middleware authenticates the request from its Bearer token and stores
// the operator identity (user ID, role) on the echo context.
func Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := bearerToken(c.Request().Header.Get("Authorization"))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}

		userID, role, err := parseToken(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		c.Set(string(UserIDKey), userID)
		c.Set(string(RoleKey), role)
		return next(c)
	}
}

// RequireAdmin guards the job-control surface. It assumes Middleware ran
// earlier in the chain.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if role, _ := c.Get(string(RoleKey)).(string); role != RoleAdmin {
			return echo.NewHTTPError(http.StatusForbidden, "admin role required")
		}
		return next(c)
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("Authorization header must carry a Bearer token")
	}
	return token, nil
}

func parseToken(raw string) (uuid.UUID, string, error) {
	secret, err := jwtSecretFromEnv()
	if err != nil {
		return uuid.Nil, "", err
	}

	var claims operatorClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, "", errors.New("token rejected")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("malformed token subject: %w", err)
	}
	return userID, claims.Role, nil
}

// OperatorID returns the authenticated operator's ID set by Middleware.
func OperatorID(c echo.Context) (uuid.UUID, error) {
	id, ok := c.Get(string(UserIDKey)).(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("no authenticated operator on context")
	}
	return id, nil
}
