// Package auth resolves the caller's user id from a bearer token. Concept
// sets record it as their creator; no authorization decisions are made here.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// Claims accepts the numeric user id either as a "uid" claim or as a numeric
// subject.
type Claims struct {
	jwt.RegisteredClaims
	UID int64 `json:"uid,omitempty"`
}

// UserID extracts the numeric user id from the claims.
func (c *Claims) UserID() (int64, error) {
	if c.UID > 0 {
		return c.UID, nil
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("token subject %q is not a user id", c.Subject)
	}
	return id, nil
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey selects HS256 validation, for development and tests.
	SigningKey []byte
}

// Enabled reports whether any key source is configured.
func (cfg JWTConfig) Enabled() bool {
	return len(cfg.SigningKey) > 0 || cfg.JWKSURL != ""
}

// Validator parses and verifies bearer tokens.
type Validator struct {
	cfg  JWTConfig
	jwks *JWKSCache
	opts []jwt.ParserOption
}

func NewValidator(cfg JWTConfig) *Validator {
	v := &Validator{cfg: cfg}
	if len(cfg.SigningKey) > 0 {
		v.opts = append(v.opts, jwt.WithValidMethods([]string{"HS256"}))
	} else {
		v.opts = append(v.opts, jwt.WithValidMethods([]string{"RS256"}))
		v.jwks = NewJWKSCache(cfg.JWKSURL, defaultJWKSCacheTTL)
	}
	if cfg.Issuer != "" {
		v.opts = append(v.opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		v.opts = append(v.opts, jwt.WithAudience(cfg.Audience))
	}
	return v
}

// Validate verifies tokenStr and returns its claims.
func (v *Validator) Validate(ctx context.Context, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	var keyFunc jwt.Keyfunc
	if v.jwks != nil {
		keyFunc = v.jwks.keyFunc(ctx)
	} else {
		keyFunc = func(*jwt.Token) (interface{}, error) { return v.cfg.SigningKey, nil }
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, keyFunc, v.opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return parts[1], nil
}

func (v *Validator) authenticate(c echo.Context) error {
	tokenStr, err := bearerToken(c)
	if err != nil {
		return err
	}
	claims, err := v.Validate(c.Request().Context(), tokenStr)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token").SetInternal(err)
	}
	uid, err := claims.UserID()
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token").SetInternal(err)
	}
	setUser(c, uid)
	return nil
}

func setUser(c echo.Context, uid int64) {
	c.Set("user_id", uid)
	ctx := context.WithValue(c.Request().Context(), UserIDKey, uid)
	c.SetRequest(c.Request().WithContext(ctx))
}

// JWTMiddleware requires a valid bearer token on every request.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	v := NewValidator(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := v.authenticate(c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated requests through as defaultUserID.
// A bearer token, when present, is still validated if cfg has a key source.
func DevAuthMiddleware(cfg JWTConfig, defaultUserID int64) echo.MiddlewareFunc {
	var v *Validator
	if cfg.Enabled() {
		v = NewValidator(cfg)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" || v == nil {
				setUser(c, defaultUserID)
				return next(c)
			}
			if err := v.authenticate(c); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// UserIDFromContext returns the authenticated user id, or 0.
func UserIDFromContext(ctx context.Context) int64 {
	uid, _ := ctx.Value(UserIDKey).(int64)
	return uid
}
