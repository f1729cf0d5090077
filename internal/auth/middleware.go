// Package auth authenticates API callers with HMAC-signed bearer tokens. The
// token subject is the applicant the request acts for.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const applicantIDKey contextKey = "authApplicantID"

var validMethods = []string{"HS256", "HS384", "HS512"}

// Config holds the token verification settings. Audience and Issuer are
// enforced only when set.
type Config struct {
	Secret   string
	Audience string
	Issuer   string
	Leeway   time.Duration
}

// ApplicantID retrieves the authenticated subject from context.
func ApplicantID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(applicantIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// WithApplicantID returns a copy of ctx carrying applicantID.
func WithApplicantID(ctx context.Context, applicantID string) context.Context {
	return context.WithValue(ctx, applicantIDKey, applicantID)
}

// JWTMiddleware validates bearer tokens and injects the applicant identity.
func JWTMiddleware(cfg Config) gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(cfg.Secret))
	parser := jwt.NewParser(parserOptions(cfg)...)

	return func(c *gin.Context) {
		if len(secret) == 0 {
			unauthorized(c, "missing JWT secret")
			return
		}

		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			unauthorized(c, "invalid audience")
			return
		case errors.Is(err, jwt.ErrTokenExpired):
			unauthorized(c, "token expired")
			return
		case err != nil || !token.Valid:
			unauthorized(c, "invalid token")
			return
		}

		if claims.Subject == "" {
			unauthorized(c, "missing subject")
			return
		}

		c.Request = c.Request.WithContext(WithApplicantID(c.Request.Context(), claims.Subject))
		c.Set(string(applicantIDKey), claims.Subject)

		c.Next()
	}
}

// IssueToken signs an HS256 token for subject that expires after ttl.
func IssueToken(cfg Config, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return "", errors.New("missing JWT secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(cfg.Secret)))
}

func parserOptions(cfg Config) []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithValidMethods(validMethods), jwt.WithExpirationRequired()}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}
	return opts
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header required")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
