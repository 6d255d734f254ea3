// Package auth issues and checks the bearer tokens that bind a client to its
// workflow session.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrUnauthorized = errors.New("unauthorized")
)

// CookieName is the cookie a browser client may carry the token in.
const CookieName = "piiflow_session"

type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenType string    `json:"token_type"`
}

type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
	Issuer      string
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
}

type Service struct {
	config Config
	now    func() time.Time
}

func NewService(config Config) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if config.TokenExpiry == 0 {
		config.TokenExpiry = 2 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "piiflow"
	}

	return &Service{
		config: config,
		now:    time.Now,
	}, nil
}

// IssueToken signs a token for the session.
func (s *Service) IssueToken(sessionID string) (*Token, error) {
	now := s.now()
	expiry := now.Add(s.config.TokenExpiry)

	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.config.Issuer,
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &Token{
		Token:     signed,
		ExpiresAt: expiry,
		TokenType: "Bearer",
	}, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.JWTSecret), nil
	}, jwt.WithIssuer(s.config.Issuer), jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// SetCookie stores the token in the session cookie.
func (s *Service) SetCookie(w http.ResponseWriter, t *Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    t.Token,
		Path:     "/",
		Expires:  t.ExpiresAt,
		HttpOnly: true,
		Secure:   s.config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func (s *Service) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// GenerateSecret returns a random signing secret.
func GenerateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

type contextKey string

const sessionContextKey contextKey = "session"

// SessionIDFromContext returns the session bound to an authenticated request.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	claims, ok := ctx.Value(sessionContextKey).(*Claims)
	if !ok {
		return "", false
	}
	return claims.SessionID, true
}

// WithSessionID binds a session to ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionContextKey, &Claims{SessionID: id})
}

func tokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return "", errors.New("invalid authorization header format")
		}
		return parts[1], nil
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("missing authorization header")
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    "UNAUTHORIZED",
			"message": message,
		},
	})
}

// Middleware requires a valid session token in the Authorization header or
// the session cookie.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := tokenFromRequest(r)
		if err != nil {
			unauthorized(w, err.Error())
			return
		}

		claims, err := s.ValidateToken(raw)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				unauthorized(w, "token expired")
				return
			}
			unauthorized(w, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
