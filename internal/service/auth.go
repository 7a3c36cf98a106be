package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/supportly/backend/internal/domain"
)

// UserStore is the user directory with write access.
type UserStore interface {
	UserDirectory
	Upsert(ctx context.Context, u *domain.User) error
}

// AuthService verifies the session tokens issued by the platform's auth service and
// keeps the local copy of caller contact details current.
type AuthService struct {
	jwtSecret string
	users     UserStore
	now       func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(jwtSecret string, users UserStore) *AuthService {
	return &AuthService{jwtSecret: jwtSecret, users: users, now: time.Now}
}

// IssueToken signs claims valid for ttl. Used by operational tooling and tests;
// end users get their tokens from the auth service.
func (s *AuthService) IssueToken(c domain.JWTClaims, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   c.Sub,
		"email": c.Email,
		"role":  c.Role,
		"exp":   now.Add(ttl).Unix(),
		"iat":   now.Unix(),
	}
	if c.Name != "" {
		claims["name"] = c.Name
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", domain.ErrInternal("failed to sign token", err)
	}
	return signed, nil
}

// VerifyToken validates a JWT token and returns the claims.
func (s *AuthService) VerifyToken(tokenStr string) (*domain.JWTClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, domain.ErrUnauthorized("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized("invalid token claims")
	}

	out := &domain.JWTClaims{
		Sub:   getClaimString(claims, "sub"),
		Email: getClaimString(claims, "email"),
		Name:  getClaimString(claims, "name"),
		Role:  getClaimString(claims, "role"),
	}
	if out.Sub == "" {
		return nil, domain.ErrUnauthorized("token has no subject")
	}
	return out, nil
}

func getClaimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

// RememberUser records the caller's contact details so lifecycle emails can reach them.
func (s *AuthService) RememberUser(ctx context.Context, c *domain.JWTClaims) error {
	if c == nil || c.Sub == "" || c.Email == "" {
		return nil
	}
	existing, err := s.users.FindByID(ctx, c.Sub)
	if err != nil {
		return domain.ErrInternal("failed to load user", err)
	}
	if existing != nil && existing.Email == c.Email && existing.Name == c.Name && existing.Role == c.Role {
		return nil
	}
	u := &domain.User{ID: c.Sub, Email: c.Email, Name: c.Name, Role: c.Role, CreatedAt: s.now()}
	if existing != nil {
		u.CreatedAt = existing.CreatedAt
	}
	if err := s.users.Upsert(ctx, u); err != nil {
		return domain.ErrInternal("failed to save user", err)
	}
	return nil
}
