package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Headers set on authenticated requests
const (
	UserIDHeader    = "X-User-ID"
	UserRolesHeader = "X-User-Roles"
)

// AuthMiddleware provides JWT-based authentication
type AuthMiddleware struct {
	logger *zap.Logger
	config config.AuthConfig
}

// Claims represents JWT claims
type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(logger *zap.Logger, cfg config.AuthConfig) (*AuthMiddleware, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt_secret is required for auth middleware")
	}

	return &AuthMiddleware{
		logger: logger,
		config: cfg,
	}, nil
}

// Handle implements the middleware interface
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Identity headers are only trusted when set here.
		r.Header.Del(UserIDHeader)
		r.Header.Del(UserRolesHeader)

		for _, skipPath := range am.config.SkipPaths {
			if strings.HasPrefix(r.URL.Path, skipPath) {
				next.ServeHTTP(w, r)
				return
			}
		}

		token, err := extractToken(r)
		if err != nil {
			am.logger.Warn("Failed to extract token", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := am.validateToken(token)
		if err != nil {
			am.logger.Warn("Invalid token", zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		r.Header.Set(UserIDHeader, claims.UserID)
		r.Header.Set(UserRolesHeader, strings.Join(claims.Roles, ","))

		am.logger.Debug("Request authenticated", zap.String("user_id", claims.UserID))

		next.ServeHTTP(w, r)
	})
}

// Name returns the middleware name
func (am *AuthMiddleware) Name() string {
	return "auth"
}

// extractToken reads a bearer token from the Authorization header
func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header not found")
	}

	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return token, nil
	}

	return authHeader, nil
}

// validateToken validates the JWT token and returns claims
func (am *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if am.config.JWTIssuer != "" {
		options = append(options, jwt.WithIssuer(am.config.JWTIssuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return []byte(am.config.JWTSecret), nil
	}, options...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// GenerateToken signs a token for userID valid for duration
func (am *AuthMiddleware) GenerateToken(userID string, roles []string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    am.config.JWTIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(am.config.JWTSecret))
}

// RequireRole rejects authenticated requests lacking role
func RequireRole(logger *zap.Logger, role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, have := range strings.Split(r.Header.Get(UserRolesHeader), ",") {
			if strings.TrimSpace(have) == role {
				next.ServeHTTP(w, r)
				return
			}
		}

		logger.Warn("Insufficient permissions",
			zap.String("required_role", role),
			zap.String("user_id", r.Header.Get(UserIDHeader)))
		http.Error(w, "Forbidden", http.StatusForbidden)
	})
}
