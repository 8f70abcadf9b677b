package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is written into and required on every token
const Issuer = "foodlog"

// User is the authenticated caller. Accounts live with the identity
// provider; this service only keeps the id.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Timezone string `json:"timezone,omitempty"`
}

// ExtractToken extracts the JWT from an Authorization header value.
// Supports "Bearer <token>" format.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("empty authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty token")
	}

	return token, nil
}

// Claims are the JWT claims understood by the service
type Claims struct {
	UserID   string `json:"sub"`
	Email    string `json:"email"`
	Timezone string `json:"tz,omitempty"`
	jwt.RegisteredClaims
}

// LocalJWTAuth verifies HS256 access tokens shared with the identity provider
type LocalJWTAuth struct {
	SecretKey         []byte
	AccessTokenExpiry time.Duration
}

// NewLocalJWTAuth creates a verifier. accessExpiry only applies to tokens
// issued with IssueToken; 0 means 15 minutes.
func NewLocalJWTAuth(secretKey string, accessExpiry time.Duration) (*LocalJWTAuth, error) {
	if secretKey == "" {
		return nil, errors.New("JWT secret key cannot be empty")
	}
	if accessExpiry == 0 {
		accessExpiry = 15 * time.Minute
	}
	return &LocalJWTAuth{SecretKey: []byte(secretKey), AccessTokenExpiry: accessExpiry}, nil
}

// IssueToken signs an access token for a user. Used for service accounts,
// local development and tests.
func (a *LocalJWTAuth) IssueToken(user User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   user.ID,
		Email:    user.Email,
		Timezone: user.Timezone,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken verifies an access token and returns the user
func (a *LocalJWTAuth) VerifyAccessToken(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.SecretKey, nil
	}, jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return &User{ID: claims.UserID, Email: claims.Email, Timezone: claims.Timezone}, nil
}
