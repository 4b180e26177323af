package utils

import (
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer     = "monkbot"
	serviceAudience = "monkbot-admin"

	// ScopeAdmin grants access to the admin API.
	ScopeAdmin = "admin"
)

var (
	secretsMu     sync.RWMutex
	jwtSecret     []byte
	serviceSecret []byte
)

// Claims are carried by dashboard session tokens.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// ServiceClaims are carried by admin service tokens.
type ServiceClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token was minted with scope.
func (c *ServiceClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// SetJWTSecret sets the key used for session tokens.
func SetJWTSecret(secret string) {
	secretsMu.Lock()
	jwtSecret = []byte(secret)
	secretsMu.Unlock()
}

// SetServiceSecret sets the key used for admin service tokens.
func SetServiceSecret(secret string) {
	secretsMu.Lock()
	serviceSecret = []byte(secret)
	secretsMu.Unlock()
}

func sessionKey() []byte {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	return jwtSecret
}

func serviceKey() []byte {
	secretsMu.RLock()
	defer secretsMu.RUnlock()
	return serviceSecret
}

// GenerateToken issues a session token valid for the given number of hours.
func GenerateToken(userID uint, email, role string, hours int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(hours) * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(sessionKey())
}

// ParseToken validates a session token and returns its claims.
func ParseToken(tokenString string) (*Claims, error) {
	key := sessionKey()
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	// service tokens are audience-bound; sessions never are
	if len(claims.Audience) > 0 {
		return nil, errors.New("not a session token")
	}
	return claims, nil
}

// GenerateServiceToken issues an admin service token. Every token gets a
// unique jti so audit entries can name the credential that was used.
func GenerateServiceToken(subject string, scopes []string, hours int) (string, error) {
	if subject == "" {
		return "", errors.New("subject required")
	}
	if len(scopes) == 0 {
		return "", errors.New("at least one scope required")
	}

	now := time.Now()
	claims := ServiceClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{serviceAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(hours) * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(serviceKey())
}

// ParseServiceToken validates an admin service token and returns its claims.
func ParseServiceToken(tokenString string) (*ServiceClaims, error) {
	key := serviceKey()
	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(serviceAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
