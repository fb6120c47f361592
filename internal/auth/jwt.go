package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zerg-labs/zerg-core/internal/db"
)

// JWTManager issues and validates HS256 access tokens. Grounded on the
// teacher's jwt.go, trimmed of tenant/scope/refresh-token bookkeeping that
// belongs to the external identity provider this package merely consumes.
type JWTManager struct {
	signingKey []byte
	expiry     time.Duration
	issuer     string
}

// NewJWTManager builds a JWTManager. signingKey is the shared HMAC secret;
// expiry is how long issued tokens remain valid.
func NewJWTManager(signingKey string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		signingKey: []byte(signingKey),
		expiry:     expiry,
		issuer:     "zerg-core",
	}
}

// claims is the wire shape of an access token.
type claims struct {
	jwt.RegisteredClaims
	Email string  `json:"email"`
	Role  db.Role `json:"role"`
}

// GenerateAccessToken signs a token for user, for callers (CLI, tests,
// integration shims) that need to mint a token without a full external
// identity-provider round trip.
func (j *JWTManager) GenerateAccessToken(user *db.User) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Email: user.Email,
		Role:  user.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(j.signingKey)
}

// ValidateAccessToken parses and verifies tokenString, returning the
// authenticated UserContext.
func (j *JWTManager) ValidateAccessToken(tokenString string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	c, ok := token.Claims.(*claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if c.Issuer != j.issuer {
		return nil, fmt.Errorf("invalid token issuer")
	}

	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid user id in token: %w", err)
	}

	return &UserContext{UserID: userID, Email: c.Email, Role: c.Role}, nil
}

// ExtractBearerToken extracts the token from an Authorization header value.
func ExtractBearerToken(authHeader string) (string, error) {
	const prefix = "Bearer "
	if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
		return "", fmt.Errorf("invalid authorization header format")
	}
	return authHeader[len(prefix):], nil
}
