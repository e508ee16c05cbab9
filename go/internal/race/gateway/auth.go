package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Principal is the identity attached to a connection at handshake time. A
// zero Principal is a guest.
type Principal struct {
	UserID   *uuid.UUID
	Username string
}

func (p Principal) Authenticated() bool {
	return p.UserID != nil
}

// TokenVerifier turns a handshake token into a principal.
type TokenVerifier interface {
	Verify(token string) (Principal, error)
}

// Claims carried by a race token.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify returns ErrInvalidToken for anything other than a valid, unexpired
// token whose userId claim is a UUID.
func (v *JWTVerifier) Verify(token string) (Principal, error) {
	if token == "" || len(v.secret) == 0 {
		return Principal{}, ErrInvalidToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: userId claim: %v", ErrInvalidToken, err)
	}
	return Principal{UserID: &id, Username: claims.Username}, nil
}

// Issue signs a token for userID. A ttl of zero issues a token without expiry.
func (v *JWTVerifier) Issue(userID uuid.UUID, username string, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:   userID.String(),
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// tokenFromRequest reads the handshake token from the token query parameter
// or a bearer Authorization header.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
