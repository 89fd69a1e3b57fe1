package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "kortexd"

var (
	// ErrEmptyClientID is returned when issuing a token without a client ID
	ErrEmptyClientID = errors.New("clientID cannot be empty")
	// ErrEmptyToken is returned when validating an empty token
	ErrEmptyToken = errors.New("token cannot be empty")
	// ErrUnknownRole is returned for roles other than observer, operator and admin
	ErrUnknownRole = errors.New("unknown role")
)

// Role is what a token holder may do with the arm. Each role includes the
// permissions of the roles below it.
type Role string

const (
	// RoleObserver reads actions, feedback, notifications and history
	RoleObserver Role = "observer"
	// RoleOperator also moves the arm
	RoleOperator Role = "operator"
	// RoleAdmin also injects faults and reads gateway statistics
	RoleAdmin Role = "admin"
)

var roleRank = map[Role]int{
	RoleObserver: 1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Allows reports whether a holder of r may act as required.
func (r Role) Allows(required Role) bool {
	return r.Valid() && roleRank[r] >= roleRank[required]
}

// Claims are the kortex fields carried in a gateway token
type Claims struct {
	ClientID string `json:"client_id"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth signs and checks HS256 gateway tokens
type JWTAuth struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewJWTAuth returns a JWTAuth whose tokens expire after ttl (24h when ttl
// is not positive).
func NewJWTAuth(secretKey string, ttl time.Duration) *JWTAuth {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuth{secretKey: []byte(secretKey), ttl: ttl, now: time.Now}
}

// Issue signs a token granting role to clientID.
func (j *JWTAuth) Issue(clientID string, role Role) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, ErrEmptyClientID
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	issued := j.now()
	expires := issued.Add(j.ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ClientID: clientID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}).SignedString(j.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks a raw token (without the "Bearer " prefix) and returns its
// claims. Tokens with an unknown role are rejected.
func (j *JWTAuth) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrEmptyToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return j.secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("invalid token: %w: %q", ErrUnknownRole, claims.Role)
	}
	return claims, nil
}
