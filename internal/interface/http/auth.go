package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/alem-hub/progression-hub/internal/domain/shared"
	"github.com/alem-hub/progression-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// BEARER TOKENS
// ══════════════════════════════════════════════════════════════════════════════

// Claims is the token payload. The subject is the student ID.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	StudentID string
	Role      student.Role
}

const principalKey = "principal"

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
}

// NewTokenIssuer creates an issuer for the given HMAC secret.
func NewTokenIssuer(secret, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for a student.
func (t *TokenIssuer) Issue(studentID string, role student.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   studentID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies a token and returns its principal.
func (t *TokenIssuer) Parse(raw string) (Principal, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, errors.New("token has no subject")
	}
	return Principal{StudentID: claims.Subject, Role: student.ParseRole(claims.Role)}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requireAuth rejects requests without a valid bearer token.
func requireAuth(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 7 || !strings.EqualFold(header[:7], "Bearer ") {
			abortWithError(c, unauthorized("authorization header is required"))
			return
		}
		p, err := tokens.Parse(strings.TrimSpace(header[7:]))
		if err != nil {
			abortWithError(c, unauthorized("invalid or expired token"))
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// requireAdmin lets only admins through.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principal(c).Role.IsAdmin() {
			abortWithError(c, shared.NewDomainError("http", "Authorize", shared.ErrRoleNotPermitted, "admin role required"))
			return
		}
		c.Next()
	}
}

// requireSelf lets a student act only on their own :id. Admins may act on anyone.
func requireSelf() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		if p.StudentID != c.Param("id") && !p.Role.IsAdmin() {
			abortWithError(c, shared.NewDomainError("http", "Authorize", shared.ErrRoleNotPermitted, "cannot act on another student"))
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) Principal {
	v, _ := c.Get(principalKey)
	p, _ := v.(Principal)
	return p
}

func unauthorized(msg string) error {
	return shared.NewDomainError("http", "Authenticate", shared.ErrUnauthorized, msg)
}

// abortWithError is used by middleware, which must stop the chain.
func abortWithError(c *gin.Context, err error) {
	status, body := errorResponse(c, err)
	c.AbortWithStatusJSON(status, body)
}
