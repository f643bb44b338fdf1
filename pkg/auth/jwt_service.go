package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lanonasis/authgate/pkg/kernel"
)

// JWTService signs and verifies the first-party session JWTs carried by the
// lanonasis_session cookie and by admin bearer tokens. HS256 only; the
// secret is at least 32 bytes (enforced at config load).
type JWTService struct {
	secretKey []byte
	ttl       time.Duration
	issuer    string
}

func NewJWTService(secretKey string, ttl time.Duration, issuer string) *JWTService {
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	if issuer == "" {
		issuer = "lanonasis-auth"
	}
	return &JWTService{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		issuer:    issuer,
	}
}

// SessionClaims is the payload of a first-party JWT. It references the user,
// never the session row id; middleware re-checks the server-side session
// record on every request.
type SessionClaims struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	Platform string `json:"platform"`
	jwt.RegisteredClaims
}

// TokenClaims is the validated, decoded view handed to the middleware.
type TokenClaims struct {
	UserID    kernel.UserID
	Email     string
	Role      string
	Platform  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// GenerateSessionToken signs a session JWT for a logged-in user.
func (j *JWTService) GenerateSessionToken(userID kernel.UserID, email, role, platform string) (string, error) {
	return j.generate(userID, email, role, platform, j.ttl)
}

// GenerateAdminToken signs a token for an admin bypass session. Admin
// sessions never expire server-side; the JWT itself gets a long horizon and
// the session record is the authority.
func (j *JWTService) GenerateAdminToken(userID kernel.UserID, email string) (string, error) {
	return j.generate(userID, email, "admin", "admin", 10*365*24*time.Hour)
}

func (j *JWTService) generate(userID kernel.UserID, email, role, platform string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email:    email,
		Role:     role,
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
	if err != nil {
		return "", ErrTokenGeneration().WithCause(err)
	}
	return signed, nil
}

// ValidateToken verifies signature and temporal claims and decodes the
// payload.
func (j *JWTService) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid().WithCause(err)
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid()
	}

	out := &TokenClaims{
		UserID:   kernel.NewUserID(claims.Subject),
		Email:    claims.Email,
		Role:     claims.Role,
		Platform: claims.Platform,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
