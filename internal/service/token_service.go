package service

import (
	"fmt"
	"time"

	"giftcard-ledger/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionAudience scopes merchant tokens to the ledger API.
const sessionAudience = "merchant-api"

// sessionClaims is the JWT payload of a merchant session.
type sessionClaims struct {
	jwt.RegisteredClaims
	// AMR lists the authentication methods used at login ("pwd", "otp").
	AMR []string `json:"amr"`
}

func (c *sessionClaims) mfa() bool {
	for _, m := range c.AMR {
		if m == "otp" {
			return true
		}
	}
	return false
}

// JWTTokenService issues and validates HS256 merchant session tokens.
type JWTTokenService struct {
	secret []byte
	expiry time.Duration
	issuer string
	now    func() time.Time
}

func NewJWTTokenService(secret string, expiry time.Duration, issuer string) *JWTTokenService {
	return &JWTTokenService{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
		now:    time.Now,
	}
}

// Generate signs a session token for session and returns it with its expiry.
func (s *JWTTokenService) Generate(session ports.Session) (string, time.Time, error) {
	if session.MerchantID == uuid.Nil {
		return "", time.Time{}, fmt.Errorf("session without merchant")
	}
	issued := s.now().UTC().Truncate(time.Second)
	expiresAt := issued.Add(s.expiry)

	amr := []string{"pwd"}
	if session.MFA {
		amr = append(amr, "otp")
	}
	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   session.MerchantID.String(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AMR: amr,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate checks signature, algorithm, issuer, audience and lifetime.
func (s *JWTTokenService) Validate(tokenString string) (*ports.TokenClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(sessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}

	merchantID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("session subject: %w", err)
	}
	return &ports.TokenClaims{
		MerchantID: merchantID,
		SessionID:  claims.ID,
		MFA:        claims.mfa(),
	}, nil
}
