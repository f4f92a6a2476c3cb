package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/model"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type AccessClaims struct {
	UserID    string `json:"userId"`
	RoleID    string `json:"roleId"`
	CompanyID string `json:"companyId"`
	Type      string `json:"type"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	UserID string `json:"userId"`
	Type   string `json:"type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// TokenIssuer signs and verifies HS256 access and refresh tokens. The two
// token kinds use different secrets.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

func (t *TokenIssuer) IssuePair(user *model.User) (*TokenPair, error) {
	now := t.now()
	accessExp := now.Add(t.accessTTL)
	refreshExp := now.Add(t.refreshTTL)

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		UserID:    user.ID,
		RoleID:    user.RoleID,
		CompanyID: user.CompanyID,
		Type:      TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	}).SignedString(t.accessSecret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		UserID: user.ID,
		Type:   TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	}).SignedString(t.refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *TokenIssuer) ParseAccess(token string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := t.parse(token, t.accessSecret, &claims, &claims.RegisteredClaims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess || claims.UserID == "" {
		return nil, apperrors.InvalidToken("Invalid access token")
	}
	return &claims, nil
}

func (t *TokenIssuer) ParseRefresh(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := t.parse(token, t.refreshSecret, &claims, &claims.RegisteredClaims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh || claims.UserID == "" || claims.ID == "" {
		return nil, apperrors.InvalidToken("Invalid refresh token")
	}
	return &claims, nil
}

// parse verifies the HS256 signature and checks expiry against the issuer's clock.
func (t *TokenIssuer) parse(token string, secret []byte, claims jwt.Claims, registered *jwt.RegisteredClaims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return apperrors.InvalidToken("Invalid or malformed token")
	}
	if !registered.VerifyExpiresAt(t.now(), true) {
		return apperrors.TokenExpired()
	}
	return nil
}
