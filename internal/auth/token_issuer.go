package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour

	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubject       = errors.New("token subject must be provided")
	errWrongTokenUse        = errors.New("token is not an access token")
)

// TokenPair carries the issued credentials returned to a client.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// TokenIssuerConfig configures the JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 access/refresh token pairs.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

type pairClaims struct {
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Clock = clock
	return &TokenIssuer{config: cfg, clock: clock}
}

// IssueTokenPair produces a signed access/refresh pair for the subject. The
// refresh token carries a token_use discriminator so it cannot authorize API
// calls directly.
func (i *TokenIssuer) IssueTokenPair(_ context.Context, subject string) (TokenPair, error) {
	if len(i.config.SigningSecret) == 0 {
		return TokenPair{}, errMissingSigningSecret
	}
	if subject == "" {
		return TokenPair{}, errMissingSubject
	}

	now := i.clock().UTC()

	access, err := i.sign(subject, tokenUseAccess, now, now.Add(i.config.AccessTTL))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(subject, tokenUseRefresh, now, now.Add(i.config.RefreshTTL))
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(i.config.AccessTTL.Seconds()),
	}, nil
}

func (i *TokenIssuer) sign(subject, use string, issuedAt, expiresAt time.Time) (string, error) {
	claims := pairClaims{
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.config.SigningSecret)
}

// ValidateToken ensures the token is a well-formed access token and returns
// its subject. Refresh tokens are rejected.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		return "", err
	}
	if claims.TokenUse != tokenUseAccess {
		return "", errWrongTokenUse
	}
	return claims.Subject, nil
}

// Refresh validates a refresh token and issues a fresh pair for its subject.
func (i *TokenIssuer) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := i.parse(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if claims.TokenUse != tokenUseRefresh {
		return TokenPair{}, errors.New("token is not a refresh token")
	}
	return i.IssueTokenPair(ctx, claims.Subject)
}

func (i *TokenIssuer) parse(tokenString string) (*pairClaims, error) {
	if len(i.config.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}

	claims := &pairClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errMissingSubject
	}
	return claims, nil
}
