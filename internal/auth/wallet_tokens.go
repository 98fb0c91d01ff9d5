package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingWalletSubject = errors.New("wallet address must be provided")
	errMissingNetworkClaim  = errors.New("network id must be provided")
)

// WalletSession identifies an authenticated wallet on one network.
type WalletSession struct {
	WalletAddress string
	NetworkID     int64
}

type walletClaims struct {
	NetworkID int64 `json:"network_id"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the wallet session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues short-lived HS256 session tokens binding a wallet
// address to a network. It stands in for the hosted auth session the
// original front-end relied on; the wallet address is the subject and is
// canonicalized to lowercase before signing.
type TokenIssuer struct {
	config TokenIssuerConfig
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		config: TokenIssuerConfig{
			SigningSecret: cfg.SigningSecret,
			Issuer:        cfg.Issuer,
			Audience:      cfg.Audience,
			TokenTTL:      ttl,
			Clock:         clock,
		},
		clock: clock,
	}
}

// IssueWalletToken produces a signed JWT and its expiry (seconds) for the session.
func (i *TokenIssuer) IssueWalletToken(_ context.Context, session WalletSession) (string, int64, error) {
	if len(i.config.SigningSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	wallet := strings.ToLower(strings.TrimSpace(session.WalletAddress))
	if wallet == "" {
		return "", 0, errMissingWalletSubject
	}
	if session.NetworkID <= 0 {
		return "", 0, errMissingNetworkClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.config.TokenTTL).UTC()

	claims := walletClaims{
		NetworkID: session.NetworkID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			Issuer:    i.config.Issuer,
			Audience:  []string{i.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.config.SigningSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the session token is well formed and returns the session.
func (i *TokenIssuer) ValidateToken(tokenString string) (WalletSession, error) {
	if len(i.config.SigningSecret) == 0 {
		return WalletSession{}, errMissingSigningSecret
	}

	claims := &walletClaims{}
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
		return WalletSession{}, err
	}
	if claims.Subject == "" {
		return WalletSession{}, errMissingWalletSubject
	}
	if claims.NetworkID <= 0 {
		return WalletSession{}, errMissingNetworkClaim
	}
	return WalletSession{WalletAddress: claims.Subject, NetworkID: claims.NetworkID}, nil
}
