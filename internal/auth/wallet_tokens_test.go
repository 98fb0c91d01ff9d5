package auth

import (
	"context"
	"testing"
	"time"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "estable-auth",
		Audience:      "estable-api",
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return now })

	token, expiresIn, err := issuer.IssueWalletToken(context.Background(), WalletSession{
		WalletAddress: "0xAbCdEf",
		NetworkID:     84532,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expiresIn != int64((30 * time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry: %d", expiresIn)
	}

	session, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if session.WalletAddress != "0xabcdef" {
		t.Fatalf("expected lowercased wallet subject, got %q", session.WalletAddress)
	}
	if session.NetworkID != 84532 {
		t.Fatalf("expected network 84532, got %d", session.NetworkID)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return issuedAt })

	token, _, err := issuer.IssueWalletToken(context.Background(), WalletSession{
		WalletAddress: "0xwallet",
		NetworkID:     84532,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	late := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "estable-auth",
		Audience:      "estable-api",
		Clock:         func() time.Time { return issuedAt.Add(2 * time.Hour) },
	})
	if _, err := late.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return now })

	token, _, err := issuer.IssueWalletToken(context.Background(), WalletSession{
		WalletAddress: "0xwallet",
		NetworkID:     84532,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("different-secret"),
		Issuer:        "estable-auth",
		Audience:      "estable-api",
		Clock:         func() time.Time { return now },
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestIssueRejectsMissingFields(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return now })
	ctx := context.Background()

	if _, _, err := issuer.IssueWalletToken(ctx, WalletSession{NetworkID: 84532}); err == nil {
		t.Fatalf("expected error for missing wallet")
	}
	if _, _, err := issuer.IssueWalletToken(ctx, WalletSession{WalletAddress: "0xwallet"}); err == nil {
		t.Fatalf("expected error for missing network")
	}
}
