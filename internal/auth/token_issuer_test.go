package auth

import (
	"context"
	"testing"
	"time"
)

func newTestIssuer(clock func() time.Time) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "funil-auth",
		Audience:      "funil-api",
		TokenTTL:      15 * time.Minute,
		Clock:         clock,
	})
}

func TestIssueAndValidateBackendToken(t *testing.T) {
	issuer := newTestIssuer(nil)

	token, expiresIn, err := issuer.IssueBackendToken(context.Background(), "operator-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expiresIn <= 0 || expiresIn > int64((15*time.Minute).Seconds()) {
		t.Fatalf("unexpected expiry seconds: %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if subject != "operator-1" {
		t.Fatalf("unexpected subject: %s", subject)
	}
}

func TestIssueBackendTokenRequiresSubject(t *testing.T) {
	issuer := newTestIssuer(nil)

	if _, _, err := issuer.IssueBackendToken(context.Background(), ""); err == nil {
		t.Fatal("expected missing subject to fail")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0).UTC()
	issuer := newTestIssuer(func() time.Time { return issuedAt })

	token, _, err := issuer.IssueBackendToken(context.Background(), "operator-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "funil-auth",
		Audience:      "funil-api",
		TokenTTL:      15 * time.Minute,
		Clock:         func() time.Time { return issuedAt.Add(time.Hour) },
	})
	if _, err := later.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	issuer := newTestIssuer(nil)
	token, _, err := issuer.IssueBackendToken(context.Background(), "operator-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("a-different-secret"),
		Issuer:        "funil-auth",
		Audience:      "funil-api",
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatal("expected token signed with foreign secret to be rejected")
	}
}
