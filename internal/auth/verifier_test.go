package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestVerify_Dev(t *testing.T) {
	v := NewVerifier("dev", "")
	p, err := v.Verify("asha:Dispatcher")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "asha" || p.Role != RoleDispatcher {
		t.Fatalf("principal = %+v", p)
	}
	for _, bad := range []string{"asha", ":admin", "asha:root"} {
		if _, err := v.Verify(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) err = %v", bad, err)
		}
	}
}

func TestVerify_None(t *testing.T) {
	p, err := NewVerifier("none", "").Verify("")
	if err != nil || p.Role != RoleAdmin {
		t.Fatalf("p=%+v err=%v", p, err)
	}
}

func TestVerify_HMAC(t *testing.T) {
	secret := []byte("s3cret")
	v := NewVerifier("hmac", string(secret))
	now := time.Now()

	tok, err := Sign(secret, "ops-1", RoleAdmin, time.Hour, now)
	if err != nil {
		t.Fatal(err)
	}
	p, err := v.Verify(tok)
	if err != nil || p.Subject != "ops-1" || p.Role != RoleAdmin {
		t.Fatalf("p=%+v err=%v", p, err)
	}

	expired, _ := Sign(secret, "ops-1", RoleAdmin, time.Minute, now.Add(-time.Hour))
	if _, err := v.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v", err)
	}

	forged, _ := Sign([]byte("other"), "ops-1", RoleAdmin, time.Hour, now)
	if _, err := v.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("forged token err = %v", err)
	}

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "x"}}).SignedString(secret)
	if _, err := v.Verify(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("HS512 token err = %v", err)
	}

	noRole, _ := Sign(secret, "ops-2", "", time.Hour, now)
	if p, err := v.Verify(noRole); err != nil || p.Role != RoleViewer {
		t.Errorf("default role p=%+v err=%v", p, err)
	}
}

func TestPrincipalAllows(t *testing.T) {
	d := Principal{Role: RoleDispatcher}
	if !d.Allows(RoleViewer) || !d.Allows(RoleDispatcher) || d.Allows(RoleAdmin) {
		t.Fatalf("dispatcher permissions wrong")
	}
	if (Principal{}).Allows(RoleViewer) {
		t.Fatal("empty principal allowed")
	}
}

func TestFromHeader(t *testing.T) {
	if tok, err := FromHeader("Bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("tok=%q err=%v", tok, err)
	}
	for _, h := range []string{"", "Basic abc", "Bearer "} {
		if _, err := FromHeader(h); !errors.Is(err, ErrMissingToken) {
			t.Errorf("FromHeader(%q) err = %v", h, err)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{Subject: "a", Role: RoleViewer})
	p, ok := FromContext(ctx)
	if !ok || p.Subject != "a" {
		t.Fatalf("p=%+v ok=%v", p, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("unexpected principal")
	}
}
