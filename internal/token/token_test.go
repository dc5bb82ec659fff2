package token

import (
	"testing"
	"time"
)

func TestGenerateVerify(t *testing.T) {
	secret := []byte("secret")
	tok, err := Generate("sess-1", secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	c, err := Verify(tok, secret, time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.SessionID != "sess-1" || c.VisitID != 0 {
		t.Fatalf("unexpected claims: %+v", c)
	}
}

func TestGenerateWithVisit(t *testing.T) {
	secret := []byte("secret")
	tok, err := GenerateWithVisit("sess-1", 42, secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	c, err := Verify(tok, secret, time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.VisitID != 42 {
		t.Fatalf("expected visit 42, got %d", c.VisitID)
	}
}

func TestVerifyExpired(t *testing.T) {
	secret := []byte("s")
	tok, err := Generate("sess", secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := Verify(tok, secret, time.Millisecond); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyInvalid(t *testing.T) {
	secret := []byte("s")
	tok, _ := Generate("sess", secret)
	if _, err := Verify(tok+"x", secret, time.Minute); err != ErrInvalid {
		t.Fatalf("expected invalid, got %v", err)
	}
	if _, err := Verify(tok, []byte("other"), time.Minute); err != ErrInvalid {
		t.Fatalf("expected invalid for wrong secret, got %v", err)
	}
	if _, err := Verify("no-dot", secret, time.Minute); err != ErrInvalid {
		t.Fatalf("expected invalid for malformed token, got %v", err)
	}
}
