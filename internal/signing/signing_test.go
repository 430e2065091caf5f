package signing

import (
	"strconv"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	future := time.Now().Add(time.Hour).Unix()
	futureStr := strconv.FormatInt(future, 10)
	sig := s.Sign("file123", future)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate("file123", futureStr, sig) {
		t.Fatalf("expected signature to validate")
	}
	if s.Validate("wrong", futureStr, sig) {
		t.Fatalf("expected validation to fail for wrong file id")
	}
	if s.Validate("file123", "42", sig) {
		t.Fatalf("expected validation to fail for tampered expiry")
	}
}

func TestSignerRejectsExpired(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	past := time.Now().Add(-time.Minute).Unix()
	sig := s.Sign("file123", past)
	if s.Validate("file123", strconv.FormatInt(past, 10), sig) {
		t.Fatalf("expected expired signature to be rejected")
	}
}
