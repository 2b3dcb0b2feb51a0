package signer

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testSigner(now time.Time) Signer {
	return Signer{
		Secret:  []byte("test-secret"),
		BaseURL: "http://store.local/bucket",
		TTL:     15 * time.Minute,
		Now:     func() time.Time { return now },
	}
}

func TestSignedURLRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner(now)
	key := "projects/p1/sessions/s1/iter/3/report.json"

	signed, err := s.SignedURL(http.MethodPut, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	u, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse signed url: %v", err)
	}
	if !strings.HasPrefix(signed, "http://store.local/bucket/projects/") {
		t.Fatalf("unexpected url prefix: %s", signed)
	}
	q := u.Query()
	if q.Get("X-Forge-Method") != "PUT" {
		t.Fatalf("method param = %q", q.Get("X-Forge-Method"))
	}
	if err := s.Verify(http.MethodPut, key, q.Get("X-Forge-Expires"), q.Get("X-Forge-Signature")); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsWrongMethodAndKey(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner(now)
	signed, err := s.SignedURL(http.MethodGet, "projects/p1/sessions/s1/iter/0/a.txt")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	q := mustQuery(t, signed)
	if err := s.Verify(http.MethodPut, "projects/p1/sessions/s1/iter/0/a.txt", q.Get("X-Forge-Expires"), q.Get("X-Forge-Signature")); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong method: got %v, want ErrBadSignature", err)
	}
	if err := s.Verify(http.MethodGet, "projects/p1/sessions/s1/iter/0/b.txt", q.Get("X-Forge-Expires"), q.Get("X-Forge-Signature")); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("wrong key: got %v, want ErrBadSignature", err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := testSigner(now)
	signed, err := s.SignedURL(http.MethodGet, "k")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	q := mustQuery(t, signed)

	late := s
	late.Now = func() time.Time { return now.Add(16 * time.Minute) }
	if err := late.Verify(http.MethodGet, "k", q.Get("X-Forge-Expires"), q.Get("X-Forge-Signature")); !errors.Is(err, ErrExpired) {
		t.Fatalf("got %v, want ErrExpired", err)
	}
	if err := s.Verify(http.MethodGet, "k", "not-a-number", q.Get("X-Forge-Signature")); !errors.Is(err, ErrMalformedExpires) {
		t.Fatalf("got %v, want ErrMalformedExpires", err)
	}
}

func TestSignedURLRequiresConfig(t *testing.T) {
	var s Signer
	if _, err := s.SignedURL(http.MethodGet, "k"); !errors.Is(err, ErrSecretNotSet) {
		t.Fatalf("got %v, want ErrSecretNotSet", err)
	}
	s.Secret = []byte("x")
	if _, err := s.SignedURL(http.MethodGet, "k"); !errors.Is(err, ErrBaseURLNotSet) {
		t.Fatalf("got %v, want ErrBaseURLNotSet", err)
	}
}

func mustQuery(t *testing.T, rawURL string) url.Values {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u.Query()
}
