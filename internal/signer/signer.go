// Package signer issues time-limited signed URLs against the external object
// store. Producing a URL is a local HMAC computation; no round trip to the
// store is required until the URL is used.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Signer struct {
	Secret  []byte
	BaseURL string
	TTL     time.Duration
	Now     func() time.Time
}

var (
	ErrExpired          = errors.New("signed url expired")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrSecretNotSet     = errors.New("signing secret not configured")
	ErrBaseURLNotSet    = errors.New("storage base url not configured")
	ErrMalformedExpires = errors.New("malformed expires value")
)

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Signer) mac(method, key string, expires int64) string {
	h := hmac.New(sha256.New, s.Secret)
	fmt.Fprintf(h, "%s\n%s\n%d", strings.ToUpper(method), key, expires)
	return hex.EncodeToString(h.Sum(nil))
}

// SignedURL returns a URL granting method access to key until the TTL lapses.
func (s Signer) SignedURL(method, key string) (string, error) {
	if len(s.Secret) == 0 {
		return "", ErrSecretNotSet
	}
	if strings.TrimSpace(s.BaseURL) == "" {
		return "", ErrBaseURLNotSet
	}
	expires := s.now().Add(s.TTL).Unix()
	q := url.Values{}
	q.Set("X-Forge-Method", strings.ToUpper(method))
	q.Set("X-Forge-Expires", strconv.FormatInt(expires, 10))
	q.Set("X-Forge-Signature", s.mac(method, key, expires))
	base := strings.TrimRight(s.BaseURL, "/")
	escaped := escapeKey(key)
	return base + "/" + escaped + "?" + q.Encode(), nil
}

// Verify checks a presented signature for method access to key.
func (s Signer) Verify(method, key, expiresRaw, sig string) error {
	expires, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return ErrMalformedExpires
	}
	if s.now().Unix() >= expires {
		return ErrExpired
	}
	expected := s.mac(method, key, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// escapeKey path-escapes each segment while keeping separators readable.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
