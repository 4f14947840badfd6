// Package signedurl issues and checks time-boxed upload URLs. The signature is
// the hex HMAC-SHA256 of "key:exp" under a shared secret.
package signedurl

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

	"github.com/google/uuid"
)

var (
	ErrMissingParams = errors.New("missing signed parameters")
	ErrInvalidExpiry = errors.New("invalid exp")
	ErrExpired       = errors.New("upload url expired")
	ErrBadSignature  = errors.New("signature mismatch")
)

// DefaultTTL is how long an issued URL stays valid.
const DefaultTTL = 5 * time.Minute

// Grant is one issued upload URL.
type Grant struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresAt int64  `json:"expiresAt"`
}

type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Sign returns the lowercase hex signature for key and exp.
func (s *Signer) Sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// Issue mints a fresh key and returns the PUT URL for it under base, e.g.
// "http://localhost:5000/api/upload".
func (s *Signer) Issue(base string) (Grant, error) {
	u, err := url.Parse(base)
	if err != nil {
		return Grant{}, fmt.Errorf("parse upload base url: %w", err)
	}
	key := strings.ReplaceAll(uuid.NewString(), "-", "")
	exp := s.now().Add(s.ttl).Unix()

	q := url.Values{}
	q.Set("key", key)
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.Sign(key, exp))
	u.RawQuery = q.Encode()

	return Grant{Key: key, URL: u.String(), Method: "PUT", ExpiresAt: exp}, nil
}

// Verify checks the three query parameters. Expiry is checked before the
// signature, so an expired URL reports ErrExpired even if tampered with.
func (s *Signer) Verify(key, exp, sig string) error {
	if key == "" || exp == "" || sig == "" {
		return ErrMissingParams
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return ErrInvalidExpiry
	}
	if time.Unix(expUnix, 0).Before(s.now()) {
		return ErrExpired
	}
	want := s.Sign(key, expUnix)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}
