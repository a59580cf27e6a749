package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidReference is returned for a reference that fails verification.
	ErrInvalidReference = errors.New("invalid scoped reference")

	// ErrReferenceExpired is returned for a reference past its expiry.
	ErrReferenceExpired = errors.New("scoped reference expired")
)

// RefSigner issues and verifies HMAC-signed expiring read references.
// Backends without native capability URLs (kv, diskv, mysql) embed a
// RefSigner to satisfy the valet-key contract.
type RefSigner struct {
	secret []byte
	now    func() time.Time
}

// NewRefSigner creates a reference signer from a shared secret.
func NewRefSigner(secret []byte) *RefSigner {
	return &RefSigner{secret: secret, now: time.Now}
}

func (s *RefSigner) sign(id string, exp int64) []byte {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s.%d", id, exp)
	return mac.Sum(nil)
}

// Issue returns a reference granting read access to id until ttl elapses.
func (s *RefSigner) Issue(id string, ttl time.Duration) string {
	exp := s.now().Add(ttl).Unix()
	tok := fmt.Sprintf("%s.%d.%s", id, exp, base64.RawURLEncoding.EncodeToString(s.sign(id, exp)))
	return base64.RawURLEncoding.EncodeToString([]byte(tok))
}

// Verify checks ref and returns the operation ID it grants access to.
func (s *RefSigner) Verify(ref string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	parts := strings.Split(string(raw), ".")
	if len(parts) != 3 {
		return "", ErrInvalidReference
	}
	id := parts[0]
	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if !hmac.Equal(sig, s.sign(id, exp)) {
		return "", ErrInvalidReference
	}
	if s.now().Unix() > exp {
		return "", ErrReferenceExpired
	}
	return id, nil
}
