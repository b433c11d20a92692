// Package signing mints and verifies time-limited signed URLs for stored
// objects. A signed URL grants temporary read access through the status API
// without exposing the blob store itself.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/readr-labs/page-pipeline/internal/core"
)

// Static errors.
var (
	ErrSecretEmpty      = errors.New("signing secret cannot be empty")
	ErrPathEmpty        = errors.New("object path cannot be empty")
	ErrLinkExpired      = errors.New("signed link has expired")
	ErrSignatureInvalid = errors.New("signature does not match")
)

// Signer implements core.URLSigner with an HMAC-SHA256 over the object path
// and expiry timestamp.
type Signer struct {
	secret  []byte
	baseURL string
}

// New creates a Signer. baseURL is the public prefix of the status API,
// e.g. "http://host:8080".
func New(secret, baseURL string) (*Signer, error) {
	if secret == "" {
		return nil, ErrSecretEmpty
	}

	return &Signer{
		secret:  []byte(secret),
		baseURL: baseURL,
	}, nil
}

// Sign returns a time-limited link for the given object path.
func (s *Signer) Sign(path string, ttl time.Duration) (*core.SignedLink, error) {
	if path == "" {
		return nil, ErrPathEmpty
	}

	expiresAt := time.Now().UTC().Add(ttl).Truncate(time.Second)
	signature := s.signature(path, expiresAt.Unix())

	link := fmt.Sprintf(
		"%s/v1/files/%s?expires=%d&sig=%s",
		s.baseURL,
		url.PathEscape(path),
		expiresAt.Unix(),
		signature,
	)

	return &core.SignedLink{
		URL:       link,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks the signature and expiry for a redeemed link. expires is the
// raw query value.
func (s *Signer) Verify(path, expires, signature string) error {
	expiresUnix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid expiry '%s': %w", expires, err)
	}

	expected := s.signature(path, expiresUnix)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSignatureInvalid
	}

	if time.Now().UTC().After(time.Unix(expiresUnix, 0)) {
		return ErrLinkExpired
	}

	return nil
}

func (s *Signer) signature(path string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", path, expiresUnix)

	return hex.EncodeToString(mac.Sum(nil))
}
