package local

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Errors returned by signed URL verification.
var (
	ErrInvalidURL         = errors.New("invalid URL")
	ErrSignatureNotFound  = errors.New("signature not found")
	ErrExpirationNotFound = errors.New("expiration not found")
	ErrExpired            = errors.New("URL has expired")
	ErrInvalidSignature   = errors.New("invalid signature")
)

const (
	signatureParam = "sig"
	expiresParam   = "expires"

	defaultURLExpiry = 30 * time.Minute
)

// URLSigner mints and verifies time-limited URLs for files on local disk.
// Unlike the object store backends the local backend has no service to
// presign against, so URLs point at a configured public base URL and carry
// an HMAC; whatever serves the files calls Verify before opening them.
//
// The signature covers the request method, the store path and the expiry,
// not the full URL: a proxy may rewrite scheme and host without breaking
// verification, and a GET URL cannot be replayed as a PUT.
type URLSigner struct {
	secret []byte
	base   *url.URL
}

// NewURLSigner creates a signer minting URLs under baseURL.
func NewURLSigner(baseURL, secret string) (*URLSigner, error) {
	if secret == "" {
		return nil, errors.New("local: url signer needs a secret")
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("local: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("local: base url %q needs a scheme and host", baseURL)
	}

	return &URLSigner{
		secret: []byte(secret),
		base:   base,
	}, nil
}

// SignedURL returns a URL for filePath valid for the given expiry under
// the given request method. A non-positive expiry falls back to the
// default.
func (s *URLSigner) SignedURL(method, filePath string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}
	expiresAt := time.Now().Add(expiry).Unix()

	u := *s.base
	u.Path = path.Join("/", s.base.Path, filePath)

	q := u.Query()
	q.Set(expiresParam, strconv.FormatInt(expiresAt, 10))
	q.Set(signatureParam, s.sign(method, s.storePath(u.Path), expiresAt))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Verify checks a signed URL for the given request method and returns the
// store path it grants access to.
func (s *URLSigner) Verify(method, signedURL string) (string, error) {
	u, err := url.Parse(signedURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	q := u.Query()
	sig := q.Get(signatureParam)
	if sig == "" {
		return "", ErrSignatureNotFound
	}
	expiresStr := q.Get(expiresParam)
	if expiresStr == "" {
		return "", ErrExpirationNotFound
	}
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: bad expiration: %v", ErrInvalidURL, err)
	}

	if time.Now().Unix() > expires {
		return "", ErrExpired
	}

	storePath := s.storePath(u.Path)
	expected := s.sign(method, storePath, expires)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", ErrInvalidSignature
	}

	return storePath, nil
}

// storePath maps a URL path back onto a store path relative to the base
// URL.
func (s *URLSigner) storePath(urlPath string) string {
	p := strings.TrimPrefix(urlPath, s.base.Path)
	return strings.TrimPrefix(p, "/")
}

func (s *URLSigner) sign(method, storePath string, expires int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s|%s|%d", method, storePath, expires)
	return hex.EncodeToString(h.Sum(nil))
}
