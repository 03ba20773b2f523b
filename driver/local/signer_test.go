package local

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gobeaver/filekit"
)

func TestNewURLSigner(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		secret  string
		wantErr bool
	}{
		{"Valid", "https://files.example.com", "test-secret", false},
		{"ValidWithPath", "https://files.example.com/dl", "test-secret", false},
		{"MissingSecret", "https://files.example.com", "", true},
		{"MissingScheme", "files.example.com", "test-secret", true},
		{"Garbage", "://", "test-secret", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewURLSigner(tt.baseURL, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewURLSigner(%q, %q) error = %v, wantErr %v", tt.baseURL, tt.secret, err, tt.wantErr)
			}
		})
	}
}

func TestSignedURLRoundtrip(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		path    string
	}{
		{"PlainBase", "https://files.example.com", "docs/report.pdf"},
		{"BaseWithPath", "https://files.example.com/dl", "docs/report.pdf"},
		{"Nested", "https://files.example.com", "a/b/c/report.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewURLSigner(tt.baseURL, "test-secret")
			if err != nil {
				t.Fatalf("NewURLSigner failed: %v", err)
			}

			signedURL, err := signer.SignedURL(http.MethodGet, tt.path, 10*time.Minute)
			if err != nil {
				t.Fatalf("SignedURL failed: %v", err)
			}
			if !strings.HasPrefix(signedURL, tt.baseURL+"/") {
				t.Errorf("Signed URL %q not under base %q", signedURL, tt.baseURL)
			}

			got, err := signer.Verify(http.MethodGet, signedURL)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if got != tt.path {
				t.Errorf("Verify returned path %q, want %q", got, tt.path)
			}
		})
	}
}

func TestSignedURLExpiry(t *testing.T) {
	signer, err := NewURLSigner("https://files.example.com", "test-secret")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("CarriesExpiration", func(t *testing.T) {
		signedURL, err := signer.SignedURL(http.MethodGet, "docs/a.txt", 10*time.Minute)
		if err != nil {
			t.Fatalf("SignedURL failed: %v", err)
		}

		u, _ := url.Parse(signedURL)
		expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
		if err != nil {
			t.Fatalf("Bad expires param: %v", err)
		}
		want := time.Now().Add(10 * time.Minute).Unix()
		if expires < want-5 || expires > want+5 {
			t.Errorf("Expiration = %d, want ~%d", expires, want)
		}
	})

	t.Run("DefaultExpiry", func(t *testing.T) {
		signedURL, err := signer.SignedURL(http.MethodGet, "docs/a.txt", 0)
		if err != nil {
			t.Fatalf("SignedURL failed: %v", err)
		}

		u, _ := url.Parse(signedURL)
		expires, _ := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
		want := time.Now().Add(defaultURLExpiry).Unix()
		if expires < want-5 || expires > want+5 {
			t.Errorf("Expiration = %d, want ~%d", expires, want)
		}
	})

	t.Run("Expired", func(t *testing.T) {
		// Craft an already expired URL with a valid signature
		expiresAt := time.Now().Add(-time.Minute).Unix()
		u, _ := url.Parse("https://files.example.com/docs/a.txt")
		q := u.Query()
		q.Set("expires", strconv.FormatInt(expiresAt, 10))
		q.Set("sig", signer.sign(http.MethodGet, "docs/a.txt", expiresAt))
		u.RawQuery = q.Encode()

		if _, err := signer.Verify(http.MethodGet, u.String()); !errors.Is(err, ErrExpired) {
			t.Errorf("Verify of expired URL = %v, want ErrExpired", err)
		}
	})
}

func TestVerifyRejects(t *testing.T) {
	signer, err := NewURLSigner("https://files.example.com", "test-secret")
	if err != nil {
		t.Fatal(err)
	}

	signedURL, err := signer.SignedURL(http.MethodGet, "docs/a.txt", 10*time.Minute)
	if err != nil {
		t.Fatalf("SignedURL failed: %v", err)
	}

	t.Run("TamperedPath", func(t *testing.T) {
		tampered := strings.Replace(signedURL, "a.txt", "b.txt", 1)
		if _, err := signer.Verify(http.MethodGet, tampered); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("Verify of tampered path = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("MethodMismatch", func(t *testing.T) {
		// A GET URL must not authorize a PUT
		if _, err := signer.Verify(http.MethodPut, signedURL); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("Verify with wrong method = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other, _ := NewURLSigner("https://files.example.com", "other-secret")
		if _, err := other.Verify(http.MethodGet, signedURL); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("Verify with wrong secret = %v, want ErrInvalidSignature", err)
		}
	})

	t.Run("MissingSignature", func(t *testing.T) {
		_, err := signer.Verify(http.MethodGet, "https://files.example.com/docs/a.txt?expires=9999999999")
		if !errors.Is(err, ErrSignatureNotFound) {
			t.Errorf("Verify without signature = %v, want ErrSignatureNotFound", err)
		}
	})

	t.Run("MissingExpiration", func(t *testing.T) {
		_, err := signer.Verify(http.MethodGet, "https://files.example.com/docs/a.txt?sig=abc")
		if !errors.Is(err, ErrExpirationNotFound) {
			t.Errorf("Verify without expiration = %v, want ErrExpirationNotFound", err)
		}
	})

	t.Run("GarbageExpiration", func(t *testing.T) {
		_, err := signer.Verify(http.MethodGet, "https://files.example.com/docs/a.txt?sig=abc&expires=soon")
		if !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Verify with garbage expiration = %v, want ErrInvalidURL", err)
		}
	})
}

func TestAdapterPresignedURL(t *testing.T) {
	ctx := context.Background()

	t.Run("Unconfigured", func(t *testing.T) {
		a, err := New(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}

		if _, err := a.GeneratePresignedURL(ctx, "docs/a.txt", time.Minute); !errors.Is(err, filekit.ErrNotSupported) {
			t.Errorf("GeneratePresignedURL without signer = %v, want ErrNotSupported", err)
		}
		if _, err := a.GeneratePresignedPutURL(ctx, "docs/a.txt", time.Minute); !errors.Is(err, filekit.ErrNotSupported) {
			t.Errorf("GeneratePresignedPutURL without signer = %v, want ErrNotSupported", err)
		}
	})

	t.Run("Configured", func(t *testing.T) {
		signer, err := NewURLSigner("https://files.example.com", "test-secret")
		if err != nil {
			t.Fatal(err)
		}
		a, err := New(t.TempDir(), WithURLSigner(signer))
		if err != nil {
			t.Fatal(err)
		}

		getURL, err := a.GeneratePresignedURL(ctx, "docs/a.txt", time.Minute)
		if err != nil {
			t.Fatalf("GeneratePresignedURL failed: %v", err)
		}
		if got, err := signer.Verify(http.MethodGet, getURL); err != nil || got != "docs/a.txt" {
			t.Errorf("Verify(GET) = %q, %v, want docs/a.txt", got, err)
		}

		putURL, err := a.GeneratePresignedPutURL(ctx, "docs/a.txt", time.Minute)
		if err != nil {
			t.Fatalf("GeneratePresignedPutURL failed: %v", err)
		}
		if got, err := signer.Verify(http.MethodPut, putURL); err != nil || got != "docs/a.txt" {
			t.Errorf("Verify(PUT) = %q, %v, want docs/a.txt", got, err)
		}
		if _, err := signer.Verify(http.MethodGet, putURL); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("PUT URL verified as GET = %v, want ErrInvalidSignature", err)
		}
	})
}
