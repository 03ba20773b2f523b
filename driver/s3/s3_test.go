package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gobeaver/filekit"
)

func TestKeyMapping(t *testing.T) {
	t.Run("NoPrefix", func(t *testing.T) {
		a := &Adapter{}
		tests := []struct {
			in   string
			want string
		}{
			{"docs/a.txt", "docs/a.txt"},
			{"docs/", "docs/"},
			{"", ""},
			{"a.txt", "a.txt"},
		}
		for _, tt := range tests {
			if got := a.key(tt.in); got != tt.want {
				t.Errorf("key(%q) = %q, want %q", tt.in, got, tt.want)
			}
		}
	})

	t.Run("WithPrefix", func(t *testing.T) {
		a := New(nil, "bucket", WithPrefix("tenant"))
		if a.prefix != "tenant/" {
			t.Errorf("Prefix = %q, want %q", a.prefix, "tenant/")
		}

		if got := a.key("docs/a.txt"); got != "tenant/docs/a.txt" {
			t.Errorf("key = %q, want %q", got, "tenant/docs/a.txt")
		}
		if got := a.key("docs/"); got != "tenant/docs/" {
			t.Errorf("key = %q, want %q", got, "tenant/docs/")
		}
	})

	t.Run("Roundtrip", func(t *testing.T) {
		a := New(nil, "bucket", WithPrefix("tenant/"))
		p := "inbox/report.pdf.3f2a.staked"
		if got := a.storePath(a.key(p)); got != p {
			t.Errorf("storePath(key(%q)) = %q", p, got)
		}
	})
}

func TestMapS3Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"NoSuchKey", &types.NoSuchKey{}, filekit.ErrNotExist},
		{"NotFound", &types.NotFound{}, filekit.ErrNotExist},
		{"Other", errors.New("throttled"), filekit.ErrBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapS3Error("download", "docs/a.txt", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("mapS3Error(%v) = %v, want %v", tt.err, err, tt.want)
			}

			var pathErr *filekit.PathError
			if !errors.As(err, &pathErr) {
				t.Fatalf("mapS3Error should return a *filekit.PathError, got %T", err)
			}
			if pathErr.Op != "download" || pathErr.Path != "docs/a.txt" {
				t.Errorf("PathError = %+v, want op/path preserved", pathErr)
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	a, err := NewFromConfig(context.Background(), filekit.Config{
		S3Region:          "us-east-1",
		S3Bucket:          "test-bucket",
		S3Prefix:          "tenant",
		S3Endpoint:        "http://localhost:9000",
		S3AccessKeyID:     "minioadmin",
		S3SecretAccessKey: "minioadmin",
		S3ForcePathStyle:  true,
	})
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if a.bucket != "test-bucket" {
		t.Errorf("Bucket = %q, want %q", a.bucket, "test-bucket")
	}
	if a.prefix != "tenant/" {
		t.Errorf("Prefix = %q, want %q", a.prefix, "tenant/")
	}
}

// newIntegrationAdapter builds an adapter against a real bucket, pointed at
// MinIO or AWS through FILEKIT_S3_* variables. Skips when no bucket is
// configured or the endpoint is unreachable.
func newIntegrationAdapter(t *testing.T) *Adapter {
	t.Helper()

	bucket := os.Getenv("FILEKIT_S3_TEST_BUCKET")
	if bucket == "" {
		t.Skip("FILEKIT_S3_TEST_BUCKET not set, skipping S3 integration test")
	}

	cfg := filekit.Config{
		S3Region:          os.Getenv("FILEKIT_S3_REGION"),
		S3Bucket:          bucket,
		S3Endpoint:        os.Getenv("FILEKIT_S3_ENDPOINT"),
		S3AccessKeyID:     os.Getenv("FILEKIT_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("FILEKIT_S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:  os.Getenv("FILEKIT_S3_FORCE_PATH_STYLE") == "true",
		S3Prefix:          fmt.Sprintf("filekit-test-%d", time.Now().UnixNano()),
	}
	if cfg.S3Region == "" {
		cfg.S3Region = "us-east-1"
	}

	a, err := NewFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if _, err := a.PathExists(context.Background(), ""); err != nil {
		t.Skipf("S3 not reachable: %v", err)
	}

	t.Cleanup(func() {
		_ = a.DeleteDir(context.Background(), "")
	})
	return a
}

func TestIntegration(t *testing.T) {
	a := newIntegrationAdapter(t)
	ctx := context.Background()

	content := []byte("s3 integration payload")
	if err := a.Upload(ctx, "inbox/a.txt", bytes.NewReader(content),
		filekit.WithContentType("text/plain")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := a.Exists(ctx, "inbox/a.txt")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Uploaded object should exist")
	}

	rc, err := a.Download(ctx, "inbox/a.txt")
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("Failed to read download: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Downloaded content = %q, want %q", got, content)
	}

	info, err := a.FileInfo(ctx, "inbox/a.txt")
	if err != nil {
		t.Fatalf("FileInfo failed: %v", err)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", info.Size, len(content))
	}
	if info.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want %q", info.ContentType, "text/plain")
	}

	// Server-side copy
	if err := a.Copy(ctx, "inbox/a.txt", "backup/a.txt"); err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	exists, _ = a.Exists(ctx, "backup/a.txt")
	if !exists {
		t.Error("Copied object should exist")
	}

	// Lazy listing
	var listed []string
	for f, err := range a.List(ctx, "inbox/", filekit.WalkOptions{}) {
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		listed = append(listed, f.Path)
	}
	if len(listed) != 1 || listed[0] != "inbox/a.txt" {
		t.Errorf("List = %v, want [inbox/a.txt]", listed)
	}

	// Presigned URL minting needs no round trip but must embed the key
	url, err := a.GeneratePresignedURL(ctx, "inbox/a.txt", time.Minute)
	if err != nil {
		t.Fatalf("GeneratePresignedURL failed: %v", err)
	}
	if !strings.Contains(url, "inbox/a.txt") {
		t.Errorf("Presigned URL %q does not reference the object", url)
	}

	if err := a.Delete(ctx, "inbox/a.txt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ = a.Exists(ctx, "inbox/a.txt")
	if exists {
		t.Error("Object should be gone after delete")
	}

	_, err = a.Download(ctx, "inbox/a.txt")
	if !errors.Is(err, filekit.ErrNotExist) {
		t.Errorf("Download of deleted object = %v, want ErrNotExist", err)
	}
}

func TestIntegrationDirs(t *testing.T) {
	a := newIntegrationAdapter(t)
	ctx := context.Background()

	if err := a.CreateDir(ctx, "work/batch-1/"); err != nil {
		t.Fatalf("CreateDir failed: %v", err)
	}
	exists, err := a.PathExists(ctx, "work/batch-1/")
	if err != nil {
		t.Fatalf("PathExists failed: %v", err)
	}
	if !exists {
		t.Error("Directory marker should exist")
	}

	if err := a.Upload(ctx, "work/batch-1/f.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := a.DeleteDir(ctx, "work/"); err != nil {
		t.Fatalf("DeleteDir failed: %v", err)
	}
	exists, _ = a.PathExists(ctx, "work/")
	if exists {
		t.Error("Directory should be gone after DeleteDir")
	}

	if err := a.DeleteDir(ctx, "work/"); !errors.Is(err, filekit.ErrNotExist) {
		t.Errorf("DeleteDir of missing dir = %v, want ErrNotExist", err)
	}
}
