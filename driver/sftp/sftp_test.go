package sftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobeaver/filekit"
)

func TestFullPath(t *testing.T) {
	t.Run("NoBase", func(t *testing.T) {
		a := &Adapter{}
		tests := []struct {
			in   string
			want string
		}{
			{"docs/a.txt", "docs/a.txt"},
			{"docs/", "docs"},
			{"", "."},
		}
		for _, tt := range tests {
			if got := a.fullPath(tt.in); got != tt.want {
				t.Errorf("fullPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		}
	})

	t.Run("WithBase", func(t *testing.T) {
		a := &Adapter{}
		WithBasePath("/srv/inbox/")(a)
		if a.base != "/srv/inbox" {
			t.Errorf("Base = %q, want %q", a.base, "/srv/inbox")
		}

		if got := a.fullPath("docs/a.txt"); got != "/srv/inbox/docs/a.txt" {
			t.Errorf("fullPath = %q, want %q", got, "/srv/inbox/docs/a.txt")
		}
		if got := a.fullPath(""); got != "/srv/inbox" {
			t.Errorf("fullPath(\"\") = %q, want %q", got, "/srv/inbox")
		}
	})
}

func TestAuthMethods(t *testing.T) {
	t.Run("NoCredentials", func(t *testing.T) {
		_, err := authMethods(filekit.Config{})
		if !errors.Is(err, filekit.ErrInvalidConfig) {
			t.Errorf("authMethods without credentials = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("PasswordOnly", func(t *testing.T) {
		auth, err := authMethods(filekit.Config{SFTPPassword: "secret"})
		if err != nil {
			t.Fatalf("authMethods failed: %v", err)
		}
		if len(auth) != 1 {
			t.Errorf("Got %d auth methods, want 1", len(auth))
		}
	})

	t.Run("MissingKeyFile", func(t *testing.T) {
		_, err := authMethods(filekit.Config{
			SFTPPrivateKeyFile: filepath.Join(t.TempDir(), "no-such-key"),
		})
		if err == nil {
			t.Error("authMethods with missing key file should fail")
		}
	})

	t.Run("MalformedKey", func(t *testing.T) {
		keyFile := filepath.Join(t.TempDir(), "id_ed25519")
		if err := os.WriteFile(keyFile, []byte("not a key"), 0600); err != nil {
			t.Fatal(err)
		}
		_, err := authMethods(filekit.Config{SFTPPrivateKeyFile: keyFile})
		if err == nil {
			t.Error("authMethods with malformed key should fail")
		}
	})
}

func TestHostKeyCallback(t *testing.T) {
	t.Run("Insecure", func(t *testing.T) {
		cb, err := hostKeyCallback(filekit.Config{SFTPInsecureIgnoreHosts: true})
		if err != nil {
			t.Fatalf("hostKeyCallback failed: %v", err)
		}
		if cb == nil {
			t.Error("Insecure mode should still return a callback")
		}
	})

	t.Run("KnownHostsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "known_hosts")
		if err := os.WriteFile(file, nil, 0600); err != nil {
			t.Fatal(err)
		}
		cb, err := hostKeyCallback(filekit.Config{SFTPKnownHostsFile: file})
		if err != nil {
			t.Fatalf("hostKeyCallback failed: %v", err)
		}
		if cb == nil {
			t.Error("Expected a callback for an existing known_hosts file")
		}
	})

	t.Run("MissingKnownHostsFile", func(t *testing.T) {
		_, err := hostKeyCallback(filekit.Config{
			SFTPKnownHostsFile: filepath.Join(t.TempDir(), "no-such-file"),
		})
		if err == nil {
			t.Error("hostKeyCallback with missing known_hosts file should fail")
		}
	})
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  filekit.Config
	}{
		{"MissingHost", filekit.Config{SFTPUser: "worker", SFTPPassword: "secret"}},
		{"MissingUser", filekit.Config{SFTPHost: "files.example.com", SFTPPassword: "secret"}},
		{"MissingAuth", filekit.Config{SFTPHost: "files.example.com", SFTPUser: "worker"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromConfig(tt.cfg)
			if !errors.Is(err, filekit.ErrInvalidConfig) {
				t.Errorf("NewFromConfig = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestMapSFTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"NotExist", os.ErrNotExist, filekit.ErrNotExist},
		{"WrappedNotExist", fmt.Errorf("stat: %w", os.ErrNotExist), filekit.ErrNotExist},
		{"Other", errors.New("connection lost"), filekit.ErrBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapSFTPError("download", "docs/a.txt", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("mapSFTPError(%v) = %v, want %v", tt.err, err, tt.want)
			}

			var pathErr *filekit.PathError
			if !errors.As(err, &pathErr) {
				t.Fatalf("mapSFTPError should return a *filekit.PathError, got %T", err)
			}
			if pathErr.Op != "download" || pathErr.Path != "docs/a.txt" {
				t.Errorf("PathError = %+v, want op/path preserved", pathErr)
			}
		})
	}
}

// newIntegrationAdapter dials a real SFTP server configured through
// FILEKIT_SFTP_* variables and roots the adapter in a fresh directory.
// Skips when no host is configured or the server is unreachable.
func newIntegrationAdapter(t *testing.T) *Adapter {
	t.Helper()

	host := os.Getenv("FILEKIT_SFTP_TEST_HOST")
	if host == "" {
		t.Skip("FILEKIT_SFTP_TEST_HOST not set, skipping SFTP integration test")
	}

	port := 0
	if p := os.Getenv("FILEKIT_SFTP_TEST_PORT"); p != "" {
		port, _ = strconv.Atoi(p)
	}

	cfg := filekit.Config{
		SFTPHost:                host,
		SFTPPort:                port,
		SFTPUser:                os.Getenv("FILEKIT_SFTP_TEST_USER"),
		SFTPPassword:            os.Getenv("FILEKIT_SFTP_TEST_PASSWORD"),
		SFTPPrivateKeyFile:      os.Getenv("FILEKIT_SFTP_TEST_KEY_FILE"),
		SFTPInsecureIgnoreHosts: true,
		SFTPConnectTimeout:      5 * time.Second,
		SFTPBasePath: path.Join(os.Getenv("FILEKIT_SFTP_TEST_BASE"),
			fmt.Sprintf("filekit-test-%d", time.Now().UnixNano())),
	}

	a, err := NewFromConfig(cfg)
	if err != nil {
		t.Skipf("SFTP server unavailable: %v", err)
	}

	t.Cleanup(func() {
		_ = a.DeleteDir(context.Background(), "")
		a.Close()
	})
	return a
}

func TestIntegration(t *testing.T) {
	a := newIntegrationAdapter(t)
	ctx := context.Background()

	content := []byte("sftp integration payload")
	if err := a.Upload(ctx, "inbox/a.txt", bytes.NewReader(content)); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := a.Exists(ctx, "inbox/a.txt")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("Uploaded file should exist")
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

	if err := a.Delete(ctx, "inbox/a.txt"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := a.Download(ctx, "inbox/a.txt"); !errors.Is(err, filekit.ErrNotExist) {
		t.Errorf("Download of deleted file = %v, want ErrNotExist", err)
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
		t.Error("Created directory should exist")
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

func TestIntegrationRename(t *testing.T) {
	a := newIntegrationAdapter(t)
	ctx := context.Background()

	t.Run("MovesFile", func(t *testing.T) {
		if err := a.Upload(ctx, "inbox/a.txt", strings.NewReader("payload")); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if err := a.Rename(ctx, "inbox/a.txt", "inbox/a.txt.w1.staked"); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}

		exists, _ := a.Exists(ctx, "inbox/a.txt")
		if exists {
			t.Error("Source should be gone after rename")
		}
		exists, _ = a.Exists(ctx, "inbox/a.txt.w1.staked")
		if !exists {
			t.Error("Destination should exist after rename")
		}
	})

	t.Run("MissingSource", func(t *testing.T) {
		err := a.Rename(ctx, "inbox/ghost.txt", "inbox/ghost.staked")
		if !errors.Is(err, filekit.ErrNotExist) {
			t.Errorf("Rename of missing source = %v, want ErrNotExist", err)
		}
	})

	// The server refuses to rename a vanished source, so of several
	// workers claiming the same file exactly one wins.
	t.Run("Race", func(t *testing.T) {
		if err := a.Upload(ctx, "race/job.csv", strings.NewReader("payload")); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}

		const workers = 4
		results := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				dst := fmt.Sprintf("race/job.csv.w%d.staked", i)
				results[i] = a.Rename(ctx, "race/job.csv", dst)
			}(i)
		}
		wg.Wait()

		wins := 0
		for i, err := range results {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, filekit.ErrNotExist):
			default:
				t.Errorf("Worker %d got unexpected error: %v", i, err)
			}
		}
		if wins != 1 {
			t.Errorf("Rename race had %d winners, want exactly 1", wins)
		}

		var remaining []string
		for f, err := range a.List(ctx, "race/", filekit.WalkOptions{}) {
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			remaining = append(remaining, f.Path)
		}
		if len(remaining) != 1 {
			t.Errorf("Store holds %v after race, want exactly one claim", remaining)
		}
	})
}
