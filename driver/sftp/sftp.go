package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gobeaver/filekit"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Adapter provides an SFTP implementation of filekit.Backend. SFTP is the
// backend of choice for rename-based claiming: the server's rename refuses
// to overwrite an existing target and fails when the source is gone, so of
// two workers renaming the same file exactly one succeeds.
type Adapter struct {
	conn   *ssh.Client
	client *sftp.Client
	base   string
}

// AdapterOption is a function that configures the Adapter
type AdapterOption func(*Adapter)

// WithBasePath roots all remote paths under base.
func WithBasePath(base string) AdapterOption {
	return func(a *Adapter) {
		a.base = strings.TrimSuffix(base, "/")
	}
}

// New creates a new SFTP adapter over an existing client. The adapter owns
// the client and closes it on Close; pass the ssh connection too when the
// adapter should close that as well.
func New(client *sftp.Client, conn *ssh.Client, options ...AdapterOption) *Adapter {
	adapter := &Adapter{
		conn:   conn,
		client: client,
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// NewFromConfig dials the configured server and creates an SFTP adapter.
// Host identity is verified against the configured known_hosts file (or
// ~/.ssh/known_hosts) unless verification is explicitly disabled.
func NewFromConfig(cfg filekit.Config) (*Adapter, error) {
	if cfg.SFTPHost == "" {
		return nil, fmt.Errorf("%w: sftp host is required", filekit.ErrInvalidConfig)
	}
	if cfg.SFTPUser == "" {
		return nil, fmt.Errorf("%w: sftp user is required", filekit.ErrInvalidConfig)
	}

	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostKeys, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            cfg.SFTPUser,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.SFTPConnectTimeout,
	}

	port := cfg.SFTPPort
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.SFTPHost, strconv.Itoa(port))

	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("sftp: dial %s: %w", addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp: session on %s: %w", addr, err)
	}

	return New(client, conn, WithBasePath(cfg.SFTPBasePath)), nil
}

// authMethods builds the ssh auth methods from config: a private key when
// one is configured, a password when one is set, in that order.
func authMethods(cfg filekit.Config) ([]ssh.AuthMethod, error) {
	var auth []ssh.AuthMethod

	if cfg.SFTPPrivateKeyFile != "" {
		pem, err := os.ReadFile(cfg.SFTPPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: read private key: %w", err)
		}
		var signer ssh.Signer
		if cfg.SFTPPrivateKeyPassword != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(cfg.SFTPPrivateKeyPassword))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("sftp: parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if cfg.SFTPPassword != "" {
		auth = append(auth, ssh.Password(cfg.SFTPPassword))
	}

	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: sftp needs a password or a private key", filekit.ErrInvalidConfig)
	}
	return auth, nil
}

// hostKeyCallback builds the host identity check from config.
func hostKeyCallback(cfg filekit.Config) (ssh.HostKeyCallback, error) {
	if cfg.SFTPInsecureIgnoreHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	file := cfg.SFTPKnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sftp: locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("sftp: load known_hosts: %w", err)
	}
	return cb, nil
}

// fullPath maps a normalized store path onto the remote server under the
// base path. Remote paths always use forward slashes.
func (a *Adapter) fullPath(p string) string {
	full := path.Join(a.base, strings.TrimSuffix(p, "/"))
	if full == "" {
		return "."
	}
	return full
}

// Upload implements filekit.Backend
func (a *Adapter) Upload(ctx context.Context, filePath string, content io.Reader, options ...filekit.Option) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	full := a.fullPath(filePath)

	if err := a.client.MkdirAll(path.Dir(full)); err != nil {
		return &filekit.PathError{Op: "upload", Path: filePath, Err: err}
	}

	f, err := a.client.Create(full)
	if err != nil {
		return mapSFTPError("upload", filePath, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return &filekit.PathError{Op: "upload", Path: filePath, Err: err}
	}
	if err := f.Close(); err != nil {
		return &filekit.PathError{Op: "upload", Path: filePath, Err: err}
	}

	opts := filekit.ApplyOptions(options...)
	if opts.Visibility == filekit.Public {
		if err := a.client.Chmod(full, 0644); err != nil {
			return &filekit.PathError{Op: "upload", Path: filePath, Err: err}
		}
	} else if opts.Visibility == filekit.Private {
		if err := a.client.Chmod(full, 0600); err != nil {
			return &filekit.PathError{Op: "upload", Path: filePath, Err: err}
		}
	}

	return nil
}

// Download implements filekit.Backend
func (a *Adapter) Download(ctx context.Context, filePath string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f, err := a.client.Open(a.fullPath(filePath))
	if err != nil {
		return nil, mapSFTPError("download", filePath, err)
	}

	return f, nil
}

// Delete implements filekit.Backend
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := a.client.Remove(a.fullPath(filePath)); err != nil {
		return mapSFTPError("delete", filePath, err)
	}

	return nil
}

// Exists implements filekit.Backend
func (a *Adapter) Exists(ctx context.Context, filePath string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	info, err := a.client.Stat(a.fullPath(filePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, mapSFTPError("exists", filePath, err)
	}

	return !info.IsDir(), nil
}

// PathExists implements filekit.Backend
func (a *Adapter) PathExists(ctx context.Context, dirPath string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	info, err := a.client.Stat(a.fullPath(dirPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, mapSFTPError("pathexists", dirPath, err)
	}

	return info.IsDir(), nil
}

// FileInfo implements filekit.Backend
func (a *Adapter) FileInfo(ctx context.Context, filePath string) (*filekit.File, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	full := a.fullPath(filePath)
	info, err := a.client.Stat(full)
	if err != nil {
		return nil, mapSFTPError("fileinfo", filePath, err)
	}

	contentType := ""
	if !info.IsDir() {
		contentType = mime.TypeByExtension(path.Ext(full))
	}

	return &filekit.File{
		Name:        path.Base(full),
		Path:        filePath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		IsDir:       info.IsDir(),
		ContentType: contentType,
	}, nil
}

// List implements filekit.Backend. Entries that vanish while the walk is
// running are skipped; concurrent workers claiming files out of a watched
// directory is normal operation.
func (a *Adapter) List(ctx context.Context, dirPath string, opts filekit.WalkOptions) iter.Seq2[filekit.File, error] {
	return func(yield func(filekit.File, error) bool) {
		select {
		case <-ctx.Done():
			yield(filekit.File{}, ctx.Err())
			return
		default:
		}

		full := a.fullPath(dirPath)

		if !opts.Recursive {
			a.listDir(dirPath, full, opts, yield)
			return
		}

		walker := a.client.Walk(full)
		for walker.Step() {
			if err := walker.Err(); err != nil {
				if errors.Is(err, os.ErrNotExist) && walker.Path() != full {
					continue
				}
				yield(filekit.File{}, mapSFTPError("list", dirPath, err))
				return
			}
			if walker.Path() == full {
				continue
			}

			f := a.entryFile(dirPath, full, walker.Path(), walker.Stat())
			if f.IsDir && !opts.IncludeDirs {
				continue
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// listDir yields a single directory level.
func (a *Adapter) listDir(dirPath, full string, opts filekit.WalkOptions, yield func(filekit.File, error) bool) {
	entries, err := a.client.ReadDir(full)
	if err != nil {
		yield(filekit.File{}, mapSFTPError("list", dirPath, err))
		return
	}

	for _, info := range entries {
		f := a.entryFile(dirPath, full, path.Join(full, info.Name()), info)
		if f.IsDir && !opts.IncludeDirs {
			continue
		}
		if !yield(f, nil) {
			return
		}
	}
}

// entryFile builds a File for a walked entry.
func (a *Adapter) entryFile(dirPath, full, entryPath string, info os.FileInfo) filekit.File {
	rel := strings.TrimPrefix(strings.TrimPrefix(entryPath, full), "/")
	storePath := dirPath + rel
	if info.IsDir() {
		storePath += "/"
	}

	contentType := ""
	if !info.IsDir() {
		contentType = mime.TypeByExtension(path.Ext(entryPath))
	}

	return filekit.File{
		Name:        info.Name(),
		Path:        storePath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		IsDir:       info.IsDir(),
		ContentType: contentType,
	}
}

// CreateDir implements filekit.Backend
func (a *Adapter) CreateDir(ctx context.Context, dirPath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := a.client.MkdirAll(a.fullPath(dirPath)); err != nil {
		return mapSFTPError("createdir", dirPath, err)
	}

	return nil
}

// DeleteDir implements filekit.Backend
func (a *Adapter) DeleteDir(ctx context.Context, dirPath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	full := a.fullPath(dirPath)

	info, err := a.client.Stat(full)
	if err != nil {
		return mapSFTPError("deletedir", dirPath, err)
	}
	if !info.IsDir() {
		return &filekit.PathError{Op: "deletedir", Path: dirPath, Err: filekit.ErrNotDir}
	}

	if err := a.client.RemoveAll(full); err != nil {
		return mapSFTPError("deletedir", dirPath, err)
	}

	return nil
}

// Rename implements filekit.Renamer via the server's rename, which fails
// when the target exists and when the source is gone. Servers that answer
// a lost race with a generic failure instead of "no such file" are
// disambiguated by re-checking the source.
func (a *Adapter) Rename(ctx context.Context, oldpath, newpath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	oldFull := a.fullPath(oldpath)
	newFull := a.fullPath(newpath)

	if err := a.client.MkdirAll(path.Dir(newFull)); err != nil {
		return &filekit.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}

	err := a.client.Rename(oldFull, newFull)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return &filekit.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: filekit.ErrNotExist}
	}
	if _, statErr := a.client.Stat(oldFull); errors.Is(statErr, os.ErrNotExist) {
		return &filekit.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: filekit.ErrNotExist}
	}

	return &filekit.LinkError{
		Op:  "rename",
		Old: oldpath,
		New: newpath,
		Err: errors.Join(filekit.ErrBackend, err),
	}
}

// UploadFile implements filekit.Uploader
func (a *Adapter) UploadFile(ctx context.Context, filePath string, localPath string, options ...filekit.Option) error {
	file, err := os.Open(localPath)
	if err != nil {
		return &filekit.PathError{
			Op:   "uploadfile",
			Path: localPath,
			Err:  err,
		}
	}
	defer file.Close()

	return a.Upload(ctx, filePath, file, options...)
}

// Close implements filekit.Backend, closing the sftp session and the ssh
// connection beneath it.
func (a *Adapter) Close() error {
	err := a.client.Close()
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// mapSFTPError maps sftp errors to filekit errors
func mapSFTPError(op, path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return &filekit.PathError{
			Op:   op,
			Path: path,
			Err:  filekit.ErrNotExist,
		}
	}

	return &filekit.PathError{
		Op:   op,
		Path: path,
		Err:  errors.Join(filekit.ErrBackend, err),
	}
}
