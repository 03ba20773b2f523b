package filekit

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"time"
)

// encryptChunkSize is the plaintext chunk size sealed per frame.
const encryptChunkSize = 32 * 1024

// EncryptedBackend wraps a Backend with transparent AES-256-GCM content
// encryption. Uploads are sealed in framed chunks, downloads are opened
// frame by frame, and everything name-related passes through untouched:
// listing, rename and server-side copy all operate on ciphertext objects,
// so staking works unchanged over an encrypted store.
//
// Each frame on the wire is nonce, big-endian ciphertext length, then the
// sealed chunk. Nonces are random per chunk. Reported file sizes are
// stored sizes, framing and GCM overhead included.
type EncryptedBackend struct {
	backend Backend
	key     []byte
}

// NewEncryptedBackend wraps a backend using the encryption settings from
// config. The key is hex-decoded when it is 64 hex characters and used
// as-is when it is exactly 32 bytes.
func NewEncryptedBackend(backend Backend, cfg Config) (*EncryptedBackend, error) {
	if cfg.EncryptionAlgorithm != "" && cfg.EncryptionAlgorithm != "AES-256-GCM" {
		return nil, fmt.Errorf("%w: unsupported encryption algorithm %q", ErrInvalidConfig, cfg.EncryptionAlgorithm)
	}
	key, err := parseEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return NewEncryptedBackendWithKey(backend, key)
}

// NewEncryptedBackendWithKey wraps a backend with a raw 32-byte key.
func NewEncryptedBackendWithKey(backend Backend, key []byte) (*EncryptedBackend, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", ErrInvalidConfig, len(key))
	}
	return &EncryptedBackend{backend: backend, key: append([]byte{}, key...)}, nil
}

// parseEncryptionKey accepts a 64-character hex key or a raw 32-byte key.
func parseEncryptionKey(key string) ([]byte, error) {
	if len(key) == 64 {
		if decoded, err := hex.DecodeString(key); err == nil {
			return decoded, nil
		}
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("%w: encryption key must be 64 hex characters or 32 raw bytes", ErrInvalidConfig)
}

func (e *EncryptedBackend) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Upload encrypts the content before uploading
func (e *EncryptedBackend) Upload(ctx context.Context, path string, content io.Reader, options ...Option) error {
	gcm, err := e.newGCM()
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(sealFrames(pw, content, gcm))
	}()

	return e.backend.Upload(ctx, path, pr, options...)
}

// sealFrames reads plaintext chunks and writes one frame per chunk.
func sealFrames(w io.Writer, content io.Reader, gcm cipher.AEAD) error {
	buf := make([]byte, encryptChunkSize)
	nonce := make([]byte, gcm.NonceSize())
	var header [4]byte

	for {
		n, readErr := io.ReadFull(content, buf)
		if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
			return readErr
		}

		if n > 0 {
			if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
				return err
			}
			sealed := gcm.Seal(nil, nonce, buf[:n], nil)
			binary.BigEndian.PutUint32(header[:], uint32(len(sealed)))
			if _, err := w.Write(nonce); err != nil {
				return err
			}
			if _, err := w.Write(header[:]); err != nil {
				return err
			}
			if _, err := w.Write(sealed); err != nil {
				return err
			}
		}

		if readErr != nil {
			return nil
		}
	}
}

// Download decrypts the content after downloading
func (e *EncryptedBackend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	encrypted, err := e.backend.Download(ctx, path)
	if err != nil {
		return nil, err
	}

	gcm, err := e.newGCM()
	if err != nil {
		encrypted.Close()
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		err := openFrames(pw, encrypted, gcm)
		encrypted.Close()
		pw.CloseWithError(err)
	}()

	return pr, nil
}

// openFrames reads frames and writes the decrypted chunks.
func openFrames(w io.Writer, encrypted io.Reader, gcm cipher.AEAD) error {
	nonce := make([]byte, gcm.NonceSize())
	var header [4]byte

	for {
		if _, err := io.ReadFull(encrypted, nonce); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.New("invalid encrypted data: truncated frame")
		}
		if _, err := io.ReadFull(encrypted, header[:]); err != nil {
			return errors.New("invalid encrypted data: truncated frame")
		}

		size := binary.BigEndian.Uint32(header[:])
		if size == 0 || size > encryptChunkSize+uint32(gcm.Overhead()) {
			return errors.New("invalid encrypted data: bad frame size")
		}

		sealed := make([]byte, size)
		if _, err := io.ReadFull(encrypted, sealed); err != nil {
			return errors.New("invalid encrypted data: truncated frame")
		}

		plaintext, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return err
		}
		if _, err := w.Write(plaintext); err != nil {
			return err
		}
	}
}

// UploadFile encrypts and uploads a local file
func (e *EncryptedBackend) UploadFile(ctx context.Context, path, localPath string, options ...Option) error {
	file, err := os.Open(localPath)
	if err != nil {
		return &PathError{
			Op:   "uploadfile",
			Path: localPath,
			Err:  err,
		}
	}
	defer file.Close()

	return e.Upload(ctx, path, file, options...)
}

// Delete delegates to the underlying backend
func (e *EncryptedBackend) Delete(ctx context.Context, path string) error {
	return e.backend.Delete(ctx, path)
}

// Exists delegates to the underlying backend
func (e *EncryptedBackend) Exists(ctx context.Context, path string) (bool, error) {
	return e.backend.Exists(ctx, path)
}

// PathExists delegates to the underlying backend
func (e *EncryptedBackend) PathExists(ctx context.Context, path string) (bool, error) {
	return e.backend.PathExists(ctx, path)
}

// FileInfo delegates to the underlying backend
func (e *EncryptedBackend) FileInfo(ctx context.Context, path string) (*File, error) {
	return e.backend.FileInfo(ctx, path)
}

// List delegates to the underlying backend
func (e *EncryptedBackend) List(ctx context.Context, path string, opts WalkOptions) iter.Seq2[File, error] {
	return e.backend.List(ctx, path, opts)
}

// CreateDir delegates to the underlying backend
func (e *EncryptedBackend) CreateDir(ctx context.Context, path string) error {
	return e.backend.CreateDir(ctx, path)
}

// DeleteDir delegates to the underlying backend
func (e *EncryptedBackend) DeleteDir(ctx context.Context, path string) error {
	return e.backend.DeleteDir(ctx, path)
}

// Rename delegates to the underlying backend when it renames natively.
// Renaming moves ciphertext by name; content is never touched.
func (e *EncryptedBackend) Rename(ctx context.Context, oldpath, newpath string) error {
	if r, ok := e.backend.(Renamer); ok {
		return r.Rename(ctx, oldpath, newpath)
	}
	return &LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrNotSupported}
}

// Copy delegates to the underlying backend when it copies server-side.
func (e *EncryptedBackend) Copy(ctx context.Context, src, dst string) error {
	if c, ok := e.backend.(Copier); ok {
		return c.Copy(ctx, src, dst)
	}
	return &LinkError{Op: "copy", Old: src, New: dst, Err: ErrNotSupported}
}

// GeneratePresignedURL delegates when the backend presigns. The URL serves
// ciphertext; callers fetching it directly must decrypt themselves.
func (e *EncryptedBackend) GeneratePresignedURL(ctx context.Context, path string, expires time.Duration) (string, error) {
	if g, ok := e.backend.(PresignedURLGenerator); ok {
		return g.GeneratePresignedURL(ctx, path, expires)
	}
	return "", &PathError{Op: "presign", Path: path, Err: ErrNotSupported}
}

// GeneratePresignedPutURL delegates when the backend presigns.
func (e *EncryptedBackend) GeneratePresignedPutURL(ctx context.Context, path string, expires time.Duration) (string, error) {
	if g, ok := e.backend.(PresignedURLGenerator); ok {
		return g.GeneratePresignedPutURL(ctx, path, expires)
	}
	return "", &PathError{Op: "presign", Path: path, Err: ErrNotSupported}
}

// Close delegates to the underlying backend
func (e *EncryptedBackend) Close() error {
	return e.backend.Close()
}
