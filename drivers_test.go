package filekit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"
)

func init() {
	// Register the mock drivers used by the service tests. The real driver
	// packages are not imported here, so "local" is free for an in-memory
	// stand-in and zero-config Init works against it.
	RegisterDriver("mock", func(cfg Config) (Backend, error) {
		return newRenameMem(), nil
	})
	RegisterDriver("local", func(cfg Config) (Backend, error) {
		return newRenameMem(), nil
	})
	RegisterDriver("mock-fail", func(cfg Config) (Backend, error) {
		return nil, fmt.Errorf("mock driver forced failure")
	})
}

// memBackend is an in-memory Backend for testing. All operations take one
// lock, so each is atomic with respect to the others. The plain type has
// neither native rename nor server-side copy; renameMem and copierMem add
// those capabilities on top.
type memBackend struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	// failure injection for post-condition verification tests
	dropUploads bool // Upload reports success without storing
	keepDeletes bool // Delete reports success without removing

	lastOpts *Options // options seen by the most recent Upload
	closed   bool
}

func newMem() *memBackend {
	return &memBackend{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

func (m *memBackend) Upload(ctx context.Context, path string, content io.Reader, options ...Option) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpts = ApplyOptions(options...)
	if m.dropUploads {
		return nil
	}
	m.files[path] = data
	return nil
}

func (m *memBackend) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, &PathError{Op: "download", Path: path, Err: ErrNotExist}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBackend) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; !ok {
		return &PathError{Op: "delete", Path: path, Err: ErrNotExist}
	}
	if m.keepDeletes {
		return nil
	}
	delete(m.files, path)
	return nil
}

func (m *memBackend) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *memBackend) PathExists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if path == "" || m.dirs[path] {
		return true, nil
	}
	for f := range m.files {
		if strings.HasPrefix(f, path) {
			return true, nil
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, path) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBackend) FileInfo(ctx context.Context, path string) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, &PathError{Op: "fileinfo", Path: path, Err: ErrNotExist}
	}
	i := strings.LastIndex(path, "/")
	return &File{
		Name:    path[i+1:],
		Path:    path,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}, nil
}

func (m *memBackend) List(ctx context.Context, path string, opts WalkOptions) iter.Seq2[File, error] {
	return func(yield func(File, error) bool) {
		m.mu.Lock()
		var paths []string
		seenDirs := make(map[string]bool)
		for f := range m.files {
			if !strings.HasPrefix(f, path) {
				continue
			}
			rel := f[len(path):]
			if i := strings.Index(rel, "/"); i >= 0 && !opts.Recursive {
				// Deeper entry: surface only the immediate child dir
				seenDirs[path+rel[:i+1]] = true
				continue
			}
			paths = append(paths, f)
		}
		if opts.IncludeDirs {
			for d := range m.dirs {
				if d == path || !strings.HasPrefix(d, path) {
					continue
				}
				rel := strings.TrimSuffix(d[len(path):], "/")
				if strings.Contains(rel, "/") && !opts.Recursive {
					continue
				}
				seenDirs[d] = true
			}
			for d := range seenDirs {
				paths = append(paths, d)
			}
		}
		sizes := make(map[string]int64, len(paths))
		for _, p := range paths {
			sizes[p] = int64(len(m.files[p]))
		}
		m.mu.Unlock()

		sort.Strings(paths)
		for _, p := range paths {
			isDir := strings.HasSuffix(p, "/")
			name := p
			if i := strings.LastIndex(strings.TrimSuffix(p, "/"), "/"); i >= 0 {
				name = strings.TrimSuffix(p, "/")[i+1:]
			} else {
				name = strings.TrimSuffix(p, "/")
			}
			f := File{
				Name:  name,
				Path:  p,
				Size:  sizes[p],
				IsDir: isDir,
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

func (m *memBackend) CreateDir(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	return nil
}

func (m *memBackend) DeleteDir(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dirs, path)
	for f := range m.files {
		if strings.HasPrefix(f, path) {
			delete(m.files, f)
		}
	}
	for d := range m.dirs {
		if strings.HasPrefix(d, path) {
			delete(m.dirs, d)
		}
	}
	return nil
}

func (m *memBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// byteContent returns the stored content of path, "" when absent.
func (m *memBackend) byteContent(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.files[path])
}

// fileCount returns the number of stored files.
func (m *memBackend) fileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// renameMem adds an atomic rename to memBackend. The single lock makes the
// rename a true compare-and-swap: of two concurrent renames of the same
// source, exactly one finds it.
type renameMem struct {
	*memBackend
}

func newRenameMem() *renameMem {
	return &renameMem{memBackend: newMem()}
}

func (m *renameMem) Rename(ctx context.Context, oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[oldpath]
	if !ok {
		return &LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrNotExist}
	}
	if _, exists := m.files[newpath]; exists {
		return &LinkError{Op: "rename", Old: oldpath, New: newpath, Err: ErrExist}
	}
	m.files[newpath] = data
	delete(m.files, oldpath)
	return nil
}

// copierMem adds a server-side copy to memBackend.
type copierMem struct {
	*memBackend
}

func newCopierMem() *copierMem {
	return &copierMem{memBackend: newMem()}
}

func (m *copierMem) Copy(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[src]
	if !ok {
		return &PathError{Op: "copy", Path: src, Err: ErrNotExist}
	}
	m.files[dst] = append([]byte{}, data...)
	return nil
}

// seed stores a file directly, bypassing the operation layers.
func (m *memBackend) seed(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = []byte(content)
}
