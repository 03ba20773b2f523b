package filekit

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/gobeaver/filekit/config"
)

// Global instances
var (
	defaultFS   *FS
	defaultOnce sync.Once
	defaultErr  error
)

// Common errors
var (
	ErrNotInitialized = errors.New("filekit not initialized")
	ErrInvalidDriver  = errors.New("invalid filekit driver")
	ErrInvalidConfig  = errors.New("invalid filekit configuration")
)

// DriverFactory builds a backend from config. Driver packages register one
// from their init function.
type DriverFactory func(cfg Config) (Backend, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver makes a backend factory available under the given name.
// Importing a driver package for side effects is the usual way to call it:
//
//	import _ "github.com/gobeaver/filekit/driver/s3"
//
// Registering a nil factory or the same name twice panics.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("filekit: RegisterDriver factory is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("filekit: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = factory
}

// Drivers returns the sorted names of the registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builder provides a way to create handles with custom config prefixes
type Builder struct {
	prefix string
}

// WithPrefix creates a new Builder with the specified prefix
func WithPrefix(prefix string) *Builder {
	return &Builder{prefix: prefix}
}

// Init initializes the global handle using the builder's prefix
func (b *Builder) Init() error {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return err
	}
	return Init(*cfg)
}

// New creates a new handle using the builder's prefix
func (b *Builder) New() (*FS, error) {
	cfg := &Config{}
	if err := config.Load(cfg, config.LoadOptions{Prefix: b.prefix}); err != nil {
		return nil, err
	}
	return New(*cfg)
}

// Init initializes the global handle with optional config
func Init(configs ...Config) error {
	defaultOnce.Do(func() {
		var cfg *Config
		if len(configs) > 0 {
			cfg = &configs[0]
		} else {
			cfg, defaultErr = GetConfig()
			if defaultErr != nil {
				return
			}
		}

		defaultFS, defaultErr = New(*cfg)
	})

	return defaultErr
}

// New creates a handle from config: the registered driver builds the
// backend, encryption wraps it when enabled, and the facade settings come
// from the config's base path, staking and throttling fields.
func New(cfg Config) (*FS, error) {
	if cfg.Driver == "" {
		cfg.Driver = "local"
	}

	driversMu.RLock()
	factory, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, ErrInvalidDriver
	}

	backend, err := factory(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.EncryptionEnabled {
		encrypted, err := NewEncryptedBackend(backend, cfg)
		if err != nil {
			backend.Close()
			return nil, err
		}
		backend = encrypted
	}

	opts := []FSOption{
		WithDriverName(cfg.Driver),
		WithBasePath(cfg.BasePath),
		WithStakingSuffix(cfg.StakingSuffix),
		WithDownloadLimit(cfg.DownloadLimit),
		WithDefaultOptions(cfg.defaultOptions()...),
	}
	if cfg.TempPathPrefix != "" {
		opts = append(opts, WithTempPathPrefix(cfg.TempPathPrefix))
	}
	return NewFS(backend, opts...), nil
}

// Default returns the global handle
func Default() *FS {
	if defaultFS == nil {
		_ = Init()
	}
	return defaultFS
}

// Upload writes content to path through the global handle
func Upload(ctx context.Context, path string, content io.Reader, options ...Option) error {
	if defaultFS == nil {
		return ErrNotInitialized
	}
	return defaultFS.Upload(ctx, path, content, options...)
}

// Download opens the file at path through the global handle
func Download(ctx context.Context, path string) (io.ReadCloser, error) {
	if defaultFS == nil {
		return nil, ErrNotInitialized
	}
	return defaultFS.Download(ctx, path)
}

// Delete removes the file at path through the global handle
func Delete(ctx context.Context, path string) error {
	if defaultFS == nil {
		return ErrNotInitialized
	}
	return defaultFS.Delete(ctx, path)
}

// Exists checks the file at path through the global handle
func Exists(ctx context.Context, path string) (bool, error) {
	if defaultFS == nil {
		return false, ErrNotInitialized
	}
	return defaultFS.Exists(ctx, path)
}

// Move renames src to dst through the global handle
func Move(ctx context.Context, src, dst string, options ...Option) error {
	if defaultFS == nil {
		return ErrNotInitialized
	}
	return defaultFS.Move(ctx, src, dst, options...)
}

// StakeFiles stakes files through the global handle
func StakeFiles(ctx context.Context, remotePath, localPath string, strategy StakeStrategy, cb Callbacks, opts WalkOptions) error {
	if defaultFS == nil {
		return ErrNotInitialized
	}
	return defaultFS.StakeFiles(ctx, remotePath, localPath, strategy, cb, opts)
}

// Reset clears the global instance (for testing)
func Reset() {
	if defaultFS != nil {
		defaultFS.Close()
	}
	defaultFS = nil
	defaultOnce = sync.Once{}
	defaultErr = nil
}

// Shutdown gracefully closes the global handle
func Shutdown(ctx context.Context) error {
	if defaultFS == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- defaultFS.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MustInit initializes the global handle and panics on error
func MustInit(configs ...Config) {
	if err := Init(configs...); err != nil {
		panic("failed to initialize filekit: " + err.Error())
	}
}

// InitFromEnv is an alias for Init with no arguments
func InitFromEnv() error {
	return Init()
}

// NewFromEnv creates a handle from environment variables
func NewFromEnv() (*FS, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	return New(*cfg)
}
