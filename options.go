package filekit

// Visibility controls the access level of an uploaded file on backends
// that support per-object ACLs.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// Options holds per-operation settings applied by backends during upload
// and by the verified layer for overwrite decisions.
type Options struct {
	ContentType  string
	CacheControl string
	Visibility   Visibility
	Metadata     map[string]string
	Overwrite    bool
}

// Option configures a single operation.
type Option func(*Options)

// WithContentType sets the MIME type stored with the file.
func WithContentType(contentType string) Option {
	return func(o *Options) {
		o.ContentType = contentType
	}
}

// WithCacheControl sets the Cache-Control header stored with the file.
func WithCacheControl(cacheControl string) Option {
	return func(o *Options) {
		o.CacheControl = cacheControl
	}
}

// WithVisibility sets the access level of the file.
func WithVisibility(v Visibility) Option {
	return func(o *Options) {
		o.Visibility = v
	}
}

// WithMetadata attaches user-defined metadata to the file.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// WithOverwrite allows a mutating operation to replace an existing
// destination. Without it, create, move and copy fail with ErrExist when
// the destination is already present.
func WithOverwrite(overwrite bool) Option {
	return func(o *Options) {
		o.Overwrite = overwrite
	}
}

// ApplyOptions folds a list of Option funcs into an Options value.
// Backends call this at the top of Upload.
func ApplyOptions(options ...Option) *Options {
	opts := &Options{Visibility: Private}
	for _, option := range options {
		option(opts)
	}
	return opts
}
