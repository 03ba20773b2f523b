package filekit

import (
	"context"
	"io"
)

// streamManager implements the Streamer interface
type streamManager struct {
	backend Backend
}

// NewStreamer wraps a backend in the narrow Streamer interface. Calls go
// straight to the backend after filename normalization, with none of the
// verified layer's pre- and post-condition checks.
func NewStreamer(backend Backend) Streamer {
	return &streamManager{backend: backend}
}

func (s *streamManager) Stream(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.backend.Download(ctx, NormalizeFilename(path))
}

func (s *streamManager) StreamWrite(ctx context.Context, path string, reader io.Reader) error {
	return s.backend.Upload(ctx, NormalizeFilename(path), reader)
}
