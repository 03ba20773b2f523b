package gcs

import (
	"context"

	"github.com/gobeaver/filekit"
)

func init() {
	filekit.RegisterDriver("gcs", func(cfg filekit.Config) (filekit.Backend, error) {
		return NewFromConfig(context.Background(), cfg)
	})
}
