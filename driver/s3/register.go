package s3

import (
	"context"

	"github.com/gobeaver/filekit"
)

func init() {
	filekit.RegisterDriver("s3", func(cfg filekit.Config) (filekit.Backend, error) {
		return NewFromConfig(context.Background(), cfg)
	})
}
