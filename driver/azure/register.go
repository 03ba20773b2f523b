package azure

import "github.com/gobeaver/filekit"

func init() {
	filekit.RegisterDriver("azure", func(cfg filekit.Config) (filekit.Backend, error) {
		return NewFromConfig(cfg)
	})
}
