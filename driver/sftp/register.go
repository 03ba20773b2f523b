package sftp

import "github.com/gobeaver/filekit"

func init() {
	filekit.RegisterDriver("sftp", func(cfg filekit.Config) (filekit.Backend, error) {
		return NewFromConfig(cfg)
	})
}
