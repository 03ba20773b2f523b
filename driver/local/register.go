package local

import "github.com/gobeaver/filekit"

func init() {
	filekit.RegisterDriver("local", func(cfg filekit.Config) (filekit.Backend, error) {
		var options []AdapterOption
		if cfg.LocalPublicURL != "" && cfg.LocalURLSecret != "" {
			signer, err := NewURLSigner(cfg.LocalPublicURL, cfg.LocalURLSecret)
			if err != nil {
				return nil, err
			}
			options = append(options, WithURLSigner(signer))
		}
		return New(cfg.LocalBasePath, options...)
	})
}
