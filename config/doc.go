// Package config provides flexible configuration loading from environment variables
// with support for custom prefixes, automatic type conversion, and .env file loading.
//
// This package follows the twelve-factor app methodology for configuration management,
// allowing applications to be easily configured across different environments without
// code changes. It supports struct-based configuration with field tags.
//
// # Basic Usage
//
// Define a configuration struct with environment variable tags:
//
//	type Config struct {
//	    Bucket  string        `env:"BUCKET"`
//	    Port    int           `env:"PORT,default:8080"`
//	    Debug   bool          `env:"DEBUG,default:false"`
//	    Timeout time.Duration `env:"TIMEOUT,default:30s"`
//	}
//
// Load configuration from environment variables:
//
//	import "github.com/gobeaver/filekit/config"
//
//	var cfg Config
//	err := config.Load(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Custom Prefixes
//
// Use custom prefixes to avoid environment variable conflicts:
//
//	// Load with custom prefix (will look for MYAPP_BUCKET, MYAPP_PORT, etc.)
//	err := config.Load(&cfg, config.LoadOptions{Prefix: "MYAPP_"})
//
// The filekit package exposes the same mechanism through its builder:
//
//	err := filekit.WithPrefix("MYAPP_").Init()
//
// # Supported Types
//
// The config package automatically handles type conversion for:
//   - string: Direct string values
//   - int, int64: Integer conversion with validation
//   - bool: Boolean conversion ("true", "false", "1", "0")
//   - time.Duration: Duration parsing ("1h30m", "45s", etc.)
//
// # Field Tags
//
// Configure field behavior using struct tags:
//   - `env:"VAR_NAME"`: Specify environment variable name
//   - `env:"VAR_NAME,default:value"`: Inline default if the variable is not set
//   - `envDefault:"value"`: Standalone default tag, equivalent to the inline form
//
// # Environment File Support
//
// The package automatically loads .env files from the current directory:
//
//	# .env file
//	BEAVER_FILEKIT_DRIVER=s3
//	BEAVER_FILEKIT_S3_BUCKET=invoices
//
// Environment variables take precedence over .env file values.
//
// # Debug Mode
//
// Enable debug logging to see configuration loading details:
//
//	// Enable debug via environment variable
//	export BEAVER_CONFIG_DEBUG=true
//
//	// Or programmatically
//	err := config.Load(&cfg, config.LoadOptions{Debug: true})
package config
