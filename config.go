package filekit

import (
	"time"

	"github.com/gobeaver/filekit/config"
)

type Config struct {
	// Driver to use (local, s3, gcs, azure, sftp)
	Driver string `env:"FILEKIT_DRIVER,default:local"`

	// Base path prepended to every caller path. Confines a handle to a
	// subtree of the store.
	BasePath string `env:"FILEKIT_BASE_PATH"`

	// Staking settings
	StakingSuffix string `env:"FILEKIT_STAKING_SUFFIX,default:staked"`

	// Download throttling: 0 disables the limit
	DownloadLimit int `env:"FILEKIT_DOWNLOAD_LIMIT,default:0"`

	// Prefix for temp path names allocated by CreateTempPath
	TempPathPrefix string `env:"FILEKIT_TEMP_PATH_PREFIX,default:tmp-"`

	// Local driver configuration. Setting both the public URL and the
	// URL secret enables signed URL generation.
	LocalBasePath  string `env:"FILEKIT_LOCAL_BASE_PATH,default:./storage"`
	LocalPublicURL string `env:"FILEKIT_LOCAL_PUBLIC_URL"`
	LocalURLSecret string `env:"FILEKIT_LOCAL_URL_SECRET"`

	// S3 driver configuration
	S3Region          string `env:"FILEKIT_S3_REGION,default:us-east-1"`
	S3Bucket          string `env:"FILEKIT_S3_BUCKET"`
	S3Prefix          string `env:"FILEKIT_S3_PREFIX"`
	S3Endpoint        string `env:"FILEKIT_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"FILEKIT_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"FILEKIT_S3_SECRET_ACCESS_KEY"`
	S3ForcePathStyle  bool   `env:"FILEKIT_S3_FORCE_PATH_STYLE,default:false"`

	// GCS driver configuration
	GCSBucket          string `env:"FILEKIT_GCS_BUCKET"`
	GCSPrefix          string `env:"FILEKIT_GCS_PREFIX"`
	GCSCredentialsFile string `env:"FILEKIT_GCS_CREDENTIALS_FILE"`
	GCSEndpoint        string `env:"FILEKIT_GCS_ENDPOINT"`
	GCSAnonymous       bool   `env:"FILEKIT_GCS_ANONYMOUS,default:false"`

	// Azure Blob Storage driver configuration
	AzureAccountName string `env:"FILEKIT_AZURE_ACCOUNT_NAME"`
	AzureAccountKey  string `env:"FILEKIT_AZURE_ACCOUNT_KEY"`
	AzureContainer   string `env:"FILEKIT_AZURE_CONTAINER"`
	AzurePrefix      string `env:"FILEKIT_AZURE_PREFIX"`
	AzureServiceURL  string `env:"FILEKIT_AZURE_SERVICE_URL"`

	// SFTP driver configuration
	SFTPHost                string        `env:"FILEKIT_SFTP_HOST"`
	SFTPPort                int           `env:"FILEKIT_SFTP_PORT,default:22"`
	SFTPUser                string        `env:"FILEKIT_SFTP_USER"`
	SFTPPassword            string        `env:"FILEKIT_SFTP_PASSWORD"`
	SFTPPrivateKeyFile      string        `env:"FILEKIT_SFTP_PRIVATE_KEY_FILE"`
	SFTPPrivateKeyPassword  string        `env:"FILEKIT_SFTP_PRIVATE_KEY_PASSWORD"`
	SFTPKnownHostsFile      string        `env:"FILEKIT_SFTP_KNOWN_HOSTS_FILE"`
	SFTPInsecureIgnoreHosts bool          `env:"FILEKIT_SFTP_INSECURE_IGNORE_HOSTS,default:false"`
	SFTPBasePath            string        `env:"FILEKIT_SFTP_BASE_PATH"`
	SFTPConnectTimeout      time.Duration `env:"FILEKIT_SFTP_CONNECT_TIMEOUT,default:30s"`

	// Default upload options
	DefaultVisibility   string `env:"FILEKIT_DEFAULT_VISIBILITY,default:private"`
	DefaultCacheControl string `env:"FILEKIT_DEFAULT_CACHE_CONTROL"`
	DefaultOverwrite    bool   `env:"FILEKIT_DEFAULT_OVERWRITE,default:false"`

	// Encryption settings
	EncryptionEnabled   bool   `env:"FILEKIT_ENCRYPTION_ENABLED,default:false"`
	EncryptionAlgorithm string `env:"FILEKIT_ENCRYPTION_ALGORITHM,default:AES-256-GCM"`
	EncryptionKey       string `env:"FILEKIT_ENCRYPTION_KEY"`
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultOptions translates the config's default upload settings into
// Option values applied to every upload from this handle.
func (c *Config) defaultOptions() []Option {
	var opts []Option
	if c.DefaultVisibility != "" {
		opts = append(opts, WithVisibility(Visibility(c.DefaultVisibility)))
	}
	if c.DefaultCacheControl != "" {
		opts = append(opts, WithCacheControl(c.DefaultCacheControl))
	}
	if c.DefaultOverwrite {
		opts = append(opts, WithOverwrite(true))
	}
	return opts
}
