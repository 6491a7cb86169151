// Package config loads process configuration from KITSTUDIO_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"kitstudio/internal/blob"
	"kitstudio/internal/core"
	"kitstudio/internal/ingest"
)

// Prefix is prepended to every environment variable name.
const Prefix = "KITSTUDIO_"

// Config is the full process configuration.
type Config struct {
	Addr            string        `env:"ADDR"             envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT"       envDefault:"json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH"    envDefault:"kitstudio.db"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	BlobDriver        string `env:"BLOB_DRIVER"          envDefault:"fs"`
	BlobRoot          string `env:"BLOB_ROOT"            envDefault:"data/blob"`
	PublicBaseURL     string `env:"PUBLIC_BASE_URL"`
	S3Bucket          string `env:"S3_BUCKET"`
	S3Region          string `env:"S3_REGION"            envDefault:"auto"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3PathStyle       bool   `env:"S3_PATH_STYLE"`

	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL"    envDefault:"gemini-2.5-flash"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL"`

	// ModelRPM and ModelBurst shape the token bucket shared by every model call.
	ModelRPM          float64 `env:"MODEL_RPM"          envDefault:"15"`
	ModelBurst        int     `env:"MODEL_BURST"        envDefault:"1"`
	MaxEntryBytes     int64   `env:"MAX_ENTRY_BYTES"    envDefault:"268435456"`
	MaxUploadBytes    int64   `env:"MAX_UPLOAD_BYTES"   envDefault:"536870912"`
	MaxExpandBytes    int64   `env:"MAX_EXPAND_BYTES"   envDefault:"1073741824"`
	ExportConcurrency int     `env:"EXPORT_CONCURRENCY" envDefault:"4"`

	HTTPRateLimit float64 `env:"HTTP_RATE_LIMIT" envDefault:"20"`
	HTTPBurst     int     `env:"HTTP_BURST"      envDefault:"40"`

	BrowserEnabled    bool   `env:"BROWSER_ENABLED"     envDefault:"true"`
	BrowserControlURL string `env:"BROWSER_CONTROL_URL"`
	BrowserBin        string `env:"BROWSER_BIN"`
	ScreenshotURL     string `env:"SCREENSHOT_API_URL"`
	ScreenshotKey     string `env:"SCREENSHOT_API_KEY"`

	AssetDir string `env:"ASSET_DIR" envDefault:"assets"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return load(env.Options{Prefix: Prefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return load(env.Options{Prefix: Prefix, Environment: vars})
}

func load(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%sLOG_LEVEL: %w", Prefix, err))
	}
	if f := strings.ToLower(c.LogFormat); f != "json" && f != "console" {
		errs = append(errs, fmt.Errorf("%sLOG_FORMAT must be json or console, got %q", Prefix, c.LogFormat))
	}
	switch core.StorageDriver(c.StorageDriver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("%sPOSTGRES_DSN is required for the postgres driver", Prefix))
		}
	default:
		errs = append(errs, fmt.Errorf("%sSTORAGE_DRIVER: unknown driver %q", Prefix, c.StorageDriver))
	}
	switch blob.Driver(c.BlobDriver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("%sS3_BUCKET is required for the s3 driver", Prefix))
		}
	default:
		errs = append(errs, fmt.Errorf("%sBLOB_DRIVER: unknown driver %q", Prefix, c.BlobDriver))
	}
	if c.PublicBaseURL != "" {
		if _, err := blob.ParseOrigin(c.PublicBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("%sPUBLIC_BASE_URL: %w", Prefix, err))
		}
	}
	if c.ModelRPM <= 0 || c.ModelBurst < 1 {
		errs = append(errs, fmt.Errorf("%sMODEL_RPM and %sMODEL_BURST must be positive", Prefix, Prefix))
	}
	if c.HTTPRateLimit <= 0 || c.HTTPBurst < 1 {
		errs = append(errs, fmt.Errorf("%sHTTP_RATE_LIMIT and %sHTTP_BURST must be positive", Prefix, Prefix))
	}
	if c.MaxEntryBytes <= 0 || c.MaxUploadBytes <= 0 || c.MaxExpandBytes <= 0 {
		errs = append(errs, fmt.Errorf("%sMAX_ENTRY_BYTES, %sMAX_UPLOAD_BYTES and %sMAX_EXPAND_BYTES must be positive", Prefix, Prefix, Prefix))
	}
	if c.ScreenshotURL != "" && c.ScreenshotKey == "" {
		errs = append(errs, fmt.Errorf("%sSCREENSHOT_API_KEY is required with %sSCREENSHOT_API_URL", Prefix, Prefix))
	}
	return errors.Join(errs...)
}

// Storage returns the document store settings.
func (c Config) Storage() core.StorageConfig {
	return core.StorageConfig{Driver: core.StorageDriver(c.StorageDriver), SQLitePath: c.SQLitePath, PostgresDSN: c.PostgresDSN}
}

// Blob returns the object storage settings.
func (c Config) Blob() blob.Config {
	return blob.Config{
		Driver:        blob.Driver(c.BlobDriver),
		FSRoot:        c.BlobRoot,
		PublicBaseURL: c.PublicBaseURL,
		S3: blob.S3Config{
			Region:          c.S3Region,
			Bucket:          c.S3Bucket,
			Endpoint:        c.S3Endpoint,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
			PathStyle:       c.S3PathStyle,
		},
	}
}

// Origin returns the public storage origin, zero when unset.
func (c Config) Origin() blob.Origin {
	o, err := blob.ParseOrigin(c.PublicBaseURL)
	if err != nil {
		return blob.Origin{}
	}
	return o
}

// Expander returns the archive expansion limits.
func (c Config) Expander() ingest.Expander {
	return ingest.Expander{MaxEntryBytes: c.MaxEntryBytes, MaxTotalBytes: c.MaxExpandBytes}
}

// ModelInterval is the spacing between model calls implied by ModelRPM.
func (c Config) ModelInterval() time.Duration {
	return time.Duration(float64(time.Minute) / c.ModelRPM)
}
