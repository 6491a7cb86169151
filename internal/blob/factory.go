package blob

import (
	"context"
	"fmt"

	"kitstudio/internal/infra/blob/fs"
	memorystore "kitstudio/internal/infra/blob/memory"
	infraS3 "kitstudio/internal/infra/blob/s3"
)

// S3Config configures the S3/R2 driver.
type S3Config = infraS3.Config

// Config selects and configures a blob driver.
type Config struct {
	Driver        Driver
	FSRoot        string
	S3            S3Config
	PublicBaseURL string
}

// Open constructs the Store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot, cfg.PublicBaseURL)
	case DriverS3:
		s3cfg := cfg.S3
		if s3cfg.PublicBaseURL == "" {
			s3cfg.PublicBaseURL = cfg.PublicBaseURL
		}
		return NewS3(ctx, s3cfg)
	case DriverMemory:
		return memorystore.New(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem stores blobs under root. Object URLs are built from
// publicBaseURL.
func NewFilesystem(root, publicBaseURL string) (Store, error) {
	return fs.New(root, publicBaseURL)
}

// NewS3 connects to an S3-compatible bucket such as Cloudflare R2.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMemory returns an empty in-process store.
func NewMemory() Store { return memorystore.New("") }
