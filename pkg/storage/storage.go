// Package storage abstracts the object store holding source documents
// (uploaded or downloaded PDFs) before the pipeline picks them up.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/openoverheid/docpipe/pkg/logger"
	"github.com/openoverheid/docpipe/pkg/storage/minio"
	"github.com/openoverheid/docpipe/pkg/storage/s3"
)

// Driver names a storage backend.
type Driver string

const (
	DriverS3    Driver = "s3"
	DriverMinio Driver = "minio"
)

// Storage interface
type Storage interface {
	// Store uploads the content and returns the object key.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens the object for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object.
	Delete(ctx context.Context, key string) error
	// CleanupBefore removes objects last modified before the threshold.
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// Config selects and configures the backend.
type Config struct {
	Driver Driver       `yaml:"driver"`
	Minio  minio.Config `yaml:"minio"`
	S3     s3.Config    `yaml:"s3"`
}

// New creates a storage instance for the configured driver.
func New(ctx context.Context, cfg Config, log logger.Logger) (Storage, error) {
	switch cfg.Driver {
	case DriverS3:
		return s3.New(ctx, cfg.S3, log)
	case DriverMinio:
		return minio.New(ctx, cfg.Minio, log)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
