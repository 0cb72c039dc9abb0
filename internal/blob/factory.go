package blob

import (
	"context"
	"fmt"

	"longitudinal/internal/infra/blob/fs"
	"longitudinal/internal/infra/blob/memory"
	"longitudinal/internal/infra/blob/s3"
)

// Config selects and parameterises a backend.
type Config struct {
	Driver string
	Root   string
	S3     s3.Config
}

// Open selects a Store implementation. An empty driver means the filesystem store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		s, err := fs.New(cfg.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverS3:
		s, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewMockS3ForTests exposes the in-memory S3 transport for cross-package tests.
func NewMockS3ForTests() Store { return s3.NewMockForTests() }
