package fs

import (
	"context"
	"io"
)

// Storage is a file system interface to host the downloaded episodes and
// generated feed documents.
type Storage interface {
	// Create saves the contents of the reader at the given path and returns
	// the number of bytes written
	Create(ctx context.Context, name string, reader io.Reader) (int64, error)

	// Delete removes the file. The local backend reports a missing file as
	// an os.IsNotExist error; S3 deletes of a missing key succeed.
	Delete(ctx context.Context, name string) error

	// Size returns the size of a file in bytes, or an os.IsNotExist error
	Size(ctx context.Context, name string) (int64, error)
}

// Config is the storage configuration section.
type Config struct {
	// Type is the storage backend: "local" or "s3"
	Type  string      `yaml:"type" json:"type"`
	Local LocalConfig `yaml:"local,omitempty" json:"local"`
	S3    S3Config    `yaml:"s3,omitempty" json:"s3"`
}
