package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// ObjectStore reads and writes whole objects by key.
type ObjectStore interface {
	// Get returns the object body, or ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores body under key, replacing any previous object.
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// NewObjectStore builds the S3-compatible ObjectStore described by cfg.
func NewObjectStore(ctx context.Context, cfg ServiceConfig) (ObjectStore, error) {
	return newS3Client(ctx, cfg)
}
