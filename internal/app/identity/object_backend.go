package identity

import (
	"context"
	"errors"

	"fnchat/internal/app/storage"
)

// ObjectBackend keeps the credential document as a single object in a bucket.
type ObjectBackend struct {
	store storage.ObjectStore
	key   string
}

// NewObjectBackend returns an ObjectBackend writing to key.
func NewObjectBackend(store storage.ObjectStore, key string) *ObjectBackend {
	return &ObjectBackend{store: store, key: key}
}

// Load downloads the document; a missing object is an empty store.
func (b *ObjectBackend) Load(ctx context.Context) (Records, error) {
	data, err := b.store.Get(ctx, b.key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return make(Records), nil
	}
	if err != nil {
		return nil, err
	}

	return decodeRecords(data)
}

// Save uploads the whole document.
func (b *ObjectBackend) Save(ctx context.Context, records Records) error {
	data, err := encodeRecords(records)
	if err != nil {
		return err
	}

	return b.store.Put(ctx, b.key, data, "application/json")
}
