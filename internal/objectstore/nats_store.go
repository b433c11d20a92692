// Package objectstore provides a NATS-based implementation of the blob
// storage gateway.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/readr-labs/page-pipeline/internal/core"
)

// NatsBlobStore implements the core.BlobStore interface using the NATS
// JetStream object store.
type NatsBlobStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// New creates and initializes a new NatsBlobStore.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsBlobStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
			}
		} else {
			// For any other error, fail.
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsBlobStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
	}, nil
}

// Upload saves an object to the bucket under the given path.
func (n *NatsBlobStore) Upload(
	_ context.Context,
	path string,
	data []byte,
	contentType string,
) (*core.ObjectInfo, error) {
	reader := bytes.NewReader(data)

	headers := nats.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	info, err := n.store.Put(&nats.ObjectMeta{
		Name:    path,
		Headers: headers,
	}, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to put object '%s' to bucket '%s': %w", path, n.bucket, err)
	}

	return &core.ObjectInfo{
		Path: path,
		Size: int(info.Size),
	}, nil
}

// Download retrieves an object from the bucket.
func (n *NatsBlobStore) Download(_ context.Context, path string) ([]byte, error) {
	obj, err := n.store.Get(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", path, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", path, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", path, closeErr)
	}

	return data, nil
}

// IsReady reports whether the bucket is reachable.
func (n *NatsBlobStore) IsReady(_ context.Context) bool {
	_, err := n.store.Status()

	return err == nil
}
