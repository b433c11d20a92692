// Package objectstore_test tests the NATS blob store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/readr-labs/page-pipeline/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestNatsBlobStore_UploadDownload(t *testing.T) {
	t.Parallel()

	// 1. Setup
	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	bucketName := "test-bucket"
	store, err := objectstore.New(jetstreamContext, bucketName)
	require.NoError(t, err)

	// 2. Test Data
	ctx := context.Background()
	path := "pages/2026/01/15/collection-1_12_scan.png"
	uploadData := []byte("not really a png, but enough for the store")

	// 3. Upload
	info, err := store.Upload(ctx, path, uploadData, "image/png")
	require.NoError(t, err)
	assert.Equal(t, path, info.Path)
	assert.Equal(t, len(uploadData), info.Size)

	// 4. Download
	downloadData, err := store.Download(ctx, path)
	require.NoError(t, err)

	// 5. Assert
	require.Equal(t, uploadData, downloadData)
	assert.True(t, store.IsReady(ctx))
}

func TestNatsBlobStore_DownloadMissing(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "missing-bucket")
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "no/such/object")
	require.Error(t, err)
}
