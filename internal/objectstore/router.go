package objectstore

import (
	"context"
	"strings"

	"github.com/readr-labs/page-pipeline/internal/core"
)

// PrefixRouter splits one logical blob namespace across two buckets: paths
// under the audio prefix land in the audio bucket, everything else in the
// page bucket. Download and redemption use the same routing, so callers
// never need to know which bucket holds an object.
type PrefixRouter struct {
	pages core.BlobStore
	audio core.BlobStore
}

const audioPrefix = "audio/"

// NewPrefixRouter creates a router over the page and audio stores.
func NewPrefixRouter(pages, audio core.BlobStore) *PrefixRouter {
	return &PrefixRouter{pages: pages, audio: audio}
}

func (r *PrefixRouter) pick(path string) core.BlobStore {
	if strings.HasPrefix(path, audioPrefix) {
		return r.audio
	}

	return r.pages
}

// Upload stores the object in the bucket its path routes to.
func (r *PrefixRouter) Upload(
	ctx context.Context,
	path string,
	data []byte,
	contentType string,
) (*core.ObjectInfo, error) {
	return r.pick(path).Upload(ctx, path, data, contentType)
}

// Download fetches the object from the bucket its path routes to.
func (r *PrefixRouter) Download(ctx context.Context, path string) ([]byte, error) {
	return r.pick(path).Download(ctx, path)
}

// IsReady reports whether both underlying stores are reachable.
func (r *PrefixRouter) IsReady(ctx context.Context) bool {
	return r.pages.IsReady(ctx) && r.audio.IsReady(ctx)
}
