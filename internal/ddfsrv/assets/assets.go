// Package assets stores the binary files shipped inside a dataset package
// and issues the URLs asset requests redirect to. Objects are keyed
// `<dataset>/<version>/<file>` so every version keeps its own assets.
package assets

import (
	"context"
	"fmt"
	"io"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/config"
)

// Store uploads asset files and issues their public URLs.
type Store interface {
	// Put uploads one object under the given key.
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	// URL returns the address clients are redirected to for the key.
	URL(key string) string
}

// Key builds the canonical object key for an asset of a dataset version.
func Key(dataset, version, asset string) string {
	return fmt.Sprintf("%s/%s/%s", dataset, version, asset)
}

// NewStore builds the store the configuration selects.
func NewStore(ctx context.Context, cfg *config.ConfigParam) (Store, error) {
	switch cfg.AssetStore {
	case "s3":
		return NewS3Store(ctx, cfg.AssetStoreBucket)
	case "local":
		return NewLocalStore(cfg.AssetStoreBucket, LocalURLPrefix)
	default:
		return nil, fmt.Errorf("unknown asset store %q", cfg.AssetStore)
	}
}
