package assets

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// LocalURLPrefix is where the HTTP server exposes a local store's files.
const LocalURLPrefix = "/_assets"

// LocalStore keeps assets on the local filesystem. It exists for single-node
// deployments and tests; the server serves its directory under
// LocalURLPrefix.
type LocalStore struct {
	dir       string
	urlPrefix string
}

// NewLocalStore creates the backing directory if needed.
func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("local asset store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating asset directory")
	}
	return &LocalStore{dir: dir, urlPrefix: strings.TrimSuffix(urlPrefix, "/")}, nil
}

// Dir returns the backing directory, for the server's static file route.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(s.dir)+string(os.PathSeparator)) {
		return errors.Errorf("asset key %q escapes the store directory", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating asset directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating asset file")
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return errors.Wrapf(err, "writing asset %s", key)
	}
	return nil
}

func (s *LocalStore) URL(key string) string {
	return s.urlPrefix + "/" + key
}
