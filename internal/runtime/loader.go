package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/gridsim/notebook/internal/config"
)

// ErrBundleNotFound indicates the named bundle does not exist at the
// loader's source.
var ErrBundleNotFound = errors.New("bundle not found")

// Loader fetches a library bundle's source by name. Implementations hide
// whether bundles come from a local directory or a remote origin, so the
// host's bootstrap is swappable without touching the bridge protocol.
type Loader interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// NewLoader builds the loader selected by configuration.
func NewLoader(cfg config.RuntimeConfig) Loader {
	if cfg.LoaderMode == "remote" {
		return NewRemoteLoader(cfg.BundleURL)
	}
	return NewLocalLoader(cfg.BundleDir)
}

// LocalLoader reads bundles from a directory. Gzipped bundles
// (<name>.js.gz) are preferred and transparently decompressed.
type LocalLoader struct {
	dir string
}

// NewLocalLoader creates a loader over the given bundle directory.
func NewLocalLoader(dir string) *LocalLoader {
	return &LocalLoader{dir: dir}
}

// Load reads <name>.js.gz or <name>.js from the bundle directory.
func (l *LocalLoader) Load(_ context.Context, name string) ([]byte, error) {
	gzPath := filepath.Join(l.dir, name+".js.gz")
	if f, err := os.Open(gzPath); err == nil {
		defer f.Close()
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip bundle %s: %w", name, err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("decompress bundle %s: %w", name, err)
		}
		return data, nil
	}

	data, err := os.ReadFile(filepath.Join(l.dir, name+".js"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, name)
		}
		return nil, fmt.Errorf("read bundle %s: %w", name, err)
	}
	return data, nil
}

// RemoteLoader fetches bundles over HTTP from a base URL, retrying
// transient failures.
type RemoteLoader struct {
	client *resty.Client
}

// NewRemoteLoader creates a loader fetching from baseURL.
func NewRemoteLoader(baseURL string) *RemoteLoader {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second)

	return &RemoteLoader{client: client}
}

// Load fetches <baseURL>/<name>.js.
func (l *RemoteLoader) Load(ctx context.Context, name string) ([]byte, error) {
	resp, err := l.client.R().SetContext(ctx).Get("/" + name + ".js")
	if err != nil {
		return nil, fmt.Errorf("fetch bundle %s: %w", name, err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, name)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch bundle %s: status %d", name, resp.StatusCode())
	}
	return resp.Body(), nil
}
