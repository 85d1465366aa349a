package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/jmylchreest/vidarr/internal/httpclient"
)

// ErrUnsupportedSource is returned for capture URLs with an unknown scheme.
var ErrUnsupportedSource = errors.New("unsupported capture source")

// HTTPOpener fetches the capture from rawURL. Every pass issues a new
// request bound to ctx.
func HTTPOpener(ctx context.Context, client *httpclient.Client, rawURL string) Opener {
	return func() (io.ReadCloser, error) {
		return client.Open(ctx, rawURL)
	}
}

// IsRemote reports whether source is an http(s) URL.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// SourceOpener resolves a capture source: an http(s) URL fetched with
// client, a file:// URL, or a local path.
func SourceOpener(ctx context.Context, client *httpclient.Client, source string) (Opener, error) {
	switch {
	case IsRemote(source):
		if client == nil {
			return nil, fmt.Errorf("%w: no HTTP client for %s", ErrUnsupportedSource, source)
		}
		return HTTPOpener(ctx, client, source), nil
	case strings.HasPrefix(source, "file://"):
		parsed, err := url.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("invalid capture URL: %w", err)
		}
		if parsed.Path == "" {
			return nil, fmt.Errorf("empty path in capture URL %s", source)
		}
		return FileOpener(parsed.Path), nil
	case strings.Contains(source, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
	default:
		return FileOpener(source), nil
	}
}
