package bundle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/logging"
)

// MaxArchiveSize bounds how large a fetched bundle archive may be
const MaxArchiveSize = 32 << 20

// Fetcher downloads bundle archives over HTTP with retries. Registry
// endpoints flake; transient failures are retried with backoff before
// the caller hears about them.
type Fetcher struct {
	client *retryablehttp.Client
	loader *Loader
	logger *logging.Logger
}

// NewFetcher creates a bundle fetcher
func NewFetcher(loader *Loader, logger *logging.Logger) *Fetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &Fetcher{
		client: client,
		loader: loader,
		logger: logger.Component("fetcher"),
	}
}

// Fetch downloads and unpacks a bundle archive. The archive format is
// taken from the URL path (.zip or .tar.gz/.tgz).
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Bundle, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bundle request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bundle fetch returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArchiveSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading bundle body: %w", err)
	}
	if len(data) > MaxArchiveSize {
		return nil, fmt.Errorf("bundle archive exceeds %d bytes", MaxArchiveSize)
	}

	f.logger.Info("Fetched bundle archive",
		zap.String("url", url),
		zap.Int("bytes", len(data)),
	)

	switch {
	case strings.HasSuffix(url, ".zip"):
		return f.loader.FromZip(data)
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return f.loader.FromTarGz(data)
	default:
		return nil, fmt.Errorf("cannot infer archive format from %q", url)
	}
}
