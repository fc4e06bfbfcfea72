package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rhoffman0214/BobsComponents/internal/domain"
	"github.com/rhoffman0214/BobsComponents/pkg/telemetry"
)

const DefaultPlaceholderURL = "https://jsonplaceholder.typicode.com"

// DefaultResources are the placeholder collections exposed as operations.
var DefaultResources = []string{"posts", "users", "todos"}

// JSONFetcher fetches JSON collections over HTTP.
type JSONFetcher struct {
	client  *http.Client
	baseURL string
}

// FetcherOption configures a JSONFetcher.
type FetcherOption func(*JSONFetcher)

func WithHTTPClient(c *http.Client) FetcherOption { return func(f *JSONFetcher) { f.client = c } }

// NewJSONFetcher creates a fetcher rooted at baseURL, or the public
// placeholder API when baseURL is empty.
func NewJSONFetcher(baseURL string, opts ...FetcherOption) *JSONFetcher {
	if baseURL == "" {
		baseURL = DefaultPlaceholderURL
	}
	f := &JSONFetcher{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns an operation that GETs /<resource> and decodes a JSON array.
func (f *JSONFetcher) Fetch(resource string) domain.Operation {
	return func(ctx context.Context, progress domain.ProgressFunc) (any, error) {
		ctx, span := telemetry.Tracer("operations").Start(ctx, "operations.fetch")
		defer span.End()

		url := f.baseURL + "/" + strings.TrimLeft(resource, "/")
		span.SetAttributes(attribute.String("http.url", url))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "build request failed")
			return nil, fmt.Errorf("build request for %s: %w: %w", resource, domain.ErrInvalidArgument, err)
		}
		req.Header.Set("Accept", "application/json")
		progress(10)

		resp, err := f.client.Do(req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "http call failed")
			return nil, fmt.Errorf("%w: fetch %s: %w", domain.ErrNetwork, url, err)
		}
		defer resp.Body.Close()
		progress(50)

		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if err := statusError(resp.StatusCode); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "bad status code")
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}

		var items []map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode failed")
			return nil, fmt.Errorf("decode %s: %w: %w", resource, domain.ErrInvalidState, err)
		}
		progress(100)
		return items, nil
	}
}

// statusError maps an HTTP status to a sentinel kind, or nil for 2xx/3xx.
func statusError(status int) error {
	switch {
	case status < http.StatusBadRequest:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", status, domain.ErrUnauthorized)
	case status == http.StatusNotFound:
		return fmt.Errorf("status %d: %w", status, domain.ErrNotSupported)
	case status == http.StatusRequestTimeout:
		return fmt.Errorf("status %d: %w", status, domain.ErrTimeout)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("status %d: %w", status, domain.ErrNetwork)
	default:
		return fmt.Errorf("status %d: %w", status, domain.ErrInvalidArgument)
	}
}
