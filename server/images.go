package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultImageEndpoint is the Google Custom Search JSON API.
	DefaultImageEndpoint = "https://www.googleapis.com/customsearch/v1"

	defaultImageTimeout = 6 * time.Second
)

var (
	// ErrImageSearchNotConfigured is returned when the API key or engine id is missing.
	ErrImageSearchNotConfigured = errors.New("GOOGLE_API_KEY and GOOGLE_CX must be configured on the server")

	// ErrImageSearchFailed wraps transport and non-2xx failures from the image API.
	ErrImageSearchFailed = errors.New("image search failed")
)

// ImageSearcher proxies image lookups so the API key never reaches clients.
type ImageSearcher struct {
	endpoint string
	apiKey   string
	cx       string
	client   *http.Client
	limiter  *rate.Limiter
}

// ImageOption configures an ImageSearcher.
type ImageOption func(*ImageSearcher)

// WithImageEndpoint overrides the API endpoint.
func WithImageEndpoint(endpoint string) ImageOption {
	return func(s *ImageSearcher) {
		s.endpoint = endpoint
	}
}

// WithImageHTTPClient replaces the HTTP client. Its timeout bounds each lookup.
func WithImageHTTPClient(client *http.Client) ImageOption {
	return func(s *ImageSearcher) {
		s.client = client
	}
}

// WithImageRateLimit caps outbound lookups at r per second with the given burst.
func WithImageRateLimit(r rate.Limit, burst int) ImageOption {
	return func(s *ImageSearcher) {
		s.limiter = rate.NewLimiter(r, burst)
	}
}

// NewImageSearcher creates a searcher for the given credentials. Empty
// credentials are accepted; Lookup then fails with ErrImageSearchNotConfigured.
func NewImageSearcher(apiKey, cx string, opts ...ImageOption) *ImageSearcher {
	s := &ImageSearcher{
		endpoint: DefaultImageEndpoint,
		apiKey:   apiKey,
		cx:       cx,
		client:   &http.Client{Timeout: defaultImageTimeout},
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether both credentials are set.
func (s *ImageSearcher) Configured() bool {
	return s.apiKey != "" && s.cx != ""
}

type imageSearchResponse struct {
	Items []struct {
		Link  string `json:"link"`
		Image struct {
			ThumbnailLink string `json:"thumbnailLink"`
		} `json:"image"`
	} `json:"items"`
}

// Lookup returns the first image link for query, falling back to its
// thumbnail. A nil link with a nil error means no results.
func (s *ImageSearcher) Lookup(ctx context.Context, query string) (*string, error) {
	if !s.Configured() {
		return nil, ErrImageSearchNotConfigured
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageSearchFailed, err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("cx", s.cx)
	params.Set("key", s.apiKey)
	params.Set("searchType", "image")
	params.Set("num", "1")
	params.Set("safe", "high")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageSearchFailed, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		// url.Error quotes the request URL, which carries the key.
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = s.endpoint
		}
		return nil, fmt.Errorf("%w: %w", ErrImageSearchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrImageSearchFailed, resp.StatusCode, body)
	}

	var data imageSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageSearchFailed, err)
	}
	if len(data.Items) == 0 {
		return nil, nil
	}
	first := data.Items[0]
	link := first.Link
	if link == "" {
		link = first.Image.ThumbnailLink
	}
	if link == "" {
		return nil, nil
	}
	return &link, nil
}
