package ics

import (
	"context"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultFetchTimeout = 15 * time.Second
	userAgent           = "todaycal/0.1 (+ics)"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config source ID).
	ID string
	// URL is the ICS endpoint.
	URL string
}

// Fetcher is the transport used by the Aggregator: one GET per call,
// returning the HTTP status and body. Timeouts are the Fetcher's business.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// FetcherFunc adapts a plain function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) (int, []byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (int, []byte, error) {
	return f(ctx, url)
}

// HTTPFetcher fetches feeds over HTTP(S) with resty. It performs a single
// attempt per call; there are no retries.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates an HTTPFetcher. A non-positive timeout selects the
// default of 15 seconds.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &HTTPFetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "text/calendar, */*;q=0.5"),
	}
}

// Fetch implements Fetcher. The response body is fully read and closed by
// resty before returning.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	if url == "" {
		return 0, nil, errors.New("source URL is empty")
	}
	resp, err := f.client.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode(), resp.Body(), nil
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	// Find scheme separator.
	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}
