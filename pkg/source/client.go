// Package source pulls loan application records from the paginated source API.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/sirupsen/logrus"
)

// SinceFormat is the wire format of the since query parameter.
const SinceFormat = "2006-01-02T15:04:05Z"

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// Client lists records submitted after a timestamp.
type Client interface {
	// Fetch returns up to limit records submitted strictly after since, or
	// the source's default window when since is nil.
	Fetch(ctx context.Context, since *time.Time, limit int) ([]Record, error)
}

// StatusError reports a non-2xx response from the source.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source returned status %d: %s", e.StatusCode, e.Body)
}

// Compile-time interface check.
var _ Client = (*httpClient)(nil)

type httpClient struct {
	log     logrus.FieldLogger
	cfg     *config.SourceConfig
	http    *http.Client
	listURL string
}

// NewClient creates an HTTP Client for the configured source. Every call is
// bounded by cfg.Timeout.
func NewClient(log logrus.FieldLogger, cfg *config.SourceConfig) Client {
	return &httpClient{
		log:     log.WithField("component", "source"),
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		listURL: strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"),
	}
}

func (c *httpClient) Fetch(ctx context.Context, since *time.Time, limit int) ([]Record, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	if since != nil {
		params.Set("since", since.UTC().Format(SinceFormat))
	}

	reqURL := c.listURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	c.log.WithField("url", reqURL).Debug("Fetching records")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", c.listURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	records, err := Decode(data)
	if err != nil {
		return nil, err
	}

	return records, nil
}
