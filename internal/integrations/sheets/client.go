package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"archetype-quiz/internal/content"
)

const (
	defaultBaseURL    = "https://sheets.googleapis.com"
	defaultRetries    = 2
	defaultRetryDelay = 250 * time.Millisecond
)

// valuesResponse is the minimal response shape of spreadsheets.values.get.
type valuesResponse struct {
	Range          string     `json:"range"`
	MajorDimension string     `json:"majorDimension"`
	Values         [][]string `json:"values"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("sheets: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client reads spreadsheet tabs through the Google Sheets values API. Each tab
// is one content partition.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	getter        Getter
	paramPrefix   string
	spreadsheetID string
	retries       int
	retryDelay    time.Duration

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

var _ content.Source = (*Client)(nil)

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRetry sets how many times a 429, 5xx or transport failure is retried and
// the delay before the first retry. The delay doubles per attempt.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

// NewClient creates a new Client backed by the given paramstore.Getter for API
// key retrieval. The key is fetched from SSM on the first call to Rows and
// reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix, spreadsheetID string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("sheets: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("sheets: parameter prefix must not be empty")
	}
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id must not be empty")
	}
	c := &Client{
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		getter:        ps,
		paramPrefix:   paramPrefix,
		spreadsheetID: spreadsheetID,
		retries:       defaultRetries,
		retryDelay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey fetches the API key from SSM on the first call and returns the
// cached result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/sheets-api-key"
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a 10s
// timeout if none was set (e.g. in tests that nil out the field).
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func valuesURL(baseURL, spreadsheetID, partition string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/v4/spreadsheets/" + url.PathEscape(spreadsheetID) + "/values/" + url.PathEscape(partition)
}

// Rows returns the data rows of partition, skipping the header row and blank
// rows. An unknown tab yields content.ErrPartitionNotFound.
func (c *Client) Rows(ctx context.Context, partition string) ([][]string, error) {
	partition = strings.TrimSpace(partition)
	if partition == "" {
		return nil, errors.New("sheets: partition must not be empty")
	}
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := valuesURL(c.baseURL, c.spreadsheetID, partition)
	q := url.Values{}
	q.Set("key", apiKey)
	q.Set("majorDimension", "ROWS")

	raw, err := c.getWithRetry(ctx, endpoint+"?"+q.Encode(), endpoint)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest &&
			strings.Contains(statusErr.Body, "Unable to parse range") {
			return nil, fmt.Errorf("sheets: %s: %w", partition, content.ErrPartitionNotFound)
		}
		return nil, fmt.Errorf("sheets: request failed: %w", err)
	}

	var payload valuesResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("sheets: decode response: %w", decErr)
	}
	if len(payload.Values) == 0 {
		return [][]string{}, nil
	}
	out := make([][]string, 0, len(payload.Values)-1)
	for _, row := range payload.Values[1:] {
		if blank(row) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *Client) getWithRetry(ctx context.Context, target, logURL string) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("sheets: create request: %w", reqErr)
		}
		req.Header.Set("Accept", "application/json")

		raw, err := c.doJSONRequest(req, logURL)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doJSONRequest(req *http.Request, endpoint string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		// url.Error carries the full query string, including the API key.
		var uerr *url.Error
		if errors.As(doErr, &uerr) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, endpoint, uerr.Err)
		}
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("sheets: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("sheets: key parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("sheets: fetch key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("sheets: unmarshal paramstore key value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("sheets: API key is empty")
	}
	return tp.Token, nil
}
