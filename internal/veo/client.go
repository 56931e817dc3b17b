package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/maauso/videogen-lro/internal/operation"
)

// Static errors for Veo client operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("veo: GEMINI_API_KEY environment variable is not set")
	// ErrPromptRequired is returned when a request has no prompt.
	ErrPromptRequired = errors.New("veo: prompt is required")
	// ErrHandleRequired is returned when an empty operation handle is given.
	ErrHandleRequired = errors.New("veo: operation handle is required")
	// ErrLocatorRequired is returned when a download has no result locator.
	ErrLocatorRequired = errors.New("veo: result locator is required")
	// ErrNoOperationName is returned when the submit response has no operation name.
	ErrNoOperationName = errors.New("veo: submit response carried no operation name")
	// ErrTooManyRedirects is returned when a download exceeds the redirect limit.
	ErrTooManyRedirects = errors.New("veo: too many redirects")
)

// Vendor call names, used for errors, metrics and spans.
const (
	CallSubmit   = "submit"
	CallStatus   = "status"
	CallDownload = "download"
)

const apiKeyHeader = "x-goog-api-key"

// Client defines the interface for interacting with the video generation API.
type Client interface {
	// Submit starts a generation job and returns its operation handle.
	Submit(ctx context.Context, req Request) (operation.Handle, error)

	// CheckStatus performs one status check and returns the normalised status.
	CheckStatus(ctx context.Context, handle operation.Handle) (operation.Status, error)

	// Download fetches the artifact a successful operation points to,
	// following any redirects.
	Download(ctx context.Context, res operation.Result) (operation.Artifact, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey       string
	baseURL      string
	model        string
	httpClient   *http.Client
	maxRetries   int
	baseBackoff  time.Duration
	maxRedirects int
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel sets the model used for submissions.
func WithModel(model string) ClientOption {
	return func(hc *HTTPClient) {
		hc.model = model
	}
}

// WithMaxRetries sets the number of retries for transient failures. The default is 0.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithMaxRedirects sets how many redirects a download may follow.
func WithMaxRedirects(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRedirects = n
	}
}

// NewClient creates a new HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable GEMINI_API_KEY.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:      "https://generativelanguage.googleapis.com/v1beta",
		model:        "veo-3.0-generate-001",
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseBackoff:  1 * time.Second,
		maxRedirects: 10,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Model returns the model used for submissions.
func (c *HTTPClient) Model() string {
	return c.model
}

// Submit starts a generation job and returns its operation handle.
func (c *HTTPClient) Submit(ctx context.Context, req Request) (operation.Handle, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrPromptRequired
	}

	body, err := json.Marshal(predictRequest{
		Instances: []predictInstance{{
			Prompt:         req.Prompt,
			NegativePrompt: req.NegativePrompt,
		}},
		Parameters: predictParameters{
			AspectRatio:      req.AspectRatio,
			PersonGeneration: req.PersonGeneration,
			DurationSeconds:  req.DurationSeconds,
			SampleCount:      req.SampleCount,
		},
	})
	if err != nil {
		return "", fmt.Errorf("veo: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, c.model)

	var resp operationResponse
	if err := c.doRequestWithRetry(ctx, CallSubmit, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", &operation.DecodeError{Op: CallSubmit, Err: ErrNoOperationName}
	}

	return operation.Handle(resp.Name), nil
}

// CheckStatus performs one status check and returns the normalised status.
func (c *HTTPClient) CheckStatus(ctx context.Context, handle operation.Handle) (operation.Status, error) {
	name := strings.TrimPrefix(handle.String(), "/")
	if name == "" {
		return operation.Status{}, ErrHandleRequired
	}

	var resp operationResponse
	if err := c.doRequestWithRetry(ctx, CallStatus, http.MethodGet, c.baseURL+"/"+name, nil, &resp); err != nil {
		return operation.Status{}, err
	}

	return operation.Normalize(resp.raw())
}

// Download fetches the artifact res points to. Redirects are followed up to the
// configured limit and the whole body is buffered.
func (c *HTTPClient) Download(ctx context.Context, res operation.Result) (operation.Artifact, error) {
	if res.Locator == "" {
		return operation.Artifact{}, ErrLocatorRequired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.Locator, nil)
	if err != nil {
		return operation.Artifact{}, fmt.Errorf("veo: create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	hc := *c.httpClient
	hc.CheckRedirect = c.checkRedirect

	resp, err := hc.Do(req)
	if err != nil {
		return operation.Artifact{}, &operation.TransportError{Op: CallDownload, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return operation.Artifact{}, fmt.Errorf("veo: %s: %w", res.Handle, operation.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return operation.Artifact{}, &operation.TransportError{
			Op:         CallDownload,
			StatusCode: resp.StatusCode,
			Body:       readSnippet(resp.Body),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return operation.Artifact{}, &operation.TransportError{Op: CallDownload, Err: fmt.Errorf("read body: %w", err)}
	}

	return operation.NewArtifact(res.Handle, resp.Header.Get("Content-Type"), data), nil
}

// checkRedirect bounds the redirect chain and keeps the API key on the original host.
func (c *HTTPClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) > c.maxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, c.maxRedirects)
	}
	if req.URL.Host != via[0].URL.Host {
		req.Header.Del(apiKeyHeader)
	}
	return nil
}

// doRequestWithRetry performs an API request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, call, method, endpoint string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &operation.TransportError{Op: call, Err: ctx.Err()}
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, call, method, endpoint, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	if c.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("veo: max retries exceeded: %w", lastErr)
}

// doRequest performs a single API request.
func (c *HTTPClient) doRequest(ctx context.Context, call, method, endpoint string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("veo: create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &operation.TransportError{Op: call, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &operation.TransportError{Op: call, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &operation.TransportError{Op: call, StatusCode: resp.StatusCode, Body: snippet(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &operation.DecodeError{Op: call, Err: err}
		}
	}

	return nil
}

// isRetryable reports whether err is a network failure, a 5xx or a 429.
// Cancellation is never retried.
func isRetryable(err error) bool {
	var te *operation.TransportError
	if !errors.As(err, &te) {
		return false
	}
	if te.StatusCode == 0 {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return te.StatusCode >= 500 || te.StatusCode == http.StatusTooManyRequests
}

const maxErrorBody = 1024

func snippet(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(b)
}

// redactURL strips the query string so signed download URLs stay out of logs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	return u.String()
}
