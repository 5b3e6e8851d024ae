// Package media talks to the asynchronous captioning, lip-sync and
// text-to-speech providers. Each provider accepts a job and later calls the
// supplied callback URL with the outcome.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("media: api key is required")

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Provider domain.Provider
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
}

// JobRequest is what a provider needs to start one job.
type JobRequest struct {
	InputRefs      map[string]string
	CallbackURL    string
	IdempotencyKey string
	Quantity       int
}

// Accepted is the provider's acknowledgement of a created job.
type Accepted struct {
	JobID  string
	Status string
}

// Creator starts provider jobs.
type Creator interface {
	CreateJob(ctx context.Context, req JobRequest) (Accepted, error)
}

// Options configures a provider client.
type Options struct {
	Provider       domain.Provider
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

type Client struct {
	provider   domain.Provider
	apiKey     string
	baseURL    string
	path       string
	httpClient *http.Client
	logger     *infra.Logger
}

var _ Creator = (*Client)(nil)

// jobPaths maps each provider to its job-creation endpoint.
var jobPaths = map[domain.Provider]string{
	domain.ProviderCaptioning: "/captions",
	domain.ProviderLipSync:    "/lipsync",
	domain.ProviderTTS:        "/speech",
}

type createResponse struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	path, ok := jobPaths[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("media: unknown provider %q", opts.Provider)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("media: base url is required for %s", opts.Provider)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		provider:   opts.Provider,
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		path:       path,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (c *Client) Provider() domain.Provider {
	return c.provider
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreateJob submits one job. Input refs are forwarded verbatim next to the callback URL.
func (c *Client) CreateJob(ctx context.Context, req JobRequest) (Accepted, error) {
	if !c.HasCredentials() {
		return Accepted{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return Accepted{}, fmt.Errorf("%s: callback url is required", c.provider)
	}

	payload := make(map[string]any, len(req.InputRefs)+2)
	for k, v := range req.InputRefs {
		payload[k] = v
	}
	payload["callback_url"] = req.CallbackURL
	if req.Quantity > 1 {
		payload["quantity"] = req.Quantity
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Accepted{}, fmt.Errorf("%s: encode request: %w", c.provider, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
	if err != nil {
		return Accepted{}, fmt.Errorf("%s: build request: %w", c.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Accepted{}, fmt.Errorf("%s: http request: %w", c.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Accepted{}, fmt.Errorf("%s: read response: %w", c.provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Accepted{}, &StatusError{Provider: c.provider, Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	var decoded createResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Accepted{}, fmt.Errorf("%s: decode response: %w", c.provider, err)
	}
	id := strings.TrimSpace(decoded.ID)
	if id == "" {
		id = strings.TrimSpace(decoded.JobID)
	}
	if id == "" {
		return Accepted{}, fmt.Errorf("%s: response missing job id", c.provider)
	}

	c.logger.Debug().
		Str("provider", string(c.provider)).
		Str("provider_job_id", id).
		Dur("took", time.Since(start)).
		Msg("media: job accepted")
	return Accepted{JobID: id, Status: decoded.Status}, nil
}

func errorMessage(raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Message != "" {
			return detail.Message
		}
		var msg string
		if json.Unmarshal(detail.Error, &msg) == nil && msg != "" {
			return msg
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(detail.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}
