package datasets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hfsql/hfsql/internal/observability"
)

// ErrAuthRequired means the datasets server refused the request until a
// Hugging Face API token is configured.
var ErrAuthRequired = errors.New("Please set your Hugging Face API token to access this dataset.")

const unavailableMessage = "The explorer is not available for this dataset."

// APIError is any metadata failure other than a missing token.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	return unavailableMessage
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Detail describes the underlying failure for logs.
func (e *APIError) Detail() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("status=%d body=%s", e.StatusCode, e.Body)
}

type ParquetFile struct {
	Dataset  string `json:"dataset"`
	Config   string `json:"config"`
	Split    string `json:"split"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type ParquetResponse struct {
	ParquetFiles []ParquetFile `json:"parquet_files"`
	Partial      bool          `json:"partial"`
	Pending      []string      `json:"pending,omitempty"`
	Failed       []string      `json:"failed,omitempty"`
}

type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client reads Parquet conversion metadata from the Hugging Face datasets
// server.
type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiToken: strings.TrimSpace(cfg.APIToken),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// ParquetFiles lists the Parquet files of dataset. token overrides the
// configured API token when not empty.
func (c *Client) ParquetFiles(ctx context.Context, dataset, token string) (ParquetResponse, error) {
	dataset = strings.TrimSpace(dataset)
	if dataset == "" {
		return ParquetResponse{}, fmt.Errorf("dataset is required")
	}

	endpoint := c.baseURL + "/parquet?" + url.Values{"dataset": []string{dataset}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ParquetResponse{}, fmt.Errorf("build parquet request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token = strings.TrimSpace(token); token == "" {
		token = c.apiToken
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		observability.ObserveMetadataRequest("failed")
		return ParquetResponse{}, &APIError{Err: fmt.Errorf("request parquet info: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ObserveMetadataRequest("failed")
		return ParquetResponse{}, &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read parquet response body: %w", err)}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		observability.ObserveMetadataRequest("auth_required")
		return ParquetResponse{}, ErrAuthRequired
	}
	if resp.StatusCode >= 400 {
		observability.ObserveMetadataRequest("failed")
		return ParquetResponse{}, &APIError{StatusCode: resp.StatusCode, Body: string(rawBody)}
	}

	var parsed ParquetResponse
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		observability.ObserveMetadataRequest("failed")
		return ParquetResponse{}, &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode parquet response: %w", err)}
	}
	observability.ObserveMetadataRequest("ok")
	return parsed, nil
}
