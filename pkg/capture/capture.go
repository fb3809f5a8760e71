// Package capture talks to the capture service that records the room call.
// Capture is optional: every operation here is best-effort and bounded by
// the caller's context.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/husainf4l/rolevatev7/pkg/core"
)

// Handle identifies a running capture job.
type Handle struct {
	// JobID is the capture service's identifier for the job.
	JobID string `json:"job_id"`
	// URL is where the recording will land, when the service reports it.
	URL string `json:"url,omitempty"`
}

// Client starts and stops room capture. Implementations must honor ctx
// cancellation so callers can enforce a hard start budget.
type Client interface {
	StartCapture(ctx context.Context, room, outputPath string) (*Handle, error)
	StopCapture(ctx context.Context, handle *Handle) (bool, error)
}

// recordingLayout is the composite layout requested for interview rooms.
const recordingLayout = "speaker-dark"

// HTTPClient is the production capture client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

// NewHTTPClient builds a capture client for the given service base URL.
func NewHTTPClient(baseURL, token string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type startRequest struct {
	Room       string `json:"room"`
	OutputPath string `json:"output_path"`
	Layout     string `json:"layout"`
}

// StartCapture implements Client.
func (c *HTTPClient) StartCapture(ctx context.Context, room, outputPath string) (*Handle, error) {
	var handle Handle
	err := c.post(ctx, "/v1/capture/start", startRequest{
		Room:       room,
		OutputPath: outputPath,
		Layout:     recordingLayout,
	}, &handle)
	if err != nil {
		return nil, err
	}
	if handle.JobID == "" {
		return nil, core.NewInternalError("capture service did not return a job id", nil)
	}
	c.logger.Info("capture started", "room", room, "job_id", handle.JobID)
	return &handle, nil
}

type stopRequest struct {
	JobID string `json:"job_id"`
}

type stopResponse struct {
	Stopped bool `json:"stopped"`
}

// StopCapture implements Client.
func (c *HTTPClient) StopCapture(ctx context.Context, handle *Handle) (bool, error) {
	if handle == nil || handle.JobID == "" {
		return false, core.NewValidationError("no capture handle to stop")
	}
	var resp stopResponse
	if err := c.post(ctx, "/v1/capture/stop", stopRequest{JobID: handle.JobID}, &resp); err != nil {
		return false, err
	}
	return resp.Stopped, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.NewTimeoutError("capture service did not answer in time")
		}
		return core.NewConnectivityError("capture request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.NewConnectivityError("read capture response", err)
	}
	if resp.StatusCode >= 400 {
		return &core.Error{
			Type:    classifyStatus(resp.StatusCode),
			Message: fmt.Sprintf("capture service returned %d", resp.StatusCode),
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
		}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return core.NewInternalError("decode capture response", err)
		}
	}
	return nil
}

func classifyStatus(status int) core.ErrorType {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.ErrUnauthorized
	case status == http.StatusNotFound:
		return core.ErrNotFound
	case status >= 500:
		return core.ErrConnectivity
	default:
		return core.ErrInternal
	}
}

// Disabled is the client used when no capture service is configured.
// StartCapture always fails, which sends every session down the fallback
// media URL path.
type Disabled struct{}

// StartCapture implements Client.
func (Disabled) StartCapture(context.Context, string, string) (*Handle, error) {
	return nil, core.NewValidationError("capture service is not configured")
}

// StopCapture implements Client.
func (Disabled) StopCapture(context.Context, *Handle) (bool, error) {
	return false, nil
}
