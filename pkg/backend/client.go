package backend

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
	"github.com/husainf4l/rolevatev7/pkg/identity"
)

const (
	// DefaultTimeout bounds one GraphQL round trip.
	DefaultTimeout = 15 * time.Second

	// timestampLayout matches the backend's transcript timestamp format.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Client talks to the backend of record over its GraphQL API.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (tests, custom timeouts).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a GraphQL gateway client.
func New(endpoint, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// execute posts one GraphQL operation and decodes the data payload into out.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	payload := map[string]any{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return core.NewTimeoutError("backend request exceeded deadline")
		}
		return core.NewConnectivityError("backend request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.NewConnectivityError("read backend response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.NewUnauthorizedError("backend rejected the api key")
	case resp.StatusCode >= 500:
		return &core.Error{
			Type:    core.ErrConnectivity,
			Message: "backend unavailable",
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
		}
	case resp.StatusCode >= 400:
		return &core.Error{
			Type:    core.ErrInternal,
			Message: fmt.Sprintf("backend returned %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
		}
	}

	var envelope gqlEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return core.NewInternalError("decode backend response", err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return &core.Error{
			Type:    core.ErrInternal,
			Message: strings.Join(msgs, "; "),
			Code:    "graphql_error",
		}
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return core.NewInternalError("decode backend data", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

const findInterviewQuery = `query FindInterviewByRoomId($roomId: String!) {
  interviews(filter: { roomId: $roomId }, limit: 1) {
    id
    roomId
    recordingUrl
  }
}`

// FindRecordByRoom implements Gateway.
func (c *Client) FindRecordByRoom(ctx context.Context, roomID string) (string, error) {
	var data struct {
		Interviews []struct {
			ID string `json:"id"`
		} `json:"interviews"`
	}
	if err := c.execute(ctx, findInterviewQuery, map[string]any{"roomId": roomID}, &data); err != nil {
		return "", err
	}
	if len(data.Interviews) == 0 {
		return "", nil
	}
	return data.Interviews[0].ID, nil
}

const createInterviewMutation = `mutation CreateInterview($input: CreateInterviewInput!) {
  createInterview(input: $input) {
    id
    roomId
    recordingUrl
    createdAt
  }
}`

// CreateRecordWithMedia implements Gateway. The application id is derived
// from the room name; rooms outside the naming convention fall back to the
// full room name, which the backend treats as an opaque reference.
func (c *Client) CreateRecordWithMedia(ctx context.Context, roomID, mediaURL, jobID string) (string, error) {
	applicationID, ok := identity.ExtractApplicationID(roomID)
	if !ok {
		applicationID = roomID
	}

	var data struct {
		CreateInterview *struct {
			ID string `json:"id"`
		} `json:"createInterview"`
	}
	variables := map[string]any{
		"input": map[string]any{
			"applicationId": applicationID,
			"roomId":        roomID,
			"recordingUrl":  mediaURL,
			"type":          "VIDEO",
			"status":        "STARTED",
		},
	}
	if err := c.execute(ctx, createInterviewMutation, variables, &data); err != nil {
		return "", err
	}
	if data.CreateInterview == nil || data.CreateInterview.ID == "" {
		return "", core.NewInternalError("backend did not return a record id", nil)
	}
	c.logger.Info("created interview record",
		"record_id", data.CreateInterview.ID, "room", roomID, "job_id", jobID)
	return data.CreateInterview.ID, nil
}

const updateInterviewMutation = `mutation UpdateInterviewRecording($id: ID!, $input: UpdateInterviewInput!) {
  updateInterview(id: $id, input: $input) {
    id
    recordingUrl
    roomId
  }
}`

// UpdateRecordMedia implements Gateway.
func (c *Client) UpdateRecordMedia(ctx context.Context, recordID, mediaURL, roomID string) (bool, error) {
	var data struct {
		UpdateInterview *struct {
			ID string `json:"id"`
		} `json:"updateInterview"`
	}
	variables := map[string]any{
		"id": recordID,
		"input": map[string]any{
			"recordingUrl": mediaURL,
			"roomId":       roomID,
		},
	}
	if err := c.execute(ctx, updateInterviewMutation, variables, &data); err != nil {
		return false, err
	}
	return data.UpdateInterview != nil, nil
}

const completeInterviewMutation = `mutation CompleteInterview($id: ID!) {
  completeInterview(id: $id) {
    id
    status
  }
}`

// CompleteRecord implements Gateway.
func (c *Client) CompleteRecord(ctx context.Context, recordID string) (bool, error) {
	var data struct {
		CompleteInterview *struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"completeInterview"`
	}
	if err := c.execute(ctx, completeInterviewMutation, map[string]any{"id": recordID}, &data); err != nil {
		return false, err
	}
	return data.CompleteInterview != nil, nil
}

const createTranscriptMutation = `mutation CreateTranscript($input: CreateTranscriptInput!) {
  createTranscript(input: $input) {
    id
    sequenceNumber
  }
}`

// AppendTranscript implements Gateway.
func (c *Client) AppendTranscript(ctx context.Context, recordID string, entry TranscriptEntry) (string, error) {
	var data struct {
		CreateTranscript *struct {
			ID string `json:"id"`
		} `json:"createTranscript"`
	}
	variables := map[string]any{"input": transcriptInput(recordID, entry)}
	if err := c.execute(ctx, createTranscriptMutation, variables, &data); err != nil {
		return "", err
	}
	if data.CreateTranscript == nil {
		return "", core.NewInternalError("backend did not return a transcript id", nil)
	}
	return data.CreateTranscript.ID, nil
}

const createBulkTranscriptsMutation = `mutation CreateBulkTranscripts($inputs: [CreateTranscriptInput!]!) {
  createBulkTranscripts(inputs: $inputs) {
    id
    sequenceNumber
  }
}`

// AppendTranscriptsBulk implements Gateway.
func (c *Client) AppendTranscriptsBulk(ctx context.Context, recordID string, entries []TranscriptEntry) (bool, error) {
	if len(entries) == 0 {
		return true, nil
	}
	inputs := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		inputs = append(inputs, transcriptInput(recordID, entry))
	}

	var data struct {
		CreateBulkTranscripts []struct {
			ID string `json:"id"`
		} `json:"createBulkTranscripts"`
	}
	if err := c.execute(ctx, createBulkTranscriptsMutation, map[string]any{"inputs": inputs}, &data); err != nil {
		return false, err
	}
	return len(data.CreateBulkTranscripts) > 0, nil
}

func transcriptInput(recordID string, entry TranscriptEntry) map[string]any {
	return map[string]any{
		"interviewId":    recordID,
		"content":        entry.Content,
		"speaker":        string(entry.Speaker),
		"timestamp":      entry.Timestamp.UTC().Format(timestampLayout),
		"sequenceNumber": entry.SequenceNumber,
	}
}

const applicationDetailsQuery = `query GetApplicationDetails($id: ID!) {
  application(id: $id) {
    id
    applicantName
    applicantEmail
    cvScore
    cvAnalysisScore
    cvAnalysisResults
    candidate {
      id
      name
      email
      phone
    }
    job {
      id
      title
      description
      skills
      experience
      education
      interviewPrompt
      interviewLanguage
      company {
        id
        name
        description
      }
    }
  }
}`

// FetchApplicationContext implements Gateway and identity.ContextFetcher.
func (c *Client) FetchApplicationContext(ctx context.Context, applicationID string) (*identity.ApplicationContext, error) {
	var data struct {
		Application *identity.ApplicationContext `json:"application"`
	}
	if err := c.execute(ctx, applicationDetailsQuery, map[string]any{"id": applicationID}, &data); err != nil {
		return nil, err
	}
	if data.Application == nil {
		return nil, core.NewNotFoundError(fmt.Sprintf("no application with id %s", applicationID))
	}
	return data.Application, nil
}
