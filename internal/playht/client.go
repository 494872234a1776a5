// Package playht provides the HTTP client for the Play.ht text-to-speech
// vendor API.
//
// This package implements the conversion submission and status polling
// that were previously handled by Python utilities, following Go coding
// standards and design principles for explicit behavior and maintainable
// code.
package playht

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/book-expert/voiceover/internal/core"
)

// API endpoints and paths.
const (
	// DefaultBaseURL is the production Play.ht v1 API root.
	DefaultBaseURL = "https://api.play.ht/api/v1"

	apiConvert       = "/convert"
	apiArticleStatus = "/articleStatus"

	queryTranscriptionID = "transcriptionId"
)

// HTTP headers.
const (
	headerAuthorization = "Authorization"
	headerUserID        = "X-USER-ID"
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	contentTypeJSON     = "application/json"
)

// Request defaults.
const (
	defaultTimeout = 30 * time.Second

	// conversionTitle is the title attached to every single-item
	// conversion, matching what the item bank tooling has always sent.
	conversionTitle = "Individual Audio"
)

// Static errors.
var (
	// ErrUserIDEmpty indicates that no vendor user id was provided.
	ErrUserIDEmpty = errors.New("play.ht user id cannot be empty")
	// ErrAuthTokenEmpty indicates that no auth token was provided.
	ErrAuthTokenEmpty = errors.New("play.ht auth token cannot be empty")
	// ErrNoTranscriptionID indicates a status check was attempted for a
	// transaction that was never submitted. This is a caller bug, not a
	// vendor condition, and must abort the run.
	ErrNoTranscriptionID = errors.New("no transcription id, aborting")
)

// Config carries the credentials and transport settings for the client.
// It replaces the module-level constants of the Python scripts so that no
// process-wide mutable state exists.
type Config struct {
	// UserID authenticates as the X-USER-ID header.
	UserID string

	// AuthToken authenticates as the Authorization header.
	AuthToken string

	// BaseURL is the API root. Defaults to DefaultBaseURL when empty.
	BaseURL string

	// Timeout applies to every HTTP request. Defaults to 30s when zero.
	Timeout time.Duration
}

// convertRequest is the JSON payload for a conversion submission.
type convertRequest struct {
	Content     []string `json:"content"`
	Voice       string   `json:"voice"`
	Title       string   `json:"title"`
	TrimSilence bool     `json:"trimSilence"`
}

// convertResponse is the accepted-submission response body.
type convertResponse struct {
	TranscriptionID string `json:"transcriptionId"`
}

// statusResponse is the job status response body.
type statusResponse struct {
	Converted    bool   `json:"converted"`
	AudioURL     string `json:"audioUrl"`
	Error        bool   `json:"error"`
	ErrorMessage string `json:"errorMessage"`
}

// Client submits conversion requests and polls job status against the
// Play.ht HTTP API. Retry policy belongs to the caller: the client makes
// exactly one HTTP call per operation.
type Client struct {
	httpClient *http.Client
	config     Config
}

// New creates and configures a Play.ht client. Missing credentials are a
// configuration error surfaced before any network call is attempted.
func New(cfg Config) (*Client, error) {
	if cfg.UserID == "" {
		return nil, ErrUserIDEmpty
	}

	if cfg.AuthToken == "" {
		return nil, ErrAuthTokenEmpty
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// Submit sends one transaction for conversion. Transactions that are
// already in progress or done are returned unchanged. On an accepted
// submission (any 2xx) the returned record carries the vendor
// transcription id and moves to in_progress; on any other outcome the
// returned record is marked error with the failure detail in its
// response body. Submit never retries.
func (c *Client) Submit(ctx context.Context, transaction core.Transaction) core.Transaction {
	if !transaction.Submittable() {
		return transaction
	}

	payload := convertRequest{
		Content:     []string{transaction.Text},
		Voice:       transaction.Voice,
		Title:       conversionTitle,
		TrimSilence: true,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return transaction.WithStatus(core.StatusError,
			fmt.Sprintf("failed to marshal convert request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.BaseURL+apiConvert,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return transaction.WithStatus(core.StatusError,
			fmt.Sprintf("failed to create convert request: %v", err))
	}

	c.setHeaders(httpReq)
	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transaction.WithStatus(core.StatusError,
			fmt.Sprintf("convert request failed: %v", err))
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return transaction.WithStatus(core.StatusError,
			fmt.Sprintf("failed to read convert response: %v", readErr))
	}

	if !isSuccess(resp.StatusCode) {
		return transaction.WithStatus(core.StatusError,
			fmt.Sprintf("convert: status=%s, body=%s", resp.Status, string(body)))
	}

	var result convertResponse

	err = json.Unmarshal(body, &result)
	if err != nil || result.TranscriptionID == "" {
		return transaction.WithStatus(core.StatusError,
			fmt.Sprintf("convert: malformed response body: %s", string(body)))
	}

	return transaction.WithSubmission(result.TranscriptionID, string(body))
}

// Poll checks the vendor-side status of one in-progress transaction. It
// is a no-op for any other status. A transaction without a transcription
// id cannot be polled; that returns ErrNoTranscriptionID and the caller
// must abort.
//
// Outcomes: a vendor-reported job error marks the record error; a
// completed conversion moves the status to the resulting audio URL; a
// still-converting job returns the record unchanged. A transport failure
// or non-2xx response does NOT imply the conversion failed: only the
// response body diagnostic is updated and the record stays in_progress
// for a later poll.
func (c *Client) Poll(ctx context.Context, transaction core.Transaction) (core.Transaction, error) {
	if !transaction.InProgress() {
		return transaction, nil
	}

	if transaction.TranscriptionID == "" {
		return transaction, ErrNoTranscriptionID
	}

	statusURL := c.config.BaseURL + apiArticleStatus +
		"?" + queryTranscriptionID + "=" + url.QueryEscape(transaction.TranscriptionID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, http.NoBody)
	if err != nil {
		return transaction.WithResponseBody(
			fmt.Sprintf("failed to create status request: %v", err)), nil
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transaction.WithResponseBody(
			fmt.Sprintf("status request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return transaction.WithResponseBody(
			fmt.Sprintf("failed to read status response: %v", readErr)), nil
	}

	if !isSuccess(resp.StatusCode) {
		return transaction.WithResponseBody(fmt.Sprintf("%d", resp.StatusCode)), nil
	}

	var result statusResponse

	err = json.Unmarshal(body, &result)
	if err != nil {
		return transaction.WithResponseBody(
			fmt.Sprintf("status: malformed response body: %s", string(body))), nil
	}

	if result.Error {
		return transaction.WithStatus(core.StatusError, string(body)), nil
	}

	if result.Converted {
		return transaction.WithStatus(result.AudioURL, string(body)), nil
	}

	return transaction, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set(headerAuthorization, c.config.AuthToken)
	req.Header.Set(headerUserID, c.config.UserID)
	req.Header.Set(headerAccept, contentTypeJSON)
}

func isSuccess(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
