// Package recognition provides the HTTP client for the external text
// recognition (OCR) service.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/readr-labs/page-pipeline/internal/core"
)

// API endpoints and paths.
const (
	apiDetectText     = "/v1/detect/text"
	apiDetectDocument = "/v1/detect/document"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeBytes  = "application/octet-stream"
)

// HealthCheckTimeout bounds readiness probes so a wedged service fails fast.
const HealthCheckTimeout = 10 * time.Second

// Static errors.
var (
	ErrImageEmpty = errors.New("image data cannot be empty")
	ErrNoText     = errors.New("service returned no text payload")
)

// detectResponse is the JSON body returned by the recognition service.
type detectResponse struct {
	FullText   string  `json:"full_text"`
	Confidence float64 `json:"confidence"`
	BlockCount int     `json:"block_count"`
	PageCount  int     `json:"page_count"`
}

// errorResponse is the structured error body returned on failures.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Client implements core.RecognitionGateway against an HTTP recognition
// service. Construct one per process and reuse it.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a recognition client. The baseURL should include the
// protocol and port (e.g. "http://localhost:8100").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// DetectText submits image bytes and returns the extracted text. The mode
// selects plain text extraction or structured document analysis.
func (c *Client) DetectText(
	ctx context.Context,
	image []byte,
	mode core.DetectMode,
) (*core.Detection, error) {
	if len(image) == 0 {
		return nil, ErrImageEmpty
	}

	endpoint := apiDetectText
	if mode == core.DetectModeDocument {
		endpoint = apiDetectDocument
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+endpoint,
		bytes.NewReader(image),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeBytes)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to recognition service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var detected detectResponse

	err = json.NewDecoder(resp.Body).Decode(&detected)
	if err != nil {
		return nil, fmt.Errorf("failed to decode detection response: %w", err)
	}

	if detected.FullText == "" {
		return nil, ErrNoText
	}

	return &core.Detection{
		FullText:   detected.FullText,
		Confidence: detected.Confidence,
		BlockCount: detected.BlockCount,
		PageCount:  detected.PageCount,
	}, nil
}

// IsReady reports whether the recognition service answers its health
// endpoint.
func (c *Client) IsReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// parseErrorResponse attempts to decode a structured JSON error from the
// service, falling back to the raw body so diagnostics are preserved.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errorResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf("recognition service error (%s): %s (code: %s)",
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		"recognition service returned non-OK status: %s, body: %s",
		resp.Status,
		string(body),
	)
}
