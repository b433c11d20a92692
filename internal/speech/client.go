// Package speech provides the HTTP client for the external text-to-speech
// service.
package speech

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

	"github.com/readr-labs/page-pipeline/internal/core"
)

// API endpoints and paths.
const (
	apiSynthesize = "/v1/synthesize"
	apiHealth     = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerVoiceName   = "X-Voice-Name"
	contentTypeJSON   = "application/json"
	contentTypeAudio  = "audio/"
)

// Default values.
const (
	defaultLanguage = "en"
	defaultGender   = "female"
	defaultEncoding = "mp3"
	defaultRate     = 1.0
)

// HealthCheckTimeout bounds readiness probes so a wedged service fails fast.
const HealthCheckTimeout = 10 * time.Second

// Static errors.
var (
	ErrTextEmpty  = errors.New("text cannot be empty")
	ErrEmptyAudio = errors.New("received empty audio data")
)

// synthesizeRequest is the JSON payload sent to the speech service.
type synthesizeRequest struct {
	Text         string  `json:"text"`
	Language     string  `json:"language"`
	Gender       string  `json:"gender"`
	VoiceIndex   int     `json:"voice_index"`
	Encoding     string  `json:"encoding"`
	SpeakingRate float64 `json:"speaking_rate"`
	Pitch        float64 `json:"pitch"`
	VolumeGainDB float64 `json:"volume_gain_db"`
}

// errorResponse is the structured error body returned on failures.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Client implements core.SpeechGateway against an HTTP speech service.
// Construct one per process and reuse it.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a speech client. The baseURL should include the protocol
// and port (e.g. "http://localhost:8200").
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Synthesize sends text plus voice parameters and returns the raw audio.
func (c *Client) Synthesize(
	ctx context.Context,
	text string,
	voice core.VoiceParams,
) (*core.Synthesis, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	applyVoiceDefaults(&voice)

	requestBody, err := json.Marshal(synthesizeRequest{
		Text:         text,
		Language:     voice.Language,
		Gender:       voice.Gender,
		VoiceIndex:   voice.VoiceIndex,
		Encoding:     voice.Encoding,
		SpeakingRate: voice.SpeakingRate,
		Pitch:        voice.Pitch,
		VolumeGainDB: voice.VolumeGainDB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesize,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeAudio+voice.Encoding)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send request to speech service at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeAudio) {
		return nil, fmt.Errorf(
			"unexpected content type: expected audio/*, got %s",
			contentType,
		)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return &core.Synthesis{
		Audio:     audioData,
		VoiceName: resp.Header.Get(headerVoiceName),
		Format:    voice.Encoding,
	}, nil
}

// IsReady reports whether the speech service answers its health endpoint.
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

func applyVoiceDefaults(voice *core.VoiceParams) {
	if voice.Language == "" {
		voice.Language = defaultLanguage
	}

	if voice.Gender == "" {
		voice.Gender = defaultGender
	}

	if voice.Encoding == "" {
		voice.Encoding = defaultEncoding
	}

	if voice.SpeakingRate == 0 {
		voice.SpeakingRate = defaultRate
	}
}

// parseErrorResponse attempts to decode a structured JSON error from the
// service, falling back to the raw body so diagnostics are preserved.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errorResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf("speech service error (%s): %s (code: %s)",
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		"speech service returned non-OK status: %s, body: %s",
		resp.Status,
		string(body),
	)
}
