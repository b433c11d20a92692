package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readr-labs/page-pipeline/internal/api"
	"github.com/readr-labs/page-pipeline/internal/core"
	"github.com/readr-labs/page-pipeline/internal/signing"
)

type stubSubmitter struct {
	mu    sync.Mutex
	subs  []core.Submission
	jobID string
	err   error
}

func (s *stubSubmitter) Submit(_ context.Context, sub core.Submission) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}

	s.subs = append(s.subs, sub)

	return s.jobID, nil
}

func (s *stubSubmitter) last(t *testing.T) core.Submission {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	require.NotEmpty(t, s.subs)

	return s.subs[len(s.subs)-1]
}

type stubStore struct {
	jobs map[string]core.Job
}

func (s *stubStore) Create(_ context.Context, job core.Job) error {
	s.jobs[job.ID] = job

	return nil
}

func (s *stubStore) UpdateProgress(_ context.Context, _ string, _ core.ProgressUpdate) error {
	return nil
}

func (s *stubStore) Get(_ context.Context, jobID string) (*core.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, core.ErrJobNotFound
	}

	return &job, nil
}

type stubBlobs struct {
	objects map[string][]byte
}

func (s *stubBlobs) Upload(_ context.Context, path string, data []byte, _ string) (*core.ObjectInfo, error) {
	s.objects[path] = data

	return &core.ObjectInfo{Path: path, Size: len(data)}, nil
}

func (s *stubBlobs) Download(_ context.Context, path string) ([]byte, error) {
	data, ok := s.objects[path]
	if !ok {
		return nil, core.ErrJobNotFound
	}

	return data, nil
}

func (s *stubBlobs) IsReady(_ context.Context) bool { return true }

type fixture struct {
	server    *httptest.Server
	submitter *stubSubmitter
	store     *stubStore
	blobs     *stubBlobs
	signer    *signing.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "api-test.log")
	require.NoError(t, err)

	signer, err := signing.New("test-secret", "http://files.test")
	require.NoError(t, err)

	submitter := &stubSubmitter{jobID: "job-abc"}
	store := &stubStore{jobs: make(map[string]core.Job)}
	blobs := &stubBlobs{objects: make(map[string][]byte)}

	apiServer := &api.Server{
		Store:     store,
		Blobs:     blobs,
		Submitter: submitter,
		Signer:    signer,
		Log:       testLogger,
		BaseURL:   "http://files.test",
	}

	server := httptest.NewServer(apiServer.Router())
	t.Cleanup(server.Close)

	return &fixture{
		server:    server,
		submitter: submitter,
		store:     store,
		blobs:     blobs,
		signer:    signer,
	}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer resp.Body.Close()

	var body map[string]any

	err := json.NewDecoder(resp.Body).Decode(&body)
	require.NoError(t, err)

	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)

	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitSpeech_Accepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	payload := `{
		"text": "Hello world",
		"language": "en",
		"gender": "female",
		"store_audio": true,
		"collection_id": "collection-1",
		"page_number": 3
	}`

	resp, err := http.Post(f.server.URL+"/v1/jobs/speech", "application/json", strings.NewReader(payload))
	require.NoError(t, err)

	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "job-abc", body["job_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "http://files.test/v1/jobs/job-abc", body["status_url"])

	sub := f.submitter.last(t)
	assert.Equal(t, core.KindSpeech, sub.Kind)
	assert.Equal(t, "Hello world", sub.Text)
	assert.Equal(t, "female", sub.Speech.Voice.Gender)
	assert.True(t, sub.Speech.StoreAudio)
	assert.Equal(t, "collection-1", sub.Correlation.CollectionID)
	assert.Equal(t, 3, sub.Correlation.PageNumber)
	assert.NotEmpty(t, sub.Correlation.Header.WorkflowID)
}

func TestSubmitStreamingSpeech_UsesStreamingKind(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	payload := `{"text": "long text", "webhook_url": "http://hooks.test/cb"}`

	resp, err := http.Post(f.server.URL+"/v1/jobs/speech/stream", "application/json", strings.NewReader(payload))
	require.NoError(t, err)

	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	sub := f.submitter.last(t)
	assert.Equal(t, core.KindStreamingSpeech, sub.Kind)
	assert.Equal(t, "http://hooks.test/cb", sub.Speech.WebhookURL)
}

func TestSubmitSpeech_InvalidJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/v1/jobs/speech", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)

	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
}

func multipartImage(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("image", "scan.png")
	require.NoError(t, err)

	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)

	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}

	require.NoError(t, writer.Close())

	return &buf, writer.FormDataContentType()
}

func TestSubmitRecognition_Accepted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	buf, contentType := multipartImage(t, map[string]string{
		"collection_id": "collection-1",
		"page_number":   "12",
		"voice_gender":  "male",
	})

	resp, err := http.Post(f.server.URL+"/v1/jobs/recognition", contentType, buf)
	require.NoError(t, err)

	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	sub := f.submitter.last(t)
	assert.Equal(t, core.KindRecognition, sub.Kind)
	assert.Equal(t, []byte("png-bytes"), sub.Image)
	assert.Equal(t, "scan.png", sub.Recognition.Filename)
	assert.Equal(t, "en", sub.Recognition.Language)
	assert.InEpsilon(t, 0.8, sub.Recognition.ConfidenceThreshold, 1e-9)
	assert.Equal(t, "male", sub.Speech.Voice.Gender)
	assert.Equal(t, "collection-1", sub.Correlation.CollectionID)
	assert.Equal(t, 12, sub.Correlation.PageNumber)
}

func TestSubmitRecognition_MissingImage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("collection_id", "collection-1"))
	require.NoError(t, writer.Close())

	resp, err := http.Post(f.server.URL+"/v1/jobs/recognition", writer.FormDataContentType(), &buf)
	require.NoError(t, err)

	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRecognition_InvalidConfidence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	buf, contentType := multipartImage(t, map[string]string{
		"confidence_threshold": "1.5",
	})

	resp, err := http.Post(f.server.URL+"/v1/jobs/recognition", contentType, buf)
	require.NoError(t, err)

	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPollJob_CompletedWithResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.store.jobs["job-1"] = core.Job{
		ID:       "job-1",
		Kind:     core.KindRecognition,
		State:    core.StateSucceeded,
		Progress: 100,
		Message:  "Recognition completed successfully",
		Attempts: 1,
		Result: &core.Result{
			Recognition: &core.RecognitionResult{FullText: "ABC", Confidence: 0.95},
		},
		UpdatedAt: time.Now().UTC(),
	}

	resp, err := http.Get(f.server.URL + "/v1/jobs/job-1")
	require.NoError(t, err)

	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.InEpsilon(t, 100.0, body["progress"], 1e-9)

	result, ok := body["ocr_result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ABC", result["full_text"])
	assert.InEpsilon(t, 0.95, result["confidence"], 1e-9)
}

func TestPollJob_FailedCarriesError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.store.jobs["job-2"] = core.Job{
		ID:       "job-2",
		Kind:     core.KindSpeech,
		State:    core.StateFailed,
		Progress: 50,
		Attempts: 4,
		Failure: &core.Failure{
			Code:   core.FailUpstreamCall,
			Reason: "speech synthesis failed",
		},
	}

	resp, err := http.Get(f.server.URL + "/v1/jobs/job-2")
	require.NoError(t, err)

	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", body["status"])
	assert.InEpsilon(t, 4.0, body["attempts"], 1e-9)

	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(core.FailUpstreamCall), errBody["code"])
	assert.Contains(t, errBody["reason"], "synthesis failed")
}

func TestPollJob_UnknownIs404(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/v1/jobs/nope")
	require.NoError(t, err)

	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSignedFile_Roundtrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	path := "pages/2026/01/15/collection-1_12_scan.png"
	f.blobs.objects[path] = []byte("png-bytes")

	link, err := f.signer.Sign(path, time.Hour)
	require.NoError(t, err)

	redeemURL := strings.Replace(link.URL, "http://files.test", f.server.URL, 1)

	resp, err := http.Get(redeemURL)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	var downloaded bytes.Buffer

	_, err = downloaded.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), downloaded.Bytes())
}

func TestSignedFile_TamperedSignatureRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	path := "pages/2026/01/15/collection-1_12_scan.png"
	f.blobs.objects[path] = []byte("png-bytes")

	redeemURL := fmt.Sprintf("%s/v1/files/%s?expires=%d&sig=forged",
		f.server.URL, url.PathEscape(path), time.Now().Add(time.Hour).Unix())

	resp, err := http.Get(redeemURL)
	require.NoError(t, err)

	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSignedFile_ExpiredLinkRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	path := "pages/2026/01/15/collection-1_12_scan.png"
	f.blobs.objects[path] = []byte("png-bytes")

	link, err := f.signer.Sign(path, -time.Hour)
	require.NoError(t, err)

	redeemURL := strings.Replace(link.URL, "http://files.test", f.server.URL, 1)

	resp, err := http.Get(redeemURL)
	require.NoError(t, err)

	defer resp.Body.Close()
	assert.Equal(t, http.StatusGone, resp.StatusCode)
}
