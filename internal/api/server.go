// Package api exposes the HTTP status surface: job submission, status
// polling, and signed file redemption.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/readr-labs/page-pipeline/internal/core"
	"github.com/readr-labs/page-pipeline/internal/signing"
)

const maxUploadBytes = 50 << 20

// Caller-facing status vocabulary.
var statusNames = map[core.JobState]string{
	core.StatePending:    "pending",
	core.StateProcessing: "processing",
	core.StateSucceeded:  "completed",
	core.StateFailed:     "failed",
	core.StateRetrying:   "retrying",
	core.StateCancelled:  "cancelled",
}

// Server wires the submission, polling, and file redemption handlers.
type Server struct {
	Store     core.JobStore
	Blobs     core.BlobStore
	Submitter core.Submitter
	Signer    *signing.Signer
	Log       *logger.Logger
	BaseURL   string
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs/recognition", s.handleSubmitRecognition)
		r.Post("/jobs/speech", s.handleSubmitSpeech)
		r.Post("/jobs/speech/stream", s.handleSubmitStreamingSpeech)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handlePollJob)
		r.Get("/files/*", s.handleSignedFile)
	})

	return r
}

// speechRequest is the JSON submission body for speech jobs.
type speechRequest struct {
	Text         string  `json:"text"`
	Language     string  `json:"language"`
	Gender       string  `json:"gender"`
	VoiceIndex   int     `json:"voice_index"`
	Encoding     string  `json:"encoding"`
	SpeakingRate float64 `json:"speaking_rate"`
	Pitch        float64 `json:"pitch"`
	VolumeGainDB float64 `json:"volume_gain_db"`
	StoreAudio   bool    `json:"store_audio"`
	FilePrefix   string  `json:"file_prefix"`
	WebhookURL   string  `json:"webhook_url"`
	CollectionID string  `json:"collection_id"`
	PageNumber   int     `json:"page_number"`
	Extra        string  `json:"extra"`
}

func (s *Server) handleSubmitRecognition(w http.ResponseWriter, r *http.Request) {
	err := r.ParseMultipartForm(maxUploadBytes)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))

		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("missing 'image' file: %w", err))

		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("read image: %w", err))

		return
	}

	pageNumber, _ := strconv.Atoi(r.FormValue("page_number"))

	confidence := 0.8
	if raw := r.FormValue("confidence_threshold"); raw != "" {
		parsed, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil || parsed < 0 || parsed > 1 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid confidence_threshold: %s", raw))

			return
		}

		confidence = parsed
	}

	sub := core.Submission{
		Kind:  core.KindRecognition,
		Image: imageData,
		Recognition: core.RecognitionOptions{
			Language:            formValueOr(r, "language", "en"),
			DocumentMode:        r.FormValue("extract_format") == "structured",
			ConfidenceThreshold: confidence,
			Filename:            header.Filename,
			ContentType:         header.Header.Get("Content-Type"),
		},
		Speech: core.SpeechOptions{
			Voice: core.VoiceParams{
				Language: formValueOr(r, "language", "en"),
				Gender:   formValueOr(r, "voice_gender", "female"),
				Encoding: formValueOr(r, "audio_encoding", "mp3"),
			},
			StoreAudio: true,
		},
		Correlation: s.correlationFrom(r, r.FormValue("collection_id"), pageNumber, r.FormValue("extra")),
	}

	s.accept(w, r, sub)
}

func (s *Server) handleSubmitSpeech(w http.ResponseWriter, r *http.Request) {
	s.submitSpeech(w, r, core.KindSpeech)
}

func (s *Server) handleSubmitStreamingSpeech(w http.ResponseWriter, r *http.Request) {
	s.submitSpeech(w, r, core.KindStreamingSpeech)
}

func (s *Server) submitSpeech(w http.ResponseWriter, r *http.Request, kind core.JobKind) {
	var req speechRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))

		return
	}

	sub := core.Submission{
		Kind: kind,
		Text: req.Text,
		Speech: core.SpeechOptions{
			Voice: core.VoiceParams{
				Language:     req.Language,
				Gender:       req.Gender,
				VoiceIndex:   req.VoiceIndex,
				Encoding:     req.Encoding,
				SpeakingRate: req.SpeakingRate,
				Pitch:        req.Pitch,
				VolumeGainDB: req.VolumeGainDB,
			},
			StoreAudio: req.StoreAudio,
			FilePrefix: req.FilePrefix,
			WebhookURL: req.WebhookURL,
		},
		Correlation: s.correlationFrom(r, req.CollectionID, req.PageNumber, req.Extra),
	}

	s.accept(w, r, sub)
}

// accept submits and answers 202 with the job id and poll URL. Submission
// returns before the pipeline runs; downstream failures surface only
// through polling.
func (s *Server) accept(w http.ResponseWriter, r *http.Request, sub core.Submission) {
	jobID, err := s.Submitter.Submit(r.Context(), sub)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"job_id":     jobID,
		"status":     statusNames[core.StatePending],
		"status_url": fmt.Sprintf("%s/v1/jobs/%s", s.BaseURL, jobID),
	})
}

func (s *Server) handlePollJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := s.Store.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, err)

			return
		}

		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	response := map[string]any{
		"success":    true,
		"job_id":     job.ID,
		"kind":       job.Kind,
		"status":     statusNames[job.State],
		"progress":   job.Progress,
		"message":    job.Message,
		"updated_at": job.UpdatedAt,
	}

	if job.State == core.StateSucceeded && job.Result != nil {
		if job.Result.Recognition != nil {
			response["ocr_result"] = job.Result.Recognition
		}

		if job.Result.Speech != nil {
			response["speech_result"] = job.Result.Speech
		}
	}

	if job.State == core.StateFailed || job.State == core.StateRetrying {
		response["attempts"] = job.Attempts

		if job.Failure != nil {
			response["error"] = map[string]any{
				"code":   job.Failure.Code,
				"reason": job.Failure.Reason,
			}
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleListJobs is a stub: the job store is keyed by id and records expire
// on their own, so there is no listing surface yet.
func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"jobs":    []any{},
	})
}

func (s *Server) handleSignedFile(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")

	path, err := url.PathUnescape(raw)
	if err != nil || path == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid file path"))

		return
	}

	err = s.Signer.Verify(path, r.URL.Query().Get("expires"), r.URL.Query().Get("sig"))
	if err != nil {
		if errors.Is(err, signing.ErrLinkExpired) {
			s.writeError(w, http.StatusGone, err)

			return
		}

		s.writeError(w, http.StatusForbidden, err)

		return
	}

	data, err := s.Blobs.Download(r.Context(), path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("file not found: %w", err))

		return
	}

	contentType := "application/octet-stream"
	if ext := filepath.Ext(path); ext != "" {
		if mimeType := mime.TypeByExtension(ext); mimeType != "" {
			contentType = mimeType
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// correlationFrom builds the correlation metadata for a submission,
// stamping a fresh workflow header and passing caller identity through.
func (s *Server) correlationFrom(r *http.Request, collectionID string, pageNumber int, extra string) core.Correlation {
	return core.Correlation{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     r.Header.Get("X-User-ID"),
			TenantID:   r.Header.Get("X-Tenant-ID"),
		},
		CollectionID: collectionID,
		PageNumber:   pageNumber,
		Extra:        extra,
	}
}

func formValueOr(r *http.Request, key, fallback string) string {
	if value := r.FormValue(key); value != "" {
		return value
	}

	return fallback
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.Log.Error("Request failed: %v", err)
	}

	s.writeJSON(w, code, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}
