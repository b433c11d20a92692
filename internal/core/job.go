// Package core defines the job model and the collaborator interfaces for the
// page-pipeline service.
package core

import (
	"time"

	"github.com/book-expert/events"
)

// JobKind identifies the pipeline a job runs through.
type JobKind string

// Supported job kinds.
const (
	KindRecognition     JobKind = "recognition"
	KindSpeech          JobKind = "speech"
	KindStreamingSpeech JobKind = "streaming_speech"
)

// JobState is the lifecycle state of a job, as stored and as polled.
type JobState string

// Job lifecycle states.
const (
	StatePending    JobState = "pending"
	StateProcessing JobState = "processing"
	StateSucceeded  JobState = "succeeded"
	StateFailed     JobState = "failed"
	StateRetrying   JobState = "retrying"
	StateCancelled  JobState = "cancelled"
)

// IsTerminal reports whether a job in this state will never change again.
func (s JobState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Correlation carries caller-supplied context through a job and into any job
// chained off it. The pipeline reads the typed fields; Extra is an opaque
// passthrough the pipeline never inspects.
type Correlation struct {
	Header       events.EventHeader `json:"header"`
	CollectionID string             `json:"collection_id,omitempty"`
	PageNumber   int                `json:"page_number,omitempty"`
	Extra        string             `json:"extra,omitempty"`
}

// VoiceParams are the synthesis parameters for speech jobs. The same struct
// rides along on recognition submissions so the chained speech job knows how
// to speak the extracted text.
type VoiceParams struct {
	Language     string  `json:"language"`
	Gender       string  `json:"gender"`
	VoiceIndex   int     `json:"voice_index"`
	Encoding     string  `json:"encoding"`
	SpeakingRate float64 `json:"speaking_rate"`
	Pitch        float64 `json:"pitch"`
	VolumeGainDB float64 `json:"volume_gain_db"`
}

// RecognitionOptions select how text is extracted from the submitted image.
type RecognitionOptions struct {
	Language            string  `json:"language"`
	DocumentMode        bool    `json:"document_mode"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Filename            string  `json:"filename"`
	ContentType         string  `json:"content_type"`
}

// SpeechOptions control a speech job beyond the voice parameters themselves.
type SpeechOptions struct {
	Voice      VoiceParams `json:"voice"`
	StoreAudio bool        `json:"store_audio"`
	FilePrefix string      `json:"file_prefix"`
	// WebhookURL receives best-effort per-chunk notifications on streaming
	// jobs. Ignored for non-streaming speech.
	WebhookURL string `json:"webhook_url,omitempty"`
}

// RecognitionResult is the payload of a completed recognition job.
type RecognitionResult struct {
	FullText   string  `json:"full_text"`
	Confidence float64 `json:"confidence"`
	// ConfidenceThreshold is the threshold the caller asked the detection
	// to be filtered at, echoed back so pollers can interpret Confidence.
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	ProcessingSeconds   float64   `json:"processing_seconds"`
	Language            string    `json:"language"`
	DocumentMode        bool      `json:"document_mode"`
	SourcePath          string    `json:"source_path"`
	RawResultPath       string    `json:"raw_result_path,omitempty"`
	SignedURL           string    `json:"signed_url,omitempty"`
	SignedURLExpires    time.Time `json:"signed_url_expires,omitempty"`
	BlockCount          int       `json:"block_count,omitempty"`
	PageCount           int       `json:"page_count,omitempty"`
}

// SpeechResult is the payload of a completed speech or streaming speech job.
type SpeechResult struct {
	AudioBytes       int         `json:"audio_bytes"`
	DurationSeconds  float64     `json:"duration_seconds"`
	Format           string      `json:"format"`
	VoiceName        string      `json:"voice_name"`
	AudioPath        string      `json:"audio_path,omitempty"`
	SignedURL        string      `json:"signed_url,omitempty"`
	SignedURLExpires time.Time   `json:"signed_url_expires,omitempty"`
	Voice            VoiceParams `json:"voice"`
	ChunkCount       int         `json:"chunk_count,omitempty"`
}

// Result bundles the kind-specific payloads; exactly one side is populated,
// matching the job's kind.
type Result struct {
	Recognition *RecognitionResult `json:"recognition,omitempty"`
	Speech      *SpeechResult      `json:"speech,omitempty"`
}

// Job is the single source of truth for polling: one record per job id,
// mutated only by the worker that owns the job.
type Job struct {
	ID          string      `json:"job_id"`
	Kind        JobKind     `json:"kind"`
	State       JobState    `json:"state"`
	Progress    int         `json:"progress"`
	Message     string      `json:"message"`
	Attempts    int         `json:"attempts"`
	Failure     *Failure    `json:"failure,omitempty"`
	Result      *Result     `json:"result,omitempty"`
	Correlation Correlation `json:"correlation"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// CharsPerMinute is the speech-rate assumption behind audio duration
// estimates.
const CharsPerMinute = 150

// EstimateDurationSeconds estimates the spoken length of a text.
func EstimateDurationSeconds(textLength int) float64 {
	return float64(textLength) / CharsPerMinute * 60
}
