package core

import (
	"context"
	"time"
)

// JobStore tracks job status records, keyed by job id, with a bounded TTL.
// Records are written only by the worker that owns the job; pollers only
// read. Every successful write refreshes the TTL.
type JobStore interface {
	// Create inserts a fresh record. It fails with ErrJobExists when the id
	// is already present.
	Create(ctx context.Context, job Job) error
	// UpdateProgress overwrites the stored record for the job id. It fails
	// with ErrJobNotFound when the record is absent or expired, and with
	// ErrJobTerminal when the stored state is already terminal.
	UpdateProgress(ctx context.Context, jobID string, update ProgressUpdate) error
	// Get returns the current record, or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*Job, error)
}

// ProgressUpdate is one stage write against a job record. The whole
// field-set lands atomically: readers never observe a half-written record.
type ProgressUpdate struct {
	State    JobState
	Progress int
	Message  string
	Attempts int
	Failure  *Failure
	Result   *Result
}

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Path string
	Size int
}

// BlobStore is the gateway to durable byte storage.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (*ObjectInfo, error)
	Download(ctx context.Context, path string) ([]byte, error)
	IsReady(ctx context.Context) bool
}

// SignedLink is a time-limited grant of read access to a stored object.
type SignedLink struct {
	URL       string
	ExpiresAt time.Time
}

// URLSigner mints time-limited access links for stored objects.
type URLSigner interface {
	Sign(path string, ttl time.Duration) (*SignedLink, error)
}

// DetectMode selects plain text extraction or structured document analysis.
type DetectMode string

// Recognition modes.
const (
	DetectModeText     DetectMode = "text"
	DetectModeDocument DetectMode = "document"
)

// Detection is what the recognition gateway extracted from an image.
type Detection struct {
	FullText   string
	Confidence float64
	BlockCount int
	PageCount  int
}

// RecognitionGateway is the external OCR collaborator.
type RecognitionGateway interface {
	DetectText(ctx context.Context, image []byte, mode DetectMode) (*Detection, error)
	IsReady(ctx context.Context) bool
}

// Synthesis is one block of audio produced by the speech gateway.
type Synthesis struct {
	Audio     []byte
	VoiceName string
	Format    string
}

// SpeechGateway is the external TTS collaborator.
type SpeechGateway interface {
	Synthesize(ctx context.Context, text string, voice VoiceParams) (*Synthesis, error)
	IsReady(ctx context.Context) bool
}

// Submission is everything a caller hands over when submitting a job. Exactly
// one of Image or Text is populated, matching the kind.
type Submission struct {
	Kind        JobKind
	Image       []byte
	Text        string
	Recognition RecognitionOptions
	Speech      SpeechOptions
	Correlation Correlation
}

// Submitter accepts a job for asynchronous execution and returns its id
// without waiting for the pipeline to run.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) (string, error)
}
