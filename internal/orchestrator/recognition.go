package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/readr-labs/page-pipeline/internal/core"
)

// Recognition pipeline stage progress values.
const (
	recognitionProgressUpload  = 20
	recognitionProgressDetect  = 40
	recognitionProgressPersist = 70
	recognitionProgressSign    = 90
)

const maxFilenameBase = 50

// Static errors.
var (
	ErrRecognitionUnavailable = errors.New("recognition services unavailable")
	ErrSpeechUnavailable      = errors.New("speech service unavailable")
	ErrStorageUnavailable     = errors.New("blob storage unavailable")
)

// runRecognition executes one attempt of the recognition pipeline.
func (o *Orchestrator) runRecognition(
	ctx context.Context,
	progress *tracker,
	sub core.Submission,
) error {
	progress.stage(ctx, 0, "Initializing recognition processing")

	if !o.blobs.IsReady(ctx) || !o.recognizer.IsReady(ctx) {
		return core.NewPipelineError(core.FailDependencyUnavailable, ErrRecognitionUnavailable)
	}

	sourcePath := deriveSourcePath(time.Now().UTC(), sub.Correlation, sub.Recognition)

	progress.stage(ctx, recognitionProgressUpload,
		fmt.Sprintf("Uploading source image: %s", sub.Recognition.Filename))

	contentType := sub.Recognition.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	uploaded, err := o.blobs.Upload(ctx, sourcePath, sub.Image, contentType)
	if err != nil {
		return core.NewPipelineError(core.FailStorageWrite,
			fmt.Errorf("failed to upload source image: %w", err))
	}

	mode := core.DetectModeText
	if sub.Recognition.DocumentMode {
		mode = core.DetectModeDocument
	}

	progress.stage(ctx, recognitionProgressDetect,
		fmt.Sprintf("Recognizing text in %s mode", mode))

	detectStart := time.Now()

	detection, err := o.recognizer.DetectText(ctx, sub.Image, mode)
	if err != nil {
		return core.NewPipelineError(core.FailUpstreamCall,
			fmt.Errorf("text recognition failed: %w", err))
	}

	detectSeconds := time.Since(detectStart).Seconds()

	progress.stage(ctx, recognitionProgressPersist, "Storing recognition results")

	rawResultPath := o.persistRawDetection(ctx, sourcePath, detection)

	progress.stage(ctx, recognitionProgressSign, "Generating secure access URLs")

	result := core.RecognitionResult{
		FullText:            detection.FullText,
		Confidence:          detection.Confidence,
		ConfidenceThreshold: sub.Recognition.ConfidenceThreshold,
		ProcessingSeconds:   detectSeconds,
		Language:            sub.Recognition.Language,
		DocumentMode:        sub.Recognition.DocumentMode,
		SourcePath:          uploaded.Path,
		RawResultPath:       rawResultPath,
		BlockCount:          detection.BlockCount,
		PageCount:           detection.PageCount,
	}

	// Signing failures are not fatal: the result stays reachable by path.
	link, signErr := o.signer.Sign(uploaded.Path, o.SignedURLTTL)
	if signErr != nil {
		o.log.Warn("Failed to generate signed URL for '%s': %v", uploaded.Path, signErr)
	} else {
		result.SignedURL = link.URL
		result.SignedURLExpires = link.ExpiresAt
	}

	progress.succeed(ctx, "Recognition completed successfully", &core.Result{
		Recognition: &result,
	})

	o.chainRecognition(ctx, progress.jobID, result, sub)

	return nil
}

// persistRawDetection stores the structured detection payload next to the
// source image. Best effort: a failed write costs the raw payload, not the
// job.
func (o *Orchestrator) persistRawDetection(
	ctx context.Context,
	sourcePath string,
	detection *core.Detection,
) string {
	payload, err := json.Marshal(detection)
	if err != nil {
		o.log.Warn("Failed to marshal raw detection payload: %v", err)

		return ""
	}

	rawPath := sourcePath + ".ocr.json"

	_, err = o.blobs.Upload(ctx, rawPath, payload, "application/json")
	if err != nil {
		o.log.Warn("Failed to store raw detection payload '%s': %v", rawPath, err)

		return ""
	}

	return rawPath
}

// chainRecognition hands the outcome to the completion hook. The recognition
// job already succeeded; hook failures are logged, never propagated.
func (o *Orchestrator) chainRecognition(
	ctx context.Context,
	jobID string,
	result core.RecognitionResult,
	sub core.Submission,
) {
	if o.OnRecognitionSuccess == nil {
		return
	}

	outcome := RecognitionOutcome{
		JobID:       jobID,
		Result:      result,
		Correlation: sub.Correlation,
		Speech:      sub.Speech,
	}

	err := o.OnRecognitionSuccess(ctx, outcome)
	if err != nil {
		o.log.Error("Completion hook failed for job %s: %v", jobID, err)
	}
}

// deriveSourcePath builds the deterministic storage path for a submitted
// page image: date, correlation id, page number, sanitized filename.
func deriveSourcePath(now time.Time, correlation core.Correlation, opts core.RecognitionOptions) string {
	collectionID := correlation.CollectionID
	if collectionID == "" {
		collectionID = "unknown"
	}

	pageNumber := correlation.PageNumber
	if pageNumber <= 0 {
		pageNumber = 1
	}

	ext := strings.ToLower(filepath.Ext(opts.Filename))
	base := sanitizeFilename(strings.TrimSuffix(filepath.Base(opts.Filename), filepath.Ext(opts.Filename)))

	return fmt.Sprintf("pages/%s/%s_%d_%s%s",
		now.Format("2006/01/02"), collectionID, pageNumber, base, ext)
}

// sanitizeFilename keeps letters, digits, dashes, and underscores, and caps
// the length so storage paths stay predictable.
func sanitizeFilename(name string) string {
	var builder strings.Builder

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}

	clean := builder.String()
	if clean == "" {
		clean = "page"
	}

	if len(clean) > maxFilenameBase {
		clean = clean[:maxFilenameBase]
	}

	return clean
}
