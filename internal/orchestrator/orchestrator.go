// Package orchestrator runs the job pipelines: multi-stage execution with
// progress tracking, bounded retry with backoff, failure classification, and
// chaining of a speech job off every successful recognition job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/readr-labs/page-pipeline/internal/core"
)

// RetryPolicy bounds the attempts of one job kind.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	Timeout    time.Duration
}

// Default retry policies per job kind.
const (
	standardMaxRetries  = 3
	streamingMaxRetries = 2
	standardBackoff     = 60 * time.Second
	streamingBackoff    = 30 * time.Second
	standardTimeout     = 30 * time.Minute
	streamingTimeout    = 25 * time.Minute
)

// DefaultSignedURLTTL is how long generated access links stay valid.
const DefaultSignedURLTTL = 60 * time.Minute

// RecognitionOutcome is handed to the chaining hook when a recognition job
// succeeds. It carries everything a dependent speech job needs: the
// extracted text, the correlation metadata, and the voice parameters the
// caller supplied at recognition submission time.
type RecognitionOutcome struct {
	JobID       string
	Result      core.RecognitionResult
	Correlation core.Correlation
	Speech      core.SpeechOptions
}

// ChainFunc is the completion hook invoked synchronously after a recognition
// job succeeds.
type ChainFunc func(ctx context.Context, outcome RecognitionOutcome) error

// Orchestrator executes job pipelines against the injected collaborators.
// Construct one per process and share it across workers; it holds no
// per-job state.
type Orchestrator struct {
	store      core.JobStore
	blobs      core.BlobStore
	recognizer core.RecognitionGateway
	speaker    core.SpeechGateway
	signer     core.URLSigner
	notifier   *WebhookNotifier
	log        *logger.Logger

	// Policies may be adjusted before the first Execute call.
	Policies map[core.JobKind]RetryPolicy
	// OnRecognitionSuccess, when set, chains a dependent job off every
	// successful recognition pipeline.
	OnRecognitionSuccess ChainFunc
	// SignedURLTTL bounds the validity of generated access links.
	SignedURLTTL time.Duration
	// ChunkChars is the chunk size for streaming synthesis.
	ChunkChars int
}

// New creates an Orchestrator with the default retry policies.
func New(
	store core.JobStore,
	blobs core.BlobStore,
	recognizer core.RecognitionGateway,
	speaker core.SpeechGateway,
	signer core.URLSigner,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		blobs:      blobs,
		recognizer: recognizer,
		speaker:    speaker,
		signer:     signer,
		notifier:   NewWebhookNotifier(log),
		log:        log,
		Policies: map[core.JobKind]RetryPolicy{
			core.KindRecognition: {
				MaxRetries: standardMaxRetries,
				Backoff:    standardBackoff,
				Timeout:    standardTimeout,
			},
			core.KindSpeech: {
				MaxRetries: standardMaxRetries,
				Backoff:    standardBackoff,
				Timeout:    standardTimeout,
			},
			core.KindStreamingSpeech: {
				MaxRetries: streamingMaxRetries,
				Backoff:    streamingBackoff,
				Timeout:    streamingTimeout,
			},
		},
		SignedURLTTL: DefaultSignedURLTTL,
		ChunkChars:   defaultChunkChars,
	}
}

// Execute runs the pipeline for a submitted job until it reaches a terminal
// state. All failures are recorded in the job store; nothing propagates to
// the caller, so the returned error is for the worker's log only.
func (o *Orchestrator) Execute(ctx context.Context, jobID string, sub core.Submission) error {
	policy := o.policy(sub.Kind)

	for attempt := 1; ; attempt++ {
		lastProgress, err := o.runAttempt(ctx, jobID, attempt, sub, policy.Timeout)
		if err == nil {
			return nil
		}

		failure := classifyAttempt(err)

		canRetry := failure.Code.Retryable() && attempt <= policy.MaxRetries
		if !canRetry {
			o.writeUpdate(ctx, jobID, core.ProgressUpdate{
				State:    core.StateFailed,
				Progress: lastProgress,
				Message:  failure.Reason,
				Attempts: attempt,
				Failure:  failure,
			})
			o.log.Error("Job %s failed after %d attempt(s): %v", jobID, attempt, err)

			return err
		}

		o.writeUpdate(ctx, jobID, core.ProgressUpdate{
			State:    core.StateRetrying,
			Progress: 0,
			Message:  fmt.Sprintf("Retrying in %s (attempt %d of %d)", policy.Backoff, attempt+1, policy.MaxRetries+1),
			Attempts: attempt,
			Failure:  failure,
		})
		o.log.Warn("Job %s attempt %d failed, retrying in %s: %v", jobID, attempt, policy.Backoff, err)

		select {
		case <-time.After(policy.Backoff):
		case <-ctx.Done():
			o.writeUpdate(context.WithoutCancel(ctx), jobID, core.ProgressUpdate{
				State:    core.StateCancelled,
				Progress: 0,
				Message:  "worker shutting down",
				Attempts: attempt,
				Failure:  failure,
			})

			return fmt.Errorf("job %s cancelled during backoff: %w", jobID, ctx.Err())
		}
	}
}

// runAttempt executes one attempt of the pipeline and reports the progress
// of the last completed stage alongside any failure.
func (o *Orchestrator) runAttempt(
	ctx context.Context,
	jobID string,
	attempt int,
	sub core.Submission,
	timeout time.Duration,
) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	progress := newTracker(o, jobID, attempt)

	var err error

	switch sub.Kind {
	case core.KindRecognition:
		err = o.runRecognition(attemptCtx, progress, sub)
	case core.KindSpeech:
		err = o.runSpeech(attemptCtx, progress, sub, false)
	case core.KindStreamingSpeech:
		err = o.runSpeech(attemptCtx, progress, sub, true)
	default:
		err = core.NewPipelineError(
			core.FailValidation,
			fmt.Errorf("unsupported job kind '%s'", sub.Kind),
		)
	}

	if err != nil && errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() != nil {
		err = core.NewPipelineError(core.FailTimeout, err)
	}

	return progress.last, err
}

func (o *Orchestrator) policy(kind core.JobKind) RetryPolicy {
	policy, ok := o.Policies[kind]
	if !ok {
		return RetryPolicy{
			MaxRetries: standardMaxRetries,
			Backoff:    standardBackoff,
			Timeout:    standardTimeout,
		}
	}

	return policy
}

// writeUpdate records a stage transition. Store failures here must not kill
// the pipeline: the job keeps running and the next write catches up.
func (o *Orchestrator) writeUpdate(ctx context.Context, jobID string, update core.ProgressUpdate) {
	err := o.store.UpdateProgress(ctx, jobID, update)
	if err != nil {
		o.log.Error("Failed to update status for job %s: %v", jobID, err)
	}
}

func classifyAttempt(err error) *core.Failure {
	return core.NewFailure(core.Classify(err), err)
}

// tracker serializes stage writes for one attempt and remembers the last
// progress value, so failures can be recorded at the stage they happened.
type tracker struct {
	orchestrator *Orchestrator
	jobID        string
	attempt      int
	last         int
}

func newTracker(o *Orchestrator, jobID string, attempt int) *tracker {
	return &tracker{
		orchestrator: o,
		jobID:        jobID,
		attempt:      attempt,
	}
}

// stage records a processing-state write at the given progress.
func (t *tracker) stage(ctx context.Context, progress int, message string) {
	t.last = progress
	t.orchestrator.writeUpdate(ctx, t.jobID, core.ProgressUpdate{
		State:    core.StateProcessing,
		Progress: progress,
		Message:  message,
		Attempts: t.attempt,
	})
}

// succeed records the terminal success write with the final payload.
func (t *tracker) succeed(ctx context.Context, message string, result *core.Result) {
	t.last = 100
	t.orchestrator.writeUpdate(ctx, t.jobID, core.ProgressUpdate{
		State:    core.StateSucceeded,
		Progress: 100,
		Message:  message,
		Attempts: t.attempt,
		Result:   result,
	})
}
