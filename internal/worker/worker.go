// Package worker provides the NATS submission queue and the worker that
// consumes it: Submit publishes a job envelope and returns immediately, Run
// executes pipelines as envelopes arrive.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/readr-labs/page-pipeline/internal/core"
	"github.com/readr-labs/page-pipeline/internal/orchestrator"
)

// queueGroup spreads envelope delivery across worker processes; each
// envelope is handled by at most one subscriber at a time. Redelivery after
// a crash is possible, so execution stays idempotent: pipelines overwrite
// full records and terminal states reject further writes.
const queueGroup = "page-pipeline-workers"

// ErrSubmissionEmpty indicates a submission with no payload for its kind.
var ErrSubmissionEmpty = errors.New("submission payload is empty")

// jobEnvelope is the wire format published to the submission subject.
type jobEnvelope struct {
	JobID      string          `json:"job_id"`
	Submission core.Submission `json:"submission"`
}

// CompletionEvent is published on the completion subject when a job reaches
// a terminal state, so interested consumers can react without polling.
type CompletionEvent struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
	Kind   core.JobKind       `json:"kind"`
	State  core.JobState      `json:"state"`
}

// Publisher implements core.Submitter over NATS: it creates the pending job
// record and enqueues the envelope, returning without waiting for execution.
type Publisher struct {
	natsConnection *nats.Conn
	subject        string
	store          core.JobStore
	log            *logger.Logger
}

// NewPublisher creates a submission publisher.
func NewPublisher(
	natsConnection *nats.Conn,
	subject string,
	store core.JobStore,
	log *logger.Logger,
) *Publisher {
	return &Publisher{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		log:            log,
	}
}

// Submit validates the submission shape, records the job as pending, and
// publishes the envelope. It never blocks on pipeline execution.
func (p *Publisher) Submit(ctx context.Context, sub core.Submission) (string, error) {
	err := validateSubmission(sub)
	if err != nil {
		return "", err
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()

	job := core.Job{
		ID:          jobID,
		Kind:        sub.Kind,
		State:       core.StatePending,
		Progress:    0,
		Message:     "queued",
		Correlation: sub.Correlation,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = p.store.Create(ctx, job)
	if err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}

	data, err := json.Marshal(jobEnvelope{JobID: jobID, Submission: sub})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	err = p.natsConnection.Publish(p.subject, data)
	if err != nil {
		return "", fmt.Errorf("failed to publish job envelope: %w", err)
	}

	p.log.Info("Submitted %s job %s", sub.Kind, jobID)

	return jobID, nil
}

func validateSubmission(sub core.Submission) error {
	switch sub.Kind {
	case core.KindRecognition:
		if len(sub.Image) == 0 {
			return fmt.Errorf("%w: recognition requires image bytes", ErrSubmissionEmpty)
		}
	case core.KindSpeech, core.KindStreamingSpeech:
		// Empty text is accepted here and rejected terminally by the
		// pipeline, so the caller still gets a pollable job id.
	default:
		return fmt.Errorf("unsupported job kind '%s'", sub.Kind)
	}

	return nil
}

// NatsWorker listens for job envelopes on a NATS subject and runs the
// orchestrator pipelines.
type NatsWorker struct {
	natsConnection   *nats.Conn
	subject          string
	completedSubject string
	orchestrator     *orchestrator.Orchestrator
	log              *logger.Logger

	baseCtx context.Context
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	completedSubject string,
	orch *orchestrator.Orchestrator,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection:   natsConnection,
		subject:          subject,
		completedSubject: completedSubject,
		orchestrator:     orch,
		log:              log,
		baseCtx:          context.Background(),
	}, nil
}

// Run starts the worker and begins listening for envelopes until the
// context is cancelled.
func (w *NatsWorker) Run(ctx context.Context) error {
	w.baseCtx = ctx

	sub, err := w.natsConnection.QueueSubscribe(w.subject, queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	var envelope jobEnvelope

	err := json.Unmarshal(msg.Data, &envelope)
	if err != nil {
		w.log.Error("Failed to unmarshal job envelope: %v", err)

		return
	}

	execErr := w.orchestrator.Execute(w.baseCtx, envelope.JobID, envelope.Submission)
	if execErr != nil {
		w.log.Error("Job %s finished with failure: %v", envelope.JobID, execErr)
	}

	w.publishCompletion(envelope, execErr)
}

// CompletionState maps a pipeline outcome to the terminal state announced
// on the completion subject. A shutdown during backoff surfaces as
// cancelled, matching the stored record, not as a failure.
func CompletionState(execErr error) core.JobState {
	switch {
	case execErr == nil:
		return core.StateSucceeded
	case errors.Is(execErr, context.Canceled):
		return core.StateCancelled
	default:
		return core.StateFailed
	}
}

// publishCompletion emits the terminal-state event. Best effort: pollers
// read the job store either way.
func (w *NatsWorker) publishCompletion(envelope jobEnvelope, execErr error) {
	if w.completedSubject == "" {
		return
	}

	state := CompletionState(execErr)

	event := CompletionEvent{
		Header: envelope.Submission.Correlation.Header,
		JobID:  envelope.JobID,
		Kind:   envelope.Submission.Kind,
		State:  state,
	}

	data, err := json.Marshal(event)
	if err != nil {
		w.log.Error("Failed to marshal completion event for job %s: %v", envelope.JobID, err)

		return
	}

	err = w.natsConnection.Publish(w.completedSubject, data)
	if err != nil {
		w.log.Error("Failed to publish completion event for job %s: %v", envelope.JobID, err)
	}
}

// ChainSpeech builds the recognition completion hook: it submits exactly one
// speech job carrying the extracted text, the caller's voice options, and
// the originating job's correlation metadata.
func ChainSpeech(submitter core.Submitter) orchestrator.ChainFunc {
	return func(ctx context.Context, outcome orchestrator.RecognitionOutcome) error {
		_, err := submitter.Submit(ctx, core.Submission{
			Kind:        core.KindSpeech,
			Text:        outcome.Result.FullText,
			Speech:      outcome.Speech,
			Correlation: outcome.Correlation,
		})
		if err != nil {
			return fmt.Errorf("failed to submit chained speech job: %w", err)
		}

		return nil
	}
}
