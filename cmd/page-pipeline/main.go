// main package for the page-pipeline service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/readr-labs/page-pipeline/internal/api"
	"github.com/readr-labs/page-pipeline/internal/config"
	"github.com/readr-labs/page-pipeline/internal/core"
	"github.com/readr-labs/page-pipeline/internal/jobstore"
	"github.com/readr-labs/page-pipeline/internal/objectstore"
	"github.com/readr-labs/page-pipeline/internal/orchestrator"
	"github.com/readr-labs/page-pipeline/internal/recognition"
	"github.com/readr-labs/page-pipeline/internal/signing"
	"github.com/readr-labs/page-pipeline/internal/speech"
	"github.com/readr-labs/page-pipeline/internal/worker"
)

const httpShutdownTimeout = 10 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "page-pipeline.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// newJobStore picks the status backend: Redis when configured, otherwise a
// JetStream key-value bucket. Both enforce the same TTL semantics.
func newJobStore(
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
	log *logger.Logger,
) (core.JobStore, error) {
	if cfg.Redis.URL != "" {
		options, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}

		log.Info("Tracking job status in Redis at %s", options.Addr)

		return jobstore.NewRedisJobStore(redis.NewClient(options), jobstore.DefaultTTL), nil
	}

	store, err := jobstore.NewNatsJobStore(jetstreamContext, cfg.NATS.JobStatusBucket, jobstore.DefaultTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create job status bucket: %w", err)
	}

	log.Info("Tracking job status in JetStream bucket %s", cfg.NATS.JobStatusBucket)

	return store, nil
}

func newBlobStore(cfg *config.Config, jetstreamContext nats.JetStreamContext) (core.BlobStore, error) {
	pages, err := objectstore.New(jetstreamContext, cfg.NATS.PageObjectBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create page object bucket: %w", err)
	}

	audio, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio object bucket: %w", err)
	}

	return objectstore.NewPrefixRouter(pages, audio), nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := newJobStore(cfg, jetstreamContext, log)
	if err != nil {
		return err
	}

	blobs, err := newBlobStore(cfg, jetstreamContext)
	if err != nil {
		return err
	}

	signer, err := signing.New(cfg.Signing.Secret, cfg.Signing.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("failed to create URL signer: %w", err)
	}

	recognizer := recognition.NewClient(
		cfg.Recognition.BaseURL,
		time.Duration(cfg.Recognition.TimeoutSeconds)*time.Second,
	)
	speaker := speech.NewClient(
		cfg.Speech.BaseURL,
		time.Duration(cfg.Speech.TimeoutSeconds)*time.Second,
	)

	orch := orchestrator.New(store, blobs, recognizer, speaker, signer, log)
	if cfg.Signing.ExpirationMinutes > 0 {
		orch.SignedURLTTL = time.Duration(cfg.Signing.ExpirationMinutes) * time.Minute
	}

	if cfg.Speech.ChunkChars > 0 {
		orch.ChunkChars = cfg.Speech.ChunkChars
	}

	publisher := worker.NewPublisher(natsConnection, cfg.NATS.JobSubmittedSubject, store, log)
	orch.OnRecognitionSuccess = worker.ChainSpeech(publisher)

	natsWorker, err := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.JobSubmittedSubject,
		cfg.NATS.JobCompletedSubject,
		orch,
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	apiServer := &api.Server{
		Store:     store,
		Blobs:     blobs,
		Submitter: publisher,
		Signer:    signer,
		Log:       log,
		BaseURL:   cfg.Signing.PublicBaseURL,
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddress,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)

	go func() {
		log.System("Status API listening on %s", cfg.HTTP.ListenAddress)

		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErr <- serveErr

			// Bring the worker down too.
			stop()
		}

		close(httpErr)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		shutdownErr := httpServer.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			log.Error("HTTP server shutdown failed: %v", shutdownErr)
		}
	}()

	log.System("Worker consuming jobs from subject %s", cfg.NATS.JobSubmittedSubject)

	workerErr := natsWorker.Run(ctx)

	if serveErr, ok := <-httpErr; ok && serveErr != nil {
		return fmt.Errorf("status API failed: %w", serveErr)
	}

	if workerErr != nil {
		return fmt.Errorf("worker stopped with error: %w", workerErr)
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
