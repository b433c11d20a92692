package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/readr-labs/page-pipeline/internal/core"
)

// Text length limits per the downstream synthesis contract.
const (
	MaxSpeechChars          = 5000
	MaxStreamingSpeechChars = 50000
)

// Speech pipeline stage progress values.
const (
	speechProgressSynthesize = 50
	speechProgressPersist    = 80
	streamingProgressBase    = 30
	streamingProgressSpan    = 60
)

// Static errors.
var (
	ErrSpeechTextEmpty   = errors.New("text input is required and cannot be empty")
	ErrSpeechTextTooLong = errors.New("text exceeds the maximum synthesis length")
)

// runSpeech executes one attempt of the speech pipeline. Streaming jobs
// synthesize chunk by chunk with proportional progress and best-effort
// webhook delivery; non-streaming jobs synthesize in one call.
func (o *Orchestrator) runSpeech(
	ctx context.Context,
	progress *tracker,
	sub core.Submission,
	streaming bool,
) error {
	progress.stage(ctx, 0, "Initializing speech processing")

	// Input validation rejects before any gateway call, terminally.
	err := validateSpeechText(sub.Text, streaming)
	if err != nil {
		return core.NewPipelineError(core.FailValidation, err)
	}

	if !o.speaker.IsReady(ctx) {
		return core.NewPipelineError(core.FailDependencyUnavailable, ErrSpeechUnavailable)
	}

	if sub.Speech.StoreAudio && !o.blobs.IsReady(ctx) {
		return core.NewPipelineError(core.FailDependencyUnavailable, ErrStorageUnavailable)
	}

	var (
		audio      []byte
		voiceName  string
		chunkCount int
	)

	if streaming {
		audio, voiceName, chunkCount, err = o.synthesizeChunks(ctx, progress, sub)
	} else {
		audio, voiceName, err = o.synthesizeWhole(ctx, progress, sub)
		chunkCount = 0
	}

	if err != nil {
		return err
	}

	voice := sub.Speech.Voice

	result := core.SpeechResult{
		AudioBytes:      len(audio),
		DurationSeconds: core.EstimateDurationSeconds(utf8.RuneCountInString(sub.Text)),
		Format:          voice.Encoding,
		VoiceName:       voiceName,
		Voice:           voice,
		ChunkCount:      chunkCount,
	}

	if result.Format == "" {
		result.Format = "mp3"
	}

	// Chunked synthesis has already advanced past this stage.
	if !streaming {
		progress.stage(ctx, speechProgressPersist, "Preparing speech results")
	}

	if sub.Speech.StoreAudio {
		audioPath, storeErr := o.storeAudio(ctx, audio, sub, result.Format)
		if storeErr != nil {
			return storeErr
		}

		result.AudioPath = audioPath

		link, signErr := o.signer.Sign(audioPath, o.SignedURLTTL)
		if signErr != nil {
			o.log.Warn("Failed to generate signed URL for '%s': %v", audioPath, signErr)
		} else {
			result.SignedURL = link.URL
			result.SignedURLExpires = link.ExpiresAt
		}
	}

	progress.succeed(ctx, "Speech synthesis completed successfully", &core.Result{
		Speech: &result,
	})

	return nil
}

func (o *Orchestrator) synthesizeWhole(
	ctx context.Context,
	progress *tracker,
	sub core.Submission,
) ([]byte, string, error) {
	voice := sub.Speech.Voice

	progress.stage(ctx, speechProgressSynthesize,
		fmt.Sprintf("Generating audio with %s %s voice", voice.Language, voice.Gender))

	synthesis, err := o.speaker.Synthesize(ctx, sub.Text, voice)
	if err != nil {
		return nil, "", core.NewPipelineError(core.FailUpstreamCall,
			fmt.Errorf("speech synthesis failed: %w", err))
	}

	return synthesis.Audio, synthesis.VoiceName, nil
}

// synthesizeChunks runs chunked synthesis. Each completed chunk advances
// progress proportionally across the 30-90 band and triggers an optional
// webhook notification.
func (o *Orchestrator) synthesizeChunks(
	ctx context.Context,
	progress *tracker,
	sub core.Submission,
) ([]byte, string, int, error) {
	chunks := splitChunks(sub.Text, o.ChunkChars)
	total := len(chunks)

	progress.stage(ctx, streamingProgressBase,
		fmt.Sprintf("Synthesizing %d chunk(s)", total))

	var (
		audio     []byte
		voiceName string
	)

	for index, chunk := range chunks {
		synthesis, err := o.speaker.Synthesize(ctx, chunk, sub.Speech.Voice)
		if err != nil {
			return nil, "", 0, core.NewPipelineError(core.FailUpstreamCall,
				fmt.Errorf("chunk %d of %d failed: %w", index+1, total, err))
		}

		audio = append(audio, synthesis.Audio...)
		voiceName = synthesis.VoiceName

		done := index + 1
		chunkProgress := streamingProgressBase + streamingProgressSpan*done/total
		progress.stage(ctx, chunkProgress,
			fmt.Sprintf("Synthesized chunk %d of %d", done, total))

		if sub.Speech.WebhookURL != "" {
			o.notifier.NotifyChunk(ctx, sub.Speech.WebhookURL, ChunkEvent{
				JobID:       progress.jobID,
				ChunkIndex:  index,
				ChunkCount:  total,
				AudioBytes:  len(synthesis.Audio),
				Correlation: sub.Correlation,
			})
		}
	}

	return audio, voiceName, total, nil
}

func (o *Orchestrator) storeAudio(
	ctx context.Context,
	audio []byte,
	sub core.Submission,
	format string,
) (string, error) {
	prefix := sub.Speech.FilePrefix
	if prefix == "" {
		prefix = "tts_audio"
	}

	audioPath := fmt.Sprintf("audio/%s/%s_%s.%s",
		time.Now().UTC().Format("2006/01/02"), prefix, uuid.NewString(), format)

	_, err := o.blobs.Upload(ctx, audioPath, audio, "audio/"+format)
	if err != nil {
		return "", core.NewPipelineError(core.FailStorageWrite,
			fmt.Errorf("failed to store audio: %w", err))
	}

	return audioPath, nil
}

// validateSpeechText enforces the length limits in characters, not bytes,
// so multi-byte text is measured the way the synthesis contract counts it.
func validateSpeechText(text string, streaming bool) error {
	if text == "" {
		return ErrSpeechTextEmpty
	}

	limit := MaxSpeechChars
	if streaming {
		limit = MaxStreamingSpeechChars
	}

	chars := utf8.RuneCountInString(text)
	if chars > limit {
		return fmt.Errorf("%w: %d characters (max %d)", ErrSpeechTextTooLong, chars, limit)
	}

	return nil
}
