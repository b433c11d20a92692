// pagectl submits jobs to a running page-pipeline service and polls their
// status from the command line.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Flag descriptions.
const (
	flagAPIDesc        = "Base URL of the page-pipeline status API"
	flagImageDesc      = "Path of a page image to submit for text recognition"
	flagTextDesc       = "Text to submit for speech synthesis"
	flagStreamDesc     = "Use the streaming synthesis pipeline"
	flagLanguageDesc   = "Language code for recognition and synthesis"
	flagGenderDesc     = "Voice gender for synthesis"
	flagCollectionDesc = "Collection id to correlate the job with"
	flagPageDesc       = "Page number within the collection"
	flagPollDesc       = "Poll the job until it reaches a terminal state"
	flagHealthDesc     = "Check service health and exit"
)

// Flag names.
const (
	flagAPI        = "api"
	flagImage      = "image"
	flagText       = "text"
	flagStream     = "stream"
	flagLanguage   = "language"
	flagGender     = "gender"
	flagCollection = "collection"
	flagPage       = "page"
	flagPoll       = "poll"
	flagHealth     = "health"
)

// Error and log messages.
const (
	errEitherImageOrText = "Either --image or --text must be provided"
	errCannotSpecifyBoth = "Cannot specify both --image and --text"
	errServiceNotHealthy = "service is not healthy: %v\n"
	msgServiceHealthy    = "service is healthy"
	msgSubmitted         = "Submitted job %s\n"
	msgProgress          = "  %s %3d%% %s\n"
)

const (
	defaultAPIBaseURL = "http://localhost:8080"
	pollInterval      = 2 * time.Second
	pollTimeout       = 30 * time.Minute
	requestTimeout    = 30 * time.Second
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	api        string
	image      string
	text       string
	stream     bool
	language   string
	gender     string
	collection string
	page       int
	poll       bool
	health     bool
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	client := &http.Client{Timeout: requestTimeout}

	if flags.health {
		return handleHealthCheck(client, flags.api)
	}

	err := validateArguments(flags)
	if err != nil {
		flag.Usage()

		return err
	}

	jobID, err := submit(client, flags)
	if err != nil {
		return err
	}

	fmt.Printf(msgSubmitted, jobID)

	if flags.poll {
		return pollJob(client, flags.api, jobID)
	}

	return nil
}

// validateArguments checks that exactly one submission input was provided.
func validateArguments(flags appFlags) error {
	if flags.image == "" && flags.text == "" {
		return errors.New(errEitherImageOrText)
	}

	if flags.image != "" && flags.text != "" {
		return errors.New(errCannotSpecifyBoth)
	}

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags() appFlags {
	var flags appFlags
	flag.StringVar(&flags.api, flagAPI, defaultAPIBaseURL, flagAPIDesc)
	flag.StringVar(&flags.image, flagImage, "", flagImageDesc)
	flag.StringVar(&flags.text, flagText, "", flagTextDesc)
	flag.BoolVar(&flags.stream, flagStream, false, flagStreamDesc)
	flag.StringVar(&flags.language, flagLanguage, "en", flagLanguageDesc)
	flag.StringVar(&flags.gender, flagGender, "female", flagGenderDesc)
	flag.StringVar(&flags.collection, flagCollection, "", flagCollectionDesc)
	flag.IntVar(&flags.page, flagPage, 0, flagPageDesc)
	flag.BoolVar(&flags.poll, flagPoll, false, flagPollDesc)
	flag.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flag.Parse()

	return flags
}

func handleHealthCheck(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		fmt.Printf(errServiceNotHealthy, err)

		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		fmt.Printf(errServiceNotHealthy, err)

		return err
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

func submit(client *http.Client, flags appFlags) (string, error) {
	if flags.image != "" {
		return submitRecognition(client, flags)
	}

	return submitSpeech(client, flags)
}

func submitRecognition(client *http.Client, flags appFlags) (string, error) {
	imageData, err := os.ReadFile(flags.image)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("image", filepath.Base(flags.image))
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}

	_, err = part.Write(imageData)
	if err != nil {
		return "", fmt.Errorf("failed to write image part: %w", err)
	}

	fields := map[string]string{
		"language":      flags.language,
		"voice_gender":  flags.gender,
		"collection_id": flags.collection,
		"page_number":   strconv.Itoa(flags.page),
	}
	for key, value := range fields {
		err = writer.WriteField(key, value)
		if err != nil {
			return "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	err = writer.Close()
	if err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	return postForJobID(client, flags.api+"/v1/jobs/recognition", writer.FormDataContentType(), &body)
}

func submitSpeech(client *http.Client, flags appFlags) (string, error) {
	endpoint := flags.api + "/v1/jobs/speech"
	if flags.stream {
		endpoint += "/stream"
	}

	payload, err := json.Marshal(map[string]any{
		"text":          flags.text,
		"language":      flags.language,
		"gender":        flags.gender,
		"store_audio":   true,
		"collection_id": flags.collection,
		"page_number":   flags.page,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	return postForJobID(client, endpoint, "application/json", bytes.NewReader(payload))
}

func postForJobID(client *http.Client, endpoint, contentType string, body io.Reader) (string, error) {
	resp, err := client.Post(endpoint, contentType, body)
	if err != nil {
		return "", fmt.Errorf("submission request failed: %w", err)
	}

	defer resp.Body.Close()

	var decoded struct {
		Success bool   `json:"success"`
		JobID   string `json:"job_id"`
		Error   string `json:"error"`
	}

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusAccepted || !decoded.Success {
		return "", fmt.Errorf("submission rejected (%d): %s", resp.StatusCode, decoded.Error)
	}

	return decoded.JobID, nil
}

// pollJob prints progress until the job reaches a terminal state.
func pollJob(client *http.Client, baseURL, jobID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, progress, message, done, err := fetchStatus(client, baseURL, jobID)
		if err != nil {
			return err
		}

		fmt.Printf(msgProgress, status, progress, message)

		if done {
			if status != "completed" {
				return fmt.Errorf("job %s ended as %s: %s", jobID, status, message)
			}

			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for job %s: %w", jobID, ctx.Err())
		}
	}
}

func fetchStatus(client *http.Client, baseURL, jobID string) (string, int, string, bool, error) {
	resp, err := client.Get(baseURL + "/v1/jobs/" + jobID)
	if err != nil {
		return "", 0, "", false, fmt.Errorf("status request failed: %w", err)
	}

	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", 0, "", false, fmt.Errorf("job %s is unknown or its record expired", jobID)
	}

	var decoded struct {
		Status   string `json:"status"`
		Progress int    `json:"progress"`
		Message  string `json:"message"`
	}

	err = json.NewDecoder(resp.Body).Decode(&decoded)
	if err != nil {
		return "", 0, "", false, fmt.Errorf("failed to decode status: %w", err)
	}

	done := decoded.Status == "completed" || decoded.Status == "failed" || decoded.Status == "cancelled"

	return decoded.Status, decoded.Progress, decoded.Message, done, nil
}
