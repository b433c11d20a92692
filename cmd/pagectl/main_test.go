package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// TestMainFlags verifies that command-line flags are parsed correctly.
func TestMainFlags(t *testing.T) {
	oldArgs := os.Args

	t.Cleanup(func() { os.Args = oldArgs })

	tests := []struct {
		name     string
		wantText string
		args     []string
	}{
		{
			name:     "text flag parsing",
			args:     []string{"cmd", "--text", "Hello, world!"},
			wantText: "Hello, world!",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			// Reset flag parsing state for each test run to ensure isolation.
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)
			os.Args = testCase.args

			textFlag := flag.String(flagText, "", flagTextDesc)
			flag.Parse()

			if *textFlag != testCase.wantText {
				t.Errorf("Expected text flag %q, got %q", testCase.wantText, *textFlag)
			}
		})
	}
}

// TestArgumentValidation verifies the required and conflicting argument
// rules at the application's boundary.
func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		flags         appFlags
		wantErr       bool
		expectedError string
	}{
		{
			name:          "success with text flag",
			flags:         appFlags{text: "some text"},
			wantErr:       false,
			expectedError: "",
		},
		{
			name:          "success with image flag",
			flags:         appFlags{image: "scan.png"},
			wantErr:       false,
			expectedError: "",
		},
		{
			name:          "error with both flags",
			flags:         appFlags{text: "some text", image: "scan.png"},
			wantErr:       true,
			expectedError: errCannotSpecifyBoth,
		},
		{
			name:          "error with no flags",
			flags:         appFlags{},
			wantErr:       true,
			expectedError: errEitherImageOrText,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateArguments(testCase.flags)

			if testCase.wantErr {
				if err == nil {
					t.Fatalf("expected error %q, got nil", testCase.expectedError)
				}

				if !strings.Contains(err.Error(), testCase.expectedError) {
					t.Errorf("expected error %q, got %q", testCase.expectedError, err.Error())
				}

				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestSubmitSpeechAgainstStubAPI submits a speech job against a stub status
// API and checks the returned job id.
func TestSubmitSpeechAgainstStubAPI(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/speech" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		if body["text"] != "Hello" {
			t.Errorf("expected text 'Hello', got %v", body["text"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"job_id":  "job-123",
		})
	}))
	defer server.Close()

	jobID, err := submitSpeech(server.Client(), appFlags{
		api:      server.URL,
		text:     "Hello",
		language: "en",
		gender:   "female",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if jobID != "job-123" {
		t.Errorf("expected job id 'job-123', got %q", jobID)
	}
}

// TestPollJobStopsOnTerminalState verifies that polling ends once the job
// reports a terminal status.
func TestPollJobStopsOnTerminalState(t *testing.T) {
	t.Parallel()

	calls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++

		status := "processing"
		progress := 40

		if calls > 1 {
			status = "completed"
			progress = 100
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"status":   status,
			"progress": progress,
			"message":  "working",
		})
	}))
	defer server.Close()

	err := pollJob(server.Client(), server.URL, "job-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls < 2 {
		t.Errorf("expected at least two polls, got %d", calls)
	}
}
