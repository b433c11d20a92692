// Package signing_test tests signed URL generation and verification.
package signing_test

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/readr-labs/page-pipeline/internal/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := signing.New("", "http://localhost:8080")
	require.ErrorIs(t, err, signing.ErrSecretEmpty)
}

func TestSigner_RequiresPath(t *testing.T) {
	t.Parallel()

	signer, err := signing.New("test-secret", "http://localhost:8080")
	require.NoError(t, err)

	_, err = signer.Sign("", time.Hour)
	require.ErrorIs(t, err, signing.ErrPathEmpty)
}

func TestSigner_SignAndVerify(t *testing.T) {
	t.Parallel()

	signer, err := signing.New("test-secret", "http://localhost:8080")
	require.NoError(t, err)

	path := "pages/2026/01/15/collection-1_12_scan.png"

	link, err := signer.Sign(path, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, "http://localhost:8080/v1/files/"))
	assert.True(t, link.ExpiresAt.After(time.Now()))

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)

	expires := parsed.Query().Get("expires")
	sig := parsed.Query().Get("sig")
	require.NotEmpty(t, expires)
	require.NotEmpty(t, sig)

	require.NoError(t, signer.Verify(path, expires, sig))
}

func TestSigner_RejectsTamperedPath(t *testing.T) {
	t.Parallel()

	signer, err := signing.New("test-secret", "http://localhost:8080")
	require.NoError(t, err)

	link, err := signer.Sign("audio/tts_audio_1.mp3", time.Hour)
	require.NoError(t, err)

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)

	err = signer.Verify(
		"audio/tts_audio_2.mp3",
		parsed.Query().Get("expires"),
		parsed.Query().Get("sig"),
	)
	require.ErrorIs(t, err, signing.ErrSignatureInvalid)
}

func TestSigner_RejectsExpiredLink(t *testing.T) {
	t.Parallel()

	signer, err := signing.New("test-secret", "http://localhost:8080")
	require.NoError(t, err)

	link, err := signer.Sign("audio/tts_audio_1.mp3", -time.Minute)
	require.NoError(t, err)

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)

	err = signer.Verify(
		"audio/tts_audio_1.mp3",
		parsed.Query().Get("expires"),
		parsed.Query().Get("sig"),
	)
	require.ErrorIs(t, err, signing.ErrLinkExpired)
}

func TestSigner_RejectsGarbageExpiry(t *testing.T) {
	t.Parallel()

	signer, err := signing.New("test-secret", "http://localhost:8080")
	require.NoError(t, err)

	err = signer.Verify("audio/tts_audio_1.mp3", "not-a-number", "deadbeef")
	require.Error(t, err)
}
