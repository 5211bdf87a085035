package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// whisperTimeout bounds a single transcription request.
	whisperTimeout = 30 * time.Second

	whisperModel = "whisper-1"
)

// whisperEndpoint is OpenAI's audio transcription endpoint. A var, not a
// const, so tests can point it at an httptest server.
var whisperEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// whisperResponse is the relevant subset of OpenAI's transcription response.
type whisperResponse struct {
	Text string `json:"text"`
}

// transcribeAudio sends the downloaded audio file to OpenAI's Whisper
// transcription endpoint and returns the transcript. Returns ("", nil)
// silently when whisper_api_key is unset or the download already failed —
// either case degrades to the bare <media:audio>/<media:voice> tag with no
// transcript, per the per-stage error propagation policy for media.
func (c *Channel) transcribeAudio(ctx context.Context, filePath string) (string, error) {
	if c.config.WhisperAPIKey == "" || filePath == "" {
		return "", nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("stt: open audio file %q: %w", filePath, err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("stt: write audio bytes to form: %w", err)
	}
	if err := w.WriteField("model", whisperModel); err != nil {
		return "", fmt.Errorf("stt: write model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, whisperTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, whisperEndpoint, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.config.WhisperAPIKey)

	slog.Debug("telegram: calling whisper transcription", "file", filepath.Base(filePath))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result whisperResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}

	slog.Debug("telegram: whisper transcript received", "length", len(result.Text))
	return result.Text, nil
}
