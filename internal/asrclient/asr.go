// Package asrclient provides provider-neutral ASR request shapes for
// OpenAI-style and local whisper-server endpoints, plus State, the
// runtime-mutable provider/fallback/language override that sits above the
// static config (ported from AsrState in original_source/src-tauri/src/asr.rs).
package asrclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultOpenAIModel          = "whisper-1"
	defaultOpenAIBaseURL        = "https://api.openai.com/v1/audio/transcriptions"
	defaultOpenAITimeout        = 300 * time.Second
	defaultResponseFormat       = "json"
	defaultWhisperServerURL     = "http://127.0.0.1:8080/inference"
	defaultWhisperServerFormat  = "text"
	defaultWhisperServerTempStr = "0"
)

// State is the runtime-mutable ASR provider/fallback/language override,
// separate from the static config so UI commands can flip it without a
// config reload.
type State struct {
	mu         sync.RWMutex
	provider   string // "openai" | "whisperserver"
	fallback   bool
	language   string
}

func NewState(provider string, fallback bool, language string) *State {
	return &State{provider: provider, fallback: fallback, language: language}
}

func (s *State) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

func (s *State) SetProvider(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
}

func (s *State) FallbackToOpenAI() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}

func (s *State) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

func (s *State) SetLanguage(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
}

// OpenAIConfig and WhisperServerConfig carry the per-call knobs the client
// needs; Client.Transcribe resolves which to use via State.Provider.
type OpenAIConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	Timeout        time.Duration
	ResponseFormat string
	Language       string
}

type WhisperServerConfig struct {
	URL      string
	Timeout  time.Duration
	Language string
}

// Client resolves the active provider (with OpenAI fallback) and speaks the
// multipart wire contract each expects.
type Client struct {
	State         *State
	OpenAI        OpenAIConfig
	WhisperServer WhisperServerConfig
	// ResolveWhisperServerURL is consulted when WhisperServer.URL is empty
	// or still the documented default, mirroring the original's manager
	// ensure_started() call; nil means "use WhisperServer.URL as-is".
	ResolveWhisperServerURL func(ctx context.Context) (string, error)
}

// Transcribe runs the full provider/fallback decision from §4.10 /
// transcribe.rs: try the active provider, and on failure fall back to
// OpenAI if configured to do so.
func (c *Client) Transcribe(ctx context.Context, path string, prompt string) (string, error) {
	provider := c.State.Provider()
	fallback := c.State.FallbackToOpenAI()
	if lang := c.State.Language(); lang != "" {
		c.OpenAI.Language = lang
		c.WhisperServer.Language = lang
	}

	switch provider {
	case "whisperserver":
		text, err := c.transcribeWhisperServer(ctx, path, prompt)
		if err == nil {
			return text, nil
		}
		if !fallback {
			return "", err
		}
	case "openai":
		// falls through to the OpenAI call below
	default:
		if !fallback {
			return "", fmt.Errorf("unsupported ASR provider: %s", provider)
		}
	}

	return c.transcribeOpenAI(ctx, path, prompt)
}

// TranscribeFile is the narrow interface rolling.ASRClient needs; it omits
// the context-prompt argument used by the segment transcription path.
func (c *Client) TranscribeFile(ctx context.Context, path string) (string, error) {
	return c.Transcribe(ctx, path, "")
}

func (c *Client) transcribeWhisperServer(ctx context.Context, path, prompt string) (string, error) {
	url := c.WhisperServer.URL
	if url == "" {
		url = defaultWhisperServerURL
	}
	if (url == defaultWhisperServerURL || url == "") && c.ResolveWhisperServerURL != nil {
		resolved, err := c.ResolveWhisperServerURL(ctx)
		if err != nil {
			return "", fmt.Errorf("whisper-server not available: %w", err)
		}
		url = resolved
	}

	timeout := c.WhisperServer.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}

	body, contentType, err := multipartFile(path, map[string]string{
		"temperature":      defaultWhisperServerTempStr,
		"response_format":  defaultWhisperServerFormat,
		"language":         c.WhisperServer.Language,
		"prompt":           prompt,
		"initial_prompt":   prompt,
	})
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper-server request: %w", err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("whisper-server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
	}
	trimmed := strings.TrimSpace(string(text))
	if trimmed == "" {
		return "", fmt.Errorf("whisper-server returned empty text")
	}
	return trimmed, nil
}

func (c *Client) transcribeOpenAI(ctx context.Context, path, prompt string) (string, error) {
	apiKey := strings.TrimSpace(c.OpenAI.APIKey)
	if apiKey == "" {
		return "", fmt.Errorf("OpenAI apiKey is required")
	}

	model := c.OpenAI.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	baseURL := c.OpenAI.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	url := normalizeTranscriptionsURL(baseURL)
	timeout := c.OpenAI.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	responseFormat := c.OpenAI.ResponseFormat
	if responseFormat == "" {
		responseFormat = defaultResponseFormat
	}

	fields := map[string]string{"model": model}
	if responseFormat != "" {
		fields["response_format"] = responseFormat
	}
	if c.OpenAI.Language != "" {
		fields["language"] = c.OpenAI.Language
	}
	if prompt != "" {
		fields["prompt"] = prompt
	}

	body, contentType, err := multipartFile(path, fields)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai transcribe request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if responseFormat == "text" {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return "", fmt.Errorf("openai transcribe %d: %s", resp.StatusCode, string(raw))
		}
		return strings.TrimSpace(string(raw)), nil
	}

	text, ok, parseErr := extractJSONTextField(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai transcribe %d: %s", resp.StatusCode, string(raw))
	}
	if parseErr != nil || !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("transcription returned empty text")
	}
	return strings.TrimSpace(text), nil
}

func multipartFile(path string, fields map[string]string) (io.Reader, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read clip: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// normalizeTranscriptionsURL mirrors transcribe.rs's normalize_transcriptions_url.
func normalizeTranscriptionsURL(raw string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	switch {
	case strings.HasSuffix(trimmed, "/audio/transcriptions"):
		return trimmed
	case strings.HasSuffix(trimmed, "/v1/responses"):
		return strings.Replace(trimmed, "/v1/responses", "/v1/audio/transcriptions", 1)
	case strings.HasSuffix(trimmed, "/v1"):
		return trimmed + "/audio/transcriptions"
	case strings.Contains(trimmed, "/v1/"):
		return trimmed
	default:
		return trimmed + "/v1/audio/transcriptions"
	}
}
