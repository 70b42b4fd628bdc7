package asrclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIChatModel   = "gpt-4.1-mini"
	defaultOpenAIChatBaseURL = "https://api.openai.com/v1/responses"
	defaultOpenAIChatTimeout = 120 * time.Second
	defaultOllamaBaseURL     = "http://localhost:11434"
	defaultOllamaTimeout     = 600 * time.Second
	defaultOllamaModel       = "gpt-oss:20b"
)

// TranslateConfig carries the resolved (config-merged) provider settings for
// one translate call.
type TranslateConfig struct {
	Provider       string // "openai" | "ollama"
	TargetLanguage string

	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	OpenAITimeout   time.Duration

	OllamaModel   string
	OllamaBaseURL string
	OllamaTimeout time.Duration
}

// TranslateClient dispatches a raw prompt to the configured provider and
// returns the assembled response text. Send is the transport beneath
// translate.Worker's batched JSON-array protocol and RAG Q&A;
// translate_live goes through SendStream instead.
type TranslateClient struct{}

func (TranslateClient) Send(ctx context.Context, cfg TranslateConfig, prompt string) (string, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "chatgpt":
		return sendOpenAIChat(ctx, cfg, prompt)
	case "ollama", "":
		return sendOllama(ctx, cfg, prompt)
	default:
		return "", fmt.Errorf("unsupported translate provider: %s", cfg.Provider)
	}
}

func sendOpenAIChat(ctx context.Context, cfg TranslateConfig, prompt string) (string, error) {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		return "", fmt.Errorf("OpenAI apiKey is required")
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = defaultOpenAIChatModel
	}
	baseURL := cfg.OpenAIBaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIChatBaseURL
	}
	timeout := cfg.OpenAITimeout
	if timeout <= 0 {
		timeout = defaultOpenAIChatTimeout
	}

	body := map[string]any{
		"model": model,
		"input": []map[string]any{
			{"role": "system", "content": []map[string]string{{"type": "input_text", "text": systemPromptFor(cfg.TargetLanguage)}}},
			{"role": "user", "content": []map[string]string{{"type": "input_text", "text": prompt}}},
		},
		"temperature": 0.2,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(baseURL, "/"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai responses request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("openai responses parse: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai responses %d: %s", resp.StatusCode, string(raw))
	}

	text, ok := ExtractResponsesText(value)
	if !ok {
		return "", fmt.Errorf("OpenAI response missing text")
	}
	return text, nil
}

func sendOllama(ctx context.Context, cfg TranslateConfig, prompt string) (string, error) {
	model := cfg.OllamaModel
	if model == "" {
		model = defaultOllamaModel
	}
	baseURL := cfg.OllamaBaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	timeout := cfg.OllamaTimeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	url := strings.TrimRight(baseURL, "/") + "/api/generate"

	body := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("ollama generate parse: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama generate %d: %s", resp.StatusCode, string(raw))
	}

	text, ok := value["response"].(string)
	text = strings.TrimSpace(text)
	if !ok || text == "" {
		return "", fmt.Errorf("ollama response missing text")
	}
	return text, nil
}

// StreamChunk is one incremental fragment from SendStream.
type StreamChunk struct {
	Text string
	Done bool
}

// SendStream dispatches prompt to the configured provider's streaming
// endpoint, invoking onChunk for every fragment as it arrives: NDJSON
// `{"response":...,"done":...}` lines for Ollama, SSE `data: ...` frames
// for OpenAI (terminated by `[DONE]` or a `response.completed` event).
// Used by translate_live so captions can render incrementally instead of
// waiting for the whole translation.
func (TranslateClient) SendStream(ctx context.Context, cfg TranslateConfig, prompt string, onChunk func(StreamChunk)) error {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "chatgpt":
		return streamOpenAIChat(ctx, cfg, prompt, onChunk)
	case "ollama", "":
		return streamOllama(ctx, cfg, prompt, onChunk)
	default:
		return fmt.Errorf("unsupported translate provider: %s", cfg.Provider)
	}
}

func streamOllama(ctx context.Context, cfg TranslateConfig, prompt string, onChunk func(StreamChunk)) error {
	model := cfg.OllamaModel
	if model == "" {
		model = defaultOllamaModel
	}
	baseURL := cfg.OllamaBaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	timeout := cfg.OllamaTimeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	url := strings.TrimRight(baseURL, "/") + "/api/generate"

	payload, err := json.Marshal(map[string]any{"model": model, "prompt": prompt, "stream": true})
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama generate stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama generate stream %d: %s", resp.StatusCode, string(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var frame struct {
			Response string `json:"response"`
			Done     bool   `json:"done"`
		}
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			continue
		}
		if frame.Response != "" {
			onChunk(StreamChunk{Text: frame.Response})
		}
		if frame.Done {
			onChunk(StreamChunk{Done: true})
			return nil
		}
	}
	return scanner.Err()
}

func streamOpenAIChat(ctx context.Context, cfg TranslateConfig, prompt string, onChunk func(StreamChunk)) error {
	apiKey := strings.TrimSpace(cfg.OpenAIAPIKey)
	if apiKey == "" {
		return fmt.Errorf("OpenAI apiKey is required")
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = defaultOpenAIChatModel
	}
	baseURL := cfg.OpenAIBaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIChatBaseURL
	}
	timeout := cfg.OpenAITimeout
	if timeout <= 0 {
		timeout = defaultOpenAIChatTimeout
	}

	body := map[string]any{
		"model":  model,
		"stream": true,
		"input": []map[string]any{
			{"role": "system", "content": []map[string]string{{"type": "input_text", "text": systemPromptFor(cfg.TargetLanguage)}}},
			{"role": "user", "content": []map[string]string{{"type": "input_text", "text": prompt}}},
		},
		"temperature": 0.2,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(baseURL, "/"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai responses stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("openai responses stream %d: %s", resp.StatusCode, string(raw))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			onChunk(StreamChunk{Done: true})
			return nil
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}
		if delta, ok := event["delta"].(string); ok && delta != "" {
			onChunk(StreamChunk{Text: delta})
		}
		if eventType, _ := event["type"].(string); eventType == "response.completed" {
			onChunk(StreamChunk{Done: true})
			return nil
		}
	}
	return scanner.Err()
}

func systemPromptFor(targetLanguage string) string {
	if targetLanguage == "" {
		targetLanguage = "zh"
	}
	return fmt.Sprintf("Translate the following text to %s. Output only the translated text.", targetLanguage)
}

// ExtractResponsesText implements the OpenAI Responses output-text
// extraction (the Ollama path reads its "response" field instead): prefer
// output_text, else walk output[].content[].text where type == output_text.
func ExtractResponsesText(value map[string]any) (string, bool) {
	if text, ok := value["output_text"].(string); ok {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed, true
		}
	}

	output, _ := value["output"].([]any)
	for _, item := range output {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		content, _ := itemMap["content"].([]any)
		for _, part := range content {
			partMap, ok := part.(map[string]any)
			if !ok {
				continue
			}
			if partMap["type"] != "output_text" {
				continue
			}
			if text, ok := partMap["text"].(string); ok {
				if trimmed := strings.TrimSpace(text); trimmed != "" {
					return trimmed, true
				}
			}
		}
	}
	return "", false
}
