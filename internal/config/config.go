// Package config loads runtime flags and the ai-interview.config JSON file.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Runtime holds process-level knobs that are not part of ai-interview.config:
// paths, listen addresses, and trace logging. These come from flags/env, the
// way internal/config did in the teacher.
type Runtime struct {
	DataDir    string
	SegmentDir string
	RAGDir     string
	GRPCAddr   string
	WSAddr     string
	TraceLog   string
}

func LoadRuntime() *Runtime {
	dataDir := flag.String("data", "data", "Directory for on-disk state (segments, rag index)")
	grpcAddr := flag.String("grpc-addr", defaultGRPCAddress(), "gRPC listen address (unix:/path/to.sock or npipe:////./pipe/aimeeting-grpc)")
	wsAddr := flag.String("ws-addr", ":8787", "WebSocket control listen address")
	traceLog := flag.String("trace-log", "", "optional path to mirror log output to")
	flag.Parse()

	return &Runtime{
		DataDir:    *dataDir,
		SegmentDir: filepath.Join(*dataDir, "segments"),
		RAGDir:     filepath.Join(*dataDir, "rag"),
		GRPCAddr:   *grpcAddr,
		WSAddr:     *wsAddr,
		TraceLog:   *traceLog,
	}
}

func defaultGRPCAddress() string {
	if runtime.GOOS == "windows" {
		return "npipe:\\\\.\\pipe\\aimeeting-grpc"
	}
	return "unix:/tmp/aimeeting-grpc.sock"
}

// OpenAIConfig mirrors the `openai` section of ai-interview.config.
type OpenAIConfig struct {
	APIKey          string  `json:"apiKey"`
	Model           string  `json:"model,omitempty"`
	BaseURL         string  `json:"baseUrl,omitempty"`
	TimeoutSecs     *uint64 `json:"timeoutSecs,omitempty"`
	ResponseFormat  string  `json:"responseFormat,omitempty"`
	Language        string  `json:"language,omitempty"`
	ChatModel       string  `json:"chatModel,omitempty"`
	ChatBaseURL     string  `json:"chatBaseUrl,omitempty"`
	ChatTimeoutSecs *uint64 `json:"chatTimeoutSecs,omitempty"`
}

// OllamaConfig mirrors the `ollama` section.
type OllamaConfig struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"baseUrl,omitempty"`
	TimeoutSecs *uint64 `json:"timeoutSecs,omitempty"`
}

// TranslateConfig mirrors the `translate` section.
type TranslateConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Provider       string `json:"provider,omitempty"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

// SpeakerConfig mirrors the `speaker` section.
type SpeakerConfig struct {
	Enabled          *bool    `json:"enabled,omitempty"`
	ModelPath        string   `json:"modelPath,omitempty"`
	WindowMs         *int64   `json:"windowMs,omitempty"`
	StepMs           *int64   `json:"stepMs,omitempty"`
	MinRmsDb         *float64 `json:"minRmsDb,omitempty"`
	NewThreshold     *float32 `json:"newThreshold,omitempty"`
	UpdateThreshold  *float32 `json:"updateThreshold,omitempty"`
	UpdateAlpha      *float32 `json:"updateAlpha,omitempty"`
	MaxSpeakers      *int     `json:"maxSpeakers,omitempty"`
	SwitchWindowMs   *int64   `json:"switchWindowMs,omitempty"`
	SwitchHopMs      *int64   `json:"switchHopMs,omitempty"`
	SwitchThreshold  *float32 `json:"switchThreshold,omitempty"`
	ConsecutiveHits  *int     `json:"consecutiveHits,omitempty"`
	MinGapMs         *int64   `json:"minGapMs,omitempty"`
}

// AsrConfig mirrors the `asr` section (static defaults; runtime overrides
// live in asrclient.State, ported from the original's AsrState).
type AsrConfig struct {
	Provider             string   `json:"provider,omitempty"` // openai | whisperserver
	FallbackToOpenAI     *bool    `json:"fallbackToOpenAI,omitempty"`
	Language             string   `json:"language,omitempty"`
	WhisperServerURL     string   `json:"whisperServerUrl,omitempty"`
	WhisperServerTimeout *uint64  `json:"whisperServerTimeoutSecs,omitempty"`
	ModelPath            string   `json:"modelPath,omitempty"`
	GPUBinary            string   `json:"gpuBinary,omitempty"`
	CPUBinary            string   `json:"cpuBinary,omitempty"`
	InferencePath        string   `json:"inferencePath,omitempty"`
	DevicePreference     string   `json:"devicePreference,omitempty"` // auto | gpu | cpu
	VadEnabled           *bool    `json:"vadEnabled,omitempty"`
	VadBinary            string   `json:"vadBinary,omitempty"`
	VadModelPath         string   `json:"vadModelPath,omitempty"`
	MinSpeechMs          *int64   `json:"minSpeechMs,omitempty"`
	MinSpeechRatio       *float64 `json:"minSpeechRatio,omitempty"`
}

// RagConfig mirrors the `rag` section: the embedding backend used to index
// and search project documents. EmbedderModelPath/EmbedderVocabPath accept
// either a models.Registry id or a literal on-disk path, same convention as
// SpeakerConfig.ModelPath.
type RagConfig struct {
	EmbedderModelPath string `json:"embedderModelPath,omitempty"`
	EmbedderVocabPath string `json:"embedderVocabPath,omitempty"`
}

// AppConfig is the parsed shape of ai-interview.config.
type AppConfig struct {
	OpenAI    OpenAIConfig     `json:"openai"`
	Ollama    *OllamaConfig    `json:"ollama,omitempty"`
	Translate *TranslateConfig `json:"translate,omitempty"`
	Speaker   *SpeakerConfig   `json:"speaker,omitempty"`
	Asr       *AsrConfig       `json:"asr,omitempty"`
	Rag       *RagConfig       `json:"rag,omitempty"`
}

// Load locates and parses ai-interview.config the way app_config.rs does:
// env override, then cwd/parent, then executable dir/parent.
func Load() (*AppConfig, error) {
	path, err := locate()
	if err != nil {
		return nil, fmt.Errorf("locate config: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg AppConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

const configFileName = "ai-interview.config"

func locate() (string, error) {
	if env := os.Getenv("AI_INTERVIEW_CONFIG"); env != "" {
		if fileExists(env) {
			return env, nil
		}
		return "", fmt.Errorf("AI_INTERVIEW_CONFIG set to %s but file not found", env)
	}

	if cwd, err := os.Getwd(); err == nil {
		for _, dir := range []string{cwd, filepath.Dir(cwd)} {
			candidate := filepath.Join(dir, configFileName)
			if fileExists(candidate) {
				return candidate, nil
			}
		}
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		for _, dir := range []string{exeDir, filepath.Dir(exeDir)} {
			candidate := filepath.Join(dir, configFileName)
			if fileExists(candidate) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("%s not found via env, cwd, or executable dir", configFileName)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
