// Package models resolves and downloads the on-disk model files the
// pipeline's subprocess/embedded backends need: whisper-server's ggml
// checkpoint, the whisper-vad model, and the diarizer's speaker-embedding
// model. Adapted from the teacher's models.Registry/Manager, narrowed to
// the ggml/onnx files SPEC_FULL actually resolves paths for (the teacher's
// CTranslate2/faster-whisper and RNNT entries have no caller here).
package models

// Kind distinguishes the backend a registry entry feeds.
type Kind string

const (
	KindWhisperGGML Kind = "whisper-ggml"
	KindVAD         Kind = "vad"
	KindSpeaker     Kind = "speaker-embedding"
	KindEmbedding   Kind = "text-embedding"
)

// Info describes one downloadable model file.
type Info struct {
	ID          string
	Kind        Kind
	Description string
	SizeBytes   int64
	DownloadURL string
}

// Registry lists the models WhisperServerSupervisor, VoiceGate's external
// VAD, and SpeakerDiarizer can resolve by ID, mirroring the teacher's
// ggml-* entries plus the VAD/speaker models original_source resolves by
// fixed path.
var Registry = []Info{
	{
		ID:          "ggml-tiny",
		Kind:        KindWhisperGGML,
		Description: "fastest, lowest quality",
		SizeBytes:   77_691_713,
		DownloadURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
	},
	{
		ID:          "ggml-base",
		Kind:        KindWhisperGGML,
		Description: "balance of speed and quality",
		SizeBytes:   147_951_465,
		DownloadURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
	},
	{
		ID:          "ggml-small",
		Kind:        KindWhisperGGML,
		Description: "good recognition quality",
		SizeBytes:   487_601_967,
		DownloadURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
	},
	{
		ID:          "ggml-medium",
		Kind:        KindWhisperGGML,
		Description: "high recognition quality",
		SizeBytes:   1_533_774_781,
		DownloadURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
	},
	{
		ID:          "ggml-large-v3-turbo",
		Kind:        KindWhisperGGML,
		Description: "fast, high quality",
		SizeBytes:   1_624_417_792,
		DownloadURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo.bin",
	},
	{
		ID:          "silero-vad",
		Kind:        KindVAD,
		Description: "whisper-vad's bundled Silero VAD model",
		SizeBytes:   17_659_206,
		DownloadURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-silero-v5.1.2.bin",
	},
	{
		ID:          "wespeaker-resnet34",
		Kind:        KindSpeaker,
		Description: "speaker-embedding model for the online diarizer",
		SizeBytes:   26_500_000,
		DownloadURL: "https://huggingface.co/csukuangfj/wespeaker-models/resolve/main/wespeaker_zh_cnceleb_resnet34.onnx",
	},
	{
		ID:          "multilingual-e5-small-onnx",
		Kind:        KindEmbedding,
		Description: "RAG passage/query embedding model (onnx export of intfloat/multilingual-e5-small)",
		SizeBytes:   470_000_000,
		DownloadURL: "https://huggingface.co/intfloat/multilingual-e5-small/resolve/main/onnx/model.onnx",
	},
	{
		ID:          "multilingual-e5-small-vocab",
		Kind:        KindEmbedding,
		Description: "WordPiece vocabulary for multilingual-e5-small-onnx",
		SizeBytes:   1_000_000,
		DownloadURL: "https://huggingface.co/intfloat/multilingual-e5-small/resolve/main/vocab.txt",
	},
}

// ByID looks up a registry entry by id.
func ByID(id string) (Info, bool) {
	for _, m := range Registry {
		if m.ID == id {
			return m, true
		}
	}
	return Info{}, false
}
