package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDRESS", "GATEWAY_URL", "INPUT_MODE", "AUDIO_UPLINK",
		"SILENCE_TIMEOUT_MS", "VAD_THRESHOLD", "LLM_PROVIDER",
		"CEREBRAS_API_KEY", "CEREBRAS_MODEL_ID",
	} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.HTTPAddress != ":8080" {
		t.Fatalf("http address: %q", cfg.HTTPAddress)
	}
	if cfg.GatewayURL != "ws://127.0.0.1:8080/ws/conversation" {
		t.Fatalf("gateway url: %q", cfg.GatewayURL)
	}
	if cfg.InputMode != ModeHandsFree {
		t.Fatalf("input mode: %q", cfg.InputMode)
	}
	if cfg.AudioUplink != "pcm" {
		t.Fatalf("audio uplink: %q", cfg.AudioUplink)
	}
	if cfg.SilenceTimeout != 800*time.Millisecond {
		t.Fatalf("silence timeout: %s", cfg.SilenceTimeout)
	}
	if cfg.VADThreshold != 0 {
		t.Fatalf("vad threshold: %g", cfg.VADThreshold)
	}
	if cfg.CerebrasModelID == "" {
		t.Fatalf("expected default cerebras model id")
	}
	// No CEREBRAS_API_KEY means the provider falls back to ollama.
	if cfg.LLMProvider != "ollama" {
		t.Fatalf("provider: %q", cfg.LLMProvider)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDRESS", ":9999")
	t.Setenv("INPUT_MODE", ModePushToTalk)
	t.Setenv("AUDIO_UPLINK", "opus")
	t.Setenv("SILENCE_TIMEOUT_MS", "450")
	t.Setenv("VAD_THRESHOLD", "0.025")
	t.Setenv("MIC_SAMPLE_RATE", "48000")
	t.Setenv("LLM_PROVIDER", "cerebras")
	t.Setenv("CEREBRAS_API_KEY", "k")
	cfg := Load()
	if cfg.HTTPAddress != ":9999" {
		t.Fatalf("http address: %q", cfg.HTTPAddress)
	}
	if cfg.InputMode != ModePushToTalk {
		t.Fatalf("input mode: %q", cfg.InputMode)
	}
	if cfg.AudioUplink != "opus" {
		t.Fatalf("audio uplink: %q", cfg.AudioUplink)
	}
	if cfg.SilenceTimeout != 450*time.Millisecond {
		t.Fatalf("silence timeout: %s", cfg.SilenceTimeout)
	}
	if cfg.VADThreshold != 0.025 {
		t.Fatalf("vad threshold: %g", cfg.VADThreshold)
	}
	if cfg.MicSampleRate != 48000 {
		t.Fatalf("mic sample rate: %d", cfg.MicSampleRate)
	}
	if cfg.LLMProvider != "cerebras" {
		t.Fatalf("provider: %q", cfg.LLMProvider)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	t.Setenv("SILENCE_TIMEOUT_MS", "soon")
	t.Setenv("MIC_SAMPLE_RATE", "-x")
	t.Setenv("VAD_THRESHOLD", "loud")
	cfg := Load()
	if cfg.SilenceTimeout != 800*time.Millisecond {
		t.Fatalf("silence timeout: %s", cfg.SilenceTimeout)
	}
	if cfg.MicSampleRate != 16000 {
		t.Fatalf("mic sample rate: %d", cfg.MicSampleRate)
	}
	if cfg.VADThreshold != 0 {
		t.Fatalf("vad threshold: %g", cfg.VADThreshold)
	}
}
