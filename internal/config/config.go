package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Input modes: who triggers the idle->listening edge.
const (
	ModeHandsFree  = "handsFree"
	ModePushToTalk = "pushToTalk"
)

// Config holds application configuration for the runtime and the gateway.
type Config struct {
	// Gateway / transport
	HTTPAddress          string
	GatewayURL           string
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectBase        time.Duration

	// Recognition
	RecognizerURL   string
	RecognizerKey   string
	Language        string
	RecognizerModel string

	// VAD / endpointing
	SilenceTimeout time.Duration
	MinSpeech      time.Duration
	VADThreshold   float64 // 0 means "use calibrated or conservative default"

	// Synthesis
	DeepgramKey   string
	SynthVoice    string
	InputMode     string
	AudioUplink   string // "pcm" or "opus"
	MicSampleRate int

	// Gateway LLM
	LLMProvider     string // "cerebras" or "ollama"
	CerebrasKey     string
	CerebrasModelID string
	OllamaURL       string
	OllamaModel     string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}
	gatewayURL := os.Getenv("GATEWAY_URL")
	if gatewayURL == "" {
		gatewayURL = "ws://127.0.0.1:8080/ws/conversation"
	}

	recognizerURL := os.Getenv("RECOGNIZER_URL")
	recognizerKey := os.Getenv("RECOGNIZER_API_KEY")
	if recognizerKey == "" {
		log.Println("Warning: RECOGNIZER_API_KEY not set - streaming transcription will not work")
	}
	language := os.Getenv("RECOGNIZER_LANGUAGE")
	if language == "" {
		language = "en"
	}
	recognizerModel := os.Getenv("RECOGNIZER_MODEL")

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - TTS will not work")
	}
	synthVoice := os.Getenv("SYNTH_VOICE")
	if synthVoice == "" {
		synthVoice = "aura-2-thalia-en"
	}

	mode := os.Getenv("INPUT_MODE")
	if mode != ModePushToTalk {
		mode = ModeHandsFree
	}
	uplink := os.Getenv("AUDIO_UPLINK")
	if uplink != "opus" {
		uplink = "pcm"
	}

	cerebrasKey := os.Getenv("CEREBRAS_API_KEY")
	cerebrasModel := os.Getenv("CEREBRAS_MODEL_ID")
	if cerebrasModel == "" {
		cerebrasModel = "gpt-oss-120b"
	}
	ollamaURL := os.Getenv("OLLAMA_URL")
	if ollamaURL == "" {
		ollamaURL = "http://127.0.0.1:11434"
	}
	ollamaModel := os.Getenv("OLLAMA_MODEL")
	if ollamaModel == "" {
		ollamaModel = "gemma3:1b"
	}
	provider := os.Getenv("LLM_PROVIDER")
	if provider == "" {
		if cerebrasKey != "" {
			provider = "cerebras"
		} else {
			provider = "ollama"
		}
	}
	if provider == "cerebras" && cerebrasKey == "" {
		log.Println("Warning: CEREBRAS_API_KEY not set - gateway LLM will not work")
	}

	log.Printf("config: HTTP_ADDRESS=%s GATEWAY_URL=%s INPUT_MODE=%s", addr, gatewayURL, mode)
	return Config{
		HTTPAddress:          addr,
		GatewayURL:           gatewayURL,
		HeartbeatInterval:    envDuration("HEARTBEAT_INTERVAL_MS", 30*time.Second),
		MaxReconnectAttempts: envInt("MAX_RECONNECT_ATTEMPTS", 5),
		ReconnectBase:        envDuration("RECONNECT_BASE_MS", time.Second),
		RecognizerURL:        recognizerURL,
		RecognizerKey:        recognizerKey,
		Language:             language,
		RecognizerModel:      recognizerModel,
		SilenceTimeout:       envDuration("SILENCE_TIMEOUT_MS", 800*time.Millisecond),
		MinSpeech:            envDuration("MIN_SPEECH_MS", 200*time.Millisecond),
		VADThreshold:         envFloat("VAD_THRESHOLD", 0),
		DeepgramKey:          deepgramKey,
		SynthVoice:           synthVoice,
		InputMode:            mode,
		AudioUplink:          uplink,
		MicSampleRate:        envInt("MIC_SAMPLE_RATE", 16000),
		LLMProvider:          provider,
		CerebrasKey:          cerebrasKey,
		CerebrasModelID:      cerebrasModel,
		OllamaURL:            ollamaURL,
		OllamaModel:          ollamaModel,
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %g", key, v, def)
		return def
	}
	return f
}

// envDuration reads a millisecond count from the environment.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		log.Printf("config: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
