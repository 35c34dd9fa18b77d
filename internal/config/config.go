package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// Dialogflow
	DialogflowProjectID string
	// Overrides the SDK's default gRPC endpoint (host:port); empty keeps it
	DialogflowEndpoint string
	// Path to the service-account JSON used for Dialogflow
	CredentialsFile string
	// Gemini NLU / empathy endpoints share one bearer key
	GeminiNLUURL     string
	GeminiEmpathyURL string
	GeminiAPIKey     string
	// Zero means upstream calls never time out
	UpstreamTimeout time.Duration
	// Optional YAML override for the per-step failure policy
	PolicyFile string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:                getEnvDefault("PORT", "8080"),
		AllowedOrigin:       getEnvDefault("ALLOWED_ORIGIN", "*"),
		DialogflowProjectID: os.Getenv("DIALOGFLOW_PROJECT_ID"),
		DialogflowEndpoint:  os.Getenv("DIALOGFLOW_ENDPOINT"),
		CredentialsFile:     getEnvDefault("GOOGLE_APPLICATION_CREDENTIALS", "dialogflow_credentials.json"),
		GeminiNLUURL:        os.Getenv("GEMINI_API_URL_NLU"),
		GeminiEmpathyURL:    os.Getenv("GEMINI_API_URL_EMPATHY"),
		GeminiAPIKey:        os.Getenv("GEMINI_AI_API_KEY"),
		UpstreamTimeout:     getEnvDurationDefault("UPSTREAM_TIMEOUT", 0),
		PolicyFile:          os.Getenv("POLICY_FILE"),
	}
	if cfg.DialogflowProjectID == "" {
		log.Println("warning: DIALOGFLOW_PROJECT_ID is not set; intent detection will fail until provided")
	}
	if cfg.GeminiNLUURL == "" || cfg.GeminiEmpathyURL == "" {
		log.Println("warning: GEMINI_API_URL_NLU or GEMINI_API_URL_EMPATHY is not set")
	}
	if cfg.GeminiAPIKey == "" {
		log.Println("warning: GEMINI_AI_API_KEY is not set; Gemini calls will be rejected upstream")
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Printf("warning: %s=%q is not a valid duration; using %s", key, v, def)
		return def
	}
	return d
}
