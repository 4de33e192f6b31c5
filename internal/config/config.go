package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RemoteProvider describes one OpenAI-compatible hosted backend. A provider
// with several API keys is expanded into one dispatcher entry per key so that
// key rotation and provider rotation are the same mechanism.
type RemoteProvider struct {
	Name    string
	BaseURL string
	Model   string
	Keys    []string
}

// Generation holds the tunable constants of the pipeline. The density
// multipliers and the overlap threshold are heuristics rather than derived
// values, so they live here instead of being buried in the packages that
// consume them.
type Generation struct {
	UnitTargetChars    int     // accumulated non-whitespace chars per page-based unit
	LightPageChars     int     // below this a page is merged forward
	HeavyPageChars     int     // above this a page is isolated in small groups
	ParagraphUnitChars int     // paragraph-grouping budget
	MinUnitChars       int     // units below this are dropped (non-page strategies)
	MaxUnits           int     // hard cap on downstream LLM-call volume
	AttemptMultiplier  int     // attempts allowed = target * multiplier
	OverlapThreshold   float64 // near-duplicate word-overlap rejection ratio
	MinDensityFactor   float64 // per-chapter quota scaling, lower clamp
	MaxDensityFactor   float64 // per-chapter quota scaling, upper clamp
	QuestionTextCap    int     // hard cap on question_text length
	ExplanationCap     int     // hard cap on explanation length
	MinRelationships   int     // below this the deterministic ontology fallback kicks in
	GenerateTimeout    time.Duration
	HealthCheckTimeout time.Duration
	ProviderRetries    int
	ProviderRetryDelay time.Duration
}

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	Database  string
	UploadDir string
	LogMode   string

	OllamaBaseURL string
	OllamaModel   string

	Remotes []RemoteProvider

	Gen Generation
}

// Load reads configuration from the environment, providing sensible defaults.
func Load() Config {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	cfg := Config{
		Database:      getEnv("DATABASE_PATH", "./data/quizforge.db"),
		UploadDir:     getEnv("UPLOAD_DIR", "./static/uploads"),
		LogMode:       getEnv("LOG_MODE", "dev"),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llama3.1"),
		Remotes:       loadRemotes(),
		Gen: Generation{
			UnitTargetChars:    getEnvInt("UNIT_TARGET_CHARS", 2000),
			LightPageChars:     getEnvInt("LIGHT_PAGE_CHARS", 500),
			HeavyPageChars:     getEnvInt("HEAVY_PAGE_CHARS", 1500),
			ParagraphUnitChars: getEnvInt("PARAGRAPH_UNIT_CHARS", 600),
			MinUnitChars:       getEnvInt("MIN_UNIT_CHARS", 200),
			MaxUnits:           getEnvInt("MAX_UNITS", 22),
			AttemptMultiplier:  getEnvInt("ATTEMPT_MULTIPLIER", 3),
			OverlapThreshold:   getEnvFloat("OVERLAP_THRESHOLD", 0.7),
			MinDensityFactor:   getEnvFloat("MIN_DENSITY_FACTOR", 0.5),
			MaxDensityFactor:   getEnvFloat("MAX_DENSITY_FACTOR", 1.25),
			QuestionTextCap:    getEnvInt("QUESTION_TEXT_CAP", 500),
			ExplanationCap:     getEnvInt("EXPLANATION_CAP", 700),
			MinRelationships:   getEnvInt("MIN_RELATIONSHIPS", 5),
			GenerateTimeout:    getEnvDuration("GENERATE_TIMEOUT", 180*time.Second),
			HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
			ProviderRetries:    getEnvInt("PROVIDER_RETRIES", 2),
			ProviderRetryDelay: getEnvDuration("PROVIDER_RETRY_DELAY", 2*time.Second),
		},
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("failed to ensure upload dir %s: %v", cfg.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		log.Fatalf("failed to ensure database dir %s: %v", cfg.Database, err)
	}

	return cfg
}

// loadRemotes reads the hosted provider list. Keys are comma-separated so a
// single provider can carry several quota pools; the dispatcher treats each
// key as its own rotation slot.
func loadRemotes() []RemoteProvider {
	var remotes []RemoteProvider

	if keys := splitKeys(os.Getenv("GROQ_API_KEYS")); len(keys) > 0 {
		remotes = append(remotes, RemoteProvider{
			Name:    "groq",
			BaseURL: getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
			Model:   getEnv("GROQ_MODEL", "llama-3.1-70b-versatile"),
			Keys:    keys,
		})
	}
	if keys := splitKeys(os.Getenv("OPENROUTER_API_KEYS")); len(keys) > 0 {
		remotes = append(remotes, RemoteProvider{
			Name:    "openrouter",
			BaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:   getEnv("OPENROUTER_MODEL", "meta-llama/llama-3.1-70b-instruct"),
			Keys:    keys,
		})
	}
	if keys := splitKeys(os.Getenv("OPENAI_API_KEYS")); len(keys) > 0 {
		remotes = append(remotes, RemoteProvider{
			Name:    "openai",
			BaseURL: getEnv("OPENAI_API_ENDPOINT", "https://api.openai.com/v1"),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Keys:    keys,
		})
	}

	return remotes
}

func splitKeys(raw string) []string {
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
		log.Printf("ignoring invalid %s=%q", key, val)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		log.Printf("ignoring invalid %s=%q", key, val)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		log.Printf("ignoring invalid %s=%q", key, val)
	}
	return fallback
}
