// config.go - Configuration loaded from environment variables

package configs

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the matching pipeline. It is built once at
// startup and passed to each component; nothing reads the environment later.
type Config struct {
	// Environment
	Env      string
	LogLevel string

	// Matching thresholds
	PredictionConfidenceCutoff  float64 // project and vendor embedding match
	VendorNameConfidenceCutoff  float64 // extracted supplier entity acceptance
	FuzzyScoreCutoff            int     // token-set address match
	TopScoresToKeep             int
	CustomerRegexPostCharacters int
	UseFuzzyMatching            bool
	MatchingRulesFile           string
	VendorPromptMaxTokens       int
	VendorPromptTemperature     float64
	ProjectIndexCacheTTL        time.Duration
	RosterIndexCacheTTL         time.Duration
	MasterDataCacheTTL          time.Duration
	ReconcileConcurrency        int
	DocumentTimeout             time.Duration
	ProcessConcurrency          int
	MaxImageDimension           int
	EnableImagePreprocessing    bool
	LLMRequestsPerMinute        int
	EmbeddingRequestsPerMinute  int
	RetryMaxAttempts            int
	RetryInitialDelay           time.Duration
	RetryMaxDelay               time.Duration

	// LLM providers
	LLMProvider         string // gemini | openai
	LLMFallbackProvider string
	GeminiAPIKey        string
	LLMModel            string
	ExtractorModel      string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAIModel         string

	// Embeddings
	EmbeddingProvider        string // http | gemini
	EmbeddingModel           string
	EmbeddingBaseURL         string
	EmbeddingAPIKey          string
	EmbeddingCachePath       string
	EmbeddingMemoryCacheSize int // vectors kept in process

	// Server Configuration
	Port           string
	AllowedOrigins string

	// MongoDB Configuration
	MongoURI    string
	MongoDBName string

	// Accounting system (Agave)
	AgaveBaseURL      string
	AgaveClientID     string
	AgaveClientSecret string
	AgaveAPIVersion   string
	AgaveAccountToken string
}

// LoadConfig loads configuration from environment variables, reading a .env
// file first when one exists.
func LoadConfig(envFiles ...string) (*Config, error) {
	// Load .env file if exists (for local development)
	if err := godotenv.Load(envFiles...); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	d := Default()
	cfg := &Config{
		Env:      getEnv("ENV", d.Env),
		LogLevel: getEnv("LOG_LEVEL", d.LogLevel),

		PredictionConfidenceCutoff:  getEnvFloat("PREDICTION_CONFIDENCE_CUTOFF", d.PredictionConfidenceCutoff),
		VendorNameConfidenceCutoff:  getEnvFloat("VENDOR_NAME_CONFIDENCE_CUTOFF", d.VendorNameConfidenceCutoff),
		FuzzyScoreCutoff:            getEnvInt("THEFUZZ_SCORE_CUTOFF", d.FuzzyScoreCutoff),
		TopScoresToKeep:             getEnvInt("N_TOP_SCORES_TO_KEEP", d.TopScoresToKeep),
		CustomerRegexPostCharacters: getEnvInt("CUSTOMER_REGEX_POST_CHARACTERS", d.CustomerRegexPostCharacters),
		UseFuzzyMatching:            getEnvBool("USE_FUZZY_MATCHING", d.UseFuzzyMatching),
		MatchingRulesFile:           getEnv("MATCHING_RULES_FILE", d.MatchingRulesFile),
		VendorPromptMaxTokens:       getEnvInt("VENDOR_PROMPT_MAX_TOKENS", d.VendorPromptMaxTokens),
		VendorPromptTemperature:     getEnvFloat("VENDOR_PROMPT_TEMPERATURE", d.VendorPromptTemperature),
		ProjectIndexCacheTTL:        getEnvDuration("PROJECT_INDEX_CACHE_TTL", d.ProjectIndexCacheTTL),
		RosterIndexCacheTTL:         getEnvDuration("INDEX_CACHE_TTL", d.RosterIndexCacheTTL),
		MasterDataCacheTTL:          getEnvDuration("MASTER_DATA_CACHE_TTL", d.MasterDataCacheTTL),
		ReconcileConcurrency:        getEnvInt("RECONCILE_CONCURRENCY", d.ReconcileConcurrency),
		DocumentTimeout:             getEnvDuration("DOCUMENT_TIMEOUT", d.DocumentTimeout),
		ProcessConcurrency:          getEnvInt("PROCESS_CONCURRENCY", d.ProcessConcurrency),
		MaxImageDimension:           getEnvInt("MAX_IMAGE_DIMENSION", d.MaxImageDimension),
		EnableImagePreprocessing:    getEnvBool("ENABLE_IMAGE_PREPROCESSING", d.EnableImagePreprocessing),
		LLMRequestsPerMinute:        getEnvInt("LLM_REQUESTS_PER_MINUTE", d.LLMRequestsPerMinute),
		EmbeddingRequestsPerMinute:  getEnvInt("EMBEDDING_REQUESTS_PER_MINUTE", d.EmbeddingRequestsPerMinute),
		RetryMaxAttempts:            getEnvInt("RETRY_MAX_ATTEMPTS", d.RetryMaxAttempts),
		RetryInitialDelay:           getEnvDuration("RETRY_INITIAL_DELAY", d.RetryInitialDelay),
		RetryMaxDelay:               getEnvDuration("RETRY_MAX_DELAY", d.RetryMaxDelay),

		LLMProvider:         getEnv("LLM_PROVIDER", d.LLMProvider),
		LLMFallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", d.LLMFallbackProvider),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", d.GeminiAPIKey),
		LLMModel:            getEnv("LLM_MODEL", d.LLMModel),
		ExtractorModel:      getEnv("EXTRACTOR_MODEL", d.ExtractorModel),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", d.OpenAIAPIKey),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", d.OpenAIBaseURL),
		OpenAIModel:         getEnv("OPENAI_MODEL", d.OpenAIModel),

		EmbeddingProvider:        getEnv("EMBEDDING_PROVIDER", d.EmbeddingProvider),
		EmbeddingModel:           getEnv("EMBEDDING_MODEL", d.EmbeddingModel),
		EmbeddingBaseURL:         getEnv("EMBEDDING_BASE_URL", d.EmbeddingBaseURL),
		EmbeddingAPIKey:          getEnv("EMBEDDING_API_KEY", d.EmbeddingAPIKey),
		EmbeddingCachePath:       getEnv("EMBEDDING_CACHE_PATH", d.EmbeddingCachePath),
		EmbeddingMemoryCacheSize: getEnvInt("EMBEDDING_MEMORY_CACHE_SIZE", d.EmbeddingMemoryCacheSize),

		Port:           getEnv("PORT", d.Port),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", d.AllowedOrigins),

		MongoURI:    getEnv("MONGO_URI", d.MongoURI),
		MongoDBName: getEnv("MONGO_DB_NAME", d.MongoDBName),

		AgaveBaseURL:      getEnv("AGAVE_BASE_URL", d.AgaveBaseURL),
		AgaveClientID:     getEnv("AGAVE_CLIENT_ID", d.AgaveClientID),
		AgaveClientSecret: getEnv("AGAVE_CLIENT_SECRET", d.AgaveClientSecret),
		AgaveAPIVersion:   getEnv("AGAVE_API_VERSION", d.AgaveAPIVersion),
		AgaveAccountToken: getEnv("AGAVE_ACCOUNT_TOKEN", d.AgaveAccountToken),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with every option at its default value.
func Default() *Config {
	return &Config{
		Env:                         "development",
		LogLevel:                    "info",
		PredictionConfidenceCutoff:  0.60,
		VendorNameConfidenceCutoff:  0.75,
		FuzzyScoreCutoff:            40,
		TopScoresToKeep:             5,
		CustomerRegexPostCharacters: 40,
		UseFuzzyMatching:            true,
		VendorPromptMaxTokens:       100,
		VendorPromptTemperature:     0.3,
		ProjectIndexCacheTTL:        10 * time.Minute,
		RosterIndexCacheTTL:         30 * time.Minute,
		MasterDataCacheTTL:          5 * time.Minute,
		ReconcileConcurrency:        8,
		DocumentTimeout:             45 * time.Second,
		ProcessConcurrency:          4,
		MaxImageDimension:           2000,
		EnableImagePreprocessing:    true,
		LLMRequestsPerMinute:        60,
		EmbeddingRequestsPerMinute:  600,
		RetryMaxAttempts:            3,
		RetryInitialDelay:           1 * time.Second,
		RetryMaxDelay:               8 * time.Second,
		LLMProvider:                 "gemini",
		LLMModel:                    "gemini-2.5-flash",
		ExtractorModel:              "gemini-2.5-flash",
		OpenAIBaseURL:               "https://api.openai.com/v1",
		OpenAIModel:                 "gpt-4",
		EmbeddingProvider:           "http",
		EmbeddingModel:              "sentence-transformers/all-MiniLM-L6-v2",
		EmbeddingBaseURL:            "http://localhost:8081/v1",
		EmbeddingMemoryCacheSize:    10000,
		Port:                        "8080",
		AllowedOrigins:              "*",
		MongoURI:                    "mongodb://localhost:27017",
		MongoDBName:                 "docmatch",
		AgaveBaseURL:                "https://api.agaveapi.com",
		AgaveAPIVersion:             "2021-11-21",
	}
}

// Validate reports every out-of-range option at once.
func (c *Config) Validate() error {
	var errs []error
	if c.PredictionConfidenceCutoff < 0 || c.PredictionConfidenceCutoff > 1 {
		errs = append(errs, fmt.Errorf("PREDICTION_CONFIDENCE_CUTOFF must be in [0,1], got %v", c.PredictionConfidenceCutoff))
	}
	if c.VendorNameConfidenceCutoff < 0 || c.VendorNameConfidenceCutoff > 1 {
		errs = append(errs, fmt.Errorf("VENDOR_NAME_CONFIDENCE_CUTOFF must be in [0,1], got %v", c.VendorNameConfidenceCutoff))
	}
	if c.FuzzyScoreCutoff < 0 || c.FuzzyScoreCutoff > 100 {
		errs = append(errs, fmt.Errorf("THEFUZZ_SCORE_CUTOFF must be in [0,100], got %d", c.FuzzyScoreCutoff))
	}
	if c.TopScoresToKeep < 0 {
		errs = append(errs, fmt.Errorf("N_TOP_SCORES_TO_KEEP must not be negative, got %d", c.TopScoresToKeep))
	}
	if c.CustomerRegexPostCharacters < 0 {
		errs = append(errs, fmt.Errorf("CUSTOMER_REGEX_POST_CHARACTERS must not be negative, got %d", c.CustomerRegexPostCharacters))
	}
	if c.ReconcileConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("RECONCILE_CONCURRENCY must be positive, got %d", c.ReconcileConcurrency))
	}
	if c.EmbeddingMemoryCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_MEMORY_CACHE_SIZE must be positive, got %d", c.EmbeddingMemoryCacheSize))
	}
	if c.ProcessConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("PROCESS_CONCURRENCY must be positive, got %d", c.ProcessConcurrency))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.RetryMaxAttempts))
	}
	if c.DocumentTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DOCUMENT_TIMEOUT must be positive, got %v", c.DocumentTimeout))
	}
	switch c.LLMProvider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER: %s (supported: gemini, openai)", c.LLMProvider))
	}
	switch c.EmbeddingProvider {
	case "http", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unsupported EMBEDDING_PROVIDER: %s (supported: http, gemini)", c.EmbeddingProvider))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("45s") or plain seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
