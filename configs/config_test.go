package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 0.60, cfg.PredictionConfidenceCutoff)
	assert.Equal(t, 0.75, cfg.VendorNameConfidenceCutoff)
	assert.Equal(t, 40, cfg.FuzzyScoreCutoff)
	assert.Equal(t, 5, cfg.TopScoresToKeep)
	assert.Equal(t, 40, cfg.CustomerRegexPostCharacters)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", cfg.EmbeddingModel)
	assert.True(t, cfg.UseFuzzyMatching)
	assert.Equal(t, 10000, cfg.EmbeddingMemoryCacheSize)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PREDICTION_CONFIDENCE_CUTOFF", "0.7")
	t.Setenv("THEFUZZ_SCORE_CUTOFF", "55")
	t.Setenv("DOCUMENT_TIMEOUT", "10s")
	t.Setenv("RETRY_INITIAL_DELAY", "2")
	t.Setenv("USE_FUZZY_MATCHING", "false")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.PredictionConfidenceCutoff)
	assert.Equal(t, 55, cfg.FuzzyScoreCutoff)
	assert.Equal(t, 10*time.Second, cfg.DocumentTimeout)
	assert.Equal(t, 2*time.Second, cfg.RetryInitialDelay)
	assert.False(t, cfg.UseFuzzyMatching)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("N_TOP_SCORES_TO_KEEP=3\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("N_TOP_SCORES_TO_KEEP") })

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.TopScoresToKeep)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"cutoff above one", func(c *Config) { c.PredictionConfidenceCutoff = 1.2 }, "PREDICTION_CONFIDENCE_CUTOFF"},
		{"negative vendor cutoff", func(c *Config) { c.VendorNameConfidenceCutoff = -0.1 }, "VENDOR_NAME_CONFIDENCE_CUTOFF"},
		{"empty memory cache", func(c *Config) { c.EmbeddingMemoryCacheSize = 0 }, "EMBEDDING_MEMORY_CACHE_SIZE"},
		{"fuzzy cutoff out of range", func(c *Config) { c.FuzzyScoreCutoff = 101 }, "THEFUZZ_SCORE_CUTOFF"},
		{"zero concurrency", func(c *Config) { c.ReconcileConcurrency = 0 }, "RECONCILE_CONCURRENCY"},
		{"unknown llm provider", func(c *Config) { c.LLMProvider = "bard" }, "LLM_PROVIDER"},
		{"unknown embedding provider", func(c *Config) { c.EmbeddingProvider = "onnx" }, "EMBEDDING_PROVIDER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMatchingRules(t *testing.T) {
	t.Run("empty path gives defaults", func(t *testing.T) {
		rules, err := LoadMatchingRules("")
		require.NoError(t, err)
		assert.Equal(t, []string{"customer", `ref |reference`}, rules.CustomerPatterns)
		assert.Equal(t, []string{"receiver_name", "ship_to_address"}, rules.ProjectEntityTypes)
		assert.Equal(t, []string{"supplier_name", "remit_to_name"}, rules.VendorEntityTypes)
	})

	t.Run("file overrides only listed keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		body := "customer_patterns:\n  - \"job\"\naddress_patterns:\n  - \"\\\\d+ \\\\w+ (st|ave)\"\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		rules, err := LoadMatchingRules(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"job"}, rules.CustomerPatterns)
		assert.Equal(t, []string{`\d+ \w+ (st|ave)`}, rules.AddressPatterns)
		assert.Equal(t, []string{"supplier_name", "remit_to_name"}, rules.VendorEntityTypes)
	})

	t.Run("invalid regex is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("customer_patterns: [\"(unclosed\"]\n"), 0o600))

		_, err := LoadMatchingRules(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid pattern")
	})
}
