// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "augraph", cfg.Logger.ServiceName)
	assert.Len(t, cfg.Analysis.AUs, 17)
	assert.Equal(t, DefaultAUs, cfg.Analysis.AUs)
	assert.ElementsMatch(t, DefaultLabels, cfg.Analysis.Labels)
	assert.ElementsMatch(t, []int{3, -3, 6, -6}, cfg.Analysis.Classes["pain"])
	assert.Equal(t, []int{0}, cfg.Analysis.Classes["base"])
	assert.Equal(t, DefaultExcludedSubjects, cfg.Analysis.ExcludedSubjects)
	assert.Equal(t, ChannelClassification, cfg.Dataset.Channel)
	assert.Equal(t, 1.0, cfg.Dataset.ActivityThreshold)
	assert.Equal(t, MethodSymmetric, cfg.Adjacency.Method)
	assert.Equal(t, NegativeZero, cfg.Normalize.Negative)
	assert.Equal(t, ScaleMax, cfg.Normalize.Scale)
	assert.Equal(t, ModeParallel, cfg.Analysis.Mode)
	assert.Equal(t, MatrixDeltaNormalized, cfg.Graph.Adjacency)
	assert.ElementsMatch(t, DefaultPainLabels, cfg.Graph.PainLabels)
	assert.Empty(t, cfg.Graph.UseLabels)

	require.NoError(t, cfg.Validate(), "defaults must always validate")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown channel", func(c *Config) { c.Dataset.Channel = "pose" }, "channel must be one of"},
		{"activity threshold too high", func(c *Config) { c.Dataset.ActivityThreshold = 6 }, "activity_threshold must be between 0 and 5"},
		{"confidence threshold negative", func(c *Config) { c.Dataset.ConfidenceThreshold = -0.1 }, "confidence_threshold must be between"},
		{"empty AU list", func(c *Config) { c.Analysis.AUs = nil }, "aus must not be empty"},
		{"duplicate AU", func(c *Config) { c.Analysis.AUs = []string{"AU01", "AU01"} }, "duplicate AU"},
		{"class label outside alphabet", func(c *Config) { c.Analysis.Classes["pain"] = []int{7} }, "not in the label alphabet"},
		{"empty class", func(c *Config) { c.Analysis.Classes["empty"] = nil }, `class "empty" has no labels`},
		{"unknown target class", func(c *Config) { c.Analysis.TargetClass = "heat" }, "target_class"},
		{"unknown base class", func(c *Config) { c.Analysis.BaseClass = "rest" }, "base_class"},
		{"zero workers", func(c *Config) { c.Analysis.Workers = 0 }, "workers must be a positive integer"},
		{"unknown mode", func(c *Config) { c.Analysis.Mode = "distributed" }, "mode must be one of"},
		{"unknown method", func(c *Config) { c.Adjacency.Method = "pmi" }, "method must be one of"},
		{"percentile out of range", func(c *Config) { c.Adjacency.Percentile = 1.5 }, "percentile has to be in (0,1)"},
		{"use_aus unknown AU", func(c *Config) { c.Adjacency.UseAUs = []string{"AU99"} }, "unknown AU"},
		{"unknown negative policy", func(c *Config) { c.Normalize.Negative = "shift" }, "negative must be one of"},
		{"unknown scale policy", func(c *Config) { c.Normalize.Scale = "sum" }, "scale must be one of"},
		{"unknown graph adjacency", func(c *Config) { c.Graph.Adjacency = "heat" }, "adjacency must be a class name"},
		{"overlapping graph labels", func(c *Config) { c.Graph.PainLabels = []int{0} }, "both a base and a pain label"},
		{"missing output dir", func(c *Config) { c.Output.Dir = "" }, "output.dir is a required configuration field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
dataset:
  channel: AUr
  activity_threshold: 2.5
analysis:
  aus: [AU01, AU02, AU04]
  workers: 3
  mode: sequential
  excluded_subjects: ["001"]
adjacency:
  method: cond
  use_aus: [AU01, AU04]
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, ChannelRegression, cfg.Dataset.Channel)
		assert.Equal(t, 2.5, cfg.Dataset.ActivityThreshold)
		assert.Equal(t, []string{"AU01", "AU02", "AU04"}, cfg.Analysis.AUs)
		assert.Equal(t, 3, cfg.Analysis.Workers)
		assert.Equal(t, ModeSequential, cfg.Analysis.Mode)
		assert.Equal(t, []string{"001"}, cfg.Analysis.ExcludedSubjects)
		assert.Equal(t, MethodConditional, cfg.Adjacency.Method)
		assert.Equal(t, []string{"AU01", "AU04"}, cfg.Adjacency.UseAUs)
		// Defaults survive alongside the file values.
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("analysis.workers", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "workers must be a positive integer")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString("database:\n  url: \"postgres://configfile/db\"\n")))

		testDBURL := "postgres://envvar/db"
		t.Setenv("AUGRAPH_DATABASE_URL", testDBURL)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, testDBURL, cfg.Database.URL)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("output.dir", "~/augraph-results")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		home, err := homedir.Dir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "augraph-results"), cfg.Output.Dir)
	})
}

func TestChannelColumns(t *testing.T) {
	d := DatasetConfig{Channel: ChannelClassification}
	assert.Equal(t, []string{"AU01_c", "AU45_c"}, d.ChannelColumns([]string{"AU01", "AU45"}))

	d.Channel = ChannelRegression
	assert.Equal(t, []string{"AU01_r", "AU45_r"}, d.ChannelColumns([]string{"AU01", "AU45"}))
}

func TestClassNamesAreSorted(t *testing.T) {
	a := AnalysisConfig{Classes: map[string][]int{"pain": {3}, "base": {0}, "heat": {1}}}
	assert.Equal(t, []string{"base", "heat", "pain"}, a.ClassNames())
}
