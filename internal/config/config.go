// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Channel names the family of tracker columns an activation table is read from.
const (
	// ChannelClassification selects the binary AUxx_c columns.
	ChannelClassification = "AUc"
	// ChannelRegression selects the intensity AUxx_r columns.
	ChannelRegression = "AUr"
)

// Adjacency weighting methods.
const (
	MethodSymmetric     = "symm"
	MethodConditional   = "cond"
	MethodUnconditional = "uncond"
)

// Normalization policies.
const (
	NegativeZero = "zero"
	NegativeAbs  = "abs"
	ScaleMax     = "max"
	ScaleRow     = "row"
)

// Aggregation execution modes.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

// DefaultAUs is the fixed, ordered set of 17 action units tracked per frame.
var DefaultAUs = []string{
	"AU01", "AU02", "AU04", "AU05", "AU06", "AU07", "AU09", "AU10", "AU12",
	"AU14", "AU15", "AU17", "AU20", "AU23", "AU25", "AU26", "AU45",
}

// DefaultLabels is the label alphabet: 0 is baseline, ±k a stimulus of intensity k.
var DefaultLabels = []int{0, 1, 2, 3, 4, 5, 6, -1, -2, -3, -4, -5, -6}

// DefaultPainLabels and DefaultBaseLabels sort the slice labels of the
// feature table into graph classes. Baseline slices carry ±100·k.
var (
	DefaultPainLabels = []int{-1, -2, -3, -4, -5, -6, 1, 2, 3, 4, 5, 6}
	DefaultBaseLabels = []int{0, -100, -200, -300, -400, -500, -600, 100, 200, 300, 400, 500, 600}
)

// Matrix names the delta artifacts carry next to the per-class matrices.
const (
	MatrixDelta           = "delta"
	MatrixDeltaNormalized = "delta_normalized"
)

// DefaultExcludedSubjects lists recordings known to be corrupted.
var DefaultExcludedSubjects = []string{"014", "024", "024_b", "028", "030", "030_2", "059"}

// Config holds the entire application configuration.
// It is built once per process and handed to every component explicitly.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Dataset   DatasetConfig   `mapstructure:"dataset" yaml:"dataset"`
	Analysis  AnalysisConfig  `mapstructure:"analysis" yaml:"analysis"`
	Adjacency AdjacencyConfig `mapstructure:"adjacency" yaml:"adjacency"`
	Normalize NormalizeConfig `mapstructure:"normalize" yaml:"normalize"`
	Graph     GraphConfig     `mapstructure:"graph" yaml:"graph"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatasetConfig locates the per-subject tracker output and label streams.
type DatasetConfig struct {
	DataDir      string `mapstructure:"data_dir" yaml:"data_dir"`
	LabelsDir    string `mapstructure:"labels_dir" yaml:"labels_dir"`
	FeaturesFile string `mapstructure:"features_file" yaml:"features_file"`
	Channel      string `mapstructure:"channel" yaml:"channel"`
	// ActivityThreshold is the minimum raw value that counts as an active AU.
	ActivityThreshold float64 `mapstructure:"activity_threshold" yaml:"activity_threshold"`
	// ConfidenceThreshold drops frames whose tracker confidence is not above it. Zero disables.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
}

// AnalysisConfig drives the frequency analysis.
type AnalysisConfig struct {
	AUs              []string         `mapstructure:"aus" yaml:"aus"`
	Labels           []int            `mapstructure:"labels" yaml:"labels"`
	Classes          map[string][]int `mapstructure:"classes" yaml:"classes"`
	TargetClass      string           `mapstructure:"target_class" yaml:"target_class"`
	BaseClass        string           `mapstructure:"base_class" yaml:"base_class"`
	ExcludedSubjects []string         `mapstructure:"excluded_subjects" yaml:"excluded_subjects"`
	Workers          int              `mapstructure:"workers" yaml:"workers"`
	Mode             string           `mapstructure:"mode" yaml:"mode"`
}

// AdjacencyConfig controls how population statistics become edge weights.
type AdjacencyConfig struct {
	Method string `mapstructure:"method" yaml:"method"`
	// Percentile keeps only entries at or above this quantile. Zero disables.
	Percentile float64  `mapstructure:"percentile" yaml:"percentile"`
	SelfLoops  bool     `mapstructure:"self_loops" yaml:"self_loops"`
	UseAUs     []string `mapstructure:"use_aus" yaml:"use_aus"`
}

// NormalizeConfig selects the normalization policy.
type NormalizeConfig struct {
	Negative string `mapstructure:"negative" yaml:"negative"`
	Scale    string `mapstructure:"scale" yaml:"scale"`
}

// GraphConfig controls graph sample assembly from the feature table.
type GraphConfig struct {
	// UseLabels filters slices by label. Empty keeps all.
	UseLabels  []int `mapstructure:"use_labels" yaml:"use_labels"`
	BaseLabels []int `mapstructure:"base_labels" yaml:"base_labels"`
	PainLabels []int `mapstructure:"pain_labels" yaml:"pain_labels"`
	// Adjacency names the stored matrix used as graph structure: a class
	// name, "delta" or "delta_normalized".
	Adjacency string `mapstructure:"adjacency" yaml:"adjacency"`
}

// OutputConfig sets where artifacts are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DatabaseConfig holds the optional PostgreSQL sink.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "augraph")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Dataset --
	v.SetDefault("dataset.data_dir", "./data/openface")
	v.SetDefault("dataset.labels_dir", "./data/labels")
	v.SetDefault("dataset.features_file", "")
	v.SetDefault("dataset.channel", ChannelClassification)
	v.SetDefault("dataset.activity_threshold", 1.0)
	v.SetDefault("dataset.confidence_threshold", 0.0)

	// -- Analysis --
	v.SetDefault("analysis.aus", DefaultAUs)
	v.SetDefault("analysis.labels", DefaultLabels)
	v.SetDefault("analysis.classes", map[string][]int{
		"pain": {3, -3, 6, -6},
		"base": {0},
	})
	v.SetDefault("analysis.target_class", "pain")
	v.SetDefault("analysis.base_class", "base")
	v.SetDefault("analysis.excluded_subjects", DefaultExcludedSubjects)
	v.SetDefault("analysis.workers", 8)
	v.SetDefault("analysis.mode", ModeParallel)

	// -- Adjacency --
	v.SetDefault("adjacency.method", MethodSymmetric)
	v.SetDefault("adjacency.percentile", 0.0)
	v.SetDefault("adjacency.self_loops", false)
	v.SetDefault("adjacency.use_aus", []string{})

	// -- Normalize --
	v.SetDefault("normalize.negative", NegativeZero)
	v.SetDefault("normalize.scale", ScaleMax)

	// -- Graph --
	v.SetDefault("graph.use_labels", []int{})
	v.SetDefault("graph.base_labels", DefaultBaseLabels)
	v.SetDefault("graph.pain_labels", DefaultPainLabels)
	v.SetDefault("graph.adjacency", MatrixDeltaNormalized)

	// -- Output --
	v.SetDefault("output.dir", "./results")
	v.SetDefault("database.url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The DSN usually carries credentials, so it is read from the environment.
	_ = v.BindEnv("database.url", "AUGRAPH_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("AUGRAPH_DATABASE_URL")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Dataset.DataDir, &c.Dataset.LabelsDir, &c.Dataset.FeaturesFile, &c.Output.Dir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Dataset.Validate(); err != nil {
		return fmt.Errorf("dataset configuration invalid: %w", err)
	}
	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis configuration invalid: %w", err)
	}
	if err := c.Adjacency.Validate(c.Analysis.AUs); err != nil {
		return fmt.Errorf("adjacency configuration invalid: %w", err)
	}
	if err := c.Normalize.Validate(); err != nil {
		return fmt.Errorf("normalize configuration invalid: %w", err)
	}
	if err := c.Graph.Validate(c.Analysis.Classes); err != nil {
		return fmt.Errorf("graph configuration invalid: %w", err)
	}
	if c.Output.Dir == "" {
		return errors.New("output.dir is a required configuration field")
	}
	return nil
}

// Validate checks the dataset configuration.
func (d *DatasetConfig) Validate() error {
	switch d.Channel {
	case ChannelClassification, ChannelRegression:
	default:
		return fmt.Errorf("channel must be one of [%s %s], got %q", ChannelClassification, ChannelRegression, d.Channel)
	}
	if d.ActivityThreshold < 0 || d.ActivityThreshold > 5 {
		return fmt.Errorf("activity_threshold must be between 0 and 5")
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks the analysis configuration.
func (a *AnalysisConfig) Validate() error {
	if len(a.AUs) == 0 {
		return errors.New("aus must not be empty")
	}
	seen := make(map[string]struct{}, len(a.AUs))
	for _, au := range a.AUs {
		if _, dup := seen[au]; dup {
			return fmt.Errorf("duplicate AU %q", au)
		}
		seen[au] = struct{}{}
	}
	if len(a.Labels) == 0 {
		return errors.New("labels must not be empty")
	}
	alphabet := make(map[int]struct{}, len(a.Labels))
	for _, l := range a.Labels {
		alphabet[l] = struct{}{}
	}
	for _, name := range a.ClassNames() {
		labels := a.Classes[name]
		if len(labels) == 0 {
			return fmt.Errorf("class %q has no labels", name)
		}
		for _, l := range labels {
			if _, ok := alphabet[l]; !ok {
				return fmt.Errorf("class %q uses label %d which is not in the label alphabet", name, l)
			}
		}
	}
	if _, ok := a.Classes[a.TargetClass]; !ok {
		return fmt.Errorf("target_class %q is not a configured class", a.TargetClass)
	}
	if _, ok := a.Classes[a.BaseClass]; !ok {
		return fmt.Errorf("base_class %q is not a configured class", a.BaseClass)
	}
	if a.Workers <= 0 {
		return errors.New("workers must be a positive integer")
	}
	switch a.Mode {
	case ModeParallel, ModeSequential:
	default:
		return fmt.Errorf("mode must be one of [%s %s], got %q", ModeParallel, ModeSequential, a.Mode)
	}
	return nil
}

// ClassNames returns the configured class names in a stable order.
func (a *AnalysisConfig) ClassNames() []string {
	names := make([]string, 0, len(a.Classes))
	for name := range a.Classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the adjacency configuration against the configured AU set.
func (a *AdjacencyConfig) Validate(aus []string) error {
	switch a.Method {
	case MethodSymmetric, MethodConditional, MethodUnconditional:
	default:
		return fmt.Errorf("method must be one of [%s %s %s], got %q", MethodSymmetric, MethodConditional, MethodUnconditional, a.Method)
	}
	if a.Percentile != 0 && (a.Percentile <= 0 || a.Percentile >= 1) {
		return errors.New("percentile has to be in (0,1)")
	}
	known := make(map[string]struct{}, len(aus))
	for _, au := range aus {
		known[au] = struct{}{}
	}
	for _, au := range a.UseAUs {
		if _, ok := known[au]; !ok {
			return fmt.Errorf("use_aus references unknown AU %q", au)
		}
	}
	return nil
}

// Validate checks the normalization policy.
func (n *NormalizeConfig) Validate() error {
	switch n.Negative {
	case NegativeZero, NegativeAbs:
	default:
		return fmt.Errorf("negative must be one of [%s %s], got %q", NegativeZero, NegativeAbs, n.Negative)
	}
	switch n.Scale {
	case ScaleMax, ScaleRow:
	default:
		return fmt.Errorf("scale must be one of [%s %s], got %q", ScaleMax, ScaleRow, n.Scale)
	}
	return nil
}

// Validate checks the graph configuration against the configured classes.
func (g *GraphConfig) Validate(classes map[string][]int) error {
	if _, ok := classes[g.Adjacency]; !ok && g.Adjacency != MatrixDelta && g.Adjacency != MatrixDeltaNormalized {
		return fmt.Errorf("adjacency must be a class name, %q or %q, got %q", MatrixDelta, MatrixDeltaNormalized, g.Adjacency)
	}
	base := make(map[int]struct{}, len(g.BaseLabels))
	for _, l := range g.BaseLabels {
		base[l] = struct{}{}
	}
	for _, l := range g.PainLabels {
		if _, ok := base[l]; ok {
			return fmt.Errorf("label %d is both a base and a pain label", l)
		}
	}
	return nil
}

// ChannelColumns maps AU ids to the tracker column names of the configured channel,
// e.g. AU01 -> AU01_c for the classification channel.
func (d *DatasetConfig) ChannelColumns(aus []string) []string {
	suffix := "_c"
	if d.Channel == ChannelRegression {
		suffix = "_r"
	}
	cols := make([]string, len(aus))
	for i, au := range aus {
		cols[i] = strings.TrimSpace(au) + suffix
	}
	return cols
}
