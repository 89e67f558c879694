package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// BackendType identifies where records are loaded from or summaries written to.
type BackendType string

const (
	BackendArcGIS   BackendType = "arcgis"
	BackendPostgres BackendType = "postgres"
)

// Default feature layers of the Community Discovery deployment.
const (
	DefaultActivitiesURL = "https://services.arcgis.com/pGfbNJoYypmNq86F/arcgis/rest/services/Community_Discovery_Visualization/FeatureServer/0"
	DefaultChaptersURL   = "https://services.arcgis.com/pGfbNJoYypmNq86F/arcgis/rest/services/Master_ARC_Geography_2022/FeatureServer/3"
	DefaultCountiesURL   = "https://services.arcgis.com/pGfbNJoYypmNq86F/arcgis/rest/services/Master_ARC_Geography_2022/FeatureServer/5"
	DefaultSummaryURL    = "https://services.arcgis.com/pGfbNJoYypmNq86F/arcgis/rest/services/Community_Discovery_Summary/FeatureServer/0"
)

// DefaultConfigFile is read when SUMMARY_CONFIG is not set.
const DefaultConfigFile = "summary.yaml"

var (
	ErrUnknownBackend     = errors.New("unknown backend type")
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required for the postgres backend")
	ErrMissingLayerURL    = errors.New("feature layer URL is required for the arcgis backend")
	ErrInvalidBatchSize   = errors.New("batch size must be between 1 and 1000")
	ErrInvalidTopWords    = errors.New("top words must not be negative")
)

// Config holds everything a refresh run or the admin server needs.
type Config struct {
	Source BackendType `yaml:"source"`
	Sink   BackendType `yaml:"sink"`

	DatabaseURL string `yaml:"database_url"`
	Port        string `yaml:"port"`

	// bcrypt hash of the bearer token accepted by the admin routes.
	// Empty disables the admin routes.
	AdminTokenHash string `yaml:"admin_token_hash"`

	ArcGIS   ArcGISConfig   `yaml:"arcgis"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Log      LogConfig      `yaml:"log"`
}

// ArcGISConfig points at the feature layers of the hosting platform.
type ArcGISConfig struct {
	Token             string `yaml:"token"`
	ActivitiesURL     string `yaml:"activities_url"`
	ChaptersURL       string `yaml:"chapters_url"`
	CountiesURL       string `yaml:"counties_url"`
	SummaryURL        string `yaml:"summary_url"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	PageSize          int    `yaml:"page_size"`
}

// PipelineConfig tunes the computation and the publish step.
type PipelineConfig struct {
	Workers   int `yaml:"workers"`
	TopWords  int `yaml:"top_words"`
	BatchSize int `yaml:"batch_size"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Source: BackendArcGIS,
		Sink:   BackendArcGIS,
		Port:   "5050",
		ArcGIS: ArcGISConfig{
			ActivitiesURL:     DefaultActivitiesURL,
			ChaptersURL:       DefaultChaptersURL,
			CountiesURL:       DefaultCountiesURL,
			SummaryURL:        DefaultSummaryURL,
			RequestsPerMinute: 120,
			PageSize:          2000,
		},
		Pipeline: PipelineConfig{
			Workers:   1,
			TopWords:  30,
			BatchSize: 100,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration from defaults, then the optional YAML file
// named by SUMMARY_CONFIG (default summary.yaml), then the environment.
//
// Environment variables:
//   - SUMMARY_SOURCE, SUMMARY_SINK: "arcgis" or "postgres"
//   - DATABASE_URL, PORT, ADMIN_TOKEN_HASH
//   - ARCGIS_TOKEN, ARCGIS_ACTIVITIES_URL, ARCGIS_CHAPTERS_URL,
//     ARCGIS_COUNTIES_URL, ARCGIS_SUMMARY_URL, ARCGIS_RPM, ARCGIS_PAGE_SIZE
//   - JOIN_WORKERS, TOP_WORDS, PUBLISH_BATCH_SIZE
//   - LOG_LEVEL, LOG_FILE
func Load() (Config, error) {
	cfg := Default()

	path := os.Getenv("SUMMARY_CONFIG")
	if path == "" {
		path = DefaultConfigFile
	}
	if err := cfg.mergeFile(path); err != nil {
		return cfg, err
	}
	if err := cfg.mergeEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file. A missing file is not an error.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("SUMMARY_SOURCE"))); v != "" {
		c.Source = BackendType(v)
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("SUMMARY_SINK"))); v != "" {
		c.Sink = BackendType(v)
	}
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Port, "PORT")
	setString(&c.AdminTokenHash, "ADMIN_TOKEN_HASH")
	setString(&c.ArcGIS.Token, "ARCGIS_TOKEN")
	setString(&c.ArcGIS.ActivitiesURL, "ARCGIS_ACTIVITIES_URL")
	setString(&c.ArcGIS.ChaptersURL, "ARCGIS_CHAPTERS_URL")
	setString(&c.ArcGIS.CountiesURL, "ARCGIS_COUNTIES_URL")
	setString(&c.ArcGIS.SummaryURL, "ARCGIS_SUMMARY_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_FILE")

	for key, dst := range map[string]*int{
		"ARCGIS_RPM":         &c.ArcGIS.RequestsPerMinute,
		"ARCGIS_PAGE_SIZE":   &c.ArcGIS.PageSize,
		"JOIN_WORKERS":       &c.Pipeline.Workers,
		"TOP_WORDS":          &c.Pipeline.TopWords,
		"PUBLISH_BATCH_SIZE": &c.Pipeline.BatchSize,
	} {
		if err := setInt(dst, key); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that the selected backends are fully configured.
func (c Config) Validate() error {
	for _, b := range []BackendType{c.Source, c.Sink} {
		switch b {
		case BackendArcGIS, BackendPostgres:
		default:
			return fmt.Errorf("%w: %q", ErrUnknownBackend, b)
		}
	}

	if c.Source == BackendPostgres || c.Sink == BackendPostgres {
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	}
	if c.Source == BackendArcGIS {
		if c.ArcGIS.ActivitiesURL == "" || c.ArcGIS.ChaptersURL == "" || c.ArcGIS.CountiesURL == "" {
			return ErrMissingLayerURL
		}
	}
	if c.Sink == BackendArcGIS && c.ArcGIS.SummaryURL == "" {
		return ErrMissingLayerURL
	}
	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 1000 {
		return ErrInvalidBatchSize
	}
	if c.Pipeline.TopWords < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTopWords, c.Pipeline.TopWords)
	}
	return nil
}
