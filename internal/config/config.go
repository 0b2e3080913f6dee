package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DefaultMatchThreshold     = 0.9
	DefaultDetectionThreshold = 0.9
	DefaultDPI                = 96
	DefaultWorkerTimeout      = 60 * time.Second
	DefaultPython             = "python3"
	DefaultEngineScript       = "python/worker.py"
	DefaultGallery            = "embeddings.json"
)

type Config struct {
	Gallery string // file path (.json/.yaml/.gob) or postgres:// URL
	Engine  EngineConfig
	Match   MatchConfig
	Render  RenderConfig
	Log     LogConfig
}

type EngineConfig struct {
	Python        string // interpreter used to launch the engine
	Script        string // engine script path
	WorkerTimeout time.Duration
}

type MatchConfig struct {
	Threshold          float64 // maximum embedding distance accepted as a match
	DetectionThreshold float64 // minimum detector confidence
}

type RenderConfig struct {
	DPI int
}

type LogConfig struct {
	Level string
	File  string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat is envInt for positive floats
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envUnit reads a value in [0, 1]; unlike envFloat it accepts 0
func envUnit(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Load builds the configuration from the environment.
func Load() *Config {
	return &Config{
		Gallery: galleryFromEnv(),
		Engine: EngineConfig{
			Python:        envString("FACELABEL_PYTHON", DefaultPython),
			Script:        envString("FACELABEL_ENGINE_SCRIPT", DefaultEngineScript),
			WorkerTimeout: envDuration("FACELABEL_WORKER_TIMEOUT", DefaultWorkerTimeout),
		},
		Match: MatchConfig{
			Threshold:          envFloat("FACELABEL_MATCH_THRESHOLD", DefaultMatchThreshold),
			DetectionThreshold: envUnit("FACELABEL_DETECTION_THRESHOLD", DefaultDetectionThreshold),
		},
		Render: RenderConfig{
			DPI: envInt("FACELABEL_DPI", DefaultDPI),
		},
		Log: LogConfig{
			Level: envString("FACELABEL_LOG_LEVEL", "info"),
			File:  os.Getenv("FACELABEL_LOG_FILE"),
		},
	}
}

// galleryFromEnv prefers FACELABEL_GALLERY, then a Postgres URL built from the
// POSTGRES_* variables, then the default embeddings file.
func galleryFromEnv() string {
	if g := os.Getenv("FACELABEL_GALLERY"); g != "" {
		return g
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := envString("POSTGRES_PORT", "5432")
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return DefaultGallery
}
