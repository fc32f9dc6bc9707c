package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bdougie/plantcam/internal/models"
)

// Segment anchors for the on-screen reference ruler
const (
	AnchorCentered = "centered"
	AnchorLeading  = "leading"
)

// Classifier backends
const (
	BackendONNX   = "onnx"
	BackendOllama = "ollama"
)

// Config holds runtime settings for a capture session
type Config struct {
	ConfidenceThreshold float64
	ScaleWidth          float64
	SegmentAnchor       string
	DisplayScale        float64
	ViewportWidth       float64
	ViewportHeight      float64
	FrameRate           int
	RecordInterval      time.Duration

	LabelsPath string
	ModelPath  string
	OrtLibrary string
	InputSize  int
	Softmax    bool
	Classifier string

	OllamaURL   string
	OllamaPort  int
	OllamaModel string

	OutputDir string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddress        string
	RedisMaxConnections int

	LogLevel string
}

// DSN builds the postgres connection string
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// DSNForLog is DSN with the password masked
func (c *Config) DSNForLog() string {
	return fmt.Sprintf("postgres://%s:***@%s:%s/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// PostgresEnabled reports whether enough is configured to open a database pool
func (c *Config) PostgresEnabled() bool {
	return c.DBHost != "" && c.DBName != ""
}

// Viewport returns the configured viewport size
func (c *Config) Viewport() models.Size {
	return models.Size{Width: c.ViewportWidth, Height: c.ViewportHeight}
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads an optional .env file and then the process environment
func Load() *Config {
	// a missing .env is fine, the environment still applies
	_ = godotenv.Load()

	return &Config{
		ConfidenceThreshold: getEnvFloat("PLANTCAM_CONFIDENCE_THRESHOLD", 0.5),
		ScaleWidth:          getEnvFloat("PLANTCAM_SCALE_WIDTH", 100),
		SegmentAnchor:       getEnv("PLANTCAM_SEGMENT_ANCHOR", AnchorCentered),
		DisplayScale:        getEnvFloat("PLANTCAM_DISPLAY_SCALE", 2),
		ViewportWidth:       getEnvFloat("PLANTCAM_VIEWPORT_WIDTH", 375),
		ViewportHeight:      getEnvFloat("PLANTCAM_VIEWPORT_HEIGHT", 667),
		FrameRate:           getEnvInt("PLANTCAM_FRAME_RATE", 30),
		RecordInterval:      getEnvDuration("PLANTCAM_RECORD_INTERVAL", time.Second),
		LabelsPath:          getEnv("PLANTCAM_LABELS", "labels.txt"),
		ModelPath:           getEnv("PLANTCAM_MODEL", "models/plant.onnx"),
		OrtLibrary:          getEnv("PLANTCAM_ORT_LIBRARY", ""),
		InputSize:           getEnvInt("PLANTCAM_INPUT_SIZE", 224),
		Softmax:             getEnvBool("PLANTCAM_SOFTMAX", false),
		Classifier:          getEnv("PLANTCAM_CLASSIFIER", BackendONNX),
		OllamaURL:           getEnv("OLLAMA_URL", "http://localhost"),
		OllamaPort:          getEnvInt("OLLAMA_PORT", 11434),
		OllamaModel:         getEnv("OLLAMA_MODEL", "llama3.2-vision:11b"),
		OutputDir:           getEnv("PLANTCAM_OUTPUT_DIR", "captures"),
		DBHost:              getEnv("DB_HOST", ""),
		DBPort:              getEnv("DB_PORT", "5432"),
		DBUser:              getEnv("DB_USER", "postgres"),
		DBPassword:          getEnv("DB_PASSWORD", ""),
		DBName:              getEnv("DB_NAME", "plantcam"),
		RedisAddress:        getEnv("REDIS_ADDRESS", ""),
		RedisMaxConnections: getEnvInt("REDIS_MAX_CONNECTIONS", 10),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
	}
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("confidence threshold must be in [0, 1), got %v", c.ConfidenceThreshold))
	}
	if c.ScaleWidth <= 0 {
		errs = append(errs, fmt.Errorf("scale width must be positive, got %v", c.ScaleWidth))
	}
	if c.SegmentAnchor != AnchorCentered && c.SegmentAnchor != AnchorLeading {
		errs = append(errs, fmt.Errorf("unknown segment anchor %q", c.SegmentAnchor))
	}
	if c.DisplayScale <= 0 {
		errs = append(errs, fmt.Errorf("display scale must be positive, got %v", c.DisplayScale))
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %vx%v", c.ViewportWidth, c.ViewportHeight))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame rate must be positive, got %d", c.FrameRate))
	}
	if c.RecordInterval <= 0 {
		errs = append(errs, fmt.Errorf("record interval must be positive, got %v", c.RecordInterval))
	}
	if c.InputSize <= 0 {
		errs = append(errs, fmt.Errorf("input size must be positive, got %d", c.InputSize))
	}
	if c.Classifier != BackendONNX && c.Classifier != BackendOllama {
		errs = append(errs, fmt.Errorf("unknown classifier backend %q", c.Classifier))
	}
	if strings.TrimSpace(c.LabelsPath) == "" {
		errs = append(errs, errors.New("labels path is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
