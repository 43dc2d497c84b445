// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all pipeline configuration, one sub-struct per component.
type Config struct {
	Environment string

	Twitter    TwitterConfig
	Browser    BrowserConfig
	Blob       BlobConfig
	Queue      QueueConfig
	Store      StoreConfig
	Extractor  ExtractorConfig
	Classifier ClassifierConfig
	Worker     WorkerConfig
	Server     ServerConfig
}

// TwitterConfig configures the Post Fetcher (C1).
type TwitterConfig struct {
	BearerToken       string
	RequestsPerSecond float64
}

// BrowserConfig configures the Browser Renderer (C2).
type BrowserConfig struct {
	ZoomPercent            int
	CropEnabled            bool
	CropX1, CropY1         int
	CropX2, CropY2         int
	MaxBrowserRetries      int
	RetryDelaySeconds      float64
	RetryBackoff           float64
	MaxScreenshots         int
	MaxScreenshotsInThread int
	MinScrollAdvanceRatio  float64
	NavigationTimeout      time.Duration
	PostLoadDwell          time.Duration
	ScrollDwell            time.Duration
}

// BlobConfig configures the Blob Sink (C3).
type BlobConfig struct {
	S3Bucket  string
	LocalBase string
}

// QueueConfig configures the Classification Queue (C6).
type QueueConfig struct {
	URL               string
	VisibilityTimeout time.Duration
}

// StoreConfig configures the Record Store (C9).
type StoreConfig struct {
	DatabaseURL string
	TableName   string
}

// ExtractorConfig configures the Text Extractor (C5).
type ExtractorConfig struct {
	Model   string
	APIKey  string
	Timeout time.Duration
}

// ClassifierConfig configures the Hierarchical Classifier (C7).
type ClassifierConfig struct {
	Model               string
	APIKey              string
	ConfidenceThreshold float64
	MaxRetries          int
	RegistryPath        string
	Timeout             time.Duration
}

// WorkerConfig configures the Classification Worker loop (C8).
type WorkerConfig struct {
	BatchSize int
	IdleSleep time.Duration
}

// ServerConfig configures the ambient ops HTTP surface.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// Load loads configuration from the environment, first populating it from
// a local .env file when present (absent in production, where real env
// vars are already set).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		Twitter: TwitterConfig{
			BearerToken:       getEnv("TWITTER_BEARER_TOKEN", ""),
			RequestsPerSecond: getEnvAsFloat("TWITTER_REQUESTS_PER_SECOND", 1.0),
		},
		Browser: BrowserConfig{
			ZoomPercent:            getEnvAsInt("BROWSER_ZOOM_PERCENT", 60),
			CropEnabled:            getEnvAsBool("BROWSER_CROP_ENABLED", false),
			CropX1:                 getEnvAsInt("BROWSER_CROP_X1", 0),
			CropY1:                 getEnvAsInt("BROWSER_CROP_Y1", 0),
			CropX2:                 getEnvAsInt("BROWSER_CROP_X2", 100),
			CropY2:                 getEnvAsInt("BROWSER_CROP_Y2", 100),
			MaxBrowserRetries:      getEnvAsInt("BROWSER_MAX_RETRIES", 3),
			RetryDelaySeconds:      getEnvAsFloat("BROWSER_RETRY_DELAY_SECONDS", 2.0),
			RetryBackoff:           getEnvAsFloat("BROWSER_RETRY_BACKOFF", 2.0),
			MaxScreenshots:         getEnvAsInt("BROWSER_MAX_SCREENSHOTS", 10),
			MaxScreenshotsInThread: getEnvAsInt("BROWSER_MAX_SCREENSHOTS_IN_THREAD", 5),
			MinScrollAdvanceRatio:  getEnvAsFloat("BROWSER_MIN_SCROLL_ADVANCE_RATIO", 0.3),
			NavigationTimeout:      getEnvAsDuration("BROWSER_NAVIGATION_TIMEOUT", 10*time.Second),
			PostLoadDwell:          getEnvAsDuration("BROWSER_POST_LOAD_DWELL", 3*time.Second),
			ScrollDwell:            getEnvAsDuration("BROWSER_SCROLL_DWELL", 2*time.Second),
		},
		Blob: BlobConfig{
			S3Bucket:  getEnv("S3_BUCKET", ""),
			LocalBase: getEnv("BLOB_LOCAL_BASE", "run_artifacts"),
		},
		Queue: QueueConfig{
			URL:               getEnv("QUEUE_URL", ""),
			VisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			DatabaseURL: getEnv("DATABASE_URL", ""),
			TableName:   getEnv("DDB_TABLE", "tweet_topics"),
		},
		Extractor: ExtractorConfig{
			Model:   getEnv("EXTRACTOR_MODEL", "gpt-4o"),
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			Timeout: getEnvAsDuration("EXTRACTOR_TIMEOUT", 60*time.Second),
		},
		Classifier: ClassifierConfig{
			Model:               getEnv("CLASSIFIER_MODEL", "gpt-4o-mini"),
			APIKey:              getEnv("OPENAI_API_KEY", ""),
			ConfidenceThreshold: getEnvAsFloat("L1_CONF_THRESHOLD", 0.5),
			MaxRetries:          getEnvAsInt("CLASSIFIER_MAX_RETRIES", 2),
			RegistryPath:        getEnv("TAXONOMY_REGISTRY_PATH", ""),
			Timeout:             getEnvAsDuration("CLASSIFIER_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			BatchSize: getEnvAsInt("WORKER_BATCH_SIZE", 10),
			IdleSleep: getEnvAsDuration("WORKER_IDLE_SLEEP", 1*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     []string{"*"},
		},
	}

	return cfg, validate(cfg)
}

// UseHostedBackends reports whether the hosted queue/store/blob backends
// should be used instead of the in-memory/local fallbacks (spec.md §6:
// "absence of hosted-storage vars forces in-memory fallbacks").
func (c Config) UseHostedBackends() bool {
	return c.Queue.URL != "" || c.Store.DatabaseURL != "" || c.Blob.S3Bucket != ""
}

// validate checks if config is valid
func validate(cfg Config) error {
	if cfg.Browser.CropEnabled {
		x1, y1, x2, y2 := cfg.Browser.CropX1, cfg.Browser.CropY1, cfg.Browser.CropX2, cfg.Browser.CropY2
		if !(0 <= x1 && x1 < x2 && x2 <= 100) {
			return fmt.Errorf("config: invalid crop x coordinates: x1=%d x2=%d", x1, x2)
		}
		if !(0 <= y1 && y1 < y2 && y2 <= 100) {
			return fmt.Errorf("config: invalid crop y coordinates: y1=%d y2=%d", y1, y2)
		}
	}
	if cfg.Browser.ZoomPercent < 25 || cfg.Browser.ZoomPercent > 200 {
		return fmt.Errorf("config: browser zoom percent %d out of range [25,200]", cfg.Browser.ZoomPercent)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
