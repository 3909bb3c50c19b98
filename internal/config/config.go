package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/saturnino-fabrica-de-software/deepscan/internal/domain"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// Security
	APIKey        string `envconfig:"API_KEY" required:"true"`
	WebhookSecret string `envconfig:"WEBHOOK_SECRET"`

	// Rate limiting per API key
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"5"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"10"`

	// Storage
	UploadDir     string `envconfig:"UPLOAD_DIR" default:"/tmp/deepscan/uploads"`
	MaxUploadSize int    `envconfig:"MAX_UPLOAD_SIZE" default:"524288000"`

	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"1m"`
	SimilarCacheTTL time.Duration `envconfig:"SIMILAR_CACHE_TTL" default:"5m"`

	Providers Providers `ignored:"true"`
	Pipeline  Pipeline  `ignored:"true"`
}

// Providers selects and configures the external capabilities.
type Providers struct {
	DetectorType   string `envconfig:"DETECTOR_TYPE" default:"deepface"`
	LandmarkType   string `envconfig:"LANDMARK_TYPE" default:"dlib"`
	ClassifierType string `envconfig:"CLASSIFIER_TYPE" default:"tfserving"`

	DeepFaceURL      string `envconfig:"DEEPFACE_URL" default:"http://localhost:5000"`
	DeepFaceDetector string `envconfig:"DEEPFACE_DETECTOR" default:"opencv"`
	LandmarkURL      string `envconfig:"LANDMARK_URL" default:"http://localhost:5001"`
	TFServingURL     string `envconfig:"TFSERVING_URL" default:"http://localhost:8501"`
	TFServingModel   string `envconfig:"TFSERVING_MODEL" default:"deepfake_landmarks"`
	AWSRegion        string `envconfig:"AWS_REGION" default:"us-east-1"`

	RequestTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"10s"`
	RetryCount     int           `envconfig:"PROVIDER_RETRIES" default:"2"`
}

// Pipeline holds the streaming analysis parameters.
type Pipeline struct {
	ChunkSize        int           `envconfig:"CHUNK_SIZE" default:"64"`
	ChunkStride      int           `envconfig:"CHUNK_STRIDE" default:"1"`
	InferenceTimeout time.Duration `envconfig:"INFERENCE_TIMEOUT" default:"2s"`
	HistorySize      int           `envconfig:"HISTORY_SIZE" default:"200"`
	FrameQueueSize   int           `envconfig:"FRAME_QUEUE_SIZE" default:"10"`
	ProgressInterval int           `envconfig:"PROGRESS_INTERVAL" default:"5"`
	PreviewFPS       float64       `envconfig:"PREVIEW_FPS" default:"5"`
	VerdictMode      string        `envconfig:"VERDICT_MODE" default:"threshold"`
	ReportDir        string        `envconfig:"REPORT_DIR" default:"."`
}

func (p Pipeline) Validate() error {
	if p.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", p.ChunkSize)
	}
	if p.ChunkStride <= 0 {
		return fmt.Errorf("CHUNK_STRIDE must be positive, got %d", p.ChunkStride)
	}
	if p.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT must be positive, got %s", p.InferenceTimeout)
	}
	if p.HistorySize <= 0 {
		return fmt.Errorf("HISTORY_SIZE must be positive, got %d", p.HistorySize)
	}
	if p.FrameQueueSize <= 0 {
		return fmt.Errorf("FRAME_QUEUE_SIZE must be positive, got %d", p.FrameQueueSize)
	}
	if !domain.VerdictMode(p.VerdictMode).Valid() {
		return fmt.Errorf("VERDICT_MODE must be threshold or majority, got %q", p.VerdictMode)
	}
	return nil
}

// Load reads the full server configuration. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	providers, err := LoadProviders()
	if err != nil {
		return nil, err
	}
	cfg.Providers = *providers

	pipeline, err := LoadPipeline()
	if err != nil {
		return nil, err
	}
	cfg.Pipeline = *pipeline

	return &cfg, nil
}

// LoadProviders reads only the provider section, for tools that run
// without a database.
func LoadProviders() (*Providers, error) {
	var p Providers
	if err := envconfig.Process("", &p); err != nil {
		return nil, fmt.Errorf("load provider config: %w", err)
	}
	return &p, nil
}

func LoadPipeline() (*Pipeline, error) {
	var p Pipeline
	if err := envconfig.Process("", &p); err != nil {
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("load pipeline config: %w", err)
	}
	return &p, nil
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
