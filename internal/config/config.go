package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/your-org/knot/internal/match"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	MinIO    MinIOConfig    `yaml:"minio"`
	NATS     NATSConfig     `yaml:"nats"`
	Vision   VisionConfig   `yaml:"vision"`
	Match    match.Config   `yaml:"match"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	DescriptorDim      int     `yaml:"descriptor_dim"`
}

// PipelineConfig drives the batch extraction run: how many worker processes
// to spawn, how many files each worker flushes per transaction, and the cap
// on decoded image size before detection.
type PipelineConfig struct {
	Concurrency  int    `yaml:"concurrency"`
	BatchSize    int    `yaml:"batch_size"`
	MaxImageDim  int    `yaml:"max_image_dim"`
	WorkerBinary string `yaml:"worker_binary"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Match.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a config with every default applied, for processes that
// run without a config file (spawned workers get their knobs via env).
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.DescriptorDim == 0 {
		cfg.Vision.DescriptorDim = 128
	}
	if cfg.Match.Excellent == 0 {
		cfg.Match.Excellent = 0.38
	}
	if cfg.Match.Good == 0 {
		cfg.Match.Good = 0.44
	}
	if cfg.Match.Possible == 0 {
		cfg.Match.Possible = 0.48
	}
	if cfg.Match.Outer == 0 {
		cfg.Match.Outer = 0.55
	}
	if cfg.Match.MinFacePixels == 0 {
		cfg.Match.MinFacePixels = 40
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = runtime.NumCPU()
	}
	if cfg.Pipeline.BatchSize == 0 {
		cfg.Pipeline.BatchSize = 5
	}
	if cfg.Pipeline.MaxImageDim == 0 {
		cfg.Pipeline.MaxImageDim = 800
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KNOT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KNOT_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("KNOT_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("KNOT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("KNOT_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("KNOT_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("KNOT_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("KNOT_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("KNOT_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("KNOT_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("KNOT_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("KNOT_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("KNOT_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("KNOT_DESCRIPTOR_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.DescriptorDim = n
		}
	}
	if v := os.Getenv("KNOT_PIPELINE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Concurrency = n
		}
	}
	if v := os.Getenv("KNOT_WORKER_BINARY"); v != "" {
		cfg.Pipeline.WorkerBinary = v
	}
}
