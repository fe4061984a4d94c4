package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the extraction service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Weaviate WeaviateConfig `yaml:"weaviate"`
	Logging  LoggingConfig  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LLMConfig configures the Gemini generateContent client.
type LLMConfig struct {
	BaseURL          string         `yaml:"baseURL"`
	APIKey           string         `yaml:"apiKey"`
	Model            string         `yaml:"model"`
	Temperature      float64        `yaml:"temperature"`
	MaxOutputTokens  int            `yaml:"maxOutputTokens"`
	MaxResponseBytes int64          `yaml:"maxResponseBytes"`
	Timeouts         TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig bounds each agent call.
type TimeoutsConfig struct {
	Parser     time.Duration `yaml:"parser"`
	Extractor  time.Duration `yaml:"extractor"`
	Classifier time.Duration `yaml:"classifier"`
}

// PipelineConfig controls stage retries.
type PipelineConfig struct {
	MaxRetries   int           `yaml:"maxRetries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

// CorpusConfig points at the tag vocabulary and example file.
type CorpusConfig struct {
	Path         string `yaml:"path"`
	ExampleLimit int    `yaml:"exampleLimit"`
}

// WeaviateConfig configures the optional example store.
type WeaviateConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls caching of agent responses and stored examples.
// With Enabled false and MemoryEntries positive an in-process cache is used.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	KeyPrefix        string        `yaml:"keyPrefix"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	TLS              bool          `yaml:"tls"`
	MemoryEntries    int           `yaml:"memoryEntries"`
	AgentResponseTTL time.Duration `yaml:"agentResponseTTL"`
	ExamplesTTL      time.Duration `yaml:"examplesTTL"`
}

// Load initialises Config from defaults, an optional YAML file, a .env file
// and environment overrides, in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("MIRADOR_AUDIT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no run could work with. A missing API key is not
// an error here; runs report it instead.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.LLM.Model) == "" {
		problems = append(problems, "llm.model must be set")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		problems = append(problems, "llm.temperature must be within [0, 2]")
	}
	if c.Pipeline.MaxRetries < 0 {
		problems = append(problems, "pipeline.maxRetries must not be negative")
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Addr) == "" {
		problems = append(problems, "cache.addr is required when cache.enabled is true")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:          "https://generativelanguage.googleapis.com",
			Model:            "gemini-2.0-flash",
			Temperature:      0.1,
			MaxOutputTokens:  8192,
			MaxResponseBytes: 4 << 20,
			Timeouts: TimeoutsConfig{
				Parser:     60 * time.Second,
				Extractor:  180 * time.Second,
				Classifier: 120 * time.Second,
			},
		},
		Pipeline: PipelineConfig{MaxRetries: 1, RetryBackoff: 500 * time.Millisecond},
		Corpus:   CorpusConfig{Path: "configs/corpus.yaml", ExampleLimit: 20},
		Weaviate: WeaviateConfig{Timeout: 5 * time.Second},
		Logging:  LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:          false,
			KeyPrefix:        "mirador-audit:",
			MemoryEntries:    256,
			AgentResponseTTL: 30 * time.Minute,
			ExamplesTTL:      10 * time.Minute,
			DialTimeout:      2 * time.Second,
			ReadTimeout:      500 * time.Millisecond,
			WriteTimeout:     500 * time.Millisecond,
			MaxRetries:       2,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_AUDIT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if v := os.Getenv("MIRADOR_AUDIT_LLM_MAX_OUTPUT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxOutputTokens = n
		}
	}
	envDuration("MIRADOR_AUDIT_PARSER_TIMEOUT", &cfg.LLM.Timeouts.Parser)
	envDuration("MIRADOR_AUDIT_EXTRACTOR_TIMEOUT", &cfg.LLM.Timeouts.Extractor)
	envDuration("MIRADOR_AUDIT_CLASSIFIER_TIMEOUT", &cfg.LLM.Timeouts.Classifier)
	if v := os.Getenv("MIRADOR_AUDIT_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxRetries = n
		}
	}
	envDuration("MIRADOR_AUDIT_RETRY_BACKOFF", &cfg.Pipeline.RetryBackoff)
	if v := os.Getenv("MIRADOR_AUDIT_CORPUS_PATH"); v != "" {
		cfg.Corpus.Path = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_WEAVIATE_URL"); v != "" {
		cfg.Weaviate.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_WEAVIATE_API_KEY"); v != "" {
		cfg.Weaviate.APIKey = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_AUDIT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = envBool(v)
	}
	if v := os.Getenv("MIRADOR_AUDIT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_AUDIT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_AUDIT_CACHE_TLS"); envBool(v) {
		cfg.Cache.TLS = true
	}
	envDuration("MIRADOR_AUDIT_CACHE_DIAL_TIMEOUT", &cfg.Cache.DialTimeout)
	envDuration("MIRADOR_AUDIT_CACHE_READ_TIMEOUT", &cfg.Cache.ReadTimeout)
	envDuration("MIRADOR_AUDIT_CACHE_WRITE_TIMEOUT", &cfg.Cache.WriteTimeout)
	if v := os.Getenv("MIRADOR_AUDIT_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
	envDuration("MIRADOR_AUDIT_CACHE_AGENT_TTL", &cfg.Cache.AgentResponseTTL)
	envDuration("MIRADOR_AUDIT_CACHE_EXAMPLES_TTL", &cfg.Cache.ExamplesTTL)
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
