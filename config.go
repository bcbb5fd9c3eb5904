package genaiti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ntealan/genaiti/graph"
	"github.com/ntealan/genaiti/llm"
	"github.com/ntealan/genaiti/session"
	"github.com/ntealan/genaiti/validate"
)

// Config holds all configuration for the assistant.
type Config struct {
	Graph graph.Neo4jConfig `json:"graph" yaml:"graph" toml:"graph"`

	// LLM is the text generation endpoint. The model of each stage comes
	// from Session.
	LLM llm.Config `json:"llm" yaml:"llm" toml:"llm"`

	// Embedding, when set, embeds every question so similar past runs can
	// be looked up.
	Embedding *llm.Config `json:"embedding,omitempty" yaml:"embedding,omitempty" toml:"embedding,omitempty"`

	// Session holds the settings new sessions start with.
	Session session.Settings `json:"session" yaml:"session" toml:"session"`

	// DBPath is the sqlite file for the run log and transcripts. If empty,
	// defaults to ~/.genaiti/genaiti.db.
	DBPath       string `json:"db_path" yaml:"db_path" toml:"db_path"`
	NoHistory    bool   `json:"no_history" yaml:"no_history" toml:"no_history"`
	EmbeddingDim int    `json:"embedding_dim" yaml:"embedding_dim" toml:"embedding_dim" validate:"gte=0"`

	// ReadOnly refuses generated statements that write to the graph.
	ReadOnly bool `json:"read_only" yaml:"read_only" toml:"read_only"`

	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout" toml:"stage_timeout" validate:"gte=0"`
	ExecTimeout  time.Duration `json:"exec_timeout" yaml:"exec_timeout" toml:"exec_timeout" validate:"gte=0"`

	// Breaker wraps providers and the graph in circuit breakers.
	Breaker bool `json:"breaker" yaml:"breaker" toml:"breaker"`

	Server ServerConfig `json:"server" yaml:"server" toml:"server"`

	Debug bool `json:"debug" yaml:"debug" toml:"debug"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr" validate:"required"`

	// APIKey enables bearer token auth on every route but /health.
	APIKey      string `json:"api_key" yaml:"api_key" toml:"api_key"`
	CORSOrigins string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	// OTLPEndpoint enables trace export over gRPC, e.g. localhost:4317.
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint" toml:"otlp_endpoint"`
}

// DefaultConfig returns a Config for a local Neo4j and the Hugging Face
// inference API.
func DefaultConfig() Config {
	return Config{
		Graph: graph.Neo4jConfig{
			URI:          "neo4j://localhost:7687",
			Username:     "neo4j",
			QueryTimeout: 30 * time.Second,
		},
		LLM: llm.Config{
			Provider: "huggingface",
			Timeout:  120 * time.Second,
		},
		Session:      session.DefaultSettings(),
		EmbeddingDim: 0,
		ReadOnly:     true,
		StageTimeout: 60 * time.Second,
		ExecTimeout:  30 * time.Second,
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// LoadConfig reads a config file over the defaults. The decoder is chosen by
// extension: .yaml/.yml, .toml or .json.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("%w: unsupported config extension %q", ErrInvalidConfig, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("NEO4J_URI"); v != "" {
		c.Graph.URI = v
	}
	if v := os.Getenv("NEO4J_USERNAME"); v != "" {
		c.Graph.Username = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.Graph.Password = v
	}
	if v := os.Getenv("NEO4J_DATABASE"); v != "" {
		c.Graph.Database = v
	}

	if v := os.Getenv("GENAITI_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("GENAITI_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("GENAITI_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("GENAITI_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("GENAITI_QA_MODEL"); v != "" {
		c.Session.QAModel = v
	}
	if v := os.Getenv("GENAITI_CYPHER_MODEL"); v != "" {
		c.Session.CypherModel = v
	}
	if v := os.Getenv("GENAITI_VALIDATE_MODEL"); v != "" {
		c.Session.ValidateModel = v
	}
	if v := os.Getenv("GENAITI_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("GENAITI_API_KEY"); v != "" {
		c.Server.APIKey = v
	}
	if v := os.Getenv("GENAITI_CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = v
	}
	if v := os.Getenv("GENAITI_OTLP_ENDPOINT"); v != "" {
		c.Server.OTLPEndpoint = v
	}
	if v, err := strconv.ParseBool(os.Getenv("GENAITI_DEBUG")); err == nil {
		c.Debug = v
	}
	if v, err := strconv.ParseBool(os.Getenv("GENAITI_READ_ONLY")); err == nil {
		c.ReadOnly = v
	}

	// Fallback: well-known provider env vars for API keys.
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "huggingface", "hf":
			c.LLM.APIKey = firstEnv("HF_TOKEN", "HUGGINGFACEHUB_API_TOKEN")
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			c.LLM.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
}

// Validate checks the whole configuration, including the default session
// settings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("%w: llm.provider is required", ErrInvalidConfig)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: session: %v", ErrInvalidConfig, err)
	}
	if c.Embedding != nil && c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: embedding_dim must be set with an embedding provider", ErrInvalidConfig)
	}
	return nil
}

// ResolveDBPath returns the sqlite path, defaulting to ~/.genaiti/genaiti.db.
func (c Config) ResolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "genaiti.db"
	}
	return filepath.Join(home, ".genaiti", "genaiti.db")
}

// Watch reloads path whenever it changes and calls onChange with each config
// that loads and validates. It blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer w.Close()

	// Editors replace files on save, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config: watcher error", zap.Error(err))
		case <-timer.C:
			cfg, err := LoadConfig(abs)
			if err == nil {
				cfg.ApplyEnv()
				err = cfg.Validate()
			}
			if err != nil {
				logger.Warn("config: reload rejected", zap.String("path", abs), zap.Error(err))
				continue
			}
			logger.Info("config: reloaded", zap.String("path", abs))
			onChange(cfg)
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
