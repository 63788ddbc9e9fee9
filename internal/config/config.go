package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lex-rag/internal/apperr"
)

type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	LLM    LLMConfig    `yaml:"llm"`
	Local  LocalConfig  `yaml:"local"`
	Hosted HostedConfig `yaml:"hosted"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Pretty selects console output; nil means true.
	Pretty *bool `yaml:"pretty"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TopK int    `yaml:"top_k"`
}

// LLMConfig configures the completion model. Temperature and TopP are
// pointers so that an explicit zero survives default handling.
type LLMConfig struct {
	Provider    string   `yaml:"provider"`
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	Key         string   `yaml:"-"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	TopP        *float64 `yaml:"top_p"`
}

type EmbedConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	Key       string `yaml:"-"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

type ChunkConfig struct {
	Splitter string `yaml:"splitter"`
	Size     int    `yaml:"size"`
	Overlap  int    `yaml:"overlap"`
}

// LocalConfig is shared by the local ingestion job and the server so both
// use the same index location and the same embedder.
type LocalConfig struct {
	InputDir         string      `yaml:"input_dir"`
	IndexPath        string      `yaml:"index_path"`
	Collection       string      `yaml:"collection"`
	Extensions       []string    `yaml:"extensions"`
	Chunk            ChunkConfig `yaml:"chunk"`
	Embedder         EmbedConfig `yaml:"embedder"`
	EncryptionKeyEnv string      `yaml:"encryption_key_env"`
	EncryptionKey    string      `yaml:"-"`
}

type HostedConfig struct {
	File           string         `yaml:"file"`
	Backend        string         `yaml:"backend"`
	Collection     string         `yaml:"collection"`
	APIKeyEnv      string         `yaml:"api_key_env"`
	Key            string         `yaml:"-"`
	Environment    string         `yaml:"environment"`
	EnvironmentEnv string         `yaml:"environment_env"`
	IDPrefix       string         `yaml:"id_prefix"`
	TopK           int            `yaml:"top_k"`
	Chunk          ChunkConfig    `yaml:"chunk"`
	Embedder       EmbedConfig    `yaml:"embedder"`
	Postgres       PostgresConfig `yaml:"postgres"`
	Milvus         MilvusConfig   `yaml:"milvus"`
}

type PostgresConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type MilvusConfig struct {
	Address string `yaml:"address"`
}

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"

	SplitterWindow    = "window"
	SplitterRecursive = "recursive"

	BackendPgvector = "pgvector"
	BackendMilvus   = "milvus"

	DriverPgdriver = "pgdriver"
	DriverPq       = "pq"
)

// LoadConfig reads the YAML file at path, applies defaults and resolves
// secrets from the environment. A .env file in the working directory is
// loaded first; a missing config file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.Config("load .env", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, apperr.Config("read config", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Config("parse config", err)
		}
	}

	applyDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Pretty == nil {
		cfg.Log.Pretty = boolPtr(true)
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.TopK == 0 {
		cfg.Server.TopK = 3
	}

	llm := &cfg.LLM
	if llm.Provider == "" {
		llm.Provider = ProviderOpenAI
	}
	if llm.BaseURL == "" && llm.Provider == ProviderOpenAI {
		llm.BaseURL = "https://api.together.xyz/v1"
	}
	if llm.Model == "" {
		llm.Model = "mistralai/Mistral-7B-Instruct-v0.1"
	}
	if llm.APIKeyEnv == "" {
		llm.APIKeyEnv = "TOGETHER_API_KEY"
	}
	if llm.Temperature == nil {
		llm.Temperature = float64Ptr(0.3)
	}
	if llm.MaxTokens == 0 {
		llm.MaxTokens = 512
	}
	if llm.TopP == nil {
		llm.TopP = float64Ptr(0.9)
	}

	local := &cfg.Local
	if local.InputDir == "" {
		local.InputDir = "./data"
	}
	if local.IndexPath == "" {
		local.IndexPath = "./embeddings"
	}
	if local.Collection == "" {
		local.Collection = "legal_docs"
	}
	if len(local.Extensions) == 0 {
		local.Extensions = []string{".pdf"}
	}
	if local.EncryptionKeyEnv == "" {
		local.EncryptionKeyEnv = "INDEX_ENCRYPTION_KEY"
	}
	chunkDefaults(&local.Chunk, 1000, 200)
	embedDefaults(&local.Embedder, EmbedConfig{
		Provider: ProviderOllama,
		BaseURL:  "http://localhost:11434",
		Model:    "all-minilm",
	})

	hosted := &cfg.Hosted
	if hosted.File == "" {
		hosted.File = "legal_document.pdf"
	}
	if hosted.Backend == "" {
		hosted.Backend = BackendPgvector
	}
	if hosted.Collection == "" {
		hosted.Collection = "lex_ai_legal_db"
	}
	if hosted.APIKeyEnv == "" {
		hosted.APIKeyEnv = "VECTOR_DB_API_KEY"
	}
	if hosted.EnvironmentEnv == "" {
		hosted.EnvironmentEnv = "VECTOR_DB_ENVIRONMENT"
	}
	if hosted.IDPrefix == "" {
		hosted.IDPrefix = "doc_chunk_"
	}
	if hosted.TopK == 0 {
		hosted.TopK = 5
	}
	if hosted.Postgres.Driver == "" {
		hosted.Postgres.Driver = DriverPgdriver
	}
	if hosted.Milvus.Address == "" {
		hosted.Milvus.Address = "localhost:19530"
	}
	chunkDefaults(&hosted.Chunk, 500, 50)
	embedDefaults(&hosted.Embedder, EmbedConfig{
		Provider:  ProviderOpenAI,
		BaseURL:   "https://api.openai.com/v1",
		Model:     "text-embedding-ada-002",
		APIKeyEnv: "OPENAI_API_KEY",
	})
}

func chunkDefaults(c *ChunkConfig, size, overlap int) {
	if c.Splitter == "" {
		c.Splitter = SplitterWindow
	}
	// an explicit overlap is kept even when size falls back to the default
	if c.Size == 0 && c.Overlap == 0 {
		c.Overlap = overlap
	}
	if c.Size == 0 {
		c.Size = size
	}
}

func embedDefaults(e *EmbedConfig, def EmbedConfig) {
	if e.Provider == "" {
		*e = def
	}
	if e.Provider == ProviderHash && e.Dimension == 0 {
		e.Dimension = 384
	}
	if e.Provider == ProviderOpenAI && e.APIKeyEnv == "" {
		e.APIKeyEnv = "OPENAI_API_KEY"
	}
	if e.BatchSize == 0 {
		e.BatchSize = 32
	}
}

func applyEnv(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return apperr.Config("parse PORT", fmt.Errorf("invalid port %q: %w", port, err))
		}
		cfg.Server.Port = p
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	cfg.LLM.Key = envValue(cfg.LLM.APIKeyEnv)
	cfg.Local.Embedder.Key = envValue(cfg.Local.Embedder.APIKeyEnv)
	cfg.Local.EncryptionKey = envValue(cfg.Local.EncryptionKeyEnv)
	cfg.Hosted.Embedder.Key = envValue(cfg.Hosted.Embedder.APIKeyEnv)
	cfg.Hosted.Key = envValue(cfg.Hosted.APIKeyEnv)
	if env := envValue(cfg.Hosted.EnvironmentEnv); env != "" {
		cfg.Hosted.Environment = env
	}
	return nil
}

func envValue(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

func float64Ptr(v float64) *float64 { return &v }

func boolPtr(v bool) *bool { return &v }

// ValidateServer checks everything the query service needs before it
// accepts traffic.
func (c *Config) ValidateServer() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.TopK <= 0 {
		errs = append(errs, fmt.Errorf("server.top_k must be positive"))
	}
	if c.Local.IndexPath == "" {
		errs = append(errs, fmt.Errorf("local.index_path is required"))
	}
	if c.Local.Collection == "" {
		errs = append(errs, fmt.Errorf("local.collection is required"))
	}
	errs = append(errs, c.Local.Embedder.validate("local.embedder")...)
	errs = append(errs, c.LLM.validate()...)
	return joinConfigErrors("validate server config", errs)
}

// ValidateLocalIngest checks the local ingestion job configuration.
func (c *Config) ValidateLocalIngest() error {
	var errs []error
	if c.Local.InputDir == "" {
		errs = append(errs, fmt.Errorf("local.input_dir is required"))
	}
	if c.Local.IndexPath == "" {
		errs = append(errs, fmt.Errorf("local.index_path is required"))
	}
	if c.Local.Collection == "" {
		errs = append(errs, fmt.Errorf("local.collection is required"))
	}
	errs = append(errs, c.Local.Chunk.validate("local.chunk")...)
	errs = append(errs, c.Local.Embedder.validate("local.embedder")...)
	return joinConfigErrors("validate local ingest config", errs)
}

// ValidateHostedIngest checks the hosted ingestion job configuration.
func (c *Config) ValidateHostedIngest() error {
	var errs []error
	h := c.Hosted
	if h.File == "" {
		errs = append(errs, fmt.Errorf("hosted.file is required"))
	}
	if h.Collection == "" {
		errs = append(errs, fmt.Errorf("hosted.collection is required"))
	}
	if h.Key == "" {
		errs = append(errs, fmt.Errorf("vector database API key missing (env %s)", h.APIKeyEnv))
	}
	if h.TopK <= 0 {
		errs = append(errs, fmt.Errorf("hosted.top_k must be positive"))
	}
	switch h.Backend {
	case BackendPgvector:
		if h.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("hosted.postgres.dsn is required"))
		}
		if h.Postgres.Driver != DriverPgdriver && h.Postgres.Driver != DriverPq {
			errs = append(errs, fmt.Errorf("unknown hosted.postgres.driver %q", h.Postgres.Driver))
		}
	case BackendMilvus:
		if h.Milvus.Address == "" {
			errs = append(errs, fmt.Errorf("hosted.milvus.address is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown hosted.backend %q", h.Backend))
	}
	errs = append(errs, h.Chunk.validate("hosted.chunk")...)
	errs = append(errs, h.Embedder.validate("hosted.embedder")...)
	return joinConfigErrors("validate hosted ingest config", errs)
}

func (c ChunkConfig) validate(field string) []error {
	var errs []error
	if c.Splitter != SplitterWindow && c.Splitter != SplitterRecursive {
		errs = append(errs, fmt.Errorf("unknown %s.splitter %q", field, c.Splitter))
	}
	if c.Size <= 0 {
		errs = append(errs, fmt.Errorf("%s.size must be positive", field))
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		errs = append(errs, fmt.Errorf("%s.overlap must be in [0, size)", field))
	}
	return errs
}

func (e EmbedConfig) validate(field string) []error {
	var errs []error
	switch e.Provider {
	case ProviderOllama:
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", field))
		}
	case ProviderOpenAI:
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", field))
		}
		if e.Key == "" {
			errs = append(errs, fmt.Errorf("%s API key missing (env %s)", field, e.APIKeyEnv))
		}
	case ProviderHash:
		if e.Dimension <= 0 {
			errs = append(errs, fmt.Errorf("%s.dimension must be positive", field))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown %s.provider %q", field, e.Provider))
	}
	return errs
}

func (l LLMConfig) validate() []error {
	var errs []error
	switch l.Provider {
	case ProviderOpenAI:
		if l.Key == "" {
			errs = append(errs, fmt.Errorf("llm API key missing (env %s)", l.APIKeyEnv))
		}
	case ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", l.Provider))
	}
	if l.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required"))
	}
	if l.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive"))
	}
	if l.Temperature == nil || *l.Temperature < 0 || *l.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be in [0, 2]"))
	}
	if l.TopP == nil || *l.TopP <= 0 || *l.TopP > 1 {
		errs = append(errs, fmt.Errorf("llm.top_p must be in (0, 1]"))
	}
	return errs
}

func joinConfigErrors(op string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return apperr.Config(op, errors.Join(errs...))
}
