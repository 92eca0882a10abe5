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

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"
)

const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// OpenAI models the service was tuned with, and their Vertex counterparts.
var (
	openAIModels = [3]string{"o3-2025-04-16", "gpt-4.1-nano-2025-04-14", "o4-mini-2025-04-16"}
	vertexModels = [3]string{"gemini-2.5-pro", "gemini-2.5-flash-lite", "gemini-2.5-flash"}
)

// TierConfig configures one model tier.
type TierConfig struct {
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
}

type LLMConfig struct {
	Provider      string `yaml:"provider"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	MaxRetries    int    `yaml:"max_retries"`

	Planner   TierConfig `yaml:"planner"`
	Responder TierConfig `yaml:"responder"`
	FirstAid  TierConfig `yaml:"first_aid"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"-"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type GCPConfig struct {
	ProjectID string `yaml:"project_id"`
	Location  string `yaml:"location"`
}

type AuthConfig struct {
	JWTSecret      string `yaml:"-"`
	RequireProfile bool   `yaml:"require_profile"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type Config struct {
	Mode     Mode   `yaml:"mode"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	LLM LLMConfig `yaml:"llm"`

	// HistoryLimit keeps the last N prior messages of a turn (0 = all).
	HistoryLimit int `yaml:"history_limit"`

	Storage StorageConfig `yaml:"storage"`
	GCP     GCPConfig     `yaml:"gcp"`
	Auth    AuthConfig    `yaml:"auth"`
	NATS    NATSConfig    `yaml:"nats"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Mode:     ModeLocal,
		Port:     "8080",
		LogLevel: "info",
		LLM: LLMConfig{
			MaxRetries: 2,
			Planner:    TierConfig{Timeout: 45 * time.Second, MaxTokens: 1000},
			Responder:  TierConfig{Timeout: 20 * time.Second, MaxTokens: 300},
			FirstAid:   TierConfig{Timeout: 30 * time.Second, MaxTokens: 1000},
		},
		HistoryLimit: 50,
		Storage: StorageConfig{
			Backend:    BackendMemory,
			SQLitePath: "data/lotus.db",
		},
		GCP: GCPConfig{Location: "us-central1"},
	}
}

// Load builds the config: defaults, then the YAML file named by
// LOTUS_CONFIG_FILE, then environment variables (after .env files).
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := Default()
	if path := getEnv("LOTUS_CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv reads .env.local then .env; existing variables win.
func loadDotEnv() error {
	switch strings.ToLower(getEnv("LOTUS_DOTENV", "")) {
	case "0", "false", "off", "no":
		return nil
	}
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Mode = Mode(strings.ToLower(getEnv("LOTUS_MODE", string(c.Mode))))
	c.Port = getEnv("LOTUS_PORT", getEnv("PORT", c.Port))
	c.LogLevel = getEnv("LOTUS_LOG_LEVEL", c.LogLevel)

	c.LLM.Provider = getEnv("LOTUS_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.OpenAIBaseURL = getEnv("LOTUS_OPENAI_BASE_URL", c.LLM.OpenAIBaseURL)
	c.LLM.Planner.Model = getEnv("LOTUS_PLANNER_MODEL", c.LLM.Planner.Model)
	c.LLM.Responder.Model = getEnv("LOTUS_RESPONDER_MODEL", c.LLM.Responder.Model)
	c.LLM.FirstAid.Model = getEnv("LOTUS_FIRST_AID_MODEL", c.LLM.FirstAid.Model)

	c.Storage.Backend = getEnv("LOTUS_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DatabaseURL = getEnv("LOTUS_DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.SQLitePath = getEnv("LOTUS_SQLITE_PATH", c.Storage.SQLitePath)

	c.GCP.ProjectID = getEnv("LOTUS_GCP_PROJECT", c.GCP.ProjectID)
	c.GCP.Location = getEnv("LOTUS_GCP_LOCATION", c.GCP.Location)

	c.Auth.JWTSecret = getEnv("LOTUS_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.RequireProfile = getBoolEnv("LOTUS_REQUIRE_PROFILE", c.Auth.RequireProfile)

	c.NATS.URL = getEnv("LOTUS_NATS_URL", c.NATS.URL)

	var err error
	if c.HistoryLimit, err = getIntEnv("LOTUS_HISTORY_LIMIT", c.HistoryLimit); err != nil {
		return err
	}
	if c.LLM.MaxRetries, err = getIntEnv("LOTUS_LLM_MAX_RETRIES", c.LLM.MaxRetries); err != nil {
		return err
	}
	for key, d := range map[string]*time.Duration{
		"LOTUS_PLANNER_TIMEOUT":   &c.LLM.Planner.Timeout,
		"LOTUS_RESPONDER_TIMEOUT": &c.LLM.Responder.Timeout,
		"LOTUS_FIRST_AID_TIMEOUT": &c.LLM.FirstAid.Timeout,
	} {
		if *d, err = getDurationEnv(key, *d); err != nil {
			return err
		}
	}
	return nil
}

// applyProviderDefaults picks a provider when none is set and fills empty
// model names with that provider's defaults.
func (c *Config) applyProviderDefaults() {
	if c.LLM.Provider == "" {
		switch {
		case c.LLM.OpenAIAPIKey != "":
			c.LLM.Provider = ProviderOpenAI
		case c.Mode == ModeGCP:
			c.LLM.Provider = ProviderVertex
		default:
			c.LLM.Provider = ProviderMock
		}
	}

	models := openAIModels
	if c.LLM.Provider == ProviderVertex {
		models = vertexModels
	}
	for i, tier := range []*TierConfig{&c.LLM.Planner, &c.LLM.Responder, &c.LLM.FirstAid} {
		if tier.Model == "" {
			tier.Model = models[i]
		}
	}
}

// Validate reports incomplete provider or backend settings.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal, ModeGCP:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	switch c.LLM.Provider {
	case ProviderMock:
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY must be set for the openai provider")
		}
	case ProviderVertex:
		if c.GCP.ProjectID == "" {
			return errors.New("LOTUS_GCP_PROJECT must be set for the vertex provider")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("LOTUS_SQLITE_PATH must be set for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("LOTUS_DATABASE_URL must be set for the postgres backend")
		}
	case BackendFirestore:
		if c.GCP.ProjectID == "" {
			return errors.New("LOTUS_GCP_PROJECT must be set for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.HistoryLimit < 0 {
		return errors.New("history limit cannot be negative")
	}
	if c.Mode == ModeGCP && c.GCP.ProjectID == "" {
		return errors.New("LOTUS_GCP_PROJECT must be set in gcp mode")
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func getIntEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDurationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
