// Package config centralizes environment-variable configuration for the
// ingest worker, resolve worker, API, and admin binaries (spec §6),
// grounded on the teacher's cmd/tarsy/main.go + pkg/database/config.go
// getEnvOrDefault idiom, generalized from "database settings only" to
// every external dependency this module wires: Postgres, Redis, Kafka,
// the Anthropic LLM, and the repo/ticket/chat adapters.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentineld/resolveops/pkg/agentloop"
	"github.com/sentineld/resolveops/pkg/llm"
	"github.com/sentineld/resolveops/pkg/storage"
)

// Config is the umbrella configuration object every cmd/* binary loads
// once at startup.
type Config struct {
	HTTPPort string

	DB    storage.Config
	Redis RedisConfig
	Bus   BusConfig

	LLM       llm.Config
	AgentLoop agentloop.Config

	GitHubToken string

	LinearAPIToken string
	LinearTeamID   string

	SlackToken          string
	SlackChannel        string
	SlackSigningSecrets []string
	DashboardURL        string
	ServiceDomain       string
	MaxReplans          int
	LogIngestGroup      string

	MaskingEnabled bool
	MaskingGroup   string
}

// RedisConfig holds connection settings for the memory-retrieval cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// BusConfig holds Kafka connection settings for pkg/bus.
type BusConfig struct {
	Brokers []string
}

// Load reads a .env file (if present) from envPath, then builds a Config
// from environment variables with production defaults. A missing .env
// file is not an error — it's the expected case in a real deployment,
// where the environment is already populated by the orchestrator.
func Load(envPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			slogMissingEnvFile(envPath, err)
		}
	}

	dbCfg, err := storage.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("load database config: %w", err)
	}

	maxIterations, _ := strconv.Atoi(getEnvOrDefault("MAX_AGENT_ITERATIONS", "50"))
	maxRetries, _ := strconv.Atoi(getEnvOrDefault("MAX_RETRIES_PER_STEP", "3"))
	maxReplans, _ := strconv.Atoi(getEnvOrDefault("MAX_REPLANS", "3"))
	redisDB, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))

	stepTimeout, err := time.ParseDuration(getEnvOrDefault("AGENT_STEP_TIMEOUT", "180s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid AGENT_STEP_TIMEOUT: %w", err)
	}
	overallTimeout, err := time.ParseDuration(getEnvOrDefault("CREW_EXECUTION_TIMEOUT", "1200s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CREW_EXECUTION_TIMEOUT: %w", err)
	}
	sandboxTimeout, err := time.ParseDuration(getEnvOrDefault("CODE_EXECUTION_TIMEOUT", "30s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid CODE_EXECUTION_TIMEOUT: %w", err)
	}
	llmTimeout, err := time.ParseDuration(getEnvOrDefault("LLM_CALL_TIMEOUT", "60s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LLM_CALL_TIMEOUT: %w", err)
	}

	cfg := Config{
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		DB:       dbCfg,
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Bus: BusConfig{
			Brokers: splitCSV(getEnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		},
		LLM: llm.Config{
			APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
			Model:       os.Getenv("LLM_MODEL"),
			CallTimeout: llmTimeout,
			BreakerName: "anthropic",
		},
		AgentLoop: agentloop.Config{
			MaxIterations:     maxIterations,
			StepTimeout:       stepTimeout,
			OverallTimeout:    overallTimeout,
			MaxRetriesPerStep: maxRetries,
			SandboxTimeout:    sandboxTimeout,
		},
		GitHubToken:         os.Getenv("GITHUB_TOKEN"),
		LinearAPIToken:      os.Getenv("LINEAR_API_TOKEN"),
		LinearTeamID:        os.Getenv("LINEAR_TEAM_ID"),
		SlackToken:          os.Getenv("SLACK_TOKEN"),
		SlackChannel:        os.Getenv("SLACK_CHANNEL"),
		SlackSigningSecrets: slackSigningSecrets(),
		DashboardURL:        getEnvOrDefault("DASHBOARD_URL", "http://localhost:3000"),
		ServiceDomain:       getEnvOrDefault("SERVICE_DOMAIN", "resolveops"),
		MaxReplans:          maxReplans,
		LogIngestGroup:      getEnvOrDefault("LOG_INGEST_GROUP", "resolveops-ingest"),
		MaskingEnabled:      getEnvOrDefault("MASKING_ENABLED", "true") == "true",
		MaskingGroup:        getEnvOrDefault("MASKING_PATTERN_GROUP", "security"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if len(c.Bus.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must name at least one broker")
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// slackSigningSecrets collects every configured Slack signing secret: a
// generic one plus any persona-specific overrides, so separate bot
// personas can each carry their own secret while still validating
// against a shared events endpoint (spec §6: "a set, any of which may
// validate a message").
func slackSigningSecrets() []string {
	var secrets []string
	for _, key := range []string{"SLACK_SIGNING_SECRET", "SLACK_SIGNING_SECRET_ALEX", "SLACK_SIGNING_SECRET_MORGAN"} {
		if v := os.Getenv(key); v != "" {
			secrets = append(secrets, v)
		}
	}
	return secrets
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := trimSpace(s[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func slogMissingEnvFile(path string, err error) {
	fmt.Fprintf(os.Stderr, "config: no .env file at %s (%v), using process environment\n", path, err)
}
