package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults and clamping bounds for the orchestration core.
const (
	DefaultHistoryLength    = 100
	MinHistoryLength        = 1
	MaxHistoryLength        = 500
	DefaultHistoryBudget    = 4000
	MinHistoryBudget        = 500
	MaxHistoryBudget        = 20000
	DefaultCooldownSeconds  = 60
	DefaultDebounceMillis   = 2500
	DefaultJobHistorySize   = 100
	DefaultIdleTimeoutMins  = 30
	DefaultTextTimeoutSecs  = 20
	DefaultImageTimeoutSecs = 60
)

const defaultSystemPrompt = "You are ScottBott, a helpful assistant. " +
	"Keep all responses brief and to the point, one to three sentences. " +
	"Your personality: direct, a bit sarcastic, zero patience for pretense."

// BotConfig holds configuration for the bot process.
type BotConfig struct {
	DiscordToken  string
	DiscordAPIURL string
	BotUserID     string
	TriggerWord   string
	SystemPrompt  string

	GeminiAPIKey      string
	GeminiModel       string
	PerplexityAPIKey  string
	PerplexityBaseURL string
	PerplexityModel   string
	HuggingFaceAPIKey string
	HuggingFaceModel  string
	OpenAIAPIKey      string

	PrimaryTextProvider string
	CooldownWindow      time.Duration
	TextTimeout         time.Duration
	ImageTimeout        time.Duration

	HistoryLength       int
	HistoryBudget       int
	ConversationIdle    time.Duration
	DebounceWindow      time.Duration
	JobHistoryCapacity  int
	ReminderSweepPeriod time.Duration

	DBPath   string
	HTTPAddr string
}

// Load reads bot configuration from environment variables. The Discord token
// and at least one text provider credential are required; everything else has
// defaults.
func Load() (BotConfig, error) {
	token := os.Getenv("DISCORD_TOKEN")
	if token == "" {
		return BotConfig{}, fmt.Errorf("DISCORD_TOKEN is required in environment")
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	perplexityKey := os.Getenv("PERPLEXITY_API_KEY")
	if geminiKey == "" && perplexityKey == "" {
		return BotConfig{}, fmt.Errorf("at least one of GEMINI_API_KEY or PERPLEXITY_API_KEY is required")
	}

	cfg := BotConfig{
		DiscordToken:  token,
		DiscordAPIURL: envOrDefault("DISCORD_API_URL", "https://discord.com/api/v10"),
		BotUserID:     os.Getenv("BOT_USER_ID"),
		TriggerWord:   strings.ToLower(envOrDefault("BOT_TRIGGER_WORD", "scottbott")),
		SystemPrompt:  envOrDefault("BOT_SYSTEM_PROMPT", defaultSystemPrompt),

		GeminiAPIKey:      geminiKey,
		GeminiModel:       envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		PerplexityAPIKey:  perplexityKey,
		PerplexityBaseURL: envOrDefault("PERPLEXITY_BASE_URL", "https://api.perplexity.ai"),
		PerplexityModel:   envOrDefault("PERPLEXITY_MODEL", "sonar"),
		HuggingFaceAPIKey: os.Getenv("HUGGINGFACE_API_KEY"),
		HuggingFaceModel:  envOrDefault("HUGGINGFACE_MODEL", "black-forest-labs/FLUX.1-schnell"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),

		PrimaryTextProvider: envOrDefault("PRIMARY_LLM", "gemini"),
		CooldownWindow:      time.Duration(envIntOrDefault("PROVIDER_COOLDOWN_SECONDS", DefaultCooldownSeconds)) * time.Second,
		TextTimeout:         time.Duration(envIntOrDefault("LLM_TIMEOUT", DefaultTextTimeoutSecs)) * time.Second,
		ImageTimeout:        time.Duration(envIntOrDefault("IMAGE_TIMEOUT", DefaultImageTimeoutSecs)) * time.Second,

		HistoryLength:       clamp(envIntOrDefault("HISTORY_LENGTH", DefaultHistoryLength), MinHistoryLength, MaxHistoryLength),
		HistoryBudget:       clamp(envIntOrDefault("HISTORY_CHAR_BUDGET", DefaultHistoryBudget), MinHistoryBudget, MaxHistoryBudget),
		ConversationIdle:    time.Duration(envIntOrDefault("CONVERSATION_IDLE_MINUTES", DefaultIdleTimeoutMins)) * time.Minute,
		DebounceWindow:      time.Duration(envIntOrDefault("IMAGE_DEBOUNCE_MS", DefaultDebounceMillis)) * time.Millisecond,
		JobHistoryCapacity:  envIntOrDefault("JOB_HISTORY_CAPACITY", DefaultJobHistorySize),
		ReminderSweepPeriod: time.Duration(envIntOrDefault("REMINDER_SWEEP_SECONDS", 15)) * time.Second,

		DBPath:   envOrDefault("SCOTTBOTT_DB_PATH", "/state/scottbott.db"),
		HTTPAddr: envOrDefault("HTTP_ADDR", ":8080"),
	}

	if cfg.JobHistoryCapacity < 1 {
		cfg.JobHistoryCapacity = DefaultJobHistorySize
	}
	switch cfg.PrimaryTextProvider {
	case "gemini", "perplexity", "sonar":
	default:
		return BotConfig{}, fmt.Errorf("PRIMARY_LLM must be gemini, perplexity or sonar, got %q", cfg.PrimaryTextProvider)
	}

	return cfg, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
