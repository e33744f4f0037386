// Package config holds the immutable process-start configuration. Every
// fixed constant the router depends on (system prompt, models, draw trigger,
// history bounds) lives here so the routing logic stays parameter-free.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Bot       BotConfig       `json:"bot"`
	WorkersAI WorkersAIConfig `json:"workers_ai"`
	History   HistoryConfig   `json:"history"`
}

// GatewayConfig configures the HTTP/WebSocket listener the OneBot gateway
// connects to (reverse WebSocket: NapCat dials us).
type GatewayConfig struct {
	Host string `env:"BOTWORKER_GATEWAY_HOST" json:"host"`
	Port int    `env:"BOTWORKER_GATEWAY_PORT" json:"port"`
}

type BotConfig struct {
	// SelfID is the bot's own QQ account, used when the gateway omits
	// self_id on an event.
	SelfID       string `env:"BOTWORKER_BOT_SELF_ID"       json:"self_id"`
	SystemPrompt string `env:"BOTWORKER_BOT_SYSTEM_PROMPT" json:"system_prompt"`
	// DrawPrefix is the literal draw trigger, token plus trailing space.
	DrawPrefix string `env:"BOTWORKER_BOT_DRAW_PREFIX" json:"draw_prefix"`
}

type WorkersAIConfig struct {
	AccountID string `env:"BOTWORKER_WORKERS_AI_ACCOUNT_ID" json:"account_id"`
	APIToken  string `env:"BOTWORKER_WORKERS_AI_API_TOKEN"  json:"api_token"`
	// APIBase overrides the Cloudflare API root, mainly for tests.
	APIBase   string `env:"BOTWORKER_WORKERS_AI_API_BASE"   json:"api_base,omitempty"`
	ChatModel string `env:"BOTWORKER_WORKERS_AI_CHAT_MODEL" json:"chat_model"`
	DrawModel string `env:"BOTWORKER_WORKERS_AI_DRAW_MODEL" json:"draw_model"`
	// APIFlavor selects the chat transport: "native" calls /ai/run with
	// tolerant envelope parsing, "openai" goes through the OpenAI-compatible
	// /v1 surface.
	APIFlavor string `env:"BOTWORKER_WORKERS_AI_API_FLAVOR" json:"api_flavor"`
	MaxTokens int    `env:"BOTWORKER_WORKERS_AI_MAX_TOKENS" json:"max_tokens"`
	NumSteps  int    `env:"BOTWORKER_WORKERS_AI_NUM_STEPS"  json:"num_steps"`
}

type HistoryConfig struct {
	DBPath string `env:"BOTWORKER_HISTORY_DB_PATH" json:"db_path"`
	// MaxExchanges caps the rolling history at this many user+assistant
	// pairs; stored turns never exceed twice this value.
	MaxExchanges int `env:"BOTWORKER_HISTORY_MAX_EXCHANGES" json:"max_exchanges"`
	TTLHours     int `env:"BOTWORKER_HISTORY_TTL_HOURS"     json:"ttl_hours"`
	// SweepCron schedules physical deletion of expired rows.
	SweepCron string `env:"BOTWORKER_HISTORY_SWEEP_CRON" json:"sweep_cron"`
}

const defaultSystemPrompt = `你是一个友好的 QQ 助手，名叫"哈吉喵"。
一只毒舌可爱的赛博猫，回复必须极短且带"喵"，
如果用户想画图，告诉他发送"画 [描述]"即可。`

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8788,
		},
		Bot: BotConfig{
			SystemPrompt: defaultSystemPrompt,
			DrawPrefix:   "画 ",
		},
		WorkersAI: WorkersAIConfig{
			APIBase:   "https://api.cloudflare.com/client/v4",
			ChatModel: "@cf/meta/llama-3.1-8b-instruct",
			DrawModel: "@cf/lykon/dreamshaper-8-lcm",
			APIFlavor: "native",
			MaxTokens: 256,
			NumSteps:  20,
		},
		History: HistoryConfig{
			DBPath:       filepath.Join(home, ".botworker", "history.db"),
			MaxExchanges: 10,
			TTLHours:     72,
			SweepCron:    "0 * * * *",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No file is fine, env overrides still apply.
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) Validate() error {
	if c.History.MaxExchanges <= 0 {
		return errors.New("history.max_exchanges must be positive")
	}
	if c.History.TTLHours <= 0 {
		return errors.New("history.ttl_hours must be positive")
	}
	if c.Bot.DrawPrefix == "" {
		return errors.New("bot.draw_prefix must not be empty")
	}
	switch c.WorkersAI.APIFlavor {
	case "native", "openai":
	default:
		return errors.New(`workers_ai.api_flavor must be "native" or "openai"`)
	}
	return nil
}
