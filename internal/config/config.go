package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

type BotConfig struct {
	Token    string `json:"token"`
	Secret   string `json:"secret"`
	Username string `json:"username"`
}

type ProviderConfig struct {
	APIKey          string   `json:"api_key"`
	BaseURL         string   `json:"base_url"`
	Model           string   `json:"model"`
	Candidates      []string `json:"candidates,omitempty"`
	MaxTokens       int      `json:"max_tokens"`
	InputCostPer1K  float64  `json:"input_cost_per_1k"`
	OutputCostPer1K float64  `json:"output_cost_per_1k"`
}

type Config struct {
	DataDir       string `json:"data_dir"`
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`
	MaxConcurrent int    `json:"max_concurrent"`
	HTTP          struct {
		Listen    string `json:"listen"`
		PublicURL string `json:"public_url"`
	} `json:"http"`
	Bots     map[persona.ID]BotConfig `json:"bots"`
	Telegram struct {
		AllowedUserIDs []int64 `json:"allowed_user_ids"`
		AllowedChatIDs []int64 `json:"allowed_chat_ids"`
		MayhemChatID   int64   `json:"mayhem_chat_id"`
		TylerDMChatID  int64   `json:"tyler_dm_chat_id"`
		SendRatePerSec float64 `json:"send_rate_per_sec"`
		APIEndpoint    string  `json:"api_endpoint"`
	} `json:"telegram"`
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
	Assistant struct {
		Timezone           string  `json:"timezone"`
		RateLimitPerMin    int     `json:"rate_limit_per_min"`
		LLMTimeoutMS       int     `json:"llm_timeout_ms"`
		HistoryWindowCloud int     `json:"history_window_cloud"`
		HistoryWindowLocal int     `json:"history_window_local"`
		NewsDefaultCount   int     `json:"news_default_count"`
		DailyCostCapUSD    float64 `json:"daily_cost_cap_usd"`
		DailyTokenCap      int     `json:"daily_token_cap"`
		MaxContextTokens   int     `json:"max_context_tokens"`
	} `json:"assistant"`
	LocalHeavy struct {
		CharsThreshold int          `json:"chars_threshold"`
		TokenThreshold int          `json:"token_threshold"`
		EnableBots     []persona.ID `json:"enable_bots"`
	} `json:"local_heavy"`
	Worker struct {
		Secret     string `json:"secret"`
		CronSecret string `json:"cron_secret"`
	} `json:"worker"`

	allowedUsers map[int64]bool
	allowedChats map[int64]bool
}

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".mayhem"),
		LogLevel:      "info",
		LogFormat:     "text",
		MaxConcurrent: 4,
		Bots:          map[persona.ID]BotConfig{},
	}
	cfg.HTTP.Listen = ":8080"
	cfg.Telegram.SendRatePerSec = 1
	cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	cfg.OpenAI.Model = "gpt-5.2"
	cfg.OpenAI.MaxTokens = 700
	cfg.OpenAI.InputCostPer1K = 0.001
	cfg.OpenAI.OutputCostPer1K = 0.003
	cfg.Anthropic.BaseURL = "https://api.anthropic.com/v1"
	cfg.Anthropic.Model = "claude-sonnet-4-5"
	cfg.Anthropic.MaxTokens = 800
	cfg.Anthropic.InputCostPer1K = 0.003
	cfg.Anthropic.OutputCostPer1K = 0.015
	cfg.Assistant.Timezone = "Asia/Seoul"
	cfg.Assistant.RateLimitPerMin = 20
	cfg.Assistant.LLMTimeoutMS = 16000
	cfg.Assistant.HistoryWindowCloud = 8
	cfg.Assistant.HistoryWindowLocal = 20
	cfg.Assistant.NewsDefaultCount = 5
	cfg.Assistant.DailyCostCapUSD = 15
	cfg.Assistant.DailyTokenCap = 250000
	cfg.Assistant.MaxContextTokens = 12000
	cfg.LocalHeavy.CharsThreshold = 520
	cfg.LocalHeavy.TokenThreshold = 2200
	cfg.LocalHeavy.EnableBots = defaultHeavyBots()
	return cfg
}

func defaultHeavyBots() []persona.ID {
	return []persona.ID{persona.Tyler, persona.Zhuge, persona.Jensen, persona.Hemingway}
}

// Load reads the config file (writing defaults on first run), then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	applyEnv(cfg, os.Getenv)
	cfg.finalize()
	return cfg, nil
}

// FromEnv builds a configuration from defaults and the given lookup only.
func FromEnv(getenv func(string) string) *Config {
	cfg := Defaults()
	applyEnv(cfg, getenv)
	cfg.finalize()
	return cfg
}

func (c *Config) finalize() {
	if c.Bots == nil {
		c.Bots = map[persona.ID]BotConfig{}
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "mayhem.db")
	}
	c.OpenAI.Candidates = modelCandidates(c.OpenAI.Model, c.OpenAI.Candidates)
	c.Telegram.AllowedChatIDs = expandChatIDs(c.Telegram.AllowedChatIDs)

	c.allowedUsers = make(map[int64]bool, len(c.Telegram.AllowedUserIDs))
	for _, id := range c.Telegram.AllowedUserIDs {
		if id > 0 {
			c.allowedUsers[id] = true
		}
	}
	c.allowedChats = make(map[int64]bool, len(c.Telegram.AllowedChatIDs))
	for _, id := range c.Telegram.AllowedChatIDs {
		c.allowedChats[id] = true
	}

	var heavy []persona.ID
	for _, id := range c.LocalHeavy.EnableBots {
		if canon, ok := persona.Canonical(string(id)); ok && !containsID(heavy, canon) {
			heavy = append(heavy, canon)
		}
	}
	if len(heavy) == 0 {
		heavy = defaultHeavyBots()
	}
	c.LocalHeavy.EnableBots = heavy
}

// modelCandidates puts the default model first and removes duplicates.
func modelCandidates(model string, extra []string) []string {
	out := make([]string, 0, len(extra)+1)
	seen := make(map[string]bool)
	for _, m := range append([]string{model}, extra...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// expandChatIDs drops zero ids and admits the "-100" supergroup form of
// plain negative group ids.
func expandChatIDs(ids []int64) []int64 {
	var out []int64
	seen := make(map[int64]bool)
	add := func(id int64) {
		if id != 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		add(id)
		if id < 0 {
			digits := strconv.FormatInt(-id, 10)
			if !strings.HasPrefix(digits, "100") {
				if migrated, err := strconv.ParseInt("-100"+digits, 10, 64); err == nil {
					add(migrated)
				}
			}
		}
	}
	return out
}

func containsID(ids []persona.ID, id persona.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Bot returns the credentials for a persona.
func (c *Config) Bot(id persona.ID) BotConfig {
	return c.Bots[id]
}

// Location resolves the assistant timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Assistant.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Save writes the configuration atomically.
func Save(path string, cfg *Config) error {
	return writeDefaults(path, cfg)
}

func writeDefaults(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts the config to a generic nested map via JSON.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns the flattened config, optionally with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// GetValue reads one dot-separated key from the config file.
func GetValue(path, key string) (any, error) {
	key, err := CanonicalKey(key)
	if err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dot-separated key into the config file. Values that
// parse as JSON (numbers, booleans, arrays) are stored typed.
func SetValue(path, key, value string) error {
	key, err := CanonicalKey(key)
	if err != nil {
		return err
	}
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	var typed any
	if err := json.Unmarshal([]byte(value), &typed); err != nil {
		typed = value
	}
	flat[key] = typed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}
