package config

import (
	"time"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

const allowlistKey = "TELEGRAM_ALLOWED_USER_IDS or TELEGRAM_ALLOWED_CHAT_IDS"

// MissingKeys lists the environment keys required to serve the given
// personas. With no ids every persona is checked.
func (c *Config) MissingKeys(ids ...persona.ID) []string {
	if len(ids) == 0 {
		ids = persona.All()
	}
	var missing []string
	for _, id := range ids {
		p := persona.MustLookup(id)
		bot := c.Bots[id]
		keys := p.Keys()
		if bot.Token == "" {
			missing = append(missing, keys.Token)
		}
		if bot.Secret == "" {
			missing = append(missing, keys.Secret)
		}
	}
	if c.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.Anthropic.APIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if len(c.allowedUsers) == 0 && len(c.allowedChats) == 0 {
		missing = append(missing, allowlistKey)
	}
	return missing
}

// Configured reports whether nothing is missing for the given personas.
func (c *Config) Configured(ids ...persona.ID) bool {
	return len(c.MissingKeys(ids...)) == 0
}

// IsAllowlisted requires a configured allowlist; each dimension passes when
// its list is empty or contains the id.
func (c *Config) IsAllowlisted(userID, chatID int64) bool {
	if userID == 0 || chatID == 0 {
		return false
	}
	if len(c.allowedUsers) == 0 && len(c.allowedChats) == 0 {
		return false
	}
	userOK := len(c.allowedUsers) == 0 || c.allowedUsers[userID]
	chatOK := len(c.allowedChats) == 0 || c.allowedChats[chatID]
	return userOK && chatOK
}

// ChatAllowed reports whether chatID is explicitly allow-listed.
func (c *Config) ChatAllowed(chatID int64) bool {
	return c.allowedChats[chatID]
}

// MayhemChatID returns the configured group chat, else the first
// allow-listed group chat.
func (c *Config) MayhemChatID() int64 {
	if c.Telegram.MayhemChatID != 0 {
		return c.Telegram.MayhemChatID
	}
	for _, id := range c.Telegram.AllowedChatIDs {
		if id < 0 {
			return id
		}
	}
	return 0
}

// WebhookSecretValid compares the received secret header with the
// persona's configured secret.
func (c *Config) WebhookSecretValid(received string, id persona.ID) bool {
	secret := c.Bots[id].Secret
	return secret != "" && received == secret
}

// WorkerSecret is the shared secret for the local worker surface.
func (c *Config) WorkerSecret() string {
	if c.Worker.Secret != "" {
		return c.Worker.Secret
	}
	return c.Worker.CronSecret
}

// WorkerAuthorized fails closed when no worker secret exists.
func (c *Config) WorkerAuthorized(authorization string) bool {
	secret := c.WorkerSecret()
	return secret != "" && authorization == "Bearer "+secret
}

// CronAuthorized passes when no cron secret is configured.
func (c *Config) CronAuthorized(authorization string) bool {
	if c.Worker.CronSecret == "" {
		return true
	}
	return authorization == "Bearer "+c.Worker.CronSecret
}

// LLMTimeout is the per-call provider timeout.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.Assistant.LLMTimeoutMS) * time.Millisecond
}

// MaskValue hides all but the edges of a secret.
func MaskValue(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 8 {
		return "***"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

type BotSummary struct {
	Token    string `json:"token"`
	Secret   string `json:"secret"`
	Username string `json:"username,omitempty"`
}

type Summary struct {
	Bots                 map[persona.ID]BotSummary `json:"bots"`
	OpenAIModel          string                    `json:"openai_model"`
	OpenAICandidates     []string                  `json:"openai_candidates"`
	AnthropicModel       string                    `json:"anthropic_model"`
	OpenAIKey            string                    `json:"openai_key"`
	AnthropicKey         string                    `json:"anthropic_key"`
	Timezone             string                    `json:"timezone"`
	RateLimitPerMin      int                       `json:"rate_limit_per_min"`
	LLMTimeoutMS         int                       `json:"llm_timeout_ms"`
	HeavyCharsThreshold  int                       `json:"local_heavy_chars_threshold"`
	HeavyTokenThreshold  int                       `json:"local_heavy_token_threshold"`
	HeavyEnabledBots     []persona.ID              `json:"local_heavy_enabled_bots"`
	AllowedUsers         int                       `json:"allowed_user_count"`
	AllowedChats         int                       `json:"allowed_chat_count"`
	MayhemChatID         int64                     `json:"mayhem_chat_id,omitempty"`
	TylerDMChatID        int64                     `json:"tyler_dm_chat_id,omitempty"`
	DailyCostCapUSD      float64                   `json:"daily_cost_cap_usd"`
	DailyTokenCap        int                       `json:"daily_token_cap"`
	WorkerAuthConfigured bool                      `json:"worker_auth_configured"`
}

// Summarize returns the masked configuration report.
func (c *Config) Summarize() Summary {
	s := Summary{
		Bots:                 make(map[persona.ID]BotSummary, len(c.Bots)),
		OpenAIModel:          c.OpenAI.Model,
		OpenAICandidates:     c.OpenAI.Candidates,
		AnthropicModel:       c.Anthropic.Model,
		OpenAIKey:            MaskValue(c.OpenAI.APIKey),
		AnthropicKey:         MaskValue(c.Anthropic.APIKey),
		Timezone:             c.Assistant.Timezone,
		RateLimitPerMin:      c.Assistant.RateLimitPerMin,
		LLMTimeoutMS:         c.Assistant.LLMTimeoutMS,
		HeavyCharsThreshold:  c.LocalHeavy.CharsThreshold,
		HeavyTokenThreshold:  c.LocalHeavy.TokenThreshold,
		HeavyEnabledBots:     c.LocalHeavy.EnableBots,
		AllowedUsers:         len(c.allowedUsers),
		AllowedChats:         len(c.allowedChats),
		MayhemChatID:         c.MayhemChatID(),
		TylerDMChatID:        c.Telegram.TylerDMChatID,
		DailyCostCapUSD:      c.Assistant.DailyCostCapUSD,
		DailyTokenCap:        c.Assistant.DailyTokenCap,
		WorkerAuthConfigured: c.WorkerSecret() != "",
	}
	for _, id := range persona.All() {
		bot := c.Bots[id]
		s.Bots[id] = BotSummary{
			Token:    MaskValue(bot.Token),
			Secret:   MaskValue(bot.Secret),
			Username: bot.Username,
		}
	}
	return s
}
