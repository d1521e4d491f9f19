package config

import (
	"strconv"
	"strings"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

// applyEnv overlays environment values onto cfg. Unparsable or
// non-positive numbers keep the current value.
func applyEnv(cfg *Config, getenv func(string) string) {
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := env(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&cfg.DataDir, "MAYHEM_DATA_DIR")
	setString(&cfg.DBPath, "MAYHEM_DB_PATH")
	setString(&cfg.LogLevel, "MAYHEM_LOG_LEVEL")
	setString(&cfg.HTTP.Listen, "MAYHEM_HTTP_LISTEN")
	setString(&cfg.HTTP.PublicURL, "APP_BASE_URL")

	for _, id := range persona.All() {
		p := persona.MustLookup(id)
		bot := cfg.Bots[id]
		keys := p.Keys()
		setString(&bot.Token, keys.Token, p.Legacy.Token)
		setString(&bot.Secret, keys.Secret, p.Legacy.Secret)
		setString(&bot.Username, keys.Username, p.Legacy.Username)
		bot.Username = strings.TrimPrefix(bot.Username, "@")
		if cfg.Bots == nil {
			cfg.Bots = map[persona.ID]BotConfig{}
		}
		if bot != (BotConfig{}) {
			cfg.Bots[id] = bot
		}
	}

	if v := env("TELEGRAM_ALLOWED_USER_IDS"); v != "" {
		cfg.Telegram.AllowedUserIDs = parseIDList(v, func(id int64) bool { return id > 0 })
	}
	if v := env("TELEGRAM_ALLOWED_CHAT_IDS"); v != "" {
		cfg.Telegram.AllowedChatIDs = parseIDList(v, func(id int64) bool { return id != 0 })
	}
	if id, ok := parseChatID(env("TELEGRAM_MAYHEM_CHAT_ID")); ok {
		cfg.Telegram.MayhemChatID = id
	}
	if id, ok := parseChatID(env("TELEGRAM_TYLER_DM_CHAT_ID")); ok {
		cfg.Telegram.TylerDMChatID = id
	}

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.Model, "OPENAI_MODEL")
	if v := env("OPENAI_MODEL_CANDIDATES"); v != "" {
		cfg.OpenAI.Candidates = parseStringList(v)
	}
	setPositiveFloat(&cfg.OpenAI.InputCostPer1K, env("OPENAI_INPUT_COST_PER_1K"))
	setPositiveFloat(&cfg.OpenAI.OutputCostPer1K, env("OPENAI_OUTPUT_COST_PER_1K"))

	setString(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Anthropic.BaseURL, "ANTHROPIC_BASE_URL")
	setString(&cfg.Anthropic.Model, "ANTHROPIC_MODEL")
	setPositiveFloat(&cfg.Anthropic.InputCostPer1K, env("ANTHROPIC_INPUT_COST_PER_1K"))
	setPositiveFloat(&cfg.Anthropic.OutputCostPer1K, env("ANTHROPIC_OUTPUT_COST_PER_1K"))

	setString(&cfg.Assistant.Timezone, "ASSISTANT_TIMEZONE")
	setPositiveInt(&cfg.Assistant.RateLimitPerMin, env("ASSISTANT_RATE_LIMIT_PER_MIN"))
	setPositiveInt(&cfg.Assistant.LLMTimeoutMS, env("ASSISTANT_LLM_TIMEOUT_MS"))
	setPositiveInt(&cfg.Assistant.HistoryWindowCloud, env("ASSISTANT_HISTORY_WINDOW_CLOUD"))
	setPositiveInt(&cfg.Assistant.HistoryWindowLocal, env("ASSISTANT_HISTORY_WINDOW_LOCAL"))
	setPositiveInt(&cfg.Assistant.NewsDefaultCount, env("ASSISTANT_NEWS_DEFAULT_COUNT"))
	setPositiveFloat(&cfg.Assistant.DailyCostCapUSD, env("ASSISTANT_DAILY_COST_CAP_USD"))
	setPositiveInt(&cfg.Assistant.DailyTokenCap, env("ASSISTANT_DAILY_TOKEN_CAP"))

	setPositiveInt(&cfg.LocalHeavy.CharsThreshold, env("ASSISTANT_LOCAL_HEAVY_CHARS_THRESHOLD"))
	setPositiveInt(&cfg.LocalHeavy.TokenThreshold, env("ASSISTANT_LOCAL_HEAVY_TOKEN_THRESHOLD"))
	if v := env("ASSISTANT_LOCAL_HEAVY_ENABLE_BOTS"); v != "" {
		var ids []persona.ID
		for _, raw := range parseStringList(v) {
			if id, ok := persona.Canonical(raw); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			cfg.LocalHeavy.EnableBots = ids
		}
	}

	setString(&cfg.Worker.CronSecret, "CRON_SECRET")
	setString(&cfg.Worker.Secret, "LOCAL_WORKER_SECRET")
}

func parseIDList(raw string, keep func(int64) bool) []int64 {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || !keep(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func parseChatID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func parseStringList(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		v := strings.TrimSpace(part)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func setPositiveInt(dst *int, raw string) {
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		*dst = n
	}
}

func setPositiveFloat(dst *float64, raw string) {
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		*dst = f
	}
}
