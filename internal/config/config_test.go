package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_WritesDefaultsOnFirstRun(t *testing.T) {
	path := tempConfigPath(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults file: %v", err)
	}
	if cfg.Assistant.RateLimitPerMin != 20 {
		t.Errorf("expected default rate limit 20, got %d", cfg.Assistant.RateLimitPerMin)
	}
	if cfg.DBPath != filepath.Join(cfg.DataDir, "mayhem.db") {
		t.Errorf("unexpected db path %q", cfg.DBPath)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := Defaults()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.MaxConcurrent = 6
	original.OpenAI.Model = "gpt-test"
	original.Assistant.Timezone = "UTC"
	original.Bots[persona.Zhuge] = BotConfig{Token: "lens-token", Secret: "lens-secret", Username: "lens_bot"}

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.LogLevel != "debug" || loaded.MaxConcurrent != 6 {
		t.Errorf("scalar mismatch: %+v", loaded)
	}
	if loaded.Assistant.Timezone != "UTC" {
		t.Errorf("timezone mismatch: %v", loaded.Assistant.Timezone)
	}
	if loaded.Bot(persona.Zhuge).Username != "lens_bot" {
		t.Errorf("bot config not preserved: %+v", loaded.Bot(persona.Zhuge))
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	cfg := &Config{LogLevel: "info"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv(envMap(nil))
	if cfg.OpenAI.Model != "gpt-5.2" || cfg.Anthropic.Model != "claude-sonnet-4-5" {
		t.Errorf("unexpected models: %s %s", cfg.OpenAI.Model, cfg.Anthropic.Model)
	}
	if cfg.Assistant.LLMTimeoutMS != 16000 || cfg.Assistant.HistoryWindowCloud != 8 || cfg.Assistant.HistoryWindowLocal != 20 {
		t.Errorf("unexpected assistant defaults: %+v", cfg.Assistant)
	}
	if !reflect.DeepEqual(cfg.OpenAI.Candidates, []string{"gpt-5.2"}) {
		t.Errorf("unexpected candidates: %v", cfg.OpenAI.Candidates)
	}
	if len(cfg.LocalHeavy.EnableBots) != 4 {
		t.Errorf("expected 4 heavy bots, got %v", cfg.LocalHeavy.EnableBots)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		"TELEGRAM_BOT_TOKEN":                "legacy-token",
		"TELEGRAM_WEBHOOK_SECRET":           "legacy-secret",
		"TELEGRAM_BOT_LENS_TOKEN":           "lens-token",
		"TELEGRAM_BOT_LENS_USERNAME":        "@lens_bot",
		"TELEGRAM_BOT_SENTRY_TOKEN":         "sentry-legacy",
		"TELEGRAM_BOT_CORLEONE_TOKEN":       "corleone-token",
		"OPENAI_MODEL_CANDIDATES":           "gpt-4.1, gpt-5.2, gpt-4.1",
		"ASSISTANT_RATE_LIMIT_PER_MIN":      "-3",
		"ASSISTANT_LLM_TIMEOUT_MS":          "abc",
		"ASSISTANT_DAILY_COST_CAP_USD":      "2.5",
		"ASSISTANT_LOCAL_HEAVY_ENABLE_BOTS": "alfred_sentry, bogus",
		"CRON_SECRET":                       "cron",
	}))

	if cfg.Bot(persona.Tyler).Token != "legacy-token" || cfg.Bot(persona.Tyler).Secret != "legacy-secret" {
		t.Errorf("legacy keys not applied: %+v", cfg.Bot(persona.Tyler))
	}
	if cfg.Bot(persona.Zhuge).Username != "lens_bot" {
		t.Errorf("username should drop @: %q", cfg.Bot(persona.Zhuge).Username)
	}
	if cfg.Bot(persona.Corleone).Token != "corleone-token" {
		t.Errorf("primary key should win over legacy: %q", cfg.Bot(persona.Corleone).Token)
	}
	if !reflect.DeepEqual(cfg.OpenAI.Candidates, []string{"gpt-5.2", "gpt-4.1"}) {
		t.Errorf("unexpected candidates: %v", cfg.OpenAI.Candidates)
	}
	if cfg.Assistant.RateLimitPerMin != 20 || cfg.Assistant.LLMTimeoutMS != 16000 {
		t.Errorf("invalid numbers should keep defaults: %+v", cfg.Assistant)
	}
	if cfg.Assistant.DailyCostCapUSD != 2.5 {
		t.Errorf("expected cost cap 2.5, got %v", cfg.Assistant.DailyCostCapUSD)
	}
	if !reflect.DeepEqual(cfg.LocalHeavy.EnableBots, []persona.ID{persona.Corleone}) {
		t.Errorf("unexpected heavy bots: %v", cfg.LocalHeavy.EnableBots)
	}
	if cfg.WorkerSecret() != "cron" {
		t.Errorf("worker secret should fall back to cron secret, got %q", cfg.WorkerSecret())
	}
}

func TestAllowedChatIDs_MigratedVariant(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		"TELEGRAM_ALLOWED_CHAT_IDS": "-12345, 0, -1009999, nope",
	}))
	want := []int64{-12345, -10012345, -1009999}
	if !reflect.DeepEqual(cfg.Telegram.AllowedChatIDs, want) {
		t.Errorf("expected %v, got %v", want, cfg.Telegram.AllowedChatIDs)
	}
	if cfg.MayhemChatID() != -12345 {
		t.Errorf("expected first group chat, got %d", cfg.MayhemChatID())
	}
}

func TestIsAllowlisted(t *testing.T) {
	none := FromEnv(envMap(nil))
	if none.IsAllowlisted(1, 1) {
		t.Error("no allowlist must block everyone")
	}

	users := FromEnv(envMap(map[string]string{"TELEGRAM_ALLOWED_USER_IDS": "7,-1,8"}))
	if !users.IsAllowlisted(7, 999) {
		t.Error("listed user should pass with empty chat list")
	}
	if users.IsAllowlisted(9, 999) {
		t.Error("unlisted user should fail")
	}
	if users.IsAllowlisted(7, 0) {
		t.Error("zero chat should fail")
	}

	both := FromEnv(envMap(map[string]string{
		"TELEGRAM_ALLOWED_USER_IDS": "7",
		"TELEGRAM_ALLOWED_CHAT_IDS": "-100555",
	}))
	if !both.IsAllowlisted(7, -100555) || both.IsAllowlisted(7, 7) {
		t.Error("both dimensions must pass")
	}
}

func TestMissingKeys(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		"TELEGRAM_BOT_COS_TOKEN":  "t",
		"TELEGRAM_BOT_COS_SECRET": "s",
		"OPENAI_API_KEY":          "k",
	}))
	got := cfg.MissingKeys(persona.Tyler)
	want := []string{"ANTHROPIC_API_KEY", allowlistKey}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if cfg.Configured(persona.Tyler) {
		t.Error("expected not configured")
	}
	all := cfg.MissingKeys()
	if all[0] != "TELEGRAM_BOT_LENS_TOKEN" {
		t.Errorf("expected lens token first, got %v", all)
	}
}

func TestWebhookSecretValid(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{"TELEGRAM_BOT_BOLT_SECRET": "abc"}))
	if !cfg.WebhookSecretValid("abc", persona.Jensen) {
		t.Error("expected matching secret to pass")
	}
	if cfg.WebhookSecretValid("", persona.Tyler) {
		t.Error("persona without secret must fail")
	}
	if cfg.WebhookSecretValid("abd", persona.Jensen) {
		t.Error("mismatch must fail")
	}
}

func TestAuthorization(t *testing.T) {
	open := FromEnv(envMap(nil))
	if !open.CronAuthorized("") {
		t.Error("cron auth passes without a secret")
	}
	if open.WorkerAuthorized("Bearer ") {
		t.Error("worker auth fails closed without a secret")
	}

	cfg := FromEnv(envMap(map[string]string{"CRON_SECRET": "c", "LOCAL_WORKER_SECRET": "w"}))
	if cfg.CronAuthorized("Bearer w") || !cfg.CronAuthorized("Bearer c") {
		t.Error("cron auth uses the cron secret")
	}
	if !cfg.WorkerAuthorized("Bearer w") || cfg.WorkerAuthorized("Bearer c") {
		t.Error("worker auth prefers the worker secret")
	}
}

func TestMaskValue(t *testing.T) {
	tests := map[string]string{
		"":                  "",
		"short":             "***",
		"12345678":          "***",
		"sk-abcdefghijklmn": "sk-a...klmn",
	}
	for in, want := range tests {
		if got := MaskValue(in); got != want {
			t.Errorf("MaskValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSummarize(t *testing.T) {
	cfg := FromEnv(envMap(map[string]string{
		"TELEGRAM_BOT_COS_TOKEN":    "123456789:abcdefghijklmnop",
		"OPENAI_API_KEY":            "sk-1234567890",
		"TELEGRAM_ALLOWED_USER_IDS": "1,2",
		"LOCAL_WORKER_SECRET":       "w",
	}))
	s := cfg.Summarize()
	if s.Bots[persona.Tyler].Token != "1234...mnop" {
		t.Errorf("token not masked: %q", s.Bots[persona.Tyler].Token)
	}
	if s.AllowedUsers != 2 || !s.WorkerAuthConfigured {
		t.Errorf("unexpected summary: %+v", s)
	}
	if len(s.Bots) != 5 {
		t.Errorf("expected every persona in summary, got %d", len(s.Bots))
	}
}

func TestToMap(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/test", LogLevel: "debug"}
	cfg.OpenAI.Model = "gpt-4"
	cfg.OpenAI.MaxTokens = 2000

	m, err := ToMap(cfg)
	if err != nil {
		t.Fatalf("ToMap failed: %v", err)
	}
	if m["data_dir"] != "/tmp/test" {
		t.Errorf("expected data_dir=/tmp/test, got %v", m["data_dir"])
	}
	openai, ok := m["openai"].(map[string]any)
	if !ok {
		t.Fatalf("expected openai to be map, got %T", m["openai"])
	}
	if openai["model"] != "gpt-4" {
		t.Errorf("expected openai.model=gpt-4, got %v", openai["model"])
	}
	// JSON numbers are float64
	if openai["max_tokens"] != float64(2000) {
		t.Errorf("expected openai.max_tokens=2000, got %v", openai["max_tokens"])
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := &Config{LogLevel: "info"}
	cfg.OpenAI.APIKey = "sk-secret-key-1234"
	cfg.Bots = map[persona.ID]BotConfig{persona.Tyler: {Token: "bot-token-abcd"}}

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["openai.api_key"] != "***1234" {
		t.Errorf("expected masked openai.api_key, got %v", flat["openai.api_key"])
	}
	if flat["bots.tyler_durden.token"] != "***abcd" {
		t.Errorf("expected masked bot token, got %v", flat["bots.tyler_durden.token"])
	}
	if flat["log_level"] != "info" {
		t.Errorf("expected log_level=info, got %v", flat["log_level"])
	}

	raw, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if raw["openai.api_key"] != "sk-secret-key-1234" {
		t.Errorf("expected unmasked key, got %v", raw["openai.api_key"])
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{LogLevel: "info"})

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if err.Error() != "unknown config key: nonexistent.key" {
		t.Errorf("unexpected error %q", err.Error())
	}
}

func TestSetValue_Typed(t *testing.T) {
	path := tempConfigPath(t)
	cfg := &Config{LogLevel: "info", MaxConcurrent: 2}
	cfg.OpenAI.Model = "gpt-5.2"
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "max_concurrent", "16"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := SetValue(path, "assistant.timezone", "UTC"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	v, err := GetValue(path, "max_concurrent")
	if err != nil {
		t.Fatal(err)
	}
	if v != float64(16) {
		t.Errorf("expected 16, got %v (%T)", v, v)
	}
	v, err = GetValue(path, "assistant.timezone")
	if err != nil {
		t.Fatal(err)
	}
	if v != "UTC" {
		t.Errorf("expected UTC, got %v", v)
	}
	v, err = GetValue(path, "openai.model")
	if err != nil {
		t.Fatal(err)
	}
	if v != "gpt-5.2" {
		t.Errorf("expected preserved model, got %v", v)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}

func TestHolder_Reload(t *testing.T) {
	path := tempConfigPath(t)
	cfg := Defaults()
	cfg.LogLevel = "info"
	writeTestConfig(t, path, cfg)

	h := NewHolder(path, cfg)
	if err := SetValue(path, "log_level", "debug"); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if h.Get().LogLevel != "debug" {
		t.Errorf("expected reloaded log level, got %q", h.Get().LogLevel)
	}
}

func TestSetValue_BotAlias(t *testing.T) {
	path := tempConfigPath(t)
	cfg := &Config{LogLevel: "info"}
	cfg.Bots = map[persona.ID]BotConfig{persona.Tyler: {Token: "tyler-token"}}
	writeTestConfig(t, path, cfg)

	if err := SetValue(path, "bots.alfred_sentry.token", "sentry-token"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "bots.michael_corleone.token")
	if err != nil {
		t.Fatal(err)
	}
	if v != "sentry-token" {
		t.Errorf("expected alias to write the canonical entry, got %v", v)
	}
	if v, _ := GetValue(path, "bots.tyler_durden.token"); v != "tyler-token" {
		t.Errorf("expected other bots untouched, got %v", v)
	}
	if err := SetValue(path, "bots.nobody.token", "x"); err == nil {
		t.Error("expected error for unknown persona")
	}
}
