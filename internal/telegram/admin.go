package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

// WebhookPath is the route a persona's webhook is registered under.
func WebhookPath(id persona.ID) string {
	return "/telegram/webhook/" + string(id)
}

// WebhookURL joins the public base URL with the persona's webhook path.
func WebhookURL(publicURL string, id persona.ID) string {
	return strings.TrimRight(publicURL, "/") + WebhookPath(id)
}

// SetWebhook registers url for the persona's bot, with the configured
// secret token and message updates only.
func (s *Sender) SetWebhook(ctx context.Context, id persona.ID, url string) error {
	bot, err := s.bot(id)
	if err != nil {
		return err
	}
	allowed, _ := json.Marshal([]string{"message"})
	params := tgbotapi.Params{
		"url":             url,
		"allowed_updates": string(allowed),
	}
	if secret := s.cfg.Get().Bot(id).Secret; secret != "" {
		params["secret_token"] = secret
	}
	if _, err := bot.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook for %s: %w", id, classify(err))
	}
	return nil
}

// DeleteWebhook removes the persona's webhook, optionally dropping updates
// Telegram still holds.
func (s *Sender) DeleteWebhook(ctx context.Context, id persona.ID, dropPending bool) error {
	bot, err := s.bot(id)
	if err != nil {
		return err
	}
	params := tgbotapi.Params{}
	if dropPending {
		params["drop_pending_updates"] = "true"
	}
	if _, err := bot.api.MakeRequest("deleteWebhook", params); err != nil {
		return fmt.Errorf("delete webhook for %s: %w", id, classify(err))
	}
	return nil
}

// WebhookInfo returns Telegram's view of the persona's webhook.
func (s *Sender) WebhookInfo(ctx context.Context, id persona.ID) (tgbotapi.WebhookInfo, error) {
	bot, err := s.bot(id)
	if err != nil {
		return tgbotapi.WebhookInfo{}, err
	}
	info, err := bot.api.GetWebhookInfo()
	if err != nil {
		return tgbotapi.WebhookInfo{}, fmt.Errorf("webhook info for %s: %w", id, classify(err))
	}
	return info, nil
}
