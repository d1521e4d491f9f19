package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rarehotdog/pjt.mayhem/internal/config"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
)

// SourcePolling marks updates received by long polling.
const SourcePolling = "polling"

// Submitter accepts updates for asynchronous processing.
type Submitter interface {
	Submit(id persona.ID, update *tgbotapi.Update, source string) error
}

// Poller long-polls every configured persona's bot and feeds the updates
// to a Submitter. It is meant for development, when no public webhook URL
// exists.
type Poller struct {
	cfg    *config.Holder
	sink   Submitter
	client tgbotapi.HTTPClient
}

// NewPoller creates a Poller.
func NewPoller(cfg *config.Holder, sink Submitter, client tgbotapi.HTTPClient) *Poller {
	return &Poller{cfg: cfg, sink: sink, client: client}
}

// Run starts one polling loop per persona with a token and blocks until
// ctx ends. The webhook of each bot is removed first; the Bot API refuses
// getUpdates while one is set.
func (p *Poller) Run(ctx context.Context) error {
	cfg := p.cfg.Get()
	var wg sync.WaitGroup
	started := 0
	for _, id := range persona.All() {
		token := cfg.Bot(id).Token
		if token == "" {
			continue
		}
		api, err := tgbotapi.NewBotAPIWithClient(token, endpoint(cfg), p.client)
		if err != nil {
			return fmt.Errorf("create bot %s: %w", id, classify(err))
		}
		if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			slog.Warn("delete webhook before polling failed", "persona", string(id), "error", classify(err))
		}
		started++
		wg.Add(1)
		go func(id persona.ID, api *tgbotapi.BotAPI) {
			defer wg.Done()
			p.poll(ctx, id, api)
		}(id, api)
	}
	if started == 0 {
		return fmt.Errorf("no bot tokens configured")
	}
	slog.Info("telegram polling started", "bots", started)
	wg.Wait()
	return nil
}

func (p *Poller) poll(ctx context.Context, id persona.ID, api *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := api.GetUpdatesChan(u)
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := p.sink.Submit(id, &update, SourcePolling); err != nil {
				slog.Error("submit polled update failed",
					"persona", string(id),
					"update_id", update.UpdateID,
					"error", err,
				)
			}
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return
		}
	}
}
