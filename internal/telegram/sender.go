// Package telegram talks to the Bot API on behalf of every persona:
// outbound sends, long polling and webhook registration.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/rarehotdog/pjt.mayhem/internal/config"
	"github.com/rarehotdog/pjt.mayhem/internal/gateway"
	"github.com/rarehotdog/pjt.mayhem/internal/persona"
	"github.com/rarehotdog/pjt.mayhem/internal/redact"
)

const maxTelegramMessage = 4096

// ErrNoToken is returned when a persona has no bot token configured.
var ErrNoToken = errors.New("telegram bot token is not configured")

// Outbound is one message to deliver.
type Outbound struct {
	Persona persona.ID
	ChatID  int64
	Text    string
	ReplyTo int
	Silent  bool
}

// Messenger is the outbound contract used by the assistant and schedulers.
type Messenger interface {
	Send(ctx context.Context, msg Outbound) (int, error)
}

// APIError wraps a Bot API failure with its classification.
type APIError struct {
	Code        int
	Description string
	MigrateTo   int64
	RetryAfter  int
	err         error
}

func (e *APIError) Error() string {
	if e.Code == 0 {
		return "telegram: " + redact.String(e.err.Error())
	}
	return fmt.Sprintf("telegram %d: %s", e.Code, e.Description)
}

func (e *APIError) Unwrap() error { return e.err }

// Transient reports whether a retry may succeed.
func (e *APIError) Transient() bool {
	return e.Code == 0 || e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type botEntry struct {
	token   string
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

// Sender delivers messages through each persona's bot.
type Sender struct {
	cfg    *config.Holder
	client tgbotapi.HTTPClient
	retry  *gateway.RetryPolicy

	mu   sync.Mutex
	bots map[persona.ID]*botEntry
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithHTTPClient overrides the HTTP client used for Bot API calls.
func WithHTTPClient(c tgbotapi.HTTPClient) SenderOption {
	return func(s *Sender) { s.client = c }
}

// WithRetryPolicy overrides the retry policy for transient failures.
func WithRetryPolicy(p *gateway.RetryPolicy) SenderOption {
	return func(s *Sender) { s.retry = p }
}

// NewSender creates a Sender reading credentials from cfg on each call.
func NewSender(cfg *config.Holder, opts ...SenderOption) *Sender {
	s := &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		retry:  gateway.DefaultRetryPolicy(),
		bots:   make(map[persona.ID]*botEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bot returns the client for id, rebuilding it when the token changed.
func (s *Sender) bot(id persona.ID) (*botEntry, error) {
	cfg := s.cfg.Get()
	token := cfg.Bot(id).Token
	if token == "" {
		return nil, fmt.Errorf("%s: %w", id, ErrNoToken)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.bots[id]; ok && e.token == token {
		return e, nil
	}

	api := &tgbotapi.BotAPI{Token: token, Client: s.client, Buffer: 100}
	api.SetAPIEndpoint(endpoint(cfg))

	perSec := cfg.Telegram.SendRatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	e := &botEntry{
		token:   token,
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSec), 3),
	}
	s.bots[id] = e
	return e, nil
}

func endpoint(cfg *config.Config) string {
	if cfg.Telegram.APIEndpoint != "" {
		return cfg.Telegram.APIEndpoint
	}
	return tgbotapi.APIEndpoint
}

// Send delivers msg, splitting long text. It returns the id of the first
// delivered message. A chat that was migrated to a supergroup is retried
// once against the new id.
func (s *Sender) Send(ctx context.Context, msg Outbound) (int, error) {
	bot, err := s.bot(msg.Persona)
	if err != nil {
		return 0, err
	}

	chatID := msg.ChatID
	migrated := false
	first := 0
	for i, part := range SplitMessage(msg.Text) {
		cfg := tgbotapi.NewMessage(chatID, part)
		cfg.DisableNotification = msg.Silent
		cfg.DisableWebPagePreview = true
		if i == 0 && msg.ReplyTo != 0 {
			cfg.ReplyToMessageID = msg.ReplyTo
			cfg.AllowSendingWithoutReply = true
		}

		sent, err := s.sendOne(ctx, bot, cfg)
		var apiErr *APIError
		if err != nil && !migrated && errors.As(err, &apiErr) && apiErr.MigrateTo != 0 {
			slog.Info("telegram chat migrated",
				"persona", string(msg.Persona),
				"from_chat_id", chatID,
				"to_chat_id", apiErr.MigrateTo,
			)
			migrated = true
			chatID = apiErr.MigrateTo
			cfg.ChatID = chatID
			sent, err = s.sendOne(ctx, bot, cfg)
		}
		if err != nil {
			return first, fmt.Errorf("send message to %d: %w", chatID, err)
		}
		if i == 0 {
			first = sent
		}
	}
	return first, nil
}

func (s *Sender) sendOne(ctx context.Context, bot *botEntry, cfg tgbotapi.MessageConfig) (int, error) {
	var id int
	err := s.retry.Do(ctx, func() error {
		if err := bot.limiter.Wait(ctx); err != nil {
			return err
		}
		m, err := bot.api.Send(cfg)
		if err != nil {
			return classify(err)
		}
		id = m.MessageID
		return nil
	})
	return id, err
}

// classify converts library errors into *APIError.
func classify(err error) error {
	var pe *tgbotapi.Error
	if errors.As(err, &pe) && pe != nil {
		return apiErrorFrom(*pe, err)
	}
	var ve tgbotapi.Error
	if errors.As(err, &ve) {
		return apiErrorFrom(ve, err)
	}
	return &APIError{err: err}
}

func apiErrorFrom(e tgbotapi.Error, cause error) *APIError {
	code := e.Code
	if code == 0 {
		code = http.StatusBadRequest
	}
	return &APIError{
		Code:        code,
		Description: e.Message,
		MigrateTo:   e.ResponseParameters.MigrateToChatID,
		RetryAfter:  e.ResponseParameters.RetryAfter,
		err:         cause,
	}
}

// SplitMessage cuts text into chunks of at most 4096 runes, preferring a
// newline in the second half of a chunk as the cut point.
func SplitMessage(text string) []string {
	if utf8.RuneCountInString(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	runes := []rune(text)
	for len(runes) > 0 {
		end := maxTelegramMessage
		if end >= len(runes) {
			parts = append(parts, string(runes))
			break
		}
		if nl := lastNewline(runes[:end]); nl >= end/2 {
			end = nl + 1
		}
		parts = append(parts, strings.TrimRight(string(runes[:end]), "\n"))
		runes = runes[end:]
	}
	return parts
}

func lastNewline(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
