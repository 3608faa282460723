package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

const (
	discordGreen = 0x00FF00
	discordRed   = 0xFF0000

	notifyTimeout = 10 * time.Second
)

type NotifierConfig struct {
	DiscordWebhookURL string
	TelegramBotToken  string
	TelegramChatID    string
	// TelegramAPIURL overrides the Bot API endpoint.
	TelegramAPIURL string
	// RatePerSec caps outgoing messages across both sinks.
	RatePerSec int
}

type notificationService struct {
	discordURL string
	bot        *tele.Bot
	chat       tele.Recipient
	client     *http.Client
	limiter    *rate.Limiter
}

// chatRecipient addresses a chat by numeric id or @username.
type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

// NewNotificationService builds a best-effort notifier. Sinks whose settings are
// missing are skipped, so a zero config yields a notifier that only logs.
func NewNotificationService(cfg NotifierConfig) Notifier {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	s := &notificationService{
		discordURL: cfg.DiscordWebhookURL,
		client:     &http.Client{Timeout: notifyTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}

	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		bot, err := tele.NewBot(tele.Settings{
			URL:     cfg.TelegramAPIURL,
			Token:   cfg.TelegramBotToken,
			Client:  s.client,
			Offline: true,
		})
		if err != nil {
			log.Warn().Err(err).Msg("telegram notifications disabled")
		} else {
			s.bot = bot
			s.chat = chatRecipient(cfg.TelegramChatID)
		}
	}
	return s
}

func (s *notificationService) NotifySuccess(ctx context.Context, name string, id int64, statuses models.PlatformStatuses) {
	s.send(ctx, notification{icon: "✅", name: name, id: id, verdict: "posted successfully!", statuses: statuses}, discordGreen)
}

func (s *notificationService) NotifyFailure(ctx context.Context, name string, id int64, statuses models.PlatformStatuses, reason string) {
	s.send(ctx, notification{icon: "❌", name: name, id: id, verdict: "FAILED", statuses: statuses, reason: reason}, discordRed)
}

// markup renders operator text for one sink.
type markup struct {
	bold   func(string) string
	escape func(string) string
}

var (
	telegramHTML = markup{
		bold:   func(s string) string { return "<b>" + s + "</b>" },
		escape: html.EscapeString,
	}
	discordMarkdown = markup{
		bold:   func(s string) string { return "**" + s + "**" },
		escape: strings.NewReplacer(`\`, `\\`, "*", `\*`, "_", `\_`, "~", `\~`, "`", "\\`", "|", `\|`, ">", `\>`).Replace,
	}
)

type notification struct {
	icon     string
	name     string
	id       int64
	verdict  string
	statuses models.PlatformStatuses
	reason   string
}

func (n notification) format(m markup) string {
	lines := []string{fmt.Sprintf("%s %s (#%d) %s", n.icon, m.bold(m.escape(n.name)), n.id, n.verdict)}
	if n.statuses != nil {
		for _, p := range models.Platforms {
			status := n.statuses.Get(p)
			lines = append(lines, fmt.Sprintf("  %s %s: %s", statusIcon(status), p.DisplayName(), status))
		}
	}
	if n.reason != "" {
		lines = append(lines, "\nError: "+m.escape(n.reason))
	}
	return strings.Join(lines, "\n")
}

func statusIcon(status models.PlatformStatus) string {
	switch status {
	case models.PlatformStatusSuccess:
		return "✅"
	case models.PlatformStatusSkipped:
		return "⏭"
	default:
		return "❌"
	}
}

func (s *notificationService) send(ctx context.Context, n notification, color int) {
	if s.discordURL == "" && s.bot == nil {
		log.Debug().Msg("no notification sinks configured")
		return
	}
	if s.discordURL != "" {
		if err := s.wait(ctx); err == nil {
			s.sendDiscord(ctx, n.format(discordMarkdown), color)
		}
	}
	if s.bot != nil {
		if err := s.wait(ctx); err == nil {
			s.sendTelegram(n.format(telegramHTML))
		}
	}
}

func (s *notificationService) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("notification dropped")
		return err
	}
	return nil
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (s *notificationService) sendDiscord(ctx context.Context, msg string, color int) {
	body, err := json.Marshal(discordPayload{Embeds: []discordEmbed{{Title: "crosspost", Description: msg, Color: color}}})
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode discord notification")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.discordURL, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("invalid discord webhook url")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	if err := doJSON(s.client, "Discord", req, nil); err != nil {
		log.Warn().Err(err).Msg("discord notification failed")
		return
	}
	log.Debug().Msg("discord notification sent")
}

func (s *notificationService) sendTelegram(msg string) {
	if _, err := s.bot.Send(s.chat, msg, &tele.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
		log.Warn().Err(err).Msg("telegram notification failed")
		return
	}
	log.Debug().Msg("telegram notification sent")
}
