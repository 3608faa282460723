package service

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v4"
)

// telegramUploadLimit is the Bot API ceiling for uploaded files.
const telegramUploadLimit = 50 << 20

type telegramChannelService struct {
	bot     *tele.Bot
	channel tele.Recipient
}

func NewTelegramChannelService(cfg config.Telegram) (Publisher, error) {
	s, err := newTelegramChannelService(cfg, "")
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newTelegramChannelService(cfg config.Telegram, apiURL string) (*telegramChannelService, error) {
	bot, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   cfg.BotToken,
		Client:  &http.Client{Timeout: 2 * time.Minute},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &telegramChannelService{bot: bot, channel: chatRecipient(cfg.ChannelID)}, nil
}

func (s *telegramChannelService) Publish(ctx context.Context, pub Publication) error {
	info, err := os.Stat(pub.Media.LocalPath)
	if err != nil {
		return fmt.Errorf("video file not found: %w", err)
	}
	logger := log.With().Str("platform", "telegram_channel").Int64("item_id", pub.ItemID).Logger()
	if info.Size() > telegramUploadLimit {
		logger.Warn().Int64("bytes", info.Size()).Msg("video exceeds the 50 MB bot upload limit, trying anyway")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	video := &tele.Video{
		File:      tele.FromDisk(pub.Media.LocalPath),
		Caption:   html.EscapeString(truncateRunes(pub.Caption, telegramCaptionLimit)),
		Streaming: true,
	}
	msg, err := s.bot.Send(s.channel, video, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil {
		return fmt.Errorf("telegram sendVideo failed: %w", err)
	}

	logger.Info().Int("message_id", msg.ID).Msg("video posted to channel")
	return nil
}
