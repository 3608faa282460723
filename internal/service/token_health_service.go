package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/rs/zerolog/log"
)

const (
	// TokenHealthMeta is the shared Meta token behind Instagram and Facebook.
	TokenHealthMeta     = "meta"
	TokenHealthDiscord  = "discord"
	TokenHealthTelegram = "telegram"
)

// TokenHealthService reports which credentials are configured and inspects the
// Meta token, the only one with an expiry the Graph API exposes.
type TokenHealthService struct {
	cfg     config.Config
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewTokenHealthService(cfg config.Config) *TokenHealthService {
	return &TokenHealthService{
		cfg:     cfg,
		baseURL: graphURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
}

// Check returns one entry per platform, one for the Meta token and one per
// notification sink. Inspection failures are reported in the entry, never returned.
func (s *TokenHealthService) Check(ctx context.Context) map[string]transfer.TokenHealth {
	out := make(map[string]transfer.TokenHealth, len(models.Platforms)+3)
	for _, p := range models.Platforms {
		out[string(p)] = transfer.TokenHealth{Configured: s.cfg.PlatformConfigured(p)}
	}

	out[TokenHealthMeta] = s.checkMeta(ctx)
	out[TokenHealthDiscord] = transfer.TokenHealth{Configured: s.cfg.DiscordWebhookURL != ""}
	out[TokenHealthTelegram] = transfer.TokenHealth{Configured: s.cfg.Telegram.BotToken != "" && s.cfg.Telegram.ChatID != ""}
	return out
}

func (s *TokenHealthService) checkMeta(ctx context.Context) transfer.TokenHealth {
	token := s.cfg.Meta.AccessToken
	if token == "" {
		return transfer.TokenHealth{Configured: false}
	}
	health := transfer.TokenHealth{Configured: true}
	invalid := false

	q := url.Values{}
	q.Set("input_token", token)
	q.Set("access_token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/debug_token?"+q.Encode(), nil)
	if err != nil {
		health.Valid = &invalid
		health.Error = fmt.Sprintf("error creating request: %v", err)
		return health
	}

	var res transfer.MetaDebugTokenResponse
	if err := graphError(doJSON(s.client, "Meta", req, &res)); err != nil {
		log.Warn().Err(err).Msg("meta token inspection failed")
		health.Valid = &invalid
		health.Error = err.Error()
		return health
	}

	valid := res.Data.IsValid
	health.Valid = &valid
	health.Scopes = res.Data.Scopes
	// expires_at of 0 marks a token that never expires
	if res.Data.ExpiresAt > 0 {
		expires := time.Unix(res.Data.ExpiresAt, 0).UTC()
		days := int(expires.Sub(s.now()).Hours() / 24)
		health.ExpiresAt = &expires
		health.DaysLeft = &days
	}
	return health
}
