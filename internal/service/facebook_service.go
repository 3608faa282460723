package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/rs/zerolog/log"
)

const (
	facebookPageTokenTTL = time.Hour
	facebookTitleLimit   = 255
)

type facebookService struct {
	cfg        config.Meta
	pageTokens *TokenCache
	baseURL    string
	client     *http.Client
}

// NewFacebookService publishes Reels to the configured page. pageTokens caches the
// page access token; nil builds a cache backed by /me/accounts.
func NewFacebookService(cfg config.Meta, pageTokens *TokenCache) Publisher {
	s := &facebookService{
		cfg:     cfg,
		baseURL: graphURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
	if pageTokens == nil {
		pageTokens = NewTokenCache(s.fetchPageToken, facebookPageTokenTTL)
	}
	s.pageTokens = pageTokens
	return s
}

func (s *facebookService) fetchPageToken(ctx context.Context) (string, time.Duration, error) {
	q := url.Values{}
	q.Set("fields", "id,access_token")
	q.Set("access_token", s.cfg.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/me/accounts?"+q.Encode(), nil)
	if err != nil {
		return "", 0, err
	}
	var res transfer.FacebookAccountsResponse
	if err := graphError(doJSON(s.client, "Facebook", req, &res)); err != nil {
		return "", 0, fmt.Errorf("failed to list pages: %w", err)
	}
	for _, page := range res.Data {
		if page.ID == s.cfg.FacebookPageID {
			log.Info().Str("page_id", page.ID).Msg("obtained facebook page access token")
			return page.AccessToken, facebookPageTokenTTL, nil
		}
	}
	return "", 0, fmt.Errorf("page %s not found in /me/accounts, check the token has pages_manage_posts", s.cfg.FacebookPageID)
}

func (s *facebookService) Publish(ctx context.Context, pub Publication) error {
	token, err := s.pageTokens.Get(ctx)
	if err != nil {
		return err
	}

	err = s.publish(ctx, token, pub)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		s.pageTokens.Invalidate()
	}
	return err
}

func (s *facebookService) publish(ctx context.Context, token string, pub Publication) error {
	logger := log.With().Str("platform", "facebook").Int64("item_id", pub.ItemID).Logger()

	start, err := s.startUpload(ctx, token)
	if err != nil {
		return err
	}
	logger.Info().Str("video_id", start.VideoID).Msg("upload session started")

	if err := s.uploadBinary(ctx, token, start, pub.Media.LocalPath); err != nil {
		return err
	}
	logger.Info().Str("video_id", start.VideoID).Msg("video binary uploaded")

	if err := s.finishUpload(ctx, token, start.VideoID, pub.Caption); err != nil {
		return err
	}
	logger.Info().Str("video_id", start.VideoID).Msg("reel published")
	return nil
}

func (s *facebookService) startUpload(ctx context.Context, token string) (*transfer.FacebookReelStartResponse, error) {
	form := url.Values{}
	form.Set("upload_phase", "start")
	form.Set("access_token", token)

	var res transfer.FacebookReelStartResponse
	if err := postGraphForm(ctx, s.client, "Facebook", s.baseURL+"/"+s.cfg.FacebookPageID+"/video_reels", form, &res); err != nil {
		return nil, fmt.Errorf("failed to start upload session: %w", err)
	}
	if res.VideoID == "" {
		return nil, fmt.Errorf("no video ID returned from Facebook")
	}
	return &res, nil
}

func (s *facebookService) uploadBinary(ctx context.Context, token string, start *transfer.FacebookReelStartResponse, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat video: %w", err)
	}

	uploadURL := start.UploadURL
	if uploadURL == "" {
		uploadURL = s.baseURL + "/" + start.VideoID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "OAuth "+token)
	req.Header.Set("offset", "0")
	req.Header.Set("file_size", strconv.FormatInt(info.Size(), 10))

	if err := graphError(doJSON(s.client, "Facebook", req, nil)); err != nil {
		return fmt.Errorf("video upload failed: %w", err)
	}
	return nil
}

func (s *facebookService) finishUpload(ctx context.Context, token, videoID, caption string) error {
	form := url.Values{}
	form.Set("upload_phase", "finish")
	form.Set("video_id", videoID)
	form.Set("title", truncateRunes(caption, facebookTitleLimit))
	form.Set("description", caption)
	form.Set("video_state", "PUBLISHED")
	form.Set("access_token", token)

	var res transfer.FacebookSuccessResponse
	if err := postGraphForm(ctx, s.client, "Facebook", s.baseURL+"/"+s.cfg.FacebookPageID+"/video_reels", form, &res); err != nil {
		return fmt.Errorf("failed to publish reel: %w", err)
	}
	if !res.Success {
		log.Warn().Str("video_id", videoID).Msg("facebook did not confirm the publish")
	}
	return nil
}
