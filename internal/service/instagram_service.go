package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/rs/zerolog/log"
)

const graphURL = "https://graph.facebook.com/v19.0"

// PublicURLResolver turns a working copy into an address Meta's servers can fetch.
// release drops anything staged for it.
type PublicURLResolver interface {
	PublicURL(ctx context.Context, source, localPath string) (string, func(), error)
}

type instagramService struct {
	cfg          config.Meta
	urls         PublicURLResolver
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	pollAttempts int
}

func NewInstagramService(cfg config.Meta, urls PublicURLResolver) Publisher {
	return &instagramService{
		cfg:          cfg,
		urls:         urls,
		baseURL:      graphURL,
		client:       &http.Client{Timeout: 60 * time.Second},
		pollInterval: 10 * time.Second,
		pollAttempts: 30,
	}
}

func (s *instagramService) Publish(ctx context.Context, pub Publication) error {
	videoURL, release, err := s.urls.PublicURL(ctx, pub.Media.Source, pub.Media.LocalPath)
	if err != nil {
		return fmt.Errorf("no public video URL for Instagram: %w", err)
	}
	defer release()

	logger := log.With().Str("platform", "instagram").Int64("item_id", pub.ItemID).Logger()

	containerID, err := s.createContainer(ctx, videoURL, pub.Caption)
	if err != nil {
		return err
	}
	logger.Info().Str("container_id", containerID).Msg("container created")

	if err := s.waitForContainer(ctx, containerID); err != nil {
		return err
	}

	mediaID, err := s.publishContainer(ctx, containerID)
	if err != nil {
		return err
	}
	logger.Info().Str("media_id", mediaID).Msg("reel published")
	return nil
}

func (s *instagramService) createContainer(ctx context.Context, videoURL, caption string) (string, error) {
	form := url.Values{}
	form.Set("media_type", "REELS")
	form.Set("video_url", videoURL)
	form.Set("caption", caption)
	form.Set("share_to_feed", "true")
	form.Set("access_token", s.cfg.AccessToken)

	var res transfer.MetaIDResponse
	if err := s.postForm(ctx, "/"+s.cfg.InstagramBusinessID+"/media", form, &res); err != nil {
		return "", fmt.Errorf("failed to create media container: %w", err)
	}
	if res.ID == "" {
		return "", fmt.Errorf("no container ID returned from Instagram")
	}
	return res.ID, nil
}

func (s *instagramService) waitForContainer(ctx context.Context, containerID string) error {
	q := url.Values{}
	q.Set("fields", "status_code")
	q.Set("access_token", s.cfg.AccessToken)
	endpoint := s.baseURL + "/" + containerID + "?" + q.Encode()

	return pollUntil(ctx, s.pollInterval, s.pollAttempts, func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false, err
		}
		var status transfer.InstagramContainerStatus
		if err := doJSON(s.client, "Instagram", req, &status); err != nil {
			log.Warn().Err(err).Str("container_id", containerID).Msg("container status poll failed")
			return false, nil
		}
		switch status.StatusCode {
		case "FINISHED":
			return true, nil
		case "ERROR", "EXPIRED":
			return false, fmt.Errorf("container processing failed: %s %s", status.StatusCode, status.Status)
		}
		return false, nil
	})
}

func (s *instagramService) publishContainer(ctx context.Context, containerID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", s.cfg.AccessToken)

	var res transfer.MetaIDResponse
	if err := s.postForm(ctx, "/"+s.cfg.InstagramBusinessID+"/media_publish", form, &res); err != nil {
		return "", fmt.Errorf("failed to publish container: %w", err)
	}
	return res.ID, nil
}

func (s *instagramService) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	return postGraphForm(ctx, s.client, "Instagram", s.baseURL+endpoint, form, out)
}

// postGraphForm posts a form to the Graph API and surfaces Meta's error message on failure.
func postGraphForm(ctx context.Context, client *http.Client, platform, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return graphError(doJSON(client, platform, req, out))
}

// graphError replaces a raw Graph API error body with Meta's message.
func graphError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	var res transfer.MetaErrorResponse
	if json.Unmarshal([]byte(apiErr.Body), &res) != nil || res.Error.Message == "" {
		return err
	}
	apiErr.Body = fmt.Sprintf("%s (code %d)", res.Error.Message, res.Error.Code)
	return err
}
