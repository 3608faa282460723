package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	redditTokenURL     = "https://www.reddit.com/api/v1/access_token"
	redditAPIURL       = "https://oauth.reddit.com"
	redditVideoHost    = "https://reddit-uploaded-video.s3-accelerate.amazonaws.com/"
	redditDefaultTitle = "Check out this AI Tool"
)

type redditService struct {
	cfg    config.Reddit
	tokens *TokenCache
	apiURL string
	client *http.Client
	oauth  *oauth2.Config
}

// userAgentTransport stamps every request; Reddit rejects the default Go agent.
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// NewRedditService submits video posts to the configured subreddit. tokens caches
// the OAuth token; nil builds a cache backed by the password grant.
func NewRedditService(cfg config.Reddit, tokens *TokenCache) Publisher {
	return newRedditService(cfg, tokens, redditTokenURL, redditAPIURL)
}

func newRedditService(cfg config.Reddit, tokens *TokenCache, tokenURL, apiURL string) *redditService {
	agent := fmt.Sprintf("crosspost/1.0 (by /u/%s)", cfg.Username)
	s := &redditService{
		cfg:    cfg,
		apiURL: apiURL,
		client: &http.Client{
			Timeout:   3 * time.Minute,
			Transport: &userAgentTransport{base: http.DefaultTransport, agent: agent},
		},
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		},
	}
	if tokens == nil {
		tokens = NewTokenCache(s.fetchToken, time.Hour)
	}
	s.tokens = tokens
	return s
}

func (s *redditService) fetchToken(ctx context.Context) (string, time.Duration, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.client)
	tok, err := s.oauth.PasswordCredentialsToken(ctx, s.cfg.Username, s.cfg.Password)
	if err != nil {
		return "", 0, fmt.Errorf("reddit auth failed: %w", err)
	}
	var ttl time.Duration
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
	}
	log.Info().Dur("ttl", ttl).Msg("obtained reddit oauth token")
	return tok.AccessToken, ttl, nil
}

func (s *redditService) Publish(ctx context.Context, pub Publication) error {
	token, err := s.tokens.Get(ctx)
	if err != nil {
		return err
	}

	err = s.publish(ctx, token, pub)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		s.tokens.Invalidate()
	}
	return err
}

func (s *redditService) publish(ctx context.Context, token string, pub Publication) error {
	logger := log.With().Str("platform", "reddit").Int64("item_id", pub.ItemID).Logger()

	lease, err := s.uploadLease(ctx, token, filepath.Base(pub.Media.LocalPath))
	if err != nil {
		return err
	}
	if err := s.uploadAsset(ctx, lease, pub.Media.LocalPath); err != nil {
		return err
	}
	logger.Info().Str("asset_id", lease.Asset.AssetID).Msg("video uploaded")

	title := pub.Caption
	if title == "" {
		title = redditDefaultTitle
	}
	res, err := s.submit(ctx, token, truncateRunes(title, redditTitleLimit), redditVideoHost+lease.Asset.AssetID)
	if err != nil {
		return err
	}
	logger.Info().Str("subreddit", s.cfg.Subreddit).Str("post_id", res.JSON.Data.ID).Str("url", res.JSON.Data.URL).Msg("posted")
	return nil
}

func (s *redditService) postForm(ctx context.Context, token, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doJSON(s.client, "Reddit", req, out)
}

func (s *redditService) uploadLease(ctx context.Context, token, name string) (*transfer.RedditAssetLease, error) {
	form := url.Values{}
	form.Set("filepath", name)
	form.Set("mimetype", "video/mp4")

	var lease transfer.RedditAssetLease
	if err := s.postForm(ctx, token, "/api/media/asset.json", form, &lease); err != nil {
		return nil, fmt.Errorf("upload lease failed: %w", err)
	}
	if lease.Asset.AssetID == "" || (lease.Args.Action == "" && lease.Asset.UploadURL == "") {
		return nil, fmt.Errorf("upload lease returned no upload target")
	}
	return &lease, nil
}

func (s *redditService) uploadAsset(ctx context.Context, lease *transfer.RedditAssetLease, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("video file not found: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, field := range lease.Args.Fields {
		if err := mw.WriteField(field.Name, field.Value); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read video: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	uploadURL := lease.Args.Action
	if uploadURL == "" {
		uploadURL = lease.Asset.UploadURL
	}
	if strings.HasPrefix(uploadURL, "//") {
		uploadURL = "https:" + uploadURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := doJSON(s.client, "Reddit", req, nil); err != nil {
		return fmt.Errorf("asset upload failed: %w", err)
	}
	return nil
}

func (s *redditService) submit(ctx context.Context, token, title, videoURL string) (*transfer.RedditSubmitResponse, error) {
	form := url.Values{}
	form.Set("sr", s.cfg.Subreddit)
	form.Set("kind", "video")
	form.Set("title", title)
	form.Set("url", videoURL)
	form.Set("video_poster_url", videoURL)
	form.Set("sendreplies", "true")
	form.Set("resubmit", "true")
	form.Set("api_type", "json")

	var res transfer.RedditSubmitResponse
	if err := s.postForm(ctx, token, "/api/submit", form, &res); err != nil {
		return nil, fmt.Errorf("submit failed: %w", err)
	}
	if len(res.JSON.Errors) > 0 {
		return nil, fmt.Errorf("submit rejected: %v", res.JSON.Errors)
	}
	return &res, nil
}
