package service

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeTitleLimit = 100
	youtubeCategory   = "28" // Science & Technology
	shortsTag         = " #Shorts"
)

// youtubeRefreshTimeout bounds a single OAuth refresh request.
const youtubeRefreshTimeout = 30 * time.Second

type youtubeService struct {
	conf *oauth2.Config
	// refresh is the client token refreshes go through.
	refresh *http.Client
	opts    []option.ClientOption

	mu    sync.Mutex
	token *oauth2.Token
}

// NewYoutubeService uploads with a long-lived refresh token. The access token is
// refreshed on demand and reused until it expires.
func NewYoutubeService(cfg config.Youtube, opts ...option.ClientOption) Publisher {
	return &youtubeService{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       []string{youtube.YoutubeUploadScope},
			Endpoint:     google.Endpoint,
		},
		refresh: &http.Client{Timeout: youtubeRefreshTimeout},
		opts:    opts,
		token:   &oauth2.Token{RefreshToken: cfg.RefreshToken},
	}
}

// accessToken returns a valid token, refreshing it under ctx when it has expired.
func (s *youtubeService) accessToken(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.refresh)
	tok, err := s.conf.TokenSource(ctx, s.token).Token()
	if err != nil {
		return nil, err
	}
	s.token = tok
	return tok, nil
}

func (s *youtubeService) Publish(ctx context.Context, pub Publication) error {
	tok, err := s.accessToken(ctx)
	if err != nil {
		return fmt.Errorf("error refreshing YouTube token: %w", err)
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
	svc, err := youtube.NewService(ctx, append([]option.ClientOption{option.WithHTTPClient(client)}, s.opts...)...)
	if err != nil {
		return fmt.Errorf("error creating YouTube service: %w", err)
	}

	file, err := os.Open(pub.Media.LocalPath)
	if err != nil {
		return fmt.Errorf("error opening video file: %w", err)
	}
	defer file.Close()

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       truncateRunes(pub.Title, youtubeTitleLimit-len(shortsTag)) + shortsTag,
			Description: pub.Caption,
			CategoryId:  youtubeCategory,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           "public",
			SelfDeclaredMadeForKids: false,
		},
	}

	res, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(file).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("error uploading video: %w", err)
	}

	log.Info().Str("platform", "youtube").Int64("item_id", pub.ItemID).Str("video_id", res.Id).Msg("video uploaded")
	return nil
}
