package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/rs/zerolog/log"
)

const (
	xMediaUploadURL = "https://upload.twitter.com/1.1/media/upload.json"
	xTweetURL       = "https://api.twitter.com/2/tweets"
	xChunkSize      = 4 * 1024 * 1024
)

type xService struct {
	client       *http.Client
	uploadURL    string
	tweetURL     string
	pollAttempts int
	// checkAfter overrides the server's check_after_secs hint.
	checkAfter time.Duration
}

func NewXService(cfg config.X) Publisher {
	conf := oauth1.NewConfig(cfg.APIKey, cfg.APISecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
	return &xService{
		client:       conf.Client(context.Background(), token),
		uploadURL:    xMediaUploadURL,
		tweetURL:     xTweetURL,
		pollAttempts: 60,
	}
}

func (s *xService) Publish(ctx context.Context, pub Publication) error {
	f, err := os.Open(pub.Media.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat video: %w", err)
	}

	logger := log.With().Str("platform", "x").Int64("item_id", pub.ItemID).Logger()
	logger.Info().Int64("bytes", info.Size()).Msg("starting chunked upload")

	mediaID, err := s.initUpload(ctx, info.Size())
	if err != nil {
		return err
	}
	segments, err := s.appendChunks(ctx, mediaID, f)
	if err != nil {
		return err
	}
	logger.Info().Str("media_id", mediaID).Int("segments", segments).Msg("media uploaded")

	processing, err := s.finalize(ctx, mediaID)
	if err != nil {
		return err
	}
	if processing != nil {
		logger.Info().Str("media_id", mediaID).Msg("waiting for media processing")
		if err := s.waitForProcessing(ctx, mediaID, processing); err != nil {
			return err
		}
	}

	tweetID, err := s.createTweet(ctx, pub.Caption, mediaID)
	if err != nil {
		return err
	}
	logger.Info().Str("tweet_id", tweetID).Msg("tweet published")
	return nil
}

func (s *xService) postForm(ctx context.Context, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return doJSON(s.client, "X", req, out)
}

func (s *xService) initUpload(ctx context.Context, size int64) (string, error) {
	form := url.Values{}
	form.Set("command", "INIT")
	form.Set("total_bytes", strconv.FormatInt(size, 10))
	form.Set("media_type", "video/mp4")
	form.Set("media_category", "tweet_video")

	var res transfer.XMediaResponse
	if err := s.postForm(ctx, form, &res); err != nil {
		return "", fmt.Errorf("INIT failed: %w", err)
	}
	if res.MediaIDString != "" {
		return res.MediaIDString, nil
	}
	if res.MediaID == 0 {
		return "", fmt.Errorf("INIT returned no media id")
	}
	return strconv.FormatInt(res.MediaID, 10), nil
}

func (s *xService) appendChunks(ctx context.Context, mediaID string, r io.Reader) (int, error) {
	buf := make([]byte, xChunkSize)
	segment := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if err := s.appendChunk(ctx, mediaID, segment, buf[:n]); err != nil {
				return segment, fmt.Errorf("APPEND failed (segment %d): %w", segment, err)
			}
			segment++
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return segment, nil
		}
		if err != nil {
			return segment, fmt.Errorf("failed to read video: %w", err)
		}
	}
}

func (s *xService) appendChunk(ctx context.Context, mediaID string, segment int, chunk []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("command", "APPEND")
	mw.WriteField("media_id", mediaID)
	mw.WriteField("segment_index", strconv.Itoa(segment))
	part, err := mw.CreateFormFile("media_data", "blob")
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uploadURL, &body)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return doJSON(s.client, "X", req, nil)
}

func (s *xService) finalize(ctx context.Context, mediaID string) (*transfer.XProcessingInfo, error) {
	form := url.Values{}
	form.Set("command", "FINALIZE")
	form.Set("media_id", mediaID)

	var res transfer.XMediaResponse
	if err := s.postForm(ctx, form, &res); err != nil {
		return nil, fmt.Errorf("FINALIZE failed: %w", err)
	}
	return res.ProcessingInfo, nil
}

func (s *xService) waitForProcessing(ctx context.Context, mediaID string, info *transfer.XProcessingInfo) error {
	q := url.Values{}
	q.Set("command", "STATUS")
	q.Set("media_id", mediaID)
	endpoint := s.uploadURL + "?" + q.Encode()

	for i := 0; i < s.pollAttempts; i++ {
		switch info.State {
		case "succeeded":
			return nil
		case "failed":
			if info.Error != nil {
				return fmt.Errorf("media processing failed: %s", info.Error.Message)
			}
			return fmt.Errorf("media processing failed")
		}

		wait := s.checkAfter
		if wait == 0 {
			wait = time.Duration(max(info.CheckAfterSecs, 1)) * time.Second
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		var res transfer.XMediaResponse
		if err := doJSON(s.client, "X", req, &res); err != nil {
			log.Warn().Err(err).Str("media_id", mediaID).Msg("media status poll failed")
			continue
		}
		if res.ProcessingInfo == nil {
			return nil
		}
		info = res.ProcessingInfo
	}
	return fmt.Errorf("media processing timed out")
}

func (s *xService) createTweet(ctx context.Context, text, mediaID string) (string, error) {
	var payload transfer.XTweetRequest
	payload.Text = text
	payload.Media.MediaIDs = []string{mediaID}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("error marshalling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tweetURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res transfer.XTweetResponse
	if err := doJSON(s.client, "X", req, &res); err != nil {
		return "", fmt.Errorf("tweet creation failed: %w", err)
	}
	return res.Data.ID, nil
}
