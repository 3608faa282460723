package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/rs/zerolog/log"
)

const (
	linkedInRestURL = "https://api.linkedin.com/rest"
	linkedInVersion = "202602"
)

type linkedInService struct {
	cfg          config.LinkedIn
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	pollAttempts int
}

func NewLinkedInService(cfg config.LinkedIn) Publisher {
	return &linkedInService{
		cfg:          cfg,
		baseURL:      linkedInRestURL,
		client:       &http.Client{Timeout: 5 * time.Minute},
		pollInterval: 10 * time.Second,
		pollAttempts: 30,
	}
}

// authorURN prefers the organization page and falls back to the member profile.
func (s *linkedInService) authorURN() (string, error) {
	if s.cfg.OrgID != "" {
		return "urn:li:organization:" + s.cfg.OrgID, nil
	}
	if urn := s.cfg.PersonURN; urn != "" {
		if !strings.HasPrefix(urn, "urn:") {
			urn = "urn:li:person:" + urn
		}
		return urn, nil
	}
	return "", fmt.Errorf("no LinkedIn author configured")
}

func (s *linkedInService) Publish(ctx context.Context, pub Publication) error {
	author, err := s.authorURN()
	if err != nil {
		return err
	}
	info, err := os.Stat(pub.Media.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to stat video: %w", err)
	}

	logger := log.With().Str("platform", "linkedin").Int64("item_id", pub.ItemID).Logger()
	logger.Info().Int64("bytes", info.Size()).Str("author", author).Msg("initializing upload")

	upload, err := s.initializeUpload(ctx, author, info.Size())
	if err != nil {
		return err
	}
	video := upload.Value.Video

	etags, err := s.uploadParts(ctx, pub.Media.LocalPath, upload.Value.UploadInstructions)
	if err != nil {
		return err
	}
	if err := s.finalizeUpload(ctx, video, upload.Value.UploadToken, etags); err != nil {
		return err
	}

	logger.Info().Str("video", video).Msg("waiting for processing")
	if err := s.waitForProcessing(ctx, video); err != nil {
		return err
	}

	postID, err := s.createPost(ctx, author, video, pub.Caption)
	if err != nil {
		return err
	}
	logger.Info().Str("post_id", postID).Msg("post published")
	return nil
}

func (s *linkedInService) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error marshalling payload: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, r)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	req.Header.Set("LinkedIn-Version", linkedInVersion)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (s *linkedInService) initializeUpload(ctx context.Context, owner string, size int64) (*transfer.LinkedInInitializeUploadResponse, error) {
	payload := transfer.LinkedInInitializeUploadRequest{
		InitializeUploadRequest: transfer.LinkedInInitializeUpload{Owner: owner, FileSizeBytes: size},
	}
	req, err := s.newRequest(ctx, http.MethodPost, "/videos?action=initializeUpload", payload)
	if err != nil {
		return nil, err
	}

	var res transfer.LinkedInInitializeUploadResponse
	if err := doJSON(s.client, "LinkedIn", req, &res); err != nil {
		return nil, fmt.Errorf("video init failed: %w", err)
	}
	if res.Value.Video == "" {
		return nil, fmt.Errorf("video init returned no video URN")
	}
	return &res, nil
}

func (s *linkedInService) uploadParts(ctx context.Context, path string, parts []transfer.LinkedInUploadInstruction) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	etags := make([]string, 0, len(parts))
	for i, part := range parts {
		length := part.LastByte - part.FirstByte + 1
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, part.UploadURL, io.NewSectionReader(f, part.FirstByte, length))
		if err != nil {
			return nil, fmt.Errorf("error creating request: %w", err)
		}
		req.ContentLength = length
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("chunk upload failed (part %d): %w", i+1, err)
		}
		err = checkStatus("LinkedIn", resp)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("chunk upload failed (part %d): %w", i+1, err)
		}
		if etag := resp.Header.Get("ETag"); etag != "" {
			etags = append(etags, etag)
		}
	}
	return etags, nil
}

func (s *linkedInService) finalizeUpload(ctx context.Context, video, token string, etags []string) error {
	var payload transfer.LinkedInFinalizeUploadRequest
	payload.FinalizeUploadRequest.Video = video
	payload.FinalizeUploadRequest.UploadToken = token
	payload.FinalizeUploadRequest.UploadedPartIDs = etags

	req, err := s.newRequest(ctx, http.MethodPost, "/videos?action=finalizeUpload", payload)
	if err != nil {
		return err
	}
	if err := doJSON(s.client, "LinkedIn", req, nil); err != nil {
		return fmt.Errorf("video finalize failed: %w", err)
	}
	return nil
}

func (s *linkedInService) waitForProcessing(ctx context.Context, video string) error {
	endpoint := "/videos/" + url.QueryEscape(video)
	return pollUntil(ctx, s.pollInterval, s.pollAttempts, func() (bool, error) {
		req, err := s.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return false, err
		}
		var status transfer.LinkedInVideoStatus
		if err := doJSON(s.client, "LinkedIn", req, &status); err != nil {
			log.Warn().Err(err).Str("video", video).Msg("video status poll failed")
			return false, nil
		}
		switch status.Status {
		case "AVAILABLE":
			return true, nil
		case "FAILED", "DELETED", "PROCESSING_FAILED":
			return false, fmt.Errorf("video processing ended with status %s", status.Status)
		}
		return false, nil
	})
}

func (s *linkedInService) createPost(ctx context.Context, author, video, caption string) (string, error) {
	post := transfer.LinkedInPost{
		Author:     author,
		Commentary: caption,
		Visibility: "PUBLIC",
		Distribution: transfer.LinkedInDistribution{
			FeedDistribution:               "MAIN_FEED",
			TargetEntities:                 []string{},
			ThirdPartyDistributionChannels: []string{},
		},
		LifecycleState: "PUBLISHED",
	}
	post.Content.Media.ID = video

	req, err := s.newRequest(ctx, http.MethodPost, "/posts", post)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post creation failed: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("LinkedIn", resp); err != nil {
		return "", fmt.Errorf("post creation failed: %w", err)
	}
	return resp.Header.Get("x-restli-id"), nil
}
