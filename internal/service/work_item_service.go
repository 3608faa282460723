package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidWorkItem = errors.New("invalid work item")
	ErrNothingToRetry  = errors.New("no failed platforms to retry")
)

// recentPostsLimit caps the recent posts listed with the analytics.
const recentPostsLimit = 10

var allowedVideoTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "webm": {}, "mkv": {}, "m4v": {},
}

// WorkItemService is the authoring surface: it creates items and performs the
// operator retry reset. Posting itself belongs to PostingService.
type WorkItemService interface {
	Create(ctx context.Context, wc *transfer.WorkItemCreation, video *multipart.FileHeader) (*models.WorkItem, error)
	CreateBulk(ctx context.Context, items []transfer.WorkItemCreation) *transfer.BulkCreationResult
	List(ctx context.Context) ([]*models.WorkItem, error)
	Get(ctx context.Context, id int64) (*models.WorkItem, error)
	UpdateStatus(ctx context.Context, id int64, status models.ItemStatus) (*models.WorkItem, error)
	Retry(ctx context.Context, id int64) (*transfer.RetryResult, error)
	Remove(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*models.WorkItemStats, error)
}

type workItemService struct {
	repo      repository.WorkItemRepository
	uploadDir string
	now       func() time.Time
}

func NewWorkItemService(repo repository.WorkItemRepository, uploadDir string) WorkItemService {
	return &workItemService{repo: repo, uploadDir: uploadDir, now: time.Now}
}

func (s *workItemService) Create(ctx context.Context, wc *transfer.WorkItemCreation, video *multipart.FileHeader) (*models.WorkItem, error) {
	if wc == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidWorkItem)
	}
	if video == nil && strings.TrimSpace(wc.MediaRef) == "" {
		return nil, fmt.Errorf("%w: provide either media_ref or a video upload", ErrInvalidWorkItem)
	}

	item, err := s.buildItem(wc)
	if err != nil {
		return nil, err
	}

	if video != nil {
		path, err := s.storeUpload(video)
		if err != nil {
			return nil, err
		}
		item.MediaRef = path
	}

	if _, err := s.repo.Create(ctx, item); err != nil {
		if video != nil {
			os.Remove(item.MediaRef)
		}
		return nil, fmt.Errorf("error creating work item: %w", err)
	}

	log.Info().Int64("item_id", item.ID).Str("name", item.Name).Str("status", string(item.Status)).Msg("work item created")
	return item, nil
}

func (s *workItemService) CreateBulk(ctx context.Context, items []transfer.WorkItemCreation) *transfer.BulkCreationResult {
	res := &transfer.BulkCreationResult{Created: []int64{}, Errors: []transfer.BulkCreationError{}}
	for i := range items {
		item, err := s.Create(ctx, &items[i], nil)
		if err != nil {
			res.Errors = append(res.Errors, transfer.BulkCreationError{Index: i, Error: err.Error()})
			continue
		}
		res.Created = append(res.Created, item.ID)
	}
	res.Total = len(res.Created)
	log.Info().Int("created", len(res.Created)).Int("errors", len(res.Errors)).Msg("bulk work item upload")
	return res
}

func (s *workItemService) buildItem(wc *transfer.WorkItemCreation) (*models.WorkItem, error) {
	name := strings.TrimSpace(wc.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidWorkItem)
	}

	status := models.ItemStatusReady
	if wc.Status != "" {
		status = models.ItemStatus(strings.ToUpper(wc.Status))
		if status != models.ItemStatusDraft && status != models.ItemStatusReady {
			return nil, fmt.Errorf("%w: new items must be DRAFT or READY", ErrInvalidWorkItem)
		}
	}

	scheduledAt, err := parseSchedule(wc.ScheduledAt)
	if err != nil {
		return nil, err
	}

	return &models.WorkItem{
		Name:        name,
		Description: optional(wc.Description),
		Website:     optional(wc.Website),
		Handle:      optional(wc.Handle),
		MediaRef:    strings.TrimSpace(wc.MediaRef),
		Status:      status,
		Platforms:   models.NewPlatformStatuses(),
		ScheduledAt: scheduledAt,
		CreatedAt:   s.now().UTC(),
	}, nil
}

// storeUpload writes an uploaded video into the upload directory under a random
// name and returns its path. The upload is the original kept for manual retries.
func (s *workItemService) storeUpload(video *multipart.FileHeader) (string, error) {
	f, err := video.Open()
	if err != nil {
		return "", fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("%w: uploaded file is empty", ErrInvalidWorkItem)
	}
	kind, err := filetype.Match(head[:n])
	if err != nil || kind == types.Unknown {
		return "", fmt.Errorf("%w: unsupported file type", ErrInvalidWorkItem)
	}
	if _, ok := allowedVideoTypes[kind.Extension]; !ok {
		return "", fmt.Errorf("%w: file type %s is not allowed", ErrInvalidWorkItem, kind.Extension)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("error reading file content: %w", err)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	id, err := gonanoid.New(8)
	if err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(video.Filename), filepath.Ext(video.Filename))
	dest := filepath.Join(s.uploadDir, id+"_"+sanitizeName(base)+"."+kind.Extension)

	if err := writeFile(dest, f); err != nil {
		os.Remove(dest)
		return "", err
	}
	log.Info().Str("path", dest).Str("mime", kind.MIME.Value).Msg("video uploaded")
	return dest, nil
}

func (s *workItemService) List(ctx context.Context) ([]*models.WorkItem, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing work items: %w", err)
	}
	if items == nil {
		items = []*models.WorkItem{}
	}
	return items, nil
}

func (s *workItemService) Get(ctx context.Context, id int64) (*models.WorkItem, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: id is not valid", ErrInvalidWorkItem)
	}
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error getting work item: %w", err)
	}
	if item == nil {
		return nil, repository.ErrWorkItemNotFound
	}
	return item, nil
}

func (s *workItemService) UpdateStatus(ctx context.Context, id int64, status models.ItemStatus) (*models.WorkItem, error) {
	status = models.ItemStatus(strings.ToUpper(string(status)))
	if !status.Valid() {
		return nil, fmt.Errorf("%w: status must be one of DRAFT, READY, POSTED, FAILED", ErrInvalidWorkItem)
	}
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	item.Status = status
	if status == models.ItemStatusPosted && item.PostedAt == nil {
		now := s.now().UTC()
		item.PostedAt = &now
	}
	if err := s.repo.Save(ctx, item); err != nil {
		return nil, err
	}
	log.Info().Int64("item_id", id).Str("status", string(status)).Msg("work item status updated")
	return item, nil
}

// Retry resets FAILED platforms to PENDING, clears the error log and puts the
// item back in the READY queue. An item that failed before any platform was
// attempted (media failure) is re-queued as-is.
func (s *workItemService) Retry(ctx context.Context, id int64) (*transfer.RetryResult, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	reset := 0
	for _, p := range models.Platforms {
		if item.Platforms.Get(p) == models.PlatformStatusFailed {
			item.Platforms[p] = models.PlatformStatusPending
			reset++
		}
	}
	if reset == 0 && item.Status != models.ItemStatusFailed {
		return nil, ErrNothingToRetry
	}

	item.Status = models.ItemStatusReady
	item.SetErrorLog("")
	if err := s.repo.Save(ctx, item); err != nil {
		return nil, err
	}

	log.Info().Int64("item_id", id).Int("platforms_reset", reset).Msg("work item reset for retry")
	return &transfer.RetryResult{ID: item.ID, Status: string(item.Status), PlatformsReset: reset}, nil
}

// Remove deletes the item and, when its media lives in the upload directory,
// the uploaded file.
func (s *workItemService) Remove(ctx context.Context, id int64) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Remove(ctx, id); err != nil {
		return err
	}

	if inDir(s.uploadDir, item.MediaRef) {
		if err := os.Remove(item.MediaRef); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", item.MediaRef).Msg("could not delete uploaded video")
		} else {
			log.Info().Str("path", item.MediaRef).Msg("deleted uploaded video")
		}
	}
	log.Info().Int64("item_id", id).Msg("work item deleted")
	return nil
}

func (s *workItemService) Stats(ctx context.Context) (*models.WorkItemStats, error) {
	stats, err := s.repo.Stats(ctx, recentPostsLimit)
	if err != nil {
		return nil, fmt.Errorf("error collecting analytics: %w", err)
	}
	return stats, nil
}

// parseSchedule accepts RFC 3339 or the form layout 2006-01-02T15:04. Times
// without a zone are taken as UTC.
func parseSchedule(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid scheduled_at format, use ISO-8601", ErrInvalidWorkItem)
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func inDir(dir, path string) bool {
	if path == "" {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
