package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/pkg/retry"
	"github.com/rs/zerolog/log"
)

const reasonNoPlatforms = "no platforms configured"

// Media is the video handed to publishers. LocalPath is the cycle's working copy;
// Source is the item's original reference, for platforms that fetch server-side.
type Media struct {
	LocalPath string
	Source    string
}

type Publication struct {
	ItemID  int64
	Title   string
	Caption string
	Media   Media
}

// Publisher posts one publication to a single network. A nil error means it is live.
type Publisher interface {
	Publish(ctx context.Context, pub Publication) error
}

type CaptionGenerator interface {
	Generate(item *models.WorkItem) map[models.Platform]string
}

type MediaProvider interface {
	Acquire(ctx context.Context, ref, name string) (string, error)
	Cleanup(path string)
}

type Notifier interface {
	NotifySuccess(ctx context.Context, name string, id int64, statuses models.PlatformStatuses)
	NotifyFailure(ctx context.Context, name string, id int64, statuses models.PlatformStatuses, reason string)
}

type PlatformEntry struct {
	Platform   models.Platform
	Configured bool
	Publisher  Publisher
}

type PostingConfig struct {
	// Platforms is dispatched in slice order.
	Platforms      []PlatformEntry
	MaxAttempts    int
	Backoff        time.Duration
	PublishTimeout time.Duration
	// Sleep overrides the wait between retry attempts.
	Sleep func(ctx context.Context, d time.Duration) error
}

type PostingService interface {
	FetchAndProcess(ctx context.Context)
	ProcessItem(ctx context.Context, item *models.WorkItem) error
}

type postingService struct {
	cfg      PostingConfig
	repo     repository.WorkItemRepository
	captions CaptionGenerator
	media    MediaProvider
	notifier Notifier
	now      func() time.Time
}

func NewPostingService(
	cfg PostingConfig,
	repo repository.WorkItemRepository,
	captions CaptionGenerator,
	media MediaProvider,
	notifier Notifier) PostingService {
	return newPostingService(cfg, repo, captions, media, notifier, time.Now)
}

func newPostingService(
	cfg PostingConfig,
	repo repository.WorkItemRepository,
	captions CaptionGenerator,
	media MediaProvider,
	notifier Notifier,
	now func() time.Time) *postingService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = retry.DefaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = retry.DefaultBackoff
	}
	return &postingService{
		cfg:      cfg,
		repo:     repo,
		captions: captions,
		media:    media,
		notifier: notifier,
		now:      now,
	}
}

// FetchAndProcess runs one pass over every eligible item. Errors never escape it:
// each item's failure is recorded on that item and the pass moves on.
func (s *postingService) FetchAndProcess(ctx context.Context) {
	items, err := s.repo.FindEligible(ctx, s.now())
	if err != nil {
		log.Error().Err(err).Msg("failed to query eligible work items")
		return
	}
	if len(items) == 0 {
		log.Debug().Msg("no READY work items found")
		return
	}
	log.Info().Int("count", len(items)).Msg("processing READY work items")

	for _, item := range items {
		if err := s.processSafely(ctx, item); err != nil {
			s.markFailed(ctx, item, err)
		}
	}
}

func (s *postingService) processSafely(ctx context.Context, item *models.WorkItem) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Int64("item_id", item.ID).Str("stack", string(debug.Stack())).Msg("panic while processing work item")
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.ProcessItem(ctx, item)
}

// markFailed records an unhandled processing error. Per-platform statuses are kept
// as they are so successful platforms are not re-posted after an operator retry.
func (s *postingService) markFailed(ctx context.Context, item *models.WorkItem, cause error) {
	log.Error().Err(cause).Int64("item_id", item.ID).Msg("unhandled error processing work item")

	item.Status = models.ItemStatusFailed
	item.SetErrorLog("Unhandled error: " + cause.Error())
	if err := s.save(ctx, item); err != nil {
		if errors.Is(err, repository.ErrWorkItemNotFound) {
			log.Warn().Int64("item_id", item.ID).Msg("work item deleted mid-cycle, dropping failure record")
			return
		}
		log.Error().Err(err).Int64("item_id", item.ID).Msg("failed to record work item failure")
	}
}

func (s *postingService) ProcessItem(ctx context.Context, item *models.WorkItem) error {
	logger := log.With().Int64("item_id", item.ID).Str("name", item.Name).Logger()
	logger.Info().Msg("processing work item")

	if item.Platforms == nil {
		item.Platforms = models.NewPlatformStatuses()
	}

	captions := s.captions.Generate(item)

	localPath, err := s.media.Acquire(ctx, item.MediaRef, item.Name)
	if err != nil {
		logger.Error().Err(err).Msg("media acquisition failed, skipping platforms this cycle")
		reason := "media acquisition failed: " + err.Error()
		item.Status = models.ItemStatusFailed
		item.SetErrorLog(reason)
		if err := s.save(ctx, item); err != nil {
			return s.tolerateVanished(item, err)
		}
		s.notifier.NotifyFailure(ctx, item.Name, item.ID, item.Platforms.Clone(), reason)
		return nil
	}
	defer s.media.Cleanup(localPath)

	media := Media{LocalPath: localPath, Source: item.MediaRef}
	var errs []string

	for _, entry := range s.cfg.Platforms {
		p := entry.Platform
		plog := logger.With().Str("platform", string(p)).Logger()

		if !entry.Configured || entry.Publisher == nil {
			item.Platforms[p] = models.PlatformStatusSkipped
			plog.Info().Msg("skipped, credentials not configured")
			continue
		}
		if item.Platforms.Get(p) == models.PlatformStatusSuccess {
			plog.Info().Msg("already posted, skipping")
			continue
		}

		pub := Publication{
			ItemID:  item.ID,
			Title:   item.Name,
			Caption: captions[p],
			Media:   media,
		}
		res := s.publish(ctx, entry, pub)
		if res.OK {
			item.Platforms[p] = models.PlatformStatusSuccess
			plog.Info().Int("attempts", res.Attempts).Msg("posted")
			continue
		}

		item.Platforms[p] = models.PlatformStatusFailed
		reason := "posting failed"
		if res.Err != nil {
			reason = res.Err.Error()
		}
		errs = append(errs, fmt.Sprintf("%s: %s", p.DisplayName(), reason))
		plog.Error().Err(res.Err).Int("attempts", res.Attempts).Msg("posting failed")
	}

	item.SetErrorLog(strings.Join(errs, " | "))
	postedAt := item.PostedAt
	succeeded, attempted := s.aggregate(item)

	if err := s.save(ctx, item); err != nil {
		// the outcome was never stored, so neither is this cycle's posting time
		item.PostedAt = postedAt
		return s.tolerateVanished(item, err)
	}

	statuses := item.Platforms.Clone()
	switch {
	case succeeded > 0:
		logger.Info().Int("succeeded", succeeded).Int("attempted", attempted).Msg("work item posted")
		s.notifier.NotifySuccess(ctx, item.Name, item.ID, statuses)
	case attempted == 0:
		logger.Warn().Msg("no platforms are configured, check credentials")
		s.notifier.NotifyFailure(ctx, item.Name, item.ID, nil, reasonNoPlatforms)
	default:
		logger.Warn().Int("attempted", attempted).Msg("work item failed on every attempted platform")
		s.notifier.NotifyFailure(ctx, item.Name, item.ID, statuses, derefOr(item.ErrorLog, ""))
	}
	return nil
}

// aggregate derives the overall status from the per-platform statuses, including
// successes carried over from earlier cycles.
func (s *postingService) aggregate(item *models.WorkItem) (succeeded, attempted int) {
	succeeded = item.Platforms.Count(models.PlatformStatusSuccess)
	attempted = len(models.Platforms) - item.Platforms.Count(models.PlatformStatusSkipped)

	if succeeded > 0 {
		item.Status = models.ItemStatusPosted
		if item.PostedAt == nil {
			now := s.now()
			item.PostedAt = &now
		}
		return succeeded, attempted
	}

	item.Status = models.ItemStatusFailed
	if attempted == 0 {
		item.SetErrorLog(reasonNoPlatforms)
	}
	return succeeded, attempted
}

func (s *postingService) publish(ctx context.Context, entry PlatformEntry, pub Publication) retry.Result {
	policy := retry.Policy{
		Name:        string(entry.Platform),
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     s.cfg.Backoff,
		Sleep:       s.cfg.Sleep,
	}
	return retry.Do(ctx, policy, func(ctx context.Context) (bool, error) {
		if s.cfg.PublishTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.PublishTimeout)
			defer cancel()
		}
		if err := entry.Publisher.Publish(ctx, pub); err != nil {
			return false, err
		}
		return true, nil
	})
}

// save retries a failed write once before escalating it to the caller.
func (s *postingService) save(ctx context.Context, item *models.WorkItem) error {
	policy := retry.Policy{
		Name:        "save",
		MaxAttempts: 2,
		Backoff:     time.Second,
		Sleep:       s.cfg.Sleep,
		Permanent: func(err error) bool {
			return errors.Is(err, repository.ErrWorkItemNotFound)
		},
	}
	res := retry.Do(ctx, policy, func(ctx context.Context) (bool, error) {
		err := s.repo.Save(ctx, item)
		return err == nil, err
	})
	if !res.OK {
		return res.Err
	}
	return nil
}

func (s *postingService) tolerateVanished(item *models.WorkItem, err error) error {
	if errors.Is(err, repository.ErrWorkItemNotFound) {
		log.Warn().Int64("item_id", item.ID).Msg("work item deleted mid-cycle, discarding results")
		return nil
	}
	return fmt.Errorf("failed to save work item %d: %w", item.ID, err)
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
