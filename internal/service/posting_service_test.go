package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
)

type fakeRepo struct {
	items    []*models.WorkItem
	saves    int
	saveErrs []error
}

func (r *fakeRepo) Create(ctx context.Context, item *models.WorkItem) (int64, error) {
	item.ID = int64(len(r.items) + 1)
	r.items = append(r.items, item)
	return item.ID, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id int64) (*models.WorkItem, error) {
	for _, it := range r.items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) List(ctx context.Context) ([]*models.WorkItem, error) {
	return r.items, nil
}

func (r *fakeRepo) FindEligible(ctx context.Context, now time.Time) ([]*models.WorkItem, error) {
	var out []*models.WorkItem
	for _, it := range r.items {
		if it.Eligible(now) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *fakeRepo) Save(ctx context.Context, item *models.WorkItem) error {
	r.saves++
	if len(r.saveErrs) > 0 {
		err := r.saveErrs[0]
		r.saveErrs = r.saveErrs[1:]
		return err
	}
	for _, it := range r.items {
		if it.ID == item.ID {
			return nil
		}
	}
	return repository.ErrWorkItemNotFound
}

func (r *fakeRepo) Remove(ctx context.Context, id int64) error {
	for i, it := range r.items {
		if it.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return repository.ErrWorkItemNotFound
}

func (r *fakeRepo) Stats(ctx context.Context, recent int) (*models.WorkItemStats, error) {
	stats := &models.WorkItemStats{Total: len(r.items), Platforms: map[models.Platform]models.PlatformStats{}, Recent: []*models.WorkItem{}}
	for _, it := range r.items {
		if it.Status == models.ItemStatusPosted {
			stats.Posted++
			if len(stats.Recent) < recent {
				stats.Recent = append(stats.Recent, it)
			}
		}
	}
	stats.SuccessRate = models.Percent(stats.Posted, stats.Total)
	return stats, nil
}

type fakePublisher struct {
	calls    int
	failures int
	err      error
	block    bool
	panicFor int64
	captions []string
	// onPublish runs before the publisher reports its outcome.
	onPublish func(pub Publication)
}

func (p *fakePublisher) Publish(ctx context.Context, pub Publication) error {
	p.calls++
	p.captions = append(p.captions, pub.Caption)
	if p.onPublish != nil {
		p.onPublish(pub)
	}
	if p.panicFor != 0 && pub.ItemID == p.panicFor {
		panic("publisher exploded")
	}
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.failures < 0 || p.calls <= p.failures {
		return p.err
	}
	return nil
}

type fakeMedia struct {
	err      error
	acquired []string
	cleaned  []string
}

func (m *fakeMedia) Acquire(ctx context.Context, ref, name string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	path := "/media/" + name + ".mp4"
	m.acquired = append(m.acquired, path)
	return path, nil
}

func (m *fakeMedia) Cleanup(path string) {
	m.cleaned = append(m.cleaned, path)
}

type sentNotification struct {
	success  bool
	id       int64
	statuses models.PlatformStatuses
	reason   string
}

type fakeNotifier struct {
	sent []sentNotification
}

func (n *fakeNotifier) NotifySuccess(ctx context.Context, name string, id int64, statuses models.PlatformStatuses) {
	n.sent = append(n.sent, sentNotification{success: true, id: id, statuses: statuses})
}

func (n *fakeNotifier) NotifyFailure(ctx context.Context, name string, id int64, statuses models.PlatformStatuses, reason string) {
	n.sent = append(n.sent, sentNotification{id: id, statuses: statuses, reason: reason})
}

type harness struct {
	svc        *postingService
	repo       *fakeRepo
	media      *fakeMedia
	notifier   *fakeNotifier
	publishers map[models.Platform]*fakePublisher
	now        time.Time
}

// newHarness wires a posting service where only the given platforms are configured.
func newHarness(t *testing.T, configured map[models.Platform]*fakePublisher) *harness {
	t.Helper()
	h := &harness{
		repo:       &fakeRepo{},
		media:      &fakeMedia{},
		notifier:   &fakeNotifier{},
		publishers: configured,
		now:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	var entries []PlatformEntry
	for _, p := range models.Platforms {
		pub, ok := configured[p]
		entry := PlatformEntry{Platform: p, Configured: ok}
		if ok {
			entry.Publisher = pub
		}
		entries = append(entries, entry)
	}

	cfg := PostingConfig{
		Platforms:   entries,
		MaxAttempts: 3,
		Backoff:     time.Second,
		Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
	h.svc = newPostingService(cfg, h.repo, NewCaptionService(), h.media, h.notifier, func() time.Time { return h.now })
	return h
}

func (h *harness) addItem(name string) *models.WorkItem {
	item := &models.WorkItem{
		Name:      name,
		MediaRef:  "https://cdn.example/" + name + ".mp4",
		Status:    models.ItemStatusReady,
		Platforms: models.NewPlatformStatuses(),
		CreatedAt: h.now.Add(-time.Hour),
	}
	h.repo.Create(context.Background(), item)
	return item
}

func TestProcessItemPartialSuccess(t *testing.T) {
	linkedin := &fakePublisher{}
	x := &fakePublisher{failures: -1, err: errors.New("rate limited")}
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformLinkedIn: linkedin,
		models.PlatformX:        x,
	})
	item := h.addItem("Clipper")

	h.svc.FetchAndProcess(context.Background())

	if linkedin.calls != 1 || x.calls != 3 {
		t.Errorf("calls: linkedin=%d x=%d, want 1 and 3", linkedin.calls, x.calls)
	}
	if item.Platforms.Get(models.PlatformLinkedIn) != models.PlatformStatusSuccess {
		t.Errorf("linkedin status = %s", item.Platforms.Get(models.PlatformLinkedIn))
	}
	if item.Platforms.Get(models.PlatformX) != models.PlatformStatusFailed {
		t.Errorf("x status = %s", item.Platforms.Get(models.PlatformX))
	}
	for _, p := range []models.Platform{models.PlatformInstagram, models.PlatformFacebook, models.PlatformYoutube, models.PlatformTelegram, models.PlatformReddit} {
		if item.Platforms.Get(p) != models.PlatformStatusSkipped {
			t.Errorf("%s status = %s, want SKIPPED", p, item.Platforms.Get(p))
		}
	}
	if item.Status != models.ItemStatusPosted {
		t.Errorf("status = %s, want POSTED", item.Status)
	}
	if item.ErrorLog == nil || *item.ErrorLog != "X: rate limited" {
		t.Errorf("error_log = %v, want %q", item.ErrorLog, "X: rate limited")
	}
	if item.PostedAt == nil || !item.PostedAt.Equal(h.now) {
		t.Errorf("posted_at = %v, want %v", item.PostedAt, h.now)
	}
	if len(h.notifier.sent) != 1 || !h.notifier.sent[0].success {
		t.Errorf("notifications = %+v, want one success", h.notifier.sent)
	}
	if len(h.media.cleaned) != 1 || h.media.cleaned[0] != h.media.acquired[0] {
		t.Errorf("cleanup = %v, acquired = %v", h.media.cleaned, h.media.acquired)
	}
	if len(x.captions) == 0 || !strings.HasPrefix(x.captions[0], "Clipper") {
		t.Errorf("x captions = %q", x.captions)
	}
}

func TestFetchAndProcessIdempotentResumption(t *testing.T) {
	linkedin := &fakePublisher{}
	x := &fakePublisher{}
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformLinkedIn: linkedin,
		models.PlatformX:        x,
	})
	item := h.addItem("Clipper")
	posted := h.now.Add(-24 * time.Hour)
	item.Platforms[models.PlatformLinkedIn] = models.PlatformStatusSuccess
	item.PostedAt = &posted

	h.svc.FetchAndProcess(context.Background())

	if linkedin.calls != 0 {
		t.Errorf("linkedin publisher invoked %d times after SUCCESS", linkedin.calls)
	}
	if x.calls != 1 {
		t.Errorf("x publisher invoked %d times, want 1", x.calls)
	}
	if item.Platforms.Get(models.PlatformLinkedIn) != models.PlatformStatusSuccess {
		t.Errorf("linkedin status = %s, want SUCCESS preserved", item.Platforms.Get(models.PlatformLinkedIn))
	}
	if !item.PostedAt.Equal(posted) {
		t.Errorf("posted_at moved from %v to %v", posted, *item.PostedAt)
	}

	// A second pass finds nothing: the item is POSTED now.
	h.svc.FetchAndProcess(context.Background())
	if linkedin.calls != 0 || x.calls != 1 {
		t.Errorf("second pass re-invoked publishers: linkedin=%d x=%d", linkedin.calls, x.calls)
	}
}

func TestProcessItemAllFail(t *testing.T) {
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformInstagram: {failures: -1, err: errors.New("container error")},
		models.PlatformReddit:    {failures: -1, err: errors.New("403 forbidden")},
	})
	item := h.addItem("Clipper")

	if err := h.svc.ProcessItem(context.Background(), item); err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}

	if item.Status != models.ItemStatusFailed {
		t.Errorf("status = %s, want FAILED", item.Status)
	}
	if item.PostedAt != nil {
		t.Errorf("posted_at = %v, want nil", item.PostedAt)
	}
	if item.ErrorLog == nil {
		t.Fatal("error_log is nil")
	}
	entries := strings.Split(*item.ErrorLog, " | ")
	if len(entries) != 2 || entries[0] != "Instagram: container error" || entries[1] != "Reddit: 403 forbidden" {
		t.Errorf("error_log entries = %q", entries)
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].success || h.notifier.sent[0].reason != *item.ErrorLog {
		t.Errorf("notifications = %+v", h.notifier.sent)
	}
}

func TestProcessItemNoPlatformsConfigured(t *testing.T) {
	h := newHarness(t, map[models.Platform]*fakePublisher{})
	item := h.addItem("Clipper")

	h.svc.FetchAndProcess(context.Background())

	if item.Status != models.ItemStatusFailed {
		t.Errorf("status = %s, want FAILED", item.Status)
	}
	if item.ErrorLog == nil || *item.ErrorLog != reasonNoPlatforms {
		t.Errorf("error_log = %v, want %q", item.ErrorLog, reasonNoPlatforms)
	}
	if n := item.Platforms.Count(models.PlatformStatusSkipped); n != len(models.Platforms) {
		t.Errorf("%d platforms SKIPPED, want %d", n, len(models.Platforms))
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].reason != reasonNoPlatforms {
		t.Errorf("notifications = %+v", h.notifier.sent)
	}
}

func TestProcessItemRetryBudget(t *testing.T) {
	flaky := &fakePublisher{failures: 2, err: errors.New("503")}
	broken := &fakePublisher{failures: -1, err: errors.New("500")}
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformFacebook: flaky,
		models.PlatformYoutube:  broken,
	})
	item := h.addItem("Clipper")

	h.svc.ProcessItem(context.Background(), item)

	if flaky.calls != 3 || item.Platforms.Get(models.PlatformFacebook) != models.PlatformStatusSuccess {
		t.Errorf("flaky: calls=%d status=%s, want 3 SUCCESS", flaky.calls, item.Platforms.Get(models.PlatformFacebook))
	}
	if broken.calls != 3 || item.Platforms.Get(models.PlatformYoutube) != models.PlatformStatusFailed {
		t.Errorf("broken: calls=%d status=%s, want 3 FAILED", broken.calls, item.Platforms.Get(models.PlatformYoutube))
	}
}

func TestProcessItemMediaFailureShortCircuits(t *testing.T) {
	linkedin := &fakePublisher{}
	x := &fakePublisher{}
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformLinkedIn: linkedin,
		models.PlatformX:        x,
	})
	h.media.err = errors.New("404 not found")
	item := h.addItem("Clipper")
	item.Platforms[models.PlatformLinkedIn] = models.PlatformStatusSuccess
	item.Platforms[models.PlatformX] = models.PlatformStatusFailed
	before := item.Platforms.Clone()

	h.svc.FetchAndProcess(context.Background())

	if linkedin.calls+x.calls != 0 {
		t.Errorf("publishers invoked after media failure: linkedin=%d x=%d", linkedin.calls, x.calls)
	}
	for _, p := range models.Platforms {
		if item.Platforms.Get(p) != before.Get(p) {
			t.Errorf("%s status changed from %s to %s", p, before.Get(p), item.Platforms.Get(p))
		}
	}
	if item.Status != models.ItemStatusFailed {
		t.Errorf("status = %s, want FAILED", item.Status)
	}
	if item.ErrorLog == nil || !strings.HasPrefix(*item.ErrorLog, "media acquisition failed: 404 not found") {
		t.Errorf("error_log = %v", item.ErrorLog)
	}
	if len(h.media.cleaned) != 0 {
		t.Errorf("cleanup called without an acquired file: %v", h.media.cleaned)
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].success {
		t.Errorf("notifications = %+v, want one failure", h.notifier.sent)
	}
}

func TestFetchAndProcessBatchIsolation(t *testing.T) {
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformTelegram: {},
	})
	first := h.addItem("first")
	second := h.addItem("second")
	third := h.addItem("third")
	h.publishers[models.PlatformTelegram].panicFor = second.ID

	h.svc.FetchAndProcess(context.Background())

	if first.Status != models.ItemStatusPosted || third.Status != models.ItemStatusPosted {
		t.Errorf("statuses: first=%s third=%s, want POSTED", first.Status, third.Status)
	}
	if second.Status != models.ItemStatusFailed {
		t.Errorf("second status = %s, want FAILED", second.Status)
	}
	if second.ErrorLog == nil || !strings.HasPrefix(*second.ErrorLog, "Unhandled error: panic: publisher exploded") {
		t.Errorf("second error_log = %v", second.ErrorLog)
	}
	if len(h.media.cleaned) != 3 {
		t.Errorf("cleanup ran %d times, want 3", len(h.media.cleaned))
	}
}

func TestFetchAndProcessSaveFailureEscalates(t *testing.T) {
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformLinkedIn: {},
	})
	first := h.addItem("first")
	second := h.addItem("second")
	dbDown := errors.New("database is locked")
	h.repo.saveErrs = []error{dbDown, dbDown}

	h.svc.FetchAndProcess(context.Background())

	if first.Status != models.ItemStatusFailed {
		t.Errorf("first status = %s, want FAILED", first.Status)
	}
	if first.ErrorLog == nil || !strings.Contains(*first.ErrorLog, "database is locked") {
		t.Errorf("first error_log = %v", first.ErrorLog)
	}
	if first.Platforms.Get(models.PlatformLinkedIn) != models.PlatformStatusSuccess {
		t.Errorf("first linkedin status = %s, want SUCCESS kept", first.Platforms.Get(models.PlatformLinkedIn))
	}
	if first.PostedAt != nil {
		t.Errorf("first posted_at = %v, want nil on a FAILED record", first.PostedAt)
	}
	if second.Status != models.ItemStatusPosted {
		t.Errorf("second status = %s, want POSTED", second.Status)
	}
	// two failed saves, the failure record, then the second item
	if h.repo.saves != 4 {
		t.Errorf("saves = %d, want 4", h.repo.saves)
	}
}

func TestProcessItemSaveRetriedOnce(t *testing.T) {
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformLinkedIn: {},
	})
	item := h.addItem("Clipper")
	h.repo.saveErrs = []error{errors.New("connection reset")}

	if err := h.svc.ProcessItem(context.Background(), item); err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}
	if h.repo.saves != 2 {
		t.Errorf("saves = %d, want 2", h.repo.saves)
	}
	if len(h.notifier.sent) != 1 || !h.notifier.sent[0].success {
		t.Errorf("notifications = %+v", h.notifier.sent)
	}
}

func TestProcessItemDeletedMidCycle(t *testing.T) {
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformLinkedIn: {},
	})
	item := h.addItem("Clipper")
	h.repo.saveErrs = []error{fmt.Errorf("save: %w", repository.ErrWorkItemNotFound)}

	if err := h.svc.ProcessItem(context.Background(), item); err != nil {
		t.Fatalf("ProcessItem = %v, want nil for a vanished row", err)
	}
	if h.repo.saves != 1 {
		t.Errorf("saves = %d, want 1", h.repo.saves)
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("notified about a deleted item: %+v", h.notifier.sent)
	}
}

func TestProcessItemRemovedWhilePublishing(t *testing.T) {
	var h *harness
	linkedin := &fakePublisher{onPublish: func(pub Publication) {
		h.repo.Remove(context.Background(), pub.ItemID)
	}}
	h = newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformLinkedIn: linkedin,
	})
	item := h.addItem("Clipper")

	if err := h.svc.ProcessItem(context.Background(), item); err != nil {
		t.Fatalf("ProcessItem = %v, want nil for a removed row", err)
	}
	if h.repo.saves != 1 {
		t.Errorf("saves = %d, want 1 with no retry after not found", h.repo.saves)
	}
	if len(h.notifier.sent) != 0 {
		t.Errorf("notified about a deleted item: %+v", h.notifier.sent)
	}
}

func TestProcessItemPublishTimeout(t *testing.T) {
	slow := &fakePublisher{block: true}
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformYoutube: slow,
	})
	h.svc.cfg.PublishTimeout = 10 * time.Millisecond
	h.svc.cfg.MaxAttempts = 1
	item := h.addItem("Clipper")

	h.svc.ProcessItem(context.Background(), item)

	if item.Platforms.Get(models.PlatformYoutube) != models.PlatformStatusFailed {
		t.Errorf("youtube status = %s, want FAILED", item.Platforms.Get(models.PlatformYoutube))
	}
	if item.ErrorLog == nil || !strings.Contains(*item.ErrorLog, context.DeadlineExceeded.Error()) {
		t.Errorf("error_log = %v", item.ErrorLog)
	}
}

func TestProcessItemInitialisesStatuses(t *testing.T) {
	h := newHarness(t, map[models.Platform]*fakePublisher{
		models.PlatformX: {},
	})
	item := &models.WorkItem{ID: 9, Name: "Bare", MediaRef: "/tmp/bare.mp4", Status: models.ItemStatusReady}
	h.repo.items = append(h.repo.items, item)

	if err := h.svc.ProcessItem(context.Background(), item); err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}
	if item.Platforms.Get(models.PlatformX) != models.PlatformStatusSuccess || item.Status != models.ItemStatusPosted {
		t.Errorf("status=%s platforms=%v", item.Status, item.Platforms)
	}
}
