package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const defaultPollInterval = 5 * time.Minute

type SchedulerConfig struct {
	PollInterval      time.Duration
	CleanupInterval   time.Duration
	KeepAliveInterval time.Duration
}

// Scheduler drives the posting passes and the housekeeping jobs. Passes never
// overlap: a tick that arrives while one is running is skipped.
type Scheduler struct {
	cfg       SchedulerConfig
	posting   service.PostingService
	cleanup   *UploadCleanupJob
	keepAlive *KeepAliveJob

	mu       sync.Mutex
	c        *cron.Cron
	ctx      context.Context
	running  atomic.Bool
	lastPass atomic.Int64
}

// NewScheduler builds a stopped scheduler. cleanup and keepAlive may be nil.
func NewScheduler(cfg SchedulerConfig, posting service.PostingService, cleanup *UploadCleanupJob, keepAlive *KeepAliveJob) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Scheduler{
		cfg:       cfg,
		posting:   posting,
		cleanup:   cleanup,
		keepAlive: keepAlive,
	}
}

// Start registers the timers, starts them and runs one catch-up pass before
// returning. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return nil
	}

	logger := cronLogger{}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	// Passes are not cancelled by shutdown; Stop waits for them instead.
	s.ctx = context.WithoutCancel(ctx)

	c.Schedule(cron.Every(s.cfg.PollInterval), cron.FuncJob(func() { s.RunPass() }))
	if s.cleanup != nil && s.cfg.CleanupInterval > 0 {
		c.Schedule(cron.Every(s.cfg.CleanupInterval), cron.FuncJob(func() { s.cleanup.Run() }))
	}
	if s.keepAlive != nil && s.cfg.KeepAliveInterval > 0 {
		c.Schedule(cron.Every(s.cfg.KeepAliveInterval), cron.FuncJob(func() { s.keepAlive.Run(s.ctx) }))
	}

	c.Start()
	s.c = c
	s.mu.Unlock()

	log.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Dur("cleanup_interval", s.cfg.CleanupInterval).
		Bool("keep_alive", s.keepAlive != nil).
		Msg("scheduler started")

	log.Info().Msg("running startup catch-up pass")
	s.RunPass()
	return nil
}

// Stop halts the timers and waits for any in-flight job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	log.Info().Msg("stopping scheduler, waiting for in-flight jobs")
	<-c.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// RunPass runs one fetch-and-process pass unless another is in flight. It
// reports whether the pass ran.
func (s *Scheduler) RunPass() bool {
	if !s.running.CompareAndSwap(false, true) {
		log.Warn().Msg("previous posting pass still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	s.posting.FetchAndProcess(ctx)
	s.lastPass.Store(time.Now().Unix())
	log.Debug().Dur("took", time.Since(start)).Msg("posting pass finished")
	return true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// LastPass is the completion time of the most recent pass, zero if none ran.
func (s *Scheduler) LastPass() time.Time {
	ts := s.lastPass.Load()
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Str("component", "cron").Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Str("component", "cron").Msg(msg)
}
