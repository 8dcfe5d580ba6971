package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/cast-comb/app/feed"
	"github.com/lysyi3m/cast-comb/app/model"
)

// queueSize bounds the number of pending feed updates.
const queueSize = 16

// FeedUpdater runs one feed update.
type FeedUpdater interface {
	Update(ctx context.Context, feedConfig *feed.Config, trigger model.TriggerType) error
}

type job struct {
	feedConfig *feed.Config
	trigger    model.TriggerType
}

// Scheduler owns the cron registry and a bounded update queue drained by a
// single worker, so feed updates are strictly serialized across the process.
// SkipIfStillRunning only wraps the cron job, which just pushes onto the
// queue; a fire that arrives while the same feed is still queued or updating
// is queued again.
type Scheduler struct {
	updater FeedUpdater
	feeds   map[string]*feed.Config

	cron    *cron.Cron
	entries map[string]cron.EntryID
	queue   chan job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(updater FeedUpdater, feeds map[string]*feed.Config) *Scheduler {
	return &Scheduler{
		updater: updater,
		feeds:   feeds,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: make(map[string]cron.EntryID),
		queue:   make(chan job, queueSize),
	}
}

// Start registers a cron entry per feed and launches the worker. Feeds
// without an explicit cron schedule get a synthesized interval schedule and
// an immediate boot-time kick; an explicit schedule defers the first run to
// its next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, feedConfig := range s.feeds {
		if err := s.register(feedConfig); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go s.worker()

	s.cron.Start()

	slog.Info("Scheduler started", "feeds", len(s.feeds))
	return nil
}

func (s *Scheduler) register(feedConfig *feed.Config) error {
	hasExplicitCronSchedule := feedConfig.CronSchedule != ""

	schedule := feedConfig.CronSchedule
	if schedule == "" {
		schedule = fmt.Sprintf("@every %s", feedConfig.UpdatePeriod.Duration.String())
	}

	cronFeed := feedConfig
	entryID, err := s.cron.AddFunc(schedule, func() {
		slog.Debug("Adding feed to update queue", "feed", cronFeed.ID)
		s.push(job{feedConfig: cronFeed, trigger: model.TriggerScheduled})
	})
	if err != nil {
		return fmt.Errorf("can't create cron task for feed %s: %w", cronFeed.ID, err)
	}

	s.entries[cronFeed.ID] = entryID
	slog.Debug("Feed scheduled", "feed", cronFeed.ID, "schedule", schedule)

	// Interval feeds run immediately at startup; fixed schedules wait for
	// their tick
	if !hasExplicitCronSchedule {
		s.push(job{feedConfig: cronFeed, trigger: model.TriggerScheduled})
	}

	return nil
}

// AddFeed schedules a feed added at run time.
func (s *Scheduler) AddFeed(feedConfig *feed.Config) error {
	if _, ok := s.entries[feedConfig.ID]; ok {
		return fmt.Errorf("feed %q is already scheduled", feedConfig.ID)
	}

	return s.register(feedConfig)
}

// RemoveFeed drops the cron entry of a deleted feed.
func (s *Scheduler) RemoveFeed(feedID string) {
	if entryID, ok := s.entries[feedID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, feedID)
	}
}

// Enqueue pushes a feed onto the update queue. Used by the API for manual
// refreshes; a full queue is reported to the caller instead of blocking.
func (s *Scheduler) Enqueue(feedID string, trigger model.TriggerType) error {
	feedConfig, ok := s.feeds[feedID]
	if !ok {
		return fmt.Errorf("feed %q not found", feedID)
	}

	select {
	case s.queue <- job{feedConfig: feedConfig, trigger: trigger}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("update queue is full")
	}
}

// push drops the job when the queue is full: the next cron fire will pick
// the feed up again.
func (s *Scheduler) push(j job) {
	select {
	case s.queue <- j:
	default:
		slog.Warn("Update queue is full, dropping scheduled update", "feed", j.feedConfig.ID)
	}
}

// worker is the single consumer of the update queue.
func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case j := <-s.queue:
			if err := s.updater.Update(s.ctx, j.feedConfig, j.trigger); err != nil {
				slog.Error("Failed to update feed", "feed", j.feedConfig.ID, "url", j.feedConfig.URL, "error", err)
				continue
			}

			if entryID, ok := s.entries[j.feedConfig.ID]; ok {
				slog.Info("Next update scheduled", "feed", j.feedConfig.ID, "at", s.cron.Entry(entryID).Next)
			}

		case <-s.ctx.Done():
			return
		}
	}
}

// Stop cancels the worker, stops the cron engine and drains the queue.
func (s *Scheduler) Stop() {
	s.cancel()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.wg.Wait()

	// Drain whatever the worker left behind, then close
	for {
		select {
		case j := <-s.queue:
			slog.Debug("Dropping queued update on shutdown", "feed", j.feedConfig.ID)
		default:
			close(s.queue)
			slog.Info("Scheduler stopped")
			return
		}
	}
}
