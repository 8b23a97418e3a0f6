package services

import (
	"time"

	"github.com/huangang/trackersync/internal/config"
	"github.com/huangang/trackersync/pkg/logger"
	"github.com/robfig/cron/v3"
)

// SyncScheduler enqueues the recurring issue sync and the daily
// label/assignee refresh.
type SyncScheduler struct {
	cfg      *config.SyncConfig
	queue    TaskQueue
	calendar *HolidayCalendar
	cron     *cron.Cron
	now      func() time.Time
	entries  []cron.EntryID
}

func NewSyncScheduler(cfg *config.SyncConfig, queue TaskQueue) *SyncScheduler {
	return &SyncScheduler{
		cfg:      cfg,
		queue:    queue,
		calendar: NewHolidayCalendar(cfg.HolidayCountry),
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start registers the cron entries. Invalid expressions are logged and that
// entry is left out.
func (s *SyncScheduler) Start() {
	if !s.cfg.Enabled {
		logger.Infof("[Scheduler] Scheduled sync disabled")
		return
	}

	s.add(s.cfg.Cron, SyncIssues)
	if s.cfg.RefreshCron != "" {
		s.add(s.cfg.RefreshCron, SyncLabels, SyncAssignees)
	}

	s.cron.Start()
	logger.Infof("[Scheduler] Started with %d entries (holiday country: %s, skip holidays: %v)",
		len(s.entries), s.cfg.HolidayCountry, s.cfg.SkipHolidays)
}

func (s *SyncScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *SyncScheduler) add(expr string, kinds ...SyncKind) {
	id, err := s.cron.AddFunc(expr, func() { s.fire(kinds...) })
	if err != nil {
		logger.Errorf("[Scheduler] Invalid cron %q for %v: %v", expr, kinds, err)
		return
	}
	s.entries = append(s.entries, id)
	logger.Infof("[Scheduler] Scheduled %v (cron: %s)", kinds, expr)
}

// fire enqueues kinds unless today is a holiday and holidays are skipped.
// It reports how many tasks were enqueued.
func (s *SyncScheduler) fire(kinds ...SyncKind) int {
	now := s.now()
	if s.cfg.SkipHolidays && !s.calendar.IsWorkday(now) {
		logger.Debug().Str("date", now.Format("2006-01-02")).Msg("[Scheduler] Skipping sync on holiday")
		return 0
	}

	enqueued := 0
	for _, kind := range kinds {
		if err := s.queue.Enqueue(&SyncTask{Kind: kind, Trigger: "cron"}); err != nil {
			logger.Errorf("[Scheduler] Failed to enqueue %s sync: %v", kind, err)
			continue
		}
		enqueued++
	}
	return enqueued
}
