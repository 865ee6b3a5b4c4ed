package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ohmynofan/provider-checkin-bot/internal/app/checkin"
	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
	"github.com/ohmynofan/provider-checkin-bot/internal/platform/logger"
	"github.com/ohmynofan/provider-checkin-bot/internal/platform/ui"
)

const (
	statusWaiting    = "WAITING"
	statusInProgress = "IN PROGRESS"
	statusDone       = "DONE"
	statusFailed     = "FAILED"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
	cfg    model.CheckInTaskConfig
}

// Scheduler owns one recurring task per enabled auto-check-in account plus a
// health-check loop. Task and metadata maps are guarded separately; locks
// are never held across a network or browser call.
type Scheduler struct {
	executor *checkin.Executor
	accounts checkin.AccountRepository

	HealthCheckEvery time.Duration
	StaleThreshold   time.Duration

	mu    sync.Mutex
	tasks map[string]*task

	metaMu   sync.Mutex
	metadata map[string]*model.TaskMetadata

	healthMu     sync.Mutex
	healthCancel context.CancelFunc
	healthDone   chan struct{}

	now func() time.Time
	log *logger.ClassLogger
}

func NewScheduler(executor *checkin.Executor, accounts checkin.AccountRepository, healthCheckEvery, staleThreshold time.Duration) *Scheduler {
	s := &Scheduler{
		executor:         executor,
		accounts:         accounts,
		HealthCheckEvery: healthCheckEvery,
		StaleThreshold:   staleThreshold,
		tasks:            make(map[string]*task),
		metadata:         make(map[string]*model.TaskMetadata),
		now:              time.Now,
	}
	s.log = logger.NewLogger(s, nil)
	return s
}

// ReloadSchedules drains every per-account task, re-reads enabled accounts
// and spawns a fresh daily task for each one with auto-check-in turned on
// and a resolvable provider. Unresolved providers are skipped with a warning.
func (s *Scheduler) ReloadSchedules(providers map[string]*model.Provider) error {
	s.stopAccountTasks()

	accounts, err := s.accounts.FindEnabledAccounts()
	if err != nil {
		return fmt.Errorf("failed to load enabled accounts: %w", err)
	}

	idx := 0
	for _, acc := range accounts {
		if !acc.AutoCheckIn.Enabled {
			continue
		}
		provider, ok := providers[acc.ProviderID]
		if !ok || provider == nil {
			s.log.JustLog(fmt.Sprintf("Warning: skipping %s: provider %s not resolvable", acc.DisplayName(), acc.ProviderID))
			continue
		}

		cfg := model.CheckInTaskConfig{
			AccountID:   acc.ID,
			AccountName: acc.DisplayName(),
			Hour:        acc.AutoCheckIn.Hour,
			Minute:      acc.AutoCheckIn.Minute,
			Provider:    provider,
		}
		s.spawn(cfg, idx)
		idx++
	}

	s.startHealthCheck()
	s.log.JustLog(fmt.Sprintf("Schedules reloaded: %d check-in tasks active", s.ActiveTaskCount()))
	return nil
}

// StopAllTasks aborts every task handle and the health-check task, then
// clears metadata. Safe to call repeatedly and with zero active tasks.
func (s *Scheduler) StopAllTasks() {
	s.stopAccountTasks()

	s.healthMu.Lock()
	cancel, done := s.healthCancel, s.healthDone
	s.healthCancel, s.healthDone = nil, nil
	s.healthMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Scheduler) ActiveTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) stopAccountTasks() {
	s.mu.Lock()
	snapshot := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range snapshot {
		t.cancel()
	}
	for _, t := range snapshot {
		<-t.done
	}

	s.metaMu.Lock()
	s.metadata = make(map[string]*model.TaskMetadata)
	s.metaMu.Unlock()
}

func (s *Scheduler) spawn(cfg model.CheckInTaskConfig, idx int) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		cancel: cancel,
		done:   make(chan struct{}),
		cfg:    cfg,
	}

	s.mu.Lock()
	existing := s.tasks[cfg.AccountID]
	s.tasks[cfg.AccountID] = t
	s.mu.Unlock()

	// One live task per account id, always: the replacement goroutine does
	// not start until the previous one has fully drained.
	if existing != nil {
		existing.cancel()
		<-existing.done
	}

	s.metaMu.Lock()
	s.metadata[cfg.AccountID] = &model.TaskMetadata{AccountName: cfg.AccountName}
	s.metaMu.Unlock()

	go s.runTask(ctx, t, idx)
}

func (s *Scheduler) runTask(ctx context.Context, t *task, idx int) {
	defer close(t.done)

	cfg := t.cfg
	session := &model.Session{
		AccIdx:        idx,
		AccountID:     cfg.AccountID,
		AccountName:   cfg.AccountName,
		ProviderName:  cfg.Provider.Name,
		CheckInStatus: statusWaiting,
	}
	log := logger.NewNamed(fmt.Sprintf("CheckIn - %s", cfg.AccountName), session)

	defer func() {
		msg := fmt.Sprintf("Check-in task for %s stopped", cfg.AccountName)
		if session.CheckInStatus == statusFailed {
			ui.SetSpinnerError(*session, msg)
		} else {
			ui.SetSpinnerSuccess(*session, msg)
		}
	}()

	for {
		delay := NextRunDelay(s.now(), cfg.Hour, cfg.Minute)
		log.JustLog(fmt.Sprintf("Next check-in for %s in %s", cfg.AccountName, ui.FormatDelay(delay)))

		if err := s.waitUntilDue(ctx, session, delay); err != nil {
			return
		}

		session.CheckInStatus = statusInProgress
		ui.UpdateStatus(*session, "Check-in in progress", 0)

		result := s.executor.Execute(ctx, cfg.AccountID, cfg.Provider)
		if ctx.Err() != nil {
			return
		}

		s.recordRun(cfg.AccountID, cfg.AccountName)
		s.persistResult(cfg.AccountID, result, log)

		session.LastMessage = result.Message
		session.LastCheckIn = s.now().Format("2006-01-02 15:04")
		if result.Success {
			session.CheckInStatus = statusDone
			if result.UserInfo != nil {
				session.Quota = result.UserInfo.Quota
				session.UsedQuota = result.UserInfo.UsedQuota
			}
			log.Log("Check-in complete")
		} else {
			session.CheckInStatus = statusFailed
			log.Log(fmt.Sprintf("Check-in failed: %s", result.Message))
		}
	}
}

// waitUntilDue sleeps until the task's due time, refreshing the countdown on
// the status board once a second.
func (s *Scheduler) waitUntilDue(ctx context.Context, session *model.Session, delay time.Duration) error {
	due := s.now().Add(delay)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		remaining := time.Until(due)
		if remaining <= 0 {
			return nil
		}
		ui.UpdateStatus(*session, "Waiting for next check-in", remaining)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) recordRun(accountID, accountName string) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	meta, ok := s.metadata[accountID]
	if !ok {
		meta = &model.TaskMetadata{AccountName: accountName}
		s.metadata[accountID] = meta
	}
	meta.LastRunAt = s.now()
}

func (s *Scheduler) persistResult(accountID string, result model.AccountCheckInResult, log *logger.ClassLogger) {
	if !result.Success {
		return
	}

	acc, err := s.accounts.FindAccountByID(accountID)
	if err != nil || acc == nil {
		log.JustLog(fmt.Sprintf("Warning: failed to reload account %s for persistence: %v", accountID, err))
		return
	}

	acc.LastCheckInAt = s.now()
	if result.UserInfo != nil {
		acc.Quota = result.UserInfo.Quota
		acc.UsedQuota = result.UserInfo.UsedQuota
	}
	if err := s.accounts.SaveAccount(acc); err != nil {
		log.JustLog(fmt.Sprintf("Warning: failed to persist check-in result for %s: %v", accountID, err))
	}
}

func (s *Scheduler) startHealthCheck() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if s.healthCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.healthCancel = cancel
	s.healthDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.HealthCheckEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runHealthCheck()
			}
		}
	}()
}

// runHealthCheck only observes: finished task handles are logged and purged,
// stale tasks are warned about. Resurrection is ReloadSchedules' job.
func (s *Scheduler) runHealthCheck() {
	s.mu.Lock()
	snapshot := make(map[string]*task, len(s.tasks))
	for id, t := range s.tasks {
		snapshot[id] = t
	}
	s.mu.Unlock()

	for id, t := range snapshot {
		select {
		case <-t.done:
			s.log.JustLog(fmt.Sprintf("Warning: check-in task for %s terminated unexpectedly", t.cfg.AccountName))
			s.mu.Lock()
			if current, ok := s.tasks[id]; ok && current == t {
				delete(s.tasks, id)
			}
			s.mu.Unlock()
			s.metaMu.Lock()
			delete(s.metadata, id)
			s.metaMu.Unlock()
		default:
		}
	}

	now := s.now()
	s.metaMu.Lock()
	for _, meta := range s.metadata {
		if !meta.LastRunAt.IsZero() && now.Sub(meta.LastRunAt) > s.StaleThreshold {
			s.log.JustLog(fmt.Sprintf("Warning: check-in task for %s has not run for %s", meta.AccountName, now.Sub(meta.LastRunAt).Round(time.Minute)))
		}
	}
	s.metaMu.Unlock()
}

// NextRunDelay computes the wait until the next occurrence of hour:minute in
// now's location, wrapping to tomorrow when that time already passed today.
func NextRunDelay(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
