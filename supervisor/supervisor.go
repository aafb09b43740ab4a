package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	domainActivity "github.com/wafleet/wafleet/domains/activity"
	domainInstance "github.com/wafleet/wafleet/domains/instance"
	domainServer "github.com/wafleet/wafleet/domains/server"
	"github.com/wafleet/wafleet/infrastructure/whatsapp"
	pkgError "github.com/wafleet/wafleet/pkg/error"
	"github.com/wafleet/wafleet/pkg/msgworker"
)

const (
	resumeStagger    = 2 * time.Second
	creationDeadline = 5 * time.Minute
	approvalDelay    = 5 * time.Second
	opTimeout        = 30 * time.Second
)

// Supervisor owns the live session workers for one tenancy. Per-bot
// operations are funneled through a sharded pool keyed by bot ID so two ops
// on the same bot never interleave.
type Supervisor struct {
	repo      domainInstance.IInstanceRepository
	activity  domainActivity.IActivityRepository
	registrar domainServer.IRegistrar
	pool      *msgworker.WorkerPool
	factory   whatsapp.ClientFactory
	broadcast domainInstance.Broadcaster
	authDir   string

	mu      sync.RWMutex
	workers map[string]*whatsapp.Worker

	watchdogMu sync.Mutex
	watchdogs  map[string]*time.Timer

	stagger       time.Duration
	watchdogAfter time.Duration
	approvalWait  time.Duration
}

func New(repo domainInstance.IInstanceRepository, activity domainActivity.IActivityRepository, registrar domainServer.IRegistrar, pool *msgworker.WorkerPool, factory whatsapp.ClientFactory, broadcast domainInstance.Broadcaster, authDir string) *Supervisor {
	return &Supervisor{
		repo:          repo,
		activity:      activity,
		registrar:     registrar,
		pool:          pool,
		factory:       factory,
		broadcast:     broadcast,
		authDir:       authDir,
		workers:       make(map[string]*whatsapp.Worker),
		watchdogs:     make(map[string]*time.Timer),
		stagger:       resumeStagger,
		watchdogAfter: creationDeadline,
		approvalWait:  approvalDelay,
	}
}

func (s *Supervisor) botDir(botID string) string {
	return filepath.Join(s.authDir, "bot_"+botID)
}

// emit pushes an event to the broadcast sink. The sink contract is
// non-blocking; a nil sink is fine.
func (s *Supervisor) emit(eventType string, data any) {
	if s.broadcast != nil {
		s.broadcast(domainInstance.Event{Type: eventType, Data: data})
	}
}

// runSerialized executes fn on the shard owning botID and waits for the
// result. Jobs for one bot run in dispatch order.
func (s *Supervisor) runSerialized(ctx context.Context, botID, op string, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	ok := s.pool.TryDispatch(msgworker.Job{
		BotID: botID,
		Op:    op,
		Handler: func(jobCtx context.Context) error {
			err := fn(jobCtx)
			result <- err
			return err
		},
	})
	if !ok {
		return pkgError.InternalServerError(fmt.Sprintf("bot %s is busy, try again later", botID))
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureWorker returns the worker for a bot, creating it if needed.
func (s *Supervisor) ensureWorker(bot *domainInstance.BotInstance) *whatsapp.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[bot.ID]; ok {
		return w
	}
	w := whatsapp.NewWorker(bot.ID, bot.PhoneNumber, s.botDir(bot.ID), s.factory, s.onWorkerStatus)
	s.workers[bot.ID] = w
	return w
}

func (s *Supervisor) getWorker(botID string) *whatsapp.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workers[botID]
}

// onWorkerStatus persists worker transitions and fans them out. Runs on the
// worker's goroutine; must not block. credential_verified is only cleared
// when the session itself was revoked; a transient fault like an exhausted
// reconnect budget must leave the bot in the resume set.
func (s *Supervisor) onWorkerStatus(botID string, status domainInstance.Status, reason string, credentialsRevoked bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		fields := map[string]any{"status": string(status)}
		if status == domainInstance.StatusOnline {
			fields["last_activity"] = time.Now()
		}
		if status == domainInstance.StatusError {
			fields["invalid_reason"] = reason
			if credentialsRevoked {
				fields["credential_verified"] = false
			}
		}
		if err := s.repo.UpdateFields(ctx, botID, fields); err != nil {
			logrus.Warnf("[SUPERVISOR] Failed to persist status %s for bot %s: %v", status, botID, err)
		}

		if status == domainInstance.StatusError {
			_ = s.activity.Log(ctx, &domainActivity.Activity{
				Type:          domainActivity.TypeBotError,
				Description:   reason,
				BotInstanceID: botID,
			})
			s.emit(domainInstance.EventBotError, map[string]any{"bot_id": botID, "reason": reason})
			return
		}
		s.emit(domainInstance.EventBotStatusChanged, map[string]any{"bot_id": botID, "status": status})
	}()
}

// CreateBot registers a freshly persisted bot with the supervisor: broadcast
// the creation and arm the watchdog that cleans up abandoned registrations.
func (s *Supervisor) CreateBot(ctx context.Context, bot *domainInstance.BotInstance) error {
	s.armWatchdog(bot.ID)
	s.emit(domainInstance.EventBotCreated, bot.MaskForGuest())
	logrus.Infof("[SUPERVISOR] Bot %s (%s) created, watchdog armed", bot.ID, bot.Name)
	return nil
}

func (s *Supervisor) StartBot(ctx context.Context, id string) error {
	return s.runSerialized(ctx, id, "start", func(jobCtx context.Context) error {
		bot, err := s.repo.GetByID(jobCtx, id)
		if err != nil {
			return err
		}
		if bot.ApprovalStatus != domainInstance.ApprovalApproved {
			return pkgError.PermissionError("Only approved bots can be started")
		}
		w := s.ensureWorker(bot)
		return w.Start(jobCtx)
	})
}

func (s *Supervisor) StopBot(ctx context.Context, id string, preserveCredentials bool) error {
	return s.runSerialized(ctx, id, "stop", func(jobCtx context.Context) error {
		w := s.getWorker(id)
		if w == nil {
			return nil
		}
		if err := w.Stop(preserveCredentials); err != nil {
			return err
		}
		if !preserveCredentials {
			s.mu.Lock()
			delete(s.workers, id)
			s.mu.Unlock()
		}
		return nil
	})
}

func (s *Supervisor) RestartBot(ctx context.Context, id string) error {
	return s.runSerialized(ctx, id, "restart", func(jobCtx context.Context) error {
		bot, err := s.repo.GetByID(jobCtx, id)
		if err != nil {
			return err
		}
		if bot.ApprovalStatus != domainInstance.ApprovalApproved {
			return pkgError.PermissionError("Only approved bots can be started")
		}
		if w := s.getWorker(id); w != nil {
			if err := w.Stop(true); err != nil {
				logrus.Warnf("[SUPERVISOR] Stop during restart failed for bot %s: %v", id, err)
			}
			s.mu.Lock()
			delete(s.workers, id)
			s.mu.Unlock()
		}
		w := s.ensureWorker(bot)
		return w.Start(jobCtx)
	})
}

// DestroyBot tears the worker down and purges its on-disk session. The
// database row is the caller's responsibility.
func (s *Supervisor) DestroyBot(ctx context.Context, id string) error {
	s.disarmWatchdog(id)
	return s.runSerialized(ctx, id, "destroy", func(jobCtx context.Context) error {
		w := s.getWorker(id)
		if w != nil {
			if err := w.Stop(false); err != nil {
				logrus.Warnf("[SUPERVISOR] Worker teardown failed for bot %s: %v", id, err)
			}
			s.mu.Lock()
			delete(s.workers, id)
			s.mu.Unlock()
		}
		s.emit(domainInstance.EventBotDeleted, map[string]any{"bot_id": id})
		return nil
	})
}

func (s *Supervisor) GetStatus(id string) domainInstance.Status {
	if w := s.getWorker(id); w != nil {
		return w.Status()
	}
	return domainInstance.StatusOffline
}

func (s *Supervisor) GetAllStatuses() map[string]domainInstance.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	statuses := make(map[string]domainInstance.Status, len(s.workers))
	for id, w := range s.workers {
		statuses[id] = w.Status()
	}
	return statuses
}

func (s *Supervisor) SendMessageThroughBot(ctx context.Context, id, jid, text string) error {
	w := s.getWorker(id)
	if w == nil {
		return pkgError.ValidationError("bot is not online")
	}
	return w.SendDirectMessage(ctx, jid, text)
}

// NotifyApproved disarms the creation watchdog and, after a short delay,
// sends a best-effort confirmation to the bot's own chat. The delay gives
// the freshly started session time to land online.
func (s *Supervisor) NotifyApproved(ctx context.Context, bot *domainInstance.BotInstance) {
	s.disarmWatchdog(bot.ID)
	s.emit(domainInstance.EventBotApproved, bot.MaskForGuest())

	go func(botID, phone, name string) {
		time.Sleep(s.approvalWait)
		sendCtx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		text := fmt.Sprintf("Your bot %s has been approved and is now active.", name)
		if err := s.SendMessageThroughBot(sendCtx, botID, phone, text); err != nil {
			logrus.Debugf("[SUPERVISOR] Approval notification for bot %s not delivered: %v", botID, err)
		}
	}(bot.ID, bot.PhoneNumber, bot.Name)
}

// ResumeAll restarts every resumable bot of this tenancy, staggered so a
// fleet of sessions does not reconnect at once. One bot failing to start
// never stops the rest.
func (s *Supervisor) ResumeAll(ctx context.Context) error {
	bots, err := s.repo.ListResumable(ctx)
	if err != nil {
		return err
	}
	logrus.Infof("[SUPERVISOR] Resuming %d bot(s)", len(bots))

	for i := range bots {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bot := bots[i]
		if i > 0 {
			time.Sleep(s.stagger)
		}

		// Same serialization path as every other per-bot op, so a resume
		// never interleaves with an operator start/stop on the same bot.
		err := s.runSerialized(ctx, bot.ID, "resume", func(jobCtx context.Context) error {
			w := s.ensureWorker(&bot)
			return w.Start(jobCtx)
		})
		if err != nil {
			logrus.WithError(err).Errorf("[SUPERVISOR] Resume failed for bot %s", bot.ID)
			_ = s.activity.Log(ctx, &domainActivity.Activity{
				Type:          domainActivity.TypeBotError,
				Description:   fmt.Sprintf("resume failed: %v", err),
				BotInstanceID: bot.ID,
			})
			s.emit(domainInstance.EventBotError, map[string]any{"bot_id": bot.ID, "reason": err.Error()})
			continue
		}
		logrus.Infof("[SUPERVISOR] Bot %s (%s) resumed", bot.ID, bot.Name)
		_ = s.activity.Log(ctx, &domainActivity.Activity{
			Type:          domainActivity.TypeStartup,
			Description:   fmt.Sprintf("bot %s resumed on startup", bot.Name),
			BotInstanceID: bot.ID,
		})
		s.emit(domainInstance.EventBotResumed, map[string]any{"bot_id": bot.ID, "name": bot.Name})
	}
	return nil
}

// Shutdown stops every worker, preserving credentials so the next boot can
// resume them.
func (s *Supervisor) Shutdown() {
	s.watchdogMu.Lock()
	for id, timer := range s.watchdogs {
		timer.Stop()
		delete(s.watchdogs, id)
	}
	s.watchdogMu.Unlock()

	s.mu.Lock()
	workers := make([]*whatsapp.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = make(map[string]*whatsapp.Worker)
	s.mu.Unlock()

	for _, w := range workers {
		if err := w.Stop(true); err != nil {
			logrus.Warnf("[SUPERVISOR] Worker shutdown failed for bot %s: %v", w.BotID(), err)
		}
	}
	logrus.Info("[SUPERVISOR] All workers stopped")
}

// PoolStats exposes worker pool metrics for the health endpoint.
func (s *Supervisor) PoolStats() msgworker.PoolStats {
	return s.pool.GetStats()
}

// WorkerCount returns the number of live workers.
func (s *Supervisor) WorkerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}
